package thread

import (
	"fmt"
	"testing"

	"formledger/api/internal/store"
)

func ptr(s string) *string { return &s }

func TestBuildEmpty(t *testing.T) {
	roots := Build(nil)
	if roots == nil || len(roots) != 0 {
		t.Fatalf("expected empty non-nil forest, got %#v", roots)
	}
}

func TestBuildNestsChildrenInInputOrder(t *testing.T) {
	records := []store.Response{
		{ID: "r1", Content: "root one"},
		{ID: "c1", ParentID: ptr("r1"), Content: "first reply"},
		{ID: "r2", Content: "root two"},
		{ID: "c2", ParentID: ptr("r1"), Content: "second reply"},
		{ID: "g1", ParentID: ptr("c1"), Content: "nested"},
	}

	roots := Build(records)
	if len(roots) != 2 || roots[0].ID != "r1" || roots[1].ID != "r2" {
		t.Fatalf("unexpected roots %+v", roots)
	}
	children := roots[0].Children
	if len(children) != 2 || children[0].ID != "c1" || children[1].ID != "c2" {
		t.Fatalf("unexpected children %+v", children)
	}
	if len(children[0].Children) != 1 || children[0].Children[0].ID != "g1" {
		t.Fatalf("expected grandchild under c1, got %+v", children[0].Children)
	}
	if roots[1].Children == nil || len(roots[1].Children) != 0 {
		t.Fatalf("expected empty children slice on leaf, got %#v", roots[1].Children)
	}
}

func TestBuildChildBeforeParent(t *testing.T) {
	roots := Build([]store.Response{
		{ID: "c1", ParentID: ptr("r1")},
		{ID: "r1"},
	})
	if len(roots) != 1 || roots[0].ID != "r1" || len(roots[0].Children) != 1 {
		t.Fatalf("expected child attached regardless of order, got %+v", roots)
	}
}

func TestBuildSurfacesOrphansAsRoots(t *testing.T) {
	roots := Build([]store.Response{
		{ID: "r1"},
		{ID: "o1", ParentID: ptr("gone")},
	})
	if len(roots) != 2 || roots[1].ID != "o1" {
		t.Fatalf("expected orphan surfaced as root, got %+v", roots)
	}
}

func TestBuildDoesNotMutateInput(t *testing.T) {
	records := []store.Response{{ID: "r1"}, {ID: "c1", ParentID: ptr("r1")}}
	roots := Build(records)
	*roots[0].Children[0].ParentID = "changed"
	if records[0].Children != nil {
		t.Fatal("input record gained children")
	}
	if *records[1].ParentID != "r1" {
		t.Fatal("input parent id was shared with output")
	}
}

func TestBuildHandlesDeepChainsWithoutRecursion(t *testing.T) {
	const depth = 100000
	records := make([]store.Response, depth)
	for i := range records {
		records[i].ID = fmt.Sprintf("n%d", i)
		if i > 0 {
			records[i].ParentID = ptr(fmt.Sprintf("n%d", i-1))
		}
	}
	roots := Build(records)
	if len(roots) != 1 {
		t.Fatalf("expected single root, got %d", len(roots))
	}
	deepest := 0
	for node := roots[0]; len(node.Children) > 0; node = node.Children[0] {
		if len(node.Children) != 1 {
			t.Fatalf("node %s: expected one child, got %d", node.ID, len(node.Children))
		}
		deepest++
	}
	if deepest != depth-1 {
		t.Fatalf("expected depth %d, got %d", depth-1, deepest)
	}
}
