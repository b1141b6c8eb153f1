package diff

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return out
}

func TestCompareEqualDocumentsIsEmpty(t *testing.T) {
	doc := decode(t, `{"a":1,"b":[1,{"c":null}],"d":{"e":"x"}}`)
	same := decode(t, `{"d":{"e":"x"},"b":[1,{"c":null}],"a":1.0}`)
	if result := Compare(doc, same); !result.Empty() {
		t.Fatalf("expected no changes, got %+v", result.Changes)
	}
	if result := Compare(nil, nil); !result.Empty() {
		t.Fatalf("expected no changes for nil, got %+v", result.Changes)
	}
}

func TestCompareSingleLeafChange(t *testing.T) {
	result := Compare(decode(t, `{"a":{"b":[1,2,3]}}`), decode(t, `{"a":{"b":[1,5,3]}}`))
	if len(result.Changes) != 1 {
		t.Fatalf("expected one change, got %+v", result.Changes)
	}
	change := result.Changes[0]
	if change.Type != ValueChanged || change.Path.String() != "root['a']['b'][1]" {
		t.Fatalf("unexpected change %+v at %s", change, change.Path)
	}
	if change.OldValue != 2.0 || change.NewValue != 5.0 {
		t.Fatalf("unexpected values %v -> %v", change.OldValue, change.NewValue)
	}
}

func TestCompareReportsEveryOperationKind(t *testing.T) {
	a := decode(t, `{"name":"x","gone":1,"n":null,"list":[1,2,3],"short":[1],"kind":"1"}`)
	b := decode(t, `{"name":"y","new":true,"n":0,"list":[1,2],"short":[1,2],"kind":1}`)

	got := map[string]ChangeType{}
	for _, change := range Compare(a, b).Changes {
		got[change.Path.String()] = change.Type
	}
	want := map[string]ChangeType{
		"root['name']":     ValueChanged,
		"root['gone']":     KeyRemoved,
		"root['new']":      KeyAdded,
		"root['n']":        TypeChanged,
		"root['list'][2]":  ItemRemoved,
		"root['short'][1]": ItemAdded,
		"root['kind']":     TypeChanged,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected changes\n got: %v\nwant: %v", got, want)
	}
}

func TestCompareMissingIsNotNull(t *testing.T) {
	result := Compare(decode(t, `{}`), decode(t, `{"a":null}`))
	if len(result.Changes) != 1 || result.Changes[0].Type != KeyAdded {
		t.Fatalf("expected key added, got %+v", result.Changes)
	}
}

func TestCompareSequencesAreOrderSensitive(t *testing.T) {
	result := Compare(decode(t, `[1,2]`), decode(t, `[2,1]`))
	if len(result.Changes) != 2 {
		t.Fatalf("expected two index changes, got %+v", result.Changes)
	}
}

func TestCompareNormalizesGoValues(t *testing.T) {
	a := map[string]any{"count": 3, "tags": []string{"a"}}
	b := map[string]any{"count": 3.0, "tags": []any{"a"}}
	if result := Compare(a, b); !result.Empty() {
		t.Fatalf("expected Go and JSON forms to be equal, got %+v", result.Changes)
	}
}

func TestDocumentGroupsLikeDeepDiff(t *testing.T) {
	a := decode(t, `{"name":"x","gone":1,"list":[1,2],"kind":"1"}`)
	b := decode(t, `{"name":"y","new":2,"list":[1],"kind":1}`)
	doc := Compare(a, b).Document()

	changed := doc["values_changed"].(map[string]any)["root['name']"].(map[string]any)
	if changed["old_value"] != "x" || changed["new_value"] != "y" {
		t.Fatalf("unexpected values_changed %v", changed)
	}
	if added := doc["dictionary_item_added"].([]string); len(added) != 1 || added[0] != "root['new']" {
		t.Fatalf("unexpected dictionary_item_added %v", added)
	}
	if removed := doc["dictionary_item_removed"].([]string); len(removed) != 1 || removed[0] != "root['gone']" {
		t.Fatalf("unexpected dictionary_item_removed %v", removed)
	}
	if removed := doc["iterable_item_removed"].(map[string]any); removed["root['list'][1]"] != 2.0 {
		t.Fatalf("unexpected iterable_item_removed %v", removed)
	}
	typeChange := doc["type_changes"].(map[string]any)["root['kind']"].(map[string]any)
	if typeChange["old_type"] != "string" || typeChange["new_type"] != "number" {
		t.Fatalf("unexpected type change %v", typeChange)
	}
	if _, err := json.Marshal(doc); err != nil {
		t.Fatalf("document must serialize: %v", err)
	}
	if len(Result{}.Document()) != 0 {
		t.Fatal("expected empty document for no changes")
	}
}

func TestTreeFollowsPaths(t *testing.T) {
	a := decode(t, `{"a":{"b":1,"c":[1]}}`)
	b := decode(t, `{"a":{"b":2,"c":[1,2]}}`)
	tree := Compare(a, b).Tree()

	if tree.Path != "root" || len(tree.Children) != 1 {
		t.Fatalf("unexpected root %+v", tree)
	}
	nodeA := tree.Children[0]
	if nodeA.Path != "root['a']" || nodeA.Change != nil || len(nodeA.Children) != 2 {
		t.Fatalf("unexpected node a %+v", nodeA)
	}
	leafB := nodeA.Children[0]
	if leafB.Change == nil || leafB.Change.Type != ValueChanged || leafB.Path != "root['a']['b']" {
		t.Fatalf("unexpected leaf b %+v", leafB)
	}
	leafC1 := nodeA.Children[1].Children[0]
	if leafC1.Change == nil || leafC1.Change.Type != ItemAdded || leafC1.Path != "root['a']['c'][1]" {
		t.Fatalf("unexpected leaf c[1] %+v", leafC1)
	}

	raw, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("marshal tree: %v", err)
	}
	if !strings.Contains(string(raw), `"path":"root['a']['c'][1]"`) {
		t.Fatalf("expected serialized change path, got %s", raw)
	}
}

func TestStepQuotesKeysWithApostrophes(t *testing.T) {
	if got := (Path{{Key: "it's"}}).String(); got != `root["it's"]` {
		t.Fatalf("unexpected path %s", got)
	}
}
