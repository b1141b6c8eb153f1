package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"formledger/api/internal/store"
)

func seedSubmissions(t *testing.T, db store.Database) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	subs := []store.Submission{
		{TemplateName: "intake_v1", Version: 1, SubmissionName: "intake_v1_1", FillerName: "Alice", Data: map[string]any{"city": "Lyon"}, CreatedAt: base},
		{TemplateName: "intake_v1", Version: 2, SubmissionName: "intake_v1_2", FillerName: "Bob", Data: map[string]any{}, CreatedAt: base.Add(time.Minute)},
		{TemplateName: "audit_v1", Version: 1, SubmissionName: "audit_v1_1", FillerName: "alice cooper", Data: map[string]any{}, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, sub := range subs {
		if _, err := db.Collection(store.CollSubmissions).InsertOne(ctx, sub.Doc()); err != nil {
			t.Fatalf("seed %s: %v", sub.SubmissionName, err)
		}
	}
}

func TestStoreSearchMatchesNameAndFiller(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryDatabase()
	seedSubmissions(t, db)
	searcher := NewStoreSearch(db)

	results, total, err := searcher.Search(ctx, Query{Text: "ALICE"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 2 || len(results) != 2 {
		t.Fatalf("expected 2 filler matches, got %d (%+v)", total, results)
	}
	if results[0].SubmissionName != "intake_v1_1" || results[1].SubmissionName != "audit_v1_1" {
		t.Fatalf("expected created_at order, got %+v", results)
	}

	results, _, err = searcher.Search(ctx, Query{Text: "intake_v1_", TemplateName: "intake_v1", Limit: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].SubmissionName != "intake_v1_1" {
		t.Fatalf("expected limited name match, got %+v", results)
	}
}

func TestStoreSearchQuotesRegexInput(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryDatabase()
	seedSubmissions(t, db)
	results, _, err := NewStoreSearch(db).Search(ctx, Query{Text: ".*"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected literal match only, got %+v", results)
	}
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryDatabase()
	seedSubmissions(t, db)
	svc := NewService(nil, NewStoreSearch(db), nil)

	resp := svc.Search(ctx, Query{Text: "bob"})
	if resp.Source != "store" || resp.Total != 1 || resp.Results[0].FillerName != "Bob" {
		t.Fatalf("unexpected fallback response %+v", resp)
	}
	if resp := svc.Search(ctx, Query{Text: "  "}); resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}

	// Without Meilisearch these are no-ops.
	svc.IndexSubmission(SubmissionRecord{ID: "x"})
	svc.DeleteSubmission("x")
	svc.ReindexAll(ctx)
}

func TestRecordFromSubmissionFlattensData(t *testing.T) {
	rec := RecordFromSubmission(store.Submission{
		ID:             "id1",
		SubmissionName: "f_v1_1",
		TemplateName:   "f_v1",
		Version:        1,
		Data: map[string]any{
			"b": []any{"x", 2.0, nil},
			"a": map[string]any{"nested": "deep"},
		},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if rec.Content != "deep x 2" {
		t.Fatalf("unexpected content %q", rec.Content)
	}
	if rec.CreatedAt != "2024-01-01T00:00:00.000000Z" {
		t.Fatalf("unexpected created_at %q", rec.CreatedAt)
	}
}

func TestStoreSearchHonorsCancellation(t *testing.T) {
	db := store.NewMemoryDatabase()
	seedSubmissions(t, db)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := NewStoreSearch(db).Search(ctx, Query{Text: "alice"}); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected the cancelled store call to fail, got %v", err)
	}
	resp := NewService(nil, NewStoreSearch(db), nil).Search(ctx, Query{Text: "alice"})
	if resp.Total != 0 || len(resp.Results) != 0 {
		t.Fatalf("a cancelled search should return nothing, got %+v", resp)
	}
}
