package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runCollectionSuite exercises the primitive contract every driver must honour.
// db must be empty.
func runCollectionSuite(t *testing.T, db Database) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	t.Run("insert assigns id and returns canonical documents", func(t *testing.T) {
		coll := db.Collection(CollResponses)
		id, err := coll.InsertOne(ctx, Doc{"submission_id": "s-1", "version": 3, "content": "hello", "parent_id": nil})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if id == "" {
			t.Fatal("expected generated id")
		}
		doc, err := coll.FindOne(ctx, Where(Eq("_id", id)))
		if err != nil {
			t.Fatalf("find by id: %v", err)
		}
		if got, ok := doc["version"].(float64); !ok || got != 3 {
			t.Fatalf("expected float64 version 3, got %#v", doc["version"])
		}
		if doc.ID() != id {
			t.Fatalf("expected _id %q, got %q", id, doc.ID())
		}
	})

	t.Run("find one miss is not found", func(t *testing.T) {
		_, err := db.Collection(CollTemplates).FindOne(ctx, Where(Eq("name", "absent_v1")))
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("nil equality matches missing and null", func(t *testing.T) {
		coll := db.Collection(CollResponses)
		for _, doc := range []Doc{
			{"submission_id": "s-null", "version": 1, "parent_id": nil, "content": "root-null"},
			{"submission_id": "s-null", "version": 1, "content": "root-missing"},
			{"submission_id": "s-null", "version": 1, "parent_id": "p-1", "content": "child"},
		} {
			if _, err := coll.InsertOne(ctx, doc); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		count, err := coll.CountDocuments(ctx, Where(Eq("submission_id", "s-null"), Eq("parent_id", nil)))
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 2 {
			t.Fatalf("expected 2 roots, got %d", count)
		}
	})

	t.Run("regex is case insensitive", func(t *testing.T) {
		coll := db.Collection(CollFillerIndex)
		for i, name := range []string{"Alice Smith", "bob", "MALICE"} {
			doc := FillerRecord{FillerName: name, SubmissionName: "regex_" + string(rune('a'+i)), TemplateName: "regex", CreatedAt: time.Now()}.Doc()
			if _, err := coll.InsertOne(ctx, doc); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		docs, err := coll.Find(ctx, Where(IRegex("fillerName", "alice")), SortAsc("submission_name"))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(docs) != 2 || docs[0].String("fillerName") != "Alice Smith" || docs[1].String("fillerName") != "MALICE" {
			t.Fatalf("unexpected regex matches: %+v", docs)
		}
	})

	t.Run("sort limit and insertion order", func(t *testing.T) {
		coll := db.Collection(CollVersions)
		for _, seq := range []int{2, 3, 1} {
			doc := TemplateVersion{TemplateName: "order_v1", Version: 1, Seq: seq, ChangeLog: "x", CreatedAt: time.Now()}.Doc()
			if _, err := coll.InsertOne(ctx, doc); err != nil {
				t.Fatalf("insert seq %d: %v", seq, err)
			}
		}
		newest, err := coll.FindOne(ctx, Where(Eq("template_name", "order_v1")), SortDesc("seq"))
		if err != nil {
			t.Fatalf("find newest: %v", err)
		}
		if newest.Int("seq") != 3 {
			t.Fatalf("expected seq 3, got %d", newest.Int("seq"))
		}
		natural, err := coll.Find(ctx, Where(Eq("template_name", "order_v1")))
		if err != nil {
			t.Fatalf("find natural: %v", err)
		}
		if len(natural) != 3 || natural[0].Int("seq") != 2 || natural[2].Int("seq") != 1 {
			t.Fatalf("expected insertion order, got %+v", natural)
		}
		limited, err := coll.Find(ctx, Where(Eq("template_name", "order_v1")), SortAsc("seq"), Limit(2))
		if err != nil {
			t.Fatalf("find limited: %v", err)
		}
		if len(limited) != 2 || limited[0].Int("seq") != 1 || limited[1].Int("seq") != 2 {
			t.Fatalf("unexpected limited result %+v", limited)
		}
	})

	t.Run("unique indexes reject duplicates on insert and update", func(t *testing.T) {
		coll := db.Collection(CollTemplates)
		now := time.Now()
		if _, err := coll.InsertOne(ctx, Template{Name: "uniq_v1", Version: 1, CreatedAt: now, UpdatedAt: now}.Doc()); err != nil {
			t.Fatalf("insert first: %v", err)
		}
		_, err := coll.InsertOne(ctx, Template{Name: "uniq_v1", Version: 1, CreatedAt: now, UpdatedAt: now}.Doc())
		if !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("expected duplicate key, got %v", err)
		}
		if _, err := coll.InsertOne(ctx, Template{Name: "uniq_v2", Version: 2, CreatedAt: now, UpdatedAt: now}.Doc()); err != nil {
			t.Fatalf("insert second: %v", err)
		}
		_, err = coll.UpdateOne(ctx, Where(Eq("name", "uniq_v2")), Doc{"name": "uniq_v1"})
		if !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("expected duplicate key on update, got %v", err)
		}

		subs := db.Collection(CollSubmissions)
		first := Submission{TemplateName: "uniq_v1", Version: 1, SubmissionName: "uniq_v1_1", Data: map[string]any{}, CreatedAt: now}
		if _, err := subs.InsertOne(ctx, first.Doc()); err != nil {
			t.Fatalf("insert submission: %v", err)
		}
		sameVersion := Submission{TemplateName: "uniq_v1", Version: 1, SubmissionName: "uniq_v1_9", Data: map[string]any{}, CreatedAt: now}
		if _, err := subs.InsertOne(ctx, sameVersion.Doc()); !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("expected duplicate version, got %v", err)
		}
		sameName := Submission{TemplateName: "uniq_v1", Version: 2, SubmissionName: "uniq_v1_1", Data: map[string]any{}, CreatedAt: now}
		if _, err := subs.InsertOne(ctx, sameName.Doc()); !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("expected duplicate name, got %v", err)
		}
	})

	t.Run("update reports matches and merges fields", func(t *testing.T) {
		coll := db.Collection(CollTemplates)
		now := time.Now()
		if _, err := coll.InsertOne(ctx, Template{Name: "upd_v1", Version: 1, Author: "ann", CreatedAt: now, UpdatedAt: now}.Doc()); err != nil {
			t.Fatalf("insert: %v", err)
		}
		matched, err := coll.UpdateOne(ctx, Where(Eq("name", "upd_v1"), Eq("version", 2)), Doc{"version": 3})
		if err != nil {
			t.Fatalf("update stale: %v", err)
		}
		if matched != 0 {
			t.Fatalf("expected no match for stale version, got %d", matched)
		}
		matched, err = coll.UpdateOne(ctx, Where(Eq("name", "upd_v1"), Eq("version", 1)), Doc{"version": 2, "schema": map[string]any{"fields": []any{"a"}}})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if matched != 1 {
			t.Fatalf("expected one match, got %d", matched)
		}
		doc, err := coll.FindOne(ctx, Where(Eq("name", "upd_v1")))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		tpl, err := DecodeTemplate(doc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if tpl.Version != 2 || tpl.Author != "ann" || len(tpl.Schema["fields"].([]any)) != 1 {
			t.Fatalf("unexpected merged template %+v", tpl)
		}
	})

	t.Run("delete one many and count", func(t *testing.T) {
		coll := db.Collection(CollResponses)
		for i := 0; i < 3; i++ {
			if _, err := coll.InsertOne(ctx, Doc{"submission_id": "s-del", "version": 1, "content": "c"}); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		deleted, err := coll.DeleteOne(ctx, Where(Eq("submission_id", "s-del")))
		if err != nil || deleted != 1 {
			t.Fatalf("delete one: deleted=%d err=%v", deleted, err)
		}
		deleted, err = coll.DeleteMany(ctx, Where(Eq("submission_id", "s-del")))
		if err != nil || deleted != 2 {
			t.Fatalf("delete many: deleted=%d err=%v", deleted, err)
		}
		count, err := coll.CountDocuments(ctx, Where(Eq("submission_id", "s-del")))
		if err != nil || count != 0 {
			t.Fatalf("count after delete: count=%d err=%v", count, err)
		}
	})
}
