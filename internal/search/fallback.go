package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"formledger/api/internal/store"
)

// StoreSearch implements Searcher with case-insensitive substring matches on the
// document store. It is the fallback when Meilisearch is down or not configured.
type StoreSearch struct {
	submissions store.Collection
}

func NewStoreSearch(db store.Database) *StoreSearch {
	return &StoreSearch{submissions: db.Collection(store.CollSubmissions)}
}

// Healthy always returns true; if the store is down the whole app is down.
func (s *StoreSearch) Healthy() bool {
	return true
}

func (s *StoreSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	pattern := regexp.QuoteMeta(text)
	seen := map[string]bool{}
	var matched []store.Submission
	for _, field := range []string{"submission_name", "fillerName"} {
		filter := store.Where(store.IRegex(field, pattern))
		if q.TemplateName != "" {
			filter = append(filter, store.Eq("template_name", q.TemplateName))
		}
		docs, err := s.submissions.Find(ctx, filter, store.SortAsc("created_at"))
		if err != nil {
			return nil, 0, fmt.Errorf("store search on %s: %w", field, err)
		}
		for _, doc := range docs {
			if seen[doc.ID()] {
				continue
			}
			seen[doc.ID()] = true
			sub, err := store.DecodeSubmission(doc)
			if err != nil {
				return nil, 0, err
			}
			matched = append(matched, sub)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	results := make([]Result, 0, len(matched))
	for _, sub := range matched {
		rec := RecordFromSubmission(sub)
		results = append(results, Result{
			ID:             rec.ID,
			SubmissionName: rec.SubmissionName,
			TemplateName:   rec.TemplateName,
			Version:        rec.Version,
			FillerName:     rec.FillerName,
			CreatedAt:      rec.CreatedAt,
		})
	}
	return results, total, nil
}

// LoadAllRecords reads every submission for a full reindex.
func (s *StoreSearch) LoadAllRecords(ctx context.Context) ([]SubmissionRecord, error) {
	docs, err := s.submissions.Find(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	out := make([]SubmissionRecord, 0, len(docs))
	for _, doc := range docs {
		sub, err := store.DecodeSubmission(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, RecordFromSubmission(sub))
	}
	return out, nil
}

// RecordFromSubmission flattens a submission's data into searchable text.
func RecordFromSubmission(sub store.Submission) SubmissionRecord {
	var parts []string
	flatten(sub.Data, &parts)
	return SubmissionRecord{
		ID:             sub.ID,
		SubmissionName: sub.SubmissionName,
		TemplateName:   sub.TemplateName,
		Version:        sub.Version,
		FillerName:     sub.FillerName,
		Content:        strings.Join(parts, " "),
		CreatedAt:      store.FormatTime(sub.CreatedAt),
	}
}

func flatten(value any, out *[]string) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			flatten(v[key], out)
		}
	case []any:
		for _, item := range v {
			flatten(item, out)
		}
	case string:
		if strings.TrimSpace(v) != "" {
			*out = append(*out, v)
		}
	case nil:
	default:
		*out = append(*out, fmt.Sprint(v))
	}
}
