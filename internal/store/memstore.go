package store

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// MemoryDatabase keeps every collection in process. Each primitive holds the
// lock for its whole duration, so unique checks and writes are atomic.
type MemoryDatabase struct {
	mu          sync.Mutex
	collections map[string][]Doc
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{collections: map[string][]Doc{}}
}

func (m *MemoryDatabase) Collection(name string) Collection {
	return &memoryCollection{db: m, name: name}
}

func (m *MemoryDatabase) Ping(context.Context) error { return nil }

func (m *MemoryDatabase) Close(context.Context) error { return nil }

type memoryCollection struct {
	db   *MemoryDatabase
	name string
}

type compiledCondition struct {
	field string
	value any
	re    *regexp.Regexp
	null  bool
}

func compileFilter(filter Filter) ([]compiledCondition, error) {
	out := make([]compiledCondition, 0, len(filter))
	for _, cond := range filter {
		switch cond.op {
		case opIRegex:
			pattern, _ := cond.Value.(string)
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
			}
			out = append(out, compiledCondition{field: cond.Field, re: re})
		default:
			if cond.Value == nil {
				out = append(out, compiledCondition{field: cond.Field, null: true})
				continue
			}
			value, err := canonical(cond.Value)
			if err != nil {
				return nil, fmt.Errorf("encode filter value for %s: %w", cond.Field, err)
			}
			out = append(out, compiledCondition{field: cond.Field, value: value})
		}
	}
	return out, nil
}

func matches(doc Doc, conditions []compiledCondition) bool {
	for _, cond := range conditions {
		value, ok := doc[cond.field]
		switch {
		case cond.re != nil:
			text, isString := value.(string)
			if !isString || !cond.re.MatchString(text) {
				return false
			}
		case cond.null:
			if ok && value != nil {
				return false
			}
		default:
			if !ok || !reflect.DeepEqual(value, cond.value) {
				return false
			}
		}
	}
	return true
}

func (c *memoryCollection) selectLocked(ctx context.Context, filter Filter, opts FindOptions) ([]Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	conditions, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	var out []Doc
	for _, doc := range c.db.collections[c.name] {
		if matches(doc, conditions) {
			out = append(out, doc)
		}
	}
	if opts.SortField != "" {
		field, desc := opts.SortField, opts.SortDesc
		sort.SliceStable(out, func(i, j int) bool {
			cmp := compareValues(out[i][field], out[j][field])
			if desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (c *memoryCollection) FindOne(ctx context.Context, filter Filter, opts ...FindOption) (Doc, error) {
	docs, err := c.Find(ctx, filter, append(opts, Limit(1))...)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (c *memoryCollection) Find(ctx context.Context, filter Filter, opts ...FindOption) ([]Doc, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	docs, err := c.selectLocked(ctx, filter, buildFindOptions(opts))
	if err != nil {
		return nil, err
	}
	out := make([]Doc, 0, len(docs))
	for _, doc := range docs {
		copied, err := canonicalDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}

func (c *memoryCollection) InsertOne(ctx context.Context, doc Doc) (string, error) {
	stored, err := canonicalDoc(doc)
	if err != nil {
		return "", err
	}
	if stored.ID() == "" {
		stored["_id"] = newDocumentID()
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := c.checkUniqueLocked(stored, ""); err != nil {
		return "", err
	}
	c.db.collections[c.name] = append(c.db.collections[c.name], stored)
	return stored.ID(), nil
}

func (c *memoryCollection) UpdateOne(ctx context.Context, filter Filter, set Doc) (int64, error) {
	patch, err := canonicalDoc(set)
	if err != nil {
		return 0, err
	}
	delete(patch, "_id")

	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	docs, err := c.selectLocked(ctx, filter, FindOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	target := docs[0]
	updated := make(Doc, len(target)+len(patch))
	for key, value := range target {
		updated[key] = value
	}
	for key, value := range patch {
		updated[key] = value
	}
	if err := c.checkUniqueLocked(updated, target.ID()); err != nil {
		return 0, err
	}
	rows := c.db.collections[c.name]
	for i := range rows {
		if rows[i].ID() == target.ID() {
			rows[i] = updated
			break
		}
	}
	return 1, nil
}

func (c *memoryCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	return c.delete(ctx, filter, 1)
}

func (c *memoryCollection) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	return c.delete(ctx, filter, 0)
}

func (c *memoryCollection) delete(ctx context.Context, filter Filter, limit int) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	docs, err := c.selectLocked(ctx, filter, FindOptions{Limit: limit})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	doomed := make(map[string]bool, len(docs))
	for _, doc := range docs {
		doomed[doc.ID()] = true
	}
	rows := c.db.collections[c.name]
	kept := rows[:0]
	for _, doc := range rows {
		if !doomed[doc.ID()] {
			kept = append(kept, doc)
		}
	}
	c.db.collections[c.name] = kept
	return int64(len(doomed)), nil
}

func (c *memoryCollection) CountDocuments(ctx context.Context, filter Filter) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	docs, err := c.selectLocked(ctx, filter, FindOptions{})
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (c *memoryCollection) checkUniqueLocked(candidate Doc, selfID string) error {
	for _, existing := range c.db.collections[c.name] {
		if existing.ID() == selfID {
			continue
		}
		if existing.ID() == candidate.ID() {
			return fmt.Errorf("%s _id %s: %w", c.name, candidate.ID(), ErrDuplicateKey)
		}
		for _, index := range UniqueIndexes {
			if index.Collection != c.name {
				continue
			}
			if sameKey(existing, candidate, index.Fields) {
				return fmt.Errorf("%s(%s): %w", c.name, strings.Join(index.Fields, ","), ErrDuplicateKey)
			}
		}
	}
	return nil
}

func sameKey(a, b Doc, fields []string) bool {
	for _, field := range fields {
		left, okLeft := a[field]
		right, okRight := b[field]
		if !okLeft || !okRight || left == nil || right == nil {
			return false
		}
		if !reflect.DeepEqual(left, right) {
			return false
		}
	}
	return true
}

func typeRank(value any) int {
	switch value.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch left := a.(type) {
	case float64:
		right := b.(float64)
		switch {
		case left < right:
			return -1
		case left > right:
			return 1
		}
	case string:
		return strings.Compare(left, b.(string))
	case bool:
		right := b.(bool)
		if left == right {
			return 0
		}
		if !left {
			return -1
		}
		return 1
	}
	return 0
}
