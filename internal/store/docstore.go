package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"formledger/api/internal/util"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrUnavailable  = errors.New("store unavailable")
)

const (
	CollTemplates   = "templates"
	CollVersions    = "template_versions"
	CollSubmissions = "submissions"
	CollResponses   = "responses"
	CollFillerIndex = "fillername_submissions"
)

// TimeLayout is fixed width so timestamps sort lexically in every driver.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Doc is a stored document in JSON-canonical form: string keys, float64 numbers,
// []any arrays and nested Doc-compatible maps. Every document carries a string _id.
type Doc map[string]any

func (d Doc) ID() string {
	id, _ := d["_id"].(string)
	return id
}

func (d Doc) String(field string) string {
	value, _ := d[field].(string)
	return value
}

func (d Doc) Int(field string) int {
	switch value := d[field].(type) {
	case float64:
		return int(value)
	case int:
		return value
	case int32:
		return int(value)
	case int64:
		return int(value)
	}
	return 0
}

// Decode maps the document onto a tagged struct.
func (d Doc) Decode(out any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

type operator int

const (
	opEq operator = iota
	opIRegex
)

type Condition struct {
	Field string
	Value any
	op    operator
}

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter []Condition

// Eq matches documents whose field equals value. A nil value matches a missing or null field.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Value: value, op: opEq}
}

// IRegex matches string fields against a case-insensitive regular expression.
func IRegex(field, pattern string) Condition {
	return Condition{Field: field, Value: pattern, op: opIRegex}
}

func Where(conditions ...Condition) Filter {
	return Filter(conditions)
}

type FindOptions struct {
	SortField string
	SortDesc  bool
	Limit     int
}

type FindOption func(*FindOptions)

func SortAsc(field string) FindOption {
	return func(o *FindOptions) {
		o.SortField = field
		o.SortDesc = false
	}
}

func SortDesc(field string) FindOption {
	return func(o *FindOptions) {
		o.SortField = field
		o.SortDesc = true
	}
}

func Limit(n int) FindOption {
	return func(o *FindOptions) {
		o.Limit = n
	}
}

func buildFindOptions(opts []FindOption) FindOptions {
	var out FindOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// Collection is the primitive surface every driver offers. Without a sort option,
// Find returns documents in insertion order.
type Collection interface {
	FindOne(ctx context.Context, filter Filter, opts ...FindOption) (Doc, error)
	Find(ctx context.Context, filter Filter, opts ...FindOption) ([]Doc, error)
	InsertOne(ctx context.Context, doc Doc) (string, error)
	UpdateOne(ctx context.Context, filter Filter, set Doc) (int64, error)
	DeleteOne(ctx context.Context, filter Filter) (int64, error)
	DeleteMany(ctx context.Context, filter Filter) (int64, error)
	CountDocuments(ctx context.Context, filter Filter) (int64, error)
}

type Database interface {
	Collection(name string) Collection
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type UniqueIndex struct {
	Collection string
	Fields     []string
}

// UniqueIndexes lists the constraints every driver must enforce.
var UniqueIndexes = []UniqueIndex{
	{Collection: CollTemplates, Fields: []string{"name"}},
	{Collection: CollVersions, Fields: []string{"template_name", "seq"}},
	{Collection: CollSubmissions, Fields: []string{"template_name", "version"}},
	{Collection: CollSubmissions, Fields: []string{"submission_name"}},
	{Collection: CollFillerIndex, Fields: []string{"submission_name"}},
}

func newDocumentID() string {
	return util.NewID("")
}

func canonical(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func canonicalDoc(doc Doc) (Doc, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := Doc{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}
