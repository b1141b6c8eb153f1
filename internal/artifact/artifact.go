// Package artifact keeps a JSON copy of every submission outside the document
// store, laid out as {template}/{submission_name}.json.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNotStored = errors.New("artifact not stored")

type Store interface {
	Put(ctx context.Context, templateName, submissionName string, payload []byte) error
	Delete(ctx context.Context, templateName, submissionName string) error
	DeleteTemplate(ctx context.Context, templateName string) error
}

// Reader is implemented by backends that can return what they stored.
type Reader interface {
	Read(ctx context.Context, templateName, submissionName string) ([]byte, error)
}

// Historian is implemented by backends that keep revisions of an artifact.
type Historian interface {
	History(ctx context.Context, templateName, submissionName string, limit int) ([]Revision, error)
}

// Key returns the object path for a submission. Path separators inside names
// are flattened so a name can never escape its template folder.
func Key(templateName, submissionName string) string {
	return segment(templateName) + "/" + segment(submissionName) + ".json"
}

func segment(name string) string {
	cleaned := strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "_" + cleaned
	}
	return cleaned
}

// Encode renders a payload the way every backend stores it.
func Encode(value any) ([]byte, error) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	return append(payload, '\n'), nil
}

// Nop discards artifacts.
type Nop struct{}

func (Nop) Put(context.Context, string, string, []byte) error { return nil }
func (Nop) Delete(context.Context, string, string) error      { return nil }
func (Nop) DeleteTemplate(context.Context, string) error      { return nil }
