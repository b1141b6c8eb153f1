package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"formledger/api/internal/store"
)

var versionSuffix = regexp.MustCompile(`_v\d+$`)

// BaseName strips a trailing _v<digits> suffix.
func BaseName(name string) string {
	return versionSuffix.ReplaceAllString(name, "")
}

type Recorder interface {
	LedgerAppended(templateName string)
	NameRetried(scope string)
}

type nopRecorder struct{}

func (nopRecorder) LedgerAppended(string) {}
func (nopRecorder) NameRetried(string)    {}

// Ledger is the append-only history of template schemas. Entries are never updated.
type Ledger struct {
	coll    store.Collection
	metrics Recorder
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Ledger)

func WithRecorder(r Recorder) Option {
	return func(l *Ledger) {
		if r != nil {
			l.metrics = r
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func New(db store.Database, opts ...Option) *Ledger {
	l := &Ledger{
		coll:    db.Collection(store.CollVersions),
		metrics: nopRecorder{},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type Entry struct {
	TemplateName string
	Version      int
	Schema       map[string]any
	ChangeLog    string
	Author       string
}

// Append stores entry under the next per-template sequence number.
func (l *Ledger) Append(ctx context.Context, entry Entry) (store.TemplateVersion, error) {
	var written store.TemplateVersion
	err := store.RetryOnDuplicate(ctx, func(attempt int) error {
		if attempt > 0 {
			l.metrics.NameRetried("ledger_seq")
		}
		seq, err := l.nextSeq(ctx, entry.TemplateName)
		if err != nil {
			return err
		}
		record := store.TemplateVersion{
			TemplateName: entry.TemplateName,
			Version:      entry.Version,
			Seq:          seq,
			Schema:       entry.Schema,
			ChangeLog:    entry.ChangeLog,
			Author:       entry.Author,
			CreatedAt:    l.now().UTC(),
		}
		id, err := l.coll.InsertOne(ctx, record.Doc())
		if err != nil {
			return err
		}
		record.ID = id
		written = record
		return nil
	})
	if err != nil {
		return store.TemplateVersion{}, fmt.Errorf("append ledger entry for %s: %w", entry.TemplateName, err)
	}
	l.metrics.LedgerAppended(entry.TemplateName)
	l.logger.Debug("ledger entry appended",
		zap.String("template", written.TemplateName),
		zap.Int("version", written.Version),
		zap.Int("seq", written.Seq),
	)
	return written, nil
}

func (l *Ledger) nextSeq(ctx context.Context, templateName string) (int, error) {
	latest, err := l.coll.FindOne(ctx, store.Where(store.Eq("template_name", templateName)), store.SortDesc("seq"))
	if errors.Is(err, store.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return latest.Int("seq") + 1, nil
}

// Find returns the first entry recorded for (name, version), which holds the
// schema the template had when it reached that version. When the exact name
// has none it tries the base name, then {base}_v{version}.
func (l *Ledger) Find(ctx context.Context, name string, version int) (store.TemplateVersion, error) {
	base := BaseName(name)
	candidates := []string{name}
	if base != name {
		candidates = append(candidates, base)
	}
	if alt := fmt.Sprintf("%s_v%d", base, version); alt != name {
		candidates = append(candidates, alt)
	}

	for _, candidate := range candidates {
		doc, err := l.coll.FindOne(ctx,
			store.Where(store.Eq("template_name", candidate), store.Eq("version", version)),
			store.SortAsc("seq"),
		)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return store.TemplateVersion{}, fmt.Errorf("find ledger entry %s@%d: %w", candidate, version, err)
		}
		return store.DecodeTemplateVersion(doc)
	}
	return store.TemplateVersion{}, store.ErrNotFound
}

// History lists every entry for name, newest first.
func (l *Ledger) History(ctx context.Context, name string) ([]store.TemplateVersion, error) {
	docs, err := l.coll.Find(ctx, store.Where(store.Eq("template_name", name)), store.SortDesc("seq"))
	if err != nil {
		return nil, fmt.Errorf("list ledger for %s: %w", name, err)
	}
	out := make([]store.TemplateVersion, 0, len(docs))
	for _, doc := range docs {
		entry, err := store.DecodeTemplateVersion(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (l *Ledger) Purge(ctx context.Context, name string) (int64, error) {
	deleted, err := l.coll.DeleteMany(ctx, store.Where(store.Eq("template_name", name)))
	if err != nil {
		return 0, fmt.Errorf("purge ledger for %s: %w", name, err)
	}
	return deleted, nil
}
