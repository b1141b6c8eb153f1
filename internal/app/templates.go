package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"formledger/api/internal/cache"
	"formledger/api/internal/ledger"
	"formledger/api/internal/store"
)

const (
	initialChangeLog = "Initial version."
	defaultChangeLog = "No change log provided."
)

// TemplateView is the outward form of a template. It never carries the lock hash.
type TemplateView struct {
	Name       string         `json:"name"`
	Schema     map[string]any `json:"schema"`
	Version    int            `json:"version"`
	Author     string         `json:"author"`
	TeamName   string         `json:"team_name"`
	VersionTag string         `json:"version_tag"`
	IsLocked   bool           `json:"is_locked"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type TemplateSummary struct {
	Name          string    `json:"name"`
	Description   any       `json:"description"`
	AuditPipeline any       `json:"audit_pipeline"`
	Author        string    `json:"author"`
	TeamName      string    `json:"team_name"`
	VersionTag    string    `json:"version_tag"`
	Version       int       `json:"version"`
	IsLocked      bool      `json:"is_locked"`
	CreatedAt     time.Time `json:"created_at"`
}

type HistoryEntry struct {
	TemplateName string         `json:"template_name"`
	Version      int            `json:"version"`
	Schema       map[string]any `json:"schema"`
	ChangeLog    string         `json:"change_log"`
	Author       string         `json:"author,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type CreateTemplateInput struct {
	Name       string         `json:"name"`
	Schema     map[string]any `json:"schema"`
	Author     string         `json:"author"`
	TeamName   string         `json:"team_name"`
	VersionTag string         `json:"version_tag"`
}

type EditTemplateInput struct {
	Schema    map[string]any `json:"schema"`
	ChangeLog string         `json:"change_log"`
}

// ForkTemplateInput fields left empty are carried over from the newest existing version.
type ForkTemplateInput struct {
	Schema     map[string]any `json:"schema"`
	ChangeLog  string         `json:"change_log"`
	Author     string         `json:"author"`
	TeamName   string         `json:"team_name"`
	VersionTag string         `json:"version_tag"`
}

func viewOf(t store.Template) TemplateView {
	schema := t.Schema
	if schema == nil {
		schema = map[string]any{}
	}
	return TemplateView{
		Name:       t.Name,
		Schema:     schema,
		Version:    t.Version,
		Author:     t.Author,
		TeamName:   t.TeamName,
		VersionTag: t.VersionTag,
		IsLocked:   t.IsLocked,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func summaryOf(t store.Template) TemplateSummary {
	return TemplateSummary{
		Name:          t.Name,
		Description:   t.Schema["description"],
		AuditPipeline: t.Schema["audit_pipeline"],
		Author:        t.Author,
		TeamName:      t.TeamName,
		VersionTag:    t.VersionTag,
		Version:       t.Version,
		IsLocked:      t.IsLocked,
		CreatedAt:     t.CreatedAt,
	}
}

func historyOf(v store.TemplateVersion) HistoryEntry {
	return HistoryEntry{
		TemplateName: v.TemplateName,
		Version:      v.Version,
		Schema:       v.Schema,
		ChangeLog:    v.ChangeLog,
		Author:       v.Author,
		CreatedAt:    v.CreatedAt,
	}
}

func (s *Service) findTemplate(ctx context.Context, name string) (store.Template, error) {
	doc, err := s.templates.FindOne(ctx, store.Where(store.Eq("name", name)))
	if errors.Is(err, store.ErrNotFound) {
		return store.Template{}, notFound(fmt.Sprintf("Template %s not found", name))
	}
	if err != nil {
		return store.Template{}, fmt.Errorf("load template %s: %w", name, err)
	}
	return store.DecodeTemplate(doc)
}

func (s *Service) templateChanged(ctx context.Context, names ...string) {
	keys := []string{cache.ListKey}
	for _, name := range names {
		keys = append(keys, cache.TemplateKey(name), cache.HistoryKey(name))
	}
	s.invalidate(ctx, keys...)
}

func (s *Service) ListTemplates(ctx context.Context) ([]TemplateSummary, error) {
	var out []TemplateSummary
	if s.cached(ctx, cache.ListKey, &out) {
		return out, nil
	}
	docs, err := s.templates.Find(ctx, nil, store.SortAsc("name"))
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out = make([]TemplateSummary, 0, len(docs))
	for _, doc := range docs {
		tmpl, err := store.DecodeTemplate(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, summaryOf(tmpl))
	}
	s.remember(ctx, cache.ListKey, out)
	return out, nil
}

func (s *Service) GetTemplate(ctx context.Context, name string) (TemplateView, error) {
	var view TemplateView
	if s.cached(ctx, cache.TemplateKey(name), &view) {
		return view, nil
	}
	tmpl, err := s.findTemplate(ctx, name)
	if err != nil {
		return TemplateView{}, err
	}
	view = viewOf(tmpl)
	s.remember(ctx, cache.TemplateKey(name), view)
	return view, nil
}

// CreateTemplate stores a new template as {base}_v1, base being the name without a version suffix.
func (s *Service) CreateTemplate(ctx context.Context, input CreateTemplateInput) (TemplateView, error) {
	base := ledger.BaseName(strings.TrimSpace(input.Name))
	if base == "" {
		return TemplateView{}, badRequest("name is required")
	}
	name := base + "_v1"

	if _, err := s.findTemplate(ctx, name); err == nil {
		return TemplateView{}, conflict(fmt.Sprintf("Template %s already exists", name))
	} else if KindOf(err) != KindNotFound {
		return TemplateView{}, err
	}

	schema := input.Schema
	if schema == nil {
		schema = map[string]any{}
	}
	now := s.timestamp()
	tmpl := store.Template{
		Name:       name,
		Schema:     schema,
		Version:    1,
		Author:     input.Author,
		TeamName:   input.TeamName,
		VersionTag: input.VersionTag,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	id, err := s.templates.InsertOne(ctx, tmpl.Doc())
	if errors.Is(err, store.ErrDuplicateKey) {
		return TemplateView{}, conflict(fmt.Sprintf("Template %s already exists", name))
	}
	if err != nil {
		return TemplateView{}, fmt.Errorf("insert template %s: %w", name, err)
	}
	tmpl.ID = id

	if _, err := s.ledger.Append(ctx, ledger.Entry{
		TemplateName: name,
		Version:      1,
		Schema:       schema,
		ChangeLog:    initialChangeLog,
		Author:       input.Author,
	}); err != nil {
		return TemplateView{}, err
	}
	s.templateChanged(ctx, name)
	s.logger.Info("template created", zap.String("template", name))
	return viewOf(tmpl), nil
}

// EditTemplate archives the current schema under the current version, then replaces
// the live schema. The version number does not change.
func (s *Service) EditTemplate(ctx context.Context, name string, input EditTemplateInput) (TemplateView, error) {
	if input.Schema == nil {
		return TemplateView{}, badRequest("schema is required")
	}
	tmpl, err := s.findTemplate(ctx, name)
	if err != nil {
		return TemplateView{}, err
	}
	if tmpl.IsLocked {
		return TemplateView{}, forbidden(fmt.Sprintf("Template %s is locked", name))
	}
	changeLog := strings.TrimSpace(input.ChangeLog)
	if changeLog == "" {
		changeLog = defaultChangeLog
	}

	if _, err := s.ledger.Append(ctx, ledger.Entry{
		TemplateName: name,
		Version:      tmpl.Version,
		Schema:       tmpl.Schema,
		ChangeLog:    changeLog,
		Author:       tmpl.Author,
	}); err != nil {
		return TemplateView{}, err
	}
	defer s.invalidate(ctx, cache.HistoryKey(name))

	now := s.timestamp()
	matched, err := s.templates.UpdateOne(ctx, store.Where(store.Eq("name", name)), store.Doc{
		"schema":     input.Schema,
		"updated_at": store.FormatTime(now),
	})
	if err != nil {
		return TemplateView{}, fmt.Errorf("update template %s: %w", name, err)
	}
	if matched == 0 {
		return TemplateView{}, notFound(fmt.Sprintf("Template %s not found", name))
	}
	s.templateChanged(ctx, name)

	tmpl.Schema = input.Schema
	tmpl.UpdatedAt = now
	return viewOf(tmpl), nil
}

// ForkTemplate adds {base}_v{n+1} next to the existing versions of base. A name
// without a version suffix, such as a duplicate, forks from its own row.
func (s *Service) ForkTemplate(ctx context.Context, name string, input ForkTemplateInput) (TemplateView, error) {
	name = strings.TrimSpace(name)
	base := ledger.BaseName(name)
	if base == "" {
		return TemplateView{}, badRequest("name is required")
	}
	suffix := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `_v(\d+)$`)

	var created store.Template
	err := store.RetryOnDuplicate(ctx, func(attempt int) error {
		if attempt > 0 {
			s.metrics.NameRetried("template_fork")
		}
		docs, err := s.templates.Find(ctx, store.Where(store.IRegex("name", suffix.String())))
		if err != nil {
			return fmt.Errorf("scan versions of %s: %w", base, err)
		}
		var latest *store.Template
		highest := 0
		for _, doc := range docs {
			match := suffix.FindStringSubmatch(doc.String("name"))
			if match == nil {
				continue
			}
			n, err := strconv.Atoi(match[1])
			if err != nil || n <= highest {
				continue
			}
			tmpl, err := store.DecodeTemplate(doc)
			if err != nil {
				return err
			}
			highest, latest = n, &tmpl
		}
		if latest == nil {
			tmpl, err := s.findTemplate(ctx, name)
			if err != nil {
				return err
			}
			highest, latest = tmpl.Version, &tmpl
		}

		next := highest + 1
		now := s.timestamp()
		created = store.Template{
			Name:       fmt.Sprintf("%s_v%d", base, next),
			Schema:     latest.Schema,
			Version:    next,
			Author:     firstNonEmpty(input.Author, latest.Author),
			TeamName:   firstNonEmpty(input.TeamName, latest.TeamName),
			VersionTag: firstNonEmpty(input.VersionTag, latest.VersionTag),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if input.Schema != nil {
			created.Schema = input.Schema
		}
		if created.Schema == nil {
			created.Schema = map[string]any{}
		}
		id, err := s.templates.InsertOne(ctx, created.Doc())
		if err != nil {
			return err
		}
		created.ID = id
		return nil
	})
	if err != nil {
		if KindOf(err) == KindNotFound {
			return TemplateView{}, err
		}
		return TemplateView{}, fmt.Errorf("fork template %s: %w", base, err)
	}
	defer s.templateChanged(ctx, created.Name)

	changeLog := strings.TrimSpace(input.ChangeLog)
	if changeLog == "" {
		changeLog = fmt.Sprintf("Created version %d.", created.Version)
	}
	if _, err := s.ledger.Append(ctx, ledger.Entry{
		TemplateName: created.Name,
		Version:      created.Version,
		Schema:       created.Schema,
		ChangeLog:    changeLog,
		Author:       created.Author,
	}); err != nil {
		return TemplateView{}, err
	}
	s.logger.Info("template version forked", zap.String("base", base), zap.String("template", created.Name))
	return viewOf(created), nil
}

// RollbackTemplate restores the schema archived for target and bumps the version.
func (s *Service) RollbackTemplate(ctx context.Context, name string, target int) (TemplateView, error) {
	tmpl, err := s.findTemplate(ctx, name)
	if err != nil {
		return TemplateView{}, err
	}
	archived, err := s.ledger.Find(ctx, name, target)
	if errors.Is(err, store.ErrNotFound) {
		return TemplateView{}, notFound(fmt.Sprintf("Version %d of %s not found", target, name))
	}
	if err != nil {
		return TemplateView{}, err
	}
	if tmpl.IsLocked {
		return TemplateView{}, forbidden(fmt.Sprintf("Template %s is locked", name))
	}

	current := tmpl.Version
	if _, err := s.ledger.Append(ctx, ledger.Entry{
		TemplateName: name,
		Version:      current,
		Schema:       tmpl.Schema,
		ChangeLog:    fmt.Sprintf("Pre-rollback save of version %d.", current),
		Author:       tmpl.Author,
	}); err != nil {
		return TemplateView{}, err
	}
	defer s.invalidate(ctx, cache.HistoryKey(name))
	if _, err := s.ledger.Append(ctx, ledger.Entry{
		TemplateName: name,
		Version:      current + 1,
		Schema:       archived.Schema,
		ChangeLog:    fmt.Sprintf("Rolled back to version %d.", target),
		Author:       tmpl.Author,
	}); err != nil {
		return TemplateView{}, err
	}

	now := s.timestamp()
	matched, err := s.templates.UpdateOne(ctx,
		store.Where(store.Eq("name", name), store.Eq("version", current)),
		store.Doc{
			"schema":     archived.Schema,
			"version":    current + 1,
			"updated_at": store.FormatTime(now),
		},
	)
	if err != nil {
		return TemplateView{}, fmt.Errorf("rollback template %s: %w", name, err)
	}
	if matched == 0 {
		return TemplateView{}, conflict(fmt.Sprintf("Template %s changed during rollback", name))
	}
	s.templateChanged(ctx, name)
	s.logger.Info("template rolled back",
		zap.String("template", name),
		zap.Int("target", target),
		zap.Int("version", current+1),
	)

	tmpl.Schema = archived.Schema
	tmpl.Version = current + 1
	tmpl.UpdatedAt = now
	return viewOf(tmpl), nil
}

// DuplicateTemplate copies name into the first free {name}_copy{i}.
func (s *Service) DuplicateTemplate(ctx context.Context, name string) (TemplateView, error) {
	source, err := s.findTemplate(ctx, name)
	if err != nil {
		return TemplateView{}, err
	}

	var copied store.Template
	err = store.RetryOnDuplicate(ctx, func(attempt int) error {
		if attempt > 0 {
			s.metrics.NameRetried("template_copy")
		}
		candidate, err := s.freeCopyName(ctx, name)
		if err != nil {
			return err
		}
		now := s.timestamp()
		copied = store.Template{
			Name:       candidate,
			Schema:     source.Schema,
			Version:    1,
			Author:     source.Author,
			TeamName:   source.TeamName,
			VersionTag: source.VersionTag,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		id, err := s.templates.InsertOne(ctx, copied.Doc())
		if err != nil {
			return err
		}
		copied.ID = id
		return nil
	})
	if err != nil {
		return TemplateView{}, fmt.Errorf("duplicate template %s: %w", name, err)
	}

	if _, err := s.ledger.Append(ctx, ledger.Entry{
		TemplateName: copied.Name,
		Version:      1,
		Schema:       copied.Schema,
		ChangeLog:    "Duplicated from " + name,
		Author:       copied.Author,
	}); err != nil {
		return TemplateView{}, err
	}
	s.templateChanged(ctx, copied.Name)
	return viewOf(copied), nil
}

func (s *Service) freeCopyName(ctx context.Context, name string) (string, error) {
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_copy%d", name, i)
		n, err := s.templates.CountDocuments(ctx, store.Where(store.Eq("name", candidate)))
		if err != nil {
			return "", fmt.Errorf("probe %s: %w", candidate, err)
		}
		if n == 0 {
			return candidate, nil
		}
	}
}

func (s *Service) LockTemplate(ctx context.Context, name, password string) error {
	if password == "" {
		return badRequest("password is required")
	}
	tmpl, err := s.findTemplate(ctx, name)
	if err != nil {
		return err
	}
	if tmpl.IsLocked {
		return conflict(fmt.Sprintf("Template %s is already locked", name))
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	matched, err := s.templates.UpdateOne(ctx,
		store.Where(store.Eq("name", name), store.Eq("is_locked", false)),
		store.Doc{"is_locked": true, "lock_password_hash": hash},
	)
	if err != nil {
		return fmt.Errorf("lock template %s: %w", name, err)
	}
	if matched == 0 {
		return conflict(fmt.Sprintf("Template %s is already locked", name))
	}
	s.templateChanged(ctx, name)
	return nil
}

func (s *Service) UnlockTemplate(ctx context.Context, name, password string) error {
	if password == "" {
		return badRequest("password is required")
	}
	tmpl, err := s.findTemplate(ctx, name)
	if err != nil {
		return err
	}
	if !tmpl.IsLocked {
		return nil
	}
	var hash string
	if tmpl.LockPasswordHash != nil {
		hash = *tmpl.LockPasswordHash
	}
	if err := s.hasher.Verify(hash, password); err != nil {
		return unauthorized("Incorrect password")
	}
	if _, err := s.templates.UpdateOne(ctx, store.Where(store.Eq("name", name)), store.Doc{
		"is_locked":          false,
		"lock_password_hash": nil,
	}); err != nil {
		return fmt.Errorf("unlock template %s: %w", name, err)
	}
	s.templateChanged(ctx, name)
	return nil
}

// DeleteTemplate removes the template with its ledger, submissions, responses and side data.
// Locks do not protect against deletion.
func (s *Service) DeleteTemplate(ctx context.Context, name string) error {
	if _, err := s.findTemplate(ctx, name); err != nil {
		return err
	}

	docs, err := s.submissions.Find(ctx, store.Where(store.Eq("template_name", name)))
	if err != nil {
		return fmt.Errorf("list submissions of %s: %w", name, err)
	}
	for _, doc := range docs {
		sub, err := store.DecodeSubmission(doc)
		if err != nil {
			return err
		}
		if err := s.removeSubmissionData(ctx, sub); err != nil {
			return err
		}
	}
	if _, err := s.submissions.DeleteMany(ctx, store.Where(store.Eq("template_name", name))); err != nil {
		return fmt.Errorf("delete submissions of %s: %w", name, err)
	}
	purged, err := s.ledger.Purge(ctx, name)
	if err != nil {
		return err
	}
	if err := s.artifacts.DeleteTemplate(ctx, name); err != nil {
		s.logger.Warn("artifact cleanup failed", zap.String("template", name), zap.Error(err))
	}
	if _, err := s.templates.DeleteOne(ctx, store.Where(store.Eq("name", name))); err != nil {
		return fmt.Errorf("delete template %s: %w", name, err)
	}
	s.templateChanged(ctx, name)
	s.logger.Info("template deleted",
		zap.String("template", name),
		zap.Int("submissions", len(docs)),
		zap.Int64("ledger_entries", purged),
	)
	return nil
}

// TemplateHistory lists ledger entries newest first. The "Initial version." entry is
// included, so N edits of a fresh template yield N+1 entries.
func (s *Service) TemplateHistory(ctx context.Context, name string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if s.cached(ctx, cache.HistoryKey(name), &out) {
		return out, nil
	}
	if _, err := s.findTemplate(ctx, name); err != nil {
		return nil, err
	}
	entries, err := s.ledger.History(ctx, name)
	if err != nil {
		return nil, err
	}
	out = make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, historyOf(entry))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Version > out[j].Version
	})
	s.remember(ctx, cache.HistoryKey(name), out)
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
