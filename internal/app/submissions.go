package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"formledger/api/internal/artifact"
	"formledger/api/internal/diff"
	"formledger/api/internal/search"
	"formledger/api/internal/store"
	"formledger/api/internal/thread"
)

// SubmissionRef addresses a submission either by (TemplateName, Version) or by SubmissionName.
type SubmissionRef struct {
	TemplateName   string
	Version        int
	SubmissionName string
}

func ByVersion(templateName string, version int) SubmissionRef {
	return SubmissionRef{TemplateName: templateName, Version: version}
}

func ByName(submissionName string) SubmissionRef {
	return SubmissionRef{SubmissionName: submissionName}
}

func (r SubmissionRef) filter() store.Filter {
	if r.SubmissionName != "" {
		filter := store.Where(store.Eq("submission_name", r.SubmissionName))
		if r.TemplateName != "" {
			filter = append(filter, store.Eq("template_name", r.TemplateName))
		}
		return filter
	}
	return store.Where(store.Eq("template_name", r.TemplateName), store.Eq("version", r.Version))
}

func (r SubmissionRef) String() string {
	if r.SubmissionName != "" {
		return r.SubmissionName
	}
	return fmt.Sprintf("%s@%d", r.TemplateName, r.Version)
}

type SubmitResult struct {
	Version        int    `json:"version"`
	SubmissionName string `json:"submission_name"`
}

type SubmissionSummary struct {
	Version        int       `json:"version"`
	SubmissionName string    `json:"submission_name"`
	FillerName     string    `json:"fillerName,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type FillerMatch struct {
	SubmissionName string         `json:"submission_name"`
	TemplateName   string         `json:"template_name"`
	FillerName     string         `json:"fillerName"`
	Data           map[string]any `json:"data"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ArtifactView is the stored side copy of a submission plus its revisions,
// newest first. Backends without revisions report an empty list.
type ArtifactView struct {
	TemplateName   string              `json:"template_name"`
	SubmissionName string              `json:"submission_name"`
	Content        json.RawMessage     `json:"content"`
	Revisions      []artifact.Revision `json:"revisions"`
}

type DiffResult struct {
	TemplateName string         `json:"template_name"`
	From         int            `json:"v1"`
	To           int            `json:"v2"`
	Diff         map[string]any `json:"diff"`
	Changes      []diff.Change  `json:"changes"`
	Tree         *diff.Node     `json:"tree"`
}

func (s *Service) findSubmission(ctx context.Context, ref SubmissionRef) (store.Submission, error) {
	doc, err := s.submissions.FindOne(ctx, ref.filter())
	if errors.Is(err, store.ErrNotFound) {
		return store.Submission{}, notFound(fmt.Sprintf("Submission %s not found", ref))
	}
	if err != nil {
		return store.Submission{}, fmt.Errorf("load submission %s: %w", ref, err)
	}
	return store.DecodeSubmission(doc)
}

func (s *Service) nextVersion(ctx context.Context, templateName string) (int, error) {
	latest, err := s.submissions.FindOne(ctx, store.Where(store.Eq("template_name", templateName)), store.SortDesc("version"))
	if errors.Is(err, store.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("next version of %s: %w", templateName, err)
	}
	return latest.Int("version") + 1, nil
}

// lowestFreeName returns the smallest {templateName}_{n}, n >= 1, that no submission uses.
func (s *Service) lowestFreeName(ctx context.Context, templateName string) (string, error) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(templateName) + `_(\d+)$`)
	docs, err := s.submissions.Find(ctx, store.Where(store.IRegex("submission_name", pattern.String())))
	if err != nil {
		return "", fmt.Errorf("scan submission names of %s: %w", templateName, err)
	}
	used := make(map[int]bool, len(docs))
	for _, doc := range docs {
		match := pattern.FindStringSubmatch(doc.String("submission_name"))
		if match == nil {
			continue
		}
		if n, err := strconv.Atoi(match[1]); err == nil {
			used[n] = true
		}
	}
	n := 1
	for used[n] {
		n++
	}
	return fmt.Sprintf("%s_%d", templateName, n), nil
}

// insertNumbered writes sub under the next free version and name, recomputing both
// until the unique indexes accept the row.
func (s *Service) insertNumbered(ctx context.Context, sub store.Submission, countFirst bool) (store.Submission, error) {
	err := store.RetryOnDuplicate(ctx, func(attempt int) error {
		if attempt > 0 {
			s.metrics.NameRetried("submission")
		}
		version, err := s.nextVersion(ctx, sub.TemplateName)
		if err != nil {
			return err
		}
		var name string
		if countFirst && attempt == 0 {
			count, err := s.submissions.CountDocuments(ctx, store.Where(store.Eq("template_name", sub.TemplateName)))
			if err != nil {
				return fmt.Errorf("count submissions of %s: %w", sub.TemplateName, err)
			}
			name = fmt.Sprintf("%s_%d", sub.TemplateName, count+1)
		} else if name, err = s.lowestFreeName(ctx, sub.TemplateName); err != nil {
			return err
		}

		sub.Version = version
		sub.SubmissionName = name
		sub.CreatedAt = s.timestamp()
		id, err := s.submissions.InsertOne(ctx, sub.Doc())
		if err != nil {
			return err
		}
		sub.ID = id
		return nil
	})
	if err != nil {
		return store.Submission{}, fmt.Errorf("insert submission for %s: %w", sub.TemplateName, err)
	}
	s.afterInsert(ctx, sub)
	return sub, nil
}

// afterInsert maintains the filler index, the artifact copy and the search index.
// None of them is authoritative, so failures are logged and the submission stands.
func (s *Service) afterInsert(ctx context.Context, sub store.Submission) {
	s.metrics.SubmissionCreated()
	log := s.logger.With(zap.String("submission", sub.SubmissionName))

	if sub.FillerName != "" {
		record := store.FillerRecord{
			FillerName:     sub.FillerName,
			SubmissionName: sub.SubmissionName,
			TemplateName:   sub.TemplateName,
			Data:           sub.Data,
			CreatedAt:      sub.CreatedAt,
		}
		if _, err := s.fillers.InsertOne(ctx, record.Doc()); err != nil {
			log.Warn("filler index write failed", zap.Error(err))
		}
	}

	payload, err := artifact.Encode(sub)
	if err == nil {
		err = s.artifacts.Put(ctx, sub.TemplateName, sub.SubmissionName, payload)
	}
	if err != nil {
		log.Warn("artifact write failed", zap.Error(err))
	}

	s.search.IndexSubmission(search.RecordFromSubmission(sub))
	log.Info("submission stored", zap.String("template", sub.TemplateName), zap.Int("version", sub.Version))
}

// Submit stores payload as the next submission of templateName. Top-level
// submission_name and fillerName keys are not part of the stored data; the
// filler falls back to data.fillerName.
func (s *Service) Submit(ctx context.Context, templateName string, payload map[string]any) (SubmitResult, error) {
	if _, err := s.findTemplate(ctx, templateName); err != nil {
		return SubmitResult{}, err
	}

	data := make(map[string]any, len(payload))
	for key, value := range payload {
		if key == "submission_name" || key == "fillerName" {
			continue
		}
		data[key] = value
	}
	filler, _ := payload["fillerName"].(string)
	filler = strings.TrimSpace(filler)
	if filler == "" {
		if inner, ok := payload["data"].(map[string]any); ok {
			if name, ok := inner["fillerName"].(string); ok {
				filler = strings.TrimSpace(name)
			}
		}
	}

	sub, err := s.insertNumbered(ctx, store.Submission{
		TemplateName: templateName,
		FillerName:   filler,
		Data:         data,
	}, true)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Version: sub.Version, SubmissionName: sub.SubmissionName}, nil
}

// DuplicateSubmission copies ref as a new submission of the same template.
// Concurrent duplicates of one source all succeed under distinct names.
func (s *Service) DuplicateSubmission(ctx context.Context, ref SubmissionRef) (SubmitResult, error) {
	source, err := s.findSubmission(ctx, ref)
	if err != nil {
		return SubmitResult{}, err
	}
	sub, err := s.insertNumbered(ctx, store.Submission{
		TemplateName: source.TemplateName,
		FillerName:   source.FillerName,
		Data:         source.Data,
	}, false)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Version: sub.Version, SubmissionName: sub.SubmissionName}, nil
}

func (s *Service) removeSubmissionData(ctx context.Context, sub store.Submission) error {
	if _, err := s.responses.DeleteMany(ctx, store.Where(
		store.Eq("submission_id", sub.ID),
		store.Eq("version", sub.Version),
	)); err != nil {
		return fmt.Errorf("delete responses of %s: %w", sub.SubmissionName, err)
	}
	if _, err := s.fillers.DeleteMany(ctx, store.Where(store.Eq("submission_name", sub.SubmissionName))); err != nil {
		return fmt.Errorf("delete filler index of %s: %w", sub.SubmissionName, err)
	}
	s.search.DeleteSubmission(sub.ID)
	return nil
}

func (s *Service) DeleteSubmission(ctx context.Context, ref SubmissionRef) error {
	sub, err := s.findSubmission(ctx, ref)
	if err != nil {
		return err
	}
	if err := s.removeSubmissionData(ctx, sub); err != nil {
		return err
	}
	if err := s.artifacts.Delete(ctx, sub.TemplateName, sub.SubmissionName); err != nil {
		s.logger.Warn("artifact delete failed", zap.String("submission", sub.SubmissionName), zap.Error(err))
	}
	deleted, err := s.submissions.DeleteOne(ctx, store.Where(store.Eq("_id", sub.ID)))
	if err != nil {
		return fmt.Errorf("delete submission %s: %w", sub.SubmissionName, err)
	}
	if deleted == 0 {
		return notFound(fmt.Sprintf("Submission %s not found", ref))
	}
	return nil
}

func (s *Service) ListSubmissions(ctx context.Context, templateName string) ([]SubmissionSummary, error) {
	docs, err := s.submissions.Find(ctx, store.Where(store.Eq("template_name", templateName)), store.SortAsc("version"))
	if err != nil {
		return nil, fmt.Errorf("list submissions of %s: %w", templateName, err)
	}
	out := make([]SubmissionSummary, 0, len(docs))
	for _, doc := range docs {
		sub, err := store.DecodeSubmission(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, SubmissionSummary{
			Version:        sub.Version,
			SubmissionName: sub.SubmissionName,
			FillerName:     sub.FillerName,
			CreatedAt:      sub.CreatedAt,
		})
	}
	return out, nil
}

// GetSubmission returns the submission with its response threads attached.
func (s *Service) GetSubmission(ctx context.Context, ref SubmissionRef) (store.Submission, error) {
	sub, err := s.findSubmission(ctx, ref)
	if err != nil {
		return store.Submission{}, err
	}
	forest, err := s.threadsOf(ctx, sub)
	if err != nil {
		return store.Submission{}, err
	}
	sub.Responses = forest
	return sub, nil
}

// SearchByFiller matches fragment as a case-insensitive substring of filler names,
// both in the filler index and on the submissions themselves.
func (s *Service) SearchByFiller(ctx context.Context, fragment string) ([]FillerMatch, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, badRequest("fillerName is required")
	}
	pattern := regexp.QuoteMeta(fragment)

	records, err := s.fillers.Find(ctx, store.Where(store.IRegex("fillerName", pattern)), store.SortAsc("created_at"))
	if err != nil {
		return nil, fmt.Errorf("search filler index: %w", err)
	}
	docs, err := s.submissions.Find(ctx, store.Where(store.IRegex("fillerName", pattern)), store.SortAsc("created_at"))
	if err != nil {
		return nil, fmt.Errorf("search submissions by filler: %w", err)
	}

	seen := make(map[string]bool, len(records)+len(docs))
	out := make([]FillerMatch, 0, len(records)+len(docs))
	for _, doc := range records {
		record, err := store.DecodeFillerRecord(doc)
		if err != nil {
			return nil, err
		}
		if seen[record.SubmissionName] {
			continue
		}
		seen[record.SubmissionName] = true
		out = append(out, FillerMatch{
			SubmissionName: record.SubmissionName,
			TemplateName:   record.TemplateName,
			FillerName:     record.FillerName,
			Data:           record.Data,
			CreatedAt:      record.CreatedAt,
		})
	}
	for _, doc := range docs {
		sub, err := store.DecodeSubmission(doc)
		if err != nil {
			return nil, err
		}
		if seen[sub.SubmissionName] {
			continue
		}
		seen[sub.SubmissionName] = true
		out = append(out, FillerMatch{
			SubmissionName: sub.SubmissionName,
			TemplateName:   sub.TemplateName,
			FillerName:     sub.FillerName,
			Data:           sub.Data,
			CreatedAt:      sub.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Service) SearchSubmissions(ctx context.Context, text, templateName string, limit int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, badRequest("q is required")
	}
	return s.search.Search(ctx, search.Query{Text: text, TemplateName: templateName, Limit: limit}), nil
}

// SubmissionArtifact reads back the artifact written for a submission.
func (s *Service) SubmissionArtifact(ctx context.Context, ref SubmissionRef, limit int) (ArtifactView, error) {
	sub, err := s.findSubmission(ctx, ref)
	if err != nil {
		return ArtifactView{}, err
	}
	reader, ok := s.artifacts.(artifact.Reader)
	if !ok {
		return ArtifactView{}, notFound("Artifacts are not enabled")
	}
	content, err := reader.Read(ctx, sub.TemplateName, sub.SubmissionName)
	if errors.Is(err, artifact.ErrNotStored) {
		return ArtifactView{}, notFound(fmt.Sprintf("No artifact stored for %s", sub.SubmissionName))
	}
	if err != nil {
		return ArtifactView{}, fmt.Errorf("read artifact of %s: %w", sub.SubmissionName, err)
	}

	view := ArtifactView{
		TemplateName:   sub.TemplateName,
		SubmissionName: sub.SubmissionName,
		Content:        json.RawMessage(content),
		Revisions:      []artifact.Revision{},
	}
	if historian, ok := s.artifacts.(artifact.Historian); ok {
		revisions, err := historian.History(ctx, sub.TemplateName, sub.SubmissionName, limit)
		if err != nil {
			return ArtifactView{}, fmt.Errorf("artifact history of %s: %w", sub.SubmissionName, err)
		}
		view.Revisions = append(view.Revisions, revisions...)
	}
	return view, nil
}

// DiffSubmissions compares the data of two versions of templateName.
func (s *Service) DiffSubmissions(ctx context.Context, templateName string, v1, v2 int) (DiffResult, error) {
	left, err := s.submissions.FindOne(ctx, ByVersion(templateName, v1).filter())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return DiffResult{}, fmt.Errorf("load submission %s@%d: %w", templateName, v1, err)
	}
	right, err2 := s.submissions.FindOne(ctx, ByVersion(templateName, v2).filter())
	if err2 != nil && !errors.Is(err2, store.ErrNotFound) {
		return DiffResult{}, fmt.Errorf("load submission %s@%d: %w", templateName, v2, err2)
	}
	if err != nil || err2 != nil {
		return DiffResult{}, notFound("One or both submissions not found")
	}

	result := diff.Compare(left["data"], right["data"])
	changes := result.Changes
	if changes == nil {
		changes = []diff.Change{}
	}
	return DiffResult{
		TemplateName: templateName,
		From:         v1,
		To:           v2,
		Diff:         result.Document(),
		Changes:      changes,
		Tree:         result.Tree(),
	}, nil
}

func (s *Service) threadsOf(ctx context.Context, sub store.Submission) ([]*store.Response, error) {
	docs, err := s.responses.Find(ctx, store.Where(
		store.Eq("submission_id", sub.ID),
		store.Eq("version", sub.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("list responses of %s: %w", sub.SubmissionName, err)
	}
	records := make([]store.Response, 0, len(docs))
	for _, doc := range docs {
		record, err := store.DecodeResponse(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return thread.Build(records), nil
}
