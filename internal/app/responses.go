package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"formledger/api/internal/store"
)

type ResponseInput struct {
	ParentID *string `json:"parent_id"`
	Author   string  `json:"author"`
	Content  string  `json:"content"`
}

// AddResponse attaches a response to the submission. A parent must belong to the
// same submission version.
func (s *Service) AddResponse(ctx context.Context, ref SubmissionRef, input ResponseInput) (store.Response, error) {
	if strings.TrimSpace(input.Content) == "" {
		return store.Response{}, badRequest("content is required")
	}
	sub, err := s.findSubmission(ctx, ref)
	if err != nil {
		return store.Response{}, err
	}

	var parentID *string
	if input.ParentID != nil && strings.TrimSpace(*input.ParentID) != "" {
		id := strings.TrimSpace(*input.ParentID)
		_, err := s.responses.FindOne(ctx, store.Where(
			store.Eq("_id", id),
			store.Eq("submission_id", sub.ID),
			store.Eq("version", sub.Version),
		))
		if errors.Is(err, store.ErrNotFound) {
			return store.Response{}, notFound(fmt.Sprintf("Parent response %s not found", id))
		}
		if err != nil {
			return store.Response{}, fmt.Errorf("load parent response %s: %w", id, err)
		}
		parentID = &id
	}

	response := store.Response{
		SubmissionID: sub.ID,
		Version:      sub.Version,
		ParentID:     parentID,
		Author:       strings.TrimSpace(input.Author),
		Content:      input.Content,
		CreatedAt:    s.timestamp(),
		Children:     []*store.Response{},
	}
	id, err := s.responses.InsertOne(ctx, response.Doc())
	if err != nil {
		return store.Response{}, fmt.Errorf("insert response on %s: %w", sub.SubmissionName, err)
	}
	response.ID = id
	return response, nil
}

// Responses returns the response forest of a submission.
func (s *Service) Responses(ctx context.Context, ref SubmissionRef) ([]*store.Response, error) {
	sub, err := s.findSubmission(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.threadsOf(ctx, sub)
}
