// FILE: internal/service/note_service.go
package service

import (
	"context"
	"net/url"

	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/httpclient"
	"ai-notetaking-client/internal/usage"

	"github.com/google/uuid"
)

type INoteService interface {
	Create(ctx context.Context, req *dto.CreateNoteRequest) (*dto.CreateNoteResponse, error)
	Show(ctx context.Context, id uuid.UUID) (*dto.NoteResponse, error)
	Update(ctx context.Context, id uuid.UUID, req *dto.UpdateNoteRequest) (*dto.NoteResponse, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SemanticSearch(ctx context.Context, query string) ([]dto.SemanticSearchResponse, error)
}

type noteService struct {
	client *httpclient.Client
	guard  usage.IUsageGuard
}

func NewNoteService(client *httpclient.Client, guard usage.IUsageGuard) INoteService {
	return &noteService{client: client, guard: guard}
}

func notePath(id uuid.UUID) string {
	return "/note/v1/" + id.String()
}

func (s *noteService) Create(ctx context.Context, req *dto.CreateNoteRequest) (*dto.CreateNoteResponse, error) {
	var res dto.CreateNoteResponse
	err := s.guard.Run(ctx, dto.LimitTypeNotes, func(ctx context.Context) error {
		var err error
		res, err = httpclient.Post[dto.CreateNoteResponse](ctx, s.client, "/note/v1", req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *noteService) Show(ctx context.Context, id uuid.UUID) (*dto.NoteResponse, error) {
	res, err := httpclient.Get[dto.NoteResponse](ctx, s.client, notePath(id), nil)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *noteService) Update(ctx context.Context, id uuid.UUID, req *dto.UpdateNoteRequest) (*dto.NoteResponse, error) {
	res, err := httpclient.Put[dto.NoteResponse](ctx, s.client, notePath(id), req)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *noteService) Delete(ctx context.Context, id uuid.UUID) error {
	return httpclient.Delete(ctx, s.client, notePath(id))
}

func (s *noteService) SemanticSearch(ctx context.Context, query string) ([]dto.SemanticSearchResponse, error) {
	var res []dto.SemanticSearchResponse
	err := s.guard.Run(ctx, dto.LimitTypeSemanticSearch, func(ctx context.Context) error {
		var err error
		res, err = httpclient.Get[[]dto.SemanticSearchResponse](ctx, s.client, "/note/v1/semantic-search", url.Values{"q": {query}})
		return err
	})
	return res, err
}
