// FILE: internal/service/notebook_service.go
package service

import (
	"context"

	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/httpclient"
	"ai-notetaking-client/internal/usage"

	"github.com/google/uuid"
)

type INotebookService interface {
	GetAll(ctx context.Context) ([]dto.NotebookResponse, error)
	Create(ctx context.Context, req *dto.CreateNotebookRequest) (*dto.CreateNotebookResponse, error)
	Show(ctx context.Context, id uuid.UUID) (*dto.NotebookResponse, error)
	Update(ctx context.Context, id uuid.UUID, req *dto.UpdateNotebookRequest) (*dto.NotebookResponse, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type notebookService struct {
	client *httpclient.Client
	guard  usage.IUsageGuard
}

func NewNotebookService(client *httpclient.Client, guard usage.IUsageGuard) INotebookService {
	return &notebookService{client: client, guard: guard}
}

func notebookPath(id uuid.UUID) string {
	return "/notebook/v1/" + id.String()
}

func (s *notebookService) GetAll(ctx context.Context) ([]dto.NotebookResponse, error) {
	return httpclient.Get[[]dto.NotebookResponse](ctx, s.client, "/notebook/v1", nil)
}

// Create is gated on the notebooks quota.
func (s *notebookService) Create(ctx context.Context, req *dto.CreateNotebookRequest) (*dto.CreateNotebookResponse, error) {
	var res dto.CreateNotebookResponse
	err := s.guard.Run(ctx, dto.LimitTypeNotebooks, func(ctx context.Context) error {
		var err error
		res, err = httpclient.Post[dto.CreateNotebookResponse](ctx, s.client, "/notebook/v1", req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *notebookService) Show(ctx context.Context, id uuid.UUID) (*dto.NotebookResponse, error) {
	res, err := httpclient.Get[dto.NotebookResponse](ctx, s.client, notebookPath(id), nil)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *notebookService) Update(ctx context.Context, id uuid.UUID, req *dto.UpdateNotebookRequest) (*dto.NotebookResponse, error) {
	res, err := httpclient.Put[dto.NotebookResponse](ctx, s.client, notebookPath(id), req)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *notebookService) Delete(ctx context.Context, id uuid.UUID) error {
	return httpclient.Delete(ctx, s.client, notebookPath(id))
}
