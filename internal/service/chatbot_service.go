// FILE: internal/service/chatbot_service.go
package service

import (
	"context"

	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/httpclient"
	"ai-notetaking-client/internal/usage"
)

type IChatbotService interface {
	CreateSession(ctx context.Context) (*dto.CreateSessionResponse, error)
	GetAllSessions(ctx context.Context) ([]dto.ChatSessionDTO, error)
	SendChat(ctx context.Context, req *dto.SendChatRequest) (*dto.SendChatResponse, error)
}

type chatbotService struct {
	client *httpclient.Client
	guard  usage.IUsageGuard
}

func NewChatbotService(client *httpclient.Client, guard usage.IUsageGuard) IChatbotService {
	return &chatbotService{client: client, guard: guard}
}

func (s *chatbotService) CreateSession(ctx context.Context) (*dto.CreateSessionResponse, error) {
	res, err := httpclient.Post[dto.CreateSessionResponse](ctx, s.client, "/chatbot/v1/create-session", nil)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *chatbotService) GetAllSessions(ctx context.Context) ([]dto.ChatSessionDTO, error) {
	return httpclient.Get[[]dto.ChatSessionDTO](ctx, s.client, "/chatbot/v1/sessions", nil)
}

// SendChat spends one unit of the daily AI chat quota.
func (s *chatbotService) SendChat(ctx context.Context, req *dto.SendChatRequest) (*dto.SendChatResponse, error) {
	var res dto.SendChatResponse
	err := s.guard.Run(ctx, dto.LimitTypeAiChat, func(ctx context.Context) error {
		var err error
		res, err = httpclient.Post[dto.SendChatResponse](ctx, s.client, "/chatbot/v1/send-chat", req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
