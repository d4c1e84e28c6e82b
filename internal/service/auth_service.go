// FILE: internal/service/auth_service.go
package service

import (
	"context"
	"net/http"

	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/httpclient"
	"ai-notetaking-client/internal/pkg/logger"
	"ai-notetaking-client/internal/tokenstore"
)

// RealtimeSession is the part of the push channel that follows the session.
type RealtimeSession interface {
	Connect(ctx context.Context) error
	Disconnect()
}

type IAuthService interface {
	Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error)
	Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error)
	Logout(ctx context.Context) error
	CurrentUser(ctx context.Context) (*dto.UserDTO, error)
	IsAuthenticated(ctx context.Context) bool
}

type authService struct {
	client   *httpclient.Client
	store    tokenstore.TokenStore
	realtime RealtimeSession
	logger   logger.ILogger
}

func NewAuthService(client *httpclient.Client, store tokenstore.TokenStore, realtime RealtimeSession, log logger.ILogger) IAuthService {
	return &authService{
		client:   client,
		store:    store,
		realtime: realtime,
		logger:   log,
	}
}

func (s *authService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	res, err := httpclient.Send[dto.RegisterResponse](ctx, s.client, httpclient.Request{
		Method:          http.MethodPost,
		Path:            "/auth/register",
		Body:            req,
		SkipAuthRefresh: true,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *authService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	// 1. Authenticate; a 401 here is bad credentials, not an expired session
	res, err := httpclient.Send[dto.LoginResponse](ctx, s.client, httpclient.Request{
		Method:          http.MethodPost,
		Path:            "/auth/login",
		Body:            req,
		SkipAuthRefresh: true,
	})
	if err != nil {
		return nil, err
	}

	// 2. Persist session
	if err := s.store.SetCredential(ctx, tokenstore.NewCredential(res.AccessToken, res.RefreshToken)); err != nil {
		return nil, err
	}
	user := res.User
	if err := s.store.SetUser(ctx, &user); err != nil {
		return nil, err
	}

	s.logger.Info("AUTH", "Logged in", map[string]interface{}{
		"user_id":     res.User.Id.String(),
		"remember_me": req.RememberMe,
	})
	return &res, nil
}

// Logout revokes the refresh token when there is one, closes the push
// channel and clears the store. The local session is gone even if the
// server call fails.
func (s *authService) Logout(ctx context.Context) error {
	var serverErr error
	if cred, err := s.store.GetCredential(ctx); err == nil {
		serverErr = s.client.Do(ctx, httpclient.Request{
			Method:          http.MethodPost,
			Path:            "/auth/logout",
			Body:            dto.LogoutRequest{RefreshToken: cred.RefreshToken},
			SkipAuthRefresh: true,
		}, nil)
		if serverErr != nil {
			s.logger.Warn("AUTH", "Server logout failed", map[string]interface{}{
				"error": serverErr.Error(),
			})
		}
	}

	if s.realtime != nil {
		s.realtime.Disconnect()
	}
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	return serverErr
}

func (s *authService) CurrentUser(ctx context.Context) (*dto.UserDTO, error) {
	return s.store.GetUser(ctx)
}

func (s *authService) IsAuthenticated(ctx context.Context) bool {
	return tokenstore.AccessToken(ctx, s.store) != ""
}
