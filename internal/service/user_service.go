// FILE: internal/service/user_service.go
package service

import (
	"context"

	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/httpclient"
	"ai-notetaking-client/internal/usage"
)

type IUserService interface {
	GetProfile(ctx context.Context) (*dto.UserProfileResponse, error)
	UpdateProfile(ctx context.Context, req *dto.UpdateProfileRequest) (*dto.UserProfileResponse, error)
	GetUsageStatus(ctx context.Context) (*dto.UsageStatusResponse, error)
}

type userService struct {
	client *httpclient.Client
	guard  usage.IUsageGuard
}

func NewUserService(client *httpclient.Client, guard usage.IUsageGuard) IUserService {
	return &userService{client: client, guard: guard}
}

func (s *userService) GetProfile(ctx context.Context) (*dto.UserProfileResponse, error) {
	res, err := httpclient.Get[dto.UserProfileResponse](ctx, s.client, "/user/profile", nil)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *userService) UpdateProfile(ctx context.Context, req *dto.UpdateProfileRequest) (*dto.UserProfileResponse, error) {
	res, err := httpclient.Put[dto.UserProfileResponse](ctx, s.client, "/user/profile", req)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetUsageStatus is always a fresh read.
func (s *userService) GetUsageStatus(ctx context.Context) (*dto.UsageStatusResponse, error) {
	return s.guard.Fetch(ctx)
}
