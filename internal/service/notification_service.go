// FILE: internal/service/notification_service.go
package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/httpclient"
	"ai-notetaking-client/internal/signals"

	"github.com/google/uuid"
)

type INotificationService interface {
	GetNotifications(ctx context.Context, limit, offset int) (*dto.NotificationPage, error)
	GetUnreadCount(ctx context.Context) (int64, error)
	MarkAsRead(ctx context.Context, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context) error
	OpenPanel(ctx context.Context, notificationID *uuid.UUID) error
}

type notificationService struct {
	client *httpclient.Client
	bus    *signals.Bus
}

func NewNotificationService(client *httpclient.Client, bus *signals.Bus) INotificationService {
	return &notificationService{client: client, bus: bus}
}

func (s *notificationService) GetNotifications(ctx context.Context, limit, offset int) (*dto.NotificationPage, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	res, err := httpclient.Get[dto.NotificationPage](ctx, s.client, "/notifications", query)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *notificationService) GetUnreadCount(ctx context.Context) (int64, error) {
	res, err := httpclient.Get[dto.UnreadCountResponse](ctx, s.client, "/notifications/unread-count", nil)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (s *notificationService) MarkAsRead(ctx context.Context, id uuid.UUID) error {
	return s.client.Do(ctx, httpclient.Request{
		Method: http.MethodPatch,
		Path:   "/notifications/" + id.String() + "/read",
	}, nil)
}

func (s *notificationService) MarkAllAsRead(ctx context.Context) error {
	return s.client.Do(ctx, httpclient.Request{
		Method: http.MethodPatch,
		Path:   "/notifications/read-all",
	}, nil)
}

// OpenPanel asks whatever renders notifications to show its panel.
func (s *notificationService) OpenPanel(ctx context.Context, notificationID *uuid.UUID) error {
	signal := signals.OpenNotificationPanel{}
	if notificationID != nil {
		signal.NotificationID = notificationID.String()
	}
	return signals.Publish(ctx, s.bus, signals.OpenNotificationPanelTopic, signal)
}
