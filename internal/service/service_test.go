package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-notetaking-client/internal/apierror"
	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/httpclient"
	"ai-notetaking-client/internal/pkg/logger"
	"ai-notetaking-client/internal/signals"
	"ai-notetaking-client/internal/tokenstore"
	"ai-notetaking-client/internal/usage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRealtime struct {
	connects    atomic.Int32
	disconnects atomic.Int32
}

func (f *fakeRealtime) Connect(ctx context.Context) error {
	f.connects.Add(1)
	return nil
}

func (f *fakeRealtime) Disconnect() {
	f.disconnects.Add(1)
}

type harness struct {
	mux      *http.ServeMux
	store    *tokenstore.MemoryStore
	bus      *signals.Bus
	client   *httpclient.Client
	guard    *usage.Guard
	realtime *fakeRealtime
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := tokenstore.NewMemoryStore()
	bus := signals.NewBus(logger.NewNopLogger())
	t.Cleanup(func() { _ = bus.Close() })
	client := httpclient.NewClient(httpclient.Options{
		BaseURL:        srv.URL + "/api",
		RetryCount:     0,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
		Timeout:        5 * time.Second,
		Store:          store,
		Bus:            bus,
	})
	return &harness{
		mux:      mux,
		store:    store,
		bus:      bus,
		client:   client,
		guard:    usage.NewGuard(client, bus, logger.NewNopLogger()),
		realtime: &fakeRealtime{},
	}
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginStoresSession(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	requests := make(chan dto.LoginRequest, 1)
	h.mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req dto.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		requests <- req
		reply(w, http.StatusOK, dto.SuccessResponse("Login successful", dto.LoginResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			User:         dto.UserDTO{Id: userID, Email: "ana@example.com", FullName: "Ana", Role: "user"},
		}))
	})
	auth := NewAuthService(h.client, h.store, h.realtime, logger.NewNopLogger())
	ctx := context.Background()

	res, err := auth.Login(ctx, &dto.LoginRequest{Email: "ana@example.com", Password: "secret123", RememberMe: true})

	require.NoError(t, err)
	assert.Equal(t, "access-1", res.AccessToken)
	assert.True(t, (<-requests).RememberMe)
	assert.True(t, auth.IsAuthenticated(ctx))
	cred, err := h.store.GetCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
	user, err := auth.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, userID, user.Id)
}

func TestLogoutClearsSessionEvenWhenServerFails(t *testing.T) {
	h := newHarness(t)
	var revoked atomic.Value
	h.mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		var req dto.LogoutRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		revoked.Store(req.RefreshToken)
		reply(w, http.StatusInternalServerError, dto.NewErrorResponse(500, "Failed to logout"))
	})
	auth := NewAuthService(h.client, h.store, h.realtime, logger.NewNopLogger())
	ctx := context.Background()
	require.NoError(t, h.store.SetCredential(ctx, tokenstore.NewCredential("access-1", "refresh-1")))

	err := auth.Logout(ctx)

	assert.Equal(t, apierror.KindAPI, apierror.KindOf(err))
	assert.Equal(t, "refresh-1", revoked.Load())
	assert.EqualValues(t, 1, h.realtime.disconnects.Load())
	assert.False(t, auth.IsAuthenticated(ctx))
}

func TestQuotaGatedCreateNeverReachesServer(t *testing.T) {
	h := newHarness(t)
	var creates atomic.Int32
	h.mux.HandleFunc("/api/user/usage-status", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, dto.SuccessResponse("ok", dto.UsageStatusResponse{
			Storage: dto.StorageLimits{
				Notebooks: dto.UsageLimit{Used: 3, Limit: 3, CanUse: false},
				Notes:     dto.UsageLimit{Used: 1, Limit: 10, CanUse: true},
			},
		}))
	})
	h.mux.HandleFunc("/api/notebook/v1", func(w http.ResponseWriter, r *http.Request) {
		creates.Add(1)
		reply(w, http.StatusCreated, dto.SuccessResponse("ok", dto.CreateNotebookResponse{Id: uuid.New()}))
	})
	h.mux.HandleFunc("/api/note/v1", func(w http.ResponseWriter, r *http.Request) {
		creates.Add(1)
		reply(w, http.StatusCreated, dto.SuccessResponse("ok", dto.CreateNoteResponse{Id: uuid.New()}))
	})

	var mu sync.Mutex
	var prompts []string
	unsubscribe, err := signals.Subscribe(h.bus, signals.UpgradeRequiredTopic, func(s signals.UpgradeRequired) {
		mu.Lock()
		prompts = append(prompts, s.FeatureName)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsubscribe()

	ctx := context.Background()
	_, err = NewNotebookService(h.client, h.guard).Create(ctx, &dto.CreateNotebookRequest{Name: "Inbox"})
	assert.ErrorIs(t, err, usage.ErrLimitReached)
	assert.EqualValues(t, 0, creates.Load())

	note, err := NewNoteService(h.client, h.guard).Create(ctx, &dto.CreateNoteRequest{Title: "t", NotebookId: uuid.New()})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, note.Id)
	assert.EqualValues(t, 1, creates.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{dto.LimitTypeNotebooks}, prompts)
}

func TestNotificationEndpoints(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	var marked atomic.Value
	h.mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		reply(w, http.StatusOK, dto.SuccessResponse("ok", dto.NotificationPage{
			Data:  []dto.NotificationResponse{{ID: id, TypeCode: "NOTE_SHARED", Title: "Note shared"}},
			Total: 11,
			Page:  3,
			Limit: 5,
		}))
	})
	h.mux.HandleFunc("/api/notifications/unread-count", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, dto.SuccessResponse("ok", dto.UnreadCountResponse{Count: 4}))
	})
	h.mux.HandleFunc("/api/notifications/"+id.String()+"/read", func(w http.ResponseWriter, r *http.Request) {
		marked.Store(r.Method)
		reply(w, http.StatusOK, dto.SuccessResponse[any]("ok", nil))
	})
	svc := NewNotificationService(h.client, h.bus)
	ctx := context.Background()

	page, err := svc.GetNotifications(ctx, 5, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 11, page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Note shared", page.Data[0].Title)

	count, err := svc.GetUnreadCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)

	require.NoError(t, svc.MarkAsRead(ctx, id))
	assert.Equal(t, http.MethodPatch, marked.Load())
}

func TestOpenPanelPublishesSignal(t *testing.T) {
	h := newHarness(t)
	var got []signals.OpenNotificationPanel
	unsubscribe, err := signals.Subscribe(h.bus, signals.OpenNotificationPanelTopic, func(s signals.OpenNotificationPanel) {
		got = append(got, s)
	})
	require.NoError(t, err)
	defer unsubscribe()

	id := uuid.New()
	require.NoError(t, NewNotificationService(h.client, h.bus).OpenPanel(context.Background(), &id))

	require.Len(t, got, 1)
	assert.Equal(t, id.String(), got[0].NotificationID)
}
