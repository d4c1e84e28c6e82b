package devserver

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"ai-notetaking-client/internal/dto"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	errNotFound     = errors.New("not found")
	errEmailTaken   = errors.New("email already registered")
	errLimitReached = errors.New("limit reached")
)

// Plan holds the quotas of every account. -1 means unlimited, 0 disabled.
type Plan struct {
	Id                  uuid.UUID
	Name                string
	Slug                string
	MaxNotebooks        int
	MaxNotes            int
	AiChatDaily         int
	SemanticSearchDaily int
}

func FreePlan() Plan {
	return Plan{
		Id:                  uuid.MustParse("00000000-0000-0000-0000-0000000000f1"),
		Name:                "Free",
		Slug:                "free",
		MaxNotebooks:        3,
		MaxNotes:            10,
		AiChatDaily:         5,
		SemanticSearchDaily: 5,
	}
}

type user struct {
	Id           uuid.UUID
	Email        string
	FullName     string
	PasswordHash []byte
	Role         string
	CreatedAt    time.Time

	// Daily counters are reset on the first read of a new calendar day.
	AiDailyUsage             int
	SemanticSearchDailyUsage int
	DailyUsageLastReset      time.Time
	AiDailyLimitOverride     *int

	// AccessEpoch invalidates every access token issued with an older value.
	AccessEpoch int
}

type notebook struct {
	Id        uuid.UUID
	UserId    uuid.UUID
	Name      string
	ParentId  *uuid.UUID
	CreatedAt time.Time
	UpdatedAt *time.Time
}

type note struct {
	Id         uuid.UUID
	UserId     uuid.UUID
	NotebookId uuid.UUID
	Title      string
	Content    string
	CreatedAt  time.Time
	UpdatedAt  *time.Time
}

type chatSession struct {
	Id        uuid.UUID
	UserId    uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// state is the whole backend: users, content, sessions and notifications.
type state struct {
	mu            sync.Mutex
	plan          Plan
	now           func() time.Time
	users         map[uuid.UUID]*user
	usersByEmail  map[string]uuid.UUID
	refreshTokens map[string]uuid.UUID
	notebooks     map[uuid.UUID]*notebook
	notes         map[uuid.UUID]*note
	sessions      map[uuid.UUID]*chatSession
	notifications map[uuid.UUID][]*dto.NotificationResponse
}

func newState(plan Plan) *state {
	return &state{
		plan:          plan,
		now:           time.Now,
		users:         make(map[uuid.UUID]*user),
		usersByEmail:  make(map[string]uuid.UUID),
		refreshTokens: make(map[string]uuid.UUID),
		notebooks:     make(map[uuid.UUID]*notebook),
		notes:         make(map[uuid.UUID]*note),
		sessions:      make(map[uuid.UUID]*chatSession),
		notifications: make(map[uuid.UUID][]*dto.NotificationResponse),
	}
}

func (s *state) register(req *dto.RegisterRequest) (*user, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, exists := s.usersByEmail[email]; exists {
		return nil, errEmailTaken
	}
	u := &user{
		Id:                  uuid.New(),
		Email:               email,
		FullName:            req.FullName,
		PasswordHash:        hash,
		Role:                "user",
		CreatedAt:           s.now(),
		DailyUsageLastReset: s.now(),
	}
	s.users[u.Id] = u
	s.usersByEmail[email] = u.Id
	return u, nil
}

// authenticate returns errNotFound for an unknown email and
// bcrypt.ErrMismatchedHashAndPassword for a wrong password.
func (s *state) authenticate(email, password string) (user, error) {
	s.mu.Lock()
	id, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	var u user
	if ok {
		u = *s.users[id]
	}
	s.mu.Unlock()

	if !ok {
		return user{}, errNotFound
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return user{}, err
	}
	return u, nil
}

func (s *state) userByID(id uuid.UUID) (user, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return user{}, errNotFound
	}
	return *u, nil
}

func (s *state) updateProfile(id uuid.UUID, req *dto.UpdateProfileRequest) (user, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return user{}, errNotFound
	}
	u.FullName = req.FullName
	if req.Email != "" {
		email := strings.ToLower(req.Email)
		if other, taken := s.usersByEmail[email]; taken && other != id {
			return user{}, errEmailTaken
		}
		delete(s.usersByEmail, u.Email)
		u.Email = email
		s.usersByEmail[email] = id
	}
	return *u, nil
}

// bumpAccessEpoch makes every outstanding access token of the user invalid.
// A zero id bumps all users.
func (s *state) bumpAccessEpoch(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uid, u := range s.users {
		if id == uuid.Nil || uid == id {
			u.AccessEpoch++
		}
	}
}

func (s *state) accessEpoch(id uuid.UUID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return 0, false
	}
	return u.AccessEpoch, true
}

func (s *state) issueRefreshToken(userID uuid.UUID) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.refreshTokens[token] = userID
	s.mu.Unlock()
	return token
}

// rotateRefreshToken consumes token and returns its owner and a new token.
func (s *state) rotateRefreshToken(token string) (uuid.UUID, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.refreshTokens[token]
	if !ok {
		return uuid.Nil, "", errNotFound
	}
	delete(s.refreshTokens, token)
	next := uuid.NewString()
	s.refreshTokens[next] = userID
	return userID, next, nil
}

func (s *state) revokeRefreshToken(token string) {
	s.mu.Lock()
	delete(s.refreshTokens, token)
	s.mu.Unlock()
}

func (s *state) revokeAllRefreshTokens() {
	s.mu.Lock()
	s.refreshTokens = make(map[string]uuid.UUID)
	s.mu.Unlock()
}

// Usage

// resetDailyUsageLocked zeroes the daily counters when the last reset was
// on a different calendar day.
func (s *state) resetDailyUsageLocked(u *user) {
	now := s.now()
	last := u.DailyUsageLastReset
	if now.Year() != last.Year() || now.Month() != last.Month() || now.Day() != last.Day() {
		u.AiDailyUsage = 0
		u.SemanticSearchDailyUsage = 0
		u.DailyUsageLastReset = now
	}
}

func (s *state) usageStatus(userID uuid.UUID) (*dto.UsageStatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, errNotFound
	}
	s.resetDailyUsageLocked(u)

	notebookCount, noteCount := s.countContentLocked(userID)
	now := s.now()
	resetTime := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	aiLimit := getEffectiveLimit(s.plan.AiChatDaily, u.AiDailyLimitOverride)

	return &dto.UsageStatusResponse{
		Plan: dto.PlanInfo{
			Id:   s.plan.Id,
			Name: s.plan.Name,
			Slug: s.plan.Slug,
		},
		Storage: dto.StorageLimits{
			Notebooks: dto.UsageLimit{
				Used:   notebookCount,
				Limit:  s.plan.MaxNotebooks,
				CanUse: canUseLimit(notebookCount, s.plan.MaxNotebooks),
			},
			Notes: dto.UsageLimit{
				Used:   noteCount,
				Limit:  s.plan.MaxNotes,
				CanUse: canUseLimit(noteCount, s.plan.MaxNotes),
			},
		},
		Daily: dto.DailyLimits{
			AiChat: dto.UsageLimit{
				Used:     u.AiDailyUsage,
				Limit:    aiLimit,
				CanUse:   canUseLimit(u.AiDailyUsage, aiLimit),
				ResetsAt: &resetTime,
			},
			SemanticSearch: dto.UsageLimit{
				Used:     u.SemanticSearchDailyUsage,
				Limit:    s.plan.SemanticSearchDaily,
				CanUse:   canUseLimit(u.SemanticSearchDailyUsage, s.plan.SemanticSearchDaily),
				ResetsAt: &resetTime,
			},
		},
		UpgradeAvailable: s.plan.Slug == "free",
	}, nil
}

func (s *state) countContentLocked(userID uuid.UUID) (notebooks, notes int) {
	for _, nb := range s.notebooks {
		if nb.UserId == userID {
			notebooks++
		}
	}
	for _, n := range s.notes {
		if n.UserId == userID {
			notes++
		}
	}
	return notebooks, notes
}

// consumeDaily counts one use of a daily quota, or fails with errLimitReached.
func (s *state) consumeDaily(userID uuid.UUID, feature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return errNotFound
	}
	s.resetDailyUsageLocked(u)

	switch feature {
	case dto.LimitTypeAiChat:
		if !canUseLimit(u.AiDailyUsage, getEffectiveLimit(s.plan.AiChatDaily, u.AiDailyLimitOverride)) {
			return errLimitReached
		}
		u.AiDailyUsage++
	case dto.LimitTypeSemanticSearch:
		if !canUseLimit(u.SemanticSearchDailyUsage, s.plan.SemanticSearchDaily) {
			return errLimitReached
		}
		u.SemanticSearchDailyUsage++
	}
	return nil
}

func getEffectiveLimit(planLimit int, override *int) int {
	if override != nil {
		return *override
	}
	return planLimit
}

func canUseLimit(used int, limit int) bool {
	if limit < 0 {
		return true
	}
	return used < limit
}

// Notebooks and notes

func (s *state) createNotebook(userID uuid.UUID, req *dto.CreateNotebookRequest) (*notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, _ := s.countContentLocked(userID)
	if !canUseLimit(count, s.plan.MaxNotebooks) {
		return nil, errLimitReached
	}
	if req.ParentId != nil {
		if parent, ok := s.notebooks[*req.ParentId]; !ok || parent.UserId != userID {
			return nil, errNotFound
		}
	}
	nb := &notebook{
		Id:        uuid.New(),
		UserId:    userID,
		Name:      req.Name,
		ParentId:  req.ParentId,
		CreatedAt: s.now(),
	}
	s.notebooks[nb.Id] = nb
	return nb, nil
}

func (s *state) listNotebooks(userID uuid.UUID) []dto.NotebookResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]dto.NotebookResponse, 0)
	for _, nb := range s.notebooks {
		if nb.UserId == userID {
			res = append(res, s.notebookResponseLocked(nb))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res
}

func (s *state) showNotebook(userID, id uuid.UUID) (dto.NotebookResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, ok := s.notebooks[id]
	if !ok || nb.UserId != userID {
		return dto.NotebookResponse{}, errNotFound
	}
	return s.notebookResponseLocked(nb), nil
}

func (s *state) updateNotebook(userID, id uuid.UUID, req *dto.UpdateNotebookRequest) (dto.NotebookResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, ok := s.notebooks[id]
	if !ok || nb.UserId != userID {
		return dto.NotebookResponse{}, errNotFound
	}
	now := s.now()
	nb.Name = req.Name
	nb.UpdatedAt = &now
	return s.notebookResponseLocked(nb), nil
}

// deleteNotebook removes the notebook and its notes.
func (s *state) deleteNotebook(userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, ok := s.notebooks[id]
	if !ok || nb.UserId != userID {
		return errNotFound
	}
	delete(s.notebooks, id)
	for noteID, n := range s.notes {
		if n.NotebookId == id {
			delete(s.notes, noteID)
		}
	}
	return nil
}

func (s *state) notebookResponseLocked(nb *notebook) dto.NotebookResponse {
	res := dto.NotebookResponse{
		Id:        nb.Id,
		Name:      nb.Name,
		ParentId:  nb.ParentId,
		CreatedAt: nb.CreatedAt,
		UpdatedAt: nb.UpdatedAt,
	}
	for _, n := range s.notes {
		if n.NotebookId == nb.Id {
			res.Notes = append(res.Notes, noteResponse(n))
		}
	}
	sort.Slice(res.Notes, func(i, j int) bool { return res.Notes[i].CreatedAt.Before(res.Notes[j].CreatedAt) })
	return res
}

func (s *state) createNote(userID uuid.UUID, req *dto.CreateNoteRequest) (*note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, count := s.countContentLocked(userID)
	if !canUseLimit(count, s.plan.MaxNotes) {
		return nil, errLimitReached
	}
	nb, ok := s.notebooks[req.NotebookId]
	if !ok || nb.UserId != userID {
		return nil, errNotFound
	}
	n := &note{
		Id:         uuid.New(),
		UserId:     userID,
		NotebookId: req.NotebookId,
		Title:      req.Title,
		Content:    req.Content,
		CreatedAt:  s.now(),
	}
	s.notes[n.Id] = n
	return n, nil
}

func (s *state) showNote(userID, id uuid.UUID) (dto.NoteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok || n.UserId != userID {
		return dto.NoteResponse{}, errNotFound
	}
	return noteResponse(n), nil
}

func (s *state) updateNote(userID, id uuid.UUID, req *dto.UpdateNoteRequest) (dto.NoteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok || n.UserId != userID {
		return dto.NoteResponse{}, errNotFound
	}
	now := s.now()
	n.Title = req.Title
	n.Content = req.Content
	n.UpdatedAt = &now
	return noteResponse(n), nil
}

func (s *state) deleteNote(userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok || n.UserId != userID {
		return errNotFound
	}
	delete(s.notes, id)
	return nil
}

// searchNotes is a literal, case-insensitive match over title and content.
func (s *state) searchNotes(userID uuid.UUID, query string) []dto.SemanticSearchResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	res := make([]dto.SemanticSearchResponse, 0)
	for _, n := range s.notes {
		if n.UserId != userID {
			continue
		}
		title, content := strings.ToLower(n.Title), strings.ToLower(n.Content)
		if q == "" || (!strings.Contains(title, q) && !strings.Contains(content, q)) {
			continue
		}
		score := 0.5
		if strings.Contains(title, q) {
			score = 1
		}
		res = append(res, dto.SemanticSearchResponse{
			Id:             n.Id,
			Title:          n.Title,
			Content:        n.Content,
			NotebookId:     n.NotebookId,
			SearchType:     "literal",
			RelevanceScore: &score,
		})
	}
	sort.Slice(res, func(i, j int) bool { return *res[i].RelevanceScore > *res[j].RelevanceScore })
	return res
}

func noteResponse(n *note) dto.NoteResponse {
	return dto.NoteResponse{
		Id:         n.Id,
		Title:      n.Title,
		Content:    n.Content,
		NotebookId: n.NotebookId,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}

// Chat sessions

func (s *state) createSession(userID uuid.UUID) *chatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := &chatSession{Id: uuid.New(), UserId: userID, Title: "New chat", CreatedAt: s.now()}
	s.sessions[cs.Id] = cs
	return cs
}

func (s *state) listSessions(userID uuid.UUID) []dto.ChatSessionDTO {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]dto.ChatSessionDTO, 0)
	for _, cs := range s.sessions {
		if cs.UserId == userID {
			res = append(res, dto.ChatSessionDTO{Id: cs.Id, Title: cs.Title, CreatedAt: cs.CreatedAt, UpdatedAt: cs.UpdatedAt})
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res
}

// touchSession titles a fresh session after its first message.
func (s *state) touchSession(userID, id uuid.UUID, firstMessage string) (*chatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[id]
	if !ok || cs.UserId != userID {
		return nil, errNotFound
	}
	now := s.now()
	if cs.UpdatedAt == nil {
		title := firstMessage
		if len(title) > 40 {
			title = title[:40]
		}
		cs.Title = title
	}
	cs.UpdatedAt = &now
	copied := *cs
	return &copied, nil
}

// Notifications

func (s *state) addNotification(userID uuid.UUID, typeCode, title, message string, metadata map[string]interface{}) dto.NotificationResponse {
	var raw json.RawMessage
	if len(metadata) > 0 {
		raw, _ = json.Marshal(metadata)
	}
	n := &dto.NotificationResponse{
		ID:        uuid.New(),
		UserID:    userID,
		TypeCode:  typeCode,
		Title:     title,
		Message:   message,
		Metadata:  raw,
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.notifications[userID] = append(s.notifications[userID], n)
	s.mu.Unlock()
	return *n
}

// listNotifications returns newest first.
func (s *state) listNotifications(userID uuid.UUID, limit, offset int) ([]dto.NotificationResponse, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.notifications[userID]
	total := int64(len(all))
	res := make([]dto.NotificationResponse, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(res) < limit; i-- {
		res = append(res, *all[i])
	}
	return res, total
}

func (s *state) unreadCount(userID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.notifications[userID] {
		if !n.IsRead {
			count++
		}
	}
	return count
}

func (s *state) markAsRead(userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications[userID] {
		if n.ID == id {
			if !n.IsRead {
				now := s.now()
				n.IsRead = true
				n.ReadAt = &now
			}
			return nil
		}
	}
	return errNotFound
}

func (s *state) markAllAsRead(userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, n := range s.notifications[userID] {
		if !n.IsRead {
			n.IsRead = true
			n.ReadAt = &now
		}
	}
}
