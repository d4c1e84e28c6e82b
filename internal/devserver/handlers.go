package devserver

import (
	"errors"
	"fmt"
	"time"

	"ai-notetaking-client/internal/dto"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// User

func (s *Server) registerUserRoutes(r fiber.Router) {
	h := r.Group("/user")
	h.Use(s.jwtMiddleware)
	h.Get("/profile", s.getProfile)
	h.Put("/profile", s.updateProfile)
	h.Get("/usage-status", s.getUsageStatus)
}

func profileResponse(u user) dto.UserProfileResponse {
	return dto.UserProfileResponse{
		Id:           u.Id,
		Email:        u.Email,
		FullName:     u.FullName,
		Role:         u.Role,
		Status:       "active",
		AiDailyUsage: u.AiDailyUsage,
		CreatedAt:    u.CreatedAt,
	}
}

func (s *Server) getProfile(ctx *fiber.Ctx) error {
	u, err := s.state.userByID(currentUserID(ctx))
	if err != nil {
		return notFound("User not found")
	}
	return ctx.JSON(dto.SuccessResponse("Success get profile", profileResponse(u)))
}

func (s *Server) updateProfile(ctx *fiber.Ctx) error {
	var req dto.UpdateProfileRequest
	if err := s.parseAndValidate(ctx, &req); err != nil {
		return err
	}
	u, err := s.state.updateProfile(currentUserID(ctx), &req)
	switch {
	case errors.Is(err, errEmailTaken):
		return validationFailed(map[string][]string{"email": {"Email is already registered"}})
	case err != nil:
		return notFound("User not found")
	}
	return ctx.JSON(dto.SuccessResponse("Success update profile", profileResponse(u)))
}

func (s *Server) getUsageStatus(ctx *fiber.Ctx) error {
	res, err := s.state.usageStatus(currentUserID(ctx))
	if err != nil {
		return notFound("User not found")
	}
	return ctx.JSON(dto.SuccessResponse("Success get usage status", res))
}

// Notebooks

func (s *Server) registerNotebookRoutes(r fiber.Router) {
	h := r.Group("/notebook/v1")
	h.Use(s.jwtMiddleware)
	h.Get("", s.getAllNotebooks)
	h.Post("", s.createNotebook)
	h.Get(":id", s.showNotebook)
	h.Put(":id", s.updateNotebook)
	h.Delete(":id", s.deleteNotebook)
}

func (s *Server) getAllNotebooks(ctx *fiber.Ctx) error {
	return ctx.JSON(dto.SuccessResponse("Success get all notebook", s.state.listNotebooks(currentUserID(ctx))))
}

func (s *Server) createNotebook(ctx *fiber.Ctx) error {
	var req dto.CreateNotebookRequest
	if err := s.parseAndValidate(ctx, &req); err != nil {
		return err
	}

	nb, err := s.state.createNotebook(currentUserID(ctx), &req)
	switch {
	case errors.Is(err, errLimitReached):
		return limitReached(fmt.Sprintf("Notebook limit reached (%d). Upgrade your plan to create more.", s.state.plan.MaxNotebooks))
	case errors.Is(err, errNotFound):
		return notFound("Parent notebook not found")
	case err != nil:
		return err
	}
	return ctx.JSON(dto.SuccessResponse("Success create notebook", dto.CreateNotebookResponse{Id: nb.Id}))
}

func (s *Server) showNotebook(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	res, err := s.state.showNotebook(currentUserID(ctx), id)
	if err != nil {
		return notFound("Notebook not found")
	}
	return ctx.JSON(dto.SuccessResponse("Success show notebook", res))
}

func (s *Server) updateNotebook(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	var req dto.UpdateNotebookRequest
	if err := s.parseAndValidate(ctx, &req); err != nil {
		return err
	}
	res, err := s.state.updateNotebook(currentUserID(ctx), id, &req)
	if err != nil {
		return notFound("Notebook not found")
	}
	return ctx.JSON(dto.SuccessResponse("Success update notebook", res))
}

func (s *Server) deleteNotebook(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	if err := s.state.deleteNotebook(currentUserID(ctx), id); err != nil {
		return notFound("Notebook not found")
	}
	return ctx.JSON(dto.SuccessResponse[any]("Success delete notebook", nil))
}

// Notes

func (s *Server) registerNoteRoutes(r fiber.Router) {
	h := r.Group("/note/v1")
	h.Use(s.jwtMiddleware)
	h.Post("", s.createNote)
	h.Get("semantic-search", s.semanticSearch)
	h.Get(":id", s.showNote)
	h.Put(":id", s.updateNote)
	h.Delete(":id", s.deleteNote)
}

func (s *Server) createNote(ctx *fiber.Ctx) error {
	var req dto.CreateNoteRequest
	if err := s.parseAndValidate(ctx, &req); err != nil {
		return err
	}

	n, err := s.state.createNote(currentUserID(ctx), &req)
	switch {
	case errors.Is(err, errLimitReached):
		return limitReached(fmt.Sprintf("Note limit reached (%d). Upgrade your plan to create more.", s.state.plan.MaxNotes))
	case errors.Is(err, errNotFound):
		return notFound("Notebook not found")
	case err != nil:
		return err
	}
	s.emit(n.UserId, "NOTE_CREATED", map[string]string{"title": n.Title})
	return ctx.JSON(dto.SuccessResponse("Success create note", dto.CreateNoteResponse{Id: n.Id}))
}

func (s *Server) showNote(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	res, err := s.state.showNote(currentUserID(ctx), id)
	if err != nil {
		return notFound("Note not found")
	}
	return ctx.JSON(dto.SuccessResponse("Success show note", res))
}

func (s *Server) updateNote(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	var req dto.UpdateNoteRequest
	if err := s.parseAndValidate(ctx, &req); err != nil {
		return err
	}
	userID := currentUserID(ctx)
	res, err := s.state.updateNote(userID, id, &req)
	if err != nil {
		return notFound("Note not found")
	}
	s.emit(userID, "NOTE_UPDATED", map[string]string{"title": res.Title})
	return ctx.JSON(dto.SuccessResponse("Success update note", res))
}

func (s *Server) deleteNote(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	userID := currentUserID(ctx)
	deleted, err := s.state.showNote(userID, id)
	if err != nil {
		return notFound("Note not found")
	}
	if err := s.state.deleteNote(userID, id); err != nil {
		return notFound("Note not found")
	}
	s.emit(userID, "NOTE_DELETED", map[string]string{"title": deleted.Title})
	return ctx.JSON(dto.SuccessResponse[any]("Success delete note", nil))
}

func (s *Server) semanticSearch(ctx *fiber.Ctx) error {
	query := ctx.Query("q")
	if query == "" {
		return validationFailed(map[string][]string{"q": {"This field is required"}})
	}
	userID := currentUserID(ctx)
	if err := s.state.consumeDaily(userID, dto.LimitTypeSemanticSearch); err != nil {
		return limitReached("Daily semantic search limit reached. Upgrade your plan for more searches.")
	}
	return ctx.JSON(dto.SuccessResponse("Success semantic search", s.state.searchNotes(userID, query)))
}

// Chatbot

func (s *Server) registerChatbotRoutes(r fiber.Router) {
	h := r.Group("/chatbot/v1")
	h.Use(s.jwtMiddleware)
	h.Post("create-session", s.createSession)
	h.Get("sessions", s.getAllSessions)
	h.Post("send-chat", s.sendChat)
}

func (s *Server) createSession(ctx *fiber.Ctx) error {
	cs := s.state.createSession(currentUserID(ctx))
	return ctx.JSON(dto.SuccessResponse("Success create session", dto.CreateSessionResponse{Id: cs.Id}))
}

func (s *Server) getAllSessions(ctx *fiber.Ctx) error {
	return ctx.JSON(dto.SuccessResponse("Success get all sessions", s.state.listSessions(currentUserID(ctx))))
}

// sendChat answers with a canned reply; there is no model behind it.
func (s *Server) sendChat(ctx *fiber.Ctx) error {
	var req dto.SendChatRequest
	if err := s.parseAndValidate(ctx, &req); err != nil {
		return err
	}
	userID := currentUserID(ctx)
	if err := s.state.consumeDaily(userID, dto.LimitTypeAiChat); err != nil {
		return limitReached("Daily AI chat limit reached. Upgrade your plan for more messages.")
	}
	cs, err := s.state.touchSession(userID, req.ChatSessionId, req.Chat)
	if err != nil {
		return notFound("Chat session not found")
	}

	now := time.Now()
	return ctx.JSON(dto.SuccessResponse("Success send chat", dto.SendChatResponse{
		ChatSessionId:    cs.Id,
		ChatSessionTitle: cs.Title,
		Sent:             &dto.ChatMessageDTO{Id: uuid.New(), Chat: req.Chat, Role: "user", CreatedAt: now},
		Reply:            &dto.ChatMessageDTO{Id: uuid.New(), Chat: "You said: " + req.Chat, Role: "model", CreatedAt: now},
	}))
}

// Notifications

func (s *Server) registerNotificationRoutes(r fiber.Router) {
	notif := r.Group("/notifications")
	notif.Use(s.jwtMiddleware)
	notif.Get("/", s.getNotifications)
	notif.Get("/unread-count", s.getUnreadCount)
	notif.Patch("/read-all", s.markAllAsRead)
	notif.Patch("/:id/read", s.markAsRead)
}

func (s *Server) getNotifications(ctx *fiber.Ctx) error {
	limit := ctx.QueryInt("limit", 20)
	offset := ctx.QueryInt("offset", 0)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	items, total := s.state.listNotifications(currentUserID(ctx), limit, offset)
	return ctx.JSON(dto.SuccessResponse("Success get notifications", dto.NotificationPage{
		Data:  items,
		Total: total,
		Page:  offset/limit + 1,
		Limit: limit,
	}))
}

func (s *Server) getUnreadCount(ctx *fiber.Ctx) error {
	count := s.state.unreadCount(currentUserID(ctx))
	return ctx.JSON(dto.SuccessResponse("Success get unread count", dto.UnreadCountResponse{Count: count}))
}

func (s *Server) markAsRead(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	userID := currentUserID(ctx)
	if err := s.state.markAsRead(userID, id); err != nil {
		return notFound("Notification not found")
	}
	s.hub.SendUnreadCount(userID, s.state.unreadCount(userID))
	return ctx.JSON(dto.SuccessResponse[any]("Success mark as read", nil))
}

func (s *Server) markAllAsRead(ctx *fiber.Ctx) error {
	userID := currentUserID(ctx)
	s.state.markAllAsRead(userID)
	s.hub.SendUnreadCount(userID, 0)
	return ctx.JSON(dto.SuccessResponse[any]("Success mark all as read", nil))
}
