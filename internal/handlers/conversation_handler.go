package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/auth"
	"github.com/bazaarhq/conversation-service/internal/domain"
	"github.com/bazaarhq/conversation-service/internal/service"
)

// ConversationHandler is a thin, stateless consumer of the service layer;
// every marketplace surface (customer, vendor, manager, coordinator, chief)
// goes through these same routes.
type ConversationHandler struct {
	directory *service.Directory
	log       *service.Log
	receipts  *service.Receipts
	logger    *zap.SugaredLogger
}

func NewConversationHandler(d *service.Directory, l *service.Log, r *service.Receipts, logger *zap.SugaredLogger) *ConversationHandler {
	return &ConversationHandler{directory: d, log: l, receipts: r, logger: logger}
}

func httpError(c *fiber.Ctx, err error) error {
	switch {
	case domain.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, domain.ErrNotAuthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not authenticated"})
	case domain.IsCreateConversationFailed(err):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

func (h *ConversationHandler) Create(c *fiber.Ctx) error {
	user, err := auth.CurrentUser(c)
	if err != nil {
		return httpError(c, err)
	}
	var req struct {
		Title           string   `json:"title"`
		Kind            string   `json:"kind"`
		ParticipantIDs  []string `json:"participant_ids"`
		ParticipantRole string   `json:"participant_role"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	conv, err := h.directory.Create(c.Context(), user.ID, domain.RoleOwner, req.Title,
		domain.ConversationKind(req.Kind), req.ParticipantIDs, req.ParticipantRole)
	if err != nil {
		h.logger.Warnw("create conversation", "user_id", user.ID, "err", err)
		return httpError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": conv})
}

func (h *ConversationHandler) List(c *fiber.Ctx) error {
	user, err := auth.CurrentUser(c)
	if err != nil {
		return httpError(c, err)
	}
	listings, err := h.directory.ListForUser(c.Context(), user.ID)
	if err != nil {
		h.logger.Warnw("list conversations", "user_id", user.ID, "err", err)
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": listings})
}

func (h *ConversationHandler) Participants(c *fiber.Ctx) error {
	ps, err := h.directory.Participants(c.Context(), c.Params("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": ps})
}

// Messages returns the conversation snapshot and, unless mark_read=false,
// marks everything not authored by the caller as read.
func (h *ConversationHandler) Messages(c *fiber.Ctx) error {
	user, err := auth.CurrentUser(c)
	if err != nil {
		return httpError(c, err)
	}
	convID := c.Params("id")
	msgs, err := h.log.List(c.Context(), convID)
	if err != nil {
		return httpError(c, err)
	}
	if c.Query("mark_read", "true") != "false" {
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		if _, err := h.receipts.MarkRead(c.Context(), user.ID, ids); err != nil {
			// reading still succeeded; receipts catch up on the next load
			h.logger.Warnw("bulk mark read", "conversation_id", convID, "user_id", user.ID, "err", err)
		}
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msgs})
}

func (h *ConversationHandler) Append(c *fiber.Ctx) error {
	user, err := auth.CurrentUser(c)
	if err != nil {
		return httpError(c, err)
	}
	var req struct {
		Content  string         `json:"content"`
		Kind     string         `json:"kind"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.Kind == "" {
		req.Kind = string(domain.MessageText)
	}
	msg, err := h.log.Append(c.Context(), c.Params("id"), user.ID, req.Content,
		domain.MessageKind(req.Kind), req.Metadata)
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": msg})
}

func (h *ConversationHandler) MarkRead(c *fiber.Ctx) error {
	user, err := auth.CurrentUser(c)
	if err != nil {
		return httpError(c, err)
	}
	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	n, err := h.receipts.MarkRead(c.Context(), user.ID, req.MessageIDs)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "marked": n})
}
