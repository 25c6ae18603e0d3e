package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/audit"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

// IdentityService is the part of the identity store the admin API exposes.
type IdentityService interface {
	List(ctx context.Context) ([]domain.Identity, error)
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	Delete(ctx context.Context, id string) error
}

type IdentityHandler struct {
	store IdentityService
	audit audit.Logger
}

// NewIdentityHandler builds the identity endpoints. A nil auditLogger
// disables the audit trail for deletions.
func NewIdentityHandler(store IdentityService, auditLogger audit.Logger) *IdentityHandler {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &IdentityHandler{store: store, audit: auditLogger}
}

type ListIdentitiesResponse struct {
	Identities []domain.Identity `json:"identities"`
	Total      int               `json:"total"`
}

func (h *IdentityHandler) List(c *fiber.Ctx) error {
	identities, err := h.store.List(c.UserContext())
	if err != nil {
		return err
	}
	if identities == nil {
		identities = []domain.Identity{}
	}

	return c.JSON(ListIdentitiesResponse{
		Identities: identities,
		Total:      len(identities),
	})
}

func (h *IdentityHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return domain.ErrBadRequest
	}

	identity, err := h.store.GetByID(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.JSON(identity)
}

func (h *IdentityHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return domain.ErrBadRequest
	}

	err := h.store.Delete(c.UserContext(), id)

	_ = h.audit.Log(c.UserContext(), audit.Event{
		EventType:  audit.EventIdentityDeleted,
		IdentityID: id,
		Actor:      "api",
		IPAddress:  c.IP(),
		UserAgent:  c.Get(fiber.HeaderUserAgent),
	}.Outcome(err))

	if err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}
