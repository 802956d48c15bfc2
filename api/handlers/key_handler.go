package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"tss-coordinator/internal/auth"
	"tss-coordinator/internal/dto"
)

// Service is the orchestrator surface the handlers call.
type Service interface {
	Keygen(ctx context.Context, customerID string, req dto.KeygenRequest) (*dto.KeygenResponse, error)
	KeygenV2(ctx context.Context, customerID string, req dto.KeygenV2Request) (*dto.KeygenV2Response, error)
	CreateSession(ctx context.Context, caller auth.Caller, req dto.CreateSessionRequest) (*dto.SessionResponse, error)
	AbortSession(ctx context.Context, caller auth.Caller, req dto.AbortSessionRequest) (*dto.SessionResponse, error)
	Triples(ctx context.Context, caller auth.Caller, step int, req dto.TriplesRequest) (*dto.StepResponse, error)
	Presign(ctx context.Context, caller auth.Caller, step int, req dto.PresignRequest) (*dto.StepResponse, error)
	Sign(ctx context.Context, caller auth.Caller, step int, req dto.SignRequest) (*dto.StepResponse, error)
	Recover(ctx context.Context, caller auth.Caller, req dto.RecoverRequest) (*dto.RecoverResponse, error)
	Reshare(ctx context.Context, caller auth.Caller) (*dto.ReshareResponse, error)
	NodeStatus(ctx context.Context) (*dto.NodeStatusResponse, error)
}

// Handler serves the coordinator API.
type Handler struct {
	svc Service
}

func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Keygen creates a secp256k1 wallet for a customer's user.
func (h *Handler) Keygen(c *gin.Context) {
	var req dto.KeygenRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.svc.Keygen(c.Request.Context(), c.GetString(customerKey), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, resp)
}

// KeygenV2 creates a secp256k1 and an ed25519 wallet together.
func (h *Handler) KeygenV2(c *gin.Context) {
	var req dto.KeygenV2Request
	if !bind(c, &req) {
		return
	}
	resp, err := h.svc.KeygenV2(c.Request.Context(), c.GetString(customerKey), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, resp)
}
