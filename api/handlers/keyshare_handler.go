package handlers

import (
	"github.com/gin-gonic/gin"

	"tss-coordinator/internal/dto"
)

// Recover checks that the key-share nodes can still rebuild a wallet's fragment.
func (h *Handler) Recover(c *gin.Context) {
	var req dto.RecoverRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.svc.Recover(c.Request.Context(), callerOf(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, resp)
}

// Reshare redistributes the caller's wallets over every active node.
func (h *Handler) Reshare(c *gin.Context) {
	resp, err := h.svc.Reshare(c.Request.Context(), callerOf(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, resp)
}

func (h *Handler) NodeStatus(c *gin.Context) {
	resp, err := h.svc.NodeStatus(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, resp)
}
