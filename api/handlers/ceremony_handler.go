package handlers

import (
	"github.com/gin-gonic/gin"

	"tss-coordinator/internal/dto"
)

func (h *Handler) CreateSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.svc.CreateSession(c.Request.Context(), callerOf(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, resp)
}

func (h *Handler) AbortSession(c *gin.Context) {
	var req dto.AbortSessionRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.svc.AbortSession(c.Request.Context(), callerOf(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, resp)
}

// Triples returns the handler for one triples step.
func (h *Handler) Triples(step int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.TriplesRequest
		if !bind(c, &req) {
			return
		}
		resp, err := h.svc.Triples(c.Request.Context(), callerOf(c), step, req)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, resp)
	}
}

// Presign returns the handler for one presign step.
func (h *Handler) Presign(step int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.PresignRequest
		if !bind(c, &req) {
			return
		}
		resp, err := h.svc.Presign(c.Request.Context(), callerOf(c), step, req)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, resp)
	}
}

// Sign returns the handler for one sign step.
func (h *Handler) Sign(step int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.SignRequest
		if !bind(c, &req) {
			return
		}
		resp, err := h.svc.Sign(c.Request.Context(), callerOf(c), step, req)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, resp)
	}
}
