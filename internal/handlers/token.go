package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/Adam151997/Y-CRM-sub000/internal/broker"

	"github.com/gin-gonic/gin"
)

// TokenHandler serves decrypted access tokens to other CRM services.
// The route sits behind the internal secret middleware; tokens never
// leave through any other endpoint.
type TokenHandler struct {
	broker *broker.Broker
}

// NewTokenHandler creates a new token handler.
func NewTokenHandler(b *broker.Broker) *TokenHandler {
	return &TokenHandler{broker: b}
}

type tokenRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	Provider string `json:"provider"  binding:"required"`

	// Scope, when set, requires the stored grant to cover it.
	Scope string `json:"scope"`
}

// Token returns a valid access token for a tenant's connection,
// refreshing first when needed.
//
// POST /internal/token
func (h *TokenHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	cred, err := h.broker.GetValidToken(c.Request.Context(), req.TenantID, req.Provider)
	if err != nil {
		h.writeTokenError(c, err)
		return
	}

	if req.Scope != "" && !h.broker.GrantsScope(req.TenantID, req.Provider, req.Scope) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "insufficient_scope",
			"scope": req.Scope,
		})
		return
	}

	c.JSON(http.StatusOK, cred)
}

// writeTokenError maps broker failures onto HTTP statuses: 404 when the
// tenant never connected, 409 when re-authorization is required, 502 when
// the caller should retry, 500 for everything else.
func (h *TokenHandler) writeTokenError(c *gin.Context, err error) {
	if errors.Is(err, broker.ErrUnknownProvider) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_provider"})
		return
	}

	var uerr *broker.UnavailableError
	if errors.As(err, &uerr) {
		switch uerr.Reason {
		case broker.ReasonNotConnected:
			c.JSON(http.StatusNotFound, gin.H{
				"error":  "not_connected",
				"reason": uerr.Reason,
			})
		case broker.ReasonDisconnected, broker.ReasonNeedsReauth, broker.ReasonInvalidGrant:
			c.JSON(http.StatusConflict, gin.H{
				"error":  "reauthorization_required",
				"reason": uerr.Reason,
			})
		case broker.ReasonTransient:
			c.JSON(http.StatusBadGateway, gin.H{
				"error":     "provider_unavailable",
				"reason":    uerr.Reason,
				"retryable": true,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  "credential_unavailable",
				"reason": uerr.Reason,
			})
		}
		return
	}

	log.Printf("[Token] unexpected failure: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
