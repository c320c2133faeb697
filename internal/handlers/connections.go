// Package handlers exposes the HTTP surface: the browser-facing connect
// and callback flow, the tenant-facing connection API, and the internal
// token endpoint for other CRM services.
package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/Adam151997/Y-CRM-sub000/internal/audit"
	"github.com/Adam151997/Y-CRM-sub000/internal/authstate"
	"github.com/Adam151997/Y-CRM-sub000/internal/broker"
	"github.com/Adam151997/Y-CRM-sub000/internal/models"
	"github.com/Adam151997/Y-CRM-sub000/internal/store"

	"github.com/gin-gonic/gin"
)

// ConnectionHandler serves the connection lifecycle routes.
type ConnectionHandler struct {
	broker  *broker.Broker
	state   *authstate.Manager
	audit   *audit.Service
	baseURL string
}

// NewConnectionHandler creates a new connection handler.
func NewConnectionHandler(b *broker.Broker, state *authstate.Manager, auditSvc *audit.Service, baseURL string) *ConnectionHandler {
	return &ConnectionHandler{
		broker:  b,
		state:   state,
		audit:   auditSvc,
		baseURL: baseURL,
	}
}

func (h *ConnectionHandler) redirectURI(providerName string) string {
	return h.baseURL + "/oauth/callback/" + providerName
}

// Connect starts the authorization flow: it issues a signed state token
// and redirects the browser to the provider's consent screen.
//
// GET /connect/:provider?tenant=<tenant-id>
func (h *ConnectionHandler) Connect(c *gin.Context) {
	providerName := c.Param("provider")
	tenantID := c.Query("tenant")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_tenant",
			"message": "tenant query parameter is required",
		})
		return
	}

	adapter, ok := h.broker.Adapter(providerName)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     "unknown_provider",
			"message":   "The requested provider is not configured",
			"providers": h.broker.Providers(),
		})
		return
	}

	stateToken, err := h.state.Issue(tenantID, providerName)
	if err != nil {
		log.Printf("[Connect] failed to issue state token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "internal_error",
		})
		return
	}

	authURL := adapter.AuthorizationURL(h.redirectURI(providerName), stateToken, nil)
	c.Redirect(http.StatusTemporaryRedirect, authURL)
}

// Callback completes the authorization flow after the provider redirects
// back with a code.
//
// GET /oauth/callback/:provider?code=...&state=...
func (h *ConnectionHandler) Callback(c *gin.Context) {
	providerName := c.Param("provider")

	// Providers report user denial and their own errors via the error
	// query parameter instead of a code.
	if provErr := c.Query("error"); provErr != "" {
		h.recordAuthFailure(c, providerName, "provider returned "+provErr)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "authorization_denied",
			"message": provErr,
		})
		return
	}

	code := c.Query("code")
	stateToken := c.Query("state")
	if code == "" || stateToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_callback",
			"message": "code and state are required",
		})
		return
	}

	claims, err := h.state.Verify(stateToken)
	if err != nil || claims.Provider != providerName {
		h.recordInvalidState(c, providerName, err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_state",
			"message": "State token is invalid or expired",
		})
		return
	}

	conn, err := h.broker.CommitAuthorization(c.Request.Context(),
		claims.TenantID, providerName, code, h.redirectURI(providerName))
	if err != nil {
		log.Printf("[Callback] authorization failed for %s/%s: %v",
			claims.TenantID, providerName, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "authorization_failed",
			"message": "Could not complete authorization with the provider",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider":     conn.Provider,
		"status":       conn.Status,
		"account":      conn.DisplayName,
		"email":        conn.Email,
		"connected_at": conn.ConnectedAt,
	})
}

// GetConnection returns the non-secret snapshot of one connection.
//
// GET /api/connections/:tenant/:provider
func (h *ConnectionHandler) GetConnection(c *gin.Context) {
	snap, err := h.broker.GetConnectionStatus(c.Request.Context(),
		c.Param("tenant"), c.Param("provider"))
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrUnknownProvider):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
		case errors.Is(err, store.ErrConnectionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_connected"})
		default:
			log.Printf("[Connections] status lookup failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListConnections returns snapshots for every provider a tenant has
// connected.
//
// GET /api/connections/:tenant
func (h *ConnectionHandler) ListConnections(c *gin.Context) {
	snaps, err := h.broker.ListConnectionStatuses(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		log.Printf("[Connections] list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": snaps})
}

// Disconnect severs a connection and purges its secrets.
//
// DELETE /api/connections/:tenant/:provider
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	err := h.broker.Disconnect(c.Request.Context(), c.Param("tenant"), c.Param("provider"))
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrUnknownProvider):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
		case errors.Is(err, store.ErrConnectionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_connected"})
		default:
			log.Printf("[Connections] disconnect failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ConnectionHandler) recordAuthFailure(c *gin.Context, providerName, msg string) {
	if h.audit == nil {
		return
	}
	h.audit.Record(audit.Entry{
		EventType:    models.EventAuthorizationFailed,
		Severity:     models.SeverityWarning,
		Provider:     providerName,
		Details:      models.AuditDetails{"remote_ip": c.ClientIP()},
		ErrorMessage: msg,
	})
}

func (h *ConnectionHandler) recordInvalidState(c *gin.Context, providerName string, cause error) {
	if h.audit == nil {
		return
	}
	msg := "state/provider mismatch"
	if cause != nil {
		msg = cause.Error()
	}
	h.audit.Record(audit.Entry{
		EventType:    models.EventInvalidState,
		Severity:     models.SeverityWarning,
		Provider:     providerName,
		Details:      models.AuditDetails{"remote_ip": c.ClientIP()},
		ErrorMessage: msg,
	})
}
