package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"clawtrust/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	headerAgentAddress = "X-Agent-Address"
	headerAgentRoles   = "X-Agent-Roles"
	headerAdminKey     = "X-Admin-Key"
)

// principalFrom reads the caller identity set by the fronting proxy.
// The agent address is the only identity the settlement rules key on;
// roles ride along for the arbiter policy.
func principalFrom(c *gin.Context) domain.Principal {
	p := domain.Principal{
		Address: strings.TrimSpace(c.GetHeader(headerAgentAddress)),
	}
	if raw := c.GetHeader(headerAgentRoles); raw != "" {
		for _, role := range strings.Split(raw, ",") {
			role = strings.TrimSpace(role)
			if role != "" {
				p.Roles = append(p.Roles, role)
			}
		}
	}
	return p
}

// requireAgent rejects requests with no caller identity.
func (s *Server) requireAgent(c *gin.Context) (domain.Principal, bool) {
	p := principalFrom(c)
	if p.Address == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "X-Agent-Address header is required")
		return domain.Principal{}, false
	}
	return p, true
}

func (s *Server) isAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		return false
	}
	provided := c.GetHeader(headerAdminKey)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.adminAPIKey)) == 1
}

func (s *Server) requireAdmin(c *gin.Context) bool {
	if !s.isAdmin(c) {
		writeErrorCode(c, http.StatusForbidden, "FORBIDDEN", "admin key required")
		return false
	}
	return true
}
