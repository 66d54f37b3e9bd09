// Package auth provides API-key authentication and role checks for the HTTP
// surface. Keys are static, loaded from configuration at startup. When no
// keys are configured every request is admitted as an anonymous admin, which
// keeps local development friction-free.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dire-exchange/dire-engine/internal/config"
	"github.com/dire-exchange/dire-engine/pkg/models"
)

// Role is a coarse permission tier.
type Role string

const (
	// RoleTrader may submit, modify and cancel orders and read market data.
	RoleTrader Role = "trader"
	// RoleOperator may additionally change the market state.
	RoleOperator Role = "operator"
	// RoleAdmin may do everything, including instrument administration.
	RoleAdmin Role = "admin"
)

// allows reports whether a principal with role r may act at the required
// tier. Roles are strictly ordered trader < operator < admin.
func (r Role) allows(required Role) bool {
	rank := map[Role]int{RoleTrader: 0, RoleOperator: 1, RoleAdmin: 2}
	return rank[r] >= rank[required]
}

// Principal is an authenticated caller.
type Principal struct {
	Name     string
	Role     Role
	TraderID models.TraderID
}

const principalKey = "auth.principal"

// FromContext returns the principal stored by Middleware.
func FromContext(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// Authenticator resolves API keys to principals.
type Authenticator struct {
	keys map[string]Principal
}

// New builds an authenticator from configured keys.
func New(keys []config.APIKeyConfig) *Authenticator {
	a := &Authenticator{keys: make(map[string]Principal, len(keys))}
	for _, k := range keys {
		a.keys[k.Key] = Principal{
			Name:     k.Name,
			Role:     Role(k.Role),
			TraderID: models.TraderID(k.Trader),
		}
	}
	return a
}

// Open reports whether the authenticator admits everything (no keys
// configured).
func (a *Authenticator) Open() bool { return len(a.keys) == 0 }

// Lookup resolves one API key.
func (a *Authenticator) Lookup(key string) (Principal, bool) {
	p, ok := a.keys[key]
	return p, ok
}

// extractKey pulls the API key from X-API-Key or a Bearer token.
func extractKey(c *gin.Context) string {
	if k := c.GetHeader("X-API-Key"); k != "" {
		return k
	}
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// Middleware authenticates every request and stores the principal on the
// context. Unauthenticated requests get 401.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Open() {
			c.Set(principalKey, Principal{Name: "anonymous", Role: RoleAdmin})
			c.Next()
			return
		}
		key := extractKey(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		p, ok := a.Lookup(key)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// Require rejects principals below the required role with 403.
func Require(required Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := FromContext(c)
		if !ok || !p.Role.allows(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}
