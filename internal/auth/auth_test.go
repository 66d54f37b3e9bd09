package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dire-exchange/dire-engine/internal/config"
)

func router(a *Authenticator, required Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(a.Middleware())
	r.GET("/probe", Require(required), func(c *gin.Context) {
		p, _ := FromContext(c)
		c.JSON(http.StatusOK, gin.H{"name": p.Name})
	})
	return r
}

func get(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOpenModeAdmitsEverything(t *testing.T) {
	a := New(nil)
	assert.True(t, a.Open())
	w := get(router(a, RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyHeaderAndBearer(t *testing.T) {
	a := New([]config.APIKeyConfig{{Key: "k1", Name: "alice", Role: "trader", Trader: 7}})

	r := router(a, RoleTrader)
	assert.Equal(t, http.StatusOK, get(r, map[string]string{"X-API-Key": "k1"}).Code)
	assert.Equal(t, http.StatusOK, get(r, map[string]string{"Authorization": "Bearer k1"}).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, map[string]string{"X-API-Key": "wrong"}).Code)
}

func TestRoleOrdering(t *testing.T) {
	a := New([]config.APIKeyConfig{
		{Key: "t", Name: "trader", Role: "trader"},
		{Key: "o", Name: "op", Role: "operator"},
		{Key: "a", Name: "root", Role: "admin"},
	})

	cases := []struct {
		key      string
		required Role
		want     int
	}{
		{"t", RoleTrader, http.StatusOK},
		{"t", RoleOperator, http.StatusForbidden},
		{"t", RoleAdmin, http.StatusForbidden},
		{"o", RoleOperator, http.StatusOK},
		{"o", RoleAdmin, http.StatusForbidden},
		{"a", RoleAdmin, http.StatusOK},
	}
	for _, tc := range cases {
		w := get(router(a, tc.required), map[string]string{"X-API-Key": tc.key})
		assert.Equal(t, tc.want, w.Code, "key %s against %s", tc.key, tc.required)
	}
}

func TestPrincipalCarriesTraderID(t *testing.T) {
	a := New([]config.APIKeyConfig{{Key: "k1", Name: "alice", Role: "trader", Trader: 42}})
	p, ok := a.Lookup("k1")
	require.True(t, ok)
	assert.EqualValues(t, 42, p.TraderID)
}
