package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatcpg/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func newEngine(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTAuth(secret), func(c *gin.Context) {
		id, err := utils.GetUserIDFromContext(c)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})
	return r
}

func call(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newEngine(secret)
	exp := time.Now().Add(time.Hour).Unix()

	w := call(r, sign(t, secret, jwt.MapClaims{"user_id": 42, "exp": exp}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":42}`, w.Body.String())

	w = call(r, sign(t, secret, jwt.MapClaims{"user_id": "7", "exp": exp}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":7}`, w.Body.String())

	cases := map[string]string{
		"missing":     "",
		"garbage":     "not-a-token",
		"wrong key":   sign(t, "other", jwt.MapClaims{"user_id": 1, "exp": exp}),
		"expired":     sign(t, secret, jwt.MapClaims{"user_id": 1, "exp": time.Now().Add(-time.Minute).Unix()}),
		"no user":     sign(t, secret, jwt.MapClaims{"exp": exp}),
		"zero user":   sign(t, secret, jwt.MapClaims{"user_id": 0, "exp": exp}),
		"float user":  sign(t, secret, jwt.MapClaims{"user_id": 1.5, "exp": exp}),
		"string junk": sign(t, secret, jwt.MapClaims{"user_id": "abc", "exp": exp}),
	}
	for name, token := range cases {
		assert.Equal(t, http.StatusUnauthorized, call(r, token).Code, name)
	}
}

func TestJWTAuthEmptySecret(t *testing.T) {
	r := newEngine("")
	token := sign(t, "anything", jwt.MapClaims{"user_id": 1})
	assert.Equal(t, http.StatusUnauthorized, call(r, token).Code)
}
