package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth-platform/savecache-service/internal/auth"
)

const (
	testSecret = "test-secret-key-for-jwt-signing"
	testIssuer = "savecache-service"
)

func TestValidTokenRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	v := auth.NewValidator(testSecret, testIssuer)

	properties.Property("generated tokens validate with their subject and scopes", prop.ForAll(
		func(subject string, scopes []string) bool {
			token, err := v.GenerateToken(subject, scopes, time.Hour)
			if err != nil {
				return false
			}
			claims, err := v.Validate("Bearer " + token)
			if err != nil || claims.Subject != subject || len(claims.Scopes) != len(scopes) {
				return false
			}
			for _, s := range scopes {
				if !claims.HasScope(s) {
					return false
				}
			}
			return true
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 && len(s) < 50 }),
		gen.SliceOf(gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 && len(s) < 20 })),
	))

	properties.TestingRun(t)
}

func TestValidateRejections(t *testing.T) {
	v := auth.NewValidator(testSecret, testIssuer)

	_, err := v.Validate("")
	assert.ErrorIs(t, err, auth.ErrMissingToken)
	_, err = v.Validate("Bearer ")
	assert.ErrorIs(t, err, auth.ErrMissingToken)

	expired, err := v.GenerateToken("ops", nil, -time.Hour)
	require.NoError(t, err)
	_, err = v.Validate(expired)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)

	_, err = v.Validate("not.a.token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	other := auth.NewValidator("another-secret-of-enough-length", testIssuer)
	foreign, err := other.GenerateToken("ops", nil, time.Hour)
	require.NoError(t, err)
	_, err = v.Validate(foreign)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	wrongIssuer := auth.NewValidator(testSecret, "someone-else")
	tok, err := wrongIssuer.GenerateToken("ops", nil, time.Hour)
	require.NoError(t, err)
	_, err = v.Validate(tok)
	assert.ErrorIs(t, err, auth.ErrInvalidClaims)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Issuer: testIssuer})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Validate(unsigned)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	v := auth.NewValidator(testSecret, testIssuer)
	m := auth.NewMiddleware(v)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, found := auth.ClaimsFromContext(r.Context())
		require.True(t, found)
		_, _ = w.Write([]byte(claims.Subject))
	})
	h := m.Authenticate(m.RequireScope("cache:admin")(ok))

	admin, err := v.GenerateToken("ops", []string{"cache:admin"}, time.Hour)
	require.NoError(t, err)
	reader, err := v.GenerateToken("viewer", []string{"cache:read"}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"garbage", "Bearer garbage", http.StatusUnauthorized},
		{"missing scope", "Bearer " + reader, http.StatusForbidden},
		{"admin", "Bearer " + admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/cache", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRequireScopeWithoutClaims(t *testing.T) {
	m := auth.NewMiddleware(auth.NewValidator(testSecret, testIssuer))
	h := m.RequireScope("cache:admin")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
