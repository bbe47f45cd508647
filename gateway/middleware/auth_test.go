package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticatorRequiresScopedToken(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: "s3cret",
		Issuer:     "bond-operators",
		Audience:   "bondd",
	}, nil)
	require.NoError(t, err)
	handler := auth.Middleware("tx:submit")(okHandler())

	call := func(header string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/tx", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		return res.Code
	}
	exp := time.Now().Add(time.Hour).Unix()

	require.Equal(t, http.StatusUnauthorized, call(""))
	require.Equal(t, http.StatusUnauthorized, call("Bearer not-a-token"))
	require.Equal(t, http.StatusUnauthorized, call("Bearer "+signToken(t, "other", jwt.MapClaims{
		"iss": "bond-operators", "aud": "bondd", "exp": exp, "scope": "tx:submit",
	})))
	require.Equal(t, http.StatusUnauthorized, call("Bearer "+signToken(t, "s3cret", jwt.MapClaims{
		"iss": "someone-else", "aud": "bondd", "exp": exp, "scope": "tx:submit",
	})))
	require.Equal(t, http.StatusUnauthorized, call("Bearer "+signToken(t, "s3cret", jwt.MapClaims{
		"iss": "bond-operators", "aud": "bondd", "scope": "tx:submit",
	})))
	require.Equal(t, http.StatusForbidden, call("Bearer "+signToken(t, "s3cret", jwt.MapClaims{
		"iss": "bond-operators", "aud": "bondd", "exp": exp, "scope": "query",
	})))
	require.Equal(t, http.StatusOK, call("Bearer "+signToken(t, "s3cret", jwt.MapClaims{
		"iss": "bond-operators", "aud": "bondd", "exp": exp, "scope": "query tx:submit",
	})))
}

func TestAuthenticatorDisabledAdmitsAll(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{}, nil)
	require.NoError(t, err)
	res := httptest.NewRecorder()
	auth.Middleware("tx:submit")(okHandler()).ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/tx", nil))
	require.Equal(t, http.StatusOK, res.Code)

	var nilAuth *Authenticator
	res = httptest.NewRecorder()
	nilAuth.Middleware()(okHandler()).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, res.Code)

	_, err = NewAuthenticator(AuthConfig{Enabled: true}, nil)
	require.Error(t, err)
}
