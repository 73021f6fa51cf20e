package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestJWTRoundTrip(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateJWT(testSecret, userID, time.Hour)
	require.NoError(t, err)

	got, err := ValidateJWT(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestValidateJWT_Rejects(t *testing.T) {
	userID := uuid.New()
	expired, err := GenerateJWT(testSecret, userID, -time.Minute)
	require.NoError(t, err)
	foreign, err := GenerateJWT("other-secret", userID, time.Hour)
	require.NoError(t, err)
	notUUID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           "42",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"Expired":     expired,
		"WrongSecret": foreign,
		"NotUUID":     notUUID,
		"Garbage":     "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateJWT(testSecret, token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = ValidateJWT("", expired)
	assert.ErrorIs(t, err, ErrMissingSecret)
	_, err = GenerateJWT("", userID, time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestAuthMiddleware(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateJWT(testSecret, userID, time.Hour)
	require.NoError(t, err)

	var seen uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := AuthMiddleware(testSecret)(next)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"Valid", "Bearer " + token, http.StatusNoContent},
		{"Missing", "", http.StatusUnauthorized},
		{"WrongScheme", "Basic " + token, http.StatusUnauthorized},
		{"BadToken", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = uuid.Nil
			req := httptest.NewRequest(http.MethodGet, "/access", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusNoContent {
				assert.Equal(t, userID, seen)
			} else {
				assert.Equal(t, uuid.Nil, seen)
				assert.Contains(t, rec.Body.String(), "error")
			}
		})
	}
}
