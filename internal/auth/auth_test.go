package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/blog-api/internal/config"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New(config.AuthConfig{Secret: "test-secret", TokenTTL: time.Hour})
	require.NoError(t, err)
	return a
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(config.AuthConfig{})
	assert.Error(t, err)
}

func TestIssueAndParse(t *testing.T) {
	a := newTestAuthenticator(t)

	token, err := a.Issue("user-1")
	require.NoError(t, err)

	claims, err := a.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestParseRejects(t *testing.T) {
	a := newTestAuthenticator(t)

	other, err := New(config.AuthConfig{Secret: "other-secret", TokenTTL: time.Hour})
	require.NoError(t, err)
	foreign, err := other.Issue("user-1")
	require.NoError(t, err)

	expired := newTestAuthenticator(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Issue("user-1")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", stale},
		{"alg none", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Parse(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestUserID(t *testing.T) {
	a := newTestAuthenticator(t)
	token, err := a.Issue("user-42")
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		required bool
		want     string
		wantErr  error
	}{
		{name: "bearer", header: "Bearer " + token, required: true, want: "user-42"},
		{name: "lowercase bearer", header: "bearer " + token, required: true, want: "user-42"},
		{name: "bare token", header: token, required: true, want: "user-42"},
		{name: "missing optional", header: "", required: false, want: ""},
		{name: "missing required", header: "", required: true, wantErr: ErrUnauthenticated},
		{name: "invalid optional", header: "Bearer nope", required: false, wantErr: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/graphql", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := a.UserID(r, tt.required)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserIDNilRequest(t *testing.T) {
	a := newTestAuthenticator(t)
	_, err := a.UserID(nil, true)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestPasswords(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	hash, err := HashPassword("red12345")
	require.NoError(t, err)
	assert.NotEqual(t, "red12345", hash)

	assert.NoError(t, CheckPassword(hash, "red12345"))
	assert.ErrorIs(t, CheckPassword(hash, "blue12345"), ErrWrongPassword)
}
