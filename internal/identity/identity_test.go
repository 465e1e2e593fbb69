package identity

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timetracker-backend/internal/models"
	"timetracker-backend/internal/repository"
)

func strPtr(s string) *string { return &s }

func TestVerify_RoundTrip(t *testing.T) {
	p := NewJWTProvider("host-secret")
	token, err := p.Sign(models.HostIdentity{UserID: "4711", AccountID: "99", Email: strPtr("ada@example.com")}, time.Minute)
	require.NoError(t, err)

	ident, err := p.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "4711", ident.UserID)
	assert.Equal(t, "99", ident.AccountID)
	require.NotNil(t, ident.Email)
	assert.Equal(t, "ada@example.com", *ident.Email)
	assert.Nil(t, ident.Name)
}

func TestVerify_NumericHostIDs(t *testing.T) {
	secret := []byte("host-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId":    4711,
		"accountId": 99,
		"exp":       time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	ident, err := NewJWTProvider(string(secret)).Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "4711", ident.UserID)
	assert.Equal(t, "99", ident.AccountID)
}

func TestVerify_Rejects(t *testing.T) {
	p := NewJWTProvider("host-secret")

	expired, err := p.Sign(models.HostIdentity{UserID: "1"}, -time.Minute)
	require.NoError(t, err)
	_, err = p.Verify(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	other, err := NewJWTProvider("other-secret").Sign(models.HostIdentity{UserID: "1"}, time.Minute)
	require.NoError(t, err)
	_, err = p.Verify(other)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	anonymous, err := p.Sign(models.HostIdentity{}, time.Minute)
	require.NoError(t, err)
	_, err = p.Verify(anonymous)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = p.Verify("garbage")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestIdentify_TokenSources(t *testing.T) {
	p := NewJWTProvider("host-secret")
	token, err := p.Sign(models.HostIdentity{UserID: "7"}, time.Minute)
	require.NoError(t, err)

	header := httptest.NewRequest("GET", "/api/v1/timer/session", nil)
	header.Header.Set("Authorization", "Bearer "+token)
	ident, err := p.Identify(header)
	require.NoError(t, err)
	assert.Equal(t, "7", ident.UserID)

	query := httptest.NewRequest("GET", "/api/v1/timer/stream?token="+token, nil)
	ident, err = p.Identify(query)
	require.NoError(t, err)
	assert.Equal(t, "7", ident.UserID)

	bad := httptest.NewRequest("GET", "/", nil)
	bad.Header.Set("Authorization", "Token "+token)
	_, err = p.Identify(bad)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = p.Identify(httptest.NewRequest("GET", "/", nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

type stubProfiles struct {
	profiles map[string]*models.UserProfile
	lookups  int
	creates  int
	err      error
}

func (s *stubProfiles) ProfileByHostUserID(_ context.Context, hostUserID string) (*models.UserProfile, error) {
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.profiles[hostUserID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *stubProfiles) FindOrCreateProfile(_ context.Context, ident models.HostIdentity) (*models.UserProfile, error) {
	s.creates++
	p, ok := s.profiles[ident.UserID]
	if !ok {
		p = &models.UserProfile{ID: uuid.New(), HostUserID: ident.UserID}
		s.profiles[ident.UserID] = p
	}
	return p, nil
}

func TestResolver_CreatesOnFirstUse(t *testing.T) {
	store := &stubProfiles{profiles: map[string]*models.UserProfile{}}
	r := NewResolver(store)
	ctx := context.Background()

	first, err := r.Resolve(ctx, models.HostIdentity{UserID: "42"})
	require.NoError(t, err)
	second, err := r.Resolve(ctx, models.HostIdentity{UserID: "42"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.creates, "known users are only looked up")
	assert.Equal(t, 2, store.lookups)

	_, err = r.Resolve(ctx, models.HostIdentity{})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	store.err = errors.New("db down")
	_, err = r.Resolve(ctx, models.HostIdentity{UserID: "43"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}
