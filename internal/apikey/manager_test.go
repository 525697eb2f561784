package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coverwise/authcore/internal/rate"
	"github.com/coverwise/authcore/internal/scope"
	token "github.com/coverwise/authcore/internal/security/token"
	"github.com/coverwise/authcore/internal/store/core"
	"github.com/coverwise/authcore/internal/store/memory"
)

func newTestManager(t *testing.T) (*Manager, core.Store) {
	t.Helper()
	st := memory.New()
	m := NewManager(Deps{
		Store:   st,
		Scopes:  scope.MustDefaultRegistry(),
		Limiter: rate.NewMemoryLimiter(time.Minute),
	})
	return m, st
}

func TestCreateAndValidate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	res, err := m.Create(ctx, CreateInput{
		Name:               "billing-batch",
		ClientID:           "cw_billing",
		Scopes:             []string{"quote:write"},
		RateLimitPerMinute: 100,
	})
	require.NoError(t, err)
	require.Regexp(t, "^cwk_", res.PlainKey)
	require.Equal(t, res.PlainKey[:prefixLen], res.Key.KeyPrefix)
	require.NotContains(t, res.Key.KeyHash, res.PlainKey)

	// los scopes se persisten expandidos
	require.Contains(t, res.Key.Scopes, "quote:read")

	p, err := m.Validate(ctx, res.PlainKey, "quote:read", "")
	require.NoError(t, err)
	require.Equal(t, res.Key.ID, p.KeyID)
	require.Equal(t, "cw_billing", p.ClientID)
}

func TestValidate_Errors(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	res, err := m.Create(ctx, CreateInput{
		Name:               "adjuster-tool",
		ClientID:           "cw_claims",
		Scopes:             []string{"claim:read"},
		RateLimitPerMinute: 100,
		AllowedIPs:         []string{"10.0.0.5"},
	})
	require.NoError(t, err)

	t.Run("unknown key", func(t *testing.T) {
		_, err := m.Validate(ctx, "cwk_nonexistent", "", "10.0.0.5")
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("scope not held", func(t *testing.T) {
		_, err := m.Validate(ctx, res.PlainKey, "claim:approve", "10.0.0.5")
		require.ErrorIs(t, err, ErrScopeDenied)
	})

	t.Run("ip not allowed", func(t *testing.T) {
		_, err := m.Validate(ctx, res.PlainKey, "claim:read", "192.168.1.1")
		require.ErrorIs(t, err, ErrIPNotAllowed)
	})

	t.Run("revoked", func(t *testing.T) {
		require.NoError(t, m.Revoke(ctx, res.Key.ID, "compromised"))
		_, err := m.Validate(ctx, res.PlainKey, "claim:read", "10.0.0.5")
		require.ErrorIs(t, err, ErrKeyRevoked)
	})
}

func TestValidate_Expired(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	// se siembra directo en el store una key cuya expiración ya pasó
	plain := "cwk_expired-key-for-test"
	past := time.Now().UTC().Add(-time.Hour)
	err := st.APIKeys().Create(ctx, &core.APIKey{
		ID:                 "key-expired",
		KeyHash:            token.SHA256Hex(plain),
		KeyPrefix:          plain[:prefixLen],
		Name:               "temp",
		ClientID:           "cw_x",
		Scopes:             []string{"quote:read"},
		RateLimitPerMinute: 10,
		ExpiresAt:          &past,
		Active:             true,
		CreatedAt:          past.Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = m.Validate(ctx, plain, "", "")
	require.ErrorIs(t, err, ErrKeyExpired)
}

func TestValidate_RateLimit(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	const limit = 5
	res, err := m.Create(ctx, CreateInput{
		Name:               "low-budget",
		ClientID:           "cw_x",
		Scopes:             []string{"quote:read"},
		RateLimitPerMinute: limit,
	})
	require.NoError(t, err)

	for i := 0; i < limit; i++ {
		_, err := m.Validate(ctx, res.PlainKey, "", "")
		require.NoError(t, err, "call %d within budget", i+1)
	}
	_, err = m.Validate(ctx, res.PlainKey, "", "")
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestRotate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	res, err := m.Create(ctx, CreateInput{
		Name:               "svc",
		ClientID:           "cw_x",
		Scopes:             []string{"policy:read"},
		RateLimitPerMinute: 50,
		AllowedIPs:         []string{"10.1.1.1"},
	})
	require.NoError(t, err)

	rotated, err := m.Rotate(ctx, res.Key.ID)
	require.NoError(t, err)
	require.NotEqual(t, res.PlainKey, rotated.PlainKey)
	require.Equal(t, res.Key.Name, rotated.Key.Name)
	require.Equal(t, res.Key.Scopes, rotated.Key.Scopes)
	require.Equal(t, res.Key.RateLimitPerMinute, rotated.Key.RateLimitPerMinute)
	require.Equal(t, res.Key.AllowedIPs, rotated.Key.AllowedIPs)

	// la vieja murió, la nueva anda
	_, err = m.Validate(ctx, res.PlainKey, "", "10.1.1.1")
	require.ErrorIs(t, err, ErrKeyRevoked)
	_, err = m.Validate(ctx, rotated.PlainKey, "", "10.1.1.1")
	require.NoError(t, err)

	// rotar una key ya revocada no se permite
	_, err = m.Rotate(ctx, res.Key.ID)
	require.ErrorIs(t, err, ErrKeyRevoked)
}

func TestRotate_RevokedKeyLeavesNoOrphan(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	res, err := m.Create(ctx, CreateInput{
		Name:               "svc",
		ClientID:           "cw_x",
		Scopes:             []string{"policy:read"},
		RateLimitPerMinute: 50,
	})
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, res.Key.ID, "compromised"))

	before, err := st.APIKeys().ListByClient(ctx, "cw_x")
	require.NoError(t, err)

	_, err = m.Rotate(ctx, res.Key.ID)
	require.ErrorIs(t, err, ErrKeyRevoked)

	// el rechazo a nivel store también es atómico: si la vieja ya no está
	// activa (carrera entre dos rotaciones) no se persiste el reemplazo
	replacement := &core.APIKey{
		ID:                 "replacement-id",
		KeyHash:            "replacement-hash",
		KeyPrefix:          "cwk_replace",
		Name:               res.Key.Name,
		ClientID:           res.Key.ClientID,
		Scopes:             res.Key.Scopes,
		RateLimitPerMinute: res.Key.RateLimitPerMinute,
		Active:             true,
		CreatedAt:          time.Now().UTC(),
	}
	err = st.APIKeys().Rotate(ctx, res.Key.ID, "rotated", replacement)
	require.ErrorIs(t, err, core.ErrConflict)

	after, err := st.APIKeys().ListByClient(ctx, "cw_x")
	require.NoError(t, err)
	require.Len(t, after, len(before))
}

func TestCreateScoped(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	parent, err := m.Create(ctx, CreateInput{
		Name:               "parent",
		ClientID:           "cw_x",
		Scopes:             []string{"quote:write", "policy:read"},
		RateLimitPerMinute: 50,
	})
	require.NoError(t, err)

	t.Run("subset allowed", func(t *testing.T) {
		child, err := m.CreateScoped(ctx, parent.Key.ID, "child", []string{"quote:read"}, time.Hour)
		require.NoError(t, err)
		require.NotNil(t, child.Key.ParentID)
		require.Equal(t, parent.Key.ID, *child.Key.ParentID)
		require.NotNil(t, child.Key.ExpiresAt)

		p, err := m.Validate(ctx, child.PlainKey, "quote:read", "")
		require.NoError(t, err)
		require.Equal(t, "cw_x", p.ClientID)
	})

	t.Run("superset rejected", func(t *testing.T) {
		_, err := m.CreateScoped(ctx, parent.Key.ID, "greedy", []string{"claim:write"}, time.Hour)
		require.ErrorIs(t, err, ErrScopeDenied)
	})
}

func TestBulkRevoke(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	var plains []string
	for _, name := range []string{"a", "b", "c"} {
		res, err := m.Create(ctx, CreateInput{
			Name:               name,
			ClientID:           "cw_victim",
			Scopes:             []string{"quote:read"},
			RateLimitPerMinute: 10,
		})
		require.NoError(t, err)
		plains = append(plains, res.PlainKey)
	}
	other, err := m.Create(ctx, CreateInput{
		Name:               "bystander",
		ClientID:           "cw_other",
		Scopes:             []string{"quote:read"},
		RateLimitPerMinute: 10,
	})
	require.NoError(t, err)

	n, err := m.BulkRevoke(ctx, "cw_victim", "client offboarded")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for _, plain := range plains {
		_, err := m.Validate(ctx, plain, "", "")
		require.ErrorIs(t, err, ErrKeyRevoked)
	}
	_, err = m.Validate(ctx, other.PlainKey, "", "")
	require.NoError(t, err)
}
