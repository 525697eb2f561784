package mtls

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coverwise/authcore/internal/store/core"
	"github.com/coverwise/authcore/internal/store/memory"
)

func selfSignedPEM(t *testing.T, cn string, notBefore, notAfter time.Time) string {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Coverwise Test"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func newTestManager(t *testing.T) (*Manager, core.Store) {
	t.Helper()
	st := memory.New()
	err := st.Clients().Create(context.Background(), &core.Client{
		ID:         "id-1",
		ClientID:   "cw_partner",
		Name:       "partner",
		Type:       core.ClientTypeConfidential,
		GrantTypes: []string{core.GrantClientCredentials},
		Active:     true,
	})
	require.NoError(t, err)
	return NewManager(Deps{Store: st}), st
}

func TestRegisterAndValidate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	now := time.Now()

	certPEM := selfSignedPEM(t, "partner.coverwise.test", now.Add(-time.Hour), now.Add(24*time.Hour))

	rec, err := m.Register(ctx, "cw_partner", certPEM, "partner-prod", "admin-1")
	require.NoError(t, err)
	require.Len(t, rec.Fingerprint, 64) // sha256 hex
	require.Contains(t, rec.SubjectDN, "partner.coverwise.test")
	require.Equal(t, "admin-1", rec.RegisteredBy)

	got, err := m.Validate(ctx, "cw_partner", certPEM)
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)

	t.Run("wrong client rejected", func(t *testing.T) {
		_, err := m.Validate(ctx, "cw_someone_else", certPEM)
		require.ErrorIs(t, err, ErrNotRegistered)
	})

	t.Run("duplicate registration rejected", func(t *testing.T) {
		_, err := m.Register(ctx, "cw_partner", certPEM, "partner-prod-2", "admin-1")
		require.ErrorIs(t, err, ErrDuplicateCert)
	})

	t.Run("unknown client rejected", func(t *testing.T) {
		_, err := m.Register(ctx, "cw_ghost", certPEM, "x", "admin-1")
		require.ErrorIs(t, err, ErrUnknownClientID)
	})
}

func TestRegister_RejectsOutOfWindow(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	now := time.Now()

	t.Run("expired", func(t *testing.T) {
		certPEM := selfSignedPEM(t, "old", now.Add(-48*time.Hour), now.Add(-time.Hour))
		_, err := m.Register(ctx, "cw_partner", certPEM, "old", "admin-1")
		require.ErrorIs(t, err, ErrCertExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		certPEM := selfSignedPEM(t, "future", now.Add(time.Hour), now.Add(48*time.Hour))
		_, err := m.Register(ctx, "cw_partner", certPEM, "future", "admin-1")
		require.ErrorIs(t, err, ErrNotYetValid)
	})

	t.Run("garbage pem", func(t *testing.T) {
		_, err := m.Register(ctx, "cw_partner", "not a pem", "x", "admin-1")
		require.ErrorIs(t, err, ErrBadCertificate)
	})
}

func TestValidate_ExpiryCheckedAtValidation(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	now := time.Now()

	// el cert estaba vigente al registrarse pero el record ya venció:
	// la validación falla aunque nunca se haya revocado
	certPEM := selfSignedPEM(t, "short", now.Add(-2*time.Hour), now.Add(24*time.Hour))
	rec, err := m.Register(ctx, "cw_partner", certPEM, "short", "admin-1")
	require.NoError(t, err)

	stored, err := st.Certificates().GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	// expirar el registro sembrando un record vencido en el hot cache
	expired := *rec
	expired.NotAfter = now.Add(-time.Minute).UTC()
	m.hot.SetDefault(rec.Fingerprint, &expired)

	_, err = m.Validate(ctx, "cw_partner", certPEM)
	require.ErrorIs(t, err, ErrCertExpired)
}

func TestRevoke(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	now := time.Now()

	certPEM := selfSignedPEM(t, "revokeme", now.Add(-time.Hour), now.Add(24*time.Hour))
	rec, err := m.Register(ctx, "cw_partner", certPEM, "revokeme", "admin-1")
	require.NoError(t, err)

	// calentar el cache antes de revocar
	_, err = m.Validate(ctx, "cw_partner", certPEM)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, rec.ID, "key compromise", "admin-1"))

	_, err = m.Validate(ctx, "cw_partner", certPEM)
	require.ErrorIs(t, err, ErrCertRevoked)
}

func TestIssueCSR(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	res, err := m.IssueCSR(ctx, "cw_partner", SubjectInfo{
		CommonName:   "partner.coverwise.test",
		Organization: "Partner Inc",
		Country:      "AR",
	})
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(res.CSRPEM))
	require.NotNil(t, block)
	require.Equal(t, "CERTIFICATE REQUEST", block.Type)

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	require.NoError(t, err)
	require.NoError(t, csr.CheckSignature())
	require.Equal(t, "partner.coverwise.test", csr.Subject.CommonName)

	keyBlock, _ := pem.Decode([]byte(res.PrivateKeyPEM))
	require.NotNil(t, keyBlock)
	_, err = x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	require.NoError(t, err)

	t.Run("unknown client", func(t *testing.T) {
		_, err := m.IssueCSR(ctx, "cw_ghost", SubjectInfo{})
		require.ErrorIs(t, err, ErrUnknownClientID)
	})
}
