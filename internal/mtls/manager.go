// Package mtls administra los certificados de client para autenticación mTLS.
//
// El manager no valida cadenas contra una CA: el proxy que termina TLS ya
// hizo eso. Acá el contrato es "este cert está registrado para este client,
// no está revocado y está dentro de su ventana de validez".
package mtls

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/coverwise/authcore/internal/audit"
	"github.com/coverwise/authcore/internal/observability/logger"
	tokens "github.com/coverwise/authcore/internal/security/token"
	"github.com/coverwise/authcore/internal/store/core"
)

var (
	ErrBadCertificate  = errors.New("mtls: malformed certificate")
	ErrNotYetValid     = errors.New("mtls: certificate not yet valid")
	ErrCertExpired     = errors.New("mtls: certificate expired")
	ErrCertRevoked     = errors.New("mtls: certificate revoked")
	ErrNotRegistered   = errors.New("mtls: certificate not registered for client")
	ErrDuplicateCert   = errors.New("mtls: certificate already registered")
	ErrUnknownClientID = errors.New("mtls: unknown client")
)

type Deps struct {
	Store core.Store
	// CacheTTL del cache de validaciones. <=0 usa 5 minutos.
	CacheTTL time.Duration
}

type Manager struct {
	store core.Store
	hot   *gocache.Cache
}

func NewManager(d Deps) *Manager {
	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		store: d.Store,
		hot:   gocache.New(ttl, 2*ttl),
	}
}

// Register da de alta un certificado para un client. Rechaza certs fuera
// de su ventana de validez y fingerprints ya registrados.
func (m *Manager) Register(ctx context.Context, clientID, certPEM, name, adminID string) (*core.ClientCertificate, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("mtls"), logger.Op("Register"))

	if _, err := m.store.Clients().GetByClientID(ctx, clientID); err != nil {
		return nil, ErrUnknownClientID
	}

	cert, err := parsePEM(certPEM)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if now.Before(cert.NotBefore) {
		return nil, ErrNotYetValid
	}
	if now.After(cert.NotAfter) {
		return nil, ErrCertExpired
	}

	fp := tokens.SHA256Hex(string(cert.Raw))
	if existing, err := m.store.Certificates().GetByFingerprint(ctx, fp); err == nil && existing.RevokedAt == nil {
		return nil, ErrDuplicateCert
	}

	rec := &core.ClientCertificate{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		Fingerprint:  fp,
		Name:         name,
		SubjectDN:    cert.Subject.String(),
		IssuerDN:     cert.Issuer.String(),
		NotBefore:    cert.NotBefore.UTC(),
		NotAfter:     cert.NotAfter.UTC(),
		RegisteredBy: adminID,
		CreatedAt:    now,
	}
	if err := m.store.Certificates().Create(ctx, rec); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return nil, ErrDuplicateCert
		}
		log.Error("certificate create failed", logger.Err(err))
		return nil, err
	}

	log.Info("certificate registered", logger.ClientID(clientID), logger.Fingerprint(fp))
	audit.Log(ctx, "mtls.cert.registered", map[string]any{
		"client_id":   clientID,
		"fingerprint": fp,
		"admin_id":    adminID,
	})
	return rec, nil
}

// Validate verifica que el cert presentado pertenezca al client, esté
// vigente y no revocado. El hit path va por el hot cache.
func (m *Manager) Validate(ctx context.Context, clientID, certPEM string) (*core.ClientCertificate, error) {
	cert, err := parsePEM(certPEM)
	if err != nil {
		return nil, err
	}
	fp := tokens.SHA256Hex(string(cert.Raw))

	rec, err := m.lookup(ctx, fp)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch {
	case rec.ClientID != clientID:
		return nil, ErrNotRegistered
	case rec.RevokedAt != nil:
		return nil, ErrCertRevoked
	case now.Before(rec.NotBefore):
		return nil, ErrNotYetValid
	case now.After(rec.NotAfter):
		return nil, ErrCertExpired
	}
	return rec, nil
}

// Revoke marca el cert revocado e invalida el cache.
func (m *Manager) Revoke(ctx context.Context, certID, reason, adminID string) error {
	rec, err := m.store.Certificates().GetByID(ctx, certID)
	if err != nil {
		return err
	}
	if err := m.store.Certificates().Revoke(ctx, certID, reason); err != nil {
		return err
	}
	m.hot.Delete(rec.Fingerprint)

	audit.Log(ctx, "mtls.cert.revoked", map[string]any{
		"cert_id":  certID,
		"reason":   reason,
		"admin_id": adminID,
	})
	return nil
}

// ListByClient lista los certificados registrados de un client.
func (m *Manager) ListByClient(ctx context.Context, clientID string) ([]core.ClientCertificate, error) {
	return m.store.Certificates().ListByClient(ctx, clientID)
}

// SubjectInfo son los campos del subject para un CSR.
type SubjectInfo struct {
	CommonName   string
	Organization string
	Country      string
}

// CSRResult trae el CSR y la clave privada en PEM. La clave se entrega una
// sola vez; el paso de firma contra la CA es externo.
type CSRResult struct {
	CSRPEM        string
	PrivateKeyPEM string
}

// IssueCSR genera un par de claves ed25519 y el signing request para la
// identidad del client. Conveniencia operativa.
func (m *Manager) IssueCSR(ctx context.Context, clientID string, info SubjectInfo) (*CSRResult, error) {
	if _, err := m.store.Clients().GetByClientID(ctx, clientID); err != nil {
		return nil, ErrUnknownClientID
	}
	if info.CommonName == "" {
		info.CommonName = clientID
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	subject := pkix.Name{CommonName: info.CommonName}
	if info.Organization != "" {
		subject.Organization = []string{info.Organization}
	}
	if info.Country != "" {
		subject.Country = []string{info.Country}
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{Subject: subject}, priv)
	if err != nil {
		return nil, fmt.Errorf("mtls: create csr: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("mtls: marshal private key: %w", err)
	}

	audit.Log(ctx, "mtls.csr.issued", map[string]any{"client_id": clientID, "cn": info.CommonName})
	return &CSRResult{
		CSRPEM:        string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})),
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})),
	}, nil
}

func (m *Manager) lookup(ctx context.Context, fingerprint string) (*core.ClientCertificate, error) {
	if v, ok := m.hot.Get(fingerprint); ok {
		return v.(*core.ClientCertificate), nil
	}
	rec, err := m.store.Certificates().GetByFingerprint(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrNotRegistered
		}
		return nil, err
	}
	m.hot.SetDefault(fingerprint, rec)
	return rec, nil
}

func parsePEM(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ErrBadCertificate
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, ErrBadCertificate
	}
	return cert, nil
}
