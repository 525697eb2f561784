package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coverwise/authcore/internal/http/middlewares"
	"github.com/coverwise/authcore/internal/mtls"
	"github.com/coverwise/authcore/internal/store/core"
)

// CertHandlers expone la administración de certificados de client.
type CertHandlers struct {
	mgr *mtls.Manager
}

func NewCertHandlers(mgr *mtls.Manager) *CertHandlers {
	return &CertHandlers{mgr: mgr}
}

type certDTO struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name"`
	SubjectDN   string `json:"subject_dn"`
	IssuerDN    string `json:"issuer_dn"`
	NotBefore   string `json:"not_before"`
	NotAfter    string `json:"not_after"`
	Revoked     bool   `json:"revoked"`
}

func toCertDTO(c *core.ClientCertificate) certDTO {
	return certDTO{
		ID:          c.ID,
		ClientID:    c.ClientID,
		Fingerprint: c.Fingerprint,
		Name:        c.Name,
		SubjectDN:   c.SubjectDN,
		IssuerDN:    c.IssuerDN,
		NotBefore:   c.NotBefore.Format(time.RFC3339),
		NotAfter:    c.NotAfter.Format(time.RFC3339),
		Revoked:     c.RevokedAt != nil,
	}
}

type registerCertBody struct {
	ClientID string `json:"client_id"`
	CertPEM  string `json:"cert_pem"`
	Name     string `json:"name"`
}

// RegisterCert maneja POST /admin/certs.
func (h *CertHandlers) RegisterCert(w http.ResponseWriter, r *http.Request) {
	var body registerCertBody
	if !ReadJSON(w, r, &body) {
		return
	}

	rec, err := h.mgr.Register(r.Context(), body.ClientID, body.CertPEM, body.Name, adminID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toCertDTO(rec))
}

// ListCerts maneja GET /admin/clients/{clientID}/certs.
func (h *CertHandlers) ListCerts(w http.ResponseWriter, r *http.Request) {
	certs, err := h.mgr.ListByClient(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]certDTO, 0, len(certs))
	for i := range certs {
		out = append(out, toCertDTO(&certs[i]))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"certificates": out})
}

// RevokeCert maneja POST /admin/certs/{id}/revoke.
func (h *CertHandlers) RevokeCert(w http.ResponseWriter, r *http.Request) {
	var body revokeBody
	if !ReadJSON(w, r, &body) {
		return
	}
	if err := h.mgr.Revoke(r.Context(), chi.URLParam(r, "id"), body.Reason, adminID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type csrBody struct {
	CommonName   string `json:"common_name"`
	Organization string `json:"organization"`
	Country      string `json:"country"`
}

// IssueCSR maneja POST /admin/clients/{clientID}/csr.
func (h *CertHandlers) IssueCSR(w http.ResponseWriter, r *http.Request) {
	var body csrBody
	if !ReadJSON(w, r, &body) {
		return
	}
	res, err := h.mgr.IssueCSR(r.Context(), chi.URLParam(r, "clientID"), mtls.SubjectInfo{
		CommonName:   body.CommonName,
		Organization: body.Organization,
		Country:      body.Country,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"csr_pem":         res.CSRPEM,
		"private_key_pem": res.PrivateKeyPEM,
	})
}

// adminID identifica al operador para auditoría.
func adminID(r *http.Request) string {
	if p := middlewares.GetPrincipal(r.Context()); p != nil {
		if p.UserID != "" {
			return p.UserID
		}
		return p.ClientID
	}
	return "unknown"
}
