// Package metrics registra las métricas Prometheus del servicio.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once    sync.Once
	initErr error

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Domain metrics
	tokensIssuedTotal     *prometheus.CounterVec
	grantFailuresTotal    *prometheus.CounterVec
	revocationsTotal      *prometheus.CounterVec
	apiKeyValidations     *prometheus.CounterVec
	certValidationsTotal  *prometheus.CounterVec
	rateLimitRejectsTotal *prometheus.CounterVec
)

// Register inicializa y registra las métricas. Devuelve el handler para
// /metrics. Idempotente: llamadas posteriores reusan el registro inicial.
func Register(registry prometheus.Registerer) (http.Handler, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	once.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		tokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_tokens_issued_total",
			Help: "Access tokens emitidos por grant type",
		}, []string{"grant_type"})

		grantFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_grant_failures_total",
			Help: "Intentos de grant fallidos por error",
		}, []string{"grant_type", "error"})

		revocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_revocations_total",
			Help: "Tokens revocados por tipo",
		}, []string{"token_type"})

		apiKeyValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apikey_validations_total",
			Help: "Validaciones de API key por resultado",
		}, []string{"result"}) // ok|invalid|revoked|expired|ip|scope|rate

		certValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtls_cert_validations_total",
			Help: "Validaciones de certificado de client por resultado",
		}, []string{"result"})

		rateLimitRejectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_rejects_total",
			Help: "Requests rechazadas por rate limit",
		}, []string{"kind"}) // apikey|grant

		for _, c := range []prometheus.Collector{
			httpRequestsTotal,
			httpRequestDuration,
			tokensIssuedTotal,
			grantFailuresTotal,
			revocationsTotal,
			apiKeyValidations,
			certValidationsTotal,
			rateLimitRejectsTotal,
		} {
			if err := registerCollector(registry, c); err != nil {
				initErr = err
				return
			}
		}
	})
	if initErr != nil {
		return nil, initErr
	}
	return promhttp.Handler(), nil
}

func registerCollector(r prometheus.Registerer, c prometheus.Collector) error {
	if err := r.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// ObserveHTTP registra una request terminada.
func ObserveHTTP(method, path string, status int, dur time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(dur.Seconds())
}

// TokenIssued cuenta un access token emitido.
func TokenIssued(grantType string) {
	if tokensIssuedTotal != nil {
		tokensIssuedTotal.WithLabelValues(grantType).Inc()
	}
}

// GrantFailure cuenta un grant rechazado.
func GrantFailure(grantType, oauthError string) {
	if grantFailuresTotal != nil {
		grantFailuresTotal.WithLabelValues(grantType, oauthError).Inc()
	}
}

// Revocation cuenta una revocación efectiva.
func Revocation(tokenType string) {
	if revocationsTotal != nil {
		revocationsTotal.WithLabelValues(tokenType).Inc()
	}
}

// APIKeyValidation cuenta una validación de key por resultado.
func APIKeyValidation(result string) {
	if apiKeyValidations != nil {
		apiKeyValidations.WithLabelValues(result).Inc()
	}
}

// CertValidation cuenta una validación de certificado por resultado.
func CertValidation(result string) {
	if certValidationsTotal != nil {
		certValidationsTotal.WithLabelValues(result).Inc()
	}
}

// RateLimitReject cuenta un rechazo por rate limit.
func RateLimitReject(kind string) {
	if rateLimitRejectsTotal != nil {
		rateLimitRejectsTotal.WithLabelValues(kind).Inc()
	}
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
