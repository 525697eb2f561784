// Package rate implementa limitación fixed-window por key.
// La usan la validación de API keys (budget por minuto de cada key) y el
// token endpoint (grants password/client_credentials por client).
package rate

import (
	"context"
	"time"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter cuenta hits por key en ventanas fijas. max es por llamada porque
// cada credencial puede traer su propio límite configurado.
type Limiter interface {
	Allow(ctx context.Context, key string, max int64) (Result, error)
}

// se usa para truncar los timestamps a buckets
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.UTC().Truncate(window)
}
