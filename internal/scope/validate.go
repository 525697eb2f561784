package scope

import (
	"errors"
	"fmt"
)

// ErrInvalidScope es el sentinel para cualquier rechazo de scopes.
// Mapea al error code OAuth2 "invalid_scope".
var ErrInvalidScope = errors.New("invalid_scope")

// Validate verifica que todos los scopes pedidos existan y, si se pasa una
// lista allowed (los scopes del client o de la key padre), que el pedido sea
// subconjunto del cierre de allowed. Retorna el cierre del pedido.
func (r *Registry) Validate(requested []string, allowed []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: empty scope", ErrInvalidScope)
	}
	for _, s := range requested {
		if !r.Known(s) {
			return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidScope, s)
		}
	}
	if allowed != nil {
		allowedSet := make(map[string]struct{})
		for _, s := range r.Expand(allowed) {
			allowedSet[s] = struct{}{}
		}
		for _, s := range requested {
			if _, ok := allowedSet[s]; !ok {
				return nil, fmt.Errorf("%w: scope %q not allowed", ErrInvalidScope, s)
			}
		}
	}
	return r.Expand(requested), nil
}

// Subset verifica que cada scope de sub esté cubierto por el cierre de super.
// Lo usa apikey.CreateScoped para que una key derivada nunca amplíe permisos.
func (r *Registry) Subset(sub, super []string) bool {
	superSet := make(map[string]struct{})
	for _, s := range r.Expand(super) {
		superSet[s] = struct{}{}
	}
	for _, s := range sub {
		if _, ok := superSet[s]; !ok {
			return false
		}
	}
	return true
}
