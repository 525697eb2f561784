// Package scope implementa el registro estático de scopes con jerarquía.
//
// El registro es inmutable después de construirse y se inyecta en los
// componentes que lo necesitan (oauth, apikey). No hay tabla global.
package scope

import (
	"fmt"
	"regexp"
	"sort"
)

// Scope name rules:
// - Lowercase only.
// - Start and end with [a-z0-9].
// - Middle chars may include [a-z0-9:_.-].
// - Length 1..64.
//
// Examples valid: quote:read, claim:approve, a_b-c.d:scope2
// Examples invalid: ;hack, BAD, bad space, :leader, trailer:, "".
var scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidName retorna true si el nombre cumple el patrón permitido.
func ValidName(name string) bool {
	return scopeNameRe.MatchString(name)
}

// Definition describe un scope de la tabla.
type Definition struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Category     string   `yaml:"category"`
	Includes     []string `yaml:"includes"`
	RequiresUser bool     `yaml:"requires_user"`
}

// Registry es la tabla cerrada de scopes. Puramente funcional, sin I/O.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry valida y congela la tabla. Falla si hay nombres inválidos,
// duplicados o edges "includes" hacia scopes desconocidos.
func NewRegistry(defs []Definition) (*Registry, error) {
	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		if !ValidName(d.Name) {
			return nil, fmt.Errorf("scope: invalid name %q", d.Name)
		}
		if _, dup := m[d.Name]; dup {
			return nil, fmt.Errorf("scope: duplicate definition %q", d.Name)
		}
		m[d.Name] = d
	}
	for _, d := range m {
		for _, inc := range d.Includes {
			if _, ok := m[inc]; !ok {
				return nil, fmt.Errorf("scope: %q includes unknown scope %q", d.Name, inc)
			}
		}
	}
	return &Registry{defs: m}, nil
}

// Get retorna la definición de un scope.
func (r *Registry) Get(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// List retorna todas las definiciones ordenadas por nombre.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Known retorna true si el scope existe en la tabla.
func (r *Registry) Known(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// Expand computa el cierre reflexivo-transitivo sobre los edges "includes".
// Scopes desconocidos se ignoran (Validate es quien los rechaza). El visited
// set evita loops aunque la tabla tuviera un ciclo mal configurado.
func (r *Registry) Expand(scopes []string) []string {
	visited := make(map[string]struct{}, len(scopes))
	var walk func(name string)
	walk = func(name string) {
		if _, seen := visited[name]; seen {
			return
		}
		d, ok := r.defs[name]
		if !ok {
			return
		}
		visited[name] = struct{}{}
		for _, inc := range d.Includes {
			walk(inc)
		}
	}
	for _, s := range scopes {
		walk(s)
	}

	out := make([]string, 0, len(visited))
	for s := range visited {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// HasPermission verifica required ∈ Expand(tokenScopes).
func (r *Registry) HasPermission(tokenScopes []string, required string) bool {
	for _, s := range r.Expand(tokenScopes) {
		if s == required {
			return true
		}
	}
	return false
}

// RequiresUser retorna true si alguno de los scopes pedidos exige un
// principal humano (no sirve para client_credentials).
func (r *Registry) RequiresUser(scopes []string) bool {
	for _, s := range r.Expand(scopes) {
		if d, ok := r.defs[s]; ok && d.RequiresUser {
			return true
		}
	}
	return false
}
