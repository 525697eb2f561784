package scope

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile construye un Registry desde un archivo YAML con la forma:
//
//	scopes:
//	  - name: quote:write
//	    description: Create and update quotes
//	    category: quotes
//	    includes: [quote:read]
func LoadFile(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scope: read table: %w", err)
	}
	var doc struct {
		Scopes []Definition `yaml:"scopes"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("scope: parse table: %w", err)
	}
	if len(doc.Scopes) == 0 {
		return nil, fmt.Errorf("scope: table %s has no scopes", path)
	}
	return NewRegistry(doc.Scopes)
}

// DefaultTable es la tabla de la plataforma. Versionada en código; los
// deployments pueden reemplazarla con scope_table en el YAML de config.
func DefaultTable() []Definition {
	return []Definition{
		{Name: "quote:read", Description: "Read quotes and quote history", Category: "quotes"},
		{Name: "quote:write", Description: "Create and update quotes", Category: "quotes", Includes: []string{"quote:read"}},
		{Name: "policy:read", Description: "Read policies", Category: "policies"},
		{Name: "policy:write", Description: "Create and endorse policies", Category: "policies", Includes: []string{"policy:read"}},
		{Name: "claim:read", Description: "Read claims", Category: "claims"},
		{Name: "claim:write", Description: "File and update claims", Category: "claims", Includes: []string{"claim:read"}},
		{Name: "claim:approve", Description: "Approve or deny claims", Category: "claims", Includes: []string{"claim:write"}, RequiresUser: true},
		{Name: "customer:read", Description: "Read customer records", Category: "customers"},
		{Name: "customer:write", Description: "Create and update customer records", Category: "customers", Includes: []string{"customer:read"}},
		{Name: "ratetable:read", Description: "Read rate tables", Category: "rating"},
		{Name: "clients:manage", Description: "Manage OAuth clients", Category: "admin"},
		{Name: "keys:manage", Description: "Manage API keys", Category: "admin"},
		{Name: "certs:manage", Description: "Manage client certificates", Category: "admin"},
		{Name: "admin:full", Description: "Full administrative access", Category: "admin",
			Includes: []string{"quote:write", "policy:write", "claim:approve", "customer:write", "ratetable:read", "clients:manage", "keys:manage", "certs:manage"},
			RequiresUser: true},
	}
}

// MustDefaultRegistry construye el registry con la tabla por defecto.
// Panic solo si la tabla versionada en código es inconsistente (bug).
func MustDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultTable())
	if err != nil {
		panic(err)
	}
	return r
}
