package adapters

import (
	"strings"

	billingdomain "github.com/smallbiznis/accessflow/internal/billing/domain"
)

type Registry struct {
	providers map[string]billingdomain.Provider
}

func NewRegistry(providers ...billingdomain.Provider) *Registry {
	registry := &Registry{providers: map[string]billingdomain.Provider{}}
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := normalize(p.Name())
		if name == "" {
			continue
		}
		registry.providers[name] = p
	}
	return registry
}

func (r *Registry) Get(name string) (billingdomain.Provider, error) {
	if r == nil {
		return nil, billingdomain.ErrProviderNotFound
	}
	p, ok := r.providers[normalize(name)]
	if !ok {
		return nil, billingdomain.ErrProviderNotFound
	}
	return p, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
