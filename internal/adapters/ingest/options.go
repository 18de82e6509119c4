// Package ingest defines the provider export adapters and their registry.
package ingest

import "github.com/mirek/vita/internal/domain/model"

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithAdapter registers an additional adapter for the given providers.
// Later registrations win provider lookups; sniffing tries adapters in
// registration order.
func WithAdapter(a Adapter, providers ...model.Provider) Option {
	return func(r *Registry) {
		if a != nil {
			r.register(a, providers...)
		}
	}
}
