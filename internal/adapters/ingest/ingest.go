// Package ingest defines the provider export adapters and their registry.
//
// Each adapter understands one file format (delimited text, nested
// structured documents, tagged markup) and extracts uninterpreted raw
// records from it. Adapters are stateless and never touch the store;
// all interpretation of field names, units and timestamps belongs to
// the mapper.
package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/mirek/vita/internal/domain/model"
)

// SniffLen is how many leading bytes of a file the registry needs to
// identify its format when no provider was declared.
const SniffLen = 4096

// RawRecord is a single uninterpreted observation extracted from a
// provider export. Values are kept exactly as they appear in the file.
type RawRecord struct {
	FieldName     string
	RawValue      string
	UnitHint      string
	TimestampRaw  string
	Provider      model.Provider
	OffsetMinutes int // minutes east of UTC, valid only when HasOffset
	HasOffset     bool
}

// Payload is the result of parsing one export file.
type Payload struct {
	Provider      model.Provider
	Records       []RawRecord
	MalformedRows int
}

// Adapter parses one export format into raw records.
type Adapter interface {
	// Name returns the adapter's format name.
	Name() string

	// Detect reports whether the leading bytes look like this adapter's
	// format, and the concrete provider when the envelope carries a
	// recognizable signature.
	Detect(peek []byte) (model.Provider, bool)

	// Parse reads the whole export and extracts raw records. Malformed
	// rows are skipped and counted, never fatal; an export whose
	// envelope does not match the adapter's format is ErrUnsupportedFormat.
	Parse(ctx context.Context, r io.Reader) (*Payload, error)
}

// Registry selects the adapter for a file, either by the job's declared
// provider or by sniffing the envelope.
type Registry struct {
	adapters   []Adapter
	byProvider map[model.Provider]Adapter
}

// NewRegistry creates a registry with the built-in adapters registered,
// then applies configuration options.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byProvider: make(map[model.Provider]Adapter),
	}

	r.register(NewCSVAdapter(), model.ProviderGarmin, model.ProviderCronometer, model.ProviderManual)
	r.register(NewJSONAdapter(), model.ProviderFitbit, model.ProviderOura)
	r.register(NewXMLAdapter(), model.ProviderAppleHealth)

	// Apply all options
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// register binds an adapter to the providers it can parse.
func (r *Registry) register(a Adapter, providers ...model.Provider) {
	r.adapters = append(r.adapters, a)
	for _, p := range providers {
		r.byProvider[p] = a
	}
}

// Resolve returns the adapter for a file along with the provider it
// will be attributed to. When declared is empty the envelope is sniffed;
// an unrecognized envelope is ErrUnsupportedFormat.
func (r *Registry) Resolve(declared model.Provider, peek []byte) (Adapter, model.Provider, error) {
	if declared != "" {
		a, ok := r.byProvider[declared]
		if !ok {
			return nil, "", fmt.Errorf("%w: no adapter for provider %q", ErrUnsupportedFormat, declared)
		}
		return a, declared, nil
	}

	for _, a := range r.adapters {
		if p, ok := a.Detect(peek); ok {
			if p == "" {
				return nil, "", fmt.Errorf("%w: %s envelope without provider signature", ErrUnsupportedFormat, a.Name())
			}
			return a, p, nil
		}
	}

	return nil, "", fmt.Errorf("%w: unrecognized envelope", ErrUnsupportedFormat)
}

// Providers returns the providers the registry can parse.
func (r *Registry) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(r.byProvider))
	for p := range r.byProvider {
		out = append(out, p)
	}
	return out
}
