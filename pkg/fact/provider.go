// Package fact resolves a contract's declared facts to values, either
// directly supplied or fetched through a protocol-specific adapter
// (section 4.6).
package fact

import (
	"context"
	"time"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// EnrichedProvenance is the adapter-call record of section 4.6: fact_id,
// source_id, path, the resolved value, and fetch metadata.
type EnrichedProvenance struct {
	FactID          string
	SourceID        string
	Path            string
	Value           bundle.Value
	AssertionSource string
	AdapterID       string
	FetchTimestamp  time.Time
}

// Adapter understands one source protocol (http, database, static,
// manual). Fetch resolves a single fact's value at the given path within
// the named source.
type Adapter interface {
	Protocol() string
	Fetch(ctx context.Context, source *bundle.Source, path string, factType bundle.Type) (bundle.Value, error)
}

// AdapterRegistry dispatches by source protocol to a concrete Adapter.
type AdapterRegistry struct {
	byProtocol map[string]Adapter
}

// NewAdapterRegistry builds a registry with zero adapters registered.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{byProtocol: map[string]Adapter{}}
}

// Register associates an adapter with its protocol tag, overwriting any
// previous registration for that protocol.
func (r *AdapterRegistry) Register(a Adapter) {
	r.byProtocol[a.Protocol()] = a
}

func (r *AdapterRegistry) adapterFor(protocol string) (Adapter, error) {
	a, ok := r.byProtocol[protocol]
	if !ok {
		return nil, tenorerr.New(tenorerr.KindAdapter, "no adapter registered for protocol %q", protocol)
	}
	return a, nil
}

// Provider resolves every fact declared by a contract into a FactSet,
// preferring directly supplied values over structured-source lookups
// (section 4.6's "direct-over-external" rule) and failing the entire
// provision step on any single adapter error ("no partial fact set").
type Provider struct {
	Contract *bundle.Contract
	Adapters *AdapterRegistry
	Cache    Cache
}

// Cache scopes adapter results per (contract_id, snapshot_id) so a value
// fetched for one snapshot never leaks into another — required because a
// per_step flow recaptures its snapshot repeatedly and an at_initiation
// flow must see one fixed value throughout.
type Cache interface {
	Get(contractID, snapshotID, factID string) (bundle.Value, bool)
	Put(contractID, snapshotID, factID string, v bundle.Value)
}

// Resolve builds the fact set for contract, given a direct-supplied subset
// (already-known values, e.g. from an HTTP request body) and the scope
// under which any adapter calls should be cached.
func (p *Provider) Resolve(ctx context.Context, direct bundle.FactSet, snapshotID string) (bundle.FactSet, []EnrichedProvenance, error) {
	resolved := make(bundle.FactSet, len(p.Contract.Facts()))
	var provenance []EnrichedProvenance

	for _, f := range p.Contract.Facts() {
		if v, ok := direct[f.ID]; ok {
			resolved[f.ID] = v
			continue
		}

		if f.Source == nil {
			if f.Default != nil {
				resolved[f.ID] = *f.Default
				continue
			}
			return nil, nil, tenorerr.New(tenorerr.KindMissingFact, "fact %q has no direct value, no source, and no default", f.ID)
		}

		v, rec, err := p.fetchFromSource(ctx, f, snapshotID)
		if err != nil {
			return nil, nil, err
		}
		resolved[f.ID] = v
		provenance = append(provenance, rec)
	}

	return resolved, provenance, nil
}

func (p *Provider) fetchFromSource(ctx context.Context, f *bundle.Fact, snapshotID string) (bundle.Value, EnrichedProvenance, error) {
	source, ok := p.Contract.Source(f.Source.SourceID)
	if !ok {
		return bundle.Value{}, EnrichedProvenance{}, tenorerr.New(tenorerr.KindAdapter, "fact %q references unknown source %q", f.ID, f.Source.SourceID).WithSource(f.Source.SourceID)
	}

	if p.Cache != nil {
		if v, ok := p.Cache.Get(p.Contract.ID, snapshotID, f.ID); ok {
			return v, p.recordFetch(f, source, v), nil
		}
	}

	adapter, err := p.Adapters.adapterFor(source.Protocol)
	if err != nil {
		return bundle.Value{}, EnrichedProvenance{}, err.(*tenorerr.Error).WithSource(source.ID)
	}

	v, err := adapter.Fetch(ctx, source, f.Source.Path, f.Type)
	if err != nil {
		return bundle.Value{}, EnrichedProvenance{}, tenorerr.Wrap(tenorerr.KindAdapter, err, "adapter %q failed to fetch fact %q", source.Protocol, f.ID).WithSource(source.ID)
	}

	if p.Cache != nil {
		p.Cache.Put(p.Contract.ID, snapshotID, f.ID, v)
	}

	return v, p.recordFetch(f, source, v), nil
}

func (p *Provider) recordFetch(f *bundle.Fact, source *bundle.Source, v bundle.Value) EnrichedProvenance {
	return EnrichedProvenance{
		FactID:          f.ID,
		SourceID:        source.ID,
		Path:            f.Source.Path,
		Value:           v,
		AssertionSource: "external",
		AdapterID:       source.Protocol,
		FetchTimestamp:  time.Now(),
	}
}
