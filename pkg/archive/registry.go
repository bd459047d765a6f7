package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// maxRecordBytes bounds one archived record, mirroring the teacher
// registry's artifact-bloat guard.
const maxRecordBytes = 10 * 1024 * 1024

// Record is the envelope every archived entry is wrapped in: a kind tag
// (e.g. "flow_execution", "migration") plus the caller's payload,
// rendered as ordinary JSON rather than the teacher's signed envelope —
// no signing surface is in scope here.
type Record struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Registry archives committed flow-execution and migration records as
// immutable blobs in a Store and retrieves them by the hash Store
// returned, the same put/get shape as the teacher's artifacts.Registry
// with the signature-verification step dropped.
type Registry struct {
	store Store
}

// NewRegistry wraps store in a Registry.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Archive marshals payload, wraps it in a Record tagged with kind, and
// stores it, returning the content hash a caller persists alongside the
// flow execution or migration it archived.
func (r *Registry) Archive(ctx context.Context, kind string, payload any) (string, error) {
	if kind == "" {
		return "", errors.New("archive: record kind must not be empty")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("archive: marshal %s payload: %w", kind, err)
	}
	if len(raw) > maxRecordBytes {
		return "", fmt.Errorf("archive: %s payload exceeds %d byte limit", kind, maxRecordBytes)
	}

	data, err := json.Marshal(Record{Kind: kind, Payload: raw})
	if err != nil {
		return "", fmt.Errorf("archive: marshal record: %w", err)
	}
	return r.store.Store(ctx, data)
}

// Retrieve fetches the record at hash and unmarshals its payload into out.
func (r *Registry) Retrieve(ctx context.Context, hash string, out any) (kind string, err error) {
	data, err := r.store.Get(ctx, hash)
	if err != nil {
		return "", err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("archive: corrupt record %s: %w", hash, err)
	}
	if out != nil {
		if err := json.Unmarshal(rec.Payload, out); err != nil {
			return "", fmt.Errorf("archive: unmarshal %s payload: %w", rec.Kind, err)
		}
	}
	return rec.Kind, nil
}
