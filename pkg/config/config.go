// Package config loads process configuration for the Tenor core: storage
// backend selection, telemetry export target, and the flow-executor and
// analyzer bounds named as "configuration, but the bounds must exist" in
// sections 4.5 and 4.9. Environment variables are the base layer; an
// optional YAML deployment profile (see profile_loader.go) overrides the
// numeric bounds per environment without a rebuild.
package config

import (
	"os"
	"strconv"

	"github.com/riverline-labs/tenor/pkg/flow"
)

// StorageBackend names which storage.Backend implementation to construct.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageSQL    StorageBackend = "sql"
)

// Config holds the process-level configuration for a Tenor core instance.
type Config struct {
	// Storage selects the backend; StorageDSN is its connection string
	// (unused for StorageMemory).
	Storage    StorageBackend
	StorageDSN string

	// OTLPEndpoint is passed to pkg/telemetry's exporter; empty disables
	// tracing/metrics export.
	OTLPEndpoint string
	ServiceName  string

	// FlowLimits bounds the flow executor, section 4.5.
	FlowLimits flow.Limits

	// MaxPaths/MaxDepth bound the analyzer's path enumeration, section
	// 4.9 S6.
	MaxPaths int
	MaxDepth int

	// AdapterTimeoutMS bounds one adapter fetch call, section 4.6.
	AdapterTimeoutMS int
}

// Default returns the configuration the core runs with when no
// environment variables are set: in-memory storage, telemetry disabled,
// and the spec's named default bounds.
func Default() Config {
	return Config{
		Storage:          StorageMemory,
		ServiceName:      "tenor",
		FlowLimits:       flow.DefaultLimits,
		MaxPaths:         10000,
		MaxDepth:         1000,
		AdapterTimeoutMS: 5000,
	}
}

// Load builds a Config from environment variables, falling back to
// Default() for anything unset:
//
//	TENOR_STORAGE            "memory" | "sql"            (default "memory")
//	TENOR_STORAGE_DSN        backend connection string   (default "")
//	TENOR_OTLP_ENDPOINT      OTLP gRPC collector address (default "", disabled)
//	TENOR_SERVICE_NAME       service name for telemetry  (default "tenor")
//	TENOR_MAX_STEPS          flow executor step limit    (default 1000)
//	TENOR_MAX_DEPTH          flow/subflow depth limit    (default 64)
//	TENOR_MAX_PATHS          S6 path-enumeration cap     (default 10000)
//	TENOR_MAX_PATH_DEPTH     S6 depth cap                (default 1000)
//	TENOR_ADAPTER_TIMEOUT_MS adapter fetch timeout in ms (default 5000)
func Load() Config {
	cfg := Default()

	if v := os.Getenv("TENOR_STORAGE"); v != "" {
		cfg.Storage = StorageBackend(v)
	}
	cfg.StorageDSN = os.Getenv("TENOR_STORAGE_DSN")
	cfg.OTLPEndpoint = os.Getenv("TENOR_OTLP_ENDPOINT")
	if v := os.Getenv("TENOR_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}

	if v := envInt("TENOR_MAX_STEPS"); v > 0 {
		cfg.FlowLimits.MaxSteps = v
	}
	if v := envInt("TENOR_MAX_DEPTH"); v > 0 {
		cfg.FlowLimits.MaxDepth = v
	}
	if v := envInt("TENOR_MAX_PATHS"); v > 0 {
		cfg.MaxPaths = v
	}
	if v := envInt("TENOR_MAX_PATH_DEPTH"); v > 0 {
		cfg.MaxDepth = v
	}
	if v := envInt("TENOR_ADAPTER_TIMEOUT_MS"); v > 0 {
		cfg.AdapterTimeoutMS = v
	}

	return cfg
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
