package wasmbridge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/wasmbridge"
)

func TestNewRejectsInvalidModule(t *testing.T) {
	_, err := wasmbridge.New(context.Background(), []byte("not a wasm module"))
	require.Error(t, err)
}
