// Package mock provides the deterministic embedding backend for the mock
// profile: each input string hashes to a stable unit vector, so identical
// text always lands at the same point and replayed runs are byte-identical.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/engramic/engramic/pkg/plugin"
)

// defaultDimensions is used when the profile does not set "dimensions".
const defaultDimensions = 8

func init() {
	plugin.RegisterEmbedding("mock", func(args map[string]any, deps plugin.Deps) (plugin.Embedding, error) {
		dims := defaultDimensions
		if d, ok := args["dimensions"].(int64); ok && d > 0 {
			dims = int(d)
		}
		return &Embedding{store: deps.Mock, dims: dims}, nil
	})
}

// Embedding is the deterministic mock embedder.
type Embedding struct {
	store *plugin.MockStore
	dims  int
}

// GenEmbed returns one stable vector per input, order preserved. Recorded
// data takes precedence when present.
func (m *Embedding) GenEmbed(_ context.Context, inputs []string, args map[string]any) ([][]float32, error) {
	if key := plugin.MockKeyFromArgs(args); key != "" && m.store != nil {
		var recorded [][]float32
		found, err := m.store.Lookup(key, &recorded)
		if err != nil {
			return nil, err
		}
		if found {
			return recorded, nil
		}
	}

	out := make([][]float32, len(inputs))
	for i, s := range inputs {
		out[i] = embed(s, m.dims)
	}
	return out, nil
}

// embed maps text to a unit vector derived from its sha256 digest.
func embed(s string, dims int) []float32 {
	digest := sha256.Sum256([]byte(s))
	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		// Cycle through the digest four bytes at a time.
		off := (i * 4) % (len(digest) - 4)
		u := binary.BigEndian.Uint32(digest[off : off+4])
		v := float64(u)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}
