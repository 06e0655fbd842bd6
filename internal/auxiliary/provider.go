package aux

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// HashEmbeddingProvider is the default EmbeddingProvider: it derives a
// fixed-width deterministic vector from the SHA-256 of the input text. It
// exists so the semantic layer has something to exercise end to end without
// pulling in a real embedding SDK, none of which appears anywhere in the
// example corpus. Production deployments inject a real provider instead.
type HashEmbeddingProvider struct {
	Dims int
}

// NewHashEmbeddingProvider returns a provider producing dims-length vectors.
func NewHashEmbeddingProvider(dims int) *HashEmbeddingProvider {
	if dims <= 0 {
		dims = 32
	}
	return &HashEmbeddingProvider{Dims: dims}
}

func (p *HashEmbeddingProvider) Model() string {
	return "hash-sha256-v1"
}

func (p *HashEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out := make([]float32, p.Dims)
	block := []byte(text)
	counter := uint32(0)
	for i := 0; i < p.Dims; i++ {
		if i%8 == 0 {
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], counter)
			counter++
			sum := sha256.Sum256(append(block, buf[:]...))
			block = sum[:]
		}
		byteVal := block[i%len(block)]
		out[i] = (float32(byteVal)/255.0)*2 - 1
	}
	return out, nil
}
