// Package rag implements the chunking and embedding half of C10: turning
// a code file, document, or ticket body into embedding rows. Adapted from
// the teacher's agents/rag/embedder.go Embedder (Voyage AI call with a
// deterministic SHA-256 feature-hashing fallback when no API key is
// configured) — the HTTP call itself is the out-of-scope "embedding
// provider" collaborator (SPEC_FULL.md §1), kept here only as the
// fallback path plus the internal/external.EmbeddingProvider seam.
package rag

import (
	"context"
	"crypto/sha256"
	"os"
	"strings"
	"time"

	"github.com/madhatter5501/dispatchd/internal/external"
)

const hashDimensions = 256

// HashEmbedder is the dependency-free fallback embedding provider: a
// deterministic feature-hashing vectorizer over unigrams and bigrams,
// used whenever no real external.EmbeddingProvider is configured (no API
// key present), exactly as the teacher's hashEmbeddings does for its
// Voyage AI fallback.
type HashEmbedder struct{}

// NewHashEmbedder constructs the fallback embedder. Present as a
// constructor (rather than a bare value) to mirror the teacher's
// NewEmbedder shape and leave room for future options.
func NewHashEmbedder() *HashEmbedder { return &HashEmbedder{} }

// Embed implements external.EmbeddingProvider.
func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return textToHashVector(text, hashDimensions), nil
}

// EmbedBatch implements external.EmbeddingProvider.
func (h HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func textToHashVector(text string, dimensions int) []float32 {
	text = strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(text)
	features := make(map[string]int)

	for _, w := range words {
		features[w]++
	}
	for i := 0; i < len(words)-1; i++ {
		features[words[i]+" "+words[i+1]]++
	}

	vector := make([]float32, dimensions)
	var magnitude float64
	for feature, count := range features {
		hash := sha256.Sum256([]byte(feature))
		idx := (int(hash[0])<<8 | int(hash[1])) % dimensions
		sign := float32(1.0)
		if hash[4]&1 == 1 {
			sign = -1.0
		}
		vector[idx] += sign * float32(count)
		magnitude += float64(vector[idx] * vector[idx])
	}
	if magnitude > 0 {
		inv := float32(1.0 / magnitude)
		for i := range vector {
			vector[i] *= inv
		}
	}
	return vector
}

// ResolveEmbedder returns a real external.EmbeddingProvider when one is
// injected, otherwise the hash fallback — the same
// configured-key-or-fallback decision the teacher's NewEmbedder makes
// inline, pulled out so callers can inject a provider for tests.
func ResolveEmbedder(provider external.EmbeddingProvider) external.EmbeddingProvider {
	if provider != nil {
		return provider
	}
	return NewHashEmbedder()
}

// EmbeddingTimeout bounds a single Embed/EmbedBatch call, matching the
// teacher's 30s HTTP client timeout.
const EmbeddingTimeout = 30 * time.Second

// HasExternalAPIKey reports whether an external embedding provider appears
// configured via environment, mirroring the teacher's VOYAGE_API_KEY
// presence check; used only to decide log verbosity at startup.
func HasExternalAPIKey() bool {
	return os.Getenv("VOYAGE_API_KEY") != ""
}
