package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashingDimensions is the vector size of the hashing provider
// when none is configured.
const DefaultHashingDimensions = 512

// Hashing is an offline embedding provider using the hashing trick:
// lowercase word stems and adjacent word pairs are hashed into a fixed
// number of signed buckets and the result is L2-normalized. It captures
// lexical overlap only, but needs no model server and is deterministic.
type Hashing struct {
	dims int
}

// NewHashing creates a hashing provider. dims <= 0 uses
// DefaultHashingDimensions.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &Hashing{dims: dims}
}

// Name implements Provider.
func (h *Hashing) Name() string { return ProviderHashing }

// Model implements Provider.
func (h *Hashing) Model() string { return fmt.Sprintf("hashing-%d", h.dims) }

// Embed implements Provider.
func (h *Hashing) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	words := tokenize(text)

	for i, w := range words {
		h.add(vec, w, 1)
		if i > 0 {
			h.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (h *Hashing) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize splits text into lowercase words of two or more letters or
// digits, with a light plural/gerund stem so "refactoring" and
// "refactor" share a feature.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

func stem(w string) string {
	for _, suffix := range []string{"ing", "ies", "es", "ed", "s"} {
		if strings.HasSuffix(w, suffix) && len(w)-len(suffix) >= 4 {
			return strings.TrimSuffix(w, suffix)
		}
	}
	return w
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "with": true, "you": true, "your": true,
}
