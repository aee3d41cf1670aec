package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimension = 384

// HashProvider is an offline lexical embedder. Each token and adjacent token
// pair is hashed into one of Dimension buckets with a hash-derived sign, and
// the result is L2-normalized. Texts sharing vocabulary get positive cosine
// similarity; identical texts get identical vectors.
type HashProvider struct {
	dim int
}

// NewHashProvider returns a HashProvider; dim <= 0 selects 384.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = defaultHashDimension
	}
	return &HashProvider{dim: dim}
}

func (p *HashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *HashProvider) Dimension() int  { return p.dim }
func (p *HashProvider) Available() bool { return true }

func (p *HashProvider) vector(text string) []float32 {
	vec := make([]float32, p.dim)
	tokens := Tokenize(text)
	for i, tok := range tokens {
		p.add(vec, tok, 1)
		if i > 0 {
			p.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func (p *HashProvider) add(vec []float32, feature string, weight float32) {
	h := fnv.New32a()
	h.Write([]byte(feature))
	sum := h.Sum32()
	idx := int(sum % uint32(p.dim))
	if sum&0x80000000 != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
