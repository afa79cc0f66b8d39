// Package vectorize turns token streams into fixed-dimension numeric vectors.
package vectorize

import (
	"bytes"
	"encoding/gob"
	"errors"
	"hash/fnv"
	"math"
	"sync"
)

const DefaultDim = 256

// Vectorizer is a hashed TF-IDF vectorizer. Tokens are hashed into a
// fixed number of buckets, so the output dimensionality never changes
// after construction regardless of vocabulary drift.
type Vectorizer struct {
	mu sync.RWMutex

	dim     int
	docFreq []float64 // per-bucket document frequency
	nDocs   float64
}

func New(dim int) *Vectorizer {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &Vectorizer{
		dim:     dim,
		docFreq: make([]float64, dim),
	}
}

// Dim returns the fixed output dimensionality.
func (v *Vectorizer) Dim() int {
	return v.dim
}

// Fit accumulates document frequencies from a corpus of tokenized entries.
// Fit may be called repeatedly; later calls extend the statistics.
func (v *Vectorizer) Fit(corpus [][]string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, tokens := range corpus {
		seen := make(map[int]bool)
		for _, tok := range tokens {
			seen[v.bucket(tok)] = true
		}
		for b := range seen {
			v.docFreq[b]++
		}
		v.nDocs++
	}
}

// Transform maps tokens to a dense vector of length Dim. Before any Fit
// call it degrades to plain normalized term frequencies.
func (v *Vectorizer) Transform(tokens []string) []float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	vec := make([]float64, v.dim)
	if len(tokens) == 0 {
		return vec
	}

	for _, tok := range tokens {
		vec[v.bucket(tok)]++
	}

	norm := float64(len(tokens))
	for i := range vec {
		vec[i] /= norm
		if v.nDocs > 0 {
			// Smoothed IDF, as sklearn computes it.
			vec[i] *= math.Log((1+v.nDocs)/(1+v.docFreq[i])) + 1
		}
	}
	return vec
}

// TransformAll vectorizes a batch.
func (v *Vectorizer) TransformAll(corpus [][]string) [][]float64 {
	out := make([][]float64, len(corpus))
	for i, tokens := range corpus {
		out[i] = v.Transform(tokens)
	}
	return out
}

func (v *Vectorizer) bucket(token string) int {
	h := fnv.New32a()
	h.Write([]byte(token))
	return int(h.Sum32() % uint32(v.dim))
}

// Save serializes the fitted state.
func (v *Vectorizer) Save() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v.dim); err != nil {
		return nil, err
	}
	if err := enc.Encode(v.nDocs); err != nil {
		return nil, err
	}
	if err := enc.Encode(v.docFreq); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load restores a previously saved vectorizer state.
func (v *Vectorizer) Load(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	dec := gob.NewDecoder(bytes.NewBuffer(data))
	if err := dec.Decode(&v.dim); err != nil {
		return err
	}
	if err := dec.Decode(&v.nDocs); err != nil {
		return err
	}
	if err := dec.Decode(&v.docFreq); err != nil {
		return err
	}
	if len(v.docFreq) != v.dim {
		return errors.New("vectorizer state corrupt: dimension mismatch")
	}
	return nil
}
