// Package updater keeps the detection model bank current with an
// online-learning control loop: a bounded sample buffer, a retrain
// policy, and per-model refresh with performance tracking.
package updater

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/onyagamarcel2/modsec-ai/internal/detector"
	"github.com/onyagamarcel2/modsec-ai/internal/evaluation"
	"github.com/onyagamarcel2/modsec-ai/internal/logparse"
)

// Sample pairs a feature vector with its ground-truth label
// (1 anomaly, 0 normal). Unlabeled traffic is recorded as normal.
type Sample struct {
	Vector []float64
	Label  int
}

// Record is one entry in a model's performance history. Err is set when
// the model's refresh failed during that update cycle.
type Record struct {
	Timestamp   time.Time              `json:"timestamp"`
	Performance evaluation.Performance `json:"performance"`
	Err         string                 `json:"error,omitempty"`
}

// Tokenizer turns a parsed audit entry into feature tokens.
type Tokenizer interface {
	Tokens(entry *logparse.AuditEntry) []string
}

// Vectorizer maps tokens onto a fixed-dimension feature vector.
type Vectorizer interface {
	Transform(tokens []string) []float64
}

// ArtifactStore persists serialized model state, one artifact per name.
type ArtifactStore interface {
	Save(name string, blob []byte) error
}

// Options are the retrain-policy knobs.
type Options struct {
	// MaxSamples bounds the rolling sample buffer; the oldest samples
	// are evicted first.
	MaxSamples int
	// MinSamples is the floor below which no retraining happens.
	MinSamples int
	// UpdateInterval is the elapsed time that, once reached, makes the
	// bank due for retraining.
	UpdateInterval time.Duration
	// PerformanceThreshold triggers early retraining when any model's
	// latest F1 drops below it.
	PerformanceThreshold float64
}

func (o Options) validate() error {
	if o.MaxSamples <= 0 {
		return fmt.Errorf("max samples must be positive, got %d", o.MaxSamples)
	}
	if o.MinSamples <= 0 {
		return fmt.Errorf("min samples must be positive, got %d", o.MinSamples)
	}
	if o.MinSamples > o.MaxSamples {
		return fmt.Errorf("min samples %d exceeds max samples %d", o.MinSamples, o.MaxSamples)
	}
	if o.UpdateInterval < 0 {
		return fmt.Errorf("update interval must not be negative")
	}
	return nil
}

// bankEntry tags a live detector with how it is refreshed. fresh is the
// constructor used by full-refit entries; incremental entries refresh in
// place and leave it nil.
type bankEntry struct {
	det      detector.Detector
	fresh    func() detector.Detector
	strategy detector.FitStrategy
}

// ModelUpdater owns the sample buffer and the model bank. All methods
// are safe for concurrent use; UpdateModels blocks scoring only for the
// duration of the buffer snapshot and the final swap.
type ModelUpdater struct {
	opts Options

	mu         sync.Mutex
	buffer     []Sample
	bank       map[string]*bankEntry
	order      []string // stable iteration order over the bank
	history    map[string][]Record
	lastUpdate time.Time

	tokenizer  Tokenizer
	vectorizer Vectorizer
	artifacts  ArtifactStore

	now func() time.Time
}

// New builds an updater with an empty bank. Register models with
// RegisterFullRefit / RegisterIncremental before the first update.
func New(opts Options) (*ModelUpdater, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid updater options: %w", err)
	}
	u := &ModelUpdater{
		opts:    opts,
		bank:    make(map[string]*bankEntry),
		history: make(map[string][]Record),
		now:     time.Now,
	}
	u.lastUpdate = u.now()
	return u, nil
}

// WithCollaborators wires the tokenizer and vectorizer used by
// AddEntries. Optional when only AddSamples is used.
func (u *ModelUpdater) WithCollaborators(t Tokenizer, v Vectorizer) *ModelUpdater {
	u.tokenizer = t
	u.vectorizer = v
	return u
}

// WithArtifactStore enables persistence of successfully refreshed models.
func (u *ModelUpdater) WithArtifactStore(s ArtifactStore) *ModelUpdater {
	u.artifacts = s
	return u
}

// RegisterFullRefit adds a model that is retrained from scratch each
// cycle. The factory is called once now for the live instance and again
// on every refit; a failed refit leaves the previous instance serving.
func (u *ModelUpdater) RegisterFullRefit(factory func() detector.Detector) error {
	det := factory()
	return u.register(&bankEntry{det: det, fresh: factory, strategy: detector.FullRefit})
}

// RegisterIncremental adds a model that refreshes in place via
// PartialFit. Only detectors that implement IncrementalDetector can be
// registered this way.
func (u *ModelUpdater) RegisterIncremental(det detector.IncrementalDetector) error {
	return u.register(&bankEntry{det: det, strategy: detector.Incremental})
}

func (u *ModelUpdater) register(e *bankEntry) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	name := e.det.Name()
	if _, exists := u.bank[name]; exists {
		return fmt.Errorf("model %s already registered", name)
	}
	u.bank[name] = e
	u.order = append(u.order, name)
	return nil
}

// Detector returns the live instance for name, for scoring.
func (u *ModelUpdater) Detector(name string) (detector.Detector, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.bank[name]
	if !ok {
		return nil, false
	}
	return e.det, true
}

// ModelNames lists the bank in registration order.
func (u *ModelUpdater) ModelNames() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.order...)
}

// AddSamples appends feature vectors to the rolling buffer, evicting the
// oldest beyond capacity. labels may be nil (treated as all-normal); a
// length mismatch is an error. Models are never touched here.
func (u *ModelUpdater) AddSamples(vectors [][]float64, labels []int) error {
	if labels != nil && len(labels) != len(vectors) {
		return fmt.Errorf("got %d labels for %d samples", len(labels), len(vectors))
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	for i, vec := range vectors {
		if len(vec) == 0 {
			log.Printf("Dropping empty sample at index %d", i)
			continue
		}
		s := Sample{Vector: vec}
		if labels != nil {
			s.Label = labels[i]
		}
		u.buffer = append(u.buffer, s)
	}
	if over := len(u.buffer) - u.opts.MaxSamples; over > 0 {
		u.buffer = append([]Sample(nil), u.buffer[over:]...)
	}
	return nil
}

// AddEntries tokenizes and vectorizes parsed audit entries through the
// injected collaborators, then buffers them. Entries that produce no
// tokens are dropped and logged, never aborting the batch.
func (u *ModelUpdater) AddEntries(entries []*logparse.AuditEntry, labels []int) error {
	if u.tokenizer == nil || u.vectorizer == nil {
		return fmt.Errorf("tokenizer and vectorizer not configured")
	}
	if labels != nil && len(labels) != len(entries) {
		return fmt.Errorf("got %d labels for %d entries", len(labels), len(entries))
	}

	vectors := make([][]float64, 0, len(entries))
	kept := make([]int, 0, len(entries))
	for i, entry := range entries {
		if entry == nil {
			log.Printf("Dropping nil audit entry at index %d", i)
			continue
		}
		tokens := u.tokenizer.Tokens(entry)
		if len(tokens) == 0 {
			log.Printf("Dropping audit entry %s: no feature tokens", entry.TransactionID)
			continue
		}
		vectors = append(vectors, u.vectorizer.Transform(tokens))
		if labels != nil {
			kept = append(kept, labels[i])
		}
	}
	if labels == nil {
		return u.AddSamples(vectors, nil)
	}
	return u.AddSamples(vectors, kept)
}

// BufferLen reports the current buffer occupancy.
func (u *ModelUpdater) BufferLen() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.buffer)
}

// ShouldRetrain reports whether the bank is due for an update: the
// buffer has reached MinSamples and either UpdateInterval has elapsed or
// some model's latest F1 fell below PerformanceThreshold. It never
// mutates state.
func (u *ModelUpdater) ShouldRetrain() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.shouldRetrainLocked()
}

func (u *ModelUpdater) shouldRetrainLocked() bool {
	if len(u.buffer) < u.opts.MinSamples {
		return false
	}
	if u.now().Sub(u.lastUpdate) >= u.opts.UpdateInterval {
		return true
	}
	for _, records := range u.history {
		if len(records) == 0 {
			continue
		}
		if records[len(records)-1].Performance.F1 < u.opts.PerformanceThreshold {
			return true
		}
	}
	return false
}

// UpdateModels runs one retrain cycle. It is an error when the buffer is
// empty and a guarded no-op when the retrain policy is not met. Each
// model refreshes according to its strategy; one model's failure is
// recorded in its history and never stops the others. The buffer is a
// sliding window and survives the cycle intact.
func (u *ModelUpdater) UpdateModels() error {
	u.mu.Lock()
	if len(u.buffer) == 0 {
		u.mu.Unlock()
		return fmt.Errorf("no samples buffered for retraining")
	}
	if !u.shouldRetrainLocked() {
		u.mu.Unlock()
		return nil
	}
	snapshot := append([]Sample(nil), u.buffer...)
	u.mu.Unlock()

	train, holdout := splitHoldout(snapshot)
	trainVectors := vectorsOf(train)
	holdoutVectors := vectorsOf(holdout)
	holdoutLabels := labelsOf(holdout)

	now := u.now()
	refreshed := make(map[string]detector.Detector)
	records := make(map[string]Record)

	for _, name := range u.ModelNames() {
		u.mu.Lock()
		entry := u.bank[name]
		u.mu.Unlock()

		det, err := refreshEntry(entry, trainVectors)
		if err != nil {
			log.Printf("Model %s failed to retrain: %v", name, err)
			records[name] = Record{Timestamp: now, Err: err.Error()}
			continue
		}

		perf, err := evaluateDetector(det, holdoutVectors, holdoutLabels)
		if err != nil {
			log.Printf("Model %s failed evaluation: %v", name, err)
			records[name] = Record{Timestamp: now, Err: err.Error()}
			continue
		}

		refreshed[name] = det
		records[name] = Record{Timestamp: now, Performance: perf}

		if u.artifacts != nil {
			blob, err := det.Save()
			if err != nil {
				log.Printf("Model %s failed to serialize: %v", name, err)
				continue
			}
			if err := u.artifacts.Save(name, blob); err != nil {
				log.Printf("Model %s failed to persist: %v", name, err)
			}
		}
	}

	u.mu.Lock()
	for name, det := range refreshed {
		u.bank[name].det = det
	}
	for name, rec := range records {
		u.history[name] = append(u.history[name], rec)
	}
	u.lastUpdate = now
	u.mu.Unlock()

	log.Printf("Model update complete: %d/%d models refreshed on %d samples",
		len(refreshed), len(records), len(trainVectors))
	return nil
}

// refreshEntry applies the entry's fit strategy and returns the instance
// that should serve after the cycle. Full refit trains a fresh instance
// so a failure leaves the previous one untouched.
func refreshEntry(e *bankEntry, train [][]float64) (detector.Detector, error) {
	switch e.strategy {
	case detector.Incremental:
		inc, ok := e.det.(detector.IncrementalDetector)
		if !ok {
			return nil, fmt.Errorf("model %s registered incremental without PartialFit", e.det.Name())
		}
		if err := inc.PartialFit(train); err != nil {
			return nil, err
		}
		return e.det, nil
	case detector.FullRefit:
		fresh := e.fresh()
		if err := fresh.Fit(train); err != nil {
			return nil, err
		}
		return fresh, nil
	default:
		return nil, fmt.Errorf("unknown fit strategy %q", e.strategy)
	}
}

func evaluateDetector(det detector.Detector, vectors [][]float64, labels []int) (evaluation.Performance, error) {
	scores, err := det.Scores(vectors)
	if err != nil {
		return evaluation.Performance{}, err
	}
	preds := make([]int, len(scores))
	for i, s := range scores {
		if s >= det.Threshold() {
			preds[i] = 1
		}
	}
	return evaluation.Evaluate(preds, scores, labels), nil
}

// EvaluatePerformance scores labeled vectors against every fitted model.
// It is pure: repeated calls on the same inputs return the same result
// and nothing in the updater changes.
func (u *ModelUpdater) EvaluatePerformance(vectors [][]float64, labels []int) (map[string]evaluation.Performance, error) {
	if len(vectors) != len(labels) {
		return nil, fmt.Errorf("got %d labels for %d vectors", len(labels), len(vectors))
	}

	u.mu.Lock()
	dets := make(map[string]detector.Detector, len(u.bank))
	for name, e := range u.bank {
		dets[name] = e.det
	}
	u.mu.Unlock()

	out := make(map[string]evaluation.Performance, len(dets))
	for name, det := range dets {
		perf, err := evaluateDetector(det, vectors, labels)
		if err != nil {
			log.Printf("Skipping %s in evaluation: %v", name, err)
			continue
		}
		out[name] = perf
	}
	return out, nil
}

// PerformanceHistory returns a copy of the append-only history keyed by
// model name.
func (u *ModelUpdater) PerformanceHistory() map[string][]Record {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string][]Record, len(u.history))
	for name, records := range u.history {
		out[name] = append([]Record(nil), records...)
	}
	return out
}

// splitHoldout reserves the newest fifth of the snapshot (at least one
// sample) for evaluation. A single-sample snapshot trains and evaluates
// on the same sample.
func splitHoldout(snapshot []Sample) (train, holdout []Sample) {
	n := len(snapshot)
	if n < 2 {
		return snapshot, snapshot
	}
	h := n / 5
	if h < 1 {
		h = 1
	}
	return snapshot[:n-h], snapshot[n-h:]
}

func vectorsOf(samples []Sample) [][]float64 {
	out := make([][]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Vector
	}
	return out
}

func labelsOf(samples []Sample) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = s.Label
	}
	return out
}
