package updater

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyagamarcel2/modsec-ai/internal/detector"
	"github.com/onyagamarcel2/modsec-ai/internal/evaluation"
)

// fakeDetector scores a sample as its first coordinate with a fixed
// threshold, which makes evaluation outcomes deterministic.
type fakeDetector struct {
	name         string
	fitErr       error
	fitCalls     int
	partialCalls int
	fitted       bool
}

func (f *fakeDetector) Name() string { return f.name }

func (f *fakeDetector) Fit(data [][]float64) error {
	f.fitCalls++
	if f.fitErr != nil {
		return f.fitErr
	}
	if len(data) == 0 {
		return detector.ErrEmptyTraining
	}
	f.fitted = true
	return nil
}

func (f *fakeDetector) Scores(data [][]float64) ([]float64, error) {
	if !f.fitted {
		return nil, detector.ErrNotFitted
	}
	out := make([]float64, len(data))
	for i, row := range data {
		out[i] = row[0]
	}
	return out, nil
}

func (f *fakeDetector) Score(sample []float64) (float64, error) {
	if !f.fitted {
		return 0, detector.ErrNotFitted
	}
	return sample[0], nil
}

func (f *fakeDetector) Threshold() float64    { return 0.5 }
func (f *fakeDetector) Save() ([]byte, error) { return []byte(f.name), nil }
func (f *fakeDetector) Load([]byte) error     { f.fitted = true; return nil }

type fakeIncremental struct {
	fakeDetector
	partialErr error
}

func (f *fakeIncremental) PartialFit(data [][]float64) error {
	f.partialCalls++
	if f.partialErr != nil {
		return f.partialErr
	}
	f.fitted = true
	return nil
}

func sampleVectors(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{float64(i + 1), 0}
	}
	return out
}

func newTestUpdater(t *testing.T, opts Options) *ModelUpdater {
	t.Helper()
	u, err := New(opts)
	require.NoError(t, err)
	return u
}

func TestBufferEvictsOldestBeyondCapacity(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 10, MinSamples: 5})

	require.NoError(t, u.AddSamples(sampleVectors(15), nil))

	assert.Equal(t, 10, u.BufferLen())
	// Samples 6..15 remain, oldest first.
	assert.Equal(t, 6.0, u.buffer[0].Vector[0])
	assert.Equal(t, 15.0, u.buffer[9].Vector[0])
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 3, MinSamples: 1})

	for i := 0; i < 7; i++ {
		require.NoError(t, u.AddSamples([][]float64{{float64(i), 0}}, nil))
		assert.LessOrEqual(t, u.BufferLen(), 3)
	}
	assert.Equal(t, 4.0, u.buffer[0].Vector[0])
}

func TestAddSamplesDropsEmptyVectors(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 10, MinSamples: 5})

	require.NoError(t, u.AddSamples([][]float64{{1, 0}, {}, {2, 0}}, nil))
	assert.Equal(t, 2, u.BufferLen())
}

func TestAddSamplesLabelMismatch(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 10, MinSamples: 5})
	assert.Error(t, u.AddSamples(sampleVectors(3), []int{1}))
}

func TestShouldRetrainMinSamplesBoundary(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5, UpdateInterval: 0})

	require.NoError(t, u.AddSamples(sampleVectors(4), nil))
	assert.False(t, u.ShouldRetrain())

	require.NoError(t, u.AddSamples(sampleVectors(1), nil))
	assert.True(t, u.ShouldRetrain())
}

func TestShouldRetrainRespectsInterval(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5, UpdateInterval: time.Hour, PerformanceThreshold: 0.8})
	require.NoError(t, u.AddSamples(sampleVectors(10), nil))

	assert.False(t, u.ShouldRetrain())

	u.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.True(t, u.ShouldRetrain())
}

func TestShouldRetrainOnDegradedPerformance(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5, UpdateInterval: time.Hour, PerformanceThreshold: 0.8})
	require.NoError(t, u.AddSamples(sampleVectors(10), nil))
	require.False(t, u.ShouldRetrain())

	u.history["isolation_forest"] = []Record{
		{Timestamp: time.Now(), Performance: evaluation.Performance{F1: 0.9}},
		{Timestamp: time.Now(), Performance: evaluation.Performance{F1: 0.4}},
	}
	assert.True(t, u.ShouldRetrain())
}

func TestUpdateModelsEmptyBuffer(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 10, MinSamples: 5})
	assert.Error(t, u.UpdateModels())
}

func TestUpdateModelsGuardedNoop(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5, UpdateInterval: time.Hour})
	fd := &fakeDetector{name: "fake"}
	require.NoError(t, u.RegisterFullRefit(func() detector.Detector { return fd }))
	require.NoError(t, u.AddSamples(sampleVectors(10), nil))

	require.NoError(t, u.UpdateModels())
	assert.Empty(t, u.PerformanceHistory())
	assert.Zero(t, fd.fitCalls)
}

func TestUpdateModelsFullRefitSwapsFreshInstance(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5, UpdateInterval: 0})

	var built []*fakeDetector
	require.NoError(t, u.RegisterFullRefit(func() detector.Detector {
		fd := &fakeDetector{name: "fake"}
		built = append(built, fd)
		return fd
	}))
	require.NoError(t, u.AddSamples(sampleVectors(10), nil))

	require.NoError(t, u.UpdateModels())

	// One instance at registration, one fresh instance for the refit.
	require.Len(t, built, 2)
	assert.Zero(t, built[0].fitCalls)
	assert.Equal(t, 1, built[1].fitCalls)

	live, ok := u.Detector("fake")
	require.True(t, ok)
	assert.Same(t, built[1], live)
}

func TestUpdateModelsIncrementalRefitsInPlace(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5, UpdateInterval: 0})
	fi := &fakeIncremental{fakeDetector: fakeDetector{name: "inc"}}
	require.NoError(t, u.RegisterIncremental(fi))
	require.NoError(t, u.AddSamples(sampleVectors(10), nil))

	require.NoError(t, u.UpdateModels())
	assert.Equal(t, 1, fi.partialCalls)
	assert.Zero(t, fi.fitCalls)

	live, ok := u.Detector("inc")
	require.True(t, ok)
	assert.Same(t, fi, live)
}

func TestUpdateModelsIsolatesFailingDetector(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5, UpdateInterval: 0})

	healthy := &fakeDetector{name: "healthy"}
	require.NoError(t, u.RegisterFullRefit(func() detector.Detector { return healthy }))

	broken := &fakeDetector{name: "broken", fitErr: errors.New("numerical blowup")}
	require.NoError(t, u.RegisterFullRefit(func() detector.Detector { return broken }))

	require.NoError(t, u.AddSamples(sampleVectors(10), nil))
	require.NoError(t, u.UpdateModels())

	history := u.PerformanceHistory()
	require.Len(t, history["healthy"], 1)
	assert.Empty(t, history["healthy"][0].Err)

	require.Len(t, history["broken"], 1)
	assert.Contains(t, history["broken"][0].Err, "numerical blowup")
}

func TestUpdateModelsKeepsBuffer(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5, UpdateInterval: 0})
	require.NoError(t, u.RegisterFullRefit(func() detector.Detector { return &fakeDetector{name: "fake"} }))
	require.NoError(t, u.AddSamples(sampleVectors(10), nil))

	require.NoError(t, u.UpdateModels())
	assert.Equal(t, 10, u.BufferLen())
}

func TestUpdateModelsPersistsArtifacts(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5, UpdateInterval: 0})

	saved := make(map[string][]byte)
	u.WithArtifactStore(artifactFunc(func(name string, blob []byte) error {
		saved[name] = blob
		return nil
	}))

	require.NoError(t, u.RegisterFullRefit(func() detector.Detector { return &fakeDetector{name: "fake"} }))
	require.NoError(t, u.AddSamples(sampleVectors(10), nil))
	require.NoError(t, u.UpdateModels())

	assert.Equal(t, []byte("fake"), saved["fake"])
}

type artifactFunc func(name string, blob []byte) error

func (f artifactFunc) Save(name string, blob []byte) error { return f(name, blob) }

func TestEvaluatePerformanceIsIdempotent(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5, UpdateInterval: 0})
	fd := &fakeDetector{name: "fake", fitted: true}
	require.NoError(t, u.RegisterFullRefit(func() detector.Detector { return fd }))

	vectors := [][]float64{{0.9, 0}, {0.1, 0}, {0.8, 0}, {0.2, 0}}
	labels := []int{1, 0, 1, 0}

	first, err := u.EvaluatePerformance(vectors, labels)
	require.NoError(t, err)
	second, err := u.EvaluatePerformance(vectors, labels)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, first["fake"].F1)
	assert.Empty(t, u.PerformanceHistory())
	assert.Zero(t, u.BufferLen())
}

func TestEvaluatePerformanceSkipsUnfitted(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5})
	require.NoError(t, u.RegisterFullRefit(func() detector.Detector { return &fakeDetector{name: "cold"} }))

	out, err := u.EvaluatePerformance([][]float64{{1, 0}}, []int{1})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPerformanceHistoryReturnsCopy(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5, UpdateInterval: 0})
	require.NoError(t, u.RegisterFullRefit(func() detector.Detector { return &fakeDetector{name: "fake"} }))
	require.NoError(t, u.AddSamples(sampleVectors(10), nil))
	require.NoError(t, u.UpdateModels())

	history := u.PerformanceHistory()
	require.Len(t, history["fake"], 1)
	history["fake"][0].Err = "tampered"
	history["fake"] = nil

	again := u.PerformanceHistory()
	require.Len(t, again["fake"], 1)
	assert.Empty(t, again["fake"][0].Err)
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 10, MinSamples: 5})
	require.NoError(t, u.RegisterFullRefit(func() detector.Detector { return &fakeDetector{name: "dup"} }))
	err := u.RegisterFullRefit(func() detector.Detector { return &fakeDetector{name: "dup"} })
	assert.Error(t, err)
}

func TestInvalidOptions(t *testing.T) {
	cases := []Options{
		{MaxSamples: 0, MinSamples: 1},
		{MaxSamples: 10, MinSamples: 0},
		{MaxSamples: 10, MinSamples: 20},
	}
	for i, opts := range cases {
		_, err := New(opts)
		assert.Error(t, err, fmt.Sprintf("case %d", i))
	}
}

func TestRegisterDefaultBankNames(t *testing.T) {
	u := newTestUpdater(t, Options{MaxSamples: 100, MinSamples: 5})
	require.NoError(t, u.RegisterDefaultBank(detector.DefaultConfig()))

	names := u.ModelNames()
	assert.ElementsMatch(t, []string{
		"isolation_forest", "local_outlier_factor", "elliptic_envelope",
		"ensemble", "one_class_svm",
	}, names)
}
