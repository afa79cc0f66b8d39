package updater

import (
	"fmt"
	"log"

	"github.com/onyagamarcel2/modsec-ai/internal/detector"
)

// RegisterDefaultBank fills the updater with the standard model bank:
// isolation forest, local outlier factor, elliptic envelope and the
// ensemble as full-refit entries, the one-class SVM as the incremental
// entry.
func (u *ModelUpdater) RegisterDefaultBank(cfg detector.Config) error {
	factories := []func() detector.Detector{
		func() detector.Detector { return detector.NewIsolationForest(cfg) },
		func() detector.Detector { return detector.NewLocalOutlierFactor(cfg) },
		func() detector.Detector { return detector.NewEllipticEnvelope(cfg) },
		func() detector.Detector { return detector.NewEnsemble(cfg) },
	}
	for _, f := range factories {
		if err := u.RegisterFullRefit(f); err != nil {
			return err
		}
	}
	return u.RegisterIncremental(detector.NewOneClassSVM(cfg))
}

// ScoreSample returns each fitted model's anomaly score for one sample.
// Unfitted models are skipped; an empty result means nothing in the bank
// is fitted yet.
func (u *ModelUpdater) ScoreSample(sample []float64) map[string]float64 {
	u.mu.Lock()
	dets := make(map[string]detector.Detector, len(u.bank))
	for name, e := range u.bank {
		dets[name] = e.det
	}
	u.mu.Unlock()

	out := make(map[string]float64)
	for name, det := range dets {
		score, err := det.Score(sample)
		if err != nil {
			continue
		}
		out[name] = score
	}
	return out
}

// RestoreArtifacts loads previously persisted model state into the bank.
// Artifacts for unknown names or that fail to decode are logged and
// skipped so a stale model directory never blocks startup.
func (u *ModelUpdater) RestoreArtifacts(blobs map[string][]byte) {
	for name, blob := range blobs {
		u.mu.Lock()
		entry, ok := u.bank[name]
		u.mu.Unlock()
		if !ok {
			log.Printf("Ignoring artifact for unknown model %s", name)
			continue
		}
		if err := entry.det.Load(blob); err != nil {
			log.Printf("Failed to restore model %s: %v", name, err)
			continue
		}
		log.Printf("Restored model %s from artifact", name)
	}
}

// LoadBank is a convenience wrapper for restoring every artifact a store
// can list.
func LoadBank(u *ModelUpdater, loadAll func() (map[string][]byte, error)) error {
	blobs, err := loadAll()
	if err != nil {
		return fmt.Errorf("failed to list model artifacts: %w", err)
	}
	u.RestoreArtifacts(blobs)
	return nil
}
