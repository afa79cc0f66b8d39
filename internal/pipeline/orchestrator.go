// Package pipeline wires the full detection flow: tail the audit log,
// parse and vectorize transactions, score them against the model bank,
// keep the bank current, and route anomalies to alerting and review.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/onyagamarcel2/modsec-ai/internal/alerting"
	"github.com/onyagamarcel2/modsec-ai/internal/config"
	"github.com/onyagamarcel2/modsec-ai/internal/dashboard"
	"github.com/onyagamarcel2/modsec-ai/internal/detector"
	"github.com/onyagamarcel2/modsec-ai/internal/eventbus"
	"github.com/onyagamarcel2/modsec-ai/internal/health"
	"github.com/onyagamarcel2/modsec-ai/internal/logparse"
	"github.com/onyagamarcel2/modsec-ai/internal/modelstore"
	"github.com/onyagamarcel2/modsec-ai/internal/preprocess"
	"github.com/onyagamarcel2/modsec-ai/internal/realtime"
	"github.com/onyagamarcel2/modsec-ai/internal/ruleengine"
	"github.com/onyagamarcel2/modsec-ai/internal/store"
	"github.com/onyagamarcel2/modsec-ai/internal/sysmon"
	"github.com/onyagamarcel2/modsec-ai/internal/updater"
	"github.com/onyagamarcel2/modsec-ai/internal/validation"
	"github.com/onyagamarcel2/modsec-ai/internal/vectorize"
	"github.com/onyagamarcel2/modsec-ai/internal/watcher"
)

// Orchestrator manages the pipeline lifecycle.
//
// Lifecycle:
//  1. Start() - builds the model bank, restores artifacts, connects infrastructure
//  2. Run()   - tails the audit log and processes transactions until cancelled
//  3. Stop()  - gracefully closes all connections and resources
//
// The orchestrator implements graceful degradation:
//   - NATS failure: anomalies are still alerted and stored, just not published
//   - Redis failure: vectors are computed instead of cached
//   - Store failure: validation workflow and persistence disabled, detection continues
type Orchestrator struct {
	config *config.Config

	// Core detection flow (required)
	parser       *logparse.Parser
	preprocessor *preprocess.Preprocessor
	vectorizer   *vectorize.Vectorizer
	combiner     *detector.ScoreCombiner
	updater      *updater.ModelUpdater
	artifacts    *modelstore.Store
	stream       *realtime.Detector
	rules        *ruleengine.Engine
	alerts       *alerting.Manager

	// Infrastructure (optional)
	publisher   *eventbus.Publisher
	subscriber  *eventbus.Subscriber
	cache       *vectorize.VectorCache
	db          store.Store
	validations *validation.Manager
	monitor     *sysmon.Monitor
	api         *dashboard.Server
}

// NewOrchestrator creates an Orchestrator with the provided
// configuration. Nothing is started until Start() is called.
func NewOrchestrator(cfg *config.Config) *Orchestrator {
	return &Orchestrator{config: cfg}
}

// Start initializes the detection flow and connects infrastructure.
// Returns an error only when a required component fails.
func (o *Orchestrator) Start(ctx context.Context) error {
	log.Printf("Starting detection pipeline...")

	if err := o.initializeDetection(); err != nil {
		return fmt.Errorf("failed to initialize detection flow: %w", err)
	}

	o.connectStore(ctx)  // Optional - warnings logged on failure
	o.connectRedis()     // Optional
	o.connectNATS()      // Optional
	o.startMonitor(ctx)  // Optional
	o.startDashboard()   // Optional

	health.StartHealthCheckServer(o.config.HealthPort, o.updater.ModelNames)

	log.Printf("Detection pipeline started successfully")
	return nil
}

func (o *Orchestrator) initializeDetection() error {
	o.parser = logparse.NewParser()
	o.preprocessor = preprocess.New()
	o.vectorizer = vectorize.New(o.config.VectorDim)

	combiner, err := detector.NewScoreCombiner(o.config.ScoreOperation, nil)
	if err != nil {
		return err
	}
	o.combiner = combiner

	artifacts, err := modelstore.New(o.config.ModelDir)
	if err != nil {
		return err
	}
	o.artifacts = artifacts

	u, err := updater.New(updater.Options{
		MaxSamples:           o.config.MaxSamples,
		MinSamples:           o.config.MinSamples,
		UpdateInterval:       o.config.UpdateInterval,
		PerformanceThreshold: o.config.PerformanceThreshold,
	})
	if err != nil {
		return err
	}
	detCfg := detector.DefaultConfig()
	detCfg.Contamination = o.config.Contamination
	if err := u.RegisterDefaultBank(detCfg); err != nil {
		return err
	}
	u.WithCollaborators(o.preprocessor, o.vectorizer).WithArtifactStore(artifacts)
	o.updater = u

	// Warm-start from any previous run.
	if err := updater.LoadBank(u, artifacts.LoadAll); err != nil {
		log.Printf("Warning: could not restore model artifacts: %v", err)
	}
	if blob, err := artifacts.Load("vectorizer"); err == nil {
		if err := o.vectorizer.Load(blob); err != nil {
			log.Printf("Warning: could not restore vectorizer: %v", err)
		}
	}

	o.stream = realtime.New(o.config.WindowSize, true, o.config.MinAnomalyRatio)

	o.rules = ruleengine.New()
	if o.config.RulesFile != "" {
		if err := o.rules.LoadFile(o.config.RulesFile); err != nil {
			return fmt.Errorf("failed to load rules from %s: %w", o.config.RulesFile, err)
		}
		log.Printf("Loaded %d detection rules from %s", len(o.rules.Rules()), o.config.RulesFile)
	}

	o.alerts = alerting.NewManager(o.config.MinSeverity, 1000,
		alerting.NotifiersFromConfig(o.config)...)

	log.Printf("Detection flow initialized with %d models: %v",
		len(o.updater.ModelNames()), o.updater.ModelNames())
	return nil
}

// connectStore opens the persistence backend. Without it the validation
// workflow and history persistence are disabled.
func (o *Orchestrator) connectStore(ctx context.Context) {
	log.Printf("Connecting to %s store...", o.config.StoreBackend)

	db, err := store.New(ctx, o.config.StoreBackend, o.config.StoreDSN)
	if err != nil {
		log.Printf("Warning: failed to open store: %v", err)
		log.Printf("Validation workflow and persistence unavailable")
		return
	}

	o.db = db
	o.validations = validation.NewManager(db, o.config.ModSecRuleDir)
	log.Printf("Connected to %s store", o.config.StoreBackend)
}

// connectRedis enables the token-hash vector cache. Without it every
// transaction's vector is recomputed.
func (o *Orchestrator) connectRedis() {
	if o.config.RedisAddr == "" {
		log.Printf("Redis not configured, skipping vector cache")
		return
	}

	log.Printf("Connecting to Redis at: %s", o.config.RedisAddr)

	cache, err := vectorize.NewVectorCache(o.config.RedisAddr, o.config.RedisPassword,
		o.config.RedisDB, time.Hour)
	if err != nil {
		log.Printf("Warning: failed to connect Redis: %v", err)
		log.Printf("Vector cache unavailable - vectors recomputed per transaction")
		return
	}

	o.cache = cache
	log.Printf("Connected to Redis vector cache")
}

// connectNATS enables event publishing and the validation feedback loop.
func (o *Orchestrator) connectNATS() {
	if o.config.NatsURL == "" {
		log.Printf("NATS URL not configured, skipping connection")
		return
	}

	log.Printf("Connecting to NATS at: %s", o.config.NatsURL)

	publisher, err := eventbus.NewPublisher(o.config.NatsURL)
	if err != nil {
		log.Printf("Warning: failed to connect NATS publisher: %v", err)
		log.Printf("Anomalies will not be published to the event bus")
	} else {
		o.publisher = publisher
		log.Printf("Connected to NATS publisher")
	}

	if o.validations != nil {
		subscriber, err := eventbus.NewSubscriber(o.config.NatsURL, o.validations)
		if err != nil {
			log.Printf("Warning: failed to create NATS subscriber: %v", err)
			log.Printf("Validation feedback loop unavailable")
		} else {
			o.subscriber = subscriber
			if err := subscriber.Start(); err != nil {
				log.Printf("Warning: failed to start NATS subscriber: %v", err)
			} else {
				log.Printf("Connected to NATS subscriber")
			}
		}
	} else {
		log.Printf("Skipping NATS subscriber (store unavailable)")
	}
}

func (o *Orchestrator) startMonitor(ctx context.Context) {
	o.monitor = sysmon.New(o.config.MetricsDir, time.Minute)
	if err := o.monitor.Start(ctx); err != nil {
		log.Printf("Warning: failed to start system monitor: %v", err)
		o.monitor = nil
	}
}

func (o *Orchestrator) startDashboard() {
	o.api = dashboard.NewServer(o.config.DashboardPort, o.updater, o.alerts,
		o.validations, o.parser, o.preprocessor, o.vectorizer, o.combiner)
	go func() {
		if err := o.api.Start(); err != nil {
			log.Printf("Warning: dashboard server failed: %v", err)
		}
	}()
}

// Run tails the audit log and processes transactions until the context
// is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	w := watcher.New(o.config.AuditLogPath)

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Run(ctx)
	}()

	log.Printf("Pipeline ready - tailing %s", o.config.AuditLogPath)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Shutdown signal received")
			return ctx.Err()
		case err := <-errChan:
			if err != nil && err != context.Canceled {
				return fmt.Errorf("audit log watcher error: %w", err)
			}
			return err
		case raw, ok := <-w.Transactions():
			if !ok {
				return nil
			}
			o.processTransaction(ctx, raw)
			o.maybeRetrain(ctx)
		}
	}
}

// processTransaction runs one transaction through the full flow.
func (o *Orchestrator) processTransaction(ctx context.Context, raw string) {
	started := time.Now()

	entry, err := o.parser.ParseTransaction(raw)
	if err != nil || entry == nil {
		return
	}

	ruleHits := o.rules.Detect(ruleengine.Fields(entry.Raw()))

	tokens := o.preprocessor.Tokens(entry)
	vector := o.cachedVector(ctx, tokens)

	flagged := len(ruleHits) > 0
	score := 0.0
	perModel := o.updater.ScoreSample(vector)
	if len(perModel) > 0 {
		batch := make(map[string][]float64, len(perModel))
		for name, s := range perModel {
			batch[name] = []float64{s}
		}
		if combined, err := o.combiner.Combine(batch); err == nil {
			score = combined[0]
			if o.stream.Observe(score) {
				flagged = true
			}
		}
	}

	label := 0
	if flagged {
		label = 1
	}
	if err := o.updater.AddSamples([][]float64{vector}, []int{label}); err != nil {
		log.Printf("Failed to buffer sample: %v", err)
	}

	if o.monitor != nil {
		o.monitor.RecordProcessed(time.Since(started))
	}
	if flagged {
		o.handleAnomaly(ctx, entry, score, perModel, ruleHits)
	}
}

func (o *Orchestrator) cachedVector(ctx context.Context, tokens []string) []float64 {
	if o.cache != nil {
		if vec := o.cache.Get(ctx, tokens); vec != nil {
			return vec
		}
	}
	vec := o.vectorizer.Transform(tokens)
	if o.cache != nil {
		o.cache.Put(ctx, tokens, vec)
	}
	return vec
}

func (o *Orchestrator) handleAnomaly(ctx context.Context, entry *logparse.AuditEntry,
	score float64, perModel map[string]float64, ruleHits []ruleengine.Rule) {

	if o.monitor != nil {
		o.monitor.RecordAnomaly()
	}

	severity, message := anomalySeverity(ruleHits, o.stream.ShouldAlert())
	ruleID := entry.RuleID

	alert, triggered := o.alerts.Trigger(alerting.Alert{
		Severity: severity,
		Message:  message,
		Score:    score,
		ClientIP: entry.ClientIP,
		URI:      entry.URI,
		RuleID:   ruleID,
	})
	if triggered && o.db != nil {
		if err := o.db.SaveAlert(ctx, alert); err != nil {
			log.Printf("Failed to persist alert: %v", err)
		}
	}

	var validationID string
	if o.validations != nil {
		v, err := o.validations.Create(ctx, score, entry.ClientIP, entry.URI, message)
		if err != nil {
			log.Printf("Failed to open validation: %v", err)
		} else {
			validationID = v.ID
		}
	}

	if o.publisher != nil {
		event := &eventbus.AnomalyEvent{
			TransactionID: entry.TransactionID,
			Timestamp:     time.Now().Unix(),
			ClientIP:      entry.ClientIP,
			URI:           entry.URI,
			Score:         score,
			ModelScores:   perModel,
			ValidationID:  validationID,
		}
		if err := o.publisher.PublishAnomaly(event); err != nil {
			log.Printf("Failed to publish anomaly: %v", err)
		}
		if triggered {
			if err := o.publisher.PublishAlert(&alert); err != nil {
				log.Printf("Failed to publish alert: %v", err)
			}
		}
	}
}

// anomalySeverity picks the alert severity and message for one flagged
// transaction: the matching rule's severity when one fired, escalated
// to critical when the anomaly ratio over the scoring window has
// crossed the configured burst threshold.
func anomalySeverity(ruleHits []ruleengine.Rule, sustained bool) (string, string) {
	severity := alerting.SeverityHigh
	message := "Anomalous request detected"
	if len(ruleHits) > 0 {
		severity = ruleHits[0].Severity
		message = fmt.Sprintf("Rule %s triggered", ruleHits[0].Name)
	}
	if sustained {
		severity = alerting.SeverityCritical
		message += " (sustained anomaly burst)"
	}
	return severity, message
}

// maybeRetrain runs an update cycle when the policy is due, then
// persists the fresh performance records and the vectorizer.
func (o *Orchestrator) maybeRetrain(ctx context.Context) {
	if !o.updater.ShouldRetrain() {
		return
	}

	log.Printf("Retrain policy met (%d samples buffered), updating models...",
		o.updater.BufferLen())

	if err := o.updater.UpdateModels(); err != nil {
		log.Printf("Model update failed: %v", err)
		return
	}

	if blob, err := o.vectorizer.Save(); err == nil {
		if err := o.artifacts.Save("vectorizer", blob); err != nil {
			log.Printf("Failed to persist vectorizer: %v", err)
		}
	}

	if o.db == nil {
		return
	}
	for model, records := range o.updater.PerformanceHistory() {
		if len(records) == 0 {
			continue
		}
		latest := records[len(records)-1]
		row := store.PerformanceRow{
			Model:       model,
			Timestamp:   latest.Timestamp,
			Performance: latest.Performance,
			Err:         latest.Err,
		}
		if err := o.db.SavePerformance(ctx, row); err != nil {
			log.Printf("Failed to persist performance for %s: %v", model, err)
		}
	}
}

// Stop gracefully closes all connections and releases resources.
func (o *Orchestrator) Stop() error {
	log.Printf("Stopping pipeline...")

	if o.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.api.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down dashboard: %v", err)
		}
	}

	if o.monitor != nil {
		o.monitor.Stop()
	}

	if o.subscriber != nil {
		o.subscriber.Close()
	}

	if o.publisher != nil {
		o.publisher.Close()
	}

	if o.cache != nil {
		if err := o.cache.Close(); err != nil {
			log.Printf("Error closing vector cache: %v", err)
		}
	}

	if o.db != nil {
		if err := o.db.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}

	log.Printf("Pipeline stopped successfully")
	return nil
}
