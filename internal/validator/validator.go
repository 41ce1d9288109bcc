package validator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lodeworks/speedlayer/internal/event"
	"github.com/lodeworks/speedlayer/internal/logging"
	"github.com/lodeworks/speedlayer/internal/processor"
)

// FieldConfig describes the constraints a source declares for one payload
// field.
type FieldConfig struct {
	Name      string `json:"name"`
	Required  bool   `json:"required"`
	Type      string `json:"type,omitempty"`
	MinLength int    `json:"min_length,omitempty"`
}

// SourceConfig is the validation-relevant slice of a source's registry
// entry.
type SourceConfig struct {
	SourceID string        `json:"source_id"`
	Fields   []FieldConfig `json:"fields"`
}

// SourceRegistry resolves source ids to their configuration. A (nil, nil)
// return is not an error; the validator falls back to the strict default
// profile.
type SourceRegistry interface {
	GetSourceConfig(ctx context.Context, sourceID string) (*SourceConfig, error)
}

// Emitter publishes follow-up events back into the pipeline. Satisfied by
// *processor.Processor.
type Emitter interface {
	Process(ctx context.Context, evt event.Event) (*processor.Envelope, error)
}

// Config wires a validator.
type Config struct {
	// Collections limits validation to these collections. Empty validates
	// every collection.
	Collections []string
	// BlockOnFailure makes Handle return an error on failed validation so
	// the delivery loop treats the event as undeliverable. Off by default:
	// bad data normally flows on, flagged by its validation event.
	BlockOnFailure bool
	// CacheTTL bounds how long a resolved profile is reused.
	CacheTTL time.Duration
	Registry SourceRegistry
	// Emitter receives the emitted validation events. Nil disables emission;
	// results are then only observable through Stats.
	Emitter Emitter
	Logger  logging.ServiceLogger
}

// Stats aggregates validation outcomes since the last reset.
type Stats struct {
	TotalValidated uint64            `json:"total_validated"`
	Passed         uint64            `json:"passed"`
	Failed         uint64            `json:"failed"`
	PassRate       float64           `json:"pass_rate"`
	BySource       map[string]uint64 `json:"by_source"`
	ByRule         map[string]uint64 `json:"by_rule"`
	LastValidated  time.Time         `json:"last_validated"`
}

// Validator is an event handler that scores data events against their
// source's validation profile and emits the outcome as a validation event.
type Validator struct {
	cfg         Config
	cache       *Cache
	logger      logging.ServiceLogger
	collections map[string]struct{}

	mu    sync.Mutex
	stats Stats
}

// New builds a validator. Registry may be nil, in which case every source
// gets the strict default profile.
func New(cfg Config) *Validator {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	var collections map[string]struct{}
	if len(cfg.Collections) > 0 {
		collections = make(map[string]struct{}, len(cfg.Collections))
		for _, c := range cfg.Collections {
			collections[c] = struct{}{}
		}
	}
	v := &Validator{
		cfg:         cfg,
		cache:       NewCache(cfg.CacheTTL),
		logger:      cfg.Logger,
		collections: collections,
	}
	v.resetStatsLocked()
	return v
}

func (v *Validator) Name() string { return "realtime-validator" }

// Handle validates qualifying data events. Non-qualifying events succeed
// immediately so the validator can sit on any topic.
func (v *Validator) Handle(ctx context.Context, evt event.Event) error {
	de, ok := evt.(*event.DataEvent)
	if !ok || !v.shouldValidate(de) {
		return nil
	}

	profile := v.profileFor(ctx, de.SourceID)
	result := profile.Validate(de.Data)

	// A blocked event comes back through the retry loop with the same
	// payload. The outcome cannot change, so only the first delivery counts
	// toward stats and emits the validation event; redeliveries just repeat
	// the verdict.
	if de.Metadata.RetryCount == 0 {
		v.record(de.SourceID, result)

		ve := event.NewValidationEvent(result.Passed, de.SourceID, de.Collection, de.DocumentID, result.QualityScore)
		ve.Errors = result.Errors
		ve.Warnings = result.Warnings
		meta := ve.Meta()
		meta.CausationID = de.Metadata.EventID
		meta.CorrelationID = de.Metadata.CorrelationID
		if meta.CorrelationID == "" {
			meta.CorrelationID = de.Metadata.EventID
		}

		if v.cfg.Emitter != nil {
			if _, err := v.cfg.Emitter.Process(ctx, ve); err != nil {
				v.logger.Error("failed to emit validation event", err, logging.LogFields{
					"source_id":   de.SourceID,
					"document_id": de.DocumentID,
				})
			}
		}
	}

	if !result.Passed && v.cfg.BlockOnFailure {
		return fmt.Errorf("validation failed for document %s with %d errors", de.DocumentID, len(result.Errors))
	}
	return nil
}

func (v *Validator) OnError(ctx context.Context, evt event.Event, err error) {
	v.logger.Warn("validation handler reported failure", logging.LogFields{
		"event_id": evt.Meta().EventID,
		"error":    err.Error(),
	})
}

// shouldValidate gates on event type and collection membership.
func (v *Validator) shouldValidate(de *event.DataEvent) bool {
	if de.EventType != event.DataCreated && de.EventType != event.DataUpdated {
		return false
	}
	if v.collections == nil {
		return true
	}
	_, ok := v.collections[de.Collection]
	return ok
}

// profileFor resolves the source's profile, preferring the cache, then the
// registry, then the strict default.
func (v *Validator) profileFor(ctx context.Context, sourceID string) *Profile {
	if profile := v.cache.Get(sourceID); profile != nil {
		return profile
	}

	profile := v.buildProfile(ctx, sourceID)
	v.cache.Set(sourceID, profile)
	return profile
}

func (v *Validator) buildProfile(ctx context.Context, sourceID string) *Profile {
	if v.cfg.Registry == nil {
		return StrictDefaultProfile(sourceID)
	}

	cfg, err := v.cfg.Registry.GetSourceConfig(ctx, sourceID)
	if err != nil {
		v.logger.Error("source config lookup failed, using strict defaults", err, logging.LogFields{
			"source_id": sourceID,
		})
		return StrictDefaultProfile(sourceID)
	}
	if cfg == nil {
		return StrictDefaultProfile(sourceID)
	}

	rules := make([]FieldRule, 0, len(cfg.Fields)*3)
	for _, f := range cfg.Fields {
		if f.Required {
			rules = append(rules, FieldRule{Field: f.Name, Rule: RuleNotNull})
		}
		if f.Type != "" {
			rules = append(rules, FieldRule{Field: f.Name, Rule: RuleType, Expected: f.Type})
		}
		if f.MinLength > 0 {
			rules = append(rules, FieldRule{Field: f.Name, Rule: RuleMinLength, Expected: f.MinLength})
		}
	}
	return &Profile{SourceID: sourceID, Rules: rules}
}

func (v *Validator) record(sourceID string, result Result) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.stats.TotalValidated++
	if result.Passed {
		v.stats.Passed++
	} else {
		v.stats.Failed++
	}
	v.stats.BySource[sourceID]++
	for _, issue := range result.Errors {
		v.stats.ByRule[issue.Rule]++
	}
	for _, issue := range result.Warnings {
		v.stats.ByRule[issue.Rule]++
	}
	v.stats.LastValidated = time.Now().UTC()
}

// Stats returns a deep copy of the counters.
func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := v.stats
	if s.TotalValidated > 0 {
		s.PassRate = float64(s.Passed) / float64(s.TotalValidated)
	}
	s.BySource = copyCounts(v.stats.BySource)
	s.ByRule = copyCounts(v.stats.ByRule)
	return s
}

// ResetStats clears all counters.
func (v *Validator) ResetStats() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetStatsLocked()
}

func (v *Validator) resetStatsLocked() {
	v.stats = Stats{
		BySource: make(map[string]uint64),
		ByRule:   make(map[string]uint64),
	}
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, n := range in {
		out[k] = n
	}
	return out
}
