package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/man0l/real-estate-analyzer/ai"
	"github.com/man0l/real-estate-analyzer/models"
	"github.com/man0l/real-estate-analyzer/storage"
	"github.com/man0l/real-estate-analyzer/utils"
)

// EnrichmentStore is the persistence surface the runner needs.
type EnrichmentStore interface {
	StatusCandidates(ctx context.Context, force bool) ([]storage.StatusCandidate, error)
	ImageCandidates(ctx context.Context, force bool) ([]storage.ImageCandidate, error)
	UpdateBuildingStatus(ctx context.Context, propertyID string, status models.BuildingStatus) error
	UpdateImageAnalysis(ctx context.Context, propertyID string, analysis models.ImageAnalysis) error
}

// Completer is the resilient AI client surface.
type Completer interface {
	Complete(ctx context.Context, req ai.Request) (string, error)
}

// Options selects which enrichment passes run and whether already-enriched
// records are redone.
type Options struct {
	Force      bool
	StatusOnly bool
	ImagesOnly bool
}

// Enricher walks the un-enriched records one at a time: descriptions go to
// the text model for building status, first images go to the vision model
// for renovation state. Per-item failures are absorbed; only quota
// exhaustion aborts the run.
type Enricher struct {
	store  EnrichmentStore
	text   Completer
	vision Completer
	logger *utils.Logger

	baseDelay time.Duration
	maxDelay  time.Duration
	sleep     func(time.Duration)
	now       func() time.Time
}

// NewEnricher creates a runner with the default pacing. The text client
// serves the building-status pass, the vision client the image pass.
func NewEnricher(store EnrichmentStore, text, vision Completer, logger *utils.Logger) *Enricher {
	return &Enricher{
		store:  store,
		text:   text,
		vision: vision,
		logger: logger,

		baseDelay: time.Second,
		maxDelay:  30 * time.Second,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Run executes the selected passes. A quota-exhaustion error aborts
// immediately with all completed work preserved; everything else is logged
// per item and skipped.
func (e *Enricher) Run(ctx context.Context, opts Options) error {
	if !opts.ImagesOnly {
		if err := e.runStatusPass(ctx, opts.Force); err != nil {
			return err
		}
	}
	if !opts.StatusOnly {
		if err := e.runImagePass(ctx, opts.Force); err != nil {
			return err
		}
	}
	return nil
}

func (e *Enricher) runStatusPass(ctx context.Context, force bool) error {
	candidates, err := e.store.StatusCandidates(ctx, force)
	if err != nil {
		return fmt.Errorf("enricher: select status candidates: %w", err)
	}
	e.logger.Info("[enrich] Building-status pass: %d properties to analyze", len(candidates))

	pace := newPacer(e.baseDelay, e.maxDelay)
	processed := 0

	for _, c := range candidates {
		if interrupted(ctx) {
			e.logger.Warn("[enrich] Interrupted: %d/%d properties analyzed", processed, len(candidates))
			return nil
		}

		e.logger.Info("[enrich] Analyzing building status of %s", c.ID)
		if err := e.enrichStatus(c); err != nil {
			if errors.Is(err, ai.ErrQuotaExhausted) {
				e.logger.Error("[enrich] Quota exhausted: aborting with %d/%d analyzed", processed, len(candidates))
				return err
			}
			e.logger.Warn("[enrich] %s skipped: %v", c.ID, err)
			e.sleep(pace.failure())
			continue
		}

		processed++
		e.sleep(pace.success())
	}

	e.logger.Info("[enrich] Building-status pass complete: %d/%d analyzed", processed, len(candidates))
	return nil
}

// enrichStatus runs one building-status unit on its own bounded context:
// once the model call has started, neither the call nor the write-back is
// cancelled by a run interrupt, which only takes effect at the next item
// boundary.
func (e *Enricher) enrichStatus(c storage.StatusCandidate) error {
	ctx, cancel := unitContext()
	defer cancel()

	text, err := e.text.Complete(ctx, ai.Request{
		Prompt:      ai.BuildingStatusPrompt(c.Description, e.now()),
		MaxTokens:   150,
		Temperature: 0.1,
	})
	if err != nil {
		return err
	}

	status, err := ai.ParseBuildingStatus(text)
	if err != nil {
		return err
	}

	if err := e.store.UpdateBuildingStatus(ctx, c.ID, status); err != nil {
		return err
	}

	e.logger.Info("[enrich] %s: has_act16=%v plan_date=%v details=%q",
		c.ID, status.HasAct16, status.PlanDate, status.Details)
	return nil
}

func (e *Enricher) runImagePass(ctx context.Context, force bool) error {
	if e.vision == nil {
		e.logger.Warn("[enrich] No vision provider configured, skipping image pass")
		return nil
	}
	candidates, err := e.store.ImageCandidates(ctx, force)
	if err != nil {
		return fmt.Errorf("enricher: select image candidates: %w", err)
	}
	e.logger.Info("[enrich] Image pass: %d properties to analyze", len(candidates))

	pace := newPacer(e.baseDelay, e.maxDelay)
	processed := 0

	for _, c := range candidates {
		if interrupted(ctx) {
			e.logger.Warn("[enrich] Interrupted: %d/%d images analyzed", processed, len(candidates))
			return nil
		}

		e.logger.Info("[enrich] Analyzing first image of %s: %s", c.ID, c.ImageURL)
		updated, err := e.enrichImage(c)
		if err != nil {
			if errors.Is(err, ai.ErrQuotaExhausted) {
				e.logger.Error("[enrich] Quota exhausted: aborting with %d/%d analyzed", processed, len(candidates))
				return err
			}
			e.logger.Warn("[enrich] %s skipped: %v", c.ID, err)
			e.sleep(pace.failure())
			continue
		}

		if updated {
			processed++
		}
		e.sleep(pace.success())
	}

	e.logger.Info("[enrich] Image pass complete: %d/%d analyzed", processed, len(candidates))
	return nil
}

// enrichImage runs one image unit on its own bounded context, mirroring
// enrichStatus. A low-confidence analysis finishes the unit without a
// write and reports updated=false.
func (e *Enricher) enrichImage(c storage.ImageCandidate) (bool, error) {
	ctx, cancel := unitContext()
	defer cancel()

	text, err := e.vision.Complete(ctx, ai.Request{
		Prompt:    ai.ImageAnalysisPrompt(),
		ImageURL:  c.ImageURL,
		MaxTokens: 100,
	})
	if err != nil {
		return false, err
	}

	analysis, err := ai.ParseImageAnalysis(text)
	if err != nil {
		return false, err
	}
	if analysis.Confidence == "low" {
		e.logger.Info("[enrich] %s skipped: low confidence", c.ID)
		return false, nil
	}

	if err := e.store.UpdateImageAnalysis(ctx, c.ID, analysis); err != nil {
		return false, err
	}

	e.logger.Info("[enrich] %s: renovated=%v furnished=%v interior=%v confidence=%s",
		c.ID, analysis.Renovated, analysis.Furnished, analysis.Interior, analysis.Confidence)
	return true, nil
}

// unitContext bounds a single enrichment unit independently of the run
// context. The run context is consulted only between units.
func unitContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Minute)
}

func interrupted(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// pacer adapts the per-item sleep: it doubles on consecutive failures up
// to the cap and decays back toward the base as successes accumulate.
type pacer struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newPacer(base, max time.Duration) *pacer {
	return &pacer{base: base, max: max, current: base}
}

func (p *pacer) failure() time.Duration {
	p.current *= 2
	if p.current > p.max {
		p.current = p.max
	}
	return p.current
}

func (p *pacer) success() time.Duration {
	p.current = p.current * 3 / 4
	if p.current < p.base {
		p.current = p.base
	}
	return p.current
}
