package ranking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/souqnear/ranking-service/internal/ranking"

// Engine maintains ranked sets incrementally and recomputes them on demand.
type Engine struct {
	catalog Catalog
	store   Store
	config  *Config
	metrics *MetricsRecorder
	logger  zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewEngine creates a new ranking engine.
func NewEngine(catalog Catalog, store Store, config *Config) *Engine {
	if config == nil {
		config = Defaults()
	}
	return &Engine{
		catalog: catalog,
		store:   store,
		config:  config,
		metrics: NewMetricsRecorder(),
		logger:  log.With().Str("component", "ranking_engine").Logger(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// UpdateSummary reports what an offer change did across reference points.
type UpdateSummary struct {
	OfferID    string         `json:"offerId"`
	MerchantID string         `json:"merchantId"`
	ProductID  string         `json:"productId"`
	MarketID   string         `json:"marketId"`
	Action     Action         `json:"action"`
	Points     int            `json:"points"`
	Outcomes   map[string]int `json:"outcomes"`
	Skipped    bool           `json:"skipped,omitempty"`
	SkipReason string         `json:"skipReason,omitempty"`

	CommonRefreshed int `json:"commonRefreshed"`
}

func (s *UpdateSummary) add(outcome string) {
	s.Outcomes[outcome]++
}

// ValidateChange checks that a notification carries what the updater needs.
func ValidateChange(change OfferChange) error {
	o := change.Offer
	switch {
	case !change.Action.Valid():
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEvent, change.Action)
	case o.ID == "":
		return fmt.Errorf("%w: offer id is required", ErrInvalidEvent)
	case o.ProductID == "":
		return fmt.Errorf("%w: product id is required", ErrInvalidEvent)
	case o.MerchantID == "":
		return fmt.Errorf("%w: merchant id is required", ErrInvalidEvent)
	case o.Price < 0 || o.SameCityFee < 0 || o.OtherCityFee < 0:
		return fmt.Errorf("%w: money values must be non-negative", ErrInvalidEvent)
	}
	if err := ValidateLocation(o.Merchant.Location); err != nil {
		return fmt.Errorf("merchant %s: %w", o.MerchantID, err)
	}
	return nil
}

// OnOfferChanged applies one offer change to every active reference point.
// Reference points are processed in parallel. A failure for one point does not
// stop the others; all failures are returned joined together with the summary.
func (e *Engine) OnOfferChanged(ctx context.Context, change OfferChange) (*UpdateSummary, error) {
	startTime := time.Now()
	defer func() {
		e.metrics.RecordOfferChange(change.Action, time.Since(startTime))
	}()

	if change.Offer.Merchant.ID == "" {
		change.Offer.Merchant.ID = change.Offer.MerchantID
	}
	if err := ValidateChange(change); err != nil {
		return nil, err
	}

	marketID := change.MarketID()
	summary := &UpdateSummary{
		OfferID:    change.Offer.ID,
		MerchantID: change.Offer.MerchantID,
		ProductID:  change.Offer.ProductID,
		MarketID:   marketID,
		Action:     change.Action,
		Outcomes:   make(map[string]int),
	}
	if marketID == "" {
		summary.Skipped = true
		summary.SkipReason = "merchant has no market"
		e.logger.Debug().Str("offer_id", change.Offer.ID).Msg("Skipping offer change without market")
		return summary, nil
	}

	// Updates must name an offer the catalog knows; removals may trail a delete.
	if change.Action == ActionUpdate {
		if _, err := e.catalog.Offer(ctx, change.Offer.ID); err != nil {
			return nil, fmt.Errorf("failed to look up offer: %w", err)
		}
	}

	ctx, span := e.tracer.Start(ctx, "ranking.OnOfferChanged", trace.WithAttributes(
		attribute.String("offer.id", change.Offer.ID),
		attribute.String("product.id", change.Offer.ProductID),
		attribute.String("market.id", marketID),
		attribute.String("action", string(change.Action)),
	))
	defer span.End()

	points, err := e.catalog.ReferencePoints(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load reference points")
		return nil, fmt.Errorf("failed to load reference points: %w", err)
	}
	summary.Points = len(points)

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(e.config.FanoutConcurrency)
	for _, point := range points {
		point := point
		g.Go(func() error {
			outcome, err := e.applyToPoint(ctx, point, change, marketID)
			e.metrics.RecordOutcome(outcome)

			mu.Lock()
			defer mu.Unlock()
			summary.add(outcome)
			if err != nil {
				errs = append(errs, fmt.Errorf("reference point %s: %w", point.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if e.config.RefreshCommonOnChange {
		refreshed, err := e.RefreshCommonCategoriesForMerchant(ctx, change.Offer.Merchant, marketID)
		summary.CommonRefreshed = refreshed
		if err != nil {
			errs = append(errs, err)
		}
	}

	e.logger.Debug().
		Str("offer_id", change.Offer.ID).
		Str("action", string(change.Action)).
		Interface("outcomes", summary.Outcomes).
		Dur("duration", time.Since(startTime)).
		Msg("Offer change applied")

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "offer change partially failed")
		return summary, err
	}
	return summary, nil
}

// applyToPoint runs the updater state machine for one reference point.
func (e *Engine) applyToPoint(ctx context.Context, point ReferencePoint, change OfferChange, marketID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.PointTimeout)
	defer cancel()

	offer := change.Offer
	key := Key{ReferencePointID: point.ID, ProductID: offer.ProductID, MarketID: marketID}

	set, th, err := e.load(ctx, key)
	if err != nil {
		return OutcomeFailed, err
	}

	exclude := ""
	if change.Removes() {
		exclude = offer.ID
	}

	if !Consistent(set, th) {
		e.logger.Warn().Str("key", key.String()).Msg("Ranked set and threshold diverged, recomputing")
		if _, err := e.recompute(ctx, point, key, exclude); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeRepaired, nil
	}

	var current []ScoredOffer
	if set != nil {
		current = set.Offers
	}
	inSet := ContainsMerchant(current, offer.MerchantID)

	if change.Removes() {
		if !inSet {
			return OutcomeUntouched, nil
		}
		if _, err := e.recompute(ctx, point, key, exclude); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeRefilled, nil
	}

	candidate := ScoreAgainstPoint(offer, point, e.config.NearThresholdMeters)
	if !inSet && !ShouldAdmit(th, candidate.Score, e.config.TopK) {
		return OutcomeRejected, nil
	}

	_, err = e.store.UpdateRankedSet(ctx, key, func(current []ScoredOffer) ([]ScoredOffer, error) {
		return Upsert(current, candidate, e.config.TopK), nil
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("upsert %s: %w", key, err)
	}
	if inSet {
		return OutcomeUpdated, nil
	}
	return OutcomeAdmitted, nil
}

func (e *Engine) load(ctx context.Context, key Key) (*RankedSet, *Threshold, error) {
	set, th, err := e.store.GetEntry(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", key, err)
	}
	return set, th, nil
}

// RecomputeKey rescores every available offer for the key's product and market
// against the reference point and replaces the ranked set with the best ones.
func (e *Engine) RecomputeKey(ctx context.Context, point ReferencePoint, productID, marketID string) (*RankedSet, error) {
	key := Key{ReferencePointID: point.ID, ProductID: productID, MarketID: marketID}
	return e.recompute(ctx, point, key, "")
}

func (e *Engine) recompute(ctx context.Context, point ReferencePoint, key Key, excludeOfferID string) (*RankedSet, error) {
	startTime := time.Now()

	ctx, span := e.tracer.Start(ctx, "ranking.RecomputeKey", trace.WithAttributes(
		attribute.String("key", key.String()),
	))
	defer span.End()

	offers, err := e.catalog.AvailableOffers(ctx, key.ProductID, key.MarketID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load offers for %s: %w", key, err)
	}

	candidates := make([]ScoredOffer, 0, len(offers))
	for _, o := range offers {
		if o.ID == excludeOfferID || !o.InStock() {
			continue
		}
		if err := ValidateLocation(o.Merchant.Location); err != nil {
			e.logger.Warn().Str("offer_id", o.ID).Str("merchant_id", o.MerchantID).Msg("Skipping offer with invalid merchant coordinates")
			continue
		}
		candidates = append(candidates, ScoreAgainstPoint(o, point, e.config.NearThresholdMeters))
	}
	top := TopK(candidates, e.config.TopK)

	set, err := e.store.UpdateRankedSet(ctx, key, func([]ScoredOffer) ([]ScoredOffer, error) {
		return top, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist %s: %w", key, err)
	}

	e.metrics.RecordRecompute(time.Since(startTime), len(candidates))
	return set, nil
}
