// Package export writes ranked sets to the archive for operators.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/souqnear/ranking-service/internal/ranking"
	"github.com/souqnear/ranking-service/internal/storage"
)

// Supported formats.
const (
	FormatXLSX = "xlsx"
	FormatJSON = "json"
)

const (
	offersSheet     = "Ranked offers"
	thresholdsSheet = "Thresholds"
)

var offerHeader = []interface{}{
	"Product", "Rank", "Merchant", "Business name", "Offer", "Price", "Delivery fee",
	"Score", "Distance (m)", "Nearby", "Quantity", "City", "Calculated at",
}

var thresholdHeader = []interface{}{"Product", "Occupancy", "Worst score", "Updated at"}

// Result describes a written export.
type Result struct {
	Key        string `json:"key"`
	Format     string `json:"format"`
	RankedSets int    `json:"rankedSets"`
	Offers     int    `json:"offers"`
	Size       int    `json:"size"`
}

// document is the JSON export layout.
type document struct {
	ReferencePointID string               `json:"referencePointId"`
	MarketID         string               `json:"marketId"`
	GeneratedAt      time.Time            `json:"generatedAt"`
	RankedSets       []*ranking.RankedSet `json:"rankedSets"`
	Thresholds       []*ranking.Threshold `json:"thresholds"`
}

// Exporter renders the ranked sets of one reference point and market.
type Exporter struct {
	store   ranking.Store
	archive storage.Storage
	logger  zerolog.Logger
	now     func() time.Time
}

// NewExporter creates an exporter writing to archive. store may be nil when
// only the archive operations are used.
func NewExporter(store ranking.Store, archive storage.Storage) *Exporter {
	return &Exporter{
		store:   store,
		archive: archive,
		logger:  log.With().Str("component", "export").Logger(),
		now:     time.Now,
	}
}

// Export writes every ranked set of the reference point and market.
func (e *Exporter) Export(ctx context.Context, referencePointID, marketID, format string) (*Result, error) {
	if referencePointID == "" || marketID == "" {
		return nil, ranking.ErrInvalidRequest{Field: "referencePointId", Reason: "reference point and market are required"}
	}
	if format != FormatXLSX && format != FormatJSON {
		return nil, ranking.ErrInvalidRequest{Field: "format", Reason: fmt.Sprintf("unsupported format %q", format)}
	}

	sets, err := e.store.ListRankedSets(ctx, referencePointID, marketID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to list ranked sets: %w", err)
	}

	thresholds := make([]*ranking.Threshold, 0, len(sets))
	offers := 0
	for _, set := range sets {
		offers += len(set.Offers)
		th, err := e.store.GetThreshold(ctx, set.Key)
		if errors.Is(err, ranking.ErrNotFound) {
			derived := ranking.ThresholdFor(set.Key, set.Offers, set.CalculatedAt)
			th = &derived
		} else if err != nil {
			return nil, fmt.Errorf("failed to load threshold %s: %w", set.Key, err)
		}
		thresholds = append(thresholds, th)
	}

	generatedAt := e.now().UTC()
	var content []byte
	contentType := "application/json"
	switch format {
	case FormatXLSX:
		content, err = renderXLSX(sets, thresholds)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatJSON:
		content, err = json.MarshalIndent(document{
			ReferencePointID: referencePointID,
			MarketID:         marketID,
			GeneratedAt:      generatedAt,
			RankedSets:       sets,
			Thresholds:       thresholds,
		}, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s export: %w", format, err)
	}

	key := storage.BuildExportKey(referencePointID, marketID, generatedAt, format)
	err = e.archive.Put(ctx, key, content, &storage.Metadata{
		ContentType:      contentType,
		ReferencePointID: referencePointID,
		MarketID:         marketID,
		GeneratedAt:      generatedAt,
		RankedSets:       len(sets),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store export: %w", err)
	}

	e.logger.Info().
		Str("key", key).
		Str("reference_point_id", referencePointID).
		Str("market_id", marketID).
		Int("ranked_sets", len(sets)).
		Int("offers", offers).
		Msg("Export written")

	return &Result{Key: key, Format: format, RankedSets: len(sets), Offers: offers, Size: len(content)}, nil
}

func renderXLSX(sets []*ranking.RankedSet, thresholds []*ranking.Threshold) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", offersSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(thresholdsSheet); err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(offersSheet, "A1", &offerHeader); err != nil {
		return nil, err
	}
	row := 2
	for _, set := range sets {
		for rank, o := range set.Offers {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return nil, err
			}
			values := []interface{}{
				set.Key.ProductID, rank + 1, o.MerchantID, o.BusinessName, o.OfferID, o.Price, o.DeliveryFee,
				o.Score, o.DistanceMeters, o.IsNearby, o.Quantity, o.City, set.CalculatedAt.UTC().Format(time.RFC3339),
			}
			if err := f.SetSheetRow(offersSheet, cell, &values); err != nil {
				return nil, err
			}
			row++
		}
	}

	if err := f.SetSheetRow(thresholdsSheet, "A1", &thresholdHeader); err != nil {
		return nil, err
	}
	for i, th := range thresholds {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		worst := interface{}(th.WorstScore)
		if th.Occupancy == 0 {
			worst = "none"
		}
		values := []interface{}{th.Key.ProductID, th.Occupancy, worst, th.UpdatedAt.UTC().Format(time.RFC3339)}
		if err := f.SetSheetRow(thresholdsSheet, cell, &values); err != nil {
			return nil, err
		}
	}

	if err := f.SetPanes(offersSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
