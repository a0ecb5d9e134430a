package export

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/souqnear/ranking-service/internal/cachestore"
	"github.com/souqnear/ranking-service/internal/ranking"
	"github.com/souqnear/ranking-service/internal/storage"
)

func seededStore(t *testing.T) *cachestore.MemoryStore {
	t.Helper()
	store := cachestore.NewMemoryStore()
	ctx := context.Background()

	p1 := ranking.Key{ReferencePointID: "rp1", ProductID: "p1", MarketID: "market"}
	_, err := store.UpdateRankedSet(ctx, p1, func([]ranking.ScoredOffer) ([]ranking.ScoredOffer, error) {
		return []ranking.ScoredOffer{
			{MerchantID: "m1", OfferID: "o1", BusinessName: "Hanout", Price: 100, Score: 100, IsNearby: true, Quantity: 3},
			{MerchantID: "m2", OfferID: "o2", BusinessName: "Epicerie", Price: 90, DeliveryFee: 20, Score: 110, Quantity: 1},
		}, nil
	})
	require.NoError(t, err)

	p2 := ranking.Key{ReferencePointID: "rp1", ProductID: "p2", MarketID: "market"}
	_, err = store.UpdateRankedSet(ctx, p2, func([]ranking.ScoredOffer) ([]ranking.ScoredOffer, error) {
		return nil, nil
	})
	require.NoError(t, err)

	other := ranking.Key{ReferencePointID: "rp2", ProductID: "p1", MarketID: "market"}
	_, err = store.UpdateRankedSet(ctx, other, func([]ranking.ScoredOffer) ([]ranking.ScoredOffer, error) {
		return []ranking.ScoredOffer{{MerchantID: "m9", Score: 1}}, nil
	})
	require.NoError(t, err)
	return store
}

func newExporter(t *testing.T) (*Exporter, *storage.LocalStorage) {
	t.Helper()
	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	e := NewExporter(seededStore(t), archive)
	e.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	return e, archive
}

func TestExportXLSX(t *testing.T) {
	ctx := context.Background()
	e, archive := newExporter(t)

	result, err := e.Export(ctx, "rp1", "market", FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, "exports/2026-02-03/rp1/market-040506.xlsx", result.Key)
	assert.Equal(t, 2, result.RankedSets)
	assert.Equal(t, 2, result.Offers)

	content, err := archive.Get(ctx, result.Key)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(offersSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Product", rows[0][0])
	assert.Equal(t, []string{"p1", "1", "m1", "Hanout", "o1", "100", "0", "100", "0", "TRUE", "3"}, rows[1][:11])
	assert.Equal(t, "110", rows[2][7])

	thresholds, err := f.GetRows(thresholdsSheet)
	require.NoError(t, err)
	require.Len(t, thresholds, 3)
	assert.Equal(t, []string{"p1", "2", "110"}, thresholds[1][:3])
	assert.Equal(t, []string{"p2", "0", "none"}, thresholds[2][:3])

	info, err := archive.GetInfo(ctx, result.Key)
	require.NoError(t, err)
	require.NotNil(t, info.Metadata)
	assert.Equal(t, "rp1", info.Metadata.ReferencePointID)
	assert.True(t, strings.HasPrefix(info.ContentType, "application/vnd.openxmlformats"))
}

func TestExportJSON(t *testing.T) {
	ctx := context.Background()
	e, archive := newExporter(t)

	result, err := e.Export(ctx, "rp1", "market", FormatJSON)
	require.NoError(t, err)

	content, err := archive.Get(ctx, result.Key)
	require.NoError(t, err)

	var doc document
	require.NoError(t, json.Unmarshal(content, &doc))
	assert.Equal(t, "rp1", doc.ReferencePointID)
	require.Len(t, doc.RankedSets, 2)
	require.Len(t, doc.Thresholds, 2)
	assert.True(t, ranking.Consistent(doc.RankedSets[0], doc.Thresholds[0]))
	assert.Equal(t, ranking.SentinelScore, doc.Thresholds[1].WorstScore)
}

func TestExportValidation(t *testing.T) {
	e, _ := newExporter(t)

	_, err := e.Export(context.Background(), "rp1", "market", "csv")
	var invalid ranking.ErrInvalidRequest
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "format", invalid.Field)

	_, err = e.Export(context.Background(), "", "market", FormatJSON)
	assert.ErrorAs(t, err, &invalid)
}
