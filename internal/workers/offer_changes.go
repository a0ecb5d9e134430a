package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/souqnear/ranking-service/internal/ranking"
	"github.com/souqnear/ranking-service/internal/taskqueue"
)

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying.
func Permanent(err error) error {
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Updater applies offer changes to the ranking caches.
type Updater interface {
	OnOfferChanged(ctx context.Context, change ranking.OfferChange) (*ranking.UpdateSummary, error)
}

// NewOfferChangeHandler decodes offer_changed payloads and feeds them to the
// updater. Malformed events fail without retry.
func NewOfferChangeHandler(updater Updater) Handler {
	return func(ctx context.Context, payload []byte) (interface{}, error) {
		var change ranking.OfferChange
		if err := json.Unmarshal(payload, &change); err != nil {
			return nil, Permanent(fmt.Errorf("failed to unmarshal offer change: %w", err))
		}

		summary, err := updater.OnOfferChanged(ctx, change)
		if errors.Is(err, ranking.ErrInvalidEvent) || errors.Is(err, ranking.ErrInvalidCoordinates) ||
			errors.Is(err, ranking.ErrNotFound) {
			return summary, Permanent(err)
		}
		if err != nil {
			return summary, err
		}
		return summary, nil
	}
}

// OfferChangeConfig configures the offer-change worker.
type OfferChangeConfig struct {
	WorkerID   string
	NumWorkers int
	MaxTasks   int
	PollDelay  time.Duration
}

// NewOfferChangeWorker creates a worker that processes queued offer changes.
func NewOfferChangeWorker(queue Queue, updater Updater, cfg OfferChangeConfig) *Worker {
	if cfg.WorkerID == "" {
		cfg.WorkerID = "offer-worker"
	}
	worker := New(queue, WorkerConfig{
		WorkerID:   cfg.WorkerID,
		TaskTypes:  []string{taskqueue.TaskTypeOfferChanged},
		MaxTasks:   cfg.MaxTasks,
		NumWorkers: cfg.NumWorkers,
		PollDelay:  cfg.PollDelay,
	})
	worker.RegisterHandler(taskqueue.TaskTypeOfferChanged, NewOfferChangeHandler(updater))
	return worker
}
