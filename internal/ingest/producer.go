package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"mediarelay/internal/logging"
	"mediarelay/internal/queue"
)

// EnqueueResult describes what happened to a submitted item.
type EnqueueResult string

const (
	EnqueueCreated   EnqueueResult = "created"
	EnqueueDuplicate EnqueueResult = "duplicate"
	EnqueueInvalid   EnqueueResult = "invalid"
)

// Recorder receives enqueue outcomes for metrics.
type Recorder interface {
	JobEnqueued(result string)
}

// Item is a newly discovered source item.
type Item struct {
	SourceID int64
	Name     string
	Created  time.Time
}

// Producer enqueues discovered items into the queue store.
type Producer struct {
	store    queue.Store
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewProducer wraps store. recorder may be nil.
func NewProducer(store queue.Store, logger *slog.Logger, recorder Recorder) *Producer {
	return &Producer{
		store:    store,
		logger:   logging.NewComponentLogger(logger, "producer"),
		recorder: recorder,
		now:      time.Now,
	}
}

// Enqueue adds a discovered item. It reports whether a new job was created;
// duplicates and invalid items return false without error.
func (p *Producer) Enqueue(ctx context.Context, sourceID int64, name string, createdAt time.Time) (bool, error) {
	result, _, err := p.Submit(ctx, Item{SourceID: sourceID, Name: name, Created: createdAt})
	if err != nil {
		return false, err
	}
	return result == EnqueueCreated, nil
}

// Submit enqueues item and classifies the result. The returned job is set
// only when a row was created.
func (p *Producer) Submit(ctx context.Context, item Item) (EnqueueResult, *queue.Job, error) {
	created := item.Created
	if created.IsZero() {
		created = p.now()
	}
	job := &queue.Job{
		SourceID: item.SourceID,
		Name:     strings.TrimSpace(item.Name),
		Created:  created.UTC(),
	}
	if !job.Valid() {
		p.record(EnqueueInvalid)
		p.logger.Debug("rejected invalid item",
			logging.Int64(logging.FieldSourceID, item.SourceID),
			logging.String("name", item.Name),
			logging.String(logging.FieldEventType, "enqueue_invalid"),
		)
		return EnqueueInvalid, nil, nil
	}

	ok, err := p.store.Enqueue(ctx, job)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		p.record(EnqueueDuplicate)
		p.logger.Debug("item already queued",
			logging.Int64(logging.FieldSourceID, job.SourceID),
			logging.String(logging.FieldEventType, "enqueue_duplicate"),
		)
		return EnqueueDuplicate, nil, nil
	}

	p.record(EnqueueCreated)
	p.logger.Info("item queued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int64(logging.FieldSourceID, job.SourceID),
		logging.String("name", job.Name),
		logging.String(logging.FieldEventType, "enqueue_created"),
	)
	return EnqueueCreated, job, nil
}

func (p *Producer) record(result EnqueueResult) {
	if p.recorder != nil {
		p.recorder.JobEnqueued(string(result))
	}
}
