package ingest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"mediarelay/internal/ingest"
	"mediarelay/internal/testsupport"
)

type enqueueCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *enqueueCounter) JobEnqueued(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[result]++
}

func TestProducerEnqueueIsIdempotent(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	counter := &enqueueCounter{}
	producer := ingest.NewProducer(store, nil, counter)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	ok, err := producer.Enqueue(ctx, 42, "doc1", created)
	if err != nil || !ok {
		t.Fatalf("first Enqueue: ok=%v err=%v", ok, err)
	}
	ok, err = producer.Enqueue(ctx, 42, "doc1", created)
	if err != nil || ok {
		t.Fatalf("duplicate Enqueue: ok=%v err=%v", ok, err)
	}

	job, err := store.GetBySourceID(ctx, 42)
	if err != nil || job == nil {
		t.Fatalf("GetBySourceID: %#v err=%v", job, err)
	}
	if !job.Created.Equal(created) {
		t.Fatalf("created = %v, want %v", job.Created, created)
	}
	if counter.counts["created"] != 1 || counter.counts["duplicate"] != 1 {
		t.Fatalf("unexpected counts %v", counter.counts)
	}
}

func TestProducerSubmitClassifiesInvalidItems(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	producer := ingest.NewProducer(store, nil, nil)

	for _, item := range []ingest.Item{
		{SourceID: 0, Name: "no id"},
		{SourceID: 3, Name: "  "},
	} {
		result, job, err := producer.Submit(context.Background(), item)
		if err != nil {
			t.Fatalf("Submit(%+v): %v", item, err)
		}
		if result != ingest.EnqueueInvalid || job != nil {
			t.Fatalf("Submit(%+v) = %s, %#v", item, result, job)
		}
	}
	jobs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no rows, got %d", len(jobs))
	}
}

func TestProducerDefaultsCreatedAndTrimsName(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	producer := ingest.NewProducer(store, nil, nil)

	before := time.Now().Add(-time.Second)
	result, job, err := producer.Submit(context.Background(), ingest.Item{SourceID: 5, Name: "  clip.mp4 "})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result != ingest.EnqueueCreated || job == nil {
		t.Fatalf("expected created job, got %s", result)
	}
	if job.Name != "clip.mp4" {
		t.Fatalf("expected trimmed name, got %q", job.Name)
	}
	if job.Created.Before(before) {
		t.Fatalf("expected created defaulted to now, got %v", job.Created)
	}
}
