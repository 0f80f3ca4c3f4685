package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mediarelay/internal/queue"
	"mediarelay/internal/testsupport"
)

// storeFactory opens an empty store configured with opts.
type storeFactory func(t *testing.T, opts queue.Options) queue.Store

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func runStoreContract(t *testing.T, open storeFactory) {
	t.Run("EnqueueIsIdempotent", func(t *testing.T) {
		store := open(t, queue.Options{})
		ctx := context.Background()

		first := &queue.Job{SourceID: 42, Name: "doc1", Created: t0}
		created, err := store.Enqueue(ctx, first)
		if err != nil || !created {
			t.Fatalf("first enqueue: created=%v err=%v", created, err)
		}
		if first.ID == 0 || first.Status != queue.StatusQueued {
			t.Fatalf("expected id and queued status, got %#v", first)
		}

		created, err = store.Enqueue(ctx, &queue.Job{SourceID: 42, Name: "doc1 again", Created: t0.Add(time.Minute)})
		if err != nil {
			t.Fatalf("second enqueue: %v", err)
		}
		if created {
			t.Fatal("expected duplicate enqueue to report created=false")
		}
		jobs, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(jobs) != 1 || jobs[0].Name != "doc1" {
			t.Fatalf("expected a single original row, got %#v", jobs)
		}
	})

	t.Run("EnqueueRejectsInvalidJobs", func(t *testing.T) {
		store := open(t, queue.Options{})
		ctx := context.Background()

		for _, job := range []*queue.Job{
			{SourceID: 0, Name: "zero source", Created: t0},
			{SourceID: 7, Name: "   ", Created: t0},
			{SourceID: 8, Name: "", Created: t0},
			nil,
		} {
			created, err := store.Enqueue(ctx, job)
			if err != nil {
				t.Fatalf("Enqueue(%#v): unexpected error %v", job, err)
			}
			if created {
				t.Fatalf("Enqueue(%#v): expected rejection", job)
			}
		}
		health, err := store.Health(ctx)
		if err != nil {
			t.Fatalf("Health: %v", err)
		}
		if health.Total != 0 {
			t.Fatalf("expected no rows, got %+v", health)
		}
	})

	t.Run("ClaimNextEmpty", func(t *testing.T) {
		store := open(t, queue.Options{})
		job, err := store.ClaimNext(context.Background())
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if job != nil {
			t.Fatalf("expected empty claim, got %#v", job)
		}
	})

	t.Run("ClaimNextIsFIFOWithIDTieBreak", func(t *testing.T) {
		store := open(t, queue.Options{})
		late := testsupport.MustEnqueue(t, store, 1, "late", t0.Add(2*time.Second))
		tieA := testsupport.MustEnqueue(t, store, 2, "tie-a", t0)
		tieB := testsupport.MustEnqueue(t, store, 3, "tie-b", t0)

		want := []int64{tieA.ID, tieB.ID, late.ID}
		for i, id := range want {
			job := testsupport.MustClaim(t, store)
			if job.ID != id {
				t.Fatalf("claim %d: got job %d want %d", i, job.ID, id)
			}
			if job.Status != queue.StatusProcessing || job.ClaimToken == "" || job.Attempts != 1 {
				t.Fatalf("claim %d: unexpected claimed state %#v", i, job)
			}
		}
	})

	t.Run("ProcessedScenario", func(t *testing.T) {
		store := open(t, queue.Options{})
		ctx := context.Background()
		testsupport.MustEnqueue(t, store, 42, "doc1", t0)

		job := testsupport.MustClaim(t, store)
		if job.SourceID != 42 || job.Name != "doc1" || job.Status != queue.StatusProcessing {
			t.Fatalf("unexpected claimed job %#v", job)
		}

		dest := int64(900)
		ok, err := store.UpdateStatus(ctx, job, queue.StatusProcessed, queue.UpdateOptions{DestinationID: &dest})
		if err != nil || !ok {
			t.Fatalf("UpdateStatus: ok=%v err=%v", ok, err)
		}

		stored, err := store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if stored.Status != queue.StatusProcessed {
			t.Fatalf("expected processed, got %s", stored.Status)
		}
		if stored.DestinationID == nil || *stored.DestinationID != 900 {
			t.Fatalf("expected destination 900, got %v", stored.DestinationID)
		}
		if stored.Modified == nil || stored.Modified.Before(t0) {
			t.Fatalf("expected modified >= created, got %v", stored.Modified)
		}
		if stored.ClaimToken != "" {
			t.Fatalf("expected claim token cleared, got %q", stored.ClaimToken)
		}

		next, err := store.ClaimNext(ctx)
		if err != nil || next != nil {
			t.Fatalf("expected processed job to stay unclaimed, got %#v err=%v", next, err)
		}
	})

	t.Run("ErroredJobIsClaimedAgain", func(t *testing.T) {
		store := open(t, queue.Options{})
		ctx := context.Background()
		testsupport.MustEnqueue(t, store, 5, "flaky", t0)

		job := testsupport.MustClaim(t, store)
		ok, err := store.UpdateStatus(ctx, job, queue.StatusErrored, queue.UpdateOptions{ExceptionMessage: "upload timed out"})
		if err != nil || !ok {
			t.Fatalf("UpdateStatus errored: ok=%v err=%v", ok, err)
		}

		stored, err := store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if stored.Status != queue.StatusErrored || stored.ExceptionMessage != "upload timed out" {
			t.Fatalf("unexpected errored row %#v", stored)
		}

		again := testsupport.MustClaim(t, store)
		if again.ID != job.ID {
			t.Fatalf("expected errored job to be reclaimed, got %d", again.ID)
		}
		if again.Attempts != 2 {
			t.Fatalf("expected second attempt, got %d", again.Attempts)
		}
	})

	t.Run("ProcessedRequiresDestinationAndClearsError", func(t *testing.T) {
		store := open(t, queue.Options{})
		ctx := context.Background()
		testsupport.MustEnqueue(t, store, 7, "recovers", t0)

		job := testsupport.MustClaim(t, store)
		if ok, err := store.UpdateStatus(ctx, job, queue.StatusErrored, queue.UpdateOptions{ExceptionMessage: "sink offline"}); err != nil || !ok {
			t.Fatalf("UpdateStatus errored: ok=%v err=%v", ok, err)
		}

		job = testsupport.MustClaim(t, store)
		ok, err := store.UpdateStatus(ctx, job, queue.StatusProcessed, queue.UpdateOptions{})
		if !errors.Is(err, queue.ErrMissingDestination) || ok {
			t.Fatalf("expected ErrMissingDestination, ok=%v err=%v", ok, err)
		}
		stored, err := store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if stored.Status != queue.StatusProcessing {
			t.Fatalf("expected rejected update to leave the claim, got %s", stored.Status)
		}

		dest := int64(700)
		if ok, err := store.UpdateStatus(ctx, job, queue.StatusProcessed, queue.UpdateOptions{DestinationID: &dest}); err != nil || !ok {
			t.Fatalf("UpdateStatus processed: ok=%v err=%v", ok, err)
		}
		if job.ExceptionMessage != "" {
			t.Fatalf("expected in-memory exception cleared, got %q", job.ExceptionMessage)
		}
		stored, err = store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if stored.Status != queue.StatusProcessed || stored.ExceptionMessage != "" {
			t.Fatalf("expected processed row without exception, got %#v", stored)
		}
		if stored.DestinationID == nil || *stored.DestinationID != dest {
			t.Fatalf("expected destination %d, got %v", dest, stored.DestinationID)
		}
	})

	t.Run("MaxAttemptsStopsErroredRetries", func(t *testing.T) {
		store := open(t, queue.Options{MaxAttempts: 2})
		ctx := context.Background()
		testsupport.MustEnqueue(t, store, 6, "doomed", t0)

		for attempt := 1; attempt <= 2; attempt++ {
			job := testsupport.MustClaim(t, store)
			if ok, err := store.UpdateStatus(ctx, job, queue.StatusErrored, queue.UpdateOptions{ExceptionMessage: "boom"}); err != nil || !ok {
				t.Fatalf("attempt %d update: ok=%v err=%v", attempt, ok, err)
			}
		}
		job, err := store.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if job != nil {
			t.Fatalf("expected exhausted job to be skipped, got %#v", job)
		}
		health, err := store.Health(ctx)
		if err != nil {
			t.Fatalf("Health: %v", err)
		}
		if health.Errored != 1 {
			t.Fatalf("expected exhausted job to remain errored, got %+v", health)
		}
	})

	t.Run("TerminalStatusesAreNotClaimed", func(t *testing.T) {
		store := open(t, queue.Options{})
		ctx := context.Background()
		testsupport.MustEnqueue(t, store, 10, "gone", t0)
		testsupport.MustEnqueue(t, store, 11, "odd", t0.Add(time.Second))

		for _, status := range []queue.Status{queue.StatusDeletedFromSource, queue.StatusOtherError} {
			job := testsupport.MustClaim(t, store)
			if ok, err := store.UpdateStatus(ctx, job, status, queue.UpdateOptions{}); err != nil || !ok {
				t.Fatalf("UpdateStatus(%s): ok=%v err=%v", status, ok, err)
			}
		}
		job, err := store.ClaimNext(ctx)
		if err != nil || job != nil {
			t.Fatalf("expected no claimable jobs, got %#v err=%v", job, err)
		}
	})

	t.Run("UpdateStatusRejectsInvalidJobs", func(t *testing.T) {
		store := open(t, queue.Options{})
		ctx := context.Background()
		testsupport.MustEnqueue(t, store, 12, "valid", t0)
		job := testsupport.MustClaim(t, store)

		invalid := *job
		invalid.Name = " "
		ok, err := store.UpdateStatus(ctx, &invalid, queue.StatusProcessed, queue.UpdateOptions{})
		if err != nil || ok {
			t.Fatalf("expected blank name rejection, ok=%v err=%v", ok, err)
		}
		invalid = *job
		invalid.SourceID = 0
		ok, err = store.UpdateStatus(ctx, &invalid, queue.StatusErrored, queue.UpdateOptions{ExceptionMessage: "x"})
		if err != nil || ok {
			t.Fatalf("expected zero source rejection, ok=%v err=%v", ok, err)
		}

		stored, err := store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if stored.Status != queue.StatusProcessing || stored.ExceptionMessage != "" {
			t.Fatalf("expected row untouched, got %#v", stored)
		}

		if _, err := store.UpdateStatus(ctx, job, queue.StatusQueued, queue.UpdateOptions{}); !errors.Is(err, queue.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("UpdateStatusRequiresCurrentClaim", func(t *testing.T) {
		store := open(t, queue.Options{})
		ctx := context.Background()
		queued := testsupport.MustEnqueue(t, store, 13, "never claimed", t0)
		dest := int64(13)

		ok, err := store.UpdateStatus(ctx, queued, queue.StatusProcessed, queue.UpdateOptions{DestinationID: &dest})
		if err != nil || ok {
			t.Fatalf("expected unclaimed update to fail, ok=%v err=%v", ok, err)
		}

		job := testsupport.MustClaim(t, store)
		if ok, err := store.UpdateStatus(ctx, job, queue.StatusOtherError, queue.UpdateOptions{}); err != nil || !ok {
			t.Fatalf("first finalize: ok=%v err=%v", ok, err)
		}
		stale := *job
		stale.ClaimToken = "previous-token"
		if ok, err := store.UpdateStatus(ctx, &stale, queue.StatusProcessed, queue.UpdateOptions{DestinationID: &dest}); err != nil || ok {
			t.Fatalf("expected second finalize to fail, ok=%v err=%v", ok, err)
		}
	})

	t.Run("StaleProcessingIsReclaimed", func(t *testing.T) {
		clock := newFakeClock(t0.Add(time.Hour))
		store := open(t, queue.Options{StaleClaimTimeout: 5 * time.Minute, Clock: clock.Now})
		ctx := context.Background()
		testsupport.MustEnqueue(t, store, 20, "slow", t0)

		first := testsupport.MustClaim(t, store)

		clock.Advance(4 * time.Minute)
		if ok, err := store.Touch(ctx, first); err != nil || !ok {
			t.Fatalf("Touch: ok=%v err=%v", ok, err)
		}
		clock.Advance(4 * time.Minute)
		if job, err := store.ClaimNext(ctx); err != nil || job != nil {
			t.Fatalf("expected live claim to be respected, got %#v err=%v", job, err)
		}

		clock.Advance(2 * time.Minute)
		second := testsupport.MustClaim(t, store)
		if second.ID != first.ID || second.ClaimToken == first.ClaimToken {
			t.Fatalf("expected stale job reclaimed with a new token, got %#v", second)
		}

		dest := int64(77)
		if ok, err := store.UpdateStatus(ctx, first, queue.StatusProcessed, queue.UpdateOptions{DestinationID: &dest}); err != nil || ok {
			t.Fatalf("expected superseded claimant update to fail, ok=%v err=%v", ok, err)
		}
		if ok, err := store.Touch(ctx, first); err != nil || ok {
			t.Fatalf("expected superseded claimant touch to fail, ok=%v err=%v", ok, err)
		}
		if ok, err := store.UpdateStatus(ctx, second, queue.StatusProcessed, queue.UpdateOptions{DestinationID: &dest}); err != nil || !ok {
			t.Fatalf("expected current claimant update, ok=%v err=%v", ok, err)
		}
	})

	t.Run("ModifiedNeverPrecedesCreated", func(t *testing.T) {
		clock := newFakeClock(t0)
		store := open(t, queue.Options{Clock: clock.Now})
		future := t0.Add(time.Hour)
		testsupport.MustEnqueue(t, store, 21, "from the future", future)

		job := testsupport.MustClaim(t, store)
		if job.Modified == nil || job.Modified.Before(job.Created) {
			t.Fatalf("expected modified >= created, got modified=%v created=%v", job.Modified, job.Created)
		}
	})

	t.Run("PurgeRemovesOnlyOldProcessed", func(t *testing.T) {
		store := open(t, queue.Options{MaxAttempts: 1})
		ctx := context.Background()
		now := time.Now().UTC()
		old := now.AddDate(0, 0, -40)

		finalize := func(sourceID int64, created time.Time, status queue.Status) int64 {
			testsupport.MustEnqueue(t, store, sourceID, "job", created)
			job := testsupport.MustClaim(t, store)
			if status == queue.StatusProcessing {
				return job.ID
			}
			if ok, err := store.UpdateStatus(ctx, job, status, queue.UpdateOptions{ExceptionMessage: "x"}); err != nil || !ok {
				t.Fatalf("finalize %d: ok=%v err=%v", sourceID, ok, err)
			}
			return job.ID
		}

		oldProcessed := finalize(100, old, queue.StatusProcessed)
		finalize(101, old, queue.StatusErrored)
		finalize(102, old, queue.StatusDeletedFromSource)
		finalize(103, old, queue.StatusOtherError)
		finalize(104, old, queue.StatusProcessing)
		finalize(105, now, queue.StatusProcessed)
		testsupport.MustEnqueue(t, store, 106, "old queued", old.Add(time.Second))

		removed, err := store.Purge(ctx, now.AddDate(0, 0, -30))
		if err != nil {
			t.Fatalf("Purge: %v", err)
		}
		if removed != 1 {
			t.Fatalf("expected exactly one purged row, got %d", removed)
		}
		if job, err := store.GetByID(ctx, oldProcessed); err != nil || job != nil {
			t.Fatalf("expected old processed job gone, got %#v err=%v", job, err)
		}
		health, err := store.Health(ctx)
		if err != nil {
			t.Fatalf("Health: %v", err)
		}
		want := queue.HealthSummary{Total: 6, Queued: 1, Processing: 1, Errored: 1, Processed: 1, DeletedFromSource: 1, OtherError: 1}
		if health != want {
			t.Fatalf("unexpected remaining rows: got %+v want %+v", health, want)
		}
	})

	t.Run("TwoConcurrentClaimsOnOneRow", func(t *testing.T) {
		store := open(t, queue.Options{})
		testsupport.MustEnqueue(t, store, 30, "contended", t0)

		results := make(chan *queue.Job, 2)
		errs := make(chan error, 2)
		var start sync.WaitGroup
		start.Add(1)
		var done sync.WaitGroup
		for i := 0; i < 2; i++ {
			done.Add(1)
			go func() {
				defer done.Done()
				start.Wait()
				job, err := store.ClaimNext(context.Background())
				if err != nil {
					errs <- err
					return
				}
				results <- job
			}()
		}
		start.Done()
		done.Wait()
		close(results)
		close(errs)

		for err := range errs {
			t.Fatalf("ClaimNext: %v", err)
		}
		winners := 0
		for job := range results {
			if job != nil {
				winners++
			}
		}
		if winners != 1 {
			t.Fatalf("expected exactly one winner, got %d", winners)
		}
	})

	t.Run("ConcurrentClaimsNeverShareJobs", func(t *testing.T) {
		store := open(t, queue.Options{})
		const total = 25
		for i := 1; i <= total; i++ {
			testsupport.MustEnqueue(t, store, int64(1000+i), "bulk", t0.Add(time.Duration(i)*time.Millisecond))
		}

		var (
			mu   sync.Mutex
			seen = make(map[int64]int)
			wg   sync.WaitGroup
		)
		for w := 0; w < 6; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := store.ClaimNext(context.Background())
					if err != nil {
						t.Errorf("ClaimNext: %v", err)
						return
					}
					if job == nil {
						return
					}
					mu.Lock()
					seen[job.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(seen) != total {
			t.Fatalf("expected %d distinct claims, got %d", total, len(seen))
		}
		for id, count := range seen {
			if count != 1 {
				t.Fatalf("job %d claimed %d times", id, count)
			}
		}
	})

	t.Run("ListStatsRemoveClearErrored", func(t *testing.T) {
		store := open(t, queue.Options{})
		ctx := context.Background()
		testsupport.MustEnqueue(t, store, 40, "a", t0)
		testsupport.MustEnqueue(t, store, 41, "b", t0.Add(time.Second))
		keep := testsupport.MustEnqueue(t, store, 42, "c", t0.Add(2*time.Second))

		job := testsupport.MustClaim(t, store)
		if ok, err := store.UpdateStatus(ctx, job, queue.StatusErrored, queue.UpdateOptions{ExceptionMessage: "x"}); err != nil || !ok {
			t.Fatalf("UpdateStatus: ok=%v err=%v", ok, err)
		}

		queued, err := store.List(ctx, queue.StatusQueued)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(queued) != 2 || queued[0].SourceID != 41 || queued[1].SourceID != 42 {
			t.Fatalf("unexpected queued list %#v", queued)
		}

		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats[queue.StatusQueued] != 2 || stats[queue.StatusErrored] != 1 {
			t.Fatalf("unexpected stats %v", stats)
		}

		bySource, err := store.GetBySourceID(ctx, 42)
		if err != nil || bySource == nil || bySource.ID != keep.ID {
			t.Fatalf("GetBySourceID: %#v err=%v", bySource, err)
		}

		cleared, err := store.ClearErrored(ctx)
		if err != nil || cleared != 1 {
			t.Fatalf("ClearErrored: %d err=%v", cleared, err)
		}
		removed, err := store.Remove(ctx, keep.ID)
		if err != nil || !removed {
			t.Fatalf("Remove: %v err=%v", removed, err)
		}
		removed, err = store.Remove(ctx, keep.ID)
		if err != nil || removed {
			t.Fatalf("second Remove: %v err=%v", removed, err)
		}
		missing, err := store.GetByID(ctx, keep.ID)
		if err != nil || missing != nil {
			t.Fatalf("expected missing job, got %#v err=%v", missing, err)
		}
	})
}
