package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"serotonyl.ru/stars-bot/internal/features/payments"
)

func TestDeferredRunsTask(t *testing.T) {
	d := NewDeferred(time.Second)
	done := make(chan struct{})

	id := d.Schedule(10*time.Millisecond, "delete_message", func(ctx context.Context) error {
		close(done)
		return nil
	})
	if id == "" {
		t.Fatal("empty task id")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	d.Stop()
	if d.Pending() != 0 {
		t.Errorf("pending = %d", d.Pending())
	}
}

func TestDeferredCancel(t *testing.T) {
	d := NewDeferred(time.Second)
	var ran atomic.Bool

	id := d.Schedule(time.Hour, "delete_message", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if !d.Cancel(id) {
		t.Fatal("Cancel returned false for pending task")
	}
	if d.Cancel(id) {
		t.Error("second Cancel returned true")
	}
	d.Stop()
	if ran.Load() {
		t.Error("cancelled task ran")
	}
}

func TestDeferredFailuresAreIsolated(t *testing.T) {
	d := NewDeferred(time.Second)
	var ok atomic.Int32

	d.Schedule(5*time.Millisecond, "boom", func(ctx context.Context) error { panic("boom") })
	d.Schedule(5*time.Millisecond, "fail", func(ctx context.Context) error { return errors.New("message gone") })
	d.Schedule(5*time.Millisecond, "fine", func(ctx context.Context) error {
		ok.Add(1)
		return nil
	})

	deadline := time.Now().Add(time.Second)
	for ok.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	d.Stop()
	if ok.Load() != 1 {
		t.Errorf("healthy task ran %d times", ok.Load())
	}
}

func TestDeferredStopDropsPending(t *testing.T) {
	d := NewDeferred(time.Second)
	var ran atomic.Bool
	d.Schedule(time.Hour, "later", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	d.Stop()

	if id := d.Schedule(time.Millisecond, "after_stop", func(ctx context.Context) error { return nil }); id != "" {
		t.Errorf("Schedule after Stop returned %q", id)
	}
	if ran.Load() {
		t.Error("pending task ran after Stop")
	}
}

type countingReconciler struct{ calls atomic.Int32 }

func (c *countingReconciler) ReconcileStuck(context.Context) (payments.ReconcileSummary, error) {
	c.calls.Add(1)
	return payments.ReconcileSummary{Exhausted: []int64{7}}, nil
}

type failingRefresher struct{ calls atomic.Int32 }

func (f *failingRefresher) Refresh(context.Context) error {
	f.calls.Add(1)
	return errors.New("directory unavailable")
}

type countingPurger struct{ calls atomic.Int32 }

func (c *countingPurger) Purge(context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(ScheduleConfig{Timezone: "Europe/Moscow", Reconcile: "not a cron"}, &countingReconciler{}, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSchedulerJobsRun(t *testing.T) {
	rec := &countingReconciler{}
	ref := &failingRefresher{}
	pur := &countingPurger{}
	s := NewScheduler(ScheduleConfig{Timezone: "UTC"}, rec, ref).WithPurger(pur)

	s.runReconcile(context.Background())
	s.runRefresh(context.Background())
	s.runPurge(context.Background())

	if rec.calls.Load() != 1 || ref.calls.Load() != 1 || pur.calls.Load() != 1 {
		t.Errorf("calls: reconcile=%d refresh=%d purge=%d", rec.calls.Load(), ref.calls.Load(), pur.calls.Load())
	}
}
