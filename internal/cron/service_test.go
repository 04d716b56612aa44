package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calebmorten/anchorline/pkg/logger"
)

type fakeLock struct {
	acquired bool
	acquires int
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.acquires++
	return f.acquired, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.releases++
	return nil
}

func TestRunCycleExecutesJobsUnderLock(t *testing.T) {
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b", err: errors.New("boom")}
	jobC := &stubJob{name: "c"}
	lock := &fakeLock{acquired: true}

	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Registry: NewRegistry(jobA, jobB, jobC),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if jobA.runs != 1 || jobB.runs != 1 || jobC.runs != 1 {
		t.Fatalf("all jobs should run once, got %d/%d/%d", jobA.runs, jobB.runs, jobC.runs)
	}
	if lock.releases != 1 {
		t.Fatalf("lock should be released, got %d releases", lock.releases)
	}
}

func TestRunCycleSkipsWhenLockHeldElsewhere(t *testing.T) {
	job := &stubJob{name: "a"}
	lock := &fakeLock{acquired: false}

	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job must not run without the lock, got %d runs", job.runs)
	}
	if lock.releases != 0 {
		t.Fatalf("lock must not be released when never held, got %d", lock.releases)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Lock:     &fakeLock{acquired: true},
		Interval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
