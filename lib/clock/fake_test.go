// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeNowAdvances(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fake := Fake(start)

	if got := fake.Now(); !got.Equal(start) {
		t.Errorf("Now: got %v, want %v", got, start)
	}
	fake.Advance(90 * time.Second)
	if got := fake.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("Now after advance: got %v, want %v", got, start.Add(90*time.Second))
	}
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	ch := fake.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before any advance")
	default:
	}

	fake.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeSleepUnblocksOnAdvance(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	done := make(chan struct{})
	go func() {
		fake.Sleep(5 * time.Second)
		close(done)
	}()

	fake.WaitForWaiters(1)
	fake.Advance(5 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after the clock advanced past its deadline")
	}
}

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	late := fake.After(20 * time.Second)
	early := fake.After(5 * time.Second)

	fake.Advance(30 * time.Second)

	earlyAt := <-early
	lateAt := <-late
	if !earlyAt.Before(lateAt) {
		t.Errorf("fire order: early waiter fired at %v, late at %v", earlyAt, lateAt)
	}
}
