package flow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestResult_Basics(t *testing.T) {
	ok := Ok(42)
	if !ok.IsOk() || ok.IsErr() {
		t.Errorf("expected ok result")
	}
	if v, err := ok.Unwrap(); v != 42 || err != nil {
		t.Errorf("expected (42, nil), got (%d, %v)", v, err)
	}

	boom := errors.New("boom")
	bad := Err[int](boom)
	if bad.IsOk() {
		t.Errorf("expected err result")
	}
	if bad.UnwrapOr(7) != 7 {
		t.Errorf("expected fallback value")
	}
}

func TestErrf_WrapsCause(t *testing.T) {
	cause := errors.New("cause")
	r := Errf[int]("stage: %w", cause)
	_, err := r.Unwrap()
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func TestFromPair(t *testing.T) {
	if r := FromPair(1, nil); r.IsErr() {
		t.Errorf("expected ok")
	}
	if r := FromPair(0, errors.New("x")); r.IsOk() {
		t.Errorf("expected err")
	}
}

func TestCollect_AllOk(t *testing.T) {
	results := []Result[int]{Ok(1), Ok(2), Ok(3)}
	vals, err := Collect(results).Unwrap()
	if err != nil || !reflect.DeepEqual(vals, []int{1, 2, 3}) {
		t.Errorf("expected [1 2 3], got %v (%v)", vals, err)
	}
}

func TestCollect_FirstError(t *testing.T) {
	first := errors.New("first")
	results := []Result[int]{Ok(1), Err[int](first), Err[int](errors.New("second"))}
	_, err := Collect(results).Unwrap()
	if !errors.Is(err, first) {
		t.Errorf("expected first error, got %v", err)
	}
}

func TestThen_ShortCircuits(t *testing.T) {
	boom := errors.New("boom")
	var secondRan bool

	first := func(ctx context.Context, n int) Result[int] { return Err[int](boom) }
	second := func(ctx context.Context, n int) Result[string] {
		secondRan = true
		return Ok(fmt.Sprint(n))
	}

	_, err := Then(first, second)(context.Background(), 1).Unwrap()
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if secondRan {
		t.Errorf("second step must not run after failure")
	}
}

func TestThen_PassesValue(t *testing.T) {
	double := func(ctx context.Context, n int) Result[int] { return Ok(n * 2) }
	str := func(ctx context.Context, n int) Result[string] { return Ok(fmt.Sprint(n)) }
	v, err := Then(double, str)(context.Background(), 21).Unwrap()
	if err != nil || v != "42" {
		t.Errorf("expected 42, got %q (%v)", v, err)
	}
}

func TestTraced_PreservesOutcome(t *testing.T) {
	okStep := Traced("ok", func(ctx context.Context, n int) Result[int] { return Ok(n + 1) })
	if v, _ := okStep(context.Background(), 1).Unwrap(); v != 2 {
		t.Errorf("expected 2, got %d", v)
	}

	boom := errors.New("boom")
	errStep := Traced("err", func(ctx context.Context, n int) Result[int] { return Err[int](boom) })
	if _, err := errStep(context.Background(), 1).Unwrap(); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestRetry_EventuallySucceeds(t *testing.T) {
	attempts := 0
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

	r := Retry(context.Background(), opts, func(ctx context.Context) Result[string] {
		attempts++
		if attempts < 3 {
			return Errf[string]("attempt %d failed", attempts)
		}
		return Ok("done")
	})

	if v, err := r.Unwrap(); err != nil || v != "done" {
		t.Errorf("expected success, got %q (%v)", v, err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	opts := RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	r := Retry(context.Background(), opts, func(ctx context.Context) Result[int] {
		attempts++
		return Errf[int]("nope")
	})
	if r.IsOk() || attempts != 2 {
		t.Errorf("expected 2 failed attempts, got ok=%v attempts=%d", r.IsOk(), attempts)
	}
}

func TestRetry_RespectsRetryIf(t *testing.T) {
	fatal := errors.New("fatal")
	attempts := 0
	opts := RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
		RetryIf:     func(err error) bool { return !errors.Is(err, fatal) },
	}
	r := Retry(context.Background(), opts, func(ctx context.Context) Result[int] {
		attempts++
		return Err[int](fatal)
	})
	_, err := r.Unwrap()
	if !errors.Is(err, fatal) || attempts != 1 {
		t.Errorf("expected one attempt with fatal error, got attempts=%d err=%v", attempts, err)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Minute, MaxWait: time.Minute}
	r := Retry(ctx, opts, func(ctx context.Context) Result[int] {
		return Errf[int]("transient")
	})
	_, err := r.Unwrap()
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestParMapResult_PreservesOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1}
	results := ParMapResult(items, 2, func(n int) Result[int] {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return Ok(n * 10)
	})
	vals, err := Collect(results).Unwrap()
	if err != nil || !reflect.DeepEqual(vals, []int{50, 40, 30, 20, 10}) {
		t.Errorf("expected ordered results, got %v (%v)", vals, err)
	}
}

func TestParMapResult_BoundsConcurrency(t *testing.T) {
	var inFlight, peak int64
	items := make([]int, 20)
	ParMapResult(items, 3, func(int) Result[int] {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return Ok(0)
	})
	if peak > 3 {
		t.Errorf("expected at most 3 concurrent workers, saw %d", peak)
	}
}

func TestMap(t *testing.T) {
	got := Map([]int{1, 2, 3}, func(n int) string { return fmt.Sprint(n * 2) })
	if !reflect.DeepEqual(got, []string{"2", "4", "6"}) {
		t.Errorf("unexpected map output: %v", got)
	}
}

func TestBatches(t *testing.T) {
	cases := []struct {
		n    int
		want [][]int
	}{
		{2, [][]int{{1, 2}, {3, 4}, {5}}},
		{5, [][]int{{1, 2, 3, 4, 5}}},
		{10, [][]int{{1, 2, 3, 4, 5}}},
		{0, nil},
	}
	for _, tc := range cases {
		got := Batches([]int{1, 2, 3, 4, 5}, tc.n)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Batches(n=%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}
