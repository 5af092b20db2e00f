package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"125.00", 12500},
		{"0.50", 50},
		{"19.99", 1999},
		{"10.005", 1001},
		{"0", 0},
	}
	for _, c := range cases {
		if got := MinorUnits(decimal.RequireFromString(c.in)); got != c.want {
			t.Errorf("MinorUnits(%s) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestFromMinorUnits(t *testing.T) {
	if got := FromMinorUnits(12500); !got.Equal(decimal.RequireFromString("125")) {
		t.Errorf("FromMinorUnits(12500) = %s", got)
	}
	if got := FromMinorUnits(1); !got.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("FromMinorUnits(1) = %s", got)
	}
}

func TestFailureResultsAreFailSafe(t *testing.T) {
	res := GatewayUnavailable(errors.New("boom"))
	if res.Success || res.Status != StatusPending {
		t.Errorf("unavailable result must be pending/failed-safe, got %+v", res)
	}
	res = AuthFailure(errors.New("bad creds"))
	if res.ErrorCode != ErrCodeAuth || res.Status != StatusPending {
		t.Errorf("auth failure = %+v", res)
	}
}

func TestRetryStatusStopsOnSuccess(t *testing.T) {
	calls := 0
	res, err := RetryStatus(context.Background(), 3, func() (*ChargeResult, error) {
		calls++
		if calls < 2 {
			return GatewayUnavailable(errors.New("flaky")), nil
		}
		return &ChargeResult{Success: true, Status: StatusCompleted}, nil
	})
	if err != nil {
		t.Fatalf("RetryStatus: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if !res.Success {
		t.Error("expected the successful result")
	}
}

func TestRetryStatusExhaustsAttempts(t *testing.T) {
	calls := 0
	res, err := RetryStatus(context.Background(), 3, func() (*ChargeResult, error) {
		calls++
		return GatewayUnavailable(errors.New("down")), nil
	})
	if err != nil {
		t.Fatalf("RetryStatus: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if res.Success {
		t.Error("expected the last failed result")
	}
}

func TestRetryStatusHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := RetryStatus(ctx, 5, func() (*ChargeResult, error) {
		calls++
		return GatewayUnavailable(errors.New("down")), nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
