package common

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestCheckQuotaRequestLimit(t *testing.T) {
	q := Quota{MaxRequestsPerEpoch: 10}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ReqCount != 10 {
		t.Fatalf("unexpected request count: %d", next.ReqCount)
	}

	denied, err := CheckQuota(q, 1, next, 1)
	if !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaOverflow(t *testing.T) {
	prev := QuotaNow{ReqCount: ^uint32(0), EpochID: 3}
	if _, err := CheckQuota(Quota{}, 3, prev, 1); !errors.Is(err, ErrQuotaCounterOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestQuotaTrackerPerCaller(t *testing.T) {
	tracker := NewQuotaTracker(Quota{MaxRequestsPerEpoch: 2, EpochSeconds: 60})
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")

	for i := 0; i < 2; i++ {
		if err := tracker.Consume(alice, 120); err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
	}
	if err := tracker.Consume(alice, 121); !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected quota exhaustion, got %v", err)
	}
	if err := tracker.Consume(bob, 121); err != nil {
		t.Fatalf("other caller should be unaffected: %v", err)
	}
	if err := tracker.Consume(alice, 180); err != nil {
		t.Fatalf("expected new epoch to reset counters: %v", err)
	}
}
