package common

import (
	"errors"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for a caller.
type QuotaNow struct {
	ReqCount uint32
	EpochID  uint64
}

// Quota defines the number of mutating calls a caller may issue per epoch.
type Quota struct {
	MaxRequestsPerEpoch uint32
	EpochSeconds        uint32
}

// Epoch returns the quota epoch containing the unix timestamp now.
func (q Quota) Epoch(now int64) uint64 {
	if q.EpochSeconds == 0 || now <= 0 {
		return 0
	}
	return uint64(now) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional requests fit within the
// configured quota. The returned QuotaNow reflects the updated counters when the
// quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}
	return next, nil
}

// QuotaTracker keeps per-caller counters in memory.
type QuotaTracker struct {
	quota Quota

	mu       sync.Mutex
	counters map[common.Address]QuotaNow
}

// NewQuotaTracker returns a tracker enforcing q.
func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, counters: make(map[common.Address]QuotaNow)}
}

// Consume charges one request to caller at unix time now.
func (t *QuotaTracker) Consume(caller common.Address, now int64) error {
	if t == nil || t.quota.MaxRequestsPerEpoch == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := CheckQuota(t.quota, t.quota.Epoch(now), t.counters[caller], 1)
	if err != nil {
		return err
	}
	t.counters[caller] = next
	return nil
}
