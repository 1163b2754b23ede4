package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaVolumeExceeded   = errors.New("quota volume cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	ReqCount   uint32
	VolumeUsed uint64
	EpochID    uint64
}

// Quota defines the per-address limits enforced for a module interaction.
// Volume is counted in collateral base units.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxVolumePerEpoch   uint64
	EpochSeconds        uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxVolumePerEpoch > 0
}

// CheckQuota verifies whether the additional request and volume fit within the
// configured quota. The returned QuotaNow reflects the updated counters when
// the quota is not exceeded; counters reset when the epoch advances.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addVolume uint64) (QuotaNow, error) {
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

	if addVolume > 0 {
		if next.VolumeUsed > math.MaxUint64-addVolume {
			return prev, ErrQuotaCounterOverflow
		}
		next.VolumeUsed += addVolume
	}
	if q.MaxVolumePerEpoch > 0 && next.VolumeUsed > q.MaxVolumePerEpoch {
		return prev, ErrQuotaVolumeExceeded
	}

	return next, nil
}
