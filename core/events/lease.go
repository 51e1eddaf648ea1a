package events

import (
	"time"

	"womnet/core/types"
)

// Lease event types published on the bus. The values are the wire contract
// consumed by the REST stream and downstream indexers.
const (
	TypeLeaseAcquired               = "LEASE_ACQUIRED"
	TypeLeaseAcquisitionConfirmed   = "LEASE_ACQUISITION_CONFIRMED"
	TypeLeaseRentPayed              = "LEASE_RENT_PAYED"
	TypeLeaseRentPaymentConfirmed   = "LEASE_RENT_PAYMENT_CONFIRMED"
	TypeLeaseEnd                    = "LEASE_END"
	TypeLeaseEndedConfirmed         = "LEASE_ENDED_CONFIRMED"
	TypeLeaseTenantEvict            = "LEASE_TENANT_EVICT"
	TypeLeaseTenantEvictedConfirmed = "LEASE_TENANT_EVICTED_CONFIRMED"
)

// LeaseLifecycle is the shared payload for every lease event; Type selects
// which lifecycle edge was crossed.
type LeaseLifecycle struct {
	Type           string
	LeaseID        uint64
	AssetID        uint64
	Manager        string
	Owner          string
	PaidMonths     uint32
	StartDate      time.Time
	EndDate        time.Time
	Confirmed      bool
	PendingCount   int
	CheckedAtBlock uint64
}

func (e LeaseLifecycle) EventType() string { return e.Type }

func (e LeaseLifecycle) Event() *types.Event {
	return &types.Event{
		Type: e.Type,
		Attributes: map[string]string{
			"leaseId":    uintToString(e.LeaseID),
			"assetId":    uintToString(e.AssetID),
			"manager":    normalizeAddress(e.Manager),
			"owner":      normalizeAddress(e.Owner),
			"paidMonths": uintToString(uint64(e.PaidMonths)),
			"startDate":  timeToString(e.StartDate),
			"endDate":    timeToString(e.EndDate),
			"confirmed":  boolToString(e.Confirmed),
			"pending":    intToString(int64(e.PendingCount)),
			"block":      uintToString(e.CheckedAtBlock),
		},
	}
}

func boolToString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
