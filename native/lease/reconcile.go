package lease

import (
	"context"
	"strings"

	womerrors "womnet/core/errors"
	"womnet/core/events"
	"womnet/ledger"
	"womnet/models"
	"womnet/observability/metrics"
)

// ConfirmedEventFor maps a user-action event type to its ledger-confirmed
// counterpart.
func ConfirmedEventFor(actionType string) string {
	switch actionType {
	case events.TypeLeaseAcquired:
		return events.TypeLeaseAcquisitionConfirmed
	case events.TypeLeaseRentPayed:
		return events.TypeLeaseRentPaymentConfirmed
	case events.TypeLeaseEnd:
		return events.TypeLeaseEndedConfirmed
	case events.TypeLeaseTenantEvict:
		return events.TypeLeaseTenantEvictedConfirmed
	default:
		return actionType
	}
}

// Reconcile reads the ledger truth for leaseID and applies it to the
// projection, raising the given confirmed status on the bus. A failed ledger
// read surfaces immediately, leaving the pending entry untouched so a later
// sweep can re-attempt without losing track of the transaction.
func (e *Engine) Reconcile(ctx context.Context, leaseID uint64, txHash, status string) (*models.Lease, error) {
	snapshot, err := e.ledger.GetLeaseByID(ctx, leaseID, 0)
	if err != nil {
		return nil, womerrors.Transport(womerrors.CodeLedgerUnavailable, err)
	}
	if snapshot == nil || snapshot.LeaseID == 0 {
		return nil, womerrors.NotFound(womerrors.CodeLeaseNotFound, "ledger reported no lease")
	}
	if snapshot.TxHash == "" {
		snapshot.TxHash = txHash
	}
	return e.ApplyConfirmation(snapshot, status, txHash)
}

// ApplyConfirmation reconciles one explicit ledger snapshot against the
// projection. The snapshot is a plain input; the engine keeps no ambient
// ledger state.
//
// Ordering is resolved by the monotonic block guard: a snapshot based on a
// block lower than the projection's lastCheckedBlock still clears its pending
// transaction entry but never regresses displayed fields or emits an event.
func (e *Engine) ApplyConfirmation(snapshot *ledger.LeaseState, status, txID string) (*models.Lease, error) {
	if snapshot == nil || snapshot.LeaseID == 0 {
		return nil, womerrors.NotFound(womerrors.CodeLeaseNotFound, "ledger reported zero lease id")
	}

	lease, err := e.lookupForConfirmation(snapshot, txID)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, womerrors.NotFound(womerrors.CodeLeaseNotFound)
	}

	e.detectMismatch(lease, snapshot)

	clearTx := strings.TrimSpace(txID)
	if clearTx == "" {
		clearTx = snapshot.TxHash
	}
	lease.RemovePendingTransaction(clearTx)

	stale := lease.LastCheckedBlock > snapshot.AtBlock
	if !stale {
		// An earlier concurrent termination already satisfied the end when
		// the ledger now reports an end date before the stored one.
		if lease.EndingLease && !snapshot.EndDate.IsZero() && !lease.EndDate.IsZero() && snapshot.EndDate.Before(lease.EndDate) {
			lease.EndingLease = false
			lease.EndingLeaseAddress = ""
		}
		if delta := snapshot.PaidMonths - lease.PaidMonths; delta > 0 {
			lease.MonthPaymentInProgress -= delta
			if lease.MonthPaymentInProgress < 0 {
				lease.MonthPaymentInProgress = 0
			}
		}
	}

	if lease.Settled() {
		lease.EndingLease = false
		lease.EndingLeaseAddress = ""
		lease.MonthPaymentInProgress = 0
	}

	if stale {
		// The projection already reflects a newer ledger read; persisting the
		// pending-set change is enough. Logged, not an error.
		e.logger.Info("stale ledger read skipped",
			"leaseId", snapshot.LeaseID, "atBlock", snapshot.AtBlock,
			"lastCheckedBlock", lease.LastCheckedBlock)
		metrics.Recon().StaleReadsSkipped.Inc()
		if err := e.saveLease(lease); err != nil {
			return nil, err
		}
		return lease, nil
	}

	lease.LeaseID = snapshot.LeaseID
	lease.AssetID = snapshot.AssetID
	lease.ManagerAddress = strings.ToLower(strings.TrimSpace(snapshot.Manager))
	if owner := strings.ToLower(strings.TrimSpace(snapshot.Owner)); owner != "" {
		lease.OwnerAddress = owner
	}
	lease.PaidMonths = snapshot.PaidMonths
	lease.StartDate = snapshot.StartDate
	lease.EndDate = snapshot.EndDate
	lease.NoticeDate = snapshot.NoticeDate
	lease.PaidRentsDate = snapshot.PaidRentsDate
	lease.Confirmed = true
	lease.LastCheckedBlock = snapshot.AtBlock

	if err := e.saveLease(lease); err != nil {
		return nil, err
	}
	metrics.Recon().Confirmations.WithLabelValues("lease", status).Inc()
	e.emitLifecycle(status, lease)
	return lease, nil
}

// ReconcilePending re-attempts reconciliation for every lease still tracking
// an in-flight transaction. Reverted transactions are dropped first; what an
// unconfirmed lease submitted can then never confirm, so the lease is
// disabled. Per-lease failures are logged and the sweep moves on; only a
// store read failure or cancellation aborts it. Chain reconciliation of
// unconfirmed acquisitions is still skipped: their ledger id is unknown until
// the client reports the mined transaction.
func (e *Engine) ReconcilePending(ctx context.Context) error {
	leases, err := e.state.LeasesWithPending()
	if err != nil {
		return err
	}
	metrics.Recon().PendingLeases.Set(float64(len(leases)))
	for i := range leases {
		lease := &leases[i]
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.dropRevertedTransactions(ctx, lease); err != nil {
			e.logger.Warn("reverted transaction cleanup failed",
				"leaseId", lease.LeaseID, "err", err)
			continue
		}
		if lease.LeaseID == 0 {
			continue
		}
		status := pendingStatusFor(lease)
		for _, txID := range append([]string(nil), lease.PendingTransactions...) {
			if _, err := e.Reconcile(ctx, lease.LeaseID, txID, status); err != nil {
				e.logger.Warn("pending lease reconcile failed",
					"leaseId", lease.LeaseID, "tx", txID, "err", err)
				break
			}
		}
	}
	return nil
}

// dropRevertedTransactions clears the pending entries whose transaction
// reverted on chain. A still-unconfirmed lease losing its creating
// transaction is disabled, which derives ERROR and hides it from every
// viewer. Receipt read failures leave the entry for the next sweep.
func (e *Engine) dropRevertedTransactions(ctx context.Context, lease *models.Lease) error {
	changed := false
	for _, txID := range append([]string(nil), lease.PendingTransactions...) {
		state, err := e.ledger.GetTransactionState(ctx, txID)
		if err != nil {
			e.logger.Warn("transaction state read failed",
				"leaseId", lease.LeaseID, "tx", txID, "err", err)
			continue
		}
		if state != ledger.TxReverted {
			continue
		}
		e.logger.Warn("transaction reverted", "leaseId", lease.LeaseID, "tx", txID)
		lease.RemovePendingTransaction(txID)
		changed = true
	}
	if !changed {
		return nil
	}
	if !lease.Confirmed {
		lease.Enabled = false
	}
	return e.saveLease(lease)
}

// pendingStatusFor infers the confirmed event for a sweep-driven reconcile,
// where the originating user action is no longer on hand.
func pendingStatusFor(lease *models.Lease) string {
	switch {
	case !lease.Confirmed:
		return events.TypeLeaseAcquisitionConfirmed
	case lease.EndingLease:
		return events.TypeLeaseEndedConfirmed
	default:
		return events.TypeLeaseRentPaymentConfirmed
	}
}

// lookupForConfirmation resolves the projected lease for a ledger snapshot:
// by ledger id first, then by the pending transaction that produced it (the
// unconfirmed lease is still keyed by its offer id at that point).
func (e *Engine) lookupForConfirmation(snapshot *ledger.LeaseState, txID string) (*models.Lease, error) {
	lease, err := e.state.LeaseByLedgerID(snapshot.LeaseID)
	if err != nil || lease != nil {
		return lease, err
	}
	match := strings.ToLower(strings.TrimSpace(txID))
	if match == "" {
		match = strings.ToLower(strings.TrimSpace(snapshot.TxHash))
	}
	if match != "" {
		pending, err := e.state.LeasesWithPending()
		if err != nil {
			return nil, err
		}
		for i := range pending {
			if pending[i].HasPendingTransaction(match) {
				return &pending[i], nil
			}
		}
	}
	return nil, nil
}

// detectMismatch logs a suspected hijack or bug when the stored identity
// disagrees with the ledger. The ledger value always wins.
func (e *Engine) detectMismatch(lease *models.Lease, snapshot *ledger.LeaseState) {
	mismatch := false
	if lease.LeaseID != 0 && lease.LeaseID != snapshot.LeaseID {
		mismatch = true
	}
	if lease.AssetID != 0 && lease.AssetID != snapshot.AssetID {
		mismatch = true
	}
	if lease.ManagerAddress != "" && !strings.EqualFold(lease.ManagerAddress, snapshot.Manager) {
		mismatch = true
	}
	if mismatch {
		e.logger.Warn("lease identity mismatch against ledger, ledger wins",
			"storedLeaseId", lease.LeaseID, "ledgerLeaseId", snapshot.LeaseID,
			"storedAssetId", lease.AssetID, "ledgerAssetId", snapshot.AssetID,
			"storedManager", lease.ManagerAddress, "ledgerManager", snapshot.Manager)
		metrics.Recon().MismatchesLogged.Inc()
	}
}
