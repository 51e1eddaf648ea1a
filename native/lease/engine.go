// Package lease owns the lease lifecycle state machine: user actions record
// pending ledger transactions against the projection, mined confirmations
// clear them and overwrite the projected fields from ledger truth.
package lease

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	womerrors "womnet/core/errors"
	"womnet/core/events"
	"womnet/ledger"
	"womnet/models"
	"womnet/observability/metrics"
)

// engineState is the narrow projection-store surface the engine consumes.
type engineState interface {
	LeaseByLedgerID(leaseID uint64) (*models.Lease, error)
	SaveLease(lease *models.Lease) error
	LeasesWithPending() ([]models.Lease, error)
	LeasesByAsset(assetID uint64) ([]models.Lease, error)
	OfferByID(offerID uint64) (*models.Offer, error)
	SaveOffer(offer *models.Offer) error
	DeleteOffer(offerID uint64) error
}

// engineLedger is the ledger gateway surface the engine consumes.
type engineLedger interface {
	IsDeedOwner(ctx context.Context, address string, assetID uint64) (bool, error)
	GetLeaseByID(ctx context.Context, leaseID uint64, atBlock uint64) (*ledger.LeaseState, error)
	GetTransactionState(ctx context.Context, txHash string) (ledger.TxState, error)
	GetOfferTransactionEvents(ctx context.Context, txHash string) ([]ledger.OfferEvent, error)
}

// Engine wires the lease reconciliation logic with the projection store, the
// ledger gateway and the event bus. Operations run synchronously to
// completion; concurrent operations on the same lease race optimistically and
// converge through the monotonic block guard.
type Engine struct {
	state   engineState
	ledger  engineLedger
	emitter events.Emitter
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewEngine creates a lease engine with a no-op emitter and default logger.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   time.Now,
	}
}

// SetState configures the projection store backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the ledger gateway.
func (e *Engine) SetLedger(gateway engineLedger) { e.ledger = gateway }

// SetEmitter configures the event emitter; nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger configures the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source, primarily for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// CreateLease records a user-submitted lease acquisition against an existing
// rental offer. The lease starts unconfirmed, keyed provisionally by the
// offer id, with txID tracked as pending.
func (e *Engine) CreateLease(ctx context.Context, managerAddress, managerEmail string, offerID uint64, txID string) (*models.Lease, error) {
	offer, err := e.state.OfferByID(offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil || !offer.Enabled {
		return nil, womerrors.NotFound(womerrors.CodeOfferNotFound, "offer gone")
	}
	stillOwner, err := e.ledger.IsDeedOwner(ctx, offer.Owner, offer.AssetID)
	if err != nil {
		return nil, womerrors.Rejected(womerrors.CodeLedgerUnavailable, "verify offer owner", err)
	}
	if !stillOwner {
		return nil, womerrors.Unauthorized("offer owner no longer holds the deed")
	}

	now := e.nowFn()
	lease := &models.Lease{
		ID:             uuid.New(),
		OfferID:        offerID,
		AssetID:        offer.AssetID,
		ManagerAddress: strings.ToLower(strings.TrimSpace(managerAddress)),
		ManagerEmail:   strings.TrimSpace(managerEmail),
		OwnerAddress:   strings.ToLower(strings.TrimSpace(offer.Owner)),
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	lease.AddPendingTransaction(txID)
	if err := e.saveLease(lease); err != nil {
		return nil, err
	}
	e.emitLifecycle(events.TypeLeaseAcquired, lease)
	return lease, nil
}

// PayRents records a rent payment transaction submitted by the lease manager.
// The owner is opportunistically refreshed when the caller-supplied owner is
// ledger-confirmed; a failed ledger read only skips that refresh.
func (e *Engine) PayRents(ctx context.Context, managerAddress, ownerAddress string, leaseID uint64, paidMonths int32, txID string) (*models.Lease, error) {
	lease, err := e.state.LeaseByLedgerID(leaseID)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, womerrors.NotFound(womerrors.CodeLeaseNotFound)
	}
	if !strings.EqualFold(lease.ManagerAddress, strings.TrimSpace(managerAddress)) {
		return nil, womerrors.Unauthorized("caller is not the lease manager")
	}

	lease.AddPendingTransaction(txID)
	lease.MonthPaymentInProgress = paidMonths

	owner := strings.ToLower(strings.TrimSpace(ownerAddress))
	if owner != "" && owner != lease.OwnerAddress {
		confirmed, err := e.ledger.IsDeedOwner(ctx, owner, lease.AssetID)
		if err != nil {
			e.logger.Warn("owner refresh skipped, ledger read failed",
				"leaseId", leaseID, "owner", owner, "err", err)
		} else if confirmed {
			lease.OwnerAddress = owner
		}
	}

	if err := e.saveLease(lease); err != nil {
		return nil, err
	}
	e.emitLifecycle(events.TypeLeaseRentPayed, lease)
	return lease, nil
}

// EndLease records a termination transaction. The manager ends voluntarily;
// the owner evicts. Anyone else is unauthorized.
func (e *Engine) EndLease(ctx context.Context, callerAddress string, leaseID uint64, txID string) (*models.Lease, error) {
	lease, err := e.state.LeaseByLedgerID(leaseID)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, womerrors.NotFound(womerrors.CodeLeaseNotFound)
	}
	caller := strings.ToLower(strings.TrimSpace(callerAddress))
	var eventType string
	switch {
	case strings.EqualFold(caller, lease.ManagerAddress):
		eventType = events.TypeLeaseEnd
	case strings.EqualFold(caller, lease.OwnerAddress):
		eventType = events.TypeLeaseTenantEvict
	default:
		return nil, womerrors.Unauthorized("caller is neither manager nor owner")
	}

	lease.AddPendingTransaction(txID)
	lease.EndingLease = true
	lease.EndingLeaseAddress = caller
	if err := e.saveLease(lease); err != nil {
		return nil, err
	}
	e.emitLifecycle(eventType, lease)
	return lease, nil
}

// TransferDeedOwnership propagates a mined deed ownership transfer to every
// confirmed lease of the asset whose stored owner differs.
func (e *Engine) TransferDeedOwnership(ctx context.Context, newOwner string, assetID uint64) error {
	owner := strings.ToLower(strings.TrimSpace(newOwner))
	if owner == "" {
		return womerrors.Rejected(womerrors.CodeUnauthorized, "empty owner address")
	}
	leases, err := e.state.LeasesByAsset(assetID)
	if err != nil {
		return err
	}
	for i := range leases {
		lease := &leases[i]
		if !lease.Confirmed || strings.EqualFold(lease.OwnerAddress, owner) {
			continue
		}
		lease.OwnerAddress = owner
		if err := e.saveLease(lease); err != nil {
			return err
		}
	}
	return nil
}

// GetPendingTransactions returns all in-flight transaction ids tracked across
// leases, for the retry sweep.
func (e *Engine) GetPendingTransactions() ([]string, error) {
	leases, err := e.state.LeasesWithPending()
	if err != nil {
		return nil, err
	}
	metrics.Recon().PendingLeases.Set(float64(len(leases)))
	seen := make(map[string]bool)
	pending := make([]string, 0, len(leases))
	for _, lease := range leases {
		for _, txID := range lease.PendingTransactions {
			if !seen[txID] {
				seen[txID] = true
				pending = append(pending, txID)
			}
		}
	}
	return pending, nil
}

// ApplyOfferTransaction refreshes the offer projection from the mined events
// of one offer transaction.
func (e *Engine) ApplyOfferTransaction(ctx context.Context, txHash string) error {
	offerEvents, err := e.ledger.GetOfferTransactionEvents(ctx, txHash)
	if err != nil {
		return womerrors.Rejected(womerrors.CodeLedgerUnavailable, "offer events", err)
	}
	for _, evt := range offerEvents {
		switch evt.Type {
		case ledger.OfferCreated, ledger.OfferUpdated:
			offer := &models.Offer{
				OfferID: evt.OfferID,
				AssetID: evt.AssetID,
				Owner:   strings.ToLower(evt.Owner),
				Enabled: true,
			}
			if err := e.state.SaveOffer(offer); err != nil {
				return err
			}
		case ledger.OfferDeleted:
			if err := e.state.DeleteOffer(evt.OfferID); err != nil {
				return err
			}
		case ledger.OfferAcquired:
			offer, err := e.state.OfferByID(evt.OfferID)
			if err != nil {
				return err
			}
			if offer != nil {
				offer.Enabled = false
				if err := e.state.SaveOffer(offer); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// saveLease recomputes the visibility set on every persist. The transaction
// status is always derived, never written.
func (e *Engine) saveLease(lease *models.Lease) error {
	lease.RecomputeViewers()
	lease.UpdatedAt = e.nowFn()
	return e.state.SaveLease(lease)
}

func (e *Engine) emitLifecycle(eventType string, lease *models.Lease) {
	e.emitter.Emit(events.LeaseLifecycle{
		Type:           eventType,
		LeaseID:        lease.LeaseID,
		AssetID:        lease.AssetID,
		Manager:        lease.ManagerAddress,
		Owner:          lease.OwnerAddress,
		PaidMonths:     uint32(lease.PaidMonths),
		StartDate:      lease.StartDate,
		EndDate:        lease.EndDate,
		Confirmed:      lease.Confirmed,
		PendingCount:   len(lease.PendingTransactions),
		CheckedAtBlock: lease.LastCheckedBlock,
	})
}
