// Package recon runs the background consistency sweeps: passive hub refresh,
// pending-lease reconciliation and the mined deed ownership-transfer scan.
package recon

import (
	"context"
	"log/slog"
	"time"

	"womnet/ledger"
	"womnet/models"
)

// sweepState is the projection-store surface the sweeper consumes.
type sweepState interface {
	EnabledHubs() ([]models.Hub, error)
}

// sweepLedger is the ledger gateway surface the sweeper consumes.
type sweepLedger interface {
	GetLastBlock(ctx context.Context) (uint64, error)
	GetMinedTransferOwnershipDeedTransactions(ctx context.Context, fromBlock, toBlock uint64) ([]ledger.OwnershipTransfer, error)
}

// hubRefresher is the hub engine surface the sweeper consumes.
type hubRefresher interface {
	Refresh(ctx context.Context, hubAddress string, force bool) (*models.Hub, error)
}

// leaseReconciler is the lease engine surface the sweeper consumes.
type leaseReconciler interface {
	TransferDeedOwnership(ctx context.Context, newOwner string, assetID uint64) error
	ReconcilePending(ctx context.Context) error
}

// SweeperConfig configures the background sweep loop.
type SweeperConfig struct {
	State  sweepState
	Ledger sweepLedger
	Hubs   hubRefresher
	Leases leaseReconciler

	HubSweepInterval      time.Duration
	TransferScanInterval  time.Duration
	MaxTransferScanWindow uint64
	Logger                *slog.Logger
}

// Sweeper executes the periodic consistency sweeps until its context is
// cancelled. Individual sweep failures are logged and retried on the next
// tick, never propagated.
type Sweeper struct {
	state  sweepState
	ledger sweepLedger
	hubs   hubRefresher
	leases leaseReconciler

	hubInterval  time.Duration
	scanInterval time.Duration
	maxWindow    uint64
	logger       *slog.Logger

	// lastScanned is the highest block the transfer scan has covered. Zero
	// means the scan anchors to the chain head on its first run instead of
	// replaying history.
	lastScanned uint64
}

// NewSweeper constructs a sweeper with sane defaults.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	hubInterval := cfg.HubSweepInterval
	if hubInterval <= 0 {
		hubInterval = 10 * time.Minute
	}
	scanInterval := cfg.TransferScanInterval
	if scanInterval <= 0 {
		scanInterval = time.Minute
	}
	maxWindow := cfg.MaxTransferScanWindow
	if maxWindow == 0 {
		maxWindow = 5_000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		state:        cfg.State,
		ledger:       cfg.Ledger,
		hubs:         cfg.Hubs,
		leases:       cfg.Leases,
		hubInterval:  hubInterval,
		scanInterval: scanInterval,
		maxWindow:    maxWindow,
		logger:       logger,
	}
}

// Run starts the sweep loop until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.ledger == nil {
		return
	}
	hubTicker := time.NewTicker(s.hubInterval)
	defer hubTicker.Stop()
	scanTicker := time.NewTicker(s.scanInterval)
	defer scanTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hubTicker.C:
			s.SweepHubs(ctx)
		case <-scanTicker.C:
			s.ScanTransfers(ctx)
		}
	}
}

// SweepHubs passively refreshes every enabled hub against ledger truth, then
// re-attempts reconciliation for leases still tracking in-flight transactions.
func (s *Sweeper) SweepHubs(ctx context.Context) {
	if s.state == nil || s.hubs == nil {
		return
	}
	hubs, err := s.state.EnabledHubs()
	if err != nil {
		s.logger.Warn("hub sweep skipped", "err", err)
		return
	}
	for _, hub := range hubs {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.hubs.Refresh(ctx, hub.Address, false); err != nil {
			s.logger.Warn("hub refresh failed", "hub", hub.Address, "err", err)
		}
	}
	if s.leases != nil {
		if err := s.leases.ReconcilePending(ctx); err != nil {
			s.logger.Warn("pending lease sweep failed", "err", err)
		}
	}
}

// ScanTransfers scans the next block window for mined deed ownership
// transfers and applies each to the lease projections. The window never moves
// backwards; a failed window is retried whole on the next tick.
func (s *Sweeper) ScanTransfers(ctx context.Context) {
	if s.leases == nil {
		return
	}
	head, err := s.ledger.GetLastBlock(ctx)
	if err != nil {
		s.logger.Warn("transfer scan skipped, head read failed", "err", err)
		return
	}
	if s.lastScanned == 0 {
		s.lastScanned = head
		return
	}
	if head <= s.lastScanned {
		return
	}
	from := s.lastScanned + 1
	to := head
	if to-from >= s.maxWindow {
		to = from + s.maxWindow - 1
	}

	transfers, err := s.ledger.GetMinedTransferOwnershipDeedTransactions(ctx, from, to)
	if err != nil {
		s.logger.Warn("transfer scan failed", "fromBlock", from, "toBlock", to, "err", err)
		return
	}
	for _, transfer := range transfers {
		if err := s.leases.TransferDeedOwnership(ctx, transfer.ToAddress, transfer.AssetID); err != nil {
			s.logger.Warn("ownership transfer apply failed",
				"asset", transfer.AssetID, "tx", transfer.TxHash, "err", err)
			return
		}
	}
	s.lastScanned = to
}

// LastScannedBlock reports the highest block covered by the transfer scan.
func (s *Sweeper) LastScannedBlock() uint64 { return s.lastScanned }

// SetLastScannedBlock seeds the transfer scan anchor, used when resuming from
// persisted bookkeeping.
func (s *Sweeper) SetLastScannedBlock(block uint64) { s.lastScanned = block }
