// Package hub owns the hub registration lifecycle: signed connect and
// disconnect handshakes against the WOM network, passive ledger-driven
// refresh, and claimable reward caches.
package hub

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"womnet/auth"
	womerrors "womnet/core/errors"
	"womnet/core/events"
	"womnet/ledger"
	"womnet/models"
	"womnet/observability/metrics"
)

// passiveRefreshInterval bounds how often a non-forced refresh re-reads the
// ledger for the same hub.
const passiveRefreshInterval = 5 * time.Minute

// engineState is the narrow projection-store surface the engine consumes.
type engineState interface {
	HubByAddress(address string) (*models.Hub, error)
	EnabledHubByDeed(deedID uint64) (*models.Hub, error)
	SaveHub(hub *models.Hub) error
}

// engineLedger is the ledger gateway surface the engine consumes.
type engineLedger interface {
	GetDeedOwner(ctx context.Context, assetID uint64) (string, error)
	GetDeedManager(ctx context.Context, assetID uint64) (string, error)
	GetDeedCityIndex(ctx context.Context, assetID uint64) (int16, error)
	GetDeedCardType(ctx context.Context, assetID uint64) (int16, error)
	GetHub(ctx context.Context, hubAddress string) (*ledger.HubState, error)
	GetWomDeed(ctx context.Context, assetID uint64) (*ledger.WomDeed, error)
	UpdateWomDeed(ctx context.Context, deed ledger.WomDeed) error
	AutoConnectToWom(ctx context.Context, hubAddress string, deed ledger.WomDeed) error
	GetPendingRewards(ctx context.Context, address string) (*big.Int, error)
}

// ConnectionRequest carries a signed connect or disconnect handshake.
type ConnectionRequest struct {
	Token                string
	HubAddress           string
	RawMessage           string
	HubSignature         string
	DeedManagerAddress   string
	DeedManagerSignature string

	DeedID            uint64
	EarnerAddress     string
	Name              string
	Description       string
	URL               string
	Color             string
	AvatarID          string
	BannerID          string
	UsersCount        uint64
	RewardsPeriodType string
	RewardsPerPeriod  float64
}

// Engine reconciles hub registrations between signed user handshakes and the
// ledger's hub/deed-manager truth.
type Engine struct {
	state   engineState
	ledger  engineLedger
	tokens  *auth.TokenPool
	emitter events.Emitter
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewEngine creates a hub engine with a default token pool and no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		tokens:  auth.NewTokenPool(0, 0),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   time.Now,
	}
}

// SetState configures the projection store backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the ledger gateway.
func (e *Engine) SetLedger(gateway engineLedger) { e.ledger = gateway }

// SetTokenPool overrides the handshake token pool.
func (e *Engine) SetTokenPool(pool *auth.TokenPool) {
	if pool != nil {
		e.tokens = pool
	}
}

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

// GenerateToken issues a single-use correlation token for a future signed
// handshake.
func (e *Engine) GenerateToken() string { return e.tokens.Generate() }

// validateHandshake enforces the handshake rejection precedence: empty token,
// unknown token, empty signed/raw message, signature not recovering to the
// claimed address, then (connect only) the deed-manager co-signature.
func (e *Engine) validateHandshake(req ConnectionRequest, requireManager bool) error {
	fail := func(code string, args ...interface{}) error {
		metrics.Recon().HandshakeFailures.WithLabelValues(code).Inc()
		return womerrors.Authentication(code, args...)
	}
	if strings.TrimSpace(req.Token) == "" {
		return fail(womerrors.CodeEmptyToken)
	}
	if !e.tokens.Valid(req.Token) {
		return fail(womerrors.CodeInvalidToken)
	}
	if strings.TrimSpace(req.RawMessage) == "" || strings.TrimSpace(req.HubSignature) == "" {
		return fail(womerrors.CodeEmptySignedMessage)
	}
	if !auth.Verify(req.HubAddress, req.RawMessage, req.HubSignature) {
		return fail(womerrors.CodeInvalidSignedMessage)
	}
	if requireManager {
		if strings.TrimSpace(req.DeedManagerAddress) == "" || strings.TrimSpace(req.DeedManagerSignature) == "" {
			return fail(womerrors.CodeInvalidManagerSignature, "missing deed manager signature")
		}
		if !auth.Verify(req.DeedManagerAddress, req.RawMessage, req.DeedManagerSignature) {
			return fail(womerrors.CodeInvalidManagerSignature)
		}
	}
	return nil
}

// Connect processes a signed connect handshake. When the deed's ledger
// manager changed since the previous connection, the old connection is
// force-disconnected first, even on a connect call.
func (e *Engine) Connect(ctx context.Context, req ConnectionRequest) (*models.Hub, error) {
	if err := e.validateHandshake(req, true); err != nil {
		return nil, err
	}

	deedOwner, err := e.ledger.GetDeedOwner(ctx, req.DeedID)
	if err != nil {
		return nil, womerrors.Rejected(womerrors.CodeLedgerUnavailable, "read deed owner", err)
	}
	deedManager, err := e.ledger.GetDeedManager(ctx, req.DeedID)
	if err != nil {
		return nil, womerrors.Rejected(womerrors.CodeLedgerUnavailable, "read deed manager", err)
	}
	if !strings.EqualFold(deedManager, strings.TrimSpace(req.DeedManagerAddress)) {
		return nil, womerrors.Unauthorized("signer is not the deed's current manager")
	}

	hubAddress := strings.ToLower(strings.TrimSpace(req.HubAddress))
	hub, err := e.state.HubByAddress(hubAddress)
	if err != nil {
		return nil, err
	}

	// A different hub holding the deed loses its connection first: one
	// enabled hub per deed.
	if other, err := e.state.EnabledHubByDeed(req.DeedID); err != nil {
		return nil, err
	} else if other != nil && other.Address != hubAddress {
		if err := e.disable(other); err != nil {
			return nil, err
		}
	}

	now := e.nowFn()
	managerChanged := hub != nil && hub.DeedManagerAddress != "" &&
		!strings.EqualFold(hub.DeedManagerAddress, deedManager)
	reconnecting := hub == nil || !hub.Enabled || hub.DeedID != req.DeedID || managerChanged

	if managerChanged && hub.Enabled {
		if err := e.disable(hub); err != nil {
			return nil, err
		}
	}

	if hub == nil {
		hub = &models.Hub{Address: hubAddress, CreatedDate: now}
	}
	hub.DeedID = req.DeedID
	hub.OwnerAddress = strings.ToLower(strings.TrimSpace(deedOwner))
	hub.ManagerAddress = strings.ToLower(strings.TrimSpace(deedManager))
	hub.DeedManagerAddress = strings.ToLower(strings.TrimSpace(deedManager))
	hub.EarnerAddress = strings.ToLower(strings.TrimSpace(req.EarnerAddress))
	hub.Name = req.Name
	hub.Description = req.Description
	hub.URL = req.URL
	hub.Color = req.Color
	hub.AvatarID = req.AvatarID
	hub.BannerID = req.BannerID
	hub.UsersCount = req.UsersCount
	hub.RewardsPeriodType = req.RewardsPeriodType
	hub.RewardsPerPeriod = req.RewardsPerPeriod
	hub.Enabled = true
	hub.UpdatedDate = now

	if city, err := e.ledger.GetDeedCityIndex(ctx, req.DeedID); err == nil {
		hub.City = city
	} else {
		e.logger.Warn("deed city read failed", "deedId", req.DeedID, "err", err)
	}
	if cardType, err := e.ledger.GetDeedCardType(ctx, req.DeedID); err == nil {
		hub.CardType = cardType
	} else {
		e.logger.Warn("deed card type read failed", "deedId", req.DeedID, "err", err)
	}
	if state, err := e.ledger.GetHub(ctx, hubAddress); err == nil && state != nil {
		hub.JoinDate = state.JoinDate
		hub.UntilDate = state.UntilDate
	} else if err != nil {
		e.logger.Warn("wom hub read failed", "hub", hubAddress, "err", err)
	}
	if hub.JoinDate.IsZero() {
		hub.JoinDate = now
	}

	if reconnecting {
		if deed, err := e.ledger.GetWomDeed(ctx, req.DeedID); err == nil && deed != nil {
			// WOM registry entries go stale when ownership or management
			// changed since the previous connection; push the correction
			// before re-joining.
			if !strings.EqualFold(deed.Owner, deedOwner) || !strings.EqualFold(deed.Manager, deedManager) {
				deed.Owner = strings.ToLower(strings.TrimSpace(deedOwner))
				deed.Manager = strings.ToLower(strings.TrimSpace(deedManager))
				if err := e.ledger.UpdateWomDeed(ctx, *deed); err != nil {
					e.logger.Warn("wom deed update failed", "deedId", req.DeedID, "err", err)
				}
			}
			if err := e.ledger.AutoConnectToWom(ctx, hubAddress, *deed); err != nil {
				e.logger.Warn("wom auto-connect failed", "hub", hubAddress, "deedId", req.DeedID, "err", err)
			}
		}
	}

	if err := e.state.SaveHub(hub); err != nil {
		return nil, err
	}
	e.tokens.Consume(req.Token)

	eventType := events.TypeHubSaved
	if reconnecting {
		eventType = events.TypeHubConnected
	}
	e.emitLifecycle(eventType, hub)
	return hub, nil
}

// Disconnect processes a signed disconnect handshake. The record is disabled,
// never deleted, and HUB_DISCONNECTED is always emitted.
func (e *Engine) Disconnect(ctx context.Context, req ConnectionRequest) (*models.Hub, error) {
	if err := e.validateHandshake(req, false); err != nil {
		return nil, err
	}
	hub, err := e.state.HubByAddress(req.HubAddress)
	if err != nil {
		return nil, err
	}
	if hub == nil {
		return nil, womerrors.NotFound(womerrors.CodeHubNotFound)
	}
	if err := e.disable(hub); err != nil {
		return nil, err
	}
	e.tokens.Consume(req.Token)
	return hub, nil
}

// Refresh re-derives the connected state purely from ledger truth, without a
// new signature. Ledger failures are swallowed and logged, leaving the cached
// state untouched.
func (e *Engine) Refresh(ctx context.Context, hubAddress string, force bool) (*models.Hub, error) {
	hub, err := e.state.HubByAddress(hubAddress)
	if err != nil {
		return nil, err
	}
	if hub == nil {
		return nil, womerrors.NotFound(womerrors.CodeHubNotFound)
	}
	now := e.nowFn()
	if !force && now.Sub(hub.UpdatedDate) < passiveRefreshInterval {
		return hub, nil
	}

	state, err := e.ledger.GetHub(ctx, hub.Address)
	if err != nil {
		e.logger.Warn("hub refresh skipped, ledger read failed", "hub", hub.Address, "err", err)
		return hub, nil
	}
	deedManager, err := e.ledger.GetDeedManager(ctx, hub.DeedID)
	if err != nil {
		e.logger.Warn("hub refresh skipped, ledger read failed", "hub", hub.Address, "err", err)
		return hub, nil
	}

	if state != nil {
		if !state.UntilDate.IsZero() {
			hub.UntilDate = state.UntilDate
		}
		if !state.JoinDate.IsZero() {
			hub.JoinDate = state.JoinDate
		}
		// Owner changes are adopted silently; only manager changes force a
		// disconnection.
		if owner := strings.ToLower(strings.TrimSpace(state.Owner)); owner != "" {
			hub.OwnerAddress = owner
		}
	}

	managerMatches := strings.EqualFold(hub.DeedManagerAddress, deedManager)
	untilElapsed := !hub.UntilDate.IsZero() && !hub.UntilDate.After(now)
	ledgerConnected := state != nil && state.Enabled && managerMatches && !untilElapsed

	switch {
	case hub.Enabled && !ledgerConnected:
		return hub, e.disable(hub)
	case !hub.Enabled && ledgerConnected:
		hub.Enabled = true
		hub.UpdatedDate = now
		if err := e.state.SaveHub(hub); err != nil {
			return nil, err
		}
		e.emitLifecycle(events.TypeHubStatusChanged, hub)
		return hub, nil
	default:
		hub.UpdatedDate = now
		return hub, e.state.SaveHub(hub)
	}
}

// RefreshClaimableAmount recomputes the owner and manager claimable reward
// caches from the ledger's pending-reward query. Idempotent, no state-machine
// transition.
func (e *Engine) RefreshClaimableAmount(ctx context.Context, hubAddress string) (*models.Hub, error) {
	hub, err := e.state.HubByAddress(hubAddress)
	if err != nil {
		return nil, err
	}
	if hub == nil {
		return nil, womerrors.NotFound(womerrors.CodeHubNotFound)
	}
	if hub.OwnerAddress != "" {
		amount, err := e.ledger.GetPendingRewards(ctx, hub.OwnerAddress)
		if err != nil {
			return nil, womerrors.Rejected(womerrors.CodeLedgerUnavailable, "owner pending rewards", err)
		}
		hub.OwnerClaimableAmount = amount.String()
	}
	if hub.ManagerAddress != "" {
		amount, err := e.ledger.GetPendingRewards(ctx, hub.ManagerAddress)
		if err != nil {
			return nil, womerrors.Rejected(womerrors.CodeLedgerUnavailable, "manager pending rewards", err)
		}
		hub.ManagerClaimableAmount = amount.String()
	}
	hub.UpdatedDate = e.nowFn()
	if err := e.state.SaveHub(hub); err != nil {
		return nil, err
	}
	return hub, nil
}

// disable clears the enabled flag without deleting the record and broadcasts
// the disconnection.
func (e *Engine) disable(hub *models.Hub) error {
	hub.Enabled = false
	hub.UpdatedDate = e.nowFn()
	if err := e.state.SaveHub(hub); err != nil {
		return err
	}
	e.emitLifecycle(events.TypeHubDisconnected, hub)
	return nil
}

func (e *Engine) emitLifecycle(eventType string, hub *models.Hub) {
	e.emitter.Emit(events.HubLifecycle{
		Type:      eventType,
		Address:   hub.Address,
		DeedID:    hub.DeedID,
		Owner:     hub.OwnerAddress,
		Manager:   hub.ManagerAddress,
		Enabled:   hub.Enabled,
		UntilDate: hub.UntilDate,
	})
}
