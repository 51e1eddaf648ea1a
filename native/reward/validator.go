// Package reward validates hub-signed periodic reward reports before they
// enter the projection store and reconciles their fraud flags.
package reward

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"womnet/auth"
	womerrors "womnet/core/errors"
	"womnet/ledger"
	"womnet/models"
)

// validatorState is the projection-store surface the validator consumes.
type validatorState interface {
	HubByAddress(address string) (*models.Hub, error)
	ReportByHash(hash string) (*models.RewardReport, error)
	ReportForPeriod(hubAddress string, from, to time.Time) (*models.RewardReport, error)
	SaveReport(report *models.RewardReport) error
}

// validatorLedger is the ledger gateway surface the validator consumes.
type validatorLedger interface {
	GetDeedManager(ctx context.Context, assetID uint64) (string, error)
	GetHub(ctx context.Context, hubAddress string) (*ledger.HubState, error)
	GetRewardTokens(ctx context.Context) ([]ledger.RewardToken, error)
}

// ReportRequest carries a hub-signed reward report submission.
type ReportRequest struct {
	Hash       string
	HubAddress string
	RawMessage string
	Signature  string

	FromDate time.Time
	ToDate   time.Time
	SentDate time.Time

	UsersCount        uint64
	ParticipantsCount uint64
	RecipientsCount   uint64
	AchievementsCount uint64

	HubRewardAmount      float64
	UemRewardAmount      string
	RewardTokenAddress   string
	RewardTokenNetworkID uint64
}

// Validator checks reward report submissions: signature recovery, signature
// hash binding, hub connectivity, deed-manager freshness, period placement and
// the reward token allow-list.
type Validator struct {
	state  validatorState
	ledger validatorLedger
	logger *slog.Logger
	nowFn  func() time.Time

	// extraTokens supplements the ledger-queried canonical token set.
	extraTokens []ledger.RewardToken
	// allowEarlyReports disables the period-end-before-join-date check.
	allowEarlyReports bool

	mu        sync.Mutex
	allowlist map[string]struct{}
}

// NewValidator creates a reward report validator.
func NewValidator() *Validator {
	return &Validator{
		logger: slog.Default(),
		nowFn:  time.Now,
	}
}

// SetState configures the projection store backend.
func (v *Validator) SetState(state validatorState) { v.state = state }

// SetLedger configures the ledger gateway.
func (v *Validator) SetLedger(gateway validatorLedger) { v.ledger = gateway }

// SetLogger configures the structured logger.
func (v *Validator) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	v.logger = logger
}

// SetNowFunc overrides the time source, primarily for tests.
func (v *Validator) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	v.nowFn = now
}

// SetExtraRewardTokens registers statically configured reward token contracts
// accepted in addition to the ledger-queried canonical set.
func (v *Validator) SetExtraRewardTokens(tokens []ledger.RewardToken) {
	v.extraTokens = tokens
}

// SetAllowEarlyReports toggles the configuration escape hatch that accepts
// reports whose period ended before the hub joined.
func (v *Validator) SetAllowEarlyReports(allow bool) { v.allowEarlyReports = allow }

// SaveRewardReport validates and stores a hub-signed reward report.
func (v *Validator) SaveRewardReport(ctx context.Context, req ReportRequest) (*models.RewardReport, error) {
	hubAddress := strings.ToLower(strings.TrimSpace(req.HubAddress))

	if !auth.Verify(hubAddress, req.RawMessage, req.Signature) {
		return nil, womerrors.Authentication(womerrors.CodeInvalidSignedMessage)
	}
	// The claimed hash must be the hash of the signature bytes. Binding the
	// submission to one concrete signature blocks replaying a valid signature
	// under a different report.
	if !strings.EqualFold(auth.SignatureHash(req.Signature), strings.TrimSpace(req.Hash)) {
		return nil, womerrors.Authentication(womerrors.CodeWrongSignatureHash)
	}

	hub, err := v.state.HubByAddress(hubAddress)
	if err != nil {
		return nil, err
	}
	if hub == nil {
		return nil, womerrors.NotFound(womerrors.CodeHubNotFound)
	}

	now := v.nowFn()
	state, err := v.ledger.GetHub(ctx, hubAddress)
	if err != nil {
		return nil, womerrors.Rejected(womerrors.CodeLedgerUnavailable, "read hub state", err)
	}
	if state != nil {
		// The ledger-granted until date is fresher than the stored one.
		hub.UntilDate = state.UntilDate
	}
	if state == nil || !state.Enabled || !hub.Connected(now) {
		return nil, womerrors.Rejected(womerrors.CodeHubNotConnected)
	}

	deedManager, err := v.ledger.GetDeedManager(ctx, hub.DeedID)
	if err != nil {
		return nil, womerrors.Rejected(womerrors.CodeLedgerUnavailable, "read deed manager", err)
	}
	if !strings.EqualFold(hub.DeedManagerAddress, deedManager) {
		return nil, womerrors.Rejected(womerrors.CodeHubManagerChanged)
	}

	if !v.allowEarlyReports && !hub.JoinDate.IsZero() && req.ToDate.Before(hub.JoinDate) {
		return nil, womerrors.Rejected(womerrors.CodeReportBeforeConnection)
	}

	allowed, err := v.tokenAllowed(ctx, req.RewardTokenAddress, req.RewardTokenNetworkID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, womerrors.Rejected(womerrors.CodeUnsupportedContract,
			strings.ToLower(req.RewardTokenAddress))
	}

	// One report per hub and period. A duplicate submission is suspicious:
	// the stored report keeps its data but gets flagged for fraud review.
	existing, err := v.state.ReportForPeriod(hubAddress, req.FromDate, req.ToDate)
	if err != nil {
		return nil, err
	}
	if existing != nil && !strings.EqualFold(existing.Hash, req.Hash) {
		if !existing.Fraud {
			existing.Fraud = true
			if err := v.state.SaveReport(existing); err != nil {
				return nil, err
			}
			v.logger.Warn("duplicate reward report period, flagged for review",
				"hub", hubAddress, "hash", existing.Hash)
		}
		return nil, womerrors.Rejected(womerrors.CodeDuplicateReport,
			"report already submitted for this period")
	}

	report := &models.RewardReport{
		Hash:                 strings.ToLower(strings.TrimSpace(req.Hash)),
		HubAddress:           hubAddress,
		DeedID:               hub.DeedID,
		Signature:            req.Signature,
		FromDate:             req.FromDate,
		ToDate:               req.ToDate,
		SentDate:             req.SentDate,
		UsersCount:           req.UsersCount,
		ParticipantsCount:    req.ParticipantsCount,
		RecipientsCount:      req.RecipientsCount,
		AchievementsCount:    req.AchievementsCount,
		HubRewardAmount:      req.HubRewardAmount,
		UemRewardAmount:      req.UemRewardAmount,
		RewardTokenAddress:   strings.ToLower(strings.TrimSpace(req.RewardTokenAddress)),
		RewardTokenNetworkID: req.RewardTokenNetworkID,
	}
	if report.SentDate.IsZero() {
		report.SentDate = now
	}
	if err := v.state.SaveReport(report); err != nil {
		return nil, err
	}
	return report, nil
}

// GetRewardReport returns the stored report for the given signature hash.
func (v *Validator) GetRewardReport(hash string) (*models.RewardReport, error) {
	report, err := v.state.ReportByHash(strings.ToLower(strings.TrimSpace(hash)))
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, womerrors.NotFound(womerrors.CodeReportNotFound)
	}
	return report, nil
}

// FlagFraud reconciles the fraud flag of a stored report after review.
func (v *Validator) FlagFraud(hash string, fraud bool) (*models.RewardReport, error) {
	report, err := v.GetRewardReport(hash)
	if err != nil {
		return nil, err
	}
	if report.Fraud == fraud {
		return report, nil
	}
	report.Fraud = fraud
	if err := v.state.SaveReport(report); err != nil {
		return nil, err
	}
	return report, nil
}

// tokenAllowed checks the contract+network pair against the allow-list. The
// list is built once from the ledger's canonical token set plus the static
// extras; a failed build is retried on the next submission.
func (v *Validator) tokenAllowed(ctx context.Context, address string, networkID uint64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.allowlist == nil {
		canonical, err := v.ledger.GetRewardTokens(ctx)
		if err != nil {
			return false, womerrors.Rejected(womerrors.CodeLedgerUnavailable, "read reward tokens", err)
		}
		allowlist := make(map[string]struct{}, len(canonical)+len(v.extraTokens))
		for _, token := range canonical {
			allowlist[tokenKey(token.Address, token.NetworkID)] = struct{}{}
		}
		for _, token := range v.extraTokens {
			allowlist[tokenKey(token.Address, token.NetworkID)] = struct{}{}
		}
		v.allowlist = allowlist
	}
	_, ok := v.allowlist[tokenKey(address, networkID)]
	return ok, nil
}

func tokenKey(address string, networkID uint64) string {
	return strings.ToLower(strings.TrimSpace(address)) + "@" + strconv.FormatUint(networkID, 10)
}
