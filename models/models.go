// Package models defines the projection documents persisted by the service.
// The ledger stays the source of truth; these rows are a fast queryable
// mirror reconciled against mined events.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"womnet/core/types"
)

// PublicVisibility marks a lease readable by any caller.
const PublicVisibility = "*"

// Lease mirrors a time-bounded right to operate a deed. The row exists before
// the creating transaction mines (LeaseID zero, Confirmed false) and is never
// hard-deleted; settled expired leases remain for history.
type Lease struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey"`
	LeaseID                uint64    `gorm:"index"`
	OfferID                uint64    `gorm:"index"`
	AssetID                uint64    `gorm:"index"`
	ManagerAddress         string    `gorm:"size:64;index"`
	ManagerEmail           string    `gorm:"size:255"`
	OwnerAddress           string    `gorm:"size:64;index"`
	PaidMonths             int32
	MonthPaymentInProgress int32
	StartDate              time.Time
	EndDate                time.Time `gorm:"index"`
	NoticeDate             time.Time
	PaidRentsDate          time.Time
	LastCheckedBlock       uint64
	Confirmed              bool `gorm:"index"`
	EndingLease            bool
	EndingLeaseAddress     string   `gorm:"size:64"`
	Enabled                bool     `gorm:"index"`
	PendingTransactions    []string `gorm:"serializer:json"`
	Viewers                []string `gorm:"serializer:json"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AddPendingTransaction records an in-flight transaction id. Membership is an
// idempotent set operation on lower-cased identifiers.
func (l *Lease) AddPendingTransaction(txID string) {
	id := strings.ToLower(strings.TrimSpace(txID))
	if id == "" {
		return
	}
	for _, existing := range l.PendingTransactions {
		if existing == id {
			return
		}
	}
	l.PendingTransactions = append(l.PendingTransactions, id)
}

// RemovePendingTransaction clears a mined (or failed) transaction id. Removing
// an absent id is a no-op.
func (l *Lease) RemovePendingTransaction(txID string) {
	id := strings.ToLower(strings.TrimSpace(txID))
	if id == "" {
		return
	}
	for i, existing := range l.PendingTransactions {
		if existing == id {
			l.PendingTransactions = append(l.PendingTransactions[:i], l.PendingTransactions[i+1:]...)
			return
		}
	}
}

// HasPendingTransaction reports membership of the lower-cased id.
func (l *Lease) HasPendingTransaction(txID string) bool {
	id := strings.ToLower(strings.TrimSpace(txID))
	for _, existing := range l.PendingTransactions {
		if existing == id {
			return true
		}
	}
	return false
}

// Settled reports whether no transactions remain in flight.
func (l *Lease) Settled() bool { return len(l.PendingTransactions) == 0 }

// TransactionStatus derives the externally visible status from the three
// authoritative flags; it is never stored.
func (l *Lease) TransactionStatus() types.TransactionStatus {
	return types.DeriveTransactionStatus(l.Enabled, l.Confirmed, l.Settled())
}

// ConfirmationStatus reports the lease's ledger write state. A nil lease is
// ABSENT, which callers use to distinguish "no such lease" from "lease
// awaiting its creating transaction".
func (l *Lease) ConfirmationStatus() types.ConfirmationStatus {
	switch {
	case l == nil:
		return types.ConfirmationAbsent
	case l.Confirmed:
		return types.ConfirmationConfirmed
	default:
		return types.ConfirmationUnconfirmed
	}
}

// RecomputeViewers applies the visibility invariants: disabled leases are
// visible to nobody, unconfirmed leases only to their manager and owner,
// confirmed leases to the public.
func (l *Lease) RecomputeViewers() {
	switch {
	case !l.Enabled:
		l.Viewers = nil
	case !l.Confirmed:
		viewers := make([]string, 0, 2)
		if addr := strings.ToLower(strings.TrimSpace(l.ManagerAddress)); addr != "" {
			viewers = append(viewers, addr)
		}
		if addr := strings.ToLower(strings.TrimSpace(l.OwnerAddress)); addr != "" && addr != strings.ToLower(l.ManagerAddress) {
			viewers = append(viewers, addr)
		}
		l.Viewers = viewers
	default:
		l.Viewers = []string{PublicVisibility}
	}
}

// VisibleTo reports whether address may read the lease.
func (l *Lease) VisibleTo(address string) bool {
	addr := strings.ToLower(strings.TrimSpace(address))
	for _, viewer := range l.Viewers {
		if viewer == PublicVisibility || viewer == addr {
			return true
		}
	}
	return false
}

// Offer is the projected rental offer a lease acquisition is keyed against.
// Maintained from mined offer events; disabled once acquired or deleted.
type Offer struct {
	OfferID   uint64 `gorm:"primaryKey"`
	AssetID   uint64 `gorm:"index"`
	Owner     string `gorm:"size:64;index"`
	Enabled   bool   `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Hub is an off-chain application instance bound to one deed via a signed
// handshake. Hubs are disabled on disconnect, never deleted.
type Hub struct {
	Address                string `gorm:"size:64;primaryKey"`
	DeedID                 uint64 `gorm:"index"`
	City                   int16
	CardType               int16
	OwnerAddress           string `gorm:"size:64;index"`
	ManagerAddress         string `gorm:"size:64;index"`
	DeedManagerAddress     string `gorm:"size:64"`
	EarnerAddress          string `gorm:"size:64"`
	Name                   string `gorm:"size:255"`
	Description            string `gorm:"size:2048"`
	URL                    string `gorm:"size:512"`
	Color                  string `gorm:"size:16"`
	AvatarID               string `gorm:"size:128"`
	BannerID               string `gorm:"size:128"`
	UsersCount             uint64
	RewardsPeriodType      string `gorm:"size:16"`
	RewardsPerPeriod       float64
	Enabled                bool   `gorm:"index"`
	OwnerClaimableAmount   string `gorm:"size:80"`
	ManagerClaimableAmount string `gorm:"size:80"`
	CreatedDate            time.Time
	UntilDate              time.Time
	JoinDate               time.Time
	UpdatedDate            time.Time
}

// Connected reports the effective connection state: the stored enabled flag
// only counts while the ledger-granted untilDate has not elapsed.
func (h *Hub) Connected(now time.Time) bool {
	if !h.Enabled {
		return false
	}
	if h.UntilDate.IsZero() {
		return true
	}
	return h.UntilDate.After(now)
}

// RewardReport is a hub-signed periodic claim of activity, scoped to one hub
// and one reward period.
type RewardReport struct {
	Hash                 string `gorm:"size:80;primaryKey"`
	HubAddress           string `gorm:"size:64;index"`
	DeedID               uint64 `gorm:"index"`
	Signature            string `gorm:"type:text"`
	FromDate             time.Time
	ToDate               time.Time `gorm:"index"`
	SentDate             time.Time
	UsersCount           uint64
	ParticipantsCount    uint64
	RecipientsCount      uint64
	AchievementsCount    uint64
	HubRewardAmount      float64
	UemRewardAmount      string `gorm:"size:80"`
	RewardTokenAddress   string `gorm:"size:64"`
	RewardTokenNetworkID uint64
	Fraud                bool `gorm:"index"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Lease{},
		&Offer{},
		&Hub{},
		&RewardReport{},
	)
}
