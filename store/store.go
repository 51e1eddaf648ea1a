// Package store implements the projection repositories over gorm. The
// reconciliation engines consume them through their own narrow state
// interfaces; nothing here knows about ledger semantics.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	womerrors "womnet/core/errors"
	"womnet/models"
)

// Store wraps the gorm handle with typed accessors for the projection
// documents. Reads use best-effort upserts; there is no entity locking, the
// ledger stays the durable source of truth.
type Store struct {
	db *gorm.DB
}

// New wraps an opened gorm database.
func New(db *gorm.DB) *Store { return &Store{db: db} }

// Migrate applies the projection schema.
func (s *Store) Migrate() error {
	if err := models.AutoMigrate(s.db); err != nil {
		return womerrors.Transport(womerrors.CodeStoreUnavailable, err)
	}
	return nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return womerrors.Transport(womerrors.CodeStoreUnavailable, err)
}

// LeaseByID loads a lease by its document id; (nil, nil) when absent.
func (s *Store) LeaseByID(id uuid.UUID) (*models.Lease, error) {
	var lease models.Lease
	err := s.db.First(&lease, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &lease, nil
}

// LeaseByLedgerID loads a lease by its ledger-assigned id.
func (s *Store) LeaseByLedgerID(leaseID uint64) (*models.Lease, error) {
	if leaseID == 0 {
		return nil, nil
	}
	var lease models.Lease
	err := s.db.First(&lease, "lease_id = ?", leaseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &lease, nil
}

// LeaseByOfferID loads the provisional lease created against a rental offer.
func (s *Store) LeaseByOfferID(offerID uint64) (*models.Lease, error) {
	var lease models.Lease
	err := s.db.Where("offer_id = ? AND lease_id = 0", offerID).
		Order("created_at DESC").First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &lease, nil
}

// SaveLease upserts the lease document.
func (s *Store) SaveLease(lease *models.Lease) error {
	if lease.ID == uuid.Nil {
		lease.ID = uuid.New()
	}
	return wrap(s.db.Save(lease).Error)
}

// LeasesWithPending returns every lease still tracking in-flight transactions.
func (s *Store) LeasesWithPending() ([]models.Lease, error) {
	var leases []models.Lease
	err := s.db.Where("pending_transactions IS NOT NULL AND pending_transactions NOT IN ('', 'null', '[]')").
		Find(&leases).Error
	if err != nil {
		return nil, wrap(err)
	}
	// The JSON text filter is deliberately loose; re-check in Go.
	filtered := leases[:0]
	for _, lease := range leases {
		if !lease.Settled() {
			filtered = append(filtered, lease)
		}
	}
	return filtered, nil
}

// LeasesByAsset returns all leases projected for one deed.
func (s *Store) LeasesByAsset(assetID uint64) ([]models.Lease, error) {
	var leases []models.Lease
	if err := s.db.Where("asset_id = ?", assetID).Find(&leases).Error; err != nil {
		return nil, wrap(err)
	}
	return leases, nil
}

// LeaseQuery filters the paged lease listing.
type LeaseQuery struct {
	Caller        string
	AssetID       uint64
	ConfirmedOnly bool
	EndAfter      time.Time
	Offset        int
	Limit         int
}

// ListLeases returns leases visible to the caller, newest first. Visibility
// membership is applied after the page load because the viewer set is a
// serialized JSON column.
func (s *Store) ListLeases(q LeaseQuery) ([]models.Lease, error) {
	tx := s.db.Model(&models.Lease{}).Where("enabled = ?", true).Order("created_at DESC")
	if q.AssetID > 0 {
		tx = tx.Where("asset_id = ?", q.AssetID)
	}
	if q.ConfirmedOnly {
		tx = tx.Where("confirmed = ?", true)
	}
	if !q.EndAfter.IsZero() {
		tx = tx.Where("end_date > ?", q.EndAfter)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	var leases []models.Lease
	if err := tx.Limit(limit).Find(&leases).Error; err != nil {
		return nil, wrap(err)
	}
	visible := leases[:0]
	for _, lease := range leases {
		if lease.VisibleTo(q.Caller) {
			visible = append(visible, lease)
		}
	}
	return visible, nil
}

// OfferByID loads a projected rental offer; (nil, nil) when absent.
func (s *Store) OfferByID(offerID uint64) (*models.Offer, error) {
	var offer models.Offer
	err := s.db.First(&offer, "offer_id = ?", offerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &offer, nil
}

// SaveOffer upserts an offer projection.
func (s *Store) SaveOffer(offer *models.Offer) error {
	offer.Owner = strings.ToLower(strings.TrimSpace(offer.Owner))
	return wrap(s.db.Save(offer).Error)
}

// DeleteOffer removes an offer projection; deleting an absent offer is a
// no-op.
func (s *Store) DeleteOffer(offerID uint64) error {
	return wrap(s.db.Delete(&models.Offer{}, "offer_id = ?", offerID).Error)
}

// HubByAddress loads a hub by its lower-cased address; (nil, nil) when absent.
func (s *Store) HubByAddress(address string) (*models.Hub, error) {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == "" {
		return nil, nil
	}
	var hub models.Hub
	err := s.db.First(&hub, "address = ?", addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &hub, nil
}

// EnabledHubByDeed returns the hub currently connected for a deed, enforcing
// the at-most-one-enabled-hub-per-deed invariant at read time.
func (s *Store) EnabledHubByDeed(deedID uint64) (*models.Hub, error) {
	var hub models.Hub
	err := s.db.Where("deed_id = ? AND enabled = ?", deedID, true).First(&hub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &hub, nil
}

// SaveHub upserts the hub document keyed by its lower-cased address.
func (s *Store) SaveHub(hub *models.Hub) error {
	hub.Address = strings.ToLower(strings.TrimSpace(hub.Address))
	return wrap(s.db.Save(hub).Error)
}

// ListEnabledHubs pages through connected hubs, newest join first.
func (s *Store) ListEnabledHubs(offset, limit int) ([]models.Hub, error) {
	if limit <= 0 {
		limit = 50
	}
	var hubs []models.Hub
	err := s.db.Where("enabled = ?", true).Order("join_date DESC").
		Offset(offset).Limit(limit).Find(&hubs).Error
	if err != nil {
		return nil, wrap(err)
	}
	return hubs, nil
}

// EnabledHubs returns every connected hub, for background refresh sweeps.
func (s *Store) EnabledHubs() ([]models.Hub, error) {
	var hubs []models.Hub
	if err := s.db.Where("enabled = ?", true).Find(&hubs).Error; err != nil {
		return nil, wrap(err)
	}
	return hubs, nil
}

// ReportByHash loads a reward report by its content hash.
func (s *Store) ReportByHash(hash string) (*models.RewardReport, error) {
	var report models.RewardReport
	err := s.db.First(&report, "hash = ?", strings.ToLower(strings.TrimSpace(hash))).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &report, nil
}

// ReportForPeriod returns the report a hub already filed for a reward period.
func (s *Store) ReportForPeriod(hubAddress string, from, to time.Time) (*models.RewardReport, error) {
	var report models.RewardReport
	err := s.db.Where("hub_address = ? AND from_date = ? AND to_date = ?",
		strings.ToLower(strings.TrimSpace(hubAddress)), from, to).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &report, nil
}

// SaveReport upserts a reward report keyed by its hash.
func (s *Store) SaveReport(report *models.RewardReport) error {
	report.Hash = strings.ToLower(strings.TrimSpace(report.Hash))
	report.HubAddress = strings.ToLower(strings.TrimSpace(report.HubAddress))
	return wrap(s.db.Save(report).Error)
}
