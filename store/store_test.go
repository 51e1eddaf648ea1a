package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"womnet/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := New(db)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestLeaseRoundTrip(t *testing.T) {
	s := newTestStore(t)
	lease := &models.Lease{
		LeaseID:        42,
		OfferID:        7,
		AssetID:        5,
		ManagerAddress: "0xmanager",
		OwnerAddress:   "0xowner",
		Enabled:        true,
	}
	lease.AddPendingTransaction("0xAbC")
	lease.RecomputeViewers()
	if err := s.SaveLease(lease); err != nil {
		t.Fatalf("save: %v", err)
	}
	if lease.ID == uuid.Nil {
		t.Fatalf("save must assign an id")
	}

	loaded, err := s.LeaseByLedgerID(42)
	if err != nil {
		t.Fatalf("by ledger id: %v", err)
	}
	if loaded == nil || !loaded.HasPendingTransaction("0xabc") {
		t.Fatalf("pending set not persisted: %+v", loaded)
	}

	byOffer, err := s.LeaseByOfferID(7)
	if err != nil || byOffer == nil {
		t.Fatalf("by offer id: %v %v", byOffer, err)
	}

	missing, err := s.LeaseByLedgerID(999)
	if err != nil || missing != nil {
		t.Fatalf("absent lease must be (nil, nil), got %v %v", missing, err)
	}
}

func TestLeasesWithPending(t *testing.T) {
	s := newTestStore(t)
	withPending := &models.Lease{LeaseID: 1, AssetID: 1, Enabled: true}
	withPending.AddPendingTransaction("0xdef")
	settled := &models.Lease{LeaseID: 2, AssetID: 1, Enabled: true}
	for _, lease := range []*models.Lease{withPending, settled} {
		if err := s.SaveLease(lease); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	pending, err := s.LeasesWithPending()
	if err != nil {
		t.Fatalf("with pending: %v", err)
	}
	if len(pending) != 1 || pending[0].LeaseID != 1 {
		t.Fatalf("unexpected pending leases: %v", pending)
	}
}

func TestListLeasesVisibility(t *testing.T) {
	s := newTestStore(t)
	private := &models.Lease{LeaseID: 1, AssetID: 3, ManagerAddress: "0xmanager", OwnerAddress: "0xowner", Enabled: true}
	private.RecomputeViewers()
	public := &models.Lease{LeaseID: 2, AssetID: 3, ManagerAddress: "0xmanager", Confirmed: true, Enabled: true}
	public.RecomputeViewers()
	disabled := &models.Lease{LeaseID: 3, AssetID: 3, ManagerAddress: "0xmanager"}
	disabled.RecomputeViewers()
	for _, lease := range []*models.Lease{private, public, disabled} {
		if err := s.SaveLease(lease); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	anonymous, err := s.ListLeases(LeaseQuery{AssetID: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(anonymous) != 1 || anonymous[0].LeaseID != 2 {
		t.Fatalf("anonymous caller must see only public leases: %v", anonymous)
	}

	asManager, err := s.ListLeases(LeaseQuery{AssetID: 3, Caller: "0xManager"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(asManager) != 2 {
		t.Fatalf("manager must see private and public leases: %v", asManager)
	}
}

func TestOfferLifecycle(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveOffer(&models.Offer{OfferID: 9, AssetID: 2, Owner: "0xowner", Enabled: true}); err != nil {
		t.Fatalf("save offer: %v", err)
	}
	offer, err := s.OfferByID(9)
	if err != nil || offer == nil || !offer.Enabled {
		t.Fatalf("offer not stored: %v %v", offer, err)
	}
	if err := s.DeleteOffer(9); err != nil {
		t.Fatalf("delete offer: %v", err)
	}
	gone, err := s.OfferByID(9)
	if err != nil || gone != nil {
		t.Fatalf("deleted offer must be (nil, nil), got %v %v", gone, err)
	}
}

func TestHubQueries(t *testing.T) {
	s := newTestStore(t)
	enabled := &models.Hub{Address: "0xhub1", DeedID: 5, Enabled: true}
	disabled := &models.Hub{Address: "0xhub2", DeedID: 6}
	for _, hub := range []*models.Hub{enabled, disabled} {
		if err := s.SaveHub(hub); err != nil {
			t.Fatalf("save hub: %v", err)
		}
	}

	byAddr, err := s.HubByAddress("0xHUB1")
	if err != nil || byAddr == nil {
		t.Fatalf("hub lookup must be case-insensitive: %v %v", byAddr, err)
	}
	byDeed, err := s.EnabledHubByDeed(5)
	if err != nil || byDeed == nil || byDeed.Address != "0xhub1" {
		t.Fatalf("enabled hub by deed: %v %v", byDeed, err)
	}
	noHub, err := s.EnabledHubByDeed(6)
	if err != nil || noHub != nil {
		t.Fatalf("disabled hub must not match: %v %v", noHub, err)
	}
	all, err := s.EnabledHubs()
	if err != nil || len(all) != 1 {
		t.Fatalf("enabled hubs: %v %v", all, err)
	}
}

func TestReportQueries(t *testing.T) {
	s := newTestStore(t)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	report := &models.RewardReport{
		Hash:       "0xhash1",
		HubAddress: "0xhub",
		DeedID:     5,
		FromDate:   from,
		ToDate:     to,
	}
	if err := s.SaveReport(report); err != nil {
		t.Fatalf("save report: %v", err)
	}

	byHash, err := s.ReportByHash("0xhash1")
	if err != nil || byHash == nil {
		t.Fatalf("report by hash: %v %v", byHash, err)
	}
	byPeriod, err := s.ReportForPeriod("0xhub", from, to)
	if err != nil || byPeriod == nil {
		t.Fatalf("report for period: %v %v", byPeriod, err)
	}
	other, err := s.ReportForPeriod("0xhub", from.AddDate(0, 1, 0), to.AddDate(0, 1, 0))
	if err != nil || other != nil {
		t.Fatalf("different period must not match: %v %v", other, err)
	}
}
