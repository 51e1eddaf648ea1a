package models

import (
	"testing"
	"time"

	"womnet/core/types"
)

func TestPendingTransactionSet(t *testing.T) {
	lease := &Lease{}
	lease.AddPendingTransaction("0xABCdef")
	lease.AddPendingTransaction("0xabcDEF")
	lease.AddPendingTransaction("  ")
	if len(lease.PendingTransactions) != 1 {
		t.Fatalf("set not idempotent: %v", lease.PendingTransactions)
	}
	if !lease.HasPendingTransaction("0XABCDEF") {
		t.Fatalf("membership must be case-insensitive")
	}
	lease.RemovePendingTransaction("0xnothere")
	if len(lease.PendingTransactions) != 1 {
		t.Fatalf("removing an absent id must be a no-op")
	}
	lease.RemovePendingTransaction("0xAbCdEf")
	if !lease.Settled() {
		t.Fatalf("lease should be settled after removal")
	}
}

func TestTransactionStatusDerivation(t *testing.T) {
	lease := &Lease{Enabled: true}
	lease.AddPendingTransaction("0xabc")
	if got := lease.TransactionStatus(); got != types.StatusInProgress {
		t.Fatalf("pending lease status %v", got)
	}
	lease.RemovePendingTransaction("0xabc")
	lease.Confirmed = true
	if got := lease.TransactionStatus(); got != types.StatusValidated {
		t.Fatalf("confirmed settled lease status %v", got)
	}
	lease.Enabled = false
	if got := lease.TransactionStatus(); got != types.StatusError {
		t.Fatalf("disabled lease status %v", got)
	}
}

func TestConfirmationStatus(t *testing.T) {
	var absent *Lease
	if got := absent.ConfirmationStatus(); got != types.ConfirmationAbsent {
		t.Fatalf("nil lease must be ABSENT, got %s", got)
	}
	lease := &Lease{Enabled: true}
	if got := lease.ConfirmationStatus(); got != types.ConfirmationUnconfirmed {
		t.Fatalf("unmined lease must be UNCONFIRMED, got %s", got)
	}
	lease.Confirmed = true
	if got := lease.ConfirmationStatus(); got != types.ConfirmationConfirmed {
		t.Fatalf("mined lease must be CONFIRMED, got %s", got)
	}
}

func TestRecomputeViewers(t *testing.T) {
	lease := &Lease{
		ManagerAddress: "0xManager",
		OwnerAddress:   "0xOwner",
		Enabled:        true,
	}
	lease.RecomputeViewers()
	if len(lease.Viewers) != 2 {
		t.Fatalf("unconfirmed lease viewers: %v", lease.Viewers)
	}
	if !lease.VisibleTo("0XMANAGER") || !lease.VisibleTo("0xowner") {
		t.Fatalf("manager and owner must see an unconfirmed lease")
	}
	if lease.VisibleTo("0xstranger") {
		t.Fatalf("strangers must not see an unconfirmed lease")
	}

	lease.Confirmed = true
	lease.RecomputeViewers()
	if len(lease.Viewers) != 1 || lease.Viewers[0] != PublicVisibility {
		t.Fatalf("confirmed lease viewers: %v", lease.Viewers)
	}
	if !lease.VisibleTo("0xanyone") {
		t.Fatalf("confirmed lease must be public")
	}

	lease.Enabled = false
	lease.RecomputeViewers()
	if len(lease.Viewers) != 0 {
		t.Fatalf("disabled lease viewers: %v", lease.Viewers)
	}
	if lease.VisibleTo("0xmanager") {
		t.Fatalf("disabled lease must be visible to nobody")
	}
}

func TestRecomputeViewersSameManagerOwner(t *testing.T) {
	lease := &Lease{
		ManagerAddress: "0xSame",
		OwnerAddress:   "0xsame",
		Enabled:        true,
	}
	lease.RecomputeViewers()
	if len(lease.Viewers) != 1 {
		t.Fatalf("duplicate address must collapse: %v", lease.Viewers)
	}
}

func TestHubConnected(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	hub := &Hub{Enabled: true}
	if !hub.Connected(now) {
		t.Fatalf("enabled hub without untilDate must count as connected")
	}
	hub.UntilDate = now.Add(-time.Minute)
	if hub.Connected(now) {
		t.Fatalf("elapsed untilDate must mean disconnected")
	}
	hub.UntilDate = now.Add(time.Minute)
	if !hub.Connected(now) {
		t.Fatalf("future untilDate must mean connected")
	}
	hub.Enabled = false
	if hub.Connected(now) {
		t.Fatalf("disabled hub is never connected")
	}
}
