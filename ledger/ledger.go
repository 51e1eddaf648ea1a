// Package ledger defines the gateway to the on-chain source of truth. All
// reads are synchronous remote calls that may fail with a transport or
// reverted error; the reconciliation engines never retry them.
package ledger

import (
	"context"
	"math/big"
	"time"
)

// LeaseState is a ledger snapshot of one lease, read at a known block. The
// snapshot is an explicit input to reconciliation, never ambient state.
type LeaseState struct {
	LeaseID       uint64
	AssetID       uint64
	Manager       string
	Owner         string
	PaidMonths    int32
	StartDate     time.Time
	EndDate       time.Time
	NoticeDate    time.Time
	PaidRentsDate time.Time
	TxHash        string
	AtBlock       uint64
}

// HubState is the ledger view of one hub registration.
type HubState struct {
	Address   string
	DeedID    uint64
	Owner     string
	Manager   string
	Enabled   bool
	JoinDate  time.Time
	UntilDate time.Time
}

// WomDeed is the ledger view of one deed registered on the WOM network.
type WomDeed struct {
	DeedID          uint64
	City            int16
	CardType        int16
	MintingPower    float64
	MaxUsers        uint64
	Owner           string
	Manager         string
	OwnerPercentage uint8
}

// RewardToken identifies a whitelisted reward token contract on one network.
type RewardToken struct {
	Address   string
	NetworkID uint64
}

// OwnershipTransfer is a mined deed ownership transfer event.
type OwnershipTransfer struct {
	TxHash      string
	AssetID     uint64
	FromAddress string
	ToAddress   string
	BlockNumber uint64
}

// OfferEventType labels mined rental offer lifecycle events.
type OfferEventType string

const (
	OfferCreated  OfferEventType = "OFFER_CREATED"
	OfferUpdated  OfferEventType = "OFFER_UPDATED"
	OfferDeleted  OfferEventType = "OFFER_DELETED"
	OfferAcquired OfferEventType = "OFFER_ACQUIRED"
)

// TxState classifies a submitted transaction relative to the chain.
type TxState int

const (
	// TxPending means no receipt exists yet.
	TxPending TxState = iota
	// TxMined means the transaction executed successfully.
	TxMined
	// TxReverted means the transaction mined but its execution failed. A
	// reverted transaction never produces the awaited state change.
	TxReverted
)

// OfferEvent is a mined rental offer event extracted from a transaction.
type OfferEvent struct {
	Type        OfferEventType
	OfferID     uint64
	AssetID     uint64
	Owner       string
	BlockNumber uint64
}

// Gateway exposes the on-chain reads and writes the reconciliation core
// consumes. Implementations wrap transport failures; they never retry.
type Gateway interface {
	GetDeedOwner(ctx context.Context, assetID uint64) (string, error)
	GetDeedManager(ctx context.Context, assetID uint64) (string, error)
	IsDeedOwner(ctx context.Context, address string, assetID uint64) (bool, error)
	IsDeedProvisioningManager(ctx context.Context, address string, assetID uint64) (bool, error)
	GetDeedCityIndex(ctx context.Context, assetID uint64) (int16, error)
	GetDeedCardType(ctx context.Context, assetID uint64) (int16, error)

	GetLeaseByID(ctx context.Context, leaseID uint64, atBlock uint64) (*LeaseState, error)
	GetTransactionState(ctx context.Context, txHash string) (TxState, error)

	GetHub(ctx context.Context, hubAddress string) (*HubState, error)
	GetWomDeed(ctx context.Context, assetID uint64) (*WomDeed, error)
	UpdateWomDeed(ctx context.Context, deed WomDeed) error
	AutoConnectToWom(ctx context.Context, hubAddress string, deed WomDeed) error

	GetLastBlock(ctx context.Context) (uint64, error)
	GetPendingRewards(ctx context.Context, address string) (*big.Int, error)
	GetRewardTokens(ctx context.Context) ([]RewardToken, error)

	GetMinedTransferOwnershipDeedTransactions(ctx context.Context, fromBlock, toBlock uint64) ([]OwnershipTransfer, error)
	GetOfferTransactionEvents(ctx context.Context, txHash string) ([]OfferEvent, error)
}
