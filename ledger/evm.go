package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const deedABIJSON = `[
{"name":"ownerOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
{"name":"managerOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
{"name":"isProvisioningManager","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"name":"cityIndex","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]},
{"name":"cardType","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]},
{"name":"Transfer","type":"event","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]}
]`

const leaseABIJSON = `[
{"name":"getLease","type":"function","stateMutability":"view","inputs":[{"name":"leaseId","type":"uint256"}],"outputs":[
 {"name":"id","type":"uint256"},{"name":"deedId","type":"uint256"},{"name":"manager","type":"address"},{"name":"owner","type":"address"},
 {"name":"paidMonths","type":"uint16"},{"name":"startDate","type":"uint256"},{"name":"endDate","type":"uint256"},
 {"name":"noticeDate","type":"uint256"},{"name":"paidRentsDate","type":"uint256"}]},
{"name":"OfferCreated","type":"event","inputs":[{"name":"offerId","type":"uint256","indexed":true},{"name":"deedId","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true}]},
{"name":"OfferUpdated","type":"event","inputs":[{"name":"offerId","type":"uint256","indexed":true},{"name":"deedId","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true}]},
{"name":"OfferDeleted","type":"event","inputs":[{"name":"offerId","type":"uint256","indexed":true},{"name":"deedId","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true}]},
{"name":"OfferAcquired","type":"event","inputs":[{"name":"offerId","type":"uint256","indexed":true},{"name":"deedId","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true}]}
]`

const womABIJSON = `[
{"name":"getHub","type":"function","stateMutability":"view","inputs":[{"name":"hub","type":"address"}],"outputs":[
 {"name":"deedId","type":"uint256"},{"name":"owner","type":"address"},{"name":"manager","type":"address"},
 {"name":"enabled","type":"bool"},{"name":"joinDate","type":"uint256"},{"name":"untilDate","type":"uint256"}]},
{"name":"getDeed","type":"function","stateMutability":"view","inputs":[{"name":"deedId","type":"uint256"}],"outputs":[
 {"name":"city","type":"uint8"},{"name":"cardType","type":"uint8"},{"name":"mintingPower","type":"uint256"},{"name":"maxUsers","type":"uint256"},
 {"name":"owner","type":"address"},{"name":"manager","type":"address"},{"name":"ownerPercentage","type":"uint8"}]},
{"name":"updateDeed","type":"function","stateMutability":"nonpayable","inputs":[
 {"name":"deedId","type":"uint256"},{"name":"city","type":"uint8"},{"name":"cardType","type":"uint8"},{"name":"mintingPower","type":"uint256"},
 {"name":"maxUsers","type":"uint256"},{"name":"owner","type":"address"},{"name":"manager","type":"address"},{"name":"ownerPercentage","type":"uint8"}],"outputs":[]},
{"name":"autoConnect","type":"function","stateMutability":"nonpayable","inputs":[
 {"name":"hub","type":"address"},{"name":"deedId","type":"uint256"},{"name":"owner","type":"address"},{"name":"manager","type":"address"}],"outputs":[]},
{"name":"pendingRewards","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"getRewardTokens","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"tokens","type":"address[]"},{"name":"networks","type":"uint256[]"}]}
]`

// backend is the subset of ethclient.Client the gateway consumes.
type backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// EVMConfig configures the on-chain gateway.
type EVMConfig struct {
	RPCURL        string
	ChainID       *big.Int
	DeedContract  string
	LeaseContract string
	WomContract   string
	// SignerKeyHex funds WOM deed updates; read paths work without it.
	SignerKeyHex string
}

// EVMGateway implements Gateway against an EVM JSON-RPC endpoint.
type EVMGateway struct {
	client   backend
	chainID  *big.Int
	deedAddr common.Address
	leaseAdr common.Address
	womAddr  common.Address
	deedABI  abi.ABI
	leaseABI abi.ABI
	womABI   abi.ABI
	signer   *ecdsa.PrivateKey
}

// DialEVM connects to the RPC endpoint and prepares the contract ABIs.
func DialEVM(ctx context.Context, cfg EVMConfig) (*EVMGateway, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", cfg.RPCURL, err)
	}
	return newEVMGateway(client, cfg)
}

func newEVMGateway(client backend, cfg EVMConfig) (*EVMGateway, error) {
	deedABI, err := abi.JSON(strings.NewReader(deedABIJSON))
	if err != nil {
		return nil, fmt.Errorf("ledger: deed abi: %w", err)
	}
	leaseABI, err := abi.JSON(strings.NewReader(leaseABIJSON))
	if err != nil {
		return nil, fmt.Errorf("ledger: lease abi: %w", err)
	}
	womABI, err := abi.JSON(strings.NewReader(womABIJSON))
	if err != nil {
		return nil, fmt.Errorf("ledger: wom abi: %w", err)
	}
	gw := &EVMGateway{
		client:   client,
		chainID:  cfg.ChainID,
		deedAddr: common.HexToAddress(cfg.DeedContract),
		leaseAdr: common.HexToAddress(cfg.LeaseContract),
		womAddr:  common.HexToAddress(cfg.WomContract),
		deedABI:  deedABI,
		leaseABI: leaseABI,
		womABI:   womABI,
	}
	if key := strings.TrimPrefix(strings.TrimSpace(cfg.SignerKeyHex), "0x"); key != "" {
		signer, err := ethcrypto.HexToECDSA(key)
		if err != nil {
			return nil, fmt.Errorf("ledger: load signer key: %w", err)
		}
		gw.signer = signer
	}
	return gw, nil
}

func (g *EVMGateway) call(ctx context.Context, contract common.Address, contractABI abi.ABI, atBlock *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s: %w", method, err)
	}
	output, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, atBlock)
	if err != nil {
		return nil, fmt.Errorf("ledger: call %s: %w", method, err)
	}
	values, err := contractABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack %s: %w", method, err)
	}
	return values, nil
}

func (g *EVMGateway) GetDeedOwner(ctx context.Context, assetID uint64) (string, error) {
	values, err := g.call(ctx, g.deedAddr, g.deedABI, nil, "ownerOf", new(big.Int).SetUint64(assetID))
	if err != nil {
		return "", err
	}
	return values[0].(common.Address).Hex(), nil
}

func (g *EVMGateway) GetDeedManager(ctx context.Context, assetID uint64) (string, error) {
	values, err := g.call(ctx, g.deedAddr, g.deedABI, nil, "managerOf", new(big.Int).SetUint64(assetID))
	if err != nil {
		return "", err
	}
	return values[0].(common.Address).Hex(), nil
}

func (g *EVMGateway) IsDeedOwner(ctx context.Context, address string, assetID uint64) (bool, error) {
	owner, err := g.GetDeedOwner(ctx, assetID)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(owner, strings.TrimSpace(address)), nil
}

func (g *EVMGateway) IsDeedProvisioningManager(ctx context.Context, address string, assetID uint64) (bool, error) {
	values, err := g.call(ctx, g.deedAddr, g.deedABI, nil, "isProvisioningManager",
		common.HexToAddress(address), new(big.Int).SetUint64(assetID))
	if err != nil {
		return false, err
	}
	return values[0].(bool), nil
}

func (g *EVMGateway) GetDeedCityIndex(ctx context.Context, assetID uint64) (int16, error) {
	values, err := g.call(ctx, g.deedAddr, g.deedABI, nil, "cityIndex", new(big.Int).SetUint64(assetID))
	if err != nil {
		return 0, err
	}
	return int16(values[0].(uint8)), nil
}

func (g *EVMGateway) GetDeedCardType(ctx context.Context, assetID uint64) (int16, error) {
	values, err := g.call(ctx, g.deedAddr, g.deedABI, nil, "cardType", new(big.Int).SetUint64(assetID))
	if err != nil {
		return 0, err
	}
	return int16(values[0].(uint8)), nil
}

func (g *EVMGateway) GetLeaseByID(ctx context.Context, leaseID uint64, atBlock uint64) (*LeaseState, error) {
	var blockArg *big.Int
	if atBlock > 0 {
		blockArg = new(big.Int).SetUint64(atBlock)
	}
	values, err := g.call(ctx, g.leaseAdr, g.leaseABI, blockArg, "getLease", new(big.Int).SetUint64(leaseID))
	if err != nil {
		return nil, err
	}
	block := atBlock
	if block == 0 {
		if block, err = g.client.BlockNumber(ctx); err != nil {
			return nil, fmt.Errorf("ledger: last block: %w", err)
		}
	}
	return &LeaseState{
		LeaseID:       values[0].(*big.Int).Uint64(),
		AssetID:       values[1].(*big.Int).Uint64(),
		Manager:       values[2].(common.Address).Hex(),
		Owner:         values[3].(common.Address).Hex(),
		PaidMonths:    int32(values[4].(uint16)),
		StartDate:     unixTime(values[5].(*big.Int)),
		EndDate:       unixTime(values[6].(*big.Int)),
		NoticeDate:    unixTime(values[7].(*big.Int)),
		PaidRentsDate: unixTime(values[8].(*big.Int)),
		AtBlock:       block,
	}, nil
}

func (g *EVMGateway) GetTransactionState(ctx context.Context, txHash string) (TxState, error) {
	receipt, err := g.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return TxPending, nil
	}
	if err != nil {
		return TxPending, fmt.Errorf("ledger: receipt %s: %w", txHash, err)
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return TxReverted, nil
	}
	return TxMined, nil
}

func (g *EVMGateway) GetHub(ctx context.Context, hubAddress string) (*HubState, error) {
	values, err := g.call(ctx, g.womAddr, g.womABI, nil, "getHub", common.HexToAddress(hubAddress))
	if err != nil {
		return nil, err
	}
	return &HubState{
		Address:   strings.ToLower(strings.TrimSpace(hubAddress)),
		DeedID:    values[0].(*big.Int).Uint64(),
		Owner:     values[1].(common.Address).Hex(),
		Manager:   values[2].(common.Address).Hex(),
		Enabled:   values[3].(bool),
		JoinDate:  unixTime(values[4].(*big.Int)),
		UntilDate: unixTime(values[5].(*big.Int)),
	}, nil
}

func (g *EVMGateway) GetWomDeed(ctx context.Context, assetID uint64) (*WomDeed, error) {
	values, err := g.call(ctx, g.womAddr, g.womABI, nil, "getDeed", new(big.Int).SetUint64(assetID))
	if err != nil {
		return nil, err
	}
	return &WomDeed{
		DeedID:          assetID,
		City:            int16(values[0].(uint8)),
		CardType:        int16(values[1].(uint8)),
		MintingPower:    float64(values[2].(*big.Int).Uint64()) / 100,
		MaxUsers:        values[3].(*big.Int).Uint64(),
		Owner:           values[4].(common.Address).Hex(),
		Manager:         values[5].(common.Address).Hex(),
		OwnerPercentage: values[6].(uint8),
	}, nil
}

func (g *EVMGateway) UpdateWomDeed(ctx context.Context, deed WomDeed) error {
	return g.transact(ctx, g.womAddr, g.womABI, "updateDeed",
		new(big.Int).SetUint64(deed.DeedID),
		uint8(deed.City),
		uint8(deed.CardType),
		new(big.Int).SetUint64(uint64(deed.MintingPower*100)),
		new(big.Int).SetUint64(deed.MaxUsers),
		common.HexToAddress(deed.Owner),
		common.HexToAddress(deed.Manager),
		deed.OwnerPercentage,
	)
}

func (g *EVMGateway) AutoConnectToWom(ctx context.Context, hubAddress string, deed WomDeed) error {
	return g.transact(ctx, g.womAddr, g.womABI, "autoConnect",
		common.HexToAddress(hubAddress),
		new(big.Int).SetUint64(deed.DeedID),
		common.HexToAddress(deed.Owner),
		common.HexToAddress(deed.Manager),
	)
}

func (g *EVMGateway) GetLastBlock(ctx context.Context) (uint64, error) {
	block, err := g.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: last block: %w", err)
	}
	return block, nil
}

func (g *EVMGateway) GetPendingRewards(ctx context.Context, address string) (*big.Int, error) {
	values, err := g.call(ctx, g.womAddr, g.womABI, nil, "pendingRewards", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

func (g *EVMGateway) GetRewardTokens(ctx context.Context) ([]RewardToken, error) {
	values, err := g.call(ctx, g.womAddr, g.womABI, nil, "getRewardTokens")
	if err != nil {
		return nil, err
	}
	addrs := values[0].([]common.Address)
	networks := values[1].([]*big.Int)
	tokens := make([]RewardToken, 0, len(addrs))
	for i, addr := range addrs {
		network := uint64(0)
		if i < len(networks) {
			network = networks[i].Uint64()
		}
		tokens = append(tokens, RewardToken{Address: addr.Hex(), NetworkID: network})
	}
	return tokens, nil
}

func (g *EVMGateway) GetMinedTransferOwnershipDeedTransactions(ctx context.Context, fromBlock, toBlock uint64) ([]OwnershipTransfer, error) {
	transferTopic := g.deedABI.Events["Transfer"].ID
	logs, err := g.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{g.deedAddr},
		Topics:    [][]common.Hash{{transferTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: filter transfers: %w", err)
	}
	transfers := make([]OwnershipTransfer, 0, len(logs))
	for _, entry := range logs {
		if len(entry.Topics) < 4 {
			continue
		}
		transfers = append(transfers, OwnershipTransfer{
			TxHash:      entry.TxHash.Hex(),
			AssetID:     entry.Topics[3].Big().Uint64(),
			FromAddress: common.BytesToAddress(entry.Topics[1].Bytes()).Hex(),
			ToAddress:   common.BytesToAddress(entry.Topics[2].Bytes()).Hex(),
			BlockNumber: entry.BlockNumber,
		})
	}
	return transfers, nil
}

func (g *EVMGateway) GetOfferTransactionEvents(ctx context.Context, txHash string) ([]OfferEvent, error) {
	receipt, err := g.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, fmt.Errorf("ledger: receipt %s: %w", txHash, err)
	}
	offerTopics := map[common.Hash]OfferEventType{
		g.leaseABI.Events["OfferCreated"].ID:  OfferCreated,
		g.leaseABI.Events["OfferUpdated"].ID:  OfferUpdated,
		g.leaseABI.Events["OfferDeleted"].ID:  OfferDeleted,
		g.leaseABI.Events["OfferAcquired"].ID: OfferAcquired,
	}
	events := make([]OfferEvent, 0, len(receipt.Logs))
	for _, entry := range receipt.Logs {
		if len(entry.Topics) < 4 {
			continue
		}
		eventType, ok := offerTopics[entry.Topics[0]]
		if !ok {
			continue
		}
		events = append(events, OfferEvent{
			Type:        eventType,
			OfferID:     entry.Topics[1].Big().Uint64(),
			AssetID:     entry.Topics[2].Big().Uint64(),
			Owner:       common.BytesToAddress(entry.Topics[3].Bytes()).Hex(),
			BlockNumber: entry.BlockNumber,
		})
	}
	return events, nil
}

func (g *EVMGateway) transact(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...interface{}) error {
	if g.signer == nil {
		return fmt.Errorf("ledger: no signer key configured for %s", method)
	}
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("ledger: pack %s: %w", method, err)
	}
	from := ethcrypto.PubkeyToAddress(g.signer.PublicKey)
	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("ledger: nonce: %w", err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("ledger: gas price: %w", err)
	}
	tx := ethtypes.NewTransaction(nonce, contract, big.NewInt(0), 500_000, gasPrice, input)
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(g.chainID), g.signer)
	if err != nil {
		return fmt.Errorf("ledger: sign %s: %w", method, err)
	}
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("ledger: send %s: %w", method, err)
	}
	return nil
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
