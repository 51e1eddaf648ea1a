package reward

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	womauth "womnet/auth"
	womerrors "womnet/core/errors"
	"womnet/ledger"
	"womnet/models"
)

type stubState struct {
	hubs    map[string]*models.Hub
	reports map[string]*models.RewardReport
}

func newStubState() *stubState {
	return &stubState{
		hubs:    make(map[string]*models.Hub),
		reports: make(map[string]*models.RewardReport),
	}
}

func (s *stubState) HubByAddress(address string) (*models.Hub, error) {
	return s.hubs[strings.ToLower(address)], nil
}

func (s *stubState) ReportByHash(hash string) (*models.RewardReport, error) {
	return s.reports[strings.ToLower(hash)], nil
}

func (s *stubState) ReportForPeriod(hubAddress string, from, to time.Time) (*models.RewardReport, error) {
	for _, report := range s.reports {
		if report.HubAddress == strings.ToLower(hubAddress) &&
			report.FromDate.Equal(from) && report.ToDate.Equal(to) {
			return report, nil
		}
	}
	return nil, nil
}

func (s *stubState) SaveReport(report *models.RewardReport) error {
	s.reports[strings.ToLower(report.Hash)] = report
	return nil
}

type stubLedger struct {
	managers  map[uint64]string
	hubStates map[string]*ledger.HubState
	tokens    []ledger.RewardToken
	tokensErr error
	tokenGets int
}

func (l *stubLedger) GetDeedManager(ctx context.Context, assetID uint64) (string, error) {
	return l.managers[assetID], nil
}

func (l *stubLedger) GetHub(ctx context.Context, hubAddress string) (*ledger.HubState, error) {
	return l.hubStates[strings.ToLower(hubAddress)], nil
}

func (l *stubLedger) GetRewardTokens(ctx context.Context) ([]ledger.RewardToken, error) {
	l.tokenGets++
	if l.tokensErr != nil {
		return nil, l.tokensErr
	}
	return l.tokens, nil
}

type fixture struct {
	validator *Validator
	state     *stubState
	chain     *stubLedger
	hubKey    string
	hubAddr   string
	now       time.Time
}

const (
	tokenAddr = "0xAAAA000000000000000000000000000000000001"
	networkID = uint64(137)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &fixture{
		state:   newStubState(),
		hubAddr: strings.ToLower(ethcrypto.PubkeyToAddress(key.PublicKey).Hex()),
		now:     time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	f.hubKey = hex.EncodeToString(ethcrypto.FromECDSA(key))
	f.chain = &stubLedger{
		managers: map[uint64]string{7: "0xManager"},
		hubStates: map[string]*ledger.HubState{
			f.hubAddr: {Address: f.hubAddr, Enabled: true},
		},
		tokens: []ledger.RewardToken{{Address: tokenAddr, NetworkID: networkID}},
	}
	f.state.hubs[f.hubAddr] = &models.Hub{
		Address:            f.hubAddr,
		DeedID:             7,
		DeedManagerAddress: "0xmanager",
		Enabled:            true,
		JoinDate:           f.now.AddDate(0, -2, 0),
	}
	f.validator = NewValidator()
	f.validator.SetState(f.state)
	f.validator.SetLedger(f.chain)
	f.validator.SetNowFunc(func() time.Time { return f.now })
	return f
}

func (f *fixture) request(t *testing.T) ReportRequest {
	t.Helper()
	key, err := ethcrypto.HexToECDSA(f.hubKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	raw := "report:" + f.hubAddr + ":2025-03"
	sig, err := ethcrypto.Sign(womauth.PersonalSignHash(raw), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sigHex := "0x" + hex.EncodeToString(sig)
	return ReportRequest{
		Hash:                 womauth.SignatureHash(sigHex),
		HubAddress:           f.hubAddr,
		RawMessage:           raw,
		Signature:            sigHex,
		FromDate:             f.now.AddDate(0, -1, 0),
		ToDate:               f.now.AddDate(0, 0, -1),
		UsersCount:           40,
		HubRewardAmount:      12.5,
		UemRewardAmount:      "1000000000000000000",
		RewardTokenAddress:   tokenAddr,
		RewardTokenNetworkID: networkID,
	}
}

func TestSaveRewardReport(t *testing.T) {
	f := newFixture(t)
	req := f.request(t)

	report, err := f.validator.SaveRewardReport(context.Background(), req)
	if err != nil {
		t.Fatalf("save report: %v", err)
	}
	if report.HubAddress != f.hubAddr || report.DeedID != 7 || report.Fraud {
		t.Fatalf("unexpected stored report: %+v", report)
	}
	if report.RewardTokenAddress != strings.ToLower(tokenAddr) {
		t.Fatalf("token address not normalized: %s", report.RewardTokenAddress)
	}

	got, err := f.validator.GetRewardReport(req.Hash)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if got.Hash != strings.ToLower(req.Hash) {
		t.Fatalf("stored hash mismatch: %s", got.Hash)
	}
}

func TestSaveRewardReportBadSignature(t *testing.T) {
	f := newFixture(t)
	req := f.request(t)
	req.RawMessage = "tampered"

	_, err := f.validator.SaveRewardReport(context.Background(), req)
	if womerrors.CodeOf(err) != womerrors.CodeInvalidSignedMessage {
		t.Fatalf("expected invalid signed message, got %v", err)
	}
}

func TestSaveRewardReportWrongSignatureHash(t *testing.T) {
	f := newFixture(t)
	req := f.request(t)
	req.Hash = "0x" + strings.Repeat("ab", 32)

	_, err := f.validator.SaveRewardReport(context.Background(), req)
	if womerrors.CodeOf(err) != womerrors.CodeWrongSignatureHash {
		t.Fatalf("expected wrong signature hash, got %v", err)
	}
}

func TestSaveRewardReportHubNotConnected(t *testing.T) {
	f := newFixture(t)
	req := f.request(t)
	f.chain.hubStates[f.hubAddr].Enabled = false

	_, err := f.validator.SaveRewardReport(context.Background(), req)
	if womerrors.CodeOf(err) != womerrors.CodeHubNotConnected {
		t.Fatalf("expected hub not connected, got %v", err)
	}
}

func TestSaveRewardReportUntilDateElapsed(t *testing.T) {
	f := newFixture(t)
	req := f.request(t)
	f.chain.hubStates[f.hubAddr].UntilDate = f.now.Add(-time.Hour)

	_, err := f.validator.SaveRewardReport(context.Background(), req)
	if womerrors.CodeOf(err) != womerrors.CodeHubNotConnected {
		t.Fatalf("expected hub not connected, got %v", err)
	}
}

func TestSaveRewardReportManagerChanged(t *testing.T) {
	f := newFixture(t)
	req := f.request(t)
	f.chain.managers[7] = "0xNewManager"

	_, err := f.validator.SaveRewardReport(context.Background(), req)
	if womerrors.CodeOf(err) != womerrors.CodeHubManagerChanged {
		t.Fatalf("expected manager changed, got %v", err)
	}
}

func TestSaveRewardReportPeriodBeforeJoin(t *testing.T) {
	f := newFixture(t)
	req := f.request(t)
	req.FromDate = f.now.AddDate(0, -4, 0)
	req.ToDate = f.now.AddDate(0, -3, 0)

	_, err := f.validator.SaveRewardReport(context.Background(), req)
	if womerrors.CodeOf(err) != womerrors.CodeReportBeforeConnection {
		t.Fatalf("expected report before connection, got %v", err)
	}

	// The override flag accepts the same report.
	f.validator.SetAllowEarlyReports(true)
	if _, err := f.validator.SaveRewardReport(context.Background(), req); err != nil {
		t.Fatalf("override flag must accept early reports: %v", err)
	}
}

func TestSaveRewardReportUnsupportedToken(t *testing.T) {
	f := newFixture(t)
	req := f.request(t)
	req.RewardTokenAddress = "0xNotWhitelisted0000000000000000000000000"

	_, err := f.validator.SaveRewardReport(context.Background(), req)
	if womerrors.CodeOf(err) != womerrors.CodeUnsupportedContract {
		t.Fatalf("expected unsupported contract, got %v", err)
	}
}

func TestSaveRewardReportExtraTokens(t *testing.T) {
	f := newFixture(t)
	extra := ledger.RewardToken{Address: "0xExtraToken000000000000000000000000000001", NetworkID: 1}
	f.validator.SetExtraRewardTokens([]ledger.RewardToken{extra})
	req := f.request(t)
	req.RewardTokenAddress = extra.Address
	req.RewardTokenNetworkID = extra.NetworkID

	if _, err := f.validator.SaveRewardReport(context.Background(), req); err != nil {
		t.Fatalf("static extra token must be accepted: %v", err)
	}
}

func TestTokenAllowlistBuiltOnce(t *testing.T) {
	f := newFixture(t)
	if _, err := f.validator.SaveRewardReport(context.Background(), f.request(t)); err != nil {
		t.Fatalf("first save: %v", err)
	}

	f.now = f.now.Add(time.Hour)
	if _, err := f.validator.SaveRewardReport(context.Background(), f.request(t)); err == nil {
		// Same hash means the duplicate-period path returns the stored report
		// check; either way the ledger token query must not repeat.
		t.Log("second save accepted")
	}
	if f.chain.tokenGets != 1 {
		t.Fatalf("allow-list must be built once, ledger queried %d times", f.chain.tokenGets)
	}
}

func TestTokenAllowlistRetriesAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.chain.tokensErr = errors.New("rpc down")

	_, err := f.validator.SaveRewardReport(context.Background(), f.request(t))
	if womerrors.CodeOf(err) != womerrors.CodeLedgerUnavailable {
		t.Fatalf("expected ledger unavailable, got %v", err)
	}

	f.chain.tokensErr = nil
	if _, err := f.validator.SaveRewardReport(context.Background(), f.request(t)); err != nil {
		t.Fatalf("allow-list build must retry after a failed attempt: %v", err)
	}
}

func TestDuplicatePeriodFlagsFraud(t *testing.T) {
	f := newFixture(t)
	first := f.request(t)
	if _, err := f.validator.SaveRewardReport(context.Background(), first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// A different submission for the same period: different message, same
	// window.
	key, err := ethcrypto.HexToECDSA(f.hubKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	raw := "report:" + f.hubAddr + ":2025-03:resend"
	sig, err := ethcrypto.Sign(womauth.PersonalSignHash(raw), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sigHex := "0x" + hex.EncodeToString(sig)
	second := first
	second.RawMessage = raw
	second.Signature = sigHex
	second.Hash = womauth.SignatureHash(sigHex)

	_, err = f.validator.SaveRewardReport(context.Background(), second)
	if womerrors.CodeOf(err) != womerrors.CodeDuplicateReport {
		t.Fatalf("expected duplicate report rejection, got %v", err)
	}
	stored, err := f.validator.GetRewardReport(first.Hash)
	if err != nil {
		t.Fatalf("get first report: %v", err)
	}
	if !stored.Fraud {
		t.Fatalf("stored report must be flagged for fraud review")
	}
	if stored.UsersCount != first.UsersCount {
		t.Fatalf("stored report data must be kept")
	}
}

func TestGetRewardReportNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.validator.GetRewardReport("0xmissing")
	if womerrors.KindOf(err) != womerrors.KindNotFound || womerrors.CodeOf(err) != womerrors.CodeReportNotFound {
		t.Fatalf("expected report not found, got %v", err)
	}
}

func TestFlagFraud(t *testing.T) {
	f := newFixture(t)
	req := f.request(t)
	if _, err := f.validator.SaveRewardReport(context.Background(), req); err != nil {
		t.Fatalf("save report: %v", err)
	}

	report, err := f.validator.FlagFraud(req.Hash, true)
	if err != nil {
		t.Fatalf("flag fraud: %v", err)
	}
	if !report.Fraud {
		t.Fatalf("fraud flag not set")
	}
	cleared, err := f.validator.FlagFraud(req.Hash, false)
	if err != nil {
		t.Fatalf("clear fraud: %v", err)
	}
	if cleared.Fraud {
		t.Fatalf("fraud flag not cleared")
	}
}
