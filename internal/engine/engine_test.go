package engine

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/0xredeth/doneth/internal/pubsub"
	"github.com/0xredeth/doneth/internal/store"
	"github.com/0xredeth/doneth/pkg/campaign"
	"github.com/0xredeth/doneth/pkg/config"
	"github.com/0xredeth/doneth/pkg/contracts"
	"github.com/0xredeth/doneth/pkg/handler"
	models "github.com/0xredeth/doneth/pkg/store"
)

// =============================================================================
// Pure Function Tests
// =============================================================================

func TestConvertEventData(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]interface{}
		want  map[string]any
	}{
		{
			name:  "empty map",
			input: map[string]interface{}{},
			want:  map[string]any{},
		},
		{
			name: "common.Address type",
			input: map[string]interface{}{
				"contributor": common.HexToAddress("0x1234567890123456789012345678901234567890"),
			},
			want: map[string]any{
				"contributor": "0x1234567890123456789012345678901234567890",
			},
		},
		{
			name: "*big.Int type",
			input: map[string]interface{}{
				"amount": big.NewInt(1000000),
			},
			want: map[string]any{
				"amount": "1000000",
			},
		},
		{
			name: "nil *big.Int",
			input: map[string]interface{}{
				"amount": (*big.Int)(nil),
			},
			want: map[string]any{
				"amount": "0",
			},
		},
		{
			name: "[]byte type",
			input: map[string]interface{}{
				"data": []byte{0xde, 0xad, 0xbe, 0xef},
			},
			want: map[string]any{
				"data": "deadbeef",
			},
		},
		{
			name: "uint64 version",
			input: map[string]interface{}{
				"version": uint64(1),
			},
			want: map[string]any{
				"version": "1",
			},
		},
		{
			name: "string type passthrough",
			input: map[string]interface{}{
				"name": "Community garden",
			},
			want: map[string]any{
				"name": "Community garden",
			},
		},
		{
			name: "bool type passthrough",
			input: map[string]interface{}{
				"approved": true,
			},
			want: map[string]any{
				"approved": true,
			},
		},
		{
			name: "campaign started",
			input: map[string]interface{}{
				"beneficiary":      common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
				"goal":             big.NewInt(500),
				"deadline":         big.NewInt(1_700_000_000),
				"withdrawalPeriod": big.NewInt(86400),
				"name":             "test memo",
			},
			want: map[string]any{
				"beneficiary":      "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa",
				"goal":             "500",
				"deadline":         "1700000000",
				"withdrawalPeriod": "86400",
				"name":             "test memo",
			},
		},
		{
			name: "large big.Int",
			input: map[string]interface{}{
				"amount": new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil),
			},
			want: map[string]any{
				"amount": "1000000000000000000000000000000",
			},
		},
		{
			name: "empty bytes",
			input: map[string]interface{}{
				"data": []byte{},
			},
			want: map[string]any{
				"data": "",
			},
		},
		{
			name: "checksum address format preserved",
			input: map[string]interface{}{
				"addr": common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
			},
			want: map[string]any{
				"addr": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := convertEventData(tc.input)

			require.Len(t, got, len(tc.want))

			for k, v := range tc.want {
				require.Contains(t, got, k)
				require.Equal(t, v, got[k], "mismatch for key %s", k)
			}
		})
	}
}

func TestConvertEventDataNilInput(t *testing.T) {
	result := convertEventData(nil)
	require.NotNil(t, result)
	require.Len(t, result, 0)
}

func TestEngineStructFields(t *testing.T) {
	var e Engine

	require.Nil(t, e.cfg)
	require.Nil(t, e.rpc)
	require.Nil(t, e.store)
	require.Nil(t, e.decoder)
	require.Nil(t, e.handlers)
	require.Nil(t, e.broadcaster)
	require.Zero(t, e.lastBlock)
}

func TestNewWithUnreachableRPC(t *testing.T) {
	cfg := testConfig()
	cfg.RPCURL = "not-a-valid-url"

	_, err := New(cfg, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "creating RPC client")
}

func TestNewWithClientsZeroBatchSize(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.BatchSize = 0

	_, err := NewWithClients(cfg, nil, nil, nil)
	require.Error(t, err)
}

// =============================================================================
// Indexing Tests
// =============================================================================

const genesisTime = 1_700_000_000

var (
	factoryAddr = common.HexToAddress("0x0000000000000000000000000000000000000f00")
	creator     = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	beneficiary = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
	alice       = common.HexToAddress("0xb90acf57c3bfe8e0e8215defc282b5f48b3edc74")
	bob         = common.HexToAddress("0x176211869ca2b568f2a7d4ee941e073a821ee1ff")
	carol       = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func testConfig() *config.Config {
	return &config.Config{
		Name:     "doneth-test",
		Network:  "local",
		Database: "file::memory:",
		RPCURL:   "http://127.0.0.1:8545",
		Factory:  config.ContractConfig{Address: factoryAddr.Hex()},
		Sync: config.SyncConfig{
			BatchSize:        100,
			MaxRetries:       1,
			RetryDelay:       10 * time.Millisecond,
			AddressChunkSize: 1,
		},
		ChainID:      31337,
		PollInterval: 10 * time.Millisecond,
	}
}

func newMemoryStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.DSN = "file::memory:"
	cfg.LogLevel = logger.Silent

	s, err := store.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate())
	return s
}

type harness struct {
	t      *testing.T
	chain  *campaign.Chain
	store  *store.Store
	engine *Engine
}

func newHarness(t *testing.T, cfg *config.Config, b *pubsub.Broadcaster) *harness {
	t.Helper()
	chain := campaign.NewChain(cfg.ChainID, factoryAddr, genesisTime)
	st := newMemoryStore(t)

	e, err := NewWithClients(cfg, chain, st, b)
	require.NoError(t, err)
	require.NoError(t, e.Init(context.Background()))

	return &harness{t: t, chain: chain, store: st, engine: e}
}

// syncAll runs batches until the engine reaches the confirmed head.
func (h *harness) syncAll() {
	h.t.Helper()
	for i := 0; i < 100; i++ {
		advanced, err := h.engine.SyncOnce(context.Background())
		require.NoError(h.t, err)
		if !advanced {
			return
		}
	}
	h.t.Fatal("engine did not catch up")
}

func (h *harness) campaignRow(addr common.Address) *models.Campaign {
	h.t.Helper()
	c, err := h.store.GetCampaign(context.Background(), addr.Hex())
	require.NoError(h.t, err)
	require.NotNil(h.t, c)
	return c
}

func (h *harness) eventCount() int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.store.DB().Model(&models.Event{}).Count(&n).Error)
	return n
}

func TestGoalReachedEndToEnd(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	addr, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(6), h.chain.Now()+3600, 600, "Community garden")
	require.NoError(t, err)
	require.NoError(t, h.chain.Contribute(alice, addr, big.NewInt(1), common.Address{}))
	require.NoError(t, h.chain.Contribute(bob, addr, big.NewInt(2), common.Address{}))
	require.NoError(t, h.chain.Contribute(carol, addr, big.NewInt(3), common.Address{}))

	h.syncAll()

	c := h.campaignRow(addr)
	require.Equal(t, "6", c.TotalContributions.String())
	require.Equal(t, "Community garden", c.Name)
	require.Equal(t, beneficiary.Hex(), c.Beneficiary)
	require.Equal(t, models.StateFundraising, c.State)
	require.Equal(t, uint64(genesisTime+2+3600), c.Deadline)
	require.Equal(t, int64(genesisTime+2), c.CreatedAt.Unix())

	require.NoError(t, h.chain.Finalize(alice, addr))
	require.NoError(t, h.chain.Withdraw(beneficiary, addr))
	h.syncAll()

	c = h.campaignRow(addr)
	require.Equal(t, models.StateSuccessful, c.State)
	require.Equal(t, "6", c.TotalWithdrawn.String())
	require.NotZero(t, c.WithdrawalDeadline)

	// Started, Initialized, Created, 3 contributions, Successful, Withdrawal.
	require.Equal(t, int64(8), h.eventCount())

	mismatches, err := h.store.VerifyTotals(context.Background())
	require.NoError(t, err)
	require.Empty(t, mismatches)

	st, err := h.store.GetSyncStatus(context.Background(), "doneth-test")
	require.NoError(t, err)
	require.Equal(t, h.chain.Head(), st.LastBlockNumber)
	require.Equal(t, h.chain.Head(), h.engine.LastBlock())
}

func TestSameBatchDiscovery(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	a, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(10), h.chain.Now()+3600, 600, "A")
	require.NoError(t, err)
	b, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(10), h.chain.Now()+3600, 600, "B")
	require.NoError(t, err)
	require.NoError(t, h.chain.Contribute(alice, a, big.NewInt(4), common.Address{}))
	require.NoError(t, h.chain.Contribute(alice, b, big.NewInt(5), common.Address{}))

	advanced, err := h.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	require.True(t, advanced)

	require.Equal(t, "4", h.campaignRow(a).TotalContributions.String())
	require.Equal(t, "5", h.campaignRow(b).TotalContributions.String())
	require.Len(t, h.engine.Campaigns(), 2)
}

func TestSmallBatchesAndRestart(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.BatchSize = 2
	h := newHarness(t, cfg, nil)

	addr, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(100), h.chain.Now()+3600, 600, "Slow")
	require.NoError(t, err)
	h.chain.Mine(3)
	require.NoError(t, h.chain.Contribute(alice, addr, big.NewInt(7), common.Address{}))
	h.syncAll()
	require.Equal(t, "7", h.campaignRow(addr).TotalContributions.String())

	// A fresh engine resumes from the checkpoint and knows the campaign.
	e2, err := NewWithClients(cfg, h.chain, h.store, nil)
	require.NoError(t, err)
	require.NoError(t, e2.Init(context.Background()))
	require.Equal(t, h.chain.Head(), e2.LastBlock())
	require.Equal(t, []common.Address{addr}, e2.Campaigns())

	require.NoError(t, h.chain.Contribute(bob, addr, big.NewInt(8), common.Address{}))
	h.engine = e2
	h.syncAll()
	require.Equal(t, "15", h.campaignRow(addr).TotalContributions.String())
}

func TestReplayDoesNotChangeTotals(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	addr, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(10), h.chain.Now()+3600, 600, "Replay")
	require.NoError(t, err)
	require.NoError(t, h.chain.Contribute(alice, addr, big.NewInt(3), common.Address{}))
	h.syncAll()
	events := h.eventCount()

	// Simulate a crash after commit but before the in-memory advance.
	h.engine.lastBlock = 0
	h.syncAll()

	require.Equal(t, "3", h.campaignRow(addr).TotalContributions.String())
	require.Equal(t, events, h.eventCount())

	p, err := h.store.GetPledge(context.Background(), addr.Hex(), alice.Hex())
	require.NoError(t, err)
	require.Equal(t, "3", p.Balance.String())
}

func TestHandlerErrorRollsBack(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	addr, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(10), h.chain.Now()+3600, 600, "Broken")
	require.NoError(t, err)
	require.NoError(t, h.chain.Contribute(alice, addr, big.NewInt(3), common.Address{}))

	original, ok := h.engine.handlers.Get("Campaign:Contribution")
	require.True(t, ok)
	h.engine.handlers.Register("Campaign:Contribution", func(*handler.Context) error {
		return errors.New("boom")
	})

	_, err = h.engine.SyncOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "handler Campaign:Contribution: boom")
	require.Zero(t, h.engine.LastBlock())

	st, err := h.store.GetSyncStatus(context.Background(), "doneth-test")
	require.NoError(t, err)
	require.Nil(t, st, "checkpoint must not move")
	c, err := h.store.GetCampaign(context.Background(), addr.Hex())
	require.NoError(t, err)
	require.Nil(t, c, "no rows from a failed batch")
	require.Zero(t, h.eventCount())

	h.engine.handlers.Register("Campaign:Contribution", original)
	h.syncAll()
	require.Equal(t, "3", h.campaignRow(addr).TotalContributions.String())
}

func TestFilterErrorKeepsCheckpoint(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	_, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(10), h.chain.Now()+3600, 600, "Flaky")
	require.NoError(t, err)

	h.chain.SetFilterError(errors.New("upstream unavailable"))
	_, err = h.engine.SyncOnce(context.Background())
	require.Error(t, err)
	require.Zero(t, h.engine.LastBlock())

	h.chain.SetFilterError(nil)
	h.syncAll()
	require.Equal(t, h.chain.Head(), h.engine.LastBlock())
}

// truncatingChain cuts the data of Contribution logs while truncate is set.
type truncatingChain struct {
	*campaign.Chain
	truncate atomic.Bool
}

func (c *truncatingChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.Chain.FilterLogs(ctx, q)
	if err != nil || !c.truncate.Load() {
		return logs, err
	}
	topic, err := contracts.EventTopic(contracts.CampaignABI(), contracts.EventContribution)
	if err != nil {
		return nil, err
	}
	out := make([]types.Log, len(logs))
	copy(out, logs)
	for i := range out {
		if len(out[i].Topics) > 0 && out[i].Topics[0] == topic {
			out[i].Data = out[i].Data[:5]
		}
	}
	return out, nil
}

func TestMalformedLogKeepsCheckpoint(t *testing.T) {
	cfg := testConfig()
	chain := &truncatingChain{Chain: campaign.NewChain(cfg.ChainID, factoryAddr, genesisTime)}
	st := newMemoryStore(t)
	e, err := NewWithClients(cfg, chain, st, nil)
	require.NoError(t, err)
	require.NoError(t, e.Init(context.Background()))
	h := &harness{t: t, chain: chain.Chain, store: st, engine: e}

	addr, err := chain.CreateCampaign(creator, beneficiary, big.NewInt(10), chain.Now()+3600, 600, "Garbled")
	require.NoError(t, err)
	h.syncAll()
	checkpoint := e.LastBlock()
	require.Equal(t, chain.Head(), checkpoint)
	events := h.eventCount()

	require.NoError(t, chain.Contribute(alice, addr, big.NewInt(3), common.Address{}))
	chain.truncate.Store(true)

	_, err = e.SyncOnce(context.Background())
	require.ErrorContains(t, err, "decoding")
	require.Equal(t, checkpoint, e.LastBlock())

	status, err := st.GetSyncStatus(context.Background(), cfg.Name)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.Equal(t, checkpoint, status.LastBlockNumber)

	var n int64
	require.NoError(t, st.DB().Model(&models.Contribution{}).Count(&n).Error)
	require.Zero(t, n)
	require.Equal(t, events, h.eventCount())
	require.Equal(t, "0", h.campaignRow(addr).TotalContributions.String())

	chain.truncate.Store(false)
	h.syncAll()
	require.Equal(t, chain.Head(), e.LastBlock())
	require.Equal(t, "3", h.campaignRow(addr).TotalContributions.String())
}

func TestCampaignsDuringSync(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	for i := 0; i < 5; i++ {
		_, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(10), h.chain.Now()+3600, 600, "Parallel")
		require.NoError(t, err)
	}

	done := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-done:
				return
			default:
				_ = h.engine.Campaigns()
			}
		}
	}()

	h.syncAll()
	close(done)
	<-readerDone

	require.Len(t, h.engine.Campaigns(), 5)
}

func TestRefundFlowEndToEnd(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	addr, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(100), h.chain.Now()+60, 600, "Too ambitious")
	require.NoError(t, err)
	require.NoError(t, h.chain.Contribute(alice, addr, big.NewInt(10), common.Address{}))
	require.NoError(t, h.chain.Contribute(bob, addr, big.NewInt(20), alice))

	h.chain.AdvanceTime(120)
	require.NoError(t, h.chain.Finalize(bob, addr))
	require.NoError(t, h.chain.ClaimRefund(bob, addr, alice))
	h.syncAll()

	c := h.campaignRow(addr)
	require.Equal(t, models.StateFailed, c.State)
	require.Equal(t, "30", c.TotalContributions.String(), "refunds never lower the total")

	p, err := h.store.GetPledge(context.Background(), addr.Hex(), alice.Hex())
	require.NoError(t, err)
	require.Equal(t, "0", p.Balance.String())
	require.Equal(t, "30", p.Contributed.String())
	require.Equal(t, int64(30), h.chain.BalanceOf(alice).Int64())
}

func TestConfirmations(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.Confirmations = 2
	h := newHarness(t, cfg, nil)

	h.chain.Mine(5)
	h.syncAll()
	require.Equal(t, uint64(3), h.engine.LastBlock())
}

func TestStartBlock(t *testing.T) {
	cfg := testConfig()
	cfg.Factory.StartBlock = 4
	h := newHarness(t, cfg, nil)
	require.Equal(t, uint64(3), h.engine.LastBlock())
}

func TestChainIDMismatch(t *testing.T) {
	cfg := testConfig()
	chain := campaign.NewChain(1, factoryAddr, genesisTime)
	st := newMemoryStore(t)

	e, err := NewWithClients(cfg, chain, st, nil)
	require.NoError(t, err)
	err = e.Init(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "chain ID mismatch")
}

func TestStoredChainIDMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.ChainID = 0
	chain := campaign.NewChain(31337, factoryAddr, genesisTime)
	st := newMemoryStore(t)
	require.NoError(t, st.SetMeta(context.Background(), models.MetaChainID, "232"))

	e, err := NewWithClients(cfg, chain, st, nil)
	require.NoError(t, err)
	err = e.Init(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "chain ID mismatch")
}

func TestInitWritesMeta(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	v, ok, err := h.store.GetMeta(ctx, models.MetaChainID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "31337", v)

	v, ok, err = h.store.GetMeta(ctx, models.MetaFactoryAddress)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, factoryAddr.Hex(), v)

	id, ok, err := h.store.GetMeta(ctx, models.MetaInstanceID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, id, 36)

	// Init is repeatable and keeps the instance id.
	require.NoError(t, h.engine.Init(ctx))
	again, _, err := h.store.GetMeta(ctx, models.MetaInstanceID)
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestBroadcastAfterCommit(t *testing.T) {
	b := pubsub.NewBroadcaster()
	h := newHarness(t, testConfig(), b)

	addr, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(10), h.chain.Now()+3600, 600, "Live")
	require.NoError(t, err)
	require.NoError(t, h.chain.Contribute(alice, addr, big.NewInt(2), common.Address{}))

	sub := b.Subscribe(addr.Hex())
	defer b.Unsubscribe(sub)
	h.syncAll()

	var ids []string
	for len(sub.C) > 0 {
		msg := <-sub.C
		require.Equal(t, addr.Hex(), msg.Campaign)
		ids = append(ids, msg.EventID)
	}
	require.Equal(t, []string{
		"Campaign:CampaignStarted",
		"Campaign:Initialized",
		"Factory:CampaignCreated",
		"Campaign:Contribution",
	}, ids)
}

func TestNoBroadcastOnFailure(t *testing.T) {
	b := pubsub.NewBroadcaster()
	h := newHarness(t, testConfig(), b)
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	_, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(10), h.chain.Now()+3600, 600, "Quiet")
	require.NoError(t, err)
	h.engine.handlers.Register("Campaign:CampaignStarted", func(*handler.Context) error {
		return errors.New("boom")
	})

	_, err = h.engine.SyncOnce(context.Background())
	require.Error(t, err)
	require.Empty(t, sub.C)
}

func TestReload(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	next := testConfig()
	next.Sync.BatchSize = 1
	next.Sync.Confirmations = 1
	require.NoError(t, h.engine.Reload(next))

	h.chain.Mine(4)
	advanced, err := h.engine.SyncOnce(context.Background())
	require.NoError(t, err)
	require.True(t, advanced)
	require.Equal(t, uint64(1), h.engine.LastBlock())

	h.syncAll()
	require.Equal(t, uint64(3), h.engine.LastBlock())

	bad := testConfig()
	bad.Sync.BatchSize = 0
	require.Error(t, h.engine.Reload(bad))
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	_, err := h.chain.CreateCampaign(creator, beneficiary, big.NewInt(10), h.chain.Now()+3600, 600, "Run")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.engine.LastBlock() == h.chain.Head()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBatchRangeCalculation(t *testing.T) {
	tests := []struct {
		name      string
		lastBlock uint64
		headBlock uint64
		batchSize uint64
		wantTo    uint64
		wantSkip  bool
	}{
		{name: "normal batch", lastBlock: 10, headBlock: 30, batchSize: 10, wantTo: 20},
		{name: "partial batch at end", lastBlock: 25, headBlock: 30, batchSize: 10, wantTo: 30},
		{name: "already synced", lastBlock: 30, headBlock: 30, batchSize: 10, wantSkip: true},
		{name: "single block behind", lastBlock: 29, headBlock: 30, batchSize: 10, wantTo: 30},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Sync.BatchSize = tc.batchSize
			h := newHarness(t, cfg, nil)
			h.chain.Mine(int(tc.headBlock))
			h.engine.lastBlock = tc.lastBlock

			advanced, err := h.engine.SyncOnce(context.Background())
			require.NoError(t, err)
			require.Equal(t, !tc.wantSkip, advanced)
			if !tc.wantSkip {
				require.Equal(t, tc.wantTo, h.engine.LastBlock())
			}
		})
	}
}
