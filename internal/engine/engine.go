// Package engine drives the indexing loop: it discovers campaigns from the
// factory, fetches their logs in batches and applies them to the store
// together with the sync checkpoint.
package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/0xredeth/doneth/internal/indexer"
	"github.com/0xredeth/doneth/internal/pubsub"
	"github.com/0xredeth/doneth/internal/rpc"
	"github.com/0xredeth/doneth/internal/store"
	"github.com/0xredeth/doneth/pkg/config"
	"github.com/0xredeth/doneth/pkg/contracts"
	"github.com/0xredeth/doneth/pkg/decoder"
	"github.com/0xredeth/doneth/pkg/handler"
	models "github.com/0xredeth/doneth/pkg/store"
)

// Fan-out limits for concurrent RPC calls within one batch.
const (
	logFetchLimit    = 4
	headerFetchLimit = 8
)

// ChainReader is the subset of an Ethereum client the engine reads from.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

// Engine indexes one factory and every campaign it deploys.
type Engine struct {
	cfg         *config.Config
	rpc         ChainReader
	store       *store.Store
	decoder     *decoder.Decoder
	handlers    *handler.Registry
	broadcaster *pubsub.Broadcaster

	// mu guards cfg, lastBlock and campaigns.
	mu        sync.RWMutex
	lastBlock uint64
	campaigns map[common.Address]struct{}

	factory  common.Address
	ownsDeps bool
}

// New dials the RPC endpoint and opens the store named in cfg. The engine
// owns both and closes them in Close.
//
// Returns:
//   - *Engine: the engine, not yet started
//   - error: nil on success, RPC or store error on failure
func New(cfg *config.Config, broadcaster *pubsub.Broadcaster) (*Engine, error) {
	rpcCfg := rpc.DefaultConfig()
	rpcCfg.URL = cfg.RPCURL
	if cfg.Sync.MaxRetries > 0 {
		rpcCfg.MaxRetries = cfg.Sync.MaxRetries
	}

	client, err := rpc.New(context.Background(), rpcCfg)
	if err != nil {
		return nil, fmt.Errorf("creating RPC client: %w", err)
	}

	storeCfg := store.DefaultConfig()
	storeCfg.DSN = cfg.Database
	st, err := store.New(storeCfg)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	e, err := NewWithClients(cfg, client, st, broadcaster)
	if err != nil {
		client.Close()
		st.Close()
		return nil, err
	}
	e.ownsDeps = true
	return e, nil
}

// NewWithClients builds an engine over an existing chain reader and store.
// The caller keeps ownership of both. broadcaster may be nil.
func NewWithClients(cfg *config.Config, chain ChainReader, st *store.Store, broadcaster *pubsub.Broadcaster) (*Engine, error) {
	if cfg.Sync.BatchSize == 0 {
		return nil, errors.New("sync.batch_size must be greater than zero")
	}

	factory := cfg.FactoryAddress()

	dec := decoder.New()
	if err := dec.RegisterContract(contracts.FactoryContract, factory, contracts.FactoryABIJSON(), indexer.FactoryEvents()); err != nil {
		return nil, fmt.Errorf("registering factory: %w", err)
	}
	// Campaign proxies share one ABI. The zero address holds the template
	// that discovered addresses are attached to.
	if err := dec.RegisterContract(contracts.CampaignContract, common.Address{}, contracts.CampaignABIJSON(), indexer.CampaignEvents()); err != nil {
		return nil, fmt.Errorf("registering campaign: %w", err)
	}

	handlers := handler.NewRegistry()
	indexer.Register(handlers)

	return &Engine{
		cfg:         cfg,
		rpc:         chain,
		store:       st,
		decoder:     dec,
		handlers:    handlers,
		broadcaster: broadcaster,
		factory:     factory,
		campaigns:   make(map[common.Address]struct{}),
	}, nil
}

// Store returns the engine's store.
func (e *Engine) Store() *store.Store { return e.store }

// LastBlock returns the last committed block.
func (e *Engine) LastBlock() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastBlock
}

// Campaigns returns the known campaign addresses in ascending order.
func (e *Engine) Campaigns() []common.Address {
	e.mu.RLock()
	addrs := make([]common.Address, 0, len(e.campaigns))
	for a := range e.campaigns {
		addrs = append(addrs, a)
	}
	e.mu.RUnlock()

	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Cmp(addrs[j]) < 0
	})
	return addrs
}

// Reload applies new sync settings. Identity fields (name, network,
// factory, database) need a restart and are ignored here.
func (e *Engine) Reload(cfg *config.Config) error {
	if cfg.Sync.BatchSize == 0 {
		return errors.New("sync.batch_size must be greater than zero")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if cfg.Name != e.cfg.Name || cfg.Factory.Address != e.cfg.Factory.Address || cfg.Network != e.cfg.Network {
		log.Warn().Msg("identity settings changed; restart to apply them")
	}

	next := *e.cfg
	next.Sync = cfg.Sync
	if cfg.PollInterval > 0 {
		next.PollInterval = cfg.PollInterval
	}
	e.cfg = &next

	log.Info().
		Uint64("batch_size", next.Sync.BatchSize).
		Uint64("confirmations", next.Sync.Confirmations).
		Dur("poll_interval", next.PollInterval).
		Msg("sync settings reloaded")
	return nil
}

func (e *Engine) config() config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *e.cfg
}

// Init checks the chain identity, loads the checkpoint and the known
// campaigns. Run calls it; call it directly only when driving SyncOnce by
// hand.
func (e *Engine) Init(ctx context.Context) error {
	cfg := e.config()

	chainID, err := e.rpc.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("getting chain ID: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Uint64() != cfg.ChainID {
		return fmt.Errorf("chain ID mismatch: config %d, node %s", cfg.ChainID, chainID)
	}

	if err := e.checkMeta(ctx, models.MetaChainID, chainID.String(), "chain ID"); err != nil {
		return err
	}
	if err := e.checkMeta(ctx, models.MetaFactoryAddress, e.factory.Hex(), "factory address"); err != nil {
		return err
	}
	if _, ok, err := e.store.GetMeta(ctx, models.MetaInstanceID); err != nil {
		return err
	} else if !ok {
		if err := e.store.SetMeta(ctx, models.MetaInstanceID, uuid.NewString()); err != nil {
			return err
		}
	}

	st, err := e.store.GetSyncStatus(ctx, cfg.Name)
	if err != nil {
		return err
	}
	last := uint64(0)
	switch {
	case st != nil:
		last = st.LastBlockNumber
	case cfg.Factory.StartBlock > 0:
		last = cfg.Factory.StartBlock - 1
	}

	known, err := e.store.KnownCampaignAddresses(ctx)
	if err != nil {
		return err
	}
	for _, a := range known {
		if err := e.addCampaign(common.HexToAddress(a)); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.lastBlock = last
	e.mu.Unlock()

	log.Info().
		Str("chain_id", chainID.String()).
		Str("factory", e.factory.Hex()).
		Uint64("last_block", last).
		Int("campaigns", len(known)).
		Msg("engine initialized")
	return nil
}

// checkMeta stores value under key on first run and refuses to resume
// against a different value later.
func (e *Engine) checkMeta(ctx context.Context, key, value, what string) error {
	stored, ok, err := e.store.GetMeta(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return e.store.SetMeta(ctx, key, value)
	}
	if stored != value {
		return fmt.Errorf("%s mismatch: store %s, node %s", what, stored, value)
	}
	return nil
}

func (e *Engine) addCampaign(addr common.Address) error {
	if err := e.decoder.AddAddress(contracts.CampaignContract, addr); err != nil {
		return err
	}
	e.mu.Lock()
	e.campaigns[addr] = struct{}{}
	e.mu.Unlock()
	return nil
}

func (e *Engine) isKnown(addr common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.campaigns[addr]
	return ok
}

// Run initializes the engine and indexes until ctx is canceled. Failed
// batches are retried after sync.retry_delay.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Init(ctx); err != nil {
		return err
	}

	for {
		advanced, err := e.SyncOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		cfg := e.config()
		wait := cfg.PollInterval
		switch {
		case err != nil:
			batchFailures.Inc()
			log.Error().Err(err).Uint64("last_block", e.LastBlock()).Msg("batch failed")
			wait = cfg.Sync.RetryDelay
		case advanced:
			// Still catching up.
			continue
		}
		if wait <= 0 {
			wait = time.Second
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// SyncOnce indexes the next batch up to the confirmed head.
//
// Returns:
//   - bool: true if a batch was committed
//   - error: nil on success, the batch error otherwise
func (e *Engine) SyncOnce(ctx context.Context) (bool, error) {
	cfg := e.config()

	head, err := e.rpc.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("getting block number: %w", err)
	}

	safe := uint64(0)
	if head > cfg.Sync.Confirmations {
		safe = head - cfg.Sync.Confirmations
	}

	last := e.LastBlock()
	lag := float64(0)
	if safe > last {
		lag = float64(safe - last)
	}
	syncLag.Set(lag)

	if last >= safe {
		return false, nil
	}

	from := last + 1
	to := from + cfg.Sync.BatchSize - 1
	if to > safe {
		to = safe
	}

	if err := e.processBatch(ctx, cfg, from, to); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) processBatch(ctx context.Context, cfg config.Config, from, to uint64) error {
	start := time.Now()

	factoryLogs, discovered, err := e.discover(ctx, from, to)
	if err != nil {
		return err
	}

	addrs := e.Campaigns()
	for _, a := range discovered {
		if !e.isKnown(a) {
			addrs = append(addrs, a)
		}
	}

	campaignLogs, err := e.fetchCampaignLogs(ctx, cfg, from, to, addrs)
	if err != nil {
		return err
	}

	logs := append(factoryLogs, campaignLogs...)
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	headers, err := e.fetchHeaders(ctx, logs, to)
	if err != nil {
		return err
	}

	// New campaign addresses must decode as Campaign in this batch.
	for _, a := range discovered {
		if err := e.decoder.AddAddress(contracts.CampaignContract, a); err != nil {
			return err
		}
	}

	var messages []pubsub.Message
	counts := make(map[string]int)

	err = e.store.Transaction(ctx, func(tx *gorm.DB) error {
		messages = messages[:0]
		for k := range counts {
			delete(counts, k)
		}

		for _, l := range logs {
			if l.Removed {
				continue
			}
			// Every log here matched a subscribed topic, so a decode
			// failure is a malformed event and holds the checkpoint.
			ev, err := e.decoder.Decode(l)
			if err != nil {
				return fmt.Errorf("block %d log %d: decoding: %w", l.BlockNumber, l.Index, err)
			}

			hdr := headers[l.BlockNumber]
			block := handler.BlockInfo{
				Number:     l.BlockNumber,
				Hash:       hdr.Hash().Hex(),
				Time:       time.Unix(int64(hdr.Time), 0).UTC(),
				ParentHash: hdr.ParentHash.Hex(),
			}

			if err := e.handlers.Handle(&handler.Context{DB: tx, Block: block, Log: l, Event: ev}); err != nil {
				return fmt.Errorf("block %d log %d: %w", l.BlockNumber, l.Index, err)
			}

			data := convertEventData(ev.Data)
			if err := archive(tx, l, ev, block, data); err != nil {
				return err
			}

			counts[ev.EventID]++
			messages = append(messages, pubsub.Message{
				EventID:     ev.EventID,
				Campaign:    campaignOf(ev),
				BlockNumber: l.BlockNumber,
				BlockTime:   hdr.Time,
				TxHash:      l.TxHash.Hex(),
				LogIndex:    l.Index,
				Data:        data,
			})
		}

		return store.SaveSyncStatus(tx, cfg.Name, to, headers[to].Hash().Hex())
	})
	if err != nil {
		return fmt.Errorf("indexing blocks %d-%d: %w", from, to, err)
	}

	e.mu.Lock()
	for _, a := range discovered {
		e.campaigns[a] = struct{}{}
	}
	e.lastBlock = to
	e.mu.Unlock()

	blocksIndexed.Add(float64(to - from + 1))
	currentBlock.Set(float64(to))
	campaignsDiscovered.Add(float64(len(discovered)))
	for id, n := range counts {
		eventsProcessed.WithLabelValues(id).Add(float64(n))
	}

	if e.broadcaster != nil {
		for _, m := range messages {
			e.broadcaster.Publish(m)
		}
	}

	log.Info().
		Uint64("from", from).
		Uint64("to", to).
		Int("events", len(messages)).
		Int("discovered", len(discovered)).
		Dur("took", time.Since(start)).
		Msg("batch indexed")
	return nil
}

// discover fetches factory CampaignCreated logs and returns the campaign
// addresses they announce.
func (e *Engine) discover(ctx context.Context, from, to uint64) ([]types.Log, []common.Address, error) {
	topic, err := contracts.EventTopic(contracts.FactoryABI(), contracts.EventCampaignCreated)
	if err != nil {
		return nil, nil, err
	}

	logs, err := e.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{e.factory},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetching factory logs: %w", err)
	}

	seen := make(map[common.Address]bool)
	var discovered []common.Address
	for _, l := range logs {
		// campaignAddress is the first indexed argument.
		if len(l.Topics) < 2 {
			continue
		}
		addr := common.BytesToAddress(l.Topics[1].Bytes())
		if e.isKnown(addr) || seen[addr] {
			continue
		}
		seen[addr] = true
		discovered = append(discovered, addr)
		log.Info().Str("campaign", addr.Hex()).Uint64("block", l.BlockNumber).Msg("campaign discovered")
	}
	return logs, discovered, nil
}

// fetchCampaignLogs queries addrs in chunks concurrently. Chunk results are
// concatenated in chunk order.
func (e *Engine) fetchCampaignLogs(ctx context.Context, cfg config.Config, from, to uint64, addrs []common.Address) ([]types.Log, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	chunkSize := cfg.Sync.AddressChunkSize
	if chunkSize <= 0 {
		chunkSize = len(addrs)
	}

	var topics []common.Hash
	campaignABI := contracts.CampaignABI()
	for _, name := range indexer.CampaignEvents() {
		topics = append(topics, campaignABI.Events[name].ID)
	}

	var chunks [][]common.Address
	for i := 0; i < len(addrs); i += chunkSize {
		end := i + chunkSize
		if end > len(addrs) {
			end = len(addrs)
		}
		chunks = append(chunks, addrs[i:end])
	}

	results := make([][]types.Log, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(logFetchLimit)
	for i, chunk := range chunks {
		g.Go(func() error {
			logs, err := e.rpc.FilterLogs(gctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(from),
				ToBlock:   new(big.Int).SetUint64(to),
				Addresses: chunk,
				Topics:    [][]common.Hash{topics},
			})
			if err != nil {
				return fmt.Errorf("fetching campaign logs: %w", err)
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []types.Log
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// fetchHeaders loads the header of every block with logs, plus the batch
// end block for the checkpoint hash.
func (e *Engine) fetchHeaders(ctx context.Context, logs []types.Log, to uint64) (map[uint64]*types.Header, error) {
	numbers := map[uint64]struct{}{to: {}}
	for _, l := range logs {
		numbers[l.BlockNumber] = struct{}{}
	}

	var mu sync.Mutex
	headers := make(map[uint64]*types.Header, len(numbers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headerFetchLimit)
	for n := range numbers {
		g.Go(func() error {
			h, err := e.rpc.HeaderByNumber(gctx, new(big.Int).SetUint64(n))
			if err != nil {
				return fmt.Errorf("fetching header %d: %w", n, err)
			}
			mu.Lock()
			headers[n] = h
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return headers, nil
}

// archive stores the raw event once per log.
func archive(tx *gorm.DB, l types.Log, ev *decoder.DecodedEvent, block handler.BlockInfo, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding event data: %w", err)
	}
	row := models.Event{
		BaseEvent: models.BaseEvent{
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash.Hex(),
			LogIndex:    l.Index,
			Timestamp:   block.Time,
		},
		ContractName: ev.ContractName,
		ContractAddr: l.Address.Hex(),
		EventName:    ev.EventName,
		EventSig:     l.Topics[0].Hex(),
		Data:         datatypes.JSON(raw),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("archiving event: %w", err)
	}
	return nil
}

// campaignOf returns the campaign an event concerns.
func campaignOf(ev *decoder.DecodedEvent) string {
	if ev.ContractName == contracts.FactoryContract {
		if a, ok := ev.Data["campaignAddress"].(common.Address); ok {
			return a.Hex()
		}
	}
	return ev.Address.Hex()
}

// convertEventData renders decoded arguments as JSON-friendly values.
func convertEventData(data map[string]interface{}) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case common.Address:
			out[k] = val.Hex()
		case common.Hash:
			out[k] = val.Hex()
		case *big.Int:
			if val == nil {
				out[k] = "0"
			} else {
				out[k] = val.String()
			}
		case []byte:
			out[k] = hex.EncodeToString(val)
		case uint64:
			out[k] = strconv.FormatUint(val, 10)
		default:
			out[k] = v
		}
	}
	return out
}

// Close releases the RPC client and store if the engine opened them.
func (e *Engine) Close() error {
	if !e.ownsDeps {
		return nil
	}
	e.rpc.Close()
	return e.store.Close()
}
