package indexer

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyScope/internal/acceptance"
	"bountyScope/internal/bounty"
	"bountyScope/internal/contract"
	"bountyScope/internal/erc20"
	"bountyScope/internal/metrics"
	"bountyScope/internal/model"
	"bountyScope/internal/projection"
	"bountyScope/internal/storage/memory"
)

var (
	hubAddr    = common.HexToAddress("0x000000000000000000000000000000000000cafe")
	moduleAddr = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	otherAddr  = common.HexToAddress("0x000000000000000000000000000000000000b0b1")
	nftAddr    = common.HexToAddress("0x000000000000000000000000000000000000f00d")
	owner      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	tokenX     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	asker      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	expert     = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fakeSource struct {
	mu       sync.Mutex
	chainID  uint64
	latest   uint64
	step     uint64
	logs     []types.Log
	failures int
	filters  int
}

func (f *fakeSource) ChainID(context.Context) (uint64, error) {
	return f.chainID, nil
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := f.latest
	f.latest += f.step
	return latest, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return 1700000000 + number*2, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, from, to uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("rpc unavailable")
	}

	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if !containsAddress(addresses, log.Address) || !containsHash(topic0, log.Topics[0]) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, item := range list {
		if item == a {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, item := range list {
		if item == h {
			return true
		}
	}
	return false
}

type errorSink struct {
	records []model.DecodeError
}

func (s *errorSink) PutDecodeErrors(records []model.DecodeError) error {
	s.records = append(s.records, records...)
	return nil
}

// chainScenario runs the ledger with a log recorder attached and returns
// the logs the chain would hold: bounty (1,1) escrowed at block 10 and
// settled at block 12, bounty (2,1) escrowed at block 15.
func chainScenario(t *testing.T) []types.Log {
	t.Helper()
	rec := &contract.LogRecorder{BountyModule: moduleAddr, AcceptanceNFT: nftAddr}

	bank := erc20.NewBank()
	require.NoError(t, bank.Mint(tokenX, asker, big.NewInt(1000)))
	require.NoError(t, bank.Approve(tokenX, asker, moduleAddr, big.NewInt(1000)))
	registry, err := acceptance.NewRegistry(owner, rec)
	require.NoError(t, err)
	require.NoError(t, registry.SetModule(owner, moduleAddr))
	ledger, err := bounty.NewLedger(bounty.Config{Address: moduleAddr, Hub: hubAddr}, bank, registry, rec)
	require.NoError(t, err)

	data, err := bounty.EncodeInitData(bounty.InitData{Currency: tokenX, Amount: big.NewInt(100)})
	require.NoError(t, err)
	rec.BeginTx(10, common.HexToHash("0xa1"))
	require.NoError(t, ledger.Initialize(hubAddr, big.NewInt(1), big.NewInt(1), asker, data))

	actionData, err := bounty.EncodeActionData(bounty.ActionData{Expert: expert})
	require.NoError(t, err)
	rec.BeginTx(12, common.HexToHash("0xa2"))
	_, err = ledger.Process(hubAddr, bounty.ProcessParams{
		PublicationActedProfileID: big.NewInt(1),
		PublicationActedID:        big.NewInt(1),
		ActorProfileID:            big.NewInt(9),
		ActorProfileOwner:         asker,
		TransactionExecutor:       asker,
		ActionModuleData:          actionData,
	})
	require.NoError(t, err)

	data, err = bounty.EncodeInitData(bounty.InitData{Currency: tokenX, Amount: big.NewInt(7)})
	require.NoError(t, err)
	rec.BeginTx(15, common.HexToHash("0xa3"))
	require.NoError(t, ledger.Initialize(hubAddr, big.NewInt(2), big.NewInt(1), asker, data))

	require.NoError(t, rec.Err())
	return rec.Logs()
}

func bountyKey(module common.Address, profileID, pubID string) projection.Key {
	return projection.Key{
		ChainID:   137,
		Contract:  strings.ToLower(module.Hex()),
		ProfileID: profileID,
		PubID:     pubID,
	}
}

func testConfig() RunConfig {
	return RunConfig{
		FromBlock:    1,
		Addresses:    []common.Address{moduleAddr},
		BatchSize:    4,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}
}

func newTestRunner(t *testing.T, cfg RunConfig, source LogSource, store *memory.Store) *Runner {
	t.Helper()
	runner, err := NewRunner(cfg, source, store, store, nil)
	require.NoError(t, err)
	return runner
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRunMaterializesLedgerEvents(t *testing.T) {
	source := &fakeSource{chainID: 137, latest: 20, logs: chainScenario(t)}
	store := memory.NewStore()
	runner := newTestRunner(t, testConfig(), source, store)

	require.NoError(t, runner.Run(context.Background()))

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, model.KindBountyInitialized, stored[0].Kind)
	assert.Equal(t, model.KindBountyPaid, stored[1].Kind)
	assert.Equal(t, expert.Hex(), stored[1].ExpertAddress)
	assert.Equal(t, uint64(1), stored[1].LogIndex)
	assert.Equal(t, uint64(1700000024), stored[1].BlockTimestamp)
	assert.Equal(t, uint64(137), stored[2].ChainID)

	b, ok := runner.Projection().Bounty(bountyKey(moduleAddr, "1", "1"))
	require.True(t, ok)
	assert.Equal(t, projection.StatusPaid, b.Status)
	b, ok = runner.Projection().Bounty(bountyKey(moduleAddr, "2", "1"))
	require.True(t, ok)
	assert.Equal(t, projection.StatusInitialized, b.Status)
	assert.Empty(t, runner.Projection().Anomalies())

	cursor, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Cursor{Block: 20}, cursor)
}

func TestRunIsIdempotentAcrossRestarts(t *testing.T) {
	logs := chainScenario(t)
	source := &fakeSource{chainID: 137, latest: 20, logs: logs}
	store := memory.NewStore()

	require.NoError(t, newTestRunner(t, testConfig(), source, store).Run(context.Background()))

	// Restart from the committed cursor.
	restarted := newTestRunner(t, testConfig(), source, store)
	require.NoError(t, restarted.Run(context.Background()))

	// Replay from genesis with the cursor ignored: rows must not double.
	replay, err := NewRunner(testConfig(), source, store, nil, nil)
	require.NoError(t, err)
	require.NoError(t, replay.Run(context.Background()))

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Equal(t, 3, replay.Projection().Applied())
	assert.Equal(t, restarted.Projection().Bounties(), replay.Projection().Bounties())
}

func TestRunRedeliveredLogIsStoredOnce(t *testing.T) {
	logs := chainScenario(t)
	duplicated := append([]types.Log{}, logs[0], logs[0])
	duplicated = append(duplicated, logs[1:]...)
	source := &fakeSource{chainID: 137, latest: 20, logs: duplicated}
	store := memory.NewStore()
	m := metrics.New()
	runner := newTestRunner(t, testConfig(), source, store).WithMetrics(m)

	require.NoError(t, runner.Run(context.Background()))

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Equal(t, 1.0, counterValue(t, m.Duplicates))
}

func TestRunRetriesTransientPersistenceFailure(t *testing.T) {
	source := &fakeSource{chainID: 137, latest: 20, logs: chainScenario(t)}
	store := memory.NewStore()
	store.FailNext(2, errors.New("connection reset"))
	m := metrics.New()
	runner := newTestRunner(t, testConfig(), source, store).WithMetrics(m)

	require.NoError(t, runner.Run(context.Background()))

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Equal(t, 2.0, counterValue(t, m.PersistRetries))
}

func TestRunHaltsWhenPersistenceKeepsFailing(t *testing.T) {
	source := &fakeSource{chainID: 137, latest: 20, logs: chainScenario(t)}
	store := memory.NewStore()
	boom := errors.New("disk full")
	store.FailNext(100, boom)
	cfg := testConfig()
	cfg.MaxRetries = 1
	runner := newTestRunner(t, cfg, source, store)

	err := runner.Run(context.Background())
	require.ErrorIs(t, err, boom)

	cursor, _, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Less(t, cursor.Block, uint64(10), "cursor must not move past unstored events")

	// Once storage recovers a fresh run picks the events up.
	store.FailNext(0, nil)
	require.NoError(t, newTestRunner(t, cfg, source, store).Run(context.Background()))
	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestRunRetriesRPC(t *testing.T) {
	source := &fakeSource{chainID: 137, latest: 20, logs: chainScenario(t), failures: 2}
	store := memory.NewStore()
	require.NoError(t, newTestRunner(t, testConfig(), source, store).Run(context.Background()))

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestRunHaltsOnOrderingViolation(t *testing.T) {
	logs := chainScenario(t)
	// Deliver the block 15 event before the block 12 settlement.
	swapped := []types.Log{logs[0], logs[3], logs[1], logs[2]}
	source := &fakeSource{chainID: 137, latest: 20, logs: swapped}
	store := memory.NewStore()
	cfg := testConfig()
	cfg.BatchSize = 100
	runner := newTestRunner(t, cfg, source, store)

	err := runner.Run(context.Background())
	require.ErrorIs(t, err, projection.ErrOutOfOrder)

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
	_, ok, _ := store.Load(context.Background())
	assert.False(t, ok)
}

func TestRunSkipsUndecodableLogs(t *testing.T) {
	logs := chainScenario(t)
	broken := logs[0]
	broken.Data = broken.Data[:32]
	broken.Index = 5
	broken.BlockNumber = 11
	source := &fakeSource{chainID: 137, latest: 20, logs: append([]types.Log{broken}, logs...)}
	store := memory.NewStore()
	sink := &errorSink{}
	m := metrics.New()
	runner := newTestRunner(t, testConfig(), source, store).WithErrorSink(sink).WithMetrics(m)

	require.NoError(t, runner.Run(context.Background()))

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	require.Len(t, sink.records, 1)
	assert.Equal(t, uint64(11), sink.records[0].BlockNumber)
	assert.Equal(t, 1.0, counterValue(t, m.DecodeFailures))
}

func TestRunRecordsPaidBeforeInitialized(t *testing.T) {
	logs := chainScenario(t)
	// Only the settlement of (1,1) is visible.
	source := &fakeSource{chainID: 137, latest: 20, logs: []types.Log{logs[2]}}
	store := memory.NewStore()
	m := metrics.New()
	runner := newTestRunner(t, testConfig(), source, store).WithMetrics(m)

	require.NoError(t, runner.Run(context.Background()))

	anomalies := runner.Projection().Anomalies()
	require.Len(t, anomalies, 1)
	assert.ErrorIs(t, anomalies[0].Err, projection.ErrPaidBeforeInitialized)
	assert.Equal(t, 1.0, counterValue(t, m.Anomalies.WithLabelValues(anomalies[0].Reason)))

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRunRespectsConfirmations(t *testing.T) {
	source := &fakeSource{chainID: 137, latest: 15, logs: chainScenario(t)}
	store := memory.NewStore()
	cfg := testConfig()
	cfg.Confirmations = 3
	require.NoError(t, newTestRunner(t, cfg, source, store).Run(context.Background()))

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	cursor, _, _ := store.Load(context.Background())
	assert.Equal(t, uint64(12), cursor.Block)
}

func TestRunFollowsHeadUntilEndBlock(t *testing.T) {
	source := &fakeSource{chainID: 137, latest: 11, step: 3, logs: chainScenario(t)}
	store := memory.NewStore()
	cfg := testConfig()
	cfg.Follow = true
	cfg.PollInterval = time.Millisecond
	cfg.ToBlock = 16

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, newTestRunner(t, cfg, source, store).Run(ctx))

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	cursor, _, _ := store.Load(context.Background())
	assert.Equal(t, model.Cursor{Block: 16}, cursor)
}

func TestRunFollowStopsOnCancel(t *testing.T) {
	source := &fakeSource{chainID: 137, latest: 20, logs: chainScenario(t)}
	store := memory.NewStore()
	cfg := testConfig()
	cfg.Follow = true
	cfg.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := newTestRunner(t, cfg, source, store).Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestRunValidatesConfig(t *testing.T) {
	store := memory.NewStore()
	source := &fakeSource{chainID: 1}

	cfg := testConfig()
	cfg.BatchSize = 0
	assert.Error(t, newTestRunner(t, cfg, source, store).Run(context.Background()))

	cfg = testConfig()
	cfg.Addresses = nil
	assert.Error(t, newTestRunner(t, cfg, source, store).Run(context.Background()))
}

// twoModuleScenario deploys two ledgers sharing one hub and registry set up
// and escrows bounty (1,1) on each: 100 at block 10 on moduleAddr, 40 at
// block 11 on otherAddr.
func twoModuleScenario(t *testing.T) []types.Log {
	t.Helper()
	var logs []types.Log
	for i, deployment := range []struct {
		module common.Address
		block  uint64
		amount int64
	}{
		{module: moduleAddr, block: 10, amount: 100},
		{module: otherAddr, block: 11, amount: 40},
	} {
		rec := &contract.LogRecorder{BountyModule: deployment.module, AcceptanceNFT: nftAddr}
		bank := erc20.NewBank()
		require.NoError(t, bank.Mint(tokenX, asker, big.NewInt(1000)))
		require.NoError(t, bank.Approve(tokenX, asker, deployment.module, big.NewInt(1000)))
		registry, err := acceptance.NewRegistry(owner, rec)
		require.NoError(t, err)
		require.NoError(t, registry.SetModule(owner, deployment.module))
		ledger, err := bounty.NewLedger(bounty.Config{Address: deployment.module, Hub: hubAddr}, bank, registry, rec)
		require.NoError(t, err)

		data, err := bounty.EncodeInitData(bounty.InitData{Currency: tokenX, Amount: big.NewInt(deployment.amount)})
		require.NoError(t, err)
		rec.BeginTx(deployment.block, common.BigToHash(big.NewInt(int64(0xc0+i))))
		require.NoError(t, ledger.Initialize(hubAddr, big.NewInt(1), big.NewInt(1), asker, data))
		require.NoError(t, rec.Err())
		logs = append(logs, rec.Logs()...)
	}
	return logs
}

func TestRunKeepsModulesApart(t *testing.T) {
	source := &fakeSource{chainID: 137, latest: 20, logs: twoModuleScenario(t)}
	store := memory.NewStore()
	cfg := testConfig()
	cfg.Addresses = []common.Address{moduleAddr, otherAddr}
	runner := newTestRunner(t, cfg, source, store)

	require.NoError(t, runner.Run(context.Background()))

	assert.Empty(t, runner.Projection().Anomalies())
	require.Len(t, runner.Projection().Bounties(), 2)
	first, ok := runner.Projection().Bounty(bountyKey(moduleAddr, "1", "1"))
	require.True(t, ok)
	assert.Equal(t, "100", first.Amount)
	second, ok := runner.Projection().Bounty(bountyKey(otherAddr, "1", "1"))
	require.True(t, ok)
	assert.Equal(t, "40", second.Amount)
	assert.Equal(t, projection.StatusInitialized, second.Status)

	// A restart rebuilds the same two bounties from storage.
	restarted := newTestRunner(t, cfg, source, store)
	require.NoError(t, restarted.Run(context.Background()))
	assert.Equal(t, runner.Projection().Bounties(), restarted.Projection().Bounties())
	assert.Empty(t, restarted.Projection().Anomalies())
}

type recordingPublisher struct {
	mu  sync.Mutex
	err error
	ids []string
}

func (p *recordingPublisher) Publish(_ context.Context, events []model.IndexedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, event := range events {
		p.ids = append(p.ids, event.ID)
	}
	return nil
}

func TestRunRepublishesStoredEventsAfterPublishFailure(t *testing.T) {
	logs := chainScenario(t)
	source := &fakeSource{chainID: 137, latest: 20, logs: logs}
	store := memory.NewStore()
	cfg := testConfig()
	cfg.MaxRetries = 1

	down := &recordingPublisher{err: errors.New("nats down")}
	err := newTestRunner(t, cfg, source, store).WithPublisher(down).Run(context.Background())
	require.ErrorContains(t, err, "nats down")

	stored, err := store.LoadEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 2, "the block 9-12 batch is stored before its publish fails")
	cursor, _, _ := store.Load(context.Background())
	assert.Less(t, cursor.Block, uint64(10))

	up := &recordingPublisher{}
	require.NoError(t, newTestRunner(t, cfg, source, store).WithPublisher(up).Run(context.Background()))

	want := []string{
		model.EventID(logs[0].TxHash.Hex(), uint64(logs[0].Index)),
		model.EventID(logs[2].TxHash.Hex(), uint64(logs[2].Index)),
		model.EventID(logs[3].TxHash.Hex(), uint64(logs[3].Index)),
	}
	assert.Equal(t, want, up.ids)

	// Fully committed: another restart sends nothing.
	require.NoError(t, newTestRunner(t, cfg, source, store).WithPublisher(up).Run(context.Background()))
	assert.Len(t, up.ids, 3)
}
