package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devblac/bridge-monitor/internal/bridge"
	"github.com/devblac/bridge-monitor/internal/config"
	"github.com/devblac/bridge-monitor/internal/reconcile"
	"github.com/devblac/bridge-monitor/internal/sink"
	"github.com/devblac/bridge-monitor/internal/storage"
	"github.com/shopspring/decimal"
)

type fakeSink struct {
	mu       sync.Mutex
	payloads []sink.AlertPayload
	err      error
	closed   bool
}

func (f *fakeSink) Send(ctx context.Context, payload sink.AlertPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return f.err
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeEvents struct {
	res reconcile.EventsResult
	err error
}

func (f fakeEvents) Reconcile(ctx context.Context) (reconcile.EventsResult, error) {
	return f.res, f.err
}

type fakeBalances struct {
	res      reconcile.BalanceResult
	err      error
	lastMode bridge.Mode
}

func (f *fakeBalances) Reconcile(ctx context.Context, mode bridge.Mode) (reconcile.BalanceResult, error) {
	f.lastMode = mode
	res := f.res
	res.Mode = mode
	return res, f.err
}

func unmatchedDeposit(tx, value string) bridge.ChainEvent {
	return bridge.ChainEvent{
		Event:           "UserRequestForSignature",
		TransactionHash: tx,
		BlockNumber:     12,
		Values: map[string]string{
			bridge.FieldRecipient: "0xRecipient",
			bridge.FieldValue:     value,
		},
	}
}

func healthyEvents(extra ...bridge.ChainEvent) reconcile.EventsResult {
	return reconcile.EventsResult{
		Mode:                     bridge.ModeNativeToErc,
		OnlyInHomeDeposits:       append([]bridge.ChainEvent{}, extra...),
		OnlyInForeignDeposits:    []bridge.ChainEvent{},
		OnlyInHomeWithdrawals:    []bridge.ChainEvent{},
		OnlyInForeignWithdrawals: []bridge.ChainEvent{},
		LastChecked:              1700000000,
	}
}

func newTestRunner(t *testing.T, cfg *config.Config, evs EventChecker, bal BalanceChecker, sinks map[string]sink.Sender, dryRun bool) (*Runner, *storage.Store) {
	t.Helper()
	store := newTestStore(t)
	runner, err := NewRunner(cfg, Options{
		Store:    store,
		Events:   evs,
		Balances: bal,
		Sinks:    sinks,
		DryRun:   dryRun,
	})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	return runner, store
}

// Predicates + dedupe + dry-run over unmatched event candidates.
func TestRunnerPredicatesAndDryRun(t *testing.T) {
	cfg := &config.Config{Alerts: []config.Alert{{
		ID:     "big-deposit",
		Kind:   config.AlertUnmatchedEvent,
		Where:  []string{"value > 10", "side == home"},
		Sinks:  []string{"s1"},
		Dedupe: &config.Dedupe{Key: "rule:txhash", TTL: "1h"},
	}}}
	s := &fakeSink{}
	evs := fakeEvents{res: healthyEvents(
		unmatchedDeposit("0x1", "20000000000000000000"),
		unmatchedDeposit("0x2", "1000000000000000000"),
	)}
	runner, store := newTestRunner(t, cfg, evs, &fakeBalances{}, map[string]sink.Sender{"s1": s}, true)

	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.count() != 0 {
		t.Fatalf("expected no sends in dry-run, got %d", s.count())
	}

	// Dry-run marked the key; a fresh tx passes through.
	runner.dryRun = false
	runner.events = fakeEvents{res: healthyEvents(unmatchedDeposit("0x3", "30000000000000000000"))}
	cycle, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.count() != 1 || cycle.Alerts != 1 {
		t.Fatalf("expected 1 send, got %d (cycle %d)", s.count(), cycle.Alerts)
	}
	got := s.payloads[0]
	if got.TxHash != "0x3" || got.Category != "deposits" || got.Side != bridge.Home || got.Args["value"] != "30" {
		t.Fatalf("unexpected payload: %+v", got)
	}

	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run dup: %v", err)
	}
	if s.count() != 1 {
		t.Fatalf("expected dedupe to skip duplicate send")
	}

	n, err := store.CountAlerts(context.Background(), "big-deposit")
	if err != nil || n != 1 {
		t.Fatalf("expected one stored alert, n=%d err=%v", n, err)
	}
}

func TestRunnerStoresReports(t *testing.T) {
	bal := &fakeBalances{res: reconcile.BalanceResult{BalanceDiff: decimal.RequireFromString("0.5"), LastChecked: 1700000001}}
	runner, store := newTestRunner(t, &config.Config{}, fakeEvents{res: healthyEvents(unmatchedDeposit("0x1", "1"))}, bal, nil, false)

	cycle, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if bal.lastMode != bridge.ModeNativeToErc {
		t.Fatalf("balances should run with detected mode, got %q", bal.lastMode)
	}
	if cycle.Events.Discrepancies() != 1 {
		t.Fatalf("unexpected discrepancies: %d", cycle.Events.Discrepancies())
	}

	ev, ok, err := store.LatestReport(context.Background(), storage.ReportEvents)
	if err != nil || !ok {
		t.Fatalf("events report missing: ok=%v err=%v", ok, err)
	}
	if ev.Discrepancies != 1 || ev.Mode != "native-to-erc" || ev.CheckedAt != 1700000000 {
		t.Fatalf("unexpected events report: %+v", ev)
	}
	br, ok, err := store.LatestReport(context.Background(), storage.ReportBalances)
	if err != nil || !ok {
		t.Fatalf("balance report missing: ok=%v err=%v", ok, err)
	}
	if br.Discrepancies != 1 || br.PayloadJSON == "" {
		t.Fatalf("unexpected balance report: %+v", br)
	}
	if runner.LastCycle().IsZero() {
		t.Fatalf("expected last cycle to be recorded")
	}
}

func TestRunnerBalanceAlert(t *testing.T) {
	cfg := &config.Config{Alerts: []config.Alert{{
		ID:    "drift",
		Kind:  config.AlertBalanceDiff,
		Where: []string{"abs_diff >= 1"},
		Sinks: []string{"s1"},
	}}}
	s := &fakeSink{}
	bal := &fakeBalances{res: reconcile.BalanceResult{BalanceDiff: decimal.RequireFromString("-1.25")}}
	runner, _ := newTestRunner(t, cfg, fakeEvents{res: healthyEvents()}, bal, map[string]sink.Sender{"s1": s}, false)

	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.count() != 1 {
		t.Fatalf("expected balance alert, got %d", s.count())
	}
	p := s.payloads[0]
	if p.Kind != config.AlertBalanceDiff || p.Args["abs_diff"] != "1.25" || p.Args["balance_diff"] != "-1.25" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	// Same diff stays deduped; a changed diff alerts again.
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	bal.res.BalanceDiff = decimal.RequireFromString("-2")
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.count() != 2 {
		t.Fatalf("expected 2 alerts, got %d", s.count())
	}
}

func TestRunnerHealthyBridgeNoBalanceAlert(t *testing.T) {
	cfg := &config.Config{Alerts: []config.Alert{{ID: "drift", Kind: config.AlertBalanceDiff, Sinks: []string{"s1"}}}}
	s := &fakeSink{}
	runner, _ := newTestRunner(t, cfg, fakeEvents{res: healthyEvents()}, &fakeBalances{}, map[string]sink.Sender{"s1": s}, false)
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.count() != 0 {
		t.Fatalf("zero diff should not alert")
	}
}

func TestRunnerRateLimit(t *testing.T) {
	cfg := &config.Config{Alerts: []config.Alert{{
		ID:        "any",
		Kind:      config.AlertUnmatchedEvent,
		Sinks:     []string{"s1"},
		RateLimit: &config.RateLimit{Capacity: 1, PerSecond: 0},
	}}}
	s := &fakeSink{}
	evs := fakeEvents{res: healthyEvents(unmatchedDeposit("0xa", "1"), unmatchedDeposit("0xb", "1"))}
	runner, _ := newTestRunner(t, cfg, evs, &fakeBalances{}, map[string]sink.Sender{"s1": s}, false)
	fixed := time.Unix(1700000000, 0)
	runner.nowFunc = func() time.Time { return fixed }

	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.count() != 1 {
		t.Fatalf("expected rate limit to allow one alert, got %d", s.count())
	}
}

func TestRunnerSinkFailureRecorded(t *testing.T) {
	cfg := &config.Config{Alerts: []config.Alert{{ID: "a", Kind: config.AlertUnmatchedEvent, Sinks: []string{"bad", "good"}}}}
	bad := &fakeSink{err: errors.New("502")}
	good := &fakeSink{}
	runner, _ := newTestRunner(t, cfg, fakeEvents{res: healthyEvents(unmatchedDeposit("0x1", "1"))}, &fakeBalances{},
		map[string]sink.Sender{"bad": bad, "good": good}, false)

	_, err := runner.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected sink error")
	}
	if good.count() != 1 || bad.count() != 1 {
		t.Fatalf("both sinks should be attempted: good=%d bad=%d", good.count(), bad.count())
	}

	if err := runner.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !bad.closed || !good.closed {
		t.Fatalf("expected sinks closed")
	}
}

func TestRunnerReconcileErrorAborts(t *testing.T) {
	provErr := bridge.WrapProvider(bridge.Foreign, "getPastEvents RelayedMessage", errors.New("timeout"))
	runner, store := newTestRunner(t, &config.Config{}, fakeEvents{err: provErr}, &fakeBalances{}, nil, false)

	_, err := runner.RunOnce(context.Background())
	var pe *bridge.ProviderError
	if !errors.As(err, &pe) || pe.Chain != bridge.Foreign {
		t.Fatalf("expected provider error, got %v", err)
	}
	if _, ok, _ := store.LatestReport(context.Background(), storage.ReportEvents); ok {
		t.Fatalf("no report should be stored on failure")
	}
	if !runner.LastCycle().IsZero() {
		t.Fatalf("failed cycle should not update last cycle")
	}
}

func TestNewRunnerRejectsBadPredicate(t *testing.T) {
	cfg := &config.Config{Alerts: []config.Alert{{ID: "x", Kind: config.AlertUnmatchedEvent, Where: []string{"value ~ 1"}}}}
	_, err := NewRunner(cfg, Options{Store: newTestStore(t), Events: fakeEvents{}, Balances: &fakeBalances{}})
	if err == nil {
		t.Fatalf("expected predicate compile error")
	}
}

func TestBuildDedupeKey(t *testing.T) {
	c := Candidate{
		Category: "withdrawals",
		Side:     "foreign",
		TxHash:   "0xabc",
		Mode:     "erc-to-erc",
		Args:     map[string]any{"balance_diff": "-3"},
	}

	c.LogIndex = 7
	if key := buildDedupeKey("rule:category:side:txhash", "r1", c); key != "r1:withdrawals:foreign:0xabc" {
		t.Fatalf("unexpected key: %s", key)
	}
	if key := buildDedupeKey(defaultPattern(config.AlertUnmatchedEvent), "r1", c); key != "r1:withdrawals:foreign:0xabc:7" {
		t.Fatalf("unexpected default event key: %s", key)
	}
	if key := buildDedupeKey("rule:mode:balance_diff", "r2", c); key != "r2:erc-to-erc:-3" {
		t.Fatalf("unexpected balance key: %s", key)
	}
	if key := buildDedupeKey("", "r1", c); key != "0xabc" {
		t.Fatalf("default key mismatch: %s", key)
	}
}

func TestRunnerEmptyDedupeKeyFallsBack(t *testing.T) {
	cfg := &config.Config{Alerts: []config.Alert{
		{
			ID:     "drift",
			Kind:   config.AlertBalanceDiff,
			Sinks:  []string{"s1"},
			Dedupe: &config.Dedupe{Key: "txhash"},
		},
		{
			ID:    "orphans",
			Kind:  config.AlertUnmatchedEvent,
			Sinks: []string{"s1"},
		},
	}}
	s := &fakeSink{}
	bal := &fakeBalances{res: reconcile.BalanceResult{BalanceDiff: decimal.RequireFromString("2")}}
	evs := fakeEvents{res: healthyEvents(unmatchedDeposit("0x1", "5"))}
	runner, store := newTestRunner(t, cfg, evs, bal, map[string]sink.Sender{"s1": s}, false)

	cycle, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cycle.Alerts != 2 || s.count() != 2 {
		t.Fatalf("expected both rules to alert, cycle=%d sends=%d", cycle.Alerts, s.count())
	}
	if s.payloads[0].RuleID != "drift" || s.payloads[1].RuleID != "orphans" {
		t.Fatalf("unexpected order: %s, %s", s.payloads[0].RuleID, s.payloads[1].RuleID)
	}

	// The fallback key is persisted, so the drift alert stays deduplicated.
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run again: %v", err)
	}
	if s.count() != 2 {
		t.Fatalf("expected no repeat sends, got %d", s.count())
	}
	n, err := store.CountAlerts(context.Background(), "drift")
	if err != nil || n != 1 {
		t.Fatalf("expected one drift alert, n=%d err=%v", n, err)
	}
}

func TestRunnerSameTxDistinctLogIndex(t *testing.T) {
	cfg := &config.Config{Alerts: []config.Alert{{
		ID:    "orphans",
		Kind:  config.AlertUnmatchedEvent,
		Sinks: []string{"s1"},
	}}}
	first := unmatchedDeposit("0xbatch", "5")
	first.LogIndex = 3
	second := unmatchedDeposit("0xbatch", "9")
	second.LogIndex = 4
	s := &fakeSink{}
	runner, _ := newTestRunner(t, cfg, fakeEvents{res: healthyEvents(first, second)}, &fakeBalances{}, map[string]sink.Sender{"s1": s}, false)

	cycle, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cycle.Alerts != 2 || s.count() != 2 {
		t.Fatalf("expected an alert per log, cycle=%d sends=%d", cycle.Alerts, s.count())
	}
	if s.payloads[0].Args["log_index"] != uint(3) || s.payloads[1].Args["log_index"] != uint(4) {
		t.Fatalf("unexpected log indexes: %v, %v", s.payloads[0].Args["log_index"], s.payloads[1].Args["log_index"])
	}

	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run again: %v", err)
	}
	if s.count() != 2 {
		t.Fatalf("expected both logs deduplicated on rerun, got %d", s.count())
	}
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(storage.DriverSQLite, t.TempDir()+"/db.sqlite")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
