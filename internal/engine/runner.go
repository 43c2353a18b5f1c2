package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devblac/bridge-monitor/internal/bridge"
	"github.com/devblac/bridge-monitor/internal/config"
	"github.com/devblac/bridge-monitor/internal/metrics"
	"github.com/devblac/bridge-monitor/internal/reconcile"
	"github.com/devblac/bridge-monitor/internal/sink"
	"github.com/devblac/bridge-monitor/internal/storage"
	"github.com/google/uuid"
)

const defaultDedupeTTL = 24 * time.Hour

// EventChecker detects the bridge mode and diffs bridge events.
type EventChecker interface {
	Reconcile(ctx context.Context) (reconcile.EventsResult, error)
}

// BalanceChecker compares locked and issued value for a mode.
type BalanceChecker interface {
	Reconcile(ctx context.Context, mode bridge.Mode) (reconcile.BalanceResult, error)
}

// Options wires the runner's collaborators.
type Options struct {
	Store    *storage.Store
	Events   EventChecker
	Balances BalanceChecker
	Sinks    map[string]sink.Sender
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	DryRun   bool
}

// Runner executes monitoring cycles: reconcile, persist, alert.
type Runner struct {
	store    *storage.Store
	events   EventChecker
	balances BalanceChecker
	sinks    map[string]sink.Sender
	rules    []ruleExec
	metrics  *metrics.Metrics
	log      *slog.Logger
	decimals int32
	dryRun   bool
	nowFunc  func() time.Time

	mu        sync.Mutex
	lastCycle time.Time
}

// Candidate is one potential alert derived from a reconciliation result.
type Candidate struct {
	Kind      string
	Mode      string
	Category  string
	Side      string
	TxHash    string
	LogIndex  uint
	CheckedAt int64
	Args      map[string]any
}

// Cycle summarizes one RunOnce.
type Cycle struct {
	Events   reconcile.EventsResult
	Balances reconcile.BalanceResult
	Alerts   int
}

type ruleExec struct {
	alert  config.Alert
	preds  []Predicate
	ttl    time.Duration
	bucket *TokenBucket
}

// NewRunner compiles alert rules and builds a runner.
func NewRunner(cfg *config.Config, opts Options) (*Runner, error) {
	if opts.Store == nil || opts.Events == nil || opts.Balances == nil {
		return nil, errors.New("runner needs a store and both reconcilers")
	}
	rules := make([]ruleExec, 0, len(cfg.Alerts))
	for _, a := range cfg.Alerts {
		preds, err := CompilePredicates(a.Where)
		if err != nil {
			return nil, fmt.Errorf("alert %s predicates: %w", a.ID, err)
		}
		ttl := defaultDedupeTTL
		if a.Dedupe != nil && a.Dedupe.TTL != "" {
			if d, err := time.ParseDuration(a.Dedupe.TTL); err == nil {
				ttl = d
			}
		}
		var bucket *TokenBucket
		if a.RateLimit != nil {
			bucket = NewTokenBucket(a.RateLimit.Capacity, a.RateLimit.PerSecond)
		}
		rules = append(rules, ruleExec{alert: a, preds: preds, ttl: ttl, bucket: bucket})
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		store:    opts.Store,
		events:   opts.Events,
		balances: opts.Balances,
		sinks:    opts.Sinks,
		rules:    rules,
		metrics:  opts.Metrics,
		log:      log,
		decimals: cfg.Global.TokenDecimals(),
		dryRun:   opts.DryRun,
		nowFunc:  time.Now,
	}, nil
}

// RunOnce performs a full cycle. Reconciliation failures abort the cycle. Per-alert store and
// sink failures are recorded and returned after every alert has been attempted.
func (r *Runner) RunOnce(ctx context.Context) (Cycle, error) {
	var cycle Cycle

	evs, err := r.events.Reconcile(ctx)
	if err != nil {
		r.metrics.Errors()
		return cycle, fmt.Errorf("reconcile events: %w", err)
	}
	cycle.Events = evs

	bal, err := r.balances.Reconcile(ctx, evs.Mode)
	if err != nil {
		r.metrics.Errors()
		return cycle, fmt.Errorf("reconcile balances: %w", err)
	}
	cycle.Balances = bal

	if err := r.saveReports(ctx, evs, bal); err != nil {
		r.metrics.Errors()
		return cycle, err
	}
	r.observe(evs, bal)
	r.log.Info("reconciled",
		"mode", evs.Mode,
		"unmatched", evs.Discrepancies(),
		"balance_diff", bal.BalanceDiff.String(),
	)

	sent, err := r.handleCandidates(ctx, r.candidates(evs, bal))
	cycle.Alerts = sent

	r.mu.Lock()
	r.lastCycle = r.nowFunc()
	r.mu.Unlock()
	return cycle, err
}

// LastCycle reports when the last successful reconciliation finished.
func (r *Runner) LastCycle() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCycle
}

// Close releases sinks that hold connections.
func (r *Runner) Close() error {
	var errs []error
	for id, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close sink %s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) saveReports(ctx context.Context, evs reconcile.EventsResult, bal reconcile.BalanceResult) error {
	evJSON, err := json.Marshal(evs)
	if err != nil {
		return fmt.Errorf("marshal events report: %w", err)
	}
	balJSON, err := json.Marshal(bal)
	if err != nil {
		return fmt.Errorf("marshal balance report: %w", err)
	}
	discrepancies := 0
	if !bal.BalanceDiff.IsZero() {
		discrepancies = 1
	}
	_, err = r.store.InsertReports(ctx,
		storage.Report{
			Kind:          storage.ReportEvents,
			Mode:          evs.Mode.String(),
			CheckedAt:     evs.LastChecked,
			Discrepancies: evs.Discrepancies(),
			PayloadJSON:   string(evJSON),
		},
		storage.Report{
			Kind:          storage.ReportBalances,
			Mode:          bal.Mode.String(),
			CheckedAt:     bal.LastChecked,
			Discrepancies: discrepancies,
			PayloadJSON:   string(balJSON),
		},
	)
	return err
}

func (r *Runner) observe(evs reconcile.EventsResult, bal reconcile.BalanceResult) {
	r.metrics.Reconciled(storage.ReportEvents, evs.LastChecked)
	r.metrics.Reconciled(storage.ReportBalances, bal.LastChecked)
	r.metrics.Unmatched(reconcile.Deposits.Name, bridge.Home, len(evs.OnlyInHomeDeposits))
	r.metrics.Unmatched(reconcile.Deposits.Name, bridge.Foreign, len(evs.OnlyInForeignDeposits))
	r.metrics.Unmatched(reconcile.Withdrawals.Name, bridge.Home, len(evs.OnlyInHomeWithdrawals))
	r.metrics.Unmatched(reconcile.Withdrawals.Name, bridge.Foreign, len(evs.OnlyInForeignWithdrawals))
	r.metrics.BalanceDiff(bal.BalanceDiff.InexactFloat64())
}

func (r *Runner) candidates(evs reconcile.EventsResult, bal reconcile.BalanceResult) []Candidate {
	groups := []struct {
		category string
		side     string
		events   []bridge.ChainEvent
	}{
		{reconcile.Deposits.Name, bridge.Home, evs.OnlyInHomeDeposits},
		{reconcile.Deposits.Name, bridge.Foreign, evs.OnlyInForeignDeposits},
		{reconcile.Withdrawals.Name, bridge.Home, evs.OnlyInHomeWithdrawals},
		{reconcile.Withdrawals.Name, bridge.Foreign, evs.OnlyInForeignWithdrawals},
	}

	var out []Candidate
	for _, g := range groups {
		for _, ev := range g.events {
			out = append(out, Candidate{
				Kind:      config.AlertUnmatchedEvent,
				Mode:      evs.Mode.String(),
				Category:  g.category,
				Side:      g.side,
				TxHash:    ev.TransactionHash,
				LogIndex:  ev.LogIndex,
				CheckedAt: evs.LastChecked,
				Args: map[string]any{
					"category":  g.category,
					"side":      g.side,
					"txhash":    ev.TransactionHash,
					"block":     ev.BlockNumber,
					"log_index": ev.LogIndex,
					"event":     ev.Event,
					"recipient": ev.Value(bridge.FieldRecipient),
					"from":      ev.Value(bridge.FieldFrom),
					"value":     r.units(ev.Value(bridge.FieldValue)),
					"value_raw": ev.Value(bridge.FieldValue),
				},
			})
		}
	}

	if !bal.BalanceDiff.IsZero() {
		out = append(out, Candidate{
			Kind:      config.AlertBalanceDiff,
			Mode:      bal.Mode.String(),
			CheckedAt: bal.LastChecked,
			Args: map[string]any{
				"mode":         bal.Mode.String(),
				"balance_diff": bal.BalanceDiff.String(),
				"abs_diff":     bal.BalanceDiff.Abs().String(),
			},
		})
	}
	return out
}

func (r *Runner) units(raw string) string {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return bridge.FormatUnits(v, r.decimals)
}

func (r *Runner) handleCandidates(ctx context.Context, cands []Candidate) (int, error) {
	var (
		sent    int
		errs []error
	)
	for i := range r.rules {
		exec := &r.rules[i]
		for _, c := range cands {
			if !strings.EqualFold(c.Kind, exec.alert.Kind) {
				continue
			}
			pass, err := allPredicates(exec.preds, c.Args)
			if err != nil || !pass {
				continue
			}

			now := r.nowFunc()
			key := buildDedupeKey(dedupePattern(exec.alert), exec.alert.ID, c)
			if key == "" {
				key = buildDedupeKey(defaultPattern(c.Kind), exec.alert.ID, c)
				r.log.Warn("dedupe key empty, using default", "alert", exec.alert.ID, "key", key)
			}
			isDup, err := r.store.IsDuplicate(ctx, key, now)
			if err != nil {
				r.metrics.Errors()
				r.log.Error("dedupe lookup failed", "alert", exec.alert.ID, "key", key, "err", err)
				errs = append(errs, fmt.Errorf("alert %s: %w", exec.alert.ID, err))
				continue
			}
			if isDup {
				r.metrics.AlertsDropped()
				continue
			}
			if exec.bucket != nil && !exec.bucket.Allow(now) {
				r.metrics.AlertsDropped()
				r.log.Warn("alert rate limited", "alert", exec.alert.ID, "key", key)
				continue
			}
			if err := r.store.MarkDedupe(ctx, key, now.Add(exec.ttl)); err != nil {
				r.metrics.Errors()
				r.log.Error("dedupe mark failed", "alert", exec.alert.ID, "key", key, "err", err)
				errs = append(errs, fmt.Errorf("alert %s: %w", exec.alert.ID, err))
				continue
			}

			payload := toSinkPayload(c, exec.alert.ID)
			if r.dryRun {
				r.log.Info("dry-run alert", "alert", exec.alert.ID, "kind", c.Kind, "key", key)
				continue
			}
			if err := r.recordAlert(ctx, payload, key, now); err != nil {
				r.metrics.Errors()
				errs = append(errs, fmt.Errorf("alert %s: %w", exec.alert.ID, err))
				continue
			}
			errs = append(errs, r.deliver(ctx, exec.alert.Sinks, payload, now)...)
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func (r *Runner) recordAlert(ctx context.Context, p sink.AlertPayload, key string, now time.Time) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return r.store.InsertAlert(ctx, storage.Alert{
		ID:          p.AlertID,
		RuleID:      p.RuleID,
		Fingerprint: key,
		TxHash:      p.TxHash,
		PayloadJSON: string(body),
		CreatedAt:   now,
	})
}

func (r *Runner) deliver(ctx context.Context, sinkIDs []string, p sink.AlertPayload, now time.Time) []error {
	var errs []error
	for _, sinkID := range sinkIDs {
		s := r.sinks[sinkID]
		if s == nil {
			continue
		}
		status, code := "sent", 0
		if err := s.Send(ctx, p); err != nil {
			status = "failed"
			var se *sink.StatusError
			if errors.As(err, &se) {
				code = se.Code
			}
			r.metrics.Errors()
			r.log.Error("sink delivery failed", "sink", sinkID, "alert", p.RuleID, "err", err)
			errs = append(errs, fmt.Errorf("sink %s: %w", sinkID, err))
		} else {
			r.metrics.AlertsSent()
		}
		if err := r.store.InsertSend(ctx, storage.Send{
			AlertID:      p.AlertID,
			SinkID:       sinkID,
			Status:       status,
			ResponseCode: code,
			CreatedAt:    now,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func allPredicates(preds []Predicate, args map[string]any) (bool, error) {
	for _, p := range preds {
		ok, err := p(args)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func dedupePattern(a config.Alert) string {
	if a.Dedupe != nil && a.Dedupe.Key != "" {
		return a.Dedupe.Key
	}
	return defaultPattern(a.Kind)
}

func defaultPattern(kind string) string {
	if strings.EqualFold(kind, config.AlertBalanceDiff) {
		return "rule:mode:balance_diff"
	}
	return "rule:category:side:txhash:logIndex"
}

// buildDedupeKey expands placeholders in pattern with the candidate's fields.
func buildDedupeKey(pattern, ruleID string, c Candidate) string {
	if pattern == "" {
		pattern = "txhash"
	}
	balance, _ := c.Args["balance_diff"].(string)
	return strings.NewReplacer(
		"rule", ruleID,
		"category", c.Category,
		"side", c.Side,
		"txhash", c.TxHash,
		"logIndex", strconv.FormatUint(uint64(c.LogIndex), 10),
		"mode", c.Mode,
		"balance_diff", balance,
	).Replace(pattern)
}

func toSinkPayload(c Candidate, ruleID string) sink.AlertPayload {
	return sink.AlertPayload{
		AlertID:   uuid.NewString(),
		RuleID:    ruleID,
		Kind:      c.Kind,
		Mode:      c.Mode,
		Category:  c.Category,
		Side:      c.Side,
		TxHash:    c.TxHash,
		CheckedAt: c.CheckedAt,
		Args:      c.Args,
	}
}
