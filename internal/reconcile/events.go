package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/devblac/bridge-monitor/internal/bridge"
	"golang.org/x/sync/errgroup"
)

// Bridge event names.
const (
	EventUserRequestForSignature   = "UserRequestForSignature"
	EventRelayedMessage            = "RelayedMessage"
	EventAffirmationCompleted      = "AffirmationCompleted"
	EventUserRequestForAffirmation = "UserRequestForAffirmation"
	EventTransfer                  = "Transfer"
)

type eventPlan struct {
	homeABI     string
	foreignABI  string
	withdrawals Category
	// foreignWithdrawals builds the query for withdrawal requests on the foreign chain.
	foreignWithdrawals func(d bridge.Deployment, foreignABI string) bridge.EventQuery
}

func bridgeRequests(d bridge.Deployment, foreignABI string) bridge.EventQuery {
	return bridge.EventQuery{
		ABI:       foreignABI,
		Contract:  d.ForeignBridge,
		Event:     EventUserRequestForAffirmation,
		FromBlock: d.ForeignStartBlock,
	}
}

func tokenTransfersToBridge(d bridge.Deployment, _ string) bridge.EventQuery {
	return bridge.EventQuery{
		ABI:       bridge.ABIERC20,
		Contract:  d.Token,
		Event:     EventTransfer,
		FromBlock: d.ForeignStartBlock,
		Filter:    map[string]string{bridge.FieldTo: d.ForeignBridge},
	}
}

var eventPlans = map[bridge.Mode]eventPlan{
	bridge.ModeNativeToErc: {
		homeABI:            bridge.ABIHomeNativeToErc,
		foreignABI:         bridge.ABIForeignNativeToErc,
		withdrawals:        Withdrawals,
		foreignWithdrawals: bridgeRequests,
	},
	bridge.ModeErcToNative: {
		homeABI:            bridge.ABIHomeNativeToErc,
		foreignABI:         bridge.ABIForeignNativeToErc,
		withdrawals:        Withdrawals,
		foreignWithdrawals: bridgeRequests,
	},
	bridge.ModeErcToErc: {
		homeABI:            bridge.ABIHomeErcToErc,
		foreignABI:         bridge.ABIForeignErcToErc,
		withdrawals:        TransferWithdrawals,
		foreignWithdrawals: tokenTransfersToBridge,
	},
}

// DetectMode asks the home bridge for its operating mode.
func DetectMode(ctx context.Context, home bridge.Provider, homeBridge string) (bridge.Mode, error) {
	hash, err := home.BridgeMode(ctx, homeBridge)
	if err != nil {
		return "", bridge.WrapProvider(bridge.Home, "getBridgeMode", err)
	}
	return bridge.DecodeMode(hash)
}

// EventReconciler diffs deposit and withdrawal events between the two chains.
type EventReconciler struct {
	home    bridge.Provider
	foreign bridge.Provider
	dep     bridge.Deployment
	log     *slog.Logger
	now     func() time.Time
}

// NewEventReconciler builds a reconciler over the given chain providers.
func NewEventReconciler(home, foreign bridge.Provider, dep bridge.Deployment, log *slog.Logger) *EventReconciler {
	if log == nil {
		log = slog.Default()
	}
	return &EventReconciler{home: home, foreign: foreign, dep: dep, log: log, now: time.Now}
}

// Reconcile detects the bridge mode and diffs the full event history of both chains.
func (r *EventReconciler) Reconcile(ctx context.Context) (EventsResult, error) {
	mode, err := DetectMode(ctx, r.home, r.dep.HomeBridge)
	if err != nil {
		return EventsResult{}, err
	}
	return r.ReconcileMode(ctx, mode)
}

// ReconcileMode diffs the event history for an already known mode. Any failed fetch aborts
// the whole run; no partial result is returned.
func (r *EventReconciler) ReconcileMode(ctx context.Context, mode bridge.Mode) (EventsResult, error) {
	plan, ok := eventPlans[mode]
	if !ok {
		return EventsResult{}, unsupportedMode(mode)
	}
	r.log.Debug("reconcile events", "mode", mode)

	var homeDeposits, foreignDeposits, homeWithdrawals, foreignWithdrawals []bridge.ChainEvent

	g, gctx := errgroup.WithContext(ctx)
	fetch := func(dst *[]bridge.ChainEvent, p bridge.Provider, chain string, q bridge.EventQuery) {
		g.Go(func() error {
			r.log.Debug("fetch events", "chain", chain, "event", q.Event, "from_block", q.FromBlock)
			evs, err := p.PastEvents(gctx, q)
			if err != nil {
				return bridge.WrapProvider(chain, "getPastEvents "+q.Event, err)
			}
			*dst = evs
			return nil
		})
	}

	fetch(&homeDeposits, r.home, bridge.Home, bridge.EventQuery{
		ABI:       plan.homeABI,
		Contract:  r.dep.HomeBridge,
		Event:     EventUserRequestForSignature,
		FromBlock: r.dep.HomeStartBlock,
	})
	fetch(&foreignDeposits, r.foreign, bridge.Foreign, bridge.EventQuery{
		ABI:       plan.foreignABI,
		Contract:  r.dep.ForeignBridge,
		Event:     EventRelayedMessage,
		FromBlock: r.dep.ForeignStartBlock,
	})
	fetch(&homeWithdrawals, r.home, bridge.Home, bridge.EventQuery{
		ABI:       plan.homeABI,
		Contract:  r.dep.HomeBridge,
		Event:     EventAffirmationCompleted,
		FromBlock: r.dep.HomeStartBlock,
	})
	fetch(&foreignWithdrawals, r.foreign, bridge.Foreign, plan.foreignWithdrawals(r.dep, plan.foreignABI))

	if err := g.Wait(); err != nil {
		return EventsResult{}, err
	}

	res := EventsResult{Mode: mode, LastChecked: r.now().Unix()}
	res.OnlyInHomeDeposits, res.OnlyInForeignDeposits = Deposits.Diff(homeDeposits, foreignDeposits)
	res.OnlyInHomeWithdrawals, res.OnlyInForeignWithdrawals = plan.withdrawals.Diff(homeWithdrawals, foreignWithdrawals)

	r.log.Debug("reconcile events done",
		"home_deposits", len(homeDeposits),
		"foreign_deposits", len(foreignDeposits),
		"home_withdrawals", len(homeWithdrawals),
		"foreign_withdrawals", len(foreignWithdrawals),
		"unmatched", res.Discrepancies(),
	)
	return res, nil
}

func unsupportedMode(mode bridge.Mode) error {
	return &bridge.ConfigurationError{
		Reason: "unrecognized bridge mode '" + string(mode) + "'",
		Err:    bridge.ErrUnsupportedMode,
	}
}
