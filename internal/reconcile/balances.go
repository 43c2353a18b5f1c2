package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/devblac/bridge-monitor/internal/bridge"
	"golang.org/x/sync/errgroup"
)

type quantity int

const (
	qtyBalance quantity = iota
	qtyERC20Balance
	qtyTotalSupply
)

func (s *Sides) set(q quantity, v string) {
	switch q {
	case qtyBalance:
		s.Balance = v
	case qtyERC20Balance:
		s.ERC20Balance = v
	case qtyTotalSupply:
		s.TotalSupply = v
	}
}

type fetcher struct {
	op  string
	qty quantity
	get func(ctx context.Context, r *BalanceReconciler) (*big.Int, error)
}

// balanceStrategy fetches one value per chain. diff = home - foreign when homeMinuend,
// foreign - home otherwise.
type balanceStrategy struct {
	home        fetcher
	foreign     fetcher
	homeMinuend bool
}

var (
	homeNativeBalance = fetcher{
		op:  "getBalance",
		qty: qtyBalance,
		get: func(ctx context.Context, r *BalanceReconciler) (*big.Int, error) {
			return r.home.NativeBalance(ctx, r.dep.HomeBridge)
		},
	}
	homeTokenSupply = fetcher{
		op:  "totalSupply",
		qty: qtyTotalSupply,
		get: func(ctx context.Context, r *BalanceReconciler) (*big.Int, error) {
			token, err := r.home.ERC677Token(ctx, r.dep.HomeBridge)
			if err != nil {
				return nil, err
			}
			return r.home.TotalSupply(ctx, token)
		},
	}
	foreignBridgeBalance = fetcher{
		op:  "balanceOf",
		qty: qtyERC20Balance,
		get: func(ctx context.Context, r *BalanceReconciler) (*big.Int, error) {
			return r.foreign.BalanceOf(ctx, r.dep.Token, r.dep.ForeignBridge)
		},
	}
	foreignTokenSupply = fetcher{
		op:  "totalSupply",
		qty: qtyTotalSupply,
		get: func(ctx context.Context, r *BalanceReconciler) (*big.Int, error) {
			return r.foreign.TotalSupply(ctx, r.dep.Token)
		},
	}
)

var errEmptyResult = errors.New("empty result")

var balanceStrategies = map[bridge.Mode]balanceStrategy{
	bridge.ModeErcToErc:    {home: homeTokenSupply, foreign: foreignBridgeBalance, homeMinuend: false},
	bridge.ModeNativeToErc: {home: homeNativeBalance, foreign: foreignTokenSupply, homeMinuend: true},
	bridge.ModeErcToNative: {home: homeNativeBalance, foreign: foreignBridgeBalance, homeMinuend: false},
}

// BalanceReconciler compares value locked on one side of the bridge with value issued on the other.
type BalanceReconciler struct {
	home     bridge.Provider
	foreign  bridge.Provider
	dep      bridge.Deployment
	decimals int32
	log      *slog.Logger
	now      func() time.Time
}

// NewBalanceReconciler builds a reconciler; negative decimals select bridge.DefaultDecimals.
func NewBalanceReconciler(home, foreign bridge.Provider, dep bridge.Deployment, decimals int32, log *slog.Logger) *BalanceReconciler {
	if decimals < 0 {
		decimals = bridge.DefaultDecimals
	}
	if log == nil {
		log = slog.Default()
	}
	return &BalanceReconciler{home: home, foreign: foreign, dep: dep, decimals: decimals, log: log, now: time.Now}
}

// Reconcile fetches both sides for mode and returns their signed difference.
func (r *BalanceReconciler) Reconcile(ctx context.Context, mode bridge.Mode) (BalanceResult, error) {
	strategy, ok := balanceStrategies[mode]
	if !ok {
		return BalanceResult{}, unsupportedMode(mode)
	}
	r.log.Debug("reconcile balances", "mode", mode)

	var homeVal, foreignVal *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.log.Debug("fetch balance", "chain", bridge.Home, "op", strategy.home.op)
		v, err := strategy.home.get(gctx, r)
		if err == nil && v == nil {
			err = errEmptyResult
		}
		if err != nil {
			return bridge.WrapProvider(bridge.Home, strategy.home.op, err)
		}
		homeVal = v
		return nil
	})
	g.Go(func() error {
		r.log.Debug("fetch balance", "chain", bridge.Foreign, "op", strategy.foreign.op)
		v, err := strategy.foreign.get(gctx, r)
		if err == nil && v == nil {
			err = errEmptyResult
		}
		if err != nil {
			return bridge.WrapProvider(bridge.Foreign, strategy.foreign.op, err)
		}
		foreignVal = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return BalanceResult{}, err
	}

	diff := new(big.Int)
	if strategy.homeMinuend {
		diff.Sub(homeVal, foreignVal)
	} else {
		diff.Sub(foreignVal, homeVal)
	}

	res := BalanceResult{
		Mode:        mode,
		BalanceDiff: bridge.ToUnits(diff, r.decimals),
		LastChecked: r.now().Unix(),
	}
	res.Home.set(strategy.home.qty, bridge.FormatUnits(homeVal, r.decimals))
	res.Foreign.set(strategy.foreign.qty, bridge.FormatUnits(foreignVal, r.decimals))

	r.log.Debug("reconcile balances done", "mode", mode, "balance_diff", res.BalanceDiff.String())
	return res, nil
}
