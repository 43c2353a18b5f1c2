package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/devblac/bridge-monitor/internal/bridge"
)

type fakeProvider struct {
	mu      sync.Mutex
	mode    [4]byte
	modeErr error
	events  map[string][]bridge.ChainEvent
	failOn  string
	queries []bridge.EventQuery

	native      map[string]*big.Int
	balances    map[string]*big.Int // token|account
	supply      map[string]*big.Int
	erc677Token string
	callErr     error
}

func (f *fakeProvider) BridgeMode(_ context.Context, _ string) ([4]byte, error) {
	return f.mode, f.modeErr
}

func (f *fakeProvider) PastEvents(ctx context.Context, q bridge.EventQuery) ([]bridge.ChainEvent, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if q.Event == f.failOn {
		return nil, fmt.Errorf("rpc down")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.events[q.Event], nil
}

func (f *fakeProvider) BalanceOf(_ context.Context, token, account string) (*big.Int, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.balances[token+"|"+account], nil
}

func (f *fakeProvider) NativeBalance(_ context.Context, account string) (*big.Int, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.native[account], nil
}

func (f *fakeProvider) TotalSupply(_ context.Context, token string) (*big.Int, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.supply[token], nil
}

func (f *fakeProvider) ERC677Token(_ context.Context, _ string) (string, error) {
	if f.callErr != nil {
		return "", f.callErr
	}
	return f.erc677Token, nil
}

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad int " + s)
	}
	return v
}

// homeEv builds an event whose own transaction hash is the match key.
func homeEv(tx, recipient, value string) bridge.ChainEvent {
	return bridge.ChainEvent{
		TransactionHash: tx,
		Values:          map[string]string{"recipient": recipient, "value": value},
	}
}

// relayEv builds an event that references another chain's transaction in its values.
func relayEv(ownTx, refTx, recipient, value string) bridge.ChainEvent {
	return bridge.ChainEvent{
		TransactionHash: ownTx,
		Values:          map[string]string{"transactionHash": refTx, "recipient": recipient, "value": value},
	}
}

func transferEv(tx, from, to, value string) bridge.ChainEvent {
	return bridge.ChainEvent{
		TransactionHash: tx,
		Values:          map[string]string{"from": from, "to": to, "value": value},
	}
}

var testDeployment = bridge.Deployment{
	HomeBridge:        "0xHomeBridge",
	ForeignBridge:     "0xForeignBridge",
	Token:             "0xToken",
	HomeStartBlock:    10,
	ForeignStartBlock: 20,
}
