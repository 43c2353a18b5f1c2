package evm

import (
	"context"
	"math/big"

	"github.com/devblac/bridge-monitor/internal/bridge"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Provider answers bridge queries against one EVM chain.
type Provider struct {
	client Client
	abis   map[string]*abi.ABI
}

var _ bridge.Provider = (*Provider)(nil)

// NewProvider builds a provider over client using the given ABIs (see LoadABIs).
func NewProvider(client Client, abis map[string]*abi.ABI) *Provider {
	return &Provider{client: client, abis: abis}
}

// BridgeMode calls getBridgeMode() on a bridge contract.
func (p *Provider) BridgeMode(ctx context.Context, bridgeAddr string) ([4]byte, error) {
	out, err := p.call(ctx, bridge.ABIHomeErcToErc, bridgeAddr, "getBridgeMode")
	if err != nil {
		return [4]byte{}, err
	}
	mode, ok := out[0].([4]byte)
	if !ok {
		return [4]byte{}, errors.Errorf("getBridgeMode returned %T", out[0])
	}
	return mode, nil
}

// ERC677Token returns the token minted by a home erc-to-erc bridge.
func (p *Provider) ERC677Token(ctx context.Context, bridgeAddr string) (string, error) {
	out, err := p.call(ctx, bridge.ABIHomeErcToErc, bridgeAddr, "erc677token")
	if err != nil {
		return "", err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return "", errors.Errorf("erc677token returned %T", out[0])
	}
	return addr.Hex(), nil
}

// BalanceOf returns the ERC20 balance of account in base units.
func (p *Provider) BalanceOf(ctx context.Context, token, account string) (*big.Int, error) {
	if !common.IsHexAddress(account) {
		return nil, errors.Errorf("invalid account address %q", account)
	}
	out, err := p.call(ctx, bridge.ABIERC20, token, "balanceOf", common.HexToAddress(account))
	if err != nil {
		return nil, err
	}
	return bigResult("balanceOf", out)
}

// TotalSupply returns the ERC20 total supply in base units.
func (p *Provider) TotalSupply(ctx context.Context, token string) (*big.Int, error) {
	out, err := p.call(ctx, bridge.ABIERC20, token, "totalSupply")
	if err != nil {
		return nil, err
	}
	return bigResult("totalSupply", out)
}

// NativeBalance returns the native coin balance of account at the latest block.
func (p *Provider) NativeBalance(ctx context.Context, account string) (*big.Int, error) {
	if !common.IsHexAddress(account) {
		return nil, errors.Errorf("invalid account address %q", account)
	}
	balance, err := p.client.BalanceAt(ctx, common.HexToAddress(account), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get native balance")
	}
	return balance, nil
}

// PastEvents returns every q.Event log emitted by q.Contract from q.FromBlock up to the
// current head, decoded with the q.ABI interface.
func (p *Provider) PastEvents(ctx context.Context, q bridge.EventQuery) ([]bridge.ChainEvent, error) {
	ev, err := p.event(q.ABI, q.Event)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(q.Contract) {
		return nil, errors.Errorf("invalid contract address %q", q.Contract)
	}
	topics, err := filterTopics(ev, q.Filter)
	if err != nil {
		return nil, err
	}

	head, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest header")
	}
	from := new(big.Int).SetUint64(q.FromBlock)
	if from.Cmp(head.Number) > 0 {
		return []bridge.ChainEvent{}, nil
	}

	logs, err := p.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   head.Number,
		Addresses: []common.Address{common.HexToAddress(q.Contract)},
		Topics:    topics,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to filter %s logs", q.Event)
	}

	events := make([]bridge.ChainEvent, 0, len(logs))
	for _, lg := range logs {
		decoded, ok, err := decodeLog(ev, lg)
		if err != nil {
			return nil, err
		}
		if ok {
			events = append(events, decoded)
		}
	}
	return events, nil
}

func (p *Provider) event(abiName, name string) (*abi.Event, error) {
	if abiName == "" {
		if ev, ok := FindEvent(p.abis, name); ok {
			return ev, nil
		}
		return nil, errors.Errorf("event %s not found in any loaded abi", name)
	}
	a, err := p.lookupABI(abiName)
	if err != nil {
		return nil, err
	}
	ev, ok := a.Events[name]
	if !ok {
		return nil, errors.Errorf("event %s not found in abi %s", name, abiName)
	}
	return &ev, nil
}

func (p *Provider) lookupABI(name string) (*abi.ABI, error) {
	a, ok := p.abis[name]
	if !ok {
		return nil, errors.Errorf("abi %s not loaded", name)
	}
	return a, nil
}

// call performs a read-only contract call at the latest block and unpacks its outputs.
func (p *Provider) call(ctx context.Context, abiName, contract, method string, args ...any) ([]any, error) {
	a, err := p.lookupABI(abiName)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(contract) {
		return nil, errors.Errorf("invalid contract address %q", contract)
	}
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack %s data", method)
	}

	to := common.HexToAddress(contract)
	result, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call %s", method)
	}
	if len(result) == 0 {
		return nil, errors.Errorf("empty result from %s call", method)
	}

	out, err := a.Unpack(method, result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s result", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("no outputs from %s call", method)
	}
	return out, nil
}

func bigResult(method string, out []any) (*big.Int, error) {
	v, ok := out[0].(*big.Int)
	if !ok || v == nil {
		return nil, errors.Errorf("%s returned %T", method, out[0])
	}
	return v, nil
}
