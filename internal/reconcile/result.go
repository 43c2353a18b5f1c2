package reconcile

import (
	"encoding/json"

	"github.com/devblac/bridge-monitor/internal/bridge"
	"github.com/shopspring/decimal"
)

// EventsResult is a point-in-time diff of bridge events across both chains.
type EventsResult struct {
	Mode                     bridge.Mode         `json:"mode"`
	OnlyInHomeDeposits       []bridge.ChainEvent `json:"onlyInHomeDeposits"`
	OnlyInForeignDeposits    []bridge.ChainEvent `json:"onlyInForeignDeposits"`
	OnlyInHomeWithdrawals    []bridge.ChainEvent `json:"onlyInHomeWithdrawals"`
	OnlyInForeignWithdrawals []bridge.ChainEvent `json:"onlyInForeignWithdrawals"`
	LastChecked              int64               `json:"lastChecked"`
}

// Discrepancies counts unmatched events across all four sequences.
func (r EventsResult) Discrepancies() int {
	return len(r.OnlyInHomeDeposits) + len(r.OnlyInForeignDeposits) +
		len(r.OnlyInHomeWithdrawals) + len(r.OnlyInForeignWithdrawals)
}

// Sides holds the values fetched on one chain, in human units. Unset fields are omitted.
type Sides struct {
	Balance      string `json:"balance,omitempty"`
	ERC20Balance string `json:"erc20Balance,omitempty"`
	TotalSupply  string `json:"totalSupply,omitempty"`
}

// BalanceResult compares locked and issued value across the bridge. BalanceDiff is zero on a
// healthy bridge.
type BalanceResult struct {
	Mode        bridge.Mode     `json:"mode"`
	Home        Sides           `json:"home"`
	Foreign     Sides           `json:"foreign"`
	BalanceDiff decimal.Decimal `json:"balanceDiff"`
	LastChecked int64           `json:"lastChecked"`
}

// MarshalJSON writes balanceDiff as a JSON number literal carrying every digit of the decimal.
func (r BalanceResult) MarshalJSON() ([]byte, error) {
	type plain BalanceResult
	return json.Marshal(struct {
		plain
		BalanceDiff json.Number `json:"balanceDiff"`
	}{plain(r), json.Number(r.BalanceDiff.String())})
}
