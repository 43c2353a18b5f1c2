package bridge

import (
	"context"
	"math/big"
)

// Well-known decoded argument names.
const (
	FieldRecipient       = "recipient"
	FieldFrom            = "from"
	FieldTo              = "to"
	FieldValue           = "value"
	FieldTransactionHash = "transactionHash"
)

// Chain sides.
const (
	Home    = "home"
	Foreign = "foreign"
)

// ChainEvent is one decoded log entry. TransactionHash is the hash of the transaction that
// emitted the log; Values holds the decoded arguments rendered as strings.
type ChainEvent struct {
	Event           string            `json:"event"`
	Contract        string            `json:"address"`
	BlockNumber     uint64            `json:"blockNumber"`
	LogIndex        uint              `json:"logIndex"`
	TransactionHash string            `json:"transactionHash"`
	Values          map[string]string `json:"returnValues"`
}

// Value returns a decoded argument, or "" when the event has none by that name.
func (e ChainEvent) Value(name string) string {
	return e.Values[name]
}

// EventQuery selects historical logs of one event from one contract.
type EventQuery struct {
	// ABI names the contract interface used to resolve and decode Event.
	ABI       string
	Contract  string
	Event     string
	FromBlock uint64
	// Filter restricts indexed arguments by name, e.g. {"to": "0x..."}.
	Filter map[string]string
}

// Provider is the read-only view of one chain the reconcilers depend on.
type Provider interface {
	BridgeMode(ctx context.Context, bridge string) ([4]byte, error)
	PastEvents(ctx context.Context, q EventQuery) ([]ChainEvent, error)
	BalanceOf(ctx context.Context, token, account string) (*big.Int, error)
	NativeBalance(ctx context.Context, account string) (*big.Int, error)
	TotalSupply(ctx context.Context, token string) (*big.Int, error)
	ERC677Token(ctx context.Context, bridge string) (string, error)
}

// Contract interfaces the reconcilers ask providers to use.
const (
	ABIHomeNativeToErc    = "HomeBridgeNativeToErc"
	ABIForeignNativeToErc = "ForeignBridgeNativeToErc"
	ABIHomeErcToErc       = "HomeBridgeErcToErc"
	ABIForeignErcToErc    = "ForeignBridgeErcToErc"
	ABIERC20              = "ERC20"
)

// Deployment locates the bridge contracts on both chains.
type Deployment struct {
	HomeBridge        string
	ForeignBridge     string
	Token             string // bridged ERC20 on the foreign chain
	HomeStartBlock    uint64
	ForeignStartBlock uint64
}
