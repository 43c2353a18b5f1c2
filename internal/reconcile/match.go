package reconcile

import (
	"github.com/devblac/bridge-monitor/internal/bridge"
)

// Relation selects which address field of the foreign record is compared against the
// home record's recipient.
type Relation int

const (
	// RelationEquality compares recipient with recipient.
	RelationEquality Relation = iota
	// RelationTransfer compares the home recipient with the foreign token transfer's sender.
	RelationTransfer
)

// HashLocation says where a record keeps the transaction hash it is matched on.
type HashLocation int

const (
	// HashTopLevel reads the hash of the transaction that emitted the log.
	HashTopLevel HashLocation = iota
	// HashInValues reads the decoded transactionHash argument.
	HashInValues
)

func (l HashLocation) read(ev bridge.ChainEvent) string {
	if l == HashInValues {
		return ev.Value(bridge.FieldTransactionHash)
	}
	return ev.TransactionHash
}

// Category is the match relation between one home and one foreign event stream.
type Category struct {
	Name        string
	Relation    Relation
	HomeHash    HashLocation
	ForeignHash HashLocation
}

type matchKey struct {
	hash    string
	address string
	value   string
}

type keyFunc func(bridge.ChainEvent) matchKey

func (c Category) homeKey(ev bridge.ChainEvent) matchKey {
	return matchKey{
		hash:    c.HomeHash.read(ev),
		address: ev.Value(bridge.FieldRecipient),
		value:   ev.Value(bridge.FieldValue),
	}
}

func (c Category) foreignKey(ev bridge.ChainEvent) matchKey {
	addr := bridge.FieldRecipient
	if c.Relation == RelationTransfer {
		addr = bridge.FieldFrom
	}
	return matchKey{
		hash:    c.ForeignHash.read(ev),
		address: ev.Value(addr),
		value:   ev.Value(bridge.FieldValue),
	}
}

// Matches reports whether home and foreign describe the same transfer.
func (c Category) Matches(home, foreign bridge.ChainEvent) bool {
	return c.homeKey(home) == c.foreignKey(foreign)
}

// Diff returns the home events with no foreign counterpart and the foreign events with no
// home counterpart. Inputs are not modified; outputs keep input order.
func (c Category) Diff(home, foreign []bridge.ChainEvent) (onlyHome, onlyForeign []bridge.ChainEvent) {
	return onlyIn(home, c.homeKey, foreign, c.foreignKey), onlyIn(foreign, c.foreignKey, home, c.homeKey)
}

// onlyIn keeps each element of a whose key is produced by no element of b.
func onlyIn(a []bridge.ChainEvent, keyA keyFunc, b []bridge.ChainEvent, keyB keyFunc) []bridge.ChainEvent {
	present := make(map[matchKey]struct{}, len(b))
	for _, ev := range b {
		present[keyB(ev)] = struct{}{}
	}
	out := make([]bridge.ChainEvent, 0)
	for _, ev := range a {
		if _, ok := present[keyA(ev)]; !ok {
			out = append(out, ev)
		}
	}
	return out
}

// Deposits matches home UserRequestForSignature against foreign RelayedMessage: the foreign
// record carries the home transaction hash as an argument.
var Deposits = Category{
	Name:        "deposits",
	Relation:    RelationEquality,
	HomeHash:    HashTopLevel,
	ForeignHash: HashInValues,
}

// Withdrawals matches home AffirmationCompleted against foreign UserRequestForAffirmation.
var Withdrawals = Category{
	Name:        "withdrawals",
	Relation:    RelationEquality,
	HomeHash:    HashInValues,
	ForeignHash: HashTopLevel,
}

// TransferWithdrawals matches home AffirmationCompleted against ERC20 transfers into the
// foreign bridge (erc-to-erc).
var TransferWithdrawals = Category{
	Name:        "withdrawals",
	Relation:    RelationTransfer,
	HomeHash:    HashInValues,
	ForeignHash: HashTopLevel,
}
