package evm

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/devblac/bridge-monitor/internal/bridge"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// decodeLog turns a raw log of ev into a ChainEvent. ok is false when the log belongs to a
// different event or was removed by a reorg.
func decodeLog(ev *abi.Event, lg types.Log) (bridge.ChainEvent, bool, error) {
	if lg.Removed || len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
		return bridge.ChainEvent{}, false, nil
	}

	args := map[string]any{}
	indexed, nonIndexed := splitIndexed(ev.Inputs)
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return bridge.ChainEvent{}, false, errors.Wrapf(err, "parse %s topics", ev.Name)
	}
	if err := nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
		return bridge.ChainEvent{}, false, errors.Wrapf(err, "unpack %s data", ev.Name)
	}

	values := make(map[string]string, len(args))
	for k, v := range args {
		values[k] = formatValue(v)
	}
	return bridge.ChainEvent{
		Event:           ev.Name,
		Contract:        lg.Address.Hex(),
		BlockNumber:     lg.BlockNumber,
		LogIndex:        lg.Index,
		TransactionHash: lg.TxHash.Hex(),
		Values:          values,
	}, true, nil
}

// formatValue renders decoded arguments the way they are compared: checksummed addresses,
// base-10 integers and 0x-prefixed lowercase hex for byte strings.
func formatValue(v any) string {
	switch x := v.(type) {
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case [32]byte:
		return common.Hash(x).Hex()
	case *big.Int:
		return x.String()
	case []byte:
		return hexutil.Encode(x)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return fmt.Sprintf("%d", x)
	default:
		return fmt.Sprint(x)
	}
}

// filterTopics builds the topic filter for ev, restricting indexed arguments named in filter.
func filterTopics(ev *abi.Event, filter map[string]string) ([][]common.Hash, error) {
	query := [][]any{{ev.ID}}
	indexed, _ := splitIndexed(ev.Inputs)
	used := 0
	for _, in := range indexed {
		raw, ok := filter[in.Name]
		if !ok {
			query = append(query, nil)
			continue
		}
		rule, err := topicRule(in.Type, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "filter %s", in.Name)
		}
		query = append(query, []any{rule})
		used++
	}
	if used != len(filter) {
		return nil, errors.Errorf("event %s: filter names a non-indexed or unknown argument", ev.Name)
	}
	return abi.MakeTopics(query...)
}

func topicRule(t abi.Type, raw string) (any, error) {
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return nil, errors.Errorf("invalid address %q", raw)
		}
		return common.HexToAddress(raw), nil
	case abi.FixedBytesTy:
		return common.HexToHash(raw), nil
	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(raw, 0)
		if !ok {
			return nil, errors.Errorf("invalid integer %q", raw)
		}
		return n, nil
	case abi.BoolTy:
		return strconv.ParseBool(raw)
	default:
		return nil, errors.Errorf("unsupported indexed type %s", t.String())
	}
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
