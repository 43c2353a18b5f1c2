package health

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
)

// HeaderClient is the part of an EVM client needed to check liveness.
type HeaderClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// RPCChecker checks the home and foreign chain endpoints.
type RPCChecker struct {
	clients map[string]HeaderClient
}

// NewRPCChecker creates a checker keyed by chain side.
func NewRPCChecker(clients map[string]HeaderClient) *RPCChecker {
	return &RPCChecker{clients: clients}
}

// Check pings every endpoint and returns per-side results.
func (c *RPCChecker) Check(ctx context.Context) map[string]error {
	out := make(map[string]error, len(c.clients))
	for side, cli := range c.clients {
		if _, err := cli.HeaderByNumber(ctx, big.NewInt(0)); err != nil {
			out[side] = fmt.Errorf("%s rpc: %w", side, err)
			continue
		}
		out[side] = nil
	}
	return out
}

// Ping checks all configured RPC endpoints and joins any failures.
func (c *RPCChecker) Ping(ctx context.Context) error {
	results := c.Check(ctx)
	sides := make([]string, 0, len(results))
	for side := range results {
		sides = append(sides, side)
	}
	sort.Strings(sides)

	var errs []error
	for _, side := range sides {
		if results[side] != nil {
			errs = append(errs, results[side])
		}
	}
	return errors.Join(errs...)
}
