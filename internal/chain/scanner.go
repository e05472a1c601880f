package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

const scanParallelism = 4

// LatestPairs walks the factory's pair list backwards from the newest entry
// and returns up to count pools quoted against the wrapped native token,
// newest first. Pools that fail to answer are skipped.
func (c *Client) LatestPairs(ctx context.Context, count int) ([]domain.NewPair, error) {
	if count <= 0 {
		return nil, nil
	}
	out, err := c.call(ctx, c.factory, factoryABI, "allPairsLength")
	if err != nil {
		return nil, fmt.Errorf("chain: all pairs length: %w", err)
	}
	n, err := bigOut(out, 0)
	if err != nil {
		return nil, fmt.Errorf("chain: all pairs length: %w", err)
	}
	total := n.Uint64()
	start := uint64(0)
	if total > uint64(count) {
		start = total - uint64(count)
	}

	slots := make([]*domain.NewPair, total-start)
	now := time.Now().UTC()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanParallelism)
	for i := start; i < total; i++ {
		g.Go(func() error {
			p, ok := c.inspectPair(gctx, i, now)
			if ok {
				slots[i-start] = &p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pairs := make([]domain.NewPair, 0, len(slots))
	for i := len(slots) - 1; i >= 0; i-- {
		if slots[i] != nil {
			pairs = append(pairs, *slots[i])
		}
	}
	return pairs, nil
}

func (c *Client) inspectPair(ctx context.Context, index uint64, now time.Time) (domain.NewPair, bool) {
	out, err := c.call(ctx, c.factory, factoryABI, "allPairs", new(big.Int).SetUint64(index))
	if err != nil {
		return domain.NewPair{}, false
	}
	pair, err := addrOut(out)
	if err != nil {
		return domain.NewPair{}, false
	}
	var tokens [2]common.Address
	for i, m := range []string{"token0", "token1"} {
		out, err := c.call(ctx, pair, pairABI, m)
		if err != nil {
			return domain.NewPair{}, false
		}
		if tokens[i], err = addrOut(out); err != nil {
			return domain.NewPair{}, false
		}
	}
	var token common.Address
	switch c.wrapped {
	case tokens[0]:
		token = tokens[1]
	case tokens[1]:
		token = tokens[0]
	default:
		return domain.NewPair{}, false
	}
	return domain.NewPair{
		PairAddress: pair.Hex(),
		TokenID:     domain.NormalizeToken(token.Hex()),
		Index:       index,
		SeenAt:      now,
	}, true
}
