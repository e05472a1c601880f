package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/policy"
)

const statsPageSize = 500

// PnLService reports per-account profit and loss and engine-wide stats.
// Realized figures come from the store; unrealized ones price the open
// book from the price cache, falling back to the oracle.
type PnLService struct {
	book      *PositionBook
	positions domain.PositionStore
	accounts  domain.AccountStore
	cache     domain.PriceCache
	oracle    domain.PriceOracle
	logger    *slog.Logger
}

// NewPnLService creates a PnLService. cache and oracle may be nil.
func NewPnLService(book *PositionBook, positions domain.PositionStore, accounts domain.AccountStore, cache domain.PriceCache, oracle domain.PriceOracle, logger *slog.Logger) *PnLService {
	return &PnLService{
		book:      book,
		positions: positions,
		accounts:  accounts,
		cache:     cache,
		oracle:    oracle,
		logger:    logger.With(slog.String("component", "pnl")),
	}
}

// ProfitLoss returns realized and unrealized PnL for account. Open
// positions without any price are left out of the unrealized figure.
func (s *PnLService) ProfitLoss(ctx context.Context, account string) (domain.ProfitLoss, error) {
	out := domain.ProfitLoss{Account: account}
	err := s.eachPosition(ctx, func(opts domain.ListOpts) ([]domain.Position, error) {
		return s.positions.ListByAccount(ctx, account, opts)
	}, func(p domain.Position) {
		if !p.IsOpen() {
			out.Closed++
			out.Realized = out.Realized.Add(p.RealizedPnL)
		}
	})
	if err != nil {
		return domain.ProfitLoss{}, fmt.Errorf("pnl: %s: %w", account, err)
	}

	open := s.book.OpenByAccount(account)
	out.OpenPositions = len(open)
	prices := s.prices(ctx, open)
	for _, p := range open {
		price, ok := prices[p.TokenID]
		if !ok {
			continue
		}
		out.Unrealized = out.Unrealized.Add(policy.UnrealizedPnL(p, price))
	}
	out.Total = out.Realized.Add(out.Unrealized)
	return out, nil
}

func (s *PnLService) prices(ctx context.Context, open []domain.Position) map[string]decimal.Decimal {
	tokens := make([]string, 0, len(open))
	for _, p := range open {
		tokens = append(tokens, p.TokenID)
	}
	prices := map[string]decimal.Decimal{}
	if s.cache != nil && len(tokens) > 0 {
		cached, err := s.cache.GetPrices(ctx, tokens)
		if err != nil {
			s.logger.WarnContext(ctx, "pnl: price cache read failed", slog.String("error", err.Error()))
		}
		for k, v := range cached {
			prices[k] = v
		}
	}
	if s.oracle == nil {
		return prices
	}
	for _, t := range tokens {
		if _, ok := prices[t]; ok {
			continue
		}
		price, err := s.oracle.Price(ctx, t)
		if err != nil {
			s.logger.DebugContext(ctx, "pnl: price unavailable", slog.String("token", t), slog.String("error", err.Error()))
			continue
		}
		prices[t] = price
	}
	return prices
}

// Stats aggregates every account and position.
func (s *PnLService) Stats(ctx context.Context) (domain.BotStats, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return domain.BotStats{}, fmt.Errorf("pnl: stats accounts: %w", err)
	}
	st := domain.BotStats{
		TotalAccounts: len(accounts),
		ExitsByReason: map[string]int{},
	}
	sumPct := decimal.Zero
	err = s.eachPosition(ctx, func(opts domain.ListOpts) ([]domain.Position, error) {
		return s.positions.List(ctx, opts)
	}, func(p domain.Position) {
		st.TotalPositions++
		if p.IsOpen() {
			st.OpenPositions++
			return
		}
		st.ClosedPositions++
		st.ExitsByReason[string(p.ExitReason)]++
		st.TotalFees = st.TotalFees.Add(p.ExitFee)
		st.RealizedPnL = st.RealizedPnL.Add(p.RealizedPnL)
		if p.RealizedPnL.IsPositive() {
			st.Profitable++
		}
		sumPct = sumPct.Add(policy.ProfitPct(p))
	})
	if err != nil {
		return domain.BotStats{}, fmt.Errorf("pnl: stats positions: %w", err)
	}
	if st.ClosedPositions > 0 {
		closed := decimal.NewFromInt(int64(st.ClosedPositions))
		st.SuccessRatePct = decimal.NewFromInt(int64(st.Profitable)).Mul(decimal.NewFromInt(100)).Div(closed).Round(2)
		st.AvgProfitPct = sumPct.Div(closed).Round(2)
	}
	return st, nil
}

// eachPosition walks every row page by page, resuming each page after the
// last row seen so positions opened mid-walk are neither skipped nor
// visited twice.
func (s *PnLService) eachPosition(ctx context.Context, page func(domain.ListOpts) ([]domain.Position, error), visit func(domain.Position)) error {
	opts := domain.ListOpts{Limit: statsPageSize}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := page(opts)
		if err != nil {
			return err
		}
		for _, p := range batch {
			visit(p)
		}
		if len(batch) < statsPageSize {
			return nil
		}
		last := batch[len(batch)-1]
		opts.After = &domain.Cursor{At: last.OpenedAt, ID: last.ID}
	}
}
