package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"vexchange/internal/domain"
	"vexchange/internal/infra"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Options tunes FillService. Zero fields fall back to DefaultOptions.
type Options struct {
	// OpTimeout bounds every single storage attempt.
	OpTimeout       time.Duration
	MaxAttempts     int
	RetryBase       time.Duration
	RetryMax        time.Duration
	MaxRetryElapsed time.Duration

	Clock   func() time.Time
	NewID   func() string
	Metrics *infra.Metrics
	Logger  *slog.Logger
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		OpTimeout:       2 * time.Second,
		MaxAttempts:     5,
		RetryBase:       10 * time.Millisecond,
		RetryMax:        500 * time.Millisecond,
		MaxRetryElapsed: 10 * time.Second,
		Clock:           time.Now,
		NewID:           uuid.NewString,
		Metrics:         infra.GlobalMetrics,
		Logger:          slog.Default(),
	}
}

// FillRequest is one execution reported by the matching collaborator:
// qty of OrderID traded against CounterpartOrderID at Price.
type FillRequest struct {
	OrderID            string
	CounterpartOrderID string
	Quantity           decimal.Decimal
	Price              decimal.Decimal
}

// FillResult holds the committed state after a fill.
type FillResult struct {
	Buy   *domain.Order
	Sell  *domain.Order
	Trade *domain.Trade
}

// FillService is the only component that mutates orders or creates trades.
// Safe for concurrent use; serialization per order is delegated to the repository.
type FillService struct {
	repo    domain.Repository
	opts    Options
	log     *slog.Logger
	metrics *infra.Metrics
}

// NewFillService creates a new FillService instance
func NewFillService(repo domain.Repository, opts Options) *FillService {
	def := DefaultOptions()
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = def.OpTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = def.RetryBase
	}
	if opts.RetryMax < opts.RetryBase {
		opts.RetryMax = max(def.RetryMax, opts.RetryBase)
	}
	if opts.MaxRetryElapsed <= 0 {
		opts.MaxRetryElapsed = def.MaxRetryElapsed
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	if opts.NewID == nil {
		opts.NewID = def.NewID
	}
	if opts.Metrics == nil {
		opts.Metrics = def.Metrics
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}

	return &FillService{
		repo:    repo,
		opts:    opts,
		log:     opts.Logger.With("component", "fill_service"),
		metrics: opts.Metrics,
	}
}

// ======================================================================================
// Mutations
// ======================================================================================

// SubmitOrder validates spec and persists a new OPEN order.
func (s *FillService) SubmitOrder(ctx context.Context, spec domain.OrderSpec) (*domain.Order, error) {
	start := time.Now()

	order, err := domain.NewOrder(s.opts.NewID(), spec, s.opts.Clock())
	if err != nil {
		return nil, err
	}

	attempt := 0
	err = s.withRetry(ctx, "submit order", func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			// An earlier attempt may have committed before timing out.
			if _, err := s.repo.GetOrder(ctx, order.ID); err == nil {
				return nil
			} else if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		return s.repo.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, s.fail("submit order", err, slog.String("symbol", spec.Symbol))
	}

	s.metrics.RecordOrderSubmitted()
	s.metrics.RecordLatency(time.Since(start))
	s.log.Info("📥 Order accepted",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.String("side", order.Side.String()),
		slog.String("kind", order.Kind.String()),
		slog.String("quantity", order.Quantity.String()),
	)
	return order, nil
}

// ApplyFill records one execution between two orders. Both orders and the
// trade are written in a single transaction or not at all.
func (s *FillService) ApplyFill(ctx context.Context, req FillRequest) (*FillResult, error) {
	start := time.Now()

	if req.OrderID == "" || req.CounterpartOrderID == "" {
		return nil, &domain.ValidationError{Field: "order_id", Err: errors.New("both order ids are required")}
	}
	if req.OrderID == req.CounterpartOrderID {
		err := domain.NewConsistencyError(req.OrderID, "order cannot be filled against itself")
		return nil, s.fail("apply fill", err, fillAttrs(req)...)
	}

	tradeID := s.opts.NewID()
	var result *FillResult

	attempt := 0
	err := s.withRetry(ctx, "apply fill", func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			done, err := s.loadCommittedFill(ctx, tradeID)
			if err != nil {
				return err
			}
			if done != nil {
				result = done
				return nil
			}
		}

		return s.repo.RunInTx(ctx, func(uow domain.UnitOfWork) error {
			locked, err := uow.LockOrders(ctx, req.OrderID, req.CounterpartOrderID)
			if err != nil {
				return err
			}

			res, err := s.fill(locked, req, tradeID)
			if err != nil {
				return err
			}

			// rows are already locked, write order does not matter
			if err := uow.UpdateOrder(ctx, res.Buy); err != nil {
				return err
			}
			if err := uow.UpdateOrder(ctx, res.Sell); err != nil {
				return err
			}
			if err := uow.CreateTrade(ctx, res.Trade); err != nil {
				return err
			}

			result = res
			return nil
		})
	})
	if err != nil {
		return nil, s.fail("apply fill", err, fillAttrs(req)...)
	}

	filled := 0
	for _, o := range []*domain.Order{result.Buy, result.Sell} {
		if o.Status == domain.StatusFilled {
			filled++
		}
	}
	s.metrics.RecordFill(filled)
	s.metrics.RecordLatency(time.Since(start))
	s.log.Info("✅ Fill applied",
		slog.String("trade_id", result.Trade.ID),
		slog.String("buy_order_id", result.Buy.ID),
		slog.String("sell_order_id", result.Sell.ID),
		slog.String("quantity", result.Trade.Quantity.String()),
		slog.String("price", result.Trade.Price.String()),
	)
	return result, nil
}

// fill checks the pair and applies the state machine to each order.
// The locked orders are only modified if every check passes.
func (s *FillService) fill(locked map[string]*domain.Order, req FillRequest, tradeID string) (*FillResult, error) {
	order, ok := locked[req.OrderID]
	if !ok {
		return nil, domain.NewNotFoundError(req.OrderID, "order")
	}
	counter, ok := locked[req.CounterpartOrderID]
	if !ok {
		return nil, domain.NewNotFoundError(req.CounterpartOrderID, "order")
	}

	for _, o := range []*domain.Order{order, counter} {
		if !o.Status.IsFillable() {
			return nil, domain.NewStateError(o.ID, "cannot fill order in status %s", o.Status)
		}
	}

	if order.Symbol != counter.Symbol {
		return nil, domain.NewConsistencyError(order.ID, "symbol %s does not match counterpart %s (%s)", order.Symbol, counter.ID, counter.Symbol)
	}
	if order.Side == counter.Side {
		return nil, domain.NewConsistencyError(order.ID, "counterpart %s is on the same side (%s)", counter.ID, order.Side)
	}
	if !req.Price.IsPositive() {
		return nil, domain.NewConsistencyError(order.ID, "fill price %s must be positive", req.Price)
	}

	buy, sell := order.Clone(), counter.Clone()
	if buy.Side == domain.SideSell {
		buy, sell = sell, buy
	}

	now := s.opts.Clock()
	if err := buy.ApplyFill(req.Quantity, now); err != nil {
		return nil, err
	}
	if err := sell.ApplyFill(req.Quantity, now); err != nil {
		return nil, err
	}

	trade, err := domain.NewTrade(tradeID, buy, sell, req.Quantity, req.Price, now)
	if err != nil {
		return nil, err
	}

	return &FillResult{Buy: buy, Sell: sell, Trade: trade}, nil
}

// loadCommittedFill returns the result of an earlier attempt that committed
// but did not report back, or nil if no such attempt exists.
func (s *FillService) loadCommittedFill(ctx context.Context, tradeID string) (*FillResult, error) {
	trade, err := s.repo.GetTrade(ctx, tradeID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	buy, err := s.repo.GetOrder(ctx, trade.BuyOrderID)
	if err != nil {
		return nil, err
	}
	sell, err := s.repo.GetOrder(ctx, trade.SellOrderID)
	if err != nil {
		return nil, err
	}
	return &FillResult{Buy: buy, Sell: sell, Trade: trade}, nil
}

// CancelOrder moves an OPEN or PARTIALLY_FILLED order to CANCELLED.
// If requesterID is set it must match the order's owner.
func (s *FillService) CancelOrder(ctx context.Context, orderID, requesterID string) (*domain.Order, error) {
	start := time.Now()
	var cancelled *domain.Order

	// version the last attempt tried to commit from; 0 until an update was sent
	var sentFrom uint64

	err := s.withRetry(ctx, "cancel order", func(ctx context.Context) error {
		return s.repo.RunInTx(ctx, func(uow domain.UnitOfWork) error {
			locked, err := uow.LockOrders(ctx, orderID)
			if err != nil {
				return err
			}
			order, ok := locked[orderID]
			if !ok {
				return domain.NewNotFoundError(orderID, "order")
			}
			if requesterID != "" && order.OwnerID != requesterID {
				return domain.NewAuthError(orderID, requesterID)
			}

			// An earlier attempt may have committed before its result was lost.
			if sentFrom != 0 && order.Status == domain.StatusCancelled && order.Version == sentFrom+1 {
				cancelled = order
				return nil
			}

			if err := order.Cancel(s.opts.Clock()); err != nil {
				return err
			}
			sentFrom = order.Version
			if err := uow.UpdateOrder(ctx, order); err != nil {
				return err
			}

			cancelled = order
			return nil
		})
	})
	if err != nil {
		return nil, s.fail("cancel order", err, slog.String("order_id", orderID))
	}

	s.metrics.RecordCancel()
	s.metrics.RecordLatency(time.Since(start))
	s.log.Info("🛑 Order cancelled",
		slog.String("order_id", orderID),
		slog.String("filled", cancelled.Filled.String()),
		slog.String("remaining", cancelled.Remaining.String()),
	)
	return cancelled, nil
}

// ======================================================================================
// Queries
// ======================================================================================

// GetOrder returns the committed state of an order.
func (s *FillService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var order *domain.Order
	err := s.withRetry(ctx, "get order", func(ctx context.Context) error {
		var err error
		order, err = s.repo.GetOrder(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.fail("get order", err, slog.String("order_id", id))
	}
	return order, nil
}

// GetTrade returns a trade by id.
func (s *FillService) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	var trade *domain.Trade
	err := s.withRetry(ctx, "get trade", func(ctx context.Context) error {
		var err error
		trade, err = s.repo.GetTrade(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.fail("get trade", err, slog.String("trade_id", id))
	}
	return trade, nil
}

// QueryOrders returns a page of orders, newest first unless filter.Ascending.
func (s *FillService) QueryOrders(ctx context.Context, filter domain.OrderFilter) (domain.Page[*domain.Order], error) {
	var page domain.Page[*domain.Order]

	limit, offset, err := domain.NormalizePage(filter.Limit, filter.Offset)
	if err != nil {
		return page, err
	}
	if err := domain.CheckRange(filter.From, filter.To); err != nil {
		return page, err
	}
	filter.Limit, filter.Offset = limit, offset
	filter.Symbol = strings.TrimSpace(filter.Symbol)

	err = s.withRetry(ctx, "query orders", func(ctx context.Context) error {
		var err error
		page, err = s.repo.ListOrders(ctx, filter)
		return err
	})
	if err != nil {
		return page, s.fail("query orders", err)
	}
	return page, nil
}

// QueryTrades returns a page of trades, newest first unless filter.Ascending.
func (s *FillService) QueryTrades(ctx context.Context, filter domain.TradeFilter) (domain.Page[*domain.Trade], error) {
	var page domain.Page[*domain.Trade]

	limit, offset, err := domain.NormalizePage(filter.Limit, filter.Offset)
	if err != nil {
		return page, err
	}
	if err := domain.CheckRange(filter.From, filter.To); err != nil {
		return page, err
	}
	filter.Limit, filter.Offset = limit, offset
	filter.Symbol = strings.TrimSpace(filter.Symbol)

	err = s.withRetry(ctx, "query trades", func(ctx context.Context) error {
		var err error
		page, err = s.repo.ListTrades(ctx, filter)
		return err
	})
	if err != nil {
		return page, s.fail("query trades", err)
	}
	return page, nil
}

// TradesForOrder returns every trade that involves orderID, oldest first.
func (s *FillService) TradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	var trades []*domain.Trade
	filter := domain.TradeFilter{OrderID: orderID, Limit: domain.MaxPageLimit, Ascending: true}
	for {
		page, err := s.QueryTrades(ctx, filter)
		if err != nil {
			return nil, err
		}
		trades = append(trades, page.Items...)
		if len(page.Items) < filter.Limit {
			return trades, nil
		}
		filter.Offset += len(page.Items)
	}
}

// OpenOrders returns the OPEN and PARTIALLY_FILLED orders of a symbol, oldest first.
func (s *FillService) OpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, &domain.ValidationError{Field: "symbol", Err: errors.New("must not be empty")}
	}

	var orders []*domain.Order
	filter := domain.OrderFilter{
		Symbol:    symbol,
		Statuses:  domain.OpenStatuses(),
		Limit:     domain.MaxPageLimit,
		Ascending: true,
	}
	for {
		page, err := s.QueryOrders(ctx, filter)
		if err != nil {
			return nil, err
		}
		orders = append(orders, page.Items...)
		if len(page.Items) < filter.Limit {
			return orders, nil
		}
		filter.Offset += len(page.Items)
	}
}

// VerifyOrder checks an order against its own invariants and against the
// trades recorded for it. A mismatch is reported as a consistency error.
func (s *FillService) VerifyOrder(ctx context.Context, orderID string) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := order.CheckInvariant(); err != nil {
		return s.fail("verify order", domain.NewConsistencyError(orderID, "%v", err))
	}

	trades, err := s.TradesForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	traded := decimal.Zero
	for _, t := range trades {
		traded = traded.Add(t.Quantity)
	}
	if !traded.Equal(order.Filled) {
		err := domain.NewConsistencyError(orderID, "filled %s but trades sum to %s", order.Filled, traded)
		return s.fail("verify order", err)
	}
	return nil
}

// ======================================================================================
// Retry
// ======================================================================================

// withRetry runs fn with a fresh deadline per attempt and retries retriable
// failures with exponential backoff. Exhausted retries become a TransientError.
func (s *FillService) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.opts.RetryBase,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         s.opts.RetryMax,
	}

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && !domain.IsRetriable(err) {
			// The attempt deadline fired outside the storage layer.
			err = domain.NewStorageError(op, err)
		}
		if !domain.IsRetriable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(s.opts.MaxRetryElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.metrics.RecordRetry()
			s.log.Warn("🔁 Retrying storage operation",
				slog.String("op", op),
				slog.Int("attempt", attempts),
				slog.Duration("backoff", next),
				slog.Any("error", err),
			)
		}),
	)
	if err == nil {
		return nil
	}

	// The last attempt is returned as-is, so permanent errors may still be wrapped.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	if domain.IsRetriable(err) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientError{Op: op, Attempts: attempts, Err: err}
	}
	return err
}

// fail logs and counts a failed operation and returns err unchanged.
func (s *FillService) fail(op string, err error, attrs ...any) error {
	attrs = append(attrs, slog.String("op", op), slog.Any("error", err))

	switch {
	case errors.Is(err, domain.ErrConsistency):
		s.metrics.RecordIntegrityViolation()
		s.metrics.RecordError()
		s.log.Error("🚨 Integrity violation", attrs...)
	case errors.Is(err, domain.ErrTransient):
		s.metrics.RecordTransient()
		s.metrics.RecordError()
		s.log.Error("⏳ Storage unavailable, retries exhausted", attrs...)
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrNotAuthorized):
		s.log.Debug("Request rejected", attrs...)
	default:
		s.metrics.RecordError()
		s.log.Error("❌ Operation failed", attrs...)
	}
	return err
}

func fillAttrs(req FillRequest) []any {
	return []any{
		slog.String("order_id", req.OrderID),
		slog.String("counterpart_order_id", req.CounterpartOrderID),
		slog.String("quantity", req.Quantity.String()),
		slog.String("price", req.Price.String()),
	}
}
