package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"vexchange/internal/domain"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and tunes the backing database.
type Options struct {
	Driver        string // sqlite (default) or postgres
	DSN           string // file path for sqlite, connection string for postgres
	MaxOpenConns  int
	SlowThreshold time.Duration
	Logger        *slog.Logger
}

// Storage implements domain.Repository on top of gorm.
type Storage struct {
	db     *gorm.DB
	driver string
}

var _ domain.Repository = (*Storage)(nil)

// NewStorage opens the database and migrates the schema.
func NewStorage(opts Options) (*Storage, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "", DriverSQLite:
		opts.Driver = DriverSQLite
		path := opts.DSN
		if path == "" {
			p, err := getDBPath()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve DB path: %w", err)
			}
			path = p
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create DB directory: %w", err)
			}
		}
		dialector = sqlite.Open(sqliteDSN(path))
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, errors.New("postgres driver requires a DSN")
		}
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.Driver)
	}

	cfg := &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	}
	if opts.Logger != nil {
		cfg.Logger = logger.NewSlogLogger(opts.Logger, logger.Config{
			SlowThreshold:             opts.SlowThreshold,
			IgnoreRecordNotFoundError: true,
			LogLevel:                  logger.Warn,
		})
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if opts.Driver == DriverSQLite {
		// SQLite has a single writer. One connection turns lock contention into
		// queueing on the pool, which honours the caller's deadline.
		sqlDB.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return &Storage{db: db, driver: opts.Driver}, nil
}

// Migrate creates or updates the orders and trades tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&orderModel{}, &tradeModel{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database answers within ctx.
func (s *Storage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// getDBPath resolves the default database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "Vexchange", "data", "vexchange.db"), nil
}

// ======================================================================================
// Order Operations
// ======================================================================================

// CreateOrder inserts a new order row.
func (s *Storage) CreateOrder(ctx context.Context, order *domain.Order) error {
	if err := s.db.WithContext(ctx).Create(toOrderModel(order)).Error; err != nil {
		return classify("create order", err)
	}
	return nil
}

// GetOrder returns the committed state of an order.
func (s *Storage) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var m orderModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFoundError(id, "order")
	}
	if err != nil {
		return nil, classify("get order", err)
	}
	return m.toDomain()
}

// ListOrders returns one page of orders matching filter plus the total match count.
func (s *Storage) ListOrders(ctx context.Context, filter domain.OrderFilter) (domain.Page[*domain.Order], error) {
	page := domain.Page[*domain.Order]{Limit: filter.Limit, Offset: filter.Offset}

	q := s.db.WithContext(ctx).Model(&orderModel{})
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.OwnerID != "" {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if len(filter.Statuses) > 0 {
		names := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			names[i] = st.String()
		}
		q = q.Where("status IN ?", names)
	}
	if !filter.From.IsZero() {
		q = q.Where("created_unix_micro >= ?", filter.From.UnixMicro())
	}
	if !filter.To.IsZero() {
		q = q.Where("created_unix_micro <= ?", filter.To.UnixMicro())
	}

	if err := q.Count(&page.Total).Error; err != nil {
		return page, classify("count orders", err)
	}

	var rows []orderModel
	err := q.Order(orderBy("created_unix_micro", filter.Ascending)).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error
	if err != nil {
		return page, classify("list orders", err)
	}

	page.Items = make([]*domain.Order, 0, len(rows))
	for i := range rows {
		o, err := rows[i].toDomain()
		if err != nil {
			return page, domain.NewFatalStorageError("decode order", err)
		}
		page.Items = append(page.Items, o)
	}
	return page, nil
}

// ======================================================================================
// Trade Operations
// ======================================================================================

// GetTrade returns a trade by id.
func (s *Storage) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	var m tradeModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFoundError(id, "trade")
	}
	if err != nil {
		return nil, classify("get trade", err)
	}
	return m.toDomain()
}

// ListTrades returns one page of trades matching filter plus the total match count.
func (s *Storage) ListTrades(ctx context.Context, filter domain.TradeFilter) (domain.Page[*domain.Trade], error) {
	page := domain.Page[*domain.Trade]{Limit: filter.Limit, Offset: filter.Offset}

	q := s.db.WithContext(ctx).Model(&tradeModel{})
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.OrderID != "" {
		q = q.Where("buy_order_id = ? OR sell_order_id = ?", filter.OrderID, filter.OrderID)
	}
	if !filter.From.IsZero() {
		q = q.Where("executed_unix_micro >= ?", filter.From.UnixMicro())
	}
	if !filter.To.IsZero() {
		q = q.Where("executed_unix_micro <= ?", filter.To.UnixMicro())
	}

	if err := q.Count(&page.Total).Error; err != nil {
		return page, classify("count trades", err)
	}

	var rows []tradeModel
	err := q.Order(orderBy("executed_unix_micro", filter.Ascending)).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error
	if err != nil {
		return page, classify("list trades", err)
	}

	page.Items = make([]*domain.Trade, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toDomain()
		if err != nil {
			return page, domain.NewFatalStorageError("decode trade", err)
		}
		page.Items = append(page.Items, t)
	}
	return page, nil
}

// orderBy sorts on a time column with the primary key as tie-breaker.
func orderBy(column string, ascending bool) string {
	if ascending {
		return column + " ASC, id ASC"
	}
	return column + " DESC, id DESC"
}

// ======================================================================================
// Transactions
// ======================================================================================

// RunInTx runs fn inside one database transaction.
func (s *Storage) RunInTx(ctx context.Context, fn func(uow domain.UnitOfWork) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&unitOfWork{tx: tx, lockRows: s.driver != DriverSQLite})
	})
	if err == nil {
		return nil
	}

	// Errors produced by fn are already typed; only raw driver errors need classifying.
	var se *domain.StorageError
	var oe *domain.OrderError
	var ve *domain.ValidationError
	if errors.As(err, &se) || errors.As(err, &oe) || errors.As(err, &ve) {
		return err
	}
	return classify("transaction", err)
}

type unitOfWork struct {
	tx       *gorm.DB
	lockRows bool
}

// LockOrders loads each order with SELECT ... FOR UPDATE in ascending id order.
// On SQLite the whole database is already held by the single writer connection.
func (u *unitOfWork) LockOrders(ctx context.Context, ids ...string) (map[string]*domain.Order, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	out := make(map[string]*domain.Order, len(sorted))
	for _, id := range sorted {
		if _, seen := out[id]; seen {
			continue
		}

		q := u.tx.WithContext(ctx)
		if u.lockRows {
			q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
		}

		var m orderModel
		err := q.Where("id = ?", id).Limit(1).Find(&m).Error
		if err != nil {
			return nil, classify("lock order", err)
		}
		if m.ID == "" {
			continue
		}

		o, err := m.toDomain()
		if err != nil {
			return nil, domain.NewFatalStorageError("decode order", err)
		}
		out[id] = o
	}
	return out, nil
}

// UpdateOrder writes the mutable columns if the stored version still matches.
func (u *unitOfWork) UpdateOrder(ctx context.Context, order *domain.Order) error {
	next := order.Version + 1
	res := u.tx.WithContext(ctx).
		Model(&orderModel{}).
		Where("id = ? AND version = ?", order.ID, int64(order.Version)).
		Updates(map[string]any{
			"filled":             order.Filled.String(),
			"remaining":          order.Remaining.String(),
			"status":             order.Status.String(),
			"updated_unix_micro": order.UpdatedAt.UnixMicro(),
			"version":            int64(next),
		})
	if res.Error != nil {
		return classify("update order", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NewStorageError("update order "+order.ID, domain.ErrConflict)
	}
	order.Version = next
	return nil
}

// CreateTrade inserts an immutable trade row.
func (u *unitOfWork) CreateTrade(ctx context.Context, trade *domain.Trade) error {
	if err := u.tx.WithContext(ctx).Create(toTradeModel(trade)).Error; err != nil {
		return classify("create trade", err)
	}
	return nil
}

// ======================================================================================
// Error Classification
// ======================================================================================

// SQLite primary result codes that indicate contention.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// Postgres SQLSTATEs worth another attempt.
var retriablePgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// classify wraps a driver error in a StorageError, marking contention and
// deadline failures as retriable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewFatalStorageError(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrConflict) {
		return domain.NewStorageError(op, err)
	}

	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return domain.NewStorageError(op, err)
		}
		return domain.NewFatalStorageError(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if retriablePgCodes[pgErr.Code] {
			return domain.NewStorageError(op, err)
		}
		return domain.NewFatalStorageError(op, err)
	}

	if pgconn.Timeout(err) {
		return domain.NewStorageError(op, err)
	}
	return domain.NewFatalStorageError(op, err)
}
