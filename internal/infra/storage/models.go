package storage

import (
	"fmt"
	"time"

	"vexchange/internal/domain"

	"github.com/shopspring/decimal"
)

// orderModel is the row layout of the orders table.
// Decimals are kept as strings so no precision is lost in either driver.
type orderModel struct {
	ID               string  `gorm:"primaryKey;size:36"`
	Symbol           string  `gorm:"size:20;not null;index:idx_orders_symbol_status,priority:1"`
	Side             string  `gorm:"size:4;not null"`
	Kind             string  `gorm:"size:8;not null"`
	Price            *string `gorm:"size:40"`
	Quantity         string  `gorm:"size:40;not null"`
	Filled           string  `gorm:"size:40;not null"`
	Remaining        string  `gorm:"size:40;not null"`
	Status           string  `gorm:"size:20;not null;index:idx_orders_symbol_status,priority:2"`
	OwnerID          string  `gorm:"size:50;index"`
	ClientOrderID    string  `gorm:"size:100"`
	CreatedUnixMicro int64   `gorm:"column:created_unix_micro;not null;index"`
	UpdatedUnixMicro int64   `gorm:"column:updated_unix_micro;not null"`
	Version          int64   `gorm:"not null;default:1"`
}

func (orderModel) TableName() string { return "orders" }

// tradeModel is the row layout of the trades table. Rows are insert-only.
type tradeModel struct {
	ID                string `gorm:"primaryKey;size:36"`
	BuyOrderID        string `gorm:"size:36;not null;index"`
	SellOrderID       string `gorm:"size:36;not null;index"`
	Symbol            string `gorm:"size:20;not null;index"`
	Price             string `gorm:"size:40;not null"`
	Quantity          string `gorm:"size:40;not null"`
	ExecutedUnixMicro int64  `gorm:"column:executed_unix_micro;not null;index"`
}

func (tradeModel) TableName() string { return "trades" }

func toOrderModel(o *domain.Order) *orderModel {
	m := &orderModel{
		ID:               o.ID,
		Symbol:           o.Symbol,
		Side:             o.Side.String(),
		Kind:             o.Kind.String(),
		Quantity:         o.Quantity.String(),
		Filled:           o.Filled.String(),
		Remaining:        o.Remaining.String(),
		Status:           o.Status.String(),
		OwnerID:          o.OwnerID,
		ClientOrderID:    o.ClientOrderID,
		CreatedUnixMicro: o.CreatedAt.UnixMicro(),
		UpdatedUnixMicro: o.UpdatedAt.UnixMicro(),
		Version:          int64(o.Version),
	}
	if o.Price != nil {
		p := o.Price.String()
		m.Price = &p
	}
	return m
}

func (m *orderModel) toDomain() (*domain.Order, error) {
	side, err := domain.ParseSide(m.Side)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", m.ID, err)
	}
	kind, err := domain.ParseKind(m.Kind)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", m.ID, err)
	}
	status, err := domain.ParseStatus(m.Status)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", m.ID, err)
	}

	var d decimalReader
	o := &domain.Order{
		ID:            m.ID,
		Symbol:        m.Symbol,
		Side:          side,
		Kind:          kind,
		Quantity:      d.read("quantity", m.Quantity),
		Filled:        d.read("filled", m.Filled),
		Remaining:     d.read("remaining", m.Remaining),
		Status:        status,
		OwnerID:       m.OwnerID,
		ClientOrderID: m.ClientOrderID,
		CreatedAt:     time.UnixMicro(m.CreatedUnixMicro).UTC(),
		UpdatedAt:     time.UnixMicro(m.UpdatedUnixMicro).UTC(),
		Version:       uint64(m.Version),
	}
	if m.Price != nil {
		p := d.read("price", *m.Price)
		o.Price = &p
	}
	if d.err != nil {
		return nil, fmt.Errorf("order %s: %w", m.ID, d.err)
	}
	return o, nil
}

func toTradeModel(t *domain.Trade) *tradeModel {
	return &tradeModel{
		ID:                t.ID,
		BuyOrderID:        t.BuyOrderID,
		SellOrderID:       t.SellOrderID,
		Symbol:            t.Symbol,
		Price:             t.Price.String(),
		Quantity:          t.Quantity.String(),
		ExecutedUnixMicro: t.ExecutedAt.UnixMicro(),
	}
}

func (m *tradeModel) toDomain() (*domain.Trade, error) {
	var d decimalReader
	t := &domain.Trade{
		ID:          m.ID,
		BuyOrderID:  m.BuyOrderID,
		SellOrderID: m.SellOrderID,
		Symbol:      m.Symbol,
		Price:       d.read("price", m.Price),
		Quantity:    d.read("quantity", m.Quantity),
		ExecutedAt:  time.UnixMicro(m.ExecutedUnixMicro).UTC(),
	}
	if d.err != nil {
		return nil, fmt.Errorf("trade %s: %w", m.ID, d.err)
	}
	return t, nil
}

// decimalReader keeps the first parse error so a row can be decoded in one pass.
type decimalReader struct {
	err error
}

func (r *decimalReader) read(column, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("column %s: %w", column, err)
	}
	return v
}
