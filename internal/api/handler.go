package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"vexchange/internal/domain"
	"vexchange/internal/service"

	"github.com/gin-gonic/gin"
)

// OrderService is the subset of the fill-accounting service the HTTP layer calls.
type OrderService interface {
	SubmitOrder(ctx context.Context, spec domain.OrderSpec) (*domain.Order, error)
	ApplyFill(ctx context.Context, req service.FillRequest) (*service.FillResult, error)
	CancelOrder(ctx context.Context, orderID, requesterID string) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
	QueryOrders(ctx context.Context, filter domain.OrderFilter) (domain.Page[*domain.Order], error)
	QueryTrades(ctx context.Context, filter domain.TradeFilter) (domain.Page[*domain.Trade], error)
	TradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error)
	OpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error)
}

type Handler struct {
	service OrderService
}

func NewHandler(service OrderService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	orders := r.Group("/orders")
	{
		orders.POST("", h.CreateOrder)
		orders.GET("", h.ListOrders)
		orders.GET("/:id", h.GetOrder)
		orders.DELETE("/:id", h.CancelOrder)
		orders.GET("/:id/trades", h.OrderTrades)
	}

	trades := r.Group("/trades")
	{
		trades.GET("", h.ListTrades)
		trades.GET("/:id", h.GetTrade)
		trades.GET("/symbol/:symbol", h.SymbolTrades)
	}

	r.GET("/symbols/:symbol/open-orders", h.OpenOrders)
	r.POST("/fills", h.ApplyFill)
}

// ======================================================================================
// Orders
// ======================================================================================

func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err)
		return
	}
	spec, err := req.toSpec()
	if err != nil {
		writeError(c, err)
		return
	}

	order, err := h.service.SubmitOrder(c.Request.Context(), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResp(order))
}

func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.service.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResp(order))
}

func (h *Handler) ListOrders(c *gin.Context) {
	var q pageQuery
	if !q.bind(c) {
		return
	}
	filter := domain.OrderFilter{
		Symbol:  c.Query("symbol"),
		OwnerID: c.Query("user_id"),
		From:    q.from,
		To:      q.to,
		Limit:   q.limit,
		Offset:  q.offset,
	}
	if s := c.Query("status"); s != "" {
		status, err := domain.ParseStatus(s)
		if err != nil {
			badRequest(c, "status", err)
			return
		}
		filter.Statuses = []domain.Status{status}
	}

	page, err := h.service.QueryOrders(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := OrderListResp{
		Orders: make([]OrderResp, 0, len(page.Items)),
		Total:  page.Total,
		Page:   pageNumber(page.Limit, page.Offset),
		Size:   page.Limit,
	}
	for _, o := range page.Items {
		resp.Orders = append(resp.Orders, toOrderResp(o))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	var req CancelOrderReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "body", err)
			return
		}
	}
	if req.UserID == "" {
		req.UserID = c.Query("user_id")
	}

	order, err := h.service.CancelOrder(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, CancelOrderResp{
		OrderID:     order.ID,
		Status:      order.Status.String(),
		CancelledAt: order.UpdatedAt,
		Message:     "order cancelled",
	})
}

func (h *Handler) OrderTrades(c *gin.Context) {
	trades, err := h.service.TradesForOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]TradeResp, 0, len(trades))
	for _, t := range trades {
		resp = append(resp, toTradeResp(t))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) OpenOrders(c *gin.Context) {
	orders, err := h.service.OpenOrders(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]OrderResp, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResp(o))
	}
	c.JSON(http.StatusOK, resp)
}

// ======================================================================================
// Fills and Trades
// ======================================================================================

func (h *Handler) ApplyFill(c *gin.Context) {
	var req ApplyFillReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err)
		return
	}

	res, err := h.service.ApplyFill(c.Request.Context(), service.FillRequest{
		OrderID:            req.OrderID,
		CounterpartOrderID: req.CounterpartOrderID,
		Quantity:           req.Quantity,
		Price:              req.Price,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toFillResp(res))
}

func (h *Handler) GetTrade(c *gin.Context) {
	trade, err := h.service.GetTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTradeResp(trade))
}

func (h *Handler) ListTrades(c *gin.Context) {
	h.listTrades(c, c.Query("symbol"))
}

// SymbolTrades is ListTrades with the symbol taken from the path.
func (h *Handler) SymbolTrades(c *gin.Context) {
	h.listTrades(c, c.Param("symbol"))
}

func (h *Handler) listTrades(c *gin.Context, symbol string) {
	var q pageQuery
	if !q.bind(c) {
		return
	}

	page, err := h.service.QueryTrades(c.Request.Context(), domain.TradeFilter{
		Symbol:  symbol,
		OrderID: c.Query("order_id"),
		From:    q.from,
		To:      q.to,
		Limit:   q.limit,
		Offset:  q.offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := TradeListResp{
		Trades: make([]TradeResp, 0, len(page.Items)),
		Total:  page.Total,
		Page:   pageNumber(page.Limit, page.Offset),
		Size:   page.Limit,
	}
	for _, t := range page.Items {
		resp.Trades = append(resp.Trades, toTradeResp(t))
	}
	c.JSON(http.StatusOK, resp)
}

// ======================================================================================
// Query Parsing
// ======================================================================================

// pageQuery holds the paging and time-range parameters shared by list endpoints.
type pageQuery struct {
	limit, offset int
	from, to      time.Time
}

// bind parses the query string and writes a 400 on failure.
func (q *pageQuery) bind(c *gin.Context) bool {
	var err error
	if q.limit, err = intQuery(c, "limit"); err != nil {
		badRequest(c, "limit", err)
		return false
	}
	if q.offset, err = intQuery(c, "offset"); err != nil {
		badRequest(c, "offset", err)
		return false
	}
	if q.from, err = timeQuery(c, "start_time"); err != nil {
		badRequest(c, "start_time", err)
		return false
	}
	if q.to, err = timeQuery(c, "end_time"); err != nil {
		badRequest(c, "end_time", err)
		return false
	}
	return true
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", v)
	}
	if key == "limit" && n == 0 {
		return 0, errors.New("must be at least 1")
	}
	return n, nil
}

func timeQuery(c *gin.Context, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 time: %q", v)
	}
	return t, nil
}
