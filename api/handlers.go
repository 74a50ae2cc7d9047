/*
handlers.go - HTTP API handlers for the point-of-sale engine

PURPOSE:
  Exposes the sale, void, catalog and stock ledger operations via REST.
  Handles HTTP request/response and JSON serialization, and delegates
  everything else to pos.Engine. The shop and acting user always come
  from the verified token, never from the request body.

ENDPOINTS:
  Products:
    GET    /api/products              List (?category=&search=&include_inactive=)
    POST   /api/products              Create (manager)
    GET    /api/products/{id}         Get
    PUT    /api/products/{id}         Update (manager)
    DELETE /api/products/{id}         Deactivate (manager)

  Sales:
    POST   /api/sales                 Create sale
    GET    /api/sales/{id}            Get sale with items
    POST   /api/sales/{id}/void       Void (manager)
    GET    /api/sales/summary         Daily summary (?date=YYYY-MM-DD)

  Stock:
    POST   /api/stock/adjustments     Manual movement (manager)
    GET    /api/stock/movements       Ledger page (?product_id=&type=&from=&to=&page=&limit=)
    GET    /api/stock/alerts          Low stock buckets
    GET    /api/stock/audit           Ledger discrepancies (manager)

  Usage:
    GET    /api/usage                 Monthly counters (?month=YYYY-MM)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Product or sale not found
  - 409: Sale already voided or not voidable
  - 422: Insufficient stock or payment, with structured details
  - 500: Internal errors, including exhausted commit retries
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/pos-engine/pos"
	"github.com/warp/pos-engine/usage"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *pos.Engine
	Usage  pos.UsageStore
	Ping   func(ctx context.Context) error
	Log    zerolog.Logger
}

// NewHandler creates a new handler around engine.
func NewHandler(engine *pos.Engine, usage pos.UsageStore, log zerolog.Logger) *Handler {
	return &Handler{Engine: engine, Usage: usage, Log: log}
}

// Health reports liveness and, when configured, database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	q := r.URL.Query()
	includeInactive, _ := strconv.ParseBool(q.Get("include_inactive"))

	products, err := h.Engine.ListProducts(r.Context(), id.ShopID, pos.ProductFilter{
		Category:        q.Get("category"),
		Search:          q.Get("search"),
		IncludeInactive: includeInactive,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTOs(products))
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	product, err := h.Engine.GetProduct(r.Context(), id.ShopID, pos.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*product))
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req CreateProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	trackStock := true
	if req.TrackStock != nil {
		trackStock = *req.TrackStock
	}

	product, err := h.Engine.CreateProduct(r.Context(), pos.CreateProductInput{
		ShopID:     id.ShopID,
		UserID:     id.UserID,
		Name:       req.Name,
		Barcode:    req.Barcode,
		Category:   req.Category,
		CostPrice:  req.CostPrice,
		SellPrice:  req.SellPrice,
		Quantity:   req.Quantity,
		ReorderAt:  req.ReorderAt,
		TrackStock: trackStock,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(*product))
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req UpdateProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	product, err := h.Engine.UpdateProduct(r.Context(), pos.UpdateProductInput{
		ShopID:     id.ShopID,
		UserID:     id.UserID,
		ProductID:  pos.ProductID(chi.URLParam(r, "id")),
		Name:       req.Name,
		Barcode:    req.Barcode,
		Category:   req.Category,
		CostPrice:  req.CostPrice,
		SellPrice:  req.SellPrice,
		ReorderAt:  req.ReorderAt,
		TrackStock: req.TrackStock,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*product))
}

func (h *Handler) DeactivateProduct(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	product, err := h.Engine.DeactivateProduct(r.Context(), id.ShopID, pos.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*product))
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// CreateSale commits a cart as a sale.
// POST /api/sales
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req CreateSaleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := pos.CreateSaleInput{
		ShopID:        id.ShopID,
		UserID:        id.UserID,
		CustomerID:    pos.CustomerID(req.CustomerID),
		PaymentMethod: pos.PaymentMethod(strings.ToUpper(req.PaymentMethod)),
		AmountPaid:    req.AmountPaid,
		Discount:      req.Discount,
		Items:         make([]pos.CartLine, len(req.Items)),
	}
	for i, line := range req.Items {
		in.Items[i] = pos.CartLine{
			ProductID: pos.ProductID(line.ProductID),
			Quantity:  line.Quantity,
			Discount:  line.Discount,
		}
	}

	sale, err := h.Engine.CreateSale(r.Context(), in)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(*sale))
}

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	sale, err := h.Engine.GetSale(r.Context(), id.ShopID, pos.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// VoidSale voids a completed sale and returns its stock.
// POST /api/sales/{id}/void
func (h *Handler) VoidSale(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req VoidSaleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sale, err := h.Engine.VoidSale(r.Context(), pos.VoidSaleInput{
		SaleID: pos.SaleID(chi.URLParam(r, "id")),
		ShopID: id.ShopID,
		UserID: id.UserID,
		Reason: req.Reason,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// GetDailySummary returns totals for one shop-local day.
// GET /api/sales/summary?date=2025-03-10
func (h *Handler) GetDailySummary(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	var date time.Time
	if s := r.URL.Query().Get("date"); s != "" {
		parsed, err := time.ParseInLocation("2006-01-02", s, h.Engine.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
			return
		}
		date = parsed
	}

	summary, err := h.Engine.GetDailySummary(r.Context(), id.ShopID, date)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDailySummaryDTO(*summary))
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// AdjustStock records a manual stock movement.
// POST /api/stock/adjustments
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req AdjustStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.Engine.AdjustStock(r.Context(), pos.AdjustStockInput{
		ShopID:    id.ShopID,
		UserID:    id.UserID,
		ProductID: pos.ProductID(req.ProductID),
		Type:      pos.MovementType(strings.ToUpper(req.Type)),
		Delta:     req.Quantity,
		Reference: req.Reference,
		Note:      req.Note,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(*entry))
}

// ListMovements returns one page of the stock ledger, newest first.
// GET /api/stock/movements
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	q := r.URL.Query()

	filter := pos.MovementFilter{
		ProductID: pos.ProductID(q.Get("product_id")),
		Type:      pos.MovementType(strings.ToUpper(q.Get("type"))),
	}

	var err error
	if filter.Page, err = queryInt(q.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return
	}
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if filter.From, err = h.queryTime(q.Get("from"), false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	}
	if filter.To, err = h.queryTime(q.Get("to"), true); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return
	}

	page, err := h.Engine.GetMovements(r.Context(), id.ShopID, filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dto := MovementPageDTO{
		Entries:    make([]MovementDTO, len(page.Entries)),
		Total:      page.Total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: page.TotalPages,
	}
	for i, e := range page.Entries {
		dto.Entries[i] = toMovementDTO(e)
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) GetLowStockAlerts(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	report, err := h.Engine.GetLowStockAlerts(r.Context(), id.ShopID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LowStockDTO{
		OutOfStock: toProductDTOs(report.OutOfStock),
		Critical:   toProductDTOs(report.Critical),
		Low:        toProductDTOs(report.Low),
		Count:      report.Count(),
	})
}

func (h *Handler) AuditLedger(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	discrepancies, err := h.Engine.AuditLedger(r.Context(), id.ShopID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]DiscrepancyDTO, len(discrepancies))
	for i, d := range discrepancies {
		dtos[i] = DiscrepancyDTO{
			ProductID:   string(d.ProductID),
			ProductName: d.ProductName,
			Quantity:    d.Quantity,
			LedgerTotal: d.LedgerTotal,
			Drift:       d.Drift(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// USAGE HANDLERS
// =============================================================================

// GetUsage returns the shop's usage counters for a month.
// GET /api/usage?month=2025-03
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	month := r.URL.Query().Get("month")
	if month == "" {
		month = usage.PeriodFor(h.Engine.Now(), h.Engine.Location)
	} else if _, err := time.Parse("2006-01", month); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month, expected YYYY-MM", err)
		return
	}

	counters, err := h.Usage.GetUsage(r.Context(), id.ShopID, month)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dto := UsageDTO{Month: month, Counters: make(map[string]int, len(counters))}
	for metric, n := range counters {
		dto.Counters[string(metric)] = n
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func identity(r *http.Request) Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// queryTime accepts RFC3339 or a shop-local date. A date used as an upper
// bound means the end of that day.
func (h *Handler) queryTime(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, h.Engine.Location)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *pos.ValidationError
		notFound   *pos.ProductNotFoundError
		stock      *pos.InsufficientStockError
		payment    *pos.InsufficientPaymentError
	)

	switch {
	case errors.As(err, &stock):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: stock.Error(),
			Code:  "INSUFFICIENT_STOCK",
			Details: StockErrorDTO{
				ProductID:   string(stock.ProductID),
				ProductName: stock.ProductName,
				Available:   stock.Available,
				Requested:   stock.Requested,
			},
		})
	case errors.As(err, &payment):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: payment.Error(),
			Code:  "INSUFFICIENT_PAYMENT",
			Details: PaymentErrorDTO{
				Required:  payment.Required,
				Received:  payment.Received,
				Shortfall: payment.Shortfall(),
			},
		})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: validation.Error(),
			Code:  "INVALID_INPUT",
			Field: validation.Field,
		})
	case errors.As(err, &notFound):
		missing := make([]string, len(notFound.Missing))
		for i, id := range notFound.Missing {
			missing[i] = string(id)
		}
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   notFound.Error(),
			Code:    "PRODUCT_NOT_FOUND",
			Details: map[string][]string{"missing": missing},
		})
	case errors.Is(err, pos.ErrSaleNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "SALE_NOT_FOUND"})
	case errors.Is(err, pos.ErrAlreadyVoided):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "ALREADY_VOIDED"})
	case errors.Is(err, pos.ErrSaleNotVoidable):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "NOT_VOIDABLE"})
	case pos.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case pos.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		h.Log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}
