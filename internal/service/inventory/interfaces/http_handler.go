package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"marketplace/internal/pkg/logger"
	"marketplace/internal/service/inventory/application"
	"marketplace/internal/service/inventory/domain"
)

// InventoryHandler 封装了 inventory 服务的 HTTP 处理器
type InventoryHandler struct {
	coordinator *application.ReservationCoordinator
	reconciler  *application.StaleReservationReconciler
	carts       *application.CartService
	ledger      *application.StockLedger
	delivery    *application.DeliveryPolicyResolver
}

func NewInventoryHandler(
	coordinator *application.ReservationCoordinator,
	reconciler *application.StaleReservationReconciler,
	carts *application.CartService,
	ledger *application.StockLedger,
	delivery *application.DeliveryPolicyResolver,
) *InventoryHandler {
	return &InventoryHandler{
		coordinator: coordinator,
		reconciler:  reconciler,
		carts:       carts,
		ledger:      ledger,
		delivery:    delivery,
	}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /update_stock", h.handleUpdateStock)
	mux.HandleFunc("POST /rollback_stock", h.handleRollbackStock)
	mux.HandleFunc("POST /confirm_stock", h.handleConfirmStock)

	mux.HandleFunc("GET /cart", h.handleListCart)
	mux.HandleFunc("POST /cart/items", h.handlePutCartItem)
	mux.HandleFunc("DELETE /cart/items", h.handleRemoveCartItem)
	mux.HandleFunc("GET /checkout/preview", h.handleCheckoutPreview)

	mux.HandleFunc("POST /admin/reconcile", h.handleReconcile)
	mux.HandleFunc("POST /admin/stock", h.handleProvisionStock)
	mux.HandleFunc("POST /admin/delivery_policy", h.handleSaveDeliveryPolicy)
}

func (h *InventoryHandler) handleUpdateStock(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.ReserveCommand
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidRequest, "invalid request body"))
		return
	}
	resp, err := h.coordinator.Reserve(ctx, &req)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("reservation_id", req.ReservationID).Msg("update_stock rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *InventoryHandler) handleRollbackStock(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.RollbackCommand
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidRequest, "invalid request body"))
		return
	}
	resp, err := h.coordinator.Rollback(ctx, &req)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("reservation_id", req.ReservationID).Msg("rollback_stock failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *InventoryHandler) handleConfirmStock(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.ConfirmCommand
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidRequest, "invalid request body"))
		return
	}
	resp, err := h.coordinator.Confirm(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *InventoryHandler) handleListCart(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	lines, err := h.carts.ListCart(ctx, r.URL.Query().Get("member_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lines": lines})
}

func (h *InventoryHandler) handlePutCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var entry domain.CartEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidRequest, "invalid request body"))
		return
	}
	if err := h.carts.PutEntry(ctx, entry); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	q := r.URL.Query()
	var err error
	if optionID := q.Get("option_value_id"); optionID != "" {
		err = h.carts.RemoveEntry(ctx, q.Get("member_id"), optionID)
	} else {
		err = h.carts.Clear(ctx, q.Get("member_id"))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) handleCheckoutPreview(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	preview, err := h.carts.PreviewCheckout(ctx, r.URL.Query().Get("member_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *InventoryHandler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrSweepInProgress) {
			writeJSON(w, http.StatusConflict, errorBody{Code: "SWEEP_IN_PROGRESS", Message: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type provisionStockRequest struct {
	OptionID string `json:"option_value_id"`
	StoreID  string `json:"store_id"`
	Quantity int64  `json:"quantity"`
}

func (h *InventoryHandler) handleProvisionStock(w http.ResponseWriter, r *http.Request) {
	var req provisionStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidRequest, "invalid request body"))
		return
	}
	rec, err := h.ledger.Provision(r.Context(), req.OptionID, req.StoreID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, application.StockLevel{
		OptionID:          rec.OptionID,
		AvailableQuantity: rec.AvailableQuantity,
		Version:           rec.Version,
	})
}

func (h *InventoryHandler) handleSaveDeliveryPolicy(w http.ResponseWriter, r *http.Request) {
	var policy domain.DeliveryPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidRequest, "invalid request body"))
		return
	}
	if err := h.delivery.SavePolicy(r.Context(), &policy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	OptionID string `json:"option_id,omitempty"`
}

// statusOf 根据错误类型返回不同的 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrOutOfStock),
		errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrReservationNotFound),
		errors.Is(err, domain.ErrOptionNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrStoreNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		// POLICY_NOT_FOUND 属于配置缺陷，与其他未知错误一样返回 500
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody{
		Code:     domain.Code(err),
		Message:  err.Error(),
		OptionID: domain.OptionIDOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
