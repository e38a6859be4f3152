package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/service/order/application"
	"inventory-saga/internal/service/order/domain"
	"inventory-saga/internal/service/order/domain/port"
)

const serviceName = "order-service"

// OrderHandler 封装了 order 服务的 HTTP 处理器
type OrderHandler struct {
	service *application.OrderApplicationService
	tracer  trace.Tracer
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(service *application.OrderApplicationService) *OrderHandler {
	return &OrderHandler{service: service, tracer: otel.Tracer(serviceName)}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/place_order", h.placeOrder)
	mux.HandleFunc("/confirm_order", h.byOrderID("ConfirmOrder", func(ctx context.Context, id int64) (any, error) {
		return h.service.ConfirmOrder(ctx, id)
	}))
	mux.HandleFunc("/advance_order", h.byOrderID("AdvanceOrder", func(ctx context.Context, id int64) (any, error) {
		return h.service.AdvanceOrder(ctx, id)
	}))
	mux.HandleFunc("/report_shipment_lost", h.byOrderID("ReportShipmentLost", func(ctx context.Context, id int64) (any, error) {
		return h.service.ReportShipmentLost(ctx, id)
	}))
	mux.HandleFunc("/cancel_order", h.byOrderID("CancelOrder", func(ctx context.Context, id int64) (any, error) {
		return h.service.CancelOrder(ctx, id)
	}))
	mux.HandleFunc("/order", h.getOrder)
}

func (h *OrderHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	if !allowPost(w, r) {
		return
	}
	ctx, span := h.startSpan(r, "PlaceOrder")
	defer span.End()

	var req application.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("user.id", req.UserID),
		attribute.Int64("product.id", req.ProductID),
		attribute.Int64("quantity", req.Quantity),
	)

	resp, err := h.service.PlaceOrder(ctx, &req)
	if err != nil {
		h.writeError(ctx, w, span, "PlaceOrder", err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

func (h *OrderHandler) byOrderID(name string, call func(ctx context.Context, orderID int64) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowPost(w, r) {
			return
		}
		ctx, span := h.startSpan(r, name)
		defer span.End()

		var req application.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID <= 0 {
			http.Error(w, "orderId is required", http.StatusBadRequest)
			return
		}
		span.SetAttributes(attribute.Int64("order.id", req.OrderID))

		resp, err := call(ctx, req.OrderID)
		if err != nil {
			h.writeError(ctx, w, span, name, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, resp)
	}
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "GetOrder")
	defer span.End()

	id, err := strconv.ParseInt(r.URL.Query().Get("orderId"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "orderId is required", http.StatusBadRequest)
		return
	}
	resp, err := h.service.GetOrder(ctx, id)
	if err != nil {
		h.writeError(ctx, w, span, "GetOrder", err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

func (h *OrderHandler) startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return h.tracer.Start(ctx, serviceName+"."+name, trace.WithSpanKind(trace.SpanKindServer))
}

func (h *OrderHandler) writeError(ctx context.Context, w http.ResponseWriter, span trace.Span, name string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, port.ErrTransport):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		logger.Ctx(ctx).Error().Err(err).Str("rpc", name).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}

func allowPost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost {
		return true
	}
	w.Header().Set("Allow", http.MethodPost)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to write response")
	}
}
