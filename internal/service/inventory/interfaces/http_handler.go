// internal/service/inventory/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/service/inventory/application"
	"inventory-saga/internal/service/inventory/domain"
)

const serviceName = "inventory-service"

// InventoryHandler 暴露库存服务的 HTTP/JSON 接口。
// 业务失败返回 200 + success=false，只有基础设施错误返回 500。
type InventoryHandler struct {
	service *application.ReservationService
	tracer  trace.Tracer
}

func NewInventoryHandler(service *application.ReservationService) *InventoryHandler {
	return &InventoryHandler{service: service, tracer: otel.Tracer(serviceName)}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/check_stock", rpc(h, "CheckStock", h.service.CheckStock))
	mux.HandleFunc("/reserve_stock", rpc(h, "ReserveStock", h.service.ReserveStock))
	mux.HandleFunc("/commit_stock", rpc(h, "CommitStock", h.service.CommitStock))
	mux.HandleFunc("/rollback_stock", rpc(h, "RollbackStock", h.service.RollbackStock))
	mux.HandleFunc("/admin/seed_stock", admin(h, "SeedStock", h.service.SeedStock))
	mux.HandleFunc("/admin/seed_warehouse", admin(h, "SeedWarehouse", h.service.SeedWarehouse))
}

// rpc 把一个 (ctx, Req) -> (*Resp, error) 的服务方法包装成 POST JSON 接口
func rpc[Req, Resp any](h *InventoryHandler, name string, call func(context.Context, Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, serviceName+"."+name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			span.RecordError(err)
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		resp, err := call(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Ctx(ctx).Error().Err(err).Str("rpc", name).Msg("rpc failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(ctx, w, http.StatusOK, resp)
	}
}

// admin 包装运维写接口，成功返回 204，参数错误返回 400
func admin[Req any](h *InventoryHandler, name string, call func(context.Context, Req) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, serviceName+"."+name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := call(ctx, req); err != nil {
			if errors.Is(err, domain.ErrInvalidRequest) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			span.RecordError(err)
			logger.Ctx(ctx).Error().Err(err).Str("rpc", name).Msg("admin call failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to write response")
	}
}
