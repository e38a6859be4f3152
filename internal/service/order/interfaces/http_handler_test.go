package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"inventory-saga/internal/service/order/application"
	"inventory-saga/internal/service/order/domain"
	"inventory-saga/internal/service/order/domain/port"
	"inventory-saga/internal/service/order/infrastructure"
)

// stubInventory 按 available 决定库存是否充足，unreachable 时模拟传输失败
type stubInventory struct {
	available   int64
	unreachable bool
}

func (s *stubInventory) CheckStock(_ context.Context, _, quantity int64) (*port.StockAvailability, error) {
	if s.unreachable {
		return nil, fmt.Errorf("%w: connection refused", port.ErrTransport)
	}
	return &port.StockAvailability{Available: quantity <= s.available, TotalAvailable: s.available}, nil
}

func (s *stubInventory) ReserveStock(_ context.Context, _, quantity, _ int64) (*port.ReservationResult, error) {
	s.available -= quantity
	return &port.ReservationResult{Success: true, Warehouses: []string{"1"}}, nil
}

func (s *stubInventory) CommitStock(_ context.Context, _ int64) (*port.CommitResult, error) {
	return &port.CommitResult{Success: true, Packages: []port.DeliveryPackage{{WarehouseID: 1, WarehouseAddress: "1 Dock Rd, Lyon 69001", ProductID: 100, Quantity: 2}}}, nil
}

type nopCompensator struct{}

func (nopCompensator) PublishStockCompensation(context.Context, domain.StockCompensationRequested) error {
	return nil
}

func newMux(inv *stubInventory) *http.ServeMux {
	svc := application.NewOrderApplicationService(infrastructure.NewMemoryRepository(), time.Second, noop.NewTracerProvider().Tracer("test"), inv, nopCompensator{})
	mux := http.NewServeMux()
	NewOrderHandler(svc).RegisterRoutes(mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestOrderHandler_PlaceConfirmAndQuery(t *testing.T) {
	mux := newMux(&stubInventory{available: 5})

	rec := do(mux, http.MethodPost, "/place_order", `{"userId":"u1","productId":100,"quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var placed application.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))
	assert.True(t, placed.Success)
	assert.Equal(t, int64(1), placed.OrderID)

	rec = do(mux, http.MethodPost, "/confirm_order", `{"orderId":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var confirmed application.ConfirmOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirmed))
	assert.Equal(t, domain.StateProcessing, confirmed.State)
	assert.Len(t, confirmed.Packages, 1)

	rec = do(mux, http.MethodGet, "/order?orderId=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view application.OrderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, domain.StateProcessing, view.State)
	assert.Equal(t, []string{"1"}, view.Warehouses)
}

func TestOrderHandler_InsufficientStockIsStill200(t *testing.T) {
	mux := newMux(&stubInventory{available: 1})

	rec := do(mux, http.MethodPost, "/place_order", `{"userId":"u1","productId":100,"quantity":2}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var placed application.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))
	assert.False(t, placed.Success)
}

func TestOrderHandler_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		inv    *stubInventory
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid order", &stubInventory{available: 5}, http.MethodPost, "/place_order", `{"userId":"u1","productId":100,"quantity":0}`, http.StatusBadRequest},
		{"bad body", &stubInventory{}, http.MethodPost, "/place_order", `{bad`, http.StatusBadRequest},
		{"missing order id", &stubInventory{}, http.MethodPost, "/cancel_order", `{}`, http.StatusBadRequest},
		{"unknown order", &stubInventory{}, http.MethodPost, "/cancel_order", `{"orderId":9}`, http.StatusNotFound},
		{"unknown order query", &stubInventory{}, http.MethodGet, "/order?orderId=9", "", http.StatusNotFound},
		{"inventory unreachable", &stubInventory{unreachable: true}, http.MethodPost, "/place_order", `{"userId":"u1","productId":100,"quantity":1}`, http.StatusBadGateway},
		{"wrong method", &stubInventory{}, http.MethodGet, "/confirm_order", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(newMux(tt.inv), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestOrderHandler_InvalidTransitionIs409(t *testing.T) {
	mux := newMux(&stubInventory{available: 5})
	require.Equal(t, http.StatusOK, do(mux, http.MethodPost, "/place_order", `{"userId":"u1","productId":100,"quantity":2}`).Code)

	assert.Equal(t, http.StatusConflict, do(mux, http.MethodPost, "/report_shipment_lost", `{"orderId":1}`).Code)
	assert.Equal(t, http.StatusOK, do(mux, http.MethodPost, "/cancel_order", `{"orderId":1}`).Code)
	assert.Equal(t, http.StatusConflict, do(mux, http.MethodPost, "/advance_order", `{"orderId":1}`).Code)
}
