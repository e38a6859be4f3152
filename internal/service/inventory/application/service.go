// internal/service/inventory/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/pkg/metrics"
	"inventory-saga/internal/service/inventory/domain"
)

// ReservationService 负责库存的预占、确认与回滚。
// 每个写操作都在一个事务内完成，库存事件只在事务提交后发布。
type ReservationService struct {
	store      domain.InventoryStore
	ledger     domain.ReservationLedger
	warehouses domain.WarehouseDirectory
	products   domain.ProductCatalog
	publisher  domain.EventPublisher
	tx         domain.Transactor
	locker     domain.OrderLocker
	tracer     trace.Tracer
	now        func() time.Time
}

type Option func(*ReservationService)

// WithOrderLocker 替换默认的进程内订单锁，多实例部署时使用 ZooKeeper 实现
func WithOrderLocker(locker domain.OrderLocker) Option {
	return func(s *ReservationService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ReservationService) { s.now = now }
}

func NewReservationService(store domain.InventoryStore, ledger domain.ReservationLedger, warehouses domain.WarehouseDirectory, products domain.ProductCatalog, publisher domain.EventPublisher, tx domain.Transactor, tracer trace.Tracer, opts ...Option) *ReservationService {
	s := &ReservationService{
		store: store, ledger: ledger,
		warehouses: warehouses, products: products,
		publisher: publisher, tx: tx, tracer: tracer,
		locker: NewLocalOrderLocker(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckStock 只读查询，不加锁
func (s *ReservationService) CheckStock(ctx context.Context, req CheckStockRequest) (*CheckStockResponse, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CheckStock")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", req.ProductID), attribute.Int64("quantity", req.Quantity))

	total, err := s.store.TotalAvailable(ctx, req.ProductID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to sum stock")
		return nil, err
	}
	return &CheckStockResponse{
		Available:      total >= req.Quantity,
		TotalAvailable: total,
	}, nil
}

// ReserveStock 按仓库 ID 升序贪心分配并预占库存，要么全部成功要么不留下任何写入。
func (s *ReservationService) ReserveStock(ctx context.Context, req ReserveStockRequest) (*ReserveStockResponse, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.ReserveStock")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.id", req.OrderID),
		attribute.Int64("product.id", req.ProductID),
		attribute.Int64("quantity", req.Quantity),
	)

	start := time.Now()
	defer func() { metrics.ReservationDuration.Observe(time.Since(start).Seconds()) }()

	if err := validateReserve(req); err != nil {
		return s.reserveRejected(ctx, span, req, err)
	}

	// 1. 同一订单同一商品的重复请求直接返回已有结果（不加锁的读取）
	rows, err := s.ledger.FindByOrder(ctx, req.OrderID)
	if err != nil {
		return s.reserveRejected(ctx, span, req, err)
	}
	if warehouses, ok, err := replayReservation(rows, req); err != nil {
		return s.reserveRejected(ctx, span, req, err)
	} else if ok {
		return s.reserveReplayed(span, warehouses), nil
	}

	// 2. 快速检查：总量不足时不加锁、不写入
	total, err := s.store.TotalAvailable(ctx, req.ProductID)
	if err != nil {
		return s.reserveRejected(ctx, span, req, err)
	}
	if total < req.Quantity {
		return s.reserveRejected(ctx, span, req, domain.ErrInsufficientStock)
	}

	// 3. 写路径才持有订单锁
	unlock, err := s.locker.Lock(ctx, req.OrderID)
	if err != nil {
		return s.reserveRejected(ctx, span, req, err)
	}
	defer unlock()

	// 4. 事务内按升序锁定、分配、扣减并写入预占记录
	var plan domain.AllocationPlan
	var replayed []int64
	err = s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		// 并发的同单请求可能已经在锁外完成了预占
		rows, err := s.ledger.LockByOrder(txCtx, req.OrderID)
		if err != nil {
			return err
		}
		if warehouses, ok, err := replayReservation(rows, req); err != nil {
			return err
		} else if ok {
			replayed = warehouses
			return nil
		}

		ids, err := s.store.WarehouseIDs(txCtx, req.ProductID)
		if err != nil {
			return err
		}
		records, err := domain.AcquireInOrder(txCtx, ids, func(ctx context.Context, warehouseID int64) (domain.InventoryRecord, error) {
			return s.store.LockRecord(ctx, req.ProductID, warehouseID)
		})
		if err != nil {
			return err
		}

		stock := make([]domain.WarehouseStock, 0, len(records))
		for _, r := range records {
			stock = append(stock, domain.WarehouseStock{WarehouseID: r.WarehouseID, Available: r.Quantity})
		}
		plan = domain.Allocate(req.Quantity, stock)
		if !plan.Covers(req.Quantity) {
			return domain.ErrReservationRace
		}

		now := s.now()
		reservations := make([]domain.Reservation, 0, len(plan))
		for _, a := range plan {
			if err := s.store.Adjust(txCtx, req.ProductID, a.WarehouseID, -a.Quantity); err != nil {
				return err
			}
			reservations = append(reservations, domain.Reservation{
				OrderID:     req.OrderID,
				ProductID:   req.ProductID,
				WarehouseID: a.WarehouseID,
				Quantity:    a.Quantity,
				Status:      domain.StatusReserved,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		_, err = s.ledger.Insert(txCtx, reservations)
		return err
	})
	if err != nil {
		return s.reserveRejected(ctx, span, req, err)
	}
	if replayed != nil {
		return s.reserveReplayed(span, replayed), nil
	}

	// 5. 事务已提交，按仓库逐个发布库存事件
	for _, warehouseID := range plan.WarehouseIDs() {
		s.publishStockChanged(ctx, req.ProductID, warehouseID)
	}

	metrics.ReservationOutcomes.WithLabelValues("success").Inc()
	span.AddEvent("Stock reserved", trace.WithAttributes(attribute.Int64Slice("warehouses", plan.WarehouseIDs())))
	logger.Ctx(ctx).Info().
		Int64("order_id", req.OrderID).
		Int64("product_id", req.ProductID).
		Ints64("warehouses", plan.WarehouseIDs()).
		Msg("✅ stock reserved")

	return &ReserveStockResponse{
		Success:                true,
		ReservedFromWarehouses: toWarehouseStrings(plan.WarehouseIDs()),
		Message:                "stock reserved",
	}, nil
}

func (s *ReservationService) reserveReplayed(span trace.Span, warehouses []int64) *ReserveStockResponse {
	metrics.ReservationOutcomes.WithLabelValues("replay").Inc()
	span.AddEvent("Reservation replayed")
	return &ReserveStockResponse{
		Success:                true,
		ReservedFromWarehouses: toWarehouseStrings(warehouses),
		Message:                "stock already reserved",
	}
}

// replayReservation 在订单已有记录中查找该商品的预占。数量不一致或已回滚时拒绝。
func replayReservation(rows []domain.Reservation, req ReserveStockRequest) ([]int64, bool, error) {
	var held int64
	var warehouses []int64
	for _, r := range rows {
		if r.ProductID != req.ProductID {
			continue
		}
		if r.Status == domain.StatusRolledBack {
			return nil, false, domain.ErrAlreadyRolledBack
		}
		held += r.Quantity
		warehouses = append(warehouses, r.WarehouseID)
	}
	if len(warehouses) == 0 {
		return nil, false, nil
	}
	if held != req.Quantity {
		return nil, false, fmt.Errorf("%w: order %d already holds %d units of product %d", domain.ErrInvalidRequest, req.OrderID, held, req.ProductID)
	}
	return warehouses, true, nil
}

func (s *ReservationService) reserveRejected(ctx context.Context, span trace.Span, req ReserveStockRequest, err error) (*ReserveStockResponse, error) {
	outcome := "rejected"
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		outcome = "insufficient"
	case errors.Is(err, domain.ErrReservationRace):
		outcome = "race"
	case errors.Is(err, domain.ErrInvalidRequest):
		outcome = "invalid"
	case !domain.IsBusinessFailure(err):
		metrics.ReservationOutcomes.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "reservation failed")
		logger.Ctx(ctx).Error().Err(err).Int64("order_id", req.OrderID).Msg("reservation failed")
		return nil, err
	}

	metrics.ReservationOutcomes.WithLabelValues(outcome).Inc()
	span.AddEvent("Reservation rejected", trace.WithAttributes(attribute.String("reason", err.Error())))
	logger.Ctx(ctx).Info().
		Int64("order_id", req.OrderID).
		Int64("product_id", req.ProductID).
		Int64("quantity", req.Quantity).
		Str("outcome", outcome).
		Msg(err.Error())
	return &ReserveStockResponse{Success: false, ReservedFromWarehouses: []string{}, Message: err.Error()}, nil
}

// CommitStock 确认订单的全部预占。先校验所有仓库地址，全部通过后才修改状态。
func (s *ReservationService) CommitStock(ctx context.Context, req CommitStockRequest) (*CommitStockResponse, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CommitStock")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", req.OrderID))

	if req.OrderID <= 0 {
		return s.commitRejected(ctx, span, req, fmt.Errorf("%w: orderId must be positive", domain.ErrInvalidRequest))
	}

	unlock, err := s.locker.Lock(ctx, req.OrderID)
	if err != nil {
		return s.commitRejected(ctx, span, req, err)
	}
	defer unlock()

	var packages []domain.DeliveryPackage
	var products []int64
	replay := false
	err = s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		rows, err := s.ledger.LockByOrder(txCtx, req.OrderID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return domain.ErrReservationNotFound
		}

		var pending []int64
		for _, r := range rows {
			switch r.Status {
			case domain.StatusRolledBack:
				return domain.ErrAlreadyRolledBack
			case domain.StatusReserved:
				pending = append(pending, r.ID)
			}
		}

		packages, err = s.buildPackages(txCtx, rows)
		if err != nil {
			return err
		}
		products = distinctProducts(rows)

		if len(pending) == 0 {
			replay = true
			return nil
		}
		return s.ledger.UpdateStatus(txCtx, pending, domain.StatusCommitted)
	})
	if err != nil {
		return s.commitRejected(ctx, span, req, err)
	}

	if replay {
		metrics.CommitOutcomes.WithLabelValues("replay").Inc()
		return &CommitStockResponse{Success: true, DeliveryPackages: toPackageDTOs(packages), Message: "stock already committed"}, nil
	}

	for _, productID := range products {
		s.publishStockChanged(ctx, productID, 0)
	}
	metrics.CommitOutcomes.WithLabelValues("committed").Inc()
	logger.Ctx(ctx).Info().Int64("order_id", req.OrderID).Int("packages", len(packages)).Msg("✅ stock committed")

	return &CommitStockResponse{Success: true, DeliveryPackages: toPackageDTOs(packages), Message: "stock committed"}, nil
}

// buildPackages 为每条预占记录组装发货包裹，遇到第一个无效仓库即返回
func (s *ReservationService) buildPackages(ctx context.Context, rows []domain.Reservation) ([]domain.DeliveryPackage, error) {
	cache := make(map[int64]*domain.Warehouse)
	packages := make([]domain.DeliveryPackage, 0, len(rows))
	for _, r := range rows {
		wh, ok := cache[r.WarehouseID]
		if !ok {
			var err error
			wh, err = s.warehouses.Get(ctx, r.WarehouseID)
			if errors.Is(err, domain.ErrWarehouseNotFound) {
				return nil, &domain.WarehouseAddressError{WarehouseID: r.WarehouseID}
			}
			if err != nil {
				return nil, err
			}
			if missing := wh.Address.Missing(); len(missing) > 0 {
				return nil, &domain.WarehouseAddressError{WarehouseID: r.WarehouseID, Missing: missing}
			}
			cache[r.WarehouseID] = wh
		}
		packages = append(packages, domain.DeliveryPackage{
			WarehouseID:      r.WarehouseID,
			WarehouseAddress: wh.Address.String(),
			ProductID:        r.ProductID,
			Quantity:         r.Quantity,
		})
	}
	return packages, nil
}

func (s *ReservationService) commitRejected(ctx context.Context, span trace.Span, req CommitStockRequest, err error) (*CommitStockResponse, error) {
	if !domain.IsBusinessFailure(err) {
		metrics.CommitOutcomes.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		logger.Ctx(ctx).Error().Err(err).Int64("order_id", req.OrderID).Msg("commit failed")
		return nil, err
	}

	metrics.CommitOutcomes.WithLabelValues("rejected").Inc()
	span.AddEvent("Commit rejected", trace.WithAttributes(attribute.String("reason", err.Error())))
	logger.Ctx(ctx).Warn().Int64("order_id", req.OrderID).Msg(err.Error())
	return &CommitStockResponse{Success: false, DeliveryPackages: []DeliveryPackage{}, Message: err.Error()}, nil
}

// RollbackStock 把订单仍占用的库存归还到原仓库，并把记录标记为 ROLLED_BACK。
// 对已回滚的订单重复调用不会重复归还。
func (s *ReservationService) RollbackStock(ctx context.Context, req RollbackStockRequest) (*RollbackStockResponse, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.RollbackStock")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", req.OrderID))

	if req.OrderID <= 0 {
		return s.rollbackRejected(ctx, span, req, fmt.Errorf("%w: orderId must be positive", domain.ErrInvalidRequest))
	}

	unlock, err := s.locker.Lock(ctx, req.OrderID)
	if err != nil {
		return s.rollbackRejected(ctx, span, req, err)
	}
	defer unlock()

	var products []int64
	err = s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		rows, err := s.ledger.LockByOrder(txCtx, req.OrderID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return domain.ErrReservationNotFound
		}

		byProduct := make(map[int64][]domain.Reservation)
		var ids []int64
		for _, r := range rows {
			if !r.Status.Live() {
				continue
			}
			byProduct[r.ProductID] = append(byProduct[r.ProductID], r)
			ids = append(ids, r.ID)
		}
		if len(ids) == 0 {
			return domain.ErrAlreadyRolledBack
		}

		products = sortedKeys(byProduct)
		for _, productID := range products {
			live := byProduct[productID]
			warehouseIDs := make([]int64, 0, len(live))
			for _, r := range live {
				warehouseIDs = append(warehouseIDs, r.WarehouseID)
			}
			if _, err := domain.AcquireInOrder(txCtx, warehouseIDs, func(ctx context.Context, warehouseID int64) (domain.InventoryRecord, error) {
				return s.store.LockRecord(ctx, productID, warehouseID)
			}); err != nil {
				return err
			}
			for _, r := range live {
				if err := s.store.Adjust(txCtx, r.ProductID, r.WarehouseID, r.Quantity); err != nil {
					return err
				}
			}
		}
		return s.ledger.UpdateStatus(txCtx, ids, domain.StatusRolledBack)
	})
	if err != nil {
		return s.rollbackRejected(ctx, span, req, err)
	}

	for _, productID := range products {
		s.publishStockChanged(ctx, productID, 0)
	}
	metrics.RollbackOutcomes.WithLabelValues("rolled_back").Inc()
	logger.Ctx(ctx).Info().Int64("order_id", req.OrderID).Msg("↩️ stock rolled back")

	return &RollbackStockResponse{RolledBack: true, Message: "stock rolled back"}, nil
}

func (s *ReservationService) rollbackRejected(ctx context.Context, span trace.Span, req RollbackStockRequest, err error) (*RollbackStockResponse, error) {
	outcome := "rejected"
	switch {
	case errors.Is(err, domain.ErrReservationNotFound):
		outcome = "not_found"
	case errors.Is(err, domain.ErrAlreadyRolledBack):
		outcome = "already_rolled_back"
	case !domain.IsBusinessFailure(err):
		metrics.RollbackOutcomes.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "rollback failed")
		logger.Ctx(ctx).Error().Err(err).Int64("order_id", req.OrderID).Msg("rollback failed")
		return nil, err
	}

	metrics.RollbackOutcomes.WithLabelValues(outcome).Inc()
	logger.Ctx(ctx).Info().Int64("order_id", req.OrderID).Str("outcome", outcome).Msg(err.Error())
	return &RollbackStockResponse{RolledBack: false, Message: err.Error()}, nil
}

// SeedStock 写入一条库存记录并发布变更事件
func (s *ReservationService) SeedStock(ctx context.Context, req SeedStockRequest) error {
	ctx, span := s.tracer.Start(ctx, "inventory.SeedStock")
	defer span.End()

	if req.ProductID <= 0 || req.WarehouseID <= 0 || req.Quantity < 0 {
		return fmt.Errorf("%w: productId and warehouseId must be positive, quantity non-negative", domain.ErrInvalidRequest)
	}
	err := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		return s.store.Seed(txCtx, domain.InventoryRecord{
			WarehouseID: req.WarehouseID,
			ProductID:   req.ProductID,
			Quantity:    req.Quantity,
		})
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.publishStockChanged(ctx, req.ProductID, req.WarehouseID)
	return nil
}

// SeedWarehouse 登记或更新仓库信息。地址允许不完整，提交出库时才会校验。
func (s *ReservationService) SeedWarehouse(ctx context.Context, req SeedWarehouseRequest) error {
	ctx, span := s.tracer.Start(ctx, "inventory.SeedWarehouse")
	defer span.End()

	if req.WarehouseID <= 0 {
		return fmt.Errorf("%w: warehouseId must be positive", domain.ErrInvalidRequest)
	}
	err := s.warehouses.Save(ctx, domain.Warehouse{
		ID:   req.WarehouseID,
		Name: req.Name,
		Address: domain.Address{
			Line:    req.Address,
			City:    req.City,
			ZipCode: req.ZipCode,
		},
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	logger.Ctx(ctx).Info().Int64("warehouse_id", req.WarehouseID).Msg("🏭 warehouse registered")
	return nil
}

// publishStockChanged 尽力发布库存事件，失败只记录日志。
// 调用方的 ctx 可能已经取消，事件仍然需要发出。
func (s *ReservationService) publishStockChanged(ctx context.Context, productID, warehouseID int64) {
	ctx = context.WithoutCancel(ctx)
	log := logger.Ctx(ctx)

	total, err := s.store.TotalAvailable(ctx, productID)
	if err != nil {
		metrics.StockEventsPublished.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Int64("product_id", productID).Msg("cannot read total stock for event")
		return
	}

	product := domain.Product{ID: productID}
	if p, err := s.products.Get(ctx, productID); err == nil {
		product = *p
	} else if !errors.Is(err, domain.ErrProductNotFound) {
		log.Warn().Err(err).Int64("product_id", productID).Msg("product lookup failed, publishing without details")
	}

	event := domain.StockChanged{
		ProductID:   productID,
		WarehouseID: warehouseID,
		TotalStock:  total,
		Product:     product,
		OccurredAt:  s.now(),
	}
	if err := s.publisher.PublishStockChanged(ctx, event); err != nil {
		metrics.StockEventsPublished.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Int64("product_id", productID).Msg("⚠️ failed to publish stock event")
		return
	}
	metrics.StockEventsPublished.WithLabelValues("ok").Inc()
}

func validateReserve(req ReserveStockRequest) error {
	switch {
	case req.Quantity <= 0:
		return fmt.Errorf("%w: invalid quantity %d", domain.ErrInvalidRequest, req.Quantity)
	case req.ProductID <= 0:
		return fmt.Errorf("%w: productId must be positive", domain.ErrInvalidRequest)
	case req.OrderID <= 0:
		return fmt.Errorf("%w: orderId must be positive", domain.ErrInvalidRequest)
	}
	return nil
}

func distinctProducts(rows []domain.Reservation) []int64 {
	ids := make([]int64, 0, 1)
	for _, r := range rows {
		ids = append(ids, r.ProductID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func sortedKeys(m map[int64][]domain.Reservation) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
