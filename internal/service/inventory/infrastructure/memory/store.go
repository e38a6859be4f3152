package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"inventory-saga/internal/service/inventory/domain"
)

type recordKey struct {
	productID   int64
	warehouseID int64
}

type recordRow struct {
	lock     *rowLock
	quantity int64
}

// InventoryStore 是 domain.InventoryStore 的内存实现
type InventoryStore struct {
	mu   sync.Mutex
	rows map[recordKey]*recordRow
}

func NewInventoryStore(records ...domain.InventoryRecord) *InventoryStore {
	s := &InventoryStore{rows: make(map[recordKey]*recordRow)}
	for _, r := range records {
		s.rows[recordKey{r.ProductID, r.WarehouseID}] = &recordRow{lock: newRowLock(), quantity: r.Quantity}
	}
	return s
}

func (s *InventoryStore) TotalAvailable(_ context.Context, productID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for k, row := range s.rows {
		if k.productID == productID {
			total += row.quantity
		}
	}
	return total, nil
}

func (s *InventoryStore) WarehouseIDs(_ context.Context, productID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for k := range s.rows {
		if k.productID == productID {
			ids = append(ids, k.warehouseID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *InventoryStore) row(productID, warehouseID int64) (*recordRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[recordKey{productID, warehouseID}]
	return row, ok
}

func (s *InventoryStore) LockRecord(ctx context.Context, productID, warehouseID int64) (domain.InventoryRecord, error) {
	row, ok := s.row(productID, warehouseID)
	if !ok {
		return domain.InventoryRecord{}, domain.ErrRecordNotFound
	}
	if t := txFrom(ctx); t != nil {
		if err := t.acquire(ctx, row.lock); err != nil {
			return domain.InventoryRecord{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.InventoryRecord{WarehouseID: warehouseID, ProductID: productID, Quantity: row.quantity}, nil
}

func (s *InventoryStore) Adjust(ctx context.Context, productID, warehouseID, delta int64) error {
	row, ok := s.row(productID, warehouseID)
	if !ok {
		return domain.ErrRecordNotFound
	}
	t := txFrom(ctx)
	if t != nil {
		// 与 UPDATE 语句一样，写入前隐式加行锁
		if err := t.acquire(ctx, row.lock); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if row.quantity+delta < 0 {
		return domain.ErrNegativeStock
	}
	row.quantity += delta
	if t != nil {
		t.onRollback(func() {
			s.mu.Lock()
			row.quantity -= delta
			s.mu.Unlock()
		})
	}
	return nil
}

func (s *InventoryStore) Seed(ctx context.Context, record domain.InventoryRecord) error {
	key := recordKey{record.ProductID, record.WarehouseID}
	row, ok := s.row(record.ProductID, record.WarehouseID)
	if !ok {
		s.mu.Lock()
		if row, ok = s.rows[key]; !ok {
			row = &recordRow{lock: newRowLock()}
			s.rows[key] = row
		}
		s.mu.Unlock()
	}
	t := txFrom(ctx)
	if t != nil {
		if err := t.acquire(ctx, row.lock); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := row.quantity
	row.quantity = record.Quantity
	if t != nil {
		t.onRollback(func() {
			s.mu.Lock()
			row.quantity = prev
			s.mu.Unlock()
		})
	}
	return nil
}

// Quantity 返回单条记录的当前数量，测试断言用
func (s *InventoryStore) Quantity(productID, warehouseID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[recordKey{productID, warehouseID}]; ok {
		return row.quantity
	}
	return 0
}

// ReservationLedger 是 domain.ReservationLedger 的内存实现
type ReservationLedger struct {
	mu         sync.Mutex
	nextID     int64
	rows       map[int64]*domain.Reservation
	orderLocks map[int64]*rowLock
	now        func() time.Time
}

func NewReservationLedger() *ReservationLedger {
	return &ReservationLedger{
		rows:       make(map[int64]*domain.Reservation),
		orderLocks: make(map[int64]*rowLock),
		now:        time.Now,
	}
}

func (l *ReservationLedger) Insert(ctx context.Context, reservations []domain.Reservation) ([]domain.Reservation, error) {
	t := txFrom(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Reservation, 0, len(reservations))
	for _, r := range reservations {
		l.nextID++
		r.ID = l.nextID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = l.now()
		}
		r.UpdatedAt = r.CreatedAt
		stored := r
		l.rows[r.ID] = &stored
		out = append(out, r)

		if t != nil {
			id := r.ID
			t.onRollback(func() {
				l.mu.Lock()
				delete(l.rows, id)
				l.mu.Unlock()
			})
		}
	}
	return out, nil
}

func (l *ReservationLedger) FindByOrder(_ context.Context, orderID int64) ([]domain.Reservation, error) {
	return l.ByOrder(orderID), nil
}

// LockByOrder 在事务中对订单加锁；不在事务中时只读取
func (l *ReservationLedger) LockByOrder(ctx context.Context, orderID int64) ([]domain.Reservation, error) {
	if t := txFrom(ctx); t != nil {
		l.mu.Lock()
		lock, ok := l.orderLocks[orderID]
		if !ok {
			lock = newRowLock()
			l.orderLocks[orderID] = lock
		}
		l.mu.Unlock()
		if err := t.acquire(ctx, lock); err != nil {
			return nil, err
		}
	}
	return l.ByOrder(orderID), nil
}

// ByOrder 返回订单的全部记录副本，按仓库 ID、记录 ID 升序
func (l *ReservationLedger) ByOrder(orderID int64) []domain.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Reservation
	for _, r := range l.rows {
		if r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b domain.Reservation) int {
		if c := cmp.Compare(a.WarehouseID, b.WarehouseID); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (l *ReservationLedger) UpdateStatus(ctx context.Context, ids []int64, status domain.ReservationStatus) error {
	t := txFrom(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		r, ok := l.rows[id]
		if !ok {
			continue
		}
		prev, prevAt := r.Status, r.UpdatedAt
		r.Status = status
		r.UpdatedAt = l.now()
		if t != nil {
			t.onRollback(func() {
				l.mu.Lock()
				r.Status, r.UpdatedAt = prev, prevAt
				l.mu.Unlock()
			})
		}
	}
	return nil
}

// All 返回全部记录，测试断言用
func (l *ReservationLedger) All() []domain.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Reservation, 0, len(l.rows))
	for _, r := range l.rows {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b domain.Reservation) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// WarehouseDirectory 是 domain.WarehouseDirectory 的内存实现
type WarehouseDirectory struct {
	mu         sync.RWMutex
	warehouses map[int64]domain.Warehouse
}

func NewWarehouseDirectory(warehouses ...domain.Warehouse) *WarehouseDirectory {
	d := &WarehouseDirectory{warehouses: make(map[int64]domain.Warehouse)}
	for _, w := range warehouses {
		d.warehouses[w.ID] = w
	}
	return d
}

func (d *WarehouseDirectory) Put(w domain.Warehouse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.warehouses[w.ID] = w
}

func (d *WarehouseDirectory) Save(_ context.Context, w domain.Warehouse) error {
	d.Put(w)
	return nil
}

func (d *WarehouseDirectory) Get(_ context.Context, warehouseID int64) (*domain.Warehouse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.warehouses[warehouseID]
	if !ok {
		return nil, domain.ErrWarehouseNotFound
	}
	return &w, nil
}

// ProductCatalog 是 domain.ProductCatalog 的内存实现
type ProductCatalog struct {
	mu       sync.RWMutex
	products map[int64]domain.Product
}

func NewProductCatalog(products ...domain.Product) *ProductCatalog {
	c := &ProductCatalog{products: make(map[int64]domain.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *ProductCatalog) Get(_ context.Context, productID int64) (*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

// EventRecorder 记录发布过的库存事件
type EventRecorder struct {
	mu     sync.Mutex
	events []domain.StockChanged
	Err    error // 非 nil 时 PublishStockChanged 返回该错误
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

func (r *EventRecorder) PublishStockChanged(_ context.Context, event domain.StockChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *EventRecorder) Events() []domain.StockChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}
