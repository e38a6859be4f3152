package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-saga/internal/service/inventory/domain"
)

func TestTransactor_RollbackUndoesWrites(t *testing.T) {
	store := NewInventoryStore(domain.InventoryRecord{WarehouseID: 1, ProductID: 10, Quantity: 5})
	ledger := NewReservationLedger()
	tx := NewTransactor()
	boom := errors.New("boom")

	err := tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, store.Adjust(ctx, 10, 1, -3))
		_, err := ledger.Insert(ctx, []domain.Reservation{{OrderID: 1, ProductID: 10, WarehouseID: 1, Quantity: 3, Status: domain.StatusReserved}})
		require.NoError(t, err)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(5), store.Quantity(10, 1))
	assert.Empty(t, ledger.All())
}

func TestTransactor_CommitKeepsWritesAndReleasesLocks(t *testing.T) {
	store := NewInventoryStore(domain.InventoryRecord{WarehouseID: 1, ProductID: 10, Quantity: 5})
	tx := NewTransactor()

	require.NoError(t, tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		if _, err := store.LockRecord(ctx, 10, 1); err != nil {
			return err
		}
		return store.Adjust(ctx, 10, 1, -2)
	}))
	assert.Equal(t, int64(3), store.Quantity(10, 1))

	// 锁已释放，第二个事务不会阻塞
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tx.WithinTransaction(ctx, func(ctx context.Context) error {
		_, err := store.LockRecord(ctx, 10, 1)
		return err
	}))
}

func TestTransactor_RowLockBlocksOtherTransactions(t *testing.T) {
	store := NewInventoryStore(domain.InventoryRecord{WarehouseID: 1, ProductID: 10, Quantity: 5})
	tx := NewTransactor()

	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
			if _, err := store.LockRecord(ctx, 10, 1); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		_, err := store.LockRecord(ctx, 10, 1)
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestTransactor_NestedJoinsOuter(t *testing.T) {
	store := NewInventoryStore(domain.InventoryRecord{WarehouseID: 1, ProductID: 10, Quantity: 5})
	tx := NewTransactor()

	err := tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, tx.WithinTransaction(ctx, func(ctx context.Context) error {
			return store.Adjust(ctx, 10, 1, -1)
		}))
		return errors.New("outer fails")
	})

	assert.Error(t, err)
	assert.Equal(t, int64(5), store.Quantity(10, 1))
}

func TestInventoryStore_AdjustNeverGoesNegative(t *testing.T) {
	store := NewInventoryStore(domain.InventoryRecord{WarehouseID: 1, ProductID: 10, Quantity: 2})

	assert.ErrorIs(t, store.Adjust(context.Background(), 10, 1, -3), domain.ErrNegativeStock)
	assert.ErrorIs(t, store.Adjust(context.Background(), 10, 9, 1), domain.ErrRecordNotFound)
	assert.Equal(t, int64(2), store.Quantity(10, 1))
}

func TestInventoryStore_TotalsAndWarehouses(t *testing.T) {
	store := NewInventoryStore(
		domain.InventoryRecord{WarehouseID: 3, ProductID: 10, Quantity: 1},
		domain.InventoryRecord{WarehouseID: 1, ProductID: 10, Quantity: 4},
		domain.InventoryRecord{WarehouseID: 2, ProductID: 11, Quantity: 9},
	)

	total, err := store.TotalAvailable(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	ids, err := store.WarehouseIDs(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestReservationLedger_UpdateStatusAndOrdering(t *testing.T) {
	ledger := NewReservationLedger()
	ctx := context.Background()
	rows, err := ledger.Insert(ctx, []domain.Reservation{
		{OrderID: 1, ProductID: 10, WarehouseID: 2, Quantity: 1, Status: domain.StatusReserved},
		{OrderID: 1, ProductID: 10, WarehouseID: 1, Quantity: 2, Status: domain.StatusReserved},
		{OrderID: 2, ProductID: 10, WarehouseID: 1, Quantity: 3, Status: domain.StatusReserved},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.NoError(t, ledger.UpdateStatus(ctx, []int64{rows[0].ID, rows[1].ID}, domain.StatusCommitted))

	byOrder, err := ledger.LockByOrder(ctx, 1)
	require.NoError(t, err)
	require.Len(t, byOrder, 2)
	assert.Equal(t, int64(1), byOrder[0].WarehouseID)
	assert.Equal(t, domain.StatusCommitted, byOrder[0].Status)
	assert.Equal(t, domain.StatusReserved, ledger.ByOrder(2)[0].Status)
}
