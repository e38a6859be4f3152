package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder_Validates(t *testing.T) {
	_, err := NewOrder("", 1, 1)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = NewOrder("u1", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = NewOrder("u1", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	o, err := NewOrder("u1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, StatePending, o.State)
}

func TestOrder_Lifecycle(t *testing.T) {
	o, err := NewOrder("u1", 1, 2)
	require.NoError(t, err)

	assert.ErrorIs(t, o.Advance(), ErrInvalidTransition, "pending orders must be confirmed first")
	assert.False(t, o.InTransit())

	require.NoError(t, o.MarkAsProcessing())
	assert.True(t, o.InTransit())
	assert.ErrorIs(t, o.MarkAsProcessing(), ErrInvalidTransition)

	require.NoError(t, o.Advance())
	assert.Equal(t, StatePickedUp, o.State)
	require.NoError(t, o.Advance())
	assert.Equal(t, StateDelivering, o.State)
	assert.True(t, o.InTransit())
	require.NoError(t, o.Advance())
	assert.Equal(t, StateDelivered, o.State)

	assert.False(t, o.InTransit())
	assert.ErrorIs(t, o.Advance(), ErrInvalidTransition)
	assert.ErrorIs(t, o.Cancel(), ErrInvalidTransition)
}

func TestOrder_Cancel(t *testing.T) {
	o, err := NewOrder("u1", 1, 2)
	require.NoError(t, err)

	require.NoError(t, o.Cancel())
	assert.Equal(t, StateCancelled, o.State)
	assert.True(t, o.State.IsTerminal())
	assert.ErrorIs(t, o.Cancel(), ErrInvalidTransition)
}
