package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		sm.RegisterShutdownFunc(func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
	errA := errors.New("a")
	ran := false
	sm.RegisterShutdownFunc(func(context.Context) error { ran = true; return nil })
	sm.RegisterShutdownFunc(func(context.Context) error { return errA })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.True(t, ran)
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, 0)
	called := make(chan struct{}, 1)
	sm.RegisterShutdownFunc(func(context.Context) error {
		called <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	select {
	case <-called:
	default:
		t.Fatal("shutdown func not called")
	}
}
