package blockchain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_NewFiniteStateMachine(t *testing.T) {
	ctx := context.Background()
	tc := newTestChain(t, nil, nil)

	fsm := tc.cs.NewFiniteStateMachine()
	require.NotNil(t, fsm)
	require.Equal(t, StateStopped, fsm.Current())
	require.True(t, fsm.Can(EventLoad))
	require.False(t, fsm.Can(EventRun))

	t.Run("Transition from Stopped to Loading", func(t *testing.T) {
		err := fsm.Event(ctx, EventLoad)
		require.NoError(t, err)
		require.Equal(t, StateLoading, fsm.Current())
		require.True(t, fsm.Can(EventCatchUp))
		require.True(t, fsm.Can(EventRun))
		require.True(t, fsm.Can(EventStop))
	})

	t.Run("Transition from Loading to Catching blocks", func(t *testing.T) {
		err := fsm.Event(ctx, EventCatchUp)
		require.NoError(t, err)
		require.Equal(t, StateCatchingBlocks, fsm.Current())
		require.False(t, fsm.Can(EventLoad))
	})

	t.Run("Transition from Catching blocks to Running", func(t *testing.T) {
		err := fsm.Event(ctx, EventRun)
		require.NoError(t, err)
		require.Equal(t, StateRunning, fsm.Current())

		// running is latched
		require.Error(t, fsm.Event(ctx, EventCatchUp))
		require.Equal(t, StateRunning, fsm.Current())
	})

	t.Run("Transition from Running to Stopped", func(t *testing.T) {
		err := fsm.Event(ctx, EventStop)
		require.NoError(t, err)
		require.Equal(t, StateStopped, fsm.Current())
		require.True(t, fsm.Can(EventLoad))
	})
}

func TestChainStateStop(t *testing.T) {
	tc := newTestChain(t, nil, nil)

	require.Equal(t, StateRunning, tc.cs.State())
	require.NoError(t, tc.cs.Stop())
	require.Equal(t, StateStopped, tc.cs.State())
	require.Error(t, tc.cs.Stop())
}
