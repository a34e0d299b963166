package blockchain

import (
	"context"

	"github.com/looplab/fsm"
)

// NewFiniteStateMachine creates the state machine of the chain state.
// The finite state machine has the following states:
// - Stopped
// - Loading: the index is read or rebuilt
// - CatchingBlocks: initial block download
// - Running: the tip is recent; staking and relay are allowed
// Running is final until Stop: leaving initial download is latched.
func (cs *ChainState) NewFiniteStateMachine(opts ...func(*fsm.FSM)) *fsm.FSM {
	finiteStateMachine := fsm.NewFSM(
		StateStopped,
		fsm.Events{
			{
				Name: EventLoad,
				Src:  []string{StateStopped},
				Dst:  StateLoading,
			},
			{
				Name: EventCatchUp,
				Src:  []string{StateLoading},
				Dst:  StateCatchingBlocks,
			},
			{
				Name: EventRun,
				Src: []string{
					StateLoading,
					StateCatchingBlocks,
				},
				Dst: StateRunning,
			},
			{
				Name: EventStop,
				Src: []string{
					StateLoading,
					StateCatchingBlocks,
					StateRunning,
				},
				Dst: StateStopped,
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				cs.logger.Infof("[chain] state %s -> %s", e.Src, e.Dst)
			},
		},
	)

	// apply options
	for _, opt := range opts {
		opt(finiteStateMachine)
	}

	return finiteStateMachine
}

func (cs *ChainState) fsmEvent(event string) error {
	return cs.fsm.Event(context.Background(), event)
}

// State returns the current state machine state.
func (cs *ChainState) State() string {
	return cs.fsm.Current()
}

// Stop moves the state machine to stopped.
func (cs *ChainState) Stop() error {
	return cs.fsmEvent(EventStop)
}
