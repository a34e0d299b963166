package blockchain

// States of the chain state machine.
const (
	StateStopped        = "STOPPED"
	StateLoading        = "LOADING"
	StateCatchingBlocks = "CATCHINGBLOCKS"
	StateRunning        = "RUNNING"
)

// Events of the chain state machine.
const (
	EventLoad    = "LOAD"
	EventCatchUp = "CATCHUP"
	EventRun     = "RUN"
	EventStop    = "STOP"
)
