package legacy

import (
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/services/legacy/wire"
)

// Known spork ids. A spork whose value is a unix time in the past is
// active.
const (
	SporkSwiftTx                  int32 = 10001
	SporkSwiftTxBlockFilter       int32 = 10002
	SporkMaxValue                 int32 = 10004
	SporkZerocoinMaintenanceMode  int32 = 10016
	SporkNewProtocolEnforcement   int32 = 10013
	sporkDefaultOff               int64 = 4070908800
	sporkMaxFutureSkew                  = time.Hour
	sporkBanScoreInvalidSignature       = 100
)

var sporkDefaults = map[int32]int64{
	SporkSwiftTx:                 sporkDefaultOff,
	SporkSwiftTxBlockFilter:      sporkDefaultOff,
	SporkMaxValue:                1000,
	SporkNewProtocolEnforcement:  sporkDefaultOff,
	SporkZerocoinMaintenanceMode: sporkDefaultOff,
}

// SporkManager keeps the newest valid spork per id.
type SporkManager struct {
	pubKey []byte

	mu     sync.RWMutex
	active map[int32]*wire.MsgSpork
	byHash map[chainhash.Hash]*wire.MsgSpork
}

func NewSporkManager(pubKey []byte) *SporkManager {
	return &SporkManager{
		pubKey: pubKey,
		active: make(map[int32]*wire.MsgSpork),
		byHash: make(map[chainhash.Hash]*wire.MsgSpork),
	}
}

// Process validates msg and keeps it if it is newer than the spork held
// for its id. It reports whether the spork is new and should be relayed.
// A bad signature returns a reject error carrying a ban score.
func (sm *SporkManager) Process(msg *wire.MsgSpork) (bool, error) {
	if time.Unix(msg.TimeSigned, 0).After(time.Now().Add(sporkMaxFutureSkew)) {
		return false, errors.NewRejectError(errors.ERR_NETWORK_MESSAGE_INVALID, uint8(wire.RejectInvalid), 0,
			"spork %d signed in the future", msg.ID)
	}

	sm.mu.RLock()
	current, found := sm.active[msg.ID]
	sm.mu.RUnlock()

	if found && current.TimeSigned >= msg.TimeSigned {
		return false, nil
	}

	if !msg.Verify(sm.pubKey) {
		return false, errors.NewRejectError(errors.ERR_NETWORK_PEER_MISBEHAVING, uint8(wire.RejectInvalid),
			sporkBanScoreInvalidSignature, "spork %d has an invalid signature", msg.ID)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// lost a race with a newer copy
	if current, found = sm.active[msg.ID]; found {
		if current.TimeSigned >= msg.TimeSigned {
			return false, nil
		}

		delete(sm.byHash, current.Hash())
	}

	sm.active[msg.ID] = msg
	sm.byHash[msg.Hash()] = msg

	prometheusSporksAccepted.Inc()

	return true, nil
}

// Value returns the current value of id, falling back to the built-in
// default. Unknown ids without a received spork return -1.
func (sm *SporkManager) Value(id int32) int64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if msg, ok := sm.active[id]; ok {
		return msg.Value
	}

	if v, ok := sporkDefaults[id]; ok {
		return v
	}

	return -1
}

// IsActive reports whether the time-valued spork id has been switched on.
func (sm *SporkManager) IsActive(id int32) bool {
	v := sm.Value(id)

	return v >= 0 && v < time.Now().Unix()
}

// Get returns the spork with the given inventory hash.
func (sm *SporkManager) Get(hash chainhash.Hash) (*wire.MsgSpork, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	msg, ok := sm.byHash[hash]

	return msg, ok
}

// All returns every held spork, for getsporks replies.
func (sm *SporkManager) All() []*wire.MsgSpork {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]*wire.MsgSpork, 0, len(sm.active))
	for _, msg := range sm.active {
		out = append(out, msg)
	}

	return out
}
