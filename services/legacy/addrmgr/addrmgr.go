// Package addrmgr keeps the book of known peer addresses, chooses
// addresses for outbound connections and persists the book to peers.json.
package addrmgr

import (
	"math"
	"math/rand"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/services/legacy/wire"
	"github.com/tessacoin/tessanode/ulogger"
	"go.uber.org/atomic"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// PeersFilename is the name of the address book below the data
	// directory.
	PeersFilename = "peers.json"

	serializationVersion = 1

	// dumpAddressInterval is the interval between address book saves.
	dumpAddressInterval = 15 * time.Minute

	// maxAddresses bounds the book; new addresses replace bad or stale
	// untried ones once it is full.
	maxAddresses = 20000

	// needAddressThreshold is the book size below which more addresses
	// are requested from peers.
	needAddressThreshold = 1000

	// getAddrMax and getAddrPercent bound AddressCache.
	getAddrMax     = 2500
	getAddrPercent = 23

	numMissingDays   = 30
	numRetries       = 3
	maxFailures      = 10
	minBadDays       = 7
	connectedRefresh = 20 * time.Minute
)

// LookupFunc resolves a host name.
type LookupFunc func(host string) ([]net.IP, error)

// KnownAddress is an entry in the address book.
type KnownAddress struct {
	mtx         sync.RWMutex
	na          *wire.NetAddress
	srcAddr     *wire.NetAddress
	attempts    int
	lastattempt time.Time
	lastsuccess time.Time
	tried       bool
}

// NetAddress returns the address.
func (ka *KnownAddress) NetAddress() *wire.NetAddress {
	ka.mtx.RLock()
	defer ka.mtx.RUnlock()

	return ka.na
}

func (ka *KnownAddress) LastAttempt() time.Time {
	ka.mtx.RLock()
	defer ka.mtx.RUnlock()

	return ka.lastattempt
}

func (ka *KnownAddress) Tried() bool {
	ka.mtx.RLock()
	defer ka.mtx.RUnlock()

	return ka.tried
}

// chance is the relative probability of the address being picked.
func (ka *KnownAddress) chance() float64 {
	ka.mtx.RLock()
	defer ka.mtx.RUnlock()

	now := time.Now()
	c := 1.0

	if now.Sub(ka.lastattempt) < 10*time.Minute {
		c *= 0.01
	}

	return c * math.Pow(0.66, math.Min(float64(ka.attempts), 8))
}

// isBad reports whether the address is not worth keeping: from the future,
// silent for a month, never reached after a few attempts or failing for a
// week.  Addresses tried in the last minute are never bad.
func (ka *KnownAddress) isBad() bool {
	ka.mtx.RLock()
	defer ka.mtx.RUnlock()

	if ka.lastattempt.After(time.Now().Add(-time.Minute)) {
		return false
	}

	if ka.na.Timestamp.After(time.Now().Add(10 * time.Minute)) {
		return true
	}

	if ka.na.Timestamp.Before(time.Now().Add(-numMissingDays * 24 * time.Hour)) {
		return true
	}

	if ka.lastsuccess.IsZero() && ka.attempts >= numRetries {
		return true
	}

	if !ka.lastsuccess.After(time.Now().Add(-minBadDays*24*time.Hour)) && ka.attempts >= maxFailures {
		return true
	}

	return false
}

// AddrManager is a concurrency safe address book.
type AddrManager struct {
	mtx            sync.RWMutex
	logger         ulogger.Logger
	peersFile      string
	lookupFunc     LookupFunc
	rand           *rand.Rand
	addrIndex      map[string]*KnownAddress
	nTried         int
	localAddresses map[string]*wire.NetAddress

	started atomic.Bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New returns an address manager persisting to peersFile.
func New(logger ulogger.Logger, peersFile string, lookupFunc LookupFunc) *AddrManager {
	if lookupFunc == nil {
		lookupFunc = net.LookupIP
	}

	return &AddrManager{
		logger:         logger,
		peersFile:      peersFile,
		lookupFunc:     lookupFunc,
		rand:           rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // address choice only
		addrIndex:      make(map[string]*KnownAddress),
		localAddresses: make(map[string]*wire.NetAddress),
		quit:           make(chan struct{}),
	}
}

// Start loads the book and starts the periodic save.
func (a *AddrManager) Start() {
	if !a.started.CompareAndSwap(false, true) {
		return
	}

	if err := a.loadPeers(); err != nil {
		a.logger.Warnf("[addrmgr] starting with an empty address book: %v", err)
	}

	a.wg.Add(1)

	go a.addressHandler()
}

// Stop saves the book and waits for the save loop to exit.
func (a *AddrManager) Stop() error {
	if !a.started.CompareAndSwap(true, false) {
		return nil
	}

	close(a.quit)
	a.wg.Wait()

	return a.savePeers()
}

func (a *AddrManager) addressHandler() {
	defer a.wg.Done()

	ticker := time.NewTicker(dumpAddressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.savePeers(); err != nil {
				a.logger.Errorf("[addrmgr] %v", err)
			}
		case <-a.quit:
			return
		}
	}
}

type serializedKnownAddress struct {
	Addr        string
	Src         string
	Services    wire.ServiceFlag
	Attempts    int
	TimeStamp   int64
	LastAttempt int64
	LastSuccess int64
	Tried       bool
}

type serializedAddrManager struct {
	Version   int
	Addresses []*serializedKnownAddress
}

func (a *AddrManager) savePeers() error {
	a.mtx.RLock()

	sam := serializedAddrManager{
		Version:   serializationVersion,
		Addresses: make([]*serializedKnownAddress, 0, len(a.addrIndex)),
	}

	for k, ka := range a.addrIndex {
		ka.mtx.RLock()
		sam.Addresses = append(sam.Addresses, &serializedKnownAddress{
			Addr:        k,
			Src:         NetAddressKey(ka.srcAddr),
			Services:    ka.na.Services,
			Attempts:    ka.attempts,
			TimeStamp:   ka.na.Timestamp.Unix(),
			LastAttempt: ka.lastattempt.Unix(),
			LastSuccess: ka.lastsuccess.Unix(),
			Tried:       ka.tried,
		})
		ka.mtx.RUnlock()
	}

	a.mtx.RUnlock()

	data, err := json.Marshal(&sam)
	if err != nil {
		return errors.NewProcessingError("[addrmgr] failed to encode address book", err)
	}

	tmp := a.peersFile + ".new"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.NewStorageError("[addrmgr] failed to write %s", tmp, err)
	}

	if err = os.Rename(tmp, a.peersFile); err != nil {
		return errors.NewStorageError("[addrmgr] failed to rename %s", tmp, err)
	}

	return nil
}

func (a *AddrManager) loadPeers() error {
	data, err := os.ReadFile(a.peersFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errors.NewStorageError("[addrmgr] failed to read %s", a.peersFile, err)
	}

	var sam serializedAddrManager
	if err = json.Unmarshal(data, &sam); err != nil {
		return errors.NewProcessingError("[addrmgr] corrupt address book %s", a.peersFile, err)
	}

	if sam.Version != serializationVersion {
		return errors.NewProcessingError("[addrmgr] unknown address book version %d", sam.Version)
	}

	a.mtx.Lock()
	defer a.mtx.Unlock()

	for _, v := range sam.Addresses {
		na, err := a.deserializeNetAddress(v.Addr, v.Services)
		if err != nil {
			a.logger.Debugf("[addrmgr] skipping %s: %v", v.Addr, err)
			continue
		}

		src, err := a.deserializeNetAddress(v.Src, v.Services)
		if err != nil {
			src = na
		}

		na.Timestamp = time.Unix(v.TimeStamp, 0)

		ka := &KnownAddress{
			na:          na,
			srcAddr:     src,
			attempts:    v.Attempts,
			lastattempt: time.Unix(v.LastAttempt, 0),
			lastsuccess: time.Unix(v.LastSuccess, 0),
			tried:       v.Tried,
		}

		a.addrIndex[NetAddressKey(na)] = ka

		if ka.tried {
			a.nTried++
		}
	}

	a.logger.Infof("[addrmgr] loaded %d addresses from %s", len(a.addrIndex), a.peersFile)

	return nil
}

func (a *AddrManager) deserializeNetAddress(addr string, services wire.ServiceFlag) (*wire.NetAddress, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}

	return a.HostToNetAddress(host, uint16(port), services)
}

// HostToNetAddress resolves host, looking it up when it is not an IP.
func (a *AddrManager) HostToNetAddress(host string, port uint16, services wire.ServiceFlag) (*wire.NetAddress, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := a.lookupFunc(host)
		if err != nil {
			return nil, err
		}

		if len(ips) == 0 {
			return nil, errors.NewNetworkError("no addresses found for %s", host)
		}

		ip = ips[0]
	}

	return wire.NewNetAddressIPPort(ip, port, services), nil
}

// AddAddresses adds routable addresses learned from srcAddr.
func (a *AddrManager) AddAddresses(addrs []*wire.NetAddress, srcAddr *wire.NetAddress) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	for _, na := range addrs {
		a.updateAddress(na, srcAddr)
	}
}

// AddAddress adds a single routable address learned from srcAddr.
func (a *AddrManager) AddAddress(addr, srcAddr *wire.NetAddress) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.updateAddress(addr, srcAddr)
}

// AddAddressByIP adds an ip:port string, as given by DNS seeds or
// -addnode.
func (a *AddrManager) AddAddressByIP(addrIP string, services wire.ServiceFlag) error {
	host, portStr, err := net.SplitHostPort(addrIP)
	if err != nil {
		return errors.NewInvalidArgumentError("invalid address %s", addrIP, err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return errors.NewInvalidArgumentError("invalid ip address %s", host)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return errors.NewInvalidArgumentError("invalid port %s", portStr, err)
	}

	na := wire.NewNetAddressIPPort(ip, uint16(port), services)
	a.AddAddress(na, na)

	return nil
}

func (a *AddrManager) updateAddress(netAddr, srcAddr *wire.NetAddress) {
	if !IsRoutable(netAddr) {
		return
	}

	key := NetAddressKey(netAddr)

	if ka, ok := a.addrIndex[key]; ok {
		ka.mtx.Lock()

		if netAddr.Timestamp.After(ka.na.Timestamp) || (ka.na.Services&netAddr.Services) != netAddr.Services {
			naCopy := *ka.na
			if netAddr.Timestamp.After(naCopy.Timestamp) {
				naCopy.Timestamp = netAddr.Timestamp
			}

			naCopy.AddService(netAddr.Services)
			ka.na = &naCopy
		}
		ka.mtx.Unlock()

		return
	}

	if len(a.addrIndex) >= maxAddresses && !a.evictLocked() {
		return
	}

	naCopy := *netAddr

	if srcAddr == nil {
		srcAddr = &naCopy
	}

	a.addrIndex[key] = &KnownAddress{na: &naCopy, srcAddr: srcAddr}

	a.logger.Debugf("[addrmgr] added new address %s (%d known)", key, len(a.addrIndex))
}

// evictLocked drops one untried address, preferring bad ones, then the
// oldest.  It reports false when only tried addresses are left.
func (a *AddrManager) evictLocked() bool {
	var (
		oldestKey string
		oldest    *KnownAddress
	)

	for k, ka := range a.addrIndex {
		if ka.tried {
			continue
		}

		if ka.isBad() {
			delete(a.addrIndex, k)
			return true
		}

		if oldest == nil || ka.na.Timestamp.Before(oldest.na.Timestamp) {
			oldestKey, oldest = k, ka
		}
	}

	if oldest == nil {
		return false
	}

	delete(a.addrIndex, oldestKey)

	return true
}

// NumAddresses returns the number of known addresses.
func (a *AddrManager) NumAddresses() int {
	a.mtx.RLock()
	defer a.mtx.RUnlock()

	return len(a.addrIndex)
}

// NeedMoreAddresses reports whether peers should be asked for addresses.
func (a *AddrManager) NeedMoreAddresses() bool {
	return a.NumAddresses() < needAddressThreshold
}

// AddressCache returns a random selection of good addresses to answer a
// getaddr.
func (a *AddrManager) AddressCache() []*wire.NetAddress {
	a.mtx.RLock()

	all := make([]*wire.NetAddress, 0, len(a.addrIndex))

	for _, ka := range a.addrIndex {
		if ka.isBad() {
			continue
		}

		all = append(all, ka.NetAddress())
	}

	a.mtx.RUnlock()

	numAddresses := len(all) * getAddrPercent / 100
	if numAddresses > getAddrMax {
		numAddresses = getAddrMax
	}

	if numAddresses == 0 && len(all) > 0 {
		numAddresses = len(all)
	}

	a.mtx.Lock()
	a.rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	a.mtx.Unlock()

	return all[:numAddresses]
}

// GetAddress picks an address to connect to.  Tried and untried addresses
// are chosen with equal likelihood, weighted by recent failures.  It
// returns nil when the book is empty.
func (a *AddrManager) GetAddress() *KnownAddress {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if len(a.addrIndex) == 0 {
		return nil
	}

	nNew := len(a.addrIndex) - a.nTried
	wantTried := a.nTried > 0 && (nNew == 0 || a.rand.Intn(2) == 0)

	candidates := make([]*KnownAddress, 0, len(a.addrIndex))
	for _, ka := range a.addrIndex {
		if ka.tried == wantTried {
			candidates = append(candidates, ka)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	// bounded rejection sampling, falling back to the best chance
	for i := 0; i < 64; i++ {
		ka := candidates[a.rand.Intn(len(candidates))]
		if a.rand.Float64() < ka.chance() {
			return ka
		}
	}

	best := candidates[0]
	for _, ka := range candidates[1:] {
		if ka.chance() > best.chance() {
			best = ka
		}
	}

	return best
}

func (a *AddrManager) find(addr *wire.NetAddress) *KnownAddress {
	return a.addrIndex[NetAddressKey(addr)]
}

// Attempt records a connection attempt to addr.
func (a *AddrManager) Attempt(addr *wire.NetAddress) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	ka := a.find(addr)
	if ka == nil {
		return
	}

	ka.mtx.Lock()
	ka.attempts++
	ka.lastattempt = time.Now()
	ka.mtx.Unlock()
}

// Connected refreshes the timestamp of an address we are connected to.
func (a *AddrManager) Connected(addr *wire.NetAddress) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	ka := a.find(addr)
	if ka == nil {
		return
	}

	now := time.Now()

	ka.mtx.Lock()
	if now.After(ka.na.Timestamp.Add(connectedRefresh)) {
		naCopy := *ka.na
		naCopy.Timestamp = now
		ka.na = &naCopy
	}
	ka.mtx.Unlock()
}

// Good marks addr as successfully connected and moves it to the tried
// set.
func (a *AddrManager) Good(addr *wire.NetAddress) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	ka := a.find(addr)
	if ka == nil {
		return
	}

	now := time.Now()

	ka.mtx.Lock()
	ka.lastsuccess = now
	ka.lastattempt = now
	ka.attempts = 0

	if !ka.tried {
		ka.tried = true
		a.nTried++
	}
	ka.mtx.Unlock()
}

// AddLocalAddress records one of our own reachable addresses.
func (a *AddrManager) AddLocalAddress(na *wire.NetAddress) error {
	if !IsRoutable(na) {
		return errors.NewInvalidArgumentError("address %s is not routable", na.IP)
	}

	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.localAddresses[NetAddressKey(na)] = na

	return nil
}

// GetBestLocalAddress returns the local address to advertise to remote,
// preferring one of the same IP family.
func (a *AddrManager) GetBestLocalAddress(remote *wire.NetAddress) *wire.NetAddress {
	a.mtx.RLock()
	defer a.mtx.RUnlock()

	var fallback *wire.NetAddress

	for _, na := range a.localAddresses {
		if IsIPv4(na) == IsIPv4(remote) {
			return na
		}

		fallback = na
	}

	if fallback != nil {
		return fallback
	}

	ip := net.IPv4zero
	if !IsIPv4(remote) {
		ip = net.IPv6zero
	}

	return wire.NewNetAddressIPPort(ip, 0, 0)
}
