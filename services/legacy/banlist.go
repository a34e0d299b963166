package legacy

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/ulogger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// BanListFilename is the name of the persisted banlist below the data
	// directory.
	BanListFilename = "banlist.json"

	banListVersion = 1
)

// BanEvent is emitted whenever an entry enters or leaves the banlist.
type BanEvent struct {
	Action string // "add" or "remove"
	Subnet string
	Until  time.Time
}

// BanEventHandler receives banlist changes.
type BanEventHandler func(BanEvent)

type banEntry struct {
	subnet *net.IPNet
	until  time.Time
}

// BanList is the set of banned subnets. Entries expire on their own; the
// list is saved on every change and loaded on start.
type BanList struct {
	logger  ulogger.Logger
	path    string
	entries *ttlcache.Cache[string, banEntry]

	mu      sync.Mutex
	handler BanEventHandler
}

func NewBanList(logger ulogger.Logger, path string) *BanList {
	initPrometheusMetrics()

	b := &BanList{
		logger: logger,
		path:   path,
		entries: ttlcache.New[string, banEntry](
			ttlcache.WithDisableTouchOnHit[string, banEntry](),
		),
	}

	b.entries.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, banEntry]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}

		b.logger.Infof("[banlist] ban on %s expired", item.Key())
		b.emit(BanEvent{Action: "remove", Subnet: item.Key()})
	})

	return b
}

// SetHandler installs the handler notified of banlist changes.
func (b *BanList) SetHandler(h BanEventHandler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

func (b *BanList) emit(ev BanEvent) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()

	prometheusBannedSubnets.Set(float64(b.entries.Len()))

	if h != nil {
		h(ev)
	}
}

// parseSubnet accepts an IP or a CIDR subnet. A plain IP becomes a /32 or
// /128.
func parseSubnet(ipOrSubnet string) (*net.IPNet, error) {
	if strings.Contains(ipOrSubnet, "/") {
		_, subnet, err := net.ParseCIDR(ipOrSubnet)
		if err != nil {
			return nil, errors.NewInvalidArgumentError("invalid subnet %s", ipOrSubnet, err)
		}

		return subnet, nil
	}

	ip := net.ParseIP(ipOrSubnet)
	if ip == nil {
		return nil, errors.NewInvalidArgumentError("invalid IP %s", ipOrSubnet)
	}

	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, nil
	}

	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}

// Add bans ipOrSubnet until the given time, extending an existing ban.
func (b *BanList) Add(ipOrSubnet string, until time.Time) error {
	subnet, err := parseSubnet(ipOrSubnet)
	if err != nil {
		return err
	}

	ttl := time.Until(until)
	if ttl <= 0 {
		return errors.NewInvalidArgumentError("ban on %s already expired", ipOrSubnet)
	}

	key := subnet.String()

	if item := b.entries.Get(key); item != nil && item.Value().until.After(until) {
		return nil
	}

	b.entries.Set(key, banEntry{subnet: subnet, until: until}, ttl)
	b.emit(BanEvent{Action: "add", Subnet: key, Until: until})

	return b.Save()
}

// Remove lifts the ban on ipOrSubnet.
func (b *BanList) Remove(ipOrSubnet string) error {
	subnet, err := parseSubnet(ipOrSubnet)
	if err != nil {
		return err
	}

	key := subnet.String()

	if _, found := b.entries.GetAndDelete(key); !found {
		return errors.NewNotFoundError("%s is not banned", key)
	}

	b.emit(BanEvent{Action: "remove", Subnet: key})

	return b.Save()
}

// IsBanned reports whether host (an IP, optionally with a port) falls in a
// banned subnet.
func (b *BanList) IsBanned(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	now := time.Now()

	for _, item := range b.entries.Items() {
		entry := item.Value()
		if entry.until.After(now) && entry.subnet.Contains(ip) {
			return true
		}
	}

	return false
}

// List returns the banned subnets and their expiry.
func (b *BanList) List() map[string]time.Time {
	out := make(map[string]time.Time)

	for key, item := range b.entries.Items() {
		out[key] = item.Value().until
	}

	return out
}

// Sweep drops expired entries.
func (b *BanList) Sweep() {
	b.entries.DeleteExpired()
}

type serializedBan struct {
	Subnet string
	Until  int64
}

type serializedBanList struct {
	Version int
	Bans    []serializedBan
}

// Save writes the list atomically.
func (b *BanList) Save() error {
	if b.path == "" {
		return nil
	}

	sbl := serializedBanList{Version: banListVersion}

	for key, until := range b.List() {
		sbl.Bans = append(sbl.Bans, serializedBan{Subnet: key, Until: until.Unix()})
	}

	data, err := json.Marshal(&sbl)
	if err != nil {
		return errors.NewProcessingError("[banlist] failed to encode banlist", err)
	}

	tmp := b.path + ".new"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.NewStorageError("[banlist] failed to write %s", tmp, err)
	}

	if err = os.Rename(tmp, b.path); err != nil {
		return errors.NewStorageError("[banlist] failed to rename %s", tmp, err)
	}

	return nil
}

// Load reads the list, skipping entries that expired while the node was
// down.
func (b *BanList) Load() error {
	if b.path == "" {
		return nil
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errors.NewStorageError("[banlist] failed to read %s", b.path, err)
	}

	var sbl serializedBanList
	if err = json.Unmarshal(data, &sbl); err != nil {
		return errors.NewProcessingError("[banlist] corrupt banlist %s", b.path, err)
	}

	if sbl.Version != banListVersion {
		return errors.NewProcessingError("[banlist] unknown banlist version %d", sbl.Version)
	}

	now := time.Now()

	for _, ban := range sbl.Bans {
		until := time.Unix(ban.Until, 0)
		if !until.After(now) {
			continue
		}

		subnet, err := parseSubnet(ban.Subnet)
		if err != nil {
			b.logger.Warnf("[banlist] skipping %s: %v", ban.Subnet, err)
			continue
		}

		b.entries.Set(subnet.String(), banEntry{subnet: subnet, until: until}, until.Sub(now))
	}

	prometheusBannedSubnets.Set(float64(b.entries.Len()))
	b.logger.Infof("[banlist] loaded %d bans from %s", b.entries.Len(), b.path)

	return nil
}
