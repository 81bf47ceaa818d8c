package zone

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTTL      = 120
	DefaultMaxHosts = 2
)

// ErrAddressFormat is returned for host entries that are not IP literals.
var ErrAddressFormat = errors.New("unknown address format")

// Topology is the static part of the zone, read from configuration.
type Topology struct {
	Contact     string
	Nameservers []string
	Aliases     []string
	Hosts       map[string][]string
	Labels      map[string][]string
}

// Health is the view of host state the builder needs.
type Health interface {
	IsOK(host string) bool
	LastError(host string) string
}

// HealthMap is a fixed Health snapshot.
type HealthMap map[string]bool

func (h HealthMap) IsOK(host string) bool {
	return h[host]
}

func (h HealthMap) LastError(host string) string {
	if h[host] {
		return "no error"
	}
	return "not ok"
}

// Builder turns topology and health into documents. It remembers the last
// serial it handed out so serials strictly increase.
type Builder struct {
	ttl      int
	maxHosts int
	logger   *slog.Logger
	now      func() time.Time

	mutex      sync.Mutex
	lastSerial uint32
}

func NewBuilder(ttl, maxHosts int, logger *slog.Logger) *Builder {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxHosts <= 0 {
		maxHosts = DefaultMaxHosts
	}

	return &Builder{
		ttl:      ttl,
		maxHosts: maxHosts,
		logger:   logger,
		now:      time.Now,
	}
}

// Build synthesizes a document. It fails on the first host entry that is
// not an IPv4 or IPv6 literal.
func (b *Builder) Build(topo Topology, health Health) (*Document, error) {
	doc := &Document{
		TTL:      b.ttl,
		Contact:  topo.Contact,
		MaxHosts: b.maxHosts,
		Data:     make(map[string]*RecordSet),
	}

	root := &RecordSet{}
	if len(topo.Nameservers) > 0 {
		root.NS = make(map[string]*string, len(topo.Nameservers))
		for _, n := range topo.Nameservers {
			root.NS[n] = nil
		}
	}
	doc.Data[""] = root

	for _, alias := range topo.Aliases {
		target := ""
		doc.Data[alias] = &RecordSet{Alias: &target}
	}

	for group := range topo.Labels {
		doc.Data[group] = &RecordSet{}
	}

	groups := sortedKeys(topo.Labels)
	aggregate := &RecordSet{}

	for _, label := range sortedKeys(topo.Hosts) {
		own := &RecordSet{}
		doc.Data[label] = own

		for _, ip := range topo.Hosts[label] {
			v6, err := classify(ip)
			if err != nil {
				return nil, fmt.Errorf("zone: host %q: %w", label, err)
			}
			own.add(ip, v6)

			if !health.IsOK(ip) {
				b.logger.Warn("Excluding address, host not ok",
					slog.String("label", label),
					slog.String("address", ip),
					slog.String("reason", health.LastError(ip)))
				continue
			}

			aggregate.add(ip, v6)
			for _, group := range groups {
				members := topo.Labels[group]
				if slices.Contains(members, label) || slices.Contains(members, ip) {
					doc.Data[group].add(ip, v6)
				}
			}
		}
	}

	if len(aggregate.A) > 0 {
		root.A = aggregate.A
	}
	if len(aggregate.AAAA) > 0 {
		root.AAAA = aggregate.AAAA
	}

	doc.Serial = b.nextSerial()
	return doc, nil
}

// nextSerial returns the current Unix time, bumped past the previous serial
// when called more than once per second.
func (b *Builder) nextSerial() uint32 {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	serial := uint32(b.now().Unix())
	if serial <= b.lastSerial {
		serial = b.lastSerial + 1
	}
	b.lastSerial = serial
	return serial
}

// classify reports whether a valid literal belongs in AAAA. Any literal with
// a colon is IPv6, so IPv4-mapped forms like ::ffff:192.0.2.1 stay AAAA.
func classify(literal string) (v6 bool, err error) {
	if net.ParseIP(literal) == nil {
		return false, fmt.Errorf("%w %q", ErrAddressFormat, literal)
	}
	return strings.Contains(literal, ":"), nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
