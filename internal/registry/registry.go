package registry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegis-sentinel/topowatch/internal/common/logging"
	"gopkg.in/yaml.v3"
)

// ErrRegistryUnavailable is returned when the external port-table source is
// unreachable. The previously published table stays in effect.
var ErrRegistryUnavailable = errors.New("registry source unavailable")

type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportUDP Transport = "udp"
)

type portKey struct {
	port      uint16
	transport Transport
}

// table is one immutable generation of the port map. Generations are built
// fully off-path and published with a single pointer swap, so readers never
// observe a half-built table.
type table struct {
	ports      map[portKey]string
	generation uint64
	fetchedAt  time.Time
}

// PortEntry is one row of an external port table.
type PortEntry struct {
	Port      uint16
	Transport Transport
	Protocol  string
}

// Source supplies an authoritative port table, typically over HTTP.
type Source interface {
	Fetch(ctx context.Context) ([]PortEntry, error)
}

// Signature is an application-layer identification rule. Pattern rules match
// a payload prefix or substring; port-only rules act as a generic fallback.
type Signature struct {
	Name      string    `yaml:"name"`
	Protocol  string    `yaml:"protocol"`
	Pattern   string    `yaml:"pattern,omitempty"`
	Ports     []uint16  `yaml:"ports,omitempty"`
	Transport Transport `yaml:"transport,omitempty"`
}

func (s Signature) specificity() int {
	switch {
	case s.Pattern != "" && len(s.Ports) > 0:
		return 2
	case s.Pattern != "":
		return 1
	default:
		return 0
	}
}

type cacheEntry struct {
	protocol string
	ok       bool
	expires  time.Time
}

// Registry holds port-to-protocol knowledge plus custom signatures.
type Registry struct {
	logger *logging.Logger
	source Source

	tbl atomic.Pointer[table]

	cacheMu  sync.Mutex
	cache    map[portKey]cacheEntry
	cacheCap int
	cacheTTL time.Duration

	sigMu   sync.RWMutex
	sigs    map[string]Signature
	ordered []Signature
}

type Config struct {
	Source   Source
	CacheCap int
	CacheTTL time.Duration
}

func New(cfg Config, logger *logging.Logger) *Registry {
	if cfg.CacheCap == 0 {
		cfg.CacheCap = 4096
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	r := &Registry{
		logger:   logger,
		source:   cfg.Source,
		cache:    make(map[portKey]cacheEntry),
		cacheCap: cfg.CacheCap,
		cacheTTL: cfg.CacheTTL,
		sigs:     make(map[string]Signature),
	}
	r.tbl.Store(&table{ports: builtinPorts(), generation: 1, fetchedAt: time.Now()})
	return r
}

// Lookup resolves a well-known port to a protocol name. Results, including
// negative ones, are held in a bounded TTL cache; a miss falls through to the
// current table generation without blocking.
func (r *Registry) Lookup(port uint16, transport Transport) (string, bool) {
	key := portKey{port: port, transport: transport}
	now := time.Now()

	r.cacheMu.Lock()
	if entry, ok := r.cache[key]; ok && now.Before(entry.expires) {
		r.cacheMu.Unlock()
		return entry.protocol, entry.ok
	}
	r.cacheMu.Unlock()

	tbl := r.tbl.Load()
	proto, ok := tbl.ports[key]

	r.cacheMu.Lock()
	if len(r.cache) >= r.cacheCap {
		r.sweepLocked(now)
	}
	if len(r.cache) < r.cacheCap {
		r.cache[key] = cacheEntry{protocol: proto, ok: ok, expires: now.Add(r.cacheTTL)}
	}
	r.cacheMu.Unlock()

	return proto, ok
}

// sweepLocked drops expired entries; if nothing expired it drops one
// arbitrary entry so hot keys can still be cached.
func (r *Registry) sweepLocked(now time.Time) {
	dropped := false
	for k, e := range r.cache {
		if now.After(e.expires) {
			delete(r.cache, k)
			dropped = true
		}
	}
	if !dropped {
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}
}

// RegisterSignature adds or replaces a signature, idempotent by name.
func (r *Registry) RegisterSignature(sig Signature) {
	r.sigMu.Lock()
	defer r.sigMu.Unlock()

	r.sigs[sig.Name] = sig
	r.rebuildLocked()
}

// Signatures returns the signature set in deterministic priority order:
// specific pattern rules first, generic port-only rules last, ties broken by
// name.
func (r *Registry) Signatures() []Signature {
	r.sigMu.RLock()
	defer r.sigMu.RUnlock()

	out := make([]Signature, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) rebuildLocked() {
	ordered := make([]Signature, 0, len(r.sigs))
	for _, sig := range r.sigs {
		ordered = append(ordered, sig)
	}
	sort.Slice(ordered, func(i, j int) bool {
		si, sj := ordered[i].specificity(), ordered[j].specificity()
		if si != sj {
			return si > sj
		}
		return ordered[i].Name < ordered[j].Name
	})
	r.ordered = ordered
}

// LoadSignatureFile reads signature rules from a YAML file and registers
// each one.
func (r *Registry) LoadSignatureFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read signature file: %w", err)
	}

	var file struct {
		Signatures []Signature `yaml:"signatures"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse signature file: %w", err)
	}

	count := 0
	for _, sig := range file.Signatures {
		if sig.Name == "" || sig.Protocol == "" {
			continue
		}
		r.RegisterSignature(sig)
		count++
	}
	return count, nil
}

// RefreshFromSource pulls a fresh port table and publishes it as a new
// generation. Any failure leaves the prior table intact.
func (r *Registry) RefreshFromSource(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("%w: no source configured", ErrRegistryUnavailable)
	}

	entries, err := r.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	old := r.tbl.Load()
	ports := make(map[portKey]string, len(old.ports)+len(entries))
	for k, v := range old.ports {
		ports[k] = v
	}
	for _, e := range entries {
		if e.Protocol == "" {
			continue
		}
		ports[portKey{port: e.Port, transport: e.Transport}] = e.Protocol
	}

	r.tbl.Store(&table{
		ports:      ports,
		generation: old.generation + 1,
		fetchedAt:  time.Now(),
	})

	r.cacheMu.Lock()
	r.cache = make(map[portKey]cacheEntry)
	r.cacheMu.Unlock()

	if r.logger != nil {
		r.logger.Info("Refreshed protocol registry",
			logging.WithExtra("entries", len(entries)),
			logging.WithExtra("generation", old.generation+1),
		)
	}
	return nil
}

// Generation returns the current table generation, for staleness reporting.
func (r *Registry) Generation() uint64 {
	return r.tbl.Load().generation
}

// FetchedAt returns when the current table generation was published.
func (r *Registry) FetchedAt() time.Time {
	return r.tbl.Load().fetchedAt
}

// HTTPSource fetches a CSV port table ("port,transport,protocol" per line)
// from a URL.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]PortEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var entries []PortEntry
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			continue
		}
		port, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 16)
		if err != nil {
			continue
		}
		transport := Transport(strings.ToLower(strings.TrimSpace(fields[1])))
		if transport != TransportTCP && transport != TransportUDP {
			continue
		}
		entries = append(entries, PortEntry{
			Port:      uint16(port),
			Transport: transport,
			Protocol:  strings.ToLower(strings.TrimSpace(fields[2])),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
