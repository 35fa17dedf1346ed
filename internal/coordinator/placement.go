package coordinator

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
)

// PlacementPolicy assigns an incoming symbol to a worker slot in
// [0, workerCount).
type PlacementPolicy interface {
	Name() string
	Place(symbol uint64, workerCount int) int
}

// RoundRobin cycles through worker slots using an atomic counter, giving
// an even static distribution independent of symbol id.
type RoundRobin struct {
	counter uint64
}

func (p *RoundRobin) Name() string { return "round_robin" }

func (p *RoundRobin) Place(_ uint64, workerCount int) int {
	n := atomic.AddUint64(&p.counter, 1)
	return int(n % uint64(workerCount))
}

// HashBased maps a symbol to the same worker slot on every call, so a
// symbol's ticks are always considered for the same logical worker.
type HashBased struct{}

func (p *HashBased) Name() string { return "hash" }

func (p *HashBased) Place(symbol uint64, workerCount int) int {
	h := fnv.New64a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(symbol >> (8 * i))
	}
	h.Write(b[:])
	return int(h.Sum64() % uint64(workerCount))
}

// PlacementRegistry holds named placement policies gated by a semver
// compatibility window, the same pattern the corpus uses for matching
// algorithm plugins: a policy declares the coordinator version range it
// was validated against, and registration fails outside that window.
type PlacementRegistry struct {
	mu          sync.RWMutex
	policies    map[string]PlacementPolicy
	coreVersion *semver.Version
}

// NewPlacementRegistry constructs a registry pinned to coreVersion (the
// coordinator's own semantic version, e.g. from build info).
func NewPlacementRegistry(coreVersion string) (*PlacementRegistry, error) {
	v, err := semver.NewVersion(coreVersion)
	if err != nil {
		return nil, fmt.Errorf("coordinator: invalid core version %q: %w", coreVersion, err)
	}
	r := &PlacementRegistry{
		policies:    make(map[string]PlacementPolicy),
		coreVersion: v,
	}
	r.mustRegister("round_robin", &RoundRobin{}, "1.0.0", "")
	r.mustRegister("hash", &HashBased{}, "1.0.0", "")
	return r, nil
}

func (r *PlacementRegistry) mustRegister(name string, p PlacementPolicy, min, max string) {
	if err := r.Register(name, p, min, max); err != nil {
		panic(err)
	}
}

// Register adds a named policy, validating it against [minCoreVersion,
// maxCoreVersion] (either bound may be empty to leave it open).
func (r *PlacementRegistry) Register(name string, p PlacementPolicy, minCoreVersion, maxCoreVersion string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.policies[name]; exists {
		return fmt.Errorf("coordinator: placement policy %q already registered", name)
	}
	if minCoreVersion != "" {
		min, err := semver.NewVersion(minCoreVersion)
		if err != nil {
			return fmt.Errorf("coordinator: invalid min core version: %w", err)
		}
		if r.coreVersion.LessThan(min) {
			return fmt.Errorf("coordinator: core version %s below minimum %s for policy %q", r.coreVersion, min, name)
		}
	}
	if maxCoreVersion != "" {
		max, err := semver.NewVersion(maxCoreVersion)
		if err != nil {
			return fmt.Errorf("coordinator: invalid max core version: %w", err)
		}
		if r.coreVersion.GreaterThan(max) {
			return fmt.Errorf("coordinator: core version %s above maximum %s for policy %q", r.coreVersion, max, name)
		}
	}
	r.policies[name] = p
	return nil
}

// Get looks up a registered policy by name.
func (r *PlacementRegistry) Get(name string) (PlacementPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}
