package cluster

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry is the single authority for the current slot-range → entry
// mapping (spec §3 / §5). A single lock covers both maps it owns,
// lastPartitions and entries, so that command dispatch never observes a
// torn read across them. The probe-connection cache is guarded separately
// by the NodeConnector's own lock.
type Registry struct {
	connector *NodeConnector

	mu             sync.RWMutex
	lastPartitions map[SlotRange]*Partition
	entries        map[SlotRange]*Entry
}

func newRegistry(cfg Config) *Registry {
	return &Registry{
		connector:      newNodeConnector(cfg),
		lastPartitions: make(map[SlotRange]*Partition),
		entries:        make(map[SlotRange]*Entry),
	}
}

// AddEntry associates sr with entry, growing entry's own slot-range set to
// match.
func (r *Registry) AddEntry(sr SlotRange, partition *Partition, entry *Entry) {
	entry.AddSlotRange(sr)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sr] = entry
	r.lastPartitions[sr] = partition
}

// RemoveMaster detaches the entry bound to sr, returning it so the caller
// can decide whether to decommission it (its slot-range set may still be
// non-empty if it serves other ranges).
func (r *Registry) RemoveMaster(sr SlotRange) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sr]
	if !ok {
		return nil, false
	}
	delete(r.entries, sr)
	delete(r.lastPartitions, sr)
	return entry, true
}

// ChangeMaster retargets the entry currently bound to sr to a new master
// endpoint. Existing slave connections are unaffected. The entry is
// returned alongside so the caller can chain further bookkeeping (e.g.
// marking the prior master down on it) without a second lookup racing a
// concurrent registry mutation.
func (r *Registry) ChangeMaster(ctx context.Context, sr SlotRange, addr Address) (*Entry, error) {
	r.mu.RLock()
	entry, ok := r.entries[sr]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cluster: no entry for slot range %s", sr)
	}
	if err := entry.ChangeMaster(ctx, addr); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetEntry looks up the entry currently serving sr.
func (r *Registry) GetEntry(sr SlotRange) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sr]
	return e, ok
}

// GetEntryBySlot looks up the entry serving the partition that owns slot.
func (r *Registry) GetEntryBySlot(slot int) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sr, e := range r.entries {
		if sr.Contains(slot) {
			return e, true
		}
	}
	return nil, false
}

// GetEntryByAddress returns the entry currently bound to a master at addr,
// if any. One Entry may appear under many slot ranges, so callers should
// not assume the returned entry corresponds to any particular range.
func (r *Registry) GetEntryByAddress(addr Address) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*Entry]struct{})
	for _, e := range r.entries {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		if e.MasterAddr() == addr {
			return e, true
		}
	}
	return nil, false
}

// Partition returns the last-known partition owning sr.
func (r *Registry) Partition(sr SlotRange) (*Partition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.lastPartitions[sr]
	return p, ok
}

// findPartitionOwning returns the partition in partitions that owns sr, if
// any — used by the master-change diff to re-resolve a slot range's new
// owner after a failover, and by the slots diff to find the owner of an
// added range.
func findPartitionOwning(partitions map[string]*Partition, sr SlotRange) (*Partition, bool) {
	for _, p := range partitions {
		if p.SlotRanges.Contains(sr) {
			return p, true
		}
	}
	return nil, false
}

// currentPartitionsByNodeID returns the partitions currently registered,
// keyed by node ID — the shape the reconciler's migration diff matches on.
// When several registered *Partition values share a node ID, only one of
// them is returned.
func (r *Registry) currentPartitionsByNodeID() map[string]*Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Partition)
	for _, p := range r.lastPartitions {
		out[p.NodeID] = p
	}
	return out
}

// currentPartitionsByAddress is currentPartitionsByNodeID reindexed by
// master address, the shape the master-change and slave-set diffs match
// on.
func (r *Registry) currentPartitionsByAddress() map[Address]*Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Address]*Partition)
	for _, p := range r.lastPartitions {
		out[p.MasterAddr] = p
	}
	return out
}

// Ranges returns every slot range currently registered.
func (r *Registry) Ranges() []SlotRange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SlotRange, 0, len(r.lastPartitions))
	for sr := range r.lastPartitions {
		out = append(out, sr)
	}
	return out
}

// Snapshot returns a deep copy of the current slot-range → partition view,
// safe for callers to inspect without racing the reconciler.
func (r *Registry) Snapshot() map[SlotRange]Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[SlotRange]Partition, len(r.lastPartitions))
	for sr, p := range r.lastPartitions {
		out[sr] = *p.Clone()
	}
	return out
}

// topologyDump is the YAML-serializable shape of Snapshot, for operational
// inspection (SPEC_FULL.md §12 — not in the distilled spec, but implied by
// the read-only surface exposed to command dispatch).
type topologyDump struct {
	Ranges []rangeDump `yaml:"ranges"`
}

type rangeDump struct {
	Slots      string   `yaml:"slots"`
	Master     string   `yaml:"master"`
	Slaves     []string `yaml:"slaves,omitempty"`
	MasterFail bool     `yaml:"masterFail,omitempty"`
}

// DumpTopology renders the current topology as YAML, grounded on the
// teacher's tests/integration/integration_test.go YAML config struct,
// generalized here from a test fixture into a production diagnostic.
func (r *Registry) DumpTopology() ([]byte, error) {
	snap := r.Snapshot()
	dump := topologyDump{Ranges: make([]rangeDump, 0, len(snap))}
	for sr, p := range snap {
		dump.Ranges = append(dump.Ranges, rangeDump{
			Slots:      sr.String(),
			Master:     p.MasterAddr.String(),
			Slaves:     addressStrings(p.SlaveAddrs),
			MasterFail: p.MasterFail,
		})
	}
	return yaml.Marshal(dump)
}

func addressStrings(set AddressSet) []string {
	keys := set.Keys()
	out := make([]string, len(keys))
	for i, a := range keys {
		out[i] = a.String()
	}
	return out
}

// Close tears down every entry and cached probe connection. No ordering
// dependency between entries; all teardowns proceed concurrently (spec
// §4.8).
func (r *Registry) Close() {
	r.mu.Lock()
	seen := make(map[*Entry]struct{})
	var entries []*Entry
	for _, e := range r.entries {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		entries = append(entries, e)
	}
	r.entries = make(map[SlotRange]*Entry)
	r.lastPartitions = make(map[SlotRange]*Partition)
	r.mu.Unlock()

	for _, e := range entries {
		e.ShutdownAsync()
	}
	r.connector.CloseAll()
}
