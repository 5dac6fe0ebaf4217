package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyburs/redisson/internal/logger"
)

// Reconciler is the periodic job that fetches a fresh CLUSTER NODES
// listing and applies the three diffs (master-change, slave-set, slots)
// to the Registry (spec §4.7). It runs at a fixed delay — the next tick is
// scheduled only after the previous one returns — so a slow tick never
// causes a burst of catch-up ticks.
type Reconciler struct {
	cfg      Config
	registry *Registry

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

func newReconciler(cfg Config, registry *Registry) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		registry: registry,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background tick loop. It does not block.
func (re *Reconciler) Start(ctx context.Context) {
	re.started.Store(true)
	go re.loop(ctx)
}

func (re *Reconciler) loop(ctx context.Context) {
	defer close(re.done)
	for {
		select {
		case <-re.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		re.tick(ctx)

		select {
		case <-time.After(re.cfg.scanInterval()):
		case <-re.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the reconciler. Any in-flight tick is interrupted by the
// context the caller originally started it with; partially applied
// mutations are left as-is, since a process restart rediscovers topology
// from scratch (spec §4.8). Safe to call even if Start was never invoked —
// in that case the loop goroutine never ran, so there is nothing to wait
// for and Stop returns immediately.
func (re *Reconciler) Stop() {
	re.once.Do(func() { close(re.stop) })
	if re.started.Load() {
		<-re.done
	}
}

// tick runs exactly one reconciliation pass. A mutation-local panic or
// error never escapes to the scheduler (spec §7): every error path here
// logs and returns rather than propagating.
func (re *Reconciler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("cluster: reconciler tick panicked: %v", r)
		}
	}()

	text, ok := re.pickProbeTarget(ctx)
	if !ok {
		logger.Warn("cluster: no reachable node across any known partition this tick")
		return
	}

	newPartitions := buildPartitions(parseClusterNodes(text))
	if len(newPartitions) == 0 {
		return
	}

	currentByAddr := re.registry.currentPartitionsByAddress()
	re.checkMasterNodesChange(ctx, currentByAddr, newPartitions)

	// Master addresses may have moved during the failover pass, so the
	// slave-set diff re-derives its address index afterward.
	currentByAddr = re.registry.currentPartitionsByAddress()
	re.checkSlaveNodesChange(ctx, currentByAddr, newPartitions)

	re.checkSlotsChange(ctx, newPartitions)
}

// pickProbeTarget iterates the partitions currently known to the registry
// and, for each, its member addresses (master then slaves), attempting a
// probe connection; the first successful one wins and is used to fetch
// CLUSTER NODES. If no address in any partition is reachable, the tick is
// a no-op beyond evicting dead cache entries (spec §4.7 step 1).
func (re *Reconciler) pickProbeTarget(ctx context.Context) (string, bool) {
	for _, partition := range re.registry.currentPartitionsByNodeID() {
		addrs := append([]Address{partition.MasterAddr}, partition.SlaveAddrs.Keys()...)
		for _, addr := range addrs {
			conn, ok := re.registry.connector.Connect(ctx, addr, false)
			if !ok {
				continue
			}
			reply, err := conn.Sync(ctx, "CLUSTER", "NODES")
			if err != nil {
				re.registry.connector.Evict(addr)
				continue
			}
			if text, ok := reply.(string); ok {
				return text, true
			}
		}
	}
	return "", false
}

// checkMasterNodesChange implements the master-change diff (spec §4.7):
// for each current partition matched to a new one by master address, a
// FAIL-flagged new partition means the master has failed over. The new
// owner of each of the old master's slot ranges is looked up by scanning
// the fresh listing; a missing lookup is a no-op for that range rather
// than an error (spec §9 open question), since the range may simply be
// absent from this particular listing.
func (re *Reconciler) checkMasterNodesChange(ctx context.Context, currentByAddr map[Address]*Partition, newPartitions map[string]*Partition) {
	newByAddr := partitionsByAddress(newPartitions)

	for addr, current := range currentByAddr {
		newView, ok := newByAddr[addr]
		if !ok || !newView.MasterFail {
			continue
		}

		for _, sr := range current.SlotRanges.Keys() {
			owner, found := findPartitionOwning(newPartitions, sr)
			if !found || owner.MasterAddr == current.MasterAddr {
				continue
			}

			entry, err := re.registry.ChangeMaster(ctx, sr, owner.MasterAddr)
			if err != nil {
				logger.Warn("cluster: failed to retarget slot range %s to new master %s: %v", sr, owner.MasterAddr, err)
				continue
			}
			entry.SlaveDown(current.MasterAddr, ReasonManager)
			current.MasterAddr = owner.MasterAddr
		}
	}
}

// checkSlaveNodesChange implements the slave-set diff (spec §4.7),
// matching pairwise by (possibly just-updated) master address.
func (re *Reconciler) checkSlaveNodesChange(ctx context.Context, currentByAddr map[Address]*Partition, newPartitions map[string]*Partition) {
	newByAddr := partitionsByAddress(newPartitions)

	for addr, current := range currentByAddr {
		newView, ok := newByAddr[addr]
		if !ok {
			continue
		}

		removed := current.SlaveAddrs.Diff(newView.SlaveAddrs)
		added := newView.SlaveAddrs.Diff(current.SlaveAddrs)
		if len(removed) == 0 && len(added) == 0 {
			continue
		}

		entry, ok := re.registry.GetEntryByAddress(addr)
		if !ok {
			continue
		}

		for _, slaveAddr := range removed.Keys() {
			current.SlaveAddrs.Remove(slaveAddr)
			entry.SlaveDown(slaveAddr, ReasonManager)
		}
		for _, slaveAddr := range added.Keys() {
			current.SlaveAddrs.Add(slaveAddr)
			entry.AddSlave(ctx, slaveAddr)
			entry.SlaveUp(slaveAddr, ReasonManager)
		}
	}
}

// checkSlotsChange implements the slots diff (spec §4.7): migration first
// (same nodeId, different slot-range set), then global removals and
// additions across the whole set.
func (re *Reconciler) checkSlotsChange(ctx context.Context, newPartitions map[string]*Partition) {
	re.checkSlotsMigration(newPartitions)

	currentRanges := newSlotRangeSet(re.registry.Ranges()...)
	newRanges := unionSlotRanges(newPartitions)

	removedSlots := currentRanges.Diff(newRanges)
	for _, sr := range removedSlots.Keys() {
		entry, ok := re.registry.RemoveMaster(sr)
		if !ok {
			continue
		}
		if empty := entry.RemoveSlotRange(sr); empty {
			entry.ShutdownAsync()
		}
	}

	// Recompute after removals so additions compare against the
	// post-removal view.
	currentRanges = newSlotRangeSet(re.registry.Ranges()...)
	addedSlots := newRanges.Diff(currentRanges)

	launched := make(map[string]struct{})
	for _, sr := range addedSlots.Keys() {
		partition, found := findPartitionOwning(newPartitions, sr)
		if !found {
			continue
		}
		if entry, ok := re.registry.GetEntryByAddress(partition.MasterAddr); ok {
			entry.AddSlotRange(sr)
			re.registry.AddEntry(sr, partition.Clone(), entry)
			continue
		}
		if _, already := launched[partition.NodeID]; already {
			continue
		}
		launched[partition.NodeID] = struct{}{}
		go addMasterEntry(ctx, re.registry, re.cfg, partition, false)
	}
}

// checkSlotsMigration implements the migration half of the slots diff:
// for each pair of partitions sharing a nodeId and a master address but a
// different slot-range set, the entry is located via any one of the
// current partition's existing ranges (spec §4.7). A pair whose master
// address differs is a failover already handled by the master-change
// diff, and is skipped.
func (re *Reconciler) checkSlotsMigration(newPartitions map[string]*Partition) {
	currentByNodeID := re.registry.currentPartitionsByNodeID()

	for nodeID, current := range currentByNodeID {
		newView, ok := newPartitions[nodeID]
		if !ok || newView.MasterAddr != current.MasterAddr {
			continue
		}

		added := newView.SlotRanges.Diff(current.SlotRanges)
		removed := current.SlotRanges.Diff(newView.SlotRanges)
		if len(added) == 0 && len(removed) == 0 {
			continue
		}

		existing := current.SlotRanges.Keys()
		if len(existing) == 0 {
			continue
		}
		entry, ok := re.registry.GetEntry(existing[0])
		if !ok {
			continue
		}

		for _, sr := range added.Keys() {
			current.SlotRanges.Add(sr)
			entry.AddSlotRange(sr)
			re.registry.AddEntry(sr, current, entry)
		}
		for _, sr := range removed.Keys() {
			re.registry.RemoveMaster(sr)
			current.SlotRanges.Remove(sr)
			if empty := entry.RemoveSlotRange(sr); empty {
				entry.ShutdownAsync()
			}
		}
	}
}

func partitionsByAddress(partitions map[string]*Partition) map[Address]*Partition {
	out := make(map[Address]*Partition, len(partitions))
	for _, p := range partitions {
		out[p.MasterAddr] = p
	}
	return out
}

func unionSlotRanges(partitions map[string]*Partition) SlotRangeSet {
	out := make(SlotRangeSet)
	for _, p := range partitions {
		for sr := range p.SlotRanges {
			out.Add(sr)
		}
	}
	return out
}
