package cluster

import (
	"context"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, down map[Address]bool) *Registry {
	t.Helper()
	withFakeDialer(t, down)
	var cfg Config
	cfg.ApplyDefaults()
	return newRegistry(cfg)
}

func clusterNodesArgsKey() string { return clusterArgsKey("CLUSTER", "NODES") }

// seedClusterNodesReply makes every node the fake dialer connects to answer
// CLUSTER NODES with the same text, mirroring how any reachable cluster
// member can answer the query with the same cluster-wide view.
func seedClusterNodesReply(t *testing.T, text string) {
	t.Helper()
	orig := dialConnection
	dialConnection = func(ctx context.Context, a Address, cfg Config) (Connection, error) {
		conn, err := orig(ctx, a, cfg)
		if err != nil {
			return nil, err
		}
		conn.(*fakeConn).replies[clusterNodesArgsKey()] = text
		return conn, nil
	}
}

// Scenario 2: master failover (spec §8).
func TestReconcilerMasterFailover(t *testing.T) {
	a := testAddr(7000)
	aPrime := testAddr(7001)
	down := map[Address]bool{a: true}
	registry := newTestRegistry(t, down)
	seedClusterNodesReply(t, ""+
		"nodeA 127.0.0.1:7000@17000 master,fail - 0 0 1 disconnected\n"+
		"nodeAprime 127.0.0.1:7001@17001 master - 0 0 2 connected 0-5460\n")

	sr := SlotRange{0, 5460}
	partition := newPartition("nodeA")
	partition.MasterAddr = a
	partition.SlaveAddrs.Add(aPrime)
	partition.SlotRanges.Add(sr)

	entry := newEntry(registry.connector.cfg, false)
	entry.masterAddr = a
	entry.master = newFakeConn(a)
	entry.slots.Add(sr)
	registry.lastPartitions[sr] = partition
	registry.entries[sr] = entry

	re := &Reconciler{cfg: registry.connector.cfg, registry: registry}
	re.tick(context.Background())

	if got := entry.MasterAddr(); got != aPrime {
		t.Errorf("entry master = %v, want %v", got, aPrime)
	}
	gotPartition, ok := registry.Partition(sr)
	if !ok || gotPartition.MasterAddr != aPrime {
		t.Errorf("partition master = %+v, want %v", gotPartition, aPrime)
	}
}

// Scenario 3: slave added and removed (spec §8).
func TestReconcilerSlaveAddedAndRemoved(t *testing.T) {
	b := testAddr(7100)
	b1 := testAddr(7101)
	b2 := testAddr(7102)
	registry := newTestRegistry(t, nil)
	seedClusterNodesReply(t, ""+
		"nodeB 127.0.0.1:7100@17100 master - 0 0 1 connected 5461-10922\n"+
		"nodeB2 127.0.0.1:7102@17102 slave nodeB 0 0 1 connected\n")

	sr := SlotRange{5461, 10922}
	partition := newPartition("nodeB")
	partition.MasterAddr = b
	partition.SlaveAddrs.Add(b1)
	partition.SlotRanges.Add(sr)

	entry := newEntry(registry.connector.cfg, true)
	entry.masterAddr = b
	entry.master = newFakeConn(b)
	entry.slots.Add(sr)
	entry.slaves = append(entry.slaves, &slaveConn{addr: b1, conn: newFakeConn(b1)})
	registry.lastPartitions[sr] = partition
	registry.entries[sr] = entry

	re := &Reconciler{cfg: registry.connector.cfg, registry: registry}
	re.tick(context.Background())

	if partition.SlaveAddrs.Contains(b1) {
		t.Errorf("b1 should have been removed from the partition's slave set")
	}
	if !partition.SlaveAddrs.Contains(b2) {
		t.Errorf("b2 should have been added to the partition's slave set")
	}

	found := false
	for _, s := range entry.slaves {
		if s.addr == b2 && !s.down {
			found = true
		}
		if s.addr == b1 && !s.down {
			t.Errorf("b1 should be marked down on the entry")
		}
	}
	if !found {
		t.Errorf("entry should carry an up slave connection for b2")
	}
}

// Scenario 4: slot migration between existing masters (spec §8).
func TestReconcilerSlotMigration(t *testing.T) {
	a := testAddr(7200)
	b := testAddr(7201)
	registry := newTestRegistry(t, nil)
	seedClusterNodesReply(t, ""+
		"nodeA 127.0.0.1:7200@17200 master - 0 0 1 connected 0-6000\n"+
		"nodeB 127.0.0.1:7201@17201 master - 0 0 2 connected 6001-10922\n")

	srA := SlotRange{0, 5460}
	srB := SlotRange{5461, 10922}

	partitionA := newPartition("nodeA")
	partitionA.MasterAddr = a
	partitionA.SlotRanges.Add(srA)
	entryA := newEntry(registry.connector.cfg, false)
	entryA.masterAddr = a
	entryA.master = newFakeConn(a)
	entryA.slots.Add(srA)

	partitionB := newPartition("nodeB")
	partitionB.MasterAddr = b
	partitionB.SlotRanges.Add(srB)
	entryB := newEntry(registry.connector.cfg, false)
	entryB.masterAddr = b
	entryB.master = newFakeConn(b)
	entryB.slots.Add(srB)

	registry.lastPartitions[srA] = partitionA
	registry.entries[srA] = entryA
	registry.lastPartitions[srB] = partitionB
	registry.entries[srB] = entryB

	re := &Reconciler{cfg: registry.connector.cfg, registry: registry}
	re.tick(context.Background())

	newSrA := SlotRange{0, 6000}
	newSrB := SlotRange{6001, 10922}

	if e, ok := registry.GetEntry(newSrA); !ok || e != entryA {
		t.Errorf("0-6000 should now be served by the original A entry")
	}
	if e, ok := registry.GetEntry(newSrB); !ok || e != entryB {
		t.Errorf("6001-10922 should now be served by the original B entry")
	}
	if _, ok := registry.GetEntry(srA); ok {
		t.Errorf("stale range 0-5460 should no longer be registered")
	}
	if _, ok := registry.GetEntry(srB); ok {
		t.Errorf("stale range 5461-10922 should no longer be registered")
	}
	if len(entryA.SlotRanges()) == 0 {
		t.Errorf("entry A must not be destroyed by migration")
	}
	if len(entryB.SlotRanges()) == 0 {
		t.Errorf("entry B must not be destroyed by migration")
	}
}

// Scenario 5: master addition (spec §8). addMasterEntry runs fire-and-forget
// off the reconciler goroutine, so the assertion polls briefly for it to land.
func TestReconcilerMasterAddition(t *testing.T) {
	a := testAddr(7300)
	registry := newTestRegistry(t, nil)
	seedClusterNodesReply(t, ""+
		"nodeA 127.0.0.1:7300@17300 master - 0 0 1 connected 0-10922\n"+
		"nodeC 127.0.0.1:7302@17302 master - 0 0 2 connected 10923-16383\n")

	srA := SlotRange{0, 10922}
	partitionA := newPartition("nodeA")
	partitionA.MasterAddr = a
	partitionA.SlotRanges.Add(srA)
	entryA := newEntry(registry.connector.cfg, false)
	entryA.masterAddr = a
	entryA.master = newFakeConn(a)
	entryA.slots.Add(srA)
	registry.lastPartitions[srA] = partitionA
	registry.entries[srA] = entryA

	re := &Reconciler{cfg: registry.connector.cfg, registry: registry}
	re.tick(context.Background())

	srC := SlotRange{10923, 16383}
	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		if _, ok := registry.GetEntry(srC); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("master addition for 10923-16383 did not land via addMasterEntry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Scenario 6: total reachability loss during a tick (spec §8).
func TestReconcilerTotalReachabilityLoss(t *testing.T) {
	a := testAddr(7400)
	down := map[Address]bool{a: true}
	registry := newTestRegistry(t, down)

	sr := SlotRange{0, 16383}
	partition := newPartition("nodeA")
	partition.MasterAddr = a
	partition.SlotRanges.Add(sr)
	entry := newEntry(registry.connector.cfg, false)
	entry.masterAddr = a
	entry.master = newFakeConn(a)
	entry.slots.Add(sr)
	registry.lastPartitions[sr] = partition
	registry.entries[sr] = entry

	re := &Reconciler{cfg: registry.connector.cfg, registry: registry}
	re.tick(context.Background())

	if e, ok := registry.GetEntry(sr); !ok || e != entry {
		t.Errorf("registry must be untouched when every probe address is unreachable")
	}
}
