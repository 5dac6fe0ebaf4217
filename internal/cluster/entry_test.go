package cluster

import (
	"context"
	"testing"
)

func TestEntryPickSlaveRoundRobinSkipsDown(t *testing.T) {
	withFakeDialer(t, nil)
	var cfg Config
	cfg.ApplyDefaults()

	e := newEntry(cfg, true)
	e.slaves = []*slaveConn{
		{addr: testAddr(1), conn: newFakeConn(testAddr(1))},
		{addr: testAddr(2), conn: newFakeConn(testAddr(2)), down: true},
		{addr: testAddr(3), conn: newFakeConn(testAddr(3))},
	}

	first, ok := e.PickSlave()
	if !ok {
		t.Fatalf("PickSlave() should find a usable slave")
	}
	second, ok := e.PickSlave()
	if !ok {
		t.Fatalf("PickSlave() should find a usable slave")
	}
	if first == second {
		t.Errorf("round-robin should not return the same connection twice in a row when more than one is usable")
	}
	for i := 0; i < 5; i++ {
		conn, ok := e.PickSlave()
		if !ok {
			t.Fatalf("PickSlave() should always find a usable slave while two are up")
		}
		if conn == e.slaves[1].conn {
			t.Errorf("PickSlave() must never return a down slave's connection")
		}
	}
}

func TestEntryRemoveSlotRangeReportsEmpty(t *testing.T) {
	var cfg Config
	e := newEntry(cfg, false)
	sr := SlotRange{0, 100}
	e.AddSlotRange(sr)

	if empty := e.RemoveSlotRange(sr); !empty {
		t.Errorf("RemoveSlotRange should report empty once the last range is removed")
	}
}

func TestEntryChangeMasterClosesPriorConnection(t *testing.T) {
	withFakeDialer(t, nil)
	var cfg Config
	cfg.ApplyDefaults()

	e := newEntry(cfg, false)
	old := newFakeConn(testAddr(1))
	e.master = old
	e.masterAddr = testAddr(1)

	if err := e.ChangeMaster(context.Background(), testAddr(2)); err != nil {
		t.Fatalf("ChangeMaster() error = %v", err)
	}
	if old.active {
		t.Errorf("ChangeMaster should close the prior master connection immediately")
	}
	if e.MasterAddr() != testAddr(2) {
		t.Errorf("MasterAddr() = %v, want %v", e.MasterAddr(), testAddr(2))
	}
}
