package cluster

import (
	"context"
	"sync"

	"github.com/cyburs/redisson/internal/logger"
)

// SlaveDownReason codes why a slave connection was marked unusable.
type SlaveDownReason string

const (
	ReasonManager   SlaveDownReason = "MANAGER"
	ReasonReconnect SlaveDownReason = "RECONNECT"
)

type slaveConn struct {
	addr Address
	conn Connection
	down bool
}

// Entry is the runtime object owning the connections for one partition's
// worth of traffic: the master connection, and — when the manager is
// configured to read from slaves — a slave pool with simple round-robin
// balancing. Its own slot-range set decides its lifecycle: created when a
// new master first appears, destroyed when its last slot range is
// reassigned away.
type Entry struct {
	cfg            Config
	readFromSlaves bool

	mu         sync.Mutex
	masterAddr Address
	master     Connection
	slaves     []*slaveConn
	nextSlave  int
	slots      SlotRangeSet
}

func newEntry(cfg Config, readFromSlaves bool) *Entry {
	return &Entry{
		cfg:            cfg,
		readFromSlaves: readFromSlaves,
		slots:          make(SlotRangeSet),
	}
}

// SetupMaster dials the master connection. Mirrors the
// "setupMasterEntry(host, port)" external operation (spec §6): a
// suspension point the bootstrap path awaits synchronously and the
// reconciler path fires without waiting for.
func (e *Entry) SetupMaster(ctx context.Context, addr Address) error {
	conn, err := dialConnection(ctx, addr, e.cfg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.master != nil {
		e.master.CloseAsync()
	}
	e.masterAddr = addr
	e.master = conn
	e.mu.Unlock()
	return nil
}

// InitSlaveBalancer dials every slave address up front when the manager
// reads from slaves. Failures are logged and skipped. A slave that
// couldn't be dialed here is left out of the pool, while its address stays
// in the registered partition; the slave-set diff therefore does not dial
// it again as long as the listing keeps reporting it.
func (e *Entry) InitSlaveBalancer(ctx context.Context, addrs []Address) {
	if !e.readFromSlaves {
		return
	}
	for _, addr := range addrs {
		conn, err := dialConnection(ctx, addr, e.cfg)
		if err != nil {
			logger.Warn("cluster: failed to connect to slave %s: %v", addr, err)
			continue
		}
		e.mu.Lock()
		e.slaves = append(e.slaves, &slaveConn{addr: addr, conn: conn})
		e.mu.Unlock()
	}
}

// MasterAddr returns the entry's current master address.
func (e *Entry) MasterAddr() Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.masterAddr
}

// ChangeMaster retargets the entry to a new master endpoint. Existing
// slave connections are unaffected (spec §4.5). The prior master
// connection is closed asynchronously once the new one is in place rather
// than left to idle-timeout, since it is known stale the instant a new
// master is assigned (see DESIGN.md open question).
func (e *Entry) ChangeMaster(ctx context.Context, addr Address) error {
	conn, err := dialConnection(ctx, addr, e.cfg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	old := e.master
	e.masterAddr = addr
	e.master = conn
	e.mu.Unlock()
	if old != nil {
		old.CloseAsync()
	}
	return nil
}

// AddSlotRange associates sr with this entry.
func (e *Entry) AddSlotRange(sr SlotRange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.slots.Add(sr)
}

// RemoveSlotRange detaches sr from this entry and reports whether the
// entry now serves no slot ranges at all (the signal callers use to decide
// whether to decommission it).
func (e *Entry) RemoveSlotRange(sr SlotRange) (empty bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.slots.Remove(sr)
	return len(e.slots) == 0
}

// SlotRanges returns the entry's current slot-range set.
func (e *Entry) SlotRanges() []SlotRange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slots.Keys()
}

// AddSlave registers a newly discovered slave address with the pool.
func (e *Entry) AddSlave(ctx context.Context, addr Address) {
	if !e.readFromSlaves {
		return
	}
	conn, err := dialConnection(ctx, addr, e.cfg)
	if err != nil {
		logger.Warn("cluster: failed to connect to new slave %s: %v", addr, err)
		return
	}
	e.mu.Lock()
	e.slaves = append(e.slaves, &slaveConn{addr: addr, conn: conn})
	e.mu.Unlock()
}

// RemoveSlaveAddress drops addr from the pool entirely, closing its
// connection asynchronously.
func (e *Entry) RemoveSlaveAddress(addr Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.slaves[:0]
	for _, s := range e.slaves {
		if s.addr == addr {
			s.conn.CloseAsync()
			continue
		}
		kept = append(kept, s)
	}
	e.slaves = kept
}

// SlaveDown marks a slave endpoint unusable with the given reason; it is
// excluded from the round-robin balancer until SlaveUp reinstates it.
func (e *Entry) SlaveDown(addr Address, reason SlaveDownReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.slaves {
		if s.addr == addr {
			s.down = true
		}
	}
	logger.Info("cluster: slave %s marked down (%s)", addr, reason)
}

// SlaveUp reinstates a previously downed slave endpoint.
func (e *Entry) SlaveUp(addr Address, reason SlaveDownReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.slaves {
		if s.addr == addr {
			s.down = false
		}
	}
	logger.Info("cluster: slave %s marked up (%s)", addr, reason)
}

// PickSlave returns the next usable slave connection in round-robin order,
// or (nil, false) when readFromSlaves is off or every slave is down.
func (e *Entry) PickSlave() (Connection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.slaves)
	if n == 0 {
		return nil, false
	}
	for i := 0; i < n; i++ {
		idx := (e.nextSlave + i) % n
		s := e.slaves[idx]
		if !s.down {
			e.nextSlave = (idx + 1) % n
			return s.conn, true
		}
	}
	return nil, false
}

// GetClient returns the master connection used for command dispatch.
func (e *Entry) GetClient() Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.master
}

// ShutdownAsync tears down the master and every slave connection without
// blocking the caller.
func (e *Entry) ShutdownAsync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.master != nil {
		e.master.CloseAsync()
	}
	for _, s := range e.slaves {
		s.conn.CloseAsync()
	}
}
