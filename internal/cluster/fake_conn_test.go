package cluster

import (
	"context"
	"fmt"
)

// fakeConn is a Connection double used throughout the package's tests so
// reconciliation logic can be exercised without a live Redis server.
type fakeConn struct {
	addr    Address
	active  bool
	replies map[string]interface{}
	err     error
}

func newFakeConn(addr Address) *fakeConn {
	return &fakeConn{addr: addr, active: true, replies: make(map[string]interface{})}
}

func (f *fakeConn) Sync(ctx context.Context, args ...interface{}) (interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := fmt.Sprint(args...)
	if v, ok := f.replies[key]; ok {
		return v, nil
	}
	return "OK", nil
}

func (f *fakeConn) IsActive() bool { return f.active }
func (f *fakeConn) CloseAsync()    { f.active = false }

// withFakeDialer replaces dialConnection for the duration of a test, always
// succeeding with a fresh fakeConn unless addr is in down.
func withFakeDialer(t interface{ Cleanup(func()) }, down map[Address]bool) {
	orig := dialConnection
	dialConnection = func(ctx context.Context, addr Address, cfg Config) (Connection, error) {
		if down[addr] {
			return nil, fmt.Errorf("fake dial: %s unreachable", addr)
		}
		return newFakeConn(addr), nil
	}
	t.Cleanup(func() { dialConnection = orig })
}

func testAddr(port int) Address {
	return Address{Host: "127.0.0.1", Port: port}
}

// clusterArgsKey mirrors how fakeConn.Sync derives a replies-map key from
// variadic command arguments, so test setup and the fake can agree on it.
func clusterArgsKey(args ...string) string {
	key := fmt.Sprint(toInterfaceSlice(args)...)
	return key
}

func toInterfaceSlice(args []string) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
