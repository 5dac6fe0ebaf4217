package cluster

import (
	"context"
	"testing"
)

// Scenario 1: bootstrap three masters, no slaves (spec §8).
func TestBootstrapThreeMasters(t *testing.T) {
	seed := testAddr(6379)
	withFakeDialer(t, nil)
	seedClusterNodesReply(t, ""+
		"nodeA 127.0.0.1:6379@16379 myself,master - 0 0 1 connected 0-5460\n"+
		"nodeB 127.0.0.1:6380@16380 master - 0 0 2 connected 5461-10922\n"+
		"nodeC 127.0.0.1:6381@16381 master - 0 0 3 connected 10923-16383\n")
	seedClusterInfoOK(t)

	cfg := Config{NodeAddresses: []string{seed.String()}}
	cfg.ApplyDefaults()

	registry, err := Bootstrap(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	if got := len(registry.Ranges()); got != 3 {
		t.Fatalf("registry has %d ranges, want 3", got)
	}

	// CalculateSlot("foo") == 12182, which falls in 10923-16383 (node C).
	entry, ok := registry.GetEntryBySlot(CalculateSlot("foo"))
	if !ok {
		t.Fatalf("no entry resolves slot for key %q", "foo")
	}
	cEntry, ok := registry.GetEntryByAddress(testAddr(6381))
	if !ok {
		t.Fatalf("no entry registered for master 127.0.0.1:6381")
	}
	if entry != cEntry {
		t.Errorf("calcSlot(\"foo\") should resolve to the entry owning 10923-16383")
	}
}

func TestBootstrapFailsWithNoReachableSeed(t *testing.T) {
	withFakeDialer(t, map[Address]bool{testAddr(6379): true})
	cfg := Config{NodeAddresses: []string{testAddr(6379).String()}}
	cfg.ApplyDefaults()

	_, err := Bootstrap(context.Background(), cfg)
	if err == nil {
		t.Fatalf("Bootstrap() should fail when every seed is unreachable")
	}
	if _, ok := err.(*BootstrapError); !ok {
		t.Errorf("Bootstrap() error type = %T, want *BootstrapError", err)
	}
}

func seedClusterInfoOK(t *testing.T) {
	t.Helper()
	orig := dialConnection
	dialConnection = func(ctx context.Context, a Address, cfg Config) (Connection, error) {
		conn, err := orig(ctx, a, cfg)
		if err != nil {
			return nil, err
		}
		conn.(*fakeConn).replies[clusterInfoArgsKey()] = "cluster_state:ok\r\n"
		return conn, nil
	}
}

func clusterInfoArgsKey() string {
	return clusterArgsKey("CLUSTER", "INFO")
}
