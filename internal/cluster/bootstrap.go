package cluster

import (
	"context"
	"fmt"

	"github.com/cyburs/redisson/internal/logger"
)

// Bootstrap discovers the initial cluster layout from the configured seed
// list and populates a fresh Registry (spec §4.6). For each seed address
// in order: probe-connect, issue CLUSTER NODES, parse, build partitions;
// stop at the first seed whose partitions register at least one slot
// range. If no seed produces any registered slot range, bootstrap returns
// a *BootstrapError — the manager refuses to start with an empty routing
// table.
func Bootstrap(ctx context.Context, cfg Config) (*Registry, error) {
	registry := newRegistry(cfg)
	var errs []error

	for _, raw := range cfg.NodeAddresses {
		addr, err := ParseAddress(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		conn, ok := registry.connector.Connect(ctx, addr, true)
		if !ok {
			errs = append(errs, fmt.Errorf("seed %s unreachable", addr))
			continue
		}

		reply, err := conn.Sync(ctx, "CLUSTER", "NODES")
		if err != nil {
			errs = append(errs, fmt.Errorf("CLUSTER NODES on seed %s: %w", addr, err))
			continue
		}
		text, ok := reply.(string)
		if !ok {
			errs = append(errs, fmt.Errorf("seed %s: unexpected CLUSTER NODES reply type", addr))
			continue
		}

		partitions := buildPartitions(parseClusterNodes(text))
		if len(partitions) == 0 {
			continue
		}

		registered := 0
		for _, p := range partitions {
			registered += addMasterEntry(ctx, registry, cfg, p, true)
		}
		if registered > 0 {
			return registry, nil
		}
	}

	return nil, &BootstrapError{Seeds: cfg.NodeAddresses, Errs: errs}
}

// addMasterEntry implements the per-partition admission procedure from
// spec §4.6: it probe-connects to the master, checks CLUSTER INFO for a
// healthy cluster state, and only then constructs and registers an entry.
// It returns the number of slot ranges registered — 0 for every no-op path
// (failed master, fail-flagged partition, unhealthy cluster_state, setup
// failure), matching "the reconciler will retry on the next tick" for all
// of them alike.
func addMasterEntry(ctx context.Context, registry *Registry, cfg Config, partition *Partition, suppressLogs bool) int {
	if partition.MasterFail {
		logger.Warn("cluster: partition %s master %s is FAIL-flagged, skipping this tick", partition.NodeID, partition.MasterAddr)
		return 0
	}

	conn, ok := registry.connector.Connect(ctx, partition.MasterAddr, suppressLogs)
	if !ok {
		return 0
	}

	reply, err := conn.Sync(ctx, "CLUSTER", "INFO")
	if err != nil {
		if !suppressLogs {
			logger.Warn("cluster: CLUSTER INFO on %s failed: %v", partition.MasterAddr, err)
		}
		return 0
	}
	text, _ := reply.(string)
	info := parseClusterInfo(text)
	if info["cluster_state"] == "fail" {
		if !suppressLogs {
			logger.Warn("cluster: %s reports cluster_state=fail, skipping this tick", partition.MasterAddr)
		}
		return 0
	}

	entry := newEntry(cfg, cfg.ReadFromSlaves)
	entry.InitSlaveBalancer(ctx, partition.SlaveAddrs.Keys())

	if err := entry.SetupMaster(ctx, partition.MasterAddr); err != nil {
		if !suppressLogs {
			logger.Warn("cluster: failed to set up master %s: %v", partition.MasterAddr, err)
		}
		entry.ShutdownAsync()
		return 0
	}

	snapshot := partition.Clone()
	ranges := partition.SlotRanges.Keys()
	for _, sr := range ranges {
		registry.AddEntry(sr, snapshot, entry)
	}
	return len(ranges)
}
