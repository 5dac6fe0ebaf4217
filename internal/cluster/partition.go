package cluster

// buildPartitions folds a NodeInfo list into one Partition per logical
// master. Nodes carrying NOADDR never reach this stage (the parser already
// dropped them). The partition key is the node's own id if it is a master,
// otherwise its masterId, so slaves collapse into their master's
// partition even when the master line appears later in the listing.
func buildPartitions(nodes []*NodeInfo) map[string]*Partition {
	partitions := make(map[string]*Partition)

	partitionFor := func(key string) *Partition {
		p, ok := partitions[key]
		if !ok {
			p = newPartition(key)
			partitions[key] = p
		}
		return p
	}

	for _, n := range nodes {
		key := n.NodeID
		if n.IsSlave() && n.MasterID != "" {
			key = n.MasterID
		}
		p := partitionFor(key)

		if n.IsSlave() {
			p.SlaveAddrs.Add(n.Addr)
			// A failed slave says nothing about its master's health, so
			// (unlike the reference this is modeled on, which taints the
			// partition from any FAIL-flagged member) masterFail is only
			// ever set from the master's own line. See DESIGN.md.
			continue
		}

		p.MasterAddr = n.Addr
		for _, sr := range n.Slots {
			p.SlotRanges.Add(sr)
		}
		if n.IsFail() {
			p.MasterFail = true
		}
	}

	return partitions
}
