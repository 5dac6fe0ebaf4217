package cluster

import (
	"strings"
)

// parseClusterNodes converts the raw body of CLUSTER NODES into NodeInfo
// records, preserving input order. Example lines:
//
//	07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:30004@31004 slave e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 0 1426238317239 4 connected
//	67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 127.0.0.1:30002@31002 master - 0 1426238316232 2 connected 5461-10922
//
// A malformed line is dropped and parsing continues with the rest of the
// listing; a completely unparseable payload yields an empty slice, which
// callers treat as "no update this tick".
func parseClusterNodes(output string) []*NodeInfo {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	nodes := make([]*NodeInfo, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		node, ok := parseNodeLine(line)
		if !ok {
			continue
		}
		nodes = append(nodes, node)
	}

	return nodes
}

func parseNodeLine(line string) (*NodeInfo, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return nil, false
	}

	flags := parseFlags(fields[2])
	if flags.Has(FlagNoAddr) {
		return nil, false
	}

	addr, err := ParseAddress(fields[1])
	if err != nil {
		return nil, false
	}

	node := &NodeInfo{
		NodeID: fields[0],
		Addr:   addr,
		Flags:  flags,
	}
	if master := fields[3]; master != "-" {
		node.MasterID = master
	}

	for _, slotField := range fields[8:] {
		// Migration markers look like "[1234->-<nodeid>]" or
		// "[1234-<-<nodeid>]"; this parser does no per-slot ASK handling,
		// so they're ignored outright rather than parsed.
		if strings.HasPrefix(slotField, "[") {
			continue
		}
		sr, err := parseSlotRange(slotField)
		if err != nil {
			continue
		}
		node.Slots = append(node.Slots, sr)
	}

	return node, true
}

// renderNodeInfo renders a NodeInfo list back into CLUSTER NODES line
// format in canonical form. It exists to support the parse(render(x)) == x
// round-trip property and is not a full encoder of every field CLUSTER
// NODES reports (ping/pong/epoch are rendered as fixed placeholders).
func renderNodeInfo(nodes []*NodeInfo) string {
	var b strings.Builder
	for i, n := range nodes {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(n.NodeID)
		b.WriteByte(' ')
		b.WriteString(n.Addr.String())
		b.WriteByte(' ')
		b.WriteString(renderFlags(n.Flags))
		b.WriteByte(' ')
		if n.MasterID == "" {
			b.WriteByte('-')
		} else {
			b.WriteString(n.MasterID)
		}
		b.WriteString(" 0 0 0 connected")
		for _, sr := range n.Slots {
			b.WriteByte(' ')
			b.WriteString(sr.String())
		}
	}
	return b.String()
}

func renderFlags(f Flags) string {
	var parts []string
	if f.Has(FlagMyself) {
		parts = append(parts, "myself")
	}
	if f.Has(FlagMaster) {
		parts = append(parts, "master")
	} else if f.Has(FlagSlave) {
		parts = append(parts, "slave")
	}
	if f.Has(FlagFail) {
		parts = append(parts, "fail")
	}
	if f.Has(FlagHandshake) {
		parts = append(parts, "handshake")
	}
	if len(parts) == 0 {
		return "noflags"
	}
	return strings.Join(parts, ",")
}

// parseClusterInfo parses the colon-separated "key:value\r\n" body of
// CLUSTER INFO into a map, as consumed by the bootstrap admission check
// (cluster_state == "ok" | "fail").
func parseClusterInfo(output string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		info[k] = v
	}
	return info
}
