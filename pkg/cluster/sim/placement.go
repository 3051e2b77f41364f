package sim

import "github.com/edgesurveillance/eventbus/pkg/types"

// selectNode picks the least-loaded node whose labels satisfy every
// placement constraint of the form "node.labels.<key>==<value>". This is
// the same least-loaded selection strategy the teacher orchestrator used
// for its own service scheduling, narrowed here to the constraint syntax
// the container manager issues (role==edge).
func (d *Driver) selectNode(constraints []string) *types.NodeInfo {
	candidates := filterByConstraints(d.nodes, constraints)
	if len(candidates) == 0 {
		return nil
	}

	var best *types.NodeInfo
	minLoad := int(^uint(0) >> 1) // max int
	for i := range candidates {
		n := candidates[i]
		if n.State != types.NodeStateReady || n.Availability != types.NodeAvailabilityActive {
			continue
		}
		load := d.runningTasksOnNode(n.NodeID)
		if load < minLoad {
			minLoad = load
			best = &candidates[i]
		}
	}
	return best
}

// filterByConstraints keeps nodes satisfying every "node.labels.K==V"
// constraint. Constraints that don't match this shape are ignored rather
// than rejecting every node, since the driver only ever issues label
// constraints.
func filterByConstraints(nodes []types.NodeInfo, constraints []string) []types.NodeInfo {
	if len(constraints) == 0 {
		return nodes
	}

	wanted := map[string]string{}
	for _, c := range constraints {
		k, v, ok := parseLabelConstraint(c)
		if ok {
			wanted[k] = v
		}
	}

	var out []types.NodeInfo
	for _, n := range nodes {
		if labelsMatch(n.Labels, wanted) {
			out = append(out, n)
		}
	}
	return out
}

// parseLabelConstraint parses "node.labels.<key>==<value>" into (key,
// value). Any other shape is reported as not-ok and ignored by the
// caller.
func parseLabelConstraint(constraint string) (key, value string, ok bool) {
	const prefix = "node.labels."
	if len(constraint) <= len(prefix) || constraint[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := constraint[len(prefix):]
	for i := 0; i+1 < len(rest); i++ {
		if rest[i] == '=' && rest[i+1] == '=' {
			return rest[:i], rest[i+2:], true
		}
	}
	return "", "", false
}
