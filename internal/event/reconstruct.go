package event

import (
	"github.com/google/uuid"

	"github.com/strataga/demiarch-sub000/internal/agent"
)

// Reconstruct folds a session's event stream back into the hierarchy view
// the registry would have produced: later events for the same agent id
// supersede earlier ones, so replaying a full log yields each agent's
// final status and token count.
func Reconstruct(events []Event) agent.HierarchyView {
	latest := make(map[uuid.UUID]AgentSnapshot)
	order := make([]uuid.UUID, 0, len(events))
	for _, e := range events {
		if _, seen := latest[e.Agent.ID]; !seen {
			order = append(order, e.Agent.ID)
		}
		latest[e.Agent.ID] = e.Agent
	}

	nodes := make(map[uuid.UUID]*agent.Node, len(latest))
	for _, id := range order {
		snap := latest[id]
		nodes[id] = &agent.Node{
			ID:         snap.ID,
			Kind:       snap.Kind,
			Name:       snap.Name,
			ParentID:   snap.ParentID,
			Path:       append([]string{}, snap.Path...),
			Status:     snap.Status,
			TokensUsed: snap.Tokens,
		}
	}

	var roots []*agent.Node
	for _, id := range order {
		n := nodes[id]
		if n.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		if parent, ok := nodes[*n.ParentID]; ok {
			parent.Children = append(parent.Children, n)
		} else {
			// Parent never appeared in this log slice (e.g. a tail read);
			// keep the node visible as its own root.
			roots = append(roots, n)
		}
	}
	return agent.HierarchyView{Roots: roots}
}
