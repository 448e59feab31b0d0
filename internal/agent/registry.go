package agent

import (
	"sync"

	"github.com/google/uuid"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// Registry is the sole mutable directory of a hierarchy: an id→Instance map
// guarded by a single-writer/many-reader lock. It is shared by
// every agent in a hierarchy via the shared runtime state handle.
type Registry struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*Instance
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uuid.UUID]*Instance)}
}

// Register inserts inst into the registry. Callers do this exactly once per
// agent id, at spawn time, before the Spawned event is emitted.
func (r *Registry) Register(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[inst.ID] = inst
}

// Get returns a copy of the instance for id, or false if unknown.
func (r *Registry) Get(id uuid.UUID) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[id]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// Transition moves the agent's status forward. It refuses (returns a
// Conflict error) to move a terminal status anywhere, honoring the
// never-decreases invariant and the monotonicity property
func (r *Registry) Transition(id uuid.UUID, next Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[id]
	if !ok {
		return demerr.New(demerr.NotFound, "registry.Transition", "unknown agent id")
	}
	if inst.Status.Terminal() {
		return demerr.New(demerr.Conflict, "registry.Transition", "agent already in terminal status")
	}
	inst.Status = next
	return nil
}

// SetTokensUsed records the running token count for id.
func (r *Registry) SetTokensUsed(id uuid.UUID, tokens uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.byID[id]; ok {
		inst.TokensUsed = tokens
	}
}

// Complete is the sole path to a terminal status plus a result, applied
// atomically under the registry lock so a terminal transition and its
// result are observed together.
func (r *Registry) Complete(id uuid.UUID, status Status, result *Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[id]
	if !ok {
		return demerr.New(demerr.NotFound, "registry.Complete", "unknown agent id")
	}
	if inst.Status.Terminal() {
		return demerr.New(demerr.Conflict, "registry.Complete", "agent already in terminal status")
	}
	if status != Completed && status != Failed && status != Cancelled {
		return demerr.New(demerr.InvalidInput, "registry.Complete", "status is not terminal")
	}
	inst.Status = status
	inst.Result = result
	if result != nil {
		inst.TokensUsed = result.TokensUsed
	}
	return nil
}

// Node is one entry of a HierarchyView: a registry snapshot shaped for
// rendering or serialization.
type Node struct {
	ID         uuid.UUID  `json:"id"`
	Kind       Kind       `json:"kind"`
	Name       string     `json:"name"`
	ParentID   *uuid.UUID `json:"parent_id,omitempty"`
	Path       []string   `json:"path"`
	Status     Status     `json:"status"`
	TokensUsed uint64     `json:"tokens_used"`
	Children   []*Node    `json:"children,omitempty"`
}

// HierarchyView is a deterministic, serializable view of the full tree held
// by a registry at one instant.
type HierarchyView struct {
	Roots []*Node `json:"roots"`
}

// Snapshot builds a HierarchyView from the current registry contents. Nodes
// are ordered by path so the view is deterministic across calls for a fixed
// registry state.
func (r *Registry) Snapshot() HierarchyView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make(map[uuid.UUID]*Node, len(r.byID))
	for id, inst := range r.byID {
		name := ""
		if len(inst.Path) > 0 {
			name = inst.Path[len(inst.Path)-1]
		}
		nodes[id] = &Node{
			ID:         id,
			Kind:       inst.Kind,
			Name:       name,
			ParentID:   inst.ParentID,
			Path:       append([]string{}, inst.Path...),
			Status:     inst.Status,
			TokensUsed: inst.TokensUsed,
		}
	}

	var roots []*Node
	for id, n := range nodes {
		inst := r.byID[id]
		if inst.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		if parent, ok := nodes[*inst.ParentID]; ok {
			parent.Children = append(parent.Children, n)
		} else {
			// Parent not present in this registry view (e.g. pruned);
			// surface the node as its own root rather than dropping it.
			roots = append(roots, n)
		}
	}
	sortNodes(roots)
	for _, n := range nodes {
		sortNodes(n.Children)
	}
	return HierarchyView{Roots: roots}
}

func sortNodes(nodes []*Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && pathLess(nodes[j].Path, nodes[j-1].Path); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

func pathLess(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
