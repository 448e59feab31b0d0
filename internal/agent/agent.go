// Package agent defines the closed set of agent kinds, the per-agent
// instance/result data model, and the single-writer registry that is the
// sole mutable directory shared by a hierarchy.
//
// Grounded on goa-ai's runtime/agent (Ident, AgentRoute) for identity
// conventions and on its tagged-variant style (no inheritance: a closed
// Kind enumeration dispatched by the executor via a switch) rather than its
// Temporal-workflow execution model, which this spec's single-process
// cooperative scheduler does not use.
package agent

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind is the closed set of agent roles in the hierarchy.
type Kind string

const (
	Orchestrator Kind = "orchestrator"
	Planner      Kind = "planner"
	Coder        Kind = "coder"
	Reviewer     Kind = "reviewer"
	Tester       Kind = "tester"
)

// Status is the closed set of lifecycle states for one agent.
type Status string

const (
	Ready              Status = "ready"
	Running            Status = "running"
	WaitingForChildren Status = "waiting_for_children"
	Completed          Status = "completed"
	Failed             Status = "failed"
	Cancelled          Status = "cancelled"
)

// Terminal reports whether s is one of the terminal states that never
// transitions further.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// MaxDepth is the hard depth cap: depth 2 agents may never spawn children
// regardless of kind.
const MaxDepth = 2

// CanSpawn implements the spawn policy matrix: Orchestrator may
// spawn only Planner; Planner may spawn any worker kind; workers spawn
// nothing; depth 2 may never spawn regardless of kind.
func CanSpawn(parentKind Kind, parentDepth int, childKind Kind) bool {
	if parentDepth >= MaxDepth {
		return false
	}
	switch parentKind {
	case Orchestrator:
		return childKind == Planner
	case Planner:
		return childKind == Coder || childKind == Reviewer || childKind == Tester
	default:
		return false
	}
}

// ArtifactKind is the closed set of artifact kinds produced by an agent.
type ArtifactKind string

const (
	ArtifactCode   ArtifactKind = "code"
	ArtifactReview ArtifactKind = "review"
	ArtifactTest   ArtifactKind = "test"
	ArtifactPlan   ArtifactKind = "plan"
)

// Artifact is a tagged blob produced by an agent, later subject to skill
// extraction.
type Artifact struct {
	Kind    ArtifactKind
	Name    string
	Content string
}

// Result is the terminal outcome of executing one agent. Invariant: if
// Success is false, Output describes the error.
type Result struct {
	Success      bool
	Output       string
	Artifacts    []Artifact
	TokensUsed   uint64
	ChildTokens  *uint64
	ErrorMessage string
}

// Instance is one node in the agent hierarchy tree.
//
// Invariants: ParentID is set iff Depth > 0; Depth equals
// len(Path)-1; once Status is terminal it never changes again.
type Instance struct {
	ID         uuid.UUID
	Kind       Kind
	Path       []string
	ParentID   *uuid.UUID
	Depth      int
	Status     Status
	TokensUsed uint64
	Result     *Result
}

// NewRootInstance constructs the depth-0 instance for a hierarchy.
func NewRootInstance(kind Kind, name string) *Instance {
	id := uuid.New()
	return &Instance{
		ID:     id,
		Kind:   kind,
		Path:   []string{name},
		Depth:  0,
		Status: Ready,
	}
}

// NewChildInstance constructs a child instance one level below parent. It
// panics if parent.Depth already reached MaxDepth or if childKind is not
// spawnable by parent.Kind at parent.Depth — this is the "programmer error,
// not a runtime input" case: callers (the executor) must
// check CanSpawn before calling this constructor, so a violation here
// indicates a bug at the API edge, not a user-triggerable failure.
func NewChildInstance(parent *Instance, childKind Kind, name string) *Instance {
	if !CanSpawn(parent.Kind, parent.Depth, childKind) {
		panic(fmt.Sprintf("agent: %s at depth %d cannot spawn %s", parent.Kind, parent.Depth, childKind))
	}
	id := uuid.New()
	parentID := parent.ID
	path := make([]string, len(parent.Path)+1)
	copy(path, parent.Path)
	path[len(path)-1] = name
	return &Instance{
		ID:       id,
		Kind:     childKind,
		Path:     path,
		ParentID: &parentID,
		Depth:    parent.Depth + 1,
		Status:   Ready,
	}
}
