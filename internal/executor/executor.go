package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/strataga/demiarch-sub000/internal/agent"
	"github.com/strataga/demiarch-sub000/internal/completion"
	"github.com/strataga/demiarch-sub000/internal/contextengine"
	"github.com/strataga/demiarch-sub000/internal/cost"
	"github.com/strataga/demiarch-sub000/internal/event"
	"github.com/strataga/demiarch-sub000/internal/router"
)

// ChildTask describes one child an agent chooses to spawn: its kind, the
// name segment appended to the hierarchy path, and its own task
// descriptor.
type ChildTask struct {
	Kind agent.Kind
	Name string
	Task Task
}

// Task is everything one agent needs to execute, independent of its place
// in the hierarchy").
type Task struct {
	Description      string
	SystemPrompt     string
	Complexity       router.Complexity
	PrioritizeSpeed  bool
	RequiresAccuracy bool
	MaxCostUSD       *float64
	Preference       router.Preference

	// Plan decides which children (if any) to spawn given the completion
	// response this agent received. Returning nil means no children. This
	// is the executor's hook for agent-kind-specific business logic, which
	// lives outside the runtime core.
	Plan func(resp completion.Response) []ChildTask
}

// AgentContext is the inherited state an agent executes with: its place in
// the hierarchy, the messages inherited from its parent, and the shared
// runtime state handle.
type AgentContext struct {
	ID       uuid.UUID
	Kind     agent.Kind
	Path     []string
	ParentID *uuid.UUID
	Depth    int

	Inherited []contextengine.Message
	Shared    *SharedState
}

// Executor runs one agent to completion
type Executor struct {
	clock func() time.Time
}

// New returns an Executor. The clock is injectable for deterministic tests.
func New() *Executor {
	return &Executor{clock: time.Now}
}

// Execute implements the state machine: register, build context,
// route, call, optionally spawn children, aggregate, and produce a
// terminal AgentResult. It panics only on programmer misuse: an
// AgentContext deeper than agent.MaxDepth, or a Plan that returns a child
// kind agent.CanSpawn rejects.
func (x *Executor) Execute(ctx context.Context, ac AgentContext, task Task) (agent.Result, error) {
	if ac.Depth > agent.MaxDepth {
		panic("executor: agent depth exceeds MaxDepth at API edge")
	}

	shared := ac.Shared
	inst := instanceFor(ac)
	shared.Registry.Register(inst)
	x.emit(ctx, shared, event.Spawned, *inst, task.Description)

	if shared.Cancel.Cancelled() {
		return x.failCancelled(ctx, shared, inst)
	}
	if err := shared.Registry.Transition(inst.ID, agent.Running); err != nil {
		return agent.Result{}, err
	}
	x.emit(ctx, shared, event.Started, withStatus(inst, agent.Running), task.Description)

	window := x.buildWindow(ac)

	taskCtx := router.TaskContext{
		AgentKind:            ac.Kind,
		Complexity:           task.Complexity,
		EstimatedInputTokens: window.SystemTokens() + window.ContextTokens(),
		PrioritizeSpeed:      task.PrioritizeSpeed,
		RequiresAccuracy:     task.RequiresAccuracy,
		MaxCostUSD:           task.MaxCostUSD,
		Preference:           task.Preference,
	}

	decision, err := shared.Router.Select(taskCtx, shared.Tracker)
	if err != nil {
		return x.failWith(ctx, shared, inst, err)
	}

	if shared.Cancel.Cancelled() {
		return x.failCancelled(ctx, shared, inst)
	}

	resp, callErr := x.callModel(ctx, shared, window, decision, taskCtx)
	if callErr != nil {
		return x.failWith(ctx, shared, inst, callErr)
	}

	tokensUsed := uint64(resp.InputTokens + resp.OutputTokens)
	shared.Registry.SetTokensUsed(inst.ID, tokensUsed)
	x.emit(ctx, shared, event.TokenUpdate, withTokens(inst, tokensUsed), "")

	var children []ChildTask
	if task.Plan != nil {
		children = task.Plan(resp)
	}

	if len(children) == 0 {
		result := agent.Result{Success: true, Output: resp.Text, TokensUsed: tokensUsed}
		return x.complete(ctx, shared, inst, agent.Completed, result)
	}

	return x.spawnAndAggregate(ctx, ac, inst, window, resp, tokensUsed, children)
}

// spawnAndAggregate implements the child-spawning step: derive each
// child's context via ChildWindow (applying the depth-appropriate
// disclosure compression), submit all children concurrently, transition
// self to WaitingForChildren before awaiting, and collect results in
// completion order without short-circuiting on the first failure — every
// child is awaited unless the shared cancellation token fires.
func (x *Executor) spawnAndAggregate(ctx context.Context, ac AgentContext, inst *agent.Instance, window *contextengine.Window, resp completion.Response, selfTokens uint64, children []ChildTask) (agent.Result, error) {
	shared := ac.Shared

	if err := shared.Registry.Transition(inst.ID, agent.WaitingForChildren); err != nil {
		return agent.Result{}, err
	}
	x.emit(ctx, shared, event.StatusUpdate, withStatus(inst, agent.WaitingForChildren), "")

	type childOutcome struct {
		result agent.Result
		tokens uint64
		err    error
	}

	resultsCh := make(chan childOutcome, len(children))

	for _, ch := range children {
		ch := ch
		if !agent.CanSpawn(inst.Kind, inst.Depth, ch.Kind) {
			panic("executor: planned child kind is not spawnable at this depth")
		}

		childInst := agent.NewChildInstance(inst, ch.Kind, ch.Name)
		childAlloc := shared.Budget.AllocationForDepth(childInst.Depth)
		childWindow := window.ChildWindow(childInst.Depth, childAlloc)

		childAC := AgentContext{
			ID:        childInst.ID,
			Kind:      childInst.Kind,
			Path:      childInst.Path,
			ParentID:  &inst.ID,
			Depth:     childInst.Depth,
			Inherited: combineMessages(childWindow),
			Shared:    shared,
		}

		go func() {
			select {
			case <-shared.Cancel.Done():
				resultsCh <- childOutcome{err: nil, result: agent.Result{Success: false, Output: "cancelled", ErrorMessage: "cancelled"}}
				return
			default:
			}
			res, err := x.Execute(ctx, childAC, ch.Task)
			resultsCh <- childOutcome{result: res, tokens: res.TokensUsed, err: err}
		}()
	}

	var (
		allSucceeded = true
		childTokens  uint64
		lastErr      error
	)
	for i := 0; i < len(children); i++ {
		outcome := <-resultsCh
		childTokens += outcome.tokens
		if outcome.err != nil {
			lastErr = outcome.err
			allSucceeded = false
			continue
		}
		if !outcome.result.Success {
			allSucceeded = false
		}
	}

	if lastErr != nil {
		return x.failWith(ctx, shared, inst, lastErr)
	}

	total := selfTokens + childTokens
	shared.Registry.SetTokensUsed(inst.ID, total)

	status := agent.Completed
	if !allSucceeded {
		status = agent.Failed
	}
	result := agent.Result{
		Success:     allSucceeded,
		Output:      resp.Text,
		TokensUsed:  total,
		ChildTokens: &childTokens,
	}
	if !allSucceeded {
		result.ErrorMessage = "one or more children did not complete successfully"
		result.Output = result.ErrorMessage
	}
	return x.complete(ctx, shared, inst, status, result)
}

// combineMessages flattens a derived child window back into the inherited
// message slice an AgentContext carries (system section first, then the
// remaining context FIFO).
func combineMessages(w *contextengine.Window) []contextengine.Message {
	out := w.SystemMessages()
	return append(out, w.ContextMessages()...)
}

func instanceFor(ac AgentContext) *agent.Instance {
	return &agent.Instance{
		ID:       ac.ID,
		Kind:     ac.Kind,
		Path:     append([]string{}, ac.Path...),
		ParentID: ac.ParentID,
		Depth:    ac.Depth,
		Status:   agent.Ready,
	}
}

func withStatus(inst *agent.Instance, status agent.Status) agent.Instance {
	cp := *inst
	cp.Status = status
	return cp
}

func withTokens(inst *agent.Instance, tokens uint64) agent.Instance {
	cp := *inst
	cp.TokensUsed = tokens
	return cp
}

func (x *Executor) emit(ctx context.Context, shared *SharedState, typ event.Type, inst agent.Instance, task string) {
	if shared.Events == nil {
		return
	}
	e := event.New(shared.SessionID, typ, event.SnapshotOf(inst, task), x.clock())
	_ = shared.Events.Emit(ctx, e)
}

// buildWindow constructs the context window for this agent's depth,
// inheriting the parent-provided messages (already compressed by the
// context engine's ChildWindow when this agent is itself a child).
func (x *Executor) buildWindow(ac AgentContext) *contextengine.Window {
	alloc := ac.Shared.Budget.AllocationForDepth(ac.Depth)
	window := contextengine.NewWindow(ac.Depth, alloc)
	for _, m := range ac.Inherited {
		if m.Role == contextengine.RoleSystem {
			window.AddSystemMessage(m)
		} else {
			window.AddContextMessage(m)
		}
	}
	return window
}

func toCompletionMessages(window *contextengine.Window) []completion.Message {
	var out []completion.Message
	for _, m := range window.SystemMessages() {
		out = append(out, completion.Message{Role: completion.RoleSystem, Content: m.Content})
	}
	for _, m := range window.ContextMessages() {
		out = append(out, completion.Message{Role: toCompletionRole(m.Role), Content: m.Content})
	}
	return out
}

func toCompletionRole(r contextengine.Role) completion.Role {
	switch r {
	case contextengine.RoleSystem:
		return completion.RoleSystem
	case contextengine.RoleAssistant:
		return completion.RoleAssistant
	case contextengine.RoleTool:
		return completion.RoleTool
	default:
		return completion.RoleUser
	}
}

// callModel issues the completion call, checking the cost tracker before
// the call and updating the router's posterior after.
func (x *Executor) callModel(ctx context.Context, shared *SharedState, window *contextengine.Window, decision router.RoutingDecision, taskCtx router.TaskContext) (completion.Response, error) {
	messages := toCompletionMessages(window)

	projected := projectedCostUSD(shared, decision.ModelID, taskCtx.EstimatedInputTokens)
	if err := shared.Tracker.CheckBudget(projected); err != nil {
		return completion.Response{}, err
	}

	start := x.clock()
	resp, err := shared.Completion.Complete(ctx, messages, decision.ModelID)
	latencyMS := float64(x.clock().Sub(start).Milliseconds())

	if err != nil {
		shared.Router.Update(taskCtx.RoutingKey(), decision.ModelID, router.RoutingReward{
			Success:         false,
			ActualCostUSD:   0,
			LatencyMS:       latencyMS,
			ExpectedCostUSD: projected,
			ExpectedLatency: latencyMS,
		})
		return completion.Response{}, err
	}

	actualCost := costForResponse(shared, resp)
	shared.Tracker.Record(cost.Call{Model: resp.Model, InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens, CostUSD: actualCost})
	shared.Router.Update(taskCtx.RoutingKey(), decision.ModelID, router.RoutingReward{
		Success:         true,
		ActualCostUSD:   actualCost,
		LatencyMS:       latencyMS,
		ExpectedCostUSD: projected,
		ExpectedLatency: latencyMS,
	})
	return resp, nil
}

// projectedCostUSD estimates a call's cost ahead of issuing it, using the
// router's pricing for the selected model and a conservative output
// estimate equal to the input size.
func projectedCostUSD(shared *SharedState, modelID string, estimatedInputTokens int) float64 {
	candidate, ok := shared.Router.Candidate(modelID)
	if !ok {
		return 0
	}
	return candidate.EstimatedCostUSD(estimatedInputTokens, estimatedInputTokens)
}

func costForResponse(shared *SharedState, resp completion.Response) float64 {
	candidate, ok := shared.Router.Candidate(resp.Model)
	if !ok {
		return 0
	}
	return cost.EstimateCostUSD(resp.InputTokens, resp.OutputTokens, candidate.InputPricePer1K, candidate.OutputPricePer1K)
}

func (x *Executor) failWith(ctx context.Context, shared *SharedState, inst *agent.Instance, err error) (agent.Result, error) {
	result := agent.Result{Success: false, Output: err.Error(), ErrorMessage: err.Error()}
	return x.complete(ctx, shared, inst, agent.Failed, result)
}

func (x *Executor) failCancelled(ctx context.Context, shared *SharedState, inst *agent.Instance) (agent.Result, error) {
	result := agent.Result{Success: false, Output: "cancelled", ErrorMessage: "cancelled"}
	return x.complete(ctx, shared, inst, agent.Cancelled, result)
}

func (x *Executor) complete(ctx context.Context, shared *SharedState, inst *agent.Instance, status agent.Status, result agent.Result) (agent.Result, error) {
	if err := shared.Registry.Complete(inst.ID, status, &result); err != nil {
		return agent.Result{}, err
	}
	typ := event.Completed
	switch status {
	case agent.Failed:
		typ = event.Failed
	case agent.Cancelled:
		typ = event.Cancelled
	}
	snap := withStatus(inst, status)
	snap.TokensUsed = result.TokensUsed
	x.emit(ctx, shared, typ, snap, "")
	return result, nil
}
