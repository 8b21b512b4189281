// Package agentregistry implements the agent registry and coordinator: the
// capability table every pipeline and chat agent registers into, the
// zero-overlap invariant enforced among chat-enabled agents, and task-type
// based routing with no context-based disambiguation.
package agentregistry

import (
	"context"
	"fmt"
	"sort"

	"goa.design/goa-ai/itinerary"
)

// Request carries the inputs an Agent needs to execute one unit of work.
// Fields are populated by the orchestrator (pipeline agents) or the chat
// router (chat-enabled agents); agents ignore fields that do not apply to
// their taskType.
type Request struct {
	ItineraryID    string
	Owner          string
	ChatText       string
	SelectedNodeID string
	Scope          string // "trip" | "day"
	Day            *int
	AutoApply      bool
	Params         map[string]any
}

// Response is the outcome of Agent.Execute.
type Response struct {
	Message    string
	ChangeSet  *itinerary.ChangeSet
	Diff       *itinerary.Diff
	ToVersion  *int
	Applied    bool
	Warnings   []string
	Candidates []Candidate
}

// Candidate is one disambiguation option surfaced to the chat router when a
// node reference is ambiguous.
type Candidate struct {
	ID       string
	Title    string
	Day      int
	Type     string
	Location string
}

// Agent is anything the registry can route work to.
type Agent interface {
	// Name is the agent's declared identifier (e.g. "EditorAgent").
	Name() string
	// TaskType is the single taskType this agent handles.
	TaskType() string
	// Priority ranks agents when more than one could plausibly apply;
	// lower values take precedence. Routing here is taskType-exact, so
	// Priority only matters for future tie-breaking or logging.
	Priority() int
	// ChatEnabled reports whether the chat router may invoke this agent.
	ChatEnabled() bool
	// Execute runs the agent's unit of work, emitting AgentProgressEvents
	// through whatever Publisher the agent was constructed with.
	Execute(ctx context.Context, req Request) (*Response, error)
}

// Registry holds the set of registered agents and enforces the zero-overlap
// invariant among chat-enabled agents at registration time.
type Registry struct {
	byTaskType map[string]Agent
	order      []string
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{byTaskType: make(map[string]Agent)}
}

// Register adds agent to the registry. It is a fatal configuration error
// (returned, not panicked, so callers can fail fast at startup) for two
// chat-enabled agents to declare the same taskType.
func (r *Registry) Register(agent Agent) error {
	taskType := agent.TaskType()
	// Zero-overlap is only enforced among chat-enabled agents: two
	// pipeline-only agents may legitimately share a taskType (e.g. a
	// synchronous PlannerAgent equivalent to SkeletonPlannerAgent's
	// taskType), since the chat router never routes to them by taskType
	// lookup in the first place.
	if existing, ok := r.byTaskType[taskType]; ok && existing.ChatEnabled() && agent.ChatEnabled() {
		return fmt.Errorf("agentregistry: duplicate taskType %q: both %q and %q are chat-enabled", taskType, existing.Name(), agent.Name())
	}
	r.byTaskType[taskType] = agent
	r.order = append(r.order, taskType)
	return nil
}

// MustRegister registers agent and panics on error. Intended for use during
// process startup, before any request traffic is served.
func (r *Registry) MustRegister(agent Agent) {
	if err := r.Register(agent); err != nil {
		panic(err)
	}
}

// Resolve returns the single agent declared for taskType. Routing never
// considers request context: a taskType maps to exactly one agent.
func (r *Registry) Resolve(taskType string) (Agent, error) {
	agent, ok := r.byTaskType[taskType]
	if !ok {
		return nil, fmt.Errorf("agentregistry: no agent registered for taskType %q", taskType)
	}
	return agent, nil
}

// ChatEnabledTaskTypes returns the sorted list of taskTypes with a
// chat-enabled agent registered.
func (r *Registry) ChatEnabledTaskTypes() []string {
	var out []string
	for taskType, agent := range r.byTaskType {
		if agent.ChatEnabled() {
			out = append(out, taskType)
		}
	}
	sort.Strings(out)
	return out
}

// Agents returns one agent per registered taskType, ordered by when each
// taskType was first registered; where several agents share a taskType, only
// the last one registered (the one Resolve returns) is listed.
func (r *Registry) Agents() []Agent {
	out := make([]Agent, 0, len(r.order))
	seen := make(map[string]bool)
	for _, taskType := range r.order {
		if seen[taskType] {
			continue
		}
		seen[taskType] = true
		out = append(out, r.byTaskType[taskType])
	}
	return out
}
