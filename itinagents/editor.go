package itinagents

import (
	"context"
	"errors"
	"fmt"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/telemetry"
)

var changeSetSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"scope": map[string]any{"type": "string", "enum": []any{"trip", "day"}},
		"day":   map[string]any{"type": "integer"},
		"ops": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"op":        map[string]any{"type": "string", "enum": []any{"move", "insert", "delete", "replace"}},
					"id":        map[string]any{"type": "string"},
					"startTime": map[string]any{"type": "string"},
					"endTime":   map[string]any{"type": "string"},
					"after":     map[string]any{"type": "string"},
					"day":       map[string]any{"type": "integer"},
				},
				"required": []any{"op"},
			},
		},
	},
	"required": []any{"ops"},
}

// EditorAgent turns a chat instruction into a change-set via a structured
// LLM call, pre-validates against locked nodes, and proposes or applies it
// through the Change Engine depending on the caller's autoApply preference.
type EditorAgent struct {
	base
}

// NewEditorAgent constructs the agent.
func NewEditorAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, logger telemetry.Logger) *EditorAgent {
	return &EditorAgent{base: newBase("EditorAgent", client, eng, bus, logger)}
}

func (a *EditorAgent) Name() string     { return a.base.name }
func (a *EditorAgent) TaskType() string  { return "edit" }
func (a *EditorAgent) Priority() int     { return 10 }
func (a *EditorAgent) ChatEnabled() bool { return true }

func (a *EditorAgent) Execute(ctx context.Context, req agentregistry.Request) (*agentregistry.Response, error) {
	a.progress(ctx, req.ItineraryID, "chat", "running", 0, "drafting change set")

	system := "You translate a traveler's edit request into a ChangeSet. Return JSON matching the schema exactly. " +
		"Use move to retime or relocate a node, insert to add one, delete to remove one, replace to substitute one."
	user := req.ChatText
	if req.SelectedNodeID != "" {
		user = fmt.Sprintf("Selected node: %s\n%s", req.SelectedNodeID, user)
	}

	result, err := a.llm.GenerateStructured(ctx, llm.StructuredRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		ItineraryID:  req.ItineraryID,
		JSONSchema:   changeSetSchema,
	})
	if err != nil {
		a.progress(ctx, req.ItineraryID, "chat", "failed", 0, err.Error())
		return nil, err
	}

	cs := decodeChangeSet(result, req.Scope, req.Day)

	applied, err := a.applyChangeSet(ctx, req.ItineraryID, cs, itinerary.UpdatedByUser, req.AutoApply)
	if err != nil {
		var violation *change.LockedNodeViolation
		if errors.As(err, &violation) {
			a.progress(ctx, req.ItineraryID, "chat", "failed", 0, "locked node violation")
			return &agentregistry.Response{
				Message: fmt.Sprintf("cannot edit locked node(s): %v", violation.Nodes),
				Applied: false,
			}, nil
		}
		a.progress(ctx, req.ItineraryID, "chat", "failed", 0, err.Error())
		return nil, err
	}

	a.progress(ctx, req.ItineraryID, "chat", "succeeded", 100, "edit ready")
	return applied, nil
}

func decodeChangeSet(result map[string]any, defaultScope string, defaultDay *int) itinerary.ChangeSet {
	cs := itinerary.ChangeSet{Scope: defaultScope}
	if cs.Scope == "" {
		cs.Scope = itinerary.ScopeTrip
	}
	if s := stringField(result, "scope"); s != "" {
		cs.Scope = s
	}
	if d, ok := result["day"].(float64); ok {
		day := int(d)
		cs.Day = &day
	} else if defaultDay != nil {
		cs.Day = defaultDay
	}

	rawOps, _ := result["ops"].([]any)
	for _, ro := range rawOps {
		m, ok := ro.(map[string]any)
		if !ok {
			continue
		}
		op := itinerary.Op{
			Kind:      itinerary.OpKind(stringField(m, "op")),
			ID:        stringField(m, "id"),
			StartTime: stringField(m, "startTime"),
			EndTime:   stringField(m, "endTime"),
		}
		if after := stringField(m, "after"); after != "" {
			op.After = &after
		}
		if d, ok := m["day"].(float64); ok {
			op.Day = int(d)
		}
		cs.Ops = append(cs.Ops, op)
	}
	return cs
}

var _ agentregistry.Agent = (*EditorAgent)(nil)
