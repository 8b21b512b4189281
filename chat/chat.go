// Package chat implements the Chat Router: intent classification over a
// free-text turn, node disambiguation, taskType routing through the agent
// registry, and response assembly.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/store"
	"goa.design/goa-ai/telemetry"
)

// Recognized intents.
const (
	IntentEdit        = "edit"
	IntentPlan        = "plan"
	IntentExplain     = "explain"
	IntentBook        = "book"
	IntentEnrich      = "enrich"
	IntentUndo        = "undo"
	IntentReplanToday = "replan_today"
)

// routingMap is the fixed intent-to-taskType map from the chat router spec:
// undo and replan_today both route through the edit-capable agent, the
// router itself encoding the special handling (a Change Engine undo, or a
// day-scoped edit) rather than the registry.
var routingMap = map[string]string{
	IntentEdit:        "edit",
	IntentPlan:        "plan",
	IntentExplain:     "explain",
	IntentBook:        "book",
	IntentEnrich:      "enrich",
	IntentUndo:        "edit",
	IntentReplanToday: "edit",
}

// nodeTargetedIntents are the intents for which an unresolved node reference
// triggers disambiguation.
var nodeTargetedIntents = map[string]bool{
	IntentEdit:    true,
	IntentExplain: true,
	IntentBook:    true,
}

var intentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent": map[string]any{
			"type": "string",
			"enum": []any{IntentEdit, IntentPlan, IntentExplain, IntentBook, IntentEnrich, IntentUndo, IntentReplanToday},
		},
		"day":         map[string]any{"type": "integer"},
		"nodeHints":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"constraints": map[string]any{"type": "object"},
	},
	"required": []any{"intent"},
}

// Request is one chat turn.
type Request struct {
	ItineraryID    string
	Owner          string
	ChatText       string
	SelectedNodeID string
	Scope          string
	Day            *int
	AutoApply      bool
}

// Response is the Chat Router's reply, matching the external chat() surface.
type Response struct {
	Intent              string
	Message             string
	ChangeSet           *itinerary.ChangeSet
	Diff                *itinerary.Diff
	Applied             bool
	ToVersion           *int
	Warnings            []string
	Errors              []string
	NeedsDisambiguation bool
	Candidates          []agentregistry.Candidate
}

// Router implements the Chat Router.
type Router struct {
	registry *agentregistry.Registry
	eng      *change.Engine
	store    store.Store
	llm      llm.Client
	logger   telemetry.Logger
}

// New constructs a Router.
func New(reg *agentregistry.Registry, eng *change.Engine, st store.Store, client llm.Client, logger telemetry.Logger) *Router {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Router{registry: reg, eng: eng, store: st, llm: client, logger: logger}
}

// Handle classifies req, resolves any ambiguous node reference, routes to
// the responsible agent, and assembles the reply. Infra failures (registry
// misconfiguration, store errors) are returned as Go errors; agent-level
// failures are surfaced in Response.Errors so the caller always gets a
// well-formed chat reply.
func (r *Router) Handle(ctx context.Context, req Request) (*Response, error) {
	intent, err := r.classify(ctx, req)
	if err != nil {
		return &Response{Errors: []string{err.Error()}}, nil
	}

	if req.SelectedNodeID == "" && nodeTargetedIntents[intent] {
		candidates, err := r.resolveNodes(ctx, req.ItineraryID, req.ChatText)
		if err != nil {
			return nil, err
		}
		switch len(candidates) {
		case 0:
			// No match: proceed unselected: the agent itself reports an
			// appropriate failure (e.g. BookingAgent requires a node).
		case 1:
			req.SelectedNodeID = candidates[0].ID
		default:
			return &Response{Intent: intent, NeedsDisambiguation: true, Candidates: candidates}, nil
		}
	}

	if intent == IntentUndo {
		return r.handleUndo(ctx, req)
	}
	if intent == IntentReplanToday {
		req.Scope = itinerary.ScopeDay
		if req.Day == nil {
			day := 1
			req.Day = &day
		}
	}

	taskType := routingMap[intent]
	if taskType == "" {
		taskType = IntentEdit
	}
	agent, err := r.registry.Resolve(taskType)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	resp, err := agent.Execute(ctx, agentregistry.Request{
		ItineraryID:    req.ItineraryID,
		Owner:          req.Owner,
		ChatText:       req.ChatText,
		SelectedNodeID: req.SelectedNodeID,
		Scope:          req.Scope,
		Day:            req.Day,
		AutoApply:      req.AutoApply,
	})
	if err != nil {
		return &Response{Intent: intent, Errors: []string{err.Error()}}, nil
	}

	return &Response{
		Intent:     intent,
		Message:    resp.Message,
		ChangeSet:  resp.ChangeSet,
		Diff:       resp.Diff,
		Applied:    resp.Applied,
		ToVersion:  resp.ToVersion,
		Warnings:   resp.Warnings,
		Candidates: resp.Candidates,
	}, nil
}

func (r *Router) handleUndo(ctx context.Context, req Request) (*Response, error) {
	res, err := r.eng.Undo(ctx, req.ItineraryID, nil)
	if err != nil {
		return &Response{Intent: IntentUndo, Errors: []string{err.Error()}}, nil
	}
	toVersion := res.ToVersion
	return &Response{
		Intent:    IntentUndo,
		Message:   fmt.Sprintf("reverted to version %d", toVersion),
		Applied:   true,
		ToVersion: &toVersion,
		Diff:      &res.Diff,
	}, nil
}

// classify runs the pre-router first, falling back to an LLM structured
// call only when the keyword match is ambiguous.
func (r *Router) classify(ctx context.Context, req Request) (string, error) {
	if intent, ok := preRoute(req.ChatText); ok {
		return intent, nil
	}

	result, err := r.llm.GenerateStructured(ctx, llm.StructuredRequest{
		SystemPrompt: "Classify the traveler's chat turn into exactly one intent: edit, plan, explain, book, enrich, undo, or replan_today. Return JSON matching the schema exactly.",
		UserPrompt:   req.ChatText,
		ItineraryID:  req.ItineraryID,
		JSONSchema:   intentSchema,
	})
	if err != nil {
		return "", fmt.Errorf("chat: intent classification failed: %w", err)
	}
	intent, _ := result["intent"].(string)
	if intent == "" {
		intent = IntentEdit
	}
	return intent, nil
}

// preRoute is the regex/keyword pre-router. It returns ok=false when no
// keyword confidently labels the turn, triggering the LLM fallback.
func preRoute(text string) (string, bool) {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "undo", "revert", "go back"):
		return IntentUndo, true
	case containsAny(lower, "book", "reserve"):
		return IntentBook, true
	case containsAny(lower, "replan today", "redo today", "change today", "replan the rest of today"):
		return IntentReplanToday, true
	case containsAny(lower, "why", "explain", "tell me about", "what is", "how long"):
		return IntentExplain, true
	case containsAny(lower, "check opening hours", "fix pacing", "recompute", "enrich"):
		return IntentEnrich, true
	case containsAny(lower, "plan a trip", "plan me a", "new itinerary", "create an itinerary", "build me a trip"):
		return IntentPlan, true
	case containsAny(lower, "move", "delete", "remove", "add", "insert", "change", "edit", "retime", "swap"):
		return IntentEdit, true
	default:
		return "", false
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// resolveNodes fuzzy-matches chatText against every node's title,
// location name, and type, returning either a single confident match, zero
// matches, or a tied top-scoring group for disambiguation.
func (r *Router) resolveNodes(ctx context.Context, itineraryID, chatText string) ([]agentregistry.Candidate, error) {
	it, _, err := r.store.Get(ctx, itineraryID)
	if err != nil {
		return nil, err
	}

	tokens := tokenize(chatText)
	if len(tokens) == 0 {
		return nil, nil
	}

	type scored struct {
		node  *itinerary.Node
		day   int
		score int
	}
	var candidates []scored
	for _, d := range it.Days {
		for _, n := range d.Nodes {
			s := score(n, tokens)
			if s > 0 {
				candidates = append(candidates, scored{node: n, day: d.DayNumber, score: s})
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	top := candidates[0].score
	var group []scored
	for _, c := range candidates {
		if c.score == top {
			group = append(group, c)
		}
	}

	// A unique top score is a confident match even if other, lower-scoring
	// nodes also matched a token; only a tie at the top needs disambiguation.
	if len(group) == 1 {
		c := group[0]
		return []agentregistry.Candidate{{ID: c.node.ID, Title: c.node.Title, Day: c.day, Type: string(c.node.Type), Location: c.node.Location.Name}}, nil
	}

	out := make([]agentregistry.Candidate, len(group))
	for i, c := range group {
		out[i] = agentregistry.Candidate{ID: c.node.ID, Title: c.node.Title, Day: c.day, Type: string(c.node.Type), Location: c.node.Location.Name}
	}
	return out, nil
}

func score(n *itinerary.Node, tokens []string) int {
	title := strings.ToLower(n.Title)
	nodeType := strings.ToLower(string(n.Type))
	location := strings.ToLower(n.Location.Name)
	total := 0
	for _, tok := range tokens {
		if strings.Contains(title, tok) {
			total++
		}
		if nodeType == tok {
			total++
		}
		if location != "" && strings.Contains(location, tok) {
			total++
		}
	}
	return total
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 3 { // skip short stopwords like "to", "at", "on"
			out = append(out, f)
		}
	}
	return out
}
