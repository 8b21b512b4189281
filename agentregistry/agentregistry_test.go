package agentregistry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/goa-ai/agentregistry"
)

type stubAgent struct {
	name        string
	taskType    string
	priority    int
	chatEnabled bool
}

func (a stubAgent) Name() string        { return a.name }
func (a stubAgent) TaskType() string     { return a.taskType }
func (a stubAgent) Priority() int        { return a.priority }
func (a stubAgent) ChatEnabled() bool    { return a.chatEnabled }
func (a stubAgent) Execute(context.Context, agentregistry.Request) (*agentregistry.Response, error) {
	return &agentregistry.Response{Message: a.name}, nil
}

func TestRegisterRejectsDuplicateChatEnabledTaskType(t *testing.T) {
	r := agentregistry.New()
	require.NoError(t, r.Register(stubAgent{name: "EditorAgent", taskType: "edit", priority: 10, chatEnabled: true}))

	err := r.Register(stubAgent{name: "ImpostorAgent", taskType: "edit", priority: 99, chatEnabled: true})
	require.Error(t, err)
}

func TestRegisterAllowsOverlappingPipelineOnlyTaskType(t *testing.T) {
	r := agentregistry.New()
	require.NoError(t, r.Register(stubAgent{name: "SkeletonPlannerAgent", taskType: "skeleton", priority: 1}))
	require.NoError(t, r.Register(stubAgent{name: "PlannerAgent", taskType: "skeleton", priority: 2}))
}

func TestResolveReturnsRegisteredAgent(t *testing.T) {
	r := agentregistry.New()
	editor := stubAgent{name: "EditorAgent", taskType: "edit", priority: 10, chatEnabled: true}
	require.NoError(t, r.Register(editor))

	agent, err := r.Resolve("edit")
	require.NoError(t, err)
	require.Equal(t, "EditorAgent", agent.Name())
}

func TestResolveUnknownTaskTypeErrors(t *testing.T) {
	r := agentregistry.New()
	_, err := r.Resolve("does_not_exist")
	require.Error(t, err)
}

func TestChatEnabledTaskTypesExcludesPipelineOnly(t *testing.T) {
	r := agentregistry.New()
	require.NoError(t, r.Register(stubAgent{name: "EditorAgent", taskType: "edit", priority: 10, chatEnabled: true}))
	require.NoError(t, r.Register(stubAgent{name: "ActivityAgent", taskType: "populate_attractions", priority: 10, chatEnabled: false}))

	require.Equal(t, []string{"edit"}, r.ChatEnabledTaskTypes())
}

func TestFullCapabilityTableRegistersWithoutOverlap(t *testing.T) {
	r := agentregistry.New()
	table := []stubAgent{
		{name: "EditorAgent", taskType: "edit", priority: 10, chatEnabled: true},
		{name: "DayByDayPlannerAgent", taskType: "plan", priority: 5, chatEnabled: true},
		{name: "ExplainAgent", taskType: "explain", priority: 15, chatEnabled: true},
		{name: "BookingAgent", taskType: "book", priority: 30, chatEnabled: true},
		{name: "EnrichmentAgent", taskType: "enrich", priority: 20, chatEnabled: true},
		{name: "PlacesAgent", taskType: "search", priority: 40, chatEnabled: false},
		{name: "PlannerAgent", taskType: "create", priority: 2, chatEnabled: false},
		{name: "SkeletonPlannerAgent", taskType: "skeleton", priority: 1, chatEnabled: false},
		{name: "ActivityAgent", taskType: "populate_attractions", priority: 10, chatEnabled: false},
		{name: "MealAgent", taskType: "populate_meals", priority: 10, chatEnabled: false},
		{name: "TransportAgent", taskType: "populate_transport", priority: 10, chatEnabled: false},
		{name: "CostEstimatorAgent", taskType: "estimate_costs", priority: 50, chatEnabled: false},
	}
	for _, a := range table {
		require.NoError(t, r.Register(a), a.name)
	}
	require.Len(t, r.Agents(), len(table))
}
