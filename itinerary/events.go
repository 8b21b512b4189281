package itinerary

import "time"

// AgentProgressEvent reports an agent's progress through a pipeline phase or
// chat invocation. Events are delivered at-least-once; consumers should treat
// repeated deliveries of the same (AgentID, Status, Progress) as benign.
type AgentProgressEvent struct {
	ItineraryID string  `json:"itineraryId"`
	AgentID     string  `json:"agentId"`
	Kind        string  `json:"kind"` // e.g. "pipeline" | "chat"
	Status      string  `json:"status"` // "queued" | "running" | "succeeded" | "failed"
	Progress    *int    `json:"progress,omitempty"` // 0..100
	Message     string  `json:"message,omitempty"`
	Step        string  `json:"step,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PatchEvent announces a version bump applied to an itinerary, carrying the
// diff that produced it.
type PatchEvent struct {
	ItineraryID string    `json:"itineraryId"`
	FromVersion int       `json:"fromVersion"`
	ToVersion   int       `json:"toVersion"`
	Diff        Diff      `json:"diff"`
	Summary     string    `json:"summary,omitempty"`
	UpdatedBy   string    `json:"updatedBy"` // "agent" | "user"
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Event is the union of event types delivered over the Event Bus for a given
// itinerary. Exactly one of Progress or Patch is non-nil.
type Event struct {
	Seq      uint64               `json:"seq"`
	Progress *AgentProgressEvent  `json:"progress,omitempty"`
	Patch    *PatchEvent          `json:"patch,omitempty"`
}
