// Package itinerary defines the normalized itinerary data model shared by the
// store adapter, change engine, agents, orchestrator, and chat router: the
// single representation every component reads and mutates.
package itinerary

import "time"

type (
	// Itinerary is the top-level planned trip document.
	//
	// Invariants: Version never decreases except via undo; each Day's DayNumber
	// is unique and the set of DayNumbers forms 1..len(Days); when a Day's Date
	// is set, dates across Days are non-decreasing.
	Itinerary struct {
		ID        string            `json:"id" bson:"_id"`
		Version   int               `json:"version" bson:"version"`
		Owner     string            `json:"owner" bson:"owner"`
		Summary   string            `json:"summary,omitempty" bson:"summary,omitempty"`
		Currency  string            `json:"currency,omitempty" bson:"currency,omitempty"`
		Themes    []string          `json:"themes,omitempty" bson:"themes,omitempty"`
		Days      []*Day            `json:"days" bson:"days"`
		Settings  Settings          `json:"settings" bson:"settings"`
		Agents    map[string]time.Time `json:"agents,omitempty" bson:"agents,omitempty"`
		TotalCost float64           `json:"totalCost,omitempty" bson:"totalCost,omitempty"`
		CreatedAt time.Time         `json:"createdAt" bson:"createdAt"`
		UpdatedAt time.Time         `json:"updatedAt" bson:"updatedAt"`
	}

	// Settings holds the recognized per-itinerary options.
	Settings struct {
		AutoApply    bool   `json:"autoApply,omitempty" bson:"autoApply,omitempty"`
		DefaultScope string `json:"defaultScope,omitempty" bson:"defaultScope,omitempty"` // "trip" | "day"
	}

	// Day is one calendar day of the trip.
	//
	// Invariants: Edges reference only node ids present in Nodes; Edges form a
	// DAG following node order in time (edges are intra-day by construction).
	Day struct {
		DayNumber  int       `json:"dayNumber" bson:"dayNumber"`
		Date       string    `json:"date,omitempty" bson:"date,omitempty"`
		Location   string    `json:"location,omitempty" bson:"location,omitempty"`
		Nodes      []*Node   `json:"nodes" bson:"nodes"`
		Edges      []*Edge   `json:"edges" bson:"edges"`
		Pacing     Pacing    `json:"pacing,omitempty" bson:"pacing,omitempty"`
		TimeWindow TimeWindow `json:"timeWindow,omitempty" bson:"timeWindow,omitempty"`
		Totals     DayTotals `json:"totals" bson:"totals"`
		Warnings   []string  `json:"warnings,omitempty" bson:"warnings,omitempty"`
		Notes      string    `json:"notes,omitempty" bson:"notes,omitempty"`
	}

	// TimeWindow bounds the active hours for a day.
	TimeWindow struct {
		Start string `json:"start,omitempty" bson:"start,omitempty"`
		End   string `json:"end,omitempty" bson:"end,omitempty"`
	}

	// DayTotals aggregates derived metrics for a day.
	DayTotals struct {
		DistanceKm float64 `json:"distanceKm,omitempty" bson:"distanceKm,omitempty"`
		Cost       float64 `json:"cost,omitempty" bson:"cost,omitempty"`
		DurationHr float64 `json:"durationHr,omitempty" bson:"durationHr,omitempty"`
	}

	// Pacing classifies how packed a day is.
	Pacing string

	// Edge connects two nodes within the same day via a transit leg.
	Edge struct {
		From   string `json:"from" bson:"from"`
		To     string `json:"to" bson:"to"`
		Transit Transit `json:"transit" bson:"transit"`
	}

	// Transit describes the leg between two nodes.
	Transit struct {
		Mode       string   `json:"mode,omitempty" bson:"mode,omitempty"`
		DurationMin int     `json:"durationMin,omitempty" bson:"durationMin,omitempty"`
		DistanceKm *float64 `json:"distanceKm,omitempty" bson:"distanceKm,omitempty"`
	}

	// Node is the single polymorphic content unit: an attraction, meal,
	// accommodation, or transport leg placed on a day's timeline.
	//
	// Invariant: a Node with Locked=true may not be moved, deleted, replaced,
	// or retimed by any operation.
	Node struct {
		ID         string       `json:"id" bson:"id"`
		Type       NodeType     `json:"type" bson:"type"`
		Title      string       `json:"title" bson:"title"`
		Location   NodeLocation `json:"location,omitempty" bson:"location,omitempty"`
		Timing     Timing       `json:"timing,omitempty" bson:"timing,omitempty"`
		Cost       Cost         `json:"cost,omitempty" bson:"cost,omitempty"`
		Details    map[string]any `json:"details,omitempty" bson:"details,omitempty"`
		Labels     []string     `json:"labels,omitempty" bson:"labels,omitempty"`
		Tips       Tips         `json:"tips,omitempty" bson:"tips,omitempty"`
		Links      Links        `json:"links,omitempty" bson:"links,omitempty"`
		Locked     bool         `json:"locked,omitempty" bson:"locked,omitempty"`
		BookingRef string       `json:"bookingRef,omitempty" bson:"bookingRef,omitempty"`
		Status     NodeStatus   `json:"status,omitempty" bson:"status,omitempty"`
		UpdatedBy  string       `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"` // "agent" | "user"
		UpdatedAt  time.Time    `json:"updatedAt,omitempty" bson:"updatedAt,omitempty"`
	}

	// NodeType enumerates the four content kinds a Node can represent.
	NodeType string

	// NodeStatus tracks a node's lifecycle.
	NodeStatus string

	// NodeLocation places a node on the map.
	NodeLocation struct {
		Name        string       `json:"name,omitempty" bson:"name,omitempty"`
		Address     string       `json:"address,omitempty" bson:"address,omitempty"`
		Coordinates *Coordinates `json:"coordinates,omitempty" bson:"coordinates,omitempty"`
	}

	// Coordinates is a latitude/longitude pair.
	Coordinates struct {
		Lat float64 `json:"lat" bson:"lat"`
		Lng float64 `json:"lng" bson:"lng"`
	}

	// Timing captures a node's scheduled window. StartTime/EndTime are ISO-8601
	// or "HH:mm"; DurationMin, when both start and end are present, must be
	// consistent with their difference.
	Timing struct {
		StartTime   string `json:"startTime,omitempty" bson:"startTime,omitempty"`
		EndTime     string `json:"endTime,omitempty" bson:"endTime,omitempty"`
		DurationMin int    `json:"durationMin,omitempty" bson:"durationMin,omitempty"`
	}

	// Cost captures a node's price.
	Cost struct {
		Amount   float64 `json:"amount,omitempty" bson:"amount,omitempty"`
		Currency string  `json:"currency,omitempty" bson:"currency,omitempty"`
		Per      string  `json:"per,omitempty" bson:"per,omitempty"` // "person" | "group" | "night"
	}

	// Tips carries free-text guidance surfaced to the traveler.
	Tips struct {
		Travel   string `json:"travel,omitempty" bson:"travel,omitempty"`
		Warnings string `json:"warnings,omitempty" bson:"warnings,omitempty"`
		BestTime string `json:"bestTime,omitempty" bson:"bestTime,omitempty"`
	}

	// Links carries outbound URLs/phone numbers associated with a node.
	Links struct {
		Book    string `json:"book,omitempty" bson:"book,omitempty"`
		Details string `json:"details,omitempty" bson:"details,omitempty"`
		Website string `json:"website,omitempty" bson:"website,omitempty"`
		Phone   string `json:"phone,omitempty" bson:"phone,omitempty"`
	}

	// Revision is an immutable snapshot of an itinerary at a specific version.
	Revision struct {
		ItineraryID string    `json:"itineraryId" bson:"itineraryId"`
		Version     int       `json:"version" bson:"version"`
		Snapshot    Itinerary `json:"snapshot" bson:"snapshot"`
		Author      string    `json:"author" bson:"author"` // "agent" | "user"
		CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	}

	// TripMetadata is the per-owner index entry established synchronously at
	// creation time, before async generation begins.
	TripMetadata struct {
		Owner       string `json:"owner" bson:"owner"`
		ItineraryID string `json:"itineraryId" bson:"itineraryId"`
		Destination string `json:"destination" bson:"destination"`
		StartDate   string `json:"startDate" bson:"startDate"`
		EndDate     string `json:"endDate" bson:"endDate"`
		Status      string `json:"status" bson:"status"`
	}
)

const (
	NodeTypeAttraction   NodeType = "attraction"
	NodeTypeMeal         NodeType = "meal"
	NodeTypeAccommodation NodeType = "accommodation"
	NodeTypeTransport    NodeType = "transport"

	StatusPlanned    NodeStatus = "planned"
	StatusInProgress NodeStatus = "in_progress"
	StatusSkipped    NodeStatus = "skipped"
	StatusCancelled  NodeStatus = "cancelled"
	StatusCompleted  NodeStatus = "completed"

	PacingRelaxed  Pacing = "relaxed"
	PacingBalanced Pacing = "balanced"
	PacingIntense  Pacing = "intense"

	// LabelBooked is the reserved label BookingAgent appends on booking.
	LabelBooked = "Booked"

	ScopeTrip = "trip"
	ScopeDay  = "day"

	UpdatedByAgent = "agent"
	UpdatedByUser  = "user"
)

// NodeByID returns the node with the given id across all days, or nil.
func (it *Itinerary) NodeByID(id string) (*Node, *Day) {
	for _, d := range it.Days {
		for _, n := range d.Nodes {
			if n.ID == id {
				return n, d
			}
		}
	}
	return nil, nil
}

// DayByNumber returns the day with the given 1-based DayNumber, or nil.
func (it *Itinerary) DayByNumber(n int) *Day {
	for _, d := range it.Days {
		if d.DayNumber == n {
			return d
		}
	}
	return nil
}

// Clone returns a deep copy of the itinerary, suitable for in-memory
// transformation (Change Engine propose/apply) without mutating the caller's
// copy.
func (it *Itinerary) Clone() *Itinerary {
	if it == nil {
		return nil
	}
	out := *it
	out.Themes = append([]string(nil), it.Themes...)
	if it.Agents != nil {
		out.Agents = make(map[string]time.Time, len(it.Agents))
		for k, v := range it.Agents {
			out.Agents[k] = v
		}
	}
	out.Days = make([]*Day, len(it.Days))
	for i, d := range it.Days {
		out.Days[i] = d.clone()
	}
	return &out
}

func (d *Day) clone() *Day {
	out := *d
	out.Nodes = make([]*Node, len(d.Nodes))
	for i, n := range d.Nodes {
		out.Nodes[i] = n.clone()
	}
	out.Edges = make([]*Edge, len(d.Edges))
	for i, e := range d.Edges {
		ec := *e
		out.Edges[i] = &ec
	}
	out.Warnings = append([]string(nil), d.Warnings...)
	return &out
}

// Clone returns a deep copy of the node, suitable for insert/replace ops that
// must not alias the caller's copy.
func (n *Node) Clone() *Node {
	return n.clone()
}

func (n *Node) clone() *Node {
	out := *n
	out.Labels = append([]string(nil), n.Labels...)
	if n.Details != nil {
		out.Details = make(map[string]any, len(n.Details))
		for k, v := range n.Details {
			out.Details[k] = v
		}
	}
	if n.Location.Coordinates != nil {
		c := *n.Location.Coordinates
		out.Location.Coordinates = &c
	}
	return &out
}
