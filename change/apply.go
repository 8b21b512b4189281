package change

import (
	"fmt"
	"sort"
	"time"

	"goa.design/goa-ai/itinerary"
)

// applyChangeSet mutates it in place according to cs, enforcing the seven
// ordered rules, and returns the resulting diff. The lock check runs before
// any op, but an op that fails leaves the earlier ops applied, so it may be
// partially mutated on error: callers must apply to a freshly cloned copy.
func applyChangeSet(it *itinerary.Itinerary, cs itinerary.ChangeSet, pacing PacingThresholds, now time.Time) (itinerary.Diff, error) {
	if err := checkLocks(it, cs); err != nil {
		return itinerary.Diff{}, err
	}

	var diff itinerary.Diff
	touchedDays := make(map[int]bool)

	for i, op := range cs.Ops {
		switch op.Kind {
		case itinerary.OpMove:
			d, err := applyMove(it, op, now)
			if err != nil {
				return itinerary.Diff{}, &InvalidChangeSet{OpIndex: i, Reason: err.Error()}
			}
			touchedDays[d.from] = true
			touchedDays[d.to] = true
			diff.Updated = append(diff.Updated, itinerary.UpdatedNode{ID: op.ID, Fields: []string{"timing"}})

		case itinerary.OpInsert:
			dayNum, err := applyInsert(it, op, now)
			if err != nil {
				return itinerary.Diff{}, &InvalidChangeSet{OpIndex: i, Reason: err.Error()}
			}
			touchedDays[dayNum] = true
			diff.Added = append(diff.Added, itinerary.AddedNode{ID: op.Node.ID, Day: dayNum})

		case itinerary.OpDelete:
			dayNum, err := applyDelete(it, op)
			if err != nil {
				return itinerary.Diff{}, &InvalidChangeSet{OpIndex: i, Reason: err.Error()}
			}
			touchedDays[dayNum] = true
			diff.Removed = append(diff.Removed, itinerary.RemovedNode{ID: op.ID, Day: dayNum})

		case itinerary.OpReplace:
			dayNum, fields, err := applyReplace(it, op, now)
			if err != nil {
				return itinerary.Diff{}, &InvalidChangeSet{OpIndex: i, Reason: err.Error()}
			}
			touchedDays[dayNum] = true
			diff.Updated = append(diff.Updated, itinerary.UpdatedNode{ID: op.ID, Fields: fields})

		case itinerary.OpEdges:
			if err := applyEdges(it, op); err != nil {
				return itinerary.Diff{}, &InvalidChangeSet{OpIndex: i, Reason: err.Error()}
			}
			touchedDays[op.Day] = true

		default:
			return itinerary.Diff{}, &InvalidChangeSet{OpIndex: i, Reason: fmt.Sprintf("unknown op kind %q", op.Kind)}
		}
	}

	var days []int
	for d := range touchedDays {
		days = append(days, d)
	}
	sort.Ints(days)
	for _, d := range days {
		recomputePacing(it.DayByNumber(d), pacing)
	}

	sort.Slice(diff.Added, func(i, j int) bool { return diff.Added[i].ID < diff.Added[j].ID })
	sort.Slice(diff.Removed, func(i, j int) bool { return diff.Removed[i].ID < diff.Removed[j].ID })
	sort.Slice(diff.Updated, func(i, j int) bool { return diff.Updated[i].ID < diff.Updated[j].ID })

	return diff, nil
}

// checkLocks enforces rule 1 before any op is applied: if any op targets a
// locked node via move/delete/replace, the whole change set is rejected.
func checkLocks(it *itinerary.Itinerary, cs itinerary.ChangeSet) error {
	var locked []string
	seen := make(map[string]bool)
	for _, op := range cs.Ops {
		if op.Kind != itinerary.OpMove && op.Kind != itinerary.OpDelete && op.Kind != itinerary.OpReplace {
			continue
		}
		n, _ := it.NodeByID(op.ID)
		if n != nil && n.Locked && !seen[n.ID] {
			locked = append(locked, n.ID)
			seen[n.ID] = true
		}
	}
	if len(locked) > 0 {
		sort.Strings(locked)
		return &LockedNodeViolation{Nodes: locked}
	}
	return nil
}

type moveResult struct {
	from, to int
}

func applyMove(it *itinerary.Itinerary, op itinerary.Op, now time.Time) (moveResult, error) {
	node, fromDay := it.NodeByID(op.ID)
	if node == nil {
		return moveResult{}, fmt.Errorf("node %q does not exist", op.ID)
	}

	toDay := fromDay
	if op.Day != 0 && op.Day != fromDay.DayNumber {
		toDay = it.DayByNumber(op.Day)
		if toDay == nil {
			return moveResult{}, fmt.Errorf("day %d does not exist", op.Day)
		}
	}

	if op.StartTime != "" {
		node.Timing.StartTime = normalizeTime(op.StartTime, toDay.Date)
	}
	if op.EndTime != "" {
		node.Timing.EndTime = normalizeTime(op.EndTime, toDay.Date)
	}
	node.UpdatedBy = itinerary.UpdatedByAgent
	node.UpdatedAt = now

	if toDay.DayNumber != fromDay.DayNumber {
		removeNode(fromDay, node.ID)
		repairEdgesAfterRemoval(fromDay, node.ID)
		toDay.Nodes = append(toDay.Nodes, node)
		if len(toDay.Nodes) > 1 {
			prev := toDay.Nodes[len(toDay.Nodes)-2]
			toDay.Edges = append(toDay.Edges, &itinerary.Edge{From: prev.ID, To: node.ID})
		}
	}

	return moveResult{from: fromDay.DayNumber, to: toDay.DayNumber}, nil
}

func applyInsert(it *itinerary.Itinerary, op itinerary.Op, now time.Time) (int, error) {
	if op.Node == nil {
		return 0, fmt.Errorf("insert op missing node")
	}
	day := it.DayByNumber(op.Day)
	if day == nil {
		return 0, fmt.Errorf("day %d does not exist", op.Day)
	}

	node := op.Node.Clone()
	if node.ID == "" {
		node.ID = nextNodeID(it, day.DayNumber)
	}
	node.Timing.StartTime = normalizeTime(node.Timing.StartTime, day.Date)
	node.Timing.EndTime = normalizeTime(node.Timing.EndTime, day.Date)
	node.UpdatedBy = itinerary.UpdatedByAgent
	node.UpdatedAt = now

	insertAt := len(day.Nodes)
	var afterID string
	if op.After != nil {
		afterID = *op.After
		idx := -1
		for i, n := range day.Nodes {
			if n.ID == afterID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return 0, fmt.Errorf("after node %q does not exist in day %d", afterID, day.DayNumber)
		}
		insertAt = idx + 1
	}

	day.Nodes = append(day.Nodes, nil)
	copy(day.Nodes[insertAt+1:], day.Nodes[insertAt:])
	day.Nodes[insertAt] = node

	if op.After != nil {
		var newEdges []*itinerary.Edge
		for _, e := range day.Edges {
			if e.From == afterID {
				newEdges = append(newEdges, &itinerary.Edge{From: node.ID, To: e.To})
				continue
			}
			newEdges = append(newEdges, e)
		}
		newEdges = append(newEdges, &itinerary.Edge{From: afterID, To: node.ID})
		day.Edges = newEdges
	} else if insertAt > 0 {
		prev := day.Nodes[insertAt-1]
		day.Edges = append(day.Edges, &itinerary.Edge{From: prev.ID, To: node.ID})
	}

	return day.DayNumber, nil
}

func applyDelete(it *itinerary.Itinerary, op itinerary.Op) (int, error) {
	node, day := it.NodeByID(op.ID)
	if node == nil {
		return 0, fmt.Errorf("node %q does not exist", op.ID)
	}
	removeNode(day, node.ID)
	repairEdgesAfterRemoval(day, node.ID)
	return day.DayNumber, nil
}

func applyReplace(it *itinerary.Itinerary, op itinerary.Op, now time.Time) (int, []string, error) {
	if op.Node == nil {
		return 0, nil, fmt.Errorf("replace op missing node")
	}
	existing, day := it.NodeByID(op.ID)
	if existing == nil {
		return 0, nil, fmt.Errorf("node %q does not exist", op.ID)
	}

	replacement := op.Node.Clone()
	replacement.ID = existing.ID
	replacement.Timing.StartTime = normalizeTime(replacement.Timing.StartTime, day.Date)
	replacement.Timing.EndTime = normalizeTime(replacement.Timing.EndTime, day.Date)
	replacement.UpdatedBy = itinerary.UpdatedByAgent
	replacement.UpdatedAt = now

	for i, n := range day.Nodes {
		if n.ID == existing.ID {
			day.Nodes[i] = replacement
			break
		}
	}

	return day.DayNumber, changedFields(existing, replacement), nil
}

// changedFields reports which user/agent-visible fields differ between a
// node and its replacement, so PatchEvent.Diff reflects what actually
// changed instead of a blanket field list.
func changedFields(existing, replacement *itinerary.Node) []string {
	var fields []string
	if existing.Title != replacement.Title {
		fields = append(fields, "title")
	}
	if existing.Timing != replacement.Timing {
		fields = append(fields, "timing")
	}
	if existing.Cost != replacement.Cost {
		fields = append(fields, "cost")
	}
	if !locationEqual(existing.Location, replacement.Location) {
		fields = append(fields, "location")
	}
	if !stringSliceEqual(existing.Labels, replacement.Labels) {
		fields = append(fields, "labels")
	}
	if existing.Locked != replacement.Locked {
		fields = append(fields, "locked")
	}
	if existing.BookingRef != replacement.BookingRef {
		fields = append(fields, "bookingRef")
	}
	if existing.Status != replacement.Status {
		fields = append(fields, "status")
	}
	if !detailsEqual(existing.Details, replacement.Details) {
		fields = append(fields, "details")
	}
	return fields
}

func locationEqual(a, b itinerary.NodeLocation) bool {
	if a.Name != b.Name || a.Address != b.Address {
		return false
	}
	switch {
	case a.Coordinates == nil && b.Coordinates == nil:
		return true
	case a.Coordinates == nil || b.Coordinates == nil:
		return false
	default:
		return *a.Coordinates == *b.Coordinates
	}
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func detailsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

// applyEdges replaces a day's edge list wholesale, used by the enrichment
// agent to persist computed transit durations/distances alongside its
// opening-hours replace ops in the same change-set.
func applyEdges(it *itinerary.Itinerary, op itinerary.Op) error {
	day := it.DayByNumber(op.Day)
	if day == nil {
		return fmt.Errorf("day %d does not exist", op.Day)
	}
	edges := make([]*itinerary.Edge, len(op.Edges))
	for i, e := range op.Edges {
		ec := *e
		edges[i] = &ec
	}
	day.Edges = edges
	return nil
}

func removeNode(day *itinerary.Day, id string) {
	var out []*itinerary.Node
	for _, n := range day.Nodes {
		if n.ID != id {
			out = append(out, n)
		}
	}
	day.Nodes = out
}

// repairEdgesAfterRemoval drops edges touching id and re-links the removed
// node's former neighbors directly to each other.
func repairEdgesAfterRemoval(day *itinerary.Day, id string) {
	var predecessor, successor string
	for _, e := range day.Edges {
		if e.To == id {
			predecessor = e.From
		}
		if e.From == id {
			successor = e.To
		}
	}

	var out []*itinerary.Edge
	for _, e := range day.Edges {
		if e.From == id || e.To == id {
			continue
		}
		out = append(out, e)
	}
	if predecessor != "" && successor != "" {
		out = append(out, &itinerary.Edge{From: predecessor, To: successor})
	}
	day.Edges = out
}

// nextNodeID allocates an opaque, stable node id of the form day{N}_node{seq}.
func nextNodeID(it *itinerary.Itinerary, dayNumber int) string {
	max := 0
	for _, d := range it.Days {
		for _, n := range d.Nodes {
			var seq int
			if _, err := fmt.Sscanf(n.ID, fmt.Sprintf("day%d_node%%d", dayNumber), &seq); err == nil && seq > max {
				max = seq
			}
		}
	}
	return fmt.Sprintf("day%d_node%d", dayNumber, max+1)
}

// normalizeTime expands an "HH:mm" time to full ISO-8601 using date. Values
// already containing a "T" (full timestamps) or that are empty pass through
// unchanged.
func normalizeTime(value, date string) string {
	if value == "" || date == "" {
		return value
	}
	if len(value) > 5 {
		return value
	}
	return date + "T" + value + ":00Z"
}

func recomputePacing(day *itinerary.Day, thresholds PacingThresholds) {
	if day == nil {
		return
	}
	var totalMin int
	for _, n := range day.Nodes {
		totalMin += durationMinutes(n.Timing)
	}
	hours := float64(totalMin) / 60.0
	day.Totals.DurationHr = hours

	switch {
	case hours < thresholds.RelaxedBelow:
		day.Pacing = itinerary.PacingRelaxed
	case hours > thresholds.IntenseAbove:
		day.Pacing = itinerary.PacingIntense
	default:
		day.Pacing = itinerary.PacingBalanced
	}

	day.Warnings = deriveWarnings(day)
}

func durationMinutes(t itinerary.Timing) int {
	if t.DurationMin > 0 {
		return t.DurationMin
	}
	if t.StartTime == "" || t.EndTime == "" {
		return 0
	}
	start, err1 := time.Parse(time.RFC3339, t.StartTime)
	end, err2 := time.Parse(time.RFC3339, t.EndTime)
	if err1 != nil || err2 != nil || end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Minutes())
}

// deriveWarnings flags same-day overlapping node windows, a cheap heuristic
// surfaced to the traveler; it does not block apply.
func deriveWarnings(day *itinerary.Day) []string {
	var warnings []string
	type window struct {
		id         string
		start, end time.Time
	}
	var windows []window
	for _, n := range day.Nodes {
		if n.Timing.StartTime == "" || n.Timing.EndTime == "" {
			continue
		}
		start, err1 := time.Parse(time.RFC3339, n.Timing.StartTime)
		end, err2 := time.Parse(time.RFC3339, n.Timing.EndTime)
		if err1 != nil || err2 != nil {
			continue
		}
		windows = append(windows, window{id: n.ID, start: start, end: end})
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].start.Before(windows[j].start) })
	for i := 1; i < len(windows); i++ {
		if windows[i].start.Before(windows[i-1].end) {
			warnings = append(warnings, fmt.Sprintf("%s overlaps with %s", windows[i].id, windows[i-1].id))
		}
	}
	return warnings
}
