package qa

// Step is one permitted edge in the status transition graph.
type Step struct {
	From Status
	To   Status
}

// transitions is the full edge set: the forward lifecycle plus one
// corrective (reopening) edge back across each forward edge.
var transitions = []Step{
	{StatusNoted, StatusOpen},
	{StatusOpen, StatusResolved},
	{StatusResolved, StatusVerified},
	{StatusVerified, StatusClosed},

	{StatusOpen, StatusNoted},
	{StatusResolved, StatusOpen},
	{StatusVerified, StatusResolved},
	{StatusClosed, StatusVerified},
}

// CanStep reports whether from→to is a single edge of the graph.
func CanStep(from, to Status) bool {
	for _, step := range transitions {
		if step.From == from && step.To == to {
			return true
		}
	}
	return false
}

// NextStatuses returns every status reachable from current in one edge,
// in lifecycle order.
func NextStatuses(current Status) []Status {
	var out []Status
	for _, candidate := range Statuses {
		if CanStep(current, candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

// entryRole is the minimum role required to move an item INTO a state
// along a forward edge. Advancing to resolved needs a senior reviewer,
// verified and closed need sign-off authority, everything earlier is
// open to juniors.
func entryRole(s Status) Role {
	switch s {
	case StatusResolved:
		return RoleSeniorEngineer
	case StatusVerified, StatusClosed:
		return RolePM
	default:
		return RoleJuniorEngineer
	}
}

// RequiredRole returns the minimum role for the edge from→to. Forward
// edges are gated on the target state. Corrective edges are permitted
// to any role that could have advanced the item to its current state,
// so they gate on the state being left.
func RequiredRole(from, to Status) Role {
	if statusRank(to) > statusRank(from) {
		return entryRole(to)
	}
	return entryRole(from)
}

func statusRank(s Status) int {
	for i, candidate := range Statuses {
		if candidate == s {
			return i
		}
	}
	return -1
}
