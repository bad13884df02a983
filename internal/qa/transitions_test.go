package qa

import (
	"reflect"
	"testing"
)

func TestCanStepForwardEdges(t *testing.T) {
	forward := []Step{
		{StatusNoted, StatusOpen},
		{StatusOpen, StatusResolved},
		{StatusResolved, StatusVerified},
		{StatusVerified, StatusClosed},
	}
	for _, step := range forward {
		if !CanStep(step.From, step.To) {
			t.Errorf("forward edge %s->%s should be allowed", step.From, step.To)
		}
	}
}

func TestCanStepCorrectiveEdges(t *testing.T) {
	corrective := []Step{
		{StatusOpen, StatusNoted},
		{StatusResolved, StatusOpen},
		{StatusVerified, StatusResolved},
		{StatusClosed, StatusVerified},
	}
	for _, step := range corrective {
		if !CanStep(step.From, step.To) {
			t.Errorf("corrective edge %s->%s should be allowed", step.From, step.To)
		}
	}
}

func TestCanStepRejectsSkipsAndSelfLoops(t *testing.T) {
	rejected := []Step{
		{StatusNoted, StatusResolved},
		{StatusNoted, StatusClosed},
		{StatusOpen, StatusVerified},
		{StatusOpen, StatusClosed},
		{StatusResolved, StatusClosed},
		{StatusClosed, StatusNoted},
		{StatusClosed, StatusOpen},
		{StatusOpen, StatusOpen},
	}
	for _, step := range rejected {
		if CanStep(step.From, step.To) {
			t.Errorf("edge %s->%s must be rejected", step.From, step.To)
		}
	}
}

func TestNextStatuses(t *testing.T) {
	cases := []struct {
		current Status
		want    []Status
	}{
		{StatusNoted, []Status{StatusOpen}},
		{StatusOpen, []Status{StatusNoted, StatusResolved}},
		{StatusResolved, []Status{StatusOpen, StatusVerified}},
		{StatusVerified, []Status{StatusResolved, StatusClosed}},
		{StatusClosed, []Status{StatusVerified}},
	}
	for _, tc := range cases {
		if got := NextStatuses(tc.current); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("NextStatuses(%s) = %v, want %v", tc.current, got, tc.want)
		}
	}
}

func TestRequiredRole(t *testing.T) {
	cases := []struct {
		from, to Status
		want     Role
	}{
		// Forward edges gate on the target state.
		{StatusNoted, StatusOpen, RoleJuniorEngineer},
		{StatusOpen, StatusResolved, RoleSeniorEngineer},
		{StatusResolved, StatusVerified, RolePM},
		{StatusVerified, StatusClosed, RolePM},
		// Corrective edges gate on the state being left.
		{StatusOpen, StatusNoted, RoleJuniorEngineer},
		{StatusResolved, StatusOpen, RoleSeniorEngineer},
		{StatusVerified, StatusResolved, RolePM},
		{StatusClosed, StatusVerified, RolePM},
		// Non-edge pairs still answer, so callers can report authority
		// failures ahead of reachability.
		{StatusOpen, StatusVerified, RolePM},
		{StatusResolved, StatusResolved, RoleSeniorEngineer},
		{StatusNoted, StatusClosed, RolePM},
	}
	for _, tc := range cases {
		if got := RequiredRole(tc.from, tc.to); got != tc.want {
			t.Errorf("RequiredRole(%s, %s) = %s, want %s", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRoleAtLeast(t *testing.T) {
	if !RoleAdmin.AtLeast(RolePM) {
		t.Errorf("admin outranks pm")
	}
	if RoleJuniorEngineer.AtLeast(RoleSeniorEngineer) {
		t.Errorf("junior does not outrank senior")
	}
	if !RolePM.AtLeast(RolePM) {
		t.Errorf("a role satisfies itself")
	}
	if Role("ghost").AtLeast(RoleJuniorEngineer) {
		t.Errorf("unknown roles rank below everything")
	}
}

func TestParseStatusRejectsTransientUIStates(t *testing.T) {
	for _, raw := range []string{"in_progress", "needs_info", "IN_PROGRESS", ""} {
		if _, err := ParseStatus(raw); err == nil {
			t.Errorf("ParseStatus(%q) should fail", raw)
		}
	}
}
