package domain

import "fmt"

// JobPhase is the ordered construction phase of a job.
type JobPhase string

const (
	JobPhaseDemo               JobPhase = "demo"
	JobPhaseRough              JobPhase = "rough"
	JobPhaseElectricalPlumbing JobPhase = "electrical_plumbing"
	JobPhaseFinishing          JobPhase = "finishing"
	JobPhaseWalkthrough        JobPhase = "walkthrough"
	JobPhaseComplete           JobPhase = "complete"
)

// JobPhases lists phases in execution order.
var JobPhases = []JobPhase{
	JobPhaseDemo,
	JobPhaseRough,
	JobPhaseElectricalPlumbing,
	JobPhaseFinishing,
	JobPhaseWalkthrough,
	JobPhaseComplete,
}

// ParseJobPhase validates a raw phase value.
func ParseJobPhase(raw string) (JobPhase, error) {
	if JobPhase(raw).Index() < 0 {
		return "", fmt.Errorf("invalid job phase %q", raw)
	}
	return JobPhase(raw), nil
}

// Index returns the position of p in JobPhases, or -1.
func (p JobPhase) Index() int {
	for i, phase := range JobPhases {
		if phase == p {
			return i
		}
	}
	return -1
}

// IsAdjacentTransition reports whether from -> to moves at most one step in
// either direction. Staying on the same phase is allowed.
func IsAdjacentTransition(from, to JobPhase) bool {
	a, b := from.Index(), to.Index()
	if a < 0 || b < 0 {
		return false
	}
	d := a - b
	return d >= -1 && d <= 1
}

// HealthStatus is the traffic-light health of a job.
type HealthStatus string

const (
	HealthGreen  HealthStatus = "green"
	HealthYellow HealthStatus = "yellow"
	HealthRed    HealthStatus = "red"
)

// ParseHealthStatus validates a raw health value.
func ParseHealthStatus(raw string) (HealthStatus, error) {
	switch HealthStatus(raw) {
	case HealthGreen, HealthYellow, HealthRed:
		return HealthStatus(raw), nil
	}
	return "", fmt.Errorf("invalid health status %q", raw)
}
