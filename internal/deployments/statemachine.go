// Package deployments - deployment lifecycle orchestration for LAUNCHPAD.
//
// The state machine is the single arbiter for every lifecycle advance,
// whether triggered by the orchestrator, a build webhook, or a status
// poll. Transitions are one-directional; duplicate or retrograde events
// are no-ops, which is what makes webhook delivery an optimization
// rather than a safety requirement.
package deployments

import (
	"launchpad/internal/builder"
	"launchpad/internal/models"
)

// statusRank orders the forward lifecycle. Terminal states sit outside
// the ordering and never advance.
var statusRank = map[models.DeploymentStatus]int{
	models.StatusPending:   0,
	models.StatusUploading: 1,
	models.StatusAnalyzing: 2,
	models.StatusBuilding:  3,
	models.StatusDeploying: 4,
	models.StatusActive:    5,
}

// CanAdvance reports whether moving from -> to is a forward transition.
func CanAdvance(from, to models.DeploymentStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == models.StatusFailed {
		return true
	}
	if to == models.StatusExpired {
		return from == models.StatusActive
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// NextForBuildEvent maps an executor status event onto the lifecycle.
// The second return is false when the event is a no-op for the current
// state (duplicate delivery, late event on a terminal deployment, or an
// in-progress kind that does not advance anything).
func NextForBuildEvent(current models.DeploymentStatus, event builder.Status) (models.DeploymentStatus, bool) {
	if current.Terminal() {
		return current, false
	}

	switch {
	case event == builder.StatusSuccess:
		// Build done; the deployment now awaits its origin URL.
		if CanAdvance(current, models.StatusDeploying) {
			return models.StatusDeploying, true
		}
		return current, false

	case event.Failed():
		return models.StatusFailed, true

	case event == builder.StatusPending, event == builder.StatusQueued, event == builder.StatusWorking:
		// The executor has the pipeline; anything before building
		// catches up, anything at or past building stays put.
		if CanAdvance(current, models.StatusBuilding) {
			return models.StatusBuilding, true
		}
		return current, false
	}

	// Unrecognized kinds are ignored.
	return current, false
}
