package migration

// State tracks the progress of one migration run. Transitions are strictly
// forward; the single exception is the RolledBack exit, taken from any state
// at or after DisconnectedFromSource when a phase fails.
type State int

const (
	StateNotStarted State = iota
	StatePreflightValidated
	StateLockdownHandled
	StatePreMigrationBackedUp
	StateDisconnectedFromSource
	StateOrphansCleaned
	StateConnectedToTarget
	StateConfigRestored
	StateLockdownRestored
	StateCompleted
	StateRolledBack
	StateFailed
)

var stateNames = map[State]string{
	StateNotStarted:             "NotStarted",
	StatePreflightValidated:     "PreflightValidated",
	StateLockdownHandled:        "LockdownHandled",
	StatePreMigrationBackedUp:   "PreMigrationBackedUp",
	StateDisconnectedFromSource: "DisconnectedFromSource",
	StateOrphansCleaned:         "OrphansCleaned",
	StateConnectedToTarget:      "ConnectedToTarget",
	StateConfigRestored:         "ConfigRestored",
	StateLockdownRestored:       "LockdownRestored",
	StateCompleted:              "Completed",
	StateRolledBack:             "RolledBack",
	StateFailed:                 "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}
