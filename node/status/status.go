package status

// Status is the lifecycle state of a node process. Owned exclusively by the
// process controller; dispatch code never touches it.
type Status byte

const (
	// node handle exists but Start has never been called
	NotStarted Status = iota
	// process spawned, RPC not yet verified reachable
	Starting
	// RPC liveness verified, node is usable
	Running
	// process exited cleanly
	Stopped
	// process exited during initialization
	FailedToStart
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case FailedToStart:
		return "failed to start"
	default:
		return "unknown"
	}
}

// ConnStatus is the state of the control (RPC) channel to a node.
type ConnStatus byte

const (
	Disconnected ConnStatus = iota
	Connecting
	Connected
)

func (s ConnStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}
