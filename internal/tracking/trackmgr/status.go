package trackmgr

// Status is the lifecycle state of a track.
type Status int

const (
	StatusNew Status = iota
	StatusUnreliable
	StatusReliable
	StatusDrifting
	StatusSuspended
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusUnreliable:
		return "unreliable"
	case StatusReliable:
		return "reliable"
	case StatusDrifting:
		return "drifting"
	case StatusSuspended:
		return "suspended"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Active reports whether the track takes part in prediction and is listed
// by GetTracks.
func (s Status) Active() bool {
	return s != StatusSuspended && s != StatusDeleted
}
