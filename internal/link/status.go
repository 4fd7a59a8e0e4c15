package link

// Status is the relay state of a link.
type Status int

const (
	StatusDefault Status = iota
	StatusOn
	StatusWaiting
	StatusWorking
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOn:
		return "On"
	case StatusWaiting:
		return "Waiting"
	case StatusWorking:
		return "Working"
	case StatusError:
		return "Error"
	default:
		return "Default"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
