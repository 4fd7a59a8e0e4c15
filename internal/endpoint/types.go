package endpoint

import (
	"fmt"
	"strings"
)

// Status is the socket state of an endpoint.
type Status int

const (
	StatusDefault Status = iota
	StatusWaiting
	StatusConnected
	StatusReceiving
	StatusSending
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDefault:
		return "Default"
	case StatusWaiting:
		return "Waiting"
	case StatusConnected:
		return "Connected"
	case StatusReceiving:
		return "Receiving"
	case StatusSending:
		return "Sending"
	case StatusError:
		return "Error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Role says which side of a link an endpoint sits on.
type Role int

const (
	RoleSource Role = iota
	RoleDestination
)

func (r Role) String() string {
	if r == RoleDestination {
		return "Destination"
	}
	return "Source"
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Type selects whether the endpoint accepts or initiates the connection.
type Type int

const (
	TypeServer Type = iota
	TypeClient
)

func (t Type) String() string {
	if t == TypeClient {
		return "Client"
	}
	return "Server"
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// ParseType accepts "server" or "client" in any letter case.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "server":
		return TypeServer, nil
	case "client":
		return TypeClient, nil
	}
	return 0, fmt.Errorf("%w: type %q", ErrInvalidSetting, s)
}

type Protocol int

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
)

func (p Protocol) String() string {
	if p == ProtocolUDP {
		return "UDP"
	}
	return "TCP"
}

func (p Protocol) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// ParseProtocol accepts "tcp" or "udp" in any letter case.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return ProtocolTCP, nil
	case "udp":
		return ProtocolUDP, nil
	}
	return 0, fmt.Errorf("%w: protocol %q", ErrInvalidSetting, s)
}

func (p Protocol) network() string {
	if p == ProtocolUDP {
		return "udp4"
	}
	return "tcp4"
}
