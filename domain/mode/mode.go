package mode

// Mode selects which role a session plays in the address-negotiation protocol.
type Mode int

const (
	Unknown Mode = iota
	Client
	Server
)

func (m Mode) String() string {
	switch m {
	case Client:
		return "client"
	case Server:
		return "server"
	default:
		return "unknown"
	}
}

// Parse converts the single-letter/spelled-out CLI forms into a Mode.
func Parse(raw string) (Mode, bool) {
	switch raw {
	case "c", "client":
		return Client, true
	case "s", "server":
		return Server, true
	default:
		return Unknown, false
	}
}
