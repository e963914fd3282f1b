package settings

import (
	"encoding/json"
	"fmt"
)

// Protocol selects the transport link flavor (§4.1 stream, §4.2 datagram).
type Protocol int

const (
	UDP Protocol = iota
	TCP
)

func (p Protocol) String() string {
	switch p {
	case UDP:
		return "UDP"
	case TCP:
		return "TCP"
	default:
		return "unknown"
	}
}

func (p Protocol) MarshalJSON() ([]byte, error) {
	switch p {
	case UDP, TCP:
		return json.Marshal(p.String())
	default:
		return nil, fmt.Errorf("invalid protocol %d", p)
	}
}

func (p *Protocol) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "UDP":
		*p = UDP
	case "TCP":
		*p = TCP
	default:
		return fmt.Errorf("invalid protocol %q", s)
	}
	return nil
}
