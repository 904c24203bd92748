package platform

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher is what the relay platform needs from a messaging connection.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type relayMessage struct {
	Event  string         `json:"event"`
	Params map[string]any `json:"params"`
}

// NewRelay returns a passthrough platform that publishes canonical events to
// a messaging subject for downstream loaders.
func NewRelay(pub Publisher, subject string) Platform {
	return Platform{
		Name:    "relay",
		Enabled: true,
		Send: func(eventName string, params map[string]any) error {
			buf, err := json.Marshal(relayMessage{Event: eventName, Params: params})
			if err != nil {
				return fmt.Errorf("encode relay message: %w", err)
			}
			if err := pub.Publish(subject, buf); err != nil {
				return fmt.Errorf("publish relay message: %w", err)
			}
			return nil
		},
	}
}

// DialRelay connects to a NATS server and returns the relay platform over
// that connection, plus the connection for the caller to close on teardown.
func DialRelay(url, subject string) (Platform, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("telemetry-relay"))
	if err != nil {
		return Platform{}, nil, fmt.Errorf("connect relay bus: %w", err)
	}
	return NewRelay(nc, subject), nc, nil
}
