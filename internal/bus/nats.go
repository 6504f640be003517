package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

const (
	SubjectScanCompleted     = "scan.completed"
	SubjectViolationDetected = "violation.detected"
)

// Publisher emits scan events over NATS. A nil Publisher is valid and
// publishes nothing, so eventing stays optional at runtime.
type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p == nil || p.Conn == nil {
		return
	}
	p.Conn.Drain()
	p.Conn.Close()
}

func (p *Publisher) Publish(subject string, payload any) error {
	if p == nil || p.Conn == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}
