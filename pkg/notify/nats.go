package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/grantly/grantly/pkg/config"
	"github.com/grantly/grantly/pkg/interfaces"
	"github.com/grantly/grantly/pkg/types"
)

// NATSNotifier publishes login events onto a NATS subject so downstream
// services (audit trails, anomaly detection) can consume them
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NewNATSNotifier connects to the configured NATS server
func NewNATSNotifier(cfg config.NATSConfig) (*NATSNotifier, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSNotifier{conn: conn, subject: cfg.Subject}, nil
}

var _ interfaces.Notifier = (*NATSNotifier)(nil)

// LoginSucceeded publishes the login event as JSON
func (n *NATSNotifier) LoginSucceeded(ctx context.Context, event types.LoginEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal login event: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish login event: %w", err)
	}
	return nil
}

// LoggedOut publishes a logout marker on the sibling subject
func (n *NATSNotifier) LoggedOut(ctx context.Context, userID string) error {
	data, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to marshal logout event: %w", err)
	}
	if err := n.conn.Publish(n.subject+".logout", data); err != nil {
		return fmt.Errorf("failed to publish logout event: %w", err)
	}
	return nil
}

// Close drains and closes the connection
func (n *NATSNotifier) Close() {
	n.conn.Close()
}
