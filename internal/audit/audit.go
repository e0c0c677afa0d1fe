package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/model"
)

// Publisher appends immutable audit entries for state-changing operations
type Publisher interface {
	Append(ctx context.Context, entry *model.AuditEntry) error
}

// StreamName is the JetStream stream holding audit entries
const StreamName = "AUDIT"

// JetStreamPublisher publishes audit entries to a NATS JetStream stream
type JetStreamPublisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewJetStreamPublisher creates the AUDIT stream if needed and returns a publisher
func NewJetStreamPublisher(js nats.JetStreamContext, logger *zap.Logger) (*JetStreamPublisher, error) {
	_, err := js.StreamInfo(StreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{"audit.>"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return &JetStreamPublisher{
		logger: logger.Named("audit"),
		js:     js,
	}, nil
}

// Append implements Publisher.Append. The subject encodes entity and action
// so downstream consumers can filter, e.g. audit.alert.escalate.
func (p *JetStreamPublisher) Append(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return &model.DependencyError{Dependency: "audit", Err: err}
	}

	subject := fmt.Sprintf("audit.%s.%s", entry.Entity, entry.Action)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return &model.DependencyError{Dependency: "audit", Err: err}
	}

	p.logger.Debug("Audit entry appended",
		zap.String("subject", subject),
		zap.String("entity_id", entry.EntityID),
		zap.String("actor", entry.Actor))

	return nil
}

// NopPublisher drops audit entries; used when the bus is unreachable and in
// tests that don't assert on audit output
type NopPublisher struct{}

// Append implements Publisher.Append as a no-op
func (NopPublisher) Append(ctx context.Context, entry *model.AuditEntry) error {
	return nil
}
