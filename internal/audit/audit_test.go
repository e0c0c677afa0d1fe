package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/model"
	"github.com/t77yq/theatre-ops/internal/testutil"
)

func TestJetStreamPublisherAppend(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	publisher, err := NewJetStreamPublisher(js, zap.NewNop())
	require.NoError(t, err)

	entry := &model.AuditEntry{
		Actor:    "mgr-1",
		Action:   model.AuditActionEscalate,
		Entity:   "alert",
		EntityID: "alert-42",
		At:       time.Now().UTC(),
	}
	require.NoError(t, publisher.Append(context.Background(), entry))

	// IDs are filled in on publish.
	assert.NotEmpty(t, entry.ID)

	messages := testutil.ConsumeMessages(t, js, "audit.alert.escalate", 2*time.Second)
	require.Len(t, messages, 1)

	var got model.AuditEntry
	require.NoError(t, json.Unmarshal(messages[0], &got))
	assert.Equal(t, "mgr-1", got.Actor)
	assert.Equal(t, model.AuditActionEscalate, got.Action)
	assert.Equal(t, "alert-42", got.EntityID)
}

func TestJetStreamPublisherReusesStream(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	_, err := NewJetStreamPublisher(js, zap.NewNop())
	require.NoError(t, err)

	// A second publisher against the same server must not fail on the
	// already-existing stream.
	_, err = NewJetStreamPublisher(js, zap.NewNop())
	require.NoError(t, err)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Append(context.Background(), &model.AuditEntry{}))
}
