package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	businessflow "github.com/wablast/blast-core/business_flow"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	publisher := NewLogPublisher(zap.New(core))

	event := businessflow.NewDomainEvent("wallet.low_balance", 42, map[string]any{"available": uint64(900)})
	require.NoError(t, publisher.Publish(context.Background(), event))

	entries := logs.FilterMessage("domain event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "wallet.low_balance", fields["type"])
	assert.Equal(t, uint64(42), fields["klien_id"])
	assert.Equal(t, event.ID.String(), fields["event_id"])
	assert.Equal(t, "events", entries[0].LoggerName)
}
