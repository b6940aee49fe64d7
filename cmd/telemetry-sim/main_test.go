package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/telemetry"
)

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// publishRecorder records publishes; other client methods are not used by the simulator.
type publishRecorder struct {
	mqtt.Client

	mu       sync.Mutex
	failFor  string
	topics   []string
	payloads [][]byte
}

func (c *publishRecorder) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failFor != "" && topic == c.failFor {
		return &doneToken{err: errors.New("not authorized")}
	}
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return &doneToken{}
}

func (c *publishRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.topics)
}

var testSites = []domain.SiteProfile{
	{ID: "site-a", CapacityKWp: 50, Latitude: 1.3},
	{ID: "site-b", CapacityKWp: 80, Latitude: 1.4},
}

func TestTelemetrySimulator_Topic(t *testing.T) {
	sim := NewTelemetrySimulator(&publishRecorder{}, "solarsight/ingest/", testSites, 1, time.Second, time.Hour, time.Now())

	assert.Equal(t, "solarsight/ingest/site-a/telemetry", sim.Topic("site-a"))
}

func TestTelemetrySimulator_PublishTick(t *testing.T) {
	client := &publishRecorder{}
	start := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	sim := NewTelemetrySimulator(client, "solarsight/ingest", testSites, 1, time.Second, time.Hour, start)

	sent, err := sim.PublishTick()
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	sent, err = sim.PublishTick()
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	assert.Equal(t, []string{
		"solarsight/ingest/site-a/telemetry",
		"solarsight/ingest/site-b/telemetry",
		"solarsight/ingest/site-a/telemetry",
		"solarsight/ingest/site-b/telemetry",
	}, client.topics)

	first, err := telemetry.DecodeSamples(client.payloads[0])
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), first[0].Timestamp.UTC())

	third, err := telemetry.DecodeSamples(client.payloads[2])
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), third[0].Timestamp.UTC())
}

func TestTelemetrySimulator_PublishTickError(t *testing.T) {
	client := &publishRecorder{failFor: "solarsight/ingest/site-b/telemetry"}
	sim := NewTelemetrySimulator(client, "solarsight/ingest", testSites, 1, time.Second, time.Hour, time.Now())

	sent, err := sim.PublishTick()

	assert.Equal(t, 1, sent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site-b")
}

func TestTelemetrySimulator_Run(t *testing.T) {
	client := &publishRecorder{}
	sim := NewTelemetrySimulator(client, "solarsight/ingest", testSites, 1, 10*time.Millisecond, time.Hour, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	assert.Eventually(t, func() bool { return client.count() >= 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("simulator did not stop")
	}
}

func TestLoadSites(t *testing.T) {
	sites, err := loadSites("", "site-x", 120, 1.35)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "site-x", sites[0].ID)
	assert.Equal(t, 120.0, sites[0].CapacityKWp)

	_, err = loadSites("", "site-x", 0, 1.35)
	assert.Error(t, err)

	_, err = loadSites("/nonexistent/sites.yaml", "", 0, 0)
	assert.Error(t, err)
}
