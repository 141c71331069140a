package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, zerolog.DebugLevel).With(String("component", "detector"))
	log.Info("run finished", Int("iterations", 3), Float64("outlier_rate", 0.25), Duration("took", 1500*time.Microsecond))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "detector", entry["component"])
	assert.Equal(t, "run finished", entry["message"])
	assert.EqualValues(t, 3, entry["iterations"])
	assert.EqualValues(t, 0.25, entry["outlier_rate"])
	assert.EqualValues(t, 1.5, entry["took_ms"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, zerolog.WarnLevel)
	log.Info("hidden")
	log.Debug("hidden")
	assert.Zero(t, buf.Len())
	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
	err     error
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return p.err
}

func TestCollectorFoldsRepeatedErrors(t *testing.T) {
	pub := &capturePublisher{}
	log := NewWriter(&bytes.Buffer{}, zerolog.InfoLevel)
	log.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "outlier.logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		log.Error("fit failed", Error(errors.New("singular")))
	}
	log.Error("store unavailable")
	assert.Equal(t, 2, log.sink.get().Pending())

	log.RemoveCollector()
	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, "outlier.logs", pub.topic)
	batch := pub.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "fit failed", batch[0].Message)
	assert.Equal(t, 3, batch[0].Count)
	assert.Equal(t, "singular", batch[0].Fields["error"])
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub}, zerolog.Nop())
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	assert.Zero(t, c.Pending())

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.batches) == 1
	}, time.Second, 5*time.Millisecond)
}
