package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-solarsight/internal/config"
	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/validation"
)

// Sink receives decoded telemetry samples.
type Sink interface {
	Append(siteID string, samples ...domain.TelemetrySample)
}

// IngestHook is called after a message has been processed.
type IngestHook func(siteID string, accepted, rejected int)

// MQTTIngestor subscribes to <telemetry_prefix>/+/telemetry and feeds decoded samples into a Sink.
// Payloads are a single JSON sample or a JSON array of samples.
type MQTTIngestor struct {
	config        *config.Config
	client        mqtt.Client
	clientFactory func(*config.Config) mqtt.Client
	sink          Sink
	validator     *validation.Validator
	hook          IngestHook
	logger        zerolog.Logger
	now           func() time.Time

	mu         sync.Mutex
	subscribed bool

	received atomic.Int64
	rejected atomic.Int64
}

// NewMQTTIngestor creates a new ingestor. A nil validator accepts every sample.
func NewMQTTIngestor(cfg *config.Config, sink Sink, validator *validation.Validator) *MQTTIngestor {
	return &MQTTIngestor{
		config:        cfg,
		clientFactory: createIngestClient,
		sink:          sink,
		validator:     validator,
		logger:        log.With().Str("component", "ingest").Logger(),
		now:           time.Now,
	}
}

// NewMQTTIngestorWithClient creates a new ingestor with a custom client (for testing).
func NewMQTTIngestorWithClient(cfg *config.Config, client mqtt.Client, sink Sink, validator *validation.Validator) *MQTTIngestor {
	i := NewMQTTIngestor(cfg, sink, validator)
	i.client = client
	return i
}

// SetHook registers a callback invoked after every processed message.
func (i *MQTTIngestor) SetHook(hook IngestHook) {
	i.hook = hook
}

func createIngestClient(cfg *config.Config) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port)).
		SetClientID(fmt.Sprintf("solarsight-ingest-%d", time.Now().UnixNano())).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(true)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	return mqtt.NewClient(opts)
}

// TopicFilter returns the subscription filter for telemetry messages.
func (i *MQTTIngestor) TopicFilter() string {
	return strings.TrimSuffix(i.config.MQTT.TelemetryPrefix, "/") + "/+/telemetry"
}

// Start connects to the broker and subscribes to the telemetry topics.
func (i *MQTTIngestor) Start(ctx context.Context) error {
	if !i.config.MQTT.Enabled {
		return nil
	}

	if i.client == nil {
		i.client = i.clientFactory(i.config)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if !i.client.IsConnected() {
		token := i.client.Connect()
		select {
		case <-connectCtx.Done():
			return fmt.Errorf("failed to connect ingest client: timeout after 10 seconds")
		case <-token.Done():
			if token.Error() != nil {
				return fmt.Errorf("failed to connect ingest client: %w", token.Error())
			}
		}
	}

	topic := i.TopicFilter()
	token := i.client.Subscribe(topic, 1, i.handleMessage)
	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to subscribe to %s: timeout", topic)
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
		}
	}

	i.mu.Lock()
	i.subscribed = true
	i.mu.Unlock()

	i.logger.Info().Str("topic", topic).Msg("Subscribed to telemetry")
	return nil
}

// handleMessage decodes, validates and stores a telemetry payload.
func (i *MQTTIngestor) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	siteID, ok := siteFromTopic(msg.Topic())
	if !ok {
		i.logger.Debug().Str("topic", msg.Topic()).Msg("Ignoring message on unexpected topic")
		return
	}

	i.Ingest(siteID, msg.Payload())
}

// Ingest processes one payload for a site and returns the number of accepted and rejected samples.
func (i *MQTTIngestor) Ingest(siteID string, payload []byte) (int, int) {
	samples, err := DecodeSamples(payload)
	if err != nil {
		i.rejected.Add(1)
		i.logger.Warn().Err(err).Str("site_id", siteID).Msg("Failed to decode telemetry payload")
		i.notify(siteID, 0, 1)
		return 0, 1
	}

	accepted := make([]domain.TelemetrySample, 0, len(samples))
	rejected := 0
	for _, s := range samples {
		if s.Timestamp.IsZero() {
			s.Timestamp = i.now().UTC().Truncate(time.Second)
		}
		if s.HourLabel == "" {
			s.HourLabel = s.Timestamp.Format("15:04")
		}
		if i.validator != nil {
			output := s.ACOutputKW
			result := i.validator.Validate(validation.Reading{
				IrradianceWm2: s.IrradianceWm2,
				AmbientTempC:  s.AmbientTempC,
				PanelTempC:    s.CellTempC,
				ACOutputKW:    &output,
				Timestamp:     s.Timestamp,
			})
			if !result.Valid {
				rejected++
				i.logger.Debug().
					Str("site_id", siteID).
					Str("reason", result.Message()).
					Msg("Rejected telemetry sample")
				continue
			}
		}
		accepted = append(accepted, s)
	}

	if len(accepted) > 0 {
		i.sink.Append(siteID, accepted...)
	}
	i.received.Add(int64(len(accepted)))
	i.rejected.Add(int64(rejected))

	i.logger.Debug().
		Str("site_id", siteID).
		Int("accepted", len(accepted)).
		Int("rejected", rejected).
		Msg("Ingested telemetry")

	i.notify(siteID, len(accepted), rejected)
	return len(accepted), rejected
}

func (i *MQTTIngestor) notify(siteID string, accepted, rejected int) {
	if i.hook != nil {
		i.hook(siteID, accepted, rejected)
	}
}

// Stats returns the number of accepted and rejected samples since start.
func (i *MQTTIngestor) Stats() (received, rejected int64) {
	return i.received.Load(), i.rejected.Load()
}

// Close unsubscribes and disconnects from the broker.
func (i *MQTTIngestor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.client == nil {
		return nil
	}
	if i.subscribed {
		token := i.client.Unsubscribe(i.TopicFilter())
		token.WaitTimeout(2 * time.Second)
		i.subscribed = false
	}
	if i.client.IsConnected() {
		i.client.Disconnect(250)
	}
	return nil
}

// siteFromTopic extracts the site id from <prefix>/<site>/telemetry.
func siteFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-1] != "telemetry" {
		return "", false
	}
	site := parts[len(parts)-2]
	return site, site != ""
}

// DecodeSamples parses a JSON sample or an array of samples.
func DecodeSamples(payload []byte) ([]domain.TelemetrySample, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty telemetry payload")
	}

	if trimmed[0] == '[' {
		var samples []domain.TelemetrySample
		if err := json.Unmarshal(trimmed, &samples); err != nil {
			return nil, fmt.Errorf("failed to decode telemetry array: %w", err)
		}
		return samples, nil
	}

	var sample domain.TelemetrySample
	if err := json.Unmarshal(trimmed, &sample); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry sample: %w", err)
	}
	return []domain.TelemetrySample{sample}, nil
}
