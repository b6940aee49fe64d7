// Package pubsub provides implementations of message publishers.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-solarsight/internal/config"
	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/homeassistant"
)

// Version is reported to Home Assistant as the device software version.
var Version = "dev"

// NoopPublisher is a no-operation implementation of the MessagePublisher interface.
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

// Connect is a no-op for the NoopPublisher.
func (p *NoopPublisher) Connect(_ context.Context) error {
	return nil
}

// Publish is a no-op for the NoopPublisher.
func (p *NoopPublisher) Publish(_ context.Context, _ string, _ interface{}) error {
	return nil
}

// Close is a no-op for the NoopPublisher.
func (p *NoopPublisher) Close() error {
	return nil
}

// MQTTPublisher implements the MessagePublisher interface for MQTT.
// A *domain.SiteView is published on <topic>/<site>/<view> and triggers Home Assistant discovery
// for its site; any other value is published as JSON on the given topic.
type MQTTPublisher struct {
	config        *config.Config
	client        mqtt.Client
	clientFactory func(*config.Config, *MQTTPublisher) mqtt.Client
	logger        zerolog.Logger
	haDiscovery   *homeassistant.AutoDiscovery

	mu                sync.RWMutex
	connected         bool
	discoveredSites   map[string]bool
	lastDiscoveryTime time.Time
	birthSubscribed   bool
}

// NewMQTTPublisher creates a new MQTT publisher.
func NewMQTTPublisher(cfg *config.Config) *MQTTPublisher {
	return &MQTTPublisher{
		config:          cfg,
		clientFactory:   createMQTTClient,
		logger:          log.With().Str("component", "mqtt").Logger(),
		discoveredSites: make(map[string]bool),
	}
}

// NewMQTTPublisherWithClient creates a new MQTT publisher with a custom client (for testing).
func NewMQTTPublisherWithClient(cfg *config.Config, client mqtt.Client) *MQTTPublisher {
	p := NewMQTTPublisher(cfg)
	p.client = client
	return p
}

// createMQTTClient is the default factory function for creating MQTT clients.
func createMQTTClient(cfg *config.Config, p *MQTTPublisher) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port)).
		SetClientID(fmt.Sprintf("solarsight-%d", time.Now().UnixNano())).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetWriteTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	return mqtt.NewClient(opts)
}

// onConnect runs on every (re)connection and forces re-discovery.
func (p *MQTTPublisher) onConnect(_ mqtt.Client) {
	p.mu.Lock()
	p.connected = true
	p.discoveredSites = make(map[string]bool)
	p.lastDiscoveryTime = time.Time{}
	p.mu.Unlock()

	p.logger.Info().Msg("MQTT connection established")
}

func (p *MQTTPublisher) onConnectionLost(_ mqtt.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.birthSubscribed = false
	p.mu.Unlock()

	p.logger.Warn().Err(err).Msg("MQTT connection lost")
}

// Connect establishes a connection to the MQTT broker.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	if !p.config.MQTT.Enabled || p.isConnected() {
		return nil
	}

	if p.client == nil {
		p.client = p.clientFactory(p.config, p)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	connToken := p.client.Connect()

	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: timeout after 10 seconds")
	case <-connToken.Done():
		if connToken.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", connToken.Error())
		}
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	if p.config.MQTT.HomeAssistantAutoDiscovery.Enabled && p.config.MQTT.HomeAssistantAutoDiscovery.ListenToBirthMessage {
		p.subscribeToBirthMessage()
	}

	p.logger.Info().
		Str("broker", fmt.Sprintf("%s:%d", p.config.MQTT.Host, p.config.MQTT.Port)).
		Msg("Connected to MQTT broker")
	return nil
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// discovery lazily initializes Home Assistant auto-discovery. It returns nil when disabled.
func (p *MQTTPublisher) discovery() (*homeassistant.AutoDiscovery, error) {
	ha := p.config.MQTT.HomeAssistantAutoDiscovery
	if !ha.Enabled {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haDiscovery != nil {
		return p.haDiscovery, nil
	}

	ad, err := homeassistant.New(homeassistant.Config{
		Enabled:            ha.Enabled,
		DiscoveryPrefix:    ha.DiscoveryPrefix,
		DeviceManufacturer: ha.DeviceManufacturer,
		DeviceModel:        ha.DeviceModel,
		RetainDiscovery:    ha.RetainDiscovery,
		SwVersion:          Version,
	}, p.config.MQTT.Topic)
	if err != nil {
		return nil, err
	}
	p.haDiscovery = ad
	return ad, nil
}

// subscribeToBirthMessage subscribes to Home Assistant birth messages.
func (p *MQTTPublisher) subscribeToBirthMessage() {
	p.mu.RLock()
	skip := p.birthSubscribed || !p.connected
	p.mu.RUnlock()
	if skip {
		return
	}

	birthTopic := fmt.Sprintf("%s/status", p.config.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix)

	token := p.client.Subscribe(birthTopic, 0, p.handleBirthMessage)
	if token.Wait() && token.Error() != nil {
		p.logger.Warn().Err(token.Error()).Str("topic", birthTopic).Msg("Failed to subscribe to birth message")
		return
	}

	p.mu.Lock()
	p.birthSubscribed = true
	p.mu.Unlock()
	p.logger.Info().Str("topic", birthTopic).Msg("Subscribed to Home Assistant birth messages")
}

// handleBirthMessage clears the discovery cache when Home Assistant comes online.
func (p *MQTTPublisher) handleBirthMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := string(msg.Payload())

	p.logger.Debug().
		Str("topic", msg.Topic()).
		Str("payload", payload).
		Msg("Received Home Assistant birth message")

	if payload == "online" {
		p.logger.Info().Msg("Home Assistant came online, triggering auto-discovery refresh")
		p.mu.Lock()
		p.discoveredSites = make(map[string]bool)
		p.lastDiscoveryTime = time.Time{}
		p.mu.Unlock()
	}
}

// shouldRediscover reports whether the periodic rediscovery interval has elapsed.
func (p *MQTTPublisher) shouldRediscover() bool {
	interval := p.config.MQTT.HomeAssistantAutoDiscovery.RediscoveryInterval
	if interval <= 0 {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.lastDiscoveryTime.IsZero() {
		return true
	}
	return time.Since(p.lastDiscoveryTime) >= time.Duration(interval)*time.Hour
}

// Publish sends data to the specified topic.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, data interface{}) error {
	if !p.config.MQTT.Enabled || !p.isConnected() {
		return nil
	}

	if view, ok := data.(*domain.SiteView); ok {
		return p.publishSiteView(ctx, view)
	}

	return p.publishGeneric(ctx, topic, data, p.config.MQTT.Retain)
}

// ViewTopic returns the topic a site view is published on.
func (p *MQTTPublisher) ViewTopic(siteID string, view domain.View) string {
	return homeassistant.ViewTopic(p.config.MQTT.Topic, siteID, view)
}

// publishSiteView publishes the view payload and, when enabled, the site's discovery configs.
func (p *MQTTPublisher) publishSiteView(ctx context.Context, view *domain.SiteView) error {
	if view.SiteID == "" {
		p.logger.Debug().Msg("Skipping publish: site id is empty")
		return nil
	}

	ad, err := p.discovery()
	if err != nil {
		return fmt.Errorf("failed to setup Home Assistant discovery: %w", err)
	}
	if ad != nil {
		if err := p.publishHomeAssistantDiscovery(ctx, ad, view); err != nil {
			return fmt.Errorf("failed to publish Home Assistant discovery: %w", err)
		}
	}

	topic := p.ViewTopic(view.SiteID, view.View)
	if err := p.publishGeneric(ctx, topic, view.Data, p.config.MQTT.Retain); err != nil {
		return fmt.Errorf("failed to publish %s view: %w", view.View, err)
	}

	p.logger.Debug().
		Str("site_id", view.SiteID).
		Str("view", string(view.View)).
		Str("topic", topic).
		Msg("Published site view")
	return nil
}

// publishGeneric marshals data to JSON and publishes it.
func (p *MQTTPublisher) publishGeneric(ctx context.Context, topic string, data interface{}, retain bool) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data to JSON: %w", err)
	}
	return p.publishRaw(ctx, topic, jsonData, retain)
}

func (p *MQTTPublisher) publishRaw(ctx context.Context, topic string, payload []byte, retain bool) error {
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := p.client.Publish(topic, 0, retain, payload)

	select {
	case <-publishCtx.Done():
		return fmt.Errorf("publish timeout after 5 seconds")
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to publish message: %w", token.Error())
		}
	}

	return nil
}

// publishHomeAssistantDiscovery publishes discovery configs once per site, again after a
// reconnect, a birth message or the rediscovery interval, and always refreshes availability.
func (p *MQTTPublisher) publishHomeAssistantDiscovery(ctx context.Context, ad *homeassistant.AutoDiscovery, view *domain.SiteView) error {
	rediscover := p.shouldRediscover()

	p.mu.RLock()
	discovered := p.discoveredSites[view.SiteID]
	p.mu.RUnlock()

	if !discovered || rediscover {
		site := view.Site
		if site.ID == "" {
			site.ID = view.SiteID
		}

		for topic, message := range ad.GenerateDiscoveryMessages(site) {
			if err := p.publishGeneric(ctx, topic, message, p.config.MQTT.HomeAssistantAutoDiscovery.RetainDiscovery); err != nil {
				return fmt.Errorf("failed to publish discovery message to %s: %w", topic, err)
			}
		}

		p.mu.Lock()
		p.discoveredSites[view.SiteID] = true
		if rediscover {
			p.lastDiscoveryTime = time.Now()
		}
		p.mu.Unlock()

		p.logger.Info().Str("site_id", view.SiteID).Msg("Published Home Assistant discovery")
	}

	availTopic := ad.GetAvailabilityTopic(view.SiteID)
	return p.publishRaw(ctx, availTopic, []byte(ad.CreateAvailabilityMessage(true)), p.config.MQTT.Retain)
}

// RemoveSite marks a site offline and removes its Home Assistant entities.
func (p *MQTTPublisher) RemoveSite(ctx context.Context, siteID string) error {
	if !p.config.MQTT.Enabled || !p.isConnected() {
		return nil
	}

	ad, err := p.discovery()
	if err != nil || ad == nil {
		return err
	}

	availTopic := ad.GetAvailabilityTopic(siteID)
	if err := p.publishRaw(ctx, availTopic, []byte(ad.CreateAvailabilityMessage(false)), p.config.MQTT.Retain); err != nil {
		return err
	}

	for topic := range ad.CleanupDiscoveryMessages(siteID) {
		if err := p.publishRaw(ctx, topic, []byte{}, true); err != nil {
			return fmt.Errorf("failed to remove discovery config %s: %w", topic, err)
		}
	}

	p.mu.Lock()
	delete(p.discoveredSites, siteID)
	p.mu.Unlock()
	return nil
}

// Close terminates the connection to the MQTT broker.
func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.connected {
		p.client.Disconnect(250)
		p.connected = false
	}
	return nil
}
