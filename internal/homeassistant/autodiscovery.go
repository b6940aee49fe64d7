// Package homeassistant provides MQTT auto-discovery support for Home Assistant integration.
package homeassistant

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/resident-x/go-solarsight/internal/domain"
)

//go:embed layouts/site_sensors.yaml
var siteSensorsYAML []byte

// Config holds the Home Assistant auto-discovery configuration.
type Config struct {
	Enabled            bool
	DiscoveryPrefix    string
	DeviceManufacturer string
	DeviceModel        string
	RetainDiscovery    bool
	SwVersion          string
}

// SensorConfig represents a sensor configuration from the layouts YAML.
type SensorConfig struct {
	Name              string      `yaml:"name"`
	View              domain.View `yaml:"view"`
	ValueTemplate     string      `yaml:"value_template"`
	DeviceClass       string      `yaml:"device_class,omitempty"`
	UnitOfMeasurement string      `yaml:"unit_of_measurement,omitempty"`
	StateClass        string      `yaml:"state_class,omitempty"`
	Category          string      `yaml:"category"`
	Icon              string      `yaml:"icon,omitempty"`
}

// LayoutConfig represents the full layout configuration for Home Assistant sensors.
type LayoutConfig struct {
	Version     string                  `yaml:"version"`
	Description string                  `yaml:"description"`
	Sensors     map[string]SensorConfig `yaml:"sensors"`
}

// DiscoveryMessage represents a Home Assistant MQTT discovery message.
type DiscoveryMessage struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	ValueTemplate       string     `json:"value_template"`
	DeviceClass         string     `json:"device_class,omitempty"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	Icon                string     `json:"icon,omitempty"`
	EntityCategory      string     `json:"entity_category,omitempty"`
	Device              DeviceInfo `json:"device"`
	AvailabilityTopic   string     `json:"availability_topic,omitempty"`
	PayloadAvailable    string     `json:"payload_available,omitempty"`
	PayloadNotAvailable string     `json:"payload_not_available,omitempty"`
}

// DeviceInfo represents device information for Home Assistant.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// AutoDiscovery builds Home Assistant discovery messages for site sensors.
type AutoDiscovery struct {
	config       Config
	layoutConfig *LayoutConfig
	baseTopic    string
}

// New creates a new Home Assistant auto-discovery instance. baseTopic is the root the
// site views are published under.
func New(config Config, baseTopic string) (*AutoDiscovery, error) {
	ad := &AutoDiscovery{
		config:    config,
		baseTopic: strings.TrimSuffix(baseTopic, "/"),
	}

	if err := ad.loadLayoutConfig(); err != nil {
		return nil, fmt.Errorf("failed to load layout config: %w", err)
	}

	return ad, nil
}

// loadLayoutConfig loads the sensor configuration from embedded YAML.
func (ad *AutoDiscovery) loadLayoutConfig() error {
	var config LayoutConfig
	if err := yaml.Unmarshal(siteSensorsYAML, &config); err != nil {
		return fmt.Errorf("failed to unmarshal Home Assistant sensors config: %w", err)
	}

	ad.layoutConfig = &config
	log.Debug().
		Str("version", config.Version).
		Int("sensor_count", len(config.Sensors)).
		Msg("Home Assistant layout configuration loaded from YAML")

	return nil
}

// SensorKeys returns the configured sensor keys in sorted order.
func (ad *AutoDiscovery) SensorKeys() []string {
	keys := make([]string, 0, len(ad.layoutConfig.Sensors))
	for key := range ad.layoutConfig.Sensors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// StateTopic is where a site's view is published.
func (ad *AutoDiscovery) StateTopic(siteID string, view domain.View) string {
	return ViewTopic(ad.baseTopic, siteID, view)
}

// ViewTopic builds <base>/<site>/<view>.
func ViewTopic(baseTopic, siteID string, view domain.View) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(baseTopic, "/"), siteID, view)
}

// GenerateDiscoveryMessages returns discovery messages for every sensor of a site, keyed by topic.
func (ad *AutoDiscovery) GenerateDiscoveryMessages(site domain.SiteProfile) map[string]DiscoveryMessage {
	messages := make(map[string]DiscoveryMessage, len(ad.layoutConfig.Sensors))
	for key, sensor := range ad.layoutConfig.Sensors {
		messages[ad.getDiscoveryTopic(site.ID, key)] = ad.createDiscoveryMessage(site, key, sensor)
	}
	return messages
}

func (ad *AutoDiscovery) createDiscoveryMessage(site domain.SiteProfile, key string, sensor SensorConfig) DiscoveryMessage {
	nodeID := nodeID(site.ID)

	var entityCategory string
	if sensor.Category == "diagnostic" {
		entityCategory = "diagnostic"
	}

	deviceName := site.Name
	if deviceName == "" {
		deviceName = fmt.Sprintf("Solar Site %s", site.ID)
	}

	return DiscoveryMessage{
		Name:                sensor.Name,
		UniqueID:            fmt.Sprintf("solarsight_%s_%s", nodeID, key),
		StateTopic:          ad.StateTopic(site.ID, sensor.View),
		ValueTemplate:       sensor.ValueTemplate,
		DeviceClass:         sensor.DeviceClass,
		UnitOfMeasurement:   sensor.UnitOfMeasurement,
		StateClass:          sensor.StateClass,
		Icon:                sensor.Icon,
		EntityCategory:      entityCategory,
		AvailabilityTopic:   ad.GetAvailabilityTopic(site.ID),
		PayloadAvailable:    "online",
		PayloadNotAvailable: "offline",
		Device: DeviceInfo{
			Identifiers:  []string{"solarsight_" + nodeID},
			Name:         deviceName,
			Manufacturer: ad.config.DeviceManufacturer,
			Model:        ad.deviceModel(site),
			SwVersion:    ad.config.SwVersion,
		},
	}
}

// deviceModel appends the site capacity to the configured model.
func (ad *AutoDiscovery) deviceModel(site domain.SiteProfile) string {
	if site.CapacityKWp <= 0 {
		return ad.config.DeviceModel
	}
	return fmt.Sprintf("%s (%g kWp)", ad.config.DeviceModel, site.CapacityKWp)
}

// getDiscoveryTopic builds <discovery_prefix>/sensor/<node_id>/<object_id>/config.
func (ad *AutoDiscovery) getDiscoveryTopic(siteID, key string) string {
	node := nodeID(siteID)
	return fmt.Sprintf("%s/sensor/solarsight_%s/%s_%s/config", ad.config.DiscoveryPrefix, node, node, key)
}

func nodeID(siteID string) string {
	id := strings.ToLower(siteID)
	id = strings.ReplaceAll(id, " ", "_")
	return strings.ReplaceAll(id, "-", "_")
}

// GetAvailabilityTopic returns the availability topic for a site.
func (ad *AutoDiscovery) GetAvailabilityTopic(siteID string) string {
	return fmt.Sprintf("%s/%s/availability", ad.baseTopic, siteID)
}

// CreateAvailabilityMessage returns the availability payload.
func (ad *AutoDiscovery) CreateAvailabilityMessage(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

// CleanupDiscoveryMessages generates empty payloads that remove a site's sensors from Home Assistant.
func (ad *AutoDiscovery) CleanupDiscoveryMessages(siteID string) map[string]string {
	messages := make(map[string]string, len(ad.layoutConfig.Sensors))
	for key := range ad.layoutConfig.Sensors {
		messages[ad.getDiscoveryTopic(siteID, key)] = ""
	}
	return messages
}
