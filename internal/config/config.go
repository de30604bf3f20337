package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"smartclimate/internal/auxiliary"
	"smartclimate/internal/models"
	"smartclimate/internal/presence"
	"smartclimate/internal/schedule"
	"smartclimate/internal/scoring"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath           = "./config/smart_climate.yaml"
	DefaultUpdateInterval = 60
	MinUpdateInterval     = 15
	MaxUpdateInterval     = 300
	DefaultAnalysisTime   = "06:00"
	DefaultEfficiency     = 70.0
	DefaultAIProvider     = "none"
)

// Window-open behaviors accepted in window_open_behavior.
const (
	WindowEco    = "eco"
	WindowOff    = "off"
	WindowReduce = "reduce"
)

// Config is the flat key-value bag describing one installation. It is read
// wholesale at startup and on reload.
type Config struct {
	Name                  string   `yaml:"integration_name"`
	TempUnit              string   `yaml:"temp_unit"`
	UpdateInterval        int      `yaml:"update_interval"`
	OperationMode         string   `yaml:"operation_mode"`
	EnableFollowMe        *bool    `yaml:"enable_follow_me"`
	EnableZoneBalancing   *bool    `yaml:"enable_zone_balancing"`
	FollowMeCooldown      *int     `yaml:"follow_me_cooldown"`
	AwayTempOffset        *float64 `yaml:"away_temp_offset"`
	WindowOpenBehavior    string   `yaml:"window_open_behavior"`
	ComfortTempWeight     float64  `yaml:"comfort_temp_weight"`
	ComfortHumidityWeight float64  `yaml:"comfort_humidity_weight"`
	EfficiencyThreshold   float64  `yaml:"efficiency_threshold"`
	AuxiliaryThreshold    float64  `yaml:"auxiliary_threshold"`
	AuxiliaryDelayMinutes int      `yaml:"auxiliary_delay_minutes"`
	AuxiliaryMaxRuntime   int      `yaml:"auxiliary_max_runtime"`

	WeatherEntity     string `yaml:"weather_entity"`
	OutdoorTempSensor string `yaml:"outdoor_temp_sensor"`

	AIProvider     string `yaml:"ai_provider"`
	AIAPIKey       string `yaml:"ai_api_key"`
	AIModel        string `yaml:"ai_model"`
	AIBaseURL      string `yaml:"ai_base_url"`
	AIAnalysisTime string `yaml:"ai_analysis_time"`
	AIAutoApply    bool   `yaml:"ai_auto_apply"`

	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`

	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`

	Rooms     []models.RoomConfig `yaml:"rooms"`
	Schedules []models.Schedule   `yaml:"schedules"`
}

// Load reads and validates the configuration at path, filling defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes yaml, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset keys and normalizes rooms and schedules.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "Smart Climate"
	}
	if c.TempUnit == "" {
		c.TempUnit = "F"
	}
	if c.UpdateInterval == 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.UpdateInterval < MinUpdateInterval {
		c.UpdateInterval = MinUpdateInterval
	}
	if c.UpdateInterval > MaxUpdateInterval {
		c.UpdateInterval = MaxUpdateInterval
	}
	if c.OperationMode == "" {
		c.OperationMode = string(models.ModeActive)
	}
	if c.EnableFollowMe == nil {
		c.EnableFollowMe = boolPtr(true)
	}
	if c.EnableZoneBalancing == nil {
		c.EnableZoneBalancing = boolPtr(true)
	}
	if c.FollowMeCooldown == nil {
		c.FollowMeCooldown = intPtr(int(presence.DefaultCooldown / time.Minute))
	}
	if c.AwayTempOffset == nil {
		c.AwayTempOffset = floatPtr(presence.DefaultAwayOffset)
	}
	if c.WindowOpenBehavior == "" {
		c.WindowOpenBehavior = WindowEco
	}
	if c.ComfortTempWeight == 0 && c.ComfortHumidityWeight == 0 {
		w := scoring.DefaultWeights()
		c.ComfortTempWeight = w.Temperature
		c.ComfortHumidityWeight = w.Humidity
	}
	if c.EfficiencyThreshold == 0 {
		c.EfficiencyThreshold = DefaultEfficiency
	}
	if c.AuxiliaryThreshold == 0 {
		c.AuxiliaryThreshold = auxiliary.DefaultThreshold
	}
	if c.AuxiliaryDelayMinutes == 0 {
		c.AuxiliaryDelayMinutes = auxiliary.DefaultDelayMinutes
	}
	if c.AuxiliaryMaxRuntime == 0 {
		c.AuxiliaryMaxRuntime = auxiliary.DefaultMaxRuntimeMinutes
	}
	if c.AIProvider == "" {
		c.AIProvider = DefaultAIProvider
	}
	if c.AIAnalysisTime == "" {
		c.AIAnalysisTime = DefaultAnalysisTime
	}

	for i := range c.Rooms {
		r := &c.Rooms[i]
		if r.Slug == "" {
			r.Slug = models.Slugify(r.Name)
		}
		if r.Priority == 0 {
			r.Priority = models.DefaultRoomPriority
		}
		r.Priority = models.ClampPriority(r.Priority)
	}
	for i := range c.Schedules {
		s := &c.Schedules[i]
		if s.Slug == "" {
			s.Slug = models.Slugify(s.Name)
		}
		if len(s.Rooms) == 0 {
			s.Rooms = []string{models.AllRooms}
		}
	}
}

// Validate reports the first structural problem found.
func (c *Config) Validate() error {
	if _, ok := models.ParseOperationMode(c.OperationMode); !ok {
		return fmt.Errorf("invalid operation_mode %q", c.OperationMode)
	}
	switch c.WindowOpenBehavior {
	case WindowEco, WindowOff, WindowReduce:
	default:
		return fmt.Errorf("invalid window_open_behavior %q", c.WindowOpenBehavior)
	}
	if _, err := schedule.ParseTimeOfDay(c.AIAnalysisTime); err != nil {
		return fmt.Errorf("invalid ai_analysis_time: %w", err)
	}
	if len(c.Rooms) == 0 {
		return errors.New("at least one room must be configured")
	}

	slugs := make(map[string]bool, len(c.Rooms))
	for _, r := range c.Rooms {
		if r.Slug == "" {
			return errors.New("room is missing a name")
		}
		if slugs[r.Slug] {
			return fmt.Errorf("duplicate room slug %q", r.Slug)
		}
		slugs[r.Slug] = true
		if r.ClimateEntity == "" {
			return fmt.Errorf("room %q has no climate_entity", r.Slug)
		}
	}

	schedules := make(map[string]bool, len(c.Schedules))
	for _, s := range c.Schedules {
		if err := ValidateSchedule(s); err != nil {
			return err
		}
		if schedules[s.Slug] {
			return fmt.Errorf("duplicate schedule slug %q", s.Slug)
		}
		schedules[s.Slug] = true
	}
	return nil
}

// ValidateSchedule checks a single schedule record.
func ValidateSchedule(s models.Schedule) error {
	if s.Slug == "" {
		return errors.New("schedule is missing a name")
	}
	if _, err := schedule.ParseTimeOfDay(s.StartTime); err != nil {
		return fmt.Errorf("schedule %q start time: %w", s.Slug, err)
	}
	if _, err := schedule.ParseTimeOfDay(s.EndTime); err != nil {
		return fmt.Errorf("schedule %q end time: %w", s.Slug, err)
	}
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("schedule %q has invalid day %d", s.Slug, d)
		}
	}
	return nil
}

func (c *Config) FollowMeEnabled() bool {
	return c.EnableFollowMe == nil || *c.EnableFollowMe
}

func (c *Config) ZoneBalancingEnabled() bool {
	return c.EnableZoneBalancing == nil || *c.EnableZoneBalancing
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.UpdateInterval) * time.Second
}

// Cooldown is the follow-me switch cooldown. An explicit 0 disables it.
func (c *Config) Cooldown() time.Duration {
	if c.FollowMeCooldown == nil {
		return presence.DefaultCooldown
	}
	return time.Duration(*c.FollowMeCooldown) * time.Minute
}

// AwayOffset is how far unoccupied rooms drift from the follow-me target.
// An explicit 0 keeps every room at the target.
func (c *Config) AwayOffset() float64 {
	if c.AwayTempOffset == nil {
		return presence.DefaultAwayOffset
	}
	return *c.AwayTempOffset
}

func (c *Config) Weights() scoring.Weights {
	return scoring.Weights{Temperature: c.ComfortTempWeight, Humidity: c.ComfortHumidityWeight}
}

// Entities lists every entity the configuration reads, without duplicates.
func (c *Config) Entities() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ids ...string) {
		for _, id := range ids {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	add(c.OutdoorTempSensor, c.WeatherEntity)
	for _, r := range c.Rooms {
		add(r.ClimateEntity)
		add(r.TempSensors...)
		add(r.HumiditySensors...)
		add(r.PresenceSensors...)
		add(r.DoorWindowSensors...)
		add(r.VentEntities...)
		add(r.AuxiliaryEntities...)
	}
	return out
}

// LogSummary writes the effective settings at Info level.
func (c *Config) LogSummary(logger *zap.Logger) {
	logger.Info("Configuration loaded",
		zap.String("name", c.Name),
		zap.Int("rooms", len(c.Rooms)),
		zap.Int("schedules", len(c.Schedules)),
		zap.Int("update_interval", c.UpdateInterval),
		zap.String("operation_mode", c.OperationMode),
		zap.Bool("follow_me", c.FollowMeEnabled()),
		zap.Bool("zone_balancing", c.ZoneBalancingEnabled()),
		zap.String("ai_provider", c.AIProvider),
		zap.String("ai_analysis_time", c.AIAnalysisTime))
}

func boolPtr(v bool) *bool {
	return &v
}

func intPtr(v int) *int {
	return &v
}

func floatPtr(v float64) *float64 {
	return &v
}
