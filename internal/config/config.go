package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	AdminUser     string
	AdminPassword string
	AdminEmail    string

	// AdminOTP is the one-time code admins enter after their password.
	// There is no email delivery; the code is fixed and logged.
	AdminOTP string

	// AllowAdminRegister exposes /admin-register. Off by default.
	AllowAdminRegister bool

	// UserMFA asks users for their authenticator code after the password.
	UserMFA bool

	// DatabaseURL is either a postgres:// URL or sqlite://<path>.
	DatabaseURL string

	ListenAddr string

	SessionTTL time.Duration
	MFATTL     time.Duration

	// SensorAPIKey is provisioned as an active sensor key at startup so a
	// fresh install can accept IoT readings. If empty, keys are created
	// from the admin panel only.
	SensorAPIKey string

	// TilesSeedPath points at a YAML tile list used when the tile table is
	// empty. If empty, the built-in list is used.
	TilesSeedPath string

	// RandomSeed seeds the simulated sensor readings. Zero means seed from
	// the clock.
	RandomSeed int64

	// MQTT ingestion is disabled when MQTTBroker is empty.
	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string

	// Kafka event publishing is disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		AdminUser:          getenv("APP_ADMIN_USER", "admin"),
		AdminPassword:      getenv("APP_ADMIN_PASSWORD", "changeme"),
		AdminEmail:         getenv("APP_ADMIN_EMAIL", "admin@energy.local"),
		AdminOTP:           getenv("APP_ADMIN_OTP", "000000"),
		AllowAdminRegister: getenv("APP_ALLOW_ADMIN_REGISTER", "false") == "true",
		UserMFA:            getenv("APP_USER_MFA", "false") == "true",
		DatabaseURL:        getenv("APP_DATABASE_URL", "sqlite://data/energytiles.db"),
		ListenAddr:         getenv("APP_LISTEN_ADDR", ":8080"),
		SessionTTL:         24 * time.Hour,
		MFATTL:             5 * time.Minute,
		SensorAPIKey:       getenv("APP_SENSOR_API_KEY", ""),
		TilesSeedPath:      getenv("APP_TILES_SEED", ""),
		MQTTBroker:         getenv("APP_MQTT_BROKER", ""),
		MQTTClientID:       getenv("APP_MQTT_CLIENT_ID", "energytiles-server"),
		MQTTTopic:          getenv("APP_MQTT_TOPIC", "tiles/+/readings"),
		KafkaTopic:         getenv("APP_KAFKA_TOPIC", "energy-events"),
	}

	if v := os.Getenv("APP_SESSION_TTL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			cfg.SessionTTL = time.Duration(hours) * time.Hour
		}
	}
	if v := os.Getenv("APP_MFA_TTL_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			cfg.MFATTL = time.Duration(minutes) * time.Minute
		}
	}
	if v := os.Getenv("APP_RANDOM_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RandomSeed = seed
		}
	}
	if v := os.Getenv("APP_KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
