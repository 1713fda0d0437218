package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"supportchat-ws/internal/domain"

	"github.com/google/uuid"
)

type Config struct {
	Port             string
	AllowedOrigins   []string
	AllowCredentials bool
	Environment      string
	InstanceID       string

	StoreDriver   string
	MongoURI      string
	MongoDatabase string
	StoreTimeout  time.Duration
	// StaffMembers seeds the staff directory of the in-memory store driver.
	StaffMembers  []domain.StaffMember

	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string

	TypingTTL           time.Duration
	TypingSweepInterval time.Duration

	WSSendBuffer     int
	WSPingInterval   time.Duration
	WSPongWait       time.Duration
	WSMaxMessageSize int64

	RateLimitMax    int
	RateLimitWindow time.Duration
}

func LoadConfig() *Config {
	cfg := &Config{
		Port:             getEnv("PORT", "8082"),
		AllowedOrigins:   getList("ALLOWED_ORIGINS", []string{"*"}),
		AllowCredentials: getBool("ALLOW_CREDENTIALS", false),
		Environment:      getEnv("ENVIRONMENT", "development"),
		InstanceID:       getEnv("INSTANCE_ID", uuid.NewString()),

		StoreDriver:   getEnv("STORE_DRIVER", "mongo"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "storefront"),
		StoreTimeout:  getDuration("STORE_TIMEOUT", 5*time.Second),
		StaffMembers:  getStaff("STAFF_MEMBERS"),

		RedisEnabled:  getBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		KafkaEnabled: getBool("KAFKA_ENABLED", false),
		KafkaBrokers: getList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "chat-events"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		TypingTTL:           getDuration("TYPING_TTL", 3*time.Second),
		TypingSweepInterval: getDuration("TYPING_SWEEP_INTERVAL", 500*time.Millisecond),

		WSSendBuffer:     getInt("WS_SEND_BUFFER", 64),
		WSPingInterval:   getDuration("WS_PING_INTERVAL", 25*time.Second),
		WSPongWait:       getDuration("WS_PONG_WAIT", 60*time.Second),
		WSMaxMessageSize: int64(getInt("WS_MAX_MESSAGE_SIZE", 16*1024)),

		RateLimitMax:    getInt("RATE_LIMIT_MAX", 30),
		RateLimitWindow: getDuration("RATE_LIMIT_WINDOW", time.Minute),
	}

	// Pings must arrive before the peer's read deadline lapses.
	if cfg.WSPingInterval >= cfg.WSPongWait {
		cfg.WSPingInterval = cfg.WSPongWait * 9 / 10
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	items := strings.Split(value, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return items
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		log.Printf("Invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		log.Printf("Invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getStaff parses "id:role:name" entries separated by commas. The name is
// optional; malformed entries are skipped.
func getStaff(key string) []domain.StaffMember {
	var members []domain.StaffMember
	for _, item := range getList(key, nil) {
		parts := strings.SplitN(item, ":", 3)
		if len(parts) < 2 || parts[0] == "" || !domain.Role(parts[1]).IsStaff() {
			log.Printf("Invalid %s entry %q, expected id:admin|seller[:name]", key, item)
			continue
		}
		member := domain.StaffMember{ID: parts[0], Role: domain.Role(parts[1])}
		if len(parts) == 3 {
			member.Name = parts[2]
		}
		members = append(members, member)
	}
	return members
}

// GetCORSOrigins returns CORS origins as a comma-separated string
func (c *Config) GetCORSOrigins() string {
	if c.Environment == "production" && len(c.AllowedOrigins) > 0 && c.AllowedOrigins[0] != "*" {
		return strings.Join(c.AllowedOrigins, ",")
	}
	return "*"
}

// IsDevelopment returns true if environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
