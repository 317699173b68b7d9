package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration for the compliance core.
type Server struct {
	Addr string

	// DatabaseURL selects the postgres stores when set; memory stores
	// otherwise.
	DatabaseURL string

	Redis RedisConfig
	Kafka KafkaConfig

	// KMSRootSecret is the base64-encoded root secret the KMS derives its
	// wrapping keys from. The process refuses to start without it.
	KMSRootSecret string

	// SearchHashSalt keys the deterministic search hash. Changing it breaks
	// equality lookups over previously hashed columns, so it is fixed per
	// deployment.
	SearchHashSalt string

	Detection  DetectionConfig
	Compliance ComplianceConfig

	// ReportIssuer names this deployment in exported report attestations.
	ReportIssuer string

	// AdminToken guards operator endpoints such as the retention purge.
	// Admin routes are not mounted when it is empty.
	AdminToken string
}

// RedisConfig configures the optional Redis connection used by the detection
// dedupe store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional audit fan-out to a SIEM topic.
type KafkaConfig struct {
	Brokers       []string
	SecurityTopic string
}

// DetectionConfig controls the pattern-detection sweep.
type DetectionConfig struct {
	SweepInterval time.Duration
	// DedupeTTL bounds how long a rule+group+window key suppresses duplicate
	// incident creation. It should exceed the widest rule window.
	DedupeTTL time.Duration
}

// ComplianceConfig holds scoring policy as data rather than code.
type ComplianceConfig struct {
	// AreaWeights weight each policy area in the overall score. Missing
	// areas default to 1.
	AreaWeights map[string]float64
	// CompliantThreshold and AtRiskThreshold split scores into status labels.
	CompliantThreshold float64
	AtRiskThreshold    float64
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CUSTODIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	sweep := durationEnv("CUSTODIA_DETECTION_INTERVAL", time.Minute)
	dedupeTTL := durationEnv("CUSTODIA_DETECTION_DEDUPE_TTL", time.Hour)

	salt := os.Getenv("CUSTODIA_SEARCH_SALT")
	if salt == "" {
		// Deterministic default for development; production deployments set
		// their own.
		salt = "dev-search-salt-change-in-production"
	}

	issuer := os.Getenv("CUSTODIA_REPORT_ISSUER")
	if issuer == "" {
		issuer = "custodia"
	}

	return Server{
		Addr:        addr,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Compliance:  DefaultComplianceConfig(),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: intEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       splitEnv("KAFKA_BROKERS"),
			SecurityTopic: envOr("KAFKA_SECURITY_TOPIC", "custodia.audit.security"),
		},
		KMSRootSecret:  os.Getenv("CUSTODIA_KMS_ROOT_SECRET"),
		SearchHashSalt: salt,
		Detection: DetectionConfig{
			SweepInterval: sweep,
			DedupeTTL:     dedupeTTL,
		},
		ReportIssuer: issuer,
		AdminToken:   os.Getenv("CUSTODIA_ADMIN_TOKEN"),
	}
}

// DefaultComplianceConfig returns equal weights and the standard status
// thresholds. Deployments calibrate these against their own compliance
// requirements.
func DefaultComplianceConfig() ComplianceConfig {
	return ComplianceConfig{
		AreaWeights:        map[string]float64{},
		CompliantThreshold: 90,
		AtRiskThreshold:    70,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitEnv(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
