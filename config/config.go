package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Tenancy  TenancyConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Payment  PaymentConfig
	Notify   NotifyConfig
	Storage  StorageConfig
	Observ   ObservabilityConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type TenancyConfig struct {
	ManifestPath  string
	DefaultSchool string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicOrder    string
	ConsumerGroup string
}

type AuthConfig struct {
	JWTSecret   string
	AdminDomain string
	TokenTTL    time.Duration
	ResetTTL    time.Duration
	ResetURL    string
}

type PaymentConfig struct {
	APIURL       string
	APIKey       string
	CurrencyCode string
	ReturnURL    string
}

type NotifyConfig struct {
	NtfyURL     string
	EmailAPIURL string
}

type StorageConfig struct {
	ImageDir     string
	ImageBaseURL string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
}

type BusinessConfig struct {
	RestockOnCancel       bool
	PaymentTimeoutSeconds int
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTLMin, _ := strconv.Atoi(getEnv("TOKEN_TTL_MINUTES", "60"))
	resetTTLMin, _ := strconv.Atoi(getEnv("RESET_TTL_MINUTES", "30"))
	paymentTimeout, _ := strconv.Atoi(getEnv("PAYMENT_TIMEOUT_SECONDS", "900"))
	restock, _ := strconv.ParseBool(getEnv("RESTOCK_ON_CANCEL", "false"))

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Tenancy: TenancyConfig{
			ManifestPath:  getEnv("SCHOOL_MANIFEST", "schools.json"),
			DefaultSchool: getEnv("DEFAULT_SCHOOL", "school1"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicOrder:    getEnv("KAFKA_TOPIC_ORDER_EVENTS", "order-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "gardenx-notifications"),
		},
		Auth: AuthConfig{
			JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-me"),
			AdminDomain: getEnv("ADMIN_EMAIL_DOMAIN", "gemsdaa.net"),
			TokenTTL:    time.Duration(tokenTTLMin) * time.Minute,
			ResetTTL:    time.Duration(resetTTLMin) * time.Minute,
			ResetURL:    getEnv("PASSWORD_RESET_URL", "http://localhost:8080/reset-password"),
		},
		Payment: PaymentConfig{
			APIURL:       getEnv("PAYMENT_API_URL", "https://api-v2.ziina.com/api/payment_intent"),
			APIKey:       getEnv("PAYMENT_API_KEY", ""),
			CurrencyCode: getEnv("PAYMENT_CURRENCY", "AED"),
			ReturnURL:    getEnv("PAYMENT_RETURN_URL", "http://localhost:8080/api/v1/checkout/return"),
		},
		Notify: NotifyConfig{
			NtfyURL:     getEnv("NTFY_URL", "https://ntfy.sh/gardenx-notifications"),
			EmailAPIURL: getEnv("EMAIL_API_URL", ""),
		},
		Storage: StorageConfig{
			ImageDir:     getEnv("IMAGE_DIR", "./data/images"),
			ImageBaseURL: getEnv("IMAGE_BASE_URL", "/images"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		},
		Business: BusinessConfig{
			RestockOnCancel:       restock,
			PaymentTimeoutSeconds: paymentTimeout,
		},
	}

	log.Printf("Config loaded: env=%s, port=%s, manifest=%s",
		cfg.Server.Env, cfg.Server.Port, cfg.Tenancy.ManifestPath)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
