package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	AutoMigrate           bool
	SeedDemoData          bool
	SeedAdminPassword     string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisEventsChannel    string
	KafkaBrokers          []string
	KafkaTopic            string
	RestaurantID          string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	CGSTRate              decimal.Decimal
	SGSTRate              decimal.Decimal
	TaxRate               decimal.Decimal
	ServiceChargeRate     decimal.Decimal
	LoyaltyPointsPerUnit  decimal.Decimal
	LoyaltySilverMin      int64
	LoyaltyGoldMin        int64
	LoyaltyPlatinumMin    int64
	LockTTLSeconds        int
	LogLevel              string
	LogJSON               bool
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables win over it.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	lockTTL, err := strconv.Atoi(getEnv("LOCK_TTL_SECONDS", "10"))
	if err != nil || lockTTL < 1 {
		lockTTL = 10
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		AutoMigrate:           getBool("AUTO_MIGRATE", true),
		SeedDemoData:          getBool("SEED_DEMO_DATA", false),
		SeedAdminPassword:     os.Getenv("SEED_ADMIN_PASSWORD"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		RedisEventsChannel:    getEnv("REDIS_EVENTS_CHANNEL", "tablebill:events"),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "tablebill.order-events"),
		RestaurantID:          getEnv("DEFAULT_RESTAURANT_ID", "main-restaurant"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		CGSTRate:              getRate("CGST_RATE", "2.5"),
		SGSTRate:              getRate("SGST_RATE", "2.5"),
		TaxRate:               getRate("TAX_RATE", "0"),
		ServiceChargeRate:     getRate("SERVICE_CHARGE_RATE", "0"),
		LoyaltyPointsPerUnit:  getRate("LOYALTY_POINTS_PER_UNIT", "0.01"),
		LoyaltySilverMin:      getInt64("LOYALTY_SILVER_MIN", 5000),
		LoyaltyGoldMin:        getInt64("LOYALTY_GOLD_MIN", 20000),
		LoyaltyPlatinumMin:    getInt64("LOYALTY_PLATINUM_MIN", 50000),
		LockTTLSeconds:        lockTTL,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogJSON:               getBool("LOG_JSON", false),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}

func getInt64(key string, fallback int64) int64 {
	val, err := strconv.ParseInt(getEnv(key, ""), 10, 64)
	if err != nil || val < 0 {
		return fallback
	}
	return val
}

// getRate parses a non-negative percentage such as "2.5".
func getRate(key string, fallback string) decimal.Decimal {
	val, err := decimal.NewFromString(strings.TrimSpace(getEnv(key, fallback)))
	if err != nil || val.IsNegative() {
		return decimal.RequireFromString(fallback)
	}
	return val
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
