// Package config loads settlement-service settings from defaults, an optional
// YAML file named by SETTLEMENT_CONFIG, and environment variables, in that
// order of precedence (later wins).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string
	LogLevel    string
	HTTPPort    string
	GRPCPort    string

	DB       DB
	Kafka    Kafka
	Redis    Redis
	Mongo    Mongo
	Wallet   Wallet
	Bank     Bank
	Schedule Schedule
	Tracing  Tracing

	RequestTimeout time.Duration
	GatewayTimeout time.Duration
	CommissionRate decimal.Decimal
}

type DB struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	MigrationsPath string
}

type Kafka struct {
	Brokers []string
	Topic   string
}

type Redis struct {
	Addr     string
	Password string
	TTL      time.Duration
}

type Mongo struct {
	URI        string
	DBName     string
	Collection string
}

// Wallet holds the MoMo-style partner credentials.
type Wallet struct {
	Endpoint    string
	PartnerCode string
	AccessKey   string
	SecretKey   string
	IPNURL      string
	RedirectURL string
	RequestType string
}

// Bank holds the VNPay-style merchant credentials.
type Bank struct {
	PayURL     string
	APIURL     string
	TmnCode    string
	HashSecret string
	ReturnURL  string
	Version    string
}

type Tracing struct {
	Endpoint    string
	Environment string
	SampleRatio float64
}

type Schedule struct {
	ReceiptInterval  time.Duration
	OutboxInterval   time.Duration
	RecoveryInterval time.Duration
}

var defaults = map[string]any{
	"SERVICE_NAME": "settlement-service",
	"LOG_LEVEL":    "info",
	"HTTP_PORT":    "8080",
	"GRPC_PORT":    "50057",

	"DB_HOST":         "localhost",
	"DB_PORT":         5432,
	"DB_USER":         "postgres",
	"DB_PASSWORD":     "postgres",
	"DB_NAME":         "ecommerce",
	"MIGRATIONS_PATH": "./internal/repository/migrations",

	"KAFKA_BROKERS": "localhost:9092",
	"KAFKA_TOPIC":   "settlement-events",

	"REDIS_ADDR":     "localhost:6379",
	"REDIS_PASSWORD": "",
	"REDIS_TTL":      "10m",

	"MONGO_URI":        "mongodb://localhost:27017",
	"MONGO_DB_NAME":    "marketplace",
	"MONGO_COLLECTION": "products",

	"WALLET_ENDPOINT":     "https://test-payment.momo.vn/v2/gateway/api",
	"WALLET_PARTNER_CODE": "",
	"WALLET_ACCESS_KEY":   "",
	"WALLET_SECRET_KEY":   "",
	"WALLET_IPN_URL":      "http://localhost:8080/api/v1/payments/wallet/ipn",
	"WALLET_REDIRECT_URL": "http://localhost:8080/api/v1/payments/wallet/return",
	"WALLET_REQUEST_TYPE": "captureWallet",

	"BANK_PAY_URL":     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
	"BANK_API_URL":     "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction",
	"BANK_TMN_CODE":    "",
	"BANK_HASH_SECRET": "",
	"BANK_RETURN_URL":  "http://localhost:8080/api/v1/payments/bank/return",
	"BANK_VERSION":     "2.1.0",

	"RECEIPT_INTERVAL":  "1h",
	"OUTBOX_INTERVAL":   "1s",
	"RECOVERY_INTERVAL": "30s",

	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"DEPLOY_ENV":                  "local",
	"OTEL_SAMPLE_RATIO":           1.0,

	"REQUEST_TIMEOUT": "10s",
	"GATEWAY_TIMEOUT": "10s",
	"COMMISSION_RATE": "0.1",
}

// Load reads the configuration. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := v.GetString("SETTLEMENT_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	rate, err := decimal.NewFromString(v.GetString("COMMISSION_RATE"))
	if err != nil {
		return nil, fmt.Errorf("invalid COMMISSION_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("COMMISSION_RATE must be within [0,1], got %s", rate)
	}

	cfg := &Config{
		ServiceName: v.GetString("SERVICE_NAME"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		HTTPPort:    v.GetString("HTTP_PORT"),
		GRPCPort:    v.GetString("GRPC_PORT"),
		DB: DB{
			Host:           v.GetString("DB_HOST"),
			Port:           v.GetInt("DB_PORT"),
			User:           v.GetString("DB_USER"),
			Password:       v.GetString("DB_PASSWORD"),
			Name:           v.GetString("DB_NAME"),
			MigrationsPath: v.GetString("MIGRATIONS_PATH"),
		},
		Kafka: Kafka{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
		Redis: Redis{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			TTL:      v.GetDuration("REDIS_TTL"),
		},
		Mongo: Mongo{
			URI:        v.GetString("MONGO_URI"),
			DBName:     v.GetString("MONGO_DB_NAME"),
			Collection: v.GetString("MONGO_COLLECTION"),
		},
		Wallet: Wallet{
			Endpoint:    strings.TrimRight(v.GetString("WALLET_ENDPOINT"), "/"),
			PartnerCode: v.GetString("WALLET_PARTNER_CODE"),
			AccessKey:   v.GetString("WALLET_ACCESS_KEY"),
			SecretKey:   v.GetString("WALLET_SECRET_KEY"),
			IPNURL:      v.GetString("WALLET_IPN_URL"),
			RedirectURL: v.GetString("WALLET_REDIRECT_URL"),
			RequestType: v.GetString("WALLET_REQUEST_TYPE"),
		},
		Bank: Bank{
			PayURL:     v.GetString("BANK_PAY_URL"),
			APIURL:     v.GetString("BANK_API_URL"),
			TmnCode:    v.GetString("BANK_TMN_CODE"),
			HashSecret: v.GetString("BANK_HASH_SECRET"),
			ReturnURL:  v.GetString("BANK_RETURN_URL"),
			Version:    v.GetString("BANK_VERSION"),
		},
		Schedule: Schedule{
			ReceiptInterval:  v.GetDuration("RECEIPT_INTERVAL"),
			OutboxInterval:   v.GetDuration("OUTBOX_INTERVAL"),
			RecoveryInterval: v.GetDuration("RECOVERY_INTERVAL"),
		},
		Tracing: Tracing{
			Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Environment: v.GetString("DEPLOY_ENV"),
			SampleRatio: v.GetFloat64("OTEL_SAMPLE_RATIO"),
		},
		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),
		GatewayTimeout: v.GetDuration("GATEWAY_TIMEOUT"),
		CommissionRate: rate,
	}

	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if cfg.GatewayTimeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if cfg.Schedule.ReceiptInterval <= 0 {
		return nil, fmt.Errorf("RECEIPT_INTERVAL must be positive")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
