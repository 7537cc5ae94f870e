package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	AuditSinkDB    = "db"
	AuditSinkKafka = "kafka"
	AuditSinkBoth  = "both"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// Driver is the database/sql driver name: "sqlite3" or "postgres".
	Driver          string
	DSN             string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// QueryTimeout bounds every repository call and the deletion transaction.
	QueryTimeout time.Duration

	MQTTEnabled  bool
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string

	MeasurementLimit   int
	RetentionDays      int
	AuditRetentionDays int
	PurgeInterval      time.Duration

	AuditSink       string
	KafkaBrokers    []string
	KafkaAuditTopic string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := envOrDefault("HTTP_ADDR", ":8080")

	driver := envOrDefault("DB_DRIVER", "sqlite3")
	switch driver {
	case "sqlite3", "postgres":
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: sqlite3, postgres)", driver)
	}
	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	if driver == "postgres" && dsn == "" {
		return Config{}, fmt.Errorf("DB_DSN is required when DB_DRIVER=postgres")
	}
	sqlitePath := envOrDefault("SQLITE_PATH", "../dev/sqlite/app.db")

	maxOpenConns, err := intFromEnv("DB_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := intFromEnv("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := durationFromEnv("DB_CONN_MAX_LIFETIME", "0s")
	if err != nil {
		return Config{}, err
	}
	queryTimeout, err := durationFromEnv("DB_QUERY_TIMEOUT", "5s")
	if err != nil {
		return Config{}, err
	}
	if queryTimeout <= 0 {
		return Config{}, fmt.Errorf("DB_QUERY_TIMEOUT must be > 0")
	}

	mqttEnabled, err := boolFromEnv("MQTT_ENABLED", true)
	if err != nil {
		return Config{}, err
	}
	mqttBroker := envOrDefault("MQTT_BROKER", "localhost")
	mqttPort, err := intFromEnv("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}
	mqttClientID := envOrDefault("MQTT_CLIENT_ID", "stationwatch-server")
	mqttTopic := envOrDefault("MQTT_TOPIC", "stations/+/telemetry")

	measurementLimit, err := intFromEnv("MEASUREMENT_LIMIT", 1000)
	if err != nil {
		return Config{}, err
	}
	if measurementLimit <= 0 {
		return Config{}, fmt.Errorf("MEASUREMENT_LIMIT must be > 0")
	}
	retentionDays, err := intFromEnv("RETENTION_DAYS", 365)
	if err != nil {
		return Config{}, err
	}
	auditRetentionDays, err := intFromEnv("AUDIT_RETENTION_DAYS", 90)
	if err != nil {
		return Config{}, err
	}
	if retentionDays < 0 || auditRetentionDays < 0 {
		return Config{}, fmt.Errorf("retention days must be >= 0 (0 disables the purge)")
	}
	purgeInterval, err := durationFromEnv("PURGE_INTERVAL", "24h")
	if err != nil {
		return Config{}, err
	}

	auditSink := strings.ToLower(envOrDefault("AUDIT_SINK", AuditSinkDB))
	switch auditSink {
	case AuditSinkDB, AuditSinkKafka, AuditSinkBoth:
	default:
		return Config{}, fmt.Errorf("invalid AUDIT_SINK %q (allowed: db, kafka, both)", auditSink)
	}
	kafkaBrokers := parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092"))
	if auditSink != AuditSinkDB && len(kafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("KAFKA_BROKERS is required when AUDIT_SINK=%s", auditSink)
	}
	kafkaAuditTopic := envOrDefault("KAFKA_AUDIT_TOPIC", "station-audit-events")

	return Config{
		AppEnv:             appEnv,
		LogLevel:           level,
		HTTPAddr:           httpAddr,
		Driver:             driver,
		DSN:                dsn,
		SQLitePath:         sqlitePath,
		MaxOpenConns:       maxOpenConns,
		MaxIdleConns:       maxIdleConns,
		ConnMaxLifetime:    connMaxLifetime,
		QueryTimeout:       queryTimeout,
		MQTTEnabled:        mqttEnabled,
		MQTTBroker:         mqttBroker,
		MQTTPort:           mqttPort,
		MQTTClientID:       mqttClientID,
		MQTTTopic:          mqttTopic,
		MeasurementLimit:   measurementLimit,
		RetentionDays:      retentionDays,
		AuditRetentionDays: auditRetentionDays,
		PurgeInterval:      purgeInterval,
		AuditSink:          auditSink,
		KafkaBrokers:       kafkaBrokers,
		KafkaAuditTopic:    kafkaAuditTopic,
	}, nil
}

func envOrDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func durationFromEnv(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func boolFromEnv(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
