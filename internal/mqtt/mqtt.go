package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"stationwatch/internal/apperr"
	"stationwatch/internal/config"
	"stationwatch/internal/metrics"
)

// Telemetry is the JSON payload a station publishes on its telemetry topic.
type Telemetry struct {
	StationID   string    `json:"station_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature_c,omitempty"`
	Humidity    *float64  `json:"humidity_pct,omitempty"`
	Pressure    *float64  `json:"pressure_hpa,omitempty"`
	WindSpeed   *float64  `json:"wind_speed_ms,omitempty"`
	Rainfall    *float64  `json:"rainfall_mm,omitempty"`
	LightLevel  *float64  `json:"light_lux,omitempty"`
}

// Handler processes one valid telemetry message. NotFound and Validation
// errors mark the message as rejected; anything else as failed.
type Handler func(ctx context.Context, t Telemetry) error

const handlerTimeout = 10 * time.Second

type Subscriber struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	mu        sync.RWMutex
	connected bool

	ctx    context.Context
	cancel context.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once

	handler Handler
}

// SetMessageHandler must be called before Connect.
func (s *Subscriber) SetMessageHandler(handler Handler) {
	s.handler = handler
}

func NewSubscriber(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Resubscribe on every (re)connect since the session is clean.
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		if err := s.subscribe(); err != nil {
			logger.Error("mqtt subscribe failed", "topic", cfg.MQTTTopic, "error", err)
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Connect establishes the broker connection. The subscription is made by the
// connect callback.
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber stopped")
	default:
	}

	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("subscriber stopped")
		default:
		}
	}
}

func (s *Subscriber) subscribe() error {
	topic := s.cfg.MQTTTopic
	qos := byte(1)

	token := s.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(s.ctx, msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}

	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(ctx context.Context, topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	var telemetry Telemetry
	if err := json.Unmarshal(payload, &telemetry); err != nil {
		s.reject("failed to parse telemetry message", topic, "", err)
		return
	}
	if telemetry.StationID == "" {
		telemetry.StationID = stationFromTopic(topic)
	}
	if err := validateTelemetry(telemetry); err != nil {
		s.reject("invalid telemetry message", topic, telemetry.StationID, err)
		return
	}

	if s.handler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	err := s.handler(ctx, telemetry)
	switch {
	case err == nil:
		s.metrics.MQTTMessages.WithLabelValues("stored").Inc()
		s.logger.Debug("processed telemetry message",
			"station_id", telemetry.StationID,
			"timestamp", telemetry.Timestamp,
		)
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrValidation):
		s.reject("telemetry dropped", topic, telemetry.StationID, err)
	default:
		s.metrics.MQTTMessages.WithLabelValues("failed").Inc()
		s.logger.Error("message handler failed",
			"topic", topic,
			"station_id", telemetry.StationID,
			"error", err,
		)
	}
}

func (s *Subscriber) reject(msg, topic, stationID string, err error) {
	s.metrics.MQTTMessages.WithLabelValues("rejected").Inc()
	s.logger.Warn(msg,
		"topic", topic,
		"station_id", stationID,
		"error", err,
	)
}

// stationFromTopic returns the segment after "stations/" in a topic such as
// stations/<id>/telemetry.
func stationFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "stations" {
			return parts[i+1]
		}
	}
	return ""
}

func validateTelemetry(t Telemetry) error {
	if strings.TrimSpace(t.StationID) == "" {
		return fmt.Errorf("station_id is required")
	}
	if t.Temperature == nil && t.Humidity == nil && t.Pressure == nil &&
		t.WindSpeed == nil && t.Rainfall == nil && t.LightLevel == nil {
		return fmt.Errorf("at least one sensor reading is required")
	}
	return nil
}

func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.cfg.MQTTTopic)
		token.WaitTimeout(2 * time.Second)
	}

	// Disconnect without holding s.mu to avoid lock contention/deadlocks.
	if s.client != nil {
		s.client.Disconnect(250)
	}
	s.cancel()

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
