package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"stationwatch/internal/audit"
	"stationwatch/internal/config"
	"stationwatch/internal/db"
	"stationwatch/internal/httpapi"
	"stationwatch/internal/metrics"
	"stationwatch/internal/migrate"
	"stationwatch/internal/modules/weather"
	"stationwatch/internal/modules/weather/service"
	"stationwatch/internal/mqtt"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.Driver,
		"sqlitePath", cfg.SQLitePath,
		"dbMaxOpenConns", cfg.MaxOpenConns,
		"dbMaxIdleConns", cfg.MaxIdleConns,
		"dbConnMaxLifetime", cfg.ConnMaxLifetime,
		"dbQueryTimeout", cfg.QueryTimeout,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
		"auditSink", cfg.AuditSink,
		"retentionDays", cfg.RetentionDays,
		"auditRetentionDays", cfg.AuditRetentionDays,
	)

	dbConn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, dbConn, logger); err != nil {
		return err
	}
	logger.Info("database ready", "driver", cfg.Driver)

	m := metrics.NewMetrics()
	clock := clockwork.NewRealClock()

	sinks, purger, closers := buildAuditSinks(cfg, dbConn)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Error("audit sink close", "error", err)
			}
		}
	}()
	emitter := audit.NewEmitter(clock, logger, m, sinks...)

	// The handler must be set before Connect: the broker may deliver queued
	// messages right after CONNACK.
	var subscriber *mqtt.Subscriber
	var sub weather.MQTTSubscriber
	if cfg.MQTTEnabled {
		subscriber = mqtt.NewSubscriber(cfg, logger, m)
		sub = subscriber
	}

	mux := httpapi.NewMux(dbConn, prometheus.DefaultGatherer)
	feature := weather.RegisterFeature(mux, dbConn, sub, emitter, purger, clock, logger, m, weather.Options{
		QueryTimeout:       cfg.QueryTimeout,
		MeasurementLimit:   cfg.MeasurementLimit,
		RetentionDays:      cfg.RetentionDays,
		AuditRetentionDays: cfg.AuditRetentionDays,
	})

	if subscriber != nil {
		// Short timeout so a missing broker does not block startup.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err = subscriber.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
	}

	purgeCtx, stopPurge := context.WithCancel(ctx)
	purgeDone := make(chan struct{})
	go func() {
		defer close(purgeDone)
		if err := feature.Purge.Run(purgeCtx, cfg.PurgeInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("purge loop stopped", "error", err)
		}
	}()
	defer func() {
		stopPurge()
		<-purgeDone
	}()

	srv := httpapi.NewServer(cfg, httpapi.Instrument(mux, m, logger))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if subscriber != nil {
			subscriber.Disconnect()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if subscriber != nil {
		logger.Info("mqtt disconnecting")
		subscriber.Disconnect()
	}

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

// buildAuditSinks returns the sinks selected by AUDIT_SINK. The purger is the
// SQL sink when audit entries are kept in the database and nil otherwise.
func buildAuditSinks(cfg config.Config, conn *sqlx.DB) ([]audit.Sink, service.AuditPurger, []io.Closer) {
	var (
		sinks   []audit.Sink
		purger  service.AuditPurger
		closers []io.Closer
	)
	if cfg.AuditSink == config.AuditSinkDB || cfg.AuditSink == config.AuditSinkBoth {
		sqlSink := audit.NewSQLSink(conn, cfg.QueryTimeout)
		sinks = append(sinks, sqlSink)
		purger = sqlSink
	}
	if cfg.AuditSink == config.AuditSinkKafka || cfg.AuditSink == config.AuditSinkBoth {
		kafkaSink := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		sinks = append(sinks, kafkaSink)
		closers = append(closers, kafkaSink)
	}
	return sinks, purger, closers
}
