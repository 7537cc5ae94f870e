package weather

import (
	"context"
	"log/slog"

	"stationwatch/internal/apperr"
	"stationwatch/internal/modules/weather/controller"
	"stationwatch/internal/modules/weather/types"
	"stationwatch/internal/mqtt"
)

type MQTTSubscriber interface {
	SetMessageHandler(handler mqtt.Handler)
}

// telemetryHandler records a telemetry message for a known station.
func telemetryHandler(stations controller.Stations, ingest controller.Ingester, logger *slog.Logger) mqtt.Handler {
	return func(ctx context.Context, t mqtt.Telemetry) error {
		ok, err := stations.Exists(ctx, t.StationID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("telemetry for unknown station " + t.StationID)
		}

		res, err := ingest.RecordReading(ctx, t.StationID, types.MeasurementFields{
			Temperature: t.Temperature,
			Humidity:    t.Humidity,
			Pressure:    t.Pressure,
			WindSpeed:   t.WindSpeed,
			Rainfall:    t.Rainfall,
			LightLevel:  t.LightLevel,
		})
		if err != nil {
			return err
		}
		logger.Debug("stored telemetry",
			"station_id", t.StationID,
			"reading_id", res.Reading.ID,
			"alerts", res.AlertCount,
		)
		return nil
	}
}

func registerMQTTHandler(subscriber MQTTSubscriber, stations controller.Stations, ingest controller.Ingester, logger *slog.Logger) {
	subscriber.SetMessageHandler(telemetryHandler(stations, ingest, logger))
}
