package service

import (
	"math"
	"strings"

	"stationwatch/internal/apperr"
	"stationwatch/internal/modules/weather/types"
)

const opValidate = "validate reading"

func validateReading(stationID string, f types.MeasurementFields) error {
	if strings.TrimSpace(stationID) == "" {
		return apperr.Validation(opValidate, "station id is required")
	}

	fields := []struct {
		name string
		v    *float64
	}{
		{"temperature", f.Temperature},
		{"humidity", f.Humidity},
		{"pressure", f.Pressure},
		{"wind_speed", f.WindSpeed},
		{"rainfall", f.Rainfall},
		{"light_level", f.LightLevel},
	}
	for _, field := range fields {
		if field.v != nil && (math.IsNaN(*field.v) || math.IsInf(*field.v, 0)) {
			return apperr.Validation(opValidate, "%s must be a finite number", field.name)
		}
	}

	if f.Humidity != nil && (*f.Humidity < 0 || *f.Humidity > 100) {
		return apperr.Validation(opValidate, "humidity out of range: %g (must be 0-100)", *f.Humidity)
	}
	if f.Pressure != nil && *f.Pressure <= 0 {
		return apperr.Validation(opValidate, "pressure must be positive: %g", *f.Pressure)
	}
	for _, field := range fields[3:] {
		if field.v != nil && *field.v < 0 {
			return apperr.Validation(opValidate, "%s must not be negative: %g", field.name, *field.v)
		}
	}
	return nil
}
