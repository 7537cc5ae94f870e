package types

import "time"

type AlertType string

const (
	AlertStorm        AlertType = "STORM_WARNING"
	AlertFrost        AlertType = "FROST_WARNING"
	AlertExtremeHeat  AlertType = "EXTREME_HEAT_WARNING"
	AlertHighHumidity AlertType = "HIGH_HUMIDITY_WARNING"
)

type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Station struct {
	ID        string     `json:"id"`
	OwnerID   *string    `json:"ownerId"`
	Name      string     `json:"name"`
	Location  *string    `json:"location"`
	LastSeen  *time.Time `json:"lastSeen"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
}

// MeasurementFields holds the optional sensor values of one reading.
type MeasurementFields struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	WindSpeed   *float64 `json:"windSpeed"`
	Rainfall    *float64 `json:"rainfall"`
	LightLevel  *float64 `json:"lightLevel"`
}

// Monitored reports whether any field an alert rule looks at is present.
func (f MeasurementFields) Monitored() bool {
	return f.Temperature != nil || f.Humidity != nil || f.Pressure != nil
}

type Reading struct {
	ID        string `json:"id"`
	StationID string `json:"stationId"`
	MeasurementFields
	RecordedAt time.Time `json:"recordedAt"`
}

type Alert struct {
	ID               string     `json:"id"`
	StationID        string     `json:"stationId"`
	AlertType        AlertType  `json:"alertType"`
	Description      string     `json:"description"`
	Severity         Severity   `json:"severity"`
	PressureChange   *float64   `json:"pressureChange"`
	TemperatureValue *float64   `json:"temperatureValue"`
	TriggeredAt      time.Time  `json:"triggeredAt"`
	IsResolved       bool       `json:"isResolved"`
	ResolvedAt       *time.Time `json:"resolvedAt"`
}

type CriticalAlert struct {
	Alert
	StationName string `json:"stationName"`
}

// Candidate is an alert produced by a rule before the debounce gate decides
// whether it is persisted.
type Candidate struct {
	StationID        string
	AlertType        AlertType
	Description      string
	Severity         Severity
	PressureChange   *float64
	TemperatureValue *float64
}

type IngestResult struct {
	Reading    Reading `json:"measurement"`
	Alerts     []Alert `json:"alerts"`
	AlertCount int     `json:"alertsTriggered"`
}

type ReadingStats struct {
	AvgTemperature    *float64 `json:"avgTemperature"`
	MinTemperature    *float64 `json:"minTemperature"`
	MaxTemperature    *float64 `json:"maxTemperature"`
	AvgHumidity       *float64 `json:"avgHumidity"`
	MinHumidity       *float64 `json:"minHumidity"`
	MaxHumidity       *float64 `json:"maxHumidity"`
	AvgPressure       *float64 `json:"avgPressure"`
	TotalMeasurements int      `json:"totalMeasurements"`
}

type AlertStats struct {
	TotalAlerts    int `json:"totalAlerts"`
	ActiveAlerts   int `json:"activeAlerts"`
	CriticalAlerts int `json:"criticalAlerts"`
	HighAlerts     int `json:"highAlerts"`
}

// AlertFilter selects station alerts. A nil Resolved returns both states.
type AlertFilter struct {
	Resolved *bool
	Limit    int
	Offset   int
}

type Period string

const (
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
	Period1y  Period = "1y"
)

// ParsePeriod maps a query value to a Period, falling back to 24h for
// anything unrecognised.
func ParsePeriod(s string) Period {
	switch p := Period(s); p {
	case Period24h, Period7d, Period30d, Period1y:
		return p
	default:
		return Period24h
	}
}

func (p Period) Duration() time.Duration {
	switch p {
	case Period7d:
		return 7 * 24 * time.Hour
	case Period30d:
		return 30 * 24 * time.Hour
	case Period1y:
		return 365 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
