// Package rules derives alert candidates from a reading and the station's
// recent pressure history.
package rules

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"stationwatch/internal/apperr"
	"stationwatch/internal/modules/weather/types"
)

const (
	StormWindow = time.Hour

	stormDropThreshold = 5.0
	stormDropHigh      = 10.0
	frostThreshold     = 0.0
	frostHigh          = -10.0
	heatThreshold      = 35.0
	heatCritical       = 45.0
	humidityThreshold  = 90.0
	humidityHigh       = 98.0
)

// PressureHistory looks up the oldest pressure recorded for a station
// strictly after since.
type PressureHistory interface {
	EarliestPressureSince(ctx context.Context, stationID string, since time.Time) (pressure float64, ok bool, err error)
}

// Rule inspects one reading. A nil candidate with a nil error means the rule
// did not trigger.
type Rule interface {
	Type() types.AlertType
	Check(ctx context.Context, reading types.Reading) (*types.Candidate, error)
}

type Engine struct {
	rules []Rule
}

// NewEngine returns an engine running the storm, frost, extreme heat and high
// humidity rules in that order.
func NewEngine(history PressureHistory, clock clockwork.Clock) *Engine {
	return &Engine{rules: []Rule{
		StormRule{History: history, Clock: clock},
		FrostRule{},
		ExtremeHeatRule{},
		HighHumidityRule{},
	}}
}

// NewEngineWithRules is used when the rule set differs from the default.
func NewEngineWithRules(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate lazily runs every rule against reading. A failing or panicking rule
// yields an alert processing error carrying the rule's alert type in the
// candidate and evaluation continues with the next rule.
func (e *Engine) Evaluate(ctx context.Context, reading types.Reading) iter.Seq2[types.Candidate, error] {
	return func(yield func(types.Candidate, error) bool) {
		for _, rule := range e.rules {
			c, err := check(ctx, rule, reading)
			if err != nil {
				failed := types.Candidate{StationID: reading.StationID, AlertType: rule.Type()}
				if !yield(failed, apperr.AlertProcessing(string(rule.Type()), err)) {
					return
				}
				continue
			}
			if c == nil {
				continue
			}
			if !yield(*c, nil) {
				return
			}
		}
	}
}

func check(ctx context.Context, rule Rule, reading types.Reading) (c *types.Candidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			c, err = nil, fmt.Errorf("rule panicked: %v", p)
		}
	}()
	return rule.Check(ctx, reading)
}

// StormRule fires when pressure fell by more than 5 hPa compared with the
// oldest pressure reading of the last hour.
type StormRule struct {
	History PressureHistory
	Clock   clockwork.Clock
}

func (StormRule) Type() types.AlertType { return types.AlertStorm }

func (r StormRule) Check(ctx context.Context, reading types.Reading) (*types.Candidate, error) {
	if reading.Pressure == nil {
		return nil, nil
	}
	current := *reading.Pressure
	since := r.Clock.Now().Add(-StormWindow)
	earliest, ok, err := r.History.EarliestPressureSince(ctx, reading.StationID, since)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	drop := earliest - current
	if drop <= stormDropThreshold {
		return nil, nil
	}
	severity := types.SeverityMedium
	if drop > stormDropHigh {
		severity = types.SeverityHigh
	}
	return &types.Candidate{
		StationID: reading.StationID,
		AlertType: types.AlertStorm,
		Description: fmt.Sprintf("Pressure drop detected: %.2f hPa in last hour (from %s to %s)",
			drop, formatValue(earliest), formatValue(current)),
		Severity:       severity,
		PressureChange: &drop,
	}, nil
}

type FrostRule struct{}

func (FrostRule) Type() types.AlertType { return types.AlertFrost }

func (FrostRule) Check(_ context.Context, reading types.Reading) (*types.Candidate, error) {
	if reading.Temperature == nil || *reading.Temperature >= frostThreshold {
		return nil, nil
	}
	temp := *reading.Temperature
	severity := types.SeverityMedium
	if temp < frostHigh {
		severity = types.SeverityHigh
	}
	return &types.Candidate{
		StationID:        reading.StationID,
		AlertType:        types.AlertFrost,
		Description:      fmt.Sprintf("Frost warning: Temperature dropped to %s°C", formatValue(temp)),
		Severity:         severity,
		TemperatureValue: &temp,
	}, nil
}

type ExtremeHeatRule struct{}

func (ExtremeHeatRule) Type() types.AlertType { return types.AlertExtremeHeat }

func (ExtremeHeatRule) Check(_ context.Context, reading types.Reading) (*types.Candidate, error) {
	if reading.Temperature == nil || *reading.Temperature <= heatThreshold {
		return nil, nil
	}
	temp := *reading.Temperature
	severity := types.SeverityHigh
	if temp > heatCritical {
		severity = types.SeverityCritical
	}
	return &types.Candidate{
		StationID:        reading.StationID,
		AlertType:        types.AlertExtremeHeat,
		Description:      fmt.Sprintf("Extreme heat warning: Temperature reached %s°C", formatValue(temp)),
		Severity:         severity,
		TemperatureValue: &temp,
	}, nil
}

type HighHumidityRule struct{}

func (HighHumidityRule) Type() types.AlertType { return types.AlertHighHumidity }

func (HighHumidityRule) Check(_ context.Context, reading types.Reading) (*types.Candidate, error) {
	if reading.Humidity == nil || *reading.Humidity <= humidityThreshold {
		return nil, nil
	}
	humidity := *reading.Humidity
	severity := types.SeverityMedium
	if humidity > humidityHigh {
		severity = types.SeverityHigh
	}
	return &types.Candidate{
		StationID:   reading.StationID,
		AlertType:   types.AlertHighHumidity,
		Description: fmt.Sprintf("High humidity warning: %s%% humidity detected", formatValue(humidity)),
		Severity:    severity,
	}, nil
}

// formatValue prints the shortest decimal form, so 1013 stays "1013" and
// -15.5 stays "-15.5".
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
