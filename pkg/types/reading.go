package types

import (
	"log/slog"
	"time"
)

// Reading is one consistent snapshot of the inverter telemetry.
type Reading struct {
	// CurrentW is the current PV power production in W.
	CurrentW uint32 `json:"current_w"`
	// TotalKWh is the total energy produced since installation in kWh.
	TotalKWh uint32 `json:"total_kwh"`
	// ObservedAt is when both values were fetched, in seconds since the epoch.
	ObservedAt uint64 `json:"last_updated"`
}

// NewReading builds a Reading observed at the given time.
func NewReading(currentW, totalKWh uint32, observedAt time.Time) Reading {
	var ts uint64
	if secs := observedAt.Unix(); secs > 0 {
		ts = uint64(secs)
	}
	return Reading{
		CurrentW:   currentW,
		TotalKWh:   totalKWh,
		ObservedAt: ts,
	}
}

// Time returns ObservedAt as a time.Time.
func (r Reading) Time() time.Time {
	return time.Unix(int64(r.ObservedAt), 0)
}

// Metric identifies one of the telemetry values fetched every cycle.
type Metric string

const (
	// MetricPower is the instantaneous power production.
	MetricPower Metric = "power"
	// MetricEnergy is the cumulative energy production.
	MetricEnergy Metric = "energy"
)

// Credentials for the Autarco account.
type Credentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// LogValue implements slog.LogValuer so the password never ends up in logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("username", c.Username))
}
