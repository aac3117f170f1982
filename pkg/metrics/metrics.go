package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/raterudder/autarcostatus/pkg/types"
)

var (
	// CurrentWatts is the power of the most recent reading.
	CurrentWatts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autarco_current_watts",
			Help: "Current PV power production of the last successful reading",
		},
	)

	// TotalKWh is the energy total of the most recent reading.
	TotalKWh = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autarco_total_kwh",
			Help: "Total PV energy production of the last successful reading",
		},
	)

	// LastUpdatedSeconds is when the most recent reading was observed.
	LastUpdatedSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autarco_last_updated_seconds",
			Help: "Unix time of the last successful reading",
		},
	)

	// FetchTotal counts metric fetches by outcome.
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autarco_fetch_total",
			Help: "Total number of telemetry fetches",
		},
		[]string{"metric", "result"},
	)

	// AuthTotal counts authentication attempts by outcome.
	AuthTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autarco_auth_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(CurrentWatts)
	prometheus.MustRegister(TotalKWh)
	prometheus.MustRegister(LastUpdatedSeconds)
	prometheus.MustRegister(FetchTotal)
	prometheus.MustRegister(AuthTotal)
}

// ObserveReading updates the reading gauges.
func ObserveReading(r types.Reading) {
	CurrentWatts.Set(float64(r.CurrentW))
	TotalKWh.Set(float64(r.TotalKWh))
	LastUpdatedSeconds.Set(float64(r.ObservedAt))
}
