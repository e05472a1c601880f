package service

import (
	"context"
	"time"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// Telemetry receives counters from the services. *metrics.Metrics
// implements it.
type Telemetry interface {
	ObserveAdmission(d domain.AdmissionDecision)
	ObserveSnipe(outcome string)
	ObserveClose(pos domain.Position)
	ObserveExitError()
	SetOpenPositions(n int)
	ObserveMonitorTick(d time.Duration)
	ObservePairs(n int)
	ObservePolicy(version int64, paused bool)
}

// Alerts receives human-facing notifications. *notify.Notifier implements it.
type Alerts interface {
	PositionOpened(ctx context.Context, pos domain.Position) error
	PositionClosed(ctx context.Context, pos domain.Position) error
	Error(ctx context.Context, where string, err error) error
}

// NopTelemetry discards everything.
type NopTelemetry struct{}

func (NopTelemetry) ObserveAdmission(domain.AdmissionDecision) {}
func (NopTelemetry) ObserveSnipe(string)                       {}
func (NopTelemetry) ObserveClose(domain.Position)              {}
func (NopTelemetry) ObserveExitError()                         {}
func (NopTelemetry) SetOpenPositions(int)                      {}
func (NopTelemetry) ObserveMonitorTick(time.Duration)          {}
func (NopTelemetry) ObservePairs(int)                          {}
func (NopTelemetry) ObservePolicy(int64, bool)                 {}

// NopAlerts discards everything.
type NopAlerts struct{}

func (NopAlerts) PositionOpened(context.Context, domain.Position) error { return nil }
func (NopAlerts) PositionClosed(context.Context, domain.Position) error { return nil }
func (NopAlerts) Error(context.Context, string, error) error            { return nil }
