package notify

import (
	"context"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/repository"
)

// Alert types recorded per position. One marker row per (position, type),
// so each alert leaves the process at most once.
const (
	AlertStopLossHit   = "STOP_LOSS_HIT"
	AlertTargetHit     = "TARGET_HIT"
	AlertPositionClose = "POSITION_CLOSED"
)

type Alert struct {
	PositionID uint
	AlertType  string
	Symbol     string
	Message    string
}

// Dispatcher delivers position alerts to an outbound channel.
type Dispatcher interface {
	Send(ctx context.Context, alert Alert) error
}

// LogDispatcher writes alerts to the structured log. It is the default
// sink when no external channel is configured.
type LogDispatcher struct{}

func (LogDispatcher) Send(ctx context.Context, alert Alert) error {
	logger.WithFields(logger.Fields{
		"positionID": alert.PositionID,
		"alertType":  alert.AlertType,
		"symbol":     alert.Symbol,
	}).Info(alert.Message)
	return nil
}

// NoopDispatcher drops alerts. Used when notifications are disabled.
type NoopDispatcher struct{}

func (NoopDispatcher) Send(ctx context.Context, alert Alert) error { return nil }

type alertMarker interface {
	MarkSent(ctx context.Context, positionID uint, alertType string) (bool, error)
}

// MarkerDispatcher wraps another dispatcher with a persistent sent-marker
// per (position, alert type). Concurrent senders race on the marker's
// unique index and only the winner forwards the alert.
type MarkerDispatcher struct {
	markers alertMarker
	inner   Dispatcher
}

func NewMarkerDispatcher(inner Dispatcher) *MarkerDispatcher {
	return &MarkerDispatcher{
		markers: repository.NewPositionAlertRepository(),
		inner:   inner,
	}
}

// WithMarkers allows overriding the marker store. Useful for tests.
func (d *MarkerDispatcher) WithMarkers(markers alertMarker) *MarkerDispatcher {
	return &MarkerDispatcher{markers: markers, inner: d.inner}
}

func (d *MarkerDispatcher) Send(ctx context.Context, alert Alert) error {
	created, err := d.markers.MarkSent(ctx, alert.PositionID, alert.AlertType)
	if err != nil {
		return err
	}
	if !created {
		logger.WithFields(logger.Fields{
			"positionID": alert.PositionID,
			"alertType":  alert.AlertType,
		}).Debug("alert already sent, skipping")
		return nil
	}
	return d.inner.Send(ctx, alert)
}
