package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	sent []Alert
}

func (r *recordingDispatcher) Send(ctx context.Context, alert Alert) error {
	r.sent = append(r.sent, alert)
	return nil
}

type fakeMarker struct {
	seen map[string]bool
}

func (f *fakeMarker) MarkSent(ctx context.Context, positionID uint, alertType string) (bool, error) {
	key := string(rune(positionID)) + alertType
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func TestMarkerDispatcherSendsOnce(t *testing.T) {
	inner := &recordingDispatcher{}
	d := (&MarkerDispatcher{inner: inner}).WithMarkers(&fakeMarker{seen: map[string]bool{}})

	alert := Alert{PositionID: 7, AlertType: AlertStopLossHit, Symbol: "BTCUSDT", Message: "stop loss hit"}

	require.NoError(t, d.Send(context.Background(), alert))
	require.NoError(t, d.Send(context.Background(), alert))

	assert.Len(t, inner.sent, 1)
	assert.Equal(t, AlertStopLossHit, inner.sent[0].AlertType)
}

func TestMarkerDispatcherDistinctTypes(t *testing.T) {
	inner := &recordingDispatcher{}
	d := (&MarkerDispatcher{inner: inner}).WithMarkers(&fakeMarker{seen: map[string]bool{}})

	require.NoError(t, d.Send(context.Background(), Alert{PositionID: 7, AlertType: AlertStopLossHit}))
	require.NoError(t, d.Send(context.Background(), Alert{PositionID: 7, AlertType: AlertPositionClose}))

	assert.Len(t, inner.sent, 2)
}
