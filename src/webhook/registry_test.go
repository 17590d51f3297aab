package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeexecutor/src/model"
	"tradeexecutor/src/security"
)

type stubSources struct {
	source *model.WebhookSource
	err    error
}

func (s *stubSources) FindByCode(ctx context.Context, code string) (*model.WebhookSource, error) {
	return s.source, s.err
}

type stubEvents struct {
	count int64
	err   error
	since time.Time
}

func (s *stubEvents) CountSince(ctx context.Context, sourceID uint, since time.Time) (int64, error) {
	s.since = since
	return s.count, s.err
}

func newTestRegistry(source *model.WebhookSource, events *stubEvents) *Registry {
	if events == nil {
		events = &stubEvents{}
	}
	return NewRegistry(&stubSources{source: source}, events)
}

func TestResolveInactiveSourceDropped(t *testing.T) {
	gate := newTestRegistry(&model.WebhookSource{ID: 1, Active: false}, nil)

	source, err := gate.Resolve(context.Background(), "abc")
	require.NoError(t, err)
	assert.Nil(t, source)
}

func TestValidateIPNoAllowListAdmitsAll(t *testing.T) {
	gate := newTestRegistry(nil, nil)
	source := &model.WebhookSource{ID: 1}

	assert.True(t, gate.ValidateIP(source, "203.0.113.9"))
}

func TestValidateIPExactAndCIDR(t *testing.T) {
	gate := newTestRegistry(nil, nil)
	source := &model.WebhookSource{
		ID:         1,
		AllowedIPs: "203.0.113.9, 10.1.0.0/16",
	}

	assert.True(t, gate.ValidateIP(source, "203.0.113.9"))
	assert.True(t, gate.ValidateIP(source, "10.1.44.7"))
	assert.False(t, gate.ValidateIP(source, "203.0.113.10"))
	assert.False(t, gate.ValidateIP(source, "10.2.0.1"))
	assert.False(t, gate.ValidateIP(source, "not-an-ip"))
}

func TestValidateSignature(t *testing.T) {
	secretEnc, err := security.EncryptString("hush")
	require.NoError(t, err)

	gate := newTestRegistry(nil, nil)
	source := &model.WebhookSource{ID: 1, SigningSecretEnc: secretEnc}

	body := []byte(`{"symbol":"BTCUSDT","action":"buy"}`)
	mac := hmac.New(sha256.New, []byte("hush"))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, gate.ValidateSignature(source, body, signature))
	assert.True(t, gate.ValidateSignature(source, body, "sha256="+signature))
	assert.False(t, gate.ValidateSignature(source, body, "sha256=deadbeef"))
	assert.False(t, gate.ValidateSignature(source, []byte("other body"), signature))
	assert.False(t, gate.ValidateSignature(source, body, ""))
}

func TestValidateSignatureDisabledWhenNoSecret(t *testing.T) {
	gate := newTestRegistry(nil, nil)
	source := &model.WebhookSource{ID: 1}

	assert.True(t, gate.ValidateSignature(source, []byte("anything"), ""))
}

func TestValidateSignatureFailsClosedOnDecryptError(t *testing.T) {
	gate := newTestRegistry(nil, nil)
	source := &model.WebhookSource{ID: 1, SigningSecretEnc: "garbage-ciphertext"}

	assert.False(t, gate.ValidateSignature(source, []byte("body"), "sha256=aa"))
}

func TestCheckRateLimitSlidingWindow(t *testing.T) {
	events := &stubEvents{count: 4}
	gate := newTestRegistry(nil, events)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return now }

	source := &model.WebhookSource{ID: 1, RateLimitPerMin: 5}

	ok, err := gate.CheckRateLimit(context.Background(), source)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, now.Add(-60*time.Second), events.since)

	events.count = 5
	ok, err = gate.CheckRateLimit(context.Background(), source)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckRateLimitDisabled(t *testing.T) {
	gate := newTestRegistry(nil, &stubEvents{count: 9999})

	ok, err := gate.CheckRateLimit(context.Background(), &model.WebhookSource{ID: 1, RateLimitPerMin: 0})
	require.NoError(t, err)
	assert.True(t, ok)
}
