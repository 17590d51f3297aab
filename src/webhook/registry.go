package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/model"
	"tradeexecutor/src/security"
)

// sourceFinder is the slice of the webhook source repository the gate needs.
type sourceFinder interface {
	FindByCode(ctx context.Context, code string) (*model.WebhookSource, error)
}

// eventCounter counts admitted events in a trailing window.
type eventCounter interface {
	CountSince(ctx context.Context, sourceID uint, since time.Time) (int64, error)
}

// Registry gatekeeps inbound signals before any job exists. Every check
// fails closed: an error admitting a payload means the payload is dropped.
type Registry struct {
	sources sourceFinder
	events  eventCounter
	now     func() time.Time
}

func NewRegistry(sources sourceFinder, events eventCounter) *Registry {
	return &Registry{sources: sources, events: events, now: time.Now}
}

// Resolve loads an active source by its webhook code. Unknown or disabled
// codes return (nil, nil) and the caller drops the payload.
func (g *Registry) Resolve(ctx context.Context, code string) (*model.WebhookSource, error) {
	source, err := g.sources.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if source == nil || !source.Active {
		return nil, nil
	}
	return source, nil
}

// ValidateIP admits the caller when the source has no allow-list, or the ip
// matches an entry exactly or falls inside a CIDR entry.
func (g *Registry) ValidateIP(source *model.WebhookSource, ip string) bool {
	allowed := strings.TrimSpace(source.AllowedIPs)
	if allowed == "" {
		return true
	}

	caller := net.ParseIP(strings.TrimSpace(ip))
	if caller == nil {
		logger.WithFields(map[string]interface{}{
			"source_id": source.ID,
			"ip":        ip,
		}).Warn("Webhook caller IP unparseable, rejecting")
		return false
	}

	for _, entry := range strings.Split(allowed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"source_id": source.ID,
					"entry":     entry,
				}).Warn("Invalid CIDR entry in allow-list, skipping")
				continue
			}
			if network.Contains(caller) {
				return true
			}
			continue
		}

		if allowedIP := net.ParseIP(entry); allowedIP != nil && allowedIP.Equal(caller) {
			return true
		}
	}

	return false
}

// ValidateSignature verifies an HMAC-SHA256 signature over the raw body.
// Sources without a signing secret skip the check. Decryption failures
// reject the payload, never fall through to plaintext comparison.
func (g *Registry) ValidateSignature(source *model.WebhookSource, rawBody []byte, signatureHeader string) bool {
	if source.SigningSecretEnc == "" {
		return true
	}

	secret, err := security.DecryptString(source.SigningSecretEnc)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"source_id": source.ID,
		}).WithError(err).Error("Failed to decrypt signing secret, rejecting signal")
		return false
	}

	provided := strings.TrimPrefix(strings.TrimSpace(signatureHeader), "sha256=")
	if provided == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}

// CheckRateLimit admits the signal only while the count of events received
// in the trailing 60 seconds stays below the per-minute ceiling. The window
// slides per call, so bursts cannot game a fixed-window boundary.
func (g *Registry) CheckRateLimit(ctx context.Context, source *model.WebhookSource) (bool, error) {
	if source.RateLimitPerMin <= 0 {
		return true, nil
	}

	since := g.now().Add(-60 * time.Second)
	count, err := g.events.CountSince(ctx, source.ID, since)
	if err != nil {
		return false, err
	}

	if count >= int64(source.RateLimitPerMin) {
		logger.WithFields(map[string]interface{}{
			"source_id": source.ID,
			"count":     count,
			"ceiling":   source.RateLimitPerMin,
		}).Warn("Webhook source rate limit exceeded")
		return false, nil
	}

	return true, nil
}
