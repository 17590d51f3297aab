package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/jobs"
	"tradeexecutor/src/model"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/signal"
	"tradeexecutor/src/webhook"
)

const maxWebhookBodyBytes = 64 * 1024

type signalGate interface {
	Resolve(ctx context.Context, code string) (*model.WebhookSource, error)
	ValidateIP(source *model.WebhookSource, ip string) bool
	ValidateSignature(source *model.WebhookSource, rawBody []byte, signatureHeader string) bool
	CheckRateLimit(ctx context.Context, source *model.WebhookSource) (bool, error)
}

type eventRecorder interface {
	RecordEvent(ctx context.Context, event *model.WebhookEvent) error
}

type webhookResponse struct {
	Status  string `json:"status"`
	EventID uint   `json:"event_id,omitempty"`
	JobIDs  []uint `json:"job_ids,omitempty"`
}

// WebhookIntakeHandler admits inbound signals: gate checks first (source,
// IP, signature, rate limit), then the event record, then parsing, then one
// job per bound account, executed on the spot when it is a market order. A
// rejected signal leaves no state behind except the rate-limited case,
// which still records its event so the window counts it.
func WebhookIntakeHandler(gate signalGate, events eventRecorder, runner jobRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")

		source, err := gate.Resolve(r.Context(), code)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if source == nil {
			http.Error(w, "unknown webhook", http.StatusNotFound)
			return
		}

		remoteIP := clientIP(r)
		if !gate.ValidateIP(source, remoteIP) {
			logger.WithFields(logger.Fields{
				"sourceID": source.ID,
				"remoteIP": remoteIP,
			}).Warn("Webhook rejected by IP allowlist")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}

		if !gate.ValidateSignature(source, rawBody, r.Header.Get("X-Signature")) {
			logger.WithField("sourceID", source.ID).Warn("Webhook rejected by signature check")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		allowed, err := gate.CheckRateLimit(r.Context(), source)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		event := &model.WebhookEvent{
			WebhookSourceID: source.ID,
			RemoteIP:        remoteIP,
			RawBody:         string(rawBody),
			ReceivedAt:      time.Now(),
		}
		if err := events.RecordEvent(r.Context(), event); err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		parsed := signal.Parse(string(rawBody))
		if parsed.Action == signal.ActionUnknown || parsed.SymbolNormalized == "" {
			writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored", EventID: event.ID})
			return
		}

		side := model.TradeSideBuy
		sellOrigin := ""
		if parsed.Action == signal.ActionSell {
			side = model.TradeSideSell
			sellOrigin = model.CloseReasonWebhookSell
		}

		// A rate-limited signal still leaves an audit trail: each bound
		// account gets a job that goes straight to SKIPPED.
		skipReason, skipMessage := "", ""
		if !allowed {
			logger.WithField("sourceID", source.ID).Warn("Webhook rate limit exceeded")
			skipReason = model.ReasonRateLimited
			skipMessage = "source rate limit exceeded"
		}

		var jobIDs []uint
		for _, binding := range source.Bindings {
			job, err := runner.CreateJob(r.Context(), jobs.CreateJobRequest{
				WebhookEventID:    &event.ID,
				AccountID:         binding.ExchangeAccountID,
				Symbol:            parsed.SymbolNormalized,
				Side:              side,
				SellOrigin:        sellOrigin,
				SkipReason:        skipReason,
				SkipReasonMessage: skipMessage,
			})
			if err != nil {
				logger.WithFields(logger.Fields{
					"sourceID":  source.ID,
					"accountID": binding.ExchangeAccountID,
				}).WithError(err).Error("Failed to create job from webhook signal")
				continue
			}
			jobIDs = append(jobIDs, job.ID)

			// Market jobs run right away; a busy position parks the job in
			// PENDING for the dispatch sweep to retry. Execution failures
			// land on the job itself as FAILED with a reason.
			if job.Status == model.TradeJobStatusPending {
				if err := runner.Execute(r.Context(), job.ID); err != nil {
					if errors.Is(err, jobs.ErrPositionBusy) {
						logger.WithField("jobID", job.ID).Info("Position busy, job parked for retry")
						continue
					}
					logger.WithField("jobID", job.ID).WithError(err).Error("Failed to execute webhook job")
				}
			}
		}

		if !allowed {
			writeJSON(w, http.StatusTooManyRequests, webhookResponse{
				Status:  "rate_limited",
				EventID: event.ID,
				JobIDs:  jobIDs,
			})
			return
		}

		writeJSON(w, http.StatusAccepted, webhookResponse{
			Status:  "accepted",
			EventID: event.ID,
			JobIDs:  jobIDs,
		})
	}
}

// DefaultWebhookIntakeHandler wires the handler to the production registry
// and job service.
func DefaultWebhookIntakeHandler() http.HandlerFunc {
	sources := repository.NewWebhookSourceRepository()
	return WebhookIntakeHandler(webhook.NewRegistry(sources, sources), sources, jobs.NewService())
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
