// Package relay performs REST calls queued on JetStream and publishes their
// results, so several processes can share one rate-limited client.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natscore "restdispatch/internal/core/nats"
	"restdispatch/internal/core/rest"
	"restdispatch/internal/shared/logs"
	"restdispatch/internal/shared/metrics"
)

// Handler runs one call request through the client and reports the result.
type Handler struct {
	client    rest.ClientInterface
	pub       natscore.Publisher
	heartbeat time.Duration
	metrics   *metrics.RelayMetrics
	log       *slog.Logger
}

func NewHandler(client rest.ClientInterface, pub natscore.Publisher) *Handler {
	return &Handler{
		client:    client,
		pub:       pub,
		heartbeat: 10 * time.Second,
		metrics:   metrics.GetRelay(),
		log:       logs.Component("relay"),
	}
}

// Handle decodes msg, performs the call and publishes a CallResult.
// Undecodable requests are terminated. A failed publish naks with backoff so
// the call is retried on redelivery.
func (h *Handler) Handle(ctx context.Context, msg Message) {
	start := time.Now()

	var req natscore.CallRequest
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		h.reject(msg, "decode", fmt.Errorf("decode call request: %w", err))
		return
	}
	if err := validate(req); err != nil {
		h.reject(msg, "invalid", err)
		return
	}

	h.log.Debug("relaying call", "id", req.ID, "method", req.Method, "path", req.Path, "deliveries", msg.NumDelivered())

	stop := h.keepAlive(msg)
	env, err := h.client.Do(ctx, req.Method, req.Path, options(req))
	stop()

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Shutting down: leave the call for another relay.
		h.metrics.Errors.WithLabelValues("cancelled").Inc()
		_ = msg.Nak()
		return
	}

	result := buildResult(req.ID, env, err)
	if perr := natscore.PublishJSON(ctx, h.pub, natscore.ResultSubject(req.ID), result); perr != nil {
		h.log.Error("failed to publish call result", "id", req.ID, "error", perr)
		h.metrics.Errors.WithLabelValues("publish").Inc()
		natscore.NackWithBackoff(msg)
		return
	}
	if aerr := msg.Ack(); aerr != nil {
		h.log.Warn("failed to ack call request", "id", req.ID, "error", aerr)
	}

	outcome := "ok"
	if !result.OK {
		outcome = "failed"
	}
	h.metrics.Handled.WithLabelValues(outcome).Inc()
	h.metrics.Duration.Observe(time.Since(start).Seconds())
	h.log.Info("relayed call",
		"id", req.ID,
		"method", req.Method,
		"path", req.Path,
		"status", result.Status,
		"ok", result.OK,
		"duration", time.Since(start))
}

func (h *Handler) reject(msg Message, category string, err error) {
	h.log.Warn("terminating call request", "category", category, "error", err)
	h.metrics.Errors.WithLabelValues(category).Inc()
	h.metrics.Handled.WithLabelValues("rejected").Inc()
	_ = msg.Term()
}

// keepAlive extends the ack deadline while the call waits on rate limits.
func (h *Handler) keepAlive(msg Message) (stop func()) {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := msg.InProgress(); err != nil {
					h.log.Warn("failed to extend ack deadline", "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

func validate(req natscore.CallRequest) error {
	switch {
	case req.ID == "":
		return errors.New("call request without id")
	case req.Method == "":
		return fmt.Errorf("call request %s without method", req.ID)
	case !strings.HasPrefix(req.Path, "/"):
		return fmt.Errorf("call request %s: path %q must start with /", req.ID, req.Path)
	}
	return nil
}

func options(req natscore.CallRequest) rest.Options {
	opts := rest.Options{
		Auth:              req.Auth,
		Reason:            req.Reason,
		ContextProperties: req.ContextProperties,
		CaptchaKey:        req.CaptchaKey,
		CaptchaRqtoken:    req.CaptchaRqtoken,
	}
	if len(req.Data) > 0 {
		opts.Data = req.Data
	}
	for _, f := range req.Files {
		opts.Files = append(opts.Files, rest.FileAttachment{Name: f.Name, Data: f.Data, ContentType: f.ContentType})
	}
	return opts
}

func buildResult(id string, env *rest.Envelope, err error) natscore.CallResult {
	result := natscore.CallResult{ID: id}
	if err == nil {
		result.OK = env.OK
		result.Status = env.StatusCode
		result.Body = rawJSON(env.Raw)
		result.Attempts = env.Attempts
		return result
	}

	result.Error = err.Error()
	result.Attempts = rest.AttemptsOf(err)
	if resp := rest.ResponseOf(err); resp != nil {
		result.Status = resp.StatusCode
		result.Body = rawJSON(resp.Raw)
	}
	return result
}

// rawJSON keeps bodies that are valid JSON and quotes anything else.
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
