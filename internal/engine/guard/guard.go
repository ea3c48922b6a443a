package guard

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"pulse/internal/platform/models"
)

// Rejection reasons surfaced to callers and recorded on events.
const (
	ReasonNotFound                = "not_found"
	ReasonInactive                = "inactive"
	ReasonExpired                 = "expired"
	ReasonOriginForbidden         = "origin_forbidden"
	ReasonRateLimited             = "rate_limited"
	ReasonMissingSignature        = "missing_signature"
	ReasonInvalidSignature        = "invalid_signature"
	ReasonTimestampOutOfTolerance = "timestamp_out_of_tolerance"
)

// ConfigStore resolves trusted inbound channels.
type ConfigStore interface {
	GetByID(id string) (*models.WebhookConfig, error)
}

// EventSink receives the security audit trail. Every validation attempt,
// accepted or not, is recorded.
type EventSink interface {
	Emit(ev *models.SystemEvent) string
}

// Result is the outcome of validating one inbound request.
type Result struct {
	OK        bool
	Reason    string
	Meta      map[string]interface{}
	Remaining int
	ResetAt   time.Time
}

// Service validates inbound signed webhook requests: channel lookup, origin
// allow-listing, rate limiting, and HMAC verification with replay
// protection. It never mutates asset or destination state.
type Service struct {
	configs ConfigStore
	limiter *Limiter
	events  EventSink
	now     func() time.Time
}

func NewService(configs ConfigStore, limiter *Limiter, events EventSink, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		configs: configs,
		limiter: limiter,
		events:  events,
		now:     now,
	}
}

// Limiter exposes the window table for the periodic sweep worker.
func (s *Service) Limiter() *Limiter {
	return s.limiter
}

// Validate checks one inbound request against the channel identified by
// webhookID. Checks fail closed: an unknown, revoked or expired channel is
// rejected before any signature work happens.
func (s *Service) Validate(webhookID, clientIP string, body []byte, hdr http.Header) Result {
	now := s.now()

	cfg, err := s.configs.GetByID(webhookID)
	if err != nil {
		log.Error().Err(err).Str("webhook_id", webhookID).Msg("webhook config lookup failed")
		return s.reject(webhookID, clientIP, ReasonNotFound, models.SecurityLevelWarning, nil)
	}
	if cfg == nil {
		return s.reject(webhookID, clientIP, ReasonNotFound, models.SecurityLevelWarning, nil)
	}
	if !cfg.Active {
		return s.reject(webhookID, clientIP, ReasonInactive, models.SecurityLevelWarning, nil)
	}
	if cfg.ExpiresAt != nil && now.Unix() >= *cfg.ExpiresAt {
		return s.reject(webhookID, clientIP, ReasonExpired, models.SecurityLevelWarning, nil)
	}

	if !originAllowed(cfg.AllowedOrigins, hdr.Get("Origin")) {
		return s.reject(webhookID, clientIP, ReasonOriginForbidden, models.SecurityLevelWarning, map[string]interface{}{
			"origin": hdr.Get("Origin"),
		})
	}

	decision := s.limiter.Allow(webhookID+"|"+clientIP, cfg.RateLimitMax, time.Duration(cfg.RateLimitWindow)*time.Second)
	if !decision.Allowed {
		res := s.reject(webhookID, clientIP, ReasonRateLimited, models.SecurityLevelWarning, map[string]interface{}{
			"reset_at": decision.ResetAt.Unix(),
		})
		res.ResetAt = decision.ResetAt
		return res
	}

	key, err := hex.DecodeString(cfg.SecretHash)
	if err != nil {
		log.Error().Err(err).Str("webhook_id", webhookID).Msg("stored webhook key is not valid hex")
		return s.reject(webhookID, clientIP, ReasonInvalidSignature, models.SecurityLevelCritical, nil)
	}

	sig := ParseSignature(hdr)
	if sig == nil {
		return s.reject(webhookID, clientIP, ReasonMissingSignature, models.SecurityLevelCritical, nil)
	}

	ok, reason := Verify(key, sig, body, now)
	if !ok {
		level := models.SecurityLevelCritical
		if reason == ReasonTimestampOutOfTolerance {
			level = models.SecurityLevelWarning
		}
		return s.reject(webhookID, clientIP, reason, level, map[string]interface{}{
			"scheme": sig.Scheme,
		})
	}

	meta := map[string]interface{}{
		"scheme":    sig.Scheme,
		"client_ip": clientIP,
	}
	if sig.Timestamp != 0 {
		meta["timestamp"] = sig.Timestamp
	}

	s.events.Emit(&models.SystemEvent{
		EntityType:    "webhook_config",
		EntityID:      webhookID,
		EventType:     "webhook_validation_succeeded",
		EventData:     meta,
		SecurityLevel: models.SecurityLevelInfo,
		Source:        "guard",
	})

	return Result{OK: true, Meta: meta, Remaining: decision.Remaining, ResetAt: decision.ResetAt}
}

func (s *Service) reject(webhookID, clientIP, reason, level string, extra map[string]interface{}) Result {
	data := map[string]interface{}{
		"reason":    reason,
		"client_ip": clientIP,
	}
	for k, v := range extra {
		data[k] = v
	}

	eventType := "webhook_validation_failed"
	if reason == ReasonRateLimited {
		eventType = "webhook_rate_limited"
	}

	s.events.Emit(&models.SystemEvent{
		EntityType:    "webhook_config",
		EntityID:      webhookID,
		EventType:     eventType,
		EventData:     data,
		SecurityLevel: level,
		Source:        "guard",
	})

	return Result{OK: false, Reason: reason, Meta: data}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
