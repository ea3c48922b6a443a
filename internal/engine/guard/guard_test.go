package guard

import (
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"pulse/internal/platform/models"
)

type fakeConfigStore struct {
	configs map[string]*models.WebhookConfig
}

func (s *fakeConfigStore) GetByID(id string) (*models.WebhookConfig, error) {
	return s.configs[id], nil
}

type captureSink struct {
	events []*models.SystemEvent
}

func (s *captureSink) Emit(ev *models.SystemEvent) string {
	s.events = append(s.events, ev)
	return ev.ID
}

func (s *captureSink) last() *models.SystemEvent {
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

func newTestService(t *testing.T, cfg *models.WebhookConfig, now time.Time) (*Service, *captureSink, []byte) {
	t.Helper()

	secret := "test-secret"
	keyHex, saltHex, err := HashSecret(secret)
	if err != nil {
		t.Fatal(err)
	}
	cfg.SecretHash = keyHex
	cfg.SecretSalt = saltHex

	sink := &captureSink{}
	store := &fakeConfigStore{configs: map[string]*models.WebhookConfig{cfg.ID: cfg}}
	svc := NewService(store, NewLimiter(func() time.Time { return now }), sink, func() time.Time { return now })

	key, _ := hex.DecodeString(keyHex)
	return svc, sink, key
}

func activeConfig() *models.WebhookConfig {
	return &models.WebhookConfig{
		ID:              "whc_1",
		WorkflowType:    "publish",
		Active:          true,
		RateLimitMax:    10,
		RateLimitWindow: 60,
	}
}

func TestValidateAccepts(t *testing.T) {
	now := time.Now()
	svc, sink, key := newTestService(t, activeConfig(), now)
	body := []byte(`{"executionId":"wfx_1"}`)

	res := svc.Validate("whc_1", "1.2.3.4", body, hubHeader(key, body))
	if !res.OK {
		t.Fatalf("valid request rejected: %s", res.Reason)
	}
	if ev := sink.last(); ev == nil || ev.EventType != "webhook_validation_succeeded" || ev.SecurityLevel != models.SecurityLevelInfo {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestValidateFailsClosed(t *testing.T) {
	now := time.Now()
	body := []byte("{}")

	t.Run("unknown id", func(t *testing.T) {
		svc, sink, key := newTestService(t, activeConfig(), now)
		res := svc.Validate("whc_missing", "1.2.3.4", body, hubHeader(key, body))
		if res.OK || res.Reason != ReasonNotFound {
			t.Errorf("got %+v, want not_found", res)
		}
		if ev := sink.last(); ev == nil || ev.EventType != "webhook_validation_failed" {
			t.Errorf("rejection not recorded: %+v", ev)
		}
	})

	t.Run("revoked", func(t *testing.T) {
		cfg := activeConfig()
		cfg.Active = false
		svc, _, key := newTestService(t, cfg, now)
		res := svc.Validate("whc_1", "1.2.3.4", body, hubHeader(key, body))
		if res.OK || res.Reason != ReasonInactive {
			t.Errorf("got %+v, want inactive", res)
		}
	})

	t.Run("expired", func(t *testing.T) {
		cfg := activeConfig()
		past := now.Add(-time.Hour).Unix()
		cfg.ExpiresAt = &past
		svc, _, key := newTestService(t, cfg, now)
		res := svc.Validate("whc_1", "1.2.3.4", body, hubHeader(key, body))
		if res.OK || res.Reason != ReasonExpired {
			t.Errorf("got %+v, want expired", res)
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		svc, sink, _ := newTestService(t, activeConfig(), now)
		res := svc.Validate("whc_1", "1.2.3.4", body, http.Header{})
		if res.OK || res.Reason != ReasonMissingSignature {
			t.Errorf("got %+v, want missing_signature", res)
		}
		if ev := sink.last(); ev == nil || ev.SecurityLevel != models.SecurityLevelCritical {
			t.Errorf("missing signature not critical: %+v", ev)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		svc, sink, _ := newTestService(t, activeConfig(), now)
		h := http.Header{}
		h.Set(HeaderHubSignature, "sha256=deadbeef")
		res := svc.Validate("whc_1", "1.2.3.4", body, h)
		if res.OK || res.Reason != ReasonInvalidSignature {
			t.Errorf("got %+v, want invalid_signature", res)
		}
		if ev := sink.last(); ev == nil || ev.SecurityLevel != models.SecurityLevelCritical {
			t.Errorf("bad signature not critical: %+v", ev)
		}
	})
}

func TestValidateOriginAllowList(t *testing.T) {
	now := time.Now()
	cfg := activeConfig()
	cfg.AllowedOrigins = []string{"https://studio.example.com"}
	svc, _, key := newTestService(t, cfg, now)
	body := []byte("{}")

	h := hubHeader(key, body)
	h.Set("Origin", "https://evil.example.com")
	if res := svc.Validate("whc_1", "1.2.3.4", body, h); res.OK || res.Reason != ReasonOriginForbidden {
		t.Errorf("disallowed origin accepted: %+v", res)
	}

	h.Set("Origin", "https://studio.example.com")
	if res := svc.Validate("whc_1", "1.2.3.4", body, h); !res.OK {
		t.Errorf("allowed origin rejected: %s", res.Reason)
	}

	cfg.AllowedOrigins = []string{"*"}
	h.Set("Origin", "https://anywhere.example.com")
	if res := svc.Validate("whc_1", "1.2.3.4", body, h); !res.OK {
		t.Errorf("wildcard origin rejected: %s", res.Reason)
	}
}

func TestValidateRateLimits(t *testing.T) {
	now := time.Now()
	cfg := activeConfig()
	cfg.RateLimitMax = 2
	svc, sink, key := newTestService(t, cfg, now)
	body := []byte("{}")

	for i := 0; i < 2; i++ {
		if res := svc.Validate("whc_1", "1.2.3.4", body, hubHeader(key, body)); !res.OK {
			t.Fatalf("request %d rejected: %s", i+1, res.Reason)
		}
	}

	res := svc.Validate("whc_1", "1.2.3.4", body, hubHeader(key, body))
	if res.OK || res.Reason != ReasonRateLimited {
		t.Fatalf("got %+v, want rate_limited", res)
	}
	if res.ResetAt.IsZero() {
		t.Error("rate limited result has no reset time")
	}
	if ev := sink.last(); ev == nil || ev.EventType != "webhook_rate_limited" {
		t.Errorf("rate limit not recorded: %+v", ev)
	}

	// A different client IP gets its own window
	if res := svc.Validate("whc_1", "5.6.7.8", body, hubHeader(key, body)); !res.OK {
		t.Errorf("other client rejected: %s", res.Reason)
	}
}

func TestValidateReplayWindow(t *testing.T) {
	now := time.Now()
	svc, _, key := newTestService(t, activeConfig(), now)
	body := []byte(`{"executionId":"wfx_1"}`)

	// 299 seconds old: accepted
	h := timestampedHeader(key, body, now.Add(-299*time.Second).Unix())
	if res := svc.Validate("whc_1", "1.2.3.4", body, h); !res.OK {
		t.Errorf("299s old request rejected: %s", res.Reason)
	}

	// 301 seconds old: replay, rejected
	h = timestampedHeader(key, body, now.Add(-301*time.Second).Unix())
	if res := svc.Validate("whc_1", "1.2.3.4", body, h); res.OK || res.Reason != ReasonTimestampOutOfTolerance {
		t.Errorf("301s old request: got %+v, want timestamp_out_of_tolerance", res)
	}
}
