package models

type WebhookConfig struct {
	ID              string   `json:"id"`
	WorkflowType    string   `json:"workflow_type"`
	SecretHash      string   `json:"-"` // hex, PBKDF2-derived; doubles as the HMAC key
	SecretSalt      string   `json:"-"` // hex
	Active          bool     `json:"active"`
	AllowedOrigins  []string `json:"allowed_origins"` // JSON array in DB, "*" allows any
	RateLimitMax    int      `json:"rate_limit_max"`
	RateLimitWindow int      `json:"rate_limit_window"` // seconds
	ExpiresAt       *int64   `json:"expires_at,omitempty"`
	CreatedAt       int64    `json:"created_at"`
	UpdatedAt       int64    `json:"updated_at"`
}
