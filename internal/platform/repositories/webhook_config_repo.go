package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"pulse/internal/platform/models"
)

type WebhookConfigRepository struct {
	db *sql.DB
}

func NewWebhookConfigRepository(db *sql.DB) *WebhookConfigRepository {
	return &WebhookConfigRepository{db: db}
}

func (r *WebhookConfigRepository) Create(cfg *models.WebhookConfig) error {
	if cfg.ID == "" {
		cfg.ID = "whc_" + uuid.New().String()
	}
	cfg.CreatedAt = time.Now().Unix()
	cfg.UpdatedAt = cfg.CreatedAt
	cfg.Active = true

	originsJSON, err := json.Marshal(cfg.AllowedOrigins)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_configs (id, workflow_type, secret_hash, secret_salt, active, allowed_origins, rate_limit_max, rate_limit_window, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query, cfg.ID, cfg.WorkflowType, cfg.SecretHash, cfg.SecretSalt, cfg.Active, string(originsJSON), cfg.RateLimitMax, cfg.RateLimitWindow, cfg.ExpiresAt, cfg.CreatedAt, cfg.UpdatedAt)
	return err
}

func (r *WebhookConfigRepository) GetByID(id string) (*models.WebhookConfig, error) {
	query := `
		SELECT id, workflow_type, secret_hash, secret_salt, active, allowed_origins, rate_limit_max, rate_limit_window, expires_at, created_at, updated_at
		FROM webhook_configs WHERE id = ?
	`
	row := r.db.QueryRow(query, id)

	var cfg models.WebhookConfig
	var originsStr string
	var expiresAt sql.NullInt64

	err := row.Scan(&cfg.ID, &cfg.WorkflowType, &cfg.SecretHash, &cfg.SecretSalt, &cfg.Active, &originsStr, &cfg.RateLimitMax, &cfg.RateLimitWindow, &expiresAt, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if expiresAt.Valid {
		cfg.ExpiresAt = &expiresAt.Int64
	}
	json.Unmarshal([]byte(originsStr), &cfg.AllowedOrigins)

	return &cfg, nil
}

// Revoke deactivates a channel. Rows are never deleted so the audit trail
// stays resolvable.
func (r *WebhookConfigRepository) Revoke(id string) error {
	res, err := r.db.Exec(`UPDATE webhook_configs SET active = 0, updated_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *WebhookConfigRepository) List() ([]*models.WebhookConfig, error) {
	query := `
		SELECT id, workflow_type, secret_hash, secret_salt, active, allowed_origins, rate_limit_max, rate_limit_window, expires_at, created_at, updated_at
		FROM webhook_configs ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*models.WebhookConfig
	for rows.Next() {
		var cfg models.WebhookConfig
		var originsStr string
		var expiresAt sql.NullInt64

		if err := rows.Scan(&cfg.ID, &cfg.WorkflowType, &cfg.SecretHash, &cfg.SecretSalt, &cfg.Active, &originsStr, &cfg.RateLimitMax, &cfg.RateLimitWindow, &expiresAt, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, err
		}

		if expiresAt.Valid {
			cfg.ExpiresAt = &expiresAt.Int64
		}
		json.Unmarshal([]byte(originsStr), &cfg.AllowedOrigins)
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}
