package publish

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"pulse/internal/platform/models"
)

// Repository persists assets, destinations, social accounts and workflow
// executions.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) CreateAsset(a *models.Asset) error {
	if a.ID == "" {
		a.ID = "ast_" + uuid.New().String()
	}
	a.CreatedAt = r.now().Unix()
	a.UpdatedAt = a.CreatedAt
	if a.Status == "" {
		a.Status = models.AssetStatusDraft
	}

	_, err := r.db.Exec(`
		INSERT INTO assets (id, title, caption, media_url, status, created_by, scheduled_at, published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Title, a.Caption, a.MediaURL, a.Status, a.CreatedBy, a.ScheduledAt, a.PublishedAt, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *Repository) GetAsset(id string) (*models.Asset, error) {
	row := r.db.QueryRow(`
		SELECT id, title, caption, media_url, status, created_by, scheduled_at, published_at, created_at, updated_at
		FROM assets WHERE id = ?
	`, id)

	var a models.Asset
	var scheduledAt, publishedAt sql.NullInt64
	err := row.Scan(&a.ID, &a.Title, &a.Caption, &a.MediaURL, &a.Status, &a.CreatedBy, &scheduledAt, &publishedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if scheduledAt.Valid {
		a.ScheduledAt = &scheduledAt.Int64
	}
	if publishedAt.Valid {
		a.PublishedAt = &publishedAt.Int64
	}
	return &a, nil
}

func (r *Repository) UpdateAssetStatus(id, status string) error {
	now := r.now().Unix()
	if status == models.AssetStatusPublished {
		_, err := r.db.Exec(`UPDATE assets SET status = ?, published_at = ?, updated_at = ? WHERE id = ?`, status, now, now, id)
		return err
	}
	_, err := r.db.Exec(`UPDATE assets SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	return err
}

func (r *Repository) CreateDestination(d *models.Destination) error {
	if d.ID == "" {
		d.ID = "dst_" + uuid.New().String()
	}
	d.CreatedAt = r.now().Unix()
	d.UpdatedAt = d.CreatedAt
	if d.Status == "" {
		d.Status = models.DestinationStatusDraft
	}

	_, err := r.db.Exec(`
		INSERT INTO destinations (id, asset_id, account_id, platform, status, platform_post_id, error_message, attempts, max_attempts, next_retry_at, scheduled_at, published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.AssetID, d.AccountID, d.Platform, d.Status, d.PlatformPostID, d.ErrorMessage, d.Attempts, d.MaxAttempts, d.NextRetryAt, d.ScheduledAt, d.PublishedAt, d.CreatedAt, d.UpdatedAt)
	return err
}

func scanDestination(row interface{ Scan(...interface{}) error }) (*models.Destination, error) {
	var d models.Destination
	var nextRetryAt, scheduledAt, publishedAt sql.NullInt64
	err := row.Scan(&d.ID, &d.AssetID, &d.AccountID, &d.Platform, &d.Status, &d.PlatformPostID, &d.ErrorMessage, &d.Attempts, &d.MaxAttempts, &nextRetryAt, &scheduledAt, &publishedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if nextRetryAt.Valid {
		d.NextRetryAt = &nextRetryAt.Int64
	}
	if scheduledAt.Valid {
		d.ScheduledAt = &scheduledAt.Int64
	}
	if publishedAt.Valid {
		d.PublishedAt = &publishedAt.Int64
	}
	return &d, nil
}

const destinationColumns = `id, asset_id, account_id, platform, status, platform_post_id, error_message, attempts, max_attempts, next_retry_at, scheduled_at, published_at, created_at, updated_at`

func (r *Repository) GetDestination(id string) (*models.Destination, error) {
	row := r.db.QueryRow(`SELECT `+destinationColumns+` FROM destinations WHERE id = ?`, id)
	d, err := scanDestination(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (r *Repository) ListDestinationsByAsset(assetID string) ([]*models.Destination, error) {
	rows, err := r.db.Query(`SELECT `+destinationColumns+` FROM destinations WHERE asset_id = ? ORDER BY created_at`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dests []*models.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return dests, rows.Err()
}

func (r *Repository) SetDestinationSchedule(id string, scheduledAt int64) error {
	_, err := r.db.Exec(`UPDATE destinations SET scheduled_at = ?, updated_at = ? WHERE id = ?`, scheduledAt, r.now().Unix(), id)
	return err
}

// MarkPublishing claims a destination for an in-flight publish. The status
// predicate is the optimistic check: two concurrent attempts cannot both
// claim the same row.
func (r *Repository) MarkPublishing(id string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE destinations SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, models.DestinationStatusPublishing, r.now().Unix(), id, models.DestinationStatusQueued, models.DestinationStatusReady)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkPublished records a successful publish and clears any earlier error.
func (r *Repository) MarkPublished(id, platformPostID string) (bool, error) {
	now := r.now().Unix()
	res, err := r.db.Exec(`
		UPDATE destinations SET status = ?, platform_post_id = ?, error_message = '', published_at = ?, next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.DestinationStatusPublished, platformPostID, now, now, id, models.DestinationStatusPublishing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkFailed records a failed attempt and bumps the attempt counter.
func (r *Repository) MarkFailed(id, errMsg string, nextRetryAt int64) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE destinations SET status = ?, error_message = ?, attempts = attempts + 1, next_retry_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.DestinationStatusFailed, errMsg, nextRetryAt, r.now().Unix(), id, models.DestinationStatusPublishing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Requeue re-enters a failed destination into the queue, gated by the
// attempt ceiling.
func (r *Repository) Requeue(id string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE destinations SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND attempts < max_attempts
	`, models.DestinationStatusQueued, r.now().Unix(), id, models.DestinationStatusFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Repository) CancelDestination(id string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE destinations SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, models.DestinationStatusCancelled, r.now().Unix(), id, models.DestinationStatusPublished, models.DestinationStatusCancelled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReconcileStuckPublishing reverts rows stuck in publishing past the TTL
// back to failed so a crash mid-call cannot wedge a destination forever.
func (r *Repository) ReconcileStuckPublishing(cutoff int64) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE destinations SET status = ?, error_message = 'publish attempt timed out', attempts = attempts + 1, updated_at = ?
		WHERE status = ? AND updated_at < ?
	`, models.DestinationStatusFailed, r.now().Unix(), models.DestinationStatusPublishing, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListRetryable returns failed destinations whose retry window has opened.
func (r *Repository) ListRetryable(now int64) ([]*models.Destination, error) {
	rows, err := r.db.Query(`
		SELECT `+destinationColumns+` FROM destinations
		WHERE status = ? AND attempts < max_attempts AND (next_retry_at IS NULL OR next_retry_at <= ?)
	`, models.DestinationStatusFailed, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dests []*models.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return dests, rows.Err()
}

func (r *Repository) CreateAccount(a *models.SocialAccount) error {
	if a.ID == "" {
		a.ID = "acc_" + uuid.New().String()
	}
	a.CreatedAt = r.now().Unix()
	a.UpdatedAt = a.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO social_accounts (id, platform, handle, display_name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Platform, a.Handle, a.DisplayName, a.Active, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *Repository) GetAccount(id string) (*models.SocialAccount, error) {
	row := r.db.QueryRow(`
		SELECT id, platform, handle, display_name, active, created_at, updated_at
		FROM social_accounts WHERE id = ?
	`, id)

	var a models.SocialAccount
	err := row.Scan(&a.ID, &a.Platform, &a.Handle, &a.DisplayName, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repository) CreateExecution(e *models.WorkflowExecution) error {
	now := r.now().Unix()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.StartedAt == 0 {
		e.StartedAt = now
	}
	if e.Status == "" {
		e.Status = models.ExecutionStatusStarted
	}

	_, err := r.db.Exec(`
		INSERT INTO workflow_executions (id, workflow_type, asset_id, status, input, output, error, started_at, completed_at, duration_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.WorkflowType, e.AssetID, e.Status, e.Input, e.Output, e.Error, e.StartedAt, e.CompletedAt, e.DurationMs, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *Repository) GetExecution(id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRow(`
		SELECT id, workflow_type, asset_id, status, input, output, error, started_at, completed_at, duration_ms, created_at, updated_at
		FROM workflow_executions WHERE id = ?
	`, id)

	var e models.WorkflowExecution
	var completedAt, durationMs sql.NullInt64
	err := row.Scan(&e.ID, &e.WorkflowType, &e.AssetID, &e.Status, &e.Input, &e.Output, &e.Error, &e.StartedAt, &completedAt, &durationMs, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Int64
	}
	if durationMs.Valid {
		e.DurationMs = &durationMs.Int64
	}
	return &e, nil
}

func (r *Repository) UpdateExecution(e *models.WorkflowExecution) error {
	e.UpdatedAt = r.now().Unix()
	_, err := r.db.Exec(`
		UPDATE workflow_executions SET status = ?, output = ?, error = ?, completed_at = ?, duration_ms = ?, updated_at = ?
		WHERE id = ?
	`, e.Status, e.Output, e.Error, e.CompletedAt, e.DurationMs, e.UpdatedAt, e.ID)
	return err
}
