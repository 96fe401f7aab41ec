package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"signal-engine/internal/alerts"
	"signal-engine/internal/decision"
	"signal-engine/internal/detection"
)

// Repository provides data access for detections, signals, and alert history.
// It satisfies detection.Persister and alerts.HistoryWriter.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveDetection upserts a detection record by ID.
func (r *Repository) SaveDetection(ctx context.Context, d *detection.Detection) error {
	query := `
		INSERT INTO detections (
			id, strategy_id, strategy_name, symbol, direction, grade, confidence,
			status, entry, stop_loss, take_profit, detection_count, notes,
			first_detected_at, last_detected_at, cooldown_ends_at, valid_until, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			grade = EXCLUDED.grade,
			confidence = EXCLUDED.confidence,
			status = EXCLUDED.status,
			entry = EXCLUDED.entry,
			stop_loss = EXCLUDED.stop_loss,
			take_profit = EXCLUDED.take_profit,
			detection_count = EXCLUDED.detection_count,
			notes = EXCLUDED.notes,
			last_detected_at = EXCLUDED.last_detected_at,
			valid_until = EXCLUDED.valid_until,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Pool.Exec(ctx, query,
		d.ID, d.StrategyID, d.StrategyName, d.Symbol, string(d.Direction),
		string(d.Grade), d.Confidence, string(d.Status),
		d.Entry, d.StopLoss, d.TakeProfit, d.DetectionCount, d.Notes,
		d.FirstDetectedAt, d.LastDetectedAt, d.CooldownEndsAt, d.ValidUntil, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving detection %s: %w", d.ID, err)
	}
	return nil
}

// LoadActiveDetections returns non-terminal detections for store seeding at
// startup.
func (r *Repository) LoadActiveDetections(ctx context.Context) ([]detection.Detection, error) {
	query := `
		SELECT id, strategy_id, strategy_name, symbol, direction, grade, confidence,
			status, entry, stop_loss, take_profit, detection_count, notes,
			first_detected_at, last_detected_at, cooldown_ends_at, valid_until, updated_at
		FROM detections
		WHERE status IN ('cooling_down', 'eligible')
		ORDER BY last_detected_at`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading active detections: %w", err)
	}
	defer rows.Close()

	var out []detection.Detection
	for rows.Next() {
		var d detection.Detection
		var direction, grade, status string
		if err := rows.Scan(
			&d.ID, &d.StrategyID, &d.StrategyName, &d.Symbol, &direction, &grade, &d.Confidence,
			&status, &d.Entry, &d.StopLoss, &d.TakeProfit, &d.DetectionCount, &d.Notes,
			&d.FirstDetectedAt, &d.LastDetectedAt, &d.CooldownEndsAt, &d.ValidUntil, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning detection: %w", err)
		}
		d.Direction = decision.Direction(direction)
		d.Grade = decision.Grade(grade)
		d.Status = detection.Status(status)
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveSignal stores a full decision as signal history. The complete decision
// rides along as JSONB so the API can replay it.
func (r *Repository) SaveSignal(ctx context.Context, d *decision.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding signal %s: %w", d.ID, err)
	}

	query := `
		INSERT INTO signals (id, symbol, strategy_id, style, direction, grade, confidence, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err = r.db.Pool.Exec(ctx, query,
		d.ID, d.Symbol, d.StrategyID, string(d.Style), string(d.Direction),
		string(d.Grade), d.Confidence, payload, d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("saving signal %s: %w", d.ID, err)
	}
	return nil
}

// RecentSignals returns the latest stored decisions, newest first.
func (r *Repository) RecentSignals(ctx context.Context, limit int) ([]decision.Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT payload FROM signals ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent signals: %w", err)
	}
	defer rows.Close()

	var out []decision.Decision
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning signal: %w", err)
		}
		var d decision.Decision
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("decoding signal payload: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveAlert appends one sent alert to the history.
func (r *Repository) SaveAlert(ctx context.Context, a alerts.Alert) error {
	query := `
		INSERT INTO alert_history (signal_id, symbol, strategy_id, direction, grade,
			confidence, entry, stop_loss, take_profit, reason, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Pool.Exec(ctx, query,
		a.ID, a.Symbol, a.StrategyID, string(a.Direction), string(a.Grade),
		a.Confidence, a.Entry, a.StopLoss, a.TakeProfit, a.Reason, a.SentAt,
	)
	if err != nil {
		return fmt.Errorf("saving alert for %s: %w", a.Symbol, err)
	}
	return nil
}

// RecentAlerts returns the latest sent alerts, newest first.
func (r *Repository) RecentAlerts(ctx context.Context, limit int) ([]alerts.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT signal_id, symbol, strategy_id, direction, grade, confidence,
			entry, stop_loss, take_profit, reason, sent_at
		FROM alert_history ORDER BY sent_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent alerts: %w", err)
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		var a alerts.Alert
		var direction, grade string
		var sentAt time.Time
		if err := rows.Scan(
			&a.ID, &a.Symbol, &a.StrategyID, &direction, &grade, &a.Confidence,
			&a.Entry, &a.StopLoss, &a.TakeProfit, &a.Reason, &sentAt,
		); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Direction = decision.Direction(direction)
		a.Grade = decision.Grade(grade)
		a.SentAt = sentAt
		out = append(out, a)
	}
	return out, rows.Err()
}

// PruneSignals deletes signal rows older than the retention window.
func (r *Repository) PruneSignals(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM signals WHERE created_at < $1`, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("pruning signals: %w", err)
	}
	return tag.RowsAffected(), nil
}
