package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/claimtype/internal/claim"
	"github.com/banshee-data/claimtype/internal/predictor"
	"github.com/banshee-data/claimtype/internal/timeutil"
)

// Entry is one stored prediction. Failed predictions carry Stage and Error
// and no class.
type Entry struct {
	ID            string                  `json:"id"`
	Time          time.Time               `json:"time"`
	Form          claim.FormState         `json:"form"`
	ClassID       *int                    `json:"class_id,omitempty"`
	Label         string                  `json:"label,omitempty"`
	Probabilities []predictor.Probability `json:"probabilities,omitempty"`
	Duration      time.Duration           `json:"duration_ns"`
	Stage         string                  `json:"stage,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// History records predictions into the predictions table. It implements
// predictor.Recorder.
type History struct {
	db    *DB
	clock timeutil.Clock
	newID func() uuid.UUID
}

// NewHistory returns a History over db. A nil clock means the wall clock.
func NewHistory(db *DB, clock timeutil.Clock) *History {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &History{db: db, clock: clock, newID: uuid.New}
}

// Record stores one prediction outcome.
func (h *History) Record(ctx context.Context, state claim.FormState, res *predictor.Result, perr *predictor.PredictionError) error {
	form, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode form: %w", err)
	}

	var (
		id       = h.newID().String()
		created  = h.clock.Now()
		classID  sql.NullInt64
		label    sql.NullString
		probs    sql.NullString
		duration int64
		stage    sql.NullString
		errText  sql.NullString
	)
	if res != nil {
		id = res.ID.String()
		created = res.Time
		classID = sql.NullInt64{Int64: int64(res.ClassID), Valid: true}
		label = sql.NullString{String: res.Label, Valid: true}
		b, err := json.Marshal(res.Probabilities)
		if err != nil {
			return fmt.Errorf("failed to encode probabilities: %w", err)
		}
		probs = sql.NullString{String: string(b), Valid: true}
		duration = int64(res.Duration)
	}
	if perr != nil {
		stage = sql.NullString{String: perr.Stage, Valid: true}
		errText = sql.NullString{String: perr.Err.Error(), Valid: true}
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO predictions (
			prediction_id, created_unix_nanos, form_json, class_id, label,
			probabilities_json, duration_ns, error_stage, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, created.UnixNano(), string(form), classID, label,
		probs, duration, stage, errText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

// Recent returns up to limit predictions, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT prediction_id, created_unix_nanos, form_json, class_id, label,
			probabilities_json, duration_ns, error_stage, error
		FROM predictions
		ORDER BY created_unix_nanos DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			nanos   int64
			form    string
			classID sql.NullInt64
			label   sql.NullString
			probs   sql.NullString
			stage   sql.NullString
			errText sql.NullString
			dur     int64
		)
		if err := rows.Scan(&e.ID, &nanos, &form, &classID, &label, &probs, &dur, &stage, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		e.Time = time.Unix(0, nanos).UTC()
		e.Duration = time.Duration(dur)
		if err := json.Unmarshal([]byte(form), &e.Form); err != nil {
			return nil, fmt.Errorf("prediction %s: bad form: %w", e.ID, err)
		}
		if classID.Valid {
			c := int(classID.Int64)
			e.ClassID = &c
		}
		e.Label = label.String
		if probs.Valid {
			if err := json.Unmarshal([]byte(probs.String), &e.Probabilities); err != nil {
				return nil, fmt.Errorf("prediction %s: bad probabilities: %w", e.ID, err)
			}
		}
		e.Stage = stage.String
		e.Error = errText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored predictions.
func (h *History) Count(ctx context.Context) (int, error) {
	var n int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM predictions").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
