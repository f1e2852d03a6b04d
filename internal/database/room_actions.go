// internal/database/room_actions.go
package database

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/simon/internal/models"
)

//go:embed schema.sql
var schema string

// EnsureSchema creates the rooms and room_actions tables if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// ActionStore writes room actions to postgres.
type ActionStore struct {
	db TxBeginner
}

func NewActionStore(db TxBeginner) *ActionStore {
	return &ActionStore{db: db}
}

// SaveBatch persists actions in one transaction. Replayed actions are
// ignored, so a batch may safely be retried.
func (s *ActionStore) SaveBatch(ctx context.Context, actions []models.RoomAction) error {
	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, a := range actions {
			if err := insertRoomActionTx(ctx, tx, a); err != nil {
				return fmt.Errorf("insertRoomActionTx %s#%d: %w", a.RoomID, a.ActionIndex, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %d room actions: %w", len(actions), err)
	}
	return nil
}

func insertRoomActionTx(ctx context.Context, tx pgx.Tx, a models.RoomAction) error {
	created := time.UnixMilli(a.RoomCreatedAt).UTC()
	at := time.UnixMilli(a.Timestamp).UTC()

	upsertRoomQ := `
		INSERT INTO rooms (id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (id, created_at) DO NOTHING
	`
	if _, err := tx.Exec(ctx, upsertRoomQ, a.RoomID, created); err != nil {
		return err
	}

	payload, err := json.Marshal(a.ActionPayload)
	if err != nil {
		return err
	}
	var actor *uuid.UUID
	if a.ActorConnID != uuid.Nil {
		actor = &a.ActorConnID
	}
	actionInsertQ := `
		INSERT INTO room_actions (
			room_id, room_created, action_index, actor_conn_id, action_type, action_payload, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (room_id, room_created, action_index) DO NOTHING
	`
	if _, err := tx.Exec(ctx, actionInsertQ, a.RoomID, created, a.ActionIndex, actor, a.ActionType, payload, at); err != nil {
		return err
	}

	q, args := roomStatusUpdate(a, created, at)
	if q == "" {
		return nil
	}
	_, err = tx.Exec(ctx, q, args...)
	return err
}

// roomStatusUpdate returns the rooms update an action implies, if any.
func roomStatusUpdate(a models.RoomAction, created, at time.Time) (string, []any) {
	switch a.ActionType {
	case models.ActionGameStart:
		return `UPDATE rooms SET status = 'playing' WHERE id = $1 AND created_at = $2 AND status = 'lobby'`,
			[]any{a.RoomID, created}
	case models.ActionRoundStart:
		round, ok := payloadInt(a.ActionPayload, "round")
		if !ok {
			return "", nil
		}
		return `UPDATE rooms SET last_round = GREATEST(last_round, $3) WHERE id = $1 AND created_at = $2`,
			[]any{a.RoomID, created, round}
	case models.ActionGameOver:
		return `UPDATE rooms SET status = 'finished', ended_at = $3 WHERE id = $1 AND created_at = $2`,
			[]any{a.RoomID, created, at}
	case models.ActionRoomClosed:
		return `
			UPDATE rooms
			SET status = CASE WHEN status = 'finished' THEN status ELSE 'abandoned' END,
			    ended_at = COALESCE(ended_at, $3)
			WHERE id = $1 AND created_at = $2
		`, []any{a.RoomID, created, at}
	}
	return "", nil
}

// payloadInt reads a number that went through JSON decoding.
func payloadInt(payload map[string]interface{}, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

// MarkAbandoned closes out a room that stopped reporting before it finished.
func (s *ActionStore) MarkAbandoned(ctx context.Context, roomID string, createdAt int64) error {
	return pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE rooms
			SET status = 'abandoned', ended_at = NOW()
			WHERE id = $1 AND created_at = $2 AND status IN ('lobby', 'playing')
		`
		_, err := tx.Exec(ctx, q, roomID, time.UnixMilli(createdAt).UTC())
		return err
	})
}
