package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"umoja/internal/events"
	"umoja/internal/identity"
	"umoja/internal/rewards/models"
	"umoja/pkg/domain"
	"umoja/pkg/platform/sentinel"
	txcontext "umoja/pkg/platform/tx"
)

// Store persists reward entries in the reward_entries table. The event id is
// the primary key, so redelivered events insert nothing.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, e models.Entry) error {
	const query = `
		INSERT INTO reward_entries (event_id, user_id, event_type, tier, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(e.EventID), string(e.UserID), string(e.EventType), string(e.Tier), int64(e.Amount), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reward entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reward for event %s: %w", e.EventID, sentinel.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, user domain.UserID) ([]models.Entry, error) {
	const query = `
		SELECT event_id, user_id, event_type, tier, amount, created_at
		FROM reward_entries
		WHERE user_id = $1
		ORDER BY created_at, event_id
	`
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, string(user))
	if err != nil {
		return nil, fmt.Errorf("list reward entries: %w", err)
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		var (
			e                 models.Entry
			id                uuid.UUID
			userID, typ, tier string
			amount            int64
		)
		if err := rows.Scan(&id, &userID, &typ, &tier, &amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reward entry: %w", err)
		}
		e.EventID = domain.EventID(id)
		e.UserID = domain.UserID(userID)
		e.EventType = events.Type(typ)
		e.Tier = identity.Tier(tier)
		e.Amount = domain.Amount(amount)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reward entries: %w", err)
	}
	return out, nil
}

func (s *Store) Balance(ctx context.Context, user domain.UserID) (domain.Amount, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM reward_entries WHERE user_id = $1`
	var total int64
	if err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, string(user)).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum reward entries: %w", err)
	}
	return domain.Amount(total), nil
}
