package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"umoja/internal/escrow/models"
	"umoja/pkg/domain"
	"umoja/pkg/platform/sentinel"
	txcontext "umoja/pkg/platform/tx"
)

// Store persists treatment passes in PostgreSQL. Milestones, sponsor
// contributions and the cancellation are stored as JSONB documents on the
// pass row; next_due_at is denormalized so the retry worker can find work
// through an index.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const passColumns = `id, beneficiary_id, community_id, funding_target, status, milestones, sponsors,
	cancellation, next_due_at, created_at, updated_at, version`

type passDocs struct {
	milestones   []byte
	sponsors     []byte
	cancellation []byte
	nextDueAt    *time.Time
}

func encode(p *models.TreatmentPass) (passDocs, error) {
	var (
		d   passDocs
		err error
	)
	if d.milestones, err = json.Marshal(p.Milestones); err != nil {
		return d, fmt.Errorf("marshal milestones: %w", err)
	}
	if d.sponsors, err = json.Marshal(p.Sponsors); err != nil {
		return d, fmt.Errorf("marshal sponsors: %w", err)
	}
	if p.Cancellation != nil {
		if d.cancellation, err = json.Marshal(p.Cancellation); err != nil {
			return d, fmt.Errorf("marshal cancellation: %w", err)
		}
	}
	d.nextDueAt = p.NextDueAt()
	return d, nil
}

func (s *Store) Create(ctx context.Context, p *models.TreatmentPass) error {
	d, err := encode(p)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO passes (` + passColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(p.ID), string(p.BeneficiaryID), string(p.CommunityID), int64(p.FundingTarget),
		string(p.Status), d.milestones, d.sponsors, d.cancellation, d.nextDueAt,
		p.CreatedAt, p.UpdatedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("insert pass: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pass %s: %w", p.ID, sentinel.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id domain.PassID) (*models.TreatmentPass, error) {
	query := `SELECT ` + passColumns + ` FROM passes WHERE id = $1`
	p, err := scanPass(txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pass %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find pass: %w", err)
	}
	return p, nil
}

// Update writes the aggregate only when the stored version is expectedVersion.
func (s *Store) Update(ctx context.Context, p *models.TreatmentPass, expectedVersion int64) error {
	d, err := encode(p)
	if err != nil {
		return err
	}
	exec := txcontext.ExecutorFrom(ctx, s.db)
	const query = `
		UPDATE passes SET
			status = $3, milestones = $4, sponsors = $5, cancellation = $6,
			next_due_at = $7, updated_at = $8, version = $9
		WHERE id = $1 AND version = $2
	`
	res, err := exec.ExecContext(ctx, query,
		uuid.UUID(p.ID), expectedVersion,
		string(p.Status), d.milestones, d.sponsors, d.cancellation,
		d.nextDueAt, p.UpdatedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update pass: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := exec.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM passes WHERE id = $1)`, uuid.UUID(p.ID)).Scan(&exists); err != nil {
			return fmt.Errorf("check pass: %w", err)
		}
		if !exists {
			return fmt.Errorf("pass %s: %w", p.ID, sentinel.ErrNotFound)
		}
		return fmt.Errorf("pass %s: %w", p.ID, sentinel.ErrVersionConflict)
	}
	return nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.TreatmentPass, error) {
	query := `
		SELECT ` + passColumns + `
		FROM passes
		WHERE next_due_at IS NOT NULL AND next_due_at <= $1
		ORDER BY next_due_at
		LIMIT $2
	`
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due passes: %w", err)
	}
	defer rows.Close()

	var out []*models.TreatmentPass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due passes: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPass(row scanner) (*models.TreatmentPass, error) {
	var (
		p                                  models.TreatmentPass
		id                                 uuid.UUID
		beneficiary, community, status     string
		target                             int64
		milestones, sponsors, cancellation []byte
		nextDueAt                          sql.NullTime
	)
	err := row.Scan(
		&id, &beneficiary, &community, &target, &status, &milestones, &sponsors,
		&cancellation, &nextDueAt, &p.CreatedAt, &p.UpdatedAt, &p.Version,
	)
	if err != nil {
		return nil, err
	}
	p.ID = domain.PassID(id)
	p.BeneficiaryID = domain.UserID(beneficiary)
	p.CommunityID = domain.CommunityID(community)
	p.FundingTarget = domain.Amount(target)
	p.Status = models.PassStatus(status)
	if err := json.Unmarshal(milestones, &p.Milestones); err != nil {
		return nil, fmt.Errorf("decode milestones: %w", err)
	}
	p.Sponsors = make(map[domain.UserID]*models.Contribution)
	if len(sponsors) > 0 {
		if err := json.Unmarshal(sponsors, &p.Sponsors); err != nil {
			return nil, fmt.Errorf("decode sponsors: %w", err)
		}
	}
	if len(cancellation) > 0 {
		p.Cancellation = &models.Cancellation{}
		if err := json.Unmarshal(cancellation, p.Cancellation); err != nil {
			return nil, fmt.Errorf("decode cancellation: %w", err)
		}
	}
	return &p, nil
}
