package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"umoja/internal/governance/models"
	"umoja/internal/policy"
	"umoja/pkg/domain"
	"umoja/pkg/platform/sentinel"
	txcontext "umoja/pkg/platform/tx"
)

// Store persists proposals in PostgreSQL. It is pure I/O; transitions and
// tallies are decided on the aggregate before it is written.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const proposalColumns = `id, action_type, proposer_id, community_id, payload, threshold_bp, requires_elder_approval,
	status, elder_id, yes_power, total_power, created_at, voting_deadline, finalized_at,
	archived, archive_reason, applied_to, version`

func (s *Store) Create(ctx context.Context, p *models.Proposal) error {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("marshal proposal payload: %w", err)
	}
	query := `
		INSERT INTO proposals (` + proposalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(p.ID), string(p.ActionType), string(p.ProposerID), string(p.CommunityID), payload,
		int64(p.Threshold), p.RequiresElderApproval, string(p.Status), string(p.ElderID),
		p.YesPower, p.TotalPower, p.CreatedAt, p.VotingDeadline, p.FinalizedAt,
		p.Archived, string(p.ArchiveReason), p.AppliedTo, p.Version,
	)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("proposal %s: %w", p.ID, sentinel.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id domain.ProposalID) (*models.Proposal, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	p, err := scanProposal(exec.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("proposal %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find proposal: %w", err)
	}
	if err := s.loadVotes(ctx, exec, map[domain.ProposalID]*models.Proposal{p.ID: p}); err != nil {
		return nil, err
	}
	return p, nil
}

// Update writes the aggregate only when the stored version is expectedVersion.
func (s *Store) Update(ctx context.Context, p *models.Proposal, expectedVersion int64, changedVotes ...models.Vote) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	const query = `
		UPDATE proposals SET
			status = $3, elder_id = $4, yes_power = $5, total_power = $6, finalized_at = $7,
			archived = $8, archive_reason = $9, applied_to = $10, version = $11
		WHERE id = $1 AND version = $2
	`
	res, err := exec.ExecContext(ctx, query,
		uuid.UUID(p.ID), expectedVersion,
		string(p.Status), string(p.ElderID), p.YesPower, p.TotalPower, p.FinalizedAt,
		p.Archived, string(p.ArchiveReason), p.AppliedTo, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := exec.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM proposals WHERE id = $1)`, uuid.UUID(p.ID)).Scan(&exists); err != nil {
			return fmt.Errorf("check proposal: %w", err)
		}
		if !exists {
			return fmt.Errorf("proposal %s: %w", p.ID, sentinel.ErrNotFound)
		}
		return fmt.Errorf("proposal %s: %w", p.ID, sentinel.ErrVersionConflict)
	}

	const upsertVote = `
		INSERT INTO votes (proposal_id, voter_id, choice, voting_power, cast_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (proposal_id, voter_id) DO UPDATE SET
			choice = EXCLUDED.choice,
			voting_power = EXCLUDED.voting_power,
			cast_at = EXCLUDED.cast_at
	`
	for _, v := range changedVotes {
		if _, err := exec.ExecContext(ctx, upsertVote,
			uuid.UUID(v.ProposalID), string(v.VoterID), string(v.Choice), v.VotingPower, v.CastAt,
		); err != nil {
			return fmt.Errorf("upsert vote: %w", err)
		}
	}
	return nil
}

func (s *Store) ListActive(ctx context.Context, community domain.CommunityID) ([]*models.Proposal, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	query := `
		SELECT ` + proposalColumns + `
		FROM proposals
		WHERE status IN ('Open', 'ElderPending') AND ($1 = '' OR community_id = $1)
		ORDER BY voting_deadline
	`
	rows, err := exec.QueryContext(ctx, query, string(community))
	if err != nil {
		return nil, fmt.Errorf("list active proposals: %w", err)
	}
	defer rows.Close()

	var out []*models.Proposal
	byID := make(map[domain.ProposalID]*models.Proposal)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active proposals: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	if err := s.loadVotes(ctx, exec, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadVotes(ctx context.Context, exec txcontext.Executor, byID map[domain.ProposalID]*models.Proposal) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id.String())
	}
	const query = `
		SELECT proposal_id, voter_id, choice, voting_power, cast_at
		FROM votes
		WHERE proposal_id = ANY($1::uuid[])
	`
	rows, err := exec.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load votes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pid    uuid.UUID
			voter  string
			choice string
			v      models.Vote
		)
		if err := rows.Scan(&pid, &voter, &choice, &v.VotingPower, &v.CastAt); err != nil {
			return fmt.Errorf("scan vote: %w", err)
		}
		v.ProposalID = domain.ProposalID(pid)
		v.VoterID = domain.UserID(voter)
		v.Choice = models.Choice(choice)
		if p, ok := byID[v.ProposalID]; ok {
			p.Votes[v.VoterID] = v
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProposal(row scanner) (*models.Proposal, error) {
	var (
		p                                       models.Proposal
		id                                      uuid.UUID
		actionType, proposer, community, status string
		elder, archiveReason                    string
		threshold                               int64
		payload                                 []byte
		finalizedAt                             sql.NullTime
	)
	err := row.Scan(
		&id, &actionType, &proposer, &community, &payload, &threshold, &p.RequiresElderApproval,
		&status, &elder, &p.YesPower, &p.TotalPower, &p.CreatedAt, &p.VotingDeadline, &finalizedAt,
		&p.Archived, &archiveReason, &p.AppliedTo, &p.Version,
	)
	if err != nil {
		return nil, err
	}
	p.ID = domain.ProposalID(id)
	p.ActionType = policy.ActionType(actionType)
	p.ProposerID = domain.UserID(proposer)
	p.CommunityID = domain.CommunityID(community)
	p.Threshold = domain.BasisPoints(threshold)
	p.Status = models.Status(status)
	p.ElderID = domain.UserID(elder)
	p.ArchiveReason = models.ArchiveReason(archiveReason)
	if finalizedAt.Valid {
		at := finalizedAt.Time
		p.FinalizedAt = &at
	}
	p.Payload = map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p.Payload); err != nil {
			return nil, fmt.Errorf("decode proposal payload: %w", err)
		}
	}
	p.Votes = make(map[domain.UserID]models.Vote)
	return &p, nil
}
