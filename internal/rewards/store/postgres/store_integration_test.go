//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"umoja/internal/events"
	"umoja/internal/identity"
	"umoja/internal/rewards/models"
	"umoja/internal/rewards/store/postgres"
	"umoja/pkg/domain"
	"umoja/pkg/platform/sentinel"
	"umoja/pkg/testutil/containers"
)

type RewardStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
}

func TestRewardStoreSuite(t *testing.T) {
	suite.Run(t, new(RewardStoreSuite))
}

func (s *RewardStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.pg.DB)
}

func (s *RewardStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "reward_entries"))
}

func (s *RewardStoreSuite) entry(user domain.UserID, amount domain.Amount, at time.Time) models.Entry {
	return models.Entry{
		EventID:   domain.NewEventID(),
		UserID:    user,
		EventType: events.ContributionRecorded,
		Tier:      identity.TierMember,
		Amount:    amount,
		CreatedAt: at,
	}
}

func (s *RewardStoreSuite) TestRedeliveredEventAccruesOnce() {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := s.entry("amani", 40, at)

	s.Require().NoError(s.store.Append(ctx, e))
	s.ErrorIs(s.store.Append(ctx, e), sentinel.ErrAlreadyExists)

	balance, err := s.store.Balance(ctx, "amani")
	s.Require().NoError(err)
	s.Equal(domain.Amount(40), balance)
}

func (s *RewardStoreSuite) TestListAndBalancePerUser() {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.Append(ctx, s.entry("amani", 10, at.Add(time.Minute))))
	s.Require().NoError(s.store.Append(ctx, s.entry("amani", 5, at)))
	s.Require().NoError(s.store.Append(ctx, s.entry("kibera", 99, at)))

	entries, err := s.store.ListByUser(ctx, "amani")
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(domain.Amount(5), entries[0].Amount, "oldest first")

	balance, err := s.store.Balance(ctx, "nobody")
	s.Require().NoError(err)
	s.Zero(balance)
}
