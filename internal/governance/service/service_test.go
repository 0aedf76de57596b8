package service_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"umoja/internal/events"
	eventstore "umoja/internal/events/store/memory"
	"umoja/internal/governance/models"
	"umoja/internal/governance/service"
	"umoja/internal/governance/store/memory"
	"umoja/internal/identity"
	identitymocks "umoja/internal/identity/mocks"
	"umoja/internal/policy"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/requestcontext"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	store     *memory.Store
	outbox    *eventstore.Outbox
	directory *identity.Static
	registry  *policy.Registry
	service   *service.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	registry, err := policy.NewRegistry(policy.DefaultPolicies())
	s.Require().NoError(err)
	s.registry = registry
	s.store = memory.New()
	s.outbox = eventstore.New()
	s.directory = identity.NewStatic()
	for i := range 100 {
		s.directory.AddMember("kibera", voterID(i))
	}
	s.directory.AddMember("kibera", "proposer")
	s.directory.AddElder("mzee")
	s.service = service.New(s.store, registry, s.directory, s.outbox, service.WithGracePeriod(24*time.Hour))
}

func voterID(i int) domain.UserID { return domain.UserID(fmt.Sprintf("voter-%03d", i)) }

func at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *ServiceSuite) create(action policy.ActionType) *models.Proposal {
	p, err := s.service.CreateProposal(at(t0), action, "proposer", "kibera", map[string]any{"amount": 2_000_000})
	s.Require().NoError(err)
	return p
}

func (s *ServiceSuite) vote(id domain.ProposalID, voter domain.UserID, c models.Choice, power int64) {
	_, err := s.service.CastVote(at(t0.Add(time.Hour)), id, voter, c, power)
	s.Require().NoError(err)
}

func (s *ServiceSuite) eventTypes() []events.Type {
	var out []events.Type
	for _, e := range s.outbox.All() {
		out = append(out, e.Type)
	}
	return out
}

func (s *ServiceSuite) TestCreateProposal() {
	s.Run("computes the deadline from the policy", func() {
		p := s.create(policy.ActionAllocateCommunityFunds)
		s.Equal(models.StatusOpen, p.Status)
		s.Equal(t0.Add(72*time.Hour), p.VotingDeadline)
		s.Equal(domain.BasisPoints(7500), p.Threshold)
		s.Contains(s.eventTypes(), events.ProposalCreated)
	})

	s.Run("unmapped action types fail with PolicyNotFound", func() {
		_, err := s.service.CreateProposal(at(t0), "rename-community", "proposer", "kibera", nil)
		s.True(dErrors.HasCode(err, dErrors.CodePolicyNotFound))
	})

	s.Run("non members cannot propose", func() {
		_, err := s.service.CreateProposal(at(t0), policy.ActionBanMember, "stranger", "kibera", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestScenarioThresholds() {
	s.Run("76 yes of 100 approves at 0.75", func() {
		p := s.create(policy.ActionAllocateCommunityFunds)
		s.vote(p.ID, "voter-000", models.ChoiceYes, 76)
		s.vote(p.ID, "voter-001", models.ChoiceNo, 24)

		got, err := s.service.Finalize(at(p.VotingDeadline), p.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, got.Status)
		s.Equal(int64(76), got.YesPower)
		s.Equal(int64(100), got.TotalPower)
	})

	s.Run("70 yes of 100 rejects at 0.75", func() {
		p := s.create(policy.ActionAllocateCommunityFunds)
		s.vote(p.ID, "voter-000", models.ChoiceYes, 70)
		s.vote(p.ID, "voter-001", models.ChoiceNo, 30)

		got, err := s.service.Finalize(at(p.VotingDeadline), p.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, got.Status)
	})

	s.Run("no votes at the deadline rejects", func() {
		p := s.create(policy.ActionAllocateCommunityFunds)
		got, err := s.service.Finalize(at(p.VotingDeadline), p.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, got.Status)
	})
}

func (s *ServiceSuite) TestElderGate() {
	p := s.create(policy.ActionApproveTreatmentProtocol)
	for i := range 9 {
		s.vote(p.ID, voterID(i), models.ChoiceYes, 1)
	}
	s.vote(p.ID, voterID(9), models.ChoiceNo, 1)

	got, err := s.service.Finalize(at(p.VotingDeadline), p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusElderPending, got.Status)

	subject := "pass-1"
	err = s.service.RequireApproval(at(p.VotingDeadline), service.Gate{
		ActionType: policy.ActionApproveTreatmentProtocol, ProposalID: &p.ID, Subject: subject,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConsensusRequired), "gated action must not run before the elder signs")

	s.Run("only elders may approve", func() {
		_, err := s.service.RecordElderApproval(at(p.VotingDeadline), p.ID, "voter-000")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	got, err = s.service.RecordElderApproval(at(p.VotingDeadline.Add(time.Hour)), p.ID, "mzee")
	s.Require().NoError(err)
	s.Equal(models.StatusElderApproved, got.Status)

	s.NoError(s.service.RequireApproval(at(p.VotingDeadline.Add(2*time.Hour)), service.Gate{
		ActionType: policy.ActionApproveTreatmentProtocol, ProposalID: &p.ID, Subject: subject,
	}))
}

func (s *ServiceSuite) TestFinalizeIsIdempotent() {
	p := s.create(policy.ActionAllocateCommunityFunds)
	s.vote(p.ID, "voter-000", models.ChoiceYes, 1)

	first, err := s.service.Finalize(at(p.VotingDeadline), p.ID)
	s.Require().NoError(err)
	eventsAfterFirst := len(s.outbox.All())

	second, err := s.service.Finalize(at(p.VotingDeadline.Add(time.Minute)), p.ID)
	s.Require().NoError(err)
	s.Equal(first.Status, second.Status)
	s.Equal(first.Version, second.Version)
	s.Len(s.outbox.All(), eventsAfterFirst)

	s.Run("before the deadline is a state conflict", func() {
		open := s.create(policy.ActionAllocateCommunityFunds)
		_, err := s.service.Finalize(at(t0.Add(time.Hour)), open.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestCastVote() {
	s.Run("recasting overwrites without double counting", func() {
		p := s.create(policy.ActionAllocateCommunityFunds)
		s.vote(p.ID, "voter-000", models.ChoiceYes, 5)
		s.vote(p.ID, "voter-000", models.ChoiceNo, 5)

		got, err := s.service.GetProposal(at(t0), p.ID)
		s.Require().NoError(err)
		s.Len(got.Votes, 1)
		s.Equal(int64(0), got.YesPower)
		s.Equal(int64(5), got.TotalPower)
	})

	s.Run("after the deadline the proposal is closed", func() {
		p := s.create(policy.ActionAllocateCommunityFunds)
		_, err := s.service.CastVote(at(p.VotingDeadline.Add(time.Second)), p.ID, "voter-000", models.ChoiceYes, 1)
		s.True(dErrors.HasCode(err, dErrors.CodeProposalClosed))
	})

	s.Run("non-positive power is rejected", func() {
		p := s.create(policy.ActionAllocateCommunityFunds)
		_, err := s.service.CastVote(at(t0), p.ID, "voter-000", models.ChoiceYes, 0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("power above the cap is rejected", func() {
		p := s.create(policy.ActionAllocateCommunityFunds)
		_, err := s.service.CastVote(at(t0), p.ID, "voter-000", models.ChoiceNo, service.DefaultMaxVotingPower+1)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown proposal", func() {
		_, err := s.service.CastVote(at(t0), domain.NewProposalID(), "voter-000", models.ChoiceYes, 1)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestHugeBallotsCannotFlipTheOutcome() {
	svc := service.New(s.store, s.registry, s.directory, s.outbox, service.WithMaxVotingPower(math.MaxInt64))
	p, err := svc.CreateProposal(at(t0), policy.ActionAllocateCommunityFunds, "proposer", "kibera", map[string]any{"amount": 2_000_000})
	s.Require().NoError(err)
	voting := at(t0.Add(time.Hour))

	_, err = svc.CastVote(voting, p.ID, "voter-000", models.ChoiceYes, 1)
	s.Require().NoError(err)
	_, err = svc.CastVote(voting, p.ID, "voter-001", models.ChoiceNo, 2_000_000_000_000_000)
	s.Require().NoError(err)

	_, err = svc.CastVote(voting, p.ID, "voter-002", models.ChoiceNo, math.MaxInt64)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "a ballot that would overflow the tally is refused")

	got, err := svc.Finalize(at(p.VotingDeadline), p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, got.Status)
	s.Equal(int64(2_000_000_000_000_001), got.TotalPower)
}

func (s *ServiceSuite) TestConcurrentVotesAreAllCounted() {
	p := s.create(policy.ActionAllocateCommunityFunds)
	svc := service.New(s.store, s.registry, s.directory, s.outbox, service.WithOCCAttempts(200))

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CastVote(at(t0.Add(time.Hour)), p.ID, voterID(i), models.ChoiceYes, 1)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	got, err := s.service.GetProposal(at(t0), p.ID)
	s.Require().NoError(err)
	s.Len(got.Votes, 50)
	s.Equal(int64(50), got.TotalPower)
}

func (s *ServiceSuite) TestExpiry() {
	p := s.create(policy.ActionAllocateCommunityFunds)
	pastGrace := p.VotingDeadline.Add(25 * time.Hour)

	s.Run("reads apply expiry lazily", func() {
		got, err := s.service.GetProposal(at(pastGrace), p.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, got.Status)
	})

	s.Run("a late finalize yields Expired", func() {
		got, err := s.service.Finalize(at(pastGrace), p.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, got.Status)
	})

	s.Run("sweep expires overdue proposals", func() {
		overdue := s.create(policy.ActionBanMember)
		fresh, err := s.service.CreateProposal(at(pastGrace), policy.ActionBanMember, "proposer", "kibera", nil)
		s.Require().NoError(err)

		n, err := s.service.SweepExpired(context.Background(), overdue.VotingDeadline.Add(25*time.Hour))
		s.Require().NoError(err)
		s.Equal(1, n)

		got, err := s.service.GetProposal(at(t0), overdue.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, got.Status)

		open, err := s.service.ListOpen(at(pastGrace), "kibera")
		s.Require().NoError(err)
		s.Len(open, 1)
		s.Equal(fresh.ID, open[0].ID)
	})
}

func (s *ServiceSuite) TestRequireApproval() {
	s.Run("ungated payloads pass without a proposal", func() {
		err := s.service.RequireApproval(at(t0), service.Gate{
			ActionType: policy.ActionAllocateCommunityFunds,
			Payload:    map[string]any{"amount": 500},
		})
		s.NoError(err)
	})

	s.Run("gated payloads need a proposal", func() {
		err := s.service.RequireApproval(at(t0), service.Gate{
			ActionType: policy.ActionAllocateCommunityFunds,
			Payload:    map[string]any{"amount": 5_000_000},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConsensusRequired))
	})

	s.Run("an approval is consumed once", func() {
		p := s.create(policy.ActionAllocateCommunityFunds)
		s.vote(p.ID, "voter-000", models.ChoiceYes, 1)
		_, err := s.service.Finalize(at(p.VotingDeadline), p.ID)
		s.Require().NoError(err)

		gate := service.Gate{
			ActionType: policy.ActionAllocateCommunityFunds,
			Payload:    map[string]any{"amount": 5_000_000},
			ProposalID: &p.ID,
			Subject:    "contribution-1",
		}
		ctx := at(p.VotingDeadline.Add(time.Hour))
		s.Require().NoError(s.service.RequireApproval(ctx, gate))
		s.Require().NoError(s.service.RequireApproval(ctx, gate), "a retry of the same action is accepted")

		gate.Subject = "contribution-2"
		s.True(dErrors.HasCode(s.service.RequireApproval(ctx, gate), dErrors.CodeConsensusRequired))

		got, err := s.service.GetProposal(ctx, p.ID)
		s.Require().NoError(err)
		s.True(got.Archived)
		s.Equal(models.ArchiveApplied, got.ArchiveReason)
	})

	s.Run("rejected proposals can be abandoned once", func() {
		p := s.create(policy.ActionBanMember)
		ctx := at(p.VotingDeadline)
		_, err := s.service.Finalize(ctx, p.ID)
		s.Require().NoError(err)
		s.Require().NoError(s.service.Abandon(ctx, p.ID))
		s.True(dErrors.HasCode(s.service.Abandon(ctx, p.ID), dErrors.CodeConflict))
	})

	s.Run("a restored approval can back a new action", func() {
		p := s.create(policy.ActionAllocateCommunityFunds)
		s.vote(p.ID, "voter-000", models.ChoiceYes, 1)
		_, err := s.service.Finalize(at(p.VotingDeadline), p.ID)
		s.Require().NoError(err)

		gate := service.Gate{
			ActionType: policy.ActionAllocateCommunityFunds,
			Payload:    map[string]any{"amount": 5_000_000},
			ProposalID: &p.ID,
			Subject:    "contribution-1",
		}
		ctx := at(p.VotingDeadline.Add(time.Hour))
		s.Require().NoError(s.service.RequireApproval(ctx, gate))

		other := gate
		other.Subject = "contribution-2"
		s.Require().NoError(s.service.RestoreApproval(ctx, other), "another subject holds nothing to restore")
		got, err := s.service.GetProposal(ctx, p.ID)
		s.Require().NoError(err)
		s.True(got.IsAppliedTo("contribution-1"))

		s.Require().NoError(s.service.RestoreApproval(ctx, gate))
		got, err = s.service.GetProposal(ctx, p.ID)
		s.Require().NoError(err)
		s.False(got.Archived)
		s.Require().NoError(s.service.RequireApproval(ctx, other))
	})
}

func TestDirectoryOutageIsDependencyFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := identitymocks.NewMockDirectory(ctrl)
	dir.EXPECT().IsCommunityMember(gomock.Any(), domain.UserID("proposer"), domain.CommunityID("kibera")).
		Return(false, errors.New("directory timeout"))

	registry, err := policy.NewRegistry(policy.DefaultPolicies())
	if err != nil {
		t.Fatal(err)
	}
	svc := service.New(memory.New(), registry, dir, eventstore.New())
	_, err = svc.CreateProposal(at(t0), policy.ActionBanMember, "proposer", "kibera", nil)
	if dErrors.KindOf(err) != dErrors.KindDependency {
		t.Fatalf("expected dependency failure, got %v", err)
	}
}
