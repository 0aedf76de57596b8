package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"umoja/internal/escrow/models"
	"umoja/internal/escrow/service"
	"umoja/internal/escrow/service/mocks"
	"umoja/internal/escrow/store/memory"
	"umoja/internal/events"
	eventstore "umoja/internal/events/store/memory"
	govservice "umoja/internal/governance/service"
	"umoja/internal/ledger"
	ledgermocks "umoja/internal/ledger/mocks"
	"umoja/internal/policy"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/platform/sentinel"
	"umoja/pkg/requestcontext"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(t time.Time) context.Context {
	return requestcontext.WithTime(requestcontext.WithActorID(context.Background(), "wanjiru"), t)
}

type EscrowSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *memory.Store
	outbox    *eventstore.Outbox
	approvals *mocks.MockApprovals
	ledger    *ledger.Simulated
	service   *service.Service
}

func TestEscrowSuite(t *testing.T) {
	suite.Run(t, new(EscrowSuite))
}

func (s *EscrowSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = memory.New()
	s.outbox = eventstore.New()
	s.approvals = mocks.NewMockApprovals(s.ctrl)
	s.ledger = ledger.NewSimulated()
	s.service = s.newService(s.ledger)
}

func (s *EscrowSuite) newService(adapter ledger.Adapter, opts ...service.Option) *service.Service {
	opts = append([]service.Option{
		service.WithOCCAttempts(200),
		service.WithRetryPolicy(3, time.Second, time.Minute),
	}, opts...)
	return service.New(s.store, s.approvals, adapter, s.outbox, opts...)
}

func (s *EscrowSuite) allowApprovals() {
	s.approvals.EXPECT().RequireApproval(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func (s *EscrowSuite) createPass(svc *service.Service, amounts map[domain.MilestoneID]domain.Amount, order ...domain.MilestoneID) *models.TreatmentPass {
	specs := make([]models.MilestoneSpec, 0, len(order))
	for _, id := range order {
		specs = append(specs, models.MilestoneSpec{ID: id, FundingAmount: amounts[id], VerificationMode: models.ModeMedicalProvider})
	}
	p, err := svc.CreatePass(at(t0), service.CreatePassRequest{
		BeneficiaryID: "wanjiru",
		CommunityID:   "kibera",
		Milestones:    specs,
	})
	s.Require().NoError(err)
	return p
}

func (s *EscrowSuite) onePass(amount domain.Amount) *models.TreatmentPass {
	return s.createPass(s.service, map[domain.MilestoneID]domain.Amount{"m1": amount}, "m1")
}

func (s *EscrowSuite) contribute(id domain.PassID, sponsor domain.UserID, amount domain.Amount, milestone domain.MilestoneID) (*models.TreatmentPass, error) {
	return s.service.Contribute(at(t0.Add(time.Hour)), service.ContributeRequest{
		PassID:      id,
		SponsorID:   sponsor,
		Amount:      amount,
		Allocations: map[domain.MilestoneID]domain.Amount{milestone: amount},
	})
}

func (s *EscrowSuite) moveTo(id domain.PassID, milestone domain.MilestoneID, statuses ...models.MilestoneStatus) *models.TreatmentPass {
	var (
		p   *models.TreatmentPass
		err error
	)
	for _, to := range statuses {
		p, err = s.service.ChangeMilestone(at(t0.Add(2*time.Hour)), service.MilestoneChange{
			PassID: id, MilestoneID: milestone, To: to, ActorID: "dr-otieno", Reason: "check",
		})
		s.Require().NoError(err)
	}
	return p
}

func (s *EscrowSuite) verify(id domain.PassID, milestone domain.MilestoneID) *models.TreatmentPass {
	return s.moveTo(id, milestone, models.MilestoneInProgress, models.MilestoneAwaitingVerification, models.MilestoneVerified)
}

func (s *EscrowSuite) count(t events.Type) int {
	n := 0
	for _, e := range s.outbox.All() {
		if e.Type == t {
			n++
		}
	}
	return n
}

func milestone(p *models.TreatmentPass, id domain.MilestoneID) *models.Milestone {
	m, _ := p.Milestone(id)
	return m
}

func (s *EscrowSuite) TestCreatePassIsGated() {
	s.Run("approval consumed for the new pass", func() {
		proposal := domain.NewProposalID()
		var gate govservice.Gate
		s.approvals.EXPECT().RequireApproval(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, g govservice.Gate) error {
				gate = g
				return nil
			})

		p, err := s.service.CreatePass(at(t0), service.CreatePassRequest{
			BeneficiaryID: "wanjiru",
			CommunityID:   "kibera",
			Milestones: []models.MilestoneSpec{
				{ID: "surgery", FundingAmount: 4070, VerificationMode: models.ModeMedicalProvider},
			},
			ProposalID: &proposal,
		})
		s.Require().NoError(err)
		s.Equal(policy.ActionApproveTreatmentProtocol, gate.ActionType)
		s.Equal(p.ID.String(), gate.Subject)
		s.Equal(&proposal, gate.ProposalID)
		s.Equal(1, s.count(events.PassCreated))
	})

	s.Run("refused approval stores nothing", func() {
		s.approvals.EXPECT().RequireApproval(gomock.Any(), gomock.Any()).
			Return(dErrors.Conflict(dErrors.CodeConsensusRequired, "", "approval required"))

		_, err := s.service.CreatePass(at(t0), service.CreatePassRequest{
			BeneficiaryID: "wanjiru",
			CommunityID:   "kibera",
			Milestones: []models.MilestoneSpec{
				{ID: "surgery", FundingAmount: 4070, VerificationMode: models.ModeMedicalProvider},
			},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConsensusRequired))
		s.Equal(1, s.count(events.PassCreated))
	})
}

// A milestone of 4070 takes two sponsors of 2035; one more unit is refused.
func (s *EscrowSuite) TestScenarioOverAllocation() {
	s.allowApprovals()
	p := s.onePass(4070)

	_, err := s.contribute(p.ID, "amani", 2035, "m1")
	s.Require().NoError(err)
	got, err := s.contribute(p.ID, "baraka", 2035, "m1")
	s.Require().NoError(err)
	s.True(milestone(got, "m1").FullyCommitted())

	_, err = s.contribute(p.ID, "chege", 1, "m1")
	s.True(dErrors.HasCode(err, dErrors.CodeOverAllocation))

	current, err := s.service.GetPass(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(domain.Amount(4070), milestone(current, "m1").Committed)
	s.NotContains(current.Sponsors, domain.UserID("chege"))
	s.Equal(2, s.count(events.ContributionRecorded))
}

func (s *EscrowSuite) TestConcurrentContributionsNeverOvercommit() {
	s.allowApprovals()
	p := s.onePass(4000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		refused  int
	)
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.contribute(p.ID, domain.UserID(rune('a'+i)), 500, "m1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			if dErrors.HasCode(err, dErrors.CodeOverAllocation) {
				refused++
			}
		}(i)
	}
	wg.Wait()

	s.Equal(8, accepted)
	s.Equal(12, refused)
	current, err := s.service.GetPass(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(domain.Amount(4000), milestone(current, "m1").Committed)
	s.Equal(domain.Amount(4000), current.Contributed())
}

func (s *EscrowSuite) TestConcurrentContributionsWithDefaultRetries() {
	s.allowApprovals()
	svc := service.New(s.store, s.approvals, s.ledger, s.outbox)
	p := s.createPass(svc, map[domain.MilestoneID]domain.Amount{"m1": 4000}, "m1")

	var (
		wg                           sync.WaitGroup
		mu                           sync.Mutex
		accepted, refused, contended int
	)
	for i := range 40 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Contribute(at(t0.Add(time.Hour)), service.ContributeRequest{
				PassID:      p.ID,
				SponsorID:   domain.UserID(fmt.Sprintf("sponsor-%02d", i)),
				Amount:      500,
				Allocations: map[domain.MilestoneID]domain.Amount{"m1": 500},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case dErrors.HasCode(err, dErrors.CodeOverAllocation):
				refused++
			case dErrors.HasCode(err, dErrors.CodeConcurrency):
				contended++
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(40, accepted+refused+contended)
	s.LessOrEqual(accepted, 8)
	current, err := svc.GetPass(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(domain.Amount(500*accepted), milestone(current, "m1").Committed)
	s.Equal(milestone(current, "m1").Committed, current.Contributed())
	s.LessOrEqual(current.Contributed(), current.FundingTarget)
	s.Equal(accepted, s.count(events.ContributionRecorded))
}

func (s *EscrowSuite) TestCommunityFundContributionsAreGated() {
	s.approvals.EXPECT().RequireApproval(gomock.Any(), gomock.Any()).Return(nil)
	p := s.onePass(5_000_000)

	s.Run("personal funds skip the gate", func() {
		_, err := s.contribute(p.ID, "amani", 100, "m1")
		s.NoError(err)
	})

	s.Run("community funds need an approval", func() {
		var gate govservice.Gate
		s.approvals.EXPECT().RequireApproval(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, g govservice.Gate) error {
				gate = g
				return dErrors.Conflict(dErrors.CodeConsensusRequired, "", "approval required")
			})

		_, err := s.service.Contribute(at(t0), service.ContributeRequest{
			PassID:      p.ID,
			SponsorID:   "treasury",
			Amount:      2_000_000,
			Allocations: map[domain.MilestoneID]domain.Amount{"m1": 2_000_000},
			Source:      service.SourceCommunityFund,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConsensusRequired))
		s.Equal(policy.ActionAllocateCommunityFunds, gate.ActionType)
		s.Equal(int64(2_000_000), gate.Payload["amount"])

		current, err := s.service.GetPass(context.Background(), p.ID)
		s.Require().NoError(err)
		s.Equal(domain.Amount(100), current.Contributed())
	})

	s.Run("over-allocation is refused before the gate", func() {
		_, err := s.service.Contribute(at(t0), service.ContributeRequest{
			PassID:      p.ID,
			SponsorID:   "treasury",
			Amount:      6_000_000,
			Allocations: map[domain.MilestoneID]domain.Amount{"m1": 6_000_000},
			Source:      service.SourceCommunityFund,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeOverAllocation))
	})
}

func (s *EscrowSuite) TestUnknownPassIsInvalid() {
	_, err := s.contribute(domain.NewPassID(), "amani", 1, "m1")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidPass))
}

func (s *EscrowSuite) TestReleaseWhenVerifiedMilestoneIsFunded() {
	s.allowApprovals()
	p := s.createPass(s.service, map[domain.MilestoneID]domain.Amount{"m1": 4070, "m2": 1000}, "m1", "m2")

	s.Run("verified but unfunded waits for funding", func() {
		got := s.verify(p.ID, "m1")
		s.Nil(milestone(got, "m1").Release)

		_, err := s.service.ReleaseMilestone(at(t0), p.ID, "m1")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("the completing contribution releases it", func() {
		_, err := s.contribute(p.ID, "amani", 2035, "m1")
		s.Require().NoError(err)
		got, err := s.contribute(p.ID, "baraka", 2035, "m1")
		s.Require().NoError(err)

		m := milestone(got, "m1")
		s.Equal(m.FundingAmount, m.ReleasedAmount)
		s.Equal(models.IntentConfirmed, m.Release.Status)
		s.Equal(1, s.count(events.MilestoneReleased))
		s.Equal(models.PassActive, got.Status)
	})

	s.Run("releasing again is a no-op", func() {
		got, err := s.service.ReleaseMilestone(at(t0), p.ID, "m1")
		s.Require().NoError(err)
		s.Equal(domain.Amount(4070), milestone(got, "m1").ReleasedAmount)
		s.Equal(1, s.ledger.Submitted())
	})

	s.Run("milestones release out of order and complete the pass", func() {
		_, err := s.contribute(p.ID, "amani", 1000, "m2")
		s.Require().NoError(err)
		got := s.verify(p.ID, "m2")
		s.Equal(models.PassCompleted, got.Status)
		s.Equal(2, s.count(events.MilestoneReleased))
	})
}

// Duplicate verification confirmations release exactly once.
func (s *EscrowSuite) TestDuplicateVerificationReleasesOnce() {
	s.allowApprovals()
	p := s.onePass(100)
	_, err := s.contribute(p.ID, "amani", 100, "m1")
	s.Require().NoError(err)
	s.moveTo(p.ID, "m1", models.MilestoneInProgress, models.MilestoneAwaitingVerification)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.service.ChangeMilestone(at(t0), service.MilestoneChange{
				PassID: p.ID, MilestoneID: "m1", To: models.MilestoneVerified, ActorID: "dr-otieno",
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		s.NoError(err)
	}

	s.Equal(1, s.ledger.Submitted())
	s.Equal(1, s.count(events.MilestoneReleased))
	got, err := s.service.GetPass(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(models.MilestoneVerified, milestone(got, "m1").Status)
}

func (s *EscrowSuite) TestFailedThenVerifiedReleasesOnce() {
	s.allowApprovals()
	p := s.onePass(100)
	_, err := s.contribute(p.ID, "amani", 100, "m1")
	s.Require().NoError(err)

	got := s.moveTo(p.ID, "m1",
		models.MilestoneInProgress,
		models.MilestoneAwaitingVerification,
		models.MilestoneFailed,
		models.MilestoneAwaitingVerification,
		models.MilestoneVerified,
	)
	s.Equal(domain.Amount(100), milestone(got, "m1").ReleasedAmount)
	s.Equal(1, s.ledger.Submitted())
	s.Equal(1, s.count(events.MilestoneReleased))

	_, err = s.service.ChangeMilestone(at(t0), service.MilestoneChange{
		PassID: p.ID, MilestoneID: "m1", To: models.MilestoneFailed, ActorID: "dr-otieno",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidPass), "a completed pass accepts no more transitions")
}

func (s *EscrowSuite) TestAsynchronousReceipts() {
	s.allowApprovals()
	s.ledger.Async = true
	p := s.onePass(100)
	_, err := s.contribute(p.ID, "amani", 100, "m1")
	s.Require().NoError(err)
	got := s.verify(p.ID, "m1")

	m := milestone(got, "m1")
	s.Require().NotNil(m.Release)
	s.Equal(models.IntentPending, m.Release.Status)
	s.Equal(1, m.Release.Attempts)
	s.Zero(m.ReleasedAmount)

	receipt, ok := s.ledger.Confirm(m.Release.IdempotencyKey)
	s.Require().True(ok)

	s.Run("confirmation releases the funds", func() {
		got, err := s.service.HandleReceipt(at(t0.Add(3*time.Hour)), receipt)
		s.Require().NoError(err)
		s.Equal(domain.Amount(100), milestone(got, "m1").ReleasedAmount)
	})

	s.Run("duplicate receipts are no-ops", func() {
		_, err := s.service.HandleReceipt(at(t0.Add(4*time.Hour)), receipt)
		s.Require().NoError(err)
		s.Equal(1, s.count(events.MilestoneReleased))
	})

	s.Run("mismatched idempotency key is refused", func() {
		bad := receipt
		bad.IdempotencyKey = "release:other"
		_, err := s.service.HandleReceipt(at(t0), bad)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("receipts without an idempotency key are refused", func() {
		bad := receipt
		bad.IdempotencyKey = ""
		_, err := s.service.HandleReceipt(at(t0), bad)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *EscrowSuite) TestLedgerFailuresAreRetried() {
	s.allowApprovals()
	adapter := ledgermocks.NewMockAdapter(s.ctrl)
	svc := s.newService(adapter)
	p := s.createPass(svc, map[domain.MilestoneID]domain.Amount{"m1": 100}, "m1")

	outage := errors.New("connection refused")
	adapter.EXPECT().SubmitRelease(gomock.Any(), gomock.Any()).Return(ledger.Receipt{}, outage).Times(3)

	ctx := at(t0)
	_, err := svc.Contribute(ctx, service.ContributeRequest{
		PassID: p.ID, SponsorID: "amani", Amount: 100,
		Allocations: map[domain.MilestoneID]domain.Amount{"m1": 100},
	})
	s.Require().NoError(err)
	for _, to := range []models.MilestoneStatus{models.MilestoneInProgress, models.MilestoneAwaitingVerification, models.MilestoneVerified} {
		_, err := svc.ChangeMilestone(ctx, service.MilestoneChange{PassID: p.ID, MilestoneID: "m1", To: to, ActorID: "dr-otieno"})
		s.Require().NoError(err, "ledger outage is not surfaced")
	}

	got, err := svc.GetPass(context.Background(), p.ID)
	s.Require().NoError(err)
	intent := milestone(got, "m1").Release
	s.Equal(1, intent.Attempts)
	s.Equal(t0.Add(time.Second), intent.NextAttemptAt)
	s.Contains(intent.LastError, "connection refused")
	s.Equal(models.MilestoneVerified, milestone(got, "m1").Status)

	s.Run("nothing is due before the backoff elapses", func() {
		n, err := svc.RetryDue(context.Background(), t0.Add(500*time.Millisecond))
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("retries back off and escalate after the budget", func() {
		n, err := svc.RetryDue(context.Background(), t0.Add(time.Second))
		s.Require().NoError(err)
		s.Equal(1, n)
		n, err = svc.RetryDue(context.Background(), t0.Add(time.Hour))
		s.Require().NoError(err)
		s.Equal(1, n)

		got, err := svc.GetPass(context.Background(), p.ID)
		s.Require().NoError(err)
		intent := milestone(got, "m1").Release
		s.Equal(3, intent.Attempts)
		s.True(intent.Escalated)
		s.Equal(models.IntentPending, intent.Status)
	})

	s.Run("the ledger recovers and the release confirms", func() {
		adapter.EXPECT().SubmitRelease(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req ledger.ReleaseRequest) (ledger.Receipt, error) {
				s.Equal(ledger.ReleaseKey(p.ID, "m1"), req.IdempotencyKey)
				s.Equal(domain.Amount(100), req.Amount)
				return ledger.Receipt{ID: "rcpt-1", Kind: ledger.KindRelease, Status: ledger.ReceiptConfirmed}, nil
			})
		n, err := svc.RetryDue(context.Background(), t0.Add(2*time.Hour))
		s.Require().NoError(err)
		s.Equal(1, n)

		got, err := svc.GetPass(context.Background(), p.ID)
		s.Require().NoError(err)
		s.Equal(domain.Amount(100), milestone(got, "m1").ReleasedAmount)
		s.Equal("rcpt-1", milestone(got, "m1").Release.ReceiptID)
	})
}

func (s *EscrowSuite) TestRetryRecoversMissingReleaseIntent() {
	s.allowApprovals()
	p := s.onePass(100)
	_, err := s.contribute(p.ID, "amani", 100, "m1")
	s.Require().NoError(err)

	// Simulate a verification written without its intent.
	stored, err := s.store.FindByID(context.Background(), p.ID)
	s.Require().NoError(err)
	for _, to := range []models.MilestoneStatus{models.MilestoneInProgress, models.MilestoneAwaitingVerification, models.MilestoneVerified} {
		stored.ApplyMilestoneStatus("m1", to, "dr-otieno", "", t0)
	}
	stored.Version++
	s.Require().NoError(s.store.Update(context.Background(), stored, stored.Version-1))

	n, err := s.service.RetryDue(context.Background(), t0.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(1, n)

	got, err := s.service.GetPass(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(domain.Amount(100), milestone(got, "m1").ReleasedAmount)
}

func (s *EscrowSuite) TestCancelRefundsUnreleasedContributions() {
	s.allowApprovals()
	p := s.createPass(s.service, map[domain.MilestoneID]domain.Amount{"m1": 100, "m2": 200}, "m1", "m2")
	_, err := s.service.Contribute(at(t0), service.ContributeRequest{
		PassID: p.ID, SponsorID: "amani", Amount: 150,
		Allocations: map[domain.MilestoneID]domain.Amount{"m1": 50, "m2": 100},
	})
	s.Require().NoError(err)
	_, err = s.contribute(p.ID, "baraka", 50, "m1")
	s.Require().NoError(err)
	s.verify(p.ID, "m1")

	got, err := s.service.CancelPass(at(t0.Add(3*time.Hour)), service.CancelRequest{PassID: p.ID, Reason: "beneficiary relocated"})
	s.Require().NoError(err)

	s.Equal(models.PassCancelled, got.Status)
	s.Require().Len(got.Cancellation.Refunds, 1)
	refund := got.Cancellation.Refunds["amani"]
	s.Equal(domain.Amount(100), refund.Amount)
	s.Equal(models.IntentConfirmed, refund.Status)
	s.Equal(domain.UserID("wanjiru"), got.Cancellation.By)
	s.Equal(1, s.count(events.PassCancelled))
	s.Equal(1, s.count(events.RefundIssued))

	s.Run("cancelled passes refuse contributions", func() {
		_, err := s.contribute(p.ID, "chege", 10, "m2")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidPass))
	})

	s.Run("cannot cancel twice", func() {
		_, err := s.service.CancelPass(at(t0), service.CancelRequest{PassID: p.ID, Reason: "again"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *EscrowSuite) TestCannotCancelFullyReleasedPass() {
	s.allowApprovals()
	p := s.onePass(100)
	_, err := s.contribute(p.ID, "amani", 100, "m1")
	s.Require().NoError(err)
	s.verify(p.ID, "m1")

	_, err = s.service.CancelPass(at(t0), service.CancelRequest{PassID: p.ID, Reason: "too late"})
	s.True(dErrors.HasCode(err, dErrors.CodeCannotCancelFullyReleased))
	de, _ := dErrors.As(err)
	s.Equal(string(models.PassCompleted), de.State)
}

func (s *EscrowSuite) TestCancelNeedsBeneficiaryOrApproval() {
	s.approvals.EXPECT().RequireApproval(gomock.Any(), gomock.Any()).Return(nil)
	p := s.onePass(100)
	_, err := s.contribute(p.ID, "amani", 60, "m1")
	s.Require().NoError(err)
	as := func(actor domain.UserID) context.Context {
		return requestcontext.WithActorID(at(t0.Add(3*time.Hour)), actor)
	}

	s.Run("anonymous callers are refused", func() {
		ctx := requestcontext.WithTime(context.Background(), t0)
		_, err := s.service.CancelPass(ctx, service.CancelRequest{PassID: p.ID, Reason: "fraud"})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("a sponsor without a proposal is refused", func() {
		s.approvals.EXPECT().RequireApproval(gomock.Any(), gomock.Any()).
			Return(dErrors.Conflict(dErrors.CodeConsensusRequired, "", "approval required"))

		_, err := s.service.CancelPass(as("amani"), service.CancelRequest{PassID: p.ID, Reason: "refund me"})
		s.True(dErrors.HasCode(err, dErrors.CodeConsensusRequired))

		current, err := s.service.GetPass(context.Background(), p.ID)
		s.Require().NoError(err)
		s.Equal(models.PassActive, current.Status)
		s.Zero(s.count(events.PassCancelled))
		s.Zero(s.count(events.RefundIssued))
	})

	s.Run("an approved proposal lets the community cancel", func() {
		proposal := domain.NewProposalID()
		var gate govservice.Gate
		s.approvals.EXPECT().RequireApproval(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, g govservice.Gate) error {
				gate = g
				return nil
			})

		got, err := s.service.CancelPass(as("mzee-kamau"), service.CancelRequest{PassID: p.ID, Reason: "fraud", ProposalID: &proposal})
		s.Require().NoError(err)
		s.Equal(models.PassCancelled, got.Status)
		s.Equal(policy.ActionCancelTreatmentPass, gate.ActionType)
		s.Equal(&proposal, gate.ProposalID)
		s.Equal(p.ID.String(), gate.Payload["pass"])
		s.Equal(domain.UserID("mzee-kamau"), got.Cancellation.By)
	})
}

func (s *EscrowSuite) TestSystemPrincipalCancelsWithoutAVote() {
	s.approvals.EXPECT().RequireApproval(gomock.Any(), gomock.Any()).Return(nil)
	p := s.onePass(100)

	ctx := requestcontext.WithActorID(at(t0.Add(time.Hour)), domain.SystemPrincipal)
	got, err := s.service.CancelPass(ctx, service.CancelRequest{PassID: p.ID, Reason: "beneficiary deceased"})
	s.Require().NoError(err)
	s.Equal(models.PassCancelled, got.Status)
}

func (s *EscrowSuite) TestFailedWritesHandBackTheApproval() {
	store := mocks.NewMockStore(s.ctrl)
	svc := service.New(store, s.approvals, s.ledger, s.outbox, service.WithOCCAttempts(2))
	pass, err := models.NewTreatmentPass(domain.NewPassID(), "wanjiru", "kibera", 0, []models.MilestoneSpec{
		{ID: "m1", FundingAmount: 5_000_000, VerificationMode: models.ModeMedicalProvider},
	}, t0)
	s.Require().NoError(err)
	proposal := domain.NewProposalID()

	s.Run("contribution that loses every retry", func() {
		store.EXPECT().FindByID(gomock.Any(), pass.ID).DoAndReturn(
			func(context.Context, domain.PassID) (*models.TreatmentPass, error) { return pass.Clone(), nil }).Times(2)
		store.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any()).Return(sentinel.ErrVersionConflict).Times(2)

		var consumed []string
		s.approvals.EXPECT().RequireApproval(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, g govservice.Gate) error {
				consumed = append(consumed, g.Subject)
				return nil
			}).Times(2)
		s.approvals.EXPECT().RestoreApproval(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, g govservice.Gate) error {
				s.Equal(&proposal, g.ProposalID)
				s.Require().Len(consumed, 2)
				s.Equal(consumed[0], consumed[1], "retries share one subject")
				s.Equal(consumed[0], g.Subject)
				return nil
			})

		_, err := svc.Contribute(at(t0), service.ContributeRequest{
			PassID:      pass.ID,
			SponsorID:   "treasury",
			Amount:      2_000_000,
			Allocations: map[domain.MilestoneID]domain.Amount{"m1": 2_000_000},
			Source:      service.SourceCommunityFund,
			ProposalID:  &proposal,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConcurrency))
		s.Zero(s.count(events.ContributionRecorded))
	})

	s.Run("pass creation the store refuses", func() {
		store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
		s.approvals.EXPECT().RequireApproval(gomock.Any(), gomock.Any()).Return(nil)
		s.approvals.EXPECT().RestoreApproval(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, g govservice.Gate) error {
				s.Equal(policy.ActionApproveTreatmentProtocol, g.ActionType)
				s.Equal(&proposal, g.ProposalID)
				return nil
			})

		_, err := svc.CreatePass(at(t0), service.CreatePassRequest{
			BeneficiaryID: "wanjiru",
			CommunityID:   "kibera",
			Milestones:    []models.MilestoneSpec{{ID: "m1", FundingAmount: 100, VerificationMode: models.ModeMedicalProvider}},
			ProposalID:    &proposal,
		})
		s.Error(err)
	})
}

func (s *EscrowSuite) TestRunRetrierStopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.service.RunRetrier(ctx, time.Millisecond) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	s.NoError(<-done)
}
