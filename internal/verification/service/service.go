// Package service implements the milestone verification workflow. It owns
// who may move a milestone and with what evidence; the transitions
// themselves are applied on the treatment pass by the escrow ledger, which
// creates the release intent in the same write that records Verified.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"

	"umoja/internal/escrow/models"
	escrowservice "umoja/internal/escrow/service"
	"umoja/internal/evidence"
	"umoja/internal/identity"
	"umoja/internal/platform/tracing"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/requestcontext"
)

// Escrow is the part of the escrow ledger the workflow drives.
type Escrow interface {
	GetPass(ctx context.Context, id domain.PassID) (*models.TreatmentPass, error)
	ChangeMilestone(ctx context.Context, c escrowservice.MilestoneChange) (*models.TreatmentPass, error)
}

const defaultMaxEvidenceBytes = 25 << 20

type Service struct {
	escrow    Escrow
	directory identity.Directory
	evidence  evidence.Store
	logger    *slog.Logger
	maxBytes  int64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMaxEvidenceBytes bounds uploaded evidence blobs.
func WithMaxEvidenceBytes(n int64) Option {
	return func(s *Service) {
		s.maxBytes = n
	}
}

func New(escrow Escrow, directory identity.Directory, store evidence.Store, opts ...Option) *Service {
	s := &Service{
		escrow:    escrow,
		directory: directory,
		evidence:  store,
		logger:    slog.Default(),
		maxBytes:  defaultMaxEvidenceBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartMilestone begins work on a milestone. Only the beneficiary or a
// member of the pass's community may start it.
func (s *Service) StartMilestone(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID, actor domain.UserID) (_ *models.TreatmentPass, err error) {
	ctx, end := s.span(ctx, "start_milestone")
	defer func() { end(err) }()

	pass, err := s.escrow.GetPass(ctx, passID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, pass, actor); err != nil {
		return nil, err
	}
	return s.escrow.ChangeMilestone(ctx, escrowservice.MilestoneChange{
		PassID:      passID,
		MilestoneID: milestoneID,
		To:          models.MilestoneInProgress,
		ActorID:     actor,
	})
}

// SubmitEvidence records content-hash references and moves the milestone
// from InProgress or Failed to AwaitingVerification. Every reference must
// already be held by the evidence store.
func (s *Service) SubmitEvidence(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID, refs []string, actor domain.UserID) (_ *models.TreatmentPass, err error) {
	ctx, end := s.span(ctx, "submit_evidence")
	defer func() { end(err) }()

	parsed, err := evidence.ParseRefs(refs)
	if err != nil {
		return nil, err
	}
	pass, err := s.escrow.GetPass(ctx, passID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, pass, actor); err != nil {
		return nil, err
	}
	normalized := make([]string, 0, len(parsed))
	for _, ref := range parsed {
		ok, err := s.evidence.Exists(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeValidation, "evidence %s has not been uploaded", ref)
		}
		normalized = append(normalized, ref.String())
	}

	updated, err := s.escrow.ChangeMilestone(ctx, escrowservice.MilestoneChange{
		PassID:       passID,
		MilestoneID:  milestoneID,
		To:           models.MilestoneAwaitingVerification,
		ActorID:      actor,
		EvidenceRefs: normalized,
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "evidence submitted",
		"pass_id", passID,
		"milestone_id", milestoneID,
		"refs", len(normalized),
		"request_id", requestcontext.RequestID(ctx),
	)
	return updated, nil
}

// UploadEvidence stores a blob and returns its content-hash reference.
func (s *Service) UploadEvidence(ctx context.Context, data []byte) (evidence.Ref, error) {
	if err := evidence.CheckSize(data, s.maxBytes); err != nil {
		return "", err
	}
	return s.evidence.Put(ctx, data)
}

// ConfirmVerification moves an AwaitingVerification milestone to Verified.
// The verifier must hold the credential for the milestone's verification
// mode. Confirming an already Verified milestone returns it unchanged.
func (s *Service) ConfirmVerification(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID, verifier domain.UserID, proof []string) (_ *models.TreatmentPass, err error) {
	ctx, end := s.span(ctx, "confirm_verification")
	defer func() { end(err) }()

	pass, m, err := s.milestone(ctx, passID, milestoneID)
	if err != nil {
		return nil, err
	}
	if m.VerificationMode == models.ModeAutomatedVerification {
		return nil, dErrors.New(dErrors.CodeForbidden, "milestone is verified by an automated signal")
	}
	if err := s.requireVerifier(ctx, pass, m, verifier); err != nil {
		return nil, err
	}
	if m.Status == models.MilestoneVerified {
		return pass, nil
	}
	refs, err := s.proofRefs(proof)
	if err != nil {
		return nil, err
	}
	return s.escrow.ChangeMilestone(ctx, escrowservice.MilestoneChange{
		PassID:       passID,
		MilestoneID:  milestoneID,
		To:           models.MilestoneVerified,
		ActorID:      verifier,
		EvidenceRefs: refs,
	})
}

// RejectVerification moves an AwaitingVerification milestone to Failed with
// a reason. Evidence may then be resubmitted.
func (s *Service) RejectVerification(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID, verifier domain.UserID, reason string) (_ *models.TreatmentPass, err error) {
	ctx, end := s.span(ctx, "reject_verification")
	defer func() { end(err) }()

	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "rejection reason is required")
	}
	pass, m, err := s.milestone(ctx, passID, milestoneID)
	if err != nil {
		return nil, err
	}
	if err := s.requireVerifier(ctx, pass, m, verifier); err != nil {
		return nil, err
	}
	return s.escrow.ChangeMilestone(ctx, escrowservice.MilestoneChange{
		PassID:      passID,
		MilestoneID: milestoneID,
		To:          models.MilestoneFailed,
		ActorID:     verifier,
		Reason:      reason,
	})
}

// AutomatedSignal is an oracle or time-based report on a milestone.
type AutomatedSignal struct {
	Source    string
	Satisfied bool
	Reason    string
}

// SignalAutomated applies an external signal to an AutomatedVerification
// milestone as the system principal: a satisfied signal verifies it, an
// unsatisfied one fails it. The caller must be the system principal or hold
// an AutomatedVerification credential.
func (s *Service) SignalAutomated(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID, caller domain.UserID, sig AutomatedSignal) (_ *models.TreatmentPass, err error) {
	ctx, end := s.span(ctx, "signal_automated")
	defer func() { end(err) }()

	if sig.Source == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "signal source is required")
	}
	pass, m, err := s.milestone(ctx, passID, milestoneID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOracle(ctx, pass, caller); err != nil {
		return nil, err
	}
	if m.VerificationMode != models.ModeAutomatedVerification {
		return nil, dErrors.Newf(dErrors.CodeForbidden, "milestone requires %s verification", m.VerificationMode)
	}

	change := escrowservice.MilestoneChange{
		PassID:      passID,
		MilestoneID: milestoneID,
		ActorID:     domain.SystemPrincipal,
		Reason:      sig.Source,
	}
	if sig.Satisfied {
		if m.Status == models.MilestoneVerified {
			return pass, nil
		}
		change.To = models.MilestoneVerified
	} else {
		change.To = models.MilestoneFailed
		if sig.Reason != "" {
			change.Reason = sig.Source + ": " + sig.Reason
		}
	}
	s.logger.InfoContext(ctx, "automated verification signal",
		"pass_id", passID,
		"milestone_id", milestoneID,
		"source", sig.Source,
		"satisfied", sig.Satisfied,
	)
	return s.escrow.ChangeMilestone(ctx, change)
}

func (s *Service) milestone(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID) (*models.TreatmentPass, *models.Milestone, error) {
	pass, err := s.escrow.GetPass(ctx, passID)
	if err != nil {
		return nil, nil, err
	}
	m, err := pass.Milestone(milestoneID)
	if err != nil {
		return nil, nil, err
	}
	return pass, m, nil
}

func (s *Service) requireParticipant(ctx context.Context, pass *models.TreatmentPass, actor domain.UserID) error {
	if actor == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if actor == pass.BeneficiaryID {
		return nil
	}
	ok, err := s.directory.IsCommunityMember(ctx, actor, pass.CommunityID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeDependency, "identity directory unavailable")
	}
	if !ok {
		return dErrors.New(dErrors.CodeForbidden, "only the beneficiary or community members may update this milestone")
	}
	return nil
}

// requireVerifier checks the verifier's credential for the milestone's mode.
// Beneficiaries never verify their own milestones.
func (s *Service) requireVerifier(ctx context.Context, pass *models.TreatmentPass, m *models.Milestone, verifier domain.UserID) error {
	if verifier == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if verifier == pass.BeneficiaryID {
		return dErrors.New(dErrors.CodeForbidden, "beneficiaries cannot verify their own milestones")
	}
	ok, err := s.directory.HasVerifierCredential(ctx, verifier, string(m.VerificationMode))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeDependency, "identity directory unavailable")
	}
	if !ok {
		return dErrors.Newf(dErrors.CodeForbidden, "verifier lacks a %s credential", m.VerificationMode)
	}
	return nil
}

func (s *Service) requireOracle(ctx context.Context, pass *models.TreatmentPass, caller domain.UserID) error {
	if caller == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if caller == domain.SystemPrincipal {
		return nil
	}
	if caller == pass.BeneficiaryID {
		return dErrors.New(dErrors.CodeForbidden, "beneficiaries cannot signal their own milestones")
	}
	ok, err := s.directory.HasVerifierCredential(ctx, caller, string(models.ModeAutomatedVerification))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeDependency, "identity directory unavailable")
	}
	if !ok {
		return dErrors.New(dErrors.CodeForbidden, "only the system principal or a registered oracle may signal")
	}
	return nil
}

func (s *Service) proofRefs(proof []string) ([]string, error) {
	if len(proof) == 0 {
		return nil, nil
	}
	parsed, err := evidence.ParseRefs(proof)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(parsed))
	for i, r := range parsed {
		out[i] = r.String()
	}
	return out, nil
}

func (s *Service) span(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := tracing.Start(ctx, "verification", op)
	return ctx, func(err error) { tracing.End(span, err) }
}
