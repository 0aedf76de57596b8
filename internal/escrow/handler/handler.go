package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"umoja/internal/escrow/models"
	"umoja/internal/escrow/service"
	"umoja/internal/ledger"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/platform/httputil"
	"umoja/pkg/requestcontext"
)

// Service is the escrow surface the handler drives.
type Service interface {
	CreatePass(ctx context.Context, req service.CreatePassRequest) (*models.TreatmentPass, error)
	GetPass(ctx context.Context, id domain.PassID) (*models.TreatmentPass, error)
	Contribute(ctx context.Context, req service.ContributeRequest) (*models.TreatmentPass, error)
	ReleaseMilestone(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID) (*models.TreatmentPass, error)
	CancelPass(ctx context.Context, req service.CancelRequest) (*models.TreatmentPass, error)
	HandleReceipt(ctx context.Context, r ledger.Receipt) (*models.TreatmentPass, error)
}

// DefaultLedgerPrincipal is the actor the ledger adapter authenticates as
// when it delivers receipts.
const DefaultLedgerPrincipal domain.UserID = "ledger"

// Handler exposes the escrow ledger over HTTP.
type Handler struct {
	service Service
	logger  *slog.Logger
	ledger  domain.UserID
}

type Option func(*Handler)

// WithLedgerPrincipal sets the only non-system actor allowed to post
// ledger receipts.
func WithLedgerPrincipal(id domain.UserID) Option {
	return func(h *Handler) {
		if id != "" {
			h.ledger = id
		}
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, logger: logger, ledger: DefaultLedgerPrincipal}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts escrow endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/passes", h.HandleCreate)
	r.Get("/passes/{passID}", h.HandleGet)
	r.Post("/passes/{passID}/contributions", h.HandleContribute)
	r.Post("/passes/{passID}/milestones/{milestoneID}/release", h.HandleRelease)
	r.Post("/passes/{passID}/cancel", h.HandleCancel)
	r.Post("/ledger/receipts", h.HandleReceipt)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	if _, ok := h.actor(w, ctx); !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreatePassRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	p, err := h.service.CreatePass(ctx, service.CreatePassRequest{
		BeneficiaryID: req.beneficiary,
		CommunityID:   req.community,
		FundingTarget: domain.Amount(req.FundingTarget),
		Milestones:    req.specs,
		ProposalID:    req.proposalID,
	})
	if err != nil {
		h.fail(w, ctx, "create pass failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromPass(p))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.passID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetPass(ctx, id)
	if err != nil {
		h.fail(w, ctx, "get pass failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPass(p))
}

func (h *Handler) HandleContribute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	id, ok := h.passID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ContributeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	p, err := h.service.Contribute(ctx, service.ContributeRequest{
		PassID:      id,
		SponsorID:   actor,
		Amount:      domain.Amount(req.Amount),
		Allocations: req.allocations,
		Source:      req.Source,
		ProposalID:  req.proposalID,
	})
	if err != nil {
		h.fail(w, ctx, "contribution failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPass(p))
}

func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.actor(w, ctx); !ok {
		return
	}
	id, ok := h.passID(w, r)
	if !ok {
		return
	}
	milestoneID, err := domain.ParseMilestoneID(chi.URLParam(r, "milestoneID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.service.ReleaseMilestone(ctx, id, milestoneID)
	if err != nil {
		h.fail(w, ctx, "release milestone failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPass(p))
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	if _, ok := h.actor(w, ctx); !ok {
		return
	}
	id, ok := h.passID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CancelPassRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	p, err := h.service.CancelPass(ctx, service.CancelRequest{PassID: id, Reason: req.Reason, ProposalID: req.proposalID})
	if err != nil {
		h.fail(w, ctx, "cancel pass failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPass(p))
}

// HandleReceipt accepts asynchronous settlements from the ledger adapter.
func (h *Handler) HandleReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	if actor != h.ledger && actor != domain.SystemPrincipal {
		h.logger.WarnContext(ctx, "ledger receipt from unexpected actor",
			"actor", actor,
			"request_id", requestID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "only the ledger adapter may post receipts"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[ReceiptRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	receipt := req.receipt
	receipt.At = requestcontext.Now(ctx)
	p, err := h.service.HandleReceipt(ctx, receipt)
	if err != nil {
		h.fail(w, ctx, "ledger receipt failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPass(p))
}

func (h *Handler) actor(w http.ResponseWriter, ctx context.Context) (domain.UserID, bool) {
	actor := requestcontext.ActorID(ctx)
	if actor == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return actor, true
}

func (h *Handler) passID(w http.ResponseWriter, r *http.Request) (domain.PassID, bool) {
	id, err := domain.ParsePassID(chi.URLParam(r, "passID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.PassID{}, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, ctx context.Context, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.KindOf(err) == dErrors.KindInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
