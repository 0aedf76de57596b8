package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"umoja/internal/governance/models"
	"umoja/internal/policy"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/platform/httputil"
	"umoja/pkg/requestcontext"
)

// Service is the governance surface the handler drives.
type Service interface {
	CreateProposal(ctx context.Context, actionType policy.ActionType, proposer domain.UserID, community domain.CommunityID, payload map[string]any) (*models.Proposal, error)
	CastVote(ctx context.Context, id domain.ProposalID, voter domain.UserID, choice models.Choice, power int64) (*models.Proposal, error)
	Finalize(ctx context.Context, id domain.ProposalID) (*models.Proposal, error)
	RecordElderApproval(ctx context.Context, id domain.ProposalID, elder domain.UserID) (*models.Proposal, error)
	GetProposal(ctx context.Context, id domain.ProposalID) (*models.Proposal, error)
	ListOpen(ctx context.Context, community domain.CommunityID) ([]*models.Proposal, error)
	Abandon(ctx context.Context, id domain.ProposalID) error
}

// Handler exposes proposal and voting operations over HTTP.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts governance endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/proposals", h.HandleCreate)
	r.Get("/proposals/{proposalID}", h.HandleGet)
	r.Post("/proposals/{proposalID}/votes", h.HandleCastVote)
	r.Post("/proposals/{proposalID}/finalize", h.HandleFinalize)
	r.Post("/proposals/{proposalID}/elder-approval", h.HandleElderApproval)
	r.Post("/proposals/{proposalID}/abandon", h.HandleAbandon)
	r.Get("/communities/{communityID}/proposals", h.HandleListOpen)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[CreateProposalRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	p, err := h.service.CreateProposal(ctx, req.actionType, actor, req.communityID, req.Payload)
	if err != nil {
		h.fail(w, ctx, "create proposal failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromProposal(p))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.proposalID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetProposal(ctx, id)
	if err != nil {
		h.fail(w, ctx, "get proposal failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProposal(p))
}

func (h *Handler) HandleListOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	community, err := domain.ParseCommunityID(chi.URLParam(r, "communityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	proposals, err := h.service.ListOpen(ctx, community)
	if err != nil {
		h.fail(w, ctx, "list proposals failed", err)
		return
	}
	resp := ListProposalsResponse{Proposals: make([]*ProposalResponse, 0, len(proposals))}
	for _, p := range proposals {
		resp.Proposals = append(resp.Proposals, FromProposal(p))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleCastVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	id, ok := h.proposalID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CastVoteRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	p, err := h.service.CastVote(ctx, id, actor, req.choice, req.power)
	if err != nil {
		h.fail(w, ctx, "cast vote failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProposal(p))
}

func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.actor(w, ctx); !ok {
		return
	}
	id, ok := h.proposalID(w, r)
	if !ok {
		return
	}
	p, err := h.service.Finalize(ctx, id)
	if err != nil {
		h.fail(w, ctx, "finalize proposal failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProposal(p))
}

func (h *Handler) HandleElderApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	id, ok := h.proposalID(w, r)
	if !ok {
		return
	}
	p, err := h.service.RecordElderApproval(ctx, id, actor)
	if err != nil {
		h.fail(w, ctx, "elder approval failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProposal(p))
}

func (h *Handler) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.actor(w, ctx); !ok {
		return
	}
	id, ok := h.proposalID(w, r)
	if !ok {
		return
	}
	if err := h.service.Abandon(ctx, id); err != nil {
		h.fail(w, ctx, "abandon proposal failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) actor(w http.ResponseWriter, ctx context.Context) (domain.UserID, bool) {
	actor := requestcontext.ActorID(ctx)
	if actor == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return actor, true
}

func (h *Handler) proposalID(w http.ResponseWriter, r *http.Request) (domain.ProposalID, bool) {
	id, err := domain.ParseProposalID(chi.URLParam(r, "proposalID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.ProposalID{}, false
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
