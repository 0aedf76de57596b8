package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	escrowhandler "umoja/internal/escrow/handler"
	"umoja/internal/escrow/models"
	"umoja/internal/evidence"
	"umoja/internal/verification/service"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/platform/httputil"
	"umoja/pkg/requestcontext"
)

// Service is the verification workflow surface the handler drives.
type Service interface {
	StartMilestone(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID, actor domain.UserID) (*models.TreatmentPass, error)
	SubmitEvidence(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID, refs []string, actor domain.UserID) (*models.TreatmentPass, error)
	UploadEvidence(ctx context.Context, data []byte) (evidence.Ref, error)
	ConfirmVerification(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID, verifier domain.UserID, proof []string) (*models.TreatmentPass, error)
	RejectVerification(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID, verifier domain.UserID, reason string) (*models.TreatmentPass, error)
	SignalAutomated(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID, caller domain.UserID, sig service.AutomatedSignal) (*models.TreatmentPass, error)
}

type Handler struct {
	service   Service
	logger    *slog.Logger
	maxUpload int64
}

func New(service Service, logger *slog.Logger, maxUpload int64) *Handler {
	return &Handler{service: service, logger: logger, maxUpload: maxUpload}
}

// Register mounts the JSON verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	const milestone = "/passes/{passID}/milestones/{milestoneID}"
	r.Post(milestone+"/start", h.HandleStart)
	r.Post(milestone+"/evidence", h.HandleSubmitEvidence)
	r.Post(milestone+"/verify", h.HandleConfirm)
	r.Post(milestone+"/reject", h.HandleReject)
	r.Post(milestone+"/signal", h.HandleSignal)
}

// RegisterUploads mounts the raw evidence upload endpoint. It takes
// arbitrary content types, so it lives outside the JSON-only group.
func (h *Handler) RegisterUploads(r chi.Router) {
	r.Post("/evidence", h.HandleUpload)
}

// HandleUpload accepts a raw evidence blob and answers with its reference.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.actor(w, ctx); !ok {
		return
	}
	body := r.Body
	if h.maxUpload > 0 {
		// one extra byte lets the service report the size violation
		body = http.MaxBytesReader(w, r.Body, h.maxUpload+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "evidence blob exceeds the upload limit"))
		return
	}
	ref, err := h.service.UploadEvidence(ctx, data)
	if err != nil {
		h.fail(w, ctx, "evidence upload failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, EvidenceResponse{Ref: ref.String()})
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	passID, milestoneID, ok := h.target(w, r)
	if !ok {
		return
	}
	p, err := h.service.StartMilestone(ctx, passID, milestoneID, actor)
	h.respond(w, ctx, "start milestone failed", p, err)
}

func (h *Handler) HandleSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	passID, milestoneID, ok := h.target(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SubmitEvidenceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.SubmitEvidence(ctx, passID, milestoneID, req.Refs, actor)
	h.respond(w, ctx, "submit evidence failed", p, err)
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	passID, milestoneID, ok := h.target(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ConfirmRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.ConfirmVerification(ctx, passID, milestoneID, actor, req.Proof)
	h.respond(w, ctx, "confirm verification failed", p, err)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	passID, milestoneID, ok := h.target(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RejectRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.RejectVerification(ctx, passID, milestoneID, actor, req.Reason)
	h.respond(w, ctx, "reject verification failed", p, err)
}

// HandleSignal takes automated verification reports from registered oracles.
// The transition is recorded against the system principal.
func (h *Handler) HandleSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	passID, milestoneID, ok := h.target(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SignalRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.SignalAutomated(ctx, passID, milestoneID, actor, service.AutomatedSignal{
		Source:    req.Source,
		Satisfied: req.Satisfied,
		Reason:    req.Reason,
	})
	h.respond(w, ctx, "automated signal failed", p, err)
}

func (h *Handler) respond(w http.ResponseWriter, ctx context.Context, msg string, p *models.TreatmentPass, err error) {
	if err != nil {
		h.fail(w, ctx, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, escrowhandler.FromPass(p))
}

func (h *Handler) actor(w http.ResponseWriter, ctx context.Context) (domain.UserID, bool) {
	actor := requestcontext.ActorID(ctx)
	if actor == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return actor, true
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (domain.PassID, domain.MilestoneID, bool) {
	passID, err := domain.ParsePassID(chi.URLParam(r, "passID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.PassID{}, "", false
	}
	milestoneID, err := domain.ParseMilestoneID(chi.URLParam(r, "milestoneID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.PassID{}, "", false
	}
	return passID, milestoneID, true
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
