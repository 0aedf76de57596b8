package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"umoja/internal/rewards/models"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/platform/httputil"
	"umoja/pkg/requestcontext"
)

type Service interface {
	ListEntries(ctx context.Context, user domain.UserID) ([]models.Entry, error)
	Balance(ctx context.Context, user domain.UserID) (domain.Amount, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/users/{userID}/rewards", h.HandleList)
}

type EntryResponse struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Tier      string    `json:"tier"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type RewardsResponse struct {
	UserID  string          `json:"user_id"`
	Balance int64           `json:"balance"`
	Entries []EntryResponse `json:"entries"`
}

// HandleList returns a user's reward balance and entries. Rewards are
// visible to any authenticated actor.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if requestcontext.ActorID(ctx) == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	user, err := domain.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.service.ListEntries(ctx, user)
	if err != nil {
		h.fail(w, ctx, "list rewards failed", err)
		return
	}
	balance, err := h.service.Balance(ctx, user)
	if err != nil {
		h.fail(w, ctx, "reward balance failed", err)
		return
	}

	resp := RewardsResponse{UserID: user.String(), Balance: int64(balance), Entries: make([]EntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, EntryResponse{
			EventID:   e.EventID.String(),
			EventType: string(e.EventType),
			Tier:      string(e.Tier),
			Amount:    int64(e.Amount),
			CreatedAt: e.CreatedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
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
