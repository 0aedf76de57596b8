package handler_test

import (
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventstore "umoja/internal/events/store/memory"
	"umoja/internal/governance/handler"
	"umoja/internal/governance/service"
	"umoja/internal/governance/store/memory"
	"umoja/internal/identity"
	"umoja/internal/policy"
	"umoja/pkg/requestcontext"
	"umoja/pkg/testutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRouter(t *testing.T) chi.Router {
	t.Helper()
	registry, err := policy.NewRegistry(policy.DefaultPolicies())
	require.NoError(t, err)
	dir := identity.NewStatic()
	dir.AddMember("kibera", "amani")
	dir.AddMember("kibera", "baraka")
	dir.AddElder("mzee")

	svc := service.New(memory.New(), registry, dir, eventstore.New())
	r := chi.NewRouter()
	handler.New(svc, slog.New(slog.DiscardHandler)).Register(r)
	return r
}

func at(req *http.Request, ts time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), ts))
}

func TestProposalLifecycleOverHTTP(t *testing.T) {
	router := newRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/proposals", map[string]any{
		"action_type":  "allocate-community-funds",
		"community_id": "kibera",
		"payload":      map[string]any{"amount": 2_000_000},
	})
	rr := testutil.DoRequest(router, at(testutil.WithActor(req, "amani"), t0))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[handler.ProposalResponse](t, rr)
	assert.Equal(t, "Open", created.Status)
	assert.InDelta(t, 0.75, created.Threshold, 1e-9)

	for voter, choice := range map[string]string{"amani": "yes", "baraka": "No"} {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/proposals/"+created.ID+"/votes", map[string]any{"choice": choice})
		rr := testutil.DoRequest(router, at(testutil.WithActor(req, voter), t0.Add(time.Hour)))
		testutil.AssertStatusOK(t, rr)
	}

	early := testutil.NewRequest(t, http.MethodPost, "/proposals/"+created.ID+"/finalize")
	rr = testutil.DoRequest(router, at(testutil.WithActor(early, "amani"), t0.Add(time.Hour)))
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "state_conflict")

	final := testutil.NewRequest(t, http.MethodPost, "/proposals/"+created.ID+"/finalize")
	rr = testutil.DoRequest(router, at(testutil.WithActor(final, "amani"), created.VotingDeadline))
	testutil.AssertStatusOK(t, rr)
	finalized := testutil.UnmarshalResponse[handler.ProposalResponse](t, rr)
	assert.Equal(t, "Rejected", finalized.Status)
	assert.Len(t, finalized.Votes, 2)

	late := testutil.NewJSONRequest(t, http.MethodPost, "/proposals/"+created.ID+"/votes", map[string]any{"choice": "yes"})
	rr = testutil.DoRequest(router, at(testutil.WithActor(late, "amani"), created.VotingDeadline))
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "proposal_closed")
	testutil.AssertConflictState(t, rr, "Rejected")
}

func TestCreateProposalValidation(t *testing.T) {
	router := newRouter(t)

	t.Run("requires an actor", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/proposals", map[string]any{"action_type": "ban-member", "community_id": "kibera"})
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("unknown action types are PolicyNotFound", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/proposals", map[string]any{"action_type": "rename-community", "community_id": "kibera"})
		rr := testutil.DoRequest(router, testutil.WithActor(req, "amani"))
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "policy_not_found")
	})

	t.Run("malformed proposal ids are rejected", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/proposals/not-a-uuid"))
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("bad choice", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/proposals", map[string]any{"action_type": "ban-member", "community_id": "kibera"})
		rr := testutil.DoRequest(router, at(testutil.WithActor(req, "amani"), t0))
		created := testutil.UnmarshalResponse[handler.ProposalResponse](t, rr)

		vote := testutil.NewJSONRequest(t, http.MethodPost, "/proposals/"+created.ID+"/votes", map[string]any{"choice": "maybe"})
		rr = testutil.DoRequest(router, at(testutil.WithActor(vote, "amani"), t0))
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "validation_error")
	})
}
