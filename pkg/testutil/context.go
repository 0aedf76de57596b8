package testutil

import (
	"net/http"

	"umoja/pkg/domain"
	"umoja/pkg/requestcontext"
)

// WithActor attaches the acting principal the way RequireAuth would after a
// valid bearer token. An unparsable actor leaves the request anonymous.
func WithActor(req *http.Request, actor string) *http.Request {
	user, err := domain.ParseUserID(actor)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithActorID(req.Context(), user))
}
