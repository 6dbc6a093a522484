package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/org/notaryadmin/internal/audit"
	"github.com/org/notaryadmin/internal/guard"
	"github.com/org/notaryadmin/internal/policy"
	"github.com/org/notaryadmin/internal/storage"
	"github.com/org/notaryadmin/pkg/models"
	"github.com/rs/zerolog/log"
)

// ResourceHandler handles GET /api/{kind}/{id}. It returns the ownership
// facts of a record the principal is allowed to reach.
func (s *Server) ResourceHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principalFromCtx(ctx)

	kind, err := policy.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		guard.WriteError(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid resource id")
		return
	}

	res, err := s.policy.Resolve(ctx, kind, id)
	switch {
	case errors.Is(err, storage.ErrNotFound) && p != nil && p.Role == models.RoleAdministrator:
		guard.WriteError(w, err)
		return
	case errors.Is(err, storage.ErrNotFound):
		// Missing and out-of-scope records look the same to non-administrators.
		s.auditor.LogSecurity(ctx, p, audit.ActionUnauthorizedAccess,
			fmt.Sprintf("%s %d not found", kind, id), models.SeverityMedium)
		guard.WriteError(w, guard.ErrAccessDenied)
		return
	case err != nil:
		log.Error().Err(err).Str("kind", string(kind)).Int64("id", id).Msg("resolving resource failed")
		guard.WriteError(w, err)
		return
	}
	if !policy.CanAccessResource(p, res) {
		s.auditor.LogSecurity(ctx, p, audit.ActionUnauthorizedAccess,
			fmt.Sprintf("%s %d outside scope", kind, id), models.SeverityMedium)
		guard.WriteError(w, guard.ErrAccessDenied)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"kind":     res.Kind(),
		"resource": res,
	})
}
