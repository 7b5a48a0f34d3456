package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
)

// newRouter builds the ops server: probes, metrics and read-only
// inspection of memberships, roles and effective permissions
func newRouter(svc *services, db *sql.DB, rdb *redis.Client, registry *prometheus.Registry,
	metrics *observability.Metrics, logger *observability.Logger, timeout time.Duration) http.Handler {
	router := mux.NewRouter()
	router.Use(httputil.MetricsMiddleware(metrics))

	var checker *observability.HealthChecker
	if rdb != nil {
		checker = observability.NewHealthChecker(db, rdb, version)
	} else {
		checker = observability.NewHealthChecker(db, nil, version)
	}
	observability.RegisterHealthRoutes(router, checker)
	router.Handle("/metrics", observability.Handler(registry)).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(httputil.TimeoutMiddleware(timeout))
	v1.HandleFunc("/orgs/{orgID}/members", svc.listMembers).Methods(http.MethodGet)
	v1.HandleFunc("/orgs/{orgID}/members/{userID}", svc.getMember).Methods(http.MethodGet)
	v1.HandleFunc("/orgs/{orgID}/members/{userID}/permissions", svc.getPermissions).Methods(http.MethodGet)
	v1.HandleFunc("/orgs/{orgID}/roles", svc.listRoles).Methods(http.MethodGet)
	v1.HandleFunc("/orgs/{orgID}/invitations", svc.listInvitations).Methods(http.MethodGet)
	v1.HandleFunc("/global-permissions", svc.listGlobalPermissions).Methods(http.MethodGet)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware(logger),
		httputil.RecoveryMiddleware,
	)(router)

	return otelhttp.NewHandler(handler, "tenancy-ops")
}

type permissionsResponse struct {
	OrganizationID int64    `json:"organization_id"`
	UserID         int64    `json:"user_id"`
	Permissions    []string `json:"permissions"`
}

func (s *services) getPermissions(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	perms, err := s.cache.GetEffectivePermissions(r.Context(), orgID, userID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, permissionsResponse{
		OrganizationID: orgID,
		UserID:         userID,
		Permissions:    perms,
	})
}

func (s *services) getMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	m, err := s.memberships.GetMembershipWithRoles(r.Context(), orgID, userID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, m)
}

func (s *services) listMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}
	req, ok := cursorRequest(w, r)
	if !ok {
		return
	}

	page, err := s.memberships.ListMembers(r.Context(), orgID, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, page)
}

func (s *services) listRoles(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}

	roles, err := s.roles.ListRoles(r.Context(), orgID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, roles)
}

func (s *services) listInvitations(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}
	req, ok := cursorRequest(w, r)
	if !ok {
		return
	}

	page, err := s.invitations.ListByOrganization(r.Context(), orgID, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, page)
}

func (s *services) listGlobalPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.globalRoles.ListGlobalPermissions(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, perms)
}

func cursorRequest(w http.ResponseWriter, r *http.Request) (orgs.CursorRequest, bool) {
	cursor, err := httputil.ParseQueryCursor(r, "cursor")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return orgs.CursorRequest{}, false
	}
	size, err := httputil.ParseQueryInt(r, "size", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return orgs.CursorRequest{}, false
	}
	return orgs.CursorRequest{Cursor: cursor, Size: size}, true
}
