package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/config"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/database/databasetest"
	"github.com/platinummonkey/tenancy/pkg/id"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/permissions"
	"github.com/platinummonkey/tenancy/pkg/rbac"
)

func newTestServer(t *testing.T) (http.Handler, *services, *orgs.Organization) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db := databasetest.NewSQLite(t)
	ids := id.MustNode(2)
	catalog := permissions.Default()
	_, err := rbac.SeedCatalog(ctx, db, ids, catalog)
	require.NoError(t, err)
	databasetest.InsertUser(t, db, 1, "owner")
	databasetest.InsertUser(t, db, 2, "alice")

	cfg := &config.Config{Cache: config.CacheConfig{Enabled: false}}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	svc, rdb, err := buildServices(ctx, cfg, db, database.SQLite, ids, catalog, logger, metrics)
	require.NoError(t, err)
	require.Nil(t, rdb)

	org, _, err := svc.memberships.CreateOrganization(ctx, orgs.CreateOrganizationRequest{Name: "acme"}, 1)
	require.NoError(t, err)

	return newRouter(svc, db, rdb, registry, metrics, logger, 0), svc, org
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRouter_Probes(t *testing.T) {
	h, _, _ := newTestServer(t)

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	w := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tenancy_http_requests_total")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_Permissions(t *testing.T) {
	h, svc, org := newTestServer(t)

	w := get(t, h, fmt.Sprintf("/v1/orgs/%d/members/2/permissions", org.ID))
	require.Equal(t, http.StatusOK, w.Code)
	var resp permissionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Permissions)

	_, err := svc.memberships.JoinOrganization(context.Background(), org.ID, 2, false)
	require.NoError(t, err)

	w = get(t, h, fmt.Sprintf("/v1/orgs/%d/members/2/permissions", org.ID))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Permissions, permissions.ContentView)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/v1/orgs/acme/members/2/permissions").Code)
}

func TestRouter_Members(t *testing.T) {
	h, _, org := newTestServer(t)

	w := get(t, h, fmt.Sprintf("/v1/orgs/%d/members?size=10", org.ID))
	require.Equal(t, http.StatusOK, w.Code)
	var page orgs.CursorPage[*orgs.Membership]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(1), page.Items[0].UserID)
	assert.False(t, page.HasNext)

	assert.Equal(t, http.StatusOK, get(t, h, fmt.Sprintf("/v1/orgs/%d/members/1", org.ID)).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, fmt.Sprintf("/v1/orgs/%d/members/2", org.ID)).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, fmt.Sprintf("/v1/orgs/%d/members?cursor=424242", org.ID)).Code)
}

func TestRouter_Roles(t *testing.T) {
	h, _, org := newTestServer(t)

	w := get(t, h, fmt.Sprintf("/v1/orgs/%d/roles", org.ID))
	require.Equal(t, http.StatusOK, w.Code)
	var roles []*rbac.OrganizationRole
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roles))
	assert.Len(t, roles, 3)

	assert.Equal(t, http.StatusOK, get(t, h, fmt.Sprintf("/v1/orgs/%d/invitations", org.ID)).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/v1/global-permissions").Code)
}
