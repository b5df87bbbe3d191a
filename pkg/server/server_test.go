/*
Copyright 2017 Caicloud authors. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/config"
	"github.com/caicloud/lbaas/pkg/network/fake"
	"github.com/caicloud/lbaas/pkg/orchestrator"
	"github.com/caicloud/lbaas/pkg/provider"
	"github.com/caicloud/lbaas/pkg/provider/providers/noop"
	"github.com/caicloud/lbaas/pkg/stats"
	"github.com/caicloud/lbaas/pkg/status"
	"github.com/caicloud/lbaas/pkg/store"
	"github.com/caicloud/lbaas/pkg/store/memory"
)

const slowLatency = 300 * time.Millisecond

func TestMain(m *testing.M) {
	provider.RegisterDriver(noop.Name, noop.New(0))
	provider.RegisterDriver("slow", noop.New(slowLatency))
	os.Exit(m.Run())
}

type fixture struct {
	handler http.Handler
	repo    store.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.New()
	cfg.FlavorBindings["slow"] = "slow"

	repo := memory.New()
	net := fake.NewDriver()
	net.AddSubnet("sub1", "net1", "10.0.0.0/24")

	orch := orchestrator.New(cfg, repo, net)
	stopCh := make(chan struct{})
	t.Cleanup(func() { close(stopCh) })
	go orch.Run(2, stopCh)

	s := New(repo, orch, status.NewAggregator(repo), stats.NewCollector(repo, cfg.StatsAllowError), ProjectAuthorizer{})
	return &fixture{handler: s.Handler(), repo: repo}
}

// do sends one request with the caller identity headers set.
func (f *fixture) do(method, path, project string, admin bool, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if project != "" {
		req.Header.Set("X-Project-ID", project)
	}
	if admin {
		req.Header.Set("X-Roles", "member, admin")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// create provisions one load balancer through the API and waits until it
// settles.
func (f *fixture) create(t *testing.T, project, body string) string {
	t.Helper()
	rec := f.do(http.MethodPost, "/loadbalancers", project, false, body)
	require.Equalf(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	lb := decode(t, rec)["loadbalancer"].(map[string]interface{})
	id := lb["id"].(string)
	f.waitActive(t, id)
	return id
}

func (f *fixture) waitActive(t *testing.T, id string) {
	t.Helper()
	err := wait.Poll(10*time.Millisecond, 5*time.Second, func() (bool, error) {
		lb, err := f.repo.Get(context.Background(), id)
		if err != nil {
			return false, err
		}
		return lb.ProvisioningStatus == api.ProvisioningStatusActive, nil
	})
	require.NoError(t, err, "waiting for %s to settle", id)
}

const createBody = `{"loadbalancer": {"name": "web", "vip_subnet_id": "sub1"}}`

func TestAuthenticationRequired(t *testing.T) {
	f := newFixture(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/loadbalancers"},
		{http.MethodPost, "/loadbalancers"},
		{http.MethodGet, "/loadbalancers/x"},
		{http.MethodDelete, "/loadbalancers/x"},
	} {
		rec := f.do(tc.method, tc.path, "", false, "")
		assert.Equalf(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/loadbalancers", "p1", false, createBody)
	require.Equalf(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	lb := decode(t, rec)["loadbalancer"].(map[string]interface{})
	assert.Equal(t, "web", lb["name"])
	assert.Equal(t, string(api.ProvisioningStatusPendingCreate), lb["provisioning_status"])
	assert.Equal(t, "p1", lb["project_id"])
	assert.Equal(t, "p1", lb["tenant_id"], "tenant_id mirrors project_id on the wire")
	assert.NotEmpty(t, lb["vip_address"])
}

func TestCreateRejectsBadBody(t *testing.T) {
	f := newFixture(t)

	for name, body := range map[string]string{
		"not json":       "{",
		"no wrapper key": `{"name": "web"}`,
		"no vip mode":    `{"loadbalancer": {"name": "web"}}`,
	} {
		rec := f.do(http.MethodPost, "/loadbalancers", "p1", false, body)
		assert.Equalf(t, http.StatusBadRequest, rec.Code, "%s: %s", name, rec.Body.String())
		assert.Contains(t, decode(t, rec), "faultstring")
	}
}

func TestCreateForeignProject(t *testing.T) {
	f := newFixture(t)
	body := `{"loadbalancer": {"project_id": "p2", "vip_subnet_id": "sub1"}}`

	rec := f.do(http.MethodPost, "/loadbalancers", "p1", false, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/loadbalancers", "p1", true, body)
	require.Equalf(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	lb := decode(t, rec)["loadbalancer"].(map[string]interface{})
	assert.Equal(t, "p2", lb["project_id"])
}

func TestGetScoping(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "p1", createBody)

	rec := f.do(http.MethodGet, "/loadbalancers/"+id, "p1", false, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/loadbalancers/"+id, "p2", false, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/loadbalancers/"+id, "p2", true, "")
	assert.Equal(t, http.StatusOK, rec.Code, "admins cross project boundaries")

	rec = f.do(http.MethodGet, "/loadbalancers/nope", "p1", false, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFieldsProjection(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "p1", createBody)

	rec := f.do(http.MethodGet, "/loadbalancers/"+id+"?fields=id,name", "p1", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	lb := decode(t, rec)["loadbalancer"].(map[string]interface{})
	assert.Len(t, lb, 2)
	assert.Equal(t, id, lb["id"])
	assert.Equal(t, "web", lb["name"])
}

func TestListScoping(t *testing.T) {
	f := newFixture(t)
	f.create(t, "p1", createBody)
	f.create(t, "p2", `{"loadbalancer": {"name": "other", "vip_subnet_id": "sub1"}}`)

	rec := f.do(http.MethodGet, "/loadbalancers", "p1", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	lbs := decode(t, rec)["loadbalancers"].([]interface{})
	require.Len(t, lbs, 1, "a member only sees the own project")
	assert.Equal(t, "web", lbs[0].(map[string]interface{})["name"])

	// asking for a foreign project is refused, not silently rescoped
	rec = f.do(http.MethodGet, "/loadbalancers?project_id=p2", "p1", false, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/loadbalancers?project_id=p2", "p1", true, "")
	require.Equal(t, http.StatusOK, rec.Code)
	lbs = decode(t, rec)["loadbalancers"].([]interface{})
	require.Len(t, lbs, 1)
	assert.Equal(t, "other", lbs[0].(map[string]interface{})["name"])
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "p1", createBody)

	rec := f.do(http.MethodPut, "/loadbalancers/"+id, "p1", false, `{"loadbalancer": {"name": "web-v2"}}`)
	require.Equalf(t, http.StatusAccepted, rec.Code, "body: %s", rec.Body.String())
	lb := decode(t, rec)["loadbalancer"].(map[string]interface{})
	assert.Equal(t, "web-v2", lb["name"])
	assert.Equal(t, string(api.ProvisioningStatusPendingUpdate), lb["provisioning_status"])
	f.waitActive(t, id)
}

func TestMutationConflict(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/loadbalancers", "p1", false,
		`{"loadbalancer": {"flavor": "slow", "vip_subnet_id": "sub1"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["loadbalancer"].(map[string]interface{})["id"].(string)

	// still PENDING_CREATE on the slow backend
	rec = f.do(http.MethodPut, "/loadbalancers/"+id, "p1", false, `{"loadbalancer": {"name": "x"}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(http.MethodDelete, "/loadbalancers/"+id, "p1", false, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.waitActive(t, id)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "p1", createBody)

	rec := f.do(http.MethodDelete, "/loadbalancers/"+id, "p1", false, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	err := wait.Poll(10*time.Millisecond, 5*time.Second, func() (bool, error) {
		r := f.do(http.MethodGet, "/loadbalancers/"+id, "p1", false, "")
		return r.Code == http.StatusNotFound, nil
	})
	require.NoError(t, err, "deleted load balancer must disappear")
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "p1", createBody)

	rec := f.do(http.MethodGet, "/loadbalancers/"+id+"/stats", "p1", false, "")
	require.Equalf(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	snapshot := decode(t, rec)["stats"].(map[string]interface{})
	assert.Contains(t, snapshot, "bytes_in")
	assert.Contains(t, snapshot, "active_connections")
}

func TestStatsWhileProvisioning(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/loadbalancers", "p1", false,
		`{"loadbalancer": {"flavor": "slow", "vip_subnet_id": "sub1"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["loadbalancer"].(map[string]interface{})["id"].(string)

	rec = f.do(http.MethodGet, "/loadbalancers/"+id+"/stats", "p1", false, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.waitActive(t, id)
}

func TestStatusTree(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "p1", createBody)

	rec := f.do(http.MethodGet, "/loadbalancers/"+id+"/status", "p1", false, "")
	require.Equalf(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	statuses := decode(t, rec)["statuses"].(map[string]interface{})
	root := statuses["loadbalancer"].(map[string]interface{})
	assert.Equal(t, id, root["id"])
	assert.Equal(t, string(api.ProvisioningStatusActive), root["provisioning_status"])
	assert.NotNil(t, root["listeners"], "empty listener list serializes as []")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "", false, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
