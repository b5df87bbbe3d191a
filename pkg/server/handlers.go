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
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/store"
)

// onWire fills the derived wire-only fields.
func onWire(lb *api.LoadBalancer) *api.LoadBalancer {
	lb.TenantID = lb.ProjectID
	return lb
}

// project applies a fields= projection to one resource representation.
func project(lb *api.LoadBalancer, fields []string) interface{} {
	if len(fields) == 0 {
		return lb
	}
	raw, err := json.Marshal(lb)
	if err != nil {
		return lb
	}
	full := map[string]interface{}{}
	if err := json.Unmarshal(raw, &full); err != nil {
		return lb
	}
	out := map[string]interface{}{}
	for _, f := range fields {
		if v, ok := full[f]; ok {
			out[f] = v
		}
	}
	return out
}

func fieldsParam(r *http.Request) []string {
	var fields []string
	for _, f := range r.URL.Query()["fields"] {
		for _, part := range strings.Split(f, ",") {
			if part = strings.TrimSpace(part); part != "" {
				fields = append(fields, part)
			}
		}
	}
	return fields
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		unauthorized(w)
		return
	}

	// admins may list another project; anyone else asking for one gets
	// denied rather than silently rescoped
	scope := id.ProjectID
	q := r.URL.Query()
	requested := q.Get("project_id")
	if requested == "" {
		requested = q.Get("tenant_id")
	}
	if requested != "" {
		if err := s.authorizer.Authorize(id, requested); err != nil {
			writeError(w, err)
			return
		}
		scope = requested
	}

	lbs, err := s.repo.List(r.Context(), store.ListFilters{
		ProjectID: scope,
		Provider:  q.Get("provider"),
		Name:      q.Get("name"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	fields := fieldsParam(r)
	out := make([]interface{}, 0, len(lbs))
	for _, lb := range lbs {
		out = append(out, project(onWire(lb), fields))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loadbalancers": out})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		unauthorized(w)
		return
	}

	var body struct {
		LoadBalancer *api.LoadBalancerCreate `json:"loadbalancer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.LoadBalancer == nil {
		writeError(w, api.NewInvalid("request body must be a JSON object with a loadbalancer key"))
		return
	}
	spec := body.LoadBalancer

	// creating into a foreign project is an admin-only move
	if spec.ProjectID != "" && spec.ProjectID != id.ProjectID {
		if err := s.authorizer.Authorize(id, spec.ProjectID); err != nil {
			writeError(w, err)
			return
		}
	}

	lb, err := s.orch.Create(r.Context(), id.ProjectID, spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"loadbalancer": onWire(lb)})
}

// load fetches the resource and enforces project scope in one place.
func (s *Server) load(w http.ResponseWriter, r *http.Request) (*api.LoadBalancer, bool) {
	id, ok := identityFrom(r)
	if !ok {
		unauthorized(w)
		return nil, false
	}
	lb, err := s.repo.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if err := s.authorizer.Authorize(id, lb.ProjectID); err != nil {
		writeError(w, err)
		return nil, false
	}
	return lb, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	lb, ok := s.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loadbalancer": project(onWire(lb), fieldsParam(r))})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	lb, ok := s.load(w, r)
	if !ok {
		return
	}
	var body struct {
		LoadBalancer *api.LoadBalancerUpdate `json:"loadbalancer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.LoadBalancer == nil {
		writeError(w, api.NewInvalid("request body must be a JSON object with a loadbalancer key"))
		return
	}
	updated, err := s.orch.Update(r.Context(), lb.ID, body.LoadBalancer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"loadbalancer": onWire(updated)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	lb, ok := s.load(w, r)
	if !ok {
		return
	}
	if err := s.orch.Delete(r.Context(), lb.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	lb, ok := s.load(w, r)
	if !ok {
		return
	}
	snapshot, err := s.collector.GetStats(r.Context(), lb.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": snapshot})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	lb, ok := s.load(w, r)
	if !ok {
		return
	}
	tree, err := s.aggregator.BuildTree(r.Context(), lb.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"statuses": tree})
}
