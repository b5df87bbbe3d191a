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
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "k8s.io/klog/v2"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/orchestrator"
	"github.com/caicloud/lbaas/pkg/stats"
	"github.com/caicloud/lbaas/pkg/status"
	"github.com/caicloud/lbaas/pkg/store"
)

// Server is the HTTP binding over the control plane: request parsing and
// response shaping only, every decision is delegated inward.
type Server struct {
	repo       store.Repository
	orch       *orchestrator.Orchestrator
	aggregator *status.Aggregator
	collector  *stats.Collector
	authorizer Authorizer

	router *mux.Router
}

// New wires the binding.
func New(repo store.Repository, orch *orchestrator.Orchestrator, aggregator *status.Aggregator, collector *stats.Collector, authorizer Authorizer) *Server {
	s := &Server{
		repo:       repo,
		orch:       orch,
		aggregator: aggregator,
		collector:  collector,
		authorizer: authorizer,
		router:     mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(instrument)

	r.HandleFunc("/loadbalancers", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/loadbalancers", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/loadbalancers/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/loadbalancers/{id}", s.handleUpdate).Methods(http.MethodPut)
	r.HandleFunc("/loadbalancers/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/loadbalancers/{id}/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/loadbalancers/{id}/status", s.handleStatus).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the HTTP server until stopCh closes.
func (s *Server) ListenAndServe(addr string, stopCh <-chan struct{}) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-stopCh:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// writeJSON writes a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("Encoding response: %v", err)
	}
}

// writeError maps the typed error taxonomy onto status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch api.ReasonForError(err) {
	case api.ReasonInvalid:
		code = http.StatusBadRequest
	case api.ReasonForbidden:
		code = http.StatusForbidden
	case api.ReasonNotFound:
		code = http.StatusNotFound
	case api.ReasonConflict:
		code = http.StatusConflict
	case api.ReasonProviderUnavailable:
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		log.Errorf("Request failed: %v", err)
	}
	writeJSON(w, code, map[string]string{"faultstring": err.Error()})
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"faultstring": "authentication required"})
}
