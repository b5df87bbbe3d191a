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
	"net/http"
	"strings"

	"github.com/caicloud/lbaas/pkg/api"
)

const (
	projectHeader = "X-Project-ID"
	rolesHeader   = "X-Roles"
)

// Identity is the authenticated caller as established by whatever sits
// in front of the control plane. Authentication itself is out of scope,
// this is only the result of it.
type Identity struct {
	ProjectID string
	Admin     bool
}

// Authorizer decides whether an identity may act on resources of a
// project. It returns a Forbidden error on denial.
type Authorizer interface {
	Authorize(id Identity, projectID string) error
}

// ProjectAuthorizer scopes callers to their own project unless they are
// administrators.
type ProjectAuthorizer struct{}

// Authorize implements Authorizer.
func (ProjectAuthorizer) Authorize(id Identity, projectID string) error {
	if id.Admin || id.ProjectID == projectID {
		return nil
	}
	return api.NewForbidden("project %q may not access resources of project %q", id.ProjectID, projectID)
}

// identityFrom extracts the caller identity placed in the request by the
// authenticating front end. The second return is false when the request
// carries no identity at all.
func identityFrom(r *http.Request) (Identity, bool) {
	project := r.Header.Get(projectHeader)
	if project == "" {
		return Identity{}, false
	}
	id := Identity{ProjectID: project}
	for _, role := range strings.Split(r.Header.Get(rolesHeader), ",") {
		if strings.TrimSpace(role) == "admin" {
			id.Admin = true
		}
	}
	return id, true
}
