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

package store

import (
	"context"

	"github.com/caicloud/lbaas/pkg/api"
)

// ListFilters narrows a load balancer listing. Zero fields do not filter.
type ListFilters struct {
	ProjectID string
	Provider  string
	Name      string
}

// Repository is the persistent store of load balancer resource trees.
//
// It guarantees read-after-write consistency per resource and atomicity of
// every single call, but no cross-resource transaction spanning a whole
// tree. Callers rely on the per-resource status fields plus the
// single-in-flight-mutation guard to avoid observing a torn tree.
type Repository interface {
	// Get returns one load balancer with its child references filled in.
	Get(ctx context.Context, id string) (*api.LoadBalancer, error)
	// Put upserts one load balancer record.
	Put(ctx context.Context, lb *api.LoadBalancer) error
	// Delete removes one load balancer record.
	Delete(ctx context.Context, id string) error
	// List returns load balancers matching the filters, newest first.
	List(ctx context.Context, filters ListFilters) ([]*api.LoadBalancer, error)

	// CompareAndSetProvisioning atomically moves the load balancer's
	// provisioning status to the target when the current status is one of
	// from, and returns the updated record together with the status it
	// moved away from, so a caller that has to back out can restore it.
	// It returns a Conflict error when the current status is not in from.
	// This is the single-in-flight-mutation guard: it must stay correct
	// across process restarts, which is why it lives on the persisted
	// field and not on an external lock.
	CompareAndSetProvisioning(ctx context.Context, id string, from []api.ProvisioningStatus, to api.ProvisioningStatus) (*api.LoadBalancer, api.ProvisioningStatus, error)
	// SetStatus records a terminal or observed status pair plus an
	// optional failure detail.
	SetStatus(ctx context.Context, id string, provisioning api.ProvisioningStatus, operating api.OperatingStatus, detail string) error

	// Tree returns a one-pass snapshot of all children of a load balancer.
	Tree(ctx context.Context, lbID string) (*api.ResourceTree, error)
	// PutChild upserts one child resource.
	PutChild(ctx context.Context, child *api.Child) error
	// DeleteChild removes one child resource.
	DeleteChild(ctx context.Context, id string) error
	// SetChildStatus records a child's status pair.
	SetChildStatus(ctx context.Context, id string, provisioning api.ProvisioningStatus, operating api.OperatingStatus) error
}
