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

package provider

import (
	"context"

	"github.com/caicloud/lbaas/pkg/api"
)

// Result is the terminal outcome of an asynchronous driver operation.
type Result struct {
	// OperatingStatus is the backend-reported health after the
	// operation. Ignored when Err is set.
	OperatingStatus api.OperatingStatus
	// Err is nil on success. A typed api error distinguishes terminal
	// backend rejections from retryable unavailability.
	Err error
}

// Handle tracks one in-flight driver operation. It resolves exactly once.
type Handle interface {
	// Done returns a channel that delivers the single Result.
	Done() <-chan Result
}

// Driver realizes load balancer configurations on a concrete backend.
// One implementation per provider name, registered at startup.
//
// Create, Update and Delete return immediately with a Handle, the real
// work may take seconds to minutes. Cancellation of dispatched work is
// not supported, a driver always resolves its handle eventually.
type Driver interface {
	// Create realizes a new load balancer.
	Create(ctx context.Context, lb *api.LoadBalancer) Handle
	// Update applies the desired state to an existing load balancer.
	Update(ctx context.Context, lb *api.LoadBalancer) Handle
	// Delete tears the load balancer down. Backends that are already
	// gone resolve successfully, teardown is idempotent.
	Delete(ctx context.Context, lb *api.LoadBalancer) Handle
	// GetStats returns live traffic counters for a realized load
	// balancer.
	GetStats(ctx context.Context, id string) (*api.StatsSnapshot, error)
}

// handle is the channel-backed Handle used by the in-tree drivers.
type handle struct {
	ch chan Result
}

// NewHandle returns an unresolved handle and the function resolving it.
// The resolve function is safe to call once.
func NewHandle() (Handle, func(Result)) {
	h := &handle{ch: make(chan Result, 1)}
	return h, func(r Result) {
		h.ch <- r
		close(h.ch)
	}
}

// ResolvedHandle returns a handle that already carries the given result.
func ResolvedHandle(r Result) Handle {
	h, resolve := NewHandle()
	resolve(r)
	return h
}

func (h *handle) Done() <-chan Result {
	return h.ch
}
