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

package stats

import (
	"context"
	"fmt"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/provider"
	"github.com/caicloud/lbaas/pkg/store"
)

// Collector serves point-in-time traffic counters. Values are always
// read live from the provider, never cached.
type Collector struct {
	repo store.Repository
	// AllowError serves last-known counters for a load balancer in
	// ERROR when the driver still answers.
	AllowError bool
}

// NewCollector creates a Collector.
func NewCollector(repo store.Repository, allowError bool) *Collector {
	return &Collector{repo: repo, AllowError: allowError}
}

// GetStats returns a fresh snapshot for one load balancer. Stats are
// undefined while the initial provisioning is still in flight, the call
// fails rather than inventing zeroed counters.
func (c *Collector) GetStats(ctx context.Context, lbID string) (*api.StatsSnapshot, error) {
	lb, err := c.repo.Get(ctx, lbID)
	if err != nil {
		return nil, err
	}
	switch lb.ProvisioningStatus {
	case api.ProvisioningStatusPendingCreate:
		// counters do not exist until the first provisioning completes,
		// so the resource is not found as far as stats are concerned
		return nil, &api.StatusError{
			Reason:  api.ReasonNotFound,
			Message: fmt.Sprintf("no stats for load balancer %q until provisioning completes", lbID),
		}
	case api.ProvisioningStatusError:
		if !c.AllowError {
			return nil, api.NewConflict("stats unavailable for load balancer %q in ERROR", lbID)
		}
	}

	driver, found := provider.GetDriver(lb.Provider)
	if !found {
		return nil, api.NewInternal("provider %q is not enabled", lb.Provider)
	}
	return driver.GetStats(ctx, lbID)
}
