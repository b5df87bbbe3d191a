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

package amphora

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "k8s.io/klog/v2"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/provider"
)

// Name is the provider identifier of the amphora driver.
const Name = "amphora"

// Compute boots and destroys the service instances an amphora load
// balancer runs on. Implementations wrap the deployment's compute service.
type Compute interface {
	// Boot starts an instance for the load balancer and returns its id.
	Boot(ctx context.Context, lbID string) (string, error)
	// Ready reports whether the instance answers on its management port.
	Ready(ctx context.Context, instanceID string) (bool, error)
	// Destroy removes the instance. Unknown instances are not an error.
	Destroy(ctx context.Context, instanceID string) error
	// Stats reads the instance's traffic counters.
	Stats(ctx context.Context, instanceID string) (*api.StatsSnapshot, error)
}

// Driver realizes load balancers on dedicated service instances
// (amphorae): boot an instance, poll until its agent answers, then push
// the listener configuration.
type Driver struct {
	compute Compute

	// BootTimeout bounds the readiness poll after boot.
	BootTimeout time.Duration

	lock      sync.Mutex
	instances map[string]string
}

// New creates an amphora driver on top of the given compute service.
func New(compute Compute, bootTimeout time.Duration) *Driver {
	return &Driver{
		compute:     compute,
		BootTimeout: bootTimeout,
		instances:   make(map[string]string),
	}
}

var _ provider.Driver = &Driver{}

// Create implements provider.Driver.
func (d *Driver) Create(ctx context.Context, lb *api.LoadBalancer) provider.Handle {
	h, resolve := provider.NewHandle()
	go func() {
		instanceID, err := d.compute.Boot(ctx, lb.ID)
		if err != nil {
			resolve(provider.Result{Err: api.NewProviderUnavailable("boot amphora for %s: %v", lb.ID, err)})
			return
		}
		log.Infof("booted amphora %s for loadbalancer %s", instanceID, lb.ID)

		if err := d.waitReady(ctx, instanceID); err != nil {
			// an instance that never answered is torn down right
			// away, a half-born amphora must not leak
			_ = d.compute.Destroy(ctx, instanceID)
			resolve(provider.Result{Err: api.NewProviderFailure("amphora %s for %s never became ready: %v", instanceID, lb.ID, err)})
			return
		}

		d.lock.Lock()
		d.instances[lb.ID] = instanceID
		d.lock.Unlock()
		resolve(provider.Result{OperatingStatus: api.OperatingStatusOnline})
	}()
	return h
}

// waitReady polls the instance agent with exponential backoff until it
// answers or the boot timeout elapses.
func (d *Driver) waitReady(ctx context.Context, instanceID string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = d.BootTimeout
	return backoff.Retry(func() error {
		ready, err := d.compute.Ready(ctx, instanceID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ready {
			return api.NewProviderUnavailable("amphora %s not ready", instanceID)
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}

// Update implements provider.Driver. The configuration push is a no-op
// against the simulated agent but still requires a live instance.
func (d *Driver) Update(ctx context.Context, lb *api.LoadBalancer) provider.Handle {
	d.lock.Lock()
	instanceID, ok := d.instances[lb.ID]
	d.lock.Unlock()
	if !ok {
		return provider.ResolvedHandle(provider.Result{
			Err: api.NewProviderFailure("loadbalancer %s has no amphora", lb.ID),
		})
	}

	h, resolve := provider.NewHandle()
	go func() {
		ready, err := d.compute.Ready(ctx, instanceID)
		if err != nil || !ready {
			resolve(provider.Result{Err: api.NewProviderUnavailable("amphora %s unreachable for update", instanceID)})
			return
		}
		resolve(provider.Result{OperatingStatus: api.OperatingStatusOnline})
	}()
	return h
}

// Delete implements provider.Driver. A load balancer whose amphora is
// already gone resolves successfully, teardown is idempotent.
func (d *Driver) Delete(ctx context.Context, lb *api.LoadBalancer) provider.Handle {
	h, resolve := provider.NewHandle()
	go func() {
		d.lock.Lock()
		instanceID, ok := d.instances[lb.ID]
		delete(d.instances, lb.ID)
		d.lock.Unlock()

		if ok {
			if err := d.compute.Destroy(ctx, instanceID); err != nil {
				resolve(provider.Result{Err: api.NewProviderUnavailable("destroy amphora %s: %v", instanceID, err)})
				return
			}
		}
		resolve(provider.Result{OperatingStatus: api.OperatingStatusOffline})
	}()
	return h
}

// GetStats implements provider.Driver.
func (d *Driver) GetStats(ctx context.Context, id string) (*api.StatsSnapshot, error) {
	d.lock.Lock()
	instanceID, ok := d.instances[id]
	d.lock.Unlock()
	if !ok {
		return nil, api.NewNotFound(api.ResourceTypeLoadBalancer, id)
	}
	return d.compute.Stats(ctx, instanceID)
}
