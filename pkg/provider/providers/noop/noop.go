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

package noop

import (
	"context"
	"sync"
	"time"

	log "k8s.io/klog/v2"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/provider"
)

// Name is the provider identifier of the noop driver.
const Name = "noop"

// Driver accepts every operation and resolves after a fixed latency. It
// keeps just enough state to answer stats queries. Used as the default
// backend in development and throughout the tests.
type Driver struct {
	// Latency delays handle resolution. Zero resolves on a separate
	// goroutine without sleeping.
	Latency time.Duration
	// FailNext makes the next mutating operation resolve with the given
	// error, then clears itself.
	failNext error

	lock  sync.Mutex
	known map[string]bool
}

// New creates a noop driver.
func New(latency time.Duration) *Driver {
	return &Driver{
		Latency: latency,
		known:   make(map[string]bool),
	}
}

var _ provider.Driver = &Driver{}

// FailNext injects a failure into the next mutating operation.
func (d *Driver) FailNext(err error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.failNext = err
}

func (d *Driver) takeInjected() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	err := d.failNext
	d.failNext = nil
	return err
}

func (d *Driver) resolveAfter(op, id string, success func()) provider.Handle {
	h, resolve := provider.NewHandle()
	injected := d.takeInjected()
	go func() {
		if d.Latency > 0 {
			time.Sleep(d.Latency)
		}
		if injected != nil {
			log.Infof("noop driver failing %s for %s: %v", op, id, injected)
			resolve(provider.Result{Err: injected})
			return
		}
		success()
		log.V(4).Infof("noop driver finished %s for %s", op, id)
		resolve(provider.Result{OperatingStatus: api.OperatingStatusOnline})
	}()
	return h
}

// Create implements provider.Driver.
func (d *Driver) Create(ctx context.Context, lb *api.LoadBalancer) provider.Handle {
	return d.resolveAfter("create", lb.ID, func() {
		d.lock.Lock()
		defer d.lock.Unlock()
		d.known[lb.ID] = true
	})
}

// Update implements provider.Driver.
func (d *Driver) Update(ctx context.Context, lb *api.LoadBalancer) provider.Handle {
	return d.resolveAfter("update", lb.ID, func() {})
}

// Delete implements provider.Driver.
func (d *Driver) Delete(ctx context.Context, lb *api.LoadBalancer) provider.Handle {
	return d.resolveAfter("delete", lb.ID, func() {
		d.lock.Lock()
		defer d.lock.Unlock()
		delete(d.known, lb.ID)
	})
}

// GetStats implements provider.Driver. Counters are zero, the noop
// backend carries no traffic.
func (d *Driver) GetStats(ctx context.Context, id string) (*api.StatsSnapshot, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.known[id] {
		return nil, api.NewNotFound(api.ResourceTypeLoadBalancer, id)
	}
	return &api.StatsSnapshot{}, nil
}
