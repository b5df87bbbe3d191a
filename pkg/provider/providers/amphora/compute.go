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

	"github.com/google/uuid"

	"github.com/caicloud/lbaas/pkg/api"
)

// SimCompute is an in-process Compute used where no real compute service
// is wired in. Instances become ready after BootDelay and accumulate
// synthetic traffic counters while running.
type SimCompute struct {
	// BootDelay is how long an instance takes to answer after boot.
	BootDelay time.Duration

	lock      sync.Mutex
	instances map[string]*simInstance
}

type simInstance struct {
	bootedAt time.Time
	stats    api.StatsSnapshot
}

// NewSimCompute creates a simulated compute service.
func NewSimCompute(bootDelay time.Duration) *SimCompute {
	return &SimCompute{
		BootDelay: bootDelay,
		instances: make(map[string]*simInstance),
	}
}

var _ Compute = &SimCompute{}

// Boot implements Compute.
func (c *SimCompute) Boot(ctx context.Context, lbID string) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	id := uuid.New().String()
	c.instances[id] = &simInstance{bootedAt: time.Now()}
	return id, nil
}

// Ready implements Compute.
func (c *SimCompute) Ready(ctx context.Context, instanceID string) (bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	inst, ok := c.instances[instanceID]
	if !ok {
		return false, api.NewProviderFailure("instance %q does not exist", instanceID)
	}
	return time.Since(inst.bootedAt) >= c.BootDelay, nil
}

// Destroy implements Compute.
func (c *SimCompute) Destroy(ctx context.Context, instanceID string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.instances, instanceID)
	return nil
}

// Stats implements Compute. Counters grow with instance uptime so
// consecutive reads are monotonic, the way real counters behave.
func (c *SimCompute) Stats(ctx context.Context, instanceID string) (*api.StatsSnapshot, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	inst, ok := c.instances[instanceID]
	if !ok {
		return nil, api.NewProviderFailure("instance %q does not exist", instanceID)
	}
	uptime := int64(time.Since(inst.bootedAt) / time.Millisecond)
	inst.stats = api.StatsSnapshot{
		ActiveConnections: uptime % 13,
		BytesIn:           uptime * 512,
		BytesOut:          uptime * 2048,
		RequestErrors:     uptime / 997,
		TotalConnections:  uptime / 3,
	}
	snapshot := inst.stats
	return &snapshot, nil
}
