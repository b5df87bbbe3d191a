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

package status

import (
	"context"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/store"
)

// Aggregator computes the hierarchical status view of a load balancer
// tree. It is read-only and never mutates status.
type Aggregator struct {
	repo store.Repository
}

// NewAggregator creates an Aggregator over the repository.
func NewAggregator(repo store.Repository) *Aggregator {
	return &Aggregator{repo: repo}
}

// BuildTree assembles the status tree for one load balancer. The child
// set is snapshotted in a single repository pass before assembly, so a
// concurrent mutation cannot produce a mixed-generation tree. A child
// referenced but already gone is omitted rather than failing the read.
func (a *Aggregator) BuildTree(ctx context.Context, lbID string) (*api.StatusTree, error) {
	lb, err := a.repo.Get(ctx, lbID)
	if err != nil {
		return nil, err
	}
	tree, err := a.repo.Tree(ctx, lbID)
	if err != nil {
		return nil, err
	}

	root := &api.LoadBalancerStatusNode{
		ID:                 lb.ID,
		Name:               lb.Name,
		ProvisioningStatus: lb.ProvisioningStatus,
		OperatingStatus:    lb.OperatingStatus,
		Listeners:          []*api.ListenerStatusNode{},
		Pools:              []*api.PoolStatusNode{},
	}

	pools := map[string]*api.PoolStatusNode{}
	for _, p := range tree.Pools {
		pools[p.ID] = &api.PoolStatusNode{
			ID:                 p.ID,
			Name:               p.Name,
			ProvisioningStatus: p.ProvisioningStatus,
			OperatingStatus:    p.OperatingStatus,
			Members:            []*api.MemberStatusNode{},
		}
	}
	for _, m := range tree.Members {
		pool, ok := pools[m.ParentID]
		if !ok {
			// parent pool vanished between listing generations of an
			// earlier mutation, skip the orphan
			continue
		}
		pool.Members = append(pool.Members, &api.MemberStatusNode{
			ID:                 m.ID,
			Name:               m.Name,
			Address:            m.Address,
			ProtocolPort:       m.ProtocolPort,
			ProvisioningStatus: m.ProvisioningStatus,
			OperatingStatus:    m.OperatingStatus,
		})
	}
	for _, hm := range tree.HealthMonitors {
		pool, ok := pools[hm.ParentID]
		if !ok {
			continue
		}
		pool.HealthMonitor = &api.HealthMonitorStatusNode{
			ID:                 hm.ID,
			Name:               hm.Name,
			ProvisioningStatus: hm.ProvisioningStatus,
			OperatingStatus:    hm.OperatingStatus,
		}
	}

	policies := map[string]*api.L7PolicyStatusNode{}
	for _, p := range tree.L7Policies {
		policies[p.ID] = &api.L7PolicyStatusNode{
			ID:                 p.ID,
			Name:               p.Name,
			Action:             p.Action,
			ProvisioningStatus: p.ProvisioningStatus,
			OperatingStatus:    p.OperatingStatus,
			Rules:              []*api.L7RuleStatusNode{},
		}
	}
	for _, r := range tree.L7Rules {
		policy, ok := policies[r.ParentID]
		if !ok {
			continue
		}
		policy.Rules = append(policy.Rules, &api.L7RuleStatusNode{
			ID:                 r.ID,
			ProvisioningStatus: r.ProvisioningStatus,
			OperatingStatus:    r.OperatingStatus,
		})
	}

	for _, l := range tree.Listeners {
		node := &api.ListenerStatusNode{
			ID:                 l.ID,
			Name:               l.Name,
			ProtocolPort:       l.ProtocolPort,
			ProvisioningStatus: l.ProvisioningStatus,
			OperatingStatus:    l.OperatingStatus,
			Pools:              []*api.PoolStatusNode{},
			L7Policies:         []*api.L7PolicyStatusNode{},
		}
		for _, p := range tree.Pools {
			if p.ParentID == l.ID {
				node.Pools = append(node.Pools, pools[p.ID])
			}
		}
		for _, p := range tree.L7Policies {
			if p.ParentID == l.ID {
				node.L7Policies = append(node.L7Policies, policies[p.ID])
			}
		}
		root.Listeners = append(root.Listeners, node)
	}
	// pools owned by the load balancer directly
	for _, p := range tree.Pools {
		if p.ParentID == lb.ID {
			root.Pools = append(root.Pools, pools[p.ID])
		}
	}

	return &api.StatusTree{LoadBalancer: root}, nil
}
