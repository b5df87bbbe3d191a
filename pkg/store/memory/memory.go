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

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/copystructure"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/store"
)

// Store is an in-memory Repository. Every value handed out is a deep copy,
// callers can never mutate stored state behind the lock.
type Store struct {
	lock          sync.RWMutex
	loadBalancers map[string]*api.LoadBalancer
	children      map[string]*api.Child
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		loadBalancers: make(map[string]*api.LoadBalancer),
		children:      make(map[string]*api.Child),
	}
}

var _ store.Repository = &Store{}

func copyLB(lb *api.LoadBalancer) *api.LoadBalancer {
	c, err := copystructure.Copy(lb)
	if err != nil {
		// only reachable with unsupported field kinds, which the
		// api types do not have
		panic(err)
	}
	return c.(*api.LoadBalancer)
}

func copyChild(child *api.Child) *api.Child {
	c, err := copystructure.Copy(child)
	if err != nil {
		panic(err)
	}
	return c.(*api.Child)
}

// Get implements store.Repository.
func (s *Store) Get(ctx context.Context, id string) (*api.LoadBalancer, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	lb, ok := s.loadBalancers[id]
	if !ok {
		return nil, api.NewNotFound(api.ResourceTypeLoadBalancer, id)
	}
	out := copyLB(lb)
	s.fillRefs(out)
	return out, nil
}

// fillRefs rebuilds the listener/pool reference lists from the child map.
// Callers must hold at least the read lock.
func (s *Store) fillRefs(lb *api.LoadBalancer) {
	lb.Listeners = []api.ChildRef{}
	lb.Pools = []api.ChildRef{}
	for _, child := range s.sortedChildren() {
		if child.LoadBalancerID != lb.ID {
			continue
		}
		switch child.Type {
		case api.ResourceTypeListener:
			lb.Listeners = append(lb.Listeners, api.ChildRef{ID: child.ID})
		case api.ResourceTypePool:
			lb.Pools = append(lb.Pools, api.ChildRef{ID: child.ID})
		}
	}
}

func (s *Store) sortedChildren() []*api.Child {
	out := make([]*api.Child, 0, len(s.children))
	for _, child := range s.children {
		out = append(out, child)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Put implements store.Repository.
func (s *Store) Put(ctx context.Context, lb *api.LoadBalancer) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.loadBalancers[lb.ID] = copyLB(lb)
	return nil
}

// Delete implements store.Repository.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.loadBalancers[id]; !ok {
		return api.NewNotFound(api.ResourceTypeLoadBalancer, id)
	}
	delete(s.loadBalancers, id)
	return nil
}

// List implements store.Repository.
func (s *Store) List(ctx context.Context, filters store.ListFilters) ([]*api.LoadBalancer, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	out := []*api.LoadBalancer{}
	for _, lb := range s.loadBalancers {
		if filters.ProjectID != "" && lb.ProjectID != filters.ProjectID {
			continue
		}
		if filters.Provider != "" && lb.Provider != filters.Provider {
			continue
		}
		if filters.Name != "" && lb.Name != filters.Name {
			continue
		}
		c := copyLB(lb)
		s.fillRefs(c)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CompareAndSetProvisioning implements store.Repository.
func (s *Store) CompareAndSetProvisioning(ctx context.Context, id string, from []api.ProvisioningStatus, to api.ProvisioningStatus) (*api.LoadBalancer, api.ProvisioningStatus, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	lb, ok := s.loadBalancers[id]
	if !ok {
		return nil, "", api.NewNotFound(api.ResourceTypeLoadBalancer, id)
	}
	matched := false
	for _, f := range from {
		if lb.ProvisioningStatus == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, "", api.NewConflict("load balancer %q is %s, another operation is in progress", id, lb.ProvisioningStatus)
	}
	prior := lb.ProvisioningStatus
	lb.ProvisioningStatus = to
	out := copyLB(lb)
	s.fillRefs(out)
	return out, prior, nil
}

// SetStatus implements store.Repository.
func (s *Store) SetStatus(ctx context.Context, id string, provisioning api.ProvisioningStatus, operating api.OperatingStatus, detail string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	lb, ok := s.loadBalancers[id]
	if !ok {
		return api.NewNotFound(api.ResourceTypeLoadBalancer, id)
	}
	lb.ProvisioningStatus = provisioning
	lb.OperatingStatus = operating
	lb.FailureDetail = detail
	return nil
}

// Tree implements store.Repository.
func (s *Store) Tree(ctx context.Context, lbID string) (*api.ResourceTree, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if _, ok := s.loadBalancers[lbID]; !ok {
		return nil, api.NewNotFound(api.ResourceTypeLoadBalancer, lbID)
	}
	tree := &api.ResourceTree{}
	for _, child := range s.sortedChildren() {
		if child.LoadBalancerID != lbID {
			continue
		}
		c := copyChild(child)
		switch c.Type {
		case api.ResourceTypeListener:
			tree.Listeners = append(tree.Listeners, c)
		case api.ResourceTypePool:
			tree.Pools = append(tree.Pools, c)
		case api.ResourceTypeMember:
			tree.Members = append(tree.Members, c)
		case api.ResourceTypeHealthMonitor:
			tree.HealthMonitors = append(tree.HealthMonitors, c)
		case api.ResourceTypeL7Policy:
			tree.L7Policies = append(tree.L7Policies, c)
		case api.ResourceTypeL7Rule:
			tree.L7Rules = append(tree.L7Rules, c)
		}
	}
	return tree, nil
}

// PutChild implements store.Repository.
func (s *Store) PutChild(ctx context.Context, child *api.Child) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.children[child.ID] = copyChild(child)
	return nil
}

// DeleteChild implements store.Repository.
func (s *Store) DeleteChild(ctx context.Context, id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	child, ok := s.children[id]
	if !ok {
		return childNotFound(id)
	}
	delete(s.children, child.ID)
	return nil
}

func childNotFound(id string) error {
	return &api.StatusError{Reason: api.ReasonNotFound, Message: fmt.Sprintf("child resource %q not found", id)}
}

// SetChildStatus implements store.Repository.
func (s *Store) SetChildStatus(ctx context.Context, id string, provisioning api.ProvisioningStatus, operating api.OperatingStatus) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	child, ok := s.children[id]
	if !ok {
		return childNotFound(id)
	}
	child.ProvisioningStatus = provisioning
	child.OperatingStatus = operating
	return nil
}
