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

package api

import (
	"time"
)

// ProvisioningStatus is the control-plane lifecycle state of a resource's
// configuration work.
type ProvisioningStatus string

const (
	// ProvisioningStatusActive means the last requested configuration has
	// been realized by the provider
	ProvisioningStatusActive ProvisioningStatus = "ACTIVE"
	// ProvisioningStatusPendingCreate means the initial provisioning is in flight
	ProvisioningStatusPendingCreate ProvisioningStatus = "PENDING_CREATE"
	// ProvisioningStatusPendingUpdate means a configuration change is in flight
	ProvisioningStatusPendingUpdate ProvisioningStatus = "PENDING_UPDATE"
	// ProvisioningStatusPendingDelete means teardown is in flight
	ProvisioningStatusPendingDelete ProvisioningStatus = "PENDING_DELETE"
	// ProvisioningStatusError means the last operation failed and the
	// resource needs a new mutation to recover
	ProvisioningStatusError ProvisioningStatus = "ERROR"
	// ProvisioningStatusDeleted marks a resource whose backend teardown is
	// confirmed. It never appears on the wire, the repository entry is
	// removed right after the transition.
	ProvisioningStatusDeleted ProvisioningStatus = "DELETED"
)

// OperatingStatus is the observed runtime health of a resource,
// independent of provisioning.
type OperatingStatus string

const (
	// OperatingStatusOnline means the resource is healthy
	OperatingStatusOnline OperatingStatus = "ONLINE"
	// OperatingStatusOffline means the resource is administratively down
	OperatingStatusOffline OperatingStatus = "OFFLINE"
	// OperatingStatusDegraded means some but not all components are healthy
	OperatingStatusDegraded OperatingStatus = "DEGRADED"
	// OperatingStatusError means the resource is failing health checks
	OperatingStatusError OperatingStatus = "ERROR"
	// OperatingStatusNoMonitor means no health monitor observes the resource
	OperatingStatusNoMonitor OperatingStatus = "NO_MONITOR"
)

// ResourceType tags a node in a load balancer resource tree.
type ResourceType string

const (
	// ResourceTypeLoadBalancer is the tree root
	ResourceTypeLoadBalancer ResourceType = "loadbalancer"
	// ResourceTypeListener accepts frontend connections
	ResourceTypeListener ResourceType = "listener"
	// ResourceTypePool groups backend members
	ResourceTypePool ResourceType = "pool"
	// ResourceTypeMember is one backend endpoint
	ResourceTypeMember ResourceType = "member"
	// ResourceTypeHealthMonitor checks member health
	ResourceTypeHealthMonitor ResourceType = "healthmonitor"
	// ResourceTypeL7Policy matches requests on a listener
	ResourceTypeL7Policy ResourceType = "l7policy"
	// ResourceTypeL7Rule is one match condition of a policy
	ResourceTypeL7Rule ResourceType = "l7rule"
)

// ChildRef is a reference to a child resource in the load balancer
// representation.
type ChildRef struct {
	ID string `json:"id"`
}

// LoadBalancer is the root resource of a load balancing tree.
type LoadBalancer struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	// TenantID mirrors ProjectID on the wire for callers still using
	// the older name. Populated by the API binding, never stored.
	TenantID string `json:"tenant_id,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	AdminStateUp bool   `json:"admin_state_up"`

	// Exactly one of VipPortID, VipSubnetID, VipNetworkID resolved the
	// virtual address at creation time. All are populated afterwards.
	VipAddress   string `json:"vip_address"`
	VipNetworkID string `json:"vip_network_id"`
	VipSubnetID  string `json:"vip_subnet_id"`
	VipPortID    string `json:"vip_port_id"`

	// AdoptedPort marks a VIP port that existed before the load
	// balancer did. Adopted ports are not released on delete. Never
	// serialized to the wire.
	AdoptedPort bool `json:"-"`

	// Flavor is mutually exclusive with an explicit conflicting Provider
	Flavor   string `json:"flavor,omitempty"`
	Provider string `json:"provider"`

	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`

	// FailureDetail records why the last mutation left the resource in
	// ERROR. Empty otherwise.
	FailureDetail string `json:"failure_detail,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	Listeners []ChildRef `json:"listeners"`
	Pools     []ChildRef `json:"pools"`
}

// Child is one non-root resource in a load balancer tree. The tree is a
// strict ownership hierarchy: every child has exactly one parent and keeps
// ParentID for lookup only. Fields that do not apply to a type are zero.
type Child struct {
	ID             string       `json:"id"`
	LoadBalancerID string       `json:"loadbalancer_id"`
	ParentID       string       `json:"parent_id"`
	Type           ResourceType `json:"type"`
	Name           string       `json:"name,omitempty"`

	// listener, member
	ProtocolPort int `json:"protocol_port,omitempty"`
	// member
	Address string `json:"address,omitempty"`
	// l7policy
	Action string `json:"action,omitempty"`

	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`
}

// ResourceTree is a snapshot of all children of one load balancer,
// grouped by type. Listings are taken in a single pass so a concurrent
// mutation cannot mix generations inside one snapshot.
type ResourceTree struct {
	Listeners      []*Child
	Pools          []*Child
	Members        []*Child
	HealthMonitors []*Child
	L7Policies     []*Child
	L7Rules        []*Child
}

// All returns every child in the tree, parents before their descendants.
func (t *ResourceTree) All() []*Child {
	out := make([]*Child, 0,
		len(t.Listeners)+len(t.Pools)+len(t.Members)+
			len(t.HealthMonitors)+len(t.L7Policies)+len(t.L7Rules))
	out = append(out, t.Listeners...)
	out = append(out, t.Pools...)
	out = append(out, t.L7Policies...)
	out = append(out, t.L7Rules...)
	out = append(out, t.HealthMonitors...)
	out = append(out, t.Members...)
	return out
}

// StatsSnapshot is a point-in-time view of a load balancer's traffic
// counters. It is regenerated on every query and never persisted.
type StatsSnapshot struct {
	ActiveConnections int64 `json:"active_connections"`
	BytesIn           int64 `json:"bytes_in"`
	BytesOut          int64 `json:"bytes_out"`
	RequestErrors     int64 `json:"request_errors"`
	TotalConnections  int64 `json:"total_connections"`
}

// LoadBalancerCreate is the declarative spec accepted by a create request.
type LoadBalancerCreate struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ProjectID    string `json:"project_id,omitempty"`
	AdminStateUp *bool  `json:"admin_state_up,omitempty"`
	VipAddress   string `json:"vip_address,omitempty"`
	VipNetworkID string `json:"vip_network_id,omitempty"`
	VipSubnetID  string `json:"vip_subnet_id,omitempty"`
	VipPortID    string `json:"vip_port_id,omitempty"`
	Flavor       string `json:"flavor,omitempty"`
	Provider     string `json:"provider,omitempty"`
}

// LoadBalancerUpdate is the partial spec accepted by an update request.
// Nil fields are left unchanged.
type LoadBalancerUpdate struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	AdminStateUp *bool   `json:"admin_state_up,omitempty"`
}
