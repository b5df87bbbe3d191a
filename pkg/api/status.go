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

// StatusTree is the hierarchical status view of one load balancer and all
// of its children, served by the status endpoint.
type StatusTree struct {
	LoadBalancer *LoadBalancerStatusNode `json:"loadbalancer"`
}

// LoadBalancerStatusNode is the root node of a status tree.
type LoadBalancerStatusNode struct {
	ID                 string               `json:"id"`
	Name               string               `json:"name"`
	ProvisioningStatus ProvisioningStatus   `json:"provisioning_status"`
	OperatingStatus    OperatingStatus      `json:"operating_status"`
	Listeners          []*ListenerStatusNode `json:"listeners"`
	Pools              []*PoolStatusNode     `json:"pools"`
}

// ListenerStatusNode carries listener status plus pools attached directly
// to the listener.
type ListenerStatusNode struct {
	ID                 string                `json:"id"`
	Name               string                `json:"name"`
	ProtocolPort       int                   `json:"protocol_port,omitempty"`
	ProvisioningStatus ProvisioningStatus    `json:"provisioning_status"`
	OperatingStatus    OperatingStatus       `json:"operating_status"`
	Pools              []*PoolStatusNode     `json:"pools"`
	L7Policies         []*L7PolicyStatusNode `json:"l7policies"`
}

// PoolStatusNode carries pool status with members and the optional monitor.
type PoolStatusNode struct {
	ID                 string                   `json:"id"`
	Name               string                   `json:"name"`
	ProvisioningStatus ProvisioningStatus       `json:"provisioning_status"`
	OperatingStatus    OperatingStatus          `json:"operating_status"`
	HealthMonitor      *HealthMonitorStatusNode `json:"healthmonitor,omitempty"`
	Members            []*MemberStatusNode      `json:"members"`
}

// MemberStatusNode is a leaf backend endpoint.
type MemberStatusNode struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Address            string             `json:"address,omitempty"`
	ProtocolPort       int                `json:"protocol_port,omitempty"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`
}

// HealthMonitorStatusNode is a leaf health monitor.
type HealthMonitorStatusNode struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`
}

// L7PolicyStatusNode carries policy status with its rules.
type L7PolicyStatusNode struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Action             string              `json:"action,omitempty"`
	ProvisioningStatus ProvisioningStatus  `json:"provisioning_status"`
	OperatingStatus    OperatingStatus     `json:"operating_status"`
	Rules              []*L7RuleStatusNode `json:"rules"`
}

// L7RuleStatusNode is a leaf match condition.
type L7RuleStatusNode struct {
	ID                 string             `json:"id"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`
}

// transitions enumerates the legal provisioning status edges.
var transitions = map[ProvisioningStatus][]ProvisioningStatus{
	ProvisioningStatusPendingCreate: {ProvisioningStatusActive, ProvisioningStatusError},
	ProvisioningStatusPendingUpdate: {ProvisioningStatusActive, ProvisioningStatusError},
	ProvisioningStatusPendingDelete: {ProvisioningStatusDeleted, ProvisioningStatusError},
	ProvisioningStatusActive:        {ProvisioningStatusPendingUpdate, ProvisioningStatusPendingDelete},
	ProvisioningStatusError:         {ProvisioningStatusPendingUpdate, ProvisioningStatusPendingDelete},
}

// CanTransition reports whether moving from one provisioning status to
// another is a legal edge of the lifecycle state machine.
func CanTransition(from, to ProvisioningStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsPending reports whether the status marks an in-flight mutation.
func IsPending(s ProvisioningStatus) bool {
	switch s {
	case ProvisioningStatusPendingCreate, ProvisioningStatusPendingUpdate, ProvisioningStatusPendingDelete:
		return true
	}
	return false
}

// PendingStatuses lists every in-flight provisioning status.
func PendingStatuses() []ProvisioningStatus {
	return []ProvisioningStatus{
		ProvisioningStatusPendingCreate,
		ProvisioningStatusPendingUpdate,
		ProvisioningStatusPendingDelete,
	}
}
