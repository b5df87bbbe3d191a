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

package network

import (
	"context"
)

// Port is a network attachment carrying a concrete address.
type Port struct {
	ID        string
	NetworkID string
	SubnetID  string
	Address   string
}

// Subnet is an address range inside a network.
type Subnet struct {
	ID        string
	NetworkID string
	CIDR      string
}

// Driver resolves and allocates virtual addresses for load balancers.
// Implementations wrap whatever network service backs the deployment.
type Driver interface {
	// GetPort returns an existing port.
	GetPort(ctx context.Context, id string) (*Port, error)
	// GetSubnet returns an existing subnet.
	GetSubnet(ctx context.Context, id string) (*Subnet, error)
	// ListSubnets returns all subnets of a network.
	ListSubnets(ctx context.Context, networkID string) ([]*Subnet, error)
	// AllocatePort creates a port on the subnet. A non-empty address
	// requests that specific address and fails with a Conflict error
	// when it is already taken.
	AllocatePort(ctx context.Context, subnetID, address string) (*Port, error)
	// ReleasePort frees a previously allocated port. Releasing an
	// unknown port is not an error, teardown must be idempotent.
	ReleasePort(ctx context.Context, id string) error
}
