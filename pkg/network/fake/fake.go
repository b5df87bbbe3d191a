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

package fake

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/google/uuid"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/network"
)

// Driver is an in-memory network driver. It hands out addresses
// sequentially from each subnet's range, skipping the network and first
// (gateway) address.
type Driver struct {
	lock    sync.Mutex
	subnets map[string]*network.Subnet
	ports   map[string]*network.Port
	// taken tracks allocated addresses per subnet
	taken map[string]map[string]bool
}

// NewDriver creates an empty fake network.
func NewDriver() *Driver {
	return &Driver{
		subnets: make(map[string]*network.Subnet),
		ports:   make(map[string]*network.Port),
		taken:   make(map[string]map[string]bool),
	}
}

var _ network.Driver = &Driver{}

// AddSubnet seeds a subnet.
func (d *Driver) AddSubnet(id, networkID, cidr string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.subnets[id] = &network.Subnet{ID: id, NetworkID: networkID, CIDR: cidr}
	if d.taken[id] == nil {
		d.taken[id] = make(map[string]bool)
	}
}

// AddPort seeds an existing port, for adopting via vip_port_id.
func (d *Driver) AddPort(id, networkID, subnetID, address string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.ports[id] = &network.Port{ID: id, NetworkID: networkID, SubnetID: subnetID, Address: address}
	if d.taken[subnetID] == nil {
		d.taken[subnetID] = make(map[string]bool)
	}
	d.taken[subnetID][address] = true
}

// GetPort implements network.Driver.
func (d *Driver) GetPort(ctx context.Context, id string) (*network.Port, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	p, ok := d.ports[id]
	if !ok {
		return nil, &api.StatusError{Reason: api.ReasonNotFound, Message: fmt.Sprintf("port %q not found", id)}
	}
	c := *p
	return &c, nil
}

// GetSubnet implements network.Driver.
func (d *Driver) GetSubnet(ctx context.Context, id string) (*network.Subnet, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	s, ok := d.subnets[id]
	if !ok {
		return nil, &api.StatusError{Reason: api.ReasonNotFound, Message: fmt.Sprintf("subnet %q not found", id)}
	}
	c := *s
	return &c, nil
}

// ListSubnets implements network.Driver.
func (d *Driver) ListSubnets(ctx context.Context, networkID string) ([]*network.Subnet, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	out := []*network.Subnet{}
	for _, s := range d.subnets {
		if s.NetworkID == networkID {
			c := *s
			out = append(out, &c)
		}
	}
	if len(out) == 0 {
		return nil, &api.StatusError{Reason: api.ReasonNotFound, Message: fmt.Sprintf("network %q has no subnets", networkID)}
	}
	return out, nil
}

// AllocatePort implements network.Driver.
func (d *Driver) AllocatePort(ctx context.Context, subnetID, address string) (*network.Port, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	subnet, ok := d.subnets[subnetID]
	if !ok {
		return nil, &api.StatusError{Reason: api.ReasonNotFound, Message: fmt.Sprintf("subnet %q not found", subnetID)}
	}
	prefix, err := netip.ParsePrefix(subnet.CIDR)
	if err != nil {
		return nil, api.NewInternal("subnet %q has bad cidr %q: %v", subnetID, subnet.CIDR, err)
	}

	if address != "" {
		addr, err := netip.ParseAddr(address)
		if err != nil || !prefix.Contains(addr) {
			return nil, api.NewInvalid("address %q is not inside subnet %q", address, subnetID)
		}
		if d.taken[subnetID][address] {
			return nil, api.NewConflict("address %q already allocated in subnet %q", address, subnetID)
		}
	} else {
		address = d.nextFree(subnetID, prefix)
		if address == "" {
			return nil, api.NewConflict("subnet %q exhausted", subnetID)
		}
	}

	port := &network.Port{
		ID:        uuid.New().String(),
		NetworkID: subnet.NetworkID,
		SubnetID:  subnetID,
		Address:   address,
	}
	d.ports[port.ID] = port
	d.taken[subnetID][address] = true
	return port, nil
}

func (d *Driver) nextFree(subnetID string, prefix netip.Prefix) string {
	// skip the network address and the gateway
	addr := prefix.Addr().Next().Next()
	for prefix.Contains(addr) {
		if !d.taken[subnetID][addr.String()] {
			return addr.String()
		}
		addr = addr.Next()
	}
	return ""
}

// ReleasePort implements network.Driver.
func (d *Driver) ReleasePort(ctx context.Context, id string) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	p, ok := d.ports[id]
	if !ok {
		return nil
	}
	delete(d.ports, id)
	delete(d.taken[p.SubnetID], p.Address)
	return nil
}
