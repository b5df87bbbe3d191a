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

package orchestrator

import (
	"context"
	"net/netip"

	"github.com/asaskevich/govalidator"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/network"
)

// resolveVIP validates the mutually exclusive addressing modes and fills
// the load balancer's vip fields with a concrete port.
//
// Exactly one of vip_port_id, vip_subnet_id, vip_network_id picks the
// mode: an existing port is adopted as-is, a subnet gets a fresh port
// (honoring a requested address), a network first selects a subnet
// preferring IPv4 over IPv6.
func (o *Orchestrator) resolveVIP(ctx context.Context, spec *api.LoadBalancerCreate, lb *api.LoadBalancer) error {
	modes := 0
	if spec.VipPortID != "" {
		modes++
	}
	if spec.VipSubnetID != "" {
		modes++
	}
	if spec.VipNetworkID != "" {
		modes++
	}
	if modes != 1 {
		return api.NewInvalid("exactly one of vip_port_id, vip_subnet_id, vip_network_id is required, got %d", modes)
	}
	if spec.VipAddress != "" {
		if !govalidator.IsIP(spec.VipAddress) {
			return api.NewInvalid("vip_address %q is not a valid IP address", spec.VipAddress)
		}
		if spec.VipPortID != "" {
			return api.NewInvalid("vip_address cannot be combined with vip_port_id, the port's address is kept")
		}
	}

	switch {
	case spec.VipPortID != "":
		port, err := o.net.GetPort(ctx, spec.VipPortID)
		if err != nil {
			return err
		}
		fillVIP(lb, port)
		lb.AdoptedPort = true
		return nil

	case spec.VipSubnetID != "":
		port, err := o.net.AllocatePort(ctx, spec.VipSubnetID, spec.VipAddress)
		if err != nil {
			return err
		}
		fillVIP(lb, port)
		return nil

	default:
		subnet, err := o.pickSubnet(ctx, spec.VipNetworkID)
		if err != nil {
			return err
		}
		port, err := o.net.AllocatePort(ctx, subnet.ID, spec.VipAddress)
		if err != nil {
			return err
		}
		fillVIP(lb, port)
		return nil
	}
}

// pickSubnet selects a subnet of the network, IPv4 before IPv6.
func (o *Orchestrator) pickSubnet(ctx context.Context, networkID string) (*network.Subnet, error) {
	subnets, err := o.net.ListSubnets(ctx, networkID)
	if err != nil {
		return nil, err
	}
	var fallback *network.Subnet
	for _, s := range subnets {
		prefix, err := netip.ParsePrefix(s.CIDR)
		if err != nil {
			continue
		}
		if prefix.Addr().Is4() {
			return s, nil
		}
		if fallback == nil {
			fallback = s
		}
	}
	if fallback == nil {
		return nil, api.NewInvalid("network %q has no usable subnet", networkID)
	}
	return fallback, nil
}

func fillVIP(lb *api.LoadBalancer, port *network.Port) {
	lb.VipAddress = port.Address
	lb.VipNetworkID = port.NetworkID
	lb.VipSubnetID = port.SubnetID
	lb.VipPortID = port.ID
}
