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
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/config"
	"github.com/caicloud/lbaas/pkg/network/fake"
	"github.com/caicloud/lbaas/pkg/provider"
	"github.com/caicloud/lbaas/pkg/provider/providers/noop"
	"github.com/caicloud/lbaas/pkg/store"
	"github.com/caicloud/lbaas/pkg/store/memory"
)

// slowName is a second registration of the noop driver with enough
// latency to observe resources while they are still pending.
const slowName = "slow"

const slowLatency = 300 * time.Millisecond

var noopDriver *noop.Driver

func TestMain(m *testing.M) {
	noopDriver = noop.New(0)
	provider.RegisterDriver(noop.Name, noopDriver)
	provider.RegisterDriver(slowName, noop.New(slowLatency))
	os.Exit(m.Run())
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, store.Repository, *fake.Driver) {
	t.Helper()
	cfg := config.New()
	cfg.ProviderTimeout = 5 * time.Second
	cfg.FlavorBindings[slowName] = slowName

	repo := memory.New()
	net := fake.NewDriver()
	net.AddSubnet("sub1", "net1", "10.0.0.0/24")
	net.AddSubnet("sub6", "net1", "fd00::/64")
	net.AddPort("port1", "net1", "sub1", "10.0.0.99")

	o := New(cfg, repo, net)
	stopCh := make(chan struct{})
	t.Cleanup(func() { close(stopCh) })
	go o.Run(2, stopCh)
	return o, repo, net
}

func waitProvisioning(t *testing.T, repo store.Repository, id string, want api.ProvisioningStatus) *api.LoadBalancer {
	t.Helper()
	var lb *api.LoadBalancer
	err := wait.Poll(10*time.Millisecond, 5*time.Second, func() (bool, error) {
		var err error
		lb, err = repo.Get(context.Background(), id)
		if err != nil {
			return false, err
		}
		return lb.ProvisioningStatus == want, nil
	})
	require.NoErrorf(t, err, "waiting for %s to reach %s", id, want)
	return lb
}

func waitGone(t *testing.T, repo store.Repository, id string) {
	t.Helper()
	err := wait.Poll(10*time.Millisecond, 5*time.Second, func() (bool, error) {
		_, err := repo.Get(context.Background(), id)
		if api.IsNotFound(err) {
			return true, nil
		}
		return false, err
	})
	require.NoErrorf(t, err, "waiting for %s to be removed", id)
}

func TestCreateSettlesActive(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)

	lb, err := o.Create(context.Background(), "p1", &api.LoadBalancerCreate{
		Name:        "web",
		VipSubnetID: "sub1",
	})
	require.NoError(t, err)
	assert.Equal(t, api.ProvisioningStatusPendingCreate, lb.ProvisioningStatus)
	assert.Equal(t, "noop", lb.Provider)
	assert.Equal(t, "p1", lb.ProjectID)
	assert.NotEmpty(t, lb.VipPortID)

	addr, err := netip.ParseAddr(lb.VipAddress)
	require.NoError(t, err)
	assert.True(t, netip.MustParsePrefix("10.0.0.0/24").Contains(addr))

	settled := waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)
	assert.Equal(t, api.OperatingStatusOnline, settled.OperatingStatus)
	assert.Empty(t, settled.FailureDetail)
}

func TestCreateRejectionLeavesNoTrace(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()

	cases := []struct {
		name string
		spec *api.LoadBalancerCreate
	}{
		{"no vip mode", &api.LoadBalancerCreate{Name: "a"}},
		{"two vip modes", &api.LoadBalancerCreate{VipSubnetID: "sub1", VipNetworkID: "net1"}},
		{"bad vip address", &api.LoadBalancerCreate{VipSubnetID: "sub1", VipAddress: "not-an-ip"}},
		{"address with port", &api.LoadBalancerCreate{VipPortID: "port1", VipAddress: "10.0.0.5"}},
		{"conflicting provider", &api.LoadBalancerCreate{VipSubnetID: "sub1", Flavor: slowName, Provider: "noop"}},
		{"unknown flavor", &api.LoadBalancerCreate{VipSubnetID: "sub1", Flavor: "platinum"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.Create(ctx, "p1", tc.spec)
			assert.Truef(t, api.IsInvalid(err), "error = %v, want Invalid", err)
		})
	}

	lbs, err := repo.List(ctx, store.ListFilters{})
	require.NoError(t, err)
	assert.Empty(t, lbs, "rejected creates must not persist anything")
}

func TestCreateFromNetworkPrefersIPv4(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)

	lb, err := o.Create(context.Background(), "p1", &api.LoadBalancerCreate{
		VipNetworkID: "net1",
	})
	require.NoError(t, err)
	addr, err := netip.ParseAddr(lb.VipAddress)
	require.NoError(t, err)
	assert.True(t, addr.Is4(), "address %s should come from the IPv4 subnet", lb.VipAddress)
	assert.Equal(t, "sub1", lb.VipSubnetID)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)
}

func TestCreateAdoptsExistingPort(t *testing.T) {
	o, repo, net := newTestOrchestrator(t)
	ctx := context.Background()

	lb, err := o.Create(ctx, "p1", &api.LoadBalancerCreate{VipPortID: "port1"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.99", lb.VipAddress)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	require.NoError(t, o.Delete(ctx, lb.ID))
	waitGone(t, repo, lb.ID)

	// an adopted port outlives its load balancer
	port, err := net.GetPort(ctx, "port1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.99", port.Address)
}

func TestMutationSlotIsExclusive(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()

	lb, err := o.Create(ctx, "p1", &api.LoadBalancerCreate{VipSubnetID: "sub1", Flavor: slowName})
	require.NoError(t, err)

	// while PENDING_CREATE every further mutation is refused
	name := "renamed"
	_, err = o.Update(ctx, lb.ID, &api.LoadBalancerUpdate{Name: &name})
	assert.Truef(t, api.IsConflict(err), "update while pending: error = %v, want Conflict", err)
	err = o.Delete(ctx, lb.ID)
	assert.Truef(t, api.IsConflict(err), "delete while pending: error = %v, want Conflict", err)

	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	// the first accepted update claims the slot, the second loses
	_, err = o.Update(ctx, lb.ID, &api.LoadBalancerUpdate{Name: &name})
	require.NoError(t, err)
	_, err = o.Update(ctx, lb.ID, &api.LoadBalancerUpdate{Name: &name})
	assert.Truef(t, api.IsConflict(err), "second update: error = %v, want Conflict", err)
	_, err = o.AddChild(ctx, lb.ID, ChildSpec{Type: api.ResourceTypeListener, ProtocolPort: 80})
	assert.Truef(t, api.IsConflict(err), "add child while updating: error = %v, want Conflict", err)

	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)
}

func TestUpdateAppliesPartialSpec(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()

	lb, err := o.Create(ctx, "p1", &api.LoadBalancerCreate{
		Name:        "web",
		Description: "frontend",
		VipSubnetID: "sub1",
	})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	name := "web-v2"
	down := false
	updated, err := o.Update(ctx, lb.ID, &api.LoadBalancerUpdate{Name: &name, AdminStateUp: &down})
	require.NoError(t, err)
	assert.Equal(t, api.ProvisioningStatusPendingUpdate, updated.ProvisioningStatus)
	assert.Equal(t, "web-v2", updated.Name)
	assert.Equal(t, "frontend", updated.Description, "untouched fields keep their value")
	assert.False(t, updated.AdminStateUp)
	assert.NotNil(t, updated.UpdatedAt)

	settled := waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)
	// administratively down trumps whatever the backend reports
	assert.Equal(t, api.OperatingStatusOffline, settled.OperatingStatus)
}

func TestDriverFailureIsTerminal(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()

	noopDriver.FailNext(errors.New("backend exploded"))
	lb, err := o.Create(ctx, "p1", &api.LoadBalancerCreate{VipSubnetID: "sub1"})
	require.NoError(t, err, "acceptance happens before the driver is engaged")

	failed := waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusError)
	assert.Equal(t, api.OperatingStatusError, failed.OperatingStatus)
	assert.Contains(t, failed.FailureDetail, "backend exploded")

	// ERROR is not retried automatically but a new mutation may claim it
	name := "retry"
	_, err = o.Update(ctx, lb.ID, &api.LoadBalancerUpdate{Name: &name})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)
}

func TestFailedUpdateMarksPendingChildren(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()

	lb, err := o.Create(ctx, "p1", &api.LoadBalancerCreate{VipSubnetID: "sub1"})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	noopDriver.FailNext(errors.New("no capacity"))
	child, err := o.AddChild(ctx, lb.ID, ChildSpec{Type: api.ResourceTypeListener, Name: "http", ProtocolPort: 80})
	require.NoError(t, err)
	assert.Equal(t, api.ProvisioningStatusPendingCreate, child.ProvisioningStatus)

	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusError)
	tree, err := repo.Tree(ctx, lb.ID)
	require.NoError(t, err)
	require.Len(t, tree.Listeners, 1)
	assert.Equal(t, api.ProvisioningStatusError, tree.Listeners[0].ProvisioningStatus)
}

func TestChildrenSettleWithRoot(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()

	lb, err := o.Create(ctx, "p1", &api.LoadBalancerCreate{VipSubnetID: "sub1"})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	listener, err := o.AddChild(ctx, lb.ID, ChildSpec{Type: api.ResourceTypeListener, Name: "http", ProtocolPort: 80})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	_, err = o.AddChild(ctx, lb.ID, ChildSpec{Type: api.ResourceTypePool, ParentID: listener.ID, Name: "backends"})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	tree, err := repo.Tree(ctx, lb.ID)
	require.NoError(t, err)
	require.Len(t, tree.Listeners, 1)
	require.Len(t, tree.Pools, 1)
	assert.Equal(t, api.ProvisioningStatusActive, tree.Listeners[0].ProvisioningStatus)
	assert.Equal(t, api.OperatingStatusOnline, tree.Listeners[0].OperatingStatus)
	// a pool without a health monitor cannot know member health
	assert.Equal(t, api.OperatingStatusNoMonitor, tree.Pools[0].OperatingStatus)
}

func TestMemberHealthReachesRoot(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()

	lb, err := o.Create(ctx, "p1", &api.LoadBalancerCreate{VipSubnetID: "sub1"})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	listener, err := o.AddChild(ctx, lb.ID, ChildSpec{Type: api.ResourceTypeListener, ProtocolPort: 80})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	pool, err := o.AddChild(ctx, lb.ID, ChildSpec{Type: api.ResourceTypePool, ParentID: listener.ID})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	_, err = o.AddChild(ctx, lb.ID, ChildSpec{Type: api.ResourceTypeMember, ParentID: pool.ID, Address: "10.0.0.8"})
	require.NoError(t, err)

	// the member settles ONLINE in the same pass that rolls the tree up,
	// so the freshly settled health must already count for the root
	settled := waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)
	assert.Equal(t, api.OperatingStatusOnline, settled.OperatingStatus)

	tree, err := repo.Tree(ctx, lb.ID)
	require.NoError(t, err)
	require.Len(t, tree.Members, 1)
	assert.Equal(t, api.OperatingStatusOnline, tree.Members[0].OperatingStatus)
}

func TestDeleteCascades(t *testing.T) {
	o, repo, net := newTestOrchestrator(t)
	ctx := context.Background()

	lb, err := o.Create(ctx, "p1", &api.LoadBalancerCreate{VipSubnetID: "sub1", Flavor: slowName})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)
	_, err = o.AddChild(ctx, lb.ID, ChildSpec{Type: api.ResourceTypeListener, ProtocolPort: 443})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	require.NoError(t, o.Delete(ctx, lb.ID))

	// the slow driver keeps the tree observable mid-delete: the root and
	// every descendant must already read PENDING_DELETE
	pending, err := repo.Get(ctx, lb.ID)
	require.NoError(t, err)
	assert.Equal(t, api.ProvisioningStatusPendingDelete, pending.ProvisioningStatus)
	tree, err := repo.Tree(ctx, lb.ID)
	require.NoError(t, err)
	require.Len(t, tree.Listeners, 1)
	assert.Equal(t, api.ProvisioningStatusPendingDelete, tree.Listeners[0].ProvisioningStatus)

	waitGone(t, repo, lb.ID)

	// the allocated VIP port is released with the tree
	_, err = net.GetPort(ctx, lb.VipPortID)
	assert.Truef(t, api.IsNotFound(err), "port %s should be released, got %v", lb.VipPortID, err)
}

func TestAddChildValidation(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()

	lb, err := o.Create(ctx, "p1", &api.LoadBalancerCreate{VipSubnetID: "sub1"})
	require.NoError(t, err)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	_, err = o.AddChild(ctx, lb.ID, ChildSpec{Type: "firewall"})
	assert.Truef(t, api.IsInvalid(err), "unknown type: error = %v, want Invalid", err)
	_, err = o.AddChild(ctx, lb.ID, ChildSpec{Type: api.ResourceTypeListener, ProtocolPort: 99999})
	assert.Truef(t, api.IsInvalid(err), "bad port: error = %v, want Invalid", err)
	_, err = o.AddChild(ctx, lb.ID, ChildSpec{Type: api.ResourceTypeMember})
	assert.Truef(t, api.IsInvalid(err), "member without address: error = %v, want Invalid", err)

	// rejected child specs never claim the mutation slot
	current, err := repo.Get(ctx, lb.ID)
	require.NoError(t, err)
	assert.Equal(t, api.ProvisioningStatusActive, current.ProvisioningStatus)
}

func TestVipAddressConflict(t *testing.T) {
	o, repo, _ := newTestOrchestrator(t)
	ctx := context.Background()

	lb, err := o.Create(ctx, "p1", &api.LoadBalancerCreate{VipSubnetID: "sub1", VipAddress: "10.0.0.50"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.50", lb.VipAddress)
	waitProvisioning(t, repo, lb.ID, api.ProvisioningStatusActive)

	_, err = o.Create(ctx, "p1", &api.LoadBalancerCreate{VipSubnetID: "sub1", VipAddress: "10.0.0.50"})
	assert.Truef(t, api.IsConflict(err), "duplicate address: error = %v, want Conflict", err)
}
