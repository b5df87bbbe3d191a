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
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"
	log "k8s.io/klog/v2"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/config"
	"github.com/caicloud/lbaas/pkg/metrics"
	"github.com/caicloud/lbaas/pkg/network"
	"github.com/caicloud/lbaas/pkg/provider"
	"github.com/caicloud/lbaas/pkg/store"
)

type opKind string

const (
	opCreate opKind = "create"
	opUpdate opKind = "update"
	opDelete opKind = "delete"
)

// task is one queued provisioning operation.
type task struct {
	op       opKind
	lbID     string
	accepted time.Time
}

// Orchestrator is the reconciliation core: it accepts mutation requests,
// transitions provisioning status, dispatches asynchronous work to the
// provider drivers and reconciles terminal state on completion.
//
// Acceptance is synchronous and cheap: validate, move the status with an
// atomic compare-and-set, persist, enqueue. The accepting caller never
// waits for the driver, workers complete the workflow when the driver's
// handle resolves.
type Orchestrator struct {
	cfg   config.Configuration
	repo  store.Repository
	net   network.Driver
	queue workqueue.RateLimitingInterface
}

// New creates an Orchestrator.
func New(cfg config.Configuration, repo store.Repository, net network.Driver) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		repo:  repo,
		net:   net,
		queue: workqueue.NewNamedRateLimitingQueue(workqueue.DefaultControllerRateLimiter(), "loadbalancer"),
	}
}

// Run starts the reconciliation workers and blocks until stopCh closes.
func (o *Orchestrator) Run(workers int, stopCh <-chan struct{}) {
	defer o.queue.ShutDown()

	log.Infof("Starting orchestrator with %d workers", workers)
	defer log.Info("Shutting down orchestrator")

	for i := 0; i < workers; i++ {
		go wait.Until(o.worker, time.Second, stopCh)
	}
	<-stopCh
}

func (o *Orchestrator) worker() {
	for o.processNext() {
	}
}

func (o *Orchestrator) processNext() bool {
	item, quit := o.queue.Get()
	if quit {
		return false
	}
	defer o.queue.Done(item)

	t := item.(task)
	o.dispatch(t)
	o.queue.Forget(item)
	return true
}

// Create accepts a declarative create request. On return the resource is
// persisted in PENDING_CREATE and the provisioning work is queued.
func (o *Orchestrator) Create(ctx context.Context, projectID string, spec *api.LoadBalancerCreate) (*api.LoadBalancer, error) {
	driverName, err := provider.Select(o.cfg.FlavorBindings, spec.Flavor, spec.Provider, o.cfg.DefaultProvider)
	if err != nil {
		return nil, err
	}
	if !provider.IsDriver(driverName) {
		return nil, api.NewInvalid("provider %q is not enabled", driverName)
	}
	if spec.ProjectID != "" {
		projectID = spec.ProjectID
	}
	if projectID == "" {
		return nil, api.NewInvalid("project_id is required")
	}

	lb := &api.LoadBalancer{
		ID:                 uuid.New().String(),
		ProjectID:          projectID,
		Name:               spec.Name,
		Description:        spec.Description,
		AdminStateUp:       true,
		Flavor:             spec.Flavor,
		Provider:           driverName,
		ProvisioningStatus: api.ProvisioningStatusPendingCreate,
		OperatingStatus:    api.OperatingStatusOffline,
		CreatedAt:          time.Now().UTC(),
		Listeners:          []api.ChildRef{},
		Pools:              []api.ChildRef{},
	}
	if spec.AdminStateUp != nil {
		lb.AdminStateUp = *spec.AdminStateUp
	}

	// All validation, including the VIP resolution against the network
	// service, happens before the first repository write. A rejected
	// request leaves no persisted trace.
	if err := o.resolveVIP(ctx, spec, lb); err != nil {
		return nil, err
	}

	if err := o.repo.Put(ctx, lb); err != nil {
		return nil, err
	}
	log.Infof("Accepted create for loadbalancer %s (project %s, provider %s)", lb.ID, lb.ProjectID, lb.Provider)
	o.queue.Add(task{op: opCreate, lbID: lb.ID, accepted: time.Now()})
	return lb, nil
}

// Update accepts a partial update. Rejected with a Conflict error while
// another mutation is in flight on the same tree.
func (o *Orchestrator) Update(ctx context.Context, id string, spec *api.LoadBalancerUpdate) (*api.LoadBalancer, error) {
	lb, prior, err := o.repo.CompareAndSetProvisioning(ctx, id,
		[]api.ProvisioningStatus{api.ProvisioningStatusActive, api.ProvisioningStatusError},
		api.ProvisioningStatusPendingUpdate)
	if err != nil {
		return nil, err
	}

	merged, err := applyUpdate(lb, spec)
	if err != nil {
		// the guard already fired, release the slot by restoring the
		// status it moved away from
		_ = o.repo.SetStatus(ctx, id, prior, lb.OperatingStatus, lb.FailureDetail)
		return nil, err
	}
	now := time.Now().UTC()
	merged.UpdatedAt = &now
	merged.FailureDetail = ""
	if err := o.repo.Put(ctx, merged); err != nil {
		return nil, err
	}
	log.Infof("Accepted update for loadbalancer %s", id)
	o.queue.Add(task{op: opUpdate, lbID: id, accepted: time.Now()})
	return merged, nil
}

// Delete accepts a teardown request and cascades PENDING_DELETE to every
// descendant before the driver is engaged. Parents are marked before
// their children so a concurrent tree read never shows a deleting child
// under a settled parent.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	_, _, err := o.repo.CompareAndSetProvisioning(ctx, id,
		[]api.ProvisioningStatus{api.ProvisioningStatusActive, api.ProvisioningStatusError},
		api.ProvisioningStatusPendingDelete)
	if err != nil {
		return err
	}

	tree, err := o.repo.Tree(ctx, id)
	if err != nil {
		return err
	}
	for _, child := range tree.All() {
		if err := o.repo.SetChildStatus(ctx, child.ID, api.ProvisioningStatusPendingDelete, child.OperatingStatus); err != nil && !api.IsNotFound(err) {
			return err
		}
	}
	log.Infof("Accepted delete for loadbalancer %s (%d children)", id, len(tree.All()))
	o.queue.Add(task{op: opDelete, lbID: id, accepted: time.Now()})
	return nil
}

// ChildSpec describes one child resource to attach to a load balancer.
type ChildSpec struct {
	Type         api.ResourceType
	ParentID     string
	Name         string
	ProtocolPort int
	Address      string
	Action       string
}

// AddChild attaches a child resource to a load balancer. Like every
// mutation it claims the tree's single mutation slot and is realized
// asynchronously by an update dispatch.
func (o *Orchestrator) AddChild(ctx context.Context, lbID string, spec ChildSpec) (*api.Child, error) {
	if err := validateChildSpec(spec); err != nil {
		return nil, err
	}
	if _, _, err := o.repo.CompareAndSetProvisioning(ctx, lbID,
		[]api.ProvisioningStatus{api.ProvisioningStatusActive, api.ProvisioningStatusError},
		api.ProvisioningStatusPendingUpdate); err != nil {
		return nil, err
	}

	parent := spec.ParentID
	if parent == "" {
		parent = lbID
	}
	child := &api.Child{
		ID:                 uuid.New().String(),
		LoadBalancerID:     lbID,
		ParentID:           parent,
		Type:               spec.Type,
		Name:               spec.Name,
		ProtocolPort:       spec.ProtocolPort,
		Address:            spec.Address,
		Action:             spec.Action,
		ProvisioningStatus: api.ProvisioningStatusPendingCreate,
		OperatingStatus:    api.OperatingStatusOffline,
	}
	if err := o.repo.PutChild(ctx, child); err != nil {
		return nil, err
	}
	log.Infof("Accepted %s %s for loadbalancer %s", child.Type, child.ID, lbID)
	o.queue.Add(task{op: opUpdate, lbID: lbID, accepted: time.Now()})
	return child, nil
}

func validateChildSpec(spec ChildSpec) error {
	switch spec.Type {
	case api.ResourceTypeListener:
		if spec.ProtocolPort <= 0 || spec.ProtocolPort > 65535 {
			return api.NewInvalid("listener protocol_port %d out of range", spec.ProtocolPort)
		}
	case api.ResourceTypePool, api.ResourceTypeHealthMonitor, api.ResourceTypeL7Policy, api.ResourceTypeL7Rule:
	case api.ResourceTypeMember:
		if spec.Address == "" {
			return api.NewInvalid("member address is required")
		}
	default:
		return api.NewInvalid("unknown child type %q", spec.Type)
	}
	return nil
}

// dispatch runs one queued operation against the resolved driver and
// reconciles the terminal state. It runs on a worker, never on the
// accepting request path.
func (o *Orchestrator) dispatch(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ProviderTimeout)
	defer cancel()

	lb, err := o.repo.Get(ctx, t.lbID)
	if err != nil {
		log.Errorf("Dropping %s for %s: %v", t.op, t.lbID, err)
		return
	}
	driver, found := provider.GetDriver(lb.Provider)
	if !found {
		// the provider set was validated at acceptance; losing it now
		// is an invariant violation, fail the resource loudly
		o.complete(ctx, t, lb, provider.Result{Err: api.NewInternal("provider %q vanished", lb.Provider)})
		return
	}

	var h provider.Handle
	switch t.op {
	case opCreate:
		h = driver.Create(ctx, lb)
	case opUpdate:
		h = driver.Update(ctx, lb)
	case opDelete:
		h = driver.Delete(ctx, lb)
	default:
		log.Errorf("Unknown operation %q for %s", t.op, t.lbID)
		return
	}

	select {
	case result := <-h.Done():
		o.complete(ctx, t, lb, result)
	case <-ctx.Done():
		o.complete(context.Background(), t, lb, provider.Result{
			Err: api.NewProviderUnavailable("provider %q silent for %s, giving up after %s", lb.Provider, t.lbID, o.cfg.ProviderTimeout),
		})
	}
}

// complete applies a driver result to the persisted tree.
func (o *Orchestrator) complete(ctx context.Context, t task, lb *api.LoadBalancer, result provider.Result) {
	status := "success"
	if result.Err != nil {
		status = "failure"
	}
	metrics.ProvisioningOps.WithLabelValues(string(t.op), status).Inc()
	if !t.accepted.IsZero() {
		metrics.ProvisioningDuration.WithLabelValues(string(t.op)).Observe(time.Since(t.accepted).Seconds())
	}

	if result.Err != nil {
		log.Errorf("%s for loadbalancer %s failed: %v", t.op, t.lbID, result.Err)
		o.fail(ctx, t, result.Err)
		return
	}

	switch t.op {
	case opCreate, opUpdate:
		o.settle(ctx, t.lbID, result.OperatingStatus)
	case opDelete:
		o.finishDelete(ctx, lb)
	}
	log.Infof("%s for loadbalancer %s finished", t.op, t.lbID)
}

// settle moves a tree out of PENDING after a successful create or update.
// Children settle first: the load balancer must never report ACTIVE while
// a descendant still reports PENDING.
func (o *Orchestrator) settle(ctx context.Context, lbID string, reported api.OperatingStatus) {
	tree, err := o.repo.Tree(ctx, lbID)
	if err != nil {
		log.Errorf("Settling %s: %v", lbID, err)
		return
	}
	for _, child := range tree.All() {
		if !api.IsPending(child.ProvisioningStatus) {
			continue
		}
		op := operatingForChild(child, tree)
		if err := o.repo.SetChildStatus(ctx, child.ID, api.ProvisioningStatusActive, op); err != nil && !api.IsNotFound(err) {
			log.Errorf("Settling child %s of %s: %v", child.ID, lbID, err)
			continue
		}
		// keep the snapshot in step with what was just persisted, the
		// roll-up below reads it
		child.ProvisioningStatus = api.ProvisioningStatusActive
		child.OperatingStatus = op
	}

	lb, err := o.repo.Get(ctx, lbID)
	if err != nil {
		log.Errorf("Settling %s: %v", lbID, err)
		return
	}
	operating := rollUp(lb, tree, reported)
	if err := o.repo.SetStatus(ctx, lbID, api.ProvisioningStatusActive, operating, ""); err != nil {
		log.Errorf("Settling %s: %v", lbID, err)
	}
}

// fail marks the operation's targets ERROR. The detail is kept for the
// next GET, a failed mutation must be discoverable without the original
// response.
func (o *Orchestrator) fail(ctx context.Context, t task, cause error) {
	detail := fmt.Sprintf("%s failed: %v", t.op, cause)
	if err := o.repo.SetStatus(ctx, t.lbID, api.ProvisioningStatusError, api.OperatingStatusError, detail); err != nil {
		log.Errorf("Failing %s: %v", t.lbID, err)
		return
	}
	if t.op != opDelete {
		// pending children of a failed create/update follow the root
		tree, err := o.repo.Tree(ctx, t.lbID)
		if err != nil {
			return
		}
		for _, child := range tree.All() {
			if api.IsPending(child.ProvisioningStatus) {
				_ = o.repo.SetChildStatus(ctx, child.ID, api.ProvisioningStatusError, api.OperatingStatusError)
			}
		}
		return
	}
	// partial teardown: nodes that were being deleted stay, marked
	// ERROR, for operator intervention. No partial silent success.
	tree, err := o.repo.Tree(ctx, t.lbID)
	if err != nil {
		return
	}
	for _, child := range tree.All() {
		if child.ProvisioningStatus == api.ProvisioningStatusPendingDelete {
			_ = o.repo.SetChildStatus(ctx, child.ID, api.ProvisioningStatusError, api.OperatingStatusError)
		}
	}
}

// finishDelete removes repository entries bottom-up after the driver
// confirmed teardown, releases the VIP port last.
func (o *Orchestrator) finishDelete(ctx context.Context, lb *api.LoadBalancer) {
	tree, err := o.repo.Tree(ctx, lb.ID)
	if err != nil {
		log.Errorf("Finishing delete of %s: %v", lb.ID, err)
		return
	}
	all := tree.All()
	for i := len(all) - 1; i >= 0; i-- {
		if err := o.repo.DeleteChild(ctx, all[i].ID); err != nil && !api.IsNotFound(err) {
			log.Errorf("Deleting child %s of %s: %v", all[i].ID, lb.ID, err)
		}
	}
	// an adopted port (created from vip_port_id) is left alone, the
	// control plane only releases what it allocated
	if lb.VipPortID != "" && !lb.AdoptedPort {
		if err := o.net.ReleasePort(ctx, lb.VipPortID); err != nil {
			log.Errorf("Releasing port %s of %s: %v", lb.VipPortID, lb.ID, err)
		}
	}
	if err := o.repo.Delete(ctx, lb.ID); err != nil && !api.IsNotFound(err) {
		log.Errorf("Finishing delete of %s: %v", lb.ID, err)
	}
}

// operatingForChild picks the settled operating status of a child.
func operatingForChild(child *api.Child, tree *api.ResourceTree) api.OperatingStatus {
	if child.Type != api.ResourceTypePool {
		return api.OperatingStatusOnline
	}
	for _, hm := range tree.HealthMonitors {
		if hm.ParentID == child.ID {
			return api.OperatingStatusOnline
		}
	}
	return api.OperatingStatusNoMonitor
}

// rollUp computes the root operating status from the tree and the
// backend report.
func rollUp(lb *api.LoadBalancer, tree *api.ResourceTree, reported api.OperatingStatus) api.OperatingStatus {
	if !lb.AdminStateUp {
		return api.OperatingStatusOffline
	}
	total, down := 0, 0
	for _, m := range tree.Members {
		total++
		if m.OperatingStatus == api.OperatingStatusError || m.OperatingStatus == api.OperatingStatusOffline {
			down++
		}
	}
	if total > 0 && down == total {
		return api.OperatingStatusError
	}
	if down > 0 {
		return api.OperatingStatusDegraded
	}
	if reported != "" {
		return reported
	}
	return api.OperatingStatusOnline
}
