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

package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/caicloud/lbaas/pkg/api"
	"github.com/caicloud/lbaas/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS load_balancers (
	id                  VARCHAR(36)  NOT NULL PRIMARY KEY,
	project_id          VARCHAR(36)  NOT NULL,
	name                VARCHAR(255) NOT NULL DEFAULT '',
	description         VARCHAR(255) NOT NULL DEFAULT '',
	admin_state_up      BOOLEAN      NOT NULL DEFAULT TRUE,
	vip_address         VARCHAR(64)  NOT NULL DEFAULT '',
	vip_network_id      VARCHAR(36)  NOT NULL DEFAULT '',
	vip_subnet_id       VARCHAR(36)  NOT NULL DEFAULT '',
	vip_port_id         VARCHAR(36)  NOT NULL DEFAULT '',
	adopted_port        BOOLEAN      NOT NULL DEFAULT FALSE,
	flavor              VARCHAR(255) NOT NULL DEFAULT '',
	provider            VARCHAR(64)  NOT NULL,
	provisioning_status VARCHAR(16)  NOT NULL,
	operating_status    VARCHAR(16)  NOT NULL,
	failure_detail      TEXT,
	created_at          DATETIME     NOT NULL,
	updated_at          DATETIME     NULL,
	KEY idx_project (project_id)
);
CREATE TABLE IF NOT EXISTS lb_children (
	id                  VARCHAR(36)  NOT NULL PRIMARY KEY,
	load_balancer_id    VARCHAR(36)  NOT NULL,
	parent_id           VARCHAR(36)  NOT NULL,
	type                VARCHAR(16)  NOT NULL,
	name                VARCHAR(255) NOT NULL DEFAULT '',
	protocol_port       INT          NOT NULL DEFAULT 0,
	address             VARCHAR(64)  NOT NULL DEFAULT '',
	action              VARCHAR(64)  NOT NULL DEFAULT '',
	provisioning_status VARCHAR(16)  NOT NULL,
	operating_status    VARCHAR(16)  NOT NULL,
	KEY idx_lb (load_balancer_id)
);`

const lbColumns = "id, project_id, name, description, admin_state_up, " +
	"vip_address, vip_network_id, vip_subnet_id, vip_port_id, adopted_port, flavor, provider, " +
	"provisioning_status, operating_status, failure_detail, created_at, updated_at"

const childColumns = "id, load_balancer_id, parent_id, type, name, " +
	"protocol_port, address, action, provisioning_status, operating_status"

// Store is a Repository backed by MySQL.
type Store struct {
	db *sql.DB
}

// Open connects to the given DSN and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	s := New(db)
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection without touching the schema.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ store.Repository = &Store{}

func (s *Store) ensureSchema() error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "ensure schema")
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanLB(row interface{ Scan(...interface{}) error }) (*api.LoadBalancer, error) {
	lb := &api.LoadBalancer{}
	var detail sql.NullString
	var updated sql.NullTime
	err := row.Scan(
		&lb.ID, &lb.ProjectID, &lb.Name, &lb.Description, &lb.AdminStateUp,
		&lb.VipAddress, &lb.VipNetworkID, &lb.VipSubnetID, &lb.VipPortID, &lb.AdoptedPort,
		&lb.Flavor, &lb.Provider,
		&lb.ProvisioningStatus, &lb.OperatingStatus, &detail,
		&lb.CreatedAt, &updated,
	)
	if err != nil {
		return nil, err
	}
	lb.FailureDetail = detail.String
	if updated.Valid {
		t := updated.Time
		lb.UpdatedAt = &t
	}
	return lb, nil
}

// Get implements store.Repository.
func (s *Store) Get(ctx context.Context, id string) (*api.LoadBalancer, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+lbColumns+" FROM load_balancers WHERE id = ?", id)
	lb, err := scanLB(row)
	if err == sql.ErrNoRows {
		return nil, api.NewNotFound(api.ResourceTypeLoadBalancer, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get load balancer")
	}
	if err := s.fillRefs(ctx, lb); err != nil {
		return nil, err
	}
	return lb, nil
}

func (s *Store) fillRefs(ctx context.Context, lb *api.LoadBalancer) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type FROM lb_children WHERE load_balancer_id = ? AND type IN (?, ?) ORDER BY id",
		lb.ID, api.ResourceTypeListener, api.ResourceTypePool)
	if err != nil {
		return errors.Wrap(err, "list child refs")
	}
	defer rows.Close()

	lb.Listeners = []api.ChildRef{}
	lb.Pools = []api.ChildRef{}
	for rows.Next() {
		var id string
		var typ api.ResourceType
		if err := rows.Scan(&id, &typ); err != nil {
			return errors.Wrap(err, "scan child ref")
		}
		if typ == api.ResourceTypeListener {
			lb.Listeners = append(lb.Listeners, api.ChildRef{ID: id})
		} else {
			lb.Pools = append(lb.Pools, api.ChildRef{ID: id})
		}
	}
	return rows.Err()
}

// Put implements store.Repository.
func (s *Store) Put(ctx context.Context, lb *api.LoadBalancer) error {
	var updated interface{}
	if lb.UpdatedAt != nil {
		updated = *lb.UpdatedAt
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO load_balancers ("+lbColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE name = VALUES(name), description = VALUES(description), "+
			"admin_state_up = VALUES(admin_state_up), vip_address = VALUES(vip_address), "+
			"vip_network_id = VALUES(vip_network_id), vip_subnet_id = VALUES(vip_subnet_id), "+
			"vip_port_id = VALUES(vip_port_id), flavor = VALUES(flavor), provider = VALUES(provider), "+
			"provisioning_status = VALUES(provisioning_status), operating_status = VALUES(operating_status), "+
			"failure_detail = VALUES(failure_detail), updated_at = VALUES(updated_at)",
		lb.ID, lb.ProjectID, lb.Name, lb.Description, lb.AdminStateUp,
		lb.VipAddress, lb.VipNetworkID, lb.VipSubnetID, lb.VipPortID, lb.AdoptedPort,
		lb.Flavor, lb.Provider, lb.ProvisioningStatus, lb.OperatingStatus,
		lb.FailureDetail, lb.CreatedAt, updated,
	)
	return errors.Wrap(err, "put load balancer")
}

// Delete implements store.Repository.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM load_balancers WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "delete load balancer")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete load balancer")
	}
	if n == 0 {
		return api.NewNotFound(api.ResourceTypeLoadBalancer, id)
	}
	return nil
}

// List implements store.Repository.
func (s *Store) List(ctx context.Context, filters store.ListFilters) ([]*api.LoadBalancer, error) {
	query := "SELECT " + lbColumns + " FROM load_balancers"
	clauses := []string{}
	args := []interface{}{}
	if filters.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, filters.ProjectID)
	}
	if filters.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, filters.Provider)
	}
	if filters.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, filters.Name)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list load balancers")
	}
	defer rows.Close()

	out := []*api.LoadBalancer{}
	for rows.Next() {
		lb, err := scanLB(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan load balancer")
		}
		out = append(out, lb)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list load balancers")
	}
	for _, lb := range out {
		if err := s.fillRefs(ctx, lb); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CompareAndSetProvisioning implements store.Repository. The observed
// status is both the guard of the conditional UPDATE and the prior value
// handed back to the caller; a zero affected-row count means the race was
// lost between observation and swap.
func (s *Store) CompareAndSetProvisioning(ctx context.Context, id string, from []api.ProvisioningStatus, to api.ProvisioningStatus) (*api.LoadBalancer, api.ProvisioningStatus, error) {
	var prior api.ProvisioningStatus
	err := s.db.QueryRowContext(ctx,
		"SELECT provisioning_status FROM load_balancers WHERE id = ?", id).Scan(&prior)
	if err == sql.ErrNoRows {
		return nil, "", api.NewNotFound(api.ResourceTypeLoadBalancer, id)
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "compare-and-set provisioning status")
	}
	matched := false
	for _, f := range from {
		if prior == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, "", api.NewConflict("load balancer %q is %s, another operation is in progress", id, prior)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE load_balancers SET provisioning_status = ? WHERE id = ? AND provisioning_status = ?",
		to, id, prior)
	if err != nil {
		return nil, "", errors.Wrap(err, "compare-and-set provisioning status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, "", errors.Wrap(err, "compare-and-set provisioning status")
	}
	if n == 0 {
		return nil, "", api.NewConflict("load balancer %q lost the status race, another operation is in progress", id)
	}
	lb, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return lb, prior, nil
}

// SetStatus implements store.Repository.
func (s *Store) SetStatus(ctx context.Context, id string, provisioning api.ProvisioningStatus, operating api.OperatingStatus, detail string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE load_balancers SET provisioning_status = ?, operating_status = ?, failure_detail = ?, updated_at = ? WHERE id = ?",
		provisioning, operating, detail, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "set status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "set status")
	}
	if n == 0 {
		return api.NewNotFound(api.ResourceTypeLoadBalancer, id)
	}
	return nil
}

// Tree implements store.Repository. One SELECT, so the snapshot cannot mix
// generations of the child set.
func (s *Store) Tree(ctx context.Context, lbID string) (*api.ResourceTree, error) {
	if _, err := s.Get(ctx, lbID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+childColumns+" FROM lb_children WHERE load_balancer_id = ? ORDER BY id", lbID)
	if err != nil {
		return nil, errors.Wrap(err, "list children")
	}
	defer rows.Close()

	tree := &api.ResourceTree{}
	for rows.Next() {
		child := &api.Child{}
		err := rows.Scan(&child.ID, &child.LoadBalancerID, &child.ParentID, &child.Type,
			&child.Name, &child.ProtocolPort, &child.Address, &child.Action,
			&child.ProvisioningStatus, &child.OperatingStatus)
		if err != nil {
			return nil, errors.Wrap(err, "scan child")
		}
		switch child.Type {
		case api.ResourceTypeListener:
			tree.Listeners = append(tree.Listeners, child)
		case api.ResourceTypePool:
			tree.Pools = append(tree.Pools, child)
		case api.ResourceTypeMember:
			tree.Members = append(tree.Members, child)
		case api.ResourceTypeHealthMonitor:
			tree.HealthMonitors = append(tree.HealthMonitors, child)
		case api.ResourceTypeL7Policy:
			tree.L7Policies = append(tree.L7Policies, child)
		case api.ResourceTypeL7Rule:
			tree.L7Rules = append(tree.L7Rules, child)
		}
	}
	return tree, rows.Err()
}

// PutChild implements store.Repository.
func (s *Store) PutChild(ctx context.Context, child *api.Child) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO lb_children ("+childColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE name = VALUES(name), protocol_port = VALUES(protocol_port), "+
			"address = VALUES(address), action = VALUES(action), "+
			"provisioning_status = VALUES(provisioning_status), operating_status = VALUES(operating_status)",
		child.ID, child.LoadBalancerID, child.ParentID, child.Type, child.Name,
		child.ProtocolPort, child.Address, child.Action,
		child.ProvisioningStatus, child.OperatingStatus,
	)
	return errors.Wrap(err, "put child")
}

// DeleteChild implements store.Repository.
func (s *Store) DeleteChild(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM lb_children WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "delete child")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete child")
	}
	if n == 0 {
		return &api.StatusError{Reason: api.ReasonNotFound, Message: fmt.Sprintf("child resource %q not found", id)}
	}
	return nil
}

// SetChildStatus implements store.Repository.
func (s *Store) SetChildStatus(ctx context.Context, id string, provisioning api.ProvisioningStatus, operating api.OperatingStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE lb_children SET provisioning_status = ?, operating_status = ? WHERE id = ?",
		provisioning, operating, id)
	if err != nil {
		return errors.Wrap(err, "set child status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "set child status")
	}
	if n == 0 {
		return &api.StatusError{Reason: api.ReasonNotFound, Message: fmt.Sprintf("child resource %q not found", id)}
	}
	return nil
}
