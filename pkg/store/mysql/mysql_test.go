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
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/caicloud/lbaas/pkg/api"
)

var lbColumnList = []string{
	"id", "project_id", "name", "description", "admin_state_up",
	"vip_address", "vip_network_id", "vip_subnet_id", "vip_port_id", "adopted_port",
	"flavor", "provider", "provisioning_status", "operating_status",
	"failure_detail", "created_at", "updated_at",
}

func lbRow(mock sqlmock.Sqlmock, id string, status api.ProvisioningStatus) *sqlmock.Rows {
	return mock.NewRows(lbColumnList).AddRow(
		id, "p1", "lb-"+id, "", true,
		"10.0.0.4", "net1", "sub1", "port1", false,
		"", "noop", string(status), string(api.OperatingStatusOnline),
		nil, time.Now().UTC(), nil,
	)
}

func expectGet(mock sqlmock.Sqlmock, id string, status api.ProvisioningStatus) {
	mock.ExpectQuery("SELECT (.+) FROM load_balancers WHERE id").
		WithArgs(id).
		WillReturnRows(lbRow(mock, id, status))
	mock.ExpectQuery("SELECT id, type FROM lb_children WHERE load_balancer_id").
		WillReturnRows(mock.NewRows([]string{"id", "type"}))
}

func TestGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	s := New(db)

	expectGet(mock, "a", api.ProvisioningStatusActive)

	lb, err := s.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if lb.ID != "a" || lb.ProvisioningStatus != api.ProvisioningStatusActive {
		t.Errorf("Get() = %+v, want id a ACTIVE", lb)
	}
	if lb.Listeners == nil || lb.Pools == nil {
		t.Errorf("Get() must return empty ref slices, not nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	s := New(db)

	mock.ExpectQuery("SELECT (.+) FROM load_balancers WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = s.Get(context.Background(), "missing")
	if !api.IsNotFound(err) {
		t.Errorf("Get() error = %v, want NotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCompareAndSetProvisioning(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	s := New(db)

	mock.ExpectQuery("SELECT provisioning_status FROM load_balancers WHERE id").
		WithArgs("a").
		WillReturnRows(mock.NewRows([]string{"provisioning_status"}).
			AddRow(string(api.ProvisioningStatusActive)))
	mock.ExpectExec("UPDATE load_balancers SET provisioning_status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectGet(mock, "a", api.ProvisioningStatusPendingUpdate)

	lb, prior, err := s.CompareAndSetProvisioning(context.Background(), "a",
		[]api.ProvisioningStatus{api.ProvisioningStatusActive},
		api.ProvisioningStatusPendingUpdate)
	if err != nil {
		t.Fatalf("CompareAndSetProvisioning() error = %v", err)
	}
	if lb.ProvisioningStatus != api.ProvisioningStatusPendingUpdate {
		t.Errorf("status = %v, want PENDING_UPDATE", lb.ProvisioningStatus)
	}
	if prior != api.ProvisioningStatusActive {
		t.Errorf("prior status = %v, want ACTIVE", prior)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCompareAndSetProvisioningConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	s := New(db)

	// the observed status is outside the allowed set, no UPDATE is issued
	mock.ExpectQuery("SELECT provisioning_status FROM load_balancers WHERE id").
		WithArgs("a").
		WillReturnRows(mock.NewRows([]string{"provisioning_status"}).
			AddRow(string(api.ProvisioningStatusPendingCreate)))

	_, _, err = s.CompareAndSetProvisioning(context.Background(), "a",
		[]api.ProvisioningStatus{api.ProvisioningStatusActive},
		api.ProvisioningStatusPendingUpdate)
	if !api.IsConflict(err) {
		t.Errorf("CompareAndSetProvisioning() error = %v, want Conflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSetStatusNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	s := New(db)

	mock.ExpectExec("UPDATE load_balancers SET provisioning_status = \\?, operating_status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.SetStatus(context.Background(), "missing", api.ProvisioningStatusError, api.OperatingStatusError, "boom")
	if !api.IsNotFound(err) {
		t.Errorf("SetStatus() error = %v, want NotFound", err)
	}
}

func TestDeleteChildNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	s := New(db)

	mock.ExpectExec("DELETE FROM lb_children WHERE id").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteChild(context.Background(), "missing"); !api.IsNotFound(err) {
		t.Errorf("DeleteChild() error = %v, want NotFound", err)
	}
}
