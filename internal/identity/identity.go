// Package identity models the authenticated principals that own broker
// sessions. An Identity is a closed union: Operator, Manager, Admin or
// TenantSuperAdmin. Code that needs to branch on the principal type switches
// over the union instead of comparing role strings.
package identity

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind   = errors.New("unknown identity kind")
	ErrMissingTenant = errors.New("identity has no tenant assignment")
	ErrNotFound      = errors.New("identity not found")
)

type Kind string

const (
	KindOperator         Kind = "operator"
	KindManager          Kind = "manager"
	KindAdmin            Kind = "admin"
	KindTenantSuperAdmin Kind = "superadmin"
)

var kinds = []Kind{KindOperator, KindManager, KindAdmin, KindTenantSuperAdmin}

func ParseKind(value string) (Kind, error) {
	for _, kind := range kinds {
		if string(kind) == value {
			return kind, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownKind, value)
}

// Lookup describes where the stored record of a kind lives and which fields
// carry its tenant assignment.
type Lookup struct {
	Collection          string
	TenantField         string
	SelectedTenantField string
}

func (k Kind) Lookup() Lookup {
	switch k {
	case KindOperator:
		return Lookup{Collection: "operators", TenantField: "branchId"}
	case KindManager:
		return Lookup{Collection: "managers", TenantField: "branchId"}
	case KindAdmin:
		return Lookup{Collection: "admins", TenantField: "branchId"}
	case KindTenantSuperAdmin:
		return Lookup{Collection: "superadmins", SelectedTenantField: "selectedBranchId"}
	}

	return Lookup{}
}

type Identity interface {
	ID() string
	Kind() Kind
	// Role is the access-control role used by role rooms. It maps 1:1 to Kind.
	Role() string
	// TenantID is empty only for a TenantSuperAdmin without a selected tenant.
	TenantID() string

	isIdentity()
}

type Operator struct {
	Id       string
	BranchId string
}

func (o Operator) ID() string       { return o.Id }
func (o Operator) Kind() Kind       { return KindOperator }
func (o Operator) Role() string     { return string(KindOperator) }
func (o Operator) TenantID() string { return o.BranchId }
func (Operator) isIdentity()        {}

type Manager struct {
	Id       string
	BranchId string
}

func (m Manager) ID() string       { return m.Id }
func (m Manager) Kind() Kind       { return KindManager }
func (m Manager) Role() string     { return string(KindManager) }
func (m Manager) TenantID() string { return m.BranchId }
func (Manager) isIdentity()        {}

type Admin struct {
	Id       string
	BranchId string
}

func (a Admin) ID() string       { return a.Id }
func (a Admin) Kind() Kind       { return KindAdmin }
func (a Admin) Role() string     { return string(KindAdmin) }
func (a Admin) TenantID() string { return a.BranchId }
func (Admin) isIdentity()        {}

// TenantSuperAdmin crosses tenant boundaries. SelectedBranchId narrows its
// default rooms to one tenant; empty means all tenants.
type TenantSuperAdmin struct {
	Id               string
	SelectedBranchId string
}

func (s TenantSuperAdmin) ID() string       { return s.Id }
func (s TenantSuperAdmin) Kind() Kind       { return KindTenantSuperAdmin }
func (s TenantSuperAdmin) Role() string     { return string(KindTenantSuperAdmin) }
func (s TenantSuperAdmin) TenantID() string { return s.SelectedBranchId }
func (TenantSuperAdmin) isIdentity()        {}

func IsSuperAdmin(i Identity) bool {
	_, ok := i.(TenantSuperAdmin)

	return ok
}

// New rebuilds an Identity from values already validated at connect time,
// e.g. the fields of a stored session.
func New(kind Kind, id string, tenantID string) (Identity, error) {
	switch kind {
	case KindOperator:
		return Operator{Id: id, BranchId: tenantID}, nil
	case KindManager:
		return Manager{Id: id, BranchId: tenantID}, nil
	case KindAdmin:
		return Admin{Id: id, BranchId: tenantID}, nil
	case KindTenantSuperAdmin:
		return TenantSuperAdmin{Id: id, SelectedBranchId: tenantID}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Record is the stored account of an identity as returned by a Directory.
type Record struct {
	IsActive         bool
	TenantID         string
	SelectedTenantID string
}

// Resolve builds the Identity for a stored record. The tenant always comes
// from the record, never from client supplied claims.
func Resolve(kind Kind, id string, record Record) (Identity, error) {
	if kind == KindTenantSuperAdmin {
		return TenantSuperAdmin{Id: id, SelectedBranchId: record.SelectedTenantID}, nil
	}

	if record.TenantID == "" {
		return nil, ErrMissingTenant
	}

	return New(kind, id, record.TenantID)
}
