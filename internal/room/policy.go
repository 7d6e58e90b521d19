package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/goevery/broker/internal/identity"
	"github.com/goevery/broker/internal/ierr"
)

var (
	ErrUnauthorized   = errors.New("not authorized to join room")
	ErrEntityNotFound = errors.New("entity not found")
)

type Verdict int

const (
	Deny Verdict = iota
	Allow
	// NeedsOwnership means the room is entity scoped and admission depends on
	// the tenant that owns the entity.
	NeedsOwnership
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case NeedsOwnership:
		return "needs_ownership"
	}

	return "deny"
}

// Authorize decides admission from the room name alone. It never grants an
// entity room to a tenant scoped identity; those get NeedsOwnership.
func Authorize(subject identity.Identity, room Room) Verdict {
	crossTenant := false
	switch subject.(type) {
	case identity.TenantSuperAdmin:
		crossTenant = true
	case identity.Operator, identity.Manager, identity.Admin:
	default:
		return Deny
	}

	sameTenant := subject.TenantID() != "" && room.ID == subject.TenantID()

	switch {
	case room.Kind == KindBranch:
		return verdict(crossTenant || sameTenant)
	case room.Kind == KindUser:
		return verdict(room.ID == subject.ID())
	case room.Kind == KindRole:
		return verdict((crossTenant || sameTenant) && room.Role == subject.Role())
	case room.Kind.IsEntity():
		if crossTenant {
			return Allow
		}

		return NeedsOwnership
	}

	return Deny
}

func verdict(allowed bool) Verdict {
	if allowed {
		return Allow
	}

	return Deny
}

// OwnershipLookup resolves the tenant owning a business entity. It returns
// ErrEntityNotFound when the entity does not exist.
type OwnershipLookup interface {
	OwnerTenantOf(ctx context.Context, kind Kind, entityId string) (string, error)
}

// Authorizer composes the name based policy with the ownership lookup.
type Authorizer struct {
	ownership OwnershipLookup
}

func NewAuthorizer(ownership OwnershipLookup) *Authorizer {
	return &Authorizer{
		ownership,
	}
}

func (a *Authorizer) Authorize(ctx context.Context, subject identity.Identity, room Room) error {
	switch Authorize(subject, room) {
	case Allow:
		return nil
	case NeedsOwnership:
		ownerTenantId, err := a.ownership.OwnerTenantOf(ctx, room.Kind, room.ID)
		if errors.Is(err, ErrEntityNotFound) {
			return unauthorized(room)
		}
		if err != nil {
			return fmt.Errorf("lookup owner of %s: %w", room, err)
		}

		if ownerTenantId == "" || ownerTenantId != subject.TenantID() {
			return unauthorized(room)
		}

		return nil
	}

	return unauthorized(room)
}

func unauthorized(room Room) error {
	return ierr.New(ierr.ErrorCodePermissionDenied, fmt.Errorf("%w: %s", ErrUnauthorized, room))
}
