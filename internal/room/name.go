package room

import (
	"errors"
	"regexp"
	"strings"

	"github.com/goevery/broker/internal/ierr"
)

var ErrInvalidName = errors.New("invalid room name")

type Kind string

const (
	KindBranch   Kind = "branch"
	KindUser     Kind = "user"
	KindRole     Kind = "role"
	KindOrder    Kind = "order"
	KindMachine  Kind = "machine"
	KindCustomer Kind = "customer"
)

// IsEntity reports whether rooms of the kind are scoped to a business entity
// whose owning tenant has to be looked up before admission.
func (k Kind) IsEntity() bool {
	return k == KindOrder || k == KindMachine || k == KindCustomer
}

const maxNameLength = 256

var segmentRegex = regexp.MustCompile(`^[\w-]+$`)

// Room is a parsed room name: kind:id or role:roleName:id.
type Room struct {
	Kind Kind
	ID   string
	Role string
}

func (r Room) String() string {
	if r.Kind == KindRole {
		return string(KindRole) + ":" + r.Role + ":" + r.ID
	}

	return string(r.Kind) + ":" + r.ID
}

func Parse(name string) (Room, error) {
	if name == "" || len(name) > maxNameLength {
		return Room{}, invalidName()
	}

	segments := strings.Split(name, ":")
	for _, segment := range segments {
		if !segmentRegex.MatchString(segment) {
			return Room{}, invalidName()
		}
	}

	kind := Kind(segments[0])

	switch {
	case kind == KindRole && len(segments) == 3:
		return Room{Kind: KindRole, Role: segments[1], ID: segments[2]}, nil
	case kind == KindBranch || kind == KindUser || kind.IsEntity():
		if len(segments) != 2 {
			return Room{}, invalidName()
		}

		return Room{Kind: kind, ID: segments[1]}, nil
	}

	return Room{}, invalidName()
}

func IsValidName(name string) bool {
	_, err := Parse(name)

	return err == nil
}

func invalidName() error {
	return ierr.New(ierr.ErrorCodeInvalidArgument, ErrInvalidName)
}

func Branch(tenantId string) string {
	return Room{Kind: KindBranch, ID: tenantId}.String()
}

func User(identityId string) string {
	return Room{Kind: KindUser, ID: identityId}.String()
}

func Role(role string, tenantId string) string {
	return Room{Kind: KindRole, Role: role, ID: tenantId}.String()
}

func Entity(kind Kind, entityId string) string {
	return Room{Kind: kind, ID: entityId}.String()
}
