package common

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	// RoleGovernance may create pools, bind borrowers, flag defaults and
	// toggle the global pause.
	RoleGovernance = "governance"
	// RolePositionManager is held by the position ledger when it drives the
	// pool engine on behalf of lenders.
	RolePositionManager = "position_manager"
)

// Authorization is the capability context attached to every mutating call.
type Authorization struct {
	Caller common.Address
	Roles  []string
}

// NewAuthorization builds a context for caller holding the supplied roles.
func NewAuthorization(caller common.Address, roles ...string) Authorization {
	return Authorization{Caller: caller, Roles: append([]string(nil), roles...)}
}

// HasRole reports whether the context carries role.
func (a Authorization) HasRole(role string) bool {
	role = strings.TrimSpace(role)
	if role == "" {
		return false
	}
	for _, held := range a.Roles {
		if strings.EqualFold(strings.TrimSpace(held), role) {
			return true
		}
	}
	return false
}

// Require returns ErrUnauthorized unless the context carries role.
func (a Authorization) Require(role string) error {
	if !a.HasRole(role) {
		return ErrUnauthorized
	}
	return nil
}

// WithRole returns a copy of the context with role added.
func (a Authorization) WithRole(role string) Authorization {
	if a.HasRole(role) {
		return a
	}
	out := a
	out.Roles = append(append([]string(nil), a.Roles...), role)
	return out
}
