// Package access provides the capability object privileged operations are
// checked against. Role grants are explicit state held by the host and
// passed to components, never ambient globals.
package access

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when an actor lacks the role an operation
// requires.
var ErrUnauthorized = errors.New("access: unauthorized")

// Role names a capability.
type Role string

const (
	// RoleAdmin may grant roles and pause/unpause pools.
	RoleAdmin Role = "admin"

	// RoleManager may create pools and fund reward schedules.
	RoleManager Role = "manager"

	// RoleOracleTrigger may fire oracle-conditioned position unlocks.
	RoleOracleTrigger Role = "oracle-trigger"
)

// Roles maps accounts to granted capabilities.
type Roles struct {
	grants map[Role]map[string]bool
}

// NewRoles creates a capability set with a single admin account. The admin
// also holds the manager role.
func NewRoles(admin string) *Roles {
	r := &Roles{grants: make(map[Role]map[string]bool)}
	r.grant(RoleAdmin, admin)
	r.grant(RoleManager, admin)
	return r
}

func (r *Roles) grant(role Role, account string) {
	if r.grants[role] == nil {
		r.grants[role] = make(map[string]bool)
	}
	r.grants[role][account] = true
}

// Grant gives account the role. Only an admin may grant.
func (r *Roles) Grant(actor string, role Role, account string) error {
	if err := r.Require(RoleAdmin, actor); err != nil {
		return err
	}
	r.grant(role, account)
	return nil
}

// Revoke removes a role from an account. Only an admin may revoke.
func (r *Roles) Revoke(actor string, role Role, account string) error {
	if err := r.Require(RoleAdmin, actor); err != nil {
		return err
	}
	delete(r.grants[role], account)
	return nil
}

// Require returns ErrUnauthorized unless account holds role.
func (r *Roles) Require(role Role, account string) error {
	if r.grants[role][account] {
		return nil
	}
	return fmt.Errorf("%w: %s lacks role %s", ErrUnauthorized, account, role)
}
