// Package model defines data structures for the portal messaging system.
package model

import "slices"

// Role represents a portal user's role.
type Role string

const (
	RoleAuthor      Role = "author"
	RoleEditor      Role = "editor"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
)

// Valid reports whether r is one of the known portal roles.
func (r Role) Valid() bool {
	_, ok := contactMatrix[r]
	return ok
}

// contactMatrix lists, per role, the roles its users may message.
var contactMatrix = map[Role][]Role{
	RoleAuthor:      {RoleEditor, RoleCoordinator},
	RoleEditor:      {RoleAuthor, RoleCoordinator, RoleAdmin},
	RoleCoordinator: {RoleAuthor, RoleEditor, RoleAdmin},
	RoleAdmin:       {RoleEditor, RoleCoordinator},
}

// ContactRoles returns the roles a user with role r may message.
// Unknown roles get no contacts.
func ContactRoles(r Role) []Role {
	return slices.Clone(contactMatrix[r])
}

// CanMessage reports whether a user with role from may message a user with role to.
func CanMessage(from, to Role) bool {
	return slices.Contains(contactMatrix[from], to)
}

// User is a portal identity. The chat core treats it as opaque.
type User struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Email  string `json:"email" yaml:"email"`
	Role   Role   `json:"role" yaml:"role"`
	Avatar string `json:"avatar,omitempty" yaml:"avatar,omitempty"`
}
