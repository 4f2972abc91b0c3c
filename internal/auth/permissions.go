package auth

import (
	"slices"

	"github.com/cockroachdb/errors"
)

type Action string

type Resource string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

const (
	ResourceReports Resource = "reports"
)

// AllowedPermissions lists the actions that exist for each resource.
var AllowedPermissions = map[Resource][]Action{
	ResourceReports: {ActionRead, ActionCreate, ActionUpdate, ActionDelete},
}

// Permission returns the client role name "action:resource" granting action on resource.
func Permission(action Action, resource Resource) (string, error) {
	actions, ok := AllowedPermissions[resource]
	if !ok {
		return "", errors.Newf("unknown resource %q", resource)
	}
	if !slices.Contains(actions, action) {
		return "", errors.Newf("action %q is not allowed on %q", action, resource)
	}
	return string(action) + ":" + string(resource), nil
}

// MustPermission is Permission for route registration; it panics on a pair that does not exist.
func MustPermission(action Action, resource Resource) string {
	p, err := Permission(action, resource)
	if err != nil {
		panic(err)
	}
	return p
}
