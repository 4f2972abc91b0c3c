package auth

import (
	"fmt"
	"slices"
)

// Guard decides whether the caller owning claims may proceed. It returns an
// *Error (via Forbidden or Unauthorized) to deny.
type Guard func(claims *Claims) error

// Authenticated only requires valid claims.
func Authenticated() Guard {
	return func(claims *Claims) error {
		if claims == nil {
			return Unauthorized(MsgMissingHeader, nil)
		}
		return nil
	}
}

// RequireRoles allows callers holding any of roles in realm_access. No roles allows everyone.
func RequireRoles(roles ...string) Guard {
	return func(claims *Claims) error {
		if len(roles) == 0 {
			return nil
		}
		if claims == nil || claims.RealmAccess == nil || claims.RealmAccess.Roles == nil {
			return Forbidden(MsgRolesNotFound)
		}
		for _, role := range roles {
			if claims.HasRealmRole(role) {
				return nil
			}
		}
		return Forbidden(MsgInsufficientRoles)
	}
}

// RequirePermissions allows callers holding all of permissions as client roles of clientID.
func RequirePermissions(clientID string, permissions ...string) Guard {
	return func(claims *Claims) error {
		if len(permissions) == 0 {
			return nil
		}
		if claims == nil {
			return Forbidden(MsgPermissionsNotFound)
		}
		granted, ok := claims.ClientRoles(clientID)
		if !ok {
			return Forbidden(MsgPermissionsNotFound)
		}
		for _, p := range permissions {
			if !slices.Contains(granted, p) {
				return Forbidden(MsgInsufficientPerms)
			}
		}
		return nil
	}
}

// AccessPolicy is an attribute based rule evaluated against custom token claims.
type AccessPolicy struct {
	Resource   string
	Action     string
	Attributes []string
}

// RequirePolicy checks allowedResources, allowedActions and truthy attributes.
func RequirePolicy(policy AccessPolicy) Guard {
	return func(claims *Claims) error {
		if claims == nil || claims.AccessToken == "" {
			return Forbidden(MsgNoAccessToken)
		}
		if policy.Resource != "" && !slices.Contains(claims.AllowedResources, policy.Resource) {
			return Forbidden(fmt.Sprintf("Access to resource '%s' is denied.", policy.Resource))
		}
		if policy.Action != "" && !slices.Contains(claims.AllowedActions, policy.Action) {
			return Forbidden(fmt.Sprintf("Action '%s' is not permitted.", policy.Action))
		}
		for _, attr := range policy.Attributes {
			if !truthy(claims.Attributes[attr]) {
				return Forbidden(fmt.Sprintf("Missing required attribute '%s'.", attr))
			}
		}
		return nil
	}
}

// Check runs guards in order and returns the first denial.
func Check(claims *Claims, guards ...Guard) error {
	for _, guard := range guards {
		if err := guard(claims); err != nil {
			return err
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}
