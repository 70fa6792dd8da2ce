package types

import "regexp"

var clientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// IsValidClientID checks the caller-supplied externalId format. Uniqueness
// is not enforced anywhere; see the registry for duplicate handling.
func IsValidClientID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return clientIDRegex.MatchString(id)
}

// IsValidRole reports whether role is one of the two relay roles.
func IsValidRole(role string) bool {
	return role == RoleParticipant || role == RoleCoordinator
}
