package identity

import "strings"

// Actions permitted in permission codenames.
const (
	ActionView   = "view"
	ActionAdd    = "add"
	ActionChange = "change"
	ActionDelete = "delete"
)

// Actions lists every action a permission codename may carry.
var Actions = []string{ActionView, ActionAdd, ActionChange, ActionDelete}

// GroupName derives the permission-group name a role resolves to. Each role
// maps to exactly one group; the mapping is this naming convention and
// nothing else.
func GroupName(applicationCode, roleCode string) string {
	return applicationCode + "_" + roleCode
}

// Codename builds the flat permission codename checked during
// authorization. The resource name is lowercased.
func Codename(action, resource string) string {
	return action + "_" + strings.ToLower(resource)
}

// SplitCodename regroups a flat codename into (action, resource) by
// splitting on the last underscore: the resource name is the final
// underscore-delimited segment. Returns ok=false for codenames without an
// underscore.
func SplitCodename(codename string) (action, resource string, ok bool) {
	i := strings.LastIndex(codename, "_")
	if i <= 0 || i == len(codename)-1 {
		return "", "", false
	}
	return codename[:i], codename[i+1:], true
}

// ValidAction reports whether action is one of the recognized codename actions.
func ValidAction(action string) bool {
	switch action {
	case ActionView, ActionAdd, ActionChange, ActionDelete:
		return true
	}
	return false
}
