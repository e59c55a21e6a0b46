package security

import "sort"

// Permission names known to the FlashNote host.
const (
	PermissionNotesRead     = "notes.read"
	PermissionNotesWrite    = "notes.write"
	PermissionUI            = "ui"
	PermissionNotifications = "notifications"
	PermissionClipboard     = "clipboard"
	PermissionStorage       = "storage"
)

// PermissionSet is an immutable snapshot of the grants the host supplied
// in the construction payload. Absent names are not granted.
type PermissionSet struct {
	grants map[string]bool
}

// NewPermissionSet copies the given grants into an immutable set. A nil
// map yields an empty set.
func NewPermissionSet(grants map[string]bool) *PermissionSet {
	copied := make(map[string]bool, len(grants))
	for name, granted := range grants {
		copied[name] = granted
	}
	return &PermissionSet{grants: copied}
}

// Has returns true if the named permission is granted.
func (s *PermissionSet) Has(name string) bool {
	return s.grants[name]
}

// List returns the granted permission names in sorted order.
func (s *PermissionSet) List() []string {
	names := make([]string, 0, len(s.grants))
	for name, granted := range s.grants {
		if granted {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// scopePermissions maps an RPC scope to the permission that gates it.
// Scopes not listed here are dispatched without a local pre-check; the
// host remains authoritative either way.
var scopePermissions = map[string]string{
	"notes":         PermissionNotesRead,
	"ui":            PermissionUI,
	"notifications": PermissionNotifications,
	"clipboard":     PermissionClipboard,
}

// ScopePermission returns the permission gating an RPC scope, if any.
func ScopePermission(scope string) (string, bool) {
	name, ok := scopePermissions[scope]
	return name, ok
}

// AllowsScope reports whether the set permits RPC calls in the given
// scope. Scopes without a known gating permission are allowed through.
func (s *PermissionSet) AllowsScope(scope string) bool {
	name, ok := ScopePermission(scope)
	if !ok {
		return true
	}
	return s.grants[name]
}
