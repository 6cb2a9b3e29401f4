package realtime

import "strings"

// AuthState is what the realtime layer needs to know about the signed-in user.
type AuthState struct {
	Token  string
	UserID string
	Role   string
}

func (a AuthState) Authenticated() bool { return a.Token != "" && a.UserID != "" }

// OwnerScope is the resolved data partition. An empty OwnerID means unscoped.
// Pending is set for privileged users who have not picked an owner yet; push
// and poll stay off until the scope is resolved.
type OwnerScope struct {
	OwnerID string
	Pending bool
}

func (s OwnerScope) Defined() bool { return s.OwnerID != "" }

// ScopeResolver decides the effective owner scope.
type ScopeResolver struct {
	privileged map[string]struct{}
}

func NewScopeResolver(privilegedRoles []string) *ScopeResolver {
	m := make(map[string]struct{}, len(privilegedRoles))
	for _, r := range privilegedRoles {
		if r = strings.TrimSpace(r); r != "" {
			m[strings.ToLower(r)] = struct{}{}
		}
	}
	return &ScopeResolver{privileged: m}
}

func (r *ScopeResolver) Privileged(role string) bool {
	_, ok := r.privileged[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// AllOwners is the selection a privileged user makes to see every owner.
const AllOwners = "*"

// Resolve returns the user's own id for non-privileged roles, ignoring any
// selection. Privileged roles get their explicit selection (AllOwners meaning
// unscoped), or a pending scope when nothing was selected.
func (r *ScopeResolver) Resolve(auth AuthState, selection string) OwnerScope {
	if !r.Privileged(auth.Role) {
		return OwnerScope{OwnerID: auth.UserID}
	}
	switch sel := strings.TrimSpace(selection); sel {
	case "":
		return OwnerScope{Pending: true}
	case AllOwners:
		return OwnerScope{}
	default:
		return OwnerScope{OwnerID: sel}
	}
}
