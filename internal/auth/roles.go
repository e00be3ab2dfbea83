package auth

// Built-in role names.
const (
	RoleAdmin   = "admin"
	RolePremium = "premium"
	RoleBasic   = "basic"
)

// Hierarchy is a directed acyclic graph of role inheritance. An edge
// role -> includes means holders of role also hold includes.
type Hierarchy struct {
	includes map[string][]string
}

// NewHierarchy returns an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{includes: make(map[string][]string)}
}

// DefaultHierarchy returns the built-in admin > premium > basic chain.
func DefaultHierarchy() *Hierarchy {
	h := NewHierarchy()
	h.AddInheritance(RoleAdmin, RolePremium)
	h.AddInheritance(RolePremium, RoleBasic)
	return h
}

// AddInheritance records that holders of role also hold included.
func (h *Hierarchy) AddInheritance(role, included string) {
	h.includes[role] = append(h.includes[role], included)
}

// Expand returns the transitive closure of the given direct roles.
// The walk tracks visited roles, so a cycle introduced by mistake
// terminates instead of looping.
func (h *Hierarchy) Expand(direct []string) map[string]bool {
	expanded := make(map[string]bool, len(direct))
	queue := append([]string{}, direct...)
	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]
		if role == "" || expanded[role] {
			continue
		}
		expanded[role] = true
		queue = append(queue, h.includes[role]...)
	}
	return expanded
}
