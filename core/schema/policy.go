package schema

// Operation is an operation a policy rule applies to.
type Operation string

const (
	OpCreate   Operation = "create"
	OpRead     Operation = "read"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpWildcard Operation = "*"
)

// Operations lists the concrete operations, in evaluation order.
var Operations = []Operation{OpCreate, OpRead, OpUpdate, OpDelete}

// Valid reports whether o is a concrete operation or the wildcard.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpRead, OpUpdate, OpDelete, OpWildcard:
		return true
	}
	return false
}

// Access is the access level granted by a rule.
type Access string

const (
	AccessPublic        Access = "public"
	AccessAuthenticated Access = "authenticated"
	AccessRoles         Access = "roles"
	AccessDeny          Access = "deny"
)

// PolicyRule grants Access on Operation. Roles is set only for AccessRoles.
type PolicyRule struct {
	Operation Operation `json:"operation"`
	Access    Access    `json:"access"`
	Roles     []string  `json:"roles,omitempty"`
}
