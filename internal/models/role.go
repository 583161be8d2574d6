package models

// Role is the authenticated actor's role as carried in access tokens.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// SenderKind maps a role onto the conversation side it writes as.
func (r Role) SenderKind() SenderKind {
	if r.IsStaff() {
		return SenderStaff
	}
	return SenderCustomer
}
