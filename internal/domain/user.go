package domain

// Role is the access level of an authenticated caller. Account management and
// token issuance live outside this service; only the role encoded in the
// token matters here.
type Role string

// Roles.
const (
	RoleReporter Role = "reporter"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRank = map[Role]int{
	RoleReporter: 1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// HasPermission reports whether the role meets the minimum required role.
func (r Role) HasPermission(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// IsOperator reports whether the caller may drive the alert state machine.
func (r Role) IsOperator() bool {
	return r.HasPermission(RoleOperator)
}

// Actor identifies an authenticated caller.
type Actor struct {
	ID   string
	Role Role
}

// PersonalContact is one of a reporter's personal emergency contacts.
// Contact management belongs to the account collaborator; dispatch only
// reads the address book at fan-out time.
type PersonalContact struct {
	Name    string              `json:"name"`
	Channel NotificationChannel `json:"channel"`
	Address string              `json:"address"`
}
