package domain

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleSeller   Role = "seller"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin || r == RoleSeller
}

func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleSeller
}

// Side is one of the two parties of a conversation. Admins and sellers share
// the staff side.
type Side string

const (
	SideCustomer Side = "customer"
	SideStaff    Side = "staff"
)

// Identity is what the external auth collaborator resolves a bearer credential into.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Name   string `json:"name"`
}

func (i Identity) Validate() error {
	if i.UserID == "" {
		return Errorf(ErrForbidden, "identity has no user id")
	}
	if !i.Role.Valid() {
		return Errorf(ErrForbidden, "unknown role %q", i.Role)
	}
	return nil
}

// Actor converts the identity into the variant consumed by the service layer.
func (i Identity) Actor() Actor {
	if i.Role.IsStaff() {
		return Staff{ID: i.UserID, Role: i.Role, Name: i.Name}
	}
	return Customer{ID: i.UserID, Name: i.Name}
}

// Actor is either Customer or Staff.
type Actor interface {
	ActorID() string
	DisplayName() string
	Side() Side
	isActor()
}

type Customer struct {
	ID   string
	Name string
}

func (c Customer) ActorID() string     { return c.ID }
func (c Customer) DisplayName() string { return displayName(c.Name, "Customer") }
func (Customer) Side() Side            { return SideCustomer }
func (Customer) isActor()              {}

type Staff struct {
	ID   string
	Role Role
	Name string
}

func (s Staff) ActorID() string     { return s.ID }
func (s Staff) DisplayName() string { return displayName(s.Name, "Support") }
func (Staff) Side() Side            { return SideStaff }
func (Staff) isActor()              {}

func displayName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// SenderTypeOf maps the actor's side onto the stored sender type.
func SenderTypeOf(actor Actor) SenderType {
	if actor.Side() == SideCustomer {
		return SenderCustomer
	}
	return SenderStaff
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideCustomer {
		return SideStaff
	}
	return SideCustomer
}
