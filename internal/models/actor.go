package models

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Actor is the authenticated caller as resolved by the auth layer.
type Actor struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

func (a Actor) IsAnonymous() bool {
	return a.UserID <= 0
}

func (a Actor) IsAdmin() bool {
	return !a.IsAnonymous() && a.Role == RoleAdmin
}
