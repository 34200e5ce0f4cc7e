package models

import "fmt"

// Role is the closed set of roles an actor can hold
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleRTBStaff
	RoleHeadteacher
	RoleSchoolStaff
	RoleSchool
)

var roleNames = map[Role]string{
	RoleAdmin:       "admin",
	RoleRTBStaff:    "rtb-staff",
	RoleHeadteacher: "headteacher",
	RoleSchoolStaff: "school-staff",
	RoleSchool:      "school",
}

// ParseRole converts a wire role name into a Role
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// IsStaff reports whether the role may review and assign
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleRTBStaff
}

// IsSchool reports whether the role acts on behalf of a single school
func (r Role) IsSchool() bool {
	return r == RoleSchool || r == RoleHeadteacher || r == RoleSchoolStaff
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Actor is the caller of a workflow operation. It is always passed
// explicitly; nothing in the core reads an ambient current user.
type Actor struct {
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	SchoolID string `json:"school_id,omitempty"`
}

// OwnsSchool reports whether a school-side actor is bound to schoolID
func (a Actor) OwnsSchool(schoolID string) bool {
	return a.Role.IsSchool() && a.SchoolID != "" && a.SchoolID == schoolID
}
