package core

import "fmt"

type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (identity Identity) String() string {
	return fmt.Sprintf("%s <%s>", identity.Name, identity.Email)
}

// IsZero reports whether neither name nor email is set
func (identity Identity) IsZero() bool {
	return identity.Name == "" && identity.Email == ""
}
