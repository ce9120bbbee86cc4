package engine

// AppRole is a named security context applied to the connection.
type AppRole struct {
	Name     string
	Password string
}

// IsZero reports whether no role is set
func (r AppRole) IsZero() bool { return r.Name == "" }

// String never exposes the password.
func (r AppRole) String() string {
	if r.IsZero() {
		return "<none>"
	}
	return r.Name
}

// roleStack is a FILO stack of previously applied roles.
type roleStack struct {
	items []AppRole
}

func (s *roleStack) push(r AppRole) {
	s.items = append(s.items, r)
}

func (s *roleStack) pop() (AppRole, bool) {
	if len(s.items) == 0 {
		return AppRole{}, false
	}
	top := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return top, true
}

func (s *roleStack) len() int { return len(s.items) }
