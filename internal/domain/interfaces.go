package domain

// Session reports the authenticated user scope.
type Session interface {
	// CurrentUser returns the user id and whether someone is signed in
	CurrentUser() (string, bool)
}
