package portal

import "fmt"

// LoginError reports a failed authentication attempt. Stage names the step
// that failed ("navigate", "redirect", "landing").
type LoginError struct {
	Stage string
	Err   error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed at %s: %v", e.Stage, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

// NavigationError reports a failure to open a named report view.
type NavigationError struct {
	Report string
	Err    error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %q: %v", e.Report, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ErrSessionExpired is returned by KeepAlive when a reload lands back on the
// login page, meaning the authenticated session is gone and the whole flow
// must restart from Login.
var ErrSessionExpired = fmt.Errorf("portal session expired")

// ParseError reports paginator summary text that does not match the expected
// "(N registros)" shape. Callers degrade to a zero record count rather than
// aborting the cycle.
type ParseError struct {
	Text string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("paginator summary %q does not contain a record count", e.Text)
}
