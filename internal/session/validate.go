package session

import (
	"fmt"
	"regexp"
)

// Names start with a letter or digit so they never read as a CLI flag.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName checks that name is usable as a session directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use up to 64 of [a-z0-9_-], starting with a letter or digit", name)
	}
	return nil
}
