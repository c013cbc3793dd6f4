// Package version provides version information and engine compatibility
// checks.
package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// Version is the current version of dontbug
	Version = "0.2.0"

	// GitHubRepo is the repository path
	GitHubRepo = "ctagard/dontbug"
)

// GetVersion returns the current version
func GetVersion() string {
	return Version
}

// CheckConstraint reports whether this engine satisfies a program's
// .engine constraint such as ">= 0.1" or "~0.2". An empty constraint is
// always satisfied.
func CheckConstraint(constraint string) error {
	return checkAgainst(constraint, Version)
}

func checkAgainst(constraint, engine string) error {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid engine constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(engine)
	if err != nil {
		return fmt.Errorf("invalid engine version %q: %w", engine, err)
	}
	if ok, errs := c.Validate(v); !ok {
		if len(errs) > 0 {
			return fmt.Errorf("engine %s does not satisfy %q: %w", engine, constraint, errs[0])
		}
		return fmt.Errorf("engine %s does not satisfy %q", engine, constraint)
	}
	return nil
}

// Compare compares two semver strings.
// Returns -1 if v1 < v2, 0 if equal, 1 if v1 > v2. Unparsable versions
// sort first.
func Compare(v1, v2 string) int {
	a, errA := semver.NewVersion(v1)
	b, errB := semver.NewVersion(v2)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return a.Compare(b)
}
