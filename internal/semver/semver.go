package semver

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a semantic version.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3.
type Version struct {
	v *mm.Version
}

// Zero is the version assumed when a manifest does not declare one.
var Zero = Version{v: mm.MustParse("0.0.0")}

// Constraint is a semantic version constraint.
//
// Examples:
// - ">=1.2.0 <2.0.0"
// - "^1.0.0"
// - "[1.0,2.0)" (interval notation, see ParseRange)
type Constraint struct {
	c   *mm.Constraints
	raw string
}

func ParseVersion(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Zero, nil
	}
	v, err := mm.NewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return Version{v: v}, nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	if v.v == nil {
		return "0.0.0"
	}
	return v.v.String()
}

func (v Version) IsZero() bool {
	return v.v == nil || (v.v.Major() == 0 && v.v.Minor() == 0 && v.v.Patch() == 0 && v.v.Prerelease() == "")
}

func ParseConstraint(raw string) (Constraint, error) {
	c, err := mm.NewConstraint(raw)
	if err != nil {
		return Constraint{}, fmt.Errorf("semver: parse constraint %q: %w", raw, err)
	}
	return Constraint{c: c, raw: raw}, nil
}

func MustParseConstraint(raw string) Constraint {
	c, err := ParseConstraint(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseRange parses a version range as written in module manifests.
//
// Three forms are accepted:
//   - "" or "*": any version
//   - interval notation "[1.0,2.0)", "(1.0,2.0]", "[1.2.3,1.2.3]"
//   - a bare version "1.2", meaning "1.2 or later"
//
// Anything else is handed to ParseConstraint unchanged.
func ParseRange(raw string) (Constraint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return ParseConstraint("*")
	}
	if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "(") {
		return parseInterval(raw)
	}
	if _, err := mm.NewVersion(raw); err == nil {
		c, err := ParseConstraint(">=" + raw)
		if err != nil {
			return Constraint{}, err
		}
		c.raw = raw
		return c, nil
	}
	return ParseConstraint(raw)
}

func MustParseRange(raw string) Constraint {
	c, err := ParseRange(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func parseInterval(raw string) (Constraint, error) {
	if len(raw) < 2 {
		return Constraint{}, fmt.Errorf("semver: parse range %q: too short", raw)
	}
	lower, upper := raw[0], raw[len(raw)-1]
	if upper != ']' && upper != ')' {
		return Constraint{}, fmt.Errorf("semver: parse range %q: missing closing bracket", raw)
	}
	bounds := strings.Split(raw[1:len(raw)-1], ",")
	if len(bounds) != 2 {
		return Constraint{}, fmt.Errorf("semver: parse range %q: want two bounds", raw)
	}
	low, high := strings.TrimSpace(bounds[0]), strings.TrimSpace(bounds[1])
	if low == "" || high == "" {
		return Constraint{}, fmt.Errorf("semver: parse range %q: empty bound", raw)
	}

	lowOp, highOp := ">", "<"
	if lower == '[' {
		lowOp = ">="
	}
	if upper == ']' {
		highOp = "<="
	}
	c, err := ParseConstraint(fmt.Sprintf("%s%s, %s%s", lowOp, low, highOp, high))
	if err != nil {
		return Constraint{}, err
	}
	c.raw = raw
	return c, nil
}

func (c Constraint) String() string {
	return c.raw
}

func Satisfies(v Version, c Constraint) bool {
	if v.v == nil || c.c == nil {
		return false
	}
	return c.c.Check(v.v)
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// MaxSatisfying returns the highest version in candidates that satisfies c.
//
// If multiple versions are equal, the first encountered wins.
func MaxSatisfying(c Constraint, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !Satisfies(candidate, c) {
			continue
		}
		if !found || Compare(candidate, best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}
