// Package validate runs manifest checks (spec §4.3): file-exists with
// optional content-hash verification, the stubbed free-size check, and
// the restricted-path check.
package validate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ttwinstall/internal/errcollect"
	"ttwinstall/internal/hashsum"
	"ttwinstall/internal/location"
	"ttwinstall/internal/manifest"
)

// restrictedSubstring is the case-insensitive substring that marks a
// resolved path as living in a restricted area (spec §4.3).
const restrictedSubstring = "program files"

// Result is the outcome of validating one check.
type Result struct {
	Check manifest.Check
	Pass  bool
	Error string
}

// Validator evaluates manifest checks against a resolved set of
// locations.
type Validator struct {
	Resolver *location.Resolver
	Profile  []manifest.Location
}

// NewValidator constructs a Validator bound to a resolver and the
// profile's location table.
func NewValidator(res *location.Resolver, profileLocations []manifest.Location) *Validator {
	return &Validator{Resolver: res, Profile: profileLocations}
}

// Run evaluates every check and returns overall pass/fail plus a
// combined error report (spec §4.3: "(pass, errorReport)").
func (v *Validator) Run(checks []manifest.Check) (pass bool, errorReport string) {
	var ec errcollect.Collector
	allPass := true

	for _, c := range checks {
		res := v.runOne(c)
		if !res.Pass {
			allPass = false
			if res.Error != "" {
				ec.AddSubject(c.File, errors.New(res.Error))
			}
		}
	}

	return allPass, ec.Join()
}

func (v *Validator) runOne(c manifest.Check) Result {
	switch c.Type {
	case manifest.CheckFileExists:
		return v.checkFileExists(c)
	case manifest.CheckFreeSize:
		// Stubbed: the reference implementation disables this check
		// (spec §4.3, §9 open question). Always succeeds.
		return Result{Check: c, Pass: true}
	case manifest.CheckNoRestrictedPath:
		return v.checkNoRestrictedPath(c)
	default:
		return Result{Check: c, Pass: false, Error: fmt.Sprintf("unknown check type %d", c.Type)}
	}
}

func (v *Validator) locationDir(c manifest.Check) (string, error) {
	if c.Loc < 0 || c.Loc >= len(v.Profile) {
		return "", fmt.Errorf("check references out-of-range location %d", c.Loc)
	}
	loc := v.Profile[c.Loc]
	return v.Resolver.GetDirectoryPath(loc)
}

func (v *Validator) checkFileExists(c manifest.Check) Result {
	dir, err := v.locationDir(c)
	if err != nil {
		return Result{Check: c, Pass: false, Error: err.Error()}
	}

	full := filepath.Join(dir, filepath.FromSlash(c.File))
	full = filepath.Clean(full)

	_, statErr := os.Stat(full)
	exists := statErr == nil

	predicate := exists
	if c.Inverted {
		predicate = !exists
	}

	if !predicate {
		return Result{Check: c, Pass: false, Error: failureMessage(c, fmt.Sprintf("expected file %s to %sexist", full, invertWord(c.Inverted)))}
	}

	if exists && len(c.Checksums) > 0 {
		ok, err := hashsum.MatchesAny(full, c.Checksums)
		if err != nil {
			return Result{Check: c, Pass: false, Error: failureMessage(c, fmt.Sprintf("could not hash %s: %v", full, err))}
		}
		if !ok {
			return Result{Check: c, Pass: false, Error: failureMessage(c, fmt.Sprintf("checksum mismatch for %s (expected one of %s)", full, strings.Join(c.Checksums, ", ")))}
		}
	}

	return Result{Check: c, Pass: true}
}

func (v *Validator) checkNoRestrictedPath(c manifest.Check) Result {
	dir, err := v.locationDir(c)
	if err != nil {
		return Result{Check: c, Pass: false, Error: err.Error()}
	}
	full := filepath.Join(dir, filepath.FromSlash(c.File))

	isRestricted := strings.Contains(strings.ToLower(full), restrictedSubstring)
	predicate := !isRestricted
	if c.Inverted {
		predicate = isRestricted
	}

	if !predicate {
		return Result{Check: c, Pass: false, Error: failureMessage(c, fmt.Sprintf("path %s is in a restricted area", full))}
	}
	return Result{Check: c, Pass: true}
}

func invertWord(inverted bool) string {
	if inverted {
		return "not "
	}
	return ""
}

func failureMessage(c manifest.Check, msg string) string {
	if c.CustomMessage != "" {
		return c.CustomMessage + ": " + msg
	}
	return msg
}
