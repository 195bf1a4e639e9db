// Package errcollect provides the subject-tagged error aggregation idiom
// used in this module wherever multiple independent failures need to be
// combined into a single report (validator checks, cache teardown).
//
// Grounded on holo-build's errorcollector.go, but carried forward as a
// tagged collector rather than a flat []error: this module's two call
// sites (bsaread.Cache.Dispose, validate.Validator.Run) each aggregate
// failures that belong to a distinct subject (an archive path, a
// manifest check), the same per-entry shape internal/report.Logger uses
// for its errors/warnings/missing categories.
package errcollect

import (
	"errors"
	"fmt"
)

// Entry is one collected failure, optionally attributed to a subject.
type Entry struct {
	Subject string
	Err     error
}

func (e Entry) String() string {
	if e.Subject == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Subject, e.Err.Error())
}

// Collector aggregates entries so a caller can keep going past
// individual failures and report them all together at the end.
type Collector struct {
	Entries []Entry
}

// AddSubject records err against subject. A nil err is a no-op, so
// callers can write c.AddSubject(path, mightFail()) unconditionally.
func (c *Collector) AddSubject(subject string, err error) {
	if err != nil {
		c.Entries = append(c.Entries, Entry{Subject: subject, Err: err})
	}
}

// Add records an untagged error. Equivalent to AddSubject("", err).
func (c *Collector) Add(err error) {
	c.AddSubject("", err)
}

// Addf records an untagged error built from fmt.Errorf(format, args...).
// If no args are given, format is used as the error string verbatim.
func (c *Collector) Addf(format string, args ...interface{}) {
	if len(args) > 0 {
		c.AddSubject("", fmt.Errorf(format, args...))
	} else {
		c.AddSubject("", errors.New(format))
	}
}

// Empty reports whether no errors have been collected.
func (c *Collector) Empty() bool {
	return len(c.Entries) == 0
}

// Join concatenates every collected entry's rendered form, one per
// line, subject prefixed where one was given.
func (c *Collector) Join() string {
	var out string
	for i, e := range c.Entries {
		if i > 0 {
			out += "\n"
		}
		out += e.String()
	}
	return out
}
