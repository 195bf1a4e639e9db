// Package report implements the installation logger (C14, spec §4.13,
// §6): a thread-safe collector of per-asset errors, warnings, and
// missing-file entries, rendered at the end of a run into
// ttw-installation.log.
//
// Grounded on the teacher's ErrorCollector idiom (ttwinstall/internal/errcollect,
// itself ported from holo-build's errorcollector.go), generalized here
// from a flat error list to three separately tracked categories, all
// guarded by one mutex, matching the error taxonomy in spec §7.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LogFileName is the report file emitted alongside the destination
// (spec §6: "ttw-installation.log summarizing errors/warnings/missing
// files").
const LogFileName = "ttw-installation.log"

// Entry is one recorded line in a category.
type Entry struct {
	Subject string
	Message string
}

func (e Entry) String() string {
	if e.Subject == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Subject, e.Message)
}

// Logger accumulates errors, warnings, and missing-file entries across
// concurrent workers (spec §5 "Installation logger: mutex-protected; no
// lock held across I/O").
type Logger struct {
	mu       sync.Mutex
	errors   []Entry
	warnings []Entry
	missing  []Entry
}

// NewLogger returns an empty installation logger.
func NewLogger() *Logger {
	return &Logger{}
}

// Error records a failure against subject.
func (l *Logger) Error(subject, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, Entry{Subject: subject, Message: message})
}

// Warn records a non-fatal condition against subject.
func (l *Logger) Warn(subject, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, Entry{Subject: subject, Message: message})
}

// Missing records a source file that could not be located (spec §7
// "Missing source ... recorded in the missing-file list, installation
// continues").
func (l *Logger) Missing(subject, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.missing = append(l.missing, Entry{Subject: subject, Message: message})
}

// Counts returns the current error/warning/missing-file counts.
func (l *Logger) Counts() (errs, warns, missing int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors), len(l.warnings), len(l.missing)
}

// HasErrors reports whether any error entries were recorded.
func (l *Logger) HasErrors() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors) > 0
}

// Render produces the installation log's text content.
func (l *Logger) Render() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	writeSection(&b, "Errors", l.errors)
	writeSection(&b, "Warnings", l.warnings)
	writeSection(&b, "Missing files", l.missing)
	return b.String()
}

func writeSection(b *strings.Builder, title string, entries []Entry) {
	fmt.Fprintf(b, "%s (%d):\n", title, len(entries))
	for _, e := range entries {
		fmt.Fprintf(b, "  %s\n", e.String())
	}
	b.WriteString("\n")
}

// WriteTo emits the installation log to <dir>/ttw-installation.log. The
// write happens without the logger's lock held (spec §5: "no lock held
// across I/O").
func (l *Logger) WriteTo(dir string) error {
	content := l.Render()
	path := filepath.Join(dir, LogFileName)
	return os.WriteFile(path, []byte(content), 0o644)
}
