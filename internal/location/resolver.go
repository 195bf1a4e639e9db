// Package location implements the location resolver (spec §4.2):
// expanding %VARIABLE% markers in a manifest location's value against
// the configured game/output roots.
package location

import (
	"fmt"
	"path/filepath"
	"strings"

	"ttwinstall/internal/manifest"
)

// Roots holds the configured game and destination roots used to expand
// location and post-command variable markers (spec §3, §4.2, §4.12).
// Any game root may be empty if that game isn't installed.
type Roots struct {
	Destination string

	FO3Root  string
	FO3Data  string
	FNVRoot  string
	FNVData  string
	TES4Root string
	TES4Data string
}

// markers returns the substitution table in a fixed, deterministic
// order (unused for correctness, but keeps iteration order stable for
// tests/logging).
func (r Roots) markers() []struct{ name, value string } {
	return []struct{ name, value string }{
		{"%FO3ROOT%", r.FO3Root},
		{"%FO3DATA%", r.FO3Data},
		{"%FNVROOT%", r.FNVRoot},
		{"%FNVDATA%", r.FNVData},
		{"%TES4ROOT%", r.TES4Root},
		{"%TES4DATA%", r.TES4Data},
		{"%DESTINATION%", r.Destination},
	}
}

// Expand substitutes every known %VARIABLE% marker in value with its
// configured root. Unknown variables are left literal (spec §4.2:
// "documented behavior"). On a host using '/' as its path separator,
// backslashes are converted to forward slashes after substitution.
func Expand(value string, roots Roots) string {
	out := value
	for _, m := range roots.markers() {
		if m.value == "" {
			continue
		}
		out = strings.ReplaceAll(out, m.name, m.value)
	}
	if filepath.Separator == '/' {
		out = strings.ReplaceAll(out, "\\", "/")
	}
	return out
}

// HasUnexpandedMarker reports whether s still contains a %...% token,
// meaning a variable referenced an unset/unknown root (spec §4.2:
// "unexpanded %…% reaching a filesystem operation is a fatal error for
// that asset").
func HasUnexpandedMarker(s string) bool {
	start := strings.IndexByte(s, '%')
	if start < 0 {
		return false
	}
	end := strings.IndexByte(s[start+1:], '%')
	return end >= 0
}

// Resolver expands manifest locations against a fixed set of roots.
type Resolver struct {
	Roots Roots
}

// NewResolver constructs a Resolver.
func NewResolver(roots Roots) *Resolver {
	return &Resolver{Roots: roots}
}

// ResolvePath returns the fully expanded value string for loc, with no
// interpretation of what kind of path it is.
func (res *Resolver) ResolvePath(loc manifest.Location) string {
	return Expand(loc.Value, res.Roots)
}

// ErrWrongLocationType is returned when a resolver method is used
// against a location of an incompatible type (spec §4.2).
type ErrWrongLocationType struct {
	Want manifest.LocationType
	Got  manifest.LocationType
}

func (e *ErrWrongLocationType) Error() string {
	return fmt.Sprintf("location: expected type %d, got %d", e.Want, e.Got)
}

// GetDirectoryPath returns the directory a type-0 location names, or the
// parent directory of a type-2 (write-archive) location's expanded
// value; it fails for type-1 locations (spec §4.2).
func (res *Resolver) GetDirectoryPath(loc manifest.Location) (string, error) {
	expanded := res.ResolvePath(loc)
	switch loc.Type {
	case manifest.LocationDirectory:
		return expanded, nil
	case manifest.LocationWriteArchive:
		return filepath.Dir(filepath.FromSlash(expanded)), nil
	default:
		return "", &ErrWrongLocationType{Want: manifest.LocationDirectory, Got: loc.Type}
	}
}

// GetBsaPath returns the expanded path of a type-1 (read-archive)
// location (spec §4.2).
func (res *Resolver) GetBsaPath(loc manifest.Location) (string, error) {
	if loc.Type != manifest.LocationReadArchive {
		return "", &ErrWrongLocationType{Want: manifest.LocationReadArchive, Got: loc.Type}
	}
	return res.ResolvePath(loc), nil
}

// IsBsaLocation reports whether loc is a read-archive location.
func (res *Resolver) IsBsaLocation(loc manifest.Location) bool {
	return loc.Type == manifest.LocationReadArchive
}

// IsBsaCreationLocation reports whether loc is a write-archive location.
func (res *Resolver) IsBsaCreationLocation(loc manifest.Location) bool {
	return loc.Type == manifest.LocationWriteArchive
}
