// Package manifest loads the package manifest document (spec §3, §4.1,
// §6) into typed entities: package metadata, per-profile variable and
// location tables, and flat asset/check/post-command lists.
package manifest

import "fmt"

// LocationType discriminates the three location kinds (spec §3).
type LocationType int

const (
	// LocationDirectory resolves to a filesystem path.
	LocationDirectory LocationType = 0
	// LocationReadArchive resolves to the path of an existing archive
	// file to read.
	LocationReadArchive LocationType = 1
	// LocationWriteArchive resolves to the path of an archive file to
	// create.
	LocationWriteArchive LocationType = 2
)

// OpType discriminates the asset transform kinds (spec §3, §4.8).
type OpType int

const (
	OpCopy           OpType = 0
	OpNew            OpType = 1
	OpPatch          OpType = 2
	OpReservedUnused OpType = 3
	OpAudioResample  OpType = 4
	OpAudioTranscode OpType = 5
)

// CheckType discriminates the validator check kinds (spec §3, §4.3).
type CheckType int

const (
	CheckFileExists       CheckType = 0
	CheckFreeSize         CheckType = 1
	CheckNoRestrictedPath CheckType = 2
)

// InstallationProfileIndex is the profile index the installer always
// uses (spec §3: "the installation profile is index 1").
const InstallationProfileIndex = 1

// PackageMeta is advisory package metadata (spec §3).
type PackageMeta struct {
	Title       string `json:"Title"`
	Version     string `json:"Version"`
	Author      string `json:"Author"`
	Description string `json:"Description"`
}

// Variable is a named, typed, unexpanded textual value (spec §3).
type Variable struct {
	Name  string `json:"Name"`
	Tag   string `json:"Tag"`
	Value string `json:"Value"`
}

// Location is a named addressable place (spec §3).
type Location struct {
	Type              LocationType `json:"Type"`
	Value             string       `json:"Value"`
	ArchiveType       uint32       `json:"ArchiveType"`
	ArchiveFlags      uint32       `json:"ArchiveFlags"`
	FilesFlags        uint32       `json:"FilesFlags"`
	ArchiveCompressed bool         `json:"ArchiveCompressed"`
}

// Asset is one unit of work (spec §3, §4.1). TargetPath defaults to
// SourcePath when the manifest tuple omits it (length 7 rather than 8).
type Asset struct {
	Tags       string
	OpType     OpType
	Params     string
	Status     int
	SourceLoc  int
	TargetLoc  int
	SourcePath string
	TargetPath string
}

// EffectiveTargetPath returns TargetPath, defaulting to SourcePath.
func (a Asset) EffectiveTargetPath() string {
	if a.TargetPath == "" {
		return a.SourcePath
	}
	return a.TargetPath
}

// Check is one manifest-declared validation rule (spec §3, §4.3).
type Check struct {
	Type          CheckType `json:"Type"`
	Inverted      bool      `json:"Inverted"`
	Loc           int       `json:"Loc"`
	File          string    `json:"File"`
	Checksums     []string  `json:"-"`
	CustomMessage string    `json:"CustomMessage"`
}

// PostCommand is a textual post-install command (spec §3, §4.12).
type PostCommand struct {
	Command string `json:"Command"`
	Wait    bool   `json:"Wait"`
	Hidden  bool   `json:"Hidden"`
}

// Profile bundles one profile's variable and location tables (spec §3).
type Profile struct {
	Variables []Variable
	Locations []Location
}

// Manifest is the fully typed manifest document (spec §3, §6).
type Manifest struct {
	Package      PackageMeta
	Profiles     []Profile
	Tags         []string
	Assets       []Asset
	Checks       []Check
	FileAttrs    []map[string]interface{}
	PostCommands []PostCommand
}

// GetLocations returns the location table for the given 0-based profile
// index (InstallationProfileIndex is the second profile), failing if the
// index is out of range (spec §4.1).
func (m *Manifest) GetLocations(profileIndex int) ([]Location, error) {
	if profileIndex < 0 || profileIndex >= len(m.Profiles) {
		return nil, &ProfileIndexError{Index: profileIndex, Count: len(m.Profiles)}
	}
	return m.Profiles[profileIndex].Locations, nil
}

// GetVariables returns the variable table for the given 0-based profile
// index, failing if the index is out of range (spec §4.1).
func (m *Manifest) GetVariables(profileIndex int) ([]Variable, error) {
	if profileIndex < 0 || profileIndex >= len(m.Profiles) {
		return nil, &ProfileIndexError{Index: profileIndex, Count: len(m.Profiles)}
	}
	return m.Profiles[profileIndex].Variables, nil
}

// ProfileIndexError reports an out-of-range profile index access.
type ProfileIndexError struct {
	Index int
	Count int
}

func (e *ProfileIndexError) Error() string {
	return fmt.Sprintf("manifest: profile index %d out of range (have %d profiles)", e.Index, e.Count)
}
