// Package config defines the installer's configuration (spec §3
// "Installation configuration") and the fatal-at-startup validation
// rules around it.
//
// Grounded on JohnPitter-concord's internal/config/config.go for shape
// (a root Config struct composed of narrower per-concern structs) and
// on holo-build's main.go for failing fast on a bad configuration
// before any work starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"ttwinstall/internal/location"
)

// Game identifies one of the three supported titles.
type Game int

const (
	Fallout3 Game = iota
	FalloutNewVegas
	Oblivion
)

// signatureExecutable is the file whose presence in a game root proves
// that root actually points at an install of that game (spec §3:
// "if a game root is supplied it must contain the game's signature
// executable").
var signatureExecutable = map[Game]string{
	Fallout3:        "Fallout3.exe",
	FalloutNewVegas: "FalloutNV.exe",
	Oblivion:        "Oblivion.exe",
}

// GameRoot is one configured game installation. Root may be empty if
// that game isn't installed; DataOverride lets a package that writes
// into an arbitrary output folder point post-commands at that folder
// instead of the game's own Data directory (spec §3).
type GameRoot struct {
	Root         string
	DataOverride string
}

// DataDir returns the effective data directory: DataOverride if set,
// else <Root>/Data (spec §3: "Derived per-game data directory =
// <root>/Data unless explicitly overridden").
func (g GameRoot) DataDir() string {
	if g.DataOverride != "" {
		return g.DataOverride
	}
	if g.Root == "" {
		return ""
	}
	return filepath.Join(g.Root, "Data")
}

// ToolPaths locates the three external helper executables (spec §6).
type ToolPaths struct {
	BinaryPatch    string
	LZ4Decode      string
	MediaTranscode string
}

// InstallConfig is the full installer configuration (spec §3).
type InstallConfig struct {
	Destination string
	PackagePath string

	Fallout3        GameRoot
	FalloutNewVegas GameRoot
	Oblivion        GameRoot

	Tools ToolPaths
}

// Roots projects the configured game roots into the location resolver's
// variable table (spec §4.2).
func (c InstallConfig) Roots() location.Roots {
	return location.Roots{
		Destination: c.Destination,
		FO3Root:     c.Fallout3.Root,
		FO3Data:     c.Fallout3.DataDir(),
		FNVRoot:     c.FalloutNewVegas.Root,
		FNVData:     c.FalloutNewVegas.DataDir(),
		TES4Root:    c.Oblivion.Root,
		TES4Data:    c.Oblivion.DataDir(),
	}
}

// Validate enforces the configuration invariants (spec §3, §7
// "Configuration ... fatal at driver start"): destination and package
// path are always required; any supplied game root must contain its
// signature executable.
func (c InstallConfig) Validate() error {
	if c.Destination == "" {
		return fmt.Errorf("config: destination is required")
	}
	if c.PackagePath == "" {
		return fmt.Errorf("config: package path is required")
	}

	for game, root := range map[Game]GameRoot{
		Fallout3:        c.Fallout3,
		FalloutNewVegas: c.FalloutNewVegas,
		Oblivion:        c.Oblivion,
	} {
		if root.Root == "" {
			continue
		}
		sig := filepath.Join(root.Root, signatureExecutable[game])
		if _, err := os.Stat(sig); err != nil {
			return fmt.Errorf("config: game root %q is missing its signature executable %q: %w", root.Root, signatureExecutable[game], err)
		}
	}

	return nil
}
