package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// maxAssetParseWarnings bounds how many per-asset parse-failure messages
// the loader emits verbosely before collapsing the rest into a single
// suppressed count (spec §4.1).
const maxAssetParseWarnings = 3

// Load reads and parses the manifest document at path, tolerating
// trailing commas and `//` line comments (spec §4.1). Per-asset parse
// failures are logged as bounded warnings and the offending entries are
// skipped; every other malformed section is a fatal error.
func Load(path string, log zerolog.Logger) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	defer f.Close()
	return Decode(f, log)
}

// Decode parses a manifest document from r.
func Decode(r io.Reader, log zerolog.Logger) (*Manifest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading document: %w", err)
	}
	cleaned := stripJSONC(raw)

	var doc rawDocument
	if err := json.Unmarshal(cleaned, &doc); err != nil {
		return nil, fmt.Errorf("manifest: invalid document: %w", err)
	}

	m := &Manifest{
		Package: PackageMeta{
			Title:       doc.Package["Title"],
			Version:     doc.Package["Version"],
			Author:      doc.Package["Author"],
			Description: doc.Package["Description"],
		},
		Tags: doc.Tags,
	}

	if len(doc.Variables) != len(doc.Locations) {
		return nil, fmt.Errorf("manifest: Variables has %d profiles but Locations has %d", len(doc.Variables), len(doc.Locations))
	}
	m.Profiles = make([]Profile, len(doc.Variables))
	for i := range doc.Variables {
		m.Profiles[i] = Profile{
			Variables: doc.Variables[i],
			Locations: doc.Locations[i],
		}
	}

	assets, warnings, suppressed := parseAssets(doc.Assets)
	m.Assets = assets
	for i, w := range warnings {
		if i >= maxAssetParseWarnings {
			break
		}
		log.Warn().Msg("manifest: skipping unparsable asset: " + w)
	}
	if suppressed > 0 {
		log.Warn().Int("count", suppressed).Msg("manifest: additional unparsable assets suppressed")
	}

	m.Checks = make([]Check, len(doc.Checks))
	for i, rc := range doc.Checks {
		m.Checks[i] = Check{
			Type:          rc.Type,
			Inverted:      rc.Inverted,
			Loc:           rc.Loc,
			File:          rc.File,
			CustomMessage: rc.CustomMessage,
			Checksums:     splitChecksums(rc.Checksums),
		}
	}

	m.PostCommands = doc.PostCommands
	m.FileAttrs = doc.FileAttrs

	return m, nil
}

func splitChecksums(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

type rawDocument struct {
	Package      map[string]string    `json:"Package"`
	Variables    [][]Variable         `json:"Variables"`
	Locations    [][]Location         `json:"Locations"`
	Tags         []string             `json:"Tags"`
	Assets       []json.RawMessage    `json:"Assets"`
	Checks       []rawCheck           `json:"Checks"`
	FileAttrs    []map[string]interface{} `json:"FileAttrs"`
	PostCommands []PostCommand        `json:"PostCommands"`
}

type rawCheck struct {
	Type          CheckType `json:"Type"`
	Inverted      bool      `json:"Inverted"`
	Loc           int       `json:"Loc"`
	File          string    `json:"File"`
	Checksums     string    `json:"Checksums"`
	CustomMessage string    `json:"CustomMessage"`
}

// parseAssets decodes each heterogeneous asset tuple, skipping (with a
// warning message returned for the caller to log, bounded) any entry
// that does not meet the length-7-or-8, type-coercible contract (spec
// §4.1).
func parseAssets(raw []json.RawMessage) (assets []Asset, warnings []string, suppressed int) {
	for i, entry := range raw {
		var tuple []interface{}
		if err := json.Unmarshal(entry, &tuple); err != nil {
			warnings = appendWarning(warnings, &suppressed, fmt.Sprintf("asset %d: %v", i, err))
			continue
		}
		asset, err := coerceAsset(tuple)
		if err != nil {
			warnings = appendWarning(warnings, &suppressed, fmt.Sprintf("asset %d: %v", i, err))
			continue
		}
		assets = append(assets, asset)
	}
	return assets, warnings, suppressed
}

func appendWarning(warnings []string, suppressed *int, msg string) []string {
	if len(warnings) < maxAssetParseWarnings {
		return append(warnings, msg)
	}
	*suppressed++
	return warnings
}

func coerceAsset(tuple []interface{}) (Asset, error) {
	if len(tuple) != 7 && len(tuple) != 8 {
		return Asset{}, fmt.Errorf("expected tuple of length 7 or 8, got %d", len(tuple))
	}

	tags, err := coerceString(tuple[0])
	if err != nil {
		return Asset{}, fmt.Errorf("tags: %w", err)
	}
	opType, err := coerceInt(tuple[1])
	if err != nil {
		return Asset{}, fmt.Errorf("opType: %w", err)
	}
	params, err := coerceString(tuple[2])
	if err != nil {
		return Asset{}, fmt.Errorf("params: %w", err)
	}
	status, err := coerceInt(tuple[3])
	if err != nil {
		return Asset{}, fmt.Errorf("status: %w", err)
	}
	sourceLoc, err := coerceInt(tuple[4])
	if err != nil {
		return Asset{}, fmt.Errorf("sourceLoc: %w", err)
	}
	targetLoc, err := coerceInt(tuple[5])
	if err != nil {
		return Asset{}, fmt.Errorf("targetLoc: %w", err)
	}
	sourcePath, err := coerceString(tuple[6])
	if err != nil {
		return Asset{}, fmt.Errorf("sourcePath: %w", err)
	}

	var targetPath string
	if len(tuple) == 8 {
		targetPath, err = coerceString(tuple[7])
		if err != nil {
			return Asset{}, fmt.Errorf("targetPath: %w", err)
		}
	}

	return Asset{
		Tags:       tags,
		OpType:     OpType(opType),
		Params:     params,
		Status:     status,
		SourceLoc:  sourceLoc,
		TargetLoc:  targetLoc,
		SourcePath: sourcePath,
		TargetPath: targetPath,
	}, nil
}

func coerceString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("cannot coerce %T to string", v)
	}
}

func coerceInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to int", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to int", v)
	}
}

// stripJSONC removes `//` line comments and trailing commas before a
// closing `]` or `}`, without disturbing `//` occurring inside string
// literals (spec §4.1: "tolerates trailing commas and line comments").
func stripJSONC(src []byte) []byte {
	var out []byte
	inString := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if inString {
			out = append(out, c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}

		if c == '/' && i+1 < len(src) && src[i+1] == '/' {
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				out = append(out, '\n')
			}
			continue
		}

		out = append(out, c)
	}

	return removeTrailingCommas(out)
}

func removeTrailingCommas(src []byte) []byte {
	var out []byte
	inString := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if inString {
			out = append(out, c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}

		if c == ',' {
			// look ahead past whitespace for a closing bracket
			j := i + 1
			for j < len(src) && isJSONSpace(src[j]) {
				j++
			}
			if j < len(src) && (src[j] == ']' || src[j] == '}') {
				continue // drop the trailing comma
			}
		}

		out = append(out, c)
	}

	return out
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
