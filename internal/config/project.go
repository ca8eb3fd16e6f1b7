package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// reservedProjectIDs mirrors spec §6's small reserved set; "global" is
// the cross-project fallback namespace and is special-cased by callers
// rather than ever assigned as a detected project id.
var reservedProjectIDs = map[string]bool{
	"global": true, "system": true, "admin": true, "default": true,
}

var projectIDPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// markerFiles are checked in order at each directory level while
// walking up from the working directory (spec §6 "Project detection").
var markerFiles = []string{".git", "package.json", "pyproject.toml", "Cargo.toml"}

// DetectProjectID walks up from dir looking for a project marker and
// returns a sanitized id derived from the owning directory or package
// name, or "" if none is found (caller falls back to "global").
func DetectProjectID(dir string) string {
	cur, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		for _, marker := range markerFiles {
			path := filepath.Join(cur, marker)
			if _, err := os.Stat(path); err == nil {
				return sanitizeProjectID(projectNameFor(cur, path))
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ""
		}
		cur = parent
	}
}

// projectNameFor prefers package.json's "name" field when present,
// falling back to the owning directory's base name.
func projectNameFor(dir, markerPath string) string {
	if filepath.Base(markerPath) == "package.json" {
		if name := packageJSONName(markerPath); name != "" {
			return name
		}
	}
	return filepath.Base(dir)
}

func packageJSONName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var pkg struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}
	return pkg.Name
}

// sanitizeProjectID lowercases, strips everything outside [a-z0-9_-],
// truncates to 64 chars, and rejects the reserved vocabulary (spec §6).
func sanitizeProjectID(raw string) string {
	lowered := strings.ToLower(raw)
	var b strings.Builder
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	id := b.String()
	if len(id) > 64 {
		id = id[:64]
	}
	if id == "" || reservedProjectIDs[id] || !projectIDPattern.MatchString(id) {
		return ""
	}
	return id
}
