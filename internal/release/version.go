// Package release derives the version strings published to the platform.
package release

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// FallbackVersion is used when no parseable version can be resolved.
	FallbackVersion = "0.1.0"

	QATag     = "beta"
	StableTag = "stable"

	qaQualifier     = "qa"
	timestampLayout = "20060102150405"
)

var semverPattern = regexp.MustCompile(`^v?(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-([0-9A-Za-z.-]+))?(?:\+([0-9A-Za-z.-]+))?$`)

// Version is a parsed semantic version.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
	Build      string
}

func Parse(raw string) (Version, error) {
	m := semverPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Version{}, fmt.Errorf("invalid version %q", raw)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch, Prerelease: m[4], Build: m[5]}, nil
}

// Core renders major.minor.patch.
func (v Version) Core() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v Version) String() string {
	out := v.Core()
	if v.Prerelease != "" {
		out += "-" + v.Prerelease
	}
	if v.Build != "" {
		out += "+" + v.Build
	}
	return out
}

// StableVersion strips any prerelease qualifier and build metadata.
// Unparseable input yields FallbackVersion. The result is a fixed point.
func StableVersion(raw string) string {
	v, err := Parse(raw)
	if err != nil {
		return FallbackVersion
	}
	return v.Core()
}

// IsQAVersion reports whether raw carries the QA prerelease qualifier.
func IsQAVersion(raw string) bool {
	v, err := Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasPrefix(v.Prerelease, qaQualifier+".")
}

// QAVersion appends a qa.<timestamp> qualifier to the stable core of base.
func QAVersion(base string, at time.Time) string {
	return fmt.Sprintf("%s-%s.%s", StableVersion(base), qaQualifier, formatTimestamp(at))
}

func formatTimestamp(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s%03d", at.Format(timestampLayout), at.Nanosecond()/int(time.Millisecond))
}

// Generator hands out QA versions that never repeat within a process, even
// when the clock does not advance between calls.
type Generator struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

func (g *Generator) NextQA(base string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	at := g.now().UTC().Truncate(time.Millisecond)
	if !at.After(g.last) {
		at = g.last.Add(time.Millisecond)
	}
	g.last = at
	return QAVersion(base, at)
}
