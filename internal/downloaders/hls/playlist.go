package hls

import (
	"regexp"
	"strconv"
	"strings"
)

type LineKind int

const (
	LineDirective LineKind = iota
	LineKey
	LineBlank
	LineReference
)

const keyDirective = "#EXT-X-KEY"

var (
	resolutionRegex = regexp.MustCompile(`RESOLUTION=([0-9]+)x([0-9]+)`)
	keyLineRegex    = regexp.MustCompile(`^(.*URI=")([^"]+)(".*)$`)
	keyURIRegex     = regexp.MustCompile(`URI="([^"]+)"`)
)

type Resolution struct {
	Width  int
	Height int
}

type PlaylistLine struct {
	Kind       LineKind
	Text       string
	Resolution *Resolution
}

type Variant struct {
	Resolution *Resolution
	Reference  string
}

func ClassifyLine(line string) PlaylistLine {
	pl := PlaylistLine{Text: line}
	switch {
	case strings.HasPrefix(line, keyDirective):
		pl.Kind = LineKey
	case strings.HasPrefix(line, "#"):
		pl.Kind = LineDirective
	case strings.TrimSpace(line) == "":
		pl.Kind = LineBlank
	default:
		pl.Kind = LineReference
	}
	if res, ok := ParseResolution(line); ok {
		pl.Resolution = &res
	}
	return pl
}

func ParseResolution(line string) (Resolution, bool) {
	m := resolutionRegex.FindStringSubmatch(line)
	if m == nil {
		return Resolution{}, false
	}
	w, err := strconv.Atoi(m[1])
	if err != nil {
		return Resolution{}, false
	}
	h, err := strconv.Atoi(m[2])
	if err != nil {
		return Resolution{}, false
	}
	return Resolution{Width: w, Height: h}, true
}

// IsMasterPlaylist reports whether content lists variants rather than fragments.
func IsMasterPlaylist(content string) bool {
	return strings.Contains(content, "RESOLUTION") || strings.Contains(content, "#EXT-X-STREAM-INF")
}

// SelectVariant picks the reference following the widest RESOLUTION directive.
// Equal widths keep the earlier variant. Without any resolution the first
// reference wins.
func SelectVariant(content string) (Variant, bool) {
	var best *Resolution
	var chosen Variant
	found := false
	replaceNext := false
	for _, raw := range splitLines(content) {
		line := ClassifyLine(raw)
		if line.Resolution != nil && (best == nil || line.Resolution.Width > best.Width) {
			best = line.Resolution
			replaceNext = true
		}
		if line.Kind != LineReference {
			continue
		}
		ref := strings.TrimSpace(line.Text)
		if replaceNext {
			chosen = Variant{Resolution: best, Reference: ref}
			found = true
			replaceNext = false
		}
		if !found {
			chosen = Variant{Reference: ref}
			found = true
		}
	}
	return chosen, found
}

// ExtractKeyURI returns the quoted URI of an #EXT-X-KEY directive.
func ExtractKeyURI(line string) (string, error) {
	m := keyURIRegex.FindStringSubmatch(line)
	if m == nil {
		return "", structuralf("key line doesn't have URI: %s", line)
	}
	return m[1], nil
}

func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
