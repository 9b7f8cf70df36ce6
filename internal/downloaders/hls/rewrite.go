package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/hlsmirror/internal/utils"
)

// RewriteInPlace points every key URI and fragment reference of a local
// playlist copy at its mirrored path. Running it again on a rewritten copy
// leaves the file unchanged.
func RewriteInPlace(tempDir, localPlaylistPath, sourceURL string) error {
	content, err := os.ReadFile(localPlaylistPath)
	if err != nil {
		return filesystemError("cannot read playlist "+localPlaylistPath, err)
	}
	rewritten, err := RewritePlaylist(tempDir, string(content), sourceURL)
	if err != nil {
		return err
	}
	if rewritten == string(content) {
		log.Debug().Str("op", "hls/rewrite").Msgf("Playlist already rewritten: %s", localPlaylistPath)
		return nil
	}
	if err := utils.WriteFileAtomic(localPlaylistPath, []byte(rewritten)); err != nil {
		return filesystemError("cannot write playlist "+localPlaylistPath, err)
	}
	log.Info().Str("op", "hls/rewrite").Msgf("HTTP links rewritten in playlist: %s", localPlaylistPath)
	return nil
}

func RewritePlaylist(tempDir, content, sourceURL string) (string, error) {
	lines := splitLines(content)
	for i, raw := range lines {
		line := ClassifyLine(raw)
		switch line.Kind {
		case LineKey:
			rewritten, err := RewriteKeyLine(tempDir, sourceURL, raw)
			if err != nil {
				return "", err
			}
			lines[i] = rewritten
		case LineReference:
			ref := strings.TrimSpace(raw)
			if strings.HasPrefix(ref, tempDir) {
				lines[i] = LocalPathFor(tempDir, "", ref)
				continue
			}
			fragmentURL, err := resolveURL(sourceURL, ref)
			if err != nil {
				return "", structuralf("cannot resolve reference %q: %v", ref, err)
			}
			lines[i] = LocalPathFor(tempDir, fragmentURL, ref)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// RewriteKeyLine replaces the URI of an #EXT-X-KEY directive with the local
// key path, keeping every other attribute as it was.
func RewriteKeyLine(tempDir, sourceURL, line string) (string, error) {
	m := keyLineRegex.FindStringSubmatch(line)
	if m == nil {
		return "", structuralf("key line doesn't have URI: %s", line)
	}
	prefix, uri, suffix := m[1], m[2], m[3]
	if strings.HasPrefix(uri, tempDir) || strings.HasPrefix(uri, filepath.ToSlash(tempDir)) {
		return line, nil
	}
	keyURL, err := resolveURL(sourceURL, uri)
	if err != nil {
		return "", structuralf("cannot resolve key URI %q: %v", uri, err)
	}
	// ffmpeg rejects backslashes in key URIs
	localKey := filepath.ToSlash(LocalPathFor(tempDir, keyURL, ""))
	return fmt.Sprintf("%s%s%s", prefix, localKey, suffix), nil
}
