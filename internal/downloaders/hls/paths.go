package hls

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Some origins serve fragments behind an image extension.
var imageSuffixes = []string{".png", ".jpg", ".jpeg"}

// Bytes of fake image header prepended to disguised fragments.
const imageHeaderSize = 212

// LocalPathFor maps a remote URL to its mirror location under tempDir. When
// rawLine is a path that was already localized in an earlier pass it is kept.
func LocalPathFor(tempDir, rawURL, rawLine string) string {
	if rawLine != "" && strings.HasPrefix(rawLine, tempDir) {
		return KeepTSSuffix(rawLine)
	}
	p := path.Clean("/" + urlPath(rawURL))
	p = strings.TrimPrefix(KeepTSSuffix(p), "/")
	return filepath.Clean(filepath.Join(tempDir, filepath.FromSlash(p)))
}

// KeepTSSuffix swaps a disguise image extension for ".ts".
func KeepTSSuffix(p string) string {
	lower := strings.ToLower(p)
	for _, suffix := range imageSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return p[:len(p)-len(suffix)] + ".ts"
		}
	}
	return p
}

func HasImageSuffix(rawURL string) bool {
	lower := strings.ToLower(urlPath(rawURL))
	for _, suffix := range imageSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

func resolveURL(base, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	relURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(relURL).String(), nil
}
