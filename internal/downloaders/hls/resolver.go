package hls

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

type resolverState int

const (
	stateStart resolverState = iota
	stateMasterPlaylist
	stateMediaPlaylist
	stateFragmentsResolved
	stateDone
)

func (s resolverState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateMasterPlaylist:
		return "master-playlist"
	case stateMediaPlaylist:
		return "media-playlist"
	case stateFragmentsResolved:
		return "fragments-resolved"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// ResolveResult is what a completed resolver run produced.
type ResolveResult struct {
	MediaPlaylistURL  string
	MediaPlaylistPath string
	Variant           *Variant
	Keys              []string
	Fragments         FetchSummary
}

type Resolver struct {
	engine  *Engine
	tempDir string
}

func NewResolver(engine *Engine, tempDir string) *Resolver {
	return &Resolver{engine: engine, tempDir: tempDir}
}

func (r *Resolver) Resolve(ctx context.Context, startURL string) (*ResolveResult, error) {
	result := &ResolveResult{}
	state := stateStart
	currentURL := startURL
	var content []byte
	var fragmentURLs []string

	for state != stateDone {
		log.Debug().Str("op", "hls/resolver").Msgf("Resolver state: %s", state)
		switch state {
		case stateStart:
			data, err := r.engine.fetcher.Fetch(ctx, currentURL)
			if err != nil {
				return nil, fmt.Errorf("error fetching playlist: %w", err)
			}
			content = data
			if IsMasterPlaylist(string(content)) {
				state = stateMasterPlaylist
			} else {
				state = stateMediaPlaylist
			}

		case stateMasterPlaylist:
			variant, ok := SelectVariant(string(content))
			if !ok {
				return nil, structuralf("master playlist %s has no variant", currentURL)
			}
			mediaURL, err := resolveURL(currentURL, variant.Reference)
			if err != nil {
				return nil, structuralf("cannot resolve variant %q: %v", variant.Reference, err)
			}
			if variant.Resolution != nil {
				log.Info().Str("op", "hls/resolver").Msgf("Chose resolution=%dx%d uri=%s", variant.Resolution.Width, variant.Resolution.Height, variant.Reference)
			} else {
				log.Info().Str("op", "hls/resolver").Msgf("Chose first variant uri=%s", variant.Reference)
			}
			result.Variant = &variant
			currentURL = mediaURL
			content = nil
			state = stateMediaPlaylist

		case stateMediaPlaylist:
			urls, err := r.processMediaPlaylist(ctx, currentURL, content, result)
			if err != nil {
				return nil, err
			}
			fragmentURLs = urls
			state = stateFragmentsResolved

		case stateFragmentsResolved:
			result.Fragments = r.engine.FetchAll(ctx, fragmentURLs)
			log.Info().Str("op", "hls/resolver").Msg("Media playlist fragments processed")
			state = stateDone
		}
	}
	return result, nil
}

// processMediaPlaylist mirrors and rewrites the media playlist, mirrors its
// keys and returns the absolute fragment URLs in playlist order.
func (r *Resolver) processMediaPlaylist(ctx context.Context, playlistURL string, content []byte, result *ResolveResult) ([]string, error) {
	var mirrored MirrorResult
	var err error
	if content != nil {
		mirrored, err = r.engine.Store(playlistURL, content)
	} else {
		mirrored, err = r.engine.Mirror(ctx, playlistURL)
	}
	if err != nil {
		return nil, fmt.Errorf("error mirroring media playlist: %w", err)
	}
	result.MediaPlaylistURL = playlistURL
	result.MediaPlaylistPath = mirrored.Path
	// the local copy may come from an earlier run, rewrite it regardless
	if err := RewriteInPlace(r.tempDir, mirrored.Path, playlistURL); err != nil {
		return nil, err
	}
	if content == nil {
		content = mirrored.Content
	}
	if content == nil {
		if content, err = r.engine.fetcher.Fetch(ctx, playlistURL); err != nil {
			return nil, fmt.Errorf("error fetching media playlist: %w", err)
		}
	}

	var fragmentURLs []string
	for _, raw := range splitLines(string(content)) {
		line := ClassifyLine(raw)
		switch line.Kind {
		case LineKey:
			keyPath, err := r.mirrorKey(ctx, playlistURL, raw)
			if err != nil {
				return nil, err
			}
			if keyPath != "" {
				result.Keys = append(result.Keys, keyPath)
			}
		case LineReference:
			ref := strings.TrimSpace(raw)
			if strings.HasSuffix(strings.ToLower(ref), ".m3u8") {
				return nil, structuralf("media playlist should not include .m3u8: %s", ref)
			}
			fragmentURL, err := resolveURL(playlistURL, ref)
			if err != nil {
				return nil, structuralf("cannot resolve fragment %q: %v", ref, err)
			}
			fragmentURLs = append(fragmentURLs, fragmentURL)
		}
	}
	return fragmentURLs, nil
}

// mirrorKey downloads the key of an #EXT-X-KEY line. A key that cannot be
// fetched is logged and skipped like a missing fragment.
func (r *Resolver) mirrorKey(ctx context.Context, playlistURL, line string) (string, error) {
	uri, err := ExtractKeyURI(line)
	if err != nil {
		return "", err
	}
	keyURL, err := resolveURL(playlistURL, uri)
	if err != nil {
		return "", structuralf("cannot resolve key URI %q: %v", uri, err)
	}
	res, err := r.engine.Mirror(ctx, keyURL)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, ErrFilesystem) {
			return "", err
		}
		log.Warn().Str("op", "hls/resolver").Err(err).Msgf("Key missing: %s", keyURL)
		return "", nil
	}
	if res.Reused {
		log.Debug().Str("op", "hls/resolver").Msgf("Reuse key at: %s", res.Path)
	} else {
		log.Debug().Str("op", "hls/resolver").Msgf("Key downloaded at: %s", res.Path)
	}
	return res.Path, nil
}
