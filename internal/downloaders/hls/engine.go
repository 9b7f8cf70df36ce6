package hls

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/hlsmirror/internal/utils"
)

type Progress struct {
	Resolved int
	Total    int
	Percent  float64
}

type FetchSummary struct {
	Total    int
	Resolved int
	Reused   int
	Missing  []string
}

type MirrorResult struct {
	Path    string
	Content []byte // nil when the local copy was reused
	Reused  bool
}

type fetchResult struct {
	url    string
	path   string
	reused bool
	err    error
}

// Engine mirrors remote resources into tempDir with at most limit fetches in
// flight. Fragment outcomes are recorded in the shared ResourceMap.
type Engine struct {
	fetcher    *Fetcher
	tempDir    string
	limit      int
	resources  *ResourceMap
	OnProgress func(Progress)
}

func NewEngine(fetcher *Fetcher, tempDir string, limit int, resources *ResourceMap) *Engine {
	if limit < 1 {
		limit = 1
	}
	return &Engine{
		fetcher:   fetcher,
		tempDir:   tempDir,
		limit:     limit,
		resources: resources,
	}
}

// Mirror makes a local copy of url unless one already exists.
func (e *Engine) Mirror(ctx context.Context, url string) (MirrorResult, error) {
	localPath := LocalPathFor(e.tempDir, url, "")
	if utils.FileExists(localPath) {
		log.Debug().Str("op", "hls/engine").Msgf("Skip downloaded resource: %s", url)
		return MirrorResult{Path: localPath, Reused: true}, nil
	}
	content, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return MirrorResult{}, err
	}
	return e.write(url, localPath, content)
}

// Store keeps already fetched content for url unless a local copy exists.
func (e *Engine) Store(url string, content []byte) (MirrorResult, error) {
	localPath := LocalPathFor(e.tempDir, url, "")
	if utils.FileExists(localPath) {
		return MirrorResult{Path: localPath, Content: content, Reused: true}, nil
	}
	return e.write(url, localPath, content)
}

func (e *Engine) write(url, localPath string, content []byte) (MirrorResult, error) {
	data := content
	if HasImageSuffix(url) {
		data = content[min(imageHeaderSize, len(content)):]
	}
	if err := utils.WriteFileAtomic(localPath, data); err != nil {
		return MirrorResult{}, filesystemError("cannot write "+localPath, err)
	}
	log.Debug().Str("op", "hls/engine").Msgf("Resource created at: %s", localPath)
	return MirrorResult{Path: localPath, Content: content}, nil
}

// FetchAll mirrors every fragment URL. Individual failures never abort the
// batch; they are reported in FetchSummary.Missing.
func (e *Engine) FetchAll(ctx context.Context, urls []string) FetchSummary {
	unique := make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			unique = append(unique, u)
		}
	}
	summary := FetchSummary{Total: len(unique)}
	tracker := &progressTracker{total: len(unique), emit: e.OnProgress}
	log.Info().Str("op", "hls/engine").Msgf("Playlist has %d fragments", len(unique))

	record := func(r fetchResult) {
		if r.err != nil {
			log.Warn().Str("op", "hls/engine").Err(r.err).Msgf("Fragment missing: %s", r.url)
			summary.Missing = append(summary.Missing, r.url)
			return
		}
		e.resources.Add(r.url, r.path)
		summary.Resolved++
		if r.reused {
			summary.Reused++
		}
		tracker.add()
	}

	var pending []string
	for _, u := range unique {
		if p, ok := e.resources.Get(u); ok {
			record(fetchResult{url: u, path: p, reused: true})
			continue
		}
		localPath := LocalPathFor(e.tempDir, u, "")
		if utils.FileExists(localPath) {
			log.Debug().Str("op", "hls/engine").Msgf("Reuse fragment at: %s", localPath)
			record(fetchResult{url: u, path: localPath, reused: true})
			continue
		}
		pending = append(pending, u)
	}
	if len(pending) == 0 {
		return summary
	}

	jobCh := make(chan string, len(pending))
	for _, u := range pending {
		jobCh <- u
	}
	close(jobCh)
	resultCh := make(chan fetchResult)
	var wg sync.WaitGroup
	for range min(e.limit, len(pending)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobCh {
				if err := ctx.Err(); err != nil {
					resultCh <- fetchResult{url: u, err: err}
					continue
				}
				res, err := e.Mirror(ctx, u)
				resultCh <- fetchResult{url: u, path: res.Path, reused: res.Reused, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()
	for r := range resultCh {
		record(r)
	}
	return summary
}

type progressTracker struct {
	total    int
	resolved int
	lastStep int
	emit     func(Progress)
}

func (t *progressTracker) add() {
	t.resolved++
	step := t.resolved * 10 / t.total
	if t.resolved != t.total && step <= t.lastStep {
		return
	}
	t.lastStep = step
	p := Progress{Resolved: t.resolved, Total: t.total, Percent: float64(t.resolved) * 100 / float64(t.total)}
	if t.resolved == t.total {
		log.Info().Str("op", "hls/engine").Msgf("100%%, %d fragments fetched", t.total)
	} else {
		log.Info().Str("op", "hls/engine").Msgf("[%2.0f%%] %3d/%d fragments fetched", p.Percent, t.resolved, t.total)
	}
	if t.emit != nil {
		t.emit(p)
	}
}
