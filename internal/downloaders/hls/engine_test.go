package hls

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// fragmentServer serves "<path>-data" for every path except those ending in
// "missing.ts", which always fail.
type fragmentServer struct {
	*httptest.Server
	mu       sync.Mutex
	hits     map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	bodies   map[string][]byte
}

func newFragmentServer(t *testing.T) *fragmentServer {
	fs := &fragmentServer{hits: make(map[string]int), bodies: make(map[string][]byte)}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := fs.inFlight.Add(1)
		defer fs.inFlight.Add(-1)
		for {
			p := fs.peak.Load()
			if n <= p || fs.peak.CompareAndSwap(p, n) {
				break
			}
		}
		fs.mu.Lock()
		fs.hits[r.URL.Path]++
		body, ok := fs.bodies[r.URL.Path]
		fs.mu.Unlock()
		if fs.delay > 0 {
			time.Sleep(fs.delay)
		}
		if strings.HasSuffix(r.URL.Path, "missing.ts") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !ok {
			body = []byte(r.URL.Path + "-data")
		}
		w.Write(body)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fragmentServer) set(path string, body []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.bodies[path] = body
}

func (fs *fragmentServer) count(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.hits[path]
}

func (fs *fragmentServer) total() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	for _, c := range fs.hits {
		n += c
	}
	return n
}

func newTestEngine(fs *fragmentServer, tempDir string, limit int) *Engine {
	f := NewFetcher(fs.Client()).WithSchedule(DefaultRetryDelays, noSleep)
	return NewEngine(f, tempDir, limit, NewResourceMap())
}

// TestMirrorReusesExistingFile verifies that a non-empty local copy is never refetched.
func TestMirrorReusesExistingFile(t *testing.T) {
	fs := newFragmentServer(t)
	tempDir := t.TempDir()
	url := fs.URL + "/p/seg1.ts"
	local := LocalPathFor(tempDir, url, "")
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("cached"), 0644); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(fs, tempDir, 2)
	res, err := e.Mirror(context.Background(), url)
	if err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	if !res.Reused || res.Path != local {
		t.Errorf("unexpected result %+v", res)
	}
	if fs.total() != 0 {
		t.Errorf("requests = %d, want 0", fs.total())
	}
}

func TestMirrorRefetchesEmptyFile(t *testing.T) {
	fs := newFragmentServer(t)
	tempDir := t.TempDir()
	url := fs.URL + "/p/seg1.ts"
	local := LocalPathFor(tempDir, url, "")
	os.MkdirAll(filepath.Dir(local), 0755)
	os.WriteFile(local, nil, 0644)

	e := newTestEngine(fs, tempDir, 1)
	if _, err := e.Mirror(context.Background(), url); err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	if fs.count("/p/seg1.ts") != 1 {
		t.Errorf("requests = %d, want 1", fs.count("/p/seg1.ts"))
	}
	data, _ := os.ReadFile(local)
	if string(data) != "/p/seg1.ts-data" {
		t.Errorf("content = %q", data)
	}
}

// TestMirrorStripsImageHeader verifies disguised fragments lose their fake header.
func TestMirrorStripsImageHeader(t *testing.T) {
	fs := newFragmentServer(t)
	payload := []byte("MPEG-TS payload")
	fs.set("/p/seg1.png", append(bytes.Repeat([]byte{0x89}, imageHeaderSize), payload...))
	tempDir := t.TempDir()

	e := newTestEngine(fs, tempDir, 1)
	res, err := e.Mirror(context.Background(), fs.URL+"/p/seg1.png")
	if err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	if filepath.Ext(res.Path) != ".ts" {
		t.Errorf("path = %q, want .ts suffix", res.Path)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("content = %q, want %q", data, payload)
	}
	if _, err := os.Stat(res.Path + ".part"); !os.IsNotExist(err) {
		t.Errorf("temporary .part file left behind")
	}
}

func TestFetchAllRecordsMissing(t *testing.T) {
	fs := newFragmentServer(t)
	tempDir := t.TempDir()
	e := newTestEngine(fs, tempDir, 3)
	urls := []string{fs.URL + "/a.ts", fs.URL + "/missing.ts", fs.URL + "/b.ts", fs.URL + "/a.ts"}

	summary := e.FetchAll(context.Background(), urls)
	if summary.Total != 3 {
		t.Errorf("total = %d, want 3", summary.Total)
	}
	if summary.Resolved != 2 {
		t.Errorf("resolved = %d, want 2", summary.Resolved)
	}
	if len(summary.Missing) != 1 || summary.Missing[0] != fs.URL+"/missing.ts" {
		t.Errorf("missing = %v", summary.Missing)
	}
	if _, ok := e.resources.Get(fs.URL + "/missing.ts"); ok {
		t.Error("missing fragment must not be in the resource map")
	}
	if e.resources.Len() != 2 {
		t.Errorf("resource map size = %d, want 2", e.resources.Len())
	}
	if fs.count("/missing.ts") != 4 {
		t.Errorf("missing fragment attempts = %d, want 4", fs.count("/missing.ts"))
	}
	if fs.count("/a.ts") != 1 {
		t.Errorf("duplicate fragment fetched %d times", fs.count("/a.ts"))
	}
}

// TestFetchAllSecondRunUsesNoNetwork verifies resumption from the temp dir.
func TestFetchAllSecondRunUsesNoNetwork(t *testing.T) {
	fs := newFragmentServer(t)
	tempDir := t.TempDir()
	var urls []string
	for _, name := range []string{"/s1.ts", "/s2.ts", "/s3.ts"} {
		urls = append(urls, fs.URL+name)
	}
	newTestEngine(fs, tempDir, 2).FetchAll(context.Background(), urls)
	before := fs.total()

	summary := newTestEngine(fs, tempDir, 2).FetchAll(context.Background(), urls)
	if fs.total() != before {
		t.Errorf("second run made %d requests", fs.total()-before)
	}
	if summary.Reused != 3 {
		t.Errorf("reused = %d, want 3", summary.Reused)
	}
}

func TestFetchAllRespectsLimit(t *testing.T) {
	fs := newFragmentServer(t)
	fs.delay = 20 * time.Millisecond
	tempDir := t.TempDir()
	var urls []string
	for i := range 12 {
		urls = append(urls, fs.URL+"/c/"+string(rune('a'+i))+".ts")
	}
	summary := newTestEngine(fs, tempDir, 3).FetchAll(context.Background(), urls)
	if summary.Resolved != 12 {
		t.Fatalf("resolved = %d, want 12", summary.Resolved)
	}
	if peak := fs.peak.Load(); peak > 3 {
		t.Errorf("peak in-flight = %d, want <= 3", peak)
	}
}

// TestFetchAllProgress verifies one report per 10% step and exactly one at 100%.
func TestFetchAllProgress(t *testing.T) {
	fs := newFragmentServer(t)
	tempDir := t.TempDir()
	var urls []string
	for i := range 25 {
		urls = append(urls, fs.URL+"/g/"+string(rune('a'+i))+".ts")
	}
	e := newTestEngine(fs, tempDir, 4)
	var reports []Progress
	e.OnProgress = func(p Progress) { reports = append(reports, p) }
	e.FetchAll(context.Background(), urls)

	full := 0
	last := 0
	for _, p := range reports {
		if p.Resolved < last {
			t.Errorf("progress went backwards: %v", reports)
		}
		last = p.Resolved
		if p.Percent == 100 {
			full++
		}
	}
	if full != 1 {
		t.Errorf("100%% reported %d times, want 1", full)
	}
	if len(reports) != 10 {
		t.Errorf("reports = %d, want 10", len(reports))
	}
}
