package hls

// ResourceMap records remote URL to local path in first-discovery order. It
// only grows. A single goroutine writes to it; readers must not race the writer.
type ResourceMap struct {
	order []string
	paths map[string]string
}

func NewResourceMap() *ResourceMap {
	return &ResourceMap{paths: make(map[string]string)}
}

// Add records url once; later adds for the same url are ignored.
func (m *ResourceMap) Add(url, localPath string) bool {
	if _, ok := m.paths[url]; ok {
		return false
	}
	m.order = append(m.order, url)
	m.paths[url] = localPath
	return true
}

func (m *ResourceMap) Get(url string) (string, bool) {
	p, ok := m.paths[url]
	return p, ok
}

func (m *ResourceMap) Len() int {
	return len(m.order)
}

func (m *ResourceMap) URLs() []string {
	return append([]string(nil), m.order...)
}

func (m *ResourceMap) Paths() []string {
	out := make([]string, 0, len(m.order))
	for _, u := range m.order {
		out = append(out, m.paths[u])
	}
	return out
}
