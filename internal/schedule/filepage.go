package schedule

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/detect"
)

// FilePage is a page backed by an HTML file on disk, such as a saved
// checkout page. Its URL can be changed to simulate navigation.
type FilePage struct {
	path string
	url  string
	mu   sync.RWMutex
}

var _ Page = (*FilePage)(nil)

// NewFilePage creates a page reading path and reporting pageURL.
func NewFilePage(path, pageURL string) *FilePage {
	return &FilePage{path: path, url: pageURL}
}

// URL returns the current page URL.
func (p *FilePage) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

// Navigate changes the page URL.
func (p *FilePage) Navigate(pageURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = pageURL
}

// Snapshot parses the file as it currently is.
func (p *FilePage) Snapshot() (detect.Snapshot, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return detect.Snapshot{}, fmt.Errorf("failed to open page: %w", err)
	}
	defer func() { _ = f.Close() }()

	return detect.NewSnapshot(p.URL(), f)
}

// FileObserver reports a mutation batch whenever the watched file's
// modification time or size changes. The batch lists the element tags
// present in the new document body.
type FileObserver struct {
	modTime  time.Time
	clock    Clock
	timer    Timer
	fn       func([]Mutation)
	path     string
	size     int64
	interval time.Duration
	// gen identifies the current Attach; a poll from an earlier one exits.
	gen uint64
	mu  sync.Mutex
}

var _ Observer = (*FileObserver)(nil)

// NewFileObserver polls path every interval using clock.
func NewFileObserver(path string, clock Clock, interval time.Duration) *FileObserver {
	if clock == nil {
		clock = RealClock{}
	}
	return &FileObserver{path: path, clock: clock, interval: interval}
}

// Attach starts polling. The current file state is the baseline.
func (o *FileObserver) Attach(fn func([]Mutation)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.timer != nil {
		o.timer.Stop()
	}
	o.fn = fn
	o.gen++
	o.modTime, o.size = stat(o.path)
	o.schedule(o.gen)
}

func (o *FileObserver) schedule(gen uint64) {
	o.timer = o.clock.AfterFunc(o.interval, func() { o.poll(gen) })
}

// Detach stops polling.
func (o *FileObserver) Detach() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.fn = nil
}

func (o *FileObserver) poll(gen uint64) {
	o.mu.Lock()
	if o.fn == nil || gen != o.gen {
		o.mu.Unlock()
		return
	}

	modTime, size := stat(o.path)
	changed := !modTime.Equal(o.modTime) || size != o.size
	o.modTime, o.size = modTime, size
	fn := o.fn
	o.schedule(gen)
	o.mu.Unlock()

	if !changed {
		return
	}

	tags, err := bodyTags(o.path)
	if err != nil {
		common.LogWarn(err, "Failed to read changed page", common.Fields{"path": o.path})
		return
	}
	fn([]Mutation{{AddedTags: tags}})
}

func stat(path string) (time.Time, int64) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, -1
	}
	return info.ModTime(), info.Size()
}

func bodyTags(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, err
	}

	tags := doc.Find("body *").Map(func(_ int, s *goquery.Selection) string {
		return strings.ToUpper(goquery.NodeName(s))
	})
	return lo.Uniq(tags), nil
}
