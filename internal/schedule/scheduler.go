// Package schedule decides when a page is scanned: it watches navigation and
// content mutations, coalescing bursts with a debounce and a throttle floor.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/detect"
)

// Page is the document being watched.
type Page interface {
	URL() string
	Snapshot() (detect.Snapshot, error)
}

// Mutation is one observed batch entry.
type Mutation struct {
	// AddedTags are the element tag names added to the document.
	AddedTags []string
}

// Observer reports content mutations of a page. Attach must not invoke the
// callback synchronously.
type Observer interface {
	Attach(fn func([]Mutation))
	Detach()
}

// Dispatcher receives accepted scan results.
type Dispatcher interface {
	Dispatch(ctx context.Context, result detect.Result) error
	Reset()
}

// State is the scheduler's lifecycle state.
type State int

// Scheduler states.
const (
	Dormant State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "dormant"
}

// Config holds the timing parameters.
type Config struct {
	Debounce     time.Duration
	Throttle     time.Duration
	PollInterval time.Duration
}

// DefaultConfig returns a 3s debounce, 5s throttle and 1s navigation poll.
func DefaultConfig() Config {
	return Config{
		Debounce:     3 * time.Second,
		Throttle:     5 * time.Second,
		PollInterval: time.Second,
	}
}

var contentTags = map[string]bool{
	"DIV": true, "SPAN": true, "P": true, "SECTION": true, "MAIN": true, "LI": true,
	"TD": true, "ARTICLE": true, "TABLE": true, "TR": true, "UL": true, "FORM": true,
	"BUTTON": true, "LABEL": true, "H1": true, "H2": true, "H3": true, "H4": true,
}

// ErrStopped is returned by ForceScan after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Scheduler drives scans of a single page.
type Scheduler struct {
	lastScan   time.Time
	clock      Clock
	page       Page
	observer   Observer
	dispatcher Dispatcher
	ctx        context.Context
	cancel     context.CancelFunc
	debounce   Timer
	poll       Timer
	scanner    *detect.Scanner
	lastURL    string
	cfg        Config
	state      State
	mu         sync.Mutex
	scanMu     sync.Mutex
	started    bool
	stopped    bool
}

// New creates a scheduler. It does nothing until Start.
func New(page Page, observer Observer, scanner *detect.Scanner, dispatcher Dispatcher, clock Clock, cfg Config) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		page:       page,
		observer:   observer,
		scanner:    scanner,
		dispatcher: dispatcher,
		clock:      clock,
		cfg:        cfg,
	}
}

// Start begins navigation polling. The scheduler goes active, and scans once,
// only when the current URL is interesting.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.lastURL = s.page.URL()

	active := s.scanner.Rules().IsInterestingURL(s.lastURL)
	if active {
		common.LogDebug("Pricing page detected, attaching observer", common.Fields{"url": s.lastURL})
		s.activateLocked()
	} else {
		common.LogDebug("Not a pricing page, observer dormant", common.Fields{"url": s.lastURL})
	}
	s.poll = s.clock.AfterFunc(s.cfg.PollInterval, s.checkNavigation)
	s.mu.Unlock()

	if active {
		_, _ = s.scan(false)
	}
}

// Stop cancels all timers and detaches observation.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	if s.poll != nil {
		s.poll.Stop()
	}
	s.deactivateLocked()
	if s.cancel != nil {
		s.cancel()
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ForceScan scans immediately regardless of URL relevance or timers.
func (s *Scheduler) ForceScan() (detect.Result, error) {
	return s.scan(true)
}

func (s *Scheduler) activateLocked() {
	s.observer.Attach(s.onMutations)
	s.state = Active
}

func (s *Scheduler) deactivateLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.state == Active {
		s.observer.Detach()
	}
	s.state = Dormant
}

func (s *Scheduler) checkNavigation() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	current := s.page.URL()
	navigated := current != s.lastURL
	scanNow := false
	if navigated {
		s.lastURL = current
		interesting := s.scanner.Rules().IsInterestingURL(current)
		switch {
		case interesting && s.state == Dormant:
			common.LogDebug("Navigation to pricing page, starting observer", common.Fields{"url": current})
			s.activateLocked()
			scanNow = true
		case !interesting && s.state == Active:
			common.LogDebug("Navigation away from pricing page, stopping observer", common.Fields{"url": current})
			s.deactivateLocked()
		}
	}
	s.poll = s.clock.AfterFunc(s.cfg.PollInterval, s.checkNavigation)
	s.mu.Unlock()

	if navigated {
		s.dispatcher.Reset()
	}
	if scanNow {
		_, _ = s.scan(false)
	}
}

func (s *Scheduler) onMutations(batch []Mutation) {
	if !relevant(batch) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.state != Active {
		return
	}

	delay := s.cfg.Debounce
	if !s.lastScan.IsZero() {
		if remaining := s.cfg.Throttle - s.clock.Now().Sub(s.lastScan); remaining > delay {
			delay = remaining
		}
	}

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = s.clock.AfterFunc(delay, func() {
		_, _ = s.scan(false)
	})
}

func relevant(batch []Mutation) bool {
	for _, m := range batch {
		for _, tag := range m.AddedTags {
			if contentTags[strings.ToUpper(tag)] {
				return true
			}
		}
	}
	return false
}

// scan runs one scan. Panics from the page or scanner are recovered and logged.
func (s *Scheduler) scan(force bool) (result detect.Result, err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return detect.Result{}, ErrStopped
	}
	s.lastScan = s.clock.Now()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan panicked: %v", r)
			common.LogError(err, "Scan aborted", common.Fields{"force": force})
		}
	}()

	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	pageURL := s.page.URL()
	if !force && !s.scanner.Rules().IsInterestingURL(pageURL) {
		return detect.Result{}, nil
	}

	snap, err := s.page.Snapshot()
	if err != nil {
		return detect.Result{}, fmt.Errorf("failed to snapshot page: %w", err)
	}

	result, err = s.scanner.Scan(snap)
	if err != nil {
		if errors.Is(err, common.ErrNoPriceFound) {
			common.LogDebug("Confidence met but no price extracted", common.Fields{
				"url":   pageURL,
				"score": result.Breakdown.Total(),
			})
		}
		return result, err
	}
	if !result.Detected {
		return result, nil
	}

	if dispatchErr := s.dispatcher.Dispatch(ctx, result); dispatchErr != nil {
		common.LogError(dispatchErr, "Failed to dispatch detection", common.Fields{"url": pageURL})
		return result, dispatchErr
	}
	return result, nil
}
