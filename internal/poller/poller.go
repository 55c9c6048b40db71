// Package poller watches agent session logs. Session logs live outside the
// project directory, so they are polled rather than file-watched: one ticker
// serves every subscription, runs only while some subscription is active and
// notifies listeners when a session's content changes.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/specflow/specflow/internal/metrics"
	"github.com/specflow/specflow/internal/sessionlog"
)

const (
	// DefaultInterval is the poll period when none is configured.
	DefaultInterval = 5 * time.Second
	// DefaultTail is how many log lines each poll reads.
	DefaultTail = 100

	maxParallel = 4
)

// Content is a parsed view of the tail of one session log.
type Content struct {
	SessionID     string                `json:"sessionId"`
	Messages      []sessionlog.Message  `json:"messages"`
	FilesModified int                   `json:"filesModified"`
	Elapsed       int64                 `json:"elapsed"`
	ToolCalls     []sessionlog.ToolCall `json:"toolCalls,omitempty"`
	Todos         []sessionlog.Todo     `json:"currentTodos,omitempty"`
	HasEnded      bool                  `json:"hasEnded"`
}

func (c Content) hash() string {
	return fmt.Sprintf("%d:%d:%t", len(c.Messages), c.Elapsed, c.HasEnded)
}

// Update is delivered to listeners. Error is set when the log could not be
// read; Content then holds the last good content, if any.
type Update struct {
	SessionID   string  `json:"sessionId"`
	ProjectPath string  `json:"projectPath"`
	Content     Content `json:"content"`
	Error       string  `json:"error,omitempty"`
}

// Listener receives updates. It is called from the polling goroutine and
// must not block for long.
type Listener func(Update)

// Load reads the last tail lines of a session log and summarizes them.
// Elapsed is the span in milliseconds between the first and last message
// timestamps.
func Load(claudeProjects, projectPath, sessionID string, tail int) (Content, error) {
	lines, err := sessionlog.Tail(sessionlog.Path(claudeProjects, projectPath, sessionID), tail)
	if err != nil {
		return Content{}, err
	}
	sum := sessionlog.ParseLines(lines)

	c := Content{
		SessionID:     sessionID,
		Messages:      sum.Messages,
		FilesModified: len(sum.FilesModified),
		ToolCalls:     sum.ToolCalls,
		Todos:         sum.Todos,
		HasEnded:      sum.HasEnded,
	}
	if n := len(sum.Messages); n > 0 && sum.StartTime != "" {
		first, ferr := time.Parse(time.RFC3339Nano, sum.StartTime)
		last, lerr := time.Parse(time.RFC3339Nano, sum.Messages[n-1].Timestamp)
		if ferr == nil && lerr == nil && last.After(first) {
			c.Elapsed = last.Sub(first).Milliseconds()
		}
	}
	return c, nil
}

type subscription struct {
	sessionID   string
	projectPath string
	lastHash    string
	active      bool
}

// Manager owns the subscriptions and the polling goroutine.
type Manager struct {
	claudeProjects string
	interval       time.Duration
	tail           int
	metrics        *metrics.Metrics

	mu        sync.Mutex
	subs      map[string]*subscription
	cache     map[string]Content
	listeners map[int]Listener
	nextID    int
	stop      context.CancelFunc // non-nil while the loop runs
	kick      chan struct{}
	closed    bool
	wg        sync.WaitGroup
}

// New returns a Manager reading session logs under claudeProjects.
func New(claudeProjects string, interval time.Duration, m *metrics.Metrics) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{
		claudeProjects: claudeProjects,
		interval:       interval,
		tail:           DefaultTail,
		metrics:        m,
		subs:           map[string]*subscription{},
		cache:          map[string]Content{},
		listeners:      map[int]Listener{},
		kick:           make(chan struct{}, 1),
	}
}

// Subscribe starts watching a session. The first active subscription starts
// the loop; every subscribe triggers an immediate poll.
func (m *Manager) Subscribe(sessionID, projectPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if sub, ok := m.subs[sessionID]; ok {
		sub.active = true
		sub.projectPath = projectPath
	} else {
		m.subs[sessionID] = &subscription{sessionID: sessionID, projectPath: projectPath, active: true}
	}
	m.metrics.Subscriptions(m.activeLocked())

	if m.stop == nil {
		m.startLocked()
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Unsubscribe stops watching a session. The loop stops with the last
// active subscription.
func (m *Manager) Unsubscribe(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[sessionID]
	if !ok {
		return
	}
	sub.active = false
	m.deactivatedLocked()
}

// AddListener registers fn and returns a function removing it.
func (m *Manager) AddListener(fn Listener) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Cached returns the last content seen for a session.
func (m *Manager) Cached(sessionID string) (Content, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cache[sessionID]
	return c, ok
}

// Poll polls one subscribed session now and returns its content.
func (m *Manager) Poll(sessionID string) (Content, bool) {
	m.mu.Lock()
	_, ok := m.subs[sessionID]
	m.mu.Unlock()
	if !ok {
		return Content{}, false
	}
	m.pollSession(sessionID)
	return m.Cached(sessionID)
}

// Counts returns the number of subscriptions and how many are active.
func (m *Manager) Counts() (total, active int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs), m.activeLocked()
}

// Running reports whether the polling loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

// Close stops polling and drops every subscription, listener and cached
// content. It waits for the loop to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopLocked()
	m.subs = map[string]*subscription{}
	m.cache = map[string]Content{}
	m.listeners = map[int]Listener{}
	m.metrics.Subscriptions(0)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, s := range m.subs {
		if s.active {
			n++
		}
	}
	return n
}

func (m *Manager) deactivatedLocked() {
	n := m.activeLocked()
	m.metrics.Subscriptions(n)
	if n == 0 {
		m.stopLocked()
	}
}

func (m *Manager) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	m.stop = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
}

func (m *Manager) stopLocked() {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
}

func (m *Manager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.kick:
		}
		m.pollAll(ctx)
	}
}

// pollAll polls active sessions in parallel. A failing session never stops
// the others; failures reach listeners as updates.
func (m *Manager) pollAll(ctx context.Context) {
	m.mu.Lock()
	var ids []string
	for id, s := range m.subs {
		if s.active {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, id := range ids {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			m.pollSession(id)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) pollSession(sessionID string) {
	m.mu.Lock()
	sub, ok := m.subs[sessionID]
	if !ok || !sub.active {
		m.mu.Unlock()
		return
	}
	projectPath := sub.projectPath
	m.mu.Unlock()

	content, err := Load(m.claudeProjects, projectPath, sessionID, m.tail)

	m.mu.Lock()
	up := Update{SessionID: sessionID, ProjectPath: projectPath}
	if err != nil {
		key := "error:" + err.Error()
		if key == sub.lastHash {
			m.mu.Unlock()
			return
		}
		sub.lastHash = key
		up.Error = err.Error()
		up.Content = m.cache[sessionID]
		up.Content.SessionID = sessionID
	} else {
		h := content.hash()
		if h == sub.lastHash {
			m.mu.Unlock()
			return
		}
		sub.lastHash = h
		m.cache[sessionID] = content
		up.Content = content
		if content.HasEnded {
			sub.active = false
			m.deactivatedLocked()
		}
	}
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		notify(fn, up)
	}
}

// notify calls fn, containing a panic to that listener.
func notify(fn Listener, up Update) {
	defer func() { _ = recover() }()
	fn(up)
}
