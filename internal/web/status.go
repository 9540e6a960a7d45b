package web

import (
	"sync"
	"sync/atomic"
	"time"

	"compass-ng/internal/heading"
)

// Status aggregates runtime counters for /api/status. It implements
// heading.Host to count processor outputs.
type Status struct {
	start time.Time

	samples  atomic.Uint64
	updates  atomic.Uint64
	cardinal atomic.Uint64

	mu          sync.RWMutex
	source      string
	method      string
	smoothing   bool
	orientation *heading.Orientation
	last        *heading.HeadingUpdate
	lastAligned *heading.CardinalEvent
	providers   map[string]func() any
}

func NewStatus() *Status {
	return &Status{start: time.Now().UTC(), providers: make(map[string]func() any)}
}

func (s *Status) SetStatic(source, method string, smoothing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	s.method = method
	s.smoothing = smoothing
}

// AddProvider includes fn's result under name in every snapshot.
func (s *Status) AddProvider(name string, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[name] = fn
}

func (s *Status) MarkSample() { s.samples.Add(1) }

func (s *Status) SetOrientation(o heading.Orientation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orientation = &o
}

func (s *Status) OnHeadingUpdate(u heading.HeadingUpdate) {
	s.updates.Add(1)
	s.mu.Lock()
	s.last = &u
	s.mu.Unlock()
}

func (s *Status) OnCardinalAligned(e heading.CardinalEvent) {
	s.cardinal.Add(1)
	s.mu.Lock()
	s.lastAligned = &e
	s.mu.Unlock()
}

type StatusSnapshot struct {
	Service       string                 `json:"service"`
	NowUTC        string                 `json:"now_utc"`
	UptimeSec     int64                  `json:"uptime_sec"`
	Source        string                 `json:"source"`
	Method        string                 `json:"method"`
	Smoothing     bool                   `json:"smoothing"`
	SamplesTotal  uint64                 `json:"samples_total"`
	UpdatesTotal  uint64                 `json:"updates_total"`
	CardinalTotal uint64                 `json:"cardinal_total"`
	Orientation   *heading.Orientation   `json:"orientation,omitempty"`
	Heading       *heading.HeadingUpdate `json:"heading,omitempty"`
	LastCardinal  *heading.CardinalEvent `json:"last_cardinal,omitempty"`
	Extra         map[string]any         `json:"extra,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.mu.RLock()
	snap := StatusSnapshot{
		Service:       "compass-ng",
		NowUTC:        nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:     int64(nowUTC.Sub(s.start).Seconds()),
		Source:        s.source,
		Method:        s.method,
		Smoothing:     s.smoothing,
		SamplesTotal:  s.samples.Load(),
		UpdatesTotal:  s.updates.Load(),
		CardinalTotal: s.cardinal.Load(),
		Orientation:   s.orientation,
		Heading:       s.last,
		LastCardinal:  s.lastAligned,
	}
	providers := make(map[string]func() any, len(s.providers))
	for k, fn := range s.providers {
		providers[k] = fn
	}
	s.mu.RUnlock()

	if len(providers) > 0 {
		snap.Extra = make(map[string]any, len(providers))
		for k, fn := range providers {
			snap.Extra[k] = fn()
		}
	}
	return snap
}
