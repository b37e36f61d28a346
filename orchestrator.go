package sampled

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ControllableProperty is one row of the table the console works from: a
// dotted property path, a display label, the command tokens a user may type,
// and the setter that dispatches to the owning sampler.
type ControllableProperty struct {
	Path     string   // "<source>.interval" or "<source>.<parameter>"
	Label    string   // human-readable, e.g. "time interval (s)"
	Commands []string // accepted console tokens, e.g. "dt"

	set func(value any) error
}

// Orchestrator owns the set of samplers for one recording session: group
// start/pause/stop, and the live control surface for interval and parameter
// changes. Control methods execute on the caller's goroutine and must never
// be invoked from inside a sampler's own timing loop.
type Orchestrator struct {
	events *EventBus

	mu         sync.Mutex
	samplers   map[string]*Sampler
	order      []string // registration order
	properties map[string]*ControllableProperty
	running    bool
}

// NewOrchestrator creates an empty Orchestrator reporting on the given bus.
func NewOrchestrator(events *EventBus) *Orchestrator {
	return &Orchestrator{
		events:     events,
		samplers:   make(map[string]*Sampler),
		properties: make(map[string]*ControllableProperty),
	}
}

// Events returns the orchestrator's event bus.
func (o *Orchestrator) Events() *EventBus { return o.events }

// Register creates a sampler for the source and registers its controllable
// properties: "<name>.interval" (console token "dt") and one entry per named
// parameter present in the initial config.
func (o *Orchestrator) Register(source Source, config SamplerConfig) (*Sampler, error) {
	name := source.Name()
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.samplers[name]; exists {
		return nil, fmt.Errorf("source %q is already registered", name)
	}
	s := NewSampler(source, config, o.events)
	o.samplers[name] = s
	o.order = append(o.order, name)

	o.properties[name+".interval"] = &ControllableProperty{
		Path:     name + ".interval",
		Label:    fmt.Sprintf("%s time interval (s)", name),
		Commands: []string{"dt"},
		set:      func(value any) error { return setIntervalFrom(s, value) },
	}
	for param := range config.Parameters {
		param := param
		o.properties[name+"."+param] = &ControllableProperty{
			Path:     name + "." + param,
			Label:    fmt.Sprintf("%s %s", name, param),
			Commands: []string{param},
			set:      func(value any) error { return s.SetParameter(param, value) },
		}
	}
	return s, nil
}

func setIntervalFrom(s *Sampler, value any) error {
	switch v := value.(type) {
	case time.Duration:
		return s.SetInterval(v)
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return s.SetInterval(d)
	default:
		if secs, ok := toFloat64(value); ok {
			return s.SetInterval(time.Duration(secs * float64(time.Second)))
		}
	}
	return fmt.Errorf("%w: interval wants seconds or a duration, got %T", ErrInvalidValue, value)
}

// Sampler returns the sampler registered under name, or nil.
func (o *Orchestrator) Sampler(name string) *Sampler {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.samplers[name]
}

// Names returns the registered source names in registration order.
func (o *Orchestrator) Names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

// Properties returns the controllable-property table, sorted by path.
func (o *Orchestrator) Properties() []ControllableProperty {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ControllableProperty, 0, len(o.properties))
	for _, p := range o.properties {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// SetProperty resolves a dotted path like "pressure.interval" against the
// property table and dispatches to the owning sampler's setter. Unregistered
// paths fail with ErrUnknownProperty.
func (o *Orchestrator) SetProperty(path string, value any) error {
	o.mu.Lock()
	p, ok := o.properties[path]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProperty, path)
	}
	return p.set(value)
}

// LookupCommand resolves a console token (e.g. "dt") for one source to the
// full property path it controls.
func (o *Orchestrator) LookupCommand(token, source string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.properties {
		if !strings.HasPrefix(p.Path, source+".") {
			continue
		}
		for _, cmd := range p.Commands {
			if cmd == token {
				return p.Path, true
			}
		}
	}
	return "", false
}

// StartAll starts every registered sampler, collecting per-source failures
// rather than aborting the whole session on one bad source. The returned
// error joins the individual failures; samplers that did start keep running.
func (o *Orchestrator) StartAll() error {
	o.mu.Lock()
	names := append([]string(nil), o.order...)
	o.mu.Unlock()

	var errs []error
	started := 0
	for _, name := range names {
		s := o.Sampler(name)
		if err := s.Start(); err != nil {
			errs = append(errs, err)
			continue
		}
		started++
	}
	o.mu.Lock()
	o.running = started > 0
	o.mu.Unlock()
	return errors.Join(errs...)
}

// PauseAll suspends reading on every sampler.
func (o *Orchestrator) PauseAll() {
	for _, name := range o.Names() {
		o.Sampler(name).Pause()
	}
}

// ResumeAll re-enables reading on every sampler.
func (o *Orchestrator) ResumeAll() {
	for _, name := range o.Names() {
		o.Sampler(name).Resume()
	}
}

// StopAll stops every sampler and returns only after each one's goroutine has
// joined (or its join timeout expired), so the caller can close shared output
// resources immediately afterward without racing a still-writing loop.
// Idempotent: stopping an already-stopped session is a no-op.
func (o *Orchestrator) StopAll() error {
	var errs []error
	for _, name := range o.Names() {
		if err := o.Sampler(name).Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	return errors.Join(errs...)
}

// Running reports the group-run flag: true between a successful StartAll and
// the following StopAll.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Wait blocks until every registered sampler has reached the Stopped state.
func (o *Orchestrator) Wait() {
	for _, name := range o.Names() {
		s := o.Sampler(name)
		<-s.loopDone
	}
}

// SourceStatus is one source's entry in a status snapshot.
type SourceStatus struct {
	Name      string
	State     string
	Interval  float64 // seconds
	Consumers int
	TickStats string
}

// Status describes the whole session, for status broadcasts and RPC replies.
type Status struct {
	Running bool
	Sources []SourceStatus
}

// Status returns a snapshot of the session.
func (o *Orchestrator) Status() Status {
	st := Status{Running: o.Running()}
	for _, name := range o.Names() {
		s := o.Sampler(name)
		st.Sources = append(st.Sources, SourceStatus{
			Name:      name,
			State:     s.State().String(),
			Interval:  s.Config().Interval.Seconds(),
			Consumers: s.fanout.NumChannels(),
			TickStats: s.Stats().String(),
		})
	}
	return st
}

// sessionMetadata is what WriteSessionMetadata serializes.
type sessionMetadata struct {
	Version   string                    `json:"version"`
	Githash   string                    `json:"githash"`
	Host      string                    `json:"host"`
	StartTime time.Time                 `json:"start_time"`
	Sources   map[string]sourceMetadata `json:"sources"`
}

type sourceMetadata struct {
	IntervalSeconds float64        `json:"interval_s"`
	Parameters      map[string]any `json:"parameters,omitempty"`
}

// WriteSessionMetadata records the session's build info and per-source
// configuration as JSON in dir, returning the file path. An existing metadata
// file is never overwritten; the name is incremented instead.
func (o *Orchestrator) WriteSessionMetadata(dir string) (string, error) {
	md := sessionMetadata{
		Version:   Build.Version,
		Githash:   Build.Githash,
		Host:      Build.Host,
		StartTime: SampledStartTime,
		Sources:   make(map[string]sourceMetadata),
	}
	for _, name := range o.Names() {
		cfg := o.Sampler(name).Config()
		md.Sources[name] = sourceMetadata{
			IntervalSeconds: cfg.Interval.Seconds(),
			Parameters:      cfg.Parameters,
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "session_metadata.json")
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("session_metadata-%d.json", n))
	}
	blob, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, blob, 0644)
}
