package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/serdaroglu/suizim-bot/internal/integration/extract"
	"github.com/serdaroglu/suizim-bot/internal/observability"
)

// Kind is the shape of result a render request waits for
type Kind int

const (
	KindValue Kind = iota // one aggregate percentage
	KindList              // per-dam values
)

func (k Kind) String() string {
	if k == KindList {
		return "list"
	}
	return "value"
}

// Page scripts
const (
	ScriptInnerText = `document.body ? document.body.innerText : ""`
	ScriptOuterHTML = `document.documentElement.outerHTML`
	scriptTextLen   = `String((document.body && document.body.innerText || "").length)`
)

// Profile ties a page to the script and extractor used on it. The profile is picked by
// request kind and a substring of the navigated URL.
type Profile struct {
	Host   string
	Kind   Kind
	Script string
	Value  func(raw string) (float64, bool)
	List   func(raw string) []extract.Match
}

var defaultProfiles = map[Kind]Profile{
	KindValue: {Kind: KindValue, Script: ScriptInnerText, Value: extract.GenericGeneral},
	KindList:  {Kind: KindList, Script: ScriptInnerText, List: func(string) []extract.Match { return nil }},
}

// Options tunes readiness polling and watchdogs
type Options struct {
	PollInterval     time.Duration
	MaxPollAttempts  int
	MinContentLength int
	ValueTimeout     time.Duration
	ListTimeout      time.Duration
	Clock            clockwork.Clock
}

// DefaultOptions polls every 500ms up to 10 times and gives value requests 20s and list
// requests 30s from start to resolution.
func DefaultOptions() Options {
	return Options{
		PollInterval:     500 * time.Millisecond,
		MaxPollAttempts:  10,
		MinContentLength: 100,
		ValueTimeout:     20 * time.Second,
		ListTimeout:      30 * time.Second,
		Clock:            clockwork.NewRealClock(),
	}
}

// Resolution outcomes
const (
	outcomeSuccess    = "success"
	outcomeMiss       = "miss"
	outcomeSuperseded = "superseded"
	outcomeTimeout    = "timeout"
	outcomeCanceled   = "canceled"
	outcomeError      = "error"
)

type result struct {
	value float64
	ok    bool
	list  []extract.Match
}

type request struct {
	kind     Kind
	target   string
	ctx      context.Context
	cancel   context.CancelFunc
	watchdog clockwork.Timer
	done     chan result
	once     sync.Once
}

// deliver fulfils the request. Only the first call has any effect.
func (r *request) deliver(res result) bool {
	delivered := false
	r.once.Do(func() {
		r.done <- res
		delivered = true
	})
	return delivered
}

func (r *request) stop() {
	r.cancel()
	if r.watchdog != nil {
		r.watchdog.Stop()
	}
}

// Controller owns the single browser session and the single outstanding request.
// Starting a request always fails the previous one with its neutral value first,
// so the latest request wins.
type Controller struct {
	engine   Engine
	opts     Options
	metrics  *observability.Metrics
	profiles []Profile

	mu      sync.Mutex
	session Session
	pending *request
	// gen counts starts and cleanups. A start whose generation moved on while its session
	// was opening has been superseded.
	gen uint64
}

// NewController creates a controller over engine. Zero option fields take their defaults.
func NewController(engine Engine, opts Options, metrics *observability.Metrics, profiles ...Profile) *Controller {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = def.MaxPollAttempts
	}
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = def.MinContentLength
	}
	if opts.ValueTimeout <= 0 {
		opts.ValueTimeout = def.ValueTimeout
	}
	if opts.ListTimeout <= 0 {
		opts.ListTimeout = def.ListTimeout
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	return &Controller{
		engine:   engine,
		opts:     opts,
		metrics:  metrics,
		profiles: profiles,
	}
}

// ScrapeValue renders url and extracts one percentage. ok is false on any failure.
func (c *Controller) ScrapeValue(ctx context.Context, url string) (float64, bool) {
	res := c.scrape(ctx, KindValue, url)
	return res.value, res.ok
}

// ScrapeList renders url and extracts per-dam values. It returns nil on any failure.
func (c *Controller) ScrapeList(ctx context.Context, url string) []extract.Match {
	return c.scrape(ctx, KindList, url).list
}

// Cleanup stops the active navigation, releases the session and resolves any pending
// request with its neutral value. Calling it repeatedly is harmless.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cleanupLocked(outcomeCanceled)
}

func (c *Controller) scrape(ctx context.Context, kind Kind, url string) result {
	req, err := c.start(kind, url)
	if err != nil {
		log.Printf("Render %s request for %s not started: %v", kind, url, err)
		return result{}
	}

	select {
	case res := <-req.done:
		return res
	case <-ctx.Done():
		c.finish(req, result{}, outcomeCanceled)
		return <-req.done
	}
}

var errSuperseded = errors.New("superseded while opening session")

// start supersedes the pending request, opens a session without holding the lock and installs
// the new request unless another start or a cleanup came in meanwhile.
func (c *Controller) start(kind Kind, url string) (*request, error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.cleanupLocked(outcomeSuperseded)
	c.mu.Unlock()

	sess, err := c.engine.NewSession(context.Background())
	if err != nil {
		return nil, fmt.Errorf("open render session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		sess.Close()
		return nil, errSuperseded
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := &request{
		kind:   kind,
		target: url,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan result, 1),
	}
	timeout := c.opts.ValueTimeout
	if kind == KindList {
		timeout = c.opts.ListTimeout
	}
	req.watchdog = c.opts.Clock.AfterFunc(timeout, func() {
		log.Printf("Render %s request for %s timed out after %s", kind, url, timeout)
		c.finish(req, result{}, outcomeTimeout)
	})

	c.session = sess
	c.pending = req
	log.Printf("Render %s request started for %s", kind, url)

	go c.run(req, sess)
	return req, nil
}

// finish resolves req if it is still the pending request and releases its session.
// A request that was superseded, timed out or already resolved is left alone.
func (c *Controller) finish(req *request, res result, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != req {
		return
	}
	c.pending = nil
	req.stop()
	c.resolve(req, res, outcome)
	c.closeSessionLocked()
}

func (c *Controller) cleanupLocked(outcome string) {
	if req := c.pending; req != nil {
		c.pending = nil
		req.stop()
		c.resolve(req, result{}, outcome)
	}
	c.closeSessionLocked()
}

func (c *Controller) closeSessionLocked() {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
}

func (c *Controller) resolve(req *request, res result, outcome string) {
	if !req.deliver(res) {
		return
	}
	if c.metrics != nil {
		c.metrics.RenderResolutions.WithLabelValues(req.kind.String(), outcome).Inc()
	}
}

// run drives one request: navigate, poll for content, extract, resolve.
func (c *Controller) run(req *request, sess Session) {
	if err := sess.Navigate(req.ctx, req.target); err != nil {
		if req.ctx.Err() == nil {
			log.Printf("Render navigation to %s failed: %v", req.target, err)
		}
		c.finish(req, result{}, outcomeError)
		return
	}

	attempts := c.awaitContent(req, sess)
	if c.metrics != nil {
		c.metrics.RenderPollAttempts.Observe(float64(attempts))
	}
	if req.ctx.Err() != nil {
		return
	}

	location, err := sess.Location(req.ctx)
	if err != nil || location == "" {
		location = req.target
	}
	profile := c.profileFor(req.kind, location)

	raw, err := sess.Evaluate(req.ctx, profile.Script)
	if err != nil {
		if req.ctx.Err() == nil {
			log.Printf("Render script on %s failed: %v", location, err)
		}
		c.finish(req, result{}, outcomeError)
		return
	}

	res := extractResult(profile, raw)
	if !res.ok && len(res.list) == 0 {
		log.Printf("Render extraction on %s found nothing. Content preview: %s", location, extract.Snippet(raw, 500))
		c.finish(req, res, outcomeMiss)
		return
	}
	log.Printf("Render extraction on %s succeeded", location)
	c.finish(req, res, outcomeSuccess)
}

// awaitContent polls the visible text length until it passes the threshold or the attempts
// run out. It returns the number of polls made.
func (c *Controller) awaitContent(req *request, sess Session) int {
	for attempt := 1; attempt <= c.opts.MaxPollAttempts; attempt++ {
		tick := c.opts.Clock.NewTimer(c.opts.PollInterval)
		select {
		case <-req.ctx.Done():
			tick.Stop()
			return attempt - 1
		case <-tick.Chan():
		}

		out, err := sess.Evaluate(req.ctx, scriptTextLen)
		if err != nil {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(out)); err == nil && n > c.opts.MinContentLength {
			return attempt
		}
	}
	log.Printf("Render content for %s still short after %d polls, extracting anyway", req.target, c.opts.MaxPollAttempts)
	return c.opts.MaxPollAttempts
}

func (c *Controller) profileFor(kind Kind, location string) Profile {
	for _, p := range c.profiles {
		if p.Kind == kind && strings.Contains(location, p.Host) {
			return p
		}
	}
	return defaultProfiles[kind]
}

func extractResult(p Profile, raw string) result {
	if p.Kind == KindList {
		if p.List == nil {
			return result{}
		}
		return result{list: p.List(raw)}
	}
	if p.Value == nil {
		return result{}
	}
	v, ok := p.Value(raw)
	return result{value: v, ok: ok}
}
