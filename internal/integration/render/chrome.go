package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/chromedp/chromedp"
)

// ChromeConfig configures the local Chrome process
type ChromeConfig struct {
	Headless  bool
	ExecPath  string // empty lets chromedp find Chrome
	UserAgent string
}

// ChromeEngine is an Engine backed by one Chrome process; every session is a new tab.
type ChromeEngine struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	started       bool
	closed        bool
}

var errEngineClosed = errors.New("browser engine closed")

// NewChromeEngine prepares a Chrome allocator. The browser itself starts on the first session.
func NewChromeEngine(cfg ChromeConfig) *ChromeEngine {
	if cfg.UserAgent == "" {
		cfg.UserAgent = MobileSafariUA
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	e := &ChromeEngine{allocCtx: allocCtx, allocCancel: allocCancel}
	e.resetBrowserLocked()
	return e
}

func (e *ChromeEngine) resetBrowserLocked() {
	e.browserCtx, e.browserCancel = chromedp.NewContext(e.allocCtx, chromedp.WithLogf(log.Printf))
	e.started = false
}

// NewSession opens a tab. The ctx only bounds browser start-up.
func (e *ChromeEngine) NewSession(ctx context.Context) (Session, error) {
	browserCtx, err := e.browser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	return &chromeSession{ctx: tabCtx, cancel: cancel}, nil
}

// browser returns the running browser context, launching Chrome when it is not running.
// A failed launch or a browser that went away is replaced on the next call.
func (e *ChromeEngine) browser(ctx context.Context) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errEngineClosed
	}
	if e.started && e.browserCtx.Err() == nil {
		return e.browserCtx, nil
	}
	if e.started {
		log.Printf("Browser went away, restarting Chrome")
		e.browserCancel()
		e.resetBrowserLocked()
	}

	log.Printf("Starting headless Chrome")
	stop := context.AfterFunc(ctx, e.browserCancel)
	err := chromedp.Run(e.browserCtx)
	stop()
	if err != nil {
		e.browserCancel()
		e.resetBrowserLocked()
		return nil, err
	}
	e.started = true
	return e.browserCtx, nil
}

// Close shuts the browser down
func (e *ChromeEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.browserCancel()
	e.allocCancel()
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions in the tab; cancelling ctx closes the tab.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	return chromedp.Run(s.ctx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	var loc string
	err := s.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (s *chromeSession) Evaluate(ctx context.Context, script string) (string, error) {
	var out string
	err := s.run(ctx, chromedp.Evaluate(script, &out))
	return out, err
}

func (s *chromeSession) Close() {
	s.cancel()
}
