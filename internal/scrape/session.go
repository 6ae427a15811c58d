// Package scrape drives a headless Chromium session through the work
// schedule site and captures the bar-grid payload of each requested month.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"shiftcal/internal/grid"
	appLog "shiftcal/internal/log"
)

// Default session parameters.
const (
	DefaultResponseTimeout = 30 * time.Second
	DefaultSessionTimeout  = 5 * time.Minute
	DefaultProfile         = "0002"

	jsonContentType = "application/json;charset=UTF-8"
)

// Page selectors. The month field id contains a slash and must be escaped.
const (
	selIdentifier   = `#identifierInput`
	selPassword     = `#password`
	selSignOn       = `[title="Sign On"]`
	selUserSettings = `[aria-controls='user-settings']`
	selPlanning     = `button[title='WPL']`
	selMonthField   = `#for\/ANMOIS`
	selSearch       = `#toolbar_search_input`
)

// ErrNoResponse is returned when no valid payload arrived for a month
// within the response timeout.
var ErrNoResponse = errors.New("scrape: no valid response")

// Options configures a scraping session.
type Options struct {
	// URL is the login page of the schedule site.
	URL string
	// Identifier is the employee identifier (e.g. "CHD1234567").
	Identifier string
	Password   string
	// Profile selects the user-settings profile "<Identifier>/<Profile>".
	Profile string
	// ExecPath overrides the Chromium binary; empty means auto-detect.
	ExecPath string
	Headless bool
	// ResponseTimeout bounds the wait for one month's payload.
	ResponseTimeout time.Duration
	// SessionTimeout bounds the whole session.
	SessionTimeout time.Duration
}

func (o *Options) normalize() {
	if o.Profile == "" {
		o.Profile = DefaultProfile
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = DefaultSessionTimeout
	}
}

// Result holds the payloads that were captured, in request order.
type Result struct {
	Responses []grid.Response
	// Fetched lists the months for which a payload was captured.
	Fetched []string
}

// Scraper fetches months from the schedule site. A Scraper opens a fresh
// browser per call; calls must not overlap since the site session is
// stateful.
type Scraper struct {
	opts Options
}

func New(opts Options) *Scraper {
	opts.normalize()
	return &Scraper{opts: opts}
}

// FetchMonths logs in and requests each month in turn. A month that does
// not produce a valid payload in time is skipped. Browser failures end the
// session early; the months captured so far are still returned together
// with the error.
func (s *Scraper) FetchMonths(parentCtx context.Context, months []string) (Result, error) {
	var result Result
	if len(months) == 0 {
		return result, nil
	}
	if s.opts.URL == "" {
		return result, fmt.Errorf("scrape: URL is required")
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("headless", s.opts.Headless),
	)
	if s.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(s.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer cancelAlloc()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	// Apply timeout to the entire session.
	ctx, timeoutCancel := context.WithTimeout(ctx, s.opts.SessionTimeout)
	defer timeoutCancel()

	bodies := make(chan []byte, 32)
	s.listen(ctx, bodies)

	appLog.Info("scrape start", "months", months, "url", s.opts.URL)

	if err := chromedp.Run(ctx, s.loginTasks()); err != nil {
		return result, fmt.Errorf("scrape: login failed: %w", err)
	}

	for _, month := range months {
		token := grid.ToSiteMonth(month)
		if token == "" {
			appLog.Warn("scrape skipping malformed month", "month", month)
			continue
		}

		if err := chromedp.Run(ctx,
			chromedp.WaitReady(selMonthField, chromedp.ByQuery),
			chromedp.Sleep(2*time.Second),
		); err != nil {
			return result, fmt.Errorf("scrape: month field: %w", err)
		}

		// Anything captured so far belongs to the previous request.
		drain(bodies)

		if err := chromedp.Run(ctx,
			chromedp.SetValue(selMonthField, token, chromedp.ByQuery),
			chromedp.Focus(selMonthField, chromedp.ByQuery),
			chromedp.KeyEvent(kb.Enter),
			chromedp.Click(selSearch, chromedp.ByQuery),
		); err != nil {
			return result, fmt.Errorf("scrape: request month %s: %w", month, err)
		}

		resp, err := awaitMonth(ctx, bodies, month, s.opts.ResponseTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return result, fmt.Errorf("scrape: %w", ctx.Err())
			}
			appLog.Error("scrape month skipped", err, "month", month)
			continue
		}
		appLog.Debug("scrape response received", "month", month, "rows", len(resp.Rows))
		result.Responses = append(result.Responses, resp)
		result.Fetched = append(result.Fetched, month)
	}

	appLog.Info("scrape done", "requested", len(months), "fetched", len(result.Fetched))
	return result, nil
}

func (s *Scraper) loginTasks() chromedp.Tasks {
	profile := fmt.Sprintf(`input[value='%s/%s']`, s.opts.Identifier, s.opts.Profile)
	return chromedp.Tasks{
		network.Enable(),
		// Fonts and images are never needed and slow the site down.
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{
			{ResourceType: network.ResourceTypeFont},
			{ResourceType: network.ResourceTypeImage},
		}),
		chromedp.Navigate(s.opts.URL),

		chromedp.WaitReady(selIdentifier, chromedp.ByQuery),
		chromedp.SendKeys(selIdentifier, s.opts.Identifier+kb.Enter, chromedp.ByQuery),
		chromedp.Sleep(300 * time.Millisecond),

		chromedp.WaitReady(selPassword, chromedp.ByQuery),
		chromedp.SendKeys(selPassword, s.opts.Password, chromedp.ByQuery),
		chromedp.Sleep(300 * time.Millisecond),

		chromedp.WaitReady(selSignOn, chromedp.ByQuery),
		chromedp.Click(selSignOn, chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),

		chromedp.WaitReady(selUserSettings, chromedp.ByQuery),
		chromedp.Click(selUserSettings, chromedp.ByQuery),
		chromedp.Sleep(300 * time.Millisecond),

		chromedp.WaitReady(profile, chromedp.ByQuery),
		chromedp.Click(profile, chromedp.ByQuery),

		chromedp.WaitReady(selPlanning, chromedp.ByQuery),
		chromedp.Click(selPlanning, chromedp.ByQuery),
	}
}

// listen blocks fonts/images and forwards the body of every finished JSON
// response to bodies. Listener callbacks must not block, so CDP calls run
// on their own goroutines.
func (s *Scraper) listen(ctx context.Context, bodies chan<- []byte) {
	var jsonRequests sync.Map

	chromedp.ListenTarget(ctx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go func(id fetch.RequestID) {
				_ = chromedp.Run(ctx, fetch.FailRequest(id, network.ErrorReasonBlockedByClient))
			}(e.RequestID)

		case *network.EventResponseReceived:
			if e.Response != nil && isJSONResponse(e.Response.Headers) {
				jsonRequests.Store(e.RequestID, struct{}{})
			}

		case *network.EventLoadingFinished:
			if _, ok := jsonRequests.LoadAndDelete(e.RequestID); !ok {
				return
			}
			go func(id network.RequestID) {
				var body []byte
				err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
					b, err := network.GetResponseBody(id).Do(ctx)
					body = b
					return err
				}))
				if err != nil {
					appLog.Debug("scrape body unavailable", "request_id", string(id), "err", err)
					return
				}
				select {
				case bodies <- body:
				case <-ctx.Done():
				}
			}(e.RequestID)
		}
	})
}

// isJSONResponse matches the content type the site uses for its grid
// payloads. Header names are case-insensitive.
func isJSONResponse(headers network.Headers) bool {
	for k, v := range headers {
		if !strings.EqualFold(k, "content-type") {
			continue
		}
		s, ok := v.(string)
		return ok && strings.EqualFold(strings.ReplaceAll(s, " ", ""), jsonContentType)
	}
	return false
}

// awaitMonth waits for the first body that decodes as month's payload.
// Bodies that do not decode are expected while the page is loading and are
// dropped silently.
func awaitMonth(ctx context.Context, bodies <-chan []byte, month string, timeout time.Duration) (grid.Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return grid.Response{}, ctx.Err()
		case <-timer.C:
			return grid.Response{}, fmt.Errorf("%w for %s after %s", ErrNoResponse, month, timeout)
		case body, ok := <-bodies:
			if !ok {
				return grid.Response{}, fmt.Errorf("%w for %s: session closed", ErrNoResponse, month)
			}
			if resp, ok := grid.DecodeResponse(body, month); ok {
				return resp, nil
			}
		}
	}
}

func drain(bodies <-chan []byte) {
	for {
		select {
		case <-bodies:
		default:
			return
		}
	}
}
