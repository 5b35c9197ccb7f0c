// internal/portal/fake_page_test.go
package portal

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/surveypilot/api/schemas"
	"github.com/xkilldash9x/surveypilot/internal/config"
)

const (
	testHomeURL    = "https://portal.test/WebNewCAS/default.aspx"
	testLandingURL = "https://portal.test/WebNewCAS/default.aspx"
	testLoginURL   = "https://portal.test/WebNewCAS/login.aspx"
	testSurveyURL  = "https://portal.test/WebNewCAS/TeachSurvey/Survey/Default.aspx?ShowInfoMsg=1"
)

var testTimings = timings{
	toastWait:        60 * time.Millisecond,
	pollInterval:     10 * time.Millisecond,
	pollAttempts:     20,
	dialogWait:       30 * time.Millisecond,
	submitDialogWait: 30 * time.Millisecond,
}

func testPortalConfig() config.PortalConfig {
	return config.PortalConfig{
		HomeURL:           testHomeURL,
		LandingURL:        testLandingURL,
		SurveyURL:         testSurveyURL,
		NavigationTimeout: time.Second,
		ElementTimeout:    50 * time.Millisecond,
	}
}

// blockUntilDone simulates an element that never shows up.
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeRadio struct {
	question string
	value    string
}

var radioValuePattern = regexp.MustCompile(`\[value="([^"]*)"\]`)

// fakePage is a scripted Page. Unless configured otherwise every element is
// visible at once and every action succeeds.
type fakePage struct {
	mu    sync.Mutex
	calls []string

	current  string
	location func(n int) (string, error)
	locCalls int

	visible     map[string]func(ctx context.Context) error
	clickErr    map[string]error
	click       func(ctx context.Context, selector string) error
	sendKeysErr error
	sendKeys    func(ctx context.Context, selector, text string) error
	typed       map[string]string

	captchaSrc string
	toastText  string
	outerHTML  string

	radios  []fakeRadio
	checked map[string]string

	dialogOnNavigate map[string]schemas.Dialog
	dialogOnClick    map[string]schemas.Dialog
	listeners        map[int]chan schemas.Dialog
	acceptFlags      []bool
	nextListener     int

	clearErr   error
	clearPanic bool
	closeErr   error
	clears     int
	closes     int
}

func newFakePage() *fakePage {
	return &fakePage{
		current:          testLoginURL,
		visible:          map[string]func(ctx context.Context) error{},
		clickErr:         map[string]error{},
		typed:            map[string]string{},
		checked:          map[string]string{},
		dialogOnNavigate: map[string]schemas.Dialog{},
		dialogOnClick:    map[string]schemas.Dialog{},
		listeners:        map[int]chan schemas.Dialog{},
	}
}

func (p *fakePage) record(format string, args ...interface{}) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.record("navigate %s", url)
	p.current = url
	d, hasDialog := p.dialogOnNavigate[url]
	p.mu.Unlock()
	if hasDialog {
		p.fireDialog(d)
	}
	return ctx.Err()
}

func (p *fakePage) WaitVisible(ctx context.Context, selector string) error {
	p.mu.Lock()
	fn := p.visible[selector]
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return ctx.Err()
}

func (p *fakePage) WaitPresent(ctx context.Context, selector string) error {
	return p.WaitVisible(ctx, selector)
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	p.record("click %s", selector)
	err, hook := p.clickErr[selector], p.click
	d, hasDialog := p.dialogOnClick[selector]
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		if err := hook(ctx, selector); err != nil {
			return err
		}
	}
	if hasDialog {
		p.fireDialog(d)
	}
	return ctx.Err()
}

func (p *fakePage) SendKeys(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	p.record("type %s", selector)
	hook, err := p.sendKeys, p.sendKeysErr
	p.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, selector, text); err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.typed[selector] += text
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, script string, res interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result interface{}
	switch {
	case strings.Contains(script, `input[type="radio"]`):
		m := radioValuePattern.FindStringSubmatch(script)
		count := 0
		for _, r := range p.radios {
			if m != nil && r.value == m[1] {
				p.checked[r.question] = r.value
				count++
			}
		}
		p.record("radios %s", m[1])
		result = count
	case strings.Contains(script, selToastMessage):
		p.record("read toast")
		result = p.toastText
	case strings.Contains(script, selCaptchaImage):
		p.record("read captcha")
		result = p.captchaSrc
	case strings.Contains(script, `el.value = ""`):
		p.record("clear fields")
		for sel := range p.typed {
			if strings.Contains(script, fmt.Sprintf("%q", sel)) {
				delete(p.typed, sel)
			}
		}
		result = true
	default:
		return fmt.Errorf("unexpected script: %s", script)
	}

	switch r := res.(type) {
	case *string:
		*r = result.(string)
	case *int:
		*r = result.(int)
	case *bool:
		*r = result.(bool)
	}
	return ctx.Err()
}

func (p *fakePage) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	p.locCalls++
	n, fn, current := p.locCalls, p.location, p.current
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(n)
	}
	return current, nil
}

func (p *fakePage) LocationCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locCalls
}

func (p *fakePage) OuterHTML(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("outerHTML %s", selector)
	return p.outerHTML, ctx.Err()
}

func (p *fakePage) ExpectDialog(accept bool) (<-chan schemas.Dialog, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextListener
	p.nextListener++
	ch := make(chan schemas.Dialog, 1)
	p.listeners[id] = ch
	p.acceptFlags = append(p.acceptFlags, accept)
	return ch, func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// fireDialog delivers d to every live listener once, the way a one-shot CDP
// subscription behaves.
func (p *fakePage) fireDialog(d schemas.Dialog) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.listeners {
		d.Accepted = p.acceptFlags[id]
		ch <- d
		delete(p.listeners, id)
	}
}

func (p *fakePage) ClearBrowsingData(context.Context) error {
	p.mu.Lock()
	p.clears++
	p.record("clear browsing data")
	err, panics := p.clearErr, p.clearPanic
	p.mu.Unlock()
	if panics {
		panic("cdp connection lost")
	}
	return err
}

func (p *fakePage) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	p.record("close")
	return p.closeErr
}

func (p *fakePage) Teardowns() (clears, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clears, p.closes
}

type post struct {
	Channel schemas.Channel
	Payload interface{}
}

type recordingPublisher struct {
	mu    sync.Mutex
	posts []post
	// onPost, if set, runs synchronously inside Post, like a subscriber that
	// reacts before the poster moves on.
	onPost func(post)
}

func (r *recordingPublisher) Post(_ context.Context, ch schemas.Channel, payload interface{}) error {
	p := post{Channel: ch, Payload: payload}
	r.mu.Lock()
	r.posts = append(r.posts, p)
	hook := r.onPost
	r.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (r *recordingPublisher) Posts() []post {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]post(nil), r.posts...)
}

func newTestEngine(t *testing.T, page *fakePage) (*Engine, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return newEngine(page, testPortalConfig(), pub, zaptest.NewLogger(t), testTimings), pub
}

// landingAfter reports the login page for the first n-1 location reads and the landing page afterwards.
func landingAfter(n int) func(int) (string, error) {
	return func(call int) (string, error) {
		if call >= n {
			return testLandingURL, nil
		}
		return testLoginURL, nil
	}
}
