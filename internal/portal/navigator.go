// internal/portal/navigator.go
package portal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveypilot/api/schemas"
)

// QuestionnaireLink is one pending questionnaire on the survey listing page.
type QuestionnaireLink struct {
	ID  string
	URL string
}

// NavigationResult is what the post-login navigator found. When Resolved is
// set the portal announced via a native dialog that nothing is pending, and
// Links is empty.
type NavigationResult struct {
	Resolved bool
	Dialog   *schemas.Dialog
	Links    []QuestionnaireLink
}

// AfterSuccess opens the survey listing and collects the pending questionnaires.
func (e *Engine) AfterSuccess(ctx context.Context) (NavigationResult, error) {
	if err := e.checkOpen(); err != nil {
		return NavigationResult{}, err
	}

	// Subscribe before navigating; the dialog fires during the page load.
	dialogs, stop := e.page.ExpectDialog(true)
	defer stop()

	if err := e.navigate(ctx, e.cfg.SurveyURL); err != nil {
		return NavigationResult{}, stageErr(StageNavigate, err)
	}

	timer := time.NewTimer(e.timings.dialogWait)
	defer timer.Stop()

	select {
	case d := <-dialogs:
		e.logger.Info("Survey page answered with a dialog.", zap.String("type", string(d.Type)), zap.String("message", d.Message))
		return NavigationResult{Resolved: true, Dialog: &d}, nil
	case <-timer.C:
		e.logger.Debug("No dialog on the survey page; discovering questionnaires.")
	case <-ctx.Done():
		return NavigationResult{}, stageErr(StageNavigate, ctx.Err())
	}
	// No further dialogs belong to this step.
	stop()

	if err := e.waitVisible(ctx, selCancelButton); err != nil {
		return NavigationResult{}, stageErr(StageNavigate, err)
	}
	if err := e.click(ctx, selCancelButton); err != nil {
		return NavigationResult{}, stageErr(StageNavigate, fmt.Errorf("failed to dismiss survey notice: %w", err))
	}

	links, err := e.discoverLinks(ctx)
	if err != nil {
		return NavigationResult{}, stageErr(StageNavigate, err)
	}
	e.logger.Info("Discovered pending questionnaires.", zap.Int("count", len(links)))
	return NavigationResult{Links: links}, nil
}

// discoverLinks snapshots the listing page and extracts pending questionnaire
// links in document order.
func (e *Engine) discoverLinks(ctx context.Context) ([]QuestionnaireLink, error) {
	html, err := e.outerHTML(ctx, "html")
	if err != nil {
		return nil, fmt.Errorf("failed to read survey listing: %w", err)
	}
	current, err := e.location(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read survey listing URL: %w", err)
	}
	return parseQuestionnaireLinks(html, current)
}

// parseQuestionnaireLinks selects anchors whose id carries the course grid
// prefix and whose label asks for the questionnaire to be filled, and resolves
// their hrefs against pageURL.
func parseQuestionnaireLinks(html, pageURL string) ([]QuestionnaireLink, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse survey listing: %w", err)
	}

	links := []QuestionnaireLink{}
	doc.Find(fmt.Sprintf(`a[id^=%q]`, linkIDPrefix)).Each(func(_ int, a *goquery.Selection) {
		if !strings.Contains(a.Text(), pendingLinkLabel) {
			return
		}
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		id, _ := a.Attr("id")
		links = append(links, QuestionnaireLink{ID: id, URL: base.ResolveReference(ref).String()})
	})
	return links, nil
}
