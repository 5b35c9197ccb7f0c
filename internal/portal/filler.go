// internal/portal/filler.go
package portal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Every question is answered "4" first and then "5", so a question offering
// both ends on "5" and one offering only "4" keeps it.
var answerValues = []string{"4", "5"}

func clickRadiosScript(value string) string {
	return fmt.Sprintf(`(function() {
	const radios = document.querySelectorAll('input[type="radio"][value=%q]');
	radios.forEach(function(radio) { radio.click(); });
	return radios.length;
})()`, value)
}

// FillReport tells which links of a batch were submitted. Failed is the link
// that aborted the batch, and Skipped lists the ones never attempted.
type FillReport struct {
	Completed []QuestionnaireLink
	Failed    *QuestionnaireLink
	Skipped   []QuestionnaireLink
}

// FillAll fills links strictly in order and stops at the first fault. The
// slice is never modified.
func (e *Engine) FillAll(ctx context.Context, links []QuestionnaireLink) (FillReport, error) {
	report := FillReport{Completed: []QuestionnaireLink{}}
	for i, link := range links {
		if err := e.FillOne(ctx, link); err != nil {
			failed := link
			report.Failed = &failed
			report.Skipped = append([]QuestionnaireLink{}, links[i+1:]...)
			return report, stageErr(StageSurvey, fmt.Errorf("questionnaire %d of %d (%s): %w", i+1, len(links), link.URL, err))
		}
		report.Completed = append(report.Completed, link)
	}
	return report, nil
}

// FillOne answers and submits a single questionnaire.
func (e *Engine) FillOne(ctx context.Context, link QuestionnaireLink) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	logger := e.logger.With(zap.String("questionnaire", link.URL))
	logger.Info("Filling questionnaire.")

	if err := e.navigate(ctx, link.URL); err != nil {
		return err
	}
	if err := e.waitVisible(ctx, selSurveySubmit); err != nil {
		return err
	}

	for _, value := range answerValues {
		var clicked int
		if err := e.evaluate(ctx, clickRadiosScript(value), &clicked); err != nil {
			return fmt.Errorf("failed to select answers %q: %w", value, err)
		}
		logger.Debug("Selected answers.", zap.String("value", value), zap.Int("radios", clicked))
	}

	// The portal confirms a submission with a native dialog that must be accepted.
	dialogs, stop := e.page.ExpectDialog(true)
	defer stop()

	if err := e.click(ctx, selSurveySubmit); err != nil {
		return fmt.Errorf("failed to submit questionnaire: %w", err)
	}

	timer := time.NewTimer(e.timings.submitDialogWait)
	defer timer.Stop()

	select {
	case d := <-dialogs:
		logger.Info("Questionnaire submitted.", zap.String("dialog", d.Message))
	case <-timer.C:
		logger.Warn("Questionnaire submitted without a confirmation dialog.")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
