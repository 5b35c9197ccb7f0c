// internal/portal/filler_test.go
package portal

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/surveypilot/api/schemas"
)

var testLinks = []QuestionnaireLink{
	{ID: "q1", URL: "https://portal.test/Fill.aspx?current_subj=1"},
	{ID: "q2", URL: "https://portal.test/Fill.aspx?current_subj=2"},
	{ID: "q3", URL: "https://portal.test/Fill.aspx?current_subj=3"},
}

func TestFillAll_AbortsOnFirstFault(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := newFakePage()
	page.visible[selSurveySubmit] = func(ctx context.Context) error {
		page.mu.Lock()
		current := page.current
		page.mu.Unlock()
		if current == testLinks[1].URL {
			return blockUntilDone(ctx)
		}
		return nil
	}
	engine, _ := newTestEngine(t, page)

	links := append([]QuestionnaireLink(nil), testLinks...)
	report, err := engine.FillAll(context.Background(), links)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrElementNotVisible)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageSurvey, stageErr.Stage)

	want := FillReport{
		Completed: []QuestionnaireLink{testLinks[0]},
		Failed:    &testLinks[1],
		Skipped:   []QuestionnaireLink{testLinks[2]},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, testLinks, links, "the discovered sequence is never mutated")

	for _, call := range page.Calls() {
		assert.NotEqual(t, "navigate "+testLinks[2].URL, call, "item 3 must never be attempted")
	}
}

func TestFillAll_InOrder(t *testing.T) {
	page := newFakePage()
	page.dialogOnClick[selSurveySubmit] = schemas.Dialog{Type: schemas.DialogAlert, Message: "送出成功"}
	engine, _ := newTestEngine(t, page)

	report, err := engine.FillAll(context.Background(), testLinks)
	require.NoError(t, err)
	assert.Equal(t, testLinks, report.Completed)
	assert.Nil(t, report.Failed)
	assert.Empty(t, report.Skipped)

	var navigations []string
	for _, call := range page.Calls() {
		if len(call) > len("navigate ") && call[:len("navigate ")] == "navigate " {
			navigations = append(navigations, call[len("navigate "):])
		}
	}
	assert.Equal(t, []string{testLinks[0].URL, testLinks[1].URL, testLinks[2].URL}, navigations)
}

func TestFillAll_Empty(t *testing.T) {
	page := newFakePage()
	engine, _ := newTestEngine(t, page)

	report, err := engine.FillAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Completed)
	assert.Empty(t, page.Calls())
}

func TestFillOne_SelectsFoursThenFives(t *testing.T) {
	page := newFakePage()
	page.radios = []fakeRadio{
		{question: "teaching", value: "1"},
		{question: "teaching", value: "4"},
		{question: "teaching", value: "5"},
		{question: "materials", value: "3"},
		{question: "materials", value: "4"},
		{question: "workload", value: "5"},
	}
	page.dialogOnClick[selSurveySubmit] = schemas.Dialog{Type: schemas.DialogAlert, Message: "送出成功"}
	engine, _ := newTestEngine(t, page)

	require.NoError(t, engine.FillOne(context.Background(), testLinks[0]))

	assert.Equal(t, map[string]string{
		"teaching":  "5",
		"materials": "4",
		"workload":  "5",
	}, page.checked)
	assert.Equal(t, []string{
		"navigate " + testLinks[0].URL,
		"radios 4",
		"radios 5",
		"click " + selSurveySubmit,
	}, page.Calls())
	assert.Equal(t, []bool{true}, page.acceptFlags, "the submit dialog is accepted")
}

func TestFillOne_MissingConfirmationIsNotAFault(t *testing.T) {
	page := newFakePage()
	engine, _ := newTestEngine(t, page)

	assert.NoError(t, engine.FillOne(context.Background(), testLinks[0]))
}

func TestFillOne_SubmitClickFault(t *testing.T) {
	page := newFakePage()
	page.clickErr[selSurveySubmit] = errors.New("node is detached")
	engine, _ := newTestEngine(t, page)

	err := engine.FillOne(context.Background(), testLinks[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node is detached")
}
