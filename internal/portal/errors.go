// internal/portal/errors.go
package portal

import (
	"errors"
	"fmt"
)

var (
	// ErrLoginInFlight rejects a login request while another attempt is unresolved.
	ErrLoginInFlight = errors.New("a login attempt is already in flight")
	// ErrElementNotVisible reports a bounded visibility wait that ran out.
	ErrElementNotVisible = errors.New("element did not become visible in time")
	// ErrSessionClosed is returned by every operation after teardown.
	ErrSessionClosed = errors.New("browser session already torn down")
)

// Stage names a top-level operation of the workflow.
type Stage string

const (
	StageBootstrap Stage = "bootstrap"
	StageCaptcha   Stage = "captcha"
	StageLogin     Stage = "login"
	StageNavigate  Stage = "navigate"
	StageSurvey    Stage = "survey"
)

// StageError records which operation an operational fault aborted.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
