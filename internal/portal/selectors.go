// internal/portal/selectors.go
package portal

import "time"

// DOM hooks of the portal. They are part of the portal contract and change only
// when the portal markup does.
const (
	selLoginLink     = `a[href="/WebNewCAS/login.aspx"]`
	selUsername      = "#pLoginName"
	selPassword      = "#pLoginPassword"
	selCaptchaAnswer = "#ValidationCode"
	selSubmitLogin   = "#LoginSubmitBtn"
	selCaptchaImage  = "#NumberCaptcha"
	selRefreshButton = "#RefreshCaptchaBtn"
	selToast         = "#toast-container"
	selToastMessage  = "#toast-container .toast-message"

	selCancelButton  = "#ctl00_MainContent_CancelButton"
	selSurveySubmit  = "#ctl00_MainContent_Submit"
	linkIDPrefix     = "ctl00_MainContent_StudCour_GridView_"
	pendingLinkLabel = "填寫問卷"
)

const (
	// timedOutMessage is sent on login-error when the landing URL never shows up.
	timedOutMessage = "登入超時"
	// emptyToastMessage stands in for a visible toast without text.
	emptyToastMessage = "登入失敗"
)

// timings holds the race budgets of the workflow. They are fixed by the portal
// contract; only tests in this package shrink them.
type timings struct {
	toastWait        time.Duration
	pollInterval     time.Duration
	pollAttempts     int
	dialogWait       time.Duration
	submitDialogWait time.Duration
}

var defaultTimings = timings{
	toastWait:        10 * time.Second,
	pollInterval:     500 * time.Millisecond,
	pollAttempts:     20,
	dialogWait:       time.Second,
	submitDialogWait: 5 * time.Second,
}
