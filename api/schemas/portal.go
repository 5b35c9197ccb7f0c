// api/schemas/portal.go
package schemas

import "strings"

// LoginRequest is the payload of the "login" channel. It is supplied once per
// attempt and must never be persisted.
type LoginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	CaptchaAnswer string `json:"captchaAnswer"`
}

// Redacted returns a copy that is safe to hand to a logger.
func (r LoginRequest) Redacted() LoginRequest {
	out := r
	if out.Password != "" {
		out.Password = strings.Repeat("*", 8)
	}
	return out
}

// DialogType mirrors the native JavaScript dialog kinds reported over CDP.
type DialogType string

const (
	DialogAlert        DialogType = "alert"
	DialogConfirm      DialogType = "confirm"
	DialogPrompt       DialogType = "prompt"
	DialogBeforeUnload DialogType = "beforeunload"
)

// Dialog describes a browser-native dialog that was intercepted and handled.
type Dialog struct {
	Type     DialogType `json:"type"`
	Message  string     `json:"message"`
	Accepted bool       `json:"accepted"`
}
