// internal/portal/captcha.go
package portal

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveypilot/api/schemas"
	"github.com/xkilldash9x/surveypilot/internal/relay"
)

const captchaPrefix = "data:image/png;base64,"

// captchaSrcScript reads the captcha image source, or "" when the image is missing.
var captchaSrcScript = fmt.Sprintf(`(function() {
	const img = document.querySelector(%q);
	return (img && img.src) || "";
})()`, selCaptchaImage)

// CaptchaImage is a PNG data URL, or the zero value when the portal offered no
// usable captcha.
type CaptchaImage struct {
	DataURL string
}

// Present reports whether the image carries a usable PNG.
func (c CaptchaImage) Present() bool {
	return c.DataURL != ""
}

// Payload is the value posted on the captcha channel: the data URL or JSON null.
func (c CaptchaImage) Payload() interface{} {
	if !c.Present() {
		return relay.NullPayload{}
	}
	return c.DataURL
}

// PNG returns the decoded image bytes.
func (c CaptchaImage) PNG() ([]byte, error) {
	if !c.Present() {
		return nil, fmt.Errorf("no captcha image available")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(c.DataURL, captchaPrefix))
}

// parseCaptcha accepts only a PNG data URL with a non-empty, decodable payload.
func parseCaptcha(src string) CaptchaImage {
	src = strings.TrimSpace(src)
	if !strings.HasPrefix(src, captchaPrefix) {
		return CaptchaImage{}
	}
	payload := strings.TrimPrefix(src, captchaPrefix)
	if payload == "" {
		return CaptchaImage{}
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return CaptchaImage{}
	}
	return CaptchaImage{DataURL: src}
}

// FetchCaptcha reads the current captcha image from the login form.
func (e *Engine) FetchCaptcha(ctx context.Context) (CaptchaImage, error) {
	if err := e.checkOpen(); err != nil {
		return CaptchaImage{}, err
	}
	if err := e.waitPresent(ctx, selCaptchaImage); err != nil {
		return CaptchaImage{}, stageErr(StageCaptcha, fmt.Errorf("captcha image not found: %w", err))
	}

	var src string
	if err := e.evaluate(ctx, captchaSrcScript, &src); err != nil {
		return CaptchaImage{}, stageErr(StageCaptcha, fmt.Errorf("failed to read captcha source: %w", err))
	}

	img := parseCaptcha(src)
	if !img.Present() {
		e.logger.Warn("Captcha source is not a PNG data URL; relaying absent marker.", zap.Int("src_len", len(src)))
	}
	return img, nil
}

// ReloadCaptcha asks the portal for a fresh captcha and reads it.
func (e *Engine) ReloadCaptcha(ctx context.Context) (CaptchaImage, error) {
	if err := e.checkOpen(); err != nil {
		return CaptchaImage{}, err
	}
	if err := e.click(ctx, selRefreshButton); err != nil {
		return CaptchaImage{}, stageErr(StageCaptcha, fmt.Errorf("failed to refresh captcha: %w", err))
	}
	return e.FetchCaptcha(ctx)
}

// PublishCaptcha posts img on the captcha channel.
func (e *Engine) PublishCaptcha(ctx context.Context, img CaptchaImage) error {
	return e.publisher.Post(ctx, schemas.ChannelCaptcha, img.Payload())
}
