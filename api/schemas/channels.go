// api/schemas/channels.go
package schemas

// Channel names a message stream between the automation engine and the
// operator surface. The string values are the wire names and must not change.
type Channel string

const (
	// -- engine -> surface --
	ChannelCaptcha      Channel = "captcha"
	ChannelLoginSuccess Channel = "login-success"
	ChannelLoginFailed  Channel = "login-failed"
	ChannelLoginError   Channel = "login-error"

	// -- surface -> engine --
	ChannelReloadCaptcha Channel = "reload-captcha"
	ChannelClearUsername Channel = "clear-username"
	ChannelLogin         Channel = "login"
	ChannelRefocusWindow Channel = "refocus-window"
	ChannelCloseWindow   Channel = "close-window"
)

// OutboundChannels are published by the engine and consumed by the surface.
var OutboundChannels = []Channel{
	ChannelCaptcha,
	ChannelLoginSuccess,
	ChannelLoginFailed,
	ChannelLoginError,
}

// InboundChannels are published by the surface and consumed by the engine.
var InboundChannels = []Channel{
	ChannelReloadCaptcha,
	ChannelClearUsername,
	ChannelLogin,
	ChannelRefocusWindow,
	ChannelCloseWindow,
}

// IsInbound reports whether the surface is allowed to publish on c.
func (c Channel) IsInbound() bool {
	for _, in := range InboundChannels {
		if in == c {
			return true
		}
	}
	return false
}
