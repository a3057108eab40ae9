package relay

import "strings"

type Mode string

const (
	ModeDM      Mode = "dm"
	ModeChannel Mode = "channel"
)

// DeliveryRequest is one message delivery, built per HTTP call and owned by
// the handling request until scheduled.
type DeliveryRequest struct {
	Mode    Mode
	Message string
	Link    string

	// UserID is relevant when Mode is dm; ChannelID when Mode is channel.
	// Both are numeric identifier strings as received on the wire; parsing
	// happens at delivery time.
	UserID    string
	ChannelID string
}

// ComposedText returns the message with the optional link appended.
func (r DeliveryRequest) ComposedText() string {
	if strings.TrimSpace(r.Link) == "" {
		return r.Message
	}
	return r.Message + "\n\n" + r.Link
}

// TargetID returns the identifier string selected by Mode.
func (r DeliveryRequest) TargetID() string {
	if r.Mode == ModeChannel {
		return r.ChannelID
	}
	return r.UserID
}
