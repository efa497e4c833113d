package domain

import "fmt"

// Channel is an outbound messaging channel.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Channels lists channels in the order messages are emitted per step.
var Channels = []Channel{ChannelSMS, ChannelEmail}

// MessageStatus is the delivery status of a follow-up message.
type MessageStatus string

const (
	MessageQueued   MessageStatus = "queued"
	MessageSent     MessageStatus = "sent"
	MessageFailed   MessageStatus = "failed"
	MessageCanceled MessageStatus = "canceled"
)

// MaxSendAttempts is the retry ceiling for provider failures.
const MaxSendAttempts = 3

// TriggerSource records what caused an estimate-sent transition.
type TriggerSource string

const (
	TriggerManual              TriggerSource = "manual"
	TriggerSentFromAnotherTool TriggerSource = "sent_from_another_tool"
)

// ParseTriggerSource validates a trigger source; empty defaults to manual.
func ParseTriggerSource(raw string) (TriggerSource, error) {
	switch TriggerSource(raw) {
	case "":
		return TriggerManual, nil
	case TriggerManual, TriggerSentFromAnotherTool:
		return TriggerSource(raw), nil
	}
	return "", fmt.Errorf("invalid trigger source %q", raw)
}

// Role is a profile role within an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// DevicePlatform identifies the client platform of a registered device.
type DevicePlatform string

const (
	PlatformIOS     DevicePlatform = "ios"
	PlatformAndroid DevicePlatform = "android"
	PlatformWeb     DevicePlatform = "web"
)
