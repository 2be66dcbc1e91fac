package mail

import "fmt"

// Template identifies the kind of transactional email being sent.
type Template string

const (
	TemplateVerification  Template = "verification"
	TemplatePasswordReset Template = "password_reset"
	TemplateInvitation    Template = "invitation"
)

// Compose builds the message for a template kind. The link already carries
// the one-time token; bodies stay plain text.
func Compose(template Template, to, link string) Message {
	switch template {
	case TemplateVerification:
		return Message{
			To:      []string{to},
			Subject: "Confirm your email address",
			Body: fmt.Sprintf("Welcome!\n\nPlease confirm your email address by visiting the link below:\n%s\n\nIf you did not create an account, you can ignore this message.\n", link),
		}
	case TemplatePasswordReset:
		return Message{
			To:      []string{to},
			Subject: "Reset your password",
			Body: fmt.Sprintf("Hello,\n\nA password reset was requested for your account. Use the link below within the next hour:\n%s\n\nIf you did not request this, no action is needed.\n", link),
		}
	case TemplateInvitation:
		return Message{
			To:      []string{to},
			Subject: "You have been invited",
			Body: fmt.Sprintf("Hello,\n\nYou have been invited to join a unit. Use the following link to set a password and activate your account:\n%s\n\nIf you did not expect this email, you can ignore it.\n", link),
		}
	default:
		return Message{To: []string{to}, Body: link}
	}
}
