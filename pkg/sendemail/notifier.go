package sendemail

import (
	"context"
	"fmt"
	"html"
	"strings"
)

// EmailLookup resolves a username to a contact address. An empty address
// means the user cannot be reached by mail.
type EmailLookup interface {
	Email(ctx context.Context, username string) (string, error)
}

// OfflineNotice describes a message that reached a recipient with no open
// connection.
type OfflineNotice struct {
	MessageID  int64
	Recipient  string
	SenderName string
	Subject    string
	Body       string
	Priority   string
}

type OfflineNotifier struct {
	email     EmailService
	directory EmailLookup
}

func NewOfflineNotifier(email EmailService, directory EmailLookup) *OfflineNotifier {
	return &OfflineNotifier{email: email, directory: directory}
}

const previewLimit = 280

// Notify mails the recipient a preview of the message. Recipients without an
// address are skipped silently.
func (n *OfflineNotifier) Notify(ctx context.Context, notice OfflineNotice) error {
	to, err := n.directory.Email(ctx, notice.Recipient)
	if err != nil {
		return fmt.Errorf("lookup email for %s: %w", notice.Recipient, err)
	}
	if to == "" {
		return nil
	}

	subject, plain, htmlBody := composeNotice(notice)
	if err := n.email.SendEmail(subject, to, plain, htmlBody); err != nil {
		return fmt.Errorf("send offline notice for message %d: %w", notice.MessageID, err)
	}
	return nil
}

func composeNotice(n OfflineNotice) (string, string, string) {
	prefix := "New message"
	if strings.EqualFold(n.Priority, "urgent") {
		prefix = "Urgent message"
	}
	subject := fmt.Sprintf("%s from %s", prefix, n.SenderName)
	if n.Subject != "" {
		subject += ": " + n.Subject
	}

	preview := n.Body
	if r := []rune(preview); len(r) > previewLimit {
		preview = string(r[:previewLimit]) + "…"
	}

	plain := fmt.Sprintf("%s wrote to you while you were offline:\n\n%s\n", n.SenderName, preview)
	htmlBody := fmt.Sprintf("<p><strong>%s</strong> wrote to you while you were offline:</p><blockquote>%s</blockquote>",
		html.EscapeString(n.SenderName), html.EscapeString(preview))
	return subject, plain, htmlBody
}
