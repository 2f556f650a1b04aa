package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/firestore"
)

// FirestoreMailer queues messages in a collection watched by the Firebase
// "Trigger Email" extension.
type FirestoreMailer struct {
	Client     *firestore.Client
	Collection string
}

type mailDoc struct {
	To      []string    `firestore:"to"`
	Message mailMessage `firestore:"message"`
}

type mailMessage struct {
	Subject     string           `firestore:"subject"`
	HTML        string           `firestore:"html"`
	Attachments []mailAttachment `firestore:"attachments,omitempty"`
}

type mailAttachment struct {
	Filename string `firestore:"filename"`
	Content  string `firestore:"content"`
	Encoding string `firestore:"encoding"`
}

func (m *FirestoreMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("message %q has no recipient", msg.Subject)
	}
	if _, _, err := m.Client.Collection(m.Collection).Add(ctx, toMailDoc(msg)); err != nil {
		return fmt.Errorf("failed to queue mail: %w", err)
	}
	return nil
}

func toMailDoc(msg Message) mailDoc {
	doc := mailDoc{
		To:      []string{msg.To},
		Message: mailMessage{Subject: msg.Subject, HTML: msg.Body},
	}
	if msg.Attachment != nil {
		doc.Message.Attachments = []mailAttachment{{
			Filename: msg.Attachment.Filename,
			Content:  base64.StdEncoding.EncodeToString(msg.Attachment.Content),
			Encoding: "base64",
		}}
	}
	return doc
}

// LogNotifier logs messages instead of sending them.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) error {
	slog.Info("Notification", "to", msg.To, "subject", msg.Subject, "hasAttachment", msg.Attachment != nil)
	return nil
}

// MemoryNotifier records sent messages.
type MemoryNotifier struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (n *MemoryNotifier) Send(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *MemoryNotifier) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Message, len(n.sent))
	copy(out, n.sent)
	return out
}
