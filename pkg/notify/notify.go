package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"github.com/smith3v/pdf-word-trainer/pkg/progress"
)

const sendTimeout = 10 * time.Second

// Sender abstracts message delivery to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type BotSender struct {
	B *bot.Bot
}

func (s BotSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := s.B.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return err
}

// Notifier tells document owners when their translation job finishes. Only
// terminal events are delivered; everything else is dropped.
type Notifier struct {
	sender Sender
	queue  chan progress.Event
}

func NewNotifier(sender Sender, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &Notifier{sender: sender, queue: make(chan progress.Event, buffer)}
}

func (n *Notifier) Publish(ev progress.Event) {
	if !ev.Status.Terminal() || ev.UserID == 0 {
		return
	}
	select {
	case n.queue <- ev:
	default:
		logger.Error("notification queue full, dropping", "document_id", ev.DocumentID)
	}
}

// Run delivers queued notifications until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			n.deliver(ctx, ev)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, ev progress.Event) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := n.sender.SendMessage(sendCtx, ev.UserID, Message(ev)); err != nil {
		logger.Error("failed to send completion notice", "document_id", ev.DocumentID, "user_id", ev.UserID, "error", err)
	}
}

func Message(ev progress.Event) string {
	title := ev.Title
	if title == "" {
		title = "Your document"
	}
	if ev.Status == db.StatusCompleted {
		return fmt.Sprintf("✅ %q is ready: %d of %d words translated.", title, ev.TranslatedWords, ev.TotalWords)
	}
	reason := ev.FailureReason
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("❌ %q could not be translated (%s).", title, reason)
}
