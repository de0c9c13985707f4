// Package transporttest provides an in-memory transport.Adapter that
// records everything the bot sends.
package transporttest

import (
	"context"
	"sync"
	"time"

	kit "countdownbot/internal/transport"
)

type Sent struct {
	To      kit.ChatTarget
	Text    string
	Options *kit.SendOptions
}

type Edit struct {
	Ref     kit.MessageRef
	Text    string
	Options *kit.SendOptions
}

type Answer struct {
	CallbackID string
	Text       string
}

type Adapter struct {
	mu      sync.Mutex
	nextID  int
	sent    []Sent
	edits   []Edit
	answers []Answer
	menu    []kit.BotCommand

	// SendErr, when set, is returned by SendText.
	SendErr error

	notify chan struct{}
}

func New() *Adapter {
	return &Adapter{notify: make(chan struct{}, 1024)}
}

// Start does nothing; tests push updates into the consumer directly.
func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }

func (a *Adapter) Stop(context.Context) error { return nil }

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	if a.SendErr != nil {
		err := a.SendErr
		a.mu.Unlock()
		return kit.MessageRef{}, err
	}
	a.nextID++
	id := a.nextID
	a.sent = append(a.sent, Sent{To: to, Text: text, Options: opt})
	a.mu.Unlock()
	a.signal()
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, nil
}

func (a *Adapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	a.edits = append(a.edits, Edit{Ref: ref, Text: text, Options: opt})
	a.mu.Unlock()
	a.signal()
	return nil
}

func (a *Adapter) AnswerCallback(_ context.Context, id string, text string) error {
	a.mu.Lock()
	a.answers = append(a.answers, Answer{CallbackID: id, Text: text})
	a.mu.Unlock()
	a.signal()
	return nil
}

func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.menu = append([]kit.BotCommand(nil), cmds...)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) signal() {
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

func (a *Adapter) Edits() []Edit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Edit(nil), a.edits...)
}

func (a *Adapter) Answers() []Answer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Answer(nil), a.answers...)
}

func (a *Adapter) Menu() []kit.BotCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.BotCommand(nil), a.menu...)
}

// LastText returns the most recent sent text, or "".
func (a *Adapter) LastText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1].Text
}

// WaitFor blocks until cond holds or d elapses and reports whether it held.
func (a *Adapter) WaitFor(d time.Duration, cond func(a *Adapter) bool) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	for {
		if cond(a) {
			return true
		}
		select {
		case <-a.notify:
		case <-deadline.C:
			return cond(a)
		}
	}
}

// Text builds a private-chat message update.
func Text(userID int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID:   userID,
		FromID:   userID,
		FromName: "user",
		Text:     text,
	}}
}

// Press builds a callback update for an inline button on message msgID.
func Press(userID int64, msgID int, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID:        "cb-" + data,
		FromID:    userID,
		ChatID:    userID,
		MessageID: msgID,
		Data:      data,
	}}
}
