package router

import (
	"context"
	"time"

	kit "countdownbot/internal/transport"
	logx "countdownbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Name is the bare command word without the slash, e.g. "set_date".
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Button routes a reply-keyboard press. Telegram delivers those as plain
// text, so Text must match the message exactly (after trimming).
type Button struct {
	Text    string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline-button data of the form "ns:action[:payload]".
type CallbackRoute struct {
	Namespace string
	Action    string
	Access    Access
	Timeout   time.Duration
	Handle    CallbackHandlerFunc
}

// Registry is the full routing table. It is swapped atomically by
// SetRegistry.
type Registry struct {
	Commands  []Command
	Buttons   []Button
	Callbacks []CallbackRoute

	// Fallback receives plain text that matched no button, and commands
	// nobody registered (req.Command is then "unknown:<word>").
	Fallback HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Username string

	Command string // command name, "button:<text>", "cb:<ns>:<action>" or "text"
	Args    []string
	Text    string // trimmed message text
	Payload string // callback payload

	CallbackID string
	MessageID  int // message the callback button is attached to

	ReqID   string
	IsOwner bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

// EditOrigin replaces the text of the message carrying the pressed inline
// button. Outside callbacks it falls back to Reply.
func (r *Request) EditOrigin(ctx context.Context, text string, opt *kit.SendOptions) error {
	if r.MessageID == 0 {
		return r.Reply(ctx, text, opt)
	}
	ref := kit.MessageRef{ChatID: r.Chat.ChatID, ThreadID: r.Chat.ThreadID, MessageID: r.MessageID}
	return r.Adapter.EditText(ctx, ref, text, opt)
}
