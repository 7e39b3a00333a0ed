// Package conversation manages the bounded per-session message log and
// decides what context is sent to the completion service.
package conversation

import "github.com/becomeliminal/brokerbot/core"

// DefaultMaxMessages is the retained history bound per session.
const DefaultMaxMessages = 20

// Window is the bounded conversation context manager. History is append
// only; once it exceeds the bound, the oldest non-system entries are evicted
// from the front and the first system message is always kept.
type Window struct {
	max int
}

// NewWindow creates a window with the given bound, or DefaultMaxMessages
// if max is not positive.
func NewWindow(max int) *Window {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	return &Window{max: max}
}

// Append adds a message to the session's history and trims it to the bound.
func (w *Window) Append(sess *core.Session, msg core.Message) {
	sess.History = append(sess.History, msg)
	sess.History = w.trim(sess.History)
}

// trim keeps the first system message plus the most recent max-1 others.
func (w *Window) trim(history []core.Message) []core.Message {
	if len(history) <= w.max {
		return history
	}

	var system *core.Message
	rest := make([]core.Message, 0, len(history))
	for i := range history {
		if system == nil && history[i].Role == core.RoleSystem {
			system = &history[i]
			continue
		}
		rest = append(rest, history[i])
	}

	keep := w.max
	if system != nil {
		keep--
	}
	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}
	if system == nil {
		return rest
	}
	return append([]core.Message{*system}, rest...)
}

// Assemble builds the outbound message list for one completion call. With
// needsHistory false it returns just the system prompt and the current user
// message — a fresh context that favors latency. With needsHistory true it
// returns the full retained history plus the current message.
func (w *Window) Assemble(sess *core.Session, systemPrompt string, current core.Message, needsHistory bool) []core.Message {
	if !needsHistory || len(sess.History) == 0 {
		return []core.Message{core.NewSystemMessage(systemPrompt), current}
	}

	out := make([]core.Message, 0, len(sess.History)+2)
	if sess.History[0].Role != core.RoleSystem {
		out = append(out, core.NewSystemMessage(systemPrompt))
	}
	out = append(out, sess.History...)
	return append(out, current)
}
