// Package agent is the turn orchestrator: it serializes each user's turns,
// isolates per-user failures, and exposes the three entry points the
// transport calls (message, connect, disconnect).
package agent

import (
	"context"
	"log"
	"runtime/debug"

	"github.com/becomeliminal/brokerbot/broker"
	"github.com/becomeliminal/brokerbot/dispatch"
	"github.com/becomeliminal/brokerbot/prompt"
	"github.com/becomeliminal/brokerbot/session"
)

// Orchestrator runs complete turns. Every entry point takes the user's
// serialization scope for its full duration: two messages from the same
// user never interleave, while different users proceed in parallel.
type Orchestrator struct {
	store      *session.Store
	manager    *session.BrokerManager
	dispatcher *dispatch.Dispatcher
}

// New creates an orchestrator.
func New(store *session.Store, manager *session.BrokerManager, dispatcher *dispatch.Dispatcher) *Orchestrator {
	return &Orchestrator{store: store, manager: manager, dispatcher: dispatcher}
}

// HandleMessage runs one conversational turn and returns the reply. A panic
// anywhere in the turn is contained to this user: it is logged with a stack
// trace and the user gets a degraded reply instead of taking the process down.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, chatID, text string) (reply string) {
	unlock := o.store.LockUser(userID)
	defer unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[AGENT %s] turn panicked: %v\n%s", userID, r, debug.Stack())
			reply = prompt.TryAgain
		}
	}()

	out, err := o.dispatcher.HandleTurn(ctx, userID, chatID, text)
	if err != nil {
		log.Printf("[AGENT %s] turn failed: %v", userID, err)
		return prompt.TryAgain
	}
	return out
}

// Connect selects a broker and logs in with the supplied credentials. The
// returned string is user-facing either way; the error reports the cause
// for the transport's logs.
func (o *Orchestrator) Connect(ctx context.Context, userID, chatID, brokerName string, creds broker.Credentials) (string, error) {
	unlock := o.store.LockUser(userID)
	defer unlock()

	o.store.GetOrCreate(userID, chatID)
	if err := o.manager.SelectBroker(ctx, userID, brokerName, creds); err != nil {
		return "Login failed: " + err.Error(), err
	}
	return "Connected to " + brokerName + ". You can start trading now.", nil
}

// Disconnect logs the user out of their broker and resets the session.
func (o *Orchestrator) Disconnect(ctx context.Context, userID string) (string, error) {
	unlock := o.store.LockUser(userID)
	defer unlock()

	if o.store.Get(userID) == nil {
		return "You're not connected to anything.", nil
	}
	if err := o.manager.Logout(ctx, userID); err != nil {
		return "Logout failed: " + err.Error(), err
	}
	return "Logged out. Your broker session and any pending trade were discarded.", nil
}
