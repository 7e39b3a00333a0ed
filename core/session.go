package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionState is the per-user authentication state.
type SessionState string

const (
	StateUnauthenticated SessionState = "UNAUTHENTICATED"
	StateBrokerSelected  SessionState = "BROKER_SELECTED"
	StateAuthenticated   SessionState = "AUTHENTICATED"
)

// TradeAction is the direction of a staged trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// PendingTradeIntent is a staged, unexecuted trade awaiting explicit user
// confirmation. It is immutable once created: a newer confirmation request
// replaces it wholesale rather than mutating it in place.
type PendingTradeIntent struct {
	ID        string          `json:"id"`
	Action    TradeAction     `json:"action"`
	Symbol    string          `json:"symbol"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"` // zero means market order
	Exchange  string          `json:"exchange"`
	RiskNotes []string        `json:"risk_notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the intent can no longer be confirmed.
func (p *PendingTradeIntent) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Market reports whether the staged trade has no limit price.
func (p *PendingTradeIntent) Market() bool {
	return p.Price.IsZero()
}

// Session holds all per-user state: authentication, broker selection,
// conversation history, and any staged trade. The broker handle itself is
// owned by the broker session manager; BrokerAuthenticated mirrors it.
type Session struct {
	UserID              string              `json:"user_id"`
	ChatID              string              `json:"chat_id"`
	State               SessionState        `json:"state"`
	SelectedBroker      string              `json:"selected_broker,omitempty"`
	BrokerAuthenticated bool                `json:"broker_authenticated"`
	History             []Message           `json:"history"`
	PendingTrade        *PendingTradeIntent `json:"pending_trade,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// NewSession creates a fresh unauthenticated session.
func NewSession(userID, chatID string) *Session {
	now := time.Now()
	return &Session{
		UserID:    userID,
		ChatID:    chatID,
		State:     StateUnauthenticated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy. The session store mutates a clone and swaps it
// in only after the invariants hold, so partial updates are never visible.
func (s *Session) Clone() *Session {
	dup := *s
	dup.History = make([]Message, len(s.History))
	copy(dup.History, s.History)
	if s.PendingTrade != nil {
		intent := *s.PendingTrade
		intent.RiskNotes = append([]string(nil), s.PendingTrade.RiskNotes...)
		dup.PendingTrade = &intent
	}
	return &dup
}

// Validate enforces the session invariants:
//
//	BrokerAuthenticated == true  iff  State == AUTHENTICATED and a broker is selected.
//	A pending trade must have valid fields and expire after its creation.
func (s *Session) Validate() error {
	if s.BrokerAuthenticated != (s.State == StateAuthenticated) {
		return &InvariantViolation{
			UserID: s.UserID,
			Reason: "broker_authenticated must match AUTHENTICATED state",
		}
	}
	if s.BrokerAuthenticated && s.SelectedBroker == "" {
		return &InvariantViolation{
			UserID: s.UserID,
			Reason: "authenticated session has no selected broker",
		}
	}
	if p := s.PendingTrade; p != nil {
		if p.Action != ActionBuy && p.Action != ActionSell {
			return &InvariantViolation{UserID: s.UserID, Reason: "pending trade has invalid action"}
		}
		if p.Symbol == "" || p.Quantity <= 0 {
			return &InvariantViolation{UserID: s.UserID, Reason: "pending trade has invalid symbol or quantity"}
		}
		if !p.ExpiresAt.After(p.CreatedAt) {
			return &InvariantViolation{UserID: s.UserID, Reason: "pending trade expires before creation"}
		}
	}
	return nil
}

// Touch bumps the activity timestamp used by the inactivity sweep.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now()
}
