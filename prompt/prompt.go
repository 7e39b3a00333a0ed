// Package prompt holds the system prompt and canned responses.
package prompt

import "fmt"

// System is the system prompt sent with every trading completion.
const System = `You are a trading assistant connected to the user's brokerage account. You help with natural-language trading through the declared tools.

Your capabilities:
1. Account: profile, available funds and margins
2. Market data: live quotes, order book depth, top gainers and losers
3. Portfolio: holdings, positions, order history
4. Orders: place buy/sell orders, cancel pending orders

Guidelines:
1. Use tools to fetch live data; never invent prices or balances.
2. Trades always require explicit user confirmation before execution.
3. Keep replies short and concrete. Include the numbers the user asked for.
4. Ask for clarification when a request is ambiguous.
5. Mention the relevant risk when recommending anything.`

// Capabilities returns the canned greeting reply. It summarizes what the
// bot can do and the user's connection status without revealing balances.
func Capabilities(connected bool, brokerName string) string {
	status := "Not connected to a broker yet — connect one to start trading."
	if connected {
		status = fmt.Sprintf("Connected to %s.", brokerName)
	}
	return fmt.Sprintf(`Hello! I'm your trading assistant. Here's what I can do:

- Live quotes: "RELIANCE price"
- Order book: "market depth for TCS"
- Funds and margins: "how much cash do I have"
- Portfolio: "show my holdings", "my positions"
- Orders: "my orders today", "cancel all pending orders"
- Trading: "Buy 10 RELIANCE at 1425" (I'll always ask you to confirm first)
- Market movers: "top gainers today"

%s`, status)
}

// Canned replies for the confirmation protocol and degraded turns.
const (
	NothingToConfirm = "There's nothing to confirm right now."
	ConfirmExpired   = "That confirmation expired, so nothing was executed. Send the order again if you still want it."
	Cancelled        = "Trade cancelled. Nothing was executed."
	NothingToCancel  = "There's no pending trade to cancel."
	TryAgain         = "I'm having trouble reaching the assistant service. Please try again in a moment."
	ConnectFirst     = "Please connect to a broker first before trading."
)
