// Package intent classifies inbound messages into a small set of intents.
// Classification is a pure function over externally configurable keyword
// and pattern lists, so accuracy is tunable without code changes.
package intent

import (
	"fmt"
	"regexp"
	"strings"
)

// Intent is the classification tag for one inbound message.
type Intent string

const (
	Greeting     Intent = "GREETING"
	TradingQuery Intent = "TRADING_QUERY"
	Confirmation Intent = "CONFIRMATION"
	Cancellation Intent = "CANCELLATION"
)

// Classifier maps raw text to an intent plus a needs-history flag.
type Classifier struct {
	cfg              Config
	confirmTokens    map[string]bool
	cancelTokens     map[string]bool
	greetingPatterns []*regexp.Regexp
}

// New compiles a classifier from the given configuration.
func New(cfg Config) (*Classifier, error) {
	c := &Classifier{
		cfg:           cfg,
		confirmTokens: make(map[string]bool, len(cfg.ConfirmTokens)),
		cancelTokens:  make(map[string]bool, len(cfg.CancelTokens)),
	}
	for _, token := range cfg.ConfirmTokens {
		c.confirmTokens[strings.ToUpper(token)] = true
	}
	for _, token := range cfg.CancelTokens {
		c.cancelTokens[strings.ToUpper(token)] = true
	}
	for _, pattern := range cfg.GreetingPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("greeting pattern %q: %w", pattern, err)
		}
		c.greetingPatterns = append(c.greetingPatterns, re)
	}
	return c, nil
}

// Classify maps text to an intent and whether the conversation history
// should accompany it to the completion service. Rules apply in order:
// confirmation token, cancellation token, pure greeting (a greeting pattern
// with no trading keyword), context-referential trading query, and finally
// a standalone trading query with fresh context.
func (c *Classifier) Classify(text string) (Intent, bool) {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)
	lower := strings.ToLower(trimmed)

	if c.confirmTokens[upper] {
		return Confirmation, false
	}
	if c.cancelTokens[upper] {
		return Cancellation, false
	}

	if c.matchesGreeting(lower) && !c.containsAny(lower, c.cfg.TradingKeywords) {
		return Greeting, false
	}

	if c.containsAny(lower, c.cfg.ContextPhrases) {
		return TradingQuery, true
	}
	return TradingQuery, false
}

func (c *Classifier) matchesGreeting(lower string) bool {
	for _, re := range c.greetingPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

func (c *Classifier) containsAny(lower string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
