package intent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the keyword and pattern lists the classifier runs on. The
// lists are data, not control flow: they can be overridden from a YAML file
// without touching the classification rules.
type Config struct {
	ConfirmTokens    []string `yaml:"confirm_tokens"`
	CancelTokens     []string `yaml:"cancel_tokens"`
	GreetingPatterns []string `yaml:"greeting_patterns"`
	TradingKeywords  []string `yaml:"trading_keywords"`
	ContextPhrases   []string `yaml:"context_phrases"`
}

// DefaultConfig returns the built-in lists.
func DefaultConfig() Config {
	return Config{
		ConfirmTokens: []string{"CONFIRM", "YES", "Y"},
		CancelTokens:  []string{"CANCEL", "NO", "N"},
		GreetingPatterns: []string{
			`^(hi|hello|hey|hii+|hello+)[.!]*$`,
			`^(hi|hello|hey)[\s,]*(there|bot|assistant)?[.!]*$`,
			`^good\s+(morning|afternoon|evening|day)[.!]*$`,
			`^what\s+can\s+you\s+do(\?|\s*for\s+me\?)?$`,
			`^help\s*me$`,
			`^(can\s+you\s+)?help\??$`,
		},
		TradingKeywords: []string{
			"price", "quote", "ltp", "buy", "sell", "stock", "share",
			"holding", "position", "order", "fund", "balance", "profit",
			"loss", "trade", "market", "nse", "bse", "intraday", "delivery",
		},
		ContextPhrases: []string{
			"also", "what about", "how about", "continue", "similarly",
			"likewise", "additionally", "furthermore", "moreover", "besides",
		},
	}
}

// LoadConfig reads a YAML config file. Missing lists fall back to the
// defaults so an override file only needs the lists it changes.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read intent config: %w", err)
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return cfg, fmt.Errorf("parse intent config: %w", err)
	}

	if len(override.ConfirmTokens) > 0 {
		cfg.ConfirmTokens = override.ConfirmTokens
	}
	if len(override.CancelTokens) > 0 {
		cfg.CancelTokens = override.CancelTokens
	}
	if len(override.GreetingPatterns) > 0 {
		cfg.GreetingPatterns = override.GreetingPatterns
	}
	if len(override.TradingKeywords) > 0 {
		cfg.TradingKeywords = override.TradingKeywords
	}
	if len(override.ContextPhrases) > 0 {
		cfg.ContextPhrases = override.ContextPhrases
	}
	return cfg, nil
}
