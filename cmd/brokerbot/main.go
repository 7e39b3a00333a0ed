// Command brokerbot runs the conversational trading assistant: a websocket
// chat server backed by the Anthropic completion service and the registered
// brokerage backends.
package main

import (
	"context"
	"log"

	"github.com/becomeliminal/brokerbot/agent"
	"github.com/becomeliminal/brokerbot/broker"
	"github.com/becomeliminal/brokerbot/config"
	"github.com/becomeliminal/brokerbot/conversation"
	"github.com/becomeliminal/brokerbot/dispatch"
	"github.com/becomeliminal/brokerbot/intent"
	"github.com/becomeliminal/brokerbot/journal"
	"github.com/becomeliminal/brokerbot/llm"
	"github.com/becomeliminal/brokerbot/server"
	"github.com/becomeliminal/brokerbot/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	registry := broker.NewRegistry()
	registry.Register("paper", func() broker.Broker { return broker.NewPaper() })
	registry.Register("zerodha", func() broker.Broker { return broker.NewPlaceholder("zerodha") })
	registry.Register("upstox", func() broker.Broker { return broker.NewPlaceholder("upstox") })
	registry.Register("angelone", func() broker.Broker {
		return broker.NewAngelOne(broker.AngelOneConfig{APIKey: cfg.AngelOneAPIKey})
	})
	log.Printf("Registered brokers: %v", registry.Names())

	store := session.NewStore()
	manager := session.NewBrokerManager(store, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartSweeper(ctx, cfg.SweepInterval, cfg.SessionTTL, func(userID string) {
		manager.DropHandle(userID)
	})
	manager.StartValidator(ctx, cfg.ValidateInterval)

	intentCfg := intent.DefaultConfig()
	if cfg.IntentConfigPath != "" {
		intentCfg, err = intent.LoadConfig(cfg.IntentConfigPath)
		if err != nil {
			log.Fatalf("Failed to load intent config: %v", err)
		}
	}
	classifier, err := intent.New(intentCfg)
	if err != nil {
		log.Fatalf("Failed to compile intent classifier: %v", err)
	}

	quotes, err := broker.NewQuoteCache(cfg.QuoteTTL)
	if err != nil {
		log.Fatalf("Failed to create quote cache: %v", err)
	}
	defer quotes.Close()

	var trades dispatch.TradeRecorder
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			log.Fatalf("Failed to open trade journal: %v", err)
		}
		defer j.Close()
		trades = j
	}

	completer := llm.NewAnthropicCompleter(llm.AnthropicConfig{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	})

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Store:      store,
		Brokers:    manager,
		Window:     conversation.NewWindow(cfg.HistoryMax),
		Classifier: classifier,
		Completer:  completer,
		Quotes:     quotes,
		Journal:    trades,
		ConfirmTTL: cfg.ConfirmTTL,
	})

	orchestrator := agent.New(store, manager, dispatcher)

	srv := server.New(server.Config{}, orchestrator)
	if err := srv.Run(cfg.Addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
