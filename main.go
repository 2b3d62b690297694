package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mimirhq/mimir/app"
	"github.com/mimirhq/mimir/chat"
	"github.com/mimirhq/mimir/internal/configuration"
	"github.com/mimirhq/mimir/internal/debug"
	"github.com/mimirhq/mimir/microtask"
	"github.com/mimirhq/mimir/openrouter"
	"github.com/mimirhq/mimir/server"
	"github.com/mimirhq/mimir/store"
	"github.com/mimirhq/mimir/thread"
)

const (
	configFilepath  = "~/.config/mimir/config.json"
	uiStateFilepath = "~/.config/mimir/ui-state.json"
)

var rootCmd = &cobra.Command{
	Use:   "mimir",
	Short: "A multi-model chat client for OpenRouter",
}

func main() {
	config, err := configuration.Parse(configFilepath)
	if err != nil {
		panic(err)
	}
	logger := debug.GetLogger()

	client := openrouter.NewClient(config.OpenRouterAPIHost, time.Duration(config.RequestTimeout)*time.Second)
	if config.OpenRouterAPIKey != "" && config.OpenRouterAPIKey != "API_KEY" {
		client.SetAPIKey(config.OpenRouterAPIKey)
	}

	s, err := store.New(&store.Options{
		Driver:                    config.Database.Driver,
		DSN:                       config.Database.DSN,
		Pricer:                    client,
		CachedInputMultiplier:     config.Pricing.CachedInputMultiplier,
		ReasoningOutputMultiplier: config.Pricing.ReasoningOutputMultiplier,
	})
	if err != nil {
		panic(err)
	}
	defer s.Close()

	titles := thread.NewTitleGenerator(s, client, config.Chat.TitleModel, logger)
	executor := thread.NewExecutor(s, client, titles, logger)
	greetings := microtask.NewGreetingService(s, client, logger)
	transcriptions := microtask.NewTranscriptionService(s, config.OpenAIAPIHost, logger)

	statePath, err := configuration.ExpandPath(uiStateFilepath)
	if err != nil {
		panic(err)
	}
	state := app.New(&app.Options{
		Store:          s,
		Client:         client,
		Executor:       executor,
		Greetings:      greetings,
		Transcriptions: transcriptions,
		Logger:         logger,
		StatePath:      statePath,
	})

	chatCmd := chat.NewCmd(state, config)
	chatCmd.AddCommand(chat.NewListCmd(s))
	chatCmd.AddCommand(chat.NewDeleteCmd(s))
	chatCmd.AddCommand(chat.NewGenerateTitlesCmd(s, client, titles))
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(server.NewServeCmd(state))
	rootCmd.Execute()
}
