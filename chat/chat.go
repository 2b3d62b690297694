// Package chat implements the interactive terminal client.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/mimirhq/mimir/app"
	"github.com/mimirhq/mimir/internal/cli"
	"github.com/mimirhq/mimir/internal/configuration"
	"github.com/mimirhq/mimir/store"
	"github.com/mimirhq/mimir/thread"
)

// NewCmd instantiates and returns the chat command.
func NewCmd(state *app.State, config *configuration.Config) *cobra.Command {
	var opts struct {
		ConversationID string
		Models         []string
		ShowCost       bool
		Plain          bool
	}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Back and forth chat",
		Long:  "Back and forth chat against up to three models at once",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			cobra.CheckErr(state.Load(ctx))

			for _, model := range opts.Models {
				state.SelectModel(model)
			}
			if len(state.SelectedModels()) == 0 {
				state.SelectModel(config.Chat.DefaultModel)
			}

			warnExpensiveModels(ctx, state, config)

			cli.Title("MIMIR CHAT [%s]", strings.Join(state.SelectedModels(), ", "))

			var renderer *glamour.TermRenderer
			if !opts.Plain {
				var err error
				renderer, err = glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
				if err != nil {
					renderer = nil
				}
			}
			printResponse := func(content string) {
				if renderer != nil {
					if rendered, err := renderer.Render(content); err == nil {
						cli.AIOutput(rendered)
						return
					}
				}
				cli.AIOutput(content + "\n")
			}

			// Print history when resuming an existing conversation.
			if opts.ConversationID != "" {
				messages, err := state.RefreshMessages(ctx, opts.ConversationID)
				cobra.CheckErr(err)
				for _, message := range messages {
					switch message.Role {
					case store.RoleUser:
						cli.UserInput("> %s\n", message.Content)
					case store.RoleAssistant:
						cli.ModelInfo("%s:\n", message.Model)
						if message.Error != "" {
							cli.ErrorInfo("%s\n", message.Error)
						} else {
							printResponse(message.Content)
						}
					}
				}
			}

			for {
				text, err := cli.PromptUser()
				cobra.CheckErr(err)
				if strings.TrimSpace(text) == "" {
					continue
				}

				turnCtx, cancel := context.WithTimeout(ctx, time.Duration(config.RequestTimeout)*time.Second)
				conversationID, err := state.SendMessage(turnCtx, opts.ConversationID, text, func(result thread.Result) {
					cli.Separator()
					cli.ModelInfo("%s:\n", result.Model)
					if result.Err != nil {
						cli.ErrorInfo("%s\n", result.Content)
						return
					}
					printResponse(result.Content)
				})
				cancel()
				if err != nil {
					cli.ErrorInfo("%s\n", err.Error())
					continue
				}
				opts.ConversationID = conversationID

				if opts.ShowCost {
					for _, conversation := range state.Conversations() {
						if conversation.ID == conversationID {
							cli.CostInfo("Conversation total: $%s (%d tokens)\n",
								conversation.TotalCost.String(), conversation.TotalTokens)
							break
						}
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&opts.ConversationID, "id", "", "resume an existing conversation")
	cmd.Flags().StringSliceVarP(&opts.Models, "model", "m", nil, "models to query, up to 3")
	cmd.Flags().BoolVarP(&opts.ShowCost, "show-cost", "c", false, "Show cost")
	cmd.Flags().BoolVar(&opts.Plain, "plain", false, "Disable markdown rendering")
	return cmd
}

// warnExpensiveModels flags any selected model whose prompt price exceeds
// the configured threshold. The settings threshold wins over the config one.
func warnExpensiveModels(ctx context.Context, state *app.State, config *configuration.Config) {
	threshold := config.Budget.ExpensiveThreshold
	if settings, err := state.Settings(ctx); err == nil && settings.ExpensiveThreshold > 0 {
		threshold = settings.ExpensiveThreshold
	}
	catalog := state.Models()
	for _, selected := range state.SelectedModels() {
		for _, model := range catalog {
			if model.ID == selected && model.Expensive(threshold) {
				cli.CostInfo("Note: %s is an expensive model ($%s per prompt token)\n", model.ID, model.Pricing.Prompt)
				break
			}
		}
	}
}
