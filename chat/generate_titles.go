package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mimirhq/mimir/openrouter"
	"github.com/mimirhq/mimir/store"
	"github.com/mimirhq/mimir/thread"
)

// NewGenerateTitlesCmd instantiates and returns the generate-titles command,
// a backfill for conversations that never got a generated title.
func NewGenerateTitlesCmd(s *store.Store, client *openrouter.Client, titles *thread.TitleGenerator) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-titles",
		Short: "Generate titles for conversations that don't have one",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			// Catalog pricing is best effort; the fallback prices apply
			// when it cannot be fetched.
			if _, err := client.ListModels(ctx); err != nil {
				fmt.Printf("Warning: could not fetch model catalog: %v\n", err)
			}

			response, err := s.ListConversations(ctx, &store.ListConversationsRequest{})
			if err != nil {
				return err
			}

			var untitled []*store.Conversation
			for _, conversation := range response.Conversations {
				if conversation.Title == nil && conversation.MessageCount > 0 {
					untitled = append(untitled, conversation)
				}
			}
			if len(untitled) == 0 {
				fmt.Println("No conversations found without titles")
				return nil
			}
			fmt.Printf("Found %d conversations without titles\n", len(untitled))

			for i, conversation := range untitled {
				fmt.Printf("Processing conversation %d/%d (ID: %s)... ", i+1, len(untitled), conversation.ID)

				messages, err := s.ListMessages(ctx, conversation.ID)
				if err != nil {
					fmt.Printf("ERROR: %v\n", err)
					continue
				}
				var firstUserMessage string
				for _, message := range messages {
					if message.Role == store.RoleUser {
						firstUserMessage = message.Content
						break
					}
				}
				if firstUserMessage == "" {
					fmt.Println("SKIPPED: no user message")
					continue
				}

				titles.Generate(ctx, conversation.ID, firstUserMessage)
				fmt.Println("Done")
			}

			fmt.Println("Finished processing all conversations")
			return nil
		},
	}
	return cmd
}
