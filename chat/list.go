package chat

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mimirhq/mimir/internal/cli"
	"github.com/mimirhq/mimir/store"
)

// NewListCmd instantiates and returns the list command.
func NewListCmd(s *store.Store) *cobra.Command {
	var opts struct {
		BookmarkedOnly bool
		Query          string
	}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var conversations []*store.Conversation
			if opts.Query != "" {
				var err error
				conversations, err = s.SearchConversations(ctx, &store.SearchConversationsRequest{Query: opts.Query})
				if err != nil {
					return err
				}
			} else {
				response, err := s.ListConversations(ctx, &store.ListConversationsRequest{
					BookmarkedOnly: opts.BookmarkedOnly,
				})
				if err != nil {
					return err
				}
				conversations = response.Conversations
			}

			for _, conversation := range conversations {
				marker := " "
				if conversation.Bookmarked {
					marker = "*"
				}
				cli.UserInput("%s %s  %s\n", marker, conversation.ID[:8], conversation.DisplayTitle())
				details := []string{
					time.UnixMicro(conversation.UpdateTimestamp).Format("Jan 2, 2006 3:04 PM"),
				}
				if conversation.MessageCount > 0 {
					details = append(details, strings.Join(conversation.Models, ", "))
					cli.CostInfo("  %s  $%s\n", strings.Join(details, "  "), conversation.TotalCost.String())
					continue
				}
				cli.UserCommand("  %s\n", strings.Join(details, "  "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.BookmarkedOnly, "bookmarked", "b", false, "Only bookmarked conversations")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "Full-text search query")
	return cmd
}
