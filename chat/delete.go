package chat

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mimirhq/mimir/internal/cli"
	"github.com/mimirhq/mimir/store"
)

// NewDeleteCmd instantiates and returns the delete command.
func NewDeleteCmd(s *store.Store) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conversation, err := s.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}
			if !cli.QueryUser(fmt.Sprintf("Delete %q and all its messages?", conversation.DisplayTitle())) {
				return nil
			}
			return s.DeleteConversation(ctx, conversation.ID)
		},
	}
	return cmd
}
