package cli

import (
	"github.com/spf13/cobra"

	"chatsync/pkg/models"
)

var chatsUnread bool

func init() {
	chatsCmd.Flags().BoolVar(&chatsUnread, "unread", false, "only show conversations with unread messages")
	rootCmd.AddCommand(chatsCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		convs := s.Conversations()
		if chatsUnread {
			convs = unreadOnly(convs)
		}
		return printerFor(cmd).Conversations(convs)
	},
}

func unreadOnly(convs []models.Conversation) []models.Conversation {
	out := convs[:0:0]
	for _, c := range convs {
		if c.UnreadCount > 0 {
			out = append(out, c)
		}
	}
	return out
}
