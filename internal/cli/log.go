package cli

import (
	"github.com/spf13/cobra"
)

var logLimit int

func init() {
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "only print the last n messages")
	rootCmd.AddCommand(logCmd)
}

var logCmd = &cobra.Command{
	Use:   "log <chat-id>",
	Short: "Print the message log of a conversation",
	Long: `Print the message log of a conversation in chronological order.
Opening a log marks the conversation read, locally and on the server.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Select(ctx, args[0]); err != nil {
			return err
		}
		msgs := s.Log(args[0])
		if logLimit > 0 && len(msgs) > logLimit {
			msgs = msgs[len(msgs)-logLimit:]
		}
		return printerFor(cmd).Messages(msgs)
	},
}
