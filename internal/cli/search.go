package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chatsync/pkg/search"
	"chatsync/pkg/session"
)

func init() {
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <chat-id> <query>...",
	Short: "Search the messages of a conversation",
	Long: `Search the messages of a conversation. The server is asked first;
when it has no answer the loaded log is filtered locally. Matches are
highlighted.`,
	Args: cobra.MinimumNArgs(2),
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
		v, err := settle(ctx, s, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		return printerFor(cmd).SearchView(v)
	},
}

// settle sets the query and waits until no remote search is pending.
func settle(ctx context.Context, s *session.Session, query string) (search.View, error) {
	changed := make(chan struct{}, 1)
	sub := s.OnSearch(func(string) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer sub.Release()

	if err := s.Search(ctx, query); err != nil {
		return search.View{}, err
	}
	for {
		v, err := s.SearchView(ctx)
		if err != nil {
			return search.View{}, err
		}
		if !v.Pending {
			return v, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return search.View{}, fmt.Errorf("waiting for search: %w", ctx.Err())
		}
	}
}
