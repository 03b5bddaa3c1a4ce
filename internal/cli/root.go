package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/session"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	cfgPath string
	output  string
	verbose bool
	noColor bool
	timeout time.Duration

	// effective config, set by the root pre-run hook
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Terminal client for a real-time chat backend",
	Long: `chatsync talks to a chat backend over REST and its event stream.
It lists conversations, prints and searches message logs, sends messages
and follows live traffic.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ParseFormat(output); err != nil {
			return err
		}
		c, source, err := config.Load(cfgPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		level := c.Logging.Level
		if verbose {
			level = "debug"
		}
		logger.Init(level, c.Logging.Format, c.Logging.Sink)
		logger.Debug("config_loaded", "source", source, "api", c.API.BaseURL, "stream", c.Stream.URL)
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// SetVersion stamps build metadata onto the root command.
func SetVersion(v, c string) {
	version, commit = v, c
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "chatsync.yaml", "config file path (env CHATSYNC_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", string(FormatTable), "output format: table, json or yaml")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "never highlight output")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for one-shot commands")
}

// openSession opens a session for a one-shot command. The stream is only
// dialed when live events are needed.
func openSession(ctx context.Context, stream bool, opts ...session.Option) (*session.Session, error) {
	if !stream {
		opts = append(opts, session.WithoutStream())
	}
	s, err := session.Open(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return s, nil
}

// printerFor builds the printer for cmd's output stream. Highlighting is
// only used on a terminal.
func printerFor(cmd *cobra.Command) *Printer {
	w := cmd.OutOrStdout()
	color := false
	if f, ok := w.(*os.File); ok && !noColor {
		color = term.IsTerminal(int(f.Fd()))
	}
	format, _ := ParseFormat(output)
	return NewPrinter(w, format, color)
}

// commandContext bounds a one-shot command by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
