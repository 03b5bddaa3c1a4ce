package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chatsync/pkg/chatstore"
	"chatsync/pkg/models"
	"chatsync/pkg/notify"
	"chatsync/pkg/optimistic"
	"chatsync/pkg/session"
)

var (
	sendReplyTo string
	sendNoWait  bool
)

func init() {
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "id of the message being answered")
	sendCmd.Flags().BoolVar(&sendNoWait, "no-wait", false, "print the provisional message without waiting for the server")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text>...",
	Short: "Send a text message",
	Long: `Send a text message and wait until the server has confirmed it.
The confirmed message is printed with its canonical id.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		convID := args[0]
		content := strings.Join(args[1:], " ")

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Select(ctx, convID); err != nil {
			return err
		}
		w := watchSend(s, convID)
		defer w.release()

		id, err := s.Send(ctx, convID, content, sendReplyTo)
		if err != nil {
			return err
		}
		w.track(id)
		if sendNoWait {
			m, _ := findMessage(s.Log(convID), id)
			return printerFor(cmd).Message(m)
		}
		m, err := w.wait(ctx, content)
		if err != nil {
			return err
		}
		return printerFor(cmd).Message(m)
	},
}

// sendWatch follows one outgoing message until it is confirmed or fails.
type sendWatch struct {
	s           *session.Session
	convID      string
	provisional string
	id          chan string

	changed   chan struct{}
	confirmed chan string
	failed    chan error
	subs      notify.Group
}

func watchSend(s *session.Session, convID string) *sendWatch {
	w := &sendWatch{
		s:         s,
		convID:    convID,
		id:        make(chan string, 1),
		changed:   make(chan struct{}, 1),
		confirmed: make(chan string, 1),
		failed:    make(chan error, 1),
	}
	// handlers run on the session loop; provisional is only read there
	var provisional string
	w.subs.Add(s.Subscribe(func(c chatstore.Change) {
		if c.ConversationID != convID {
			return
		}
		if provisional == "" {
			select {
			case provisional = <-w.id:
			default:
			}
		}
		if provisional != "" && c.PreviousID == provisional {
			select {
			case w.confirmed <- c.MessageID:
			default:
			}
		}
		select {
		case w.changed <- struct{}{}:
		default:
		}
	}))
	w.subs.Add(s.OnFailure(func(f optimistic.Failure) {
		if f.ConversationID != convID {
			return
		}
		select {
		case w.failed <- fmt.Errorf("send %s failed: %w", f.ProvisionalID, f.Err):
		default:
		}
	}))
	return w
}

func (w *sendWatch) track(provisionalID string) {
	w.id <- provisionalID
	w.provisional = provisionalID
}

func (w *sendWatch) release() {
	w.subs.Release()
}

func (w *sendWatch) wait(ctx context.Context, content string) (models.Message, error) {
	for {
		log := w.s.Log(w.convID)
		if _, ok := findMessage(log, w.provisional); !ok {
			m, ok := lastFromSelf(log, w.s.Self().UserID, content)
			if ok {
				// confirmed before the watch saw the swap
				return m, nil
			}
		}
		select {
		case id := <-w.confirmed:
			if m, ok := findMessage(w.s.Log(w.convID), id); ok {
				return m, nil
			}
		case err := <-w.failed:
			return models.Message{}, err
		case <-w.changed:
		case <-ctx.Done():
			return models.Message{}, fmt.Errorf("waiting for confirmation: %w", ctx.Err())
		}
	}
}

func findMessage(log []models.Message, id string) (models.Message, bool) {
	for _, m := range log {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

func lastFromSelf(log []models.Message, self, content string) (models.Message, bool) {
	for i := len(log) - 1; i >= 0; i-- {
		m := log[i]
		if m.SenderID == self && m.Content == content && m.Status != models.StatusSending {
			return m, true
		}
	}
	return models.Message{}, false
}
