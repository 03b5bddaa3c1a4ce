package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-yaml"

	"chatsync/pkg/models"
	"chatsync/pkg/search"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	}
	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

const (
	ansiBold  = "\x1b[1;33m"
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

// Printer renders session data for the terminal or for machines.
type Printer struct {
	w      io.Writer
	format Format
	color  bool
}

func NewPrinter(w io.Writer, format Format, color bool) *Printer {
	if format == "" {
		format = FormatTable
	}
	return &Printer{w: w, format: format, color: color}
}

// encode writes v as json or yaml. yaml goes through json so both formats
// share the wire field names.
func (p *Printer) encode(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if p.format == FormatYAML {
		b, err = yaml.JSONToYAML(b)
		if err != nil {
			return err
		}
		_, err = p.w.Write(b)
		return err
	}
	_, err = fmt.Fprintf(p.w, "%s\n", b)
	return err
}

func (p *Printer) Conversations(convs []models.Conversation) error {
	if p.format != FormatTable {
		if convs == nil {
			convs = []models.Conversation{}
		}
		return p.encode(convs)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tNAME\tUNREAD\tLAST MESSAGE\tUPDATED")
	for _, c := range convs {
		last := "-"
		if c.LastMessage != nil {
			last = fmt.Sprintf("%s: %s", c.LastMessage.SenderName, clip(c.LastMessage.Content, 40))
		}
		unread := fmt.Sprint(c.UnreadCount)
		if p.color && c.UnreadCount > 0 {
			unread = ansiBold + unread + ansiReset
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.Kind, c.Name, unread, last, ago(c.UpdatedAt))
	}
	return tw.Flush()
}

func (p *Printer) Messages(msgs []models.Message) error {
	if p.format != FormatTable {
		if msgs == nil {
			msgs = []models.Message{}
		}
		return p.encode(msgs)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tFROM\tSTATUS\tCONTENT")
	for _, m := range msgs {
		p.messageRow(tw, m, nil)
	}
	return tw.Flush()
}

// Message prints one message. Tables get a single row without a header so
// tail output stays readable.
func (p *Printer) Message(m models.Message) error {
	if p.format != FormatTable {
		return p.encode(m)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	p.messageRow(tw, m, nil)
	return tw.Flush()
}

func (p *Printer) SearchView(v search.View) error {
	if p.format != FormatTable {
		if v.Items == nil {
			v.Items = []search.Item{}
		}
		return p.encode(v)
	}
	fmt.Fprintf(p.w, "query %q in %s: %d result(s), %s\n", v.Query, v.ConversationID, len(v.Items), v.Source)
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tFROM\tSTATUS\tCONTENT")
	for _, it := range v.Items {
		p.messageRow(tw, it.Message, it.Spans)
	}
	return tw.Flush()
}

// Event prints a raw stream frame.
func (p *Printer) Event(env models.Envelope) error {
	if p.format != FormatTable {
		return p.encode(env)
	}
	_, err := fmt.Fprintf(p.w, "* %s %s\n", env.Type, clip(string(env.Data), 80))
	return err
}

func (p *Printer) messageRow(w io.Writer, m models.Message, spans []search.Span) {
	content := p.highlight(m.Content, spans)
	if m.EditedAt > 0 {
		content += p.dim(" (edited)")
	}
	if m.ReplyTo != "" {
		content = p.dim("↪ "+m.ReplyTo+" ") + content
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ago(m.CreatedAt), m.ID, m.SenderName, m.Status, content)
}

// highlight marks matched spans in bold on a terminal and with brackets
// elsewhere.
func (p *Printer) highlight(content string, spans []search.Span) string {
	if len(spans) == 0 {
		return content
	}
	var b strings.Builder
	for _, seg := range search.Segments(content, spans) {
		switch {
		case !seg.Match:
			b.WriteString(seg.Text)
		case p.color:
			b.WriteString(ansiBold + seg.Text + ansiReset)
		default:
			b.WriteString("[" + seg.Text + "]")
		}
	}
	return b.String()
}

func (p *Printer) dim(s string) string {
	if !p.color {
		return s
	}
	return ansiDim + s + ansiReset
}

func ago(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return humanize.Time(time.UnixMilli(ms))
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
