package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/comigor/localnet-go/internal/assistant"
	"github.com/comigor/localnet-go/internal/engine"
	"github.com/comigor/localnet-go/internal/history"
	"github.com/comigor/localnet-go/internal/presence"
)

const helpText = `commands:
  /peers            list peers
  /to <id>          open a direct chat (again to go back to broadcast)
  /all              back to broadcast
  /history          show the current conversation
  /whoami           show your name
  /offline <id>     force a peer offline
  /online <id>      force a peer online
  /ai <text>        ask the assistant
  /ai-key <key>     save the assistant API key
  /ai-clear         forget the assistant conversation
  /quit             exit
anything else is sent to the current conversation`

type repl struct {
	eng   *engine.Engine
	ai    *assistant.Assistant
	plain bool

	mu  sync.Mutex
	out io.Writer
}

func newREPL(eng *engine.Engine, ai *assistant.Assistant, out io.Writer) *repl {
	return &repl{eng: eng, ai: ai, out: out}
}

func (r *repl) paint(style color.Style, s string) string {
	if r.plain {
		return s
	}
	return style.Render(s)
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) banner() {
	r.printf("%s as %s, %d of %d peers online. /help for commands.\n",
		r.paint(color.New(color.FgGreen, color.OpBold), "Connected"),
		r.paint(color.New(color.FgCyan), r.eng.CurrentUser()),
		r.eng.OnlineCount(), len(r.eng.Peers()))
}

// run reads commands from in until EOF, /quit or ctx is done.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := r.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle executes one input line. It reports whether the user asked to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.send(line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.printf("%s\n", helpText)
	case "/peers":
		r.printPeers()
	case "/to":
		if !r.eng.Toggle(arg) {
			r.printf("%s\n", r.paint(color.New(color.FgRed), "unknown peer "+arg))
			return false
		}
		r.printf("now chatting in %s\n", r.contextName())
	case "/all":
		r.eng.Select("")
		r.printf("now chatting in %s\n", r.contextName())
	case "/history":
		for _, m := range r.eng.Messages() {
			r.printMessage(m)
		}
	case "/whoami":
		r.printf("%s\n", r.eng.CurrentUser())
	case "/offline", "/online":
		p := presence.Online
		if cmd == "/offline" {
			p = presence.Offline
		}
		if !r.eng.SetPresence(arg, p) {
			r.printf("%s\n", r.paint(color.New(color.FgRed), "unknown peer "+arg))
		}
	case "/ai":
		r.ask(ctx, arg)
	case "/ai-key":
		if err := r.ai.SaveCredential(ctx, arg); err != nil {
			r.printf("%s\n", r.paint(color.New(color.FgRed), err.Error()))
			return false
		}
		r.printf("assistant key saved\n")
	case "/ai-clear":
		r.ai.Clear()
		r.printf("assistant conversation cleared\n")
	default:
		r.printf("unknown command %s, try /help\n", cmd)
	}
	return false
}

func (r *repl) send(text string) {
	var (
		msg history.Message
		ok  bool
	)
	if peer := r.eng.Selected(); peer != "" {
		msg, ok = r.eng.SendDirect(text, peer)
	} else {
		msg, ok = r.eng.SendBroadcast(text)
	}
	if !ok {
		r.printf("%s\n", r.paint(color.New(color.FgRed), "message not sent"))
		return
	}
	r.printMessage(msg)
}

func (r *repl) ask(ctx context.Context, text string) {
	if text == "" {
		r.printf("usage: /ai <text>\n")
		return
	}
	reply, err := r.ai.Send(ctx, text)
	if err != nil {
		r.printf("%s\n", r.paint(color.New(color.FgRed), "assistant: "+err.Error()))
		return
	}
	r.printf("%s %s\n", r.paint(color.New(color.FgMagenta, color.OpBold), "assistant:"), reply)
}

func (r *repl) contextName() string {
	id := r.eng.Selected()
	if id == "" {
		return "broadcast"
	}
	p, _ := r.eng.Peer(id)
	return p.Name
}

func (r *repl) printMessage(m history.Message) {
	style := color.New(color.FgCyan)
	if m.Direction == history.Received {
		style = color.New(color.FgYellow)
	}
	r.printf("[%s] %s: %s\n", m.SentAt.Format("15:04:05"), r.paint(style, m.SenderName), m.Body)
}

func (r *repl) printPeers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"ID", "Name", "Status", "Last seen"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	selected := r.eng.Selected()
	for _, p := range r.eng.Peers() {
		name := p.Name
		if p.ID == selected {
			name += " *"
		}
		table.Append([]string{p.ID, name, string(p.Presence), lastSeen(p, time.Now())})
	}
	table.Render()
	fmt.Fprintf(r.out, "%d online\n", r.eng.OnlineCount())
}

func lastSeen(p presence.Peer, now time.Time) string {
	if p.LastSeenAt == nil {
		return ""
	}
	return now.Sub(*p.LastSeenAt).Round(time.Second).String() + " ago"
}

// watch prints replies and presence changes as they happen.
func (r *repl) watch(ctx context.Context) error {
	msgs := r.eng.SubscribeMessages()
	peers := r.eng.SubscribePeers()
	defer r.eng.UnsubscribeMessages(msgs)
	defer r.eng.UnsubscribePeers(peers)

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			if m.Direction == history.Received {
				r.printMessage(m)
			}
		case evt, ok := <-peers:
			if !ok {
				return nil
			}
			if evt.Type == presence.EventUpdate && evt.Peer != nil {
				r.printf("%s is now %s\n", evt.Peer.Name, r.paint(presenceStyle(evt.Peer.Presence), string(evt.Peer.Presence)))
			}
		}
	}
}

func presenceStyle(p presence.Presence) color.Style {
	if p == presence.Online {
		return color.New(color.FgGreen)
	}
	return color.New(color.FgGray)
}
