// Command chat is a terminal chat view over a single conversation.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/mailmind/assistant/internal/app"
	"github.com/mailmind/assistant/internal/config"
	"github.com/mailmind/assistant/internal/conversation"
	"github.com/mailmind/assistant/internal/model"
	"github.com/mailmind/assistant/pkg/logger"
)

var (
	synthesizer = flag.String("synthesizer", "", "Reply synthesizer: echo, anthropic or openai (defaults to $SYNTHESIZER)")
	delay       = flag.Duration("delay", 0, "Echo reply delay (defaults to $REPLY_DELAY)")
	debug       = flag.Bool("debug", false, "Log to stderr at debug level")
)

func main() {
	flag.Parse()

	cfg := config.Load()
	if *synthesizer != "" {
		cfg.Synthesizer = *synthesizer
	}
	if *delay > 0 {
		cfg.ReplyDelay = *delay
	}

	log := logger.NewNop()
	if *debug {
		dev, err := logger.NewDevelopment()
		if err == nil {
			log = dev
		}
	}
	defer log.Sync()

	synth, name, err := app.NewSynthesizer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Debug("synthesizer ready", zap.String("synthesizer", name))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	view := newView(os.Stdout)
	store := conversation.New(synth,
		conversation.WithLogger(log),
		conversation.WithLocation(conversation.LoadLocation(cfg.DisplayTimezone)),
		conversation.WithObserver(view.render),
	)

	view.welcome(name)
	if err := run(ctx, store, os.Stdin, view); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nBye.")
}

// run reads lines from in and submits them until exit, EOF or ctx is done.
func run(ctx context.Context, store *conversation.Store, in io.Reader, v *view) error {
	lines := scanLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return drain(ctx, store)
			}
			if strings.ToLower(strings.TrimSpace(line)) == "exit" {
				return drain(ctx, store)
			}
			if !store.Submit(line) && store.Pending() {
				v.busy()
			}
		}
	}
}

// scanLines delivers lines from in until EOF or ctx is done, then closes the
// channel.
func scanLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// drain waits for a pending reply so it is rendered before exit.
func drain(ctx context.Context, store *conversation.Store) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	return store.Wait(ctx)
}

type view struct {
	mu        sync.Mutex
	out       io.Writer
	user      func(a ...interface{}) string
	assistant func(a ...interface{}) string
	faint     func(a ...interface{}) string
	failed    func(a ...interface{}) string
}

func newView(out io.Writer) *view {
	return &view{
		out:       out,
		user:      color.New(color.FgGreen, color.Bold).SprintFunc(),
		assistant: color.New(color.FgCyan, color.Bold).SprintFunc(),
		faint:     color.New(color.Faint).SprintFunc(),
		failed:    color.New(color.FgRed).SprintFunc(),
	}
}

func (v *view) welcome(synth string) {
	fmt.Fprintln(v.out, v.user("欢迎使用MailMind AI助手"))
	fmt.Fprintf(v.out, "Replies by: %s\n", v.assistant(synth))
	fmt.Fprintln(v.out, "Type your message and press Enter. Type 'exit' or press Ctrl+C to quit.")
	fmt.Fprintln(v.out)
}

func (v *view) busy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, v.faint("发送中..."))
}

// render is the store observer.
func (v *view) render(event model.ConversationEvent) {
	if event.Type != model.EventTypeMessage || event.Message == nil {
		return
	}
	msg := event.Message

	v.mu.Lock()
	defer v.mu.Unlock()

	label := v.assistant("AI")
	content := msg.Content
	if msg.IsUser() {
		label = v.user("Me")
	}
	if msg.Failed {
		content = v.failed(content)
	}
	fmt.Fprintf(v.out, "%s %s %s\n", v.faint(msg.Timestamp), label, content)
}
