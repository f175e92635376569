// sessionwire drives the control surface of live agent sessions from the
// shell: list and watch the session directory, send messages, read or
// summarize the latest turn, clear, abort, and wait for turn completion.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/codefionn/sessionwire/internal/config"
	"github.com/codefionn/sessionwire/internal/controldir"
	"github.com/codefionn/sessionwire/internal/logger"
	"github.com/codefionn/sessionwire/internal/protocol"
	"github.com/codefionn/sessionwire/internal/session"
	"github.com/codefionn/sessionwire/internal/socketclient"
)

const usage = `Usage: sessionwire <command> [flags] [args]

Commands:
  list                     list live sessions
  watch                    like list, refreshed on directory changes
  send <target> <message>  deliver a message to a session
  get-message <target>     print the session's latest assistant message
  summary <target>         summarize the session's current work
  clear <target>           rewind the session to its first entry
  abort <target>           abort the session's current turn
  wait <target>            block until the session completes a turn
  resolve <name>           print the session id behind an id or alias

A target is a session id or an alias shown by list.
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", initErr)
	}
	defer logger.Global().Close()

	dir := controldir.New(cfg.ControlDir)
	dir.ProbeTimeout = cfg.ProbeTimeout()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{cfg: cfg, dir: dir}

	command, rest := args[0], args[1:]
	switch command {
	case "list":
		return app.list()
	case "watch":
		return app.watch(ctx)
	case "send":
		return app.send(ctx, rest)
	case "get-message":
		return app.getMessage(ctx, rest)
	case "summary":
		return app.summary(ctx, rest)
	case "clear":
		return app.clear(ctx, rest)
	case "abort":
		return app.abort(ctx, rest)
	case "wait":
		return app.wait(ctx, rest)
	case "resolve":
		return app.resolve(rest)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

type app struct {
	cfg *config.Config
	dir *controldir.Dir
}

// resolveTarget maps a session id or alias to a live socket path.
func (a *app) resolveTarget(target string) (string, error) {
	if controldir.IsSafeSessionID(target) {
		path := a.dir.SocketPath(target)
		if a.dir.IsSocketAlive(path) {
			return path, nil
		}
		if id := a.dir.ResolveSessionIDFromAlias(target); id != "" {
			aliasPath := a.dir.SocketPath(id)
			if a.dir.IsSocketAlive(aliasPath) {
				return aliasPath, nil
			}
		}
		return "", fmt.Errorf("no live session matches %q", target)
	}
	return "", fmt.Errorf("invalid target %q", target)
}

// call performs one command round-trip against target and fails on a
// command-level error response.
func (a *app) call(ctx context.Context, target string, cmd *protocol.Command, opts socketclient.Options) (*socketclient.CallResult, error) {
	socketPath, err := a.resolveTarget(target)
	if err != nil {
		return nil, err
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = a.cfg.RPCTimeout()
	}
	result, err := socketclient.SendCommand(ctx, socketPath, cmd, opts)
	if err != nil {
		return nil, err
	}
	if !result.Response.Success {
		return nil, fmt.Errorf("%s failed: %s", cmd.Type, result.Response.Error)
	}
	return result, nil
}

func (a *app) list() error {
	sessions, err := a.dir.LiveSessions()
	if err != nil {
		return err
	}
	printSessions(sessions)
	return nil
}

func (a *app) watch(ctx context.Context) error {
	watcher, err := a.dir.Watch()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := a.list(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-watcher.Changes:
			// Let a burst of renames settle before re-probing.
			time.Sleep(50 * time.Millisecond)
			drainChanges(watcher.Changes)
			sessions, err := a.dir.LiveSessions()
			if err != nil {
				logger.Warn("listing failed during watch: %v", err)
				continue
			}
			fmt.Println()
			printSessions(sessions)
		}
	}
}

func drainChanges(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// printSessions renders a table on a terminal and tab-separated lines
// otherwise, so the output stays scriptable.
func printSessions(sessions []controldir.SessionInfo) {
	if len(sessions) == 0 {
		fmt.Println("No live sessions.")
		return
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION ID\tALIASES")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\n", s.SessionID, strings.Join(s.Aliases, ", "))
		}
		tw.Flush()
		return
	}
	for _, s := range sessions {
		fmt.Printf("%s\t%s\n", s.SessionID, strings.Join(s.Aliases, ","))
	}
}

func (a *app) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	mode := fs.String("mode", "", "delivery mode when the target is busy: steer or follow_up")
	from := fs.String("from", "", "sender display name attached to the message")
	fromSession := fs.String("from-session", os.Getenv("SESSIONWIRE_SESSION_ID"),
		"sender session id attached to the message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: sessionwire send [flags] <target> <message>")
	}
	target := fs.Arg(0)
	message := strings.Join(fs.Args()[1:], " ")

	if *fromSession != "" {
		message = session.AppendSenderInfo(message, session.SenderInfo{
			SessionID: *fromSession,
			Name:      *from,
		})
	}

	result, err := a.call(ctx, target, &protocol.Command{
		Type:    protocol.CommandSend,
		Message: message,
		Mode:    *mode,
	}, socketclient.Options{})
	if err != nil {
		return err
	}

	var data protocol.SendData
	if err := json.Unmarshal(result.Response.Data, &data); err != nil {
		return fmt.Errorf("malformed send response: %w", err)
	}
	fmt.Printf("Delivered (%s).\n", data.Mode)
	return nil
}

func (a *app) getMessage(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: sessionwire get-message <target>")
	}
	result, err := a.call(ctx, args[0], &protocol.Command{Type: protocol.CommandGetMessage}, socketclient.Options{})
	if err != nil {
		return err
	}

	var data protocol.MessageData
	if err := json.Unmarshal(result.Response.Data, &data); err != nil {
		return fmt.Errorf("malformed get_message response: %w", err)
	}
	if data.Message == nil {
		fmt.Println("No assistant message yet.")
		return nil
	}
	fmt.Println(data.Message.Text)
	return nil
}

func (a *app) summary(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: sessionwire summary <target>")
	}
	// Summaries wait on a model completion, so give them the long budget.
	result, err := a.call(ctx, args[0], &protocol.Command{Type: protocol.CommandGetSummary},
		socketclient.Options{Timeout: a.cfg.WaitTimeout()})
	if err != nil {
		return err
	}

	var data protocol.SummaryData
	if err := json.Unmarshal(result.Response.Data, &data); err != nil {
		return fmt.Errorf("malformed get_summary response: %w", err)
	}
	fmt.Println(data.Summary)
	logger.Debug("summary produced by %s", data.Model)
	return nil
}

func (a *app) clear(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: sessionwire clear <target>")
	}
	result, err := a.call(ctx, args[0], &protocol.Command{Type: protocol.CommandClear}, socketclient.Options{})
	if err != nil {
		return err
	}

	var data protocol.ClearData
	if err := json.Unmarshal(result.Response.Data, &data); err != nil {
		return fmt.Errorf("malformed clear response: %w", err)
	}
	if data.AlreadyAtRoot {
		fmt.Println("Already at the first entry.")
	} else {
		fmt.Printf("Cleared to entry %s.\n", data.TargetID)
	}
	return nil
}

func (a *app) abort(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: sessionwire abort <target>")
	}
	if _, err := a.call(ctx, args[0], &protocol.Command{Type: protocol.CommandAbort}, socketclient.Options{}); err != nil {
		return err
	}
	fmt.Println("Abort signalled.")
	return nil
}

func (a *app) wait(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("wait", flag.ContinueOnError)
	timeout := fs.Duration("timeout", a.cfg.WaitTimeout(), "how long to wait for the turn to complete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: sessionwire wait [flags] <target>")
	}

	result, err := a.call(ctx, fs.Arg(0), &protocol.Command{
		Type:  protocol.CommandSubscribe,
		Event: protocol.EventTurnEnd,
	}, socketclient.Options{
		Timeout:      *timeout,
		WaitForEvent: protocol.EventTurnEnd,
	})
	if err != nil {
		if errors.Is(err, socketclient.ErrTimeout) {
			return fmt.Errorf("session did not complete a turn within %s", *timeout)
		}
		return err
	}

	var data protocol.TurnEndData
	if err := json.Unmarshal(result.Event.Data, &data); err != nil {
		return fmt.Errorf("malformed turn_end event: %w", err)
	}
	if data.Message != nil {
		fmt.Println(data.Message.Text)
	} else {
		fmt.Println("Turn completed with no assistant message.")
	}
	return nil
}

func (a *app) resolve(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: sessionwire resolve <name>")
	}
	name := args[0]
	if id := a.dir.ResolveSessionIDFromAlias(name); id != "" {
		fmt.Println(id)
		return nil
	}
	if controldir.IsSafeSessionID(name) && a.dir.IsSocketAlive(a.dir.SocketPath(name)) {
		fmt.Println(name)
		return nil
	}
	return fmt.Errorf("nothing resolves %q", name)
}
