// Package cli implements the storefront subcommands.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/scamazon/storefront/internal/app"
	"github.com/scamazon/storefront/internal/chat"
	"github.com/scamazon/storefront/pkg/logger"
	qrcode "github.com/skip2/go-qrcode"
)

// Env carries what every command needs.
type Env struct {
	Session *app.Session
	In      io.Reader
	Out     io.Writer
}

func (e Env) printf(format string, args ...any) {
	fmt.Fprintf(e.Out, format, args...)
}

// LoginCommand stores a bearer token: login -token <jwt> [-role customer].
func LoginCommand(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	token := fs.String("token", "", "Bearer token")
	role := fs.String("role", "customer", "Account role (customer|admin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" {
		return errors.New("login: -token is required")
	}

	if err := env.Session.Login(ctx, *token, *role); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	env.printf("Signed in as %s.\n", *role)
	return nil
}

// LogoutCommand signs out and forgets the stored token.
func LogoutCommand(ctx context.Context, env Env) error {
	if err := env.Session.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	env.printf("Signed out.\n")
	return nil
}

// RoomsCommand lists chat rooms. Admins see every room.
func RoomsCommand(ctx context.Context, env Env) error {
	client := env.Session.API()

	list := client.Conversations
	if env.Session.Credentials().Role() == "admin" {
		list = client.AllChatRooms
	}
	rooms, err := list(ctx)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		env.printf("No conversations.\n")
		return nil
	}
	for _, r := range rooms {
		env.printf("%s\n", formatRoom(r))
	}
	return nil
}

// NotificationsCommand prints the feed: notifications [-read ID | -read-all].
func NotificationsCommand(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("notifications", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	readID := fs.Int64("read", 0, "Mark one notification read")
	readAll := fs.Bool("read-all", false, "Mark all notifications read")
	if err := fs.Parse(args); err != nil {
		return err
	}

	feed, err := env.Session.Notifications(ctx)
	if err != nil {
		return err
	}
	defer feed.Close()

	if err := feed.Load(ctx); err != nil {
		return err
	}
	switch {
	case *readAll:
		if err := feed.MarkAllRead(ctx); err != nil {
			return err
		}
	case *readID > 0:
		if err := feed.MarkRead(ctx, *readID); err != nil {
			return err
		}
	}

	items := feed.Items()
	if len(items) == 0 {
		env.printf("No notifications.\n")
		return nil
	}
	for _, n := range items {
		env.printf("%s\n", formatNotification(n))
	}
	env.printf("%d unread\n", feed.Unread())
	return nil
}

// EventsCommand prints live app and chat events until ctx is done.
func EventsCommand(ctx context.Context, env Env) error {
	m, err := env.Session.Realtime(ctx)
	if err != nil {
		return err
	}
	appSub := m.AppEvents().Subscribe()
	defer appSub.Close()
	chatSub := m.ChatEvents().Subscribe()
	defer chatSub.Close()

	env.printf("Listening (app: %s, chat: %s). Ctrl+C to stop.\n", m.AppState(), m.ChatState())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-appSub.C():
			if !ok {
				return nil
			}
			env.printf("%s\n", formatAppEvent(ev))
		case msg, ok := <-chatSub.C():
			if !ok {
				return nil
			}
			env.printf("room %d %s\n", msg.RoomID, formatMessage(msg))
		}
	}
}

// ChatCommand opens the caller's room with a store: chat [-store N].
func ChatCommand(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	store := fs.Int64("store", 0, "Store id (default store when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var storeID *int64
	if *store > 0 {
		storeID = store
	}
	return runConversation(ctx, env, func(c *chat.Conversation) error {
		return c.Open(ctx, storeID)
	})
}

// RoomCommand opens an existing room by id (admin): room <id>.
func RoomCommand(ctx context.Context, env Env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: storefront room <id>")
	}
	roomID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || roomID <= 0 {
		return fmt.Errorf("invalid room id %q", args[0])
	}
	return runConversation(ctx, env, func(c *chat.Conversation) error {
		return c.OpenRoom(ctx, roomID)
	})
}

// HandoffCommand prints a QR code that opens the store chat in the mobile
// app: handoff [-store N].
func HandoffCommand(env Env, args []string) error {
	fs := flag.NewFlagSet("handoff", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	store := fs.Int64("store", 0, "Store id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	link := handoffLink(*store)
	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		logger.Warnf("Failed to generate QR code: %v", err)
		env.printf("%s\n", link)
		return nil
	}
	env.printf("%s\n%s\n", qr.ToSmallString(false), link)
	return nil
}

func handoffLink(storeID int64) string {
	if storeID > 0 {
		return fmt.Sprintf("scamazon://chat?storeId=%d", storeID)
	}
	return "scamazon://chat"
}

func runConversation(ctx context.Context, env Env, open func(*chat.Conversation) error) error {
	conv, err := env.Session.Conversation(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conv.Close(context.Background()); err != nil {
			logger.Debugf("chat: close: %v", err)
		}
	}()

	if err := open(conv); err != nil {
		return err
	}

	printer := newPrinter(env.Out)
	printer.print(conv.Messages())
	state := conv.State()
	env.printf("-- room %d, %d messages. /older, /image <url>, /upload <file>, /quit --\n", state.RoomID, state.Timeline.Len())

	updates := conv.Updates()
	defer updates.Close()

	lines := make(chan string)
	go readLines(env.In, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-updates.C():
			if !ok {
				return nil
			}
			printer.print(st.Timeline.Messages())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, conv, line)
			if err != nil {
				env.printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, conv *chat.Conversation, line string) (bool, error) {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false, nil
	case "/quit", "/exit":
		return true, nil
	case "/older":
		return false, conv.LoadOlder(ctx)
	case "/image":
		if arg == "" {
			return false, errors.New("usage: /image <url>")
		}
		return false, conv.SendImage(ctx, arg)
	case "/upload":
		if arg == "" {
			return false, errors.New("usage: /upload <file>")
		}
		f, err := os.Open(arg)
		if err != nil {
			return false, err
		}
		defer f.Close()
		return false, conv.UploadImage(ctx, filepath.Base(arg), f)
	default:
		return false, conv.Send(ctx, line)
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// printer writes each message once, in timeline order.
type printer struct {
	out  io.Writer
	seen map[int64]struct{}
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, seen: make(map[int64]struct{})}
}

func (p *printer) print(msgs []chat.Message) {
	for _, m := range msgs {
		if _, ok := p.seen[m.ID]; ok {
			continue
		}
		p.seen[m.ID] = struct{}{}
		fmt.Fprintln(p.out, formatMessage(m))
	}
}
