package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/chatops"
	"github.com/pratsy91/periskope-chat/internal/chatsync"
	"github.com/pratsy91/periskope-chat/internal/client"
	"github.com/pratsy91/periskope-chat/internal/config"
	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/render"
	"github.com/pratsy91/periskope-chat/internal/session"
)

const usage = `Usage: chatcli [-config file] <command> [arguments]

Commands:
  login <username> [-password p]   sign in, creating the user if new
  logout                           forget the stored session
  whoami                           print the logged-in user
  chats [-watch] [-search q]       list chats, most recently opened first
  open [chat]                      show a chat (the first one if omitted)
  watch [chat]                     follow a chat's messages
  send <chat> <text...>            send a message
  attach <chat> <file> [-type t]   send a file
  search <query>                   find users by name
  dm <user> [-name n] [-label l]   open or start a direct chat
  group -name n [-label l] <user...>
                                   create a group chat
  add <chat> <user>                add a member
  members <chat>                   list members
  delete <chat>                    delete a chat
`

var stdout io.Writer = os.Stdout

type command func(ctx context.Context, app *client.App, args []string) error

var commands = map[string]command{
	"login":   login,
	"logout":  logout,
	"whoami":  whoami,
	"chats":   chats,
	"open":    open,
	"watch":   watch,
	"send":    send,
	"attach":  attach,
	"search":  search,
	"dm":      dm,
	"group":   group,
	"add":     add,
	"members": members,
	"delete":  deleteChat,
}

func main() {
	configPath := flag.String("config", os.Getenv("CHATCLI_CONFIG"), "path to the client configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	app, err := client.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to start client", zap.Error(err))
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, app, flag.Args()[1:]); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, session.ErrNotLoggedIn) {
			fmt.Fprintln(os.Stderr, "Not logged in. Run: chatcli login <username>")
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

// interleaved lets flags follow positional arguments.
func interleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func login(ctx context.Context, app *client.App, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	password := fs.String("password", "", "password, required if the account has one")
	rest, err := interleaved(fs, args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("usage: login <username> [-password p]")
	}
	sess, err := app.Login(ctx, rest[0], *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Logged in as %s (id %d)\n", sess.Username, sess.UserID)
	return nil
}

func logout(ctx context.Context, app *client.App, _ []string) error {
	if err := app.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Logged out")
	return nil
}

func whoami(_ context.Context, app *client.App, _ []string) error {
	if err := app.Session.Require(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s (id %d)\n", app.Session.Username, app.Session.UserID)
	return nil
}

func chats(ctx context.Context, app *client.App, args []string) error {
	fs := flag.NewFlagSet("chats", flag.ContinueOnError)
	follow := fs.Bool("watch", false, "keep following changes")
	query := fs.String("search", "", "only chats whose name contains this text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := app.ChatList()
	if err != nil {
		return err
	}

	if !*follow {
		if err := list.Refresh(ctx); err != nil {
			return err
		}
		return render.Chats(stdout, chatsync.FilterChats(list.Chats(), *query), 0)
	}

	list.OnChange(func(chats []models.ChatSummary) {
		fmt.Fprintln(stdout, "---")
		render.Chats(stdout, chatsync.FilterChats(chats, *query), 0)
	})
	return list.Run(ctx)
}

// selectChat resolves the chat argument, defaulting to the first chat of
// the list, and prints the list with the selection marked.
func selectChat(ctx context.Context, app *client.App, args []string) (int64, error) {
	var chatID int64
	if len(args) > 0 {
		id, err := parseID(args[0], "chat")
		if err != nil {
			return 0, err
		}
		chatID = id
	}
	list, err := app.ChatList()
	if err != nil {
		return 0, err
	}
	if err := list.Refresh(ctx); err != nil {
		return 0, err
	}
	chats := list.Chats()
	if chatID == 0 {
		if len(chats) == 0 {
			return 0, errors.New(render.NoChats)
		}
		chatID = chats[0].ID
	}
	if err := render.Chats(stdout, chats, chatID); err != nil {
		return 0, err
	}
	fmt.Fprintln(stdout)
	return chatID, nil
}

func header(ctx context.Context, ops *chatops.Service, chatID int64) (render.Names, error) {
	members, err := ops.Members(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := render.Members(stdout, members); err != nil {
		return nil, err
	}
	return render.NamesOf(members), nil
}

func open(ctx context.Context, app *client.App, args []string) error {
	chatID, err := selectChat(ctx, app, args)
	if err != nil {
		return err
	}
	ops, err := app.Ops()
	if err != nil {
		return err
	}
	if err := ops.OpenChat(ctx, chatID); err != nil {
		return err
	}
	names, err := header(ctx, ops, chatID)
	if err != nil {
		return err
	}

	msgs, err := app.Messages()
	if err != nil {
		return err
	}
	if err := msgs.Open(ctx, chatID); err != nil {
		return err
	}
	return render.Messages(stdout, msgs.Messages(), names, app.Session.UserID)
}

func watch(ctx context.Context, app *client.App, args []string) error {
	chatID, err := selectChat(ctx, app, args)
	if err != nil {
		return err
	}
	ops, err := app.Ops()
	if err != nil {
		return err
	}
	if err := ops.OpenChat(ctx, chatID); err != nil {
		return err
	}
	names, err := header(ctx, ops, chatID)
	if err != nil {
		return err
	}

	msgs, err := app.Messages()
	if err != nil {
		return err
	}
	shown := 0
	msgs.OnChange(func(id int64, messages []models.Message) {
		if id != chatID {
			return
		}
		if len(messages) < shown {
			shown = 0
		}
		if len(messages) == shown && shown > 0 {
			return
		}
		render.Messages(stdout, messages[shown:], names, app.Session.UserID)
		shown = len(messages)
	})
	return msgs.Run(ctx, chatID)
}

func send(ctx context.Context, app *client.App, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: send <chat> <text...>")
	}
	chatID, err := parseID(args[0], "chat")
	if err != nil {
		return err
	}
	ops, err := app.Ops()
	if err != nil {
		return err
	}
	_, err = ops.SendMessage(ctx, chatID, app.Session.UserID, strings.Join(args[1:], " "), nil)
	return err
}

func attach(ctx context.Context, app *client.App, args []string) error {
	fs := flag.NewFlagSet("attach", flag.ContinueOnError)
	contentType := fs.String("type", "", "content type, detected if empty")
	rest, err := interleaved(fs, args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return errors.New("usage: attach <chat> <file> [-type t]")
	}
	chatID, err := parseID(rest[0], "chat")
	if err != nil {
		return err
	}
	ops, err := app.Ops()
	if err != nil {
		return err
	}

	f, err := os.Open(rest[1])
	if err != nil {
		return err
	}
	defer f.Close()

	if *contentType == "" {
		*contentType, err = detectType(f)
		if err != nil {
			return err
		}
	}
	msg, err := ops.UploadAttachment(ctx, chatID, app.Session.UserID, filepath.Base(f.Name()), *contentType, f)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, msg.AttachmentURL)
	return nil
}

func detectType(f *os.File) (string, error) {
	if t := mime.TypeByExtension(filepath.Ext(f.Name())); t != "" {
		return t, nil
	}
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}

func search(ctx context.Context, app *client.App, args []string) error {
	ops, err := app.Ops()
	if err != nil {
		return err
	}
	users, err := ops.SearchUsers(ctx, app.Session.UserID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return render.Users(stdout, users)
}

func dm(ctx context.Context, app *client.App, args []string) error {
	fs := flag.NewFlagSet("dm", flag.ContinueOnError)
	name := fs.String("name", "", "chat name")
	label := fs.String("label", "", "label to attach")
	rest, err := interleaved(fs, args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("usage: dm <user> [-name n] [-label l]")
	}
	other, err := parseID(rest[0], "user")
	if err != nil {
		return err
	}
	ops, err := app.Ops()
	if err != nil {
		return err
	}
	chat, created, err := ops.StartDirectChat(ctx, app.Session.UserID, other, *name, *label)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(stdout, "Created chat %d\n", chat.ID)
	} else {
		fmt.Fprintf(stdout, "Existing chat %d (%s)\n", chat.ID, chat.Name)
	}
	return nil
}

func group(ctx context.Context, app *client.App, args []string) error {
	fs := flag.NewFlagSet("group", flag.ContinueOnError)
	name := fs.String("name", "", "chat name")
	label := fs.String("label", "", "label to attach")
	rest, err := interleaved(fs, args)
	if err != nil {
		return err
	}
	req := chatops.GroupRequest{Name: *name, Label: *label}
	for _, arg := range rest {
		id, err := parseID(arg, "user")
		if err != nil {
			return err
		}
		req.MemberIDs = append(req.MemberIDs, id)
	}
	ops, err := app.Ops()
	if err != nil {
		return err
	}
	chat, err := ops.CreateGroupChat(ctx, app.Session.UserID, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Created chat %d\n", chat.ID)
	return nil
}

func add(ctx context.Context, app *client.App, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: add <chat> <user>")
	}
	chatID, err := parseID(args[0], "chat")
	if err != nil {
		return err
	}
	userID, err := parseID(args[1], "user")
	if err != nil {
		return err
	}
	ops, err := app.Ops()
	if err != nil {
		return err
	}
	return ops.AddMember(ctx, chatID, userID)
}

func members(ctx context.Context, app *client.App, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: members <chat>")
	}
	chatID, err := parseID(args[0], "chat")
	if err != nil {
		return err
	}
	ops, err := app.Ops()
	if err != nil {
		return err
	}
	_, err = header(ctx, ops, chatID)
	return err
}

func deleteChat(ctx context.Context, app *client.App, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: delete <chat>")
	}
	chatID, err := parseID(args[0], "chat")
	if err != nil {
		return err
	}
	ops, err := app.Ops()
	if err != nil {
		return err
	}
	if err := ops.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Deleted chat %d\n", chatID)
	return nil
}
