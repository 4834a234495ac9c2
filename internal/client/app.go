// Package client assembles the chatcli runtime: the stored session, the
// backend gateway, the local mirror and the services built on them.
package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/chatops"
	"github.com/pratsy91/periskope-chat/internal/chatsync"
	"github.com/pratsy91/periskope-chat/internal/config"
	"github.com/pratsy91/periskope-chat/internal/gateway"
	"github.com/pratsy91/periskope-chat/internal/mirror"
	"github.com/pratsy91/periskope-chat/internal/session"
)

// App is one logged-in or logged-out client. Session is explicit context
// passed to every component that needs the current user.
type App struct {
	Gateway  gateway.Gateway
	Mirror   mirror.Store
	Sessions session.Store
	Session  session.Session
	Logger   *zap.Logger

	ResubscribeDelay time.Duration

	chats *chatsync.ChatList
}

// New loads the stored session and connects the remote gateway and mirror
// configured in cfg.
func New(cfg *config.Client, logger *zap.Logger) (*App, error) {
	sessions := session.NewFileStore(cfg.SessionPath)
	sess, err := session.Load(sessions)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	remote, err := gateway.NewRemote(cfg.Server, sess.Token, cfg.RequestTimeout, logger)
	if err != nil {
		return nil, err
	}

	var m mirror.Store = mirror.Nop{}
	if cfg.MirrorPath != "" {
		db, err := mirror.Open(cfg.MirrorPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open mirror: %w", err)
		}
		m = db
	}

	return &App{
		Gateway:          remote,
		Mirror:           m,
		Sessions:         sessions,
		Session:          sess,
		Logger:           logger,
		ResubscribeDelay: cfg.ResubscribeDelay,
	}, nil
}

// Login signs in and stores the resulting session. The mirror is cleared
// when the user differs from the stored one.
func (a *App) Login(ctx context.Context, username, password string) (session.Session, error) {
	res, err := a.Gateway.SignIn(ctx, username, password)
	if err != nil {
		return session.Session{}, err
	}
	if res.User.ID != a.Session.UserID {
		a.clearMirror(ctx)
	}
	sess, err := session.Login(a.Sessions, res)
	if err != nil {
		return session.Session{}, err
	}
	a.Session = sess
	a.chats = nil
	a.Logger.Info("Logged in", zap.Int64("user_id", sess.UserID), zap.String("username", sess.Username))
	return sess, nil
}

// Logout forgets the session and the cached chats of the previous user.
func (a *App) Logout(ctx context.Context) error {
	if a.Session.LoggedIn {
		a.clearMirror(ctx)
	}
	if r, ok := a.Gateway.(*gateway.Remote); ok {
		r.SetToken("")
	}
	a.Session = session.Session{}
	a.chats = nil
	return session.Logout(a.Sessions)
}

// clearMirror drops every cached chat and message.
func (a *App) clearMirror(ctx context.Context) {
	if err := a.Mirror.ReplaceChats(ctx, nil); err != nil {
		a.Logger.Warn("Failed to clear mirror", zap.Error(err))
	}
}

// ChatList returns the chat list synchronizer of the logged-in user.
func (a *App) ChatList() (*chatsync.ChatList, error) {
	if err := a.Session.Require(); err != nil {
		return nil, err
	}
	if a.chats == nil {
		a.chats = chatsync.NewChatList(a.Gateway, a.Mirror, a.Session.UserID, a.Logger)
		if a.ResubscribeDelay > 0 {
			a.chats.ResubscribeDelay = a.ResubscribeDelay
		}
	}
	return a.chats, nil
}

// Messages returns a new message synchronizer.
func (a *App) Messages() (*chatsync.Messages, error) {
	if err := a.Session.Require(); err != nil {
		return nil, err
	}
	m := chatsync.NewMessages(a.Gateway, a.Mirror, a.Logger)
	if a.ResubscribeDelay > 0 {
		m.ResubscribeDelay = a.ResubscribeDelay
	}
	return m, nil
}

// Ops returns the mutation service wired to the chat list.
func (a *App) Ops() (*chatops.Service, error) {
	list, err := a.ChatList()
	if err != nil {
		return nil, err
	}
	return &chatops.Service{Gateway: a.Gateway, Mirror: a.Mirror, Logger: a.Logger, ChatList: list}, nil
}

func (a *App) Close() error {
	return a.Mirror.Close()
}
