package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/realtime"
)

// Remote talks to chatd over HTTP and its websocket change feed.
type Remote struct {
	baseURL *url.URL
	client  *http.Client
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

var _ Gateway = (*Remote)(nil)

// NewRemote returns a gateway for the chatd instance at baseURL. token may be
// empty until SignIn succeeds.
func NewRemote(baseURL, token string, timeout time.Duration, logger *zap.Logger) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	return &Remote{
		baseURL: u,
		client:  &http.Client{Timeout: timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		logger:  logger,
		token:   token,
	}, nil
}

// SetToken replaces the session token sent with every request.
func (r *Remote) SetToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = token
}

func (r *Remote) authHeader() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.token == "" {
		return ""
	}
	return "Bearer " + r.token
}

func (r *Remote) endpoint(path string, query url.Values) string {
	u := *r.baseURL
	u.Path = u.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// statusError maps a chatd error response to a gateway sentinel.
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		sentinel = ErrInvalid
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusForbidden:
		sentinel = ErrForbidden
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusConflict:
		sentinel = ErrConflict
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

func (r *Remote) send(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, r.endpoint(path, query), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if h := r.authHeader(); h != "" {
		req.Header.Set("Authorization", h)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (r *Remote) do(ctx context.Context, op, relation, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return wrap(op, relation, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	err := r.send(ctx, method, path, nil, contentType, body, out)
	if err != nil {
		r.logger.Debug("Gateway call failed",
			zap.String("op", op), zap.String("relation", relation), zap.String("path", path), zap.Error(err))
	}
	return wrap(op, relation, err)
}

func chatPath(chatID int64, rest string) string {
	return "/chats/" + strconv.FormatInt(chatID, 10) + rest
}

func (r *Remote) SignIn(ctx context.Context, username, password string) (*models.AuthResult, error) {
	var res models.AuthResult
	in := map[string]string{"username": username, "password": password}
	if err := r.do(ctx, "sign in", models.RelationUsers, http.MethodPost, "/login", in, &res); err != nil {
		return nil, err
	}
	r.SetToken(res.Token)
	return &res, nil
}

func (r *Remote) SearchUsers(ctx context.Context, query string, excludeID int64) ([]models.User, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("exclude", strconv.FormatInt(excludeID, 10))
	var users []models.User
	err := r.send(ctx, http.MethodGet, "/users/search", q, "", nil, &users)
	if err != nil {
		return nil, wrap("query", models.RelationUsers, err)
	}
	return users, nil
}

func (r *Remote) Memberships(ctx context.Context, userID int64) ([]models.Membership, error) {
	var ms []models.Membership
	path := "/users/" + strconv.FormatInt(userID, 10) + "/chats"
	if err := r.do(ctx, "query", models.RelationChatMembers, http.MethodGet, path, nil, &ms); err != nil {
		return nil, err
	}
	return ms, nil
}

func (r *Remote) Members(ctx context.Context, chatID int64) ([]models.Member, error) {
	var ms []models.Member
	if err := r.do(ctx, "query", models.RelationChatMembers, http.MethodGet, chatPath(chatID, "/members"), nil, &ms); err != nil {
		return nil, err
	}
	return ms, nil
}

func (r *Remote) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	var res struct {
		Member bool `json:"member"`
	}
	path := chatPath(chatID, "/members/"+strconv.FormatInt(userID, 10))
	if err := r.do(ctx, "query", models.RelationChatMembers, http.MethodGet, path, nil, &res); err != nil {
		return false, err
	}
	return res.Member, nil
}

func (r *Remote) AddMembers(ctx context.Context, chatID int64, userIDs ...int64) error {
	in := map[string][]int64{"user_ids": userIDs}
	return r.do(ctx, "insert", models.RelationChatMembers, http.MethodPost, chatPath(chatID, "/members"), in, nil)
}

func (r *Remote) CreateChat(ctx context.Context, name string) (*models.Chat, error) {
	var chat models.Chat
	in := map[string]string{"name": name}
	if err := r.do(ctx, "insert", models.RelationChats, http.MethodPost, "/chats", in, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *Remote) MarkChatOpened(ctx context.Context, chatID int64) error {
	return r.do(ctx, "update", models.RelationChats, http.MethodPost, chatPath(chatID, "/open"), nil, nil)
}

func (r *Remote) DeleteChat(ctx context.Context, chatID int64) error {
	return r.do(ctx, "delete", models.RelationChats, http.MethodDelete, chatPath(chatID, ""), nil, nil)
}

func (r *Remote) UpsertLabel(ctx context.Context, name string) (*models.Label, error) {
	var label models.Label
	in := map[string]string{"name": name}
	if err := r.do(ctx, "upsert", models.RelationLabels, http.MethodPost, "/labels", in, &label); err != nil {
		return nil, err
	}
	return &label, nil
}

func (r *Remote) LinkLabel(ctx context.Context, chatID, labelID int64) error {
	in := map[string]int64{"label_id": labelID}
	return r.do(ctx, "insert", models.RelationChatLabels, http.MethodPost, chatPath(chatID, "/labels"), in, nil)
}

func (r *Remote) Messages(ctx context.Context, chatID int64) ([]models.Message, error) {
	var msgs []models.Message
	if err := r.do(ctx, "query", models.RelationMessages, http.MethodGet, chatPath(chatID, "/messages"), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Remote) InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	var m models.Message
	if err := r.do(ctx, "insert", models.RelationMessages, http.MethodPost, chatPath(msg.ChatID, "/messages"), msg, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Remote) Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) (string, error) {
	var res struct {
		URL string `json:"url"`
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	target := r.baseURL.String() + "/storage/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, body)
	if err != nil {
		return "", wrap("upload", bucket, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if h := r.authHeader(); h != "" {
		req.Header.Set("Authorization", h)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", wrap("upload", bucket, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", wrap("upload", bucket, statusError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", wrap("upload", bucket, err)
	}
	return res.URL, nil
}

// Subscribe opens a websocket to the change feed. The subscription ends
// when the connection drops or Close is called.
func (r *Remote) Subscribe(ctx context.Context, sub models.Subscription) (Subscription, error) {
	u := *r.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/realtime"
	u.RawQuery = realtime.EncodeSubscription(sub).Encode()

	header := http.Header{}
	if h := r.authHeader(); h != "" {
		header.Set("Authorization", h)
	}

	conn, resp, err := r.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				err = statusError(resp)
			}
		}
		return nil, wrap("subscribe", sub.Relation, err)
	}

	s := &remoteSubscription{
		conn:   conn,
		events: make(chan models.ChangeEvent, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop(r.logger.With(zap.String("relation", sub.Relation)))
	return s, nil
}

type remoteSubscription struct {
	conn   *websocket.Conn
	events chan models.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (s *remoteSubscription) Events() <-chan models.ChangeEvent {
	return s.events
}

func (s *remoteSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *remoteSubscription) readLoop(logger *zap.Logger) {
	defer close(s.events)
	for {
		var ev models.ChangeEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("Change feed closed", zap.Error(err))
			}
			return
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
