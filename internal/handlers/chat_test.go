package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/pratsy91/periskope-chat/internal/auth"
	"github.com/pratsy91/periskope-chat/internal/blob"
	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/realtime"
	"github.com/pratsy91/periskope-chat/internal/store"
	"github.com/pratsy91/periskope-chat/internal/store/sqlstore"
)

type testAPI struct {
	handler http.Handler
	store   store.Store
	tokens  *auth.Tokens
}

func newTestAPI(t *testing.T) *testAPI {
	logger := zaptest.NewLogger(t)
	base, err := sqlstore.New("sqlite3", ":memory:", logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { base.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	s := realtime.Observe(base, hub)
	tokens := auth.NewTokens("test-secret", time.Hour)
	router := NewRouter(Deps{
		Store:    s,
		Hub:      hub,
		Blob:     &blob.Store{Root: t.TempDir(), BaseURL: "http://chatd.test"},
		Auth:     &auth.Service{Store: s, Tokens: tokens, Logger: logger},
		TokenTTL: time.Hour,
		Logger:   logger,
	})
	return &testAPI{handler: router, store: s, tokens: tokens}
}

// user creates a user and returns it with a session token.
func (a *testAPI) user(t *testing.T, username string) (*models.User, string) {
	t.Helper()
	u, err := a.store.CreateUser(context.Background(), username, "")
	if err != nil {
		t.Fatal(err)
	}
	token, _ := a.tokens.Issue(u)
	return u, token
}

func (a *testAPI) do(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewBuffer(data)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func chatURL(id int64, rest string) string {
	return "/chats/" + strconv.FormatInt(id, 10) + rest
}

func TestCreateChat(t *testing.T) {
	api := newTestAPI(t)
	user, token := api.user(t, "user1")

	rr := api.do(t, token, "POST", "/chats", map[string]string{"name": "Test Chat"})
	if status := rr.Code; status != http.StatusCreated {
		t.Fatalf("handler returned wrong status code: got %v want %v",
			status, http.StatusCreated)
	}
	var chat models.Chat
	json.NewDecoder(rr.Body).Decode(&chat)
	if chat.Name != "Test Chat" || chat.ID == 0 {
		t.Errorf("Unexpected chat %+v", chat)
	}

	// The creator joins an empty chat together with the initial members
	other, _ := api.user(t, "user2")
	rr = api.do(t, token, "POST", chatURL(chat.ID, "/members"), AddMembersRequest{UserIDs: []int64{user.ID, other.ID}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 adding initial members, got %d: %s", rr.Code, rr.Body)
	}

	rr = api.do(t, token, "GET", "/users/"+strconv.FormatInt(user.ID, 10)+"/chats", nil)
	var memberships []models.Membership
	json.NewDecoder(rr.Body).Decode(&memberships)
	if len(memberships) != 1 || memberships[0].Chat == nil || memberships[0].Chat.Name != "Test Chat" {
		t.Errorf("Expected membership of Test Chat, got %+v", memberships)
	}

	rr = api.do(t, "", "POST", "/chats", map[string]string{"name": "x"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without session, got %d", rr.Code)
	}
}

func TestMembershipAuthorization(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	owner, ownerToken := api.user(t, "owner")
	invitee, _ := api.user(t, "invitee")
	outsider, outsiderToken := api.user(t, "outsider")

	chat, _ := api.store.CreateChat(ctx, "Test Chat")
	api.store.AddMembers(ctx, chat.ID, owner.ID)

	tests := []struct {
		name           string
		token          string
		method         string
		path           string
		body           any
		expectedStatus int
	}{
		{"Outsider Reads Messages", outsiderToken, "GET", chatURL(chat.ID, "/messages"), nil, http.StatusForbidden},
		{"Outsider Joins", outsiderToken, "POST", chatURL(chat.ID, "/members"), AddMembersRequest{[]int64{outsider.ID}}, http.StatusForbidden},
		{"Outsider Deletes", outsiderToken, "DELETE", chatURL(chat.ID, ""), nil, http.StatusForbidden},
		{"Outsider Checks Self", outsiderToken, "GET", chatURL(chat.ID, "/members/"+strconv.FormatInt(outsider.ID, 10)), nil, http.StatusOK},
		{"Outsider Checks Owner", outsiderToken, "GET", chatURL(chat.ID, "/members/"+strconv.FormatInt(owner.ID, 10)), nil, http.StatusForbidden},
		{"Owner Invites", ownerToken, "POST", chatURL(chat.ID, "/members"), AddMembersRequest{[]int64{invitee.ID}}, http.StatusCreated},
		{"Owner Invites Again", ownerToken, "POST", chatURL(chat.ID, "/members"), AddMembersRequest{[]int64{invitee.ID}}, http.StatusConflict},
		{"Owner Invites Unknown", ownerToken, "POST", chatURL(chat.ID, "/members"), AddMembersRequest{[]int64{9999}}, http.StatusBadRequest},
		{"Missing Chat", ownerToken, "GET", chatURL(9999, "/messages"), nil, http.StatusNotFound},
		{"Other User's Chats", ownerToken, "GET", "/users/" + strconv.FormatInt(invitee.ID, 10) + "/chats", nil, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, tt.token, tt.method, tt.path, tt.body)
			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v (%s)",
					rr.Code, tt.expectedStatus, rr.Body)
			}
		})
	}

	members, _ := api.store.ChatMembers(ctx, chat.ID)
	if len(members) != 2 {
		t.Errorf("Expected 2 members, got %d", len(members))
	}
}

func TestMessages(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	user, token := api.user(t, "user1")
	other, _ := api.user(t, "user2")

	chat, _ := api.store.CreateChat(ctx, "Test Chat")
	api.store.AddMembers(ctx, chat.ID, user.ID)

	rr := api.do(t, token, "POST", chatURL(chat.ID, "/messages"), models.NewMessage{Content: "hello"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body)
	}
	rr = api.do(t, token, "POST", chatURL(chat.ID, "/messages"), models.NewMessage{Content: "   "})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty message, got %d", rr.Code)
	}
	rr = api.do(t, token, "POST", chatURL(chat.ID, "/messages"), models.NewMessage{SenderID: other.ID, Content: "spoof"})
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for spoofed sender, got %d", rr.Code)
	}
	api.do(t, token, "POST", chatURL(chat.ID, "/messages"),
		models.NewMessage{AttachmentURL: "http://chatd.test/storage/a/b.png", AttachmentType: "image/png"})

	rr = api.do(t, token, "GET", chatURL(chat.ID, "/messages"), nil)
	var messages []models.Message
	json.NewDecoder(rr.Body).Decode(&messages)
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "hello" || messages[0].SenderID != user.ID {
		t.Errorf("Unexpected first message %+v", messages[0])
	}
	if messages[1].AttachmentType != "image/png" {
		t.Errorf("Unexpected second message %+v", messages[1])
	}
}

func TestLabelsAndOpen(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	user, token := api.user(t, "user1")
	chat, _ := api.store.CreateChat(ctx, "Test Chat")
	api.store.AddMembers(ctx, chat.ID, user.ID)

	rr := api.do(t, token, "POST", "/labels", map[string]string{"name": "work"})
	var label models.Label
	json.NewDecoder(rr.Body).Decode(&label)
	if rr.Code != http.StatusOK || label.ID == 0 {
		t.Fatalf("Expected label, got %d %+v", rr.Code, label)
	}
	if rr := api.do(t, token, "POST", "/labels", map[string]string{"name": " "}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for blank label, got %d", rr.Code)
	}

	if rr := api.do(t, token, "POST", chatURL(chat.ID, "/labels"), LinkLabelRequest{label.ID}); rr.Code != http.StatusCreated {
		t.Errorf("Expected 201 linking label, got %d", rr.Code)
	}
	if rr := api.do(t, token, "POST", chatURL(chat.ID, "/open"), nil); rr.Code != http.StatusNoContent {
		t.Errorf("Expected 204 opening chat, got %d", rr.Code)
	}

	ms, _ := api.store.UserMemberships(ctx, user.ID)
	if len(ms) != 1 || ms[0].Chat.LastOpenedAt == nil || len(ms[0].Chat.Labels) != 1 {
		t.Errorf("Expected opened and labelled chat, got %+v", ms)
	}
}

func TestSearchUsers(t *testing.T) {
	api := newTestAPI(t)
	me, token := api.user(t, "alice")
	api.user(t, "alicia")
	api.user(t, "bob")

	rr := api.do(t, token, "GET", "/users/search?q=ALI&exclude="+strconv.FormatInt(me.ID, 10), nil)
	var users []models.User
	json.NewDecoder(rr.Body).Decode(&users)
	if len(users) != 1 || users[0].Username != "alicia" {
		t.Errorf("Expected only alicia, got %+v", users)
	}
	if strings.Contains(rr.Body.String(), "password") {
		t.Error("Password hash leaked in search results")
	}

	rr = api.do(t, token, "GET", "/users/search?q=", nil)
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("Expected empty list, got %s", rr.Body)
	}
}

func (a *testAPI) upload(t *testing.T, token, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("PUT", path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func TestStorage(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	member, token := api.user(t, "user1")
	chat, _ := api.store.CreateChat(ctx, "Files")
	api.store.AddMembers(ctx, chat.ID, member.ID)

	dir := "/storage/chat-attachments/" + strconv.FormatInt(chat.ID, 10)
	rr := api.upload(t, token, dir+"/100_note.txt", "hi there")
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body)
	}
	var res map[string]string
	json.NewDecoder(rr.Body).Decode(&res)
	if res["url"] != "http://chatd.test"+dir+"/100_note.txt" {
		t.Errorf("Unexpected url %q", res["url"])
	}

	rr = api.do(t, "", "GET", dir+"/100_note.txt", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "hi there" {
		t.Errorf("Expected public download, got %d %q", rr.Code, rr.Body)
	}
	rr = api.do(t, "", "GET", dir+"/missing.txt", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rr.Code)
	}
}

func TestStorageUploadRules(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	member, token := api.user(t, "user1")
	_, outsiderToken := api.user(t, "mallory")
	chat, _ := api.store.CreateChat(ctx, "Files")
	api.store.AddMembers(ctx, chat.ID, member.ID)

	existing := "/storage/chat-attachments/" + strconv.FormatInt(chat.ID, 10) + "/1_photo.png"
	if rr := api.upload(t, token, existing, "original"); rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body)
	}

	tests := []struct {
		name  string
		token string
		path  string
		want  int
	}{
		{"Anonymous", "", "/storage/chat-attachments/1/x.txt", http.StatusUnauthorized},
		{"Non Member", outsiderToken, "/storage/chat-attachments/" + strconv.FormatInt(chat.ID, 10) + "/2_x.png", http.StatusForbidden},
		{"Non Member Overwrite", outsiderToken, existing, http.StatusForbidden},
		{"Member Overwrite", token, existing, http.StatusConflict},
		{"Missing Chat", token, "/storage/chat-attachments/9999/1_x.png", http.StatusNotFound},
		{"No Chat Segment", token, "/storage/chat-attachments/photo.png", http.StatusBadRequest},
		{"Other Bucket", outsiderToken, "/storage/avatars/mallory.png", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.upload(t, tt.token, tt.path, "replaced")
			if rr.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rr.Code, rr.Body)
			}
		})
	}

	rr := api.do(t, "", "GET", existing, nil)
	if rr.Body.String() != "original" {
		t.Errorf("Expected stored object to be unchanged, got %q", rr.Body)
	}
}

func TestRealtimeAuthorization(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	user, token := api.user(t, "user1")
	other, _ := api.user(t, "user2")
	chat, _ := api.store.CreateChat(ctx, "Private")
	api.store.AddMembers(ctx, chat.ID, other.ID)

	tests := []struct {
		name  string
		query string
	}{
		{"Unknown Relation", "relation=secrets"},
		{"Unfiltered Messages", "relation=messages"},
		{"Foreign Chat Messages", "relation=messages&column=chat_id&value=" + strconv.FormatInt(chat.ID, 10)},
		{"Foreign Memberships", "relation=chat_members&column=user_id&value=" + strconv.FormatInt(other.ID, 10)},
		{"Bad Events", "relation=chats&events=TRUNCATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, token, "GET", "/realtime?"+tt.query, nil)
			if rr.Code != http.StatusBadRequest && rr.Code != http.StatusForbidden {
				t.Errorf("Expected rejection, got %d", rr.Code)
			}
		})
	}

	// Authorized but not a websocket handshake
	rr := api.do(t, token, "GET", "/realtime?relation=chat_members&column=user_id&value="+strconv.FormatInt(user.ID, 10), nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected failed upgrade, got %d", rr.Code)
	}
}
