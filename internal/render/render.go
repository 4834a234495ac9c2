// Package render draws synchronizer state as terminal text.
package render

import (
	"fmt"
	"io"
	"path"
	"strings"
	"text/tabwriter"
	"text/template"
	"time"

	"github.com/pratsy91/periskope-chat/internal/models"
)

const (
	NoChats    = "No chats yet"
	NoMessages = "No messages yet"
	NoUsers    = "No users found"
)

type Kind int

const (
	Text Kind = iota
	Image
	Video
	Link
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Video:
		return "video"
	case Link:
		return "link"
	}
	return "text"
}

// Classify decides how a message's attachment is shown.
func Classify(m models.Message) Kind {
	if m.AttachmentURL == "" {
		return Text
	}
	switch t := strings.ToLower(m.AttachmentType); {
	case strings.HasPrefix(t, "image/"):
		return Image
	case strings.HasPrefix(t, "video/"):
		return Video
	}
	return Link
}

var messageTmpl = template.Must(template.New("message").Funcs(template.FuncMap{
	"clock": func(t time.Time) string { return t.Local().Format("Jan 2 15:04") },
}).Parse(`[{{clock .CreatedAt}}] {{.Sender}}:{{if .Content}} {{.Content}}{{end}}` +
	`{{if .Attachment}} [{{.Kind}}: {{.Attachment}}]{{end}}` + "\n"))

type messageLine struct {
	models.Message
	Sender     string
	Kind       Kind
	Attachment string
}

// Names maps user ids to display names.
type Names map[int64]string

// NamesOf indexes the chat members by user id.
func NamesOf(members []models.Member) Names {
	n := make(Names, len(members))
	for _, m := range members {
		n[m.UserID] = m.Username
	}
	return n
}

func (n Names) name(id int64, me int64) string {
	if id == me {
		return "you"
	}
	if s := n[id]; s != "" {
		return s
	}
	return models.UnknownUser
}

// Messages writes one line per message, oldest first.
func Messages(w io.Writer, msgs []models.Message, names Names, me int64) error {
	if len(msgs) == 0 {
		_, err := fmt.Fprintln(w, NoMessages)
		return err
	}
	for _, m := range msgs {
		line := messageLine{Message: m, Sender: names.name(m.SenderID, me), Kind: Classify(m)}
		if line.Kind != Text {
			line.Attachment = attachmentLabel(m)
		}
		if err := messageTmpl.Execute(w, line); err != nil {
			return err
		}
	}
	return nil
}

func attachmentLabel(m models.Message) string {
	if Classify(m) == Link {
		return "Download attachment " + m.AttachmentURL
	}
	return path.Base(m.AttachmentURL) + " " + m.AttachmentURL
}

// Chats writes the chat list with the selected chat marked.
func Chats(w io.Writer, chats []models.ChatSummary, selected int64) error {
	if len(chats) == 0 {
		_, err := fmt.Fprintln(w, NoChats)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range chats {
		mark := " "
		if c.ID == selected {
			mark = "*"
		}
		opened := "-"
		if c.LastOpenedAt != nil {
			opened = c.LastOpenedAt.Local().Format("Jan 2 15:04")
		}
		fmt.Fprintf(tw, "%s %d\t%s\t%s\t%s\n", mark, c.ID, c.Name, strings.Join(c.Labels, ","), opened)
	}
	return tw.Flush()
}

// Users writes search results.
func Users(w io.Writer, users []models.User) error {
	if len(users) == 0 {
		_, err := fmt.Fprintln(w, NoUsers)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\n", u.ID, u.Username)
	}
	return tw.Flush()
}

// Members writes the chat header member list.
func Members(w io.Writer, members []models.Member) error {
	names := make([]string, 0, len(members))
	for _, m := range members {
		if m.Username == "" {
			names = append(names, models.UnknownUser)
			continue
		}
		names = append(names, m.Username)
	}
	_, err := fmt.Fprintf(w, "Members (%d): %s\n", len(members), strings.Join(names, ", "))
	return err
}
