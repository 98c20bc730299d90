package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// MessageType selects a message template.
type MessageType string

// Message types.
const (
	MessageAnnouncement      MessageType = "announcement"
	MessageComponent         MessageType = "component"
	MessageMonitoringFailure MessageType = "monitoring_failure"
	MessageAttention         MessageType = "attention"
	MessageUpdate            MessageType = "update"
	MessageResolved          MessageType = "resolved"
	MessageReminder          MessageType = "reminder"
	MessageEscalation        MessageType = "escalation"
	MessageSMS               MessageType = "sms"
)

var messageTypes = []MessageType{
	MessageAnnouncement,
	MessageComponent,
	MessageMonitoringFailure,
	MessageAttention,
	MessageUpdate,
	MessageResolved,
	MessageReminder,
	MessageEscalation,
	MessageSMS,
}

// MessageData is the template input.
type MessageData struct {
	Source     string
	ID         string
	Name       string
	Status     string
	Impact     string
	ResolvedAt *time.Time
	Mention    string
	Tier       string
	Body       string
	Since      time.Duration
}

// Renderer renders chat and SMS texts from templates.
type Renderer struct {
	source    string
	templates map[MessageType]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
// source names the monitored status page in message texts.
func NewRenderer(source string) (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":          titleCase,
		"upper":          upperCase,
		"lower":          strings.ToLower,
		"formatTime":     formatTime,
		"formatDuration": formatDuration,
	}

	r := &Renderer{
		source:    source,
		templates: make(map[MessageType]*template.Template, len(messageTypes)),
	}

	for _, mt := range messageTypes {
		filename := fmt.Sprintf("templates/%s.tmpl", mt)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(string(mt)).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", mt, err)
		}

		r.templates[mt] = tmpl
	}

	return r, nil
}

// Render renders a message of the given type. Source defaults to the renderer's source.
func (r *Renderer) Render(mt MessageType, data MessageData) (string, error) {
	tmpl, ok := r.templates[mt]
	if !ok {
		return "", fmt.Errorf("template not found: %s", mt)
	}
	if data.Source == "" {
		data.Source = r.source
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", mt, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Incident returns template data describing inc.
func Incident(inc *domain.IncidentRecord) MessageData {
	return MessageData{
		ID:         inc.ID,
		Name:       inc.Name,
		Status:     inc.Status,
		Impact:     string(inc.Impact),
		ResolvedAt: inc.ResolvedAt,
	}
}

// AnnouncementType picks the subject template for the first thread message.
func AnnouncementType(inc *domain.IncidentRecord) MessageType {
	switch {
	case inc.IsComponentFault():
		return MessageComponent
	case inc.Impact == domain.ImpactMonitoringFailure:
		return MessageMonitoringFailure
	default:
		return MessageAnnouncement
	}
}

// Template functions

var (
	titleCaser = cases.Title(language.English)
	upperCaser = cases.Upper(language.Und)
)

func titleCase(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

func upperCase(s string) string {
	return upperCaser.String(s)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		if minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", minutes)
}
