package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender delivers customer-facing notifications. A nil-configured sender is
// a no-op so local setups work without SMTP.
type Sender interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendSongDelivered(ctx context.Context, to string, data SongDeliveredData) error
}

type SongDeliveredData struct {
	Title    string
	AudioURL string
	VideoURL string
}

var ErrNotConfigured = errors.New("email_not_configured")

var songDeliveredTmpl = template.Must(template.New("song_delivered").Parse(`
<h2>Your song is ready!</h2>
<p>We finished <strong>{{.Title}}</strong>.</p>
<p><a href="{{.AudioURL}}">Listen to your song</a></p>
{{if .VideoURL}}<p><a href="{{.VideoURL}}">Watch the video</a></p>{{end}}
<p>Thank you for ordering with Songcraft.</p>
`))

type SMTPProvider struct {
	cfg Config
}

func NewSMTP(cfg Config) Sender {
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if p.cfg.Host == "" {
		return ErrNotConfigured
	}
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", to[0], subject, mime, htmlBody))

	return smtp.SendMail(addr, auth, p.cfg.From, to, msg)
}

func (p *SMTPProvider) SendSongDelivered(ctx context.Context, to string, data SongDeliveredData) error {
	var body bytes.Buffer
	if err := songDeliveredTmpl.Execute(&body, data); err != nil {
		return err
	}
	subject := fmt.Sprintf("Your song %q is ready", data.Title)
	return p.Send(ctx, []string{to}, subject, body.String())
}
