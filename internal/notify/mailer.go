package notify

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/hackgods/appointment-admission/internal/config"
)

const appointmentSubject = "Health&Med - Nova consulta agendada"

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers HTML mail through one relay. smtp.SendMail upgrades to
// STARTTLS whenever the server offers it.
type SMTPMailer struct {
	addr string
	auth smtp.Auth
	from string
	send sendFunc
}

func NewSMTPMailer(cfg config.Config) *SMTPMailer {
	username := cfg.SMTPUsername
	if username == "" {
		username = cfg.SenderEmail
	}

	var auth smtp.Auth
	if cfg.SMTPPassword != "" {
		auth = smtp.PlainAuth("", username, cfg.SMTPPassword, cfg.SMTPHost)
	}

	return &SMTPMailer{
		addr: net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		auth: auth,
		from: cfg.SenderEmail,
		send: smtp.SendMail,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body := buildMessage(m.from, msg, time.Now())
	if err := m.send(m.addr, m.auth, m.from, []string{msg.To}, body); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

func buildMessage(from string, msg Message, at time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", at.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return b.Bytes()
}

// AppointmentEmail is the "new appointment" message sent to the doctor.
func AppointmentEmail(p Payload) Message {
	body := fmt.Sprintf(`<html>
  <body>
    <p>Olá, Dr. %s!</p>
    <p>Você tem uma nova consulta marcada!</p>
    <p>Paciente: %s</p>
    <p>Data e horário: %s</p>
  </body>
</html>
`, html.EscapeString(p.DoctorID), html.EscapeString(p.PatientID), html.EscapeString(p.Start))

	return Message{
		To:      p.DoctorID,
		Subject: appointmentSubject,
		HTML:    body,
	}
}
