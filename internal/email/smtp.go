package email

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// SMTPSender delivers notifications over plain SMTP. Sends run in the
// background; failures are logged, not surfaced, since a lost mail never
// fails a report job.
type SMTPSender struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

func NewSMTPSender(host string, port int, user, password, from string) *SMTPSender {
	return &SMTPSender{Host: host, Port: port, User: user, Password: password, From: from}
}

func (s *SMTPSender) auth() smtp.Auth {
	if s.User != "" && s.Password != "" {
		return smtp.PlainAuth("", s.User, s.Password, s.Host)
	}
	return nil
}

func (s *SMTPSender) SendDownloadLink(email, downloadURL, summary string) {
	go func() {
		addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
		subject := "Your file inventory report is ready"
		body := fmt.Sprintf("Hello,\n\nYour inventory report has completed.\n\n%s\nDownload link:\n%s\n", summary, downloadURL)

		msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", email, subject, body))

		if err := smtp.SendMail(addr, s.auth(), s.From, []string{email}, msg); err != nil {
			slog.Error("Failed to send email", "to", email, "error", err)
			return
		}
		slog.Info("Email sent", "to", email)
	}()
}

func (s *SMTPSender) SendWithAttachment(emailAddr, filename string, content []byte, summary string) {
	go func() {
		addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
		const boundary = "blobvault-report-boundary"

		var msg strings.Builder
		fmt.Fprintf(&msg, "To: %s\r\n", emailAddr)
		msg.WriteString("Subject: Your file inventory report is ready (attached)\r\n")
		msg.WriteString("MIME-Version: 1.0\r\n")
		fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

		fmt.Fprintf(&msg, "--%s\r\n", boundary)
		msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
		fmt.Fprintf(&msg, "Hello,\n\nYour inventory report has completed.\n\n%s\r\n", summary)

		fmt.Fprintf(&msg, "--%s\r\n", boundary)
		fmt.Fprintf(&msg, "Content-Type: %s; name=%q\r\n", attachmentType(filename), filename)
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&msg, "Content-Disposition: attachment; filename=%q\r\n\r\n", filename)

		// RFC 2045: base64 lines capped at 76 chars.
		encoded := base64.StdEncoding.EncodeToString(content)
		for i := 0; i < len(encoded); i += 76 {
			end := i + 76
			if end > len(encoded) {
				end = len(encoded)
			}
			msg.WriteString(encoded[i:end] + "\r\n")
		}
		fmt.Fprintf(&msg, "--%s--\r\n", boundary)

		if err := smtp.SendMail(addr, s.auth(), s.From, []string{emailAddr}, []byte(msg.String())); err != nil {
			slog.Error("Failed to send email with attachment", "to", emailAddr, "error", err)
			return
		}
		slog.Info("Email with attachment sent", "to", emailAddr, "filename", filename)
	}()
}

func attachmentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".csv"):
		return "text/csv"
	case strings.HasSuffix(filename, ".json"):
		return "application/json"
	case strings.HasSuffix(filename, ".xlsx"):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case strings.HasSuffix(filename, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(filename, ".gz"):
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
