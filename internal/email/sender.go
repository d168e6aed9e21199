package email

import (
	"log/slog"
)

// Sender delivers report notifications. Implementations send in the
// background and never block the worker.
type Sender interface {
	SendDownloadLink(email, downloadURL, summary string)
	SendWithAttachment(email, filename string, content []byte, summary string)
}

// LogSender stands in for a real mail server in development: it logs what
// would have been sent.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) SendDownloadLink(email, downloadURL, summary string) {
	slog.Info("EMAIL (report link)", "to", email, "url", downloadURL, "summary", summary)
}

func (s *LogSender) SendWithAttachment(email, filename string, content []byte, summary string) {
	slog.Info("EMAIL (report attached)", "to", email, "filename", filename, "size", len(content), "summary", summary)
}
