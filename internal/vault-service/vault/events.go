package vault

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type EventName string

const (
	EventUploaded    EventName = "uploaded"
	EventDeduped     EventName = "deduped"
	EventDeleted     EventName = "deleted"
	EventShared      EventName = "shared"
	EventDownloaded  EventName = "downloaded"
	EventQuotaDenied EventName = "quota_denied"
)

type Event struct {
	Name        EventName
	UserID      string
	FileID      string
	ContentHash string
	Size        int64
	At          time.Time
}

// Sink receives engine events, fire-and-forget. Publish must not fail the
// operation that emitted the event.
type Sink interface {
	Publish(Event)
}

// LogSink is the default sink; the notification fan-out plugs in its own.
type LogSink struct {
	l *log.Entry
}

func NewLogSink(l *log.Entry) *LogSink {
	return &LogSink{l: l}
}

func (s *LogSink) Publish(e Event) {
	s.l.WithFields(log.Fields{
		"user_id":      e.UserID,
		"file_id":      e.FileID,
		"content_hash": e.ContentHash,
		"size":         e.Size,
	}).Info(string(e.Name))
}
