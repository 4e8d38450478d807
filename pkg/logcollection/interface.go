package logcollection

import (
	"io"
)

// ===== CORE LOG COLLECTION INTERFACES =====

// LogSink captures the combined output of app processes and serves recent lines back
type LogSink interface {
	// Append adds raw output; only complete lines become visible
	Append(appID string, data []byte) error

	// Logf writes a timestamped launcher line into the app log
	Logf(appID string, format string, args ...interface{})

	// Read returns at most maxLines most recent lines; maxLines <= 0 means the configured maximum
	Read(appID string, maxLines int) (string, error)

	// CollectFromStream copies stream into the app log in the background and closes it at EOF
	CollectFromStream(appID string, stream io.ReadCloser)

	// Remove forgets the in-memory log and closes the file of appID
	Remove(appID string)

	Close() error
}

// LineObserver is notified about lines committed to an app log, e.g. for metrics
type LineObserver func(appID string, lines int)

// TimestampLayout prefixes launcher lines
const TimestampLayout = "2006-01-02 15:04:05"
