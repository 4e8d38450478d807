package logcollection

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logcollection/config"
	"github.com/core-tools/hsu-launcher/pkg/logging"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	readChunkSize = 4096

	// maxPartialLine bounds a line without a terminator; longer output is committed as is
	maxPartialLine = 64 * 1024

	// maxSeedBytes bounds how much of an existing log file is read to seed the ring
	maxSeedBytes = 2 * 1024 * 1024
)

type logSink struct {
	config   config.LogSinkConfig
	observer LineObserver
	logger   logging.Logger

	mutex  sync.RWMutex
	apps   map[string]*appLog
	closed bool
}

// appLog is one app's ring of complete lines plus the unterminated tail
type appLog struct {
	mutex   sync.RWMutex
	lines   []string
	start   int
	count   int
	partial []byte
	writer  *lumberjack.Logger
	closed  bool
}

// NewLogSink creates a sink; observer may be nil
func NewLogSink(sinkConfig config.LogSinkConfig, observer LineObserver, logger logging.Logger) (LogSink, error) {
	if sinkConfig.MaxLines == 0 {
		sinkConfig.MaxLines = config.DefaultMaxLines
	}
	if err := sinkConfig.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid log sink configuration", err)
	}

	if sinkConfig.Directory != "" {
		if err := os.MkdirAll(sinkConfig.Directory, 0755); err != nil {
			return nil, errors.NewIOError("failed to create log directory", err).WithContext("directory", sinkConfig.Directory)
		}
	}

	return &logSink{
		config:   sinkConfig,
		observer: observer,
		logger:   logger,
		apps:     make(map[string]*appLog),
	}, nil
}

func (s *logSink) filePath(appID string) string {
	return filepath.Join(s.config.Directory, appID+".log")
}

// getApp returns the app log, creating and seeding it from disk on first touch
func (s *logSink) getApp(appID string) (*appLog, error) {
	s.mutex.RLock()
	app, ok := s.apps[appID]
	closed := s.closed
	s.mutex.RUnlock()
	if ok {
		return app, nil
	}
	if closed {
		return nil, errors.NewCancelledError("log sink is closed", nil)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if app, ok = s.apps[appID]; ok {
		return app, nil
	}
	if s.closed {
		return nil, errors.NewCancelledError("log sink is closed", nil)
	}

	app = &appLog{lines: make([]string, s.config.MaxLines)}
	if s.config.Directory != "" {
		path := s.filePath(appID)
		for _, line := range readTail(path, s.config.MaxLines) {
			app.push(line)
		}
		app.writer = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    s.config.Rotation.MaxSizeMB,
			MaxBackups: s.config.Rotation.MaxBackups,
			MaxAge:     s.config.Rotation.MaxAgeDays,
			Compress:   s.config.Rotation.Compress,
		}
	}
	s.apps[appID] = app
	return app, nil
}

func (s *logSink) Append(appID string, data []byte) error {
	app, err := s.getApp(appID)
	if err != nil {
		return err
	}

	app.mutex.Lock()
	if app.closed {
		app.mutex.Unlock()
		return nil
	}

	buffer := append(app.partial, data...)
	var complete []string
	for {
		idx := bytes.IndexByte(buffer, '\n')
		if idx < 0 {
			break
		}
		complete = append(complete, strings.TrimSuffix(string(buffer[:idx]), "\r"))
		buffer = buffer[idx+1:]
	}
	if len(buffer) > maxPartialLine {
		complete = append(complete, string(buffer))
		buffer = nil
	}
	app.partial = append([]byte(nil), buffer...)

	err = s.commit(appID, app, complete)
	app.mutex.Unlock()

	return err
}

func (s *logSink) Logf(appID string, format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format(TimestampLayout), fmt.Sprintf(format, args...))

	app, err := s.getApp(appID)
	if err != nil {
		return
	}

	app.mutex.Lock()
	defer app.mutex.Unlock()
	if app.closed {
		return
	}

	lines := make([]string, 0, 2)
	// keep launcher lines whole even when the process left a line unterminated
	if len(app.partial) > 0 {
		lines = append(lines, strings.TrimSuffix(string(app.partial), "\r"))
		app.partial = nil
	}
	lines = append(lines, line)

	if err := s.commit(appID, app, lines); err != nil {
		s.logger.Warnf("Failed to write launcher log line, app: %s, error: %v", appID, err)
	}
}

// commit pushes complete lines to the ring and the file; the caller holds app.mutex
func (s *logSink) commit(appID string, app *appLog, lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	for _, line := range lines {
		app.push(line)
	}

	var err error
	if app.writer != nil {
		if _, werr := app.writer.Write([]byte(strings.Join(lines, "\n") + "\n")); werr != nil {
			err = errors.NewIOError("failed to write log file", werr).WithContext("app_id", appID)
		}
	}

	if s.observer != nil {
		s.observer(appID, len(lines))
	}
	return err
}

func (s *logSink) Read(appID string, maxLines int) (string, error) {
	if maxLines <= 0 || maxLines > s.config.MaxLines {
		maxLines = s.config.MaxLines
	}

	s.mutex.RLock()
	app, ok := s.apps[appID]
	s.mutex.RUnlock()
	if !ok {
		// reads never register an app; serve the file tail if there is one
		if s.config.Directory == "" {
			return "", nil
		}
		return strings.Join(readTail(s.filePath(appID), maxLines), "\n"), nil
	}

	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return strings.Join(app.tail(maxLines), "\n"), nil
}

func (s *logSink) CollectFromStream(appID string, stream io.ReadCloser) {
	go func() {
		defer stream.Close()

		buffer := make([]byte, readChunkSize)
		for {
			n, err := stream.Read(buffer)
			if n > 0 {
				if appendErr := s.Append(appID, buffer[:n]); appendErr != nil {
					s.logger.Debugf("Failed to append output, app: %s, error: %v", appID, appendErr)
				}
			}
			if err != nil {
				if err != io.EOF {
					s.logger.Debugf("Output stream ended with error, app: %s, error: %v", appID, err)
				}
				break
			}
		}
		s.flushPartial(appID)
	}()
}

// flushPartial commits an unterminated last line once its stream is done
func (s *logSink) flushPartial(appID string) {
	s.mutex.RLock()
	app, ok := s.apps[appID]
	s.mutex.RUnlock()
	if !ok {
		return
	}

	app.mutex.Lock()
	defer app.mutex.Unlock()
	if app.closed || len(app.partial) == 0 {
		return
	}
	line := strings.TrimSuffix(string(app.partial), "\r")
	app.partial = nil
	if err := s.commit(appID, app, []string{line}); err != nil {
		s.logger.Warnf("Failed to flush output, app: %s, error: %v", appID, err)
	}
}

func (s *logSink) Remove(appID string) {
	s.mutex.Lock()
	app, ok := s.apps[appID]
	delete(s.apps, appID)
	s.mutex.Unlock()

	if ok {
		app.close()
	}
}

func (s *logSink) Close() error {
	s.mutex.Lock()
	s.closed = true
	apps := s.apps
	s.apps = make(map[string]*appLog)
	s.mutex.Unlock()

	collection := errors.NewErrorCollection()
	for appID, app := range apps {
		if err := app.close(); err != nil {
			collection.Add(errors.NewIOError("failed to close log file", err).WithContext("app_id", appID))
		}
	}
	return collection.ToError()
}

func (a *appLog) push(line string) {
	capacity := len(a.lines)
	if a.count < capacity {
		a.lines[(a.start+a.count)%capacity] = line
		a.count++
		return
	}
	a.lines[a.start] = line
	a.start = (a.start + 1) % capacity
}

func (a *appLog) tail(n int) []string {
	if n > a.count {
		n = a.count
	}
	capacity := len(a.lines)
	result := make([]string, n)
	first := a.start + a.count - n
	for i := 0; i < n; i++ {
		result[i] = a.lines[(first+i)%capacity]
	}
	return result
}

func (a *appLog) close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.closed = true
	if a.writer != nil {
		return a.writer.Close()
	}
	return nil
}

// readTail returns up to maxLines complete lines from the end of path
func readTail(path string, maxLines int) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.Size() == 0 {
		return nil
	}

	offset := int64(0)
	if info.Size() > maxSeedBytes {
		offset = info.Size() - maxSeedBytes
	}
	data := make([]byte, info.Size()-offset)
	if _, err := file.ReadAt(data, offset); err != nil && err != io.EOF {
		return nil
	}

	if offset > 0 {
		// drop the line cut by the offset
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			data = data[idx+1:]
		}
	}

	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}
	return lines
}
