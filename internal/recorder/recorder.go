// Package recorder writes the transcript of messages that left the overlay
// to rotating JSONL files.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/john/chatoverlay/internal/message"
)

const fileTimeLayout = "20060102_1504"

// Entry is one transcript line.
type Entry struct {
	ID          string         `json:"id"`
	Channel     string         `json:"channel"`
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name,omitempty"`
	Role        message.Role   `json:"role"`
	Text        string         `json:"text"`
	Reason      message.Reason `json:"reason"`
	ArrivedAt   time.Time      `json:"arrived_at"`
	RetiredAt   time.Time      `json:"retired_at"`
}

// NewEntry projects a retired record.
func NewEntry(r message.Record, retiredAt time.Time) Entry {
	return Entry{
		ID:          r.ID,
		Channel:     r.Meta.Channel,
		Username:    r.Meta.Username,
		DisplayName: r.Meta.DisplayName,
		Role:        r.Role,
		Text:        r.Text,
		Reason:      r.Reason,
		ArrivedAt:   r.ArrivedAt.UTC(),
		RetiredAt:   retiredAt.UTC(),
	}
}

// fileWriter manages a single JSONL file
type fileWriter struct {
	file         *os.File
	writer       *bufio.Writer
	createdAt    time.Time
	bytesWritten int64
	buffer       []Entry
	channel      string
	filename     string
}

// Recorder buffers retired records and writes them to disk
type Recorder struct {
	log           *zap.Logger
	outputDir     string
	bufferSize    int
	rotateAfter   time.Duration
	rotateBytes   int64
	checkInterval time.Duration
	now           func() time.Time

	// only touched by the Start goroutine
	current map[string]*fileWriter
}

// New creates a new recorder
func New(log *zap.Logger, outputDir string, bufferSize, rotateMinutes, rotateMegabytes int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Recorder{
		log:           log.Named("recorder"),
		outputDir:     outputDir,
		bufferSize:    bufferSize,
		rotateAfter:   time.Duration(rotateMinutes) * time.Minute,
		rotateBytes:   int64(rotateMegabytes) * 1024 * 1024,
		checkInterval: time.Minute,
		now:           time.Now,
		current:       make(map[string]*fileWriter),
	}
}

// Start records retired messages until ctx is done. Closed files are sent
// on fileChan for upload.
func (r *Recorder) Start(ctx context.Context, records <-chan message.Record, fileChan chan<- string) error {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-records:
			if err := r.record(NewEntry(rec, r.now())); err != nil {
				r.log.Error("record message", zap.String("id", rec.ID), zap.Error(err))
			}

		case <-ticker.C:
			r.checkRotation(fileChan)

		case <-ctx.Done():
			r.log.Info("recorder shutting down, flushing buffers")
			if err := r.flushAll(fileChan); err != nil {
				r.log.Error("flush on shutdown", zap.Error(err))
			}
			return ctx.Err()
		}
	}
}

func (r *Recorder) record(e Entry) error {
	channel := e.Channel
	if channel == "" {
		channel = "unknown"
	}

	fw := r.current[channel]
	if fw == nil {
		var err error
		fw, err = r.createFileWriter(channel)
		if err != nil {
			return fmt.Errorf("create file writer: %w", err)
		}
		r.current[channel] = fw
	}

	fw.buffer = append(fw.buffer, e)
	if len(fw.buffer) >= r.bufferSize {
		if err := r.flushFileWriter(fw); err != nil {
			return fmt.Errorf("flush buffer: %w", err)
		}
	}
	return nil
}

// createFileWriter opens <channel>_<YYYYMMDD_HHMM>.jsonl. When that name is
// taken by an earlier rotation in the same minute a counter is inserted
// before the extension.
func (r *Recorder) createFileWriter(channel string) (*fileWriter, error) {
	now := r.now()
	base := fmt.Sprintf("%s_%s", channel, now.UTC().Format(fileTimeLayout))

	var (
		file     *os.File
		filename string
		err      error
	)
	for n := 1; ; n++ {
		filename = base + ".jsonl"
		if n > 1 {
			filename = fmt.Sprintf("%s.%d.jsonl", base, n)
		}
		file, err = os.OpenFile(filepath.Join(r.outputDir, filename), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create file: %w", err)
		}
	}

	r.log.Info("created transcript file", zap.String("file", filename))

	return &fileWriter{
		file:      file,
		writer:    bufio.NewWriter(file),
		createdAt: now,
		buffer:    make([]Entry, 0, r.bufferSize),
		channel:   channel,
		filename:  filename,
	}, nil
}

// flushFileWriter writes buffered entries to disk
func (r *Recorder) flushFileWriter(fw *fileWriter) error {
	for _, e := range fw.buffer {
		data, err := json.Marshal(e)
		if err != nil {
			r.log.Warn("marshal entry", zap.String("id", e.ID), zap.Error(err))
			continue
		}

		n, err := fw.writer.Write(data)
		if err != nil {
			return fmt.Errorf("write entry: %w", err)
		}
		fw.bytesWritten += int64(n)

		if err := fw.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
		fw.bytesWritten++
	}

	fw.buffer = fw.buffer[:0]
	return fw.writer.Flush()
}

// closeFileWriter flushes and closes fw, collecting every failure.
func (r *Recorder) closeFileWriter(fw *fileWriter) error {
	err := r.flushFileWriter(fw)
	err = multierr.Append(err, fw.file.Close())
	return err
}

func (r *Recorder) checkRotation(fileChan chan<- string) {
	for channel, fw := range r.current {
		reason := ""
		switch {
		case r.rotateAfter > 0 && r.now().Sub(fw.createdAt) >= r.rotateAfter:
			reason = "time limit"
		case r.rotateBytes > 0 && fw.bytesWritten >= r.rotateBytes:
			reason = "size limit"
		}
		if reason == "" {
			continue
		}
		r.log.Info("rotating transcript file", zap.String("file", fw.filename), zap.String("reason", reason))
		r.rotateFile(channel, fw, fileChan)
	}
}

// rotateFile closes fw, queues it for upload and opens a fresh file
func (r *Recorder) rotateFile(channel string, fw *fileWriter, fileChan chan<- string) {
	if err := r.closeFileWriter(fw); err != nil {
		r.log.Error("close file during rotation", zap.String("file", fw.filename), zap.Error(err))
	}
	r.queueUpload(fw, fileChan)

	next, err := r.createFileWriter(channel)
	if err != nil {
		r.log.Error("create file writer", zap.Error(err))
		delete(r.current, channel)
		return
	}
	r.current[channel] = next
}

func (r *Recorder) queueUpload(fw *fileWriter, fileChan chan<- string) {
	if fileChan == nil {
		return
	}
	path := filepath.Join(r.outputDir, fw.filename)
	select {
	case fileChan <- path:
		r.log.Info("queued file for upload", zap.String("file", fw.filename))
	default:
		r.log.Warn("upload queue full, file will be uploaded on next start", zap.String("file", fw.filename))
	}
}

// flushAll closes every open file and queues it for upload
func (r *Recorder) flushAll(fileChan chan<- string) error {
	var errs error
	for channel, fw := range r.current {
		if err := r.closeFileWriter(fw); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", fw.filename, err))
		}
		r.queueUpload(fw, fileChan)
		delete(r.current, channel)
	}
	return errs
}
