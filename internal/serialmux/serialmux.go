// Serialmux provides an abstraction over a serial port that turns the byte
// stream into text lines. Every line is delivered in order to the primary
// consumer returned by Lines; any number of best-effort subscribers (the
// debug tail, for example) may watch the same stream.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/imu-logger/internal/httputil"
	"github.com/banshee-data/imu-logger/internal/monitoring"
)

// LineBuffer is the capacity of the primary line channel.
const LineBuffer = 256

// MaxLineLength bounds a single line. Longer lines are dropped up to their
// newline and reading continues.
const MaxLineLength = 64 * 1024

// ErrMonitorStarted is returned when Monitor is called more than once.
var ErrMonitorStarted = errors.New("serial monitor already started")

//go:embed templates/*
var adminTemplateFS embed.FS

var tailTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/tail.html.tmpl"))

// SerialMux is a generic serial port line reader that allows multiple clients to
// subscribe to lines from a single serial port.
type SerialMux[T SerialPorter] struct {
	port         T
	lines        chan string
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	started      atomic.Bool

	linesRead atomic.Uint64
	dropped   atomic.Uint64
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Lines returns the primary line channel. Monitor blocks until each line
	// is taken from it and closes it when it returns.
	Lines() <-chan string
	// Subscribe creates a new channel for receiving line events from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing. Lines are dropped for subscribers that are not ready.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Monitor reads lines from the serial port and sends them to the
	// appropriate channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		lines:       make(chan string, LineBuffer),
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Lines implements SerialMuxInterface.
func (s *SerialMux[T]) Lines() <-chan string {
	return s.lines
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// CleanLine drops invalid UTF-8 sequences and trailing carriage returns from a
// raw line. Garbled bytes from a noisy link never fail a read.
func CleanLine(raw []byte) string {
	raw = bytes.TrimRight(raw, "\r")
	return strings.ToValidUTF8(string(raw), "")
}

// idleReader retries reads that time out without data. Serial ports with a
// read timeout return (0, nil) on a quiet line, which bufio.Reader would
// eventually report as io.ErrNoProgress.
type idleReader struct {
	ctx context.Context
	r   io.Reader
}

func (r idleReader) Read(p []byte) (int, error) {
	for {
		n, err := r.r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
	}
}

// Monitor reads lines from the serial port and hands them to the primary
// consumer and the subscribers until ctx is done or the port fails. It
// returns ctx.Err() on cancellation, the read error on failure, and nil when
// the port reaches EOF.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrMonitorStarted
	}
	defer close(s.lines)

	reader := bufio.NewReaderSize(idleReader{ctx: ctx, r: s.port}, MaxLineLength)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// start a goroutine to read from the serial port & send any lines that are
	// read to lineChan and any errors to the scanErrChan.
	//
	// the blocking read will not interfere with our outer loop awaiting
	// lines & context cancellation.
	go func() {
		defer close(lineChan)
		for {
			raw, err := readLine(reader)
			if len(raw) > 0 || err == nil {
				select {
				case lineChan <- CleanLine(raw):
				case <-ctx.Done():
					return
				}
			}
			if err == nil {
				continue
			}
			if !errors.Is(err, io.EOF) {
				select {
				case scanErrChan <- err:
				case <-ctx.Done():
				}
			}
			return
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return s.readErr(ctx, err)

		case line, ok := <-lineChan:
			// if the channel is closed, we're done reading from the serial port
			if !ok {
				select {
				case err := <-scanErrChan:
					return s.readErr(ctx, err)
				default:
					return nil
				}
			}
			if s.isClosing() {
				return nil
			}

			s.linesRead.Add(1)
			select {
			case s.lines <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
			s.publish(line)
		}
	}
}

// readLine returns the next line without its newline. A final line cut off
// by an error is returned along with the error. Lines longer than the
// reader's buffer are discarded through their newline.
func readLine(r *bufio.Reader) ([]byte, error) {
	for {
		raw, err := r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return bytes.TrimSuffix(raw, []byte("\n")), err
		}

		dropped := len(raw)
		for errors.Is(err, bufio.ErrBufferFull) {
			raw, err = r.ReadSlice('\n')
			dropped += len(bytes.TrimSuffix(raw, []byte("\n")))
		}
		monitoring.Debugf("dropped %d byte line longer than %d bytes", dropped, MaxLineLength)
		if err != nil {
			return nil, err
		}
	}
}

// readErr maps a read error to Monitor's result. Errors caused by Close or
// by cancellation are not read failures.
func (s *SerialMux[T]) readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.isClosing() {
		return nil
	}
	return fmt.Errorf("failed to read serial port: %w", err)
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *SerialMux[T]) publish(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// if the channel is full/blocking skip so as not to block the outer loop
			s.dropped.Add(1)
		}
	}
}

// Stats reports how many lines were read and how many subscriber deliveries
// were dropped.
func (s *SerialMux[T]) Stats() (linesRead, dropped uint64) {
	return s.linesRead.Load(), s.dropped.Load()
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Serial lines read", func() any {
		n, _ := s.Stats()
		return n
	})

	// Live tail page using the SSE endpoint below.
	debug.HandleFunc("serial", "live tail of raw serial lines", func(w http.ResponseWriter, r *http.Request) {
		linesRead, dropped := s.Stats()
		buf := bytes.NewBuffer(nil)
		if err := tailTemplate.Execute(buf, map[string]uint64{
			"LinesRead": linesRead,
			"Dropped":   dropped,
		}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, buf)
	})

	// API endpoint to issue Server-Side Events (SSE) in response to lines coming from the serial port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
