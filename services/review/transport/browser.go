// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"

	"github.com/jinterlante1206/reviewd/services/review/review"
	"github.com/jinterlante1206/reviewd/services/review/validate"
)

// continuePrompt is the literal text watched for and replied to under
// the "ask before next chunk" convention.
const continuePrompt = "continue?"

// BrowserConfig configures the interactive web-chat automation realization.
type BrowserConfig struct {
	UserDataDir  string        // exclusive lock held for the run's duration
	ControlURL   string        // ws:// endpoint of the driven browser session
	IdleWindow   time.Duration // DOM-mutation quiet period considered "done streaming"
	UIWaitMax    time.Duration // overall wait before TransportUIFailure
	ComposerSels []string      // resilient selector fallbacks for the composer element
}

func defaultComposerSelectors() []string {
	return []string{
		`textarea[data-testid="chat-composer"]`,
		`div[contenteditable="true"][role="textbox"]`,
		`textarea#prompt-textarea`,
	}
}

// dirLock is a plain advisory lock file, grounded on
// services/trace/lock/manager.go's O_EXCL-based approach but scoped to a
// single path rather than a directory tree.
type dirLock struct {
	path string
	file *os.File
}

func acquireDirLock(userDataDir string) (*dirLock, error) {
	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return nil, review.NewError(review.KindConfigError, "cannot create user-data directory: "+err.Error(), nil)
	}
	lockPath := filepath.Join(userDataDir, ".reviewd.lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, review.NewError(review.KindResourceInUse,
				"browser user-data directory is already locked by another run", map[string]string{"path": userDataDir})
		}
		return nil, review.NewError(review.KindConfigError, "cannot lock user-data directory: "+err.Error(), nil)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &dirLock{path: lockPath, file: f}, nil
}

func (l *dirLock) release() {
	l.file.Close()
	os.Remove(l.path)
}

// BrowserTransport drives a remote browser automation bridge over a
// websocket control channel. A reply counts as complete when the bridge
// marks it done, or when no further control message arrives within
// IdleWindow after some text was received.
type BrowserTransport struct {
	cfg  BrowserConfig
	conn *websocket.Conn
	lock *dirLock
	log  *slog.Logger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

// NewBrowserTransport locks the user-data directory and dials the control
// websocket. Call Close to release both.
func NewBrowserTransport(cfg BrowserConfig, log *slog.Logger) (*BrowserTransport, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = 1500 * time.Millisecond
	}
	if cfg.UIWaitMax <= 0 {
		cfg.UIWaitMax = 3 * time.Minute
	}
	if len(cfg.ComposerSels) == 0 {
		cfg.ComposerSels = defaultComposerSelectors()
	}

	lock, err := acquireDirLock(cfg.UserDataDir)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.Dial(cfg.ControlURL, nil)
	if err != nil {
		lock.release()
		return nil, review.NewError(review.KindTransportUIFailure, "cannot reach browser control channel: "+err.Error(), nil)
	}

	return &BrowserTransport{cfg: cfg, conn: conn, lock: lock, log: log}, nil
}

// controlMessage is the envelope exchanged with the driven browser bridge.
type controlMessage struct {
	Action   string   `json:"action"`
	Text     string   `json:"text,omitempty"`
	Selector []string `json:"selectors,omitempty"`
}

type controlReply struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
	Done   bool   `json:"done,omitempty"`
}

// Exchange implements Transport. It clears the composer, sends the prompt,
// waits for the mutation-idle signal, and extracts the assistant's final
// text block. A reply containing continuePrompt (case-insensitively) is
// answered with "continue" automatically
// before the caller's request is considered complete.
func (b *BrowserTransport) Exchange(ctx context.Context, conv *review.Conversation, req Request) (*Reply, error) {
	b.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	b.cancelFunc = cancel
	b.mu.Unlock()
	defer cancel()

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = b.cfg.UIWaitMax
	}
	ctx, timeoutCancel := context.WithTimeout(ctx, deadline)
	defer timeoutCancel()

	text, err := b.send(ctx, req.Prompt)
	if err != nil {
		return nil, err
	}

	for strings.Contains(strings.ToLower(text), continuePrompt) {
		text, err = b.send(ctx, "continue")
		if err != nil {
			return nil, err
		}
	}

	if req.Mode == ModePlanText {
		return &Reply{Text: text}, nil
	}

	payload, verr := validate.Validate(extractJSONBlock(text))
	if verr != nil {
		return nil, review.NewError(review.KindProtocolViolation,
			"assistant reply did not contain a valid patch envelope", map[string]string{"cause": verr.Error()})
	}
	return &Reply{Patch: payload}, nil
}

func (b *BrowserTransport) send(ctx context.Context, text string) (string, error) {
	if err := b.conn.WriteJSON(controlMessage{Action: "clear_and_send", Text: text, Selector: b.cfg.ComposerSels}); err != nil {
		return "", review.NewError(review.KindTransportUIFailure, "failed to dispatch to composer: "+err.Error(), nil)
	}

	idle := time.NewTimer(b.cfg.IdleWindow)
	defer idle.Stop()
	var last controlReply

	for {
		select {
		case <-ctx.Done():
			return "", review.NewError(review.KindTransportUIFailure, "timed out waiting for assistant reply", nil)
		default:
		}

		b.conn.SetReadDeadline(time.Now().Add(b.cfg.IdleWindow))
		var reply controlReply
		if err := b.conn.ReadJSON(&reply); err != nil {
			if isTimeoutErr(err) {
				if last.Text != "" {
					return last.Text, nil
				}
				continue
			}
			return "", review.NewError(review.KindTransportUIFailure, "lost browser control channel: "+err.Error(), nil)
		}
		if reply.Error != "" {
			return "", review.NewError(review.KindTransportUIFailure, reply.Error, nil)
		}
		last = reply
		if reply.Done {
			return reply.Text, nil
		}
		idle.Reset(b.cfg.IdleWindow)
	}
}

func isTimeoutErr(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// extractJSONBlock returns the span from the first '{' to the last '}' of a
// chat reply, tolerating prose or code-fence wrapping around it; with no
// such span it returns the text unchanged.
func extractJSONBlock(text string) []byte {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return []byte(text)
	}
	return []byte(text[start : end+1])
}

// Cancel implements Transport.
func (b *BrowserTransport) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelFunc != nil {
		b.cancelFunc()
	}
}

// Close implements Transport; releases the control socket and the
// user-data-directory lock so a subsequent run can start.
func (b *BrowserTransport) Close() error {
	err := b.conn.Close()
	b.lock.release()
	return err
}

// watchUserDataDir is retained for a future headless-profile integrity
// check: it would fire if the driven browser process rewrites profile
// files out from under a held lock. Not wired into Exchange yet.
func watchUserDataDir(dir string, log *slog.Logger) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	go func() {
		for event := range w.Events {
			log.Debug("user-data directory changed externally", "event", event.String())
		}
	}()
	return w, nil
}
