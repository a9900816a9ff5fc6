// Package attachment writes client supplied attachments into a per-session
// directory so adapters can work from files instead of request payloads.
package attachment

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tokligence/chatstream/internal/chat"
)

// DefaultRoot is used when Config.Root is empty.
const DefaultRoot = "temp_attachments"

const unknownName = "unknown_file"

// Config configures a Materializer.
type Config struct {
	Root   string
	Logger *log.Logger
	// OnError, when set, is called for every attachment that could not be
	// written. The request continues either way.
	OnError func(sessionID, name string, err error)
}

// Materializer decodes base64 attachments to disk. It is safe for concurrent
// use; concurrent requests of one session only ever write the same name once
// per conversation and publish files with an atomic rename.
type Materializer struct {
	root    string
	logger  *log.Logger
	onError func(sessionID, name string, err error)
}

// New returns a Materializer rooted at cfg.Root.
func New(cfg Config) *Materializer {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		root = DefaultRoot
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Materializer{root: root, logger: logger, onError: cfg.OnError}
}

// Root returns the directory holding all session directories.
func (m *Materializer) Root() string { return m.root }

// SessionDir returns the directory used for sessionID. The directory name is
// the hex SHA-256 of the whole id, so distinct ids never share a directory.
func (m *Materializer) SessionDir(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return filepath.Join(m.root, hex.EncodeToString(sum[:]))
}

// Materialize rewrites the attachment descriptors of msgs in place. The first
// occurrence of a name in the conversation decides its path; later occurrences
// reuse it without decoding. When keepContent is false the base64 payload is
// dropped from every descriptor that received a path. Attachments that fail to
// decode or write are logged and left without a path.
func (m *Materializer) Materialize(sessionID string, msgs []chat.Message, keepContent bool) []chat.Message {
	paths := make(map[string]string)
	dirReady := false
	for i := range msgs {
		for j := range msgs[i].Attachments {
			att := &msgs[i].Attachments[j]
			if strings.TrimSpace(att.Name) == "" {
				att.Name = unknownName
			}
			path, ok := paths[att.Name]
			switch {
			case ok:
			case att.FilePath != "":
				path = att.FilePath
				paths[att.Name] = path
			case att.Content != "":
				if !dirReady {
					if err := os.MkdirAll(m.SessionDir(sessionID), 0o755); err != nil {
						m.fail(sessionID, att.Name, fmt.Errorf("create session dir: %w", err))
						continue
					}
					dirReady = true
				}
				written, err := m.write(sessionID, att.Name, att.Content)
				if err != nil {
					m.fail(sessionID, att.Name, err)
					continue
				}
				path = written
				paths[att.Name] = path
			}
			if path == "" {
				continue
			}
			att.FilePath = path
			if !keepContent {
				att.Content = ""
			}
		}
	}
	return msgs
}

// write decodes content into the session directory. A file that already
// exists for the name is reused as is, matching the per-session cache
// semantics of the adapters.
func (m *Materializer) write(sessionID, name, content string) (string, error) {
	path := filepath.Join(m.SessionDir(sessionID), safeName(name))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename: %w", err)
	}
	return path, nil
}

func (m *Materializer) fail(sessionID, name string, err error) {
	m.logger.Printf("attachment.materialize_failed session=%s name=%q err=%v", sessionID, name, err)
	if m.onError != nil {
		m.onError(sessionID, name, err)
	}
}

// Purge removes the session directory and everything in it.
func (m *Materializer) Purge(sessionID string) error {
	err := os.RemoveAll(m.SessionDir(sessionID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("attachment: purge %s: %w", sessionID, err)
	}
	return nil
}

// ReadFile returns the materialized bytes of an attachment.
func ReadFile(att chat.Attachment) ([]byte, error) {
	if att.FilePath == "" {
		return nil, fmt.Errorf("attachment: %q has no file", att.Name)
	}
	return os.ReadFile(att.FilePath)
}

// safeName escapes name into a single path element. Separators are escaped
// rather than stripped so two different names never map to one file, and the
// extension survives for MIME detection.
func safeName(name string) string {
	switch name {
	case "":
		return unknownName
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(name)
}
