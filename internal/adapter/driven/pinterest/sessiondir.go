package pinterest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/moodlink/internal/domain/port/driven"
)

// storedSession is the on-disk form of one user's session.
type storedSession struct {
	Username string         `json:"username"`
	Cookies  []brokerCookie `json:"cookies"`
}

// sessionDir keeps one file per user so cookie jars outlive the process.
// File contents are sealed with cipher when one is set.
type sessionDir struct {
	root   string
	cipher driven.SecretCipher
}

func newSessionDir(root string, cipher driven.SecretCipher) (*sessionDir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir %s: %w", root, err)
	}
	return &sessionDir{root: root, cipher: cipher}, nil
}

// path encodes userID so it can never escape root.
func (d *sessionDir) path(userID string) string {
	return filepath.Join(d.root, base64.RawURLEncoding.EncodeToString([]byte(userID))+".session")
}

func (d *sessionDir) save(userID string, s storedSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	content := string(raw)
	if d.cipher != nil {
		if content, err = d.cipher.Seal(content); err != nil {
			return fmt.Errorf("seal session: %w", err)
		}
	}
	if err := atomic.WriteFile(d.path(userID), strings.NewReader(content)); err != nil {
		return fmt.Errorf("write session for %q: %w", userID, err)
	}
	return nil
}

// load returns the stored session for userID; ok is false when none exists.
func (d *sessionDir) load(userID string) (storedSession, bool, error) {
	raw, err := os.ReadFile(d.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return storedSession{}, false, nil
	}
	if err != nil {
		return storedSession{}, false, fmt.Errorf("read session for %q: %w", userID, err)
	}

	content := string(raw)
	if d.cipher != nil {
		if content, err = d.cipher.Open(content); err != nil {
			return storedSession{}, false, fmt.Errorf("open session for %q: %w", userID, err)
		}
	}
	var s storedSession
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return storedSession{}, false, fmt.Errorf("decode session for %q: %w", userID, err)
	}
	return s, len(s.Cookies) > 0, nil
}

func (d *sessionDir) remove(userID string) error {
	if err := os.Remove(d.path(userID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session for %q: %w", userID, err)
	}
	return nil
}
