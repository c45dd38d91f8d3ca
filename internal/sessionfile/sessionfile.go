// Package sessionfile persists serialized Instagram session state to disk.
// Each account owns exactly one file; nothing else reads or writes it.
package sessionfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath = errors.New("sessionfile: invalid path")
	ErrNotFound    = errors.New("sessionfile: not found")
	ErrCorrupt     = errors.New("sessionfile: corrupt")
	ErrWriteFailed = errors.New("sessionfile: write failed")
)

const (
	dirPerm  = os.FileMode(0o700)
	filePerm = os.FileMode(0o600)
)

// UUIDs is the device-identity portion of the session state. It must survive
// cookie resets so the service keeps seeing the same device across re-logins.
type UUIDs struct {
	UUID            string `json:"uuid"`
	PhoneID         string `json:"phone_id"`
	DeviceID        string `json:"device_id"`
	AdvertisingID   string `json:"advertising_id"`
	ClientSessionID string `json:"client_session_id"`
}

func (u UUIDs) IsZero() bool {
	return u == UUIDs{}
}

// DeviceSettings describes the emulated mobile device.
type DeviceSettings struct {
	AppVersion     string `json:"app_version,omitempty"`
	AndroidVersion int    `json:"android_version,omitempty"`
	AndroidRelease string `json:"android_release,omitempty"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	Model          string `json:"model,omitempty"`
}

// State is the full serialized session blob. It round-trips through
// Save/Load without loss.
type State struct {
	Username      string            `json:"username,omitempty"`
	UserID        int64             `json:"user_id,omitempty"`
	UUIDs         UUIDs             `json:"uuids"`
	Device        DeviceSettings    `json:"device_settings,omitempty"`
	Authorization string            `json:"authorization,omitempty"`
	Cookies       map[string]string `json:"cookies,omitempty"`
}

// IdentityOnly returns a copy of s with everything session-scoped discarded
// and only the device identity kept.
func (s State) IdentityOnly() State {
	return State{
		Username: s.Username,
		UUIDs:    s.UUIDs,
		Device:   s.Device,
	}
}

// HasCredentialState reports whether the state carries anything that could
// authenticate a request.
func (s State) HasCredentialState() bool {
	return s.Authorization != "" || len(s.Cookies) > 0
}

// Store reads and writes session state files. The zero value is usable.
type Store struct{}

// Load reads the state at path. A missing file yields ErrNotFound; an
// unparseable or empty file yields ErrCorrupt. Both are recoverable
// conditions for the caller.
func (Store) Load(path string) (State, error) {
	normalized, err := normalizePath(path)
	if err != nil {
		return State{}, err
	}
	data, err := os.ReadFile(normalized)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, fmt.Errorf("%w: %s", ErrNotFound, normalized)
		}
		return State{}, fmt.Errorf("sessionfile: read %s: %w", normalized, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return State{}, fmt.Errorf("%w: empty file %s", ErrCorrupt, normalized)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, normalized, err)
	}
	return st, nil
}

// Save writes the state atomically, creating parent directories as needed.
func (Store) Save(path string, st State) error {
	normalized, err := normalizePath(path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionfile: encode %s: %w", normalized, err)
	}
	data = append(data, '\n')
	return writeAtomic(normalized, data)
}

// Touch creates an empty placeholder file when no prior state exists, so the
// account is marked as attempted. Existing content is left alone.
func (Store) Touch(path string) error {
	normalized, err := normalizePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(normalized), dirPerm); err != nil {
		return fmt.Errorf("sessionfile: ensure dir for %s: %w", normalized, err)
	}
	f, err := os.OpenFile(normalized, os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("%w: touch %s: %v", ErrWriteFailed, normalized, err)
	}
	return f.Close()
}

func writeAtomic(path string, content []byte) error {
	parentDir := filepath.Dir(path)
	if err := os.MkdirAll(parentDir, dirPerm); err != nil {
		return fmt.Errorf("sessionfile: ensure dir %s: %w", parentDir, err)
	}

	tmp, err := os.CreateTemp(parentDir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %v", ErrWriteFailed, path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	defer cleanup()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("%w: write temp for %s: %v", ErrWriteFailed, path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync temp for %s: %v", ErrWriteFailed, path, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("%w: chmod temp for %s: %v", ErrWriteFailed, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp for %s: %v", ErrWriteFailed, path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename temp for %s: %v", ErrWriteFailed, path, err)
	}

	// Best effort directory sync for durability; ignore failures.
	if dirFD, err := os.Open(parentDir); err == nil {
		_ = dirFD.Sync()
		_ = dirFD.Close()
	}
	return nil
}

func normalizePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	return filepath.Clean(path), nil
}
