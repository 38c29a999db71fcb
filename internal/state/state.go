package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RegistrationRecord records a device token issued to this installation
type RegistrationRecord struct {
	Token        string    `json:"token"`
	Family       string    `json:"family"`
	RegisteredAt time.Time `json:"registered_at"`
	RotatedFrom  string    `json:"rotated_from,omitempty"`
}

// File is the persisted state document.
type File struct {
	InstallationID string               `json:"installation_id"`
	History        []RegistrationRecord `json:"history"`
}

// MaxHistory bounds the number of registration records kept on disk.
const MaxHistory = 20

var (
	mu          sync.Mutex
	dirOverride string
)

const stateFileName = "pushhand_state.json"

// SetDir sets the state directory, taking precedence over PUSHHAND_STATE_DIR.
// An empty dir restores the default lookup.
func SetDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	dirOverride = dir
}

func stateFilePath() string {
	if dirOverride != "" {
		return filepath.Join(dirOverride, stateFileName)
	}
	if dir := os.Getenv("PUSHHAND_STATE_DIR"); dir != "" {
		return filepath.Join(dir, stateFileName)
	}
	// Prefer a persistent location; fall back to the current working dir
	defaultDir := "/var/lib/pushhand"
	if err := os.MkdirAll(defaultDir, 0o755); err == nil {
		return filepath.Join(defaultDir, stateFileName)
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, stateFileName)
	}
	// Last resort: use temp dir
	return filepath.Join(os.TempDir(), stateFileName)
}

// loadUnlocked reads the state file WITHOUT acquiring the package mutex.
func loadUnlocked() (File, error) {
	p := stateFilePath()
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("load state: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return f, nil
}

// saveUnlocked writes the state file WITHOUT acquiring the package mutex.
func saveUnlocked(f File) error {
	p := stateFilePath()
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o640); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// InstallationID returns the persisted installation id, generating and
// saving one on first use.
func InstallationID() (string, error) {
	mu.Lock()
	defer mu.Unlock()
	f, err := loadUnlocked()
	if err != nil {
		return "", err
	}
	if f.InstallationID != "" {
		return f.InstallationID, nil
	}
	f.InstallationID = uuid.NewString()
	if err := saveUnlocked(f); err != nil {
		return "", err
	}
	return f.InstallationID, nil
}

// AddRegistration appends r to the history, dropping the oldest records past
// MaxHistory. The package mutex is held for the read-modify-write cycle.
func AddRegistration(r RegistrationRecord) error {
	mu.Lock()
	defer mu.Unlock()
	f, err := loadUnlocked()
	if err != nil {
		return err
	}
	f.History = append(f.History, r)
	if n := len(f.History); n > MaxHistory {
		f.History = append([]RegistrationRecord(nil), f.History[n-MaxHistory:]...)
	}
	return saveUnlocked(f)
}

// History returns the registration history, oldest first.
func History() ([]RegistrationRecord, error) {
	mu.Lock()
	defer mu.Unlock()
	f, err := loadUnlocked()
	if err != nil {
		return nil, err
	}
	return f.History, nil
}

// LastToken returns the most recent recorded token, or "".
func LastToken() (string, error) {
	h, err := History()
	if err != nil || len(h) == 0 {
		return "", err
	}
	return h[len(h)-1].Token, nil
}

// Sink records every registration in the state file.
type Sink struct {
	now func() time.Time
}

// NewSink returns a push.TokenSink backed by the state file.
func NewSink() *Sink { return &Sink{now: time.Now} }

// Name implements push.TokenSink.
func (s *Sink) Name() string { return "state" }

// StoreToken implements push.TokenSink.
func (s *Sink) StoreToken(_ context.Context, family, token, previous string) error {
	return AddRegistration(RegistrationRecord{
		Token:        token,
		Family:       family,
		RegisteredAt: s.now().UTC(),
		RotatedFrom:  previous,
	})
}
