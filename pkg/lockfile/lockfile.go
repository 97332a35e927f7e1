// Package lockfile guards a job's working directory against concurrent runs.
//
// The lock is a small JSON file created with O_EXCL. The holder refreshes its
// timestamp on a heartbeat. A lock whose timestamp is older than staleTimeout
// (a crashed or killed run) is taken over with an atomic rename, and the
// taker reads the file back to make sure its own nonce won.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/portal-backup/pkg/plog"
	"github.com/paulschiretz/portal-backup/pkg/util"
)

// LockFileName is created in the locked directory. The '~' prefix marks it as temporary.
const LockFileName = ".~portal-backup.lock"

// LockContent is the JSON document stored in the lock file.
type LockContent struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	AppID      string    `json:"appID"`
	Started    time.Time `json:"started"`
	LastUpdate time.Time `json:"lastUpdate"`
	Nonce      string    `json:"nonce,omitempty"`
}

// ErrLockActive is returned when another live run holds the lock.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	AppID     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("lock is active, held by PID %d on host '%s' (%s), last updated %s ago", e.PID, e.Hostname, e.AppID, e.TimeSince.Truncate(time.Second))
}

var (
	// ErrLostRace is returned when another process took over a stale lock first.
	ErrLostRace = errors.New("lost race during stale lock takeover")
	// ErrCorruptLockFile indicates a lock file that stays empty or holds invalid JSON.
	ErrCorruptLockFile = errors.New("lock file is corrupt or empty")
)

// Vars so tests can shorten them.
var (
	heartbeatInterval = 1 * time.Minute
	staleTimeout      = 3 * heartbeatInterval
	acquireAttempts   = 3
	retryDelay        = 100 * time.Millisecond
)

// Locker acquires locks and reports what it does to its logger.
type Locker struct {
	logger *slog.Logger
}

// New returns a Locker. A nil logger uses the process default.
func New(logger *slog.Logger) *Locker {
	return &Locker{logger: plog.OrDefault(logger)}
}

// Lock is a held lock. Release it when the run ends.
type Lock struct {
	path    string
	logger  *slog.Logger
	content LockContent

	stop chan struct{}
	done chan struct{}

	mu   sync.Mutex
	held bool
}

// Path returns the absolute path of the lock file.
func (l *Lock) Path() string { return l.path }

// Acquire takes the lock for dirPath.
// ctx bounds the acquisition, the heartbeat runs until Release.
// It returns *ErrLockActive when a live run holds the lock.
func (lk *Locker) Acquire(ctx context.Context, dirPath, appID string) (*Lock, error) {
	absLockFilePath := filepath.Join(dirPath, LockFileName)

	for range acquireAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := lk.tryCreate(absLockFilePath, appID)
		if err == nil {
			return lk.start(lock), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		content, readErr := readLockContentSafely(absLockFilePath)
		switch {
		case readErr == nil:
			elapsed := time.Since(content.LastUpdate)
			if elapsed < staleTimeout {
				return nil, &ErrLockActive{PID: content.PID, Hostname: content.Hostname, AppID: content.AppID, TimeSince: elapsed}
			}
			lk.logger.Warn("Found stale lock, attempting takeover", "path", absLockFilePath, "pid", content.PID, "host", content.Hostname, "age", elapsed.Truncate(time.Second))
		case errors.Is(readErr, ErrCorruptLockFile):
			lk.logger.Warn("Found corrupt lock file, treating as stale", "path", absLockFilePath, "error", readErr)
		case os.IsNotExist(readErr):
			// Released between our create and our read, just try again.
			continue
		default:
			lk.logger.Debug("Could not read lock file, retrying", "path", absLockFilePath, "error", readErr)
			sleepCtx(ctx, retryDelay)
			continue
		}

		lock, err = lk.takeover(absLockFilePath, appID)
		if err != nil {
			if errors.Is(err, ErrLostRace) {
				lk.logger.Debug("Lock takeover race lost, retrying acquisition")
			} else {
				lk.logger.Warn("Failed to take over lock, retrying", "error", err)
			}
			sleepCtx(ctx, retryDelay)
			continue
		}
		return lk.start(lock), nil
	}

	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", acquireAttempts)
}

// tryCreate only succeeds if no lock file exists.
func (lk *Locker) tryCreate(absLockFilePath, appID string) (*Lock, error) {
	f, err := os.OpenFile(absLockFilePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := newContent(appID)
	if err != nil {
		os.Remove(absLockFilePath)
		return nil, err
	}
	if err := writeLockContent(f, content); err != nil {
		os.Remove(absLockFilePath)
		return nil, err
	}
	return lk.newLock(absLockFilePath, content), nil
}

// takeover replaces a stale or corrupt lock and verifies by reading it back.
func (lk *Locker) takeover(absLockFilePath, appID string) (*Lock, error) {
	content, err := newContent(appID)
	if err != nil {
		return nil, err
	}
	if err := updateLockFileAtomic(absLockFilePath, content); err != nil {
		return nil, err
	}

	readback, err := readLockContentSafely(absLockFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if readback.PID != content.PID || readback.Nonce != content.Nonce {
		return nil, ErrLostRace
	}
	lk.logger.Debug("Took over stale lock", "path", absLockFilePath)
	return lk.newLock(absLockFilePath, content), nil
}

func (lk *Locker) newLock(absLockFilePath string, content LockContent) *Lock {
	return &Lock{
		path:    absLockFilePath,
		logger:  lk.logger,
		content: content,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		held:    true,
	}
}

func (lk *Locker) start(l *Lock) *Lock {
	cleanupTempLockFiles(l.path, lk.logger)
	lk.logger.Debug("Lock acquired", "path", l.path, "app", l.content.AppID)
	go l.heartbeat()
	return l
}

// Release stops the heartbeat and removes the lock file. Safe to call more than once.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	close(l.stop)
	<-l.done

	if err := os.Remove(l.path); err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("Failed to remove lock file", "path", l.path, "error", err)
		}
	} else {
		l.logger.Debug("Lock released", "path", l.path)
	}
	l.held = false
}

func (l *Lock) heartbeat() {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.content.LastUpdate = time.Now().UTC()
			if err := updateLockFileAtomic(l.path, l.content); err != nil {
				// Keep going, the next tick may succeed.
				l.logger.Warn("Heartbeat failed to update lock file", "path", l.path, "error", err)
			}
		}
	}
}

func newContent(appID string) (LockContent, error) {
	nonce, err := generateNonce()
	if err != nil {
		return LockContent{}, err
	}
	hostname, err := os.Hostname()
	if err != nil {
		return LockContent{}, fmt.Errorf("failed to get hostname: %w", err)
	}
	now := time.Now().UTC()
	return LockContent{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		AppID:      appID,
		Started:    now,
		LastUpdate: now,
		Nonce:      nonce,
	}, nil
}

// updateLockFileAtomic writes content to a temp file in the same directory
// and renames it over absLockFilePath, so readers never see a partial file.
func updateLockFileAtomic(absLockFilePath string, content LockContent) error {
	tmpF, err := os.CreateTemp(filepath.Dir(absLockFilePath), filepath.Base(absLockFilePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	tmpName := tmpF.Name()
	// A no-op after a successful rename.
	defer os.Remove(tmpName)

	if err := writeLockContent(tmpF, content); err != nil {
		tmpF.Close()
		return err
	}
	if err := tmpF.Sync(); err != nil {
		tmpF.Close()
		return fmt.Errorf("failed to sync temp lock file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpF.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}
	if err := os.Rename(tmpName, absLockFilePath); err != nil {
		return fmt.Errorf("failed to rename temp file to lock file: %w", err)
	}
	return nil
}

// cleanupTempLockFiles removes temp files left by crashed heartbeats. Only
// files older than staleTimeout are touched, a live holder may be writing one.
func cleanupTempLockFiles(absLockFilePath string, logger *slog.Logger) {
	pattern := filepath.Join(filepath.Dir(absLockFilePath), filepath.Base(absLockFilePath)+".*.tmp")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		logger.Warn("Failed to glob for temporary lock files", "pattern", pattern, "error", err)
		return
	}

	threshold := time.Now().Add(-staleTimeout)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		logger.Debug("Removing old temporary lock file", "path", match)
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove leftover temporary lock file", "path", match, "error", err)
		}
	}
}

func generateNonce() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return id.String(), nil
}

func writeLockContent(w io.Writer, content LockContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readLockContentSafely retries a few times on empty or invalid content,
// which a reader can observe on filesystems without atomic rename.
func readLockContentSafely(absLockFilePath string) (LockContent, error) {
	var lastErr error
	for range 3 {
		data, err := os.ReadFile(absLockFilePath)
		if err != nil {
			return LockContent{}, err
		}
		if len(data) == 0 {
			lastErr = errors.New("lock file is empty")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		var content LockContent
		if lastErr = json.Unmarshal(data, &content); lastErr != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		return content, nil
	}
	return LockContent{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
