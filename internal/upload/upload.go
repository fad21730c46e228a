// Package upload spawns the out-of-scope upload subprocess for a rotated
// output file. The core never awaits completion; at most one previously
// spawned child is reaped on the next call, so uploads never accumulate
// zombies without ever blocking ingestion on a slow uploader.
package upload

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/pavelkim/flowcached/internal/logger"
)

// Uploader spawns upload_key against a rotated file and reaps at most
// one previously-spawned child per call, per spec's suspension-point
// policy: the core continues without awaiting completion.
type Uploader struct {
	uploadKey string
	logger    *logger.Logger

	mu      sync.Mutex
	pending *exec.Cmd
}

// NewUploader creates an uploader that runs uploadKey as a command with
// the rotated file path appended as its sole argument. An empty
// uploadKey disables uploads entirely.
func NewUploader(uploadKey string, log *logger.Logger) *Uploader {
	return &Uploader{uploadKey: uploadKey, logger: log}
}

// Enabled reports whether an upload command is configured.
func (u *Uploader) Enabled() bool {
	return u.uploadKey != ""
}

// Upload reaps the previously spawned child (if any is still running,
// it is not killed — it is simply no longer tracked) and spawns a new
// one for filename.
func (u *Uploader) Upload(filename string) {
	if !u.Enabled() {
		return
	}

	u.mu.Lock()
	prev := u.pending
	u.mu.Unlock()

	if prev != nil {
		go u.reap(prev)
	}

	cmd := exec.Command(u.uploadKey, filename)
	if err := cmd.Start(); err != nil {
		u.logger.Error("upload subprocess failed to start",
			"upload_key", u.uploadKey, "file", filename, "error", err)
		return
	}

	u.logger.Info("upload subprocess spawned",
		"upload_key", u.uploadKey, "file", filename, "pid", cmd.Process.Pid)

	u.mu.Lock()
	u.pending = cmd
	u.mu.Unlock()
}

// reap waits for a previously spawned child to exit, logging its
// outcome. Per spec §7, a child-process failure here is logged and
// never affects the core.
func (u *Uploader) reap(cmd *exec.Cmd) {
	err := cmd.Wait()
	if err != nil {
		u.logger.Warn("upload subprocess exited with error",
			"pid", cmd.Process.Pid, "error", fmt.Errorf("upload failed: %w", err))
		return
	}
	u.logger.Debug("upload subprocess exited", "pid", cmd.Process.Pid)
}

// Close reaps any still-pending child synchronously; used at shutdown so
// the process doesn't exit with an un-reaped grandchild hanging around
// the caller's process group.
func (u *Uploader) Close() {
	u.mu.Lock()
	prev := u.pending
	u.pending = nil
	u.mu.Unlock()

	if prev != nil {
		u.reap(prev)
	}
}
