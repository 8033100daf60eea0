// Package checkpoint implements the Checkpoint Manager & Recovery (C5):
// snapshotting working-tree state before each unit and restoring it on
// failure or rollback.
package checkpoint

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agentflow/controlplane/pkg/planning/types"
	"github.com/agentflow/controlplane/pkg/shared/errors"
)

// Manager snapshots a working directory to a tar.gz archive per
// checkpoint and can restore the directory from any recorded snapshot.
// Archiving through the standard library's archive/tar + compress/gzip is
// deliberate: no example repo in the retrieval pack carries a third-party
// archive library.
type Manager struct {
	snapshotDir string
	log         *logrus.Entry

	mu          sync.Mutex
	checkpoints []types.Checkpoint
}

// New builds a Manager storing snapshots under snapshotDir.
func New(snapshotDir string, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{snapshotDir: snapshotDir, log: logger.WithField("component", "checkpoint_manager")}
}

// CreateCheckpoint snapshots workingDir and records a Checkpoint for
// unitID, tagged with an opaque state blob for the caller's own bookkeeping.
func (m *Manager) CreateCheckpoint(workingDir, unitID string, state map[string]interface{}) (types.Checkpoint, error) {
	if err := os.MkdirAll(m.snapshotDir, 0o755); err != nil {
		return types.Checkpoint{}, errors.FailedTo("create checkpoint directory", err)
	}

	id := uuid.NewString()
	archivePath := filepath.Join(m.snapshotDir, id+".tar.gz")

	hash, err := snapshotDirectory(workingDir, archivePath)
	if err != nil {
		return types.Checkpoint{}, errors.FailedToWithDetails("create checkpoint", "checkpoint_manager", unitID, err)
	}

	cp := types.Checkpoint{
		CheckpointID: id,
		Hash:         hash,
		UnitID:       unitID,
		State:        state,
		CreatedAt:    time.Now().UTC(),
	}

	m.mu.Lock()
	m.checkpoints = append(m.checkpoints, cp)
	m.mu.Unlock()

	m.log.WithField("checkpoint_id", id).WithField("unit_id", unitID).Debug("checkpoint created")
	return cp, nil
}

// RestoreCheckpoint reverts workingDir to the snapshot recorded under id.
// Restoration is idempotent: restoring the same checkpoint twice leaves
// the tree in the same state both times.
func (m *Manager) RestoreCheckpoint(workingDir, id string) error {
	archivePath := filepath.Join(m.snapshotDir, id+".tar.gz")
	if _, err := os.Stat(archivePath); err != nil {
		return errors.FailedToWithDetails("restore checkpoint", "checkpoint_manager", id, err)
	}
	if err := clearDirectory(workingDir); err != nil {
		return errors.FailedTo("clear working directory before restore", err)
	}
	if err := extractArchive(archivePath, workingDir); err != nil {
		return errors.FailedToWithDetails("restore checkpoint", "checkpoint_manager", id, err)
	}
	return nil
}

// Checkpoints returns all checkpoints created so far, ordered by creation
// time (oldest first).
func (m *Manager) Checkpoints() []types.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Checkpoint, len(m.checkpoints))
	copy(out, m.checkpoints)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// LastCheckpointForUnit returns the most recent checkpoint recorded for
// unitID, if any.
func (m *Manager) LastCheckpointForUnit(unitID string) (types.Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found types.Checkpoint
	ok := false
	for _, cp := range m.checkpoints {
		if cp.UnitID == unitID {
			found = cp
			ok = true
		}
	}
	return found, ok
}

func snapshotDirectory(srcDir, archivePath string) (string, error) {
	f, err := os.Create(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	gw := gzip.NewWriter(io.MultiWriter(f, hasher))
	tw := tar.NewWriter(gw)

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil))[:16], nil
}

func clearDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o755)
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil { //nolint:gosec
				out.Close()
				return err
			}
			out.Close()
		}
	}
	return nil
}

// ErrNoResolvableCheckpoint names the case where no checkpoint still
// resolves to an archive on disk. No function returns it: rollback
// (Orchestrator.RollbackToCheckpoint) restores the one checkpoint it is
// given and does not walk back through earlier ones.
var ErrNoResolvableCheckpoint = fmt.Errorf("no resolvable checkpoint found")
