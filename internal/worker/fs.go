package worker

import (
	"os"
	"path/filepath"
)

// jobDirOf returns the per-job working directory under jobsDir.
func jobDirOf(jobsDir, jobID string) string {
	return filepath.Join(jobsDir, jobID)
}

// removeJobDir deletes a job's entire working directory. Missing
// directories are not an error — a job that never produced output (e.g.
// failed before its first write) has nothing to remove.
func removeJobDir(jobDir string) error {
	err := os.RemoveAll(jobDir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
