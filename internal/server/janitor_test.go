// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJanitor_SweepRemovesOnlyExpiredOrphans(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.Janitor.StagingTTL = 30 * time.Minute

	handler := NewHandler(cfg, testLogger(), NewLockRegistry())
	janitor := NewJanitor(cfg, handler, testLogger())

	stagingRoot := filepath.Join(root, stagingDirName)

	mkStaging := func(name string, age time.Duration) string {
		dir := filepath.Join(stagingRoot, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("creating staging dir: %v", err)
		}
		past := time.Now().Add(-age)
		if err := os.Chtimes(dir, past, past); err != nil {
			t.Fatalf("backdating staging dir: %v", err)
		}
		return dir
	}

	oldOrphan := mkStaging("dead-session-old", 2*time.Hour)
	freshOrphan := mkStaging("dead-session-fresh", 5*time.Minute)
	liveOld := mkStaging("live-session", 2*time.Hour)
	handler.liveSessions.Store("live-session", time.Now())

	janitor.Sweep()

	if _, err := os.Stat(oldOrphan); !os.IsNotExist(err) {
		t.Error("expired orphan staging must be removed")
	}
	if _, err := os.Stat(freshOrphan); err != nil {
		t.Error("fresh orphan staging must survive (within TTL)")
	}
	if _, err := os.Stat(liveOld); err != nil {
		t.Error("live session staging must never be removed")
	}
}

func TestJanitor_SweepNoStagingRoot(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	handler := NewHandler(cfg, testLogger(), NewLockRegistry())
	janitor := NewJanitor(cfg, handler, testLogger())

	// Sem .staging criado: sweep é um no-op silencioso
	janitor.Sweep()
}
