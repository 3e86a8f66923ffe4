// Package env captures a snapshot of the execution environment: host,
// runtime, build dependencies, and the git revision of the working directory.
//
// Snapshots are JSON-like mappings deduplicated by their own fingerprint, so
// a cluster of identical workers stores the environment once. A Collector is
// held explicitly by the caller and gathered lazily; there is no ambient
// process-global cache.
package env

import (
	"os"
	"runtime"
	"runtime/debug"
	"sync"

	gogit "github.com/go-git/go-git/v5"
)

// Collector lazily gathers one environment snapshot and caches it until
// Invalidate is called.
type Collector struct {
	// Dir is where to look for an enclosing git repository. Defaults to the
	// working directory.
	Dir string

	mu       sync.Mutex
	snapshot map[string]any
}

// Snapshot returns the environment mapping, gathering it on first use.
func (c *Collector) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		c.snapshot = gather(c.Dir)
	}
	return c.snapshot
}

// Invalidate drops the cached snapshot so the next Snapshot call gathers a
// fresh one.
func (c *Collector) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}

func gather(dir string) map[string]any {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	hostname, _ := os.Hostname()
	executable, _ := os.Executable()
	cwd, _ := os.Getwd()
	snapshot := map[string]any{
		"hostname":   hostname,
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
		"executable": executable,
		"cwd":        cwd,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		snapshot["main_module"] = info.Main.Path
		deps := make([]any, 0, len(info.Deps))
		for _, dep := range info.Deps {
			deps = append(deps, map[string]any{
				"path":    dep.Path,
				"version": dep.Version,
			})
		}
		snapshot["dependencies"] = deps
	}
	if revision, dirty, ok := gitState(dir); ok {
		snapshot["git_revision"] = revision
		snapshot["git_dirty"] = dirty
	}
	return snapshot
}

// gitState returns the HEAD revision and dirty flag of the repository
// enclosing dir, if there is one.
func gitState(dir string) (revision string, dirty, ok bool) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", false, false
	}
	head, err := repo.Head()
	if err != nil {
		return "", false, false
	}
	revision = head.Hash().String()
	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			dirty = !status.IsClean()
		}
	}
	return revision, dirty, true
}
