package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-ci/stagehand/executor"
	"github.com/stagehand-ci/stagehand/pipeline"
)

// initSourceRepo creates a local repository with one commit and returns its
// path, usable as a clone URL.
func initSourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# app\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func TestCheckoutBuiltin(t *testing.T) {
	src := initSourceRepo(t)
	work := t.TempDir()

	exec := executor.New(executor.WithWorkDir(work))
	step := pipeline.Step{Uses: "checkout", With: map[string]string{"url": src, "dir": "src"}}

	res, err := exec.Execute(context.Background(), step)
	require.NoError(t, err)
	require.True(t, res.Succeeded(), res.Output)

	assert.FileExists(t, filepath.Join(work, "src", "README.md"))
	assert.Contains(t, res.Output, "checked out")
}

func TestCheckoutBuiltinRequiresURL(t *testing.T) {
	exec := executor.New(executor.WithWorkDir(t.TempDir()))
	res, err := exec.Execute(context.Background(), pipeline.Step{Uses: "checkout"})

	require.NoError(t, err)
	assert.False(t, res.Succeeded())
}

func TestCheckoutBuiltinBadRemoteFails(t *testing.T) {
	exec := executor.New(executor.WithWorkDir(t.TempDir()))
	step := pipeline.Step{Uses: "checkout", With: map[string]string{
		"url": filepath.Join(t.TempDir(), "nope"),
		"dir": "src",
	}}

	// An unreachable remote is an ordinary step failure, not a fault.
	res, err := exec.Execute(context.Background(), step)
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
}
