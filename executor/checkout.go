package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/stagehand-ci/stagehand/fault"
)

// checkoutAction clones a git repository into the workspace. Arguments:
//
//	url  (required) clone URL; https://, ssh:// or a local path
//	ref  (optional) branch name, tag name, or fully-qualified ref
//	dir  (optional) target directory relative to the workspace
//
// Clone failures (unreachable remote, unknown ref) are ordinary step
// failures, not executor faults.
func checkoutAction(ctx context.Context, inv Invocation) (string, error) {
	url := inv.Arg("url")
	if url == "" {
		return "", fault.New(fault.CodeExecutionFailed, "checkout: url argument is required")
	}

	dir := inv.WorkDir
	if sub := inv.Arg("dir"); sub != "" {
		dir = filepath.Join(inv.WorkDir, filepath.FromSlash(sub))
	}

	opts := &git.CloneOptions{URL: url}
	if ref := inv.Arg("ref"); ref != "" {
		opts.ReferenceName = refName(ref)
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return "", fault.Wrap(err, fault.CodeExecutionFailed, "checkout: cloning %s", url)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fault.Wrap(err, fault.CodeExecutionFailed, "checkout: resolving HEAD of %s", url)
	}

	line := fmt.Sprintf("checked out %s at %s\n", url, head.Hash())
	if inv.Output != nil {
		fmt.Fprint(inv.Output, line)
	}
	return line, nil
}

// refName maps a user-supplied ref to a qualified reference name. Short
// names are assumed to be branches; tags must be given as refs/tags/<name>.
func refName(ref string) plumbing.ReferenceName {
	if strings.HasPrefix(ref, "refs/") {
		return plumbing.ReferenceName(ref)
	}
	return plumbing.NewBranchReferenceName(ref)
}
