package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Clone shallow-clones the branch of a repository into dest.
func Clone(ctx context.Context, repoURL, branch, dest string) error {
	if repoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repoURL, ".")
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dest
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, string(output))
	}
	return nil
}

// CheckoutCommit pins a cloned working tree to an exact commit. The clone
// is shallow, so the commit is fetched explicitly first.
func CheckoutCommit(ctx context.Context, dir, commitSHA string) error {
	if commitSHA == "" {
		return nil
	}
	fetch := exec.CommandContext(ctx, "git", "fetch", "--depth", "1", "origin", commitSHA)
	fetch.Dir = dir
	fetch.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if output, err := fetch.CombinedOutput(); err != nil {
		return fmt.Errorf("git fetch %s failed: %w: %s", commitSHA, err, string(output))
	}
	checkout := exec.CommandContext(ctx, "git", "checkout", commitSHA)
	checkout.Dir = dir
	checkout.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if output, err := checkout.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout %s failed: %w: %s", commitSHA, err, string(output))
	}
	return nil
}

// HeadSHA returns the commit the working tree is currently at.
func HeadSHA(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	sha := string(output)
	for len(sha) > 0 && (sha[len(sha)-1] == '\n' || sha[len(sha)-1] == '\r') {
		sha = sha[:len(sha)-1]
	}
	return sha, nil
}
