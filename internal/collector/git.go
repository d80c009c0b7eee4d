package collector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/fakeyudi/stopgate/internal/judge"
	"github.com/fakeyudi/stopgate/internal/ledger"
)

// ErrNotRepository is returned when the working directory is not inside a
// git work tree.
var ErrNotRepository = errors.New("not a git repository")

// GitRunner executes a git command and returns its output.
// This abstraction allows mocking in tests.
type GitRunner func(ctx context.Context, workDir string, args ...string) (string, error)

// GitCollector reads workspace change-state through the git CLI.
type GitCollector struct {
	WorkDir string
	Runner  GitRunner // if nil, uses the real git subprocess
}

// defaultGitRunner runs git as a real subprocess.
func defaultGitRunner(ctx context.Context, workDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workDir
	out, err := cmd.Output()
	return string(out), err
}

func (g *GitCollector) run(ctx context.Context, args ...string) (string, error) {
	runner := g.Runner
	if runner == nil {
		runner = defaultGitRunner
	}
	return runner(ctx, g.WorkDir, args...)
}

// checkRepository maps git's exit code 128 to ErrNotRepository.
func (g *GitCollector) checkRepository(ctx context.Context) error {
	if _, err := g.run(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		if isExitCode128(err) {
			return ErrNotRepository
		}
		return err
	}
	return nil
}

// maxUntrackedBytes bounds how much of a new file is read for the diff
// summary. Larger files are listed without line counts.
const maxUntrackedBytes = 1 << 20

// untracked lists files under WorkDir that git neither tracks nor ignores,
// relative to WorkDir.
func (g *GitCollector) untracked(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "ls-files", "--others", "--exclude-standard", "-z")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, p := range strings.Split(out, "\x00") {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// hashFile streams a regular file into h. Files that vanished or are not
// regular contribute nothing beyond their path.
func (g *GitCollector) hashFile(h io.Writer, path string) error {
	full := filepath.Join(g.WorkDir, path)
	info, err := os.Lstat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(h, f)
	return err
}

// Fingerprint hashes the HEAD revision, the porcelain status, the diff
// against HEAD and the contents of untracked files. Equal hashes mean no
// observable workspace change.
func (g *GitCollector) Fingerprint(ctx context.Context) (string, error) {
	if err := g.checkRepository(ctx); err != nil {
		return "", err
	}

	// An unborn branch has no HEAD; status alone still tracks changes.
	head, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		head = ""
	}

	status, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return "", err
	}

	var diff string
	if head != "" {
		if diff, err = g.run(ctx, "diff", "HEAD"); err != nil {
			return "", err
		}
	}

	newFiles, err := g.untracked(ctx)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, part := range []string{strings.TrimSpace(head), status, diff} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	for _, p := range newFiles {
		h.Write([]byte(p))
		h.Write([]byte{0})
		if err := g.hashFile(h, p); err != nil {
			return "", fmt.Errorf("hash %s: %w", p, err)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Diff summarizes uncommitted changes against HEAD, untracked files
// included. It returns nil without error when the working directory is not
// a repository or has no commits.
func (g *GitCollector) Diff(ctx context.Context) (*judge.DiffSummary, error) {
	if err := g.checkRepository(ctx); err != nil {
		if errors.Is(err, ErrNotRepository) {
			return nil, nil
		}
		return nil, err
	}

	numstat, err := g.run(ctx, "diff", "HEAD", "--numstat")
	if err != nil {
		if isExitCode128(err) {
			return nil, nil
		}
		return nil, err
	}
	shortstat, err := g.run(ctx, "diff", "HEAD", "--shortstat")
	if err != nil {
		return nil, err
	}
	patch, err := g.run(ctx, "diff", "HEAD")
	if err != nil {
		return nil, err
	}

	summary := &judge.DiffSummary{
		Files: parseNumstat(numstat),
		Stat:  strings.TrimSpace(shortstat),
		Patch: patch,
	}

	newFiles, err := g.untracked(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range newFiles {
		data, ok := g.readNewFile(p)
		file := judge.DiffFile{Path: p}
		if ok && !isBinary(data) {
			file.Additions = countLines(data)
			if add := newFilePatch(p, data); len(summary.Patch)+len(add) < judge.MaxPatchBytes {
				summary.Patch += add
			}
		}
		summary.Files = append(summary.Files, file)
	}
	if n := len(newFiles); n > 0 {
		untrackedStat := fmt.Sprintf("%d untracked files", n)
		if n == 1 {
			untrackedStat = "1 untracked file"
		}
		if summary.Stat == "" {
			summary.Stat = untrackedStat
		} else {
			summary.Stat += ", " + untrackedStat
		}
	}
	return summary, nil
}

// readNewFile returns a regular file's contents when it is small enough to
// summarize.
func (g *GitCollector) readNewFile(path string) ([]byte, bool) {
	full := filepath.Join(g.WorkDir, path)
	info, err := os.Lstat(full)
	if err != nil || !info.Mode().IsRegular() || info.Size() > maxUntrackedBytes {
		return nil, false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, false
	}
	return data, true
}

// isBinary uses git's heuristic: a NUL byte in the first 8000 bytes.
func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0
}

func countLines(data []byte) int {
	n := bytes.Count(data, []byte{'\n'})
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// newFilePatch renders data as a git-style patch creating path.
func newFilePatch(path string, data []byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "diff --git a/%s b/%s\nnew file mode 100644\n--- /dev/null\n+++ b/%s\n", path, path, path)
	n := countLines(data)
	if n == 0 {
		return sb.String()
	}
	fmt.Fprintf(&sb, "@@ -0,0 +1,%d @@\n", n)
	for _, line := range strings.SplitAfter(string(data), "\n") {
		if line == "" {
			continue
		}
		sb.WriteString("+")
		sb.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			sb.WriteString("\n\\ No newline at end of file\n")
		}
	}
	return sb.String()
}

// parseNumstat reads "added<TAB>deleted<TAB>path" lines. Binary files report
// "-" for both counts and are recorded as zero.
func parseNumstat(output string) []judge.DiffFile {
	lines := strings.Split(output, "\n")
	files := make([]judge.DiffFile, 0, len(lines))
	for _, l := range lines {
		fields := strings.SplitN(l, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		adds, _ := strconv.Atoi(fields[0])
		dels, _ := strconv.Atoi(fields[1])
		files = append(files, judge.DiffFile{Path: fields[2], Additions: adds, Deletions: dels})
	}
	return files
}

// CaptureBaseline snapshots branch, head revision and dirtiness using
// go-git. It returns nil without error outside a repository.
func CaptureBaseline(workDir string, now time.Time) (*ledger.Baseline, error) {
	repo, err := git.PlainOpenWithOptions(workDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, err
	}

	b := &ledger.Baseline{CapturedAt: now.UTC()}

	// An unborn branch has no HEAD yet; leave branch and revision empty.
	if head, err := repo.Head(); err == nil {
		b.BaseRevision = head.Hash().String()
		if head.Name().IsBranch() {
			b.Branch = head.Name().Short()
		} else {
			b.Branch = "HEAD"
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, err
	}
	b.Dirty = !status.IsClean()
	return b, nil
}

// isExitCode128 reports whether err is an *exec.ExitError with exit code 128.
func isExitCode128(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode() == 128
	}
	return false
}
