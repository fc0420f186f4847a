// Package shell implements the manager.Scheduler interface by shelling out to
// a configured set of scheduler commands, in the style of sbatch/scancel/squeue.
// Chunking is supported natively: a chunk of job files or ids is appended to a
// single command invocation.
package shell

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"jobforge/internal/apperrors"
	"jobforge/internal/manager"

	"github.com/gvallee/go_exec/pkg/advexec"
	"github.com/gvallee/go_util/pkg/util"
)

// Default chunk sizes for command-line schedulers. A single invocation can
// carry many files or ids, but command lines have limits.
const (
	defaultChunkSubmit  = 25
	defaultChunkCancel  = 25
	defaultChunkCleanup = 25
	defaultChunkQuery   = 20
)

// Config describes the external scheduler commands.
type Config struct {
	SubmitCommand  string   // Required. Job files are appended to the args.
	SubmitArgs     []string
	CancelCommand  string   // Required. Job ids are appended to the args.
	CancelArgs     []string
	CleanupCommand string   // Optional. Empty makes cleanup a no-op.
	CleanupArgs    []string
	QueryCommand   string   // Required. Job ids are appended to the args.
	QueryArgs      []string

	WorkDir string // Directory the commands run in (default: current)

	// JobIDPrefix selects stdout lines carrying a submitted job id, e.g.
	// "Submitted batch job ". Empty takes every non-empty line as an id.
	JobIDPrefix string

	// StatusMap translates raw scheduler state tokens to common statuses.
	// Entries are merged over the built-in defaults.
	StatusMap map[string]string

	Chunks manager.ChunkSizes // Zero fields fall back to the defaults above
}

// Scheduler implements manager.Scheduler on top of external commands.
type Scheduler struct {
	cfg       Config
	chunks    manager.ChunkSizes
	statusMap map[string]string
}

// New validates the command configuration and returns a shell scheduler.
func New(cfg Config) (*Scheduler, error) {
	for _, c := range []struct {
		name, path string
	}{
		{"submit command", cfg.SubmitCommand},
		{"cancel command", cfg.CancelCommand},
		{"query command", cfg.QueryCommand},
	} {
		if c.path == "" {
			return nil, apperrors.Validation(c.name, fmt.Sprintf("%s is required", c.name))
		}
		if filepath.IsAbs(c.path) && !util.FileExists(c.path) {
			return nil, apperrors.NotFound(c.name, c.path)
		}
	}

	chunks := cfg.Chunks
	if chunks.Submit == 0 {
		chunks.Submit = defaultChunkSubmit
	}
	if chunks.Cancel == 0 {
		chunks.Cancel = defaultChunkCancel
	}
	if chunks.Cleanup == 0 {
		chunks.Cleanup = defaultChunkCleanup
	}
	if chunks.Query == 0 {
		chunks.Query = defaultChunkQuery
	}

	statusMap := make(map[string]string, len(defaultStatusMap)+len(cfg.StatusMap))
	for k, v := range defaultStatusMap {
		statusMap[k] = v
	}
	for k, v := range cfg.StatusMap {
		statusMap[strings.ToUpper(k)] = v
	}

	return &Scheduler{cfg: cfg, chunks: chunks, statusMap: statusMap}, nil
}

// ChunkSizes reports the configured per-operation chunk sizes.
func (s *Scheduler) ChunkSizes() manager.ChunkSizes {
	return s.chunks
}

// Submit passes the job files to the submit command in one invocation and
// parses the produced job ids from stdout.
func (s *Scheduler) Submit(ctx context.Context, jobFiles []string) ([]string, error) {
	stdout, err := s.run(ctx, s.cfg.SubmitCommand, s.cfg.SubmitArgs, jobFiles)
	if err != nil {
		return nil, apperrors.Internal("shell.submit", err)
	}

	ids := parseJobIDs(stdout, s.cfg.JobIDPrefix)
	if len(ids) != len(jobFiles) {
		return nil, apperrors.Internal("shell.submit",
			fmt.Errorf("submitted %d job files but parsed %d job ids", len(jobFiles), len(ids)))
	}
	return ids, nil
}

// Cancel passes the job ids to the cancel command in one invocation.
func (s *Scheduler) Cancel(ctx context.Context, jobIDs []string) error {
	if _, err := s.run(ctx, s.cfg.CancelCommand, s.cfg.CancelArgs, jobIDs); err != nil {
		return apperrors.Internal("shell.cancel", err)
	}
	return nil
}

// Cleanup passes the job ids to the cleanup command, if one is configured.
func (s *Scheduler) Cleanup(ctx context.Context, jobIDs []string) error {
	if s.cfg.CleanupCommand == "" {
		return nil
	}
	if _, err := s.run(ctx, s.cfg.CleanupCommand, s.cfg.CleanupArgs, jobIDs); err != nil {
		return apperrors.Internal("shell.cleanup", err)
	}
	return nil
}

// Query passes the job ids to the query command and parses one status line per
// reported job. Jobs the scheduler no longer reports come back as failed.
func (s *Scheduler) Query(ctx context.Context, jobIDs []string) ([]manager.StatusRecord, error) {
	stdout, err := s.run(ctx, s.cfg.QueryCommand, s.cfg.QueryArgs, jobIDs)
	if err != nil {
		return nil, apperrors.Internal("shell.query", err)
	}

	reported, err := parseQueryOutput(stdout, s.statusMap)
	if err != nil {
		return nil, err
	}

	return recordsFor(jobIDs, reported), nil
}

// recordsFor aligns parsed records with the queried ids. Jobs the scheduler no
// longer knows become failed records.
func recordsFor(jobIDs []string, reported map[string]manager.StatusRecord) []manager.StatusRecord {
	records := make([]manager.StatusRecord, 0, len(jobIDs))
	for _, id := range jobIDs {
		if record, ok := reported[id]; ok {
			records = append(records, record)
			continue
		}
		records = append(records, manager.StatusRecord{
			JobID:  id,
			Status: manager.StatusFailed,
			Error:  "job not reported by scheduler",
		})
	}
	return records
}

func (s *Scheduler) run(ctx context.Context, bin string, args, tail []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var cmd advexec.Advcmd
	cmd.BinPath = bin
	cmd.CmdArgs = append(cmd.CmdArgs, args...)
	cmd.CmdArgs = append(cmd.CmdArgs, tail...)
	cmd.ExecDir = s.cfg.WorkDir

	res := cmd.Run()
	if res.Err != nil {
		return "", fmt.Errorf("%s failed: %w (stderr: %s)", bin, res.Err, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// parseJobIDs extracts job ids from submit command output. With a prefix, only
// lines carrying it count and the id is what follows. Without one, every
// non-empty line is an id.
func parseJobIDs(stdout, prefix string) []string {
	var ids []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if prefix != "" {
			if !strings.HasPrefix(line, prefix) {
				continue
			}
			line = strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
		ids = append(ids, line)
	}
	return ids
}

// parseQueryOutput reads "<id> <state> [<exit code>] [<error...>]" lines.
func parseQueryOutput(stdout string, statusMap map[string]string) (map[string]manager.StatusRecord, error) {
	records := make(map[string]manager.StatusRecord)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, apperrors.Decode("shell.parseQuery",
				fmt.Sprintf("malformed status line %q, want '<id> <state> [<exit code>] [<error>]'", line))
		}

		record := manager.StatusRecord{JobID: fields[0]}

		status, ok := statusMap[strings.ToUpper(fields[1])]
		if !ok {
			return nil, apperrors.Decode("shell.parseQuery",
				fmt.Sprintf("unknown scheduler state %q for job %s", fields[1], fields[0]))
		}
		record.Status = status

		rest := fields[2:]
		if len(rest) > 0 {
			if code, err := strconv.Atoi(rest[0]); err == nil {
				record.ExitCode = &code
				rest = rest[1:]
			}
		}
		if len(rest) > 0 {
			record.Error = strings.Join(rest, " ")
		}

		records[record.JobID] = record
	}
	return records, nil
}

// defaultStatusMap covers common slurm and htcondor state tokens.
var defaultStatusMap = map[string]string{
	"PENDING":    manager.StatusPending,
	"PD":         manager.StatusPending,
	"IDLE":       manager.StatusPending,
	"QUEUED":     manager.StatusPending,
	"RUNNING":    manager.StatusRunning,
	"R":          manager.StatusRunning,
	"COMPLETING": manager.StatusRunning,
	"COMPLETED":  manager.StatusFinished,
	"CD":         manager.StatusFinished,
	"DONE":       manager.StatusFinished,
	"REQUEUED":   manager.StatusRetry,
	"RQ":         manager.StatusRetry,
	"HELD":       manager.StatusRetry,
	"RETRY":      manager.StatusRetry,
	"FAILED":     manager.StatusFailed,
	"F":          manager.StatusFailed,
	"CANCELLED":  manager.StatusFailed,
	"CA":         manager.StatusFailed,
	"TIMEOUT":    manager.StatusFailed,
	"REMOVED":    manager.StatusFailed,
}
