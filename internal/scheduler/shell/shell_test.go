package shell

import (
	"errors"
	"testing"

	"jobforge/internal/apperrors"
	"jobforge/internal/manager"
)

func TestNewValidatesCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name:    "missing submit command",
			cfg:     Config{CancelCommand: "scancel", QueryCommand: "squeue"},
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "missing cancel command",
			cfg:     Config{SubmitCommand: "sbatch", QueryCommand: "squeue"},
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "missing query command",
			cfg:     Config{SubmitCommand: "sbatch", CancelCommand: "scancel"},
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "absolute path must exist",
			cfg:     Config{SubmitCommand: "/no/such/sbatch", CancelCommand: "scancel", QueryCommand: "squeue"},
			wantErr: apperrors.ErrNotFound,
		},
		{
			name: "relative commands accepted",
			cfg:  Config{SubmitCommand: "sbatch", CancelCommand: "scancel", QueryCommand: "squeue"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tt.cfg)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestChunkSizeDefaults(t *testing.T) {
	t.Parallel()

	s, err := New(Config{
		SubmitCommand: "sbatch",
		CancelCommand: "scancel",
		QueryCommand:  "squeue",
		Chunks:        manager.ChunkSizes{Submit: 100},
	})
	if err != nil {
		t.Fatal(err)
	}

	chunks := s.ChunkSizes()
	if chunks.Submit != 100 {
		t.Errorf("Submit = %d, want explicit 100", chunks.Submit)
	}
	if chunks.Cancel != defaultChunkCancel || chunks.Cleanup != defaultChunkCleanup || chunks.Query != defaultChunkQuery {
		t.Errorf("unset sizes must take defaults, got %+v", chunks)
	}
}

func TestParseJobIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stdout string
		prefix string
		want   []string
	}{
		{
			name:   "prefixed lines",
			stdout: "some banner\nSubmitted batch job 101\nSubmitted batch job 102\n",
			prefix: "Submitted batch job ",
			want:   []string{"101", "102"},
		},
		{
			name:   "no prefix takes all lines",
			stdout: "abc\n\ndef\n",
			want:   []string{"abc", "def"},
		},
		{
			name:   "no matches",
			stdout: "nothing useful\n",
			prefix: "Submitted batch job ",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := parseJobIDs(tt.stdout, tt.prefix)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("id[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseQueryOutput(t *testing.T) {
	t.Parallel()

	s, err := New(Config{
		SubmitCommand: "sbatch",
		CancelCommand: "scancel",
		QueryCommand:  "squeue",
		StatusMap:     map[string]string{"weird": manager.StatusRetry},
	})
	if err != nil {
		t.Fatal(err)
	}

	stdout := "101 RUNNING\n102 COMPLETED 0\n103 FAILED 9 killed by signal\n104 weird\n"
	records, err := parseQueryOutput(stdout, s.statusMap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := records["101"]; got.Status != manager.StatusRunning || got.ExitCode != nil {
		t.Errorf("101 = %+v", got)
	}
	if got := records["102"]; got.Status != manager.StatusFinished || got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("102 = %+v", got)
	}
	got := records["103"]
	if got.Status != manager.StatusFailed || got.ExitCode == nil || *got.ExitCode != 9 {
		t.Errorf("103 = %+v", got)
	}
	if got.Error != "killed by signal" {
		t.Errorf("103 error = %q", got.Error)
	}
	if got := records["104"]; got.Status != manager.StatusRetry {
		t.Errorf("custom status map entry not applied: %+v", got)
	}
}

func TestParseQueryOutputErrors(t *testing.T) {
	t.Parallel()

	s, err := New(Config{SubmitCommand: "sbatch", CancelCommand: "scancel", QueryCommand: "squeue"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := parseQueryOutput("101\n", s.statusMap); !errors.Is(err, apperrors.ErrDecode) {
		t.Errorf("missing state field: got %v, want decode error", err)
	}
	if _, err := parseQueryOutput("101 NO_SUCH_STATE\n", s.statusMap); !errors.Is(err, apperrors.ErrDecode) {
		t.Errorf("unknown state: got %v, want decode error", err)
	}
}

func TestRecordsForFillsMissingJobs(t *testing.T) {
	t.Parallel()

	s, err := New(Config{SubmitCommand: "sbatch", CancelCommand: "scancel", QueryCommand: "squeue"})
	if err != nil {
		t.Fatal(err)
	}

	reported, err := parseQueryOutput("101 RUNNING\n", s.statusMap)
	if err != nil {
		t.Fatal(err)
	}

	records := recordsFor([]string{"101", "102"}, reported)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].JobID != "101" || records[0].Status != manager.StatusRunning {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[1].JobID != "102" || records[1].Status != manager.StatusFailed || records[1].Error == "" {
		t.Errorf("dropped job must come back failed with an error, got %+v", records[1])
	}
}
