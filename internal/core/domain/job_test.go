package domain

import "testing"

func TestJobPercent(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want int
	}{
		{
			name: "mid-flight batch",
			job:  Job{Total: 10, Completed: 7, Failed: 2, Current: "item#8"},
			want: 90,
		},
		{
			name: "untouched batch",
			job:  Job{Total: 10},
			want: 0,
		},
		{
			name: "all attempted",
			job:  Job{Total: 4, Completed: 3, Failed: 1},
			want: 100,
		},
		{
			name: "rounding up",
			job:  Job{Total: 3, Completed: 1},
			want: 33,
		},
		{
			name: "unknown total",
			job:  Job{Total: 0, Completed: 5},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.Percent(); got != tt.want {
				t.Errorf("Percent() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestJobPending(t *testing.T) {
	job := Job{Total: 10, Completed: 7, Failed: 2, Current: "item#8"}
	if got := job.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}

	over := Job{Total: 2, Completed: 2, Failed: 1}
	if got := over.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0 when counts exceed total", got)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	live := []JobStatus{JobStatusProcessing, JobStatusPaused}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
