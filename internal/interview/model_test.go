package interview

import "testing"

func TestFinished(t *testing.T) {
	tests := []struct {
		name string
		iv   Interview
		want bool
	}{
		{name: "completed status", iv: Interview{Status: "Completed"}, want: true},
		{name: "artifacts present", iv: Interview{Status: "transcribing", Content: Content{Transcription: "hello", HasAIDraft: true}}, want: true},
		{name: "transcription only", iv: Interview{Status: "transcribing", Content: Content{Transcription: "hello"}}, want: false},
		{name: "pending", iv: Interview{Status: "pending"}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.iv.Finished(); got != tc.want {
				t.Fatalf("Finished() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Session{Interviews: []Interview{
		{Status: StatusCompleted, Duration: 30},
		{Status: StatusPending, Duration: 0},
		{Status: StatusCompleted, Duration: 45},
		{Status: StatusScheduled},
	}}
	s.Summarize()
	if s.TotalInterviews != 4 || s.CompletedInterviews != 2 || s.TotalDuration != 75 {
		t.Fatalf("aggregates = %+v", s)
	}
	if s.CompletionPercentage != 50 {
		t.Fatalf("completion = %v, want 50", s.CompletionPercentage)
	}
}

func TestDisplayNameFallsBackToID(t *testing.T) {
	if got := (Interview{ID: "iv-1"}).DisplayName(); got != "iv-1" {
		t.Fatalf("DisplayName = %q", got)
	}
	if got := (Interview{ID: "iv-1", Notes: " Childhood "}).DisplayName(); got != "Childhood" {
		t.Fatalf("DisplayName = %q", got)
	}
}
