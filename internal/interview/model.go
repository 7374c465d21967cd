package interview

import (
	"strings"
	"time"
)

// Known interview statuses. The backend may report others.
const (
	StatusPending      = "pending"
	StatusScheduled    = "scheduled"
	StatusTranscribing = "transcribing"
	StatusCompleted    = "completed"
	StatusError        = "error"
	StatusFailed       = "failed"
)

// FileUpload describes the file attached to an interview.
type FileUpload struct {
	FileName   string    `json:"fileName"`
	FileType   string    `json:"fileType,omitempty"`
	FileSize   int64     `json:"fileSize,omitempty"`
	URL        string    `json:"url,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Content is the nested interview payload produced by the pipeline.
type Content struct {
	FileUpload        *FileUpload `json:"fileUpload,omitempty"`
	Transcription     string      `json:"transcription,omitempty"`
	AIDraftID         string      `json:"aiDraftId,omitempty"`
	HasAIDraft        bool        `json:"hasAiDraft"`
	IsFriendInterview bool        `json:"isFriendInterview"`
}

// Interview is one recorded conversation belonging to a session.
type Interview struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Duration     int       `json:"duration,omitempty"`
	Location     string    `json:"location,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	Content      Content   `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// DisplayName returns the interview notes, which the admin UI uses as a title.
func (i Interview) DisplayName() string {
	if name := strings.TrimSpace(i.Notes); name != "" {
		return name
	}
	return i.ID
}

// Finished reports whether the pipeline produced everything it is expected to,
// regardless of the reported status.
func (i Interview) Finished() bool {
	if strings.EqualFold(i.Status, StatusCompleted) {
		return true
	}
	return strings.TrimSpace(i.Content.Transcription) != "" && i.Content.HasAIDraft
}

// Failed reports whether the backend marked the interview as failed.
func (i Interview) Failed() bool {
	switch strings.ToLower(i.Status) {
	case StatusError, StatusFailed:
		return true
	default:
		return false
	}
}

// Preferences captures the client's story and scheduling wishes.
type Preferences struct {
	StoryPreferences string `json:"storyPreferences,omitempty"`
	Scheduling       string `json:"scheduling,omitempty"`
	PriorityLevel    string `json:"priorityLevel,omitempty"`
}

// Contact is one way to reach the client.
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Session is one client's life-story project.
type Session struct {
	ID                   string      `json:"id"`
	ClientName           string      `json:"clientName"`
	ClientAge            int         `json:"clientAge,omitempty"`
	Contact              Contact     `json:"contact"`
	Preferences          Preferences `json:"preferences"`
	Interviews           []Interview `json:"interviews,omitempty"`
	CompletionPercentage float64     `json:"completionPercentage"`
	TotalInterviews      int         `json:"totalInterviews"`
	CompletedInterviews  int         `json:"completedInterviews"`
	TotalDuration        int         `json:"totalDuration"`
	CreatedAt            time.Time   `json:"createdAt"`
}

// Summarize recomputes the derived aggregates from Interviews when the server
// did not supply them.
func (s *Session) Summarize() {
	if s.TotalInterviews == 0 {
		s.TotalInterviews = len(s.Interviews)
	}
	if s.CompletedInterviews == 0 || s.TotalDuration == 0 {
		completed, duration := 0, 0
		for _, iv := range s.Interviews {
			if iv.Finished() {
				completed++
			}
			duration += iv.Duration
		}
		if s.CompletedInterviews == 0 {
			s.CompletedInterviews = completed
		}
		if s.TotalDuration == 0 {
			s.TotalDuration = duration
		}
	}
	if s.CompletionPercentage == 0 && s.TotalInterviews > 0 {
		s.CompletionPercentage = float64(s.CompletedInterviews) * 100 / float64(s.TotalInterviews)
	}
}
