package draft

import "time"

// Actor identifies the admin performing an action.
type Actor struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Identified reports whether the actor carries an ID or email.
func (a Actor) Identified() bool {
	return a.ID != "" || a.Email != ""
}

// DisplayName returns the most readable identifier available.
func (a Actor) DisplayName() string {
	switch {
	case a.Name != "":
		return a.Name
	case a.Email != "":
		return a.Email
	default:
		return a.ID
	}
}

// Note is an admin comment attached to a draft.
type Note struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Section is one titled block of narrative text.
type Section struct {
	Key   string `json:"key"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

// VerificationEntity is a name, place, or date flagged for fact checking.
type VerificationEntity struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Context string `json:"context,omitempty"`
}

// Metadata describes how the draft content was produced.
type Metadata struct {
	WordCount         int       `json:"wordCount,omitempty"`
	AIModel           string    `json:"aiModel,omitempty"`
	RegenerationCount int       `json:"regenerationCount,omitempty"`
	ProcessedAt       time.Time `json:"processedAt"`
}

// Content is the canonical draft payload after boundary normalization.
type Content struct {
	Sections          []Section            `json:"sections,omitempty"`
	Markdown          string               `json:"markdown,omitempty"`
	KeyThemes         []string             `json:"keyThemes,omitempty"`
	FollowUpQuestions []string             `json:"followUpQuestions,omitempty"`
	ToVerify          []VerificationEntity `json:"toVerify,omitempty"`
	Notes             []Note               `json:"notes,omitempty"`
	Metadata          Metadata             `json:"metadata"`
}

// Decision records who finalized a draft, when, and why.
type Decision struct {
	By     string    `json:"by"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Draft is one version of an AI-generated narrative.
type Draft struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId,omitempty"`
	InterviewID string    `json:"interviewId,omitempty"`
	Stage       Stage     `json:"stage"`
	Version     int       `json:"version"`
	Content     Content   `json:"content"`
	Approval    *Decision `json:"approvalMetadata,omitempty"`
	Rejection   *Decision `json:"rejectionMetadata,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers can hand out drafts without sharing slices.
func (d Draft) Clone() Draft {
	out := d
	out.Content.Sections = append([]Section(nil), d.Content.Sections...)
	out.Content.KeyThemes = append([]string(nil), d.Content.KeyThemes...)
	out.Content.FollowUpQuestions = append([]string(nil), d.Content.FollowUpQuestions...)
	out.Content.ToVerify = append([]VerificationEntity(nil), d.Content.ToVerify...)
	out.Content.Notes = append([]Note(nil), d.Content.Notes...)
	if d.Approval != nil {
		approval := *d.Approval
		out.Approval = &approval
	}
	if d.Rejection != nil {
		rejection := *d.Rejection
		out.Rejection = &rejection
	}
	return out
}

// LastGeneratedAt is the timestamp notes are compared against for regeneration.
// It falls back to CreatedAt when the pipeline did not stamp processedAt.
func (d Draft) LastGeneratedAt() time.Time {
	if !d.Content.Metadata.ProcessedAt.IsZero() {
		return d.Content.Metadata.ProcessedAt
	}
	return d.CreatedAt
}
