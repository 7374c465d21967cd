package storyapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"lifestory/internal/draft"
	"lifestory/internal/interview"
	"lifestory/internal/services"
)

// object is a decoded JSON object with lookups over alternate key spellings.
type object map[string]json.RawMessage

func decodeObject(raw json.RawMessage) (object, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var o object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, false
	}
	return o, true
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func (o object) raw(keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := o[k]; ok && !isNull(v) {
			return v
		}
	}
	return nil
}

func (o object) has(keys ...string) bool {
	return o.raw(keys...) != nil
}

func (o object) obj(keys ...string) object {
	child, _ := decodeObject(o.raw(keys...))
	return child
}

func (o object) str(keys ...string) string {
	for _, k := range keys {
		if s, ok := scalarString(o[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

func (o object) int(keys ...string) int {
	for _, k := range keys {
		s, ok := scalarString(o[k])
		if !ok || s == "" {
			continue
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return int(n)
		}
	}
	return 0
}

func (o object) float(keys ...string) float64 {
	for _, k := range keys {
		s, ok := scalarString(o[k])
		if !ok || s == "" {
			continue
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	}
	return 0
}

func (o object) bool(keys ...string) bool {
	for _, k := range keys {
		s, ok := scalarString(o[k])
		if !ok || s == "" {
			continue
		}
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return false
}

func (o object) time(keys ...string) time.Time {
	for _, k := range keys {
		if ts := parseTime(o.str(k)); !ts.IsZero() {
			return ts
		}
	}
	return time.Time{}
}

func (o object) strings(keys ...string) []string {
	raw := o.raw(keys...)
	if raw == nil {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		if s, ok := scalarString(raw); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := scalarString(item); ok && s != "" {
			out = append(out, s)
			continue
		}
		if child, ok := decodeObject(item); ok {
			if s := child.str("text", "question", "theme", "name", "title"); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// scalarString renders a JSON string, number, or bool as text.
func scalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	case '{', '[':
		return "", false
	default:
		return string(raw), true
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// unwrap returns the payload nested under one of keys, or raw itself.
func unwrap(raw json.RawMessage, keys ...string) json.RawMessage {
	o, ok := decodeObject(raw)
	if !ok {
		return raw
	}
	for _, k := range keys {
		if child := o.raw(k); child != nil {
			if bytes.HasPrefix(bytes.TrimSpace(child), []byte("{")) {
				return child
			}
		}
	}
	return raw
}

type orderedEntry struct {
	key   string
	value json.RawMessage
}

// orderedObject decodes an object preserving key order.
func orderedObject(raw json.RawMessage) ([]orderedEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object")
	}
	var out []orderedEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		out = append(out, orderedEntry{key: key, value: value})
	}
	return out, nil
}

func invalidPayload(operation, message string, err error) error {
	return services.Wrap(services.ErrValidation, "storyapi", operation, message, err)
}

// NormalizeDraft converts a draft payload into the canonical Draft. Legacy
// stage values are rejected with draft.ErrLegacyStage.
func NormalizeDraft(raw json.RawMessage) (*draft.Draft, error) {
	o, ok := decodeObject(unwrap(raw, "draft", "data"))
	if !ok {
		return nil, invalidPayload("normalize draft", "draft payload is not an object", nil)
	}
	id := o.str("id", "draftId", "draft_id")
	if id == "" {
		return nil, invalidPayload("normalize draft", "draft payload has no id", nil)
	}
	stage := draft.StageFirstDraft
	if rawStage := o.str("stage", "status"); rawStage != "" {
		parsed, err := draft.ParseStage(rawStage)
		if err != nil {
			return nil, invalidPayload("normalize draft", fmt.Sprintf("draft %s", id), err)
		}
		stage = parsed
	}
	d := &draft.Draft{
		ID:          id,
		SessionID:   o.str("sessionId", "session_id"),
		InterviewID: o.str("interviewId", "interview_id"),
		Stage:       stage,
		Version:     o.int("version"),
		CreatedAt:   o.time("createdAt", "created_at"),
		UpdatedAt:   o.time("updatedAt", "updated_at"),
		Approval:    normalizeDecision(o.obj("approvalMetadata", "approval_metadata"), "approved"),
		Rejection:   normalizeDecision(o.obj("rejectionMetadata", "rejection_metadata"), "rejected"),
	}
	if d.Version == 0 {
		d.Version = 1
	}
	content := o.raw("content")
	if content == nil {
		content = raw
	}
	c, err := normalizeContent(content)
	if err != nil {
		return nil, invalidPayload("normalize draft", fmt.Sprintf("draft %s content", id), err)
	}
	// Some payloads keep notes beside content rather than inside it.
	if len(c.Notes) == 0 && o.has("notes") {
		c.Notes = normalizeNotes(o.raw("notes"))
	}
	d.Content = c
	return d, nil
}

func normalizeDecision(o object, verb string) *draft.Decision {
	if o == nil {
		return nil
	}
	by := o.str(verb+"_by", verb+"By", "by")
	if by == "" {
		if actor := o.obj(verb+"_by", verb+"By", "by"); actor != nil {
			by = firstNonEmpty(actor.str("name"), actor.str("email"), actor.str("id"))
		}
	}
	dec := &draft.Decision{
		By:     by,
		At:     o.time(verb+"_at", verb+"At", "at"),
		Reason: o.str("reason", "notes", "rejectionReason", "rejection_reason"),
	}
	if dec.By == "" && dec.At.IsZero() && dec.Reason == "" {
		return nil
	}
	return dec
}

func normalizeContent(raw json.RawMessage) (draft.Content, error) {
	var c draft.Content
	if isNull(raw) {
		return c, nil
	}
	o, ok := decodeObject(raw)
	if !ok {
		// A bare string content is the markdown body.
		if s, isStr := scalarString(raw); isStr {
			c.Markdown = s
			return c, nil
		}
		return c, fmt.Errorf("content is neither object nor string")
	}
	sections, err := normalizeSections(o.raw("sections"))
	if err != nil {
		return c, err
	}
	c.Sections = sections
	c.Markdown = o.str("markdown", "body", "narrative", "content")
	c.KeyThemes = o.strings("keyThemes", "key_themes", "themes")
	c.FollowUpQuestions = o.strings("followUpQuestions", "follow_up_questions", "followUps")
	c.ToVerify = normalizeVerification(o.raw("toVerify", "to_verify", "ToVerify", "to_verify_entities"))
	c.Notes = normalizeNotes(o.raw("notes"))
	md := o.obj("metadata")
	if md == nil {
		md = o
	}
	c.Metadata = draft.Metadata{
		WordCount:         md.int("wordCount", "word_count"),
		AIModel:           md.str("aiModel", "ai_model", "model"),
		RegenerationCount: md.int("regenerationCount", "regeneration_count"),
		ProcessedAt:       md.time("processedAt", "processed_at", "generatedAt", "generated_at"),
	}
	return c, nil
}

// normalizeSections accepts an array of section objects or an object keyed
// by section name whose values are objects or plain text.
func normalizeSections(raw json.RawMessage) ([]draft.Section, error) {
	if isNull(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("sections: %w", err)
		}
		out := make([]draft.Section, 0, len(items))
		for i, item := range items {
			if s, ok := scalarString(item); ok {
				out = append(out, draft.Section{Key: strconv.Itoa(i), Body: s})
				continue
			}
			o, ok := decodeObject(item)
			if !ok {
				continue
			}
			key := o.str("key", "id", "name", "slug")
			if key == "" {
				key = strconv.Itoa(i)
			}
			out = append(out, draft.Section{
				Key:   key,
				Title: o.str("title", "heading", "name"),
				Body:  o.str("body", "content", "text"),
			})
		}
		return out, nil
	case '{':
		entries, err := orderedObject(trimmed)
		if err != nil {
			return nil, fmt.Errorf("sections: %w", err)
		}
		out := make([]draft.Section, 0, len(entries))
		for _, e := range entries {
			if s, ok := scalarString(e.value); ok {
				out = append(out, draft.Section{Key: e.key, Title: e.key, Body: s})
				continue
			}
			o, ok := decodeObject(e.value)
			if !ok {
				continue
			}
			title := o.str("title", "heading")
			if title == "" {
				title = e.key
			}
			out = append(out, draft.Section{Key: e.key, Title: title, Body: o.str("body", "content", "text")})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("sections must be an array or object")
	}
}

// normalizeVerification accepts an array of names or entity objects, or an
// object mapping entity type to such an array.
func normalizeVerification(raw json.RawMessage) []draft.VerificationEntity {
	if isNull(raw) {
		return nil
	}
	parseList := func(list json.RawMessage, typ string) []draft.VerificationEntity {
		var items []json.RawMessage
		if err := json.Unmarshal(list, &items); err != nil {
			return nil
		}
		var out []draft.VerificationEntity
		for _, item := range items {
			if s, ok := scalarString(item); ok && s != "" {
				out = append(out, draft.VerificationEntity{Name: s, Type: typ})
				continue
			}
			o, ok := decodeObject(item)
			if !ok {
				continue
			}
			name := o.str("name", "entity", "value", "text")
			if name == "" {
				continue
			}
			entityType := o.str("type", "category")
			if entityType == "" {
				entityType = typ
			}
			out = append(out, draft.VerificationEntity{Name: name, Type: entityType, Context: o.str("context", "note", "reason")})
		}
		return out
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '[' {
		return parseList(trimmed, "")
	}
	entries, err := orderedObject(trimmed)
	if err != nil {
		return nil
	}
	var out []draft.VerificationEntity
	for _, e := range entries {
		out = append(out, parseList(e.value, e.key)...)
	}
	return out
}

func normalizeNotes(raw json.RawMessage) []draft.Note {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]draft.Note, 0, len(items))
	for _, item := range items {
		n, ok := normalizeNote(item)
		if ok {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func normalizeNote(raw json.RawMessage) (draft.Note, bool) {
	o, ok := decodeObject(unwrap(raw, "note", "data"))
	if !ok {
		return draft.Note{}, false
	}
	author := o.str("author", "author_name", "authorName", "createdBy", "created_by")
	if author == "" {
		if a := o.obj("author"); a != nil {
			author = firstNonEmpty(a.str("name"), a.str("email"), a.str("id"))
		}
	}
	n := draft.Note{
		ID:        o.str("id", "noteId", "note_id"),
		Author:    author,
		Content:   o.str("content", "text", "body"),
		CreatedAt: o.time("createdAt", "created_at", "timestamp"),
	}
	if n.ID == "" && n.Content == "" {
		return draft.Note{}, false
	}
	return n, true
}

// NormalizeInterview converts an interview payload into the canonical Interview.
func NormalizeInterview(raw json.RawMessage) (*interview.Interview, error) {
	o, ok := decodeObject(unwrap(raw, "interview", "data"))
	if !ok {
		return nil, invalidPayload("normalize interview", "interview payload is not an object", nil)
	}
	iv := normalizeInterviewObject(o)
	if iv.ID == "" {
		return nil, invalidPayload("normalize interview", "interview payload has no id", nil)
	}
	return &iv, nil
}

func normalizeInterviewObject(o object) interview.Interview {
	iv := interview.Interview{
		ID:           o.str("id", "interviewId", "interview_id"),
		SessionID:    o.str("sessionId", "session_id"),
		Status:       strings.ToLower(o.str("status")),
		ErrorMessage: o.str("errorMessage", "error_message", "error"),
		Duration:     o.int("duration"),
		Location:     o.str("location"),
		Notes:        o.str("notes", "name", "title"),
		CreatedAt:    o.time("createdAt", "created_at"),
		UpdatedAt:    o.time("updatedAt", "updated_at"),
	}
	content := o.obj("content")
	if content == nil {
		content = o
	}
	if fu := content.obj("file_upload", "fileUpload"); fu != nil {
		iv.Content.FileUpload = &interview.FileUpload{
			FileName:   fu.str("fileName", "file_name", "name", "originalName"),
			FileType:   fu.str("fileType", "file_type", "mimeType", "type"),
			FileSize:   int64(fu.float("fileSize", "file_size", "size")),
			URL:        fu.str("url", "fileUrl", "file_url"),
			UploadedAt: fu.time("uploadedAt", "uploaded_at"),
		}
	}
	if tr := content.raw("transcription"); tr != nil {
		if s, ok := scalarString(tr); ok {
			iv.Content.Transcription = s
		} else if t, ok := decodeObject(tr); ok {
			iv.Content.Transcription = t.str("text", "content", "transcript")
		}
	}
	if ai := content.raw("ai_draft", "aiDraft"); ai != nil {
		iv.Content.HasAIDraft = true
		if s, ok := scalarString(ai); ok {
			iv.Content.AIDraftID = s
		} else if d, ok := decodeObject(ai); ok {
			iv.Content.AIDraftID = d.str("id", "draftId", "draft_id")
		}
	}
	iv.Content.IsFriendInterview = content.bool("isFriendInterview", "is_friend_interview")
	return iv
}

// NormalizeSession converts a session payload, including nested interviews.
func NormalizeSession(raw json.RawMessage) (*interview.Session, error) {
	o, ok := decodeObject(unwrap(raw, "session", "data"))
	if !ok {
		return nil, invalidPayload("normalize session", "session payload is not an object", nil)
	}
	s := &interview.Session{
		ID:                   o.str("id", "sessionId", "session_id"),
		ClientName:           o.str("clientName", "client_name"),
		ClientAge:            o.int("clientAge", "client_age"),
		CompletionPercentage: o.float("completionPercentage", "completion_percentage"),
		TotalInterviews:      o.int("totalInterviews", "total_interviews"),
		CompletedInterviews:  o.int("completedInterviews", "completed_interviews"),
		TotalDuration:        o.int("totalDuration", "total_duration"),
		CreatedAt:            o.time("createdAt", "created_at"),
	}
	if s.ID == "" {
		return nil, invalidPayload("normalize session", "session payload has no id", nil)
	}
	contact := o.obj("contact", "contactInfo", "contact_info")
	if contact == nil {
		contact = o
	}
	s.Contact = interview.Contact{
		Email: contact.str("email", "clientEmail", "client_email"),
		Phone: contact.str("phone", "clientPhone", "client_phone"),
	}
	if prefs := o.obj("preferences"); prefs != nil {
		s.Preferences = interview.Preferences{
			StoryPreferences: prefs.str("storyPreferences", "story_preferences"),
			Scheduling:       prefs.str("scheduling", "schedulingPreferences", "scheduling_preferences"),
			PriorityLevel:    prefs.str("priorityLevel", "priority_level", "priority"),
		}
	}
	if list := o.raw("interviews"); list != nil {
		var items []json.RawMessage
		if err := json.Unmarshal(list, &items); err == nil {
			for _, item := range items {
				if child, ok := decodeObject(item); ok {
					iv := normalizeInterviewObject(child)
					if iv.SessionID == "" {
						iv.SessionID = s.ID
					}
					s.Interviews = append(s.Interviews, iv)
				}
			}
		}
	}
	s.Summarize()
	return s, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
