package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// RecordedRequest is one request received by FakeAPI.
type RecordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

// Upload is a file received on an upload endpoint.
type Upload struct {
	InterviewID string
	FileName    string
	Size        int64
	Async       bool
}

type fakeFailure struct {
	status  int
	message string
}

// FakeAPI is an in-memory admin REST API. Drafts, interviews, and sessions
// are stored as JSON objects so tests can seed any payload shape.
type FakeAPI struct {
	// URL is the API base, including the /api prefix.
	URL string

	server *httptest.Server

	mu         sync.Mutex
	drafts     map[string]map[string]any
	interviews map[string]map[string]any
	sessions   map[string]map[string]any
	requests   []RecordedRequest
	uploads    []Upload
	failures   map[string]fakeFailure
	frozen     map[string]map[string]any
	notes      int
}

// NewFakeAPI starts a fake API server and registers cleanup.
func NewFakeAPI(tb testing.TB) *FakeAPI {
	tb.Helper()
	f := &FakeAPI{
		drafts:     make(map[string]map[string]any),
		interviews: make(map[string]map[string]any),
		sessions:   make(map[string]map[string]any),
		failures:   make(map[string]fakeFailure),
		frozen:     make(map[string]map[string]any),
	}
	r := mux.NewRouter()
	r.Use(f.record)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/drafts", f.listDrafts).Methods(http.MethodGet)
	api.HandleFunc("/drafts/{id}", f.getDraft).Methods(http.MethodGet)
	api.HandleFunc("/drafts/{id}", f.patchDraft).Methods(http.MethodPatch)
	api.HandleFunc("/drafts/{id}", f.deleteDraft).Methods(http.MethodDelete)
	api.HandleFunc("/drafts/{id}/stage", f.transition).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}/notes", f.addNote).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}/regenerate", f.regenerate).Methods(http.MethodPost)
	api.HandleFunc("/interviews/{id}", f.getInterview).Methods(http.MethodGet)
	api.HandleFunc("/interviews/{id}/upload", f.upload(false)).Methods(http.MethodPost)
	api.HandleFunc("/interviews/{id}/upload-async", f.upload(true)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", f.getSession).Methods(http.MethodGet)

	f.server = httptest.NewServer(r)
	f.URL = f.server.URL + "/api"
	tb.Cleanup(f.server.Close)
	return f
}

// PutDraft stores payload under payload["id"].
func (f *FakeAPI) PutDraft(payload map[string]any) {
	f.put(f.drafts, payload)
}

// PutInterview stores payload under payload["id"].
func (f *FakeAPI) PutInterview(payload map[string]any) {
	f.put(f.interviews, payload)
}

// PutSession stores payload under payload["id"].
func (f *FakeAPI) PutSession(payload map[string]any) {
	f.put(f.sessions, payload)
}

func (f *FakeAPI) put(store map[string]map[string]any, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	store[fmt.Sprint(payload["id"])] = clone(payload)
}

// Draft returns a copy of the stored draft.
func (f *FakeAPI) Draft(id string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok {
		return nil, false
	}
	return clone(d), true
}

// FreezeDraft makes GET /drafts/{id} keep answering with the draft as stored
// now, while writes still update the live copy. It models a stale read.
func (f *FakeAPI) FreezeDraft(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.drafts[id]; ok {
		f.frozen[id] = clone(d)
	}
}

// Fail makes method+path (relative to /api) answer status with message.
func (f *FakeAPI) Fail(method, path string, status int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+" "+path] = fakeFailure{status: status, message: message}
}

// Requests returns recorded requests matching method and path (relative to
// /api). Empty arguments match everything.
func (f *FakeAPI) Requests(method, path string) []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RecordedRequest
	for _, req := range f.requests {
		if method != "" && req.Method != method {
			continue
		}
		if path != "" && req.Path != path {
			continue
		}
		out = append(out, req)
	}
	return out
}

// Uploads returns the files received so far.
func (f *FakeAPI) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

func (f *FakeAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api")
		var body []byte
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(strings.NewReader(string(body)))
		}
		f.mu.Lock()
		f.requests = append(f.requests, RecordedRequest{Method: r.Method, Path: path, Body: body})
		failure, failing := f.failures[r.Method+" "+path]
		f.mu.Unlock()
		if failing {
			writeFakeJSON(w, failure.status, map[string]any{"message": failure.message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeAPI) listDrafts(w http.ResponseWriter, r *http.Request) {
	stage := r.URL.Query().Get("stage")
	f.mu.Lock()
	ids := make([]string, 0, len(f.drafts))
	for id := range f.drafts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		d := f.drafts[id]
		if stage != "" && d["stage"] != stage {
			continue
		}
		items = append(items, clone(d))
	}
	f.mu.Unlock()
	writeFakeJSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": map[string]any{"total": len(items), "page": 1, "limit": len(items)},
	})
}

func (f *FakeAPI) getDraft(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	stale, frozen := f.frozen[id]
	f.mu.Unlock()
	if frozen {
		writeFakeJSON(w, http.StatusOK, clone(stale))
		return
	}
	d, ok := f.Draft(id)
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "Draft not found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, d)
}

func (f *FakeAPI) patchDraft(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	d, ok := f.drafts[id]
	if ok {
		for k, v := range patch {
			d[k] = v
		}
		d = clone(d)
	}
	f.mu.Unlock()
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "Draft not found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, d)
}

func (f *FakeAPI) deleteDraft(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	_, ok := f.drafts[id]
	delete(f.drafts, id)
	f.mu.Unlock()
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "Draft not found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (f *FakeAPI) transition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetStage     string `json:"targetStage"`
		Reason          string `json:"reason"`
		RejectionReason string `json:"rejectionReason"`
		AdminUser       struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"adminUser"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}
	id := mux.Vars(r)["id"]
	now := time.Now().UTC().Format(time.RFC3339)
	actor := body.AdminUser.Email
	if actor == "" {
		actor = body.AdminUser.ID
	}
	f.mu.Lock()
	d, ok := f.drafts[id]
	if ok {
		d["stage"] = body.TargetStage
		d["updatedAt"] = now
		switch body.TargetStage {
		case "approved":
			d["approvalMetadata"] = map[string]any{"approvedBy": actor, "approvedAt": now, "notes": body.Reason}
		case "rejected":
			reason := body.RejectionReason
			if reason == "" {
				reason = body.Reason
			}
			d["rejectionMetadata"] = map[string]any{"rejectedBy": actor, "rejectedAt": now, "reason": reason}
		}
		d = clone(d)
	}
	f.mu.Unlock()
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "Draft not found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{"success": true, "draft": d})
}

func (f *FakeAPI) addNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
		Author  string `json:"author"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	d, ok := f.drafts[id]
	var note map[string]any
	if ok {
		f.notes++
		note = map[string]any{
			"id":        fmt.Sprintf("note-%d", f.notes),
			"author":    body.Author,
			"content":   body.Content,
			"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
		}
		content, _ := d["content"].(map[string]any)
		if content == nil {
			content = map[string]any{}
			d["content"] = content
		}
		notes, _ := content["notes"].([]any)
		content["notes"] = append(notes, note)
	}
	f.mu.Unlock()
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "Draft not found"})
		return
	}
	writeFakeJSON(w, http.StatusCreated, note)
}

func (f *FakeAPI) regenerate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	d, ok := f.drafts[id]
	var next map[string]any
	version := 1
	if ok {
		if v, isNum := d["version"].(float64); isNum {
			version = int(v)
		}
		version++
		next = clone(d)
		next["id"] = fmt.Sprintf("%s-v%d", id, version)
		next["stage"] = "first_draft"
		next["version"] = version
		next["createdAt"] = time.Now().UTC().Format(time.RFC3339Nano)
		delete(next, "approvalMetadata")
		delete(next, "rejectionMetadata")
		f.drafts[fmt.Sprint(next["id"])] = clone(next)
	}
	f.mu.Unlock()
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "Draft not found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{
		"draft":            next,
		"previousDraftId":  id,
		"regenerationType": "notes",
		"version":          version,
	})
}

func (f *FakeAPI) getInterview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	iv, ok := f.interviews[id]
	if ok {
		iv = clone(iv)
	}
	f.mu.Unlock()
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "Interview not found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, iv)
}

func (f *FakeAPI) upload(async bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		file, header, err := r.FormFile("file")
		if err != nil {
			writeFakeJSON(w, http.StatusBadRequest, map[string]any{"message": "No file uploaded"})
			return
		}
		size, _ := io.Copy(io.Discard, file)
		_ = file.Close()

		f.mu.Lock()
		f.uploads = append(f.uploads, Upload{InterviewID: id, FileName: header.Filename, Size: size, Async: async})
		iv, ok := f.interviews[id]
		if !ok {
			iv = map[string]any{"id": id}
			f.interviews[id] = iv
		}
		iv["content"] = map[string]any{
			"file_upload": map[string]any{"file_name": header.Filename, "file_size": size},
		}
		if async {
			iv["status"] = "uploading"
		} else {
			iv["status"] = "completed"
		}
		iv = clone(iv)
		f.mu.Unlock()

		if async {
			writeFakeJSON(w, http.StatusAccepted, map[string]any{
				"interview":    iv,
				"fileMetadata": map[string]any{"fileName": header.Filename, "fileSize": size},
			})
			return
		}
		writeFakeJSON(w, http.StatusOK, iv)
	}
}

func (f *FakeAPI) getSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	s, ok := f.sessions[id]
	if ok {
		s = clone(s)
	}
	f.mu.Unlock()
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "Session not found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, s)
}

// clone deep-copies a JSON object by round-tripping it.
func clone(in map[string]any) map[string]any {
	data, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("fake api: encode payload: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("fake api: decode payload: %v", err))
	}
	return out
}

func writeFakeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
