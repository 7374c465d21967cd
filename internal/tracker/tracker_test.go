package tracker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lifestory/internal/eventbus"
	"lifestory/internal/interview"
	"lifestory/internal/services"
	"lifestory/internal/testsupport"
	"lifestory/internal/tracker"
)

type fakeBus struct {
	mu       sync.Mutex
	handlers map[string][]eventbus.StatusHandler
	offs     int
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string][]eventbus.StatusHandler)}
}

func (b *fakeBus) OnStatusUpdate(id string, fn eventbus.StatusHandler) eventbus.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = append(b.handlers[id], fn)
	return eventbus.Subscription{}
}

func (b *fakeBus) OffStatusUpdate(id string, _ ...eventbus.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
	b.offs++
}

func (b *fakeBus) subscribers(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[id])
}

func (b *fakeBus) emit(id, status, message string) {
	b.mu.Lock()
	handlers := append([]eventbus.StatusHandler(nil), b.handlers[id]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(eventbus.StatusEvent{InterviewID: id, Status: status, ErrorMessage: message})
	}
}

type fakeUploader struct {
	mu         sync.Mutex
	asyncCalls int
	syncCalls  int
	polls      int
	asyncErr   error
	syncResp   *interview.Interview
	poll       *interview.Interview
	pollErr    error
	delay      time.Duration
}

func (u *fakeUploader) UploadAsync(ctx context.Context, id string, file tracker.File) error {
	if u.delay > 0 {
		time.Sleep(u.delay)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.asyncCalls++
	return u.asyncErr
}

func (u *fakeUploader) UploadSync(ctx context.Context, id string, file tracker.File) (*interview.Interview, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.syncCalls++
	return u.syncResp, nil
}

func (u *fakeUploader) GetInterview(ctx context.Context, id string) (*interview.Interview, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.polls++
	return u.poll, u.pollErr
}

func (u *fakeUploader) calls() (int, int, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.asyncCalls, u.syncCalls, u.polls
}

type fakeRefresher struct {
	mu       sync.Mutex
	sessions []string
}

func (r *fakeRefresher) RefreshSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sessionID)
	return nil
}

func (r *fakeRefresher) refreshed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sessions...)
}

var audio = tracker.File{Name: "grandma.mp3", Size: 4 << 20, Path: "/tmp/grandma.mp3"}

func receive(t *testing.T, ch <-chan tracker.Result) tracker.Result {
	t.Helper()
	select {
	case res, ok := <-ch:
		if !ok {
			t.Fatal("result channel closed without a result")
		}
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no result within 2s")
	}
	return tracker.Result{}
}

func expectClosed(t *testing.T, ch <-chan tracker.Result) {
	t.Helper()
	select {
	case res, ok := <-ch:
		if ok {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed within 2s")
	}
}

func TestValidateFile(t *testing.T) {
	limits := tracker.DefaultLimits()
	tests := []struct {
		name string
		file string
		size int64
		kind tracker.FileErrorKind
	}{
		{name: "accepted audio", file: "a.mp3", size: 10},
		{name: "uppercase extension", file: "NOTES.DOCX", size: 10},
		{name: "exactly at limit", file: "a.wav", size: 100 << 20},
		{name: "unsupported", file: "a.exe", size: 10, kind: tracker.FileUnsupportedType},
		{name: "no extension", file: "README", size: 10, kind: tracker.FileUnsupportedType},
		{name: "too large", file: "a.flac", size: 100<<20 + 1, kind: tracker.FileTooLarge},
		{name: "empty", file: "a.txt", size: 0, kind: tracker.FileEmpty},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := limits.ValidateFile(tc.file, tc.size)
			if tc.kind == "" {
				if err != nil {
					t.Fatalf("ValidateFile: %v", err)
				}
				return
			}
			var fileErr *tracker.FileError
			if !errors.As(err, &fileErr) || fileErr.Kind != tc.kind {
				t.Fatalf("err = %v, want kind %s", err, tc.kind)
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("file error should be a validation error")
			}
		})
	}
}

func TestSelectRejectionIsRepeatable(t *testing.T) {
	tr := tracker.New(newFakeBus(), &fakeUploader{}, nil, tracker.Options{})
	if err := tr.Select(audio); err != nil {
		t.Fatalf("Select valid: %v", err)
	}
	bad := tracker.File{Name: "video.mkv", Size: 10}
	first := tr.Select(bad)
	second := tr.Select(bad)
	if first == nil || second == nil || first.Error() != second.Error() {
		t.Fatalf("errors differ: %v / %v", first, second)
	}
	if tr.Selected() != nil {
		t.Fatal("rejected file should clear the selection")
	}
}

func TestStartRejectsInvalidFileWithoutNetwork(t *testing.T) {
	bus := newFakeBus()
	up := &fakeUploader{}
	tr := tracker.New(bus, up, nil, tracker.Options{})
	if _, err := tr.Start(context.Background(), "iv-1", tracker.File{Name: "x.zip", Size: 10}, tracker.SessionContext{}); err == nil {
		t.Fatal("expected validation error")
	}
	if a, s, p := up.calls(); a+s+p != 0 {
		t.Fatalf("network calls = %d/%d/%d", a, s, p)
	}
	if bus.subscribers("iv-1") != 0 {
		t.Fatal("subscribed despite rejection")
	}
	if tr.Stage() != tracker.StageIdle {
		t.Fatalf("stage = %s", tr.Stage())
	}
}

func TestAsyncUploadCompletes(t *testing.T) {
	bus := newFakeBus()
	up := &fakeUploader{}
	ref := &fakeRefresher{}
	tr := tracker.New(bus, up, ref, tracker.Options{})

	results, err := tr.Start(context.Background(), "iv-1", audio, tracker.SessionContext{SessionID: "s-1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tr.Stage() != tracker.StageUploading {
		t.Fatalf("stage = %s, want uploading", tr.Stage())
	}
	testsupport.Eventually(t, time.Second, func() bool { a, _, _ := up.calls(); return a == 1 }, "async upload issued")

	bus.emit("iv-1", "transcribing", "")
	bus.emit("iv-1", "generating_draft", "")
	if tr.Stage() != tracker.StageGeneratingDraft {
		t.Fatalf("stage = %s, want generating_draft", tr.Stage())
	}
	bus.emit("iv-1", "completed", "")

	res := receive(t, results)
	if !res.Succeeded() || res.InterviewID != "iv-1" || res.SessionID != "s-1" {
		t.Fatalf("result = %+v", res)
	}
	expectClosed(t, results)
	if got := ref.refreshed(); len(got) != 1 || got[0] != "s-1" {
		t.Fatalf("refreshed = %v", got)
	}
	testsupport.Eventually(t, time.Second, func() bool { return bus.subscribers("iv-1") == 0 }, "unsubscribed after completion")
	if tr.Stage() != tracker.StageIdle {
		t.Fatalf("stage after completion = %s", tr.Stage())
	}
}

func TestStaleEventDoesNotRegress(t *testing.T) {
	bus := newFakeBus()
	tr := tracker.New(bus, &fakeUploader{}, nil, tracker.Options{})
	if _, err := tr.Start(context.Background(), "iv-1", audio, tracker.SessionContext{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()

	bus.emit("iv-1", "uploading", "")
	bus.emit("iv-1", "generating_draft", "")
	bus.emit("iv-1", "transcribing", "")
	if got := tr.Stage(); got != tracker.StageGeneratingDraft {
		t.Fatalf("stage = %s, want generating_draft", got)
	}
	bus.emit("iv-1", "bogus", "")
	if got := tr.Stage(); got != tracker.StageGeneratingDraft {
		t.Fatalf("unknown status changed stage to %s", got)
	}
}

func TestPipelineErrorSurfacesMessage(t *testing.T) {
	bus := newFakeBus()
	tr := tracker.New(bus, &fakeUploader{}, nil, tracker.Options{ErrorDelay: 200 * time.Millisecond})
	results, err := tr.Start(context.Background(), "iv-1", audio, tracker.SessionContext{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	bus.emit("iv-1", "transcribing", "")
	bus.emit("iv-1", "error", "audio could not be decoded")

	snap := tr.Snapshot()
	if snap.Stage != tracker.StageError || snap.ErrorMessage != "audio could not be decoded" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Steps[1].State != tracker.StepFailed || snap.Steps[0].State != tracker.StepCompleted {
		t.Fatalf("steps = %+v", snap.Steps)
	}
	bus.emit("iv-1", "completed", "")

	res := receive(t, results)
	if res.Stage != tracker.StageError || res.Message != "audio could not be decoded" {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.Err, tracker.ErrPipeline) {
		t.Fatalf("err = %v, want ErrPipeline", res.Err)
	}
	expectClosed(t, results)
	if tr.Stage() != tracker.StageIdle {
		t.Fatalf("stage after error = %s", tr.Stage())
	}
}

func TestUploadRequestFailureEndsRun(t *testing.T) {
	bus := newFakeBus()
	requestErr := services.Wrap(services.ErrTransient, "storyapi", "upload", "server unavailable", nil)
	tr := tracker.New(bus, &fakeUploader{asyncErr: requestErr}, nil, tracker.Options{ErrorDelay: time.Hour})
	results, err := tr.Start(context.Background(), "iv-1", audio, tracker.SessionContext{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	res := receive(t, results)
	if res.Stage != tracker.StageError || !errors.Is(res.Err, services.ErrTransient) {
		t.Fatalf("result = %+v", res)
	}
	expectClosed(t, results)
	testsupport.Eventually(t, time.Second, func() bool { return bus.subscribers("iv-1") == 0 }, "unsubscribed after failure")
}

func TestSyncUploadCompletesFromResponse(t *testing.T) {
	iv := &interview.Interview{ID: "iv-1", Status: "completed"}
	up := &fakeUploader{syncResp: iv}
	ref := &fakeRefresher{}
	tr := tracker.New(nil, up, ref, tracker.Options{Mode: tracker.ModeSync})
	results, err := tr.Start(context.Background(), "iv-1", audio, tracker.SessionContext{SessionID: "s-9"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	res := receive(t, results)
	if !res.Succeeded() || res.Interview != iv {
		t.Fatalf("result = %+v", res)
	}
	if a, s, _ := up.calls(); a != 0 || s != 1 {
		t.Fatalf("calls async=%d sync=%d", a, s)
	}
	if got := ref.refreshed(); len(got) != 1 || got[0] != "s-9" {
		t.Fatalf("refreshed = %v", got)
	}
}

func TestTimeoutPollSettlesRun(t *testing.T) {
	tests := []struct {
		name    string
		poll    *interview.Interview
		pollErr error
		success bool
		marker  error
	}{
		{name: "finished", poll: &interview.Interview{ID: "iv-1", Status: "transcribing", Content: interview.Content{Transcription: "hi", HasAIDraft: true}}, success: true},
		{name: "failed", poll: &interview.Interview{ID: "iv-1", Status: "failed", ErrorMessage: "quota"}, marker: tracker.ErrPipeline},
		{name: "still pending", poll: &interview.Interview{ID: "iv-1", Status: "transcribing"}, marker: services.ErrTimeout},
		{name: "poll error", pollErr: errors.New("connection refused"), marker: services.ErrTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bus := newFakeBus()
			up := &fakeUploader{poll: tc.poll, pollErr: tc.pollErr}
			tr := tracker.New(bus, up, nil, tracker.Options{Timeout: 20 * time.Millisecond})
			results, err := tr.Start(context.Background(), "iv-1", audio, tracker.SessionContext{})
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			res := receive(t, results)
			if res.Succeeded() != tc.success {
				t.Fatalf("result = %+v", res)
			}
			if tc.marker != nil && !errors.Is(res.Err, tc.marker) {
				t.Fatalf("err = %v, want %v", res.Err, tc.marker)
			}
			if _, _, polls := up.calls(); polls != 1 {
				t.Fatalf("polls = %d, want 1", polls)
			}
		})
	}
}

func TestTimeoutCountsFromUploadAccepted(t *testing.T) {
	bus := newFakeBus()
	up := &fakeUploader{delay: 150 * time.Millisecond, poll: &interview.Interview{ID: "iv-1", Status: "transcribing"}}
	tr := tracker.New(bus, up, nil, tracker.Options{Timeout: 50 * time.Millisecond})
	results, err := tr.Start(context.Background(), "iv-1", audio, tracker.SessionContext{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if _, _, polls := up.calls(); polls != 0 {
		t.Fatalf("polled %d times before the upload was accepted", polls)
	}
	res := receive(t, results)
	if !errors.Is(res.Err, services.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", res.Err)
	}
	if a, _, polls := up.calls(); a != 1 || polls != 1 {
		t.Fatalf("calls async=%d polls=%d", a, polls)
	}
}

func TestCloseAbandonsRun(t *testing.T) {
	bus := newFakeBus()
	up := &fakeUploader{}
	tr := tracker.New(bus, up, nil, tracker.Options{})
	results, err := tr.Start(context.Background(), "iv-1", audio, tracker.SessionContext{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.Close()
	expectClosed(t, results)
	if bus.subscribers("iv-1") != 0 {
		t.Fatal("still subscribed after Close")
	}
	bus.emit("iv-1", "completed", "")
	if tr.Stage() != tracker.StageIdle {
		t.Fatalf("stage = %s after Close", tr.Stage())
	}
}

func TestContextCancelAbandonsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := tracker.New(newFakeBus(), &fakeUploader{}, nil, tracker.Options{})
	results, err := tr.Start(ctx, "iv-1", audio, tracker.SessionContext{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	expectClosed(t, results)
}

func TestStartWhileBusy(t *testing.T) {
	tr := tracker.New(newFakeBus(), &fakeUploader{}, nil, tracker.Options{})
	if _, err := tr.Start(context.Background(), "iv-1", audio, tracker.SessionContext{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()
	if _, err := tr.Start(context.Background(), "iv-2", audio, tracker.SessionContext{}); !errors.Is(err, tracker.ErrBusy) {
		t.Fatalf("second Start = %v, want ErrBusy", err)
	}
}

func TestFollowDeliversEachRun(t *testing.T) {
	bus := newFakeBus()
	tr := tracker.New(bus, &fakeUploader{}, nil, tracker.Options{})
	results, err := tr.Follow(context.Background(), "iv-1", tracker.SessionContext{SessionID: "s-1"})
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	defer tr.Close()

	bus.emit("iv-1", "transcribing", "")
	bus.emit("iv-1", "completed", "")
	if res := receive(t, results); !res.Succeeded() {
		t.Fatalf("first run = %+v", res)
	}
	testsupport.Eventually(t, time.Second, func() bool { return tr.Stage() == tracker.StageIdle }, "reset after first run")

	// A repeated terminal status for the finished run is dropped.
	bus.emit("iv-1", "completed", "")
	bus.emit("iv-1", "uploading", "")
	bus.emit("iv-1", "error", "bad file")
	res := receive(t, results)
	if res.Stage != tracker.StageError || res.Message != "bad file" {
		t.Fatalf("second run = %+v", res)
	}
	if bus.subscribers("iv-1") != 1 {
		t.Fatal("follow mode should stay subscribed")
	}
}

func TestStageViews(t *testing.T) {
	states := func(views []tracker.StageView) []tracker.StepState {
		out := make([]tracker.StepState, len(views))
		for i, v := range views {
			out[i] = v.State
		}
		return out
	}
	P, A, C, F := tracker.StepPending, tracker.StepActive, tracker.StepCompleted, tracker.StepFailed
	tests := []struct {
		current, failedAt tracker.Stage
		want              []tracker.StepState
	}{
		{tracker.StageIdle, "", []tracker.StepState{P, P, P, P}},
		{tracker.StageUploading, "", []tracker.StepState{A, P, P, P}},
		{tracker.StageGeneratingDraft, "", []tracker.StepState{C, C, A, P}},
		{tracker.StageCompleted, "", []tracker.StepState{C, C, C, C}},
		{tracker.StageError, tracker.StageTranscribing, []tracker.StepState{C, F, P, P}},
		{tracker.StageError, tracker.StageIdle, []tracker.StepState{F, P, P, P}},
	}
	for _, tc := range tests {
		got := states(tracker.StageViews(tc.current, tc.failedAt))
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("StageViews(%s, %s) = %v, want %v", tc.current, tc.failedAt, got, tc.want)
			}
		}
	}
}

func TestFollowDeliversLoneRepeatedFailureAfterWindow(t *testing.T) {
	bus := newFakeBus()
	tr := tracker.New(bus, &fakeUploader{}, nil, tracker.Options{RepeatWindow: 150 * time.Millisecond})
	results, err := tr.Follow(context.Background(), "iv-1", tracker.SessionContext{})
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	defer tr.Close()

	bus.emit("iv-1", "error", "first failure")
	if res := receive(t, results); res.Message != "first failure" {
		t.Fatalf("first run = %+v", res)
	}
	testsupport.Eventually(t, time.Second, func() bool { return tr.Stage() == tracker.StageIdle }, "reset after first run")

	bus.emit("iv-1", "error", "first failure")
	if got := tr.Stage(); got != tracker.StageIdle {
		t.Fatalf("repeat inside window moved stage to %s", got)
	}

	time.Sleep(250 * time.Millisecond)
	bus.emit("iv-1", "error", "second failure")
	res := receive(t, results)
	if res.Stage != tracker.StageError || res.Message != "second failure" {
		t.Fatalf("second run = %+v", res)
	}
}
