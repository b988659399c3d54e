package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/subagents/internal/events"
	"github.com/aristath/subagents/internal/session"
	"github.com/aristath/subagents/internal/task"
)

// stub is a scriptable session server. It is wrapped by basicStub,
// statusStub and fullStub to expose different optional capabilities.
type stub struct {
	mu sync.Mutex

	createFn    func(parentID string) (string, error)
	createGate  chan struct{} // if set, Create blocks until closed
	promptErr   error
	status      string
	statusErr   error
	abortErr    error
	messages    map[string][]session.Message
	messagesErr error

	creates      int
	prompts      []string
	statusCalls  int
	messageCalls int
	aborted      []string
}

func newStub() *stub {
	return &stub{
		createFn: func(string) (string, error) { return "ses_1", nil },
		status:   session.StatusIdle,
		messages: make(map[string][]session.Message),
	}
}

func (s *stub) Create(ctx context.Context, parentID string) (string, error) {
	s.mu.Lock()
	s.creates++
	gate := s.createGate
	fn := s.createFn
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return fn(parentID)
}

func (s *stub) Prompt(ctx context.Context, sessionID, content, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, content)
	return s.promptErr
}

func (s *stub) Messages(ctx context.Context, sessionID string) ([]session.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageCalls++
	if s.messagesErr != nil {
		return nil, s.messagesErr
	}
	return append([]session.Message(nil), s.messages[sessionID]...), nil
}

func (s *stub) queryStatus() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls++
	return s.status, s.statusErr
}

func (s *stub) abort(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = append(s.aborted, sessionID)
	return s.abortErr
}

func (s *stub) set(fn func(s *stub)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// stubCalls is a point-in-time copy of what the stub observed.
type stubCalls struct {
	creates      int
	prompts      []string
	statusCalls  int
	messageCalls int
	aborted      []string
}

func (s *stub) snapshot() stubCalls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stubCalls{
		creates:      s.creates,
		prompts:      append([]string(nil), s.prompts...),
		statusCalls:  s.statusCalls,
		messageCalls: s.messageCalls,
		aborted:      append([]string(nil), s.aborted...),
	}
}

type basicStub struct{ *stub }

type statusStub struct{ *stub }

func (s statusStub) Status(ctx context.Context, sessionID string) (string, error) {
	return s.queryStatus()
}

type fullStub struct{ *stub }

func (s fullStub) Status(ctx context.Context, sessionID string) (string, error) {
	return s.queryStatus()
}

func (s fullStub) Abort(ctx context.Context, sessionID string) error {
	return s.abort(sessionID)
}

func testConfig(maxPolls int) Config {
	return Config{PollInterval: time.Millisecond, MaxPolls: maxPolls}
}

func textMessage(role, text string) session.Message {
	return session.Message{Role: role, Parts: []session.Part{{Type: session.PartTypeText, Text: text}}}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func checkBuildInput() LaunchInput {
	return LaunchInput{
		Description:     "check build",
		Prompt:          "run the build",
		Agent:           "assistant",
		ParentSessionID: "ses_parent",
		ParentMessageID: "msg_parent",
	}
}

func TestLaunchCheckBuildScenario(t *testing.T) {
	s := newStub()
	s.messages["ses_1"] = []session.Message{
		textMessage("user", "run the build"),
		textMessage("assistant", "build ok"),
	}
	e := New(testConfig(10), fullStub{s})

	launched := e.Launch(checkBuildInput())
	if launched.Status != task.StatusPending {
		t.Errorf("launched status = %s, want pending", launched.Status)
	}
	if !task.IsID(launched.ID) {
		t.Errorf("launched ID %q does not look like a task ID", launched.ID)
	}
	if launched.LastMessageCount != 0 {
		t.Errorf("LastMessageCount = %d, want 0", launched.LastMessageCount)
	}
	if launched.SessionID != "" {
		t.Errorf("SessionID = %q, want empty while pending", launched.SessionID)
	}

	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.SessionID != "ses_1" {
		t.Errorf("SessionID = %q, want ses_1", got.SessionID)
	}
	if got.StartedAt.IsZero() || got.CompletedAt.IsZero() {
		t.Error("StartedAt and CompletedAt should be set")
	}

	res, err := e.GetResult(context.Background(), launched.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	want := "## user\n\nrun the build\n\n## assistant\n\nbuild ok"
	if res.Status != task.StatusCompleted || res.Output != want || res.Error != "" {
		t.Errorf("GetResult() = %+v, want completed with output %q", res, want)
	}

	again, err := e.GetResult(context.Background(), launched.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if again.Output != "" {
		t.Errorf("second GetResult output = %q, want none", again.Output)
	}

	snap := s.snapshot()
	if len(snap.prompts) != 1 || snap.prompts[0] != "run the build" {
		t.Errorf("prompts = %v", snap.prompts)
	}
	if !e.SubagentSessions().Has("ses_1") {
		t.Error("session should be registered as a subagent session")
	}
}

func TestLaunchPassesParentSession(t *testing.T) {
	s := newStub()
	var gotParent string
	s.createFn = func(parentID string) (string, error) {
		gotParent = parentID
		return "ses_child", nil
	}
	e := New(testConfig(1), basicStub{s})

	e.Launch(checkBuildInput())
	e.Wait()

	if gotParent != "ses_parent" {
		t.Errorf("Create parent = %q, want ses_parent", gotParent)
	}
}

func TestLaunchCreateFailure(t *testing.T) {
	s := newStub()
	s.createFn = func(string) (string, error) { return "", errors.New("network down") }
	e := New(testConfig(5), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusFailed || got.Error != "network down" {
		t.Fatalf("task = {%s %q}, want failed with 'network down'", got.Status, got.Error)
	}
	if got.SessionID != "" {
		t.Errorf("SessionID = %q, want empty", got.SessionID)
	}

	res, err := e.GetResult(context.Background(), launched.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.Status != task.StatusFailed || res.Error != "network down" || res.Output != "" {
		t.Errorf("GetResult() = %+v", res)
	}
	if calls := s.snapshot().messageCalls; calls != 0 {
		t.Errorf("transcript fetched %d times for a task without session", calls)
	}
}

func TestLaunchEmptySessionID(t *testing.T) {
	s := newStub()
	s.createFn = func(string) (string, error) { return "", nil }
	e := New(testConfig(5), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusFailed || got.Error != ErrEmptySessionID.Error() {
		t.Errorf("task = {%s %q}, want failed with %q", got.Status, got.Error, ErrEmptySessionID)
	}
	if n := len(s.snapshot().prompts); n != 0 {
		t.Errorf("prompt sent %d times without a session", n)
	}
}

func TestLaunchPromptFailure(t *testing.T) {
	s := newStub()
	s.promptErr = errors.New("prompt rejected")
	e := New(testConfig(5), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusFailed || got.Error != "prompt rejected" {
		t.Errorf("task = {%s %q}, want failed with 'prompt rejected'", got.Status, got.Error)
	}
	if got.SessionID != "ses_1" {
		t.Errorf("SessionID = %q, want ses_1 (bound before prompt)", got.SessionID)
	}
	if calls := s.snapshot().statusCalls; calls != 0 {
		t.Errorf("poll loop ran %d status checks after prompt failure", calls)
	}
}

func TestLaunchPanicBecomesFailure(t *testing.T) {
	s := newStub()
	s.createFn = func(string) (string, error) { panic("transport exploded") }
	e := New(testConfig(5), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Error, "transport exploded") {
		t.Errorf("Error = %q, want panic value", got.Error)
	}
}

func TestPollBudgetExhaustedCompletes(t *testing.T) {
	s := newStub()
	s.status = session.StatusBusy
	e := New(testConfig(3), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusCompleted || got.Error != "" {
		t.Errorf("task = {%s %q}, want completed without error", got.Status, got.Error)
	}
	if calls := s.snapshot().statusCalls; calls != 3 {
		t.Errorf("status checks = %d, want 3", calls)
	}
}

func TestPollBudgetExhaustedTimesOut(t *testing.T) {
	s := newStub()
	s.status = session.StatusBusy
	cfg := testConfig(3)
	cfg.MarkTimeouts = true
	e := New(cfg, fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusTimedOut {
		t.Errorf("status = %s, want timed_out", got.Status)
	}
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt should be set on timeout")
	}
}

func TestPollWithoutStatusCapability(t *testing.T) {
	s := newStub()
	e := New(testConfig(3), basicStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusCompleted {
		t.Errorf("status = %s, want completed after budget", got.Status)
	}
	if calls := s.snapshot().statusCalls; calls != 0 {
		t.Errorf("status queried %d times on a transport without status", calls)
	}
}

func TestPollStatusErrorsCountAsBusy(t *testing.T) {
	s := newStub()
	s.statusErr = errors.New("status endpoint down")
	e := New(testConfig(2), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusCompleted || got.Error != "" {
		t.Errorf("task = {%s %q}, want completed without error", got.Status, got.Error)
	}
	if calls := s.snapshot().statusCalls; calls != 2 {
		t.Errorf("status checks = %d, want 2", calls)
	}
}

func TestPollIdleTokens(t *testing.T) {
	for _, token := range []string{"idle", "completed", "done"} {
		t.Run(token, func(t *testing.T) {
			s := newStub()
			s.status = token
			e := New(testConfig(10), fullStub{s})

			launched := e.Launch(checkBuildInput())
			e.Wait()

			got, _ := e.Get(launched.ID)
			if got.Status != task.StatusCompleted {
				t.Errorf("status = %s, want completed", got.Status)
			}
			if calls := s.snapshot().statusCalls; calls != 1 {
				t.Errorf("status checks = %d, want 1", calls)
			}
		})
	}
}

func TestCancelRunningTask(t *testing.T) {
	s := newStub()
	s.status = session.StatusBusy
	e := New(Config{PollInterval: 5 * time.Millisecond, MaxPolls: 10000}, fullStub{s})

	launched := e.Launch(checkBuildInput())
	waitFor(t, "first status check", func() bool { return s.snapshot().statusCalls > 0 })

	ok, err := e.Cancel(context.Background(), launched.ID)
	if !ok || err != nil {
		t.Fatalf("Cancel() = %v, %v", ok, err)
	}
	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if aborted := s.snapshot().aborted; len(aborted) != 1 || aborted[0] != "ses_1" {
		t.Errorf("aborted = %v, want [ses_1]", aborted)
	}

	// An idle session afterwards must not flip the task back.
	s.set(func(s *stub) { s.status = session.StatusIdle })
	time.Sleep(20 * time.Millisecond)
	if got, _ := e.Get(launched.ID); got.Status != task.StatusCancelled {
		t.Errorf("status after idle = %s, want cancelled", got.Status)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	e := New(testConfig(1), fullStub{newStub()})

	ok, err := e.Cancel(context.Background(), "bg_missing")
	if ok || err != nil {
		t.Errorf("Cancel() = %v, %v; want false, nil", ok, err)
	}
}

func TestCancelAbortErrorStillCancels(t *testing.T) {
	s := newStub()
	s.status = session.StatusBusy
	s.abortErr = errors.New("abort refused")
	e := New(Config{PollInterval: 5 * time.Millisecond, MaxPolls: 10000}, fullStub{s})

	launched := e.Launch(checkBuildInput())
	waitFor(t, "first status check", func() bool { return s.snapshot().statusCalls > 0 })

	ok, err := e.Cancel(context.Background(), launched.ID)
	if !ok {
		t.Fatal("Cancel() = false for a known task")
	}
	if err == nil || !strings.Contains(err.Error(), "abort refused") {
		t.Errorf("Cancel() error = %v, want abort error", err)
	}
	e.Wait()

	if got, _ := e.Get(launched.ID); got.Status != task.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestCancelWithoutAbortCapability(t *testing.T) {
	s := newStub()
	s.status = session.StatusBusy
	e := New(Config{PollInterval: 5 * time.Millisecond, MaxPolls: 10000}, statusStub{s})

	launched := e.Launch(checkBuildInput())
	waitFor(t, "first status check", func() bool { return s.snapshot().statusCalls > 0 })

	ok, err := e.Cancel(context.Background(), launched.ID)
	if !ok || err != nil {
		t.Errorf("Cancel() = %v, %v; want true, nil", ok, err)
	}
	e.Wait()
}

func TestCancelCompletedTask(t *testing.T) {
	s := newStub()
	e := New(testConfig(5), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	ok, err := e.Cancel(context.Background(), launched.ID)
	if !ok || err != nil {
		t.Fatalf("Cancel() = %v, %v", ok, err)
	}
	if got, _ := e.Get(launched.ID); got.Status != task.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestCancelDuringSessionCreation(t *testing.T) {
	s := newStub()
	s.createGate = make(chan struct{})
	e := New(testConfig(5), fullStub{s})

	launched := e.Launch(checkBuildInput())
	waitFor(t, "session creation", func() bool { return s.snapshot().creates == 1 })

	if ok, err := e.Cancel(context.Background(), launched.ID); !ok || err != nil {
		t.Fatalf("Cancel() = %v, %v", ok, err)
	}
	close(s.createGate)
	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.SessionID != "ses_1" {
		t.Errorf("SessionID = %q, want ses_1", got.SessionID)
	}
	snap := s.snapshot()
	if len(snap.prompts) != 0 {
		t.Errorf("prompt sent to a cancelled task: %v", snap.prompts)
	}
	if len(snap.aborted) != 1 || snap.aborted[0] != "ses_1" {
		t.Errorf("aborted = %v, want [ses_1]", snap.aborted)
	}
}

func TestCancelledBeforeFlowStarts(t *testing.T) {
	s := newStub()
	reg := task.NewRegistry()
	e := New(testConfig(5), fullStub{s}, WithRegistry(reg))

	created := reg.Create(task.CreateInput{Prompt: "never sent"})
	if ok, _ := e.Cancel(context.Background(), created.ID); !ok {
		t.Fatal("Cancel() = false")
	}

	e.run(context.Background(), created.ID)

	if creates := s.snapshot().creates; creates != 0 {
		t.Errorf("session created %d times for a cancelled task", creates)
	}
	if got, _ := e.Get(created.ID); got.Status != task.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestResumeAbsent(t *testing.T) {
	s := newStub()
	s.createFn = func(string) (string, error) { return "", errors.New("network down") }
	e := New(testConfig(5), fullStub{s})

	if _, ok, err := e.Resume(context.Background(), "bg_missing", "again"); ok || err != nil {
		t.Errorf("Resume(unknown) = %v, %v; want false, nil", ok, err)
	}

	launched := e.Launch(checkBuildInput())
	e.Wait()

	before := s.snapshot()
	if _, ok, err := e.Resume(context.Background(), launched.ID, "again"); ok || err != nil {
		t.Errorf("Resume(no session) = %v, %v; want false, nil", ok, err)
	}
	after := s.snapshot()
	if after.creates != before.creates || len(after.prompts) != len(before.prompts) {
		t.Error("Resume without a session must not touch the transport")
	}
	if got, _ := e.Get(launched.ID); got.Status != task.StatusFailed || got.Prompt != "run the build" {
		t.Errorf("task changed by absent resume: %+v", got)
	}
}

func TestResumeRestartsPollLoop(t *testing.T) {
	s := newStub()
	e := New(testConfig(10), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()
	first, _ := e.Get(launched.ID)

	resumed, ok, err := e.Resume(context.Background(), launched.ID, "now run the tests")
	if !ok || err != nil {
		t.Fatalf("Resume() = %v, %v", ok, err)
	}
	if resumed.Status != task.StatusRunning || resumed.Prompt != "now run the tests" {
		t.Errorf("resumed snapshot = {%s %q}", resumed.Status, resumed.Prompt)
	}
	if resumed.StartedAt.Before(first.StartedAt) {
		t.Error("resume should set a fresh StartedAt")
	}
	e.Wait()

	got, _ := e.Get(launched.ID)
	if got.Status != task.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	snap := s.snapshot()
	if len(snap.prompts) != 2 || snap.prompts[1] != "now run the tests" {
		t.Errorf("prompts = %v", snap.prompts)
	}
	if snap.creates != 1 {
		t.Errorf("creates = %d, want 1 (resume reuses the session)", snap.creates)
	}
	if n := e.SubagentSessions().Len(); n != 1 {
		t.Errorf("subagent sessions = %d, want 1", n)
	}
}

func TestResumeRetiresPreviousLoop(t *testing.T) {
	s := newStub()
	s.status = session.StatusBusy
	bus := events.NewEventBus()
	defer bus.Close()
	sub := bus.Subscribe(events.TopicTask, 1024)

	e := New(Config{PollInterval: 2 * time.Millisecond, MaxPolls: 10000}, fullStub{s}, WithEventBus(bus))

	launched := e.Launch(checkBuildInput())
	waitFor(t, "first status check", func() bool { return s.snapshot().statusCalls > 0 })

	if _, ok, err := e.Resume(context.Background(), launched.ID, "follow up"); !ok || err != nil {
		t.Fatalf("Resume() = %v, %v", ok, err)
	}
	s.set(func(s *stub) { s.status = session.StatusIdle })
	e.Wait()

	if got, _ := e.Get(launched.ID); got.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	completions := 0
	for {
		select {
		case ev := <-sub:
			if ev.EventType() == events.EventTypeTaskCompleted {
				completions++
			}
			continue
		default:
		}
		break
	}
	if completions != 1 {
		t.Errorf("completed events = %d, want exactly 1", completions)
	}
}

func TestResumePromptError(t *testing.T) {
	s := newStub()
	e := New(testConfig(5), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	s.set(func(s *stub) { s.promptErr = errors.New("session gone") })
	got, ok, err := e.Resume(context.Background(), launched.ID, "again")
	if !ok {
		t.Fatal("Resume() = false for a task with a session")
	}
	if err == nil || !strings.Contains(err.Error(), "session gone") {
		t.Errorf("Resume() error = %v", err)
	}
	if got.Status != task.StatusFailed || got.Error != "session gone" {
		t.Errorf("task = {%s %q}, want failed", got.Status, got.Error)
	}
}

func TestGetResultUnknownTask(t *testing.T) {
	e := New(testConfig(1), fullStub{newStub()})

	res, err := e.GetResult(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.Status != task.StatusFailed || res.Error == "" || res.Output != "" {
		t.Errorf("GetResult() = %+v, want failed with error", res)
	}
	if !strings.Contains(res.Error, "nonexistent") {
		t.Errorf("error %q should name the task", res.Error)
	}
}

func TestGetResultIncremental(t *testing.T) {
	s := newStub()
	s.messages["ses_1"] = []session.Message{textMessage("user", "run the build")}
	e := New(testConfig(5), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()
	ctx := context.Background()

	r1, err := e.GetResult(ctx, launched.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if r1.Output != "## user\n\nrun the build" {
		t.Errorf("first output = %q", r1.Output)
	}

	s.set(func(s *stub) {
		s.messages["ses_1"] = append(s.messages["ses_1"],
			session.Message{Role: "assistant", Parts: []session.Part{{Type: "tool", Text: "bash"}}},
			textMessage("assistant", "build ok"),
		)
	})

	r2, err := e.GetResult(ctx, launched.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if r2.Output != "## assistant\n\nbuild ok" {
		t.Errorf("second output = %q", r2.Output)
	}

	all := formatMessages(s.messages["ses_1"])
	if r1.Output+"\n\n"+r2.Output != all {
		t.Errorf("incremental outputs do not add up to the full transcript:\n%q\nvs\n%q", r1.Output+"\n\n"+r2.Output, all)
	}
	if got, _ := e.Get(launched.ID); got.LastMessageCount != 3 {
		t.Errorf("LastMessageCount = %d, want 3", got.LastMessageCount)
	}
}

func TestGetResultConcurrentCallersNoDuplicates(t *testing.T) {
	s := newStub()
	for i := range 10 {
		s.messages["ses_1"] = append(s.messages["ses_1"], textMessage("assistant", strings.Repeat("x", i+1)))
	}
	e := New(testConfig(5), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		outputs []string
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.GetResult(context.Background(), launched.ID)
			if err != nil {
				t.Errorf("GetResult: %v", err)
				return
			}
			if res.Output != "" {
				mu.Lock()
				outputs = append(outputs, res.Output)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(outputs) != 1 {
		t.Fatalf("non-empty outputs = %d, want exactly 1", len(outputs))
	}
	if outputs[0] != formatMessages(s.messages["ses_1"]) {
		t.Errorf("delivered output is not the full transcript")
	}
}

func TestGetResultTranscriptError(t *testing.T) {
	s := newStub()
	e := New(testConfig(5), fullStub{s})

	launched := e.Launch(checkBuildInput())
	e.Wait()

	s.set(func(s *stub) { s.messagesErr = errors.New("transcript unavailable") })
	res, err := e.GetResult(context.Background(), launched.ID)
	if err == nil {
		t.Fatal("expected transcript error to propagate")
	}
	if res.Status != task.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
	if got, _ := e.Get(launched.ID); got.LastMessageCount != 0 {
		t.Errorf("watermark moved on a failed fetch: %d", got.LastMessageCount)
	}
}

func TestFormatMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []session.Message
		want     string
	}{
		{"empty", nil, ""},
		{
			"non-text only",
			[]session.Message{{Role: "assistant", Parts: []session.Part{{Type: "tool", Text: "ls"}}}},
			"",
		},
		{
			"missing role",
			[]session.Message{textMessage("", "hello")},
			"## assistant\n\nhello",
		},
		{
			"multiple parts",
			[]session.Message{{Role: "assistant", Parts: []session.Part{
				{Type: "text", Text: "one"},
				{Type: "reasoning", Text: "hidden"},
				{Type: "text", Text: "two"},
			}}},
			"## assistant\n\none\n\ntwo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatMessages(tt.messages); got != tt.want {
				t.Errorf("formatMessages() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShutdownCancelsActiveTasks(t *testing.T) {
	s := newStub()
	s.status = session.StatusBusy
	e := New(Config{PollInterval: 5 * time.Millisecond, MaxPolls: 10000}, fullStub{s})

	var ids []string
	for range 3 {
		ids = append(ids, e.Launch(checkBuildInput()).ID)
	}
	waitFor(t, "all sessions bound", func() bool {
		for _, id := range ids {
			if got, _ := e.Get(id); got.SessionID == "" {
				return false
			}
		}
		return s.snapshot().statusCalls >= 3
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for _, id := range ids {
		if got, _ := e.Get(id); got.Status != task.StatusCancelled {
			t.Errorf("task %s status = %s, want cancelled", id, got.Status)
		}
	}
	if n := len(s.snapshot().aborted); n != 3 {
		t.Errorf("aborted %d sessions, want 3", n)
	}
}

func TestSubagentSessionsShared(t *testing.T) {
	s := newStub()
	e := New(testConfig(1), fullStub{s})

	set := e.SubagentSessions()
	e.Launch(checkBuildInput())
	e.Wait()

	if set != e.SubagentSessions() {
		t.Error("SubagentSessions should return the same set")
	}
	if !set.Has("ses_1") {
		t.Error("earlier reference should observe the new session")
	}
}

func TestLifecycleEvents(t *testing.T) {
	s := newStub()
	s.messages["ses_1"] = []session.Message{textMessage("assistant", "done")}
	bus := events.NewEventBus()
	defer bus.Close()
	taskCh := bus.Subscribe(events.TopicTask, 64)
	progressCh := bus.Subscribe(events.TopicProgress, 64)

	e := New(testConfig(5), fullStub{s}, WithEventBus(bus))
	launched := e.Launch(checkBuildInput())
	e.Wait()
	if _, err := e.GetResult(context.Background(), launched.ID); err != nil {
		t.Fatalf("GetResult: %v", err)
	}

	want := []string{
		events.EventTypeTaskLaunched,
		events.EventTypeTaskStarted,
		events.EventTypeTaskCompleted,
		events.EventTypeTaskOutput,
	}
	for i, typ := range want {
		select {
		case ev := <-taskCh:
			if ev.EventType() != typ {
				t.Errorf("event %d = %s, want %s", i, ev.EventType(), typ)
			}
			if ev.TaskID() != launched.ID {
				t.Errorf("event %d task = %s, want %s", i, ev.TaskID(), launched.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", typ)
		}
	}

	var last events.ProgressEvent
	for range 3 {
		select {
		case ev := <-progressCh:
			last = ev.(events.ProgressEvent)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for progress event")
		}
	}
	if last.Total != 1 || last.Completed != 1 {
		t.Errorf("final progress = %+v, want one completed task", last)
	}
}
