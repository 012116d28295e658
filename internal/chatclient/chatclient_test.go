package chatclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hanna4328/chat-bot/internal/models"
)

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubGenerator struct {
	calls   atomic.Int32
	reply   string
	err     error
	prompts []string
	models  []string
	mu      sync.Mutex
}

func (s *stubGenerator) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.prompts = append(s.prompts, req.Prompt)
	s.models = append(s.models, req.ModelID)
	s.mu.Unlock()
	return s.reply, s.err
}

// ─── Pacing Tests ───

func TestPace(t *testing.T) {
	policy := DefaultPacingPolicy()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		state       RateState
		now         time.Time
		allowed     bool
		wait        time.Duration
		cooldown    bool
		wantLastReq time.Time
	}{
		{"first request", RateState{}, t0, true, 0, false, t0},
		{"too soon", RateState{LastRequestTime: t0}, t0.Add(time.Second), false, 2 * time.Second, false, t0.Add(time.Second)},
		{"after interval", RateState{LastRequestTime: t0}, t0.Add(3 * time.Second), true, 0, false, t0.Add(3 * time.Second)},
		{"in cooldown", RateState{LastRequestTime: t0, CooldownUntil: t0.Add(30 * time.Second)}, t0.Add(10 * time.Second), false, 20 * time.Second, true, t0},
		{"cooldown over", RateState{LastRequestTime: t0, CooldownUntil: t0.Add(30 * time.Second)}, t0.Add(30 * time.Second), true, 0, false, t0.Add(30 * time.Second)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, next := Pace(tc.state, tc.now, policy)

			if d.Allowed != tc.allowed || d.Wait != tc.wait || d.Cooldown != tc.cooldown {
				t.Errorf("Unexpected decision %+v", d)
			}
			if !next.LastRequestTime.Equal(tc.wantLastReq) {
				t.Errorf("Expected LastRequestTime %s, got %s", tc.wantLastReq, next.LastRequestTime)
			}
			if !next.CooldownUntil.Equal(tc.state.CooldownUntil) {
				t.Error("Pace must not change CooldownUntil")
			}
		})
	}
}

func TestAskAI_RateLimitIdempotence(t *testing.T) {
	clock := newFakeClock()
	gen := &stubGenerator{reply: "Keep going!"}
	conv := NewConversation(gen, Options{Now: clock.Now})
	ctx := context.Background()

	if _, err := conv.AskAI(ctx, "first"); err != nil {
		t.Fatalf("First turn failed: %v", err)
	}

	clock.Advance(time.Second)
	_, err := conv.AskAI(ctx, "second")

	var pacing *PacingError
	if !errors.As(err, &pacing) {
		t.Fatalf("Expected PacingError, got %v", err)
	}
	if pacing.Wait != 2*time.Second {
		t.Errorf("Expected 2s advisory, got %s", pacing.Wait)
	}
	if pacing.RetryIn != 3*time.Second {
		t.Errorf("Expected retry in 3s, got %s", pacing.RetryIn)
	}
	if gen.calls.Load() != 1 {
		t.Fatalf("Expected exactly 1 network call, got %d", gen.calls.Load())
	}

	clock.Advance(3 * time.Second)
	if _, err := conv.AskAI(ctx, "third"); err != nil {
		t.Fatalf("Third turn failed: %v", err)
	}
	if gen.calls.Load() != 2 {
		t.Errorf("Expected 2 network calls, got %d", gen.calls.Load())
	}

	// The refused text never entered the conversation.
	for _, m := range conv.Messages() {
		if m.Text == "second" {
			t.Error("Refused message must not be appended")
		}
	}
}

func TestAskAI_WaitingAsToldSucceeds(t *testing.T) {
	clock := newFakeClock()
	gen := &stubGenerator{reply: "ok"}
	conv := NewConversation(gen, Options{Now: clock.Now})
	ctx := context.Background()

	conv.AskAI(ctx, "one")
	clock.Advance(500 * time.Millisecond)
	_, err := conv.AskAI(ctx, "two")

	var pacing *PacingError
	if !errors.As(err, &pacing) {
		t.Fatalf("Expected PacingError, got %v", err)
	}
	if !strings.Contains(pacing.Error(), "wait 3 seconds") {
		t.Errorf("Expected message to name the real wait, got %q", pacing.Error())
	}

	clock.Advance(pacing.RetryIn)
	if _, err := conv.AskAI(ctx, "two"); err != nil {
		t.Fatalf("Expected send after the stated wait, got %v", err)
	}
	if gen.calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", gen.calls.Load())
	}
}

func TestAskAI_RapidAttemptsKeepResettingWindow(t *testing.T) {
	clock := newFakeClock()
	gen := &stubGenerator{reply: "ok"}
	conv := NewConversation(gen, Options{Now: clock.Now})
	ctx := context.Background()

	conv.AskAI(ctx, "one")
	for i := 0; i < 3; i++ {
		clock.Advance(2 * time.Second)
		if _, err := conv.AskAI(ctx, "again"); err == nil {
			t.Fatalf("Attempt %d: expected refusal", i)
		}
	}
	if gen.calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", gen.calls.Load())
	}
}

// ─── Turn Tests ───

func TestAskAI_Success(t *testing.T) {
	clock := newFakeClock()
	var phases []Phase
	gen := &stubGenerator{reply: "Congratulations on the first week!"}
	conv := NewConversation(gen, Options{
		Now:     clock.Now,
		Greet:   true,
		Model:   "models/gemma-3-1b-it",
		OnPhase: func(p Phase) { phases = append(phases, p) },
	})

	res, err := conv.AskAI(context.Background(), "I stuck to my plan")
	if err != nil {
		t.Fatalf("AskAI failed: %v", err)
	}

	if res.Reply == nil || !res.Reply.Important {
		t.Errorf("Expected important reply, got %+v", res.Reply)
	}

	msgs := conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("Expected greeting, user and reply, got %d messages", len(msgs))
	}
	if msgs[1].Role != models.RoleUser || msgs[2].Role != models.RoleAssistant {
		t.Errorf("Unexpected roles %s, %s", msgs[1].Role, msgs[2].Role)
	}

	want := []Phase{PhaseSending, PhaseSuccess, PhaseIdle}
	if len(phases) != len(want) {
		t.Fatalf("Expected phases %v, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("Expected phases %v, got %v", want, phases)
			break
		}
	}

	if !strings.Contains(gen.prompts[0], "Assistant: A new year doesn't ask for perfection.") {
		t.Error("Expected greeting in prompt history")
	}
	if !strings.HasSuffix(gen.prompts[0], "User: I stuck to my plan\n\nAssistant:") {
		t.Errorf("Unexpected prompt tail: %q", gen.prompts[0])
	}
	if gen.models[0] != "models/gemma-3-1b-it" {
		t.Errorf("Expected model forwarded, got %q", gen.models[0])
	}
}

func TestAskAI_EmptyInputIsNoop(t *testing.T) {
	gen := &stubGenerator{reply: "x"}
	conv := NewConversation(gen, Options{})

	res, err := conv.AskAI(context.Background(), "  \n ")

	if err != nil || res.Reply != nil {
		t.Errorf("Expected no-op, got %+v, %v", res, err)
	}
	if gen.calls.Load() != 0 || len(conv.Messages()) != 0 {
		t.Error("Empty input must not send or append")
	}
	if !conv.State().LastRequestTime.IsZero() {
		t.Error("Empty input must not touch pacing state")
	}
}

func TestAskAI_FailureClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"not found", &APIError{Status: 404}, 404, "not available"},
		{"unauthorized", &APIError{Status: 401}, 401, "API key"},
		{"forbidden", &APIError{Status: 403}, 403, "API key"},
		{"server error", &APIError{Status: 500}, 500, "Something went wrong"},
		{"network", errors.New("dial tcp: connection refused"), 0, "Connection lost"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			conv := NewConversation(&stubGenerator{err: tc.err}, Options{Now: clock.Now})

			_, err := conv.AskAI(context.Background(), "hello")

			var turnErr *TurnError
			if !errors.As(err, &turnErr) {
				t.Fatalf("Expected TurnError, got %v", err)
			}
			if turnErr.Status != tc.wantStatus {
				t.Errorf("Expected status %d, got %d", tc.wantStatus, turnErr.Status)
			}
			if !strings.Contains(turnErr.Message, tc.wantMsg) {
				t.Errorf("Expected message containing %q, got %q", tc.wantMsg, turnErr.Message)
			}

			msgs := conv.Messages()
			if len(msgs) != 1 || msgs[0].Text != "hello" {
				t.Errorf("Expected only the user message kept, got %+v", msgs)
			}
			if conv.Phase() != PhaseIdle {
				t.Errorf("Expected idle after failure, got %s", conv.Phase())
			}
			if !conv.State().CooldownUntil.IsZero() {
				t.Error("Only 429 sets a cooldown")
			}
		})
	}
}

func TestAskAI_RateLimitedSetsCooldown(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter string
		want       time.Duration
	}{
		{"seconds", "30", 30 * time.Second},
		{"missing", "", DefaultRetryAfter},
		{"garbage", "soon", DefaultRetryAfter},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			gen := &stubGenerator{err: &APIError{Status: 429, RetryAfter: tc.retryAfter}}
			conv := NewConversation(gen, Options{Now: clock.Now})

			_, err := conv.AskAI(context.Background(), "hello")

			var turnErr *TurnError
			if !errors.As(err, &turnErr) || turnErr.RetryAfter != tc.want {
				t.Fatalf("Expected RetryAfter %s, got %v", tc.want, err)
			}
			if got := conv.State().CooldownUntil.Sub(clock.Now()); got != tc.want {
				t.Errorf("Expected cooldown %s, got %s", tc.want, got)
			}

			// Still cooling down after the normal pacing interval.
			clock.Advance(tc.want - time.Second)
			_, err = conv.AskAI(context.Background(), "again")
			var pacing *PacingError
			if !errors.As(err, &pacing) || !pacing.Cooldown {
				t.Fatalf("Expected cooldown refusal, got %v", err)
			}
			if gen.calls.Load() != 1 {
				t.Errorf("Expected 1 call during cooldown, got %d", gen.calls.Load())
			}

			clock.Advance(time.Second)
			conv.AskAI(context.Background(), "after")
			if gen.calls.Load() != 2 {
				t.Errorf("Expected a call after cooldown, got %d", gen.calls.Load())
			}
		})
	}
}

type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingGenerator) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	close(b.started)
	<-b.release
	return "done", nil
}

func TestAskAI_BusyRefusesSecondTurn(t *testing.T) {
	gen := &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
	conv := NewConversation(gen, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := conv.AskAI(context.Background(), "first")
		done <- err
	}()
	<-gen.started

	if conv.Phase() != PhaseSending {
		t.Errorf("Expected sending, got %s", conv.Phase())
	}
	if _, err := conv.AskAI(context.Background(), "second"); !errors.Is(err, ErrTurnInProgress) {
		t.Errorf("Expected ErrTurnInProgress, got %v", err)
	}
	if err := conv.Reset(); !errors.Is(err, ErrTurnInProgress) {
		t.Errorf("Expected Reset refused while busy, got %v", err)
	}

	close(gen.release)
	if err := <-done; err != nil {
		t.Fatalf("First turn failed: %v", err)
	}
	if len(conv.Messages()) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(conv.Messages()))
	}
}

func TestConversation_ResetKeepsPacing(t *testing.T) {
	clock := newFakeClock()
	conv := NewConversation(&stubGenerator{reply: "ok"}, Options{Now: clock.Now, Greet: true})
	conv.AskAI(context.Background(), "hi")

	if err := conv.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	msgs := conv.Messages()
	if len(msgs) != 1 || msgs[0].Text != Greeting {
		t.Errorf("Expected only the greeting, got %+v", msgs)
	}
	if conv.State().LastRequestTime.IsZero() {
		t.Error("Reset must keep pacing state")
	}
}

// ─── Prompt and Keyword Tests ───

func TestBuildPrompt(t *testing.T) {
	history := []models.ChatMessage{
		{Role: models.RoleAssistant, Text: "What's your goal?"},
		{Role: models.RoleUser, Text: "Read 12 books"},
	}

	got := BuildPrompt(DefaultFraming, history, 0)
	want := "You are a friendly and helpful ONWARD chatbot. Be encouraging and concise.\n\n" +
		"Conversation History:\n" +
		"Assistant: What's your goal?\n" +
		"User: Read 12 books\n\n" +
		"Assistant:"

	if got != want {
		t.Errorf("Unexpected prompt:\n%q\nwant:\n%q", got, want)
	}
}

func TestBuildPrompt_Window(t *testing.T) {
	var history []models.ChatMessage
	for i := 0; i < 30; i++ {
		history = append(history, models.ChatMessage{Role: models.RoleUser, Text: string(rune('a' + i%26))})
	}
	history = append(history, models.ChatMessage{Role: models.RoleUser, Text: "latest"})

	got := BuildPrompt("F", history, 5)

	if strings.Count(got, "User: ") != 5 {
		t.Errorf("Expected 5 history lines, got %d", strings.Count(got, "User: "))
	}
	if !strings.Contains(got, "User: latest\n\nAssistant:") {
		t.Error("Newest message must always be included")
	}
}

func TestIsImportant(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Great job!", false},
		{"That's a real WIN for you", true},
		{"Let's celebrate this", true},
		{"Onward and upward", true},
		{"Congratulations!", true},
		{"I'm so proud of you", true},
		{"Keep going", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := IsImportant(tc.text); got != tc.want {
			t.Errorf("IsImportant(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

// ─── HTTP Client Tests ───

func TestClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"text":"Great job!"}`))
	}))
	defer srv.Close()

	text, err := NewClient(srv.URL+"/", time.Second).Generate(context.Background(), models.GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "Great job!" {
		t.Errorf("Expected 'Great job!', got %q", text)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"local envelope", `{"error":{"code":"VALIDATION_ERROR","message":"Missing prompt"}}`, "Missing prompt"},
		{"string error", `{"error":"Method not allowed"}`, "Method not allowed"},
		{"not json", `oops`, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "30")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).Generate(context.Background(), models.GenerateRequest{Prompt: "hi"})

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected APIError, got %v", err)
			}
			if apiErr.Status != 429 || apiErr.RetryAfter != "30" {
				t.Errorf("Unexpected error %+v", apiErr)
			}
			if apiErr.Message != tc.wantMsg {
				t.Errorf("Expected message %q, got %q", tc.wantMsg, apiErr.Message)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"http date", now.Add(45 * time.Second).Format(http.TimeFormat), 45 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"zero seconds", "0", 0},
		{"seconds", " 12 ", 12 * time.Second},
		{"negative", "-5", DefaultRetryAfter},
		{"empty", "", DefaultRetryAfter},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseRetryAfter(tc.value, now); got != tc.want {
				t.Errorf("parseRetryAfter(%q) = %s, want %s", tc.value, got, tc.want)
			}
		})
	}
}

func TestAskAI_ZeroRetryAfterSkipsCooldown(t *testing.T) {
	clock := newFakeClock()
	gen := &stubGenerator{err: &APIError{Status: 429, RetryAfter: "0"}}
	conv := NewConversation(gen, Options{Now: clock.Now})

	conv.AskAI(context.Background(), "hello")
	if conv.State().CooldownUntil.After(clock.Now()) {
		t.Fatalf("Expected no cooldown, got until %s", conv.State().CooldownUntil)
	}

	clock.Advance(3 * time.Second)
	conv.AskAI(context.Background(), "again")
	if gen.calls.Load() != 2 {
		t.Errorf("Expected second attempt to reach the server, got %d calls", gen.calls.Load())
	}
}
