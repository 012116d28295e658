package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hanna4328/chat-bot/internal/models"
)

// DefaultRetryAfter is used when a 429 carries no usable Retry-After.
const DefaultRetryAfter = 15 * time.Second

var ErrTurnInProgress = errors.New("a message is already being sent")

// Phase is the state of the current turn.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseSuccess
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseSending:
		return "sending"
	case PhaseSuccess:
		return "success"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// PacingError is returned when a send attempt was refused locally. Nothing
// was sent and the user's text was not added to the conversation.
type PacingError struct {
	Wait     time.Duration
	RetryIn  time.Duration
	Cooldown bool
}

func (e *PacingError) Error() string {
	d := e.RetryIn
	if d <= 0 {
		d = e.Wait
	}
	secs := int((d + time.Second - 1) / time.Second)
	if e.Cooldown {
		return fmt.Sprintf("Rate limit reached. Please wait %d seconds.", secs)
	}
	return fmt.Sprintf("You're sending messages too quickly. Please wait %d seconds.", secs)
}

// TurnError is a failed round trip. The user's message stays in the
// conversation; only the assistant reply is missing.
type TurnError struct {
	Status     int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *TurnError) Error() string { return e.Message }
func (e *TurnError) Unwrap() error { return e.Err }

type generator interface {
	Generate(ctx context.Context, req models.GenerateRequest) (string, error)
}

type Options struct {
	Model         string
	Framing       string
	HistoryWindow int
	Policy        PacingPolicy
	// Greet seeds new conversations with the assistant greeting.
	Greet bool
	// OnPhase is called on every phase change, outside the lock.
	OnPhase func(Phase)
	Now     func() time.Time
}

// Conversation owns the message list and pacing state of one chat. Turns
// are serialized: a second AskAI while one is outstanding is refused.
type Conversation struct {
	gen  generator
	opts Options
	busy atomic.Bool

	mu       sync.Mutex
	messages []models.ChatMessage
	state    RateState
	phase    Phase
}

func NewConversation(gen generator, opts Options) *Conversation {
	if opts.Framing == "" {
		opts.Framing = DefaultFraming
	}
	if opts.HistoryWindow == 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.Policy == (PacingPolicy{}) {
		opts.Policy = DefaultPacingPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Conversation{gen: gen, opts: opts}
	c.seed()
	return c
}

func (c *Conversation) seed() {
	c.messages = nil
	if c.opts.Greet {
		c.messages = append(c.messages, models.ChatMessage{
			Role:      models.RoleAssistant,
			Text:      Greeting,
			CreatedAt: c.opts.Now(),
		})
	}
}

// TurnResult describes a completed turn. Reply is nil when nothing was sent.
type TurnResult struct {
	Reply *models.ChatMessage
}

// AskAI runs one turn. Empty input is a no-op. Errors are ErrTurnInProgress,
// *PacingError or *TurnError.
func (c *Conversation) AskAI(ctx context.Context, text string) (TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, nil
	}
	if !c.busy.CompareAndSwap(false, true) {
		return TurnResult{}, ErrTurnInProgress
	}
	defer c.busy.Store(false)

	c.mu.Lock()
	now := c.opts.Now()
	decision, state := Pace(c.state, now, c.opts.Policy)
	c.state = state
	if !decision.Allowed {
		c.mu.Unlock()
		return TurnResult{}, &PacingError{Wait: decision.Wait, RetryIn: decision.RetryIn, Cooldown: decision.Cooldown}
	}

	c.messages = append(c.messages, models.ChatMessage{Role: models.RoleUser, Text: text, CreatedAt: now})
	prompt := BuildPrompt(c.opts.Framing, c.messages, c.opts.HistoryWindow)
	model := c.opts.Model
	c.mu.Unlock()

	c.setPhase(PhaseSending)
	defer c.setPhase(PhaseIdle)

	reply, err := c.gen.Generate(ctx, models.GenerateRequest{Prompt: prompt, ModelID: model})
	if err != nil {
		turnErr := classify(err, c.opts.Now())
		if turnErr.Status == http.StatusTooManyRequests {
			c.mu.Lock()
			c.state.CooldownUntil = c.opts.Now().Add(turnErr.RetryAfter)
			c.mu.Unlock()
		}
		c.setPhase(PhaseFailed)
		return TurnResult{}, turnErr
	}

	msg := models.ChatMessage{
		Role:      models.RoleAssistant,
		Text:      reply,
		Important: IsImportant(reply),
		CreatedAt: c.opts.Now(),
	}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	c.setPhase(PhaseSuccess)
	return TurnResult{Reply: &msg}, nil
}

func (c *Conversation) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	if c.opts.OnPhase != nil {
		c.opts.OnPhase(p)
	}
}

// Messages returns a copy of the conversation so far.
func (c *Conversation) Messages() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) State() RateState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conversation) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Conversation) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Model
}

// SetModel changes the model used from the next turn on. Empty means the
// proxy default.
func (c *Conversation) SetModel(id string) {
	c.mu.Lock()
	c.opts.Model = strings.TrimSpace(id)
	c.mu.Unlock()
}

// Reset clears the messages. Pacing state is kept so a reset cannot be used
// to skip a cooldown.
func (c *Conversation) Reset() error {
	if c.busy.Load() {
		return ErrTurnInProgress
	}
	c.mu.Lock()
	c.seed()
	c.mu.Unlock()
	return nil
}

func classify(err error, now time.Time) *TurnError {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return &TurnError{Message: "Connection lost. Check that the server is running and try again.", Err: err}
	}

	te := &TurnError{Status: apiErr.Status, Err: err}
	switch apiErr.Status {
	case http.StatusTooManyRequests:
		te.RetryAfter = parseRetryAfter(apiErr.RetryAfter, now)
		te.Message = fmt.Sprintf("Rate limit reached. Please wait %d seconds.", int(te.RetryAfter/time.Second))
	case http.StatusNotFound:
		te.Message = "The selected model is not available. Please choose another model."
	case http.StatusUnauthorized, http.StatusForbidden:
		te.Message = "The server's API key was rejected or lacks permission. Check GENERATIVE_API_KEY."
	default:
		te.Message = "Something went wrong while generating a reply. Please try again."
	}
	return te
}

// parseRetryAfter accepts delay-seconds or an HTTP date. Zero and past
// dates mean no cooldown; anything unparseable gets DefaultRetryAfter.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now).Round(time.Second); d > 0 {
			return d
		}
		return 0
	}
	return DefaultRetryAfter
}
