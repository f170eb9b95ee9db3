package transcript

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// Target is a session the trigger may generate for.
type Target struct {
	SessionID string
	Buffer    *Buffer
}

// TargetSource lists sessions with an active lecturer.
type TargetSource interface {
	GenerationTargets() []Target
}

// QuestionSink persists generated questions.
type QuestionSink interface {
	AddQuestion(ctx context.Context, sessionID string, q *types.Question) error
}

// Broadcaster reaches every connection of a session.
type Broadcaster interface {
	Broadcast(sessionID string, msg interface{}) int
}

// Config controls trigger timing.
type Config struct {
	Interval      time.Duration // idle time before a buffer is eligible
	MinLength     int
	CheckInterval time.Duration
	Timeout       time.Duration // bound on a single generation call
}

// DefaultConfig mirrors the classroom defaults: 30s idle, 150 chars, 5s sweep.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		MinLength:     150,
		CheckInterval: 5 * time.Second,
		Timeout:       60 * time.Second,
	}
}

// Trigger periodically sweeps lecturer sessions and starts at most one
// generation per session at a time.
type Trigger struct {
	config    Config
	source    TargetSource
	generator interfaces.QuestionGenerator
	sink      QuestionSink
	broadcast Broadcaster
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// NewTrigger wires a trigger to its collaborators.
func NewTrigger(config Config, source TargetSource, generator interfaces.QuestionGenerator, sink QuestionSink, broadcast Broadcaster) *Trigger {
	return &Trigger{
		config:    config,
		source:    source,
		generator: generator,
		sink:      sink,
		broadcast: broadcast,
		now:       time.Now,
		inFlight:  make(map[string]bool),
	}
}

// Start begins the periodic sweep.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrTriggerAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	t.running = true
	t.cancel = cancel
	t.loopDone = make(chan struct{})

	log.Printf("[trigger] starting, sweep every %v", t.config.CheckInterval)
	go t.run(ctx, t.loopDone)
	return nil
}

// Stop ends the sweep and waits for in-flight generations to return.
func (t *Trigger) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return ErrTriggerNotRunning
	}
	t.running = false
	cancel, done := t.cancel, t.loopDone
	t.mu.Unlock()

	cancel()
	<-done
	t.wg.Wait()
	log.Println("[trigger] stopped")
	return nil
}

func (t *Trigger) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns how many generations it
// started. Generations run in their own goroutines.
func (t *Trigger) RunOnce(ctx context.Context) int {
	now := t.now()
	started := 0
	for _, target := range t.source.GenerationTargets() {
		snap := target.Buffer.Snapshot()
		if !ShouldFire(now, snap.LastUpdate, len(snap.Text), t.config.Interval, t.config.MinLength) {
			continue
		}
		if !t.claim(target.SessionID) {
			continue
		}
		started++
		t.wg.Add(1)
		go t.generate(ctx, target, snap.Text)
	}
	return started
}

// Wait blocks until every started generation has finished.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// InFlight reports whether a generation is running for the session.
func (t *Trigger) InFlight(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight[sessionID]
}

func (t *Trigger) claim(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight[sessionID] {
		return false
	}
	t.inFlight[sessionID] = true
	return true
}

func (t *Trigger) release(sessionID string) {
	t.mu.Lock()
	delete(t.inFlight, sessionID)
	t.mu.Unlock()
}

func (t *Trigger) generate(ctx context.Context, target Target, text string) {
	defer t.wg.Done()
	defer t.release(target.SessionID)

	if err := t.attempt(ctx, target.SessionID, text); err != nil {
		if ctx.Err() != nil {
			log.Printf("[trigger] session %s: generation abandoned on shutdown: %v", target.SessionID, err)
			return
		}
		log.Printf("[trigger] session %s: generation failed: %v", target.SessionID, err)
		t.broadcast.Broadcast(target.SessionID, types.NewErrorMessage(types.GenerationFailedMessage))
		return
	}

	target.Buffer.Consume(len(text))
}

func (t *Trigger) attempt(ctx context.Context, sessionID, text string) error {
	genCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	q, err := t.generator.Generate(genCtx, text)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if q == nil {
		return fmt.Errorf("%w: nil question", ErrInvalidQuestion)
	}
	if err := q.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuestion, err)
	}

	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.GeneratedBy == "" {
		q.GeneratedBy = types.GeneratedByAI
	}

	if err := t.sink.AddQuestion(ctx, sessionID, q); err != nil {
		return fmt.Errorf("persist question: %w", err)
	}

	log.Printf("[trigger] session %s: question %s stored from %d chars", sessionID, q.ID, len(text))
	return nil
}
