package database

import (
	"sync"

	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// questionFeed fans committed questions out to per-session subscribers.
// ARCHITECTURAL DISCOVERY: Each subscription owns an unbounded queue and a
// delivery goroutine, so the single writer never waits on a slow listener and
// no question is dropped while the subscription lives.
type questionFeed struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]*subscription
	nextID uint64
	closed bool
}

type subscription struct {
	id        uint64
	sessionID string
	onAdded   func(*types.Question)

	mu     sync.Mutex
	queue  []*types.Question
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newQuestionFeed() *questionFeed {
	return &questionFeed{subs: make(map[string]map[uint64]*subscription)}
}

func (f *questionFeed) subscribe(sessionID string, onAdded func(*types.Question)) (interfaces.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, interfaces.ErrStoreClosed
	}

	f.nextID++
	sub := &subscription{
		id:        f.nextID,
		sessionID: sessionID,
		onAdded:   onAdded,
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if f.subs[sessionID] == nil {
		f.subs[sessionID] = make(map[uint64]*subscription)
	}
	f.subs[sessionID][sub.id] = sub

	go sub.run()

	return func() {
		sub.stop()
		f.remove(sub)
	}, nil
}

func (f *questionFeed) remove(sub *subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bySession := f.subs[sub.sessionID]
	if bySession == nil {
		return
	}
	delete(bySession, sub.id)
	if len(bySession) == 0 {
		delete(f.subs, sub.sessionID)
	}
}

// publish must only be called after the question's transaction committed.
func (f *questionFeed) publish(q *types.Question) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs[q.SessionID] {
		sub.enqueue(cloneQuestion(q))
	}
}

func (f *questionFeed) subscriberCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[sessionID])
}

func (f *questionFeed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for sessionID, bySession := range f.subs {
		for _, sub := range bySession {
			sub.stop()
		}
		delete(f.subs, sessionID)
	}
}

func (s *subscription) enqueue(q *types.Question) {
	s.mu.Lock()
	s.queue = append(s.queue, q)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			q := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.onAdded(q)
		}
	}
}

func cloneQuestion(q *types.Question) *types.Question {
	c := *q
	c.Options = append([]string(nil), q.Options...)
	return &c
}
