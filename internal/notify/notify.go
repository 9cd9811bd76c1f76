// Package notify fans out directory change events to subscribers.
package notify

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

type subscription struct {
	id        uint64
	dir       []string
	recursive bool
	filter    uint32
	fn        func(ntvfs.NotifyChange)
}

// Service is an in-process Notifier. Callbacks run on the scheduler, never
// on the goroutine calling Trigger.
type Service struct {
	sched ntvfs.Scheduler

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
}

var _ ntvfs.Notifier = (*Service)(nil)

func New(sched ntvfs.Scheduler) *Service {
	return &Service{sched: sched, subs: make(map[uint64]*subscription)}
}

// Subscribe watches dir, a wire name relative to the share root. With
// recursive set, changes anywhere below dir are reported.
func (s *Service) Subscribe(dir string, recursive bool, filter uint32, fn func(ntvfs.NotifyChange)) func() {
	s.mu.Lock()
	s.nextID++
	sub := &subscription{
		id:        s.nextID,
		dir:       common.SplitWireName(dir),
		recursive: recursive,
		filter:    filter,
		fn:        fn,
	}
	s.subs[sub.id] = sub
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, sub.id)
			s.mu.Unlock()
		})
	}
}

// Trigger reports action on path to every subscriber whose filter matches.
func (s *Service) Trigger(path string, action, filter uint32) {
	parts := common.SplitWireName(path)
	if len(parts) == 0 {
		return
	}

	s.mu.RLock()
	var hits []*subscription
	var names []string
	for _, sub := range s.subs {
		if sub.filter&filter == 0 {
			continue
		}
		if rel, ok := sub.relative(parts); ok {
			hits = append(hits, sub)
			names = append(names, rel)
		}
	}
	s.mu.RUnlock()

	for i, sub := range hits {
		fn := sub.fn
		change := ntvfs.NotifyChange{Action: action, Name: names[i]}
		s.sched.Post(func() { fn(change) })
	}
	if len(hits) > 0 {
		log.Tracef("[NOTIFY] %s action=%d delivered to %d watchers", path, action, len(hits))
	}
}

// relative returns path below the watched directory when the subscription
// covers it.
func (sub *subscription) relative(parts []string) (string, bool) {
	if len(parts) <= len(sub.dir) {
		return "", false
	}
	for i, d := range sub.dir {
		if !strings.EqualFold(d, parts[i]) {
			return "", false
		}
	}
	rest := parts[len(sub.dir):]
	if len(rest) > 1 && !sub.recursive {
		return "", false
	}
	return common.JoinWireName(rest...), true
}

// Len returns the number of live subscriptions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
