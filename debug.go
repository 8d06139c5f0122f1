package riglog

import (
	"sync"

	"github.com/rs/zerolog"
)

type savedLevel struct {
	sink  Sink
	level zerolog.Level
}

// DebugScope lowers the root logger and its console and file sinks to debug
// level. The returned function restores the recorded levels; it is safe to
// call more than once.
//
//	defer svc.DebugScope()()
func (s *Service) DebugScope() (restore func()) {
	root := s.Root()
	rootLevel := root.Level()
	var saved []savedLevel
	for _, sink := range root.Sinks() {
		if _, ok := sink.(streamSink); !ok {
			continue
		}
		saved = append(saved, savedLevel{sink: sink, level: sink.Level()})
		sink.SetLevel(zerolog.DebugLevel)
	}
	root.SetLevel(zerolog.DebugLevel)

	var once sync.Once
	return func() {
		once.Do(func() {
			root.SetLevel(rootLevel)
			for _, sv := range saved {
				sv.sink.SetLevel(sv.level)
			}
		})
	}
}

// Debug runs fn inside a debug scope. Levels are restored even if fn panics.
func (s *Service) Debug(fn func() error) error {
	restore := s.DebugScope()
	defer restore()
	return fn()
}
