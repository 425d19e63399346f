package reader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lindenwick/folio/core/cache"
	"github.com/lindenwick/folio/core/errors"
)

// LoaderState tracks a ChapterLoader through its lifecycle. Completed,
// Cancelled, and Failed are terminal and mutually exclusive.
type LoaderState int32

const (
	// StateCreated is the initial state before Start.
	StateCreated LoaderState = iota
	// StateRunning means the load goroutine is executing.
	StateRunning
	// StateCompleted means the completion callback fired.
	StateCompleted
	// StateCancelled means cancellation stopped the load before completion.
	StateCancelled
	// StateFailed means the error callback fired.
	StateFailed
)

func (s LoaderState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// CompleteFunc receives the rendered chapter HTML. It is invoked at most
// once, from the loader's goroutine; the consumer's only synchronization
// point with the loader is this callback (or the error callback).
type CompleteFunc func(html string)

// ErrorFunc receives a short machine-classifiable title and a human-readable
// message. It is invoked at most once, and never together with CompleteFunc.
type ErrorFunc func(title, message string)

// ChapterLoader loads one chapter off the consuming goroutine. It is created
// per request, used once, and discarded.
//
// Cancellation is cooperative: Cancel signals the loader's context, and the
// loader checks it at fixed checkpoints between steps. A collaborator call
// already in flight runs to completion, and cache writes are never abandoned
// mid-write, so cancellation can leave the caches warmer than it found them.
// That partial progress is deliberate.
type ChapterLoader struct {
	book     ChapterSource
	resolver ImageResolver
	caches   *cache.Manager
	index    int

	onComplete CompleteFunc
	onError    ErrorFunc
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state      atomic.Int32
	startOnce  sync.Once
	finishOnce sync.Once
	done       chan struct{}
}

// NewChapterLoader creates a loader for one chapter of one book. Either
// callback may be nil. A nil logger discards log output.
func NewChapterLoader(book ChapterSource, resolver ImageResolver, caches *cache.Manager, index int, onComplete CompleteFunc, onError ErrorFunc, logger *slog.Logger) *ChapterLoader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())

	l := &ChapterLoader{
		book:       book,
		resolver:   resolver,
		caches:     caches,
		index:      index,
		onComplete: onComplete,
		onError:    onError,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	l.state.Store(int32(StateCreated))
	return l
}

// Start launches the load on its own goroutine. Calling Start more than once
// is a no-op.
func (l *ChapterLoader) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Cancel requests cooperative cancellation. The loader stops at its next
// checkpoint; it is safe to call Cancel at any time, including before Start
// and after completion.
func (l *ChapterLoader) Cancel() {
	l.cancel()
}

// State returns the loader's current state.
func (l *ChapterLoader) State() LoaderState {
	return LoaderState(l.state.Load())
}

// Wait blocks until the loader reaches a terminal state. Loaders that are
// cancelled before Start never run; Wait still returns for them once Start
// is called.
func (l *ChapterLoader) Wait() {
	<-l.done
}

// run executes the load protocol. No failure escapes this goroutine: any
// panic from a collaborator is recovered and surfaced through the error
// callback, so a single bad chapter can never take the process down.
func (l *ChapterLoader) run() {
	defer close(l.done)
	defer l.cancel()

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("chapter_load_panic", "book", l.book.Path(), "chapter", l.index, "panic", r)
			l.fail(errors.Wrapf(errors.ErrUnexpected, "chapter %d load panicked: %v", l.index, r))
		}
	}()

	// Checkpoint 1: cancelled before any work began. No cache access, no
	// callback.
	if l.cancelled() {
		return
	}
	l.state.Store(int32(StateRunning))

	start := time.Now()
	key := cache.ChapterKey(l.book.Path(), l.index)

	// Fast path: rendered HTML already cached.
	if html, ok := l.caches.Rendered().Get(key); ok {
		l.logger.Debug("chapter_load_hit", "book", l.book.Path(), "chapter", l.index, "layer", "rendered")
		l.complete(html, start)
		return
	}

	// Checkpoint 2.
	if l.cancelled() {
		return
	}

	raw, ok := l.caches.Raw().Get(key)
	if !ok {
		// Full miss: container I/O, the most expensive step.
		var err error
		raw, err = l.book.ChapterContent(l.index)
		if err != nil {
			l.fail(err)
			return
		}
		l.caches.Raw().Set(key, raw)
	}

	// Checkpoint 3. The raw layer may already be warm from this request;
	// that partial progress is kept.
	if l.cancelled() {
		return
	}

	href, err := l.book.ChapterHref(l.index)
	if err != nil {
		l.fail(err)
		return
	}

	rendered, err := l.resolver.Resolve(raw, href)
	if err != nil {
		l.fail(err)
		return
	}
	l.caches.Rendered().Set(key, rendered)

	// Checkpoint 4: both layers are now warm for the next request even if
	// this one was abandoned.
	if l.cancelled() {
		return
	}

	l.complete(rendered, start)
}

// cancelled checks the cancellation token and records the terminal state.
func (l *ChapterLoader) cancelled() bool {
	if l.ctx.Err() == nil {
		return false
	}
	l.state.Store(int32(StateCancelled))
	l.logger.Debug("chapter_load_cancelled", "book", l.book.Path(), "chapter", l.index)
	return true
}

// complete and fail each deliver their callback through finishOnce, so even
// a callback that panics mid-delivery can never cause both to fire.

func (l *ChapterLoader) complete(html string, start time.Time) {
	l.finishOnce.Do(func() {
		l.state.Store(int32(StateCompleted))
		l.logger.Debug("chapter_load_completed", "book", l.book.Path(), "chapter", l.index,
			"duration_ms", time.Since(start).Milliseconds())
		if l.onComplete != nil {
			l.onComplete(html)
		}
	})
}

func (l *ChapterLoader) fail(err error) {
	l.finishOnce.Do(func() {
		l.state.Store(int32(StateFailed))
		title, message := errors.Classify(err)
		l.logger.Warn("chapter_load_failed", "book", l.book.Path(), "chapter", l.index,
			"title", title, "error", message)
		if l.onError != nil {
			l.onError(title, message)
		}
	})
}
