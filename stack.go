package strata

import "fmt"

// Stack is an ordered registry of middleware registrations.
//
// The intended lifecycle is phase-separated: mutate the stack freely while
// the application boots, call Build exactly once per pipeline, then serve
// requests through the compiled handler. The Stack does no internal
// locking; mutation must not race with Build or with other mutations, and
// mutating after Build panics. Compiled handlers are safe for concurrent
// use provided the middleware layers themselves are.
//
// Example:
//
//	stack := strata.NewStack(func(s *strata.Stack) {
//	    s.Use(strata.Recovery)
//	    s.Use(strata.Logger)
//	    s.Use(strata.RequireAuth, "secret-key")
//	})
//	handler := stack.Build(appHandler)
type Stack struct {
	entries  []*Entry
	notifier Notifier
	sealed   bool
}

// NewStack creates an empty Stack. An optional configure callback receives
// the new stack so initial registration can happen in one expression.
func NewStack(configure ...func(*Stack)) *Stack {
	s := &Stack{}
	for _, fn := range configure {
		fn(s)
	}
	return s
}

// SetNotifier attaches the event sink consulted at Build time. When the
// notifier reports a listener for EventMiddlewareCall, every layer of the
// compiled pipeline is wrapped in an instrumentation shim. A nil notifier
// (the default) disables instrumentation.
func (s *Stack) SetNotifier(n Notifier) {
	s.mustBeMutable()
	s.notifier = n
}

// Use appends a middleware registration to the end of the stack. It will
// run after (inside) every previously registered middleware.
func (s *Stack) Use(ctor Constructor, args ...any) {
	s.mustBeMutable()
	s.entries = append(s.entries, newEntry(ctor, args))
}

// Prepend inserts a middleware registration at the front of the stack. It
// will run before (outside) every previously registered middleware.
func (s *Stack) Prepend(ctor Constructor, args ...any) {
	s.mustBeMutable()
	s.entries = append([]*Entry{newEntry(ctor, args)}, s.entries...)
}

// InsertBefore inserts a new registration immediately before target. The
// target is a position index, a Constructor, or a middleware name; identity
// targets resolve to the first matching registration. Returns a
// *NotFoundError if the target does not resolve.
func (s *Stack) InsertBefore(target any, ctor Constructor, args ...any) error {
	s.mustBeMutable()

	i := s.indexOf(target)
	if i < 0 {
		return &NotFoundError{Target: target, Operation: "insert before"}
	}
	s.insertAt(i, newEntry(ctor, args))
	return nil
}

// InsertAfter inserts a new registration immediately after target, under
// the same resolution rules as InsertBefore.
func (s *Stack) InsertAfter(target any, ctor Constructor, args ...any) error {
	s.mustBeMutable()

	i := s.indexOf(target)
	if i < 0 {
		return &NotFoundError{Target: target, Operation: "insert after"}
	}
	s.insertAt(i+1, newEntry(ctor, args))
	return nil
}

// Swap replaces the first registration matching target with a new one at
// the same position. Everything else keeps its relative order. Returns a
// *NotFoundError if the target does not resolve, leaving the stack
// unmodified.
func (s *Stack) Swap(target any, ctor Constructor, args ...any) error {
	s.mustBeMutable()

	i := s.indexOf(target)
	if i < 0 {
		return &NotFoundError{Target: target, Operation: "swap"}
	}
	s.entries[i] = newEntry(ctor, args)
	return nil
}

// Delete removes every registration matching target. Unlike the insert
// operations it is not an error when nothing matches; deleting an
// unregistered middleware is a no-op.
func (s *Stack) Delete(target any) {
	s.mustBeMutable()

	kept := s.entries[:0]
	for _, e := range s.entries {
		if !e.Matches(target) {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

// Len returns the number of registrations.
func (s *Stack) Len() int {
	return len(s.entries)
}

// At returns the registration at position i, or nil when i is out of range.
func (s *Stack) At(i int) *Entry {
	if i < 0 || i >= len(s.entries) {
		return nil
	}
	return s.entries[i]
}

// Last returns the innermost registration, or nil for an empty stack.
func (s *Stack) Last() *Entry {
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[len(s.entries)-1]
}

// Entries returns the registrations in order. The returned slice is a
// copy; mutating it does not affect the stack.
func (s *Stack) Entries() []*Entry {
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clone returns a new, mutable Stack with the same registrations. The two
// stacks share Entry values but not the sequence: mutating one never
// affects the other.
func (s *Stack) Clone() *Stack {
	return &Stack{
		entries:  append([]*Entry(nil), s.entries...),
		notifier: s.notifier,
	}
}

// Build compiles the stack into a single Handler terminating at app.
//
// The registrations are folded last-to-first so that each layer receives
// the already-built chain of everything registered after it; invoking the
// result runs the layers in registration order and app last. Whether the
// pipeline is instrumented is decided here, once, by asking the notifier
// for a listener; it is not re-checked per layer or per request.
//
// Build seals the stack: any later structural mutation panics. Build may
// be called again on a sealed stack (for example to compile the same
// pipeline around a different terminal handler).
func (s *Stack) Build(app Handler) Handler {
	if app == nil {
		panic("strata: Build requires a terminal handler")
	}

	instrumenting := s.notifier != nil && s.notifier.Listening(EventMiddlewareCall)
	s.sealed = true

	h := app
	for i := len(s.entries) - 1; i >= 0; i-- {
		if instrumenting {
			h = buildInstrumented(s.entries[i], h, s.notifier)
		} else {
			h = s.entries[i].build(h)
		}
	}
	return h
}

// indexOf resolves a target to a position. Index targets must be in
// range; identity targets resolve to the first match, scanning from the
// front. Returns -1 when the target does not resolve.
func (s *Stack) indexOf(target any) int {
	if i, ok := target.(int); ok {
		if i < 0 || i >= len(s.entries) {
			return -1
		}
		return i
	}

	for i, e := range s.entries {
		if e.Matches(target) {
			return i
		}
	}
	return -1
}

// insertAt places e at position i, shifting everything at and after i one
// slot right. i must be in [0, len].
func (s *Stack) insertAt(i int, e *Entry) {
	s.entries = append(s.entries, nil)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

// mustBeMutable panics when the stack has been sealed by Build. Mutating
// a compiled stack is a programming error: the already-built pipeline
// would not observe the change.
func (s *Stack) mustBeMutable() {
	if s.sealed {
		panic("strata: middleware stack is sealed; mutate it before calling Build")
	}
}

// NotFoundError is returned by InsertBefore, InsertAfter and Swap when
// their target does not resolve to a registration.
type NotFoundError struct {
	Target    any
	Operation string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("strata: no middleware to %s: %s", e.Operation, describeTarget(e.Target))
}

// describeTarget renders a target for diagnostics, naming constructors
// the same way Entry.Name does.
func describeTarget(target any) string {
	switch t := target.(type) {
	case Constructor:
		return (&Entry{ctor: t}).Name()
	case func(Handler, []any, Block) Handler:
		return (&Entry{ctor: t}).Name()
	case *Entry:
		if t != nil {
			return t.Name()
		}
	}
	return fmt.Sprintf("%v", target)
}
