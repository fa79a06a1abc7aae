package strata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// recorder collects the order in which middleware layers run.
type recorder struct {
	calls []string
}

func tagged(rec *recorder, name string, next Handler) Handler {
	return func(ctx context.Context, r *http.Request) Response {
		rec.calls = append(rec.calls, name)
		return next(ctx, r)
	}
}

// Distinct named constructors so identity-based operations have real
// identities to resolve. Each takes the shared recorder as its first arg.
func mwA(next Handler, args []any, block Block) Handler {
	return tagged(args[0].(*recorder), "A", next)
}

func mwB(next Handler, args []any, block Block) Handler {
	return tagged(args[0].(*recorder), "B", next)
}

func mwC(next Handler, args []any, block Block) Handler {
	return tagged(args[0].(*recorder), "C", next)
}

func mwX(next Handler, args []any, block Block) Handler {
	return tagged(args[0].(*recorder), "X", next)
}

func terminal(rec *recorder) Handler {
	return func(ctx context.Context, r *http.Request) Response {
		rec.calls = append(rec.calls, "app")
		return JSON(200, map[string]string{"message": "ok"})
	}
}

func invoke(h Handler) Response {
	return h(context.Background(), httptest.NewRequest("GET", "/", nil))
}

func middlewareNames(s *Stack) []string {
	var names []string
	for _, e := range s.Entries() {
		names = append(names, e.Name())
	}
	return names
}

func TestBuildRunsMiddlewareInRegistrationOrder(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)
	stack.Use(mwB, rec)
	stack.Use(mwC, rec)

	invoke(stack.Build(terminal(rec)))

	want := []string{"A", "B", "C", "app"}
	if strings.Join(rec.calls, ",") != strings.Join(want, ",") {
		t.Errorf("expected call order %v, got %v", want, rec.calls)
	}
}

func TestNewStackConfigureCallback(t *testing.T) {
	rec := &recorder{}

	stack := NewStack(func(s *Stack) {
		s.Use(mwA, rec)
		s.Use(mwB, rec)
	})

	if stack.Len() != 2 {
		t.Fatalf("expected 2 registrations, got %d", stack.Len())
	}
}

func TestPrepend(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwB, rec)
	stack.Prepend(mwA, rec)

	invoke(stack.Build(terminal(rec)))

	if strings.Join(rec.calls, ",") != "A,B,app" {
		t.Errorf("expected prepended middleware to run first, got %v", rec.calls)
	}
}

func TestIntrospection(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)
	stack.Use(mwB, rec)

	if stack.Len() != 2 {
		t.Errorf("expected Len 2, got %d", stack.Len())
	}
	if !stack.At(0).Matches(Constructor(mwA)) {
		t.Error("At(0) should be mwA")
	}
	if !stack.Last().Matches(Constructor(mwB)) {
		t.Error("Last should be mwB")
	}
	if stack.At(2) != nil {
		t.Error("out-of-range At should return nil, not panic")
	}
	if stack.At(-1) != nil {
		t.Error("negative At should return nil")
	}

	entries := stack.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	entries[0] = nil
	if stack.At(0) == nil {
		t.Error("mutating the Entries copy must not affect the stack")
	}
}

func TestInsertBefore(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)
	stack.Use(mwC, rec)

	if err := stack.InsertBefore(mwC, mwB, rec); err != nil {
		t.Fatalf("InsertBefore failed: %v", err)
	}

	invoke(stack.Build(terminal(rec)))

	if strings.Join(rec.calls, ",") != "A,B,C,app" {
		t.Errorf("expected A,B,C,app, got %v", rec.calls)
	}
}

func TestInsertBeforeByIndex(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)
	stack.Use(mwC, rec)

	if err := stack.InsertBefore(1, mwB, rec); err != nil {
		t.Fatalf("InsertBefore by index failed: %v", err)
	}
	if !stack.At(1).Matches(Constructor(mwB)) {
		t.Errorf("expected mwB at position 1, got %v", middlewareNames(stack))
	}
}

func TestInsertBeforeByName(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwC, rec)

	if err := stack.InsertBefore("strata.mwC", mwA, rec); err != nil {
		t.Fatalf("InsertBefore by name failed: %v", err)
	}
	if !stack.At(0).Matches(Constructor(mwA)) {
		t.Errorf("expected mwA first, got %v", middlewareNames(stack))
	}
}

func TestInsertAfter(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)
	stack.Use(mwC, rec)

	if err := stack.InsertAfter(mwA, mwB, rec); err != nil {
		t.Fatalf("InsertAfter failed: %v", err)
	}

	invoke(stack.Build(terminal(rec)))

	if strings.Join(rec.calls, ",") != "A,B,C,app" {
		t.Errorf("expected A,B,C,app, got %v", rec.calls)
	}
}

func TestInsertAfterLast(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)

	if err := stack.InsertAfter(mwA, mwB, rec); err != nil {
		t.Fatalf("InsertAfter failed: %v", err)
	}
	if !stack.Last().Matches(Constructor(mwB)) {
		t.Errorf("expected mwB last, got %v", middlewareNames(stack))
	}
}

func TestInsertNotFound(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)

	for _, target := range []any{mwX, 5, -1, "strata.nope"} {
		if err := stack.InsertBefore(target, mwB, rec); err == nil {
			t.Errorf("InsertBefore(%v) should fail", target)
		} else {
			var nf *NotFoundError
			if !errors.As(err, &nf) {
				t.Errorf("expected *NotFoundError, got %T", err)
			}
		}
		if err := stack.InsertAfter(target, mwB, rec); err == nil {
			t.Errorf("InsertAfter(%v) should fail", target)
		}
	}

	if stack.Len() != 1 {
		t.Errorf("failed inserts must leave the stack unmodified, got %d entries", stack.Len())
	}
}

func TestSwap(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)
	stack.Use(mwB, rec)
	stack.Use(mwC, rec)

	if err := stack.Swap(mwB, mwX, rec); err != nil {
		t.Fatalf("Swap failed: %v", err)
	}

	if stack.Len() != 3 {
		t.Errorf("Swap must not change length, got %d", stack.Len())
	}

	invoke(stack.Build(terminal(rec)))

	if strings.Join(rec.calls, ",") != "A,X,C,app" {
		t.Errorf("expected A,X,C,app, got %v", rec.calls)
	}
}

func TestSwapFirstMatchOnly(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)
	stack.Use(mwB, rec)
	stack.Use(mwA, rec)

	if err := stack.Swap(mwA, mwX, rec); err != nil {
		t.Fatalf("Swap failed: %v", err)
	}

	invoke(stack.Build(terminal(rec)))

	if strings.Join(rec.calls, ",") != "X,B,A,app" {
		t.Errorf("Swap should replace only the first occurrence, got %v", rec.calls)
	}
}

func TestSwapNotFound(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)

	err := stack.Swap(mwX, mwB, rec)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
	if nf.Operation != "swap" {
		t.Errorf("expected operation %q, got %q", "swap", nf.Operation)
	}
	if stack.Len() != 1 || !stack.At(0).Matches(Constructor(mwA)) {
		t.Error("failed Swap must leave the stack unmodified")
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	err := &NotFoundError{Target: Constructor(mwX), Operation: "insert before"}

	msg := err.Error()
	if !strings.Contains(msg, "insert before") {
		t.Errorf("error should name the operation: %s", msg)
	}
	if !strings.Contains(msg, "mwX") {
		t.Errorf("error should name the target middleware: %s", msg)
	}
}

func TestDeleteRemovesAllMatches(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)
	stack.Use(mwB, rec)
	stack.Use(mwA, rec, "different", "args")

	stack.Delete(mwA)

	if stack.Len() != 1 {
		t.Fatalf("expected only mwB to remain, got %v", middlewareNames(stack))
	}
	if !stack.At(0).Matches(Constructor(mwB)) {
		t.Errorf("expected mwB, got %s", stack.At(0).Name())
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)

	stack.Delete(mwX)

	if stack.Len() != 1 {
		t.Errorf("deleting an unregistered middleware must not change the stack")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	rec := &recorder{}

	original := NewStack()
	original.Use(mwA, rec)
	original.Use(mwB, rec)

	clone := original.Clone()
	clone.Use(mwC, rec)
	clone.Delete(mwA)

	if original.Len() != 2 {
		t.Errorf("mutating the clone changed the original: %v", middlewareNames(original))
	}
	if clone.Len() != 2 {
		t.Errorf("expected clone to have mwB and mwC, got %v", middlewareNames(clone))
	}

	original.Delete(mwB)
	if clone.Len() != 2 {
		t.Errorf("mutating the original changed the clone: %v", middlewareNames(clone))
	}
}

func TestCloneOfSealedStackIsMutable(t *testing.T) {
	rec := &recorder{}

	original := NewStack()
	original.Use(mwA, rec)
	original.Build(terminal(rec))

	clone := original.Clone()
	clone.Use(mwB, rec)

	if clone.Len() != 2 {
		t.Errorf("expected mutable clone with 2 entries, got %d", clone.Len())
	}
}

func TestBuildSealsStack(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)
	stack.Build(terminal(rec))

	defer func() {
		if recover() == nil {
			t.Error("mutating a sealed stack should panic")
		}
	}()
	stack.Use(mwB, rec)
}

func TestBuildRequiresTerminalHandler(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Build(nil) should panic")
		}
	}()
	NewStack().Build(nil)
}

func TestBuildTwiceAroundDifferentTerminals(t *testing.T) {
	rec := &recorder{}

	stack := NewStack()
	stack.Use(mwA, rec)

	first := stack.Build(terminal(rec))
	second := stack.Build(func(ctx context.Context, r *http.Request) Response {
		rec.calls = append(rec.calls, "other")
		return JSON(200, nil)
	})

	invoke(first)
	invoke(second)

	if strings.Join(rec.calls, ",") != "A,app,A,other" {
		t.Errorf("unexpected call order: %v", rec.calls)
	}
}

// countingNotifier counts Listening queries without listening.
type countingNotifier struct {
	listeningCalls int
	listening      bool
}

func (n *countingNotifier) Listening(event string) bool {
	n.listeningCalls++
	return n.listening
}

func (n *countingNotifier) Instrument(event string, payload map[string]any, fn func()) {
	fn()
}

func TestBuildChecksListeningOnce(t *testing.T) {
	for _, entries := range []int{0, 1, 50} {
		rec := &recorder{}
		notifier := &countingNotifier{}

		stack := NewStack()
		stack.SetNotifier(notifier)
		for i := 0; i < entries; i++ {
			stack.Use(mwA, rec)
		}

		invoke(stack.Build(terminal(rec)))

		if notifier.listeningCalls != 1 {
			t.Errorf("with %d entries: expected exactly 1 Listening call per Build, got %d",
				entries, notifier.listeningCalls)
		}
	}
}
