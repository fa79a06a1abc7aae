package strata

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// Constructor builds one middleware layer around the next handler in the
// chain. It is invoked once, at Build time, with the registration args and
// the optional registration Block, and returns the handler for this layer.
//
// The returned handler is what serves requests; the Constructor itself only
// runs during compilation. A Constructor is also the middleware's identity:
// InsertBefore, InsertAfter, Swap and Delete locate registrations by
// comparing Constructor functions, never their args.
//
// Example:
//
//	func Gzip(next strata.Handler, args []any, block strata.Block) strata.Handler {
//	    level := args[0].(int)
//	    return func(ctx context.Context, r *http.Request) strata.Response {
//	        return compress(level, next(ctx, r))
//	    }
//	}
type Constructor func(next Handler, args []any, block Block) Handler

// Block is an optional construction-time closure forwarded to the
// Constructor. Its meaning is up to the middleware; a common pattern is for
// the Constructor to yield its configuration value to the block before
// returning. The Stack never invokes a Block itself.
//
// When the final registration argument passed to Use (or Prepend, Insert*,
// Swap) is a Block, it is split off and delivered through the block
// parameter instead of the args slice.
type Block func(v any)

// Entry is one registration in a Stack: a Constructor identity plus the
// arguments it will be constructed with. Entries are immutable once
// created.
type Entry struct {
	ctor  Constructor
	args  []any
	block Block
}

// newEntry creates an Entry, splitting a trailing Block out of args.
func newEntry(ctor Constructor, args []any) *Entry {
	if ctor == nil {
		panic("strata: nil middleware constructor")
	}

	var block Block
	if n := len(args); n > 0 {
		if b, ok := args[n-1].(Block); ok {
			block = b
			args = args[:n-1]
		}
	}

	// Copy so later mutation of the caller's slice can't leak in.
	owned := make([]any, len(args))
	copy(owned, args)

	return &Entry{ctor: ctor, args: owned, block: block}
}

// Name returns a human-readable name for the middleware, derived from the
// Constructor's function name (e.g. "strata.Logger"). Anonymous or
// unresolvable functions fall back to a type description.
func (e *Entry) Name() string {
	pc := reflect.ValueOf(e.ctor).Pointer()
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return fmt.Sprintf("%T", e.ctor)
	}

	name := fn.Name()
	// Drop the package path, keep "pkg.Func".
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	// Method values get a "-fm" suffix from the runtime.
	name = strings.TrimSuffix(name, "-fm")
	return name
}

// Args returns a copy of the registration arguments (without the Block).
func (e *Entry) Args() []any {
	out := make([]any, len(e.args))
	copy(out, e.args)
	return out
}

// Matches reports whether this entry has the given identity. The target
// may be a Constructor, another *Entry, or a middleware name as returned
// by Name. Registration args and blocks never participate in matching:
// two registrations of the same Constructor with different args are equal.
func (e *Entry) Matches(target any) bool {
	switch t := target.(type) {
	case *Entry:
		return t != nil && e.key() == t.key()
	case Constructor:
		return t != nil && e.key() == reflect.ValueOf(t).Pointer()
	case func(Handler, []any, Block) Handler:
		return t != nil && e.key() == reflect.ValueOf(t).Pointer()
	case string:
		return e.Name() == t
	default:
		return false
	}
}

// key is the comparable identity of the Constructor.
func (e *Entry) key() uintptr {
	return reflect.ValueOf(e.ctor).Pointer()
}

// build constructs this middleware layer around next.
func (e *Entry) build(next Handler) Handler {
	return e.ctor(next, e.args, e.block)
}
