// Package predicate compiles wait conditions written as expr-lang
// expressions into notify.Checker values.
//
// Expressions see the snapshot through these variables:
//
//	data   raw bytes
//	text   data as a string
//	json   data decoded as JSON, nil if it is not valid JSON
//	stamp  change stamp
//	size   length of data
//
// A boolean result decides the wait directly. Any other non-nil result
// satisfies the wait and becomes its value.
//
//	c, err := predicate.Compile(`json.phase == "ready" && stamp > 3`)
//	v, err := notify.WaitUntilBoxed(reg, name, c, 10*time.Second)
package predicate

import (
	"encoding/json"
	"errors"
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/codewandler/notify-go/core/cache"
	"github.com/codewandler/notify-go/core/notify"
	"github.com/codewandler/notify-go/core/state"
)

var (
	ErrInvalidExpression = errors.New("invalid expression")
	ErrEvaluation        = errors.New("expression failed")
)

const defaultCacheSize = 256

type Option func(*Compiler)

// WithCacheSize bounds the number of compiled programs kept.
func WithCacheSize(n int) Option {
	return func(c *Compiler) { c.cacheSize = n }
}

// Compiler compiles expressions and keeps the programs in an LRU cache.
type Compiler struct {
	cacheSize int
	programs  *cache.LRU[string, *exprvm.Program]
}

func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(c)
	}
	c.programs = cache.NewLRU[string, *exprvm.Program](cache.LRUOpts{Size: c.cacheSize})
	return c
}

var defaultCompiler = NewCompiler()

// Compile uses a shared package-level compiler.
func Compile(expression string) (*Expr, error) { return defaultCompiler.Compile(expression) }

func MustCompile(expression string) *Expr {
	e, err := Compile(expression)
	if err != nil {
		panic(err)
	}
	return e
}

func (c *Compiler) Compile(expression string) (*Expr, error) {
	if expression == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidExpression)
	}
	if p, ok := c.programs.Get(expression); ok {
		return &Expr{source: expression, program: p}, nil
	}
	p, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidExpression, expression, err)
	}
	c.programs.Put(expression, p)
	return &Expr{source: expression, program: p}, nil
}

// Cached returns the number of programs in the cache.
func (c *Compiler) Cached() int { return c.programs.Len() }

// Expr is a compiled expression. It is safe for concurrent use.
type Expr struct {
	source  string
	program *exprvm.Program
}

func (e *Expr) String() string { return e.source }

func (e *Expr) Check(snap state.Snapshot) (any, bool, error) {
	out, err := exprlang.Run(e.program, environment(snap))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %q at stamp %d: %w", ErrEvaluation, e.source, snap.Stamp, err)
	}
	switch v := out.(type) {
	case nil:
		return nil, false, nil
	case bool:
		return v, v, nil
	default:
		return v, true, nil
	}
}

func environment(snap state.Snapshot) map[string]any {
	env := map[string]any{
		"data":  snap.Data,
		"text":  string(snap.Data),
		"json":  nil,
		"stamp": snap.Stamp.Uint64(),
		"size":  len(snap.Data),
	}
	if len(snap.Data) > 0 && json.Valid(snap.Data) {
		var doc any
		if err := json.Unmarshal(snap.Data, &doc); err == nil {
			env["json"] = doc
		}
	}
	return env
}

var _ notify.Checker = (*Expr)(nil)
