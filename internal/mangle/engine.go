package mangle

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"taskingbot-bridge/internal/config"
)

//go:embed schema.mg
var defaultSchema string

// ErrNotReady is returned by queries when the ledger is disabled or has no
// program loaded.
var ErrNotReady = errors.New("fact ledger not ready")

// Fact is one normalized observation: an action result, a batch outcome or a
// page event.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// Page telemetry may be sampled under buffer pressure. Action and batch facts
// never are.
func defaultLowValuePredicates() map[string]bool {
	return map[string]bool{
		"net_request":     true,
		"net_response":    true,
		"net_correlation": true,
		"console_event":   false,
	}
}

// Engine keeps a bounded buffer of facts and evaluates the bridge rules over
// them with Mangle.
type Engine struct {
	cfg          config.MangleConfig
	logger       *zap.Logger
	mu           sync.RWMutex
	schemaLoaded bool

	programInfo *analysis.ProgramInfo
	source      []byte
	store       factstore.FactStore

	facts []Fact
	index map[string][]int

	samplingRate       float64
	predicateCounts    map[string]int
	lowValuePredicates map[string]bool
}

// NewEngine builds the ledger. With no schema path the embedded bridge schema
// is loaded.
func NewEngine(cfg config.MangleConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:                cfg,
		logger:             logger.With(zap.String("component", "mangle")),
		facts:              make([]Fact, 0, cfg.FactBufferLimit),
		index:              make(map[string][]int),
		store:              factstore.NewSimpleInMemoryStore(),
		samplingRate:       1.0,
		predicateCounts:    make(map[string]int),
		lowValuePredicates: defaultLowValuePredicates(),
	}
	if !cfg.Enable {
		return e, nil
	}

	if cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
		return e, nil
	}
	if err := e.loadSource([]byte(defaultSchema)); err != nil {
		return nil, fmt.Errorf("embedded schema: %w", err)
	}
	return e, nil
}

// LoadSchema replaces the program with the one in path.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return e.loadSource(data)
}

func (e *Engine) loadSource(src []byte) error {
	unit, err := parse.Unit(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.programInfo = info
	e.source = src
	e.schemaLoaded = true
	return nil
}

// AddRule extends the loaded program with additional declarations and rules.
// The whole program is re-analyzed so new rules stratify with the schema.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}
	if _, err := parse.Unit(bytes.NewReader([]byte(ruleSource))); err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}

	e.mu.RLock()
	src := make([]byte, 0, len(e.source)+len(ruleSource)+1)
	src = append(src, e.source...)
	e.mu.RUnlock()
	src = append(src, '\n')
	src = append(src, ruleSource...)

	if err := e.loadSource(src); err != nil {
		return fmt.Errorf("add rule: %w", err)
	}
	return nil
}

// AddFacts appends facts to the buffer and the store, then re-evaluates the
// program.
func (e *Engine) AddFacts(_ context.Context, facts []Fact) error {
	if !e.cfg.Enable || len(facts) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.updateSamplingRate()
	filtered := make([]Fact, 0, len(facts))
	for _, f := range facts {
		if f.Timestamp.IsZero() {
			f.Timestamp = time.Now()
		}
		if e.shouldAcceptFact(f) {
			filtered = append(filtered, f)
			e.predicateCounts[f.Predicate]++
		}
	}

	baseIdx := len(e.facts)
	e.facts = append(e.facts, filtered...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		e.facts = e.facts[len(e.facts)-e.cfg.FactBufferLimit:]
		e.rebuildIndex()
	} else {
		for i, f := range filtered {
			e.index[f.Predicate] = append(e.index[f.Predicate], baseIdx+i)
		}
	}

	for _, f := range filtered {
		e.store.Add(e.factToAtom(f))
	}

	if e.schemaLoaded && e.programInfo != nil {
		if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
			e.logger.Warn("rule evaluation failed", zap.Error(err))
			return fmt.Errorf("eval program after fact insertion: %w", err)
		}
	}
	return nil
}

// updateSamplingRate lowers acceptance of low-value facts as the buffer fills.
func (e *Engine) updateSamplingRate() {
	if e.cfg.FactBufferLimit <= 0 {
		e.samplingRate = 1.0
		return
	}
	fill := float64(len(e.facts)) / float64(e.cfg.FactBufferLimit)
	switch {
	case fill < 0.5:
		e.samplingRate = 1.0
	case fill < 0.7:
		e.samplingRate = 0.8
	case fill < 0.85:
		e.samplingRate = 0.5
	case fill < 0.95:
		e.samplingRate = 0.2
	default:
		e.samplingRate = 0.1
	}
}

func (e *Engine) shouldAcceptFact(f Fact) bool {
	if !e.lowValuePredicates[f.Predicate] || e.samplingRate >= 1.0 {
		return true
	}
	return rand.Float64() < e.samplingRate
}

// SamplingRate reports the current acceptance rate for low-value facts.
func (e *Engine) SamplingRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.samplingRate
}

// Query evaluates a single atom such as `failed_action(B, A, T).` and returns
// one binding per matching fact. When the store has no match the buffer is
// scanned directly.
func (e *Engine) Query(_ context.Context, queryStr string) ([]QueryResult, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, ErrNotReady
	}
	unit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, errors.New("no query found")
	}
	queryAtom := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
				result[v.Symbol] = convertConstant(atom.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	if len(results) == 0 {
		results = append(results, e.queryBuffer(queryAtom.Predicate.Symbol, queryAtom.Args)...)
	}
	return results, nil
}

func (e *Engine) queryBuffer(predicate string, queryArgs []ast.BaseTerm) []QueryResult {
	results := make([]QueryResult, 0)
	for _, idx := range e.index[predicate] {
		if idx < 0 || idx >= len(e.facts) {
			continue
		}
		f := e.facts[idx]
		if len(f.Args) < len(queryArgs) {
			continue
		}
		result := make(QueryResult)
		matches := true
		for i, q := range queryArgs {
			switch arg := q.(type) {
			case ast.Variable:
				if arg.Symbol != "_" {
					result[arg.Symbol] = f.Args[i]
				}
			case ast.Constant:
				if fmt.Sprintf("%v", f.Args[i]) != fmt.Sprintf("%v", convertConstant(arg)) {
					matches = false
				}
			}
			if !matches {
				break
			}
		}
		if matches {
			results = append(results, result)
		}
	}
	return results
}

// Evaluate re-runs the program and returns every fact of predicate, derived
// or recorded.
func (e *Engine) Evaluate(_ context.Context, predicate string) ([]Fact, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, ErrNotReady
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return nil, fmt.Errorf("eval program: %w", err)
	}

	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	queryAtom := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}}
	if arity >= 0 {
		args := make([]ast.BaseTerm, arity)
		for i := range args {
			args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
		}
		queryAtom.Args = args
	}

	facts := make([]Fact, 0)
	now := time.Now()
	err := e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		facts = append(facts, atomToFact(atom, now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return facts, nil
}

// QueryTemporal returns buffered facts of predicate inside (after, before).
// Zero bounds are open.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Fact, 0)
	for _, idx := range e.index[predicate] {
		if idx < 0 || idx >= len(e.facts) {
			continue
		}
		f := e.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) && (before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}
	return results
}

// FactsByPredicate returns buffered facts of predicate.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	return e.QueryTemporal(predicate, time.Time{}, time.Time{})
}

// Facts returns a copy of the buffer.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// Ready reports whether queries can run. A disabled ledger is trivially ready.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemaLoaded || !e.cfg.Enable
}

func (e *Engine) factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}, Args: args}
}

func atomToFact(atom ast.Atom, at time.Time) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: at}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(c ast.BaseTerm) interface{} {
	switch term := c.(type) {
	case nil:
		return nil
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			val, _ := term.StringValue()
			return val
		case ast.NumberType:
			if val, err := term.NumberValue(); err == nil {
				return val
			}
		case ast.Float64Type:
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}
