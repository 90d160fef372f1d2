package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/pack/deps"
	"github.com/meigma/pack/internal/workpool"
	"github.com/meigma/pack/schema"
	"github.com/meigma/pack/table"
)

// ErrRuleExecutionFailed is wrapped in the message of findings that replace
// a failed rule.
var ErrRuleExecutionFailed = errors.New("diagnostics: rule execution failed")

// Target is one table to check.
type Target struct {
	Path  string
	Table *table.Table
}

// Archive is the part of the checked archive the archive rules and the
// path checks read.
type Archive interface {
	Paths() []string
	Dependencies() []string
}

// Input is everything one run checks.
type Input struct {
	Tables []Target

	// Name is the file name of the checked archive. An empty name skips
	// InvalidPackName.
	Name    string
	Archive Archive

	// Fingerprint is the digest of the inputs the dependency cache should
	// have been built from. An empty fingerprint skips
	// DependenciesCacheOutdated.
	Fingerprint digest.Digest
}

// Engine runs the rule catalogue. An Engine is safe for concurrent use.
type Engine struct {
	cache       *deps.Cache
	schemas     *schema.Store
	ignore      *IgnoreList
	banned      []string
	vanillaName string
	extra       map[table.Kind][]tableRule
	workers     int
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache sets the dependency cache references are resolved against.
func WithCache(c *deps.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithSchemas sets the store OutdatedTable compares versions against.
// Without it the highest version held by the cache is used.
func WithSchemas(s *schema.Store) Option {
	return func(e *Engine) {
		e.schemas = s
	}
}

// WithIgnoreList sets the ignore list.
func WithIgnoreList(l *IgnoreList) Option {
	return func(e *Engine) {
		e.ignore = l
	}
}

// WithBannedTables sets the tables BannedTable reports.
func WithBannedTables(names ...string) Option {
	return func(e *Engine) {
		for _, n := range names {
			e.banned = append(e.banned, "db/"+strings.ToLower(deps.TableName(n))+"/")
		}
	}
}

// WithVanillaTableName sets the file name the base game uses for its
// tables. TableIsDataCoring reports tables using it. Without it a file
// named after its own table folder is reported.
func WithVanillaTableName(name string) Option {
	return func(e *Engine) {
		e.vanillaName = name
	}
}

// CheckFunc is a custom rule body.
type CheckFunc func(c *Check) error

// WithRule appends a custom rule for tables of kind. It runs after the
// built-in rules for that kind.
func WithRule(id Rule, severity Severity, kind table.Kind, fn CheckFunc) Option {
	return func(e *Engine) {
		if e.extra == nil {
			e.extra = make(map[table.Kind][]tableRule)
		}
		e.extra[kind] = append(e.extra[kind], tableRule{id: id, severity: severity, check: fn})
	}
}

// WithWorkers sets the number of tables checked concurrently.
// Values < 0 force serial processing. Zero uses automatic heuristics.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithLogger sets the logger for rule failures.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) log() *slog.Logger {
	if e.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.logger
}

func (e *Engine) rulesFor(kind table.Kind) []tableRule {
	var base []tableRule
	switch kind {
	case table.KindDB:
		base = tableRules
	case table.KindLoc:
		base = locRules
	}
	if len(e.extra[kind]) == 0 {
		return base
	}
	return append(append([]tableRule(nil), base...), e.extra[kind]...)
}

// Run checks every table of in, then the archive, then the dependency
// cache. Cancellation is checked between tables; a cancelled run returns
// the context error and no findings.
func (e *Engine) Run(ctx context.Context, in Input) ([]Finding, error) {
	start := time.Now()
	run := &runState{
		engine: e,
		local:  newLocalIndex(in.Tables),
		paths:  newPathSet(in.Archive),
	}
	pool := workpool.New(workpool.WithWorkers(e.workers), workpool.WithLogger(e.logger))
	perTable, err := workpool.Map(ctx, pool, in.Tables, func(_ context.Context, _ int, t Target) ([]Finding, error) {
		return run.checkTable(t), nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Finding
	for _, fs := range perTable {
		out = append(out, fs...)
	}
	out = append(out, e.checkArchive(in)...)
	out = append(out, e.checkCache(in)...)

	e.log().Debug("diagnostics finished",
		"tables", len(in.Tables),
		"findings", len(out),
		"elapsed", time.Since(start))
	return out, nil
}

// runState is shared read-only by the workers of one run.
type runState struct {
	engine *Engine
	local  *localIndex
	paths  pathSet
}

func (r *runState) checkTable(t Target) []Finding {
	if t.Table == nil {
		return nil
	}
	sc := r.engine.ignore.scope(t.Path)
	if sc.skip {
		return nil
	}
	c := &Check{
		Path:  t.Path,
		Table: t.Table,
		Cache: r.engine.cache,
		state: r,
		scope: sc,
	}
	var out []Finding
	for _, rule := range r.engine.rulesFor(t.Table.Kind) {
		if sc.ignored(rule.id, "") {
			continue
		}
		out = append(out, c.run(rule)...)
	}
	return out
}

// Check is the state one rule sees while checking one table.
type Check struct {
	Path  string
	Table *table.Table

	// Cache is the dependency cache of the run. It may be nil.
	Cache *deps.Cache

	state    *runState
	scope    *scope
	rule     tableRule
	findings []Finding
}

// Report records a finding of the running rule at its catalogued severity.
func (c *Check) Report(cells []Cell, format string, args ...any) {
	c.reportAs(c.rule.severity, cells, format, args...)
}

func (c *Check) reportAs(sev Severity, cells []Cell, format string, args ...any) {
	c.findings = append(c.findings, Finding{
		Severity: sev,
		Rule:     c.rule.id,
		Path:     c.Path,
		Cells:    cells,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Ignored reports whether the running rule is suppressed for field.
func (c *Check) Ignored(field string) bool {
	return c.scope.ignored(c.rule.id, field)
}

// FileName returns the last element of the table's entry path.
func (c *Check) FileName() string { return path.Base(c.Path) }

// run executes one rule. A rule that returns an error or panics has its
// findings replaced by a single RuleExecutionFailed finding.
func (c *Check) run(rule tableRule) (findings []Finding) {
	c.rule = rule
	c.findings = nil
	defer func() {
		if p := recover(); p != nil {
			findings = []Finding{c.failed(fmt.Errorf("panic: %v", p))}
		}
	}()
	if err := rule.check(c); err != nil {
		return []Finding{c.failed(err)}
	}
	return c.findings
}

func (c *Check) failed(err error) Finding {
	c.state.engine.log().Warn("diagnostic rule failed", "rule", c.rule.id, "path", c.Path, "error", err)
	return Finding{
		Severity: Error,
		Rule:     RuleExecutionFailed,
		Path:     c.Path,
		Message:  fmt.Errorf("%w: %s: %w", ErrRuleExecutionFailed, c.rule.id, err).Error(),
	}
}

func (e *Engine) checkArchive(in Input) []Finding {
	var out []Finding
	if in.Name != "" && !e.ignore.Ignored(in.Name, InvalidPackName, "") && strings.Contains(in.Name, " ") {
		out = append(out, Finding{
			Severity: Error,
			Rule:     InvalidPackName,
			Path:     in.Name,
			Message:  fmt.Sprintf("Invalid archive name %q: archive names cannot contain spaces.", in.Name),
		})
	}
	if in.Archive == nil || e.ignore.Ignored(in.Name, InvalidDependencyPackName, "") {
		return out
	}
	for i, dep := range in.Archive.Dependencies() {
		if dep != "" && strings.HasSuffix(dep, ".pack") && !strings.Contains(dep, " ") {
			continue
		}
		out = append(out, Finding{
			Severity: Error,
			Rule:     InvalidDependencyPackName,
			Path:     in.Name,
			Cells:    []Cell{{Row: i, Column: 0}},
			Message:  fmt.Sprintf("Invalid dependency archive name %q.", dep),
		})
	}
	return out
}

func (e *Engine) checkCache(in Input) []Finding {
	if _, ok := e.cache.Snapshot(deps.TierVanilla); !ok {
		if e.ignore.Disabled(DependenciesCacheNotGenerated) {
			return nil
		}
		return []Finding{{
			Severity: Error,
			Rule:     DependenciesCacheNotGenerated,
			Message:  "The dependency cache has not been generated for the game data.",
		}}
	}
	if in.Fingerprint == "" || !e.cache.Stale(in.Fingerprint) || e.ignore.Disabled(DependenciesCacheOutdated) {
		return nil
	}
	return []Finding{{
		Severity: Error,
		Rule:     DependenciesCacheOutdated,
		Message:  "The dependency cache is outdated and must be regenerated.",
	}}
}
