package analysis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"gstate/internal/cache"
	"gstate/internal/cfg"
	"gstate/internal/config"
	"gstate/internal/issue"
)

type Analyzer struct {
	conf  *config.Config
	store *cache.Store
}

// NewAnalyzer returns an analyzer. store may be nil to disable the verdict
// cache.
func NewAnalyzer(conf *config.Config, store *cache.Store) *Analyzer {
	return &Analyzer{conf: conf, store: store}
}

// Report is the outcome of one analysis run.
type Report struct {
	Methods int
	Issues  []*issue.Issue
	// Skipped maps a method to the error that stopped its analysis.
	Skipped map[string]error
	Elapsed time.Duration
}

// Load converts the functions of a Go source file into methods. A non-empty
// name selects a single function. Functions that cannot be converted are
// logged and left out.
func Load(filename string, src interface{}, name string) ([]*cfg.Method, error) {
	pkg, err := cfg.LoadSource(filename, src)
	if err != nil {
		return nil, err
	}
	fns := cfg.Functions(pkg)
	if name != "" {
		fn := cfg.Lookup(pkg, name)
		if fn == nil {
			return nil, errors.Errorf("function %s not found in %s", name, filename)
		}
		m, err := cfg.FromSSA(fn)
		if err != nil {
			return nil, errors.Wrapf(err, "FromSSA %s", name)
		}
		return []*cfg.Method{m}, nil
	}
	var methods []*cfg.Method
	for _, fn := range fns {
		m, err := cfg.FromSSA(fn)
		if err != nil {
			log.Warnf("skipping %s: %v", cfg.MethodName(fn), err)
			continue
		}
		methods = append(methods, m)
	}
	return methods, nil
}

// Run analyzes the methods on at most conf.Workers concurrent sessions. A
// method whose lowering, slicing or encoding fails is skipped; only
// cancellation of ctx aborts the run.
func (a *Analyzer) Run(ctx context.Context, methods []*cfg.Method) (*Report, error) {
	if len(methods) == 0 {
		return nil, errors.New("no method found")
	}
	startTime := time.Now()
	report := &Report{Methods: len(methods), Skipped: make(map[string]error)}
	results := make([][]*issue.Issue, len(methods))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.conf.Workers)
	for i, m := range methods {
		i, m := i, m
		g.Go(func() error {
			log.Infof("analyzing method %s", m)
			issues, err := a.analyze(gctx, m)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Errorf("skipping %s: %v", m, err)
				mu.Lock()
				report.Skipped[m.String()] = err
				mu.Unlock()
				return nil
			}
			results[i] = issues
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrapf(err, "analysis interrupted")
	}
	for _, issues := range results {
		report.Issues = append(report.Issues, issues...)
	}
	report.Elapsed = time.Since(startTime)
	log.Infof("total issues found: %d in %d methods (%d skipped)", len(report.Issues), len(methods), len(report.Skipped))
	return report, nil
}

func (a *Analyzer) analyze(ctx context.Context, m *cfg.Method) ([]*issue.Issue, error) {
	s, err := NewSession(m, a.conf, a.store)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx)
}

// SkippedMethods returns the skipped method names in order.
func (r *Report) SkippedMethods() []string {
	names := make([]string, 0, len(r.Skipped))
	for name := range r.Skipped {
		names = append(names, name)
	}
	slices.SortFunc(names, strings.Compare)
	return names
}
