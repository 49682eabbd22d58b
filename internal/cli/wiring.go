package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/orq/internal/config"
	"github.com/roach88/orq/internal/engine"
	"github.com/roach88/orq/internal/l2"
	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/plan"
	"github.com/roach88/orq/internal/result"
	"github.com/roach88/orq/internal/store"
)

// QueryOptions are the per-query flags shared by compile and run.
type QueryOptions struct {
	Params      []string // name=value or position=value
	Lists       []string // name=v1,v2,...
	Fetch       []string // association paths to fetch-join
	FirstResult int
	MaxResults  int
}

// runtime is an engine with the resources it owns.
type runtime struct {
	engine *engine.Engine
	store  *store.Store
	region l2.Region
	logger *slog.Logger
}

func (r *runtime) Close() error {
	var errs []error
	if r.region != nil {
		errs = append(errs, r.region.Close())
	}
	errs = append(errs, r.store.Close())
	return errors.Join(errs...)
}

// loadMapping reads a CUE mapping document.
func loadMapping(path string) (*metamodel.Model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("mapping not found: %s", path))
	}
	model, err := metamodel.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return model, nil
}

// newRuntime wires an engine for model from the configuration. A non-empty
// dbPath overrides the configured database.
func newRuntime(opts *RootOptions, model *metamodel.Model, dbPath string, logOut io.Writer) (*runtime, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Log
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	logger := config.NewLogger(logCfg, logOut)

	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("database opened", "path", dbPath)

	var cache *plan.Cache
	if cfg.Query.PlanCache.Enabled {
		cache = plan.NewCache()
	}
	compiler := plan.NewCompiler(model, result.NewInstantiationRegistry(), cache)
	compiler.Logger = logger

	region, err := openRegion(cfg.Cache)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open cache region", err)
	}

	engineOpts := []engine.EngineOption{
		engine.WithLogger(logger),
		engine.WithStrictParameters(cfg.Query.StrictParameters),
		engine.WithMaxFetchDepth(cfg.Query.MaxFetchDepth),
		engine.WithFetchBatchSize(cfg.Query.FetchBatchSize),
	}
	if region != nil {
		engineOpts = append(engineOpts, engine.WithRegion(region))
		logger.Debug("cache region opened", "region", cfg.Cache.Region)
	}

	return &runtime{
		engine: engine.New(st, compiler, engineOpts...),
		store:  st,
		region: region,
		logger: logger,
	}, nil
}

func openRegion(c config.CacheConfig) (l2.Region, error) {
	switch c.Region {
	case "memory":
		return l2.NewMemoryRegion(), nil
	case "badger":
		return l2.NewBadgerRegion(l2.BadgerOptions{Dir: c.BadgerDir, InMemory: c.BadgerDir == ""})
	}
	return nil, nil
}

// prepare creates a query and applies the bindings and options of opts.
func prepare(s *engine.Session, text string, opts *QueryOptions) (*engine.Query, error) {
	q, err := s.CreateQuery(text)
	if err != nil {
		return nil, err
	}

	params, err := parseAssignments(opts.Params)
	if err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(params) {
		if err := q.SetParameter(parameterKey(key), params[key]); err != nil {
			return nil, err
		}
	}

	lists, err := parseLists(opts.Lists)
	if err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(lists) {
		if err := q.SetParameterList(parameterKey(key), lists[key]); err != nil {
			return nil, err
		}
	}

	if len(opts.Fetch) > 0 {
		q.SetFetchGraph(opts.Fetch...)
	}
	if err := q.SetFirstResult(opts.FirstResult); err != nil {
		return nil, err
	}
	if err := q.SetMaxResults(opts.MaxResults); err != nil {
		return nil, err
	}
	return q, nil
}

// parseAssignments parses key=value flags. Values are YAML scalars, so
// 3 binds an integer and '3' a string.
func parseAssignments(flags []string) (map[string]any, error) {
	out := make(map[string]any, len(flags))
	for _, flag := range flags {
		key, raw, ok := strings.Cut(flag, "=")
		if !ok || key == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid parameter %q: want key=value", flag))
		}
		v, err := parseScalar(raw)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid parameter %q", flag), err)
		}
		out[key] = v
	}
	return out, nil
}

// parseLists parses key=v1,v2 flags.
func parseLists(flags []string) (map[string][]any, error) {
	out := make(map[string][]any, len(flags))
	for _, flag := range flags {
		key, raw, ok := strings.Cut(flag, "=")
		if !ok || key == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid list %q: want key=v1,v2", flag))
		}
		var values []any
		for _, item := range strings.Split(raw, ",") {
			v, err := parseScalar(strings.TrimSpace(item))
			if err != nil {
				return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid list %q", flag), err)
			}
			values = append(values, v)
		}
		out[key] = values
	}
	return out, nil
}

func parseScalar(raw string) (any, error) {
	if raw == "" {
		return "", nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case map[string]any, []any:
		return raw, nil
	}
	return v, nil
}

// parameterKey maps "1" to ordinal 1 and anything else to a name.
func parameterKey(key string) any {
	if n, err := strconv.Atoi(key); err == nil {
		return n
	}
	return key
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
