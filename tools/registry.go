package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BaSui01/crewplanner/agent/protocol/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrToolNotFound 名称未在任何文档中声明
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolDisabled 工具声明了 enabled: false
	ErrToolDisabled = errors.New("tool disabled")
	// ErrNotDiscoverable 工具不支持 tools/list
	ErrNotDiscoverable = errors.New("tool does not support discovery")
)

// Registry 持有工具定义、分组与 agent 映射，按需实例化工具。
// 启动时创建、关闭时 Close，作为显式依赖传递。
type Registry struct {
	factory *Factory
	loader  *Loader
	logger  *zap.Logger

	mu        sync.RWMutex
	configs   map[string]ToolConfig
	order     []string
	groups    map[string][]string
	agents    map[string][]string
	instances map[string]Tool
	failed    map[string]error

	sf singleflight.Group
}

// NewRegistry 创建注册表
func NewRegistry(factory *Factory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if factory == nil {
		factory = NewFactory(nil, nil, logger)
	}
	return &Registry{
		factory:   factory,
		loader:    NewLoader(logger),
		logger:    logger.With(zap.String("component", "tool_registry")),
		configs:   make(map[string]ToolConfig),
		groups:    make(map[string][]string),
		agents:    make(map[string][]string),
		instances: make(map[string]Tool),
		failed:    make(map[string]error),
	}
}

// WithLoader 替换文档加载器（测试中注入环境变量来源）
func (r *Registry) WithLoader(l *Loader) *Registry {
	if l != nil {
		r.loader = l
	}
	return r
}

// LoadFiles 并发解析多个文档，再按参数顺序合并
func (r *Registry) LoadFiles(ctx context.Context, paths ...string) error {
	docs := make([]*Document, len(paths))
	g, _ := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			doc, err := r.loader.LoadFile(p)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, doc := range docs {
		if err := r.LoadDocument(doc, paths[i]); err != nil {
			return err
		}
	}
	return nil
}

// LoadDocument 合并一个已解析的文档并执行其加载策略
func (r *Registry) LoadDocument(doc *Document, source string) error {
	if err := doc.Validate(); err != nil {
		return withSource(err, source)
	}

	r.mu.Lock()
	for i, tc := range doc.Tools {
		path := fmt.Sprintf("tools[%d]", i)
		if _, exists := r.configs[tc.Name]; exists {
			r.mu.Unlock()
			return withSource(loaderErr(path+".name", "tool %q already registered", tc.Name), source)
		}
		if tc.Type == TypeBuiltin && !r.factory.HasBuiltin(tc.Builtin.Class) {
			r.mu.Unlock()
			return withSource(loaderErr(path+".class", "unknown builtin class %q (known: %v)",
				tc.Builtin.Class, r.factory.BuiltinClasses()), source)
		}
	}
	for _, tc := range doc.Tools {
		r.configs[tc.Name] = tc
		r.order = append(r.order, tc.Name)
	}
	for g, names := range doc.ToolGroups {
		r.groups[g] = appendUnique(r.groups[g], names...)
	}
	for agent, groups := range doc.AgentToolMapping {
		r.agents[agent] = appendUnique(r.agents[agent], groups...)
	}
	r.mu.Unlock()

	eager := make([]string, 0, len(doc.Tools))
	if doc.Loading.IsLazy() {
		eager = append(eager, doc.Loading.Preload...)
	} else {
		for _, tc := range doc.Tools {
			eager = append(eager, tc.Name)
		}
	}
	for _, name := range eager {
		tc, _ := r.Config(name)
		if !tc.IsEnabled() {
			continue
		}
		if _, err := r.instantiate(name); err != nil && doc.Loading.FailFast {
			return &ToolLoaderError{Source: source, Path: name, Reason: "instantiation failed", Err: err}
		}
	}

	r.logger.Info("tool document registered",
		zap.String("source", source),
		zap.Int("tools", len(doc.Tools)),
		zap.Int("groups", len(doc.ToolGroups)),
		zap.Bool("lazy", doc.Loading.IsLazy()),
	)
	return nil
}

// Register 直接注册一个已构造的工具（不经过文档）
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if _, exists := r.configs[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.configs[name] = ToolConfig{Name: name, Type: TypeBuiltin, Description: tool.Description()}
	r.order = append(r.order, name)
	r.instances[name] = tool
	return nil
}

// Get 返回工具实例，首次调用时实例化；并发调用只实例化一次
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	tc, ok := r.configs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if !tc.IsEnabled() {
		return nil, fmt.Errorf("%w: %s", ErrToolDisabled, name)
	}
	return r.instantiate(name)
}

func (r *Registry) instantiate(name string) (Tool, error) {
	r.mu.RLock()
	if t, ok := r.instances[name]; ok {
		r.mu.RUnlock()
		return t, nil
	}
	if err, ok := r.failed[name]; ok {
		r.mu.RUnlock()
		return nil, err
	}
	tc := r.configs[name]
	r.mu.RUnlock()

	v, err, _ := r.sf.Do(name, func() (any, error) {
		r.mu.RLock()
		if t, ok := r.instances[name]; ok {
			r.mu.RUnlock()
			return t, nil
		}
		r.mu.RUnlock()

		t, err := r.factory.Create(tc)
		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.failed[name] = err
			r.logger.Error("tool instantiation failed",
				zap.String("tool", name),
				zap.String("type", string(tc.Type)),
				zap.Error(err),
			)
			return nil, err
		}
		r.instances[name] = t
		r.logger.Debug("tool instantiated", zap.String("tool", name), zap.String("type", string(tc.Type)))
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Tool), nil
}

// ToolsForAgent 合并 agent 映射的所有分组，去重后返回启用且可实例化的工具。
// 未知 agent 返回空列表。
func (r *Registry) ToolsForAgent(agent string) []Tool {
	r.mu.RLock()
	var names []string
	for _, g := range r.agents[agent] {
		names = appendUnique(names, r.groups[g]...)
	}
	r.mu.RUnlock()
	return r.resolve(names)
}

// Tools 返回全部启用且可实例化的工具（按声明顺序）
func (r *Registry) Tools() []Tool {
	return r.resolve(r.Names())
}

func (r *Registry) resolve(names []string) []Tool {
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		t, err := r.Get(name)
		if err != nil {
			if !errors.Is(err, ErrToolDisabled) {
				r.logger.Warn("tool excluded", zap.String("tool", name), zap.Error(err))
			}
			continue
		}
		out = append(out, t)
	}
	return out
}

// Names 已声明的工具名（按声明顺序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Config 返回工具定义
func (r *Registry) Config(name string) (ToolConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tc, ok := r.configs[name]
	return tc, ok
}

// Discover 对 stdio 工具服务器执行 tools/list
func (r *Registry) Discover(ctx context.Context, name string) ([]mcp.ToolDefinition, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	d, ok := t.(interface {
		ListTools(ctx context.Context) ([]mcp.ToolDefinition, error)
	})
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDiscoverable, name)
	}
	return d.ListTools(ctx)
}

// Close 关闭持有子进程的工具实例
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, t := range r.instances {
		c, ok := t.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	r.instances = make(map[string]Tool)
	return errors.Join(errs...)
}

func withSource(err error, source string) error {
	var le *ToolLoaderError
	if errors.As(err, &le) && le.Source == "" {
		le.Source = source
	}
	return err
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		dup := false
		for _, d := range dst {
			if d == it {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}
