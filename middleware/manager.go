package middleware

import (
	"sort"
	"sync"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
)

const (
	WeightRecovery    = 10
	WeightRequestID   = 15
	WeightLogging     = 20
	WeightCompression = 25
	WeightRateLimit   = 30
	WeightCache       = 40
)

// Manager runs registered middlewares in ascending weight order around a
// handler. Routes can switch individual middlewares off by name.
type Manager struct {
	logger  types.Logger
	ordered []types.MiddlewareEntry
	names   map[string]struct{}
	mu      sync.RWMutex
}

func NewManager(logger types.Logger) *Manager {
	return &Manager{
		logger: logger,
		names:  make(map[string]struct{}),
	}
}

func (m *Manager) Register(middleware types.Middleware) error {
	if middleware == nil {
		return types.ErrMiddlewareInvalidType
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := middleware.Name()
	if _, exists := m.names[name]; exists {
		return types.Errorf(types.ErrMiddlewareExists, "name: %s", name)
	}

	m.names[name] = struct{}{}
	m.ordered = append(m.ordered, types.MiddlewareEntry{
		Name:       name,
		Middleware: middleware,
		Weight:     middleware.Weight(),
	})

	sort.SliceStable(m.ordered, func(i, j int) bool {
		return m.ordered[i].Weight < m.ordered[j].Weight
	})

	m.logger.Debug("Middleware registered",
		zap.String("name", name),
		zap.Int("weight", middleware.Weight()))

	return nil
}

func (m *Manager) Execute(ctx *fasthttp.RequestCtx, handler fasthttp.RequestHandler, config *types.RouteConfig) {
	m.mu.RLock()
	chain := make([]types.Middleware, 0, len(m.ordered))
	for _, entry := range m.ordered {
		if !config.IsDisabled(entry.Name) {
			chain = append(chain, entry.Middleware)
		}
	}
	m.mu.RUnlock()

	next := handler
	for i := len(chain) - 1; i >= 0; i-- {
		mw := chain[i]
		inner := next
		next = func(ctx *fasthttp.RequestCtx) {
			mw.Handle(ctx, inner, config)
		}
	}

	next(ctx)
}

func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ordered = nil
	m.names = make(map[string]struct{})
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.ordered))
	for _, entry := range m.ordered {
		names = append(names, entry.Name)
	}
	return names
}
