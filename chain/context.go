package chain

import (
	"time"

	"go.uber.org/zap"
)

// Header describes the unit being executed.
type Header struct {
	Height uint64
	Time   time.Time
}

type hookList struct {
	fns []func()
}

// Context is handed to every keeper call. It is a value type; keepers must
// fetch their store from it on every call rather than caching a store across
// a CacheContext write.
type Context struct {
	ms        *MultiStore
	header    Header
	logger    *zap.Logger
	hooks     *hookList
	simulated bool
}

func NewContext(ms *MultiStore, header Header, logger *zap.Logger) Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Context{
		ms:     ms,
		header: header,
		logger: logger,
		hooks:  &hookList{},
	}
}

func (c Context) MultiStore() *MultiStore { return c.ms }
func (c Context) Store(key StoreKey) Store { return c.ms.GetStore(key) }
func (c Context) Header() Header           { return c.header }
func (c Context) BlockHeight() uint64      { return c.header.Height }
func (c Context) BlockTime() time.Time     { return c.header.Time }
func (c Context) Logger() *zap.Logger      { return c.logger }

// Simulated reports whether the enclosing unit is always discarded, as in
// Simulate and Query.
func (c Context) Simulated() bool { return c.simulated }

func (c Context) WithLogger(logger *zap.Logger) Context {
	c.logger = logger
	return c
}

// OnCommit schedules fn to run after the enclosing unit commits. Hooks of a
// discarded unit or cache context never run.
func (c Context) OnCommit(fn func()) {
	c.hooks.fns = append(c.hooks.fns, fn)
}

// CacheContext branches the state. Writes made through the returned context
// reach c only when write is called.
func (c Context) CacheContext() (cc Context, write func()) {
	cc = Context{
		ms:        c.ms.Clone(),
		header:    c.header,
		logger:    c.logger,
		hooks:     &hookList{},
		simulated: c.simulated,
	}
	write = func() {
		c.ms.write(cc.ms)
		c.hooks.fns = append(c.hooks.fns, cc.hooks.fns...)
		cc.hooks.fns = nil
	}
	return cc, write
}

func (c Context) runHooks() {
	for _, fn := range c.hooks.fns {
		fn()
	}
}
