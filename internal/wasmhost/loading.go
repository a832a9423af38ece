package wasmhost

import (
	"context"
	"sync"

	"github.com/tphakala/heapbridge/internal/errors"
)

// Loading tracks a module instantiation running in the background
type Loading struct {
	done chan struct{}
	once sync.Once
	mod  *Module
	err  error
}

func newLoading() *Loading {
	return &Loading{done: make(chan struct{})}
}

func (l *Loading) complete(mod *Module, err error) {
	l.once.Do(func() {
		l.mod, l.err = mod, err
		close(l.done)
	})
}

// Done is closed when loading finishes, successfully or not
func (l *Loading) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the module is loaded or ctx is done
func (l *Loading) Wait(ctx context.Context) (*Module, error) {
	select {
	case <-l.done:
		return l.mod, l.err
	case <-ctx.Done():
		return nil, errors.New(ctx.Err()).
			Component(ComponentWasmHost).
			Category(errors.CategoryCancellation).
			Context("operation", "wait-module-load").
			Build()
	}
}
