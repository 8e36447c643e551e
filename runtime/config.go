package runtime

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/polyglot-runtime/config"
	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/extension"
	"github.com/wippyai/polyglot-runtime/polyglot"
	"github.com/wippyai/polyglot-runtime/schema"
)

// Config configures a Runtime. T is the context type exchanged with the
// guest; the factory returns a fresh, default-valued T.
//
// Setters may be called in any order. Explicit setters win over the values
// taken from WithSettings.
type Config[T polyglot.Model] struct {
	factory       func() T
	function      *schema.Function
	functionBytes []byte
	stdout        io.Writer
	stderr        io.Writer
	extensions    []*extension.Extension
	logger        *zap.Logger
	settings      *config.Settings
	memoryPages   uint32
	timeout       time.Duration
	cacheDir      string
}

// NewConfig creates a configuration for contexts built by factory.
func NewConfig[T polyglot.Model](factory func() T) *Config[T] {
	return &Config[T]{factory: factory}
}

// WithFunction sets the function artifact to run.
func (c *Config[T]) WithFunction(f *schema.Function) *Config[T] {
	c.function = f
	c.functionBytes = nil
	return c
}

// WithFunctionBytes sets an encoded function artifact. It is decoded by New.
func (c *Config[T]) WithFunctionBytes(buf []byte) *Config[T] {
	c.functionBytes = buf
	c.function = nil
	return c
}

// WithStdout forwards the guest's stdout to w.
func (c *Config[T]) WithStdout(w io.Writer) *Config[T] {
	c.stdout = w
	return c
}

// WithStderr forwards the guest's stderr to w.
func (c *Config[T]) WithStderr(w io.Writer) *Config[T] {
	c.stderr = w
	return c
}

// WithExtension binds an extension. Extensions are matched to the
// artifact's references by name.
func (c *Config[T]) WithExtension(x *extension.Extension) *Config[T] {
	c.extensions = append(c.extensions, x)
	return c
}

// WithLogger sets the runtime's logger.
func (c *Config[T]) WithLogger(l *zap.Logger) *Config[T] {
	c.logger = l
	return c
}

// WithMemoryLimit caps instance memory in 64KiB pages.
func (c *Config[T]) WithMemoryLimit(pages uint32) *Config[T] {
	c.memoryPages = pages
	return c
}

// WithTimeout bounds every run. Zero disables the bound.
func (c *Config[T]) WithTimeout(d time.Duration) *Config[T] {
	c.timeout = d
	return c
}

// WithCompilationCache caches compiled guests in dir.
func (c *Config[T]) WithCompilationCache(dir string) *Config[T] {
	c.cacheDir = dir
	return c
}

// WithSettings fills the limits, cache and logger from loaded settings.
func (c *Config[T]) WithSettings(s *config.Settings) *Config[T] {
	c.settings = s
	return c
}

// resolved is a validated configuration with settings applied.
type resolved struct {
	function    *schema.Function
	logger      *zap.Logger
	memoryPages uint32
	timeout     time.Duration
	cacheDir    string
}

func (c *Config[T]) validate() (*resolved, error) {
	if c == nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, "config is nil")
	}
	if c.factory == nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("factory").
			Detail("a context factory is required").
			Build()
	}
	if c.timeout < 0 {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("timeout").
			Value(c.timeout).
			Detail("timeout must not be negative").
			Build()
	}

	r := &resolved{
		logger:      c.logger,
		memoryPages: c.memoryPages,
		timeout:     c.timeout,
		cacheDir:    c.cacheDir,
	}

	switch {
	case c.function != nil:
		if err := c.function.Validate(); err != nil {
			return nil, err
		}
		r.function = c.function
	case c.functionBytes != nil:
		f, err := schema.DecodeFunction(c.functionBytes)
		if err != nil {
			return nil, err
		}
		r.function = f
	default:
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("function").
			Detail("a function is required").
			Build()
	}

	if s := c.settings; s != nil {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if r.memoryPages == 0 {
			r.memoryPages = s.MemoryLimitPages
		}
		if r.timeout == 0 {
			r.timeout = s.Timeout
		}
		if r.cacheDir == "" {
			r.cacheDir = s.CacheDir
		}
		if r.logger == nil {
			l, err := s.Logger()
			if err != nil {
				return nil, err
			}
			r.logger = l
		}
	}
	if r.logger == nil {
		r.logger = Logger()
	}
	return r, nil
}
