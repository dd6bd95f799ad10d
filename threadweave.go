// Package threadweave provides a high-level façade assembling a runtime from
// configuration: the event log backend, the model provider, structured
// logging, and agents preconfigured with retry, approval and compaction
// policy. Most applications interact with this package by:
//  1. Loading a Config (or letting New load it from the environment)
//  2. Creating a Runtime via New() (optionally overriding assembled pieces)
//  3. Creating agents with NewAgent and driving threads through them
//
// The façade only wires existing packages together; applications with
// unusual needs can construct agents directly from the agent package.
package threadweave

import (
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/threadweave/threadweave/agent"
	"github.com/threadweave/threadweave/approval"
	"github.com/threadweave/threadweave/compaction"
	"github.com/threadweave/threadweave/config"
	"github.com/threadweave/threadweave/core"
	"github.com/threadweave/threadweave/logging"
	"github.com/threadweave/threadweave/model"
	"github.com/threadweave/threadweave/model/anthropic"
	"github.com/threadweave/threadweave/model/openai"
	"github.com/threadweave/threadweave/store"
)

// Options configures the Runtime instance.
type Options struct {
	// Config drives backend selection and agent policy. When nil, New loads
	// it with config.Load("") (built-in defaults layered under environment
	// variables).
	Config *config.Config

	// Log overrides the configured event log backend.
	Log core.Log

	// Model overrides the configured provider.
	Model model.Model

	// Logger overrides the configured logger.
	Logger logging.Logger
}

// Runtime bundles the shared pieces every agent needs: the event log, the
// model, the logger, and the policy carried by Config.
type Runtime struct {
	opts   Options
	log    core.Log
	model  model.Model
	logger logging.Logger
	closer func() error
}

// New assembles a Runtime. Any piece not overridden in Options is built from
// configuration: the store driver ("memory" or "sqlite"), the model provider
// ("anthropic", "openai" or "mock"), and the logger level and format.
func New(optFns ...func(o *Options)) (*Runtime, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		opts.Config = cfg
	}
	cfg := opts.Config

	r := &Runtime{opts: opts}

	r.logger = opts.Logger
	if r.logger == nil {
		r.logger = logging.New(cfg.Log.Level, cfg.Log.Format)
	}

	r.log = opts.Log
	if r.log == nil {
		switch cfg.Store.Driver {
		case "", "memory":
			r.log = store.NewMemory()
		case "sqlite":
			s, err := store.NewSQLite(cfg.Store.Path)
			if err != nil {
				return nil, fmt.Errorf("open sqlite store: %w", err)
			}
			r.log = s
			r.closer = s.CloseDB
		default:
			return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
		}
	}

	r.model = opts.Model
	if r.model == nil {
		m, err := buildModel(cfg.Model)
		if err != nil {
			if r.closer != nil {
				_ = r.closer()
			}
			return nil, err
		}
		r.model = m
	}

	return r, nil
}

func buildModel(mc config.ModelConfig) (model.Model, error) {
	switch mc.Provider {
	case "", "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if mc.Name != "" {
				o.Model = anthropicsdk.Model(mc.Name)
			}
			if mc.Temperature > 0 {
				o.Temperature = mc.Temperature
			}
			if mc.MaxTokens > 0 {
				o.MaxTokens = mc.MaxTokens
			}
			if mc.ContextWindow > 0 {
				o.ContextWindow = mc.ContextWindow
			}
			o.APIKey = mc.APIKey
		}), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if mc.Name != "" {
				o.Model = mc.Name
			}
			if mc.Temperature > 0 {
				o.Temperature = mc.Temperature
			}
			if mc.MaxTokens > 0 {
				o.MaxCompletionTokens = mc.MaxTokens
			}
			if mc.ContextWindow > 0 {
				o.ContextWindow = mc.ContextWindow
			}
		}), nil
	case "mock":
		name := mc.Name
		if name == "" {
			name = "mock-model"
		}
		m := model.NewMockModel(name)
		if mc.ContextWindow > 0 {
			m.WithContextWindow(mc.ContextWindow)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", mc.Provider)
	}
}

// NewAgent constructs an agent on the given thread with policy derived from
// the runtime's configuration: retry, compaction trigger and strategy,
// approval timeout, streaming, and auto-approval for non-interactive use.
// Caller-supplied options are applied last and win.
func (r *Runtime) NewAgent(id core.ThreadID, optFns ...agent.Option) *agent.Agent {
	cfg := r.opts.Config
	opts := []agent.Option{
		agent.WithLogger(r.logger),
		agent.WithRetry(cfg.Retry.MaxAttempts, cfg.Retry.Base),
		agent.WithCompaction(cfg.Compaction.Threshold, cfg.Compaction.Cooldown),
		agent.WithApprovalTimeout(cfg.Approval.Timeout),
		agent.WithStrategy(compaction.NewSummarizer(r.model,
			compaction.WithKeepRecent(cfg.Compaction.KeepRecent),
			compaction.WithLogger(r.logger),
		)),
	}
	if cfg.Model.ContextWindow > 0 {
		opts = append(opts, agent.WithContextLimit(cfg.Model.ContextWindow))
	}
	if cfg.Model.Stream {
		opts = append(opts, agent.WithStreaming())
	}
	if cfg.Approval.Auto {
		opts = append(opts, agent.WithGate(approval.AutoApprove()))
	}
	opts = append(opts, optFns...)
	return agent.New(id, r.log, r.model, opts...)
}

// Log returns the assembled event log.
func (r *Runtime) Log() core.Log { return r.log }

// Model returns the assembled model.
func (r *Runtime) Model() model.Model { return r.model }

// Logger returns the assembled logger.
func (r *Runtime) Logger() logging.Logger { return r.logger }

// Close releases backend resources held by the runtime, such as the sqlite
// database handle. Safe to call when no such resources were opened.
func (r *Runtime) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}
