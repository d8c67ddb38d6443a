package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/reagentd/reagent/internal/agent"
	"github.com/reagentd/reagent/internal/config"
	"github.com/reagentd/reagent/internal/providers"
	"github.com/reagentd/reagent/internal/sandbox"
	"github.com/reagentd/reagent/internal/store"
	"github.com/reagentd/reagent/internal/tools"
	"github.com/reagentd/reagent/internal/workspace"
)

func defaultConfigPath() string {
	return config.DefaultPath()
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

// runtime is the assembled daemon: every long-lived component, wired.
type runtime struct {
	cfg       *config.Config
	store     *store.Store
	bookmarks *store.Bookmarks
	workspace *workspace.Manager
	orch      *agent.Orchestrator
}

func (r *runtime) Close() {
	if r.bookmarks != nil {
		r.bookmarks.Close()
	}
}

// buildStores loads config and opens the storage layers. Enough for commands
// that never talk to a model.
func buildStores() (*runtime, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	bm, err := store.OpenBookmarks(filepath.Join(cfg.Storage.DataDir, "bookmarks.db"))
	if err != nil {
		return nil, err
	}
	ws, err := workspace.NewManager(cfg.Storage.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	st.SetWorkspace(ws)
	return &runtime{cfg: cfg, store: st, bookmarks: bm, workspace: ws}, nil
}

// buildRuntime builds the stores plus providers, tools and the orchestrator.
func buildRuntime() (*runtime, error) {
	rt, err := buildStores()
	if err != nil {
		return nil, err
	}
	cfg := rt.cfg

	reg := providers.NewRegistry()
	if k := cfg.Providers.OpenAI.APIKey; k != "" {
		base := cfg.Providers.OpenAI.APIBase
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		model := cfg.Providers.OpenAI.Model
		if model == "" {
			model = "gpt-4o"
		}
		reg.Register(providers.NewOpenAIProvider("openai", k, base, model))
	}
	if k := cfg.Providers.Anthropic.APIKey; k != "" {
		var opts []providers.AnthropicOption
		if m := cfg.Providers.Anthropic.Model; m != "" {
			opts = append(opts, providers.WithAnthropicModel(m))
		}
		if b := cfg.Providers.Anthropic.APIBase; b != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(b))
		}
		reg.Register(providers.NewAnthropicProvider(k, opts...))
	}
	if k := cfg.Providers.Gemini.APIKey; k != "" {
		var opts []providers.GeminiOption
		if m := cfg.Providers.Gemini.Model; m != "" {
			opts = append(opts, providers.WithGeminiModel(m))
		}
		if b := cfg.Providers.Gemini.APIBase; b != "" {
			opts = append(opts, providers.WithGeminiBaseURL(b))
		}
		reg.Register(providers.NewGeminiProvider(k, opts...))
	}
	if len(reg.Names()) == 0 {
		return nil, fmt.Errorf("no provider configured; set REAGENT_OPENAI_API_KEY, REAGENT_ANTHROPIC_API_KEY or REAGENT_GEMINI_API_KEY")
	}

	runner := sandbox.NewRunner()
	runner.SetPython(cfg.Sandbox.Python)
	runner.SetTimeout(time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second)

	tr := tools.NewRegistry()
	tr.Register(&tools.FileReader{})
	tr.Register(&tools.FileList{})
	tr.Register(&tools.FileWriter{})
	tr.Register(&tools.FileEditor{})
	tr.Register(tools.NewShellExecutor())
	tr.Register(&tools.CreatePlan{})
	tr.Register(&tools.ManageImagesView{})
	tr.Register(tools.NewWebSearch())
	tr.Register(tools.NewURLFetch())
	tr.Register(tools.NewCodeExecutor(runner))

	rt.orch = agent.New(rt.store, reg, tr, rt.workspace, agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		ExtraPrompt:   cfg.Agent.ExtraPrompt,
	})
	return rt, nil
}
