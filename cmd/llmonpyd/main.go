// Command llmonpyd wires the llmonpy packages into a runnable process: it
// loads configuration, starts the per-provider rate limiters, builds the
// LLM clients that have credentials, opens the trace store, and runs one
// sample adaptive-ICL cycle end to end so the wiring can be exercised
// without a separate admin API or CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teburns/llmonpy/core"
	"github.com/teburns/llmonpy/llmclient"
	"github.com/teburns/llmonpy/llmclient/providers/anthropic"
	"github.com/teburns/llmonpy/llmclient/providers/mock"
	"github.com/teburns/llmonpy/llmclient/providers/openai"
	"github.com/teburns/llmonpy/prompttemplate"
	"github.com/teburns/llmonpy/ratellmiter"
	"github.com/teburns/llmonpy/step"
	"github.com/teburns/llmonpy/telemetryx"
	"github.com/teburns/llmonpy/tourney"
	"github.com/teburns/llmonpy/trace"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "llmonpyd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.ServiceName)
	logger.Info("starting", map[string]interface{}{"service": cfg.ServiceName, "data_dir": cfg.DataDir})

	telemetry, err := telemetryx.New(cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("start telemetry: %w", err)
	}
	defer telemetry.Shutdown(context.Background())

	monitor := ratellmiter.NewMonitor(logger)
	monitor.Start()
	defer monitor.Stop()

	clients := buildClients(cfg, monitor, telemetry, logger)
	if len(clients) == 0 {
		logger.Info("no provider credentials configured, running the sample cycle against the built-in mock provider", nil)
		clients = map[string]llmclient.Client{"mock": mock.New("mock", mock.Script{Text: `{"text": "bonjour"}`})}
	}

	store, err := trace.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open trace store: %w", err)
	}
	defer store.Close()

	rt := step.New(100, store, logger)
	rt.SetTracer(telemetry.Tracer)

	maintenance := startMaintenance(cfg, store, logger)
	defer maintenance.Stop()

	return runSampleCycle(context.Background(), rt, store, clients)
}

// startMaintenance schedules the background upkeep jobs cron drives: an
// hourly sqlite VACUUM on the trace store, and a daily prune of
// rate-limiter activity logs older than 7 days.
func startMaintenance(cfg *core.Config, store *trace.Store, logger core.Logger) *cron.Cron {
	c := cron.New()

	c.AddFunc("0 * * * *", func() {
		if err := store.Vacuum(); err != nil {
			logger.Error("trace store vacuum failed", map[string]interface{}{"error": err.Error()})
		}
	})

	c.AddFunc("0 3 * * *", func() {
		pruned, err := pruneOldFiles(cfg.RateLimiterLogDir(), 7*24*time.Hour)
		if err != nil {
			logger.Error("rate limiter log prune failed", map[string]interface{}{"error": err.Error()})
			return
		}
		if pruned > 0 {
			logger.Info("pruned old rate limiter activity logs", map[string]interface{}{"count": pruned})
		}
	})

	c.Start()
	return c
}

// pruneOldFiles removes regular files under dir whose modification time is
// older than maxAge, returning how many were removed.
func pruneOldFiles(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	pruned := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(dir + string(os.PathSeparator) + entry.Name()); err == nil {
				pruned++
			}
		}
	}
	return pruned, nil
}

func loadConfig(path string) (*core.Config, error) {
	if path != "" {
		return core.LoadFromFile(path)
	}
	return core.NewConfig()
}

// buildClients constructs an llmclient.Client for every provider that has a
// resolved API key in cfg. Providers without credentials are skipped rather
// than started in a broken state. Every limiter built here gets the same
// telemetry observer and activity logger so per-provider ticket traffic is
// traced and audited uniformly.
func buildClients(cfg *core.Config, monitor *ratellmiter.Monitor, telemetry *telemetryx.Provider, logger core.Logger) map[string]llmclient.Client {
	clients := make(map[string]llmclient.Client)

	wireLimiter := func(limiter *ratellmiter.BucketRateLimiter) {
		limiter.SetObserver(telemetry)
		limiter.SetActivityLogger(ratellmiter.NewFileActivityLogger(cfg.RateLimiterLogPath))
		monitor.Register(limiter)
	}

	// The limiter's LivenessProber would normally be the client it throttles,
	// but the client constructors take the limiter, not the other way
	// around, so a process wiring multiple providers has no cross-reference
	// to offer here; nil falls back to "resumed after the first successful
	// probe interval", which is the documented behavior for that case.
	if key := cfg.APIKey("OPENAI_API_KEY"); key != "" {
		limiter := ratellmiter.New("openai", 3000, nil, logger)
		wireLimiter(limiter)
		prices := llmclient.PriceTable{InputPerMillion: 2.50, OutputPerMillion: 10.00}
		clients["openai"] = openai.New(key, "gpt-4o", prices, limiter, logger)
	}

	if key := cfg.APIKey("ANTHROPIC_API_KEY"); key != "" {
		limiter := ratellmiter.New("anthropic", 4000, nil, logger)
		wireLimiter(limiter)
		prices := llmclient.PriceTable{InputPerMillion: 3.00, OutputPerMillion: 15.00}
		clients["anthropic"] = anthropic.New(key, "claude-sonnet-4-5", prices, limiter, logger)
	}

	return clients
}

// runSampleCycle exercises the full stack with a single adaptive-ICL cycle
// against a tiny one-field "translate a greeting" task, using one model
// entry per configured client for generation, refinement and judging.
func runSampleCycle(ctx context.Context, rt *step.Runtime, store *trace.Store, clients map[string]llmclient.Client) error {
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}

	genTemplate := prompttemplate.MustParse(
		`Translate "hello" into French. {% if example_list %}Previous attempts: {{example_list|json}}.{% endif %} Respond as JSON: {"text": "..."}`)
	judgeTemplate := prompttemplate.MustParse(
		`Which translation is better, 1 or 2? output_1: {{output_1|json}} output_2: {{output_2|json}} Respond as JSON: {"winner": 1 or 2}`)

	models := make([]step.ModelInfo, 0, len(names))
	for _, name := range names {
		models = append(models, step.ModelInfo{ModelName: name})
	}

	buildGenPrompt := func(m step.ModelInfo) *step.Prompt {
		return step.NewPrompt("translate", genTemplate, nil, clients[m.ModelName], m, true, 200, nil)
	}
	buildJudgePrompt := func(m step.ModelInfo, fields map[string]interface{}) *step.Prompt {
		return step.NewPrompt("judge_translation", judgeTemplate, nil, clients[m.ModelName], m, true, 50, fields)
	}

	root := step.NewRoot("sample-cycle", "translate_cycle", step.TypeCycle, step.OutputFormatJSON, store, nil)
	execCtx := step.NewExecContext(ctx, rt)

	result := tourney.AdaptiveICLCycle(execCtx, root, tourney.CycleParams{
		GenStepName:      "translate",
		BuildGenPrompt:   buildGenPrompt,
		FirstRoundModels: models,
		RefinementModels: models,
		BuildJudgePrompt: buildJudgePrompt,
		JudgementModels:  models,
		MaxCycles:        3,
		NumberOfExamples: 2,
	})

	root.Finish(nil, nil, nil)

	for i, jo := range result {
		fmt.Printf("rank %d: outputID=%s model=%s victories=%d output=%v\n",
			i+1, jo.OutputID, jo.ModelInfo.ModelName, jo.VictoryCount, jo.Output)
	}
	return nil
}
