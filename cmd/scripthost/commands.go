package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/scripthost/internal/config"
	"github.com/haasonsaas/scripthost/internal/executor"
	"github.com/haasonsaas/scripthost/internal/observability"
	"github.com/haasonsaas/scripthost/internal/providers"
	"github.com/haasonsaas/scripthost/internal/store"
	"github.com/haasonsaas/scripthost/internal/tools"
	"github.com/haasonsaas/scripthost/internal/ycmd"
)

// buildRunCmd creates the "run" command that executes a script file in
// the sandbox and prints the execution result as JSON.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		contextStr string
	)

	cmd := &cobra.Command{
		Use:   "run <script.js>",
		Short: "Execute a script in the sandbox",
		Long: `Execute an untrusted script in the sandboxed engine with the
configured quotas and security policy, then print the execution result
(trace, artifacts, console output) as JSON.`,
		Example: `  # Run with built-in defaults
  scripthost run job.js

  # Run with an engine config and script context
  scripthost run job.js --config engine.yaml --context '{"ticket":"OPS-7"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd.Context(), args[0], configPath, contextStr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML engine configuration")
	cmd.Flags().StringVar(&contextStr, "context", "", "JSON object exposed to the script as `context`")
	return cmd
}

func runScript(ctx context.Context, scriptPath, configPath, contextStr string) error {
	script, err := os.ReadFile(scriptPath) // #nosec G304 -- path comes from the operator
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = &config.Config{}
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	var contextMap map[string]any
	if contextStr != "" {
		if err := json.Unmarshal([]byte(contextStr), &contextMap); err != nil {
			return fmt.Errorf("parse --context: %w", err)
		}
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	opts := []executor.Option{executor.WithLogger(logger.Slog())}
	if cfg.Engine.Quotas != nil {
		opts = append(opts, executor.WithDefaultQuotas(executor.DefaultQuotas().Merge(cfg.Engine.Quotas)))
	}
	if cfg.Engine.Policy != nil {
		opts = append(opts, executor.WithDefaultPolicy(executor.DefaultPolicy().Merge(cfg.Engine.Policy)))
	}
	if cfg.Engine.ArchivePath != "" {
		archive, err := store.Open(cfg.Engine.ArchivePath)
		if err != nil {
			return err
		}
		defer archive.Close()
		opts = append(opts, executor.WithArchive(archive))
	}

	exec := executor.New(registry, buildCompletionClient(), opts...)

	result, err := exec.Execute(ctx, &executor.Request{
		Script:  string(script),
		Context: contextMap,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !result.Success {
		os.Exit(2)
	}
	return nil
}

// buildRegistry registers the built-in tools permitted by the policy.
func buildRegistry(cfg *config.Config) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	if err := registry.Register(tools.EchoTool{}); err != nil {
		return nil, err
	}

	pol := cfg.Engine.Policy
	if pol != nil && pol.AllowFilesystem {
		root := cfg.Engine.WorkspaceRoot
		if root == "" {
			root = "."
		}
		if err := registry.Register(tools.ReadTextFileTool{Root: root}); err != nil {
			return nil, err
		}
	}
	if pol != nil && pol.AllowNetwork {
		if err := registry.Register(tools.HTTPGetTool{}); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// buildCompletionClient wires whichever providers have API keys in the
// environment. With none configured, llm() calls fail as catchable
// script errors.
func buildCompletionClient() providers.CompletionClient {
	clients := map[string]providers.CompletionClient{}
	defaultName := ""

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if c, err := providers.NewAnthropicClient(providers.AnthropicConfig{APIKey: key}); err == nil {
			clients["anthropic"] = c
			defaultName = "anthropic"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c, err := providers.NewOpenAIClient(providers.OpenAIConfig{APIKey: key}); err == nil {
			clients["openai"] = c
			if defaultName == "" {
				defaultName = "openai"
			}
		}
	}

	if len(clients) == 0 {
		return nil
	}
	return providers.NewRouter(defaultName, clients)
}

// buildDaemonCmd creates the "daemon" command group managing the
// language-intelligence daemon.
func buildDaemonCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the language-intelligence daemon",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML engine configuration")

	manager := func() (*ycmd.Manager, error) {
		m := ycmd.Shared()
		if configPath != "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return nil, err
			}
			m.Configure(ycmd.SupervisorConfig{
				InstallDir:          cfg.Daemon.InstallDir,
				AutoInstall:         cfg.Daemon.AutoInstall,
				RepoURL:             cfg.Daemon.RepoURL,
				Host:                cfg.Daemon.Host,
				Port:                cfg.Daemon.Port,
				LogLevel:            cfg.Daemon.LogLevel,
				CompletionTimeoutMS: cfg.Daemon.CompletionTimeoutMS,
				PythonPath:          cfg.Daemon.PythonPath,
				JavaWorkspaceRoot:   cfg.Daemon.JavaWorkspaceRoot,
				EnableClangd:        cfg.Daemon.EnableClangd,
			})
		}
		return m, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start the daemon",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := manager()
				if err != nil {
					return err
				}
				if err := m.Start(cmd.Context()); err != nil {
					return err
				}
				printSession(m.Session())
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the daemon",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := manager()
				if err != nil {
					return err
				}
				return m.Stop(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "restart",
			Short: "Restart the daemon",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := manager()
				if err != nil {
					return err
				}
				if err := m.Restart(cmd.Context()); err != nil {
					return err
				}
				printSession(m.Session())
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show daemon status",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := manager()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				if !m.IsRunning(ctx) {
					fmt.Println("daemon: not running")
					return nil
				}
				printSession(m.Session())
				fmt.Println("healthy:", m.HealthCheck(ctx))
				return nil
			},
		},
	)
	return cmd
}

func printSession(info ycmd.SessionInfo) {
	kind := "managed"
	if info.External() {
		kind = "external (unauthenticated)"
	}
	fmt.Printf("daemon: %s at %s:%d status=%s", kind, info.Host, info.Port, info.Status)
	if info.PID != 0 {
		fmt.Printf(" pid=%d", info.PID)
	}
	fmt.Println()
}

// buildTracesCmd creates the "traces" command group over the archive.
func buildTracesCmd() *cobra.Command {
	var archivePath string

	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Inspect archived execution traces",
	}
	cmd.PersistentFlags().StringVar(&archivePath, "archive", "scripthost.db", "Path to the trace archive")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List recent runs",
			RunE: func(cmd *cobra.Command, args []string) error {
				archive, err := store.Open(archivePath)
				if err != nil {
					return err
				}
				defer archive.Close()
				summaries, err := archive.List(cmd.Context(), 50)
				if err != nil {
					return err
				}
				for _, s := range summaries {
					status := "ok"
					if !s.Success {
						status = "failed"
					}
					fmt.Printf("%s  %s  %s  %s\n", s.RunID, s.StartTime.Format(time.RFC3339), status, s.Error)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <run-id>",
			Short: "Print one archived trace as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				archive, err := store.Open(archivePath)
				if err != nil {
					return err
				}
				defer archive.Close()
				tr, err := archive.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(tr, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			},
		},
	)
	return cmd
}
