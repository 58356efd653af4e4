// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/folio"
	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/openai"
	"github.com/poiesic/folio/config"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/ingestion"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

// newProvider builds the AI provider; tests replace it.
var newProvider = func(cfg *config.Config) (ai.AIProvider, error) {
	return openai.NewProvider(cfg.AIConfig())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "folio",
		Usage:     "Multi-tenant document ingestion and question answering",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"FOLIO_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory",
			},
			&cli.StringFlag{
				Name:  "queue-url",
				Usage: "NATS server URL; empty runs the queues in process",
			},
			&cli.StringFlag{
				Name:  "sources",
				Usage: "Root directory that storage paths are resolved against",
			},
		},
		Before: loadConfig,
		Commands: []*cli.Command{
			{
				Name:   "dispatch",
				Usage:  "Consume upload notifications and fan them out into page tasks",
				Action: withSystem(func(ctx context.Context, sys *folio.System, c *cli.Context) error { return sys.RunDispatcher(ctx) }),
			},
			{
				Name:  "work",
				Usage: "Consume page tasks and index their chunks",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "pool-size", Usage: "Number of pages processed concurrently"},
				},
				Action: withSystem(func(ctx context.Context, sys *folio.System, c *cli.Context) error { return sys.RunWorker(ctx) }),
			},
			{
				Name:  "serve",
				Usage: "Serve the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "Listen address"},
				},
				Action: withSystem(func(ctx context.Context, sys *folio.System, c *cli.Context) error { return sys.Serve(ctx) }),
			},
			{
				Name:  "run",
				Usage: "Run dispatcher, worker and HTTP API in one process",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "Listen address"},
					&cli.BoolFlag{Name: "serve", Usage: "Also serve the HTTP API", Value: true},
				},
				Action: withSystem(func(ctx context.Context, sys *folio.System, c *cli.Context) error {
					return sys.Run(ctx, c.Bool("serve"))
				}),
			},
			{
				Name:      "ingest",
				Usage:     "Publish an upload notification for a file under the sources root",
				ArgsUsage: "<storage-path>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "wait", Usage: "Process the upload in this process and wait until it settles"},
					&cli.DurationFlag{Name: "timeout", Usage: "How long --wait waits", Value: 10 * time.Minute},
				},
				Action: withSystem(ingestCommand),
			},
			{
				Name:      "ask",
				Usage:     "Answer one question for a tenant",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "Tenant id", Required: true},
					&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session id; empty starts a new one"},
				},
				Action: withSystem(askCommand),
			},
			{
				Name:  "reembed",
				Usage: "Re-embed every child chunk of a tenant with the configured embedding model",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "Tenant id", Required: true},
					&cli.IntFlag{Name: "batch-size", Usage: "Number of chunks embedded per request"},
					&cli.BoolFlag{Name: "restart", Usage: "Ignore any saved checkpoint"},
				},
				Action: withSystem(reembedCommand),
			},
			{
				Name:      "status",
				Usage:     "Print the ingestion status of a document",
				ArgsUsage: "<document-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "Tenant id", Required: true},
				},
				Action: withSystem(statusCommand),
			},
		},
	}
}

// loadConfig loads the configuration, applies global flag overrides and
// installs the logger.
func loadConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("db"); v != "" {
		cfg.Store.Path = v
		cfg.Store.InMemory = false
	}
	if v := c.String("queue-url"); v != "" {
		cfg.Queue.URL = v
	}
	if v := c.String("sources"); v != "" {
		cfg.Sources.Root = v
	}
	if err := setupLogger(c.App.ErrWriter, cfg.Log); err != nil {
		return err
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func setupLogger(w io.Writer, cfg config.LogConfig) error {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", cfg.Level)
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func withSystem(action func(ctx context.Context, sys *folio.System, c *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, ok := c.App.Metadata[configKey].(*config.Config)
		if !ok {
			return errors.New("configuration not loaded")
		}
		if c.IsSet("addr") {
			cfg.Server.Addr = c.String("addr")
		}
		if c.IsSet("pool-size") {
			cfg.Worker.PoolSize = c.Int("pool-size")
		}
		if c.IsSet("batch-size") {
			cfg.AI.BatchSize = c.Int("batch-size")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		provider, err := newProvider(cfg)
		if err != nil {
			return fmt.Errorf("failed to create AI provider: %w", err)
		}
		sys, err := folio.Open(cfg, folio.WithProvider(provider))
		if err != nil {
			return err
		}
		defer sys.Close()
		return action(c.Context, sys, c)
	}
}

func ingestCommand(ctx context.Context, sys *folio.System, c *cli.Context) error {
	storagePath := c.Args().First()
	if storagePath == "" {
		return errors.New("storage path is required")
	}

	fingerprint, err := fingerprintFile(filepath.Join(sys.Config().Sources.Root, filepath.FromSlash(storagePath)))
	if err != nil {
		return err
	}
	n, err := ingestion.PublishNotification(ctx, sys.Uploads(), core.Notification{
		StoragePath: storagePath,
		Fingerprint: fingerprint,
	})
	if err != nil {
		return err
	}
	documentID := core.DocumentID(n.Tenant, n.StoragePath, n.Fingerprint)
	fmt.Fprintf(c.App.Writer, "published %s for tenant %s (document %s)\n", storagePath, n.Tenant, documentID)

	// The in-process queues only live as long as this command.
	if !c.Bool("wait") && sys.Config().Queue.URL != "" {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- sys.Run(waitCtx, false) }()

	doc, err := waitForDocument(waitCtx, sys, n.Tenant, documentID)
	cancel()
	if rerr := <-runErr; rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return err
	}
	printDocument(c.App.Writer, doc)
	return nil
}

func waitForDocument(ctx context.Context, sys *folio.System, tenant core.TenantID, id core.ID) (*core.Document, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		doc, err := sys.Store().GetDocument(ctx, tenant, id)
		if err == nil && doc.Status.Terminal() {
			return doc, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("document %s did not settle: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func fingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

func askCommand(ctx context.Context, sys *folio.System, c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("question is required")
	}
	engine, err := sys.NewEngine()
	if err != nil {
		return err
	}
	answer, err := engine.Ask(ctx, core.TenantID(c.String("tenant")), c.String("session"), question)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintln(w, answer.Text)
	if len(answer.Citations) > 0 {
		fmt.Fprintln(w)
		for _, cit := range answer.Citations {
			fmt.Fprintf(w, "  [%s p.%d] %s\n", cit.Source, cit.Page, cit.ParentID)
		}
	}
	fmt.Fprintf(w, "\nsession: %s\n", answer.SessionID)
	return nil
}

func reembedCommand(ctx context.Context, sys *folio.System, c *cli.Context) error {
	cfg := sys.Config()
	fmt.Fprintf(c.App.ErrWriter, "Database: %s\n", cfg.Store.Path)
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
	fmt.Fprintln(c.App.ErrWriter)

	r, err := sys.NewReembedder(c.App.ErrWriter, c.Bool("restart"))
	if err != nil {
		return err
	}
	if _, err := r.Run(ctx, core.TenantID(c.String("tenant"))); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func statusCommand(ctx context.Context, sys *folio.System, c *cli.Context) error {
	id, err := core.ParseID(c.Args().First())
	if err != nil {
		return err
	}
	doc, err := sys.Store().GetDocument(ctx, core.TenantID(c.String("tenant")), id)
	if err != nil {
		return err
	}
	printDocument(c.App.Writer, doc)
	return nil
}

func printDocument(w io.Writer, doc *core.Document) {
	fmt.Fprintf(w, "document:  %s\n", doc.Id)
	fmt.Fprintf(w, "tenant:    %s\n", doc.Tenant)
	fmt.Fprintf(w, "path:      %s\n", doc.StoragePath)
	fmt.Fprintf(w, "status:    %s\n", doc.Status)
	fmt.Fprintf(w, "dispatch:  %s\n", doc.DispatchState)
	fmt.Fprintf(w, "pages:     %d/%d complete, %d failed\n", doc.PagesCompleted, doc.ExpectedPageCount, doc.PagesFailed)
	if doc.FailureReason != "" {
		fmt.Fprintf(w, "reason:    %s\n", doc.FailureReason)
	}
}
