package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/crestapps/tabflow/internal/pipeline/config"
	"github.com/crestapps/tabflow/internal/pipeline/core"
	"github.com/crestapps/tabflow/internal/pipeline/telemetry"
	srv "github.com/crestapps/tabflow/internal/server"
)

// processCMD runs a single request through the pipeline without the HTTP
// server; useful for smoke-testing a config against a local file.
func processCMD() *cobra.Command {
	var cfgPath string
	var filePath string
	var prompt string
	var timeout time.Duration
	var cmd = &cobra.Command{
		Use:   "process",
		Short: "Run one request through the pipeline and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}

			var docs []core.Document
			if filePath != "" {
				content, err := os.ReadFile(filePath)
				if err != nil {
					return fmt.Errorf("reading %s: %w", filePath, err)
				}
				docs = append(docs, core.Document{
					FileName: filepath.Base(filePath),
					Content:  string(content),
				})
			}

			var provider core.CompletionProvider
			if len(cfg.LLM.Providers) > 0 {
				provider, err = core.NewCompletionProvider(cfg.LLM)
				if err != nil {
					return err
				}
			}
			tele := telemetry.NewTelemetry(cfg.Telemetry)
			// one-shot runs skip the cache: there is no interaction to key on
			pipeline := core.NewPipeline(cfg, provider, nil, tele, nil)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result, err := pipeline.Process(ctx, &core.ProcessRequest{
				Prompt:    prompt,
				Documents: docs,
				Source:    "cli",
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "document to attach")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "user instructions")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall run timeout")

	return cmd
}

// tokenCMD mints a bearer token for the HTTP API
func tokenCMD() *cobra.Command {
	var cfgPath string
	var subject string
	var ttl time.Duration
	var cmd = &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			secret, err := srv.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			tok, err := srv.SignJWT(subject, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
