package cli

import (
	"context"

	"github.com/spf13/cobra"

	"ragkb/internal/config"
	"ragkb/internal/domain"
	"ragkb/internal/httpapi"
	"ragkb/internal/logger"
)

func newServeCmd(flags *GlobalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(a *app) error {
				if addr == "" {
					addr = a.cfg.Server.Addr()
				}
				checkGenerator(cmd.Context(), a.cfg.LLM, a.pipeline.Generator(), a.log)
				srv := httpapi.NewServer(httpapi.RouterConfig{
					Handler: httpapi.NewHandler(a.pipeline, a.cfg.Ingest.DocsDir),
					Log:     a.log.With("component", "http"),
				})
				a.log.Info("listening", "addr", addr, "generator", a.pipeline.Generator().Name(), "collection", a.store.Collection())
				if err := srv.Run(cmd.Context(), addr); err != nil {
					return err
				}
				a.log.Info("server stopped")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config server.host:server.port)")
	return cmd
}

type pinger interface {
	Ping(ctx context.Context) error
}

// checkGenerator warns about an LLM backend that looks unusable. The server
// starts either way; queries then carry the generation error as their answer.
func checkGenerator(ctx context.Context, cfg config.LLMConfig, gen domain.Generator, log *logger.Logger) {
	if cfg.Provider == "huggingface" && (cfg.HuggingFace == nil || cfg.HuggingFace.APIKey == "") {
		log.Warn("no HF_API_KEY set, some models may require authentication")
	}
	p, ok := gen.(pinger)
	if !ok {
		return
	}
	if err := p.Ping(ctx); err != nil {
		log.Warn("llm backend unreachable", "generator", gen.Name(), "error", err)
		return
	}
	log.Debug("llm backend reachable", "generator", gen.Name())
}
