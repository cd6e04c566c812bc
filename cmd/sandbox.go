package cmd

import (
	"ticket-resale/config"
	"ticket-resale/internal/sandbox"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSandboxCommand(cfg *config.Config) *cobra.Command {
	var (
		port      string
		publicURL string
	)
	c := &cobra.Command{
		Use:   "sandbox",
		Short: "Run a local MoMo-compatible payment gateway for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Environment == "production" {
				gin.SetMode(gin.ReleaseMode)
			}
			if publicURL == "" {
				publicURL = "http://localhost:" + port
			}

			srv := sandbox.NewServer(sandbox.Config{
				PartnerCode: cfg.Momo.PartnerCode,
				AccessKey:   cfg.Momo.AccessKey,
				SecretKey:   cfg.Momo.SecretKey,
				PublicURL:   publicURL,
			}, logger)

			logger.Info("sandbox gateway listening", zap.String("port", port), zap.String("public_url", publicURL))
			return srv.Router().Run(":" + port)
		},
	}
	c.Flags().StringVar(&port, "port", cfg.SandboxPort, "listen port")
	c.Flags().StringVar(&publicURL, "public-url", "", "base URL buyers use to reach the sandbox")
	return c
}
