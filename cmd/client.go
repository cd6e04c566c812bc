package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"ticket-resale/internal/client"
	"ticket-resale/internal/purchase"
	"ticket-resale/models"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type clientFlags struct {
	apiURL   string
	email    string
	password string
	timeout  time.Duration
	verbose  bool
}

func (f *clientFlags) bind(c *cobra.Command) {
	def := os.Getenv("API_URL")
	if def == "" {
		def = "http://127.0.0.1:8090"
	}
	c.Flags().StringVar(&f.apiURL, "api-url", def, "marketplace backend base URL")
	c.Flags().StringVar(&f.email, "email", os.Getenv("API_EMAIL"), "account email")
	c.Flags().StringVar(&f.password, "password", os.Getenv("API_PASSWORD"), "account password")
	c.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "per-request timeout")
	c.Flags().BoolVar(&f.verbose, "verbose", false, "debug logging")
}

func (f *clientFlags) logger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if f.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// login builds a client and opens a session with the configured account.
func (f *clientFlags) login(ctx context.Context, logger *zap.Logger) (*client.Client, *client.Session, error) {
	if f.email == "" || f.password == "" {
		return nil, nil, errors.New("--email and --password are required")
	}
	c := client.New(f.apiURL, client.WithLogger(logger), client.WithTimeout(f.timeout))
	s, err := c.Login(ctx, f.email, f.password)
	if err != nil {
		return nil, nil, fmt.Errorf("login: %w", err)
	}
	return c, s, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPreviewCommand() *cobra.Command {
	var (
		flags    clientFlags
		ticketID int64
	)
	c := &cobra.Command{
		Use:   "preview",
		Short: "Show the price breakdown and payment methods for a ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := flags.logger()
			defer logger.Sync()

			api, s, err := flags.login(cmd.Context(), logger)
			if err != nil {
				return err
			}
			q, err := api.Preview(cmd.Context(), s, ticketID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), q)
		},
	}
	flags.bind(c)
	c.Flags().Int64Var(&ticketID, "ticket", 0, "ticket id")
	_ = c.MarkFlagRequired("ticket")
	return c
}

func newBuyCommand() *cobra.Command {
	var (
		flags    clientFlags
		ticketID int64
		method   string
		data     map[string]string
	)
	c := &cobra.Command{
		Use:   "buy",
		Short: "Buy a ticket and wait for the payment outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := flags.logger()
			defer logger.Sync()

			ctx := cmd.Context()
			api, s, err := flags.login(ctx, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			flow := purchase.NewFlow(api, s,
				purchase.WithLogger(logger),
				purchase.WithOpener(purchase.OpenerFunc(func(url string) error {
					_, err := fmt.Fprintf(out, "Complete the payment at: %s\n", url)
					return err
				})),
				purchase.WithObserver(func(st purchase.State) {
					logger.Info("purchase view", zap.String("view", string(st.View)), zap.String("message", st.Message))
				}),
				purchase.WithTicketsRefreshed(func(ts []models.Ticket) {
					logger.Info("ticket list refreshed", zap.Int("count", len(ts)))
				}),
			)

			q, err := flow.Select(ctx, ticketID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Ticket %d: total %s, commission %s, seller receives %s\n",
				ticketID,
				q.Earnings.TransactionAmount.StringFixed(2),
				q.Earnings.CommissionAmount.StringFixed(2),
				q.Earnings.SellerEarnings.StringFixed(2),
			)

			pd := models.PaymentData{}
			for k, v := range data {
				pd[k] = v
			}
			st, err := flow.Buy(ctx, models.Method(method), pd)
			flow.Wait()
			if perr := printJSON(out, st); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if st.View != purchase.ViewSuccess {
				return fmt.Errorf("purchase not completed: %s", st.Message)
			}
			return nil
		},
	}
	flags.bind(c)
	c.Flags().Int64Var(&ticketID, "ticket", 0, "ticket id")
	c.Flags().StringVar(&method, "method", string(models.MethodCash), "payment method (Cash, Bank Transfer, Credit Card, Digital Wallet, Momo)")
	c.Flags().StringToStringVar(&data, "data", nil, "payment data, e.g. --data card_number=4111111111111111,cvv=123")
	_ = c.MarkFlagRequired("ticket")
	return c
}

func newHistoryCommand() *cobra.Command {
	var (
		flags  clientFlags
		limit  int
		offset int
		stats  bool
	)
	c := &cobra.Command{
		Use:   "history",
		Short: "List your payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := flags.logger()
			defer logger.Sync()

			api, s, err := flags.login(cmd.Context(), logger)
			if err != nil {
				return err
			}
			if stats {
				st, err := api.PaymentStatistics(cmd.Context(), s)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			}
			h, err := api.PaymentHistory(cmd.Context(), s, limit, offset)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), h)
		},
	}
	flags.bind(c)
	c.Flags().IntVar(&limit, "limit", 50, "page size")
	c.Flags().IntVar(&offset, "offset", 0, "page offset")
	c.Flags().BoolVar(&stats, "stats", false, "show aggregated statistics instead")
	return c
}
