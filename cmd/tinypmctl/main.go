package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tinypm/backend/internal/client"
	"tinypm/backend/internal/domain"
)

var (
	configPath string
	serverFlag string
)

var rootCmd = &cobra.Command{
	Use:           "tinypmctl",
	Short:         "Manage TinyPM custom domains from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.tinypm.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "API server URL")

	verifyCmd.Flags().Bool("wait", false, "poll until the domain is active")
	verifyCmd.Flags().Duration("interval", client.DefaultPollInterval, "polling interval")
	verifyCmd.Flags().Int("rounds", client.DefaultPollMaxRounds, "maximum polling rounds")

	domainsCmd.AddCommand(addCmd, listCmd, showCmd, removeCmd, verifyCmd)
	rootCmd.AddCommand(authCmd, domainsCmd, checkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return client.ConfigPath()
}

func loadConfig() (*client.Config, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := client.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if serverFlag != "" {
		cfg.Server = serverFlag
	}
	return cfg, nil
}

func newClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New("no token found, run 'tinypmctl auth <token>' first")
	}
	return client.New(cfg.Server, cfg.Token), nil
}

// signalContext 在 Ctrl+C 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var authCmd = &cobra.Command{
	Use:   "auth [access-token]",
	Short: "Save an access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Token = args[0]

		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		if err := client.SaveConfig(path, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Printf("Token saved to %s\n", path)
		return nil
	},
}

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "Custom domain commands",
}

var addCmd = &cobra.Command{
	Use:   "add [domain]",
	Short: "Claim a custom domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		view, err := c.AddDomain(ctx, args[0])
		if err != nil {
			return err
		}
		printDomain(view)
		fmt.Println()
		fmt.Println("Add this record at your DNS provider, then run:")
		fmt.Printf("  tinypmctl domains verify %s --wait\n", view.ID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your custom domains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		views, err := c.ListDomains(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDOMAIN\tSTATUS\tATTEMPTS LEFT")
		for _, v := range views {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", v.ID, v.Domain, v.Status, v.AttemptsRemaining)
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a domain and its DNS instructions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		view, err := c.GetDomain(ctx, args[0])
		if err != nil {
			return err
		}
		printDomain(view)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "rm [id]",
	Aliases: []string{"delete"},
	Short:   "Delete a custom domain",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		if err := c.DeleteDomain(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Domain deleted")
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [id]",
	Short: "Check the domain's CNAME record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		wait, _ := cmd.Flags().GetBool("wait")
		if !wait {
			view, err := c.VerifyDomain(ctx, args[0])
			if err != nil {
				return err
			}
			printDomain(view)
			return nil
		}

		interval, _ := cmd.Flags().GetDuration("interval")
		rounds, _ := cmd.Flags().GetInt("rounds")

		poller := client.NewPoller(c, interval, rounds)
		poller.OnUpdate = func(round int, view *domain.CustomDomainView, err error) {
			ts := time.Now().Format("15:04:05")
			switch {
			case err != nil:
				fmt.Printf("[%s] round %d: %v\n", ts, round, err)
			case view.ErrorMessage != nil:
				fmt.Printf("[%s] round %d: %s (%s)\n", ts, round, view.Status, *view.ErrorMessage)
			default:
				fmt.Printf("[%s] round %d: %s\n", ts, round, view.Status)
			}
		}

		view, err := poller.Run(ctx, args[0])
		if errors.Is(err, context.Canceled) {
			fmt.Println("\nPolling stopped")
			return nil
		}
		if errors.Is(err, client.ErrVerificationFailed) {
			fmt.Printf("\n%s: %d attempts left, fix the CNAME record and run verify again\n",
				view.Domain, view.AttemptsRemaining)
			return err
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s is active\n", view.Domain)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [host]",
	Short: "Ask the server whether a host is an active custom domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		ok, err := client.New(cfg.Server, cfg.Token).CheckHost(ctx, args[0])
		if err != nil {
			return err
		}
		if ok {
			fmt.Println("yes")
		} else {
			fmt.Println("no")
		}
		return nil
	},
}

func printDomain(v *domain.CustomDomainView) {
	fmt.Printf("ID:            %s\n", v.ID)
	fmt.Printf("Domain:        %s\n", v.Domain)
	fmt.Printf("Status:        %s\n", v.Status)
	fmt.Printf("Attempts left: %d\n", v.AttemptsRemaining)
	if v.CooldownRemainingSecs > 0 {
		fmt.Printf("Next check in: %ds\n", v.CooldownRemainingSecs)
	}
	if v.ErrorMessage != nil {
		fmt.Printf("Last error:    %s\n", *v.ErrorMessage)
	}
	fmt.Printf("DNS record:    %s %s -> %s (TTL %d)\n", v.DNS.Type, v.DNS.Host, v.DNS.Value, v.DNS.TTL)
}
