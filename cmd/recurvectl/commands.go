package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joaquinllenado/recurve-ai/internal/auth"
	"github.com/joaquinllenado/recurve-ai/internal/messagebus"
)

// getAndPrint is the body shared by read-only commands.
func getAndPrint(cmd *cobra.Command, path string, params url.Values) error {
	data, err := newClient().get(path, params)
	if err != nil {
		return err
	}
	outputJSON(cmd.OutOrStdout(), data)
	return nil
}

func postAndPrint(cmd *cobra.Command, path string, body interface{}) error {
	data, err := newClient().post(path, body)
	if err != nil {
		return err
	}
	outputJSON(cmd.OutOrStdout(), data)
	return nil
}

// --- Strategy commands ---

func newProductCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "product [description]",
		Short: "Submit a product description (creates or evolves the strategy)",
		Example: `  recurvectl product "Managed Postgres hosting for SaaS teams"
  recurvectl product --file product.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			description := strings.Join(args, " ")
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				description = string(b)
			}
			if strings.TrimSpace(description) == "" {
				return fmt.Errorf("a description or --file is required")
			}
			return postAndPrint(cmd, "/api/product", map[string]string{"description": description})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the description from a file")
	return cmd
}

func newStrategyCommand() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Show the latest strategy, or one version",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if version > 0 {
				params.Set("version", strconv.Itoa(version))
			}
			return getAndPrint(cmd, "/api/strategy", params)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "Strategy version")
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the strategy version chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, "/api/strategies", nil)
		},
	})
	return cmd
}

func newEvolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "evolve",
		Short: "Evolve the latest strategy from its unconsumed lessons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(cmd, "/api/strategy/evolve", nil)
		},
	}
}

// --- Validation commands ---

func newValidateCommand() *cobra.Command {
	var (
		version int
		requeue bool
		domains []string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Classify a strategy's targets and run the pivot check",
		Example: `  recurvectl validate
  recurvectl validate --version 2 --requeue
  recurvectl validate --domain sentry.io --domain mux.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"requeue": requeue}
			if version > 0 {
				body["version"] = version
			}
			if len(domains) > 0 {
				body["domains"] = domains
			}
			return postAndPrint(cmd, "/api/validate", body)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "Strategy version (default latest)")
	cmd.Flags().BoolVar(&requeue, "requeue", false, "Reclassify leads that already carry a label")
	cmd.Flags().StringArrayVar(&domains, "domain", nil, "Restrict to these domains")
	return cmd
}

// --- Scout commands ---

func newScoutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scout",
		Short: "Competitor status signals",
	}

	var status, competitor, natsURL string
	trigger := &cobra.Command{
		Use:   "trigger",
		Short: "Submit a competitor status report",
		Long: `Submit a competitor status report to the server, or with --nats publish it
straight onto the signal subject that the server's bridge consumes.`,
		Example: `  recurvectl scout trigger --competitor DigitalOcean --status critical_outage
  recurvectl scout trigger --competitor DigitalOcean --nats nats://localhost:4222`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if natsURL != "" {
				return publishTrigger(cmd, natsURL, status, competitor)
			}
			return postAndPrint(cmd, "/api/scout/trigger", map[string]string{
				"status":     status,
				"competitor": competitor,
				"source":     "recurvectl",
			})
		},
	}
	trigger.Flags().StringVar(&status, "status", "critical_outage", "Reported status")
	trigger.Flags().StringVar(&competitor, "competitor", "", "Competitor name")
	trigger.Flags().StringVar(&natsURL, "nats", "", "Publish to this NATS server instead of the HTTP API")
	_ = trigger.MarkFlagRequired("competitor")

	cmd.AddCommand(trigger)
	cmd.AddCommand(&cobra.Command{
		Use:   "state",
		Short: "Show the last known state per competitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, "/api/scout/state", nil)
		},
	})
	return cmd
}

// dialSignalBus connects to the bus for direct signal publishing.
var dialSignalBus = func(natsURL string) (messagebus.SignalPublisher, func() error, error) {
	bus, err := messagebus.NewNatsMessageBus(messagebus.Config{URL: natsURL, Timeout: 5 * time.Second}, nil)
	if err != nil {
		return nil, nil, err
	}
	return bus, bus.Close, nil
}

func publishTrigger(cmd *cobra.Command, natsURL, status, competitor string) error {
	pub, closeBus, err := dialSignalBus(natsURL)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", natsURL, err)
	}
	defer func() { _ = closeBus() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	sig := &messagebus.SignalMessage{Status: status, Competitor: competitor, Source: "recurvectl"}
	if err := pub.PublishSignal(ctx, sig); err != nil {
		return err
	}
	data, err := json.Marshal(map[string]interface{}{
		"published":  true,
		"subject":    messagebus.SubjectSignalStatus,
		"status":     sig.Status,
		"competitor": sig.Competitor,
		"timestamp":  sig.Timestamp,
	})
	if err != nil {
		return err
	}
	outputJSON(cmd.OutOrStdout(), data)
	return nil
}

// --- Knowledge graph commands ---

func newGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Export the knowledge graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, "/api/graph", nil)
		},
	}
}

func newCompaniesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "companies",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, "/api/companies", nil)
		},
	}

	var file string
	add := &cobra.Command{
		Use:     "add",
		Short:   "Ingest leads from a JSON array of companies",
		Example: `  recurvectl companies add --file leads.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var companies []json.RawMessage
			if err := json.Unmarshal(b, &companies); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			return postAndPrint(cmd, "/api/companies", map[string]interface{}{"companies": companies})
		},
	}
	add.Flags().StringVarP(&file, "file", "f", "", "JSON file with an array of companies")
	_ = add.MarkFlagRequired("file")
	cmd.AddCommand(add)
	return cmd
}

func newLessonsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "lessons",
		Short: "List recent lessons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, "/api/lessons", url.Values{"limit": {strconv.Itoa(limit)}})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of lessons")
	cmd.AddCommand(&cobra.Command{
		Use:   "pivots",
		Short: "List pivot audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, "/api/pivots", nil)
		},
	})
	return cmd
}

// --- Event commands ---

func newEventsCommand() *cobra.Command {
	var (
		eventType string
		limit     int
		follow    bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent activity, or follow it live",
		Example: `  recurvectl events --type lead_classified
  recurvectl events --follow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if eventType != "" {
				params.Set("type", eventType)
			}
			if follow {
				return newClient().streamSSE("/api/events/stream", params, cmd.OutOrStdout())
			}
			params.Set("limit", strconv.Itoa(limit))
			return getAndPrint(cmd, "/api/events", params)
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "Only events of this type")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of events")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream events as they happen")
	return cmd
}

// --- Admin commands ---

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo lead set (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(cmd, "/api/seed", nil)
		},
	}
}

func newResetCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe the knowledge store (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirmReset(cmd) {
				return fmt.Errorf("reset deletes every strategy, lead and lesson; pass --yes to confirm")
			}
			return postAndPrint(cmd, "/api/reset", nil)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

// stdinIsTerminal is a var so tests can simulate an interactive session.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirmReset asks on the terminal. Non-interactive sessions must pass --yes.
func confirmReset(cmd *cobra.Command) bool {
	if !stdinIsTerminal() {
		return false
	}
	fmt.Fprint(cmd.ErrOrStderr(), "This deletes every strategy, lead and lesson. Type 'reset' to continue: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.TrimSpace(line) == "reset"
}

func newTokenCommand() *cobra.Command {
	var (
		secret  string
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Mint a signed token for the API",
		Example: `  recurvectl token --secret "$RECURVE_JWT_SECRET" --role admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret (or RECURVE_JWT_SECRET) is required")
			}
			signed, err := auth.NewManager(secret, nil, nil).GenerateToken(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("RECURVE_JWT_SECRET"), "Server JWT secret")
	cmd.Flags().StringVar(&subject, "subject", "recurvectl", "Token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "Role: admin or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
