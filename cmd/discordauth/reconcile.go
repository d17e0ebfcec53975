package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/wikiforge/discordauth/discord"
	"github.com/wikiforge/discordauth/reconcile"
	"github.com/wikiforge/discordauth/registry/sqlite"
	"github.com/wikiforge/discordauth/security"
)

func newReconcileCmd() *cobra.Command {
	var (
		workers int
		rps     float64
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-check guild membership for every linked account",
		Long: `Reconcile fetches the current guild membership of every linked account
using the bot token and evaluates it against the configured role policy.
The run only reports; nothing is revoked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)

			store, err := sqlite.Open(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open link registry: %w", err)
			}
			defer store.Close()

			client, err := discord.NewClient(&discord.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
			})
			if err != nil {
				return err
			}

			rec, err := reconcile.New(store, client, reconcile.Config{
				GuildID:           cfg.GuildID,
				AllowedRoles:      cfg.AllowedRoles,
				BotToken:          cfg.BotToken,
				RequestsPerSecond: rps,
				Workers:           workers,
			}, logger)
			if err != nil {
				return err
			}
			rec.SetAuditor(security.NewAuditor(logger, true))

			report, err := rec.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("reconciliation run: %w", err)
			}

			printReport(os.Stdout, report, all)
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 1, "concurrent membership lookups")
	cmd.Flags().Float64Var(&rps, "rate", reconcile.DefaultRequestsPerSecond, "provider requests per second")
	cmd.Flags().BoolVar(&all, "all", false, "list every checked account, not just actionable ones")
	return cmd
}

func printReport(w io.Writer, report *reconcile.Report, all bool) {
	results := report.Actionable()
	if all {
		results = report.Results
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"User", "Discord ID", "Discord Name", "Access", "Reason"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Access", Align: text.AlignCenter},
	})

	for _, res := range results {
		access := "yes"
		reason := ""
		switch {
		case res.Err != nil:
			access = "?"
			reason = res.Err.Error()
		case !res.HasAccess:
			access = "no"
			reason = res.Reason
		}
		t.AppendRow(table.Row{res.LocalUserID, res.ExternalID, res.ExternalUsername, access, reason})
	}
	if t.Length() > 0 {
		t.Render()
	}

	// Unlinked accounts need an attached account store, which the CLI
	// cannot provide; only embedding hosts see that section.
	fmt.Fprintf(w, "\nRun %s: %d linked accounts checked, %d actionable, took %s\n",
		report.RunID, len(report.Results), len(report.Actionable()), report.Duration.Round(10*time.Millisecond))
}
