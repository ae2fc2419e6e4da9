package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shiftleft/compliance/internal/analytics"
	"github.com/shiftleft/compliance/internal/auth"
	"github.com/shiftleft/compliance/internal/findings"
	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/reports"
)

func (cli *Cli) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cli.openStore()
			if err != nil {
				return err
			}
			applied, err := st.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "applied %d migration(s) %v\n", len(applied), applied)
			return nil
		},
	}
}

func (cli *Cli) ingestCommand() *cobra.Command {
	var (
		rec    findings.Record
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a finding through the dedup gate.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.findingService()
			if err != nil {
				return err
			}

			if dryRun {
				dup, existing, err := svc.Check(cmd.Context(), rec)
				if err != nil {
					return err
				}
				return cli.printJSON(map[string]interface{}{
					"duplicate": dup,
					"existing":  existing,
				})
			}

			finding, action, err := svc.Ingest(cmd.Context(), rec)
			if err != nil {
				return err
			}
			return cli.printJSON(map[string]interface{}{
				"action_taken": action,
				"finding":      finding,
			})
		},
	}
	cmd.Flags().StringVar(&rec.Summary, "summary", "", "Finding summary (required)")
	cmd.Flags().StringVar(&rec.Description, "description", "", "Longer description")
	cmd.Flags().StringVar(&rec.RiskLevel, "risk", "", "Risk level: high, medium or low (required)")
	cmd.Flags().StringVar(&rec.Source, "source", string(models.SourceCode), "Source: code or screenshot")
	cmd.Flags().StringVar(&rec.ControlID, "control", "", "Control ID the finding violates")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report whether the finding would be a duplicate")
	_ = cmd.MarkFlagRequired("summary")
	_ = cmd.MarkFlagRequired("risk")
	return cmd
}

func (cli *Cli) resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <JIRA_KEY>",
		Short: "Resolve every finding linked to a ticket.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.findingService()
			if err != nil {
				return err
			}
			if _, err := svc.Resolve(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "findings for %s resolved\n", args[0])
			return nil
		},
	}
}

func (cli *Cli) assignCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <FINDING_ID> <ASSIGNEE>",
		Short: "Assign an open finding.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid finding id %q", args[0])
			}
			svc, err := cli.findingService()
			if err != nil {
				return err
			}
			finding, err := svc.Assign(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			return cli.printJSON(finding)
		},
	}
}

func (cli *Cli) triageCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "List unassigned open findings, most urgent first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.findingService()
			if err != nil {
				return err
			}
			list, err := svc.ListTriage(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return cli.printJSON(list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", findings.DefaultQueueLimit, "Maximum number of findings")
	return cmd
}

func (cli *Cli) assignedCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "assigned <ASSIGNEE>",
		Short: "List open findings assigned to someone, most urgent first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.findingService()
			if err != nil {
				return err
			}
			list, err := svc.ListAssigned(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return cli.printJSON(list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", findings.DefaultQueueLimit, "Maximum number of findings")
	return cmd
}

func (cli *Cli) analyticsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Print the analytics summary and compliance score.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cli.openStore()
			if err != nil {
				return err
			}
			agg := analytics.New(st)
			summary, err := agg.Summary(cmd.Context())
			if err != nil {
				return err
			}
			score, err := agg.ComplianceScore(cmd.Context())
			if err != nil {
				return err
			}
			return cli.printJSON(map[string]interface{}{
				"summary":    summary,
				"compliance": score,
			})
		},
	}
}

func (cli *Cli) trendCommand() *cobra.Command {
	var risk string
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Print finding counts per UTC day.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *models.RiskLevel
			if risk != "" {
				r, ok := models.ParseRiskLevel(risk)
				if !ok {
					return fmt.Errorf("unknown risk level %q", risk)
				}
				filter = &r
			}
			st, err := cli.openStore()
			if err != nil {
				return err
			}
			points, err := analytics.New(st).DailyTrend(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return cli.printJSON(points)
		},
	}
	cmd.Flags().StringVar(&risk, "risk", "", "Only count findings of this risk level")
	return cmd
}

func (cli *Cli) reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute control pass/fail status from open findings.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cli.openStore()
			if err != nil {
				return err
			}
			changed, err := st.ReconcileControlStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "%d control(s) changed status\n", changed)
			return nil
		},
	}
}

func (cli *Cli) seedControlsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-controls <CSV_FILE>",
		Short: "Load or update the control catalogue from a CSV file.",
		Long:  "The CSV needs a header row with control_id, framework, title and description columns.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			controls, err := parseControlsCSV(f)
			if err != nil {
				return err
			}
			st, err := cli.openStore()
			if err != nil {
				return err
			}
			n, err := st.UpsertControls(cmd.Context(), controls)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "upserted %d control(s)\n", n)
			return nil
		},
	}
}

func (cli *Cli) reportCommand() *cobra.Command {
	var (
		format string
		title  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the analytics report as PDF or CSV.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := reports.ParseFormat(format)
			if err != nil {
				return err
			}
			st, err := cli.openStore()
			if err != nil {
				return err
			}
			gen := reports.NewGenerator(analytics.New(st), st)
			if output == "-" {
				if f != reports.FormatCSV {
					return fmt.Errorf("only csv reports can be written to stdout")
				}
				return gen.StreamCSV(cmd.Context(), cli.out)
			}

			report, err := gen.Analytics(cmd.Context(), f, title)
			if err != nil {
				return err
			}
			if output == "" {
				output = report.Filename
			}
			if err := os.WriteFile(output, report.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "wrote %s (%d bytes)\n", output, len(report.Data))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(reports.FormatPDF), "Report format: pdf or csv")
	cmd.Flags().StringVar(&title, "title", "", "Report title")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to a timestamped name, - streams csv to stdout)")
	return cmd
}

func (cli *Cli) tokenCommand() *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "token <INTEGRATION>",
		Short: "Issue a bearer token for an integration caller.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.config()
			if err != nil {
				return err
			}
			svc := auth.NewService(auth.Config{
				JWTSecret: cfg.Integrations.JWTSecret,
				Issuer:    cfg.Integrations.Issuer,
			})
			token, expiresAt, err := svc.IssueToken(args[0], scopes...)
			if err != nil {
				return err
			}
			return cli.printJSON(map[string]interface{}{
				"token":      token,
				"expires_at": expiresAt,
				"scopes":     scopes,
			})
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeResolve, auth.ScopeLinks}, "Scopes to grant: findings:ingest, findings:assign, findings:resolve, findings:links, jobs:run")
	return cmd
}

func (cli *Cli) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cli.out, "compliancectl %s (built %s)\n", version, buildTime)
		},
	}
}
