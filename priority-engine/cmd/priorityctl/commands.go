package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/aggregator"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/config"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/escalation"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

func aggregateCmd() *cobra.Command {
	var (
		file     string
		maxItems int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Rank a file of signals into priority items",
		Long: `Reads a JSON array of signals (or an object with a "signals" array) and
prints the ranked priority items using the default thresholds.

Examples:
  priorityctl aggregate -f signals.json
  priorityctl aggregate -f signals.json --max 0 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			signals, err := readSignals(file)
			if err != nil {
				return err
			}
			items := aggregator.Aggregate(signals, aggregator.Options{MaxItems: maxItems})
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			printItems(cmd.OutOrStdout(), items)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "signals file (JSON)")
	cmd.Flags().IntVar(&maxItems, "max", 7, "maximum items to print; 0 prints all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readSignals(path string) ([]models.Signal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var signals []models.Signal
		if err := json.Unmarshal(raw, &signals); err != nil {
			return nil, fmt.Errorf("parse signals: %w", err)
		}
		return signals, nil
	}
	var doc struct {
		Signals []models.Signal `json:"signals"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse signals: %w", err)
	}
	return doc.Signals, nil
}

func urgencyLabel(u models.Urgency) string {
	switch u {
	case models.UrgencyCritical:
		return color.New(color.FgRed, color.Bold).Sprint(string(u))
	case models.UrgencyUrgent:
		return color.New(color.FgYellow).Sprint(string(u))
	}
	return color.New(color.FgCyan).Sprint(string(u))
}

func printItems(out io.Writer, items []models.PriorityItem) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No priority items.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSUBJECT\tURGENCY\tDAMAGE\tETA\tDOMINANT")
	for _, item := range items {
		eta := "-"
		if item.ETADays != nil {
			eta = strconv.Itoa(*item.ETADays) + "d"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			item.Rank, item.SubjectID, urgencyLabel(item.Urgency), item.TotalDamage, eta, item.DominantCategory)
	}
	w.Flush()
}

func pathCmd() *cobra.Command {
	var (
		cardFile  string
		rulesFile string
		at        string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Derive a card's escalation path at a point in time",
		Long: `Reads a decision card (JSON) and an escalation rules file (YAML) and
prints the path the engine would report at --at (RFC 3339, default now).

Examples:
  priorityctl path -f card.json --rules rules.yaml
  priorityctl path -f card.json --rules rules.yaml --at 2026-03-04T09:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(cardFile)
			if err != nil {
				return fmt.Errorf("read card: %w", err)
			}
			var card models.DecisionCard
			if err := json.Unmarshal(raw, &card); err != nil {
				return fmt.Errorf("parse card: %w", err)
			}
			var rules []models.EscalationRule
			if rulesFile != "" {
				if rules, err = config.LoadRules(rulesFile); err != nil {
					return err
				}
			}
			now := time.Now().UTC()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}
			path := escalation.ComputePath(card, rules, now)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), path)
			}
			printPath(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cardFile, "file", "f", "", "card file (JSON)")
	cmd.Flags().StringVar(&rulesFile, "rules", "", "escalation rules file (YAML)")
	cmd.Flags().StringVar(&at, "at", "", "evaluation time, RFC 3339")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func printPath(out io.Writer, p models.EscalationPath) {
	fmt.Fprintf(out, "Level:  %d\n", p.CurrentLevel)
	fmt.Fprintf(out, "Owner:  %s\n", p.CurrentOwnerRole)
	if p.RuleID != nil {
		fmt.Fprintf(out, "Rule:   %s\n", *p.RuleID)
	} else {
		fmt.Fprintf(out, "Rule:   %s\n", color.New(color.FgYellow).Sprint("(none)"))
	}
	if p.NextEscalationRole != nil {
		next := *p.NextEscalationRole
		if p.TimeUntilEscalationHours != nil {
			next += fmt.Sprintf(" in %.1fh", *p.TimeUntilEscalationHours)
		}
		fmt.Fprintf(out, "Next:   %s\n", next)
	}
	switch {
	case p.IsFinal:
		fmt.Fprintf(out, "State:  %s\n", color.New(color.FgRed).Sprint("FINAL"))
	case p.IsWarning:
		fmt.Fprintf(out, "State:  %s\n", color.New(color.FgYellow).Sprint("WARNING"))
	default:
		fmt.Fprintf(out, "State:  %s\n", color.New(color.FgGreen).Sprint("OK"))
	}
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Escalation rule tools",
	}
	cmd.AddCommand(rulesValidateCmd())
	return cmd
}

func rulesValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an escalation rules seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := config.LoadRules(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			perTenant := map[string]int{}
			for _, r := range rules {
				perTenant[r.TenantID]++
			}
			tenants := make([]string, 0, len(perTenant))
			for t := range perTenant {
				tenants = append(tenants, t)
			}
			sort.Strings(tenants)

			fmt.Fprintf(out, "%s %d rules\n", color.New(color.FgGreen).Sprint("✓"), len(rules))
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT\tRULES")
			for _, t := range tenants {
				fmt.Fprintf(w, "%s\t%d\n", t, perTenant[t])
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rules file (YAML)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
