package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	collect "github.com/blnkfinance/collect"
	"github.com/spf13/cobra"
)

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		log.Fatalf("Error printing result: %v\n", err)
	}
	fmt.Println(string(data))
}

// batchCommands exposes composition, submission and reconciliation for operators
// and cron jobs that do not run the workers.
func batchCommands(c *collectInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "compose, submit and reconcile debit-order batches",
	}
	cmd.AddCommand(composeCommand(c), submitCommand(c), pollCommand(c), ingestCommand(c))
	return cmd
}

func composeCommand(c *collectInstance) *cobra.Command {
	var req collect.ComposeRequest
	var group string
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "compose the draft run for the next action date",
		Run: func(cmd *cobra.Command, args []string) {
			if group != "" {
				req.GroupID = &group
			}
			comp, err := c.collector.ComposeBatch(context.Background(), req)
			if comp != nil {
				printJSON(comp)
			}
			if err != nil {
				log.Fatal(err)
			}
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "payment group to compose a group run for")
	cmd.Flags().BoolVar(&req.AutoSubmit, "submit", false, "submit the run once composed")
	cmd.Flags().BoolVar(&req.IncludeArrears, "include-arrears", false, "add outstanding arrears to each member's amount")
	return cmd
}

func submitCommand(c *collectInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "submit [run-id]",
		Short: "submit a draft run, or resubmit a rejected or timed-out one",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			run, result, err := c.collector.ResubmitBatchRun(context.Background(), args[0])
			printJSON(map[string]interface{}{"run": run, "submission": result})
			if err != nil {
				log.Fatal(err)
			}
		},
	}
}

func pollCommand(c *collectInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "fetch status reports for accepted runs awaiting settlement",
		Run: func(cmd *cobra.Command, args []string) {
			n, err := c.collector.PollAwaitingRuns(context.Background())
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("Delivered %d status updates\n", n)
		},
	}
}

func ingestCommand(c *collectInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [report-file]",
		Short: "reconcile a status report downloaded from the gateway",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			report, err := os.ReadFile(args[0])
			if err != nil {
				log.Fatal(err)
			}
			n, skipped, err := c.collector.IngestReport(context.Background(), string(report))
			fmt.Printf("Delivered %d status updates, skipped %d lines\n", n, len(skipped))
			if err != nil {
				log.Fatal(err)
			}
		},
	}
}
