// Package main summarizes the execution event log: deposits, buys,
// recoveries, deliveries, sweeps and refunds, overall or per campaign.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	chstore "solana-dca-engine/internal/storage/clickhouse"
)

func main() {
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	campaignID := flag.String("campaign", "", "Limit the report to one campaign id")
	flag.Parse()

	if *clickhouseDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: --clickhouse-dsn or CLICKHOUSE_DSN is required")
		os.Exit(1)
	}

	ctx := context.Background()

	conn, err := chstore.NewConn(ctx, *clickhouseDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	events := chstore.NewExecutionEventStore(conn)

	if *campaignID != "" {
		if err := reportCampaign(ctx, events, *campaignID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	counts, err := events.CountByKind(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Execution event summary ===")
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-10s %d\n", k, counts[k])
	}
}

func reportCampaign(ctx context.Context, events *chstore.ExecutionEventStore, id string) error {
	list, err := events.ByCampaign(ctx, id)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Printf("No events for campaign %s\n", id)
		return nil
	}

	fmt.Printf("=== Campaign %s ===\n", id)
	var lamports uint64
	for _, e := range list {
		line := fmt.Sprintf("  %s  %-10s", e.Time.Format("2006-01-02 15:04:05"), e.Kind)
		if e.Lamports > 0 {
			line += fmt.Sprintf("  %d lamports", e.Lamports)
			lamports += e.Lamports
		}
		if e.Tokens != "" && e.Tokens != "0" {
			line += fmt.Sprintf("  %s tokens", e.Tokens)
		}
		if e.Signature != "" {
			line += "  " + e.Signature
		}
		if e.ErrorMessage != "" {
			line += "  ERROR: " + e.ErrorMessage
		}
		fmt.Println(line)
	}
	fmt.Printf("Events: %d, total lamports moved: %d\n", len(list), lamports)
	return nil
}
