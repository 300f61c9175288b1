package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ornabmomin/poem-api/client"
	"github.com/ornabmomin/poem-api/models"
)

// CLI flags
var (
	apiURL      = flag.String("api-url", client.DefaultURL, "poem-api base URL")
	apiKey      = flag.String("api-key", "", "Admin key, needed when cache clearing is protected")
	runs        = flag.Int("runs", 3, "Number of cold/warm rounds")
	concurrency = flag.Int("concurrency", 8, "Concurrent requests in the burst round")
	output      = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// --- Benchmark result types ---

type sample struct {
	Phase    string `json:"phase"`
	Run      int    `json:"run"`
	Ms       int64  `json:"ms"`
	Episodes int    `json:"episodes"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
}

type phaseSummary struct {
	Phase  string         `json:"phase"`
	Count  int            `json:"count"`
	Errors int            `json:"errors"`
	P50Ms  int64          `json:"p50_ms"`
	P95Ms  int64          `json:"p95_ms"`
	MaxMs  int64          `json:"max_ms"`
	ByCode map[string]int `json:"by_code,omitempty"`
}

type benchmarkReport struct {
	Timestamp   string            `json:"timestamp"`
	APIURL      string            `json:"api_url"`
	Runs        int               `json:"runs"`
	Concurrency int               `json:"concurrency"`
	Samples     []sample          `json:"samples"`
	Summary     []phaseSummary    `json:"summary"`
	PoolAfter   *models.PoolStats `json:"pool_after,omitempty"`
}

func main() {
	flag.Parse()

	fmt.Println("=== poem-api Benchmark ===")
	fmt.Printf("API URL:      %s\n", *apiURL)
	fmt.Printf("Runs:         %d\n", *runs)
	fmt.Printf("Concurrency:  %d\n", *concurrency)
	fmt.Printf("Output:       %s\n", *output)
	fmt.Println()

	c := client.New(*apiURL, *apiKey, nil)
	ctx := context.Background()

	// Quick connectivity check.
	if _, err := c.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure poem-api is running (e.g. go run ./cmd/poem-api)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		APIURL:      *apiURL,
		Runs:        *runs,
		Concurrency: *concurrency,
	}

	for i := 1; i <= *runs; i++ {
		if _, err := c.ClearCache(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: clear cache: %v\n", err)
			os.Exit(1)
		}
		for _, phase := range []string{"cold", "warm"} {
			fmt.Printf("  Run %d/%d %-5s ... ", i, *runs, phase)
			s := fetch(ctx, c, phase, i)
			if s.Error == "" {
				fmt.Printf("OK  %dms  %d episode(s)\n", s.Ms, s.Episodes)
			} else {
				fmt.Printf("FAILED: %s\n", s.Error)
			}
			report.Samples = append(report.Samples, s)
		}
	}

	// Burst: concurrent misses should collapse into a single scrape.
	fmt.Printf("  Burst of %d concurrent requests after a cache clear ... ", *concurrency)
	if _, err := c.ClearCache(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: clear cache: %v\n", err)
		os.Exit(1)
	}
	burst := make([]sample, *concurrency)
	var wg sync.WaitGroup
	for i := range burst {
		wg.Add(1)
		go func() {
			defer wg.Done()
			burst[i] = fetch(ctx, c, "burst", i+1)
		}()
	}
	wg.Wait()
	report.Samples = append(report.Samples, burst...)
	fmt.Println("done")
	fmt.Println()

	if pool, err := c.PoolStats(ctx); err == nil {
		report.PoolAfter = pool
	}

	report.Summary = summarise(report.Samples)
	printTable(report.Summary)

	// Write JSON report.
	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func fetch(ctx context.Context, c *client.Client, phase string, run int) sample {
	s := sample{Phase: phase, Run: run}
	start := time.Now()
	episodes, err := c.Episodes(ctx)
	s.Ms = time.Since(start).Milliseconds()
	if err != nil {
		s.Error = err.Error()
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			s.Code = apiErr.Detail.Code
		}
		return s
	}
	s.Episodes = len(episodes)
	return s
}

func summarise(samples []sample) []phaseSummary {
	var order []string
	byPhase := map[string][]sample{}
	for _, s := range samples {
		if _, ok := byPhase[s.Phase]; !ok {
			order = append(order, s.Phase)
		}
		byPhase[s.Phase] = append(byPhase[s.Phase], s)
	}

	out := make([]phaseSummary, 0, len(order))
	for _, phase := range order {
		ps := phaseSummary{Phase: phase, ByCode: map[string]int{}}
		var latencies []int64
		for _, s := range byPhase[phase] {
			ps.Count++
			if s.Error != "" {
				ps.Errors++
				code := s.Code
				if code == "" {
					code = "transport"
				}
				ps.ByCode[code]++
				continue
			}
			latencies = append(latencies, s.Ms)
		}
		if len(latencies) > 0 {
			slices.Sort(latencies)
			ps.P50Ms = percentile(latencies, 50)
			ps.P95Ms = percentile(latencies, 95)
			ps.MaxMs = latencies[len(latencies)-1]
		}
		out = append(out, ps)
	}
	return out
}

// percentile uses nearest-rank on sorted input.
func percentile(sorted []int64, p int) int64 {
	idx := (p*len(sorted)+99)/100 - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func printTable(summary []phaseSummary) {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Phase", "Requests", "Errors", "p50", "p95", "Max"})
	for _, ps := range summary {
		tw.AppendRow(table.Row{
			ps.Phase,
			ps.Count,
			ps.Errors,
			fmt.Sprintf("%dms", ps.P50Ms),
			fmt.Sprintf("%dms", ps.P95Ms),
			fmt.Sprintf("%dms", ps.MaxMs),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	fmt.Println(tw.Render())
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
