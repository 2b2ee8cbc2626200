package main

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/quotaguard/pkg/cli"
	"mercator-hq/quotaguard/pkg/limits/ratelimit"
)

var simulateFlags struct {
	workers     int
	requests    int
	maxRequests int
	window      time.Duration
	keys        int
	progress    bool
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Load test a local limiter",
	Long: `Run concurrent admissions against an in-process limiter and report how
many were allowed and denied, with admission latency percentiles.

Requests are spread round robin over --keys users of one model. With a window
longer than the run, exactly min(requests per key, max-requests) requests are
allowed per key; the run fails if any key exceeds its capacity.

Examples:
  # 16 workers, 10000 requests, 100 per hour per key
  quotaguard simulate --workers 16 --requests 10000 --max-requests 100

  # Ten keys sharing the load
  quotaguard simulate --keys 10 --requests 5000 --max-requests 50 -o json`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntVar(&simulateFlags.workers, "workers", 8, "concurrent workers")
	simulateCmd.Flags().IntVar(&simulateFlags.requests, "requests", 1000, "total requests")
	simulateCmd.Flags().IntVar(&simulateFlags.maxRequests, "max-requests", 100, "capacity per key and window")
	simulateCmd.Flags().DurationVar(&simulateFlags.window, "window", time.Hour, "window length")
	simulateCmd.Flags().IntVar(&simulateFlags.keys, "keys", 1, "distinct users")
	simulateCmd.Flags().BoolVar(&simulateFlags.progress, "progress", false, "show a progress bar on stderr")
}

type simulationResult struct {
	Requests        int           `json:"requests"`
	Allowed         int64         `json:"allowed"`
	Denied          int64         `json:"denied"`
	DenyRatePercent float64       `json:"deny_rate_percent"`
	MaxPerKey       int           `json:"max_allowed_per_key"`
	Duration        time.Duration `json:"duration"`
	Throughput      float64       `json:"throughput_per_second"`
	LatencyP50      time.Duration `json:"latency_p50"`
	LatencyP99      time.Duration `json:"latency_p99"`
	LatencyMax      time.Duration `json:"latency_max"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simulateFlags.workers <= 0 || simulateFlags.requests <= 0 || simulateFlags.keys <= 0 {
		return cli.NewConfigError("simulate", "--workers, --requests and --keys must be positive")
	}

	limiter, err := ratelimit.NewLocalLimiter(ratelimit.Config{
		MaxRequests: simulateFlags.maxRequests,
		Window:      simulateFlags.window,
	})
	if err != nil {
		return cli.NewConfigError("max-requests", err.Error())
	}

	var progress cli.ProgressReporter
	if simulateFlags.progress {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "Simulating")
		progress.Start(int64(simulateFlags.requests))
	}

	result, perKey := simulate(limiter, simulateFlags.workers, simulateFlags.requests, simulateFlags.keys, progress)
	if progress != nil {
		progress.Finish()
	}

	if outputFormat == string(cli.FormatJSON) {
		err = printResult(cmd.OutOrStdout(), result)
	} else {
		table := &cli.Table{Headers: []string{"METRIC", "VALUE"}}
		table.AddRow("requests", result.Requests)
		table.AddRow("allowed", result.Allowed)
		table.AddRow("denied", result.Denied)
		table.AddRow("deny rate", fmt.Sprintf("%.1f%%", result.DenyRatePercent))
		table.AddRow("max allowed per key", result.MaxPerKey)
		table.AddRow("duration", result.Duration.Round(time.Microsecond))
		table.AddRow("throughput", fmt.Sprintf("%.0f req/s", result.Throughput))
		table.AddRow("latency p50", result.LatencyP50)
		table.AddRow("latency p99", result.LatencyP99)
		table.AddRow("latency max", result.LatencyMax)
		err = printResult(cmd.OutOrStdout(), table)
	}
	if err != nil {
		return err
	}

	for key, n := range perKey {
		if n > simulateFlags.maxRequests {
			return cli.NewCommandError("simulate", fmt.Errorf("key %s admitted %d requests over capacity %d", key, n, simulateFlags.maxRequests))
		}
	}
	return nil
}

// simulate runs requests admissions over workers goroutines and returns the
// totals and the number of admissions per key.
func simulate(limiter *ratelimit.LocalLimiter, workers, requests, keys int, progress cli.ProgressReporter) (simulationResult, map[string]int) {
	var (
		next      atomic.Int64
		allowed   atomic.Int64
		denied    atomic.Int64
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, requests)
		perKey    = make(map[string]int, keys)
	)

	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, requests/workers+1)
			admitted := make(map[string]int)

			for {
				i := next.Add(1) - 1
				if i >= int64(requests) {
					break
				}
				user := fmt.Sprintf("user-%d", i%int64(keys))

				t := time.Now()
				ok := limiter.Allow(user, "simulated-model")
				local = append(local, time.Since(t))

				if ok {
					allowed.Add(1)
					admitted[user]++
				} else {
					denied.Add(1)
				}
				if progress != nil {
					progress.Record(ok)
				}
			}

			mu.Lock()
			latencies = append(latencies, local...)
			for k, n := range admitted {
				perKey[k] += n
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	result := simulationResult{
		Requests: requests,
		Allowed:  allowed.Load(),
		Denied:   denied.Load(),
		Duration: elapsed,
	}
	result.DenyRatePercent = float64(result.Denied) / float64(requests) * 100
	if elapsed > 0 {
		result.Throughput = float64(requests) / elapsed.Seconds()
	}
	for _, n := range perKey {
		result.MaxPerKey = max(result.MaxPerKey, n)
	}

	slices.Sort(latencies)
	if len(latencies) > 0 {
		result.LatencyP50 = latencies[len(latencies)/2]
		result.LatencyP99 = latencies[int(float64(len(latencies)-1)*0.99)]
		result.LatencyMax = latencies[len(latencies)-1]
	}
	return result, perKey
}
