package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ocx/gateway/internal/ratelimit"
)

// LoadTestConfig holds load test parameters.
type LoadTestConfig struct {
	NumRequests    int
	Concurrency    int
	NumKeys        int
	ReportInterval time.Duration
}

// LoadTestStats tracks test metrics.
type LoadTestStats struct {
	TotalRequests       uint64
	Allowed             uint64
	Rejected            uint64
	TotalDuration       time.Duration
	AvgLatency          time.Duration
	MaxLatency          time.Duration
	MinLatency          time.Duration
	P95Latency          time.Duration
	P99Latency          time.Duration
	ThroughputPerSecond float64
}

// This drives internal/ratelimit.Limiter directly rather than over HTTP,
// the same in-process load-generation shape this codebase already uses
// to pressure-test a hot concurrent path without standing up a server.
func main() {
	numReqs := flag.Int("requests", 100000, "Number of rate limit checks to simulate")
	concurrency := flag.Int("concurrency", 200, "Number of concurrent workers")
	numKeys := flag.Int("keys", 50, "Number of distinct rate limit keys (simulated agents)")
	reportInterval := flag.Duration("report", 5*time.Second, "Stats reporting interval")
	flag.Parse()

	config := LoadTestConfig{
		NumRequests:    *numReqs,
		Concurrency:    *concurrency,
		NumKeys:        *numKeys,
		ReportInterval: *reportInterval,
	}

	slog.Info("starting rate limiter load test")
	slog.Info("requests", "num_requests", config.NumRequests)
	slog.Info("concurrency", "concurrency", config.Concurrency)
	slog.Info("keys", "num_keys", config.NumKeys)

	stats := runLoadTest(config)
	printResults(stats)
}

func runLoadTest(config LoadTestConfig) *LoadTestStats {
	limiter := ratelimit.New(ratelimit.Config{
		Capacity:    60,
		RefillRate:  60,
		RefillEvery: time.Minute,
	})

	stats := &LoadTestStats{
		MinLatency: time.Hour,
	}
	var latencies []time.Duration
	var latenciesMu sync.Mutex

	reqChan := make(chan int, config.NumRequests)
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reportStats(ctx, stats, config.ReportInterval)

	startTime := time.Now()
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for reqID := range reqChan {
				processRequest(limiter, workerID, reqID, config.NumKeys, stats, &latencies, &latenciesMu)
			}
		}(i)
	}

	for i := 0; i < config.NumRequests; i++ {
		reqChan <- i
	}
	close(reqChan)

	wg.Wait()
	totalDuration := time.Since(startTime)

	stats.TotalDuration = totalDuration
	stats.ThroughputPerSecond = float64(stats.TotalRequests) / totalDuration.Seconds()

	latenciesMu.Lock()
	if len(latencies) > 0 {
		stats.AvgLatency = calculateAverage(latencies)
		stats.P95Latency = calculatePercentile(latencies, 95)
		stats.P99Latency = calculatePercentile(latencies, 99)
	}
	latenciesMu.Unlock()

	return stats
}

func processRequest(
	limiter *ratelimit.Limiter,
	workerID, reqID, numKeys int,
	stats *LoadTestStats,
	latencies *[]time.Duration,
	latenciesMu *sync.Mutex,
) {
	key := fmt.Sprintf("agent:%d", (workerID+reqID)%numKeys)

	start := time.Now()
	decision := limiter.Check(key)
	latency := time.Since(start)

	atomic.AddUint64(&stats.TotalRequests, 1)
	if decision.Allowed {
		atomic.AddUint64(&stats.Allowed, 1)
	} else {
		atomic.AddUint64(&stats.Rejected, 1)
	}

	latenciesMu.Lock()
	*latencies = append(*latencies, latency)
	if latency > stats.MaxLatency {
		stats.MaxLatency = latency
	}
	if latency < stats.MinLatency {
		stats.MinLatency = latency
	}
	latenciesMu.Unlock()
}

func reportStats(ctx context.Context, stats *LoadTestStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			total := atomic.LoadUint64(&stats.TotalRequests)
			allowed := atomic.LoadUint64(&stats.Allowed)
			rejected := atomic.LoadUint64(&stats.Rejected)
			slog.Info("progress", "total", total, "allowed", allowed, "rejected", rejected, "min_latency", stats.MinLatency, "max_latency", stats.MaxLatency)
		case <-ctx.Done():
			return
		}
	}
}

func printResults(stats *LoadTestStats) {
	separator := "================================================================================"
	divider := "--------------------------------------------------------------------------------"

	fmt.Println("\n" + separator)
	fmt.Println("RATE LIMITER LOAD TEST RESULTS")
	fmt.Println(separator)
	fmt.Printf("Total Requests:         %d\n", stats.TotalRequests)
	fmt.Printf("Allowed:                %d (%.2f%%)\n",
		stats.Allowed, float64(stats.Allowed)/float64(stats.TotalRequests)*100)
	fmt.Printf("Rejected:               %d (%.2f%%)\n",
		stats.Rejected, float64(stats.Rejected)/float64(stats.TotalRequests)*100)
	fmt.Println(divider)
	fmt.Printf("Total Duration:         %v\n", stats.TotalDuration)
	fmt.Printf("Throughput:             %.2f req/sec\n", stats.ThroughputPerSecond)
	fmt.Println(divider)
	fmt.Printf("Latency (min):          %v\n", stats.MinLatency)
	fmt.Printf("Latency (avg):          %v\n", stats.AvgLatency)
	fmt.Printf("Latency (p95):          %v\n", stats.P95Latency)
	fmt.Printf("Latency (p99):          %v\n", stats.P99Latency)
	fmt.Printf("Latency (max):          %v\n", stats.MaxLatency)
	fmt.Println(separator + "\n")
}

func calculateAverage(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func calculatePercentile(latencies []time.Duration, percentile int) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	idx := int(float64(len(sorted)) * float64(percentile) / 100.0)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
