package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VanDung-dev/KVCache-Engine/cache"
	"github.com/VanDung-dev/KVCache-Engine/network"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Address     string
	Concurrency int
	Duration    time.Duration
	AuthToken   string
	Keyspace    int
	ValueSize   int
	WriteRatio  float64
	ReportFile  string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	CacheHits      int64
	CacheMisses    int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
}

func main() {
	config := parseFlags()

	fmt.Println("=== KVCache Server Stress Test ===")
	fmt.Printf("Target: %s\n", config.Address)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Printf("Keyspace: %d keys, %d byte values, %.0f%% writes\n",
		config.Keyspace, config.ValueSize, config.WriteRatio*100)
	fmt.Println()

	result := runStressTest(config)

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}

	flag.StringVar(&config.Address, "addr", "tcp://127.0.0.1:5555", "Cache server address")
	flag.IntVar(&config.Concurrency, "c", 10, "Number of concurrent workers")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "Duration of test")
	flag.StringVar(&config.AuthToken, "token", "", "Authentication token")
	flag.IntVar(&config.Keyspace, "keys", 1000, "Number of distinct keys")
	flag.IntVar(&config.ValueSize, "size", 128, "Value size in bytes")
	flag.Float64Var(&config.WriteRatio, "writes", 0.2, "Fraction of requests that are sets (0..1)")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

func runStressTest(config StressTestConfig) StressTestResult {
	var (
		totalReqs    int64
		successReqs  int64
		failedReqs   int64
		hits         int64
		misses       int64
		totalLatency int64
		minLatency   int64 = 1<<63 - 1
		maxLatency   int64
		wg           sync.WaitGroup
		stopChan     = make(chan struct{})
	)

	// Verify the server answers before unleashing the workers.
	probe, err := network.NewClient(network.ClientConfig{Addr: config.Address, Token: config.AuthToken})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	if err := probe.Ping(context.Background()); err != nil {
		log.Fatalf("Server not answering at %s: %v", config.Address, err)
	}
	probe.Close()

	startTime := time.Now()

	// Start workers, each with its own connection
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(workerID, config, stopChan, &totalReqs, &successReqs, &failedReqs, &hits, &misses, &totalLatency, &minLatency, &maxLatency)
		}(i)
	}

	// Wait for duration
	time.Sleep(config.Duration)
	close(stopChan)
	wg.Wait()

	duration := time.Since(startTime)
	total := atomic.LoadInt64(&totalReqs)
	success := atomic.LoadInt64(&successReqs)
	failed := atomic.LoadInt64(&failedReqs)
	latencySum := atomic.LoadInt64(&totalLatency)
	minLat := atomic.LoadInt64(&minLatency)
	maxLat := atomic.LoadInt64(&maxLatency)

	var avgLatency time.Duration
	if success > 0 {
		avgLatency = time.Duration(latencySum / success)
	}

	return StressTestResult{
		TotalRequests:  total,
		SuccessfulReqs: success,
		FailedReqs:     failed,
		CacheHits:      atomic.LoadInt64(&hits),
		CacheMisses:    atomic.LoadInt64(&misses),
		TotalDuration:  duration,
		AvgLatency:     avgLatency,
		MinLatency:     time.Duration(minLat),
		MaxLatency:     time.Duration(maxLat),
		RequestsPerSec: float64(total) / duration.Seconds(),
	}
}

func runWorker(id int, config StressTestConfig, stop chan struct{}, totalReqs, successReqs, failedReqs, hits, misses, totalLatency, minLatency, maxLatency *int64) {
	client, err := network.NewClient(network.ClientConfig{Addr: config.Address, Token: config.AuthToken})
	if err != nil {
		log.Printf("Worker %d: failed to connect: %v", id, err)
		return
	}
	defer client.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	value := strings.Repeat("x", config.ValueSize)
	ctx := context.Background()

	for {
		select {
		case <-stop:
			return
		default:
			latency, hit, err := sendRequest(ctx, client, rng, config, value)
			atomic.AddInt64(totalReqs, 1)

			if err != nil {
				atomic.AddInt64(failedReqs, 1)
				// Small sleep on error to avoid hammering
				time.Sleep(10 * time.Millisecond)
				continue
			}

			atomic.AddInt64(successReqs, 1)
			atomic.AddInt64(totalLatency, int64(latency))
			if hit {
				atomic.AddInt64(hits, 1)
			} else {
				atomic.AddInt64(misses, 1)
			}

			// Update min/max latency
			lat := int64(latency)
			for {
				old := atomic.LoadInt64(minLatency)
				if lat >= old || atomic.CompareAndSwapInt64(minLatency, old, lat) {
					break
				}
			}
			for {
				old := atomic.LoadInt64(maxLatency)
				if lat <= old || atomic.CompareAndSwapInt64(maxLatency, old, lat) {
					break
				}
			}
		}
	}
}

// sendRequest performs one randomized cache operation. The hit result
// is only meaningful for reads; writes always report a hit.
func sendRequest(ctx context.Context, client *network.Client, rng *rand.Rand, config StressTestConfig, value string) (time.Duration, bool, error) {
	key := fmt.Sprintf("stress:%d", rng.Intn(config.Keyspace))

	start := time.Now()

	if rng.Float64() < config.WriteRatio {
		now := start.UnixMilli()
		entry := &cache.Entry{
			Value:      value,
			CreatedMs:  now,
			AccessedMs: now,
			ExpiresMs:  now + time.Minute.Milliseconds(),
			SizeBytes:  int64(2 * len(value)),
		}
		err := client.Set(ctx, key, entry)
		return time.Since(start), true, err
	}

	_, err := client.Get(ctx, key)
	latency := time.Since(start)
	if err == cache.ErrEntryNotFound {
		return latency, false, nil
	}
	if err != nil {
		return latency, false, err
	}
	return latency, true, nil
}

func printResults(result StressTestResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d\n", result.TotalRequests)
	fmt.Printf("Successful:      %d (%.2f%%)\n", result.SuccessfulReqs, float64(result.SuccessfulReqs)/float64(result.TotalRequests)*100)
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedReqs, float64(result.FailedReqs)/float64(result.TotalRequests)*100)
	fmt.Printf("Cache Hits:      %d\n", result.CacheHits)
	fmt.Printf("Cache Misses:    %d\n", result.CacheMisses)
	fmt.Printf("Requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config StressTestConfig, result StressTestResult) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"address":     config.Address,
			"concurrency": config.Concurrency,
			"duration":    config.Duration.String(),
			"keyspace":    config.Keyspace,
			"value_size":  config.ValueSize,
			"write_ratio": config.WriteRatio,
		},
		"results": map[string]interface{}{
			"total_requests":   result.TotalRequests,
			"successful":       result.SuccessfulReqs,
			"failed":           result.FailedReqs,
			"cache_hits":       result.CacheHits,
			"cache_misses":     result.CacheMisses,
			"requests_per_sec": result.RequestsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
