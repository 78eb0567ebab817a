package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	mockPort  = 9091
	appPort   = 8081
	debugAddr = "127.0.0.1:6060"
	service   = "Bench"
)

var (
	streamChunks = [][]byte{
		[]byte(`{"model":"llama3","response":"Bench","done":false}` + "\n"),
		[]byte(`{"model":"llama3","response":"mark","done":false}` + "\n"),
		[]byte(`{"model":"llama3","response":" safe","done":false}` + "\n"),
		[]byte(`{"model":"llama3","response":" response","done":false}` + "\n"),
	}
	streamDone = []byte(`{"model":"llama3","response":"","done":true,"done_reason":"stop"}` + "\n")
	unaryResp  = []byte(`{"model":"llama3","response":"Hello","done":true,"done_reason":"stop"}`)
	tagsResp   = []byte(`{"models":[{"name":"llama3","model":"llama3","size":4661224676,"details":{"family":"llama"}}]}`)
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	rate := flag.Int("rate", 50, "Requests per second")
	stream := flag.Bool("stream", false, "Use streaming requests")
	chaos := flag.Bool("chaos", false, "Simulate random client disconnections")
	endpoint := flag.String("endpoint", "generate", "Relay endpoint to attack: generate or tags")
	flag.Parse()

	// start mock Ollama backend
	go startMockServer()

	// build and start application
	fmt.Println("Building application...")
	buildCmd := exec.Command("go", "build", "-o", "bin/server", "./cmd/server")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	fmt.Println("Starting application...")
	cmd := exec.Command("./bin/server")

	// point the relay at the mock backend only
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("PORT=%d", appPort),
		fmt.Sprintf("AI_SERVICE_%s=http://localhost:%d", service, mockPort),
		"DEBUG_ADDR="+debugAddr,
		"LOG_LEVEL=error",
		"LOG_FORMAT=json",
	)

	// Redirect output to file for debugging
	logFile, _ := os.Create("bench_server.log")
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}
	defer func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}()

	waitForApp(fmt.Sprintf("http://localhost:%d/health", appPort))

	// Signal channel to stop background tasks (monitor, chaos monkey)
	done := make(chan struct{})

	go func() {
		// Wait for pprof/expvar to initialize
		time.Sleep(2 * time.Second)
		monitorResources(cmd.Process.Pid, done)
	}()

	mode := "Unary"
	if *stream {
		mode = "Streaming"
	}
	fmt.Printf("Running %s benchmark against /api/%s: %s duration, %d req/s\n", mode, *endpoint, *duration, *rate)

	generateURL := fmt.Sprintf("http://localhost:%d/api/generate", appPort)
	body := fmt.Sprintf(`{"model": "%s/llama3", "prompt": "Hello", "stream": %t}`, service, *stream)

	// Dynamically inject timestamp into headers so the backend can report relay overhead
	targeter := func(t *vegeta.Target) error {
		t.Header = http.Header{
			"Content-Type":      []string{"application/json"},
			"X-Benchmark-Start": []string{strconv.FormatInt(time.Now().UnixNano(), 10)},
		}
		if *endpoint == "tags" {
			t.Method = http.MethodGet
			t.URL = fmt.Sprintf("http://localhost:%d/api/tags", appPort)
			t.Body = nil
			return nil
		}
		t.Method = http.MethodPost
		t.URL = generateURL
		t.Body = []byte(body)
		return nil
	}

	if *chaos {
		fmt.Println("CHAOS MODE ENABLED: Starting Chaos Monkey sidecar...")
		chaosConcurrency := *rate / 10
		if chaosConcurrency < 5 {
			chaosConcurrency = 5
		}
		if chaosConcurrency > 50 {
			chaosConcurrency = 50
		}
		go startChaosMonkey(generateURL, chaosConcurrency, done)
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics

	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: *rate, Per: time.Second}, *duration, "Benchmark") {
		metrics.Add(res)
	}
	metrics.Close()

	close(done)

	fmt.Println("--------------------------------------------------")
	fmt.Println("99th percentile: ", metrics.Latencies.P99)
	fmt.Println("Mean:            ", metrics.Latencies.Mean)
	fmt.Println("Max:             ", metrics.Latencies.Max)
	fmt.Printf("Success:         %.2f%%\n", metrics.Success*100)
	fmt.Printf("Throughput:      %.2f req/s\n", metrics.Throughput)
	fmt.Println("--------------------------------------------------")

	if len(metrics.Errors) > 0 {
		fmt.Println("Error Set (first 5 unique):")

		uniqueErrors := make(map[string]bool)
		for _, msg := range metrics.Errors {
			if len(uniqueErrors) == 5 {
				break
			}
			if !uniqueErrors[msg] {
				fmt.Println(msg)
				uniqueErrors[msg] = true
			}
		}
	}
}

// startChaosMonkey fires streaming generations and hangs up on them at random
// points, exercising the relay's cancellation path.
func startChaosMonkey(url string, concurrency int, done chan struct{}) {
	fmt.Printf("Starting Chaos Monkey with %d concurrent disrupters (random disconnects 1-200ms)\n", concurrency)
	var wg sync.WaitGroup
	wg.Add(concurrency)

	payload := fmt.Sprintf(`{"model": "%s/llama3", "prompt": "Chaos Request", "stream": true}`, service)

	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			client := &http.Client{
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 100,
				},
			}

			for {
				select {
				case <-done:
					return
				default:
					timeout := time.Duration(rand.Intn(200)+1) * time.Millisecond

					ctx, cancel := context.WithTimeout(context.Background(), timeout)
					req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
					req.Header.Set("Content-Type", "application/json")

					resp, err := client.Do(req)
					if err == nil {
						_ = resp.Body.Close()
					}
					cancel()

					time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()
}

// startMockServer speaks just enough of the Ollama API for the relay:
// a tag listing and NDJSON generations.
func startMockServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(tagsResp)
	})

	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		if startStr := r.Header.Get("X-Benchmark-Start"); startStr != "" {
			start, _ := strconv.ParseInt(startStr, 10, 64)
			// Sample 1% of requests to avoid console spam
			if rand.Intn(100) == 0 {
				fmt.Printf("DEBUG: Relay Overhead: %v\n", time.Duration(time.Now().UnixNano()-start))
			}
		}

		var req struct {
			Model  string `json:"model"`
			Stream *bool  `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.Model != "llama3" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprintf(w, `{"error":"model %q not found"}`, req.Model)
			return
		}

		// Ollama streams unless told otherwise
		if req.Stream == nil || *req.Stream {
			w.Header().Set("Content-Type", "application/x-ndjson")
			flusher, _ := w.(http.Flusher)

			for _, chunk := range streamChunks {
				time.Sleep(50 * time.Millisecond)
				_, _ = w.Write(chunk)
				flusher.Flush()
			}
			_, _ = w.Write(streamDone)
			flusher.Flush()
			return
		}

		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(unaryResp)
	})

	_ = http.ListenAndServe(fmt.Sprintf(":%d", mockPort), mux)
}

func monitorResources(pid int, done chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	fmt.Println("\n--- Resource Usage (expvar + ps) ---")
	fmt.Printf("% -10s % -10s % -10s % -10s % -10s\n", "Time", "Heap(MB)", "Alloc(MB)", "Goroutines", "CPU(%)")

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			resp, err := http.Get("http://" + debugAddr + "/debug/vars")
			if err != nil {
				fmt.Printf("DEBUG: monitorResources failed to reach expvar: %v\n", err)
				continue
			}

			var vars struct {
				MemStats struct {
					HeapInuse uint64 `json:"HeapInuse"`
					Alloc     uint64 `json:"Alloc"`
				} `json:"memstats"`
				Goroutines int `json:"goroutines"`
			}

			err = json.NewDecoder(resp.Body).Decode(&vars)
			_ = resp.Body.Close()
			if err != nil {
				continue
			}

			cpu := 0.0
			out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "%cpu").Output()
			if err == nil {
				lines := strings.Split(strings.TrimSpace(string(out)), "\n")
				if len(lines) >= 2 {
					cpu, _ = strconv.ParseFloat(strings.TrimSpace(lines[1]), 64)
				}
			}

			fmt.Printf("% -10s % -10.2f % -10.2f % -10d % -10.2f\n",
				time.Now().Format("15:04:05"),
				float64(vars.MemStats.HeapInuse)/1024/1024,
				float64(vars.MemStats.Alloc)/1024/1024,
				vars.Goroutines,
				cpu,
			)
		}
	}
}

func waitForApp(url string) {
	for i := 0; i < 20; i++ {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Fatal("App timed out")
}
