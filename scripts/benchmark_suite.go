package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"
)

type Scenario struct {
	TotalRequests int
	Concurrency   int
	Format        string
	Description   string
	Downloads     bool
}

type Result struct {
	JobID          string
	Status         int
	AcceptDuration time.Duration
	TotalDuration  time.Duration // Time until job "COMPLETED" or body fully drained
	Bytes          int64
	Error          error
}

func main() {
	baseURL := envOr("VAULT_URL", "http://localhost:8080")
	secret := envOr("API_SECRET", "devsecret")

	scenarios := []Scenario{
		{TotalRequests: 200, Concurrency: 20, Downloads: true, Description: "Download Throughput (seeded files)"},
		{TotalRequests: 20, Concurrency: 5, Format: "csv", Description: "Report Baseline (Low Load)"},
		{TotalRequests: 50, Concurrency: 25, Format: "pdf", Description: "Report Stress (High Concurrency)"},
	}

	for _, scenario := range scenarios {
		runScenario(baseURL, secret, scenario)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runScenario(baseURL, secret string, cfg Scenario) {
	fmt.Printf("\n=======================================================\n")
	fmt.Printf("Scenario: %s\n", cfg.Description)
	fmt.Printf("Requests: %d | Concurrency: %d\n", cfg.TotalRequests, cfg.Concurrency)
	fmt.Printf("=======================================================\n")

	var fileIDs []string
	if cfg.Downloads {
		var err error
		fileIDs, err = listFileIDs(baseURL)
		if err != nil || len(fileIDs) == 0 {
			fmt.Printf("SKIPPED: no files to download (%v). Run the seed script first.\n", err)
			return
		}
	}

	results := make(chan Result, cfg.TotalRequests)
	var wg sync.WaitGroup
	gate := make(chan struct{}, cfg.Concurrency)

	startTime := time.Now()

	for i := 0; i < cfg.TotalRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			gate <- struct{}{}
			defer func() { <-gate }()

			var res Result
			if cfg.Downloads {
				res = downloadRequest(baseURL, fileIDs[id%len(fileIDs)])
			} else {
				res = reportRequest(baseURL, secret, cfg.Format)
			}
			results <- res

			if id%10 == 0 {
				fmt.Print(".")
			}
		}(i)
	}

	wg.Wait()
	close(results)
	totalTime := time.Since(startTime)
	fmt.Println()

	var acceptLatencies []time.Duration
	var processLatencies []time.Duration
	var totalBytes int64
	var failures int

	for res := range results {
		if res.Error != nil {
			failures++
			continue
		}
		acceptLatencies = append(acceptLatencies, res.AcceptDuration)
		if res.TotalDuration > 0 {
			processLatencies = append(processLatencies, res.TotalDuration)
		}
		totalBytes += res.Bytes
	}

	sort.Slice(acceptLatencies, func(i, j int) bool { return acceptLatencies[i] < acceptLatencies[j] })
	sort.Slice(processLatencies, func(i, j int) bool { return processLatencies[i] < processLatencies[j] })

	fmt.Printf("\nRESULTS:\n")
	fmt.Printf("Total Duration: %v\n", totalTime)
	fmt.Printf("Throughput: %.2f req/sec\n", float64(cfg.TotalRequests)/totalTime.Seconds())
	fmt.Printf("Success Rate: %.1f%%\n", float64(cfg.TotalRequests-failures)/float64(cfg.TotalRequests)*100)
	if totalBytes > 0 {
		fmt.Printf("Data Transferred: %.2f MB\n", float64(totalBytes)/1024/1024)
	}
	if len(acceptLatencies) > 0 {
		fmt.Printf("First Response (P95): %v\n", acceptLatencies[int(float64(len(acceptLatencies))*0.95)])
	}
	if len(processLatencies) > 0 {
		fmt.Printf("Completion Time (P95): %v\n", processLatencies[int(float64(len(processLatencies))*0.95)])
	}
}

func listFileIDs(baseURL string) ([]string, error) {
	resp, err := http.Get(baseURL + "/files?limit=500")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("list failed: %d", resp.StatusCode)
	}

	var files []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	return ids, nil
}

func downloadRequest(baseURL, id string) Result {
	start := time.Now()

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Get(baseURL + "/files/" + id)
	if err != nil {
		return Result{Error: err}
	}
	defer resp.Body.Close()

	acceptTime := time.Since(start)
	if resp.StatusCode != 200 {
		return Result{Status: resp.StatusCode, AcceptDuration: acceptTime, Error: fmt.Errorf("download failed: %d", resp.StatusCode)}
	}

	// Draining the body is what releases the server-side cursor; the
	// measurement must include it.
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return Result{Status: 200, AcceptDuration: acceptTime, Error: err}
	}

	return Result{Status: 200, AcceptDuration: acceptTime, TotalDuration: time.Since(start), Bytes: n}
}

func reportRequest(baseURL, secret, format string) Result {
	start := time.Now()

	payload := map[string]string{"format": format}
	bodyBytes, _ := json.Marshal(payload)
	body := string(bodyBytes)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("POST" + "/admin/report" + body + timestamp))
	signature := hex.EncodeToString(mac.Sum(nil))

	req, _ := http.NewRequest("POST", baseURL+"/admin/report", bytes.NewBuffer(bodyBytes))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", signature)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Error: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != 202 {
		return Result{Status: resp.StatusCode, AcceptDuration: time.Since(start), Error: fmt.Errorf("submit failed: %d", resp.StatusCode)}
	}

	var respJSON map[string]string
	json.NewDecoder(resp.Body).Decode(&respJSON)
	jobID := respJSON["job_id"]
	acceptTime := time.Since(start)

	// Poll every 500ms until the job settles.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(300 * time.Second)

	for {
		select {
		case <-timeout:
			return Result{JobID: jobID, Status: 202, AcceptDuration: acceptTime, Error: fmt.Errorf("timeout waiting for job")}
		case <-ticker.C:
			status, finished, err := checkStatus(baseURL, jobID)
			if err != nil {
				continue // Retry on temp error
			}
			if finished {
				res := Result{JobID: jobID, Status: 202, AcceptDuration: acceptTime, TotalDuration: time.Since(start)}
				if status == "FAILED" {
					res.Error = fmt.Errorf("job failed")
				}
				return res
			}
		}
	}
}

func checkStatus(baseURL, jobID string) (string, bool, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/jobs?id=" + jobID)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", false, fmt.Errorf("status check failed: %d", resp.StatusCode)
	}

	var data struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", false, err
	}

	if data.Status == "COMPLETED" || data.Status == "FAILED" {
		return data.Status, true, nil
	}
	return data.Status, false, nil
}
