// Quota exerciser: registers a handful of throwaway accounts, hammers the
// solve endpoint and reports the status distribution. With the daily limit at
// its default of 5, most requests per account should come back 429.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type RequestResult struct {
	Email      string
	Duration   time.Duration
	Error      error
	StatusCode int
}

// Minimal 1x1 PNG, enough for the server's content sniffing.
var probeImage = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func main() {
	log.Println("Starting quota load test")

	baseURL := "http://localhost:8080"
	if len(os.Args) > 1 {
		baseURL = os.Args[1]
	}

	totalRequests := 100
	numUsers := 5
	concurrentWorkers := 10

	runID := time.Now().UnixNano()
	emails := make([]string, numUsers)
	for i := range emails {
		emails[i] = fmt.Sprintf("loadtest_%d_%d@example.com", runID, i+1)
	}

	clients := make(map[string]*http.Client, numUsers)
	for _, email := range emails {
		client, err := registerAndLogin(baseURL, email)
		if err != nil {
			log.Fatalf("Failed to prepare account %s: %v", email, err)
		}
		clients[email] = client
	}
	log.Printf("Prepared %d accounts", len(emails))

	var failed int64
	statusCounts := make(map[int]int64)
	var mu sync.Mutex

	requestChan := make(chan string, totalRequests)
	resultChan := make(chan RequestResult, totalRequests)

	var wg sync.WaitGroup
	for i := 0; i < concurrentWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for email := range requestChan {
				resultChan <- makeSolveRequest(baseURL, clients[email], email)
			}
		}()
	}

	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for result := range resultChan {
			if result.Error != nil {
				atomic.AddInt64(&failed, 1)
				continue
			}
			mu.Lock()
			statusCounts[result.StatusCode]++
			mu.Unlock()
		}
	}()

	startTime := time.Now()
	for i := 0; i < totalRequests; i++ {
		requestChan <- emails[i%len(emails)]
	}
	close(requestChan)
	wg.Wait()
	close(resultChan)
	<-collectorDone

	log.Printf("Finished %d requests in %s", totalRequests, time.Since(startTime).Round(time.Millisecond))
	log.Printf("Transport failures: %d", failed)

	codes := make([]int, 0, len(statusCounts))
	for code := range statusCounts {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		log.Printf("  HTTP %d: %d", code, statusCounts[code])
	}

	expectedAllowed := int64(numUsers) * 5
	if got := statusCounts[http.StatusOK] + statusCounts[http.StatusBadGateway]; got > expectedAllowed {
		log.Printf("WARNING: %d requests passed the quota gate, expected at most %d", got, expectedAllowed)
	} else {
		log.Printf("Quota gate held: at most %d requests per account reached the model", 5)
	}
}

func registerAndLogin(baseURL, email string) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Jar: jar, Timeout: 2 * time.Minute}

	register := map[string]string{
		"email":        email,
		"password":     "loadtest-pass",
		"school_grade": "load test",
	}
	if err := postJSON(client, baseURL+"/api/register", register, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	login := map[string]string{
		"email":    email,
		"password": "loadtest-pass",
	}
	if err := postJSON(client, baseURL+"/api/login", login, http.StatusOK); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	return client, nil
}

func postJSON(client *http.Client, url string, payload interface{}, wantStatus int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("got status %d: %s", resp.StatusCode, payload)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func makeSolveRequest(baseURL string, client *http.Client, email string) RequestResult {
	startTime := time.Now()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "problem.png")
	if err != nil {
		return RequestResult{Email: email, Error: err}
	}
	if _, err := part.Write(probeImage); err != nil {
		return RequestResult{Email: email, Error: err}
	}
	if err := writer.Close(); err != nil {
		return RequestResult{Email: email, Error: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/solve?stream=true", body)
	if err != nil {
		return RequestResult{Email: email, Error: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return RequestResult{Email: email, Duration: duration, Error: err}
	}
	defer resp.Body.Close()

	// Drain the streamed answer.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return RequestResult{Email: email, Duration: duration, Error: err, StatusCode: resp.StatusCode}
	}

	return RequestResult{Email: email, Duration: duration, StatusCode: resp.StatusCode}
}
