// Command smokecheck probes a running forms-api deployment: liveness,
// readiness, login and a handful of critical authenticated endpoints.
// Exit code is non-zero when any critical probe fails.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type probe struct {
	Name     string
	Method   string
	Path     string
	Auth     bool
	Expect   int
	Critical bool
}

type result struct {
	Probe    probe
	Status   int
	Duration time.Duration
	Err      error
}

func main() {
	var (
		base     string
		email    string
		password string
		timeout  time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&email, "email", "", "login email for authenticated probes")
	flag.StringVar(&password, "password", "", "login password")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	client := &http.Client{Timeout: timeout}

	probes := []probe{
		{Name: "liveness", Method: http.MethodGet, Path: "/health", Expect: http.StatusOK, Critical: true},
		{Name: "readiness", Method: http.MethodGet, Path: "/ready", Expect: http.StatusOK, Critical: true},
		{Name: "metrics", Method: http.MethodGet, Path: "/metrics", Expect: http.StatusOK},
	}

	var token string
	if email != "" {
		var err error
		token, err = login(client, base, email, password)
		if err != nil {
			log.Fatalf("login failed: %v", err)
		}
		probes = append(probes,
			probe{Name: "whoami", Method: http.MethodGet, Path: "/api/v1/auth/me", Auth: true, Expect: http.StatusOK, Critical: true},
			probe{Name: "list forms", Method: http.MethodGet, Path: "/api/v1/forms", Auth: true, Expect: http.StatusOK, Critical: true},
			probe{Name: "list executions", Method: http.MethodGet, Path: "/api/v1/executions", Auth: true, Expect: http.StatusOK},
		)
	}

	failed := 0
	for _, p := range probes {
		res := run(client, base, token, p)
		status := "ok"
		if res.Err != nil {
			status = "error: " + res.Err.Error()
		} else if res.Status != p.Expect {
			status = fmt.Sprintf("unexpected status %d (want %d)", res.Status, p.Expect)
		}
		fmt.Printf("%-16s %-6s %-28s %8s  %s\n", p.Name, p.Method, p.Path, res.Duration.Round(time.Millisecond), status)
		if status != "ok" && p.Critical {
			failed++
		}
	}

	if failed > 0 {
		fmt.Printf("%d critical probe(s) failed\n", failed)
		os.Exit(1)
	}
	fmt.Println("all critical probes passed")
}

func login(client *http.Client, base, email, password string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := client.Post(base+"/api/v1/auth/login", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var envelope struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	if envelope.Data.AccessToken == "" {
		return "", fmt.Errorf("login response carried no access token")
	}
	return envelope.Data.AccessToken, nil
}

func run(client *http.Client, base, token string, p probe) result {
	start := time.Now()
	req, err := http.NewRequest(p.Method, base+p.Path, nil)
	if err != nil {
		return result{Probe: p, Err: err}
	}
	if p.Auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return result{Probe: p, Duration: time.Since(start), Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	return result{Probe: p, Status: resp.StatusCode, Duration: time.Since(start)}
}
