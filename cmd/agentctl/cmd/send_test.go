package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"robotagent/pkg/api"

	"github.com/spf13/viper"
)

func TestSendCommand_JoinsArgsAndAppendsNewline(t *testing.T) {
	resetViper()
	sendNoNewline = false

	var got api.InputRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/job-1/input" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"send", "job-1", "print(1", "+", "1)"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Data != "print(1 + 1)\n" {
		t.Errorf("got data %q, want %q", got.Data, "print(1 + 1)\n")
	}
	if !strings.Contains(stdout.String(), "Sent 13 bytes") {
		t.Errorf("unexpected output: %s", stdout.String())
	}
}

func TestSendCommand_NoNewline(t *testing.T) {
	resetViper()

	var got api.InputRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"send", "job-1", "-n", "q"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sendNoNewline = false

	if got.Data != "q" {
		t.Errorf("got data %q, want %q", got.Data, "q")
	}
}

func TestSendCommand_RateLimited(t *testing.T) {
	resetViper()
	sendNoNewline = false

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"send", "job-1", "x"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout.String(), "429") {
		t.Errorf("expected 429 in output, got: %s", stdout.String())
	}
}
