package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestFromEnviron_Defaults(t *testing.T) {
	cfg, err := FromEnviron(nil)
	if err != nil {
		t.Fatalf("FromEnviron() error = %v", err)
	}

	if cfg.APIPort != 8080 || cfg.SchedPort != 8081 || cfg.WorkerPort != 8082 || cfg.OrchPort != 8083 {
		t.Errorf("ports = %d/%d/%d/%d", cfg.APIPort, cfg.SchedPort, cfg.WorkerPort, cfg.OrchPort)
	}
	if cfg.MaxSteps != 50 {
		t.Errorf("MaxSteps = %d, want 50", cfg.MaxSteps)
	}
	if cfg.NodeTimeout != 15*time.Second {
		t.Errorf("NodeTimeout = %v, want 15s", cfg.NodeTimeout)
	}
	if cfg.HistoryTurns != 20 {
		t.Errorf("HistoryTurns = %d, want 20", cfg.HistoryTurns)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("OpenAIModel = %q", cfg.OpenAIModel)
	}
	if cfg.LedgerRetention != 720*time.Hour || cfg.RunsRetention != 2160*time.Hour {
		t.Errorf("retention = %v/%v", cfg.LedgerRetention, cfg.RunsRetention)
	}
	if cfg.MaintenanceCron != "0 3 * * *" {
		t.Errorf("MaintenanceCron = %q", cfg.MaintenanceCron)
	}
	if cfg.CancelKeywords != nil {
		t.Errorf("CancelKeywords = %#v, want nil", cfg.CancelKeywords)
	}
	if cfg.LockPoolSize != 20 {
		t.Errorf("LockPoolSize = %d, want 20", cfg.LockPoolSize)
	}
}

func TestFromEnviron_Overrides(t *testing.T) {
	cfg, err := FromEnviron([]string{
		"API_PORT=9090",
		"FLOWBOT_MAX_STEPS=10",
		"FLOWBOT_NODE_TIMEOUT=2s",
		"FLOWBOT_SYNC_EVENTS=true",
		"FLOWBOT_CANCEL_KEYWORDS= salir , basta,,",
		"SEARCH_URL=http://search.local:8000",
		"MAINTENANCE_CRON=*/30 * * * *",
		"LEDGER_RETENTION=48h",
		"UNRELATED=value=with=equals",
	})
	if err != nil {
		t.Fatalf("FromEnviron() error = %v", err)
	}

	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d", cfg.APIPort)
	}
	if cfg.MaxSteps != 10 {
		t.Errorf("MaxSteps = %d", cfg.MaxSteps)
	}
	if cfg.NodeTimeout != 2*time.Second {
		t.Errorf("NodeTimeout = %v", cfg.NodeTimeout)
	}
	if !cfg.SyncEvents {
		t.Error("SyncEvents = false")
	}
	if want := []string{"salir", "basta"}; !reflect.DeepEqual(cfg.CancelKeywords, want) {
		t.Errorf("CancelKeywords = %#v, want %#v", cfg.CancelKeywords, want)
	}
	if cfg.SearchURL != "http://search.local:8000" {
		t.Errorf("SearchURL = %q", cfg.SearchURL)
	}
	if cfg.MaintenanceCron != "*/30 * * * *" {
		t.Errorf("MaintenanceCron = %q", cfg.MaintenanceCron)
	}
	if cfg.LedgerRetention != 48*time.Hour {
		t.Errorf("LedgerRetention = %v", cfg.LedgerRetention)
	}
}

func TestFromEnviron_EmptyCancelKeywordsDisable(t *testing.T) {
	cfg, err := FromEnviron([]string{"FLOWBOT_CANCEL_KEYWORDS="})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CancelKeywords == nil || len(cfg.CancelKeywords) != 0 {
		t.Errorf("CancelKeywords = %#v, want empty non-nil", cfg.CancelKeywords)
	}
}

func TestFromEnviron_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     []string
		wantErr string
	}{
		{"port out of range", []string{"API_PORT=70000"}, "APIPort"},
		{"zero steps", []string{"FLOWBOT_MAX_STEPS=0"}, "MaxSteps"},
		{"zero lock pool", []string{"FLOWBOT_LOCK_POOL_SIZE=0"}, "LockPoolSize"},
		{"bad cron", []string{"MAINTENANCE_CRON=every day"}, "MaintenanceCron"},
		{"bad url", []string{"PAYMENT_URL=not a url"}, "PaymentURL"},
		{"bad duration", []string{"COLLAB_TIMEOUT=soon"}, "decode environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnviron(tt.env)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestAddr(t *testing.T) {
	if got := Addr(8080); got != ":8080" {
		t.Errorf("Addr() = %q", got)
	}
}
