package services

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestNewRedisServiceRequiresAddr(t *testing.T) {
	if _, err := NewRedisService(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewRedisService(&RedisServiceConfig{}); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestRedisServiceUnreachable(t *testing.T) {
	svc, err := NewRedisService(&RedisServiceConfig{Addr: "127.0.0.1:1", Logger: slog.Default()})
	if err != nil {
		t.Fatalf("NewRedisService: %v", err)
	}
	defer svc.Close()

	if svc.IsHealthy() {
		t.Error("expected unhealthy service for an unreachable address")
	}
	if state := svc.State(); state == "connected" {
		t.Errorf("unexpected state %q", state)
	}
}

func TestHandleInvalidate(t *testing.T) {
	svc := &RedisService{instanceID: "self", logger: slog.Default()}

	var reasons []string
	record := func(reason string) { reasons = append(reasons, reason) }

	own, _ := json.Marshal(invalidateMessage{Source: "self", Reason: "own", Timestamp: time.Now()})
	peer, _ := json.Marshal(invalidateMessage{Source: "peer", Reason: "tool.updated", Timestamp: time.Now()})

	svc.handleInvalidate(string(own), record)
	svc.handleInvalidate("not json", record)
	svc.handleInvalidate(string(peer), record)

	if len(reasons) != 1 || reasons[0] != "tool.updated" {
		t.Errorf("expected only the peer message, got %v", reasons)
	}
}
