package health

import (
	"strings"
	"testing"
	"time"
)

func TestStatus_IsHealthy(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{
			name:   "healthy status returns true",
			status: Status{Status: "healthy"},
			want:   true,
		},
		{
			name:   "unhealthy status returns false",
			status: Status{Status: "unhealthy"},
			want:   false,
		},
		{
			name:   "degraded status returns false",
			status: Status{Status: "degraded"},
			want:   false,
		},
		{
			name:   "empty status returns false",
			status: Status{Status: ""},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsHealthy(); got != tt.want {
				t.Errorf("Status.IsHealthy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus_IsDegraded(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{
			name:   "degraded status returns true",
			status: Status{Status: "degraded"},
			want:   true,
		},
		{
			name:   "healthy status returns false",
			status: Status{Status: "healthy"},
			want:   false,
		},
		{
			name:   "unhealthy status returns false",
			status: Status{Status: "unhealthy"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsDegraded(); got != tt.want {
				t.Errorf("Status.IsDegraded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus_IsUnhealthy(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{
			name:   "unhealthy status returns true",
			status: Status{Status: "unhealthy"},
			want:   true,
		},
		{
			name:   "healthy status returns false",
			status: Status{Status: "healthy"},
			want:   false,
		},
		{
			name:   "degraded status returns false",
			status: Status{Status: "degraded"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsUnhealthy(); got != tt.want {
				t.Errorf("Status.IsUnhealthy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus_WithMetrics(t *testing.T) {
	original := Status{
		Component: "test",
		Status:    "healthy",
		Message:   "test message",
	}

	metrics := &Metrics{
		Uptime:     time.Hour,
		ErrorCount: 5,
	}

	result := original.WithMetrics(metrics)

	// Should not modify original
	if original.Metrics != nil {
		t.Error("WithMetrics should not modify original status")
	}

	// Should return copy with metrics
	if result.Metrics == nil {
		t.Error("WithMetrics should return status with metrics")
	}

	if result.Metrics.Uptime != time.Hour {
		t.Errorf("Expected uptime %v, got %v", time.Hour, result.Metrics.Uptime)
	}

	if result.Metrics.ErrorCount != 5 {
		t.Errorf("Expected error count 5, got %d", result.Metrics.ErrorCount)
	}
}

func TestStatus_WithSubStatus(t *testing.T) {
	original := Status{
		Component: "parent",
		Status:    "healthy",
		Message:   "parent message",
	}

	subStatus := Status{
		Component: "child",
		Status:    "unhealthy",
		Message:   "child message",
	}

	result := original.WithSubStatus(subStatus)

	// Should not modify original
	if len(original.SubStatuses) != 0 {
		t.Error("WithSubStatus should not modify original status")
	}

	// Should return copy with sub-status
	if len(result.SubStatuses) != 1 {
		t.Errorf("Expected 1 sub-status, got %d", len(result.SubStatuses))
	}

	if result.SubStatuses[0].Component != "child" {
		t.Errorf("Expected child component, got %s", result.SubStatuses[0].Component)
	}
}

func TestFromNodeState(t *testing.T) {
	tests := []struct {
		name       string
		nodeName   string
		running    bool
		stateName  string
		uptime     time.Duration
		fireCount  int64
		errorCount int
		lastError  string
		wantStatus string
		wantMsgHas string
	}{
		{
			name:       "running node",
			nodeName:   "adder-1",
			running:    true,
			stateName:  "started",
			uptime:     time.Hour,
			fireCount:  42,
			errorCount: 0,
			wantStatus: "healthy",
			wantMsgHas: "started",
		},
		{
			name:       "stopped node with error",
			nodeName:   "nats-push-adapter",
			running:    false,
			stateName:  "failed",
			uptime:     time.Minute,
			fireCount:  3,
			errorCount: 3,
			lastError:  "connection failed",
			wantStatus: "unhealthy",
			wantMsgHas: "connection failed",
		},
		{
			name:       "stopped node without error message",
			nodeName:   "alarm-node",
			running:    false,
			stateName:  "stopped",
			uptime:     time.Second,
			fireCount:  1,
			errorCount: 1,
			wantStatus: "unhealthy",
			wantMsgHas: "stopped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FromNodeState(tt.nodeName, tt.running, tt.stateName, tt.uptime, tt.fireCount, time.Now(), tt.errorCount, tt.lastError)

			if result.Component != tt.nodeName {
				t.Errorf("Expected node name %s, got %s", tt.nodeName, result.Component)
			}

			if result.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, result.Status)
			}

			if !strings.Contains(result.Message, tt.wantMsgHas) {
				t.Errorf("Expected message to contain %q, got %q", tt.wantMsgHas, result.Message)
			}

			if result.Metrics == nil {
				t.Error("Expected metrics to be set")
			} else {
				if result.Metrics.Uptime != tt.uptime {
					t.Errorf("Expected uptime %v, got %v", tt.uptime, result.Metrics.Uptime)
				}

				if result.Metrics.ErrorCount != tt.errorCount {
					t.Errorf("Expected error count %d, got %d", tt.errorCount, result.Metrics.ErrorCount)
				}

				if result.Metrics.MessagesProcessed != tt.fireCount {
					t.Errorf("Expected fire count %d, got %d", tt.fireCount, result.Metrics.MessagesProcessed)
				}
			}

			if result.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
		})
	}
}
