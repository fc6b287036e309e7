package api

import (
	"strings"
	"testing"
)

func TestValidateEmit_ValidRequest(t *testing.T) {
	req := EmitRequest{
		TenantID: "tenant-a",
		Channel:  "slack",
		Payload:  map[string]any{"text": "hi"},
	}

	if err := validateEmit(req); err != nil {
		t.Errorf("valid request should not return error, got: %v", err)
	}
}

func TestValidateEmit_Errors(t *testing.T) {
	base := EmitRequest{
		EventID:  "evt-1",
		TenantID: "tenant-a",
		Channel:  "email",
	}

	tests := []struct {
		name    string
		modify  func(r *EmitRequest)
		wantErr string
	}{
		{
			name:    "missing tenant_id",
			modify:  func(r *EmitRequest) { r.TenantID = "" },
			wantErr: "tenant_id is required",
		},
		{
			name:    "missing channel",
			modify:  func(r *EmitRequest) { r.Channel = "" },
			wantErr: "channel is required",
		},
		{
			name:    "unknown channel",
			modify:  func(r *EmitRequest) { r.Channel = "sms" },
			wantErr: "invalid channel",
		},
		{
			name:    "long event_id",
			modify:  func(r *EmitRequest) { r.EventID = strings.Repeat("x", maxIDLength+1) },
			wantErr: "event_id exceeds",
		},
		{
			name:    "long tenant_id",
			modify:  func(r *EmitRequest) { r.TenantID = strings.Repeat("x", maxIDLength+1) },
			wantErr: "tenant_id exceeds",
		},
		{
			name:    "long correlation_key",
			modify:  func(r *EmitRequest) { r.CorrelationKey = strings.Repeat("x", maxIDLength+1) },
			wantErr: "correlation_key exceeds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.modify(&req)
			err := validateEmit(req)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateEmit_EventIDOptional(t *testing.T) {
	req := EmitRequest{TenantID: "tenant-a", Channel: "whatsapp"}
	if err := validateEmit(req); err != nil {
		t.Errorf("event_id should be optional, got: %v", err)
	}
}
