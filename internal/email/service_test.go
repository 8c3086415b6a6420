package email

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: 587,
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: 587,
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: 587,
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config, zap.NewNop())
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendSkipsWhenUnconfigured(t *testing.T) {
	svc := NewService(Config{AppName: "Egida"}, zap.NewNop())
	if err := svc.SendInvite("a@example.com", "Acme", "member", "https://example.com/i", "72 hours"); err != nil {
		t.Errorf("SendInvite on unconfigured service should be a no-op, got %v", err)
	}
}

func TestRenderInviteTemplate(t *testing.T) {
	data := InviteData{
		AppName:   "Egida",
		OrgName:   "Acme Corp",
		Role:      "admin",
		InviteURL: "https://example.com/invite?token=abc123",
		ExpiresIn: "72 hours",
	}

	html, err := renderTemplate(inviteEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Acme Corp") {
		t.Error("template should contain organization name")
	}
	if !strings.Contains(html, "admin") {
		t.Error("template should contain role")
	}
	if !strings.Contains(html, "https://example.com/invite?token=abc123") {
		t.Error("template should contain invite URL")
	}
	if !strings.Contains(html, "72 hours") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	data := PasswordResetData{
		AppName:  "Egida",
		ResetURL: "https://example.com/reset?token=xyz789",
	}

	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Egida") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "https://example.com/reset?token=xyz789") {
		t.Error("template should contain reset URL")
	}
	if !strings.Contains(html, "1 hour") {
		t.Error("template should mention expiration time")
	}
}
