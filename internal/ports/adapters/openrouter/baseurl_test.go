package openrouter

import (
	"testing"

	"github.com/forPelevin/autoclip/internal/errs"
)

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name         string
		baseURL      string
		allowedHosts []string
		wantErr      bool
	}{
		{name: "empty uses default", baseURL: ""},
		{name: "default host with https", baseURL: "https://openrouter.ai"},
		{name: "default api host with trailing slash", baseURL: "https://api.openrouter.ai/"},
		{name: "reject non-absolute URL", baseURL: "openrouter.ai", wantErr: true},
		{name: "reject http", baseURL: "http://openrouter.ai", wantErr: true},
		{name: "reject unknown host by default", baseURL: "https://evil.example", wantErr: true},
		{name: "allow configured host", baseURL: "https://proxy.internal", allowedHosts: []string{"https://Proxy.Internal:443/"}},
		{name: "configured list replaces defaults", baseURL: "https://openrouter.ai", allowedHosts: []string{"proxy.internal"}, wantErr: true},
		{name: "reject userinfo", baseURL: "https://u:p@openrouter.ai", wantErr: true},
		{name: "reject query", baseURL: "https://openrouter.ai?x=1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL(tt.baseURL, tt.allowedHosts)
			if tt.wantErr {
				if !errs.Is(err, errs.Validation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAllowedHostSet_DefaultWhenEmpty(t *testing.T) {
	out := allowedHostSet([]string{" ", "https://", "http://"})
	if len(out) != len(defaultAllowedHosts) {
		t.Fatalf("expected default allowed hosts, got %v", out)
	}
}

func TestParseAllowedHosts(t *testing.T) {
	got := ParseAllowedHosts(" a.example , ,b.example")
	if len(got) != 2 || got[0] != "a.example" || got[1] != "b.example" {
		t.Fatalf("unexpected hosts: %v", got)
	}
	if ParseAllowedHosts("") != nil {
		t.Fatalf("expected nil for empty value")
	}
}
