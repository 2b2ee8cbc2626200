package ratelimit

import (
	"strings"
	"testing"
)

func TestKey(t *testing.T) {
	tests := []struct {
		tenant, resource, want string
	}{
		{tenant: "user-1", resource: "gpt-4", want: "user-1:gpt-4"},
		{tenant: GlobalTenant, resource: "gpt-4", want: "__global__:gpt-4"},
		{tenant: GlobalTenant, resource: TierResource("high"), want: "__global__:tier-high"},
		{tenant: "a:b", resource: "c", want: `a\:b:c`},
		{tenant: `a\`, resource: "c", want: `a\\:c`},
	}
	for _, tt := range tests {
		if got := Key(tt.tenant, tt.resource); got != tt.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tt.tenant, tt.resource, got, tt.want)
		}
	}
}

func TestKey_NoCollisions(t *testing.T) {
	pairs := [][2]string{
		{"a:b", "c"},
		{"a", "b:c"},
		{`a\`, "b"},
		{"a", `\:b`},
	}

	seen := make(map[string][2]string)
	for _, p := range pairs {
		k := Key(p[0], p[1])
		if prev, ok := seen[k]; ok {
			t.Errorf("Key collision %q: %v and %v", k, prev, p)
		}
		seen[k] = p
	}

	if strings.HasPrefix(Key("a:b", "c"), TenantPrefix("a")) {
		t.Error("tenant a matches keys of tenant a:b")
	}
}
