package idempotency

import (
	"testing"

	"github.com/agentswarm/swarmd/internal/protocol"
)

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
		wantErr  bool
	}{
		{
			name:     "empty map",
			input:    map[string]interface{}{},
			expected: "{}",
			wantErr:  false,
		},
		{
			name: "sorted keys",
			input: map[string]interface{}{
				"z": 1,
				"a": 2,
				"m": 3,
			},
			expected: `{"a":2,"m":3,"z":1}`,
			wantErr:  false,
		},
		{
			name: "nested maps",
			input: map[string]interface{}{
				"outer": map[string]interface{}{
					"z": "last",
					"a": "first",
				},
			},
			expected: `{"outer":{"a":"first","z":"last"}}`,
			wantErr:  false,
		},
		{
			name: "arrays preserved",
			input: map[string]interface{}{
				"items": []interface{}{"z", "a", "m"},
			},
			expected: `{"items":["z","a","m"]}`,
			wantErr:  false,
		},
		{
			name:     "string value",
			input:    "simple string",
			expected: `"simple string"`,
			wantErr:  false,
		},
		{
			name:     "number value",
			input:    42,
			expected: `42`,
			wantErr:  false,
		},
		{
			name:     "nil value",
			input:    nil,
			expected: "null",
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := CanonicalJSON(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("CanonicalJSON() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && string(result) != tt.expected {
				t.Errorf("CanonicalJSON() = %s, want %s", string(result), tt.expected)
			}
		})
	}
}

func TestCanonicalJSONDeterministic(t *testing.T) {
	input1 := map[string]interface{}{
		"a": 1,
		"b": 2,
		"c": 3,
	}

	input2 := map[string]interface{}{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	result1, err1 := CanonicalJSON(input1)
	result2, err2 := CanonicalJSON(input2)

	if err1 != nil || err2 != nil {
		t.Fatalf("CanonicalJSON() errors: %v, %v", err1, err2)
	}

	if string(result1) != string(result2) {
		t.Errorf("CanonicalJSON() not deterministic:\n  %s\n  %s", string(result1), string(result2))
	}
}

func TestGenerateLaunchKey(t *testing.T) {
	base := LaunchAttempt{
		JobID:    "job-1",
		AgentKey: protocol.AgentKeyPrimary1,
		Attempt:  1,
		Argv:     []string{"claude-flow", "swarm", "add a readme"},
	}

	key, err := GenerateLaunchKey(base)
	if err != nil {
		t.Fatalf("GenerateLaunchKey() error = %v", err)
	}

	if len(key) != 67 { // "lk:" (3) + 64 hex chars
		t.Errorf("GenerateLaunchKey() length = %d, want 67", len(key))
	}
	if key[:3] != "lk:" {
		t.Errorf("GenerateLaunchKey() prefix = %s, want 'lk:'", key[:3])
	}

	key2, err := GenerateLaunchKey(base)
	if err != nil {
		t.Fatalf("GenerateLaunchKey() second call error = %v", err)
	}
	if key != key2 {
		t.Errorf("GenerateLaunchKey() not deterministic: %s != %s", key, key2)
	}
}

func TestGenerateLaunchKeyChangeDetection(t *testing.T) {
	base := LaunchAttempt{
		JobID:    "job-1",
		AgentKey: protocol.AgentKeyPrimary1,
		Attempt:  1,
		Argv:     []string{"claude-flow", "swarm", "add a readme"},
	}
	baseKey, _ := GenerateLaunchKey(base)

	tests := []struct {
		name   string
		modify func(*LaunchAttempt)
	}{
		{"different job", func(la *LaunchAttempt) { la.JobID = "job-2" }},
		{"different agent key", func(la *LaunchAttempt) { la.AgentKey = protocol.AgentKeyPrimary2 }},
		{"different attempt", func(la *LaunchAttempt) { la.Attempt = 2 }},
		{"different argv", func(la *LaunchAttempt) { la.Argv = []string{"gemini", "add a readme"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modified := base
			tt.modify(&modified)

			newKey, err := GenerateLaunchKey(modified)
			if err != nil {
				t.Fatalf("GenerateLaunchKey() error = %v", err)
			}
			if newKey == baseKey {
				t.Errorf("GenerateLaunchKey() unchanged after modification: %s", newKey)
			}
		})
	}
}
