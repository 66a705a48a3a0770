package handlers

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNormalizingResolver(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain", "alice", "alice", false},
		{"trimmed", "  bob.smith@example.com \t", "bob.smith@example.com", false},
		{"nfc", "José", "José", false},
		{"already nfc", "José", "José", false},
		{"unicode letters", "Šárka Nováková", "Šárka Nováková", false},
		{"digits and dashes", "emp-00_42", "emp-00_42", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"slash", "a/b", "", true},
		{"control", "a\x00b", "", true},
		{"newline", "alice\nbob", "", true},
		{"too long", strings.Repeat("a", MaxSubjectIDLength+1), "", true},
		{"max length", strings.Repeat("é", MaxSubjectIDLength), strings.Repeat("é", MaxSubjectIDLength), false},
	}

	var r NormalizingResolver
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrSubjectInvalid) {
					t.Fatalf("expected ErrSubjectInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
