package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version    int
		wantReason string
	}{
		{version: CurrentVersion},
		{version: 0, wantReason: "invalid"},
		{version: -1, wantReason: "invalid"},
		{version: CurrentVersion + 1, wantReason: reasonNewer},
	}
	for _, tt := range tests {
		err := ValidateVersion(tt.version)
		if tt.wantReason == "" {
			if err != nil {
				t.Errorf("ValidateVersion(%d) = %v", tt.version, err)
			}
			continue
		}
		var ve *VersionError
		if !errors.As(err, &ve) {
			t.Fatalf("ValidateVersion(%d) = %T, want *VersionError", tt.version, err)
		}
		if ve.Reason != tt.wantReason {
			t.Errorf("ValidateVersion(%d) reason = %q, want %q", tt.version, ve.Reason, tt.wantReason)
		}
	}
}

func TestVersionErrorMessage(t *testing.T) {
	err := ValidateVersion(CurrentVersion + 1)
	if !strings.Contains(err.Error(), "upgrade sol") {
		t.Fatalf("Error() = %q", err.Error())
	}
}
