package types

import "testing"

func TestModeString(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModePrimary, "primary"},
		{ModeFallback, "fallback"},
		{Mode(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.mode.String(); got != tt.want {
				t.Errorf("Mode.String() = %v, want %v", got, tt.want)
			}
			if got := tt.mode.IsValid(); got != (tt.want != "unknown") {
				t.Errorf("Mode.IsValid() = %v for %v", got, tt.mode)
			}
		})
	}
}

func TestTicketFromFallback(t *testing.T) {
	if (Ticket{Mode: ModePrimary}).FromFallback() {
		t.Error("primary ticket reported as fallback")
	}
	if !(Ticket{Mode: ModeFallback}).FromFallback() {
		t.Error("fallback ticket not reported as fallback")
	}
}
