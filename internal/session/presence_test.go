package session

import (
	"testing"
	"time"
)

func TestPresence_Regained(t *testing.T) {
	tests := []struct {
		name      string
		hiddenFor time.Duration
		want      int
	}{
		{name: "short blur", hiddenFor: 5 * time.Second, want: 0},
		{name: "exactly threshold", hiddenFor: 30 * time.Second, want: 0},
		{name: "long absence", hiddenFor: 2 * time.Minute, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
			p := NewPresence(30 * time.Second)
			p.now = func() time.Time { return clock }

			fired := 0
			p.OnRegained(func() { fired++ })

			p.SetVisible(false)
			clock = clock.Add(tt.hiddenFor)
			p.SetVisible(true)

			if fired != tt.want {
				t.Errorf("fired = %d, want %d", fired, tt.want)
			}
		})
	}
}

func TestPresence_RepeatedSignals(t *testing.T) {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewPresence(time.Second)
	p.now = func() time.Time { return clock }

	fired := 0
	p.OnRegained(func() { fired++ })

	p.Focus()
	if fired != 0 {
		t.Fatal("focus while visible should not fire")
	}

	p.Blur()
	clock = clock.Add(10 * time.Second)
	p.Blur()
	p.Focus()
	p.SetVisible(true)

	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if !p.Visible() {
		t.Error("Visible() = false after focus")
	}
}
