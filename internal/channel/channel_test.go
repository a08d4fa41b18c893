package channel

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrNameEmpty},
		{"simple", "global", nil},
		{"dotted", "forge.job.abc-123", nil},
		{"hyphen", "my-channel", nil},
		{"digits", "channel2", nil},
		{"max length", strings.Repeat("a", 100), nil},
		{"too long", strings.Repeat("a", 101), ErrNameTooLong},
		{"uppercase", "Global", ErrNameInvalidChar},
		{"space", "my channel", ErrNameInvalidChar},
		{"underscore", "my_channel", ErrNameInvalidChar},
		{"slash", "a/b", ErrNameInvalidChar},
		{"unicode", "café", ErrNameInvalidChar},
		{"leading dot", ".channel", ErrNameDotEdge},
		{"trailing dot", "channel.", ErrNameDotEdge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
	}{
		{"global", KindGlobal},
		{"user.123", KindUser},
		{"strategy.macd-cross", KindStrategy},
		{"forge.job.4f3a2b", KindForgeJob},
		{"backtest.77", KindBacktest},
		{"trade", KindPublic},
		{"candles", KindPublic},
		{"sys", KindPublic},
		{"rsi", KindPublic},
		{"extrema", KindPublic},
		{"analysis", KindPublic},
		{"subscription", KindPublic},
		{"payment", KindPublic},
		{"deposit", KindPublic},
		{"full.flow", KindOther},
		{"users.123", KindOther},
		{"globally", KindOther},
	}

	for _, tt := range tests {
		kind, err := Validate(tt.input)
		if err != nil {
			t.Fatalf("Validate(%q): %v", tt.input, err)
		}
		if kind != tt.want {
			t.Fatalf("Classify(%q) = %v, want %v", tt.input, kind, tt.want)
		}
	}
}

func TestEphemeral(t *testing.T) {
	if !KindForgeJob.Ephemeral() || !KindBacktest.Ephemeral() {
		t.Fatalf("forge job and backtest kinds must be ephemeral")
	}
	for _, k := range []Kind{KindGlobal, KindUser, KindStrategy, KindPublic, KindOther} {
		if k.Ephemeral() {
			t.Fatalf("kind %v must not be ephemeral", k)
		}
	}
}

func TestUserID(t *testing.T) {
	if got := UserID("user.42"); got != "42" {
		t.Fatalf("UserID(user.42) = %q, want %q", got, "42")
	}
	if got := UserID("trade"); got != "" {
		t.Fatalf("UserID(trade) = %q, want empty", got)
	}
}
