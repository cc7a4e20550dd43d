package tokens

import "testing"

func TestBotRefRoundTrip(t *testing.T) {
	for _, id := range []int64{1, 42, 9000000000} {
		ref := BotRef(id)
		got, err := ParseBotRef(ref)
		if err != nil {
			t.Fatalf("ParseBotRef(%q): %v", ref, err)
		}
		if got != id {
			t.Fatalf("ParseBotRef(%q) = %d, want %d", ref, got, id)
		}
	}
	if BotRef(7) != "stars_token_7" {
		t.Fatalf("unexpected format: %s", BotRef(7))
	}
}

func TestParseBotRefRejects(t *testing.T) {
	for _, ref := range []string{"", "7", "stars_token_", "stars_token_x", "stars_token_-3", "stars_token_0", "bot_7"} {
		if _, err := ParseBotRef(ref); err == nil {
			t.Errorf("ParseBotRef(%q): expected error", ref)
		}
	}
}

func TestTokenPreview(t *testing.T) {
	tok := &Token{Token: "123456789:AAFakeTokenValue"}
	if got := tok.Preview(); got != "12345678…" {
		t.Fatalf("Preview() = %q", got)
	}
	short := &Token{Token: "abc"}
	if got := short.Preview(); got != "abc" {
		t.Fatalf("Preview() = %q", got)
	}
}
