package language

import "testing"

func TestDetect(t *testing.T) {
	t.Parallel()

	detector := NewDetector()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"uzbek greeting", "salom, qanday yordam bera olasiz?", Uzbek},
		{"uzbek polite", "assalomu alaykum", Uzbek},
		{"russian cyrillic", "привет, как дела?", Russian},
		{"cyrillic without keywords", "Доброе утро", Russian},
		{"english mirrors input", "hello there", Auto},
		{"empty mirrors input", "", Auto},
		{"numbers mirror input", "12345", Auto},
		{"mixed uzbek dominates", "salom, rahmat сизга", Uzbek},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := detector.Detect(tt.text); got != tt.want {
				t.Errorf("Detect(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestWantsMedia(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"english show me", "can you show me the red bike?", true},
		{"uzbek rasm", "mahsulot rasmini yuboring", true},
		{"russian photo", "пришли фото товара", true},
		{"plain question", "how much does it cost?", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := WantsMedia(tt.text); got != tt.want {
				t.Errorf("WantsMedia(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestMatchesTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		title   string
		content string
		want    bool
	}{
		{"title token", "show me the mountain bike picture", "Mountain Bike", "A sturdy bicycle", true},
		{"content token", "picture of the bicycle please", "Bikes", "A sturdy bicycle for trails", true},
		{"short tokens ignored", "show me the red one", "Red", "The top", false},
		{"no overlap", "show me a laptop", "Mountain Bike", "A sturdy bicycle", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MatchesTopic(tt.text, tt.title, tt.content); got != tt.want {
				t.Errorf("MatchesTopic(%q, %q, %q) = %v, want %v", tt.text, tt.title, tt.content, got, tt.want)
			}
		})
	}
}
