package webhooks

import "testing"

func TestExtractContent(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]interface{}
		want    string
	}{
		{"plain text", map[string]interface{}{"conversation": "bom dia"}, "bom dia"},
		{"extended text", map[string]interface{}{"extendedTextMessage": map[string]interface{}{"text": "link aqui"}}, "link aqui"},
		{"image caption", map[string]interface{}{"imageMessage": map[string]interface{}{"caption": "olha isso"}}, "olha isso"},
		{"image without caption", map[string]interface{}{"imageMessage": map[string]interface{}{"url": "x"}}, "📷 Imagem"},
		{"audio", map[string]interface{}{"audioMessage": map[string]interface{}{}}, "🎤 Áudio"},
		{"video caption wins over placeholder", map[string]interface{}{"videoMessage": map[string]interface{}{"caption": "veja"}}, "veja"},
		{"document", map[string]interface{}{"documentMessage": map[string]interface{}{}}, "📄 Documento"},
		{"contact card", map[string]interface{}{"contactMessage": map[string]interface{}{}}, "📇 Contato"},
		{"location", map[string]interface{}{"locationMessage": map[string]interface{}{}}, "📍 Localização"},
		{"sticker", map[string]interface{}{"stickerMessage": map[string]interface{}{}}, "🏷️ Figurinha"},
		{"text wins over media", map[string]interface{}{"conversation": "oi", "imageMessage": map[string]interface{}{}}, "oi"},
		{"unknown payload", map[string]interface{}{"reactionMessage": map[string]interface{}{}}, "Mídia/Outros"},
		{"nil payload", nil, "Mídia/Outros"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractContent(tc.payload); got != tc.want {
				t.Errorf("ExtractContent() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMessageKind(t *testing.T) {
	if got := MessageKind(map[string]interface{}{"conversation": "oi"}); got != "conversation" {
		t.Errorf("kind = %s", got)
	}
	if got := MessageKind(map[string]interface{}{"stickerMessage": map[string]interface{}{}}); got != "stickerMessage" {
		t.Errorf("kind = %s", got)
	}
	if got := MessageKind(nil); got != "unknown" {
		t.Errorf("kind = %s", got)
	}
}

func TestNormalizeState(t *testing.T) {
	cases := map[string]string{
		"open":       "connected",
		"OPEN":       "connected",
		"connecting": "connecting",
		"close":      "disconnected",
		"refused":    "disconnected",
		"":           "disconnected",
	}
	for state, want := range cases {
		if got := NormalizeState(state); got != want {
			t.Errorf("NormalizeState(%q) = %q, want %q", state, got, want)
		}
	}
}
