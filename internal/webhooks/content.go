package webhooks

import "github.com/spf13/cast"

// mediaLabels maps payload type keys to the pt-BR placeholder shown when a
// message carries no extractable text.
var mediaLabels = map[string]string{
	"imageMessage":    "📷 Imagem",
	"audioMessage":    "🎤 Áudio",
	"videoMessage":    "🎬 Vídeo",
	"documentMessage": "📄 Documento",
	"contactMessage":  "📇 Contato",
	"locationMessage": "📍 Localização",
	"stickerMessage":  "🏷️ Figurinha",
}

// typeOrder fixes which payload key wins when several are present, so the
// same payload always yields the same placeholder.
var typeOrder = []string{
	"imageMessage",
	"videoMessage",
	"audioMessage",
	"documentMessage",
	"stickerMessage",
	"contactMessage",
	"locationMessage",
}

// ExtractContent derives display text from a polymorphic message payload.
// Plain text wins, then media captions, then a per-type placeholder, and as
// a last resort a generic label so messages never persist with empty content.
func ExtractContent(message map[string]interface{}) string {
	if message == nil {
		return "Mídia/Outros"
	}
	if text := cast.ToString(message["conversation"]); text != "" {
		return text
	}
	if ext, ok := message["extendedTextMessage"].(map[string]interface{}); ok {
		if text := cast.ToString(ext["text"]); text != "" {
			return text
		}
	}
	for _, key := range []string{"imageMessage", "videoMessage", "documentMessage"} {
		if media, ok := message[key].(map[string]interface{}); ok {
			if caption := cast.ToString(media["caption"]); caption != "" {
				return caption
			}
		}
	}
	for _, key := range typeOrder {
		if _, ok := message[key]; ok {
			return mediaLabels[key]
		}
	}
	return "Mídia/Outros"
}

// MessageKind names a message payload by its dominant inner key, used when
// the gateway did not supply an explicit messageType.
func MessageKind(message map[string]interface{}) string {
	if message == nil {
		return "unknown"
	}
	if _, ok := message["conversation"]; ok {
		return "conversation"
	}
	if _, ok := message["extendedTextMessage"]; ok {
		return "extendedTextMessage"
	}
	for _, key := range typeOrder {
		if _, ok := message[key]; ok {
			return key
		}
	}
	return "unknown"
}
