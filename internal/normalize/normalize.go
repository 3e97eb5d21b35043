// Package normalize converts the gateway's polymorphic message payloads
// into a single text representation plus optional media metadata. It is
// pure: no case may fail, and raw payload bytes never reach the text.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
)

// Content mirrors the message object of the gateway's messages.upsert
// payload. Exactly one variant field is populated per message.
type Content struct {
	Conversation        string           `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedText    `json:"extendedTextMessage,omitempty"`
	ImageMessage        *MediaContent    `json:"imageMessage,omitempty"`
	AudioMessage        *MediaContent    `json:"audioMessage,omitempty"`
	VideoMessage        *MediaContent    `json:"videoMessage,omitempty"`
	DocumentMessage     *DocumentContent `json:"documentMessage,omitempty"`
	LocationMessage     *LocationContent `json:"locationMessage,omitempty"`
	ContactMessage      *ContactContent  `json:"contactMessage,omitempty"`
}

type ExtendedText struct {
	Text string `json:"text"`
}

// ByteSize tolerates the gateway serializing file sizes either as a
// JSON number or as a quoted decimal string.
type ByteSize int64

func (b *ByteSize) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*b = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		*b = 0
		return nil
	}
	*b = ByteSize(n)
	return nil
}

type MediaContent struct {
	URL        string   `json:"url"`
	MimeType   string   `json:"mimetype"`
	FileLength ByteSize `json:"fileLength"`
	Caption    string   `json:"caption,omitempty"`
}

type DocumentContent struct {
	URL        string   `json:"url"`
	MimeType   string   `json:"mimetype"`
	FileLength ByteSize `json:"fileLength"`
	FileName   string   `json:"fileName"`
}

type LocationContent struct {
	Latitude  float64 `json:"degreesLatitude"`
	Longitude float64 `json:"degreesLongitude"`
	Name      string  `json:"name,omitempty"`
}

type ContactContent struct {
	DisplayName string `json:"displayName"`
	VCard       string `json:"vcard,omitempty"`
}

// Result is the normalized form: non-empty text for every variant, plus
// a media descriptor when the variant carries one (Kind empty otherwise).
type Result struct {
	Text  string
	Media domain.MediaMeta
}

// vCard TEL lines look like "TEL;type=CELL;waid=5511999999999:+55 11 99999-9999"
var telPattern = regexp.MustCompile(`(?m)^TEL[^:]*:\s*(\+?[\d\s().-]{5,})\s*$`)

// Message normalizes one payload, dispatching on the gateway's
// messageType discriminator. Unknown types degrade to a placeholder and
// the result text is never empty.
func Message(messageType string, msg Content) Result {
	res := normalizeMessage(messageType, msg)
	if res.Text == "" {
		res.Text = "[Unsupported message]"
	}
	return res
}

func normalizeMessage(messageType string, msg Content) Result {
	switch messageType {
	case "conversation":
		return Result{Text: msg.Conversation}
	case "extendedTextMessage":
		if msg.ExtendedTextMessage != nil {
			return Result{Text: msg.ExtendedTextMessage.Text}
		}
		return Result{}
	case "imageMessage":
		return mediaResult("image", "[Image]", msg.ImageMessage)
	case "audioMessage":
		return mediaResult("audio", "[Audio]", msg.AudioMessage)
	case "videoMessage":
		return mediaResult("video", "[Video]", msg.VideoMessage)
	case "documentMessage":
		return documentResult(msg.DocumentMessage)
	case "locationMessage":
		return locationResult(msg.LocationMessage)
	case "contactMessage":
		return contactResult(msg.ContactMessage)
	default:
		return Result{Text: "[Unsupported message]"}
	}
}

func mediaResult(kind, placeholder string, media *MediaContent) Result {
	res := Result{Text: placeholder, Media: domain.MediaMeta{Kind: kind}}
	if media == nil {
		return res
	}
	if media.Caption != "" {
		res.Text = media.Caption
	}
	res.Media.URL = media.URL
	res.Media.MimeType = media.MimeType
	res.Media.Size = int64(media.FileLength)
	return res
}

func documentResult(doc *DocumentContent) Result {
	res := Result{Text: "[Document]", Media: domain.MediaMeta{Kind: "document"}}
	if doc == nil {
		return res
	}
	if doc.FileName != "" {
		res.Text = fmt.Sprintf("[Document: %s]", doc.FileName)
	}
	res.Media.URL = doc.URL
	res.Media.MimeType = doc.MimeType
	res.Media.Size = int64(doc.FileLength)
	res.Media.Filename = doc.FileName
	return res
}

func locationResult(loc *LocationContent) Result {
	res := Result{Text: "[Location]", Media: domain.MediaMeta{Kind: "location"}}
	if loc == nil {
		return res
	}
	if loc.Name != "" {
		res.Text = fmt.Sprintf("[Location: %s]", loc.Name)
	}
	res.Media.Latitude = loc.Latitude
	res.Media.Longitude = loc.Longitude
	res.Media.Name = loc.Name
	return res
}

func contactResult(contact *ContactContent) Result {
	res := Result{Text: "[Contact]", Media: domain.MediaMeta{Kind: "contact"}}
	if contact == nil {
		return res
	}
	if contact.DisplayName != "" {
		res.Text = fmt.Sprintf("[Contact: %s]", contact.DisplayName)
	}
	res.Media.Name = contact.DisplayName
	if m := telPattern.FindStringSubmatch(contact.VCard); len(m) > 1 {
		res.Media.Phone = strings.TrimSpace(m[1])
	}
	return res
}
