package rtc

import (
	"encoding/base64"

	"github.com/goccy/go-json"
)

// ToBase64Json encodes negotiation payloads (SDP, ICE) into opaque
// blobs the broker relays without interpretation.
func ToBase64Json(d any) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func FromBase64Json(data string, obj any) error {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, obj)
}
