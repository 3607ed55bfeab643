package util

import (
	"encoding/json"

	"github.com/tailscale/hujson"
)

// ParseLenient decodes operator-supplied JSON, tolerating comments and
// trailing commas.
func ParseLenient(raw string, out any) error {
	std, err := hujson.Standardize([]byte(raw))
	if err != nil {
		return err
	}
	return json.Unmarshal(std, out)
}
