package push

import (
	"errors"
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
)

// ErrVAPIDUnconfigured is returned when only one half of the VAPID key pair is configured.
var ErrVAPIDUnconfigured = errors.New("VAPID key pair is incomplete")

// VAPIDKeys is the application server key pair, base64url encoded.
type VAPIDKeys struct {
	Public  string
	Private string
	// Generated is set when the pair was created at startup and will not survive a restart.
	Generated bool
}

// LoadVAPIDKeys returns the configured pair, or generates a fresh one when neither half is set.
func LoadVAPIDKeys(public, private string) (VAPIDKeys, error) {
	switch {
	case public != "" && private != "":
		return VAPIDKeys{Public: public, Private: private}, nil
	case public != "" || private != "":
		return VAPIDKeys{}, ErrVAPIDUnconfigured
	}

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("generate VAPID keys: %w", err)
	}
	return VAPIDKeys{Public: publicKey, Private: privateKey, Generated: true}, nil
}
