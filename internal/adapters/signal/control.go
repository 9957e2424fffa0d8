package signal

import (
	"encoding/base64"

	"github.com/broadcomms/meeting-ledger/internal/core"
)

func (ctl *Controller) handlePing(c core.SignalConnection) {
	ctl.sendJSON(c, map[string]string{"type": core.EventPong})
}

// decodeBase64 accepts both standard and raw (unpadded) encodings, since
// browser recorders differ on padding.
func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
