// Package busuuid mints the 128-bit hex server UUID spec.md §6 requires
// every listener to present during the SASL OK response and return from
// org.freedesktop.DBus.GetId. The teacher has no analogue (MQTT client
// IDs are caller-supplied); this is grounded instead on
// nikicat-secrets-dispatcher's use of github.com/google/uuid, replacing
// an ad-hoc random-byte generator with the ecosystem's UUID library.
package busuuid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a freshly generated UUID, hex-encoded without dashes, the
// form real D-Bus daemons use for both the SASL OK line and GetId.
func New() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}
