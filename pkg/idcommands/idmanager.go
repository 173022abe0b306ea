package idcommands

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
)

// GenerateDeviceName picks the name this device announces to the room.
// Hostname first; "Device-NNNN" when the host refuses to tell us.
func GenerateDeviceName() string {
	info, err := host.Info()
	if err == nil {
		name := Sanitize(info.Hostname)
		if name != "" {
			return name
		}
	}
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "Device-1000"
	}
	return fmt.Sprintf("Device-%d", 1000+n.Int64())
}

// NewTransferID returns a fresh relay channel id.
func NewTransferID() string {
	return uuid.New().String()
}

// Sanitize strips the characters that would break the line protocol.
func Sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("|", "-", ",", "-", ":", "-", "\n", "", "\r", "").Replace(name)
	return name
}
