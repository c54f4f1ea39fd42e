package utils

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const suffixLen = 9

// NewMessageID returns a client-side message id of the form
// "<unix millis>-<base36 suffix>". Ids sort by creation time.
func NewMessageID(now time.Time) string {
	id := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(id[8:]), 36)
	if len(suffix) > suffixLen {
		suffix = suffix[:suffixLen]
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}
