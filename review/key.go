package review

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stewartlord/swarm-sub002/errors"
)

// KeyPrefix is the prefix of every review storage key. The encoding is
// bit-exact for storage compatibility and must not change.
const KeyPrefix = "swarm-review-"

// EncodeKey converts a review (canonical changelist) id into its storage key:
// the prefix plus the 8-digit hex of the id's 32-bit complement. Complementing
// reverses numeric order so a lexicographically sorted key store yields
// newest-first ordering.
func EncodeKey(id int) string {
	return fmt.Sprintf("%s%08x", KeyPrefix, 0xFFFFFFFF-uint32(id))
}

// DecodeKey converts a storage key back into the review id.
func DecodeKey(key string) (int, error) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return 0, errors.NewBadParameterError("key", key).Expected(KeyPrefix + "<hex8>")
	}
	hex := strings.TrimPrefix(key, KeyPrefix)
	if len(hex) != 8 {
		return 0, errors.NewBadParameterError("key", key).Expected(KeyPrefix + "<hex8>")
	}
	value, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, errors.NewBadParameterError("key", key).Expected(KeyPrefix + "<hex8>")
	}
	return int(0xFFFFFFFF - uint32(value)), nil
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
