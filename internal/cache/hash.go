package cache

import (
	"encoding/hex"
	"fmt"
)

// keyLen is the length of a hex SHA-256 build key
const keyLen = 64

// ValidKey reports whether key is a hex SHA-256 digest.
// Keys become file names, so anything else is refused.
func ValidKey(key string) bool {
	if len(key) != keyLen {
		return false
	}

	_, err := hex.DecodeString(key)
	return err == nil
}

func checkKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid cache key: %q", key)
	}

	return nil
}

// shard returns the fan-out directory name for key
func shard(key string) string {
	return key[:2]
}
