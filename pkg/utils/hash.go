package utils

import (
	"crypto/md5"
	"fmt"
)

// HashString returns the hex MD5 digest of input. Used for cache keys, not security.
func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

