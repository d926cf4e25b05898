package protrack

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

// Signature derives the authorization signature for a request issued at
// unixTime: md5hex(md5hex(password) + unixTime)
func Signature(password string, unixTime int64) string {
	return md5Hex(md5Hex(password) + strconv.FormatInt(unixTime, 10))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
