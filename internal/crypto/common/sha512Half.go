package crypto

import "crypto/sha512"

// Sha512Half returns the first 32 bytes of the sha512 hash of the
// concatenation of the given byte slices.
func Sha512Half(args ...[]byte) [32]byte {
	h := sha512.New()
	for _, a := range args {
		h.Write(a)
	}
	var result [32]byte
	copy(result[:], h.Sum(nil)[:32])
	return result
}
