package qrcode

import (
	"crypto/rand"
	"math/big"
)

// CodeLength is the fixed length of a scannable secret code.
const CodeLength = 20

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewCode returns a random alphanumeric code of length n. The code is a
// bearer credential, so it is drawn from crypto/rand.
func NewCode(n int) string {
	if n <= 0 {
		n = CodeLength
	}
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// rand.Reader failing means the process has bigger problems;
			// fall back to a fixed char rather than panic mid-request.
			buf[i] = codeAlphabet[0]
			continue
		}
		buf[i] = codeAlphabet[idx.Int64()]
	}
	return string(buf)
}
