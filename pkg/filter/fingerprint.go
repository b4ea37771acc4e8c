package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// fingerprint hashes the request-level identity signals. Raw values never
// leave the process; only the hex digest is stored and returned.
func fingerprint(ctx *ClientContext) *Fingerprint {
	if ctx == nil {
		return nil
	}

	asn := 0
	if ctx.ASN != nil {
		asn = *ctx.ASN
	}
	if ctx.IP == "" && ctx.JA4 == "" && asn == 0 && ctx.UserAgent == "" {
		return nil
	}

	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s", ctx.IP, ctx.JA4, asn, ctx.UserAgent))

	fp := &Fingerprint{
		Hash:    hex.EncodeToString(sum[:]),
		Country: ctx.Country,
		ASN:     ctx.ASN,
	}
	return fp
}
