package signature

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/moffa90/go-mbin/mbin"
	"github.com/moffa90/go-mbin/retcode"
)

const opVerify = "verify image"

// Verifier holds the trust anchors for image verification.
type Verifier struct {
	// PublicKey verifies signature blocks. Signed images are rejected when
	// it is not set.
	PublicKey ed25519.PublicKey

	// Digest is the stored SHA-256 digest of the whole image. Nil means no
	// digest is stored; any other length than 32 bytes is rejected.
	Digest []byte
}

// VerifiedImage is an image that passed verification. It can only be
// obtained from Verify.
type VerifiedImage struct {
	data    []byte
	summary *mbin.Summary
	signed  bool
	stored  bool
}

// Data returns the verified image bytes. They must not be modified.
func (v *VerifiedImage) Data() []byte {
	return v.data
}

// Summary returns the structural summary the image was verified with.
func (v *VerifiedImage) Summary() *mbin.Summary {
	return v.summary
}

// Signed returns true if a signature block was checked.
func (v *VerifiedImage) Signed() bool {
	return v.signed
}

// StoredDigest returns true if the stored digest was checked.
func (v *VerifiedImage) StoredDigest() bool {
	return v.stored
}

// Verify checks the image buf, which must already have been parsed into sum.
// A signature block, if present, must carry the digest of the signed part
// and a valid signature by PublicKey. A stored digest, if configured, must
// match the whole image. At least one of the two must be present.
func (v *Verifier) Verify(buf []byte, sum *mbin.Summary) (*VerifiedImage, error) {
	if sum == nil || sum.SignedLength <= 0 || sum.SignedLength > len(buf) {
		return nil, retcode.New(opVerify, retcode.ErrFileCorrupt, "image has not been parsed")
	}

	img := &VerifiedImage{
		data:    buf,
		summary: sum,
	}

	if sum.Signed() {
		if len(sum.Trailer) != mbin.SignatureBlockSize {
			return nil, retcode.New(opVerify, retcode.ErrSignatureNotFound,
				"signature block is %d bytes, expected %d", len(sum.Trailer), mbin.SignatureBlockSize)
		}

		err := v.verifyBlock(buf[:sum.SignedLength], sum.Trailer)
		if err != nil {
			return nil, err
		}
		img.signed = true
	}

	if v.Digest != nil {
		if len(v.Digest) != sha256.Size {
			return nil, retcode.New(opVerify, retcode.ErrSignatureNotFound,
				"stored digest is %d bytes, expected %d", len(v.Digest), sha256.Size)
		}

		digest := sha256.Sum256(buf)
		if subtle.ConstantTimeCompare(digest[:], v.Digest) != 1 {
			return nil, retcode.New(opVerify, retcode.ErrFileVerificationFailed,
				"image does not match stored digest")
		}
		img.stored = true
	}

	if !img.signed && !img.stored {
		return nil, retcode.New(opVerify, retcode.ErrSignatureNotFound,
			"image is unsigned and no digest is stored")
	}

	return img, nil
}

func (v *Verifier) verifyBlock(content, block []byte) error {
	digest := sha256.Sum256(content)
	if subtle.ConstantTimeCompare(digest[:], block[:mbin.DigestSize]) != 1 {
		return retcode.New(opVerify, retcode.ErrFileVerificationFailed,
			"image digest does not match signature block")
	}

	if len(v.PublicKey) != ed25519.PublicKeySize {
		return retcode.New(opVerify, retcode.ErrFileVerificationFailed,
			"no public key configured")
	}

	if !ed25519.Verify(v.PublicKey, digest[:], block[mbin.DigestSize:]) {
		return retcode.New(opVerify, retcode.ErrFileVerificationFailed,
			"invalid signature")
	}

	return nil
}
