// Package signature checks the integrity and authenticity of parsed mbin
// images.
//
// Two schemes are supported and may be combined:
//
//   - A signature block in the FieldTypeEOFWithSignature end field: the
//     SHA-256 digest of every byte ahead of the end field followed by an
//     Ed25519 signature over that digest.
//   - A stored digest: the SHA-256 digest of the whole image, written to the
//     persistent store by whoever downloaded the image.
//
// Verify is the only way to obtain a VerifiedImage, and the flash programmer
// accepts nothing else, so an image that fails verification can never be
// written to flash.
//
// Example:
//
//	sum, err := mbin.Parse(data, opts, scratch)
//	if err != nil {
//	    return err
//	}
//	v := signature.Verifier{PublicKey: pub}
//	img, err := v.Verify(data, sum)
//	if err != nil {
//	    return err // ErrSignatureNotFound or ErrFileVerificationFailed
//	}
package signature
