package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
)

// PEM block types.
const (
	PublicKeyPEMType  = "PUBLIC KEY"
	PrivateKeyPEMType = "PRIVATE KEY"
)

// Sign returns the signature block for content, the image bytes ahead of the
// end field.
func Sign(content []byte, priv ed25519.PrivateKey) []byte {
	digest := sha256.Sum256(content)

	block := make([]byte, 0, len(digest)+ed25519.SignatureSize)
	block = append(block, digest[:]...)
	block = append(block, ed25519.Sign(priv, digest[:])...)

	return block
}

// Digest returns the stored digest for a complete image.
func Digest(image []byte) []byte {
	digest := sha256.Sum256(image)
	return digest[:]
}

// Key signs images with an Ed25519 private key.
type Key struct {
	Private ed25519.PrivateKey
}

// SignImage implements mbin.Signer.
func (k *Key) SignImage(content []byte) ([]byte, error) {
	if len(k.Private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d", len(k.Private))
	}
	return Sign(content, k.Private), nil
}

// Public returns the public half of the key.
func (k *Key) Public() ed25519.PublicKey {
	return k.Private.Public().(ed25519.PublicKey)
}

// GenerateKey creates a new signing key. A nil rand uses crypto/rand.
func GenerateKey(r io.Reader) (*Key, error) {
	if r == nil {
		r = rand.Reader
	}

	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	return &Key{Private: priv}, nil
}

// MarshalPublicKey encodes a public key as a PKIX PEM block.
func MarshalPublicKey(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: PublicKeyPEMType, Bytes: der}), nil
}

// ParsePublicKey decodes a PKIX PEM block holding an Ed25519 public key.
func ParsePublicKey(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != PublicKeyPEMType {
		return nil, fmt.Errorf("no %q PEM block found", PublicKeyPEMType)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not ed25519", key)
	}

	return pub, nil
}

// MarshalPrivateKey encodes a key as a PKCS #8 PEM block.
func MarshalPrivateKey(k *Key) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Private)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: PrivateKeyPEMType, Bytes: der}), nil
}

// ParsePrivateKey decodes a PKCS #8 PEM block holding an Ed25519 key.
func ParsePrivateKey(data []byte) (*Key, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != PrivateKeyPEMType {
		return nil, fmt.Errorf("no %q PEM block found", PrivateKeyPEMType)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not ed25519", key)
	}

	return &Key{Private: priv}, nil
}
