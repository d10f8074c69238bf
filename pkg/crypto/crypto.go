package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrSignatureMismatch is returned when a signature recovers to a different address
var ErrSignatureMismatch = errors.New("signature does not match signer")

// LoadPrivateKeyFromHex loads a secp256k1 private key from hex string
func LoadPrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	// Remove 0x prefix
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")

	privateKey, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex key: %w", err)
	}
	return privateKey, nil
}

// GeneratePrivateKey generates a new secp256k1 private key
func GeneratePrivateKey() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// PrivateKeyToHex converts a private key to hex string without 0x prefix
func PrivateKeyToHex(privateKey *ecdsa.PrivateKey) string {
	return strings.TrimPrefix(hexutil.Encode(ethcrypto.FromECDSA(privateKey)), "0x")
}

// AddressOf returns the checksummed address of a private key
func AddressOf(privateKey *ecdsa.PrivateKey) string {
	return ethcrypto.PubkeyToAddress(privateKey.PublicKey).Hex()
}

// SignData signs the Keccak-256 digest of data and returns the 65-byte signature as 0x hex
func SignData(privateKey *ecdsa.PrivateKey, data []byte) (string, error) {
	sig, err := ethcrypto.Sign(HashData(data), privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign data: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// RecoverAddress returns the address that produced signature over data
func RecoverAddress(data []byte, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return "", fmt.Errorf("invalid signature length: %d", len(sig))
	}

	pub, err := ethcrypto.SigToPub(HashData(data), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// VerifySignature checks that signature over data was made by address
func VerifySignature(address string, data []byte, signature string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address: %s", address)
	}
	recovered, err := RecoverAddress(data, signature)
	if err != nil {
		return err
	}
	if common.HexToAddress(recovered) != common.HexToAddress(address) {
		return ErrSignatureMismatch
	}
	return nil
}

// HashData computes the Keccak-256 hash of data
func HashData(data []byte) []byte {
	return ethcrypto.Keccak256(data)
}

// HashDataHex computes the Keccak-256 hash and returns 0x hex string
func HashDataHex(data []byte) string {
	return hexutil.Encode(HashData(data))
}
