package address

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxAttempts bounds collision retries so a broken source surfaces as an error.
const MaxAttempts = 32

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrExhausted      = errors.New("address source produced only collisions")
)

// Source yields candidate 20-byte addresses.
type Source interface {
	NewAddress() (common.Address, error)
}

// KeySource derives each address from a fresh secp256k1 key. The private key
// is dropped immediately; custody happens elsewhere.
type KeySource struct{}

func (KeySource) NewAddress() (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("generate key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// RandomSource reads 20 bytes from Reader, crypto/rand when nil.
type RandomSource struct {
	Reader io.Reader
}

func (s RandomSource) NewAddress() (common.Address, error) {
	r := s.Reader
	if r == nil {
		r = rand.Reader
	}
	var buf [common.AddressLength]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return common.Address{}, fmt.Errorf("read entropy: %w", err)
	}
	return common.BytesToAddress(buf[:]), nil
}

// Generate returns a lowercase address for which taken reports false.
func Generate(src Source, taken func(string) bool) (string, error) {
	if src == nil {
		src = KeySource{}
	}
	for i := 0; i < MaxAttempts; i++ {
		addr, err := src.NewAddress()
		if err != nil {
			return "", err
		}
		candidate := Format(addr)
		if taken == nil || !taken(candidate) {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

// Format renders addr as 0x followed by 40 lowercase hex characters.
func Format(addr common.Address) string {
	return "0x" + hex.EncodeToString(addr.Bytes())
}

// Normalize validates raw and returns its canonical lowercase form. The 0x
// prefix is mandatory.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) != 2+2*common.AddressLength || !strings.EqualFold(trimmed[:2], "0x") {
		return "", ErrInvalidAddress
	}
	if !common.IsHexAddress(trimmed) {
		return "", ErrInvalidAddress
	}
	return Format(common.HexToAddress(trimmed)), nil
}

// Checksum returns the EIP-55 mixed-case form used for display.
func Checksum(addr string) string {
	return common.HexToAddress(addr).Hex()
}
