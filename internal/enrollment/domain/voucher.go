package domain

import (
	"encoding/base32"

	"github.com/google/uuid"
)

// VoucherGenerator produces fresh voucher codes.
type VoucherGenerator interface {
	Generate() (string, error)
}

var voucherEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// RandomVoucherGenerator encodes 128 random bits as 26 base32 characters.
type RandomVoucherGenerator struct{}

func (RandomVoucherGenerator) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return voucherEncoding.EncodeToString(id[:]), nil
}

// VoucherGeneratorFunc adapts a function to VoucherGenerator.
type VoucherGeneratorFunc func() (string, error)

func (f VoucherGeneratorFunc) Generate() (string, error) { return f() }
