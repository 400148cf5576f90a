package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Keys are the purpose-bound subkeys derived from the master key.
type Keys struct {
	Document []byte
	Field    []byte
	Index    []byte
}

// DeriveKeys expands a 32-byte master key into independent subkeys with
// HKDF-SHA256 so that documents, fields and the blind index never share key
// material.
func DeriveKeys(master []byte) (Keys, error) {
	if len(master) != 32 {
		return Keys{}, fmt.Errorf("derive keys: master key must be 32 bytes, got %d", len(master))
	}
	derive := func(info string) ([]byte, error) {
		out := make([]byte, 32)
		r := hkdf.New(sha256.New, master, nil, []byte(info))
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, fmt.Errorf("derive %s key: %w", info, err)
		}
		return out, nil
	}

	var k Keys
	var err error
	if k.Document, err = derive("medical-center/document"); err != nil {
		return Keys{}, err
	}
	if k.Field, err = derive("medical-center/field"); err != nil {
		return Keys{}, err
	}
	if k.Index, err = derive("medical-center/blind-index"); err != nil {
		return Keys{}, err
	}
	return k, nil
}
