// Package sigfile encodes signatures for storage and transport.
//
// An encoded envelope is the 4-byte magic "SIGT", a version byte, and a
// sequence of protobuf wire-format fields:
//
//	1  scheme         varint
//	2  signature      bytes
//	3  key name       string
//	4  key id         string
//	5  created (unix) varint
//	6  aggregate      varint (bool)
//	7  signer         string, repeated
//
// Unknown fields are skipped so newer writers stay readable.
package sigfile

import (
	"bytes"
	"encoding/hex"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"sigtool.dev/sigtool/scheme"
	"sigtool.dev/sigtool/sigerr"
)

const (
	Magic   = "SIGT"
	Version = 1
)

const (
	fieldScheme    protowire.Number = 1
	fieldSignature protowire.Number = 2
	fieldKeyName   protowire.Number = 3
	fieldKeyID     protowire.Number = 4
	fieldCreated   protowire.Number = 5
	fieldAggregate protowire.Number = 6
	fieldSigner    protowire.Number = 7
)

// Envelope is a signature together with the metadata needed to check it.
type Envelope struct {
	Signature scheme.Signature
	KeyName   string
	KeyID     string
	Aggregate bool
	Signers   []string
	CreatedAt time.Time
}

func Marshal(e Envelope) []byte {
	b := make([]byte, 0, len(Magic)+1+len(e.Signature.Bytes)+64)
	b = append(b, Magic...)
	b = append(b, Version)

	b = protowire.AppendTag(b, fieldScheme, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Signature.Scheme))
	b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Signature.Bytes)
	if e.KeyName != "" {
		b = protowire.AppendTag(b, fieldKeyName, protowire.BytesType)
		b = protowire.AppendString(b, e.KeyName)
	}
	if e.KeyID != "" {
		b = protowire.AppendTag(b, fieldKeyID, protowire.BytesType)
		b = protowire.AppendString(b, e.KeyID)
	}
	if !e.CreatedAt.IsZero() {
		b = protowire.AppendTag(b, fieldCreated, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.CreatedAt.Unix()))
	}
	if e.Aggregate {
		b = protowire.AppendTag(b, fieldAggregate, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	for _, name := range e.Signers {
		b = protowire.AppendTag(b, fieldSigner, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	return b
}

func Unmarshal(data []byte) (Envelope, error) {
	if len(data) < len(Magic)+1 || string(data[:len(Magic)]) != Magic {
		return Envelope{}, sigerr.New(sigerr.KindMalformedSignature, "not a signature file")
	}
	if v := data[len(Magic)]; v != Version {
		return Envelope{}, sigerr.New(sigerr.KindMalformedSignature, "unsupported signature file version %d", v)
	}
	b := data[len(Magic)+1:]

	var (
		e                   Envelope
		haveScheme, haveSig bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, malformed(n)
		}
		b = b[n:]

		switch {
		case num == fieldScheme && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Envelope{}, malformed(n)
			}
			b = b[n:]
			s := scheme.Scheme(v)
			if v > 0xff || !s.Valid() {
				return Envelope{}, sigerr.New(sigerr.KindMalformedSignature, "unknown signature scheme %d", v)
			}
			e.Signature.Scheme = s
			haveScheme = true
		case num == fieldSignature && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, malformed(n)
			}
			b = b[n:]
			e.Signature.Bytes = bytes.Clone(v)
			haveSig = true
		case (num == fieldKeyName || num == fieldKeyID || num == fieldSigner) && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Envelope{}, malformed(n)
			}
			b = b[n:]
			switch num {
			case fieldKeyName:
				e.KeyName = v
			case fieldKeyID:
				e.KeyID = v
			default:
				e.Signers = append(e.Signers, v)
			}
		case (num == fieldCreated || num == fieldAggregate) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Envelope{}, malformed(n)
			}
			b = b[n:]
			if num == fieldCreated {
				e.CreatedAt = time.Unix(int64(v), 0).UTC()
			} else {
				e.Aggregate = protowire.DecodeBool(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Envelope{}, malformed(n)
			}
			b = b[n:]
		}
	}
	if !haveScheme || !haveSig {
		return Envelope{}, sigerr.New(sigerr.KindMalformedSignature, "signature file is missing the scheme or signature")
	}
	return e, nil
}

func malformed(n int) error {
	return sigerr.Wrap(sigerr.KindMalformedSignature, protowire.ParseError(n), "decode signature file")
}

// Hex renders an encoded envelope as lowercase hex, for terminals.
func Hex(e Envelope) string {
	return hex.EncodeToString(Marshal(e))
}

// Decode accepts either a raw envelope or its hex rendering (surrounding
// whitespace allowed), as produced by Marshal and Hex respectively.
func Decode(data []byte) (Envelope, error) {
	if bytes.HasPrefix(data, []byte(Magic)) {
		return Unmarshal(data)
	}
	raw, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return Envelope{}, sigerr.New(sigerr.KindMalformedSignature, "not a signature file")
	}
	return Unmarshal(raw)
}
