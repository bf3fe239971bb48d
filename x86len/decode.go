// This file is part of Cavehook project, available at https://github.com/qrdl/cavehook
// Copyright (c) 2024-2026 Ilya Caramishev. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at https://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package x86len computes lengths of x86-64 machine instructions.

The decoder is table driven and conservative: it recognises the subset of the instruction set found in function
prologues of compiled code and rejects everything else, so a caller never splits an instruction it doesn't
understand.

	n, err := x86len.Decode(code)
	spans, total, err := x86len.Walk(code, 12) // whole instructions covering at least 12 bytes
*/
package x86len

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MaxLen is the architectural limit of x86 instruction length.
const MaxLen = 15

var (
	// ErrUnrecognized means the opcode or ModR/M combination is not in the supported subset.
	ErrUnrecognized = errors.New("unrecognized instruction")
	// ErrTruncated means the instruction runs past the end of the buffer.
	ErrTruncated = errors.New("truncated instruction")
)

// DecodeError describes where decoding stopped.
type DecodeError struct {
	Offset int  // offset of the offending byte
	Opcode byte // the offending byte, zero for truncation
	Err    error
}

func (e *DecodeError) Error() string {
	if errors.Is(e.Err, ErrTruncated) {
		return fmt.Sprintf("%s at offset %d", e.Err, e.Offset)
	}
	return fmt.Sprintf("%s: byte %#02x at offset %d", e.Err, e.Opcode, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Span is a decoded instruction within a buffer.
type Span struct {
	Offset int
	Len    int
}

var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger sets logger used by [Length] to report unhandled opcodes.
func SetLogger(l logrus.FieldLogger) {
	log = l
}

// Decode returns length of the instruction at the start of code.
func Decode(code []byte) (int, error) {
	d := decoder{code: code}
	if err := d.decode(); err != nil {
		return 0, err
	}
	if d.pos > MaxLen {
		return 0, &DecodeError{Offset: MaxLen, Opcode: code[MaxLen], Err: ErrUnrecognized}
	}
	return d.pos, nil
}

// Length is [Decode] reporting failure as zero length. Unhandled opcode is logged with its offset.
func Length(code []byte) int {
	n, err := Decode(code)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			log.WithFields(logrus.Fields{
				"offset": de.Offset,
				"opcode": fmt.Sprintf("%#02x", de.Opcode),
			}).Error("Unhandled opcode, cannot compute instruction length")
		}
		return 0
	}
	return n
}

// Walk decodes whole instructions from the start of code until they cover at least min bytes. It returns decoded
// instructions and their total length, which is never less than min on success. On failure it returns the
// instructions decoded so far, and the error offset is relative to the start of code.
func Walk(code []byte, min int) ([]Span, int, error) {
	var (
		spans []Span
		total int
	)
	for total < min {
		n, err := Decode(code[total:])
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				de.Offset += total
			}
			return spans, total, err
		}
		spans = append(spans, Span{Offset: total, Len: n})
		total += n
	}
	return spans, total, nil
}

type decoder struct {
	code   []byte
	pos    int
	rex    byte
	opsize bool // 66
	adsize bool // 67
}

func (d *decoder) unrecognized(at int) error {
	if at >= len(d.code) {
		return &DecodeError{Offset: at, Err: ErrTruncated}
	}
	return &DecodeError{Offset: at, Opcode: d.code[at], Err: ErrUnrecognized}
}

func (d *decoder) next() (byte, error) {
	if d.pos >= len(d.code) {
		return 0, &DecodeError{Offset: d.pos, Err: ErrTruncated}
	}
	b := d.code[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) skip(n int) error {
	if d.pos+n > len(d.code) {
		return &DecodeError{Offset: len(d.code), Err: ErrTruncated}
	}
	d.pos += n
	return nil
}

func isLegacyPrefix(b byte) bool {
	switch b {
	case 0x26, 0x2E, 0x36, 0x3E, 0x64, 0x65, 0x66, 0x67, 0xF0, 0xF2, 0xF3:
		return true
	}
	return false
}

func isREX(b byte) bool {
	return b&0xF0 == 0x40
}

// opcode consumes prefixes and returns the opcode byte. REX is only meaningful right before the opcode.
func (d *decoder) opcode() (byte, error) {
	for {
		if d.pos >= MaxLen {
			return 0, d.unrecognized(d.pos)
		}
		b, err := d.next()
		if err != nil {
			return 0, err
		}
		switch {
		case b == 0x66:
			d.opsize = true
		case b == 0x67:
			d.adsize = true
		case isLegacyPrefix(b):
		case isREX(b):
			d.rex = b
			op, err := d.next()
			if err != nil {
				return 0, err
			}
			if isLegacyPrefix(op) || isREX(op) {
				return 0, d.unrecognized(d.pos - 1)
			}
			return op, nil
		default:
			return b, nil
		}
	}
}

func (d *decoder) decode() error {
	op, err := d.opcode()
	if err != nil {
		return err
	}
	at := d.pos - 1

	switch f := primary[op]; f {
	case invalid:
		return d.unrecognized(at)
	case escape:
		return d.decode0F()
	case fpu:
		return d.decodeFPU(op)
	case group3:
		m, err := d.modrm(allowedReg(op), false)
		if err != nil {
			return err
		}
		if (m>>3)&7 != 0 {
			return nil // not, neg, mul, imul, div, idiv
		}
		if op == 0xF6 {
			return d.skip(1)
		}
		return d.immediate(immZ)
	case modrm, modrmImm8, modrmImmZ:
		if _, err := d.modrm(allowedReg(op), memoryOnly(op, false)); err != nil {
			return err
		}
		return d.immediate(f)
	default:
		return d.immediate(f)
	}
}

func (d *decoder) decode0F() error {
	op, err := d.next()
	if err != nil {
		return err
	}
	at := d.pos - 1

	switch f := secondary[op]; f {
	case invalid:
		return d.unrecognized(at)
	case fpu: // 0F AE, fences only
		m, err := d.next()
		if err != nil {
			return err
		}
		switch m {
		case 0xE8, 0xF0, 0xF8: // lfence, mfence, sfence
			return nil
		}
		return d.unrecognized(d.pos - 1)
	case modrm, modrmImm8:
		if _, err := d.modrm(allowedReg0F(op), memoryOnly(op, true)); err != nil {
			return err
		}
		return d.immediate(f)
	default:
		return d.immediate(f)
	}
}

func (d *decoder) decodeFPU(op byte) error {
	if op == 0x9B { // fwait, only as part of fstsw ax
		for _, want := range []byte{0xDF, 0xE0} {
			b, err := d.next()
			if err != nil {
				return err
			}
			if b != want {
				return d.unrecognized(d.pos - 1)
			}
		}
		return nil
	}

	m, err := d.next()
	if err != nil {
		return err
	}
	if m >= 0xC0 {
		forms := fpuRegForms[op]
		if !forms[m-0xC0] {
			return d.unrecognized(d.pos - 1)
		}
		return nil
	}
	if fpuMemForms[op]&(1<<((m>>3)&7)) == 0 {
		return d.unrecognized(d.pos - 1)
	}
	return d.operand(m)
}

// modrm consumes ModR/M byte with its SIB and displacement, and validates reg field against allowed bitmask.
func (d *decoder) modrm(allowed uint8, memOnly bool) (byte, error) {
	m, err := d.next()
	if err != nil {
		return 0, err
	}
	if allowed&(1<<((m>>3)&7)) == 0 || (memOnly && m>>6 == 3) {
		return 0, d.unrecognized(d.pos - 1)
	}
	return m, d.operand(m)
}

// operand consumes SIB and displacement implied by ModR/M byte m.
func (d *decoder) operand(m byte) error {
	mod, rm := m>>6, m&7
	if mod == 3 {
		return nil
	}
	if rm == 4 {
		sib, err := d.next()
		if err != nil {
			return err
		}
		if mod == 0 && sib&7 == 5 {
			return d.skip(4) // no base, disp32
		}
	}
	switch mod {
	case 0:
		if rm == 5 {
			return d.skip(4) // RIP-relative disp32
		}
		return nil
	case 1:
		return d.skip(1)
	default:
		return d.skip(4)
	}
}

func (d *decoder) immediate(f form) error {
	switch f {
	case imm8, modrmImm8:
		return d.skip(1)
	case imm16:
		return d.skip(2)
	case immZ, modrmImmZ:
		// REX.W overrides 66, imm32 is then sign-extended
		if d.opsize && d.rex&0x08 == 0 {
			return d.skip(2)
		}
		return d.skip(4)
	case immV:
		switch {
		case d.rex&0x08 != 0:
			return d.skip(8)
		case d.opsize:
			return d.skip(2)
		}
		return d.skip(4)
	case rel32:
		return d.skip(4)
	case moffs:
		if d.adsize {
			return d.skip(4)
		}
		return d.skip(8)
	}
	return nil
}
