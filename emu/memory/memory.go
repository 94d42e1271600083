/*
 * S370 - Main storage.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package memory holds main storage used by channel programs.
//
// Storage is kept as big endian words with one storage key per 2K block.
// Keys carry the protection key in the upper four bits, fetch protect,
// reference and change bits below it.
package memory

import (
	"errors"
	"fmt"
)

const (
	AMASK uint32 = 0x00ffffff // Mask address bits

	MaxSize = 16 * 1024 // Largest storage in K

	KeyMask     uint8 = 0xf0 // Protection key
	KeyFetch    uint8 = 0x08 // Fetch protect
	KeyRef      uint8 = 0x04 // Reference bit
	KeyChange   uint8 = 0x02 // Change bit
	blockShift        = 11   // Key block size
)

var (
	ErrAddress    = errors.New("address outside storage")
	ErrProtection = errors.New("storage protection")
)

type Memory struct {
	mem  []uint32
	key  []uint8
	size uint32
}

// Create storage of k kilobytes.
func New(k int) *Memory {
	if k > MaxSize {
		k = MaxSize
	}
	if k < 0 {
		k = 0
	}
	size := uint32(k * 1024)
	return &Memory{
		mem:  make([]uint32, size/4),
		key:  make([]uint8, (size+(1<<blockShift)-1)>>blockShift),
		size: size,
	}
}

// Return size of memory in bytes.
func (m *Memory) Size() uint32 {
	return m.size
}

// Check if address in range.
func (m *Memory) CheckAddr(addr uint32) bool {
	return addr < m.size
}

// Get a word from memory.
func (m *Memory) GetWord(addr uint32) (value uint32, error bool) {
	if addr >= m.size {
		return 0, true
	}
	m.key[addr>>blockShift] |= KeyRef
	return m.mem[addr>>2], false
}

// Put a word to memory.
func (m *Memory) PutWord(addr, data uint32) bool {
	if addr >= m.size {
		return true
	}
	m.key[addr>>blockShift] |= KeyRef | KeyChange
	m.mem[addr>>2] = data
	return false
}

// Put a word to memory, under mask.
func (m *Memory) PutWordMask(addr, data, mask uint32) bool {
	if addr >= m.size {
		return true
	}
	m.key[addr>>blockShift] |= KeyRef | KeyChange
	addr >>= 2
	m.mem[addr] &= ^mask
	m.mem[addr] |= data & mask
	return false
}

// Get one byte.
func (m *Memory) GetByte(addr uint32) (uint8, bool) {
	word, err := m.GetWord(addr)
	if err {
		return 0, true
	}
	shift := 8 * (3 - (addr & 3))
	return uint8(word >> shift), false
}

// Put one byte.
func (m *Memory) PutByte(addr uint32, data uint8) bool {
	shift := 8 * (3 - (addr & 3))
	return m.PutWordMask(addr, uint32(data)<<shift, uint32(0xff)<<shift)
}

func (m *Memory) GetKey(addr uint32) uint8 {
	if addr >= m.size {
		return 0
	}
	return m.key[addr>>blockShift]
}

func (m *Memory) PutKey(addr uint32, key uint8) {
	if addr < m.size {
		m.key[addr>>blockShift] = key
	}
}

// Check access with protection key. Key zero matches everything, fetches
// only fail when the block is fetch protected.
func (m *Memory) CheckKey(addr uint32, key uint8, store bool) error {
	if addr >= m.size {
		return fmt.Errorf("%w: %06x", ErrAddress, addr)
	}
	key &= KeyMask
	if key == 0 {
		return nil
	}
	blk := m.key[addr>>blockShift]
	if blk&KeyMask == key {
		return nil
	}
	if store || blk&KeyFetch != 0 {
		return fmt.Errorf("%w: key %x at %06x", ErrProtection, key>>4, addr)
	}
	return nil
}

// Copy bytes into storage.
func (m *Memory) Load(addr uint32, data []byte) error {
	if uint64(addr)+uint64(len(data)) > uint64(m.size) {
		return fmt.Errorf("%w: %06x length %d", ErrAddress, addr, len(data))
	}
	for i, b := range data {
		m.PutByte(addr+uint32(i), b)
	}
	return nil
}

// Copy bytes out of storage.
func (m *Memory) Read(addr uint32, n int) ([]byte, error) {
	if uint64(addr)+uint64(n) > uint64(m.size) {
		return nil, fmt.Errorf("%w: %06x length %d", ErrAddress, addr, n)
	}
	out := make([]byte, n)
	for i := range out {
		out[i], _ = m.GetByte(addr + uint32(i))
	}
	return out, nil
}
