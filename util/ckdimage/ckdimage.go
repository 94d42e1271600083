/*
 * S370 - CKD disk image file.
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

package ckdimage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/rcornwell/S370dasd/emu/geometry"
)

const (
	HeaderSize = 512 // Size of image file header

	devID = "CKD_P370"

	// Header layout.
	hdrDevID   = 0
	hdrHeads   = 8
	hdrTrkSize = 12
	hdrDevType = 16
	hdrFileSeq = 17
	hdrHighCyl = 18
)

var (
	ErrHeader   = errors.New("invalid CKD header")     // Not a CKD image.
	ErrHomeAddr = errors.New("home address mismatch")   // Track holds wrong cylinder or head.
	ErrTrack    = errors.New("track out of range")     // Track beyond end of image.
	ErrReadOnly = errors.New("image is read only")     // Write to read only image.
	ErrClosed   = errors.New("image file not attached") // Operation on closed image.
)

// Structure to hold image information.
type Image struct {
	file     *os.File // file handle
	name     string   // Name of file
	readOnly bool     // Opened read only
	heads    int      // Tracks per cylinder
	trkSize  int      // Size of one track
	devType  uint8    // Device type from header
	cyls     int      // Cylinders in image
}

// Open an existing image file.
func Open(fileName string, readOnly bool) (*Image, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(fileName, flag, 0)
	if err != nil {
		return nil, err
	}

	img := &Image{file: file, name: fileName, readOnly: readOnly}
	if err = img.readHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return img, nil
}

func (img *Image) readHeader() error {
	hdr := make([]byte, HeaderSize)
	n, err := img.file.ReadAt(hdr, 0)
	if n != HeaderSize {
		return fmt.Errorf("%s: %w", img.name, ErrHeader)
	}
	if err != nil {
		return err
	}
	if string(hdr[hdrDevID:hdrDevID+8]) != devID {
		return fmt.Errorf("%s: %w", img.name, ErrHeader)
	}
	img.heads = int(binary.LittleEndian.Uint32(hdr[hdrHeads:]))
	img.trkSize = int(binary.LittleEndian.Uint32(hdr[hdrTrkSize:]))
	img.devType = hdr[hdrDevType]
	if img.heads == 0 || img.trkSize == 0 {
		return fmt.Errorf("%s: zero geometry: %w", img.name, ErrHeader)
	}

	st, err := img.file.Stat()
	if err != nil {
		return err
	}
	tracks := int((st.Size() - HeaderSize) / int64(img.trkSize))
	img.cyls = tracks / img.heads
	if img.cyls == 0 {
		return fmt.Errorf("%s: no cylinders: %w", img.name, ErrHeader)
	}
	return nil
}

// Close the image.
func (img *Image) Close() error {
	if img.file == nil {
		return ErrClosed
	}
	err := img.file.Close()
	img.file = nil
	return err
}

// Name of file attached.
func (img *Image) Name() string {
	return img.name
}

func (img *Image) Heads() int {
	return img.heads
}

func (img *Image) Cyls() int {
	return img.cyls
}

func (img *Image) TrackSize() int {
	return img.trkSize
}

func (img *Image) DevType() uint8 {
	return img.devType
}

func (img *Image) ReadOnly() bool {
	return img.readOnly
}

func (img *Image) offset(trk int) (int64, error) {
	if img.file == nil {
		return 0, ErrClosed
	}
	if trk < 0 || trk >= img.cyls*img.heads {
		return 0, fmt.Errorf("track %d: %w", trk, ErrTrack)
	}
	return HeaderSize + int64(trk)*int64(img.trkSize), nil
}

// Read one track into buffer, buffer must hold a full track.
func (img *Image) ReadTrack(trk int, buf []byte) error {
	pos, err := img.offset(trk)
	if err != nil {
		return err
	}
	if len(buf) < img.trkSize {
		return fmt.Errorf("track buffer %d short of %d", len(buf), img.trkSize)
	}
	n, err := img.file.ReadAt(buf[:img.trkSize], pos)
	if n != img.trkSize {
		if err == nil {
			err = errors.New("short read on: " + img.name)
		}
		return err
	}
	return nil
}

// Write data to track starting at off.
func (img *Image) WriteTrack(trk int, off int, data []byte) (int, error) {
	if img.readOnly {
		return 0, ErrReadOnly
	}
	pos, err := img.offset(trk)
	if err != nil {
		return 0, err
	}
	if off < 0 || off+len(data) > img.trkSize {
		return 0, fmt.Errorf("write %d:%d outside track: %w", off, off+len(data), ErrTrack)
	}
	return img.file.WriteAt(data, pos+int64(off))
}

// Create a new image file formatted with home address and record zero.
func Create(fileName string, dasd *geometry.DASD, cyls int, volser string) error {
	if cyls <= 0 {
		cyls = dasd.TotalCyls()
	}
	file, err := os.OpenFile(fileName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	trkSize := dasd.TrackSize()
	hdr := make([]byte, HeaderSize)
	copy(hdr[hdrDevID:], devID)
	binary.LittleEndian.PutUint32(hdr[hdrHeads:], uint32(dasd.Heads))
	binary.LittleEndian.PutUint32(hdr[hdrTrkSize:], uint32(trkSize))
	hdr[hdrDevType] = dasd.TypeByte()
	hdr[hdrFileSeq] = 0
	binary.LittleEndian.PutUint16(hdr[hdrHighCyl:], 0)
	if _, err = file.Write(hdr); err != nil {
		file.Close()
		return err
	}

	buf := make([]byte, trkSize)
	for cyl := range cyls {
		for head := range dasd.Heads {
			clear(buf)
			FormatTrack(buf, cyl, head)
			if cyl == 0 && head == 0 && volser != "" {
				formatVolume(buf, volser)
			}
			if _, err = file.Write(buf); err != nil {
				file.Close()
				return err
			}
		}
	}
	return file.Close()
}
