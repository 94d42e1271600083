/*
 * S370 - DASD geometry test cases.
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

package geometry

import "testing"

func TestLookup(t *testing.T) {
	d := Lookup("3390")
	if d == nil {
		t.Fatal("3390 not found")
	}
	if d.Heads != 15 || d.Cyls != 1113 {
		t.Errorf("3390 geometry wrong: %d %d", d.Cyls, d.Heads)
	}
	if Lookup("3390-3") == nil {
		t.Error("3390-3 not found")
	}
	if Lookup("1234") != nil {
		t.Error("found non existent model")
	}
	if LookupCU(d.CU) == nil {
		t.Errorf("control unit %s missing", d.CU)
	}
}

func TestTrackMath(t *testing.T) {
	d := Lookup("3380")
	trk := d.Track(5, 2)
	if trk != 5*15+2 {
		t.Errorf("track number wrong: %d", trk)
	}
	cyl, head := d.CylHead(trk)
	if cyl != 5 || head != 2 {
		t.Errorf("cyl/head wrong: %d %d", cyl, head)
	}
}

func TestTrackSize(t *testing.T) {
	for _, name := range Models() {
		d := Lookup(name)
		size := d.TrackSize()
		if (size % 512) != 0 {
			t.Errorf("%s track size not rounded: %d", name, size)
		}
		if size < d.R1Len+HASize+4*CountSize {
			t.Errorf("%s track size too small: %d", name, size)
		}
	}
}

func TestLookupType(t *testing.T) {
	d := LookupType(0x90, 3339)
	if d == nil || d.Name != "3390-3" {
		t.Errorf("wrong model for 3339 cylinders: %v", d)
	}
	d = LookupType(0x90, 50)
	if d == nil || d.Name != "3390" {
		t.Errorf("wrong model for small volume: %v", d)
	}
	if LookupType(0x01, 10) != nil {
		t.Error("found unknown device type")
	}
}
