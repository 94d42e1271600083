/*
 * S370 - Console command history.
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

package reader

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/peterh/liner"
)

// Read previous commands.
func loadHistory(line *liner.State, name string) {
	file, err := os.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("unable to read history", "file", name, "error", err)
		}
		return
	}
	defer file.Close()
	if _, err = line.ReadHistory(file); err != nil {
		slog.Warn("unable to read history", "file", name, "error", err)
	}
}

// Save commands for next session.
func saveHistory(line *liner.State, name string) {
	file, err := os.Create(name)
	if err != nil {
		slog.Warn("unable to save history", "file", name, "error", err)
		return
	}
	defer file.Close()
	if _, err = line.WriteHistory(file); err != nil {
		slog.Warn("unable to save history", "file", name, "error", err)
	}
}
