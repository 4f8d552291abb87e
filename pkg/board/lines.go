// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// MaxLineLength bounds a buffered line. Longer runs without a newline are
// flushed as a line of their own.
const MaxLineLength = 1024

// Line is one decoded line of board output.
type Line struct {
	Text string

	// Replaced is true when invalid UTF-8 was substituted while decoding.
	Replaced bool
}

// LineDecoder splits a serial byte stream into text lines
type LineDecoder struct {
	buffer []byte
}

// NewLineDecoder creates a new line decoder
func NewLineDecoder() *LineDecoder {
	return &LineDecoder{
		buffer: make([]byte, 0, MaxLineLength),
	}
}

// Reset drops any partial line
func (d *LineDecoder) Reset() {
	d.buffer = d.buffer[:0]
}

// Pending returns the partial line received so far, decoded the same way as a
// complete line. Prompts that wait for input never end in a newline.
func (d *LineDecoder) Pending() Line {
	return decodeLine(d.buffer)
}

// Decode feeds p through the decoder and returns every line completed by it.
// Lines end at '\n' or '\r'. Trailing whitespace is stripped and blank lines
// are dropped.
func (d *LineDecoder) Decode(p []byte) []Line {
	var lines []Line
	for len(p) > 0 {
		i := bytes.IndexAny(p, "\r\n")
		if i < 0 {
			d.buffer = append(d.buffer, p...)
			p = nil
		} else {
			d.buffer = append(d.buffer, p[:i]...)
			p = p[i+1:]
			lines = d.flush(lines)
		}

		for len(d.buffer) >= MaxLineLength {
			rest := append([]byte(nil), d.buffer[MaxLineLength:]...)
			d.buffer = d.buffer[:MaxLineLength]
			lines = d.flush(lines)
			d.buffer = append(d.buffer, rest...)
		}
	}
	return lines
}

func (d *LineDecoder) flush(lines []Line) []Line {
	line := decodeLine(d.buffer)
	d.buffer = d.buffer[:0]
	if line.Text == "" {
		return lines
	}
	return append(lines, line)
}

func decodeLine(raw []byte) Line {
	replaced := !utf8.Valid(raw)
	text := string(raw)
	if replaced {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	return Line{
		Text:     strings.TrimRightFunc(text, isTrailingSpace),
		Replaced: replaced,
	}
}

func isTrailingSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == '\v' || r == '\f' || r == 0
}
