// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/bureau-foundation/runlog/lib/codec"
	"github.com/bureau-foundation/runlog/lib/schema/record"
)

// lengthPrefixSize is the fixed size of a frame's length prefix.
const lengthPrefixSize = 4

// MaxFrameSize is the maximum allowed payload size for one frame. A
// single frame carries one record; the largest legitimate record is a
// Data row at the element budget, a few megabytes of CBOR. A length
// prefix declaring more than this is treated as corruption rather
// than as a frame still being appended.
const MaxFrameSize = 64 * 1024 * 1024

// Encode returns the framed encoding of one record:
// [4 bytes payload length, big-endian uint32] [CBOR payload].
func Encode(rec *record.Record) ([]byte, error) {
	return AppendFrame(nil, rec)
}

// AppendFrame appends the framed encoding of rec to dst and returns
// the extended buffer. Multi-record appends (a write_data batch, a
// joined set of index entries) build one buffer with repeated calls
// and hand it to the store as a single write.
func AppendFrame(dst []byte, rec *record.Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	payload, err := codec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("record payload %d bytes exceeds frame limit %d", len(payload), MaxFrameSize)
	}
	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	dst = append(dst, prefix[:]...)
	return append(dst, payload...), nil
}

// FrameSize returns the framed size in bytes of a payload of the
// given length.
func FrameSize(payloadLength int) int {
	return lengthPrefixSize + payloadLength
}

// Frame is the byte range of one complete frame within a buffer.
// Payload aliases the scanned buffer; it is valid as long as the
// buffer is.
type Frame struct {
	// Payload is the CBOR payload, without the length prefix.
	Payload []byte

	// Beg is the buffer offset of the frame's length prefix.
	Beg int

	// End is the buffer offset immediately after the payload.
	End int
}

// Frames scans buf and returns every complete frame in order plus the
// number of trailing bytes that do not form a complete frame. It does
// not decode payloads. The only error is a length prefix exceeding
// MaxFrameSize, which indicates corruption.
func Frames(buf []byte) ([]Frame, int, error) {
	var frames []Frame
	offset := 0
	for {
		remaining := len(buf) - offset
		if remaining < lengthPrefixSize {
			return frames, remaining, nil
		}
		payloadLength := int(binary.BigEndian.Uint32(buf[offset : offset+lengthPrefixSize]))
		if payloadLength > MaxFrameSize {
			return nil, 0, fmt.Errorf("frame at offset %d declares %d byte payload, limit is %d", offset, payloadLength, MaxFrameSize)
		}
		end := offset + lengthPrefixSize + payloadLength
		if end > len(buf) {
			return frames, remaining, nil
		}
		frames = append(frames, Frame{
			Payload: buf[offset+lengthPrefixSize : end],
			Beg:     offset,
			End:     end,
		})
		offset = end
	}
}

// DecodeFrame decodes one frame payload (without its length prefix)
// into a record. Replay uses this with Frames to attribute absolute
// file offsets to individual records.
func DecodeFrame(payload []byte) (*record.Record, error) {
	rec := new(record.Record)
	if err := codec.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("decode frame payload: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// DecodeStream decodes every complete frame in buf into records,
// returning them in order along with the number of trailing bytes
// that do not yet form a complete frame. A truncated trailing frame
// is expected and never an error; a complete frame whose payload is
// not a valid record fails the whole call.
func DecodeStream(buf []byte) ([]*record.Record, int, error) {
	frames, unconsumed, err := Frames(buf)
	if err != nil {
		return nil, 0, err
	}
	records := make([]*record.Record, 0, len(frames))
	for _, frame := range frames {
		rec, err := DecodeFrame(frame.Payload)
		if err != nil {
			return nil, 0, fmt.Errorf("frame at offset %d: %w", frame.Beg, err)
		}
		records = append(records, rec)
	}
	return records, unconsumed, nil
}
