// Package envelope handles the address-frame envelope that routing sockets
// put in front of a payload: zero or more address frames, one empty delimiter
// frame, then the payload frames.
//
//	[addr1, addr2, "", payload1, payload2]
//
// Anything that moves messages across a router hop should go through Split
// and Join, so that the framing is decided in one place.
package envelope

import "errors"

var (
	// The message contains no empty delimiter frame.
	ErrMissingDelimiter = errors.New("envelope: missing empty delimiter frame")
	// An address frame is empty; it would be mistaken for the delimiter.
	ErrEmptyAddress = errors.New("envelope: empty address frame")
)

// Split scans frames from the front, collecting address frames until the first
// empty frame. The delimiter is consumed; everything after it is the payload.
// The returned slices share their backing frames with the input.
func Split(frames [][]byte) (envelope, payload [][]byte, err error) {
	for i, f := range frames {
		if len(f) == 0 {
			return frames[:i:i], frames[i+1:], nil
		}
	}
	return nil, nil, ErrMissingDelimiter
}

// Join returns the envelope frames, one empty delimiter frame and the payload frames.
// Split(Join(e, p)) returns e and p again as long as Validate(e) == nil.
func Join(envelope, payload [][]byte) [][]byte {
	frames := make([][]byte, 0, len(envelope)+1+len(payload))
	frames = append(frames, envelope...)
	frames = append(frames, []byte{})
	return append(frames, payload...)
}

// Validate checks that no address frame is empty.
func Validate(envelope [][]byte) error {
	for _, a := range envelope {
		if len(a) == 0 {
			return ErrEmptyAddress
		}
	}
	return nil
}

// Wrap prepends a single address to an envelope. Used by a router to stamp the
// sender's address onto a message it forwards.
func Wrap(addr []byte, envelope [][]byte) [][]byte {
	out := make([][]byte, 0, len(envelope)+1)
	out = append(out, addr)
	return append(out, envelope...)
}

// Unwrap removes the outermost address of an envelope.
func Unwrap(envelope [][]byte) (addr []byte, rest [][]byte, err error) {
	if len(envelope) == 0 {
		return nil, nil, ErrEmptyAddress
	}
	return envelope[0], envelope[1:], nil
}
