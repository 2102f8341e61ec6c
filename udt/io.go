package udt

import (
	"errors"
	"io"
)

var _ io.ReadWriteCloser = (*Socket)(nil)

// Read implements io.Reader. A stream socket reads available bytes; a message socket reads
// one message. A connection closed or broken by the peer reads as io.EOF once its
// buffered data is consumed.
func (s *Socket) Read(p []byte) (int, error) {
	var (
		n   int
		err error
	)
	if s.mode == Message {
		n, err = s.RecvMessage(p)
	} else {
		n, err = s.Recv(p)
	}

	if errors.Is(err, ErrConnectionBroken) {
		return n, io.EOF
	}

	return n, err
}

// Write implements io.Writer. A stream socket writes every byte of p, a message socket
// writes p as one message. A non-blocking stream socket that cannot take every byte
// returns io.ErrShortWrite along with the count written.
func (s *Socket) Write(p []byte) (int, error) {
	if s.mode == Message {
		if err := s.SendMessage(p); err != nil {
			return 0, err
		}

		return len(p), nil
	}

	n, err := s.Send(p)
	if err == nil && n < len(p) {
		return n, io.ErrShortWrite
	}

	return n, err
}
