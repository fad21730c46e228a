package pcapio

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/google/gopacket/pcapgo"
)

// Reader replays a pre-recorded pcap file as a sequence of raw frames,
// used when spec.md §1's input is a capture file rather than a live
// TZSP feed.
type Reader struct {
	file   *os.File
	reader *pcapgo.Reader
}

// NewReader opens filename for pcap replay.
func NewReader(filename string) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Reader{file: f, reader: r}, nil
}

// ReadPacket returns the next frame and its capture timestamp. It returns
// io.EOF once the file is exhausted.
func (r *Reader) ReadPacket() (data []byte, timestamp time.Time, err error) {
	data, ci, err := r.reader.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, time.Time{}, io.EOF
		}
		return nil, time.Time{}, err
	}
	return data, ci.Timestamp, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
