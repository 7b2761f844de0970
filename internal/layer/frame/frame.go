// Package frame encodes the data frame header shared by the shm, udp and
// tcp layers.
//
// A frame is a fixed size big-endian header, the topic name and then the
// payload (or, on udp, one fragment of it).
package frame

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

const (
	// Magic starts every frame
	Magic uint32 = 0x4543414C // "ECAL"

	// Version is the header version written by this package
	Version uint8 = 1

	// FixedSize is the header size without the topic name
	FixedSize = 60

	// MaxTopicLen is the longest topic name a header can carry
	MaxTopicLen = math.MaxUint16
)

// Header describes one frame or fragment
type Header struct {
	Topic       string
	PublisherID uint64
	Clock       int64
	ID          int64
	Hash        uint64
	Time        time.Time

	// TotalLen is the size of the complete payload
	TotalLen uint32

	// FragIndex and FragCount locate a fragment; whole frames use 0 and 1
	FragIndex uint16
	FragCount uint16

	// Offset is the position of this fragment in the payload
	Offset uint32
}

// NewHeader builds the header for a whole payload
func NewHeader(topic transport.TopicInfo, attrs transport.WriterAttributes) Header {
	return Header{
		Topic:       topic.TopicName,
		PublisherID: topic.EntityID,
		Clock:       attrs.Clock,
		ID:          attrs.ID,
		Hash:        attrs.Hash,
		Time:        attrs.Time,
		TotalLen:    uint32(attrs.Len),
		FragCount:   1,
	}
}

// Size returns the encoded header size
func (h Header) Size() int {
	return FixedSize + len(h.Topic)
}

// Put writes the header into b and returns the bytes written.
// b must be at least h.Size() long.
func (h Header) Put(b []byte) int {
	binary.BigEndian.PutUint32(b[0:], Magic)
	b[4] = Version
	b[5] = 0
	binary.BigEndian.PutUint16(b[6:], uint16(len(h.Topic)))
	binary.BigEndian.PutUint64(b[8:], h.PublisherID)
	binary.BigEndian.PutUint64(b[16:], uint64(h.Clock))
	binary.BigEndian.PutUint64(b[24:], uint64(h.ID))
	binary.BigEndian.PutUint64(b[32:], h.Hash)
	var nanos int64
	if !h.Time.IsZero() {
		nanos = h.Time.UnixNano()
	}
	binary.BigEndian.PutUint64(b[40:], uint64(nanos))
	binary.BigEndian.PutUint32(b[48:], h.TotalLen)
	binary.BigEndian.PutUint16(b[52:], h.FragIndex)
	binary.BigEndian.PutUint16(b[54:], h.FragCount)
	binary.BigEndian.PutUint32(b[56:], h.Offset)
	copy(b[FixedSize:], h.Topic)
	return h.Size()
}

// Append appends the header and chunk to dst
func Append(dst []byte, h Header, chunk []byte) []byte {
	n := len(dst)
	need := h.Size() + len(chunk)
	if cap(dst)-n < need {
		grown := make([]byte, n, n+need)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:n+need]
	off := n + h.Put(dst[n:])
	copy(dst[off:], chunk)
	return dst
}

// Decode parses a frame and returns its header and the chunk that follows.
// The chunk aliases b.
func Decode(b []byte) (Header, []byte, error) {
	var h Header
	if len(b) < FixedSize {
		return h, nil, fmt.Errorf("%w: frame of %d bytes is shorter than header", errs.ErrDecode, len(b))
	}
	if binary.BigEndian.Uint32(b[0:]) != Magic {
		return h, nil, fmt.Errorf("%w: bad frame magic", errs.ErrDecode)
	}
	if b[4] != Version {
		return h, nil, fmt.Errorf("%w: unsupported frame version %d", errs.ErrDecode, b[4])
	}
	topicLen := int(binary.BigEndian.Uint16(b[6:]))
	if len(b) < FixedSize+topicLen {
		return h, nil, fmt.Errorf("%w: truncated topic name", errs.ErrDecode)
	}

	h.PublisherID = binary.BigEndian.Uint64(b[8:])
	h.Clock = int64(binary.BigEndian.Uint64(b[16:]))
	h.ID = int64(binary.BigEndian.Uint64(b[24:]))
	h.Hash = binary.BigEndian.Uint64(b[32:])
	if nanos := int64(binary.BigEndian.Uint64(b[40:])); nanos != 0 {
		h.Time = time.Unix(0, nanos)
	}
	h.TotalLen = binary.BigEndian.Uint32(b[48:])
	h.FragIndex = binary.BigEndian.Uint16(b[52:])
	h.FragCount = binary.BigEndian.Uint16(b[54:])
	h.Offset = binary.BigEndian.Uint32(b[56:])
	h.Topic = string(b[FixedSize : FixedSize+topicLen])

	if h.FragCount == 0 || h.FragIndex >= h.FragCount {
		return h, nil, fmt.Errorf("%w: fragment %d of %d", errs.ErrDecode, h.FragIndex, h.FragCount)
	}
	chunk := b[FixedSize+topicLen:]
	if uint64(h.Offset)+uint64(len(chunk)) > uint64(h.TotalLen) {
		return h, nil, fmt.Errorf("%w: fragment overruns payload", errs.ErrDecode)
	}
	return h, chunk, nil
}

// Frame converts a header and complete payload into a transport frame
func (h Header) Frame(payload []byte, layer transport.Layer) transport.Frame {
	return transport.Frame{
		Topic:       h.Topic,
		PublisherID: h.PublisherID,
		Payload:     payload,
		Clock:       h.Clock,
		ID:          h.ID,
		Hash:        h.Hash,
		Time:        h.Time,
		Layer:       layer,
	}
}
