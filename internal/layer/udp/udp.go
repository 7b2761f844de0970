// Package udp implements the UDP multicast transport layer.
//
// Every topic maps to one multicast group inside the configured
// base/mask range. Payloads larger than one datagram are split into
// fragments that readers reassemble by (publisher id, clock).
package udp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"syscall"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	"github.com/rmacdonaldsmith/ecal-go/internal/layer/frame"
)

// GroupFor returns the multicast group of a topic: the base network bits
// from base/mask and the host bits from the topic name hash.
func GroupFor(topic string, base, mask string) (net.IP, error) {
	b := net.ParseIP(base).To4()
	m := net.ParseIP(mask).To4()
	if b == nil || m == nil {
		return nil, fmt.Errorf("%w: group base %q / mask %q", errs.ErrInvalidConfig, base, mask)
	}
	bv := binary.BigEndian.Uint32(b)
	mv := binary.BigEndian.Uint32(m)
	hv := uint32(xxhash.Sum64String(topic))

	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, (bv&mv)|(hv&^mv))
	return ip, nil
}

// encodeFragments splits payload into datagrams of at most maxDatagram
// bytes and hands each to emit. The datagram passed to emit is reused.
func encodeFragments(h frame.Header, payload []byte, maxDatagram int, scratch []byte, emit func([]byte) error) ([]byte, error) {
	chunk := maxDatagram - h.Size()
	if chunk <= 0 {
		return scratch, fmt.Errorf("%w: topic name leaves no room in a %d byte datagram", errs.ErrTooLarge, maxDatagram)
	}
	count := (len(payload) + chunk - 1) / chunk
	if count == 0 {
		count = 1
	}
	if count > 0xFFFF {
		return scratch, fmt.Errorf("%w: %d bytes need %d fragments", errs.ErrTooLarge, len(payload), count)
	}

	h.TotalLen = uint32(len(payload))
	h.FragCount = uint16(count)
	for i := 0; i < count; i++ {
		lo := i * chunk
		hi := lo + chunk
		if hi > len(payload) {
			hi = len(payload)
		}
		h.FragIndex = uint16(i)
		h.Offset = uint32(lo)
		scratch = frame.Append(scratch[:0], h, payload[lo:hi])
		if err := emit(scratch); err != nil {
			return scratch, err
		}
	}
	return scratch, nil
}

type asmKey struct {
	publisher uint64
	clock     int64
}

type partial struct {
	buf []byte
	got []bool
	n   int
}

// assembler rebuilds fragmented payloads. Only the most recent max
// payloads are kept in flight; older incomplete ones are dropped.
type assembler struct {
	max     int
	pending map[asmKey]*partial
	order   []asmKey
}

func newAssembler(limit int) *assembler {
	if limit < 1 {
		limit = 1
	}
	return &assembler{max: limit, pending: make(map[asmKey]*partial)}
}

// add stores one fragment and returns the payload once it is complete.
// The returned slice is owned by the caller.
func (a *assembler) add(h frame.Header, chunk []byte) ([]byte, bool) {
	if h.FragCount == 1 {
		if len(chunk) != int(h.TotalLen) {
			return nil, false
		}
		return append([]byte(nil), chunk...), true
	}

	k := asmKey{publisher: h.PublisherID, clock: h.Clock}
	p, ok := a.pending[k]
	if !ok {
		if len(a.order) >= a.max {
			delete(a.pending, a.order[0])
			a.order = a.order[1:]
		}
		p = &partial{buf: make([]byte, h.TotalLen), got: make([]bool, h.FragCount)}
		a.pending[k] = p
		a.order = append(a.order, k)
	}
	if len(p.got) != int(h.FragCount) || len(p.buf) != int(h.TotalLen) || p.got[h.FragIndex] {
		return nil, false
	}

	copy(p.buf[h.Offset:], chunk)
	p.got[h.FragIndex] = true
	p.n++
	if p.n < len(p.got) {
		return nil, false
	}

	delete(a.pending, k)
	for i, o := range a.order {
		if o == k {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return p.buf, true
}

// reusePort lets several readers in one host bind the same multicast port
func reusePort(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if serr == nil {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}
	})
	if err != nil {
		return err
	}
	return serr
}

func interfaceByName(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	return net.InterfaceByName(name)
}

// OpenMulticastSender opens a socket for sending to multicast groups
func OpenMulticastSender(ttl int, loopback bool, iface string) (*ipv4.PacketConn, error) {
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, errs.WrapTransient(err, "Multicast", "OpenMulticastSender", "open socket")
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		pc.Close()
		return nil, errs.WrapInvalid(err, "Multicast", "OpenMulticastSender", "set multicast ttl")
	}
	if err := pc.SetMulticastLoopback(loopback); err != nil {
		pc.Close()
		return nil, errs.WrapInvalid(err, "Multicast", "OpenMulticastSender", "set multicast loopback")
	}
	ifi, err := interfaceByName(iface)
	if err != nil {
		pc.Close()
		return nil, errs.WrapInvalid(err, "Multicast", "OpenMulticastSender", "look up interface")
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			pc.Close()
			return nil, errs.WrapInvalid(err, "Multicast", "OpenMulticastSender", "set multicast interface")
		}
	}
	return pc, nil
}

// ListenMulticast binds port with address reuse and joins group
func ListenMulticast(group net.IP, port int, iface string) (*ipv4.PacketConn, error) {
	lc := net.ListenConfig{Control: reusePort}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, errs.WrapTransient(err, "Multicast", "ListenMulticast", "bind")
	}
	pc := ipv4.NewPacketConn(conn)
	ifi, err := interfaceByName(iface)
	if err != nil {
		pc.Close()
		return nil, errs.WrapInvalid(err, "Multicast", "ListenMulticast", "look up interface")
	}
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		pc.Close()
		return nil, errs.WrapTransient(err, "Multicast", "ListenMulticast", "join group "+group.String())
	}
	return pc, nil
}
