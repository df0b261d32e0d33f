// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/telekom/hoplite/pkg/trace/codec"
)

//go:generate go tool moq -out conn_moq.go . packetConn

// packetConn is the session's raw socket boundary. Send transmits one
// probe packet, Recv delivers the next inbound frame within the poll
// timeout. Both are safe for concurrent use.
type packetConn interface {
	Send(ctx context.Context, pkt []byte, ttl int, dst net.IP) error
	Recv(ctx context.Context, timeout time.Duration) (*codec.Frame, error)
	Close() error
}

const (
	// mtuSize bounds the inbound read buffer.
	mtuSize = 1500
	// readPollInterval is the deadline for one blocking socket read, so
	// reader goroutines notice shutdown promptly.
	readPollInterval = 200 * time.Millisecond
	// frameBacklog buffers inbound frames between the reader goroutines
	// and Recv.
	frameBacklog = 64
)

// rawConn is the production packetConn on top of raw IP sockets. IPv4
// probes are written as complete packets through an IPPROTO_RAW socket,
// which implies IP_HDRINCL, so the TTL travels inside the packet. IPv6
// raw sockets take bare transport segments and the hop limit is set per
// send via a control message.
type rawConn struct {
	icmpConn *icmp.PacketConn
	sendV4   *net.IPConn
	sendV6   *ipv6.PacketConn
	tcpConn  *net.IPConn
	tos      uint8

	frames    chan *codec.Frame
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// newRawConn opens the raw sockets a session with the given settings
// needs. The sockets require CAP_NET_RAW.
func newRawConn(_ context.Context, s Settings) (packetConn, error) {
	c := &rawConn{
		tos:    s.TOS,
		frames: make(chan *codec.Frame, frameBacklog),
		stop:   make(chan struct{}),
	}

	if err := c.open(s); err != nil {
		_ = c.Close()
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", ErrRawSocketUnavailable, err)
		}
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop(c.icmpConn, codec.TransportICMP)
	if c.tcpConn != nil {
		c.wg.Add(1)
		go c.readLoop(c.tcpConn, codec.TransportTCP)
	}
	return c, nil
}

func (c *rawConn) open(s Settings) error {
	if s.Target.To4() != nil {
		return c.openV4(s)
	}
	return c.openV6(s)
}

func (c *rawConn) openV4(s Settings) error {
	var err error
	if c.icmpConn, err = icmp.ListenPacket("ip4:icmp", "0.0.0.0"); err != nil {
		return fmt.Errorf("failed to open ICMP receive socket: %w", err)
	}

	pc, err := net.ListenPacket("ip4:255", "0.0.0.0")
	if err != nil {
		return fmt.Errorf("failed to open raw send socket: %w", err)
	}
	c.sendV4 = pc.(*net.IPConn)
	if err = enableHdrIncl(c.sendV4); err != nil {
		return err
	}

	if s.Protocol == ProtocolTCP {
		tc, err := net.ListenPacket("ip4:tcp", "0.0.0.0")
		if err != nil {
			return fmt.Errorf("failed to open TCP receive socket: %w", err)
		}
		c.tcpConn = tc.(*net.IPConn)
	}
	return nil
}

func (c *rawConn) openV6(s Settings) error {
	var err error
	if c.icmpConn, err = icmp.ListenPacket("ip6:ipv6-icmp", "::"); err != nil {
		return fmt.Errorf("failed to open ICMPv6 socket: %w", err)
	}

	switch s.Protocol {
	case ProtocolICMP:
		// Echo probes go out through the receive socket.
		c.sendV6 = c.icmpConn.IPv6PacketConn()
	case ProtocolUDP:
		pc, err := net.ListenPacket("ip6:udp", "::")
		if err != nil {
			return fmt.Errorf("failed to open UDP send socket: %w", err)
		}
		c.sendV6 = ipv6.NewPacketConn(pc)
	case ProtocolTCP:
		pc, err := net.ListenPacket("ip6:tcp", "::")
		if err != nil {
			return fmt.Errorf("failed to open TCP socket: %w", err)
		}
		c.tcpConn = pc.(*net.IPConn)
		c.sendV6 = ipv6.NewPacketConn(pc)
	}
	return nil
}

// enableHdrIncl marks the socket as caller-built-header. IPPROTO_RAW
// sockets already behave this way on Linux; setting it keeps the
// contract explicit.
func enableHdrIncl(conn *net.IPConn) error {
	sc, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to access raw send socket: %w", err)
	}
	var serr error
	if err = sc.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_HDRINCL, 1)
	}); err != nil {
		return fmt.Errorf("failed to configure raw send socket: %w", err)
	}
	if serr != nil {
		return fmt.Errorf("failed to enable IP_HDRINCL: %w", serr)
	}
	return nil
}

func (c *rawConn) Send(_ context.Context, pkt []byte, ttl int, dst net.IP) error {
	if c.sendV4 != nil {
		if _, err := c.sendV4.WriteTo(pkt, &net.IPAddr{IP: dst}); err != nil {
			return fmt.Errorf("failed to send probe: %w", err)
		}
		return nil
	}

	cm := &ipv6.ControlMessage{HopLimit: ttl, TrafficClass: int(c.tos)}
	if _, err := c.sendV6.WriteTo(pkt, cm, &net.IPAddr{IP: dst}); err != nil {
		return fmt.Errorf("failed to send probe: %w", err)
	}
	return nil
}

func (c *rawConn) Recv(ctx context.Context, timeout time.Duration) (*codec.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

func (c *rawConn) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	if c.icmpConn != nil {
		_ = c.icmpConn.Close()
	}
	if c.sendV4 != nil {
		_ = c.sendV4.Close()
	}
	if c.tcpConn != nil {
		_ = c.tcpConn.Close()
	}
	c.wg.Wait()
	return nil
}

// frameReader is the common read surface of the receive sockets.
type frameReader interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
}

// readLoop polls one receive socket and feeds complete frames into the
// shared channel. Short read deadlines keep the loop responsive to
// shutdown without busy waiting.
func (c *rawConn) readLoop(r frameReader, transport codec.Transport) {
	defer c.wg.Done()

	buf := make([]byte, mtuSize)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		_ = r.SetReadDeadline(time.Now().Add(readPollInterval))
		n, addr, err := r.ReadFrom(buf)
		if err != nil {
			if transientIOError(err) {
				continue
			}
			// Socket closed or unrecoverable, stop reading.
			return
		}

		from := ipFromAddr(addr)
		if from == nil || n == 0 {
			continue
		}

		f := &codec.Frame{
			Data:      append([]byte(nil), buf[:n]...),
			From:      from,
			At:        time.Now(),
			Transport: transport,
		}
		select {
		case c.frames <- f:
		case <-c.stop:
			return
		default:
			// Backlog full, drop the frame. The probe will expire and
			// count as lost.
		}
	}
}

func ipFromAddr(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		return nil
	}
}
