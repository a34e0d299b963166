// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/tessacoin/tessanode/util"
)

// NetAddress defines information about a peer on the network including the
// time it was last seen, the services it supports, its IP address, and port.
type NetAddress struct {
	// Last time the address was seen.  Encoded as a uint32 on the wire.
	Timestamp time.Time

	// Bitfield which identifies the services supported by the address.
	Services ServiceFlag

	// IP address of the peer.
	IP net.IP

	// Port the peer is using.  This is encoded in big endian on the wire
	// which differs from most everything else.
	Port uint16
}

// HasService returns whether the specified service is supported by the
// address.
func (na *NetAddress) HasService(service ServiceFlag) bool {
	return na.Services&service == service
}

// AddService adds service as a supported service by the peer generating the
// message.
func (na *NetAddress) AddService(service ServiceFlag) {
	na.Services |= service
}

// NewNetAddressIPPort returns a new NetAddress using the provided IP, port,
// and supported services with defaults for the remaining fields.
func NewNetAddressIPPort(ip net.IP, port uint16, services ServiceFlag) *NetAddress {
	return NewNetAddressTimestamp(time.Now(), services, ip, port)
}

// NewNetAddressTimestamp returns a new NetAddress using the provided
// timestamp, IP, port, and supported services.  The timestamp is rounded to
// single second precision.
func NewNetAddressTimestamp(timestamp time.Time, services ServiceFlag, ip net.IP, port uint16) *NetAddress {
	return &NetAddress{
		Timestamp: time.Unix(timestamp.Unix(), 0),
		Services:  services,
		IP:        ip,
		Port:      port,
	}
}

// NewNetAddress returns a new NetAddress using the provided TCP address and
// supported services with defaults for the remaining fields.
func NewNetAddress(addr *net.TCPAddr, services ServiceFlag) *NetAddress {
	return NewNetAddressIPPort(addr.IP, uint16(addr.Port), services)
}

// readNetAddress reads an encoded NetAddress from r.  The version message
// carries addresses without the timestamp.
func readNetAddress(r io.Reader, na *NetAddress, ts bool) error {
	if ts {
		stamp, err := util.ReadUint32(r)
		if err != nil {
			return err
		}

		na.Timestamp = time.Unix(int64(stamp), 0)
	}

	services, err := util.ReadUint64(r)
	if err != nil {
		return err
	}

	var buf [18]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return err
	}

	na.Services = ServiceFlag(services)
	na.IP = net.IP(append([]byte(nil), buf[:16]...))
	na.Port = binary.BigEndian.Uint16(buf[16:])

	return nil
}

// writeNetAddress serializes a NetAddress to w.
func writeNetAddress(w io.Writer, na *NetAddress, ts bool) error {
	if ts {
		if err := util.WriteUint32(w, uint32(na.Timestamp.Unix())); err != nil {
			return err
		}
	}

	if err := util.WriteUint64(w, uint64(na.Services)); err != nil {
		return err
	}

	var buf [18]byte
	if na.IP != nil {
		copy(buf[:16], na.IP.To16())
	}

	binary.BigEndian.PutUint16(buf[16:], na.Port)

	_, err := w.Write(buf[:])

	return err
}
