package models

import "fmt"

// PacketID is the leading tag byte of every packet on the wire.
type PacketID uint8

const (
	PacketIDPeerIdentify     PacketID = 0x01
	PacketIDPeerDiscoverIPv4 PacketID = 0x02
	PacketIDPeerDiscoverIPv6 PacketID = 0x03

	// Channel, file and block messages are reserved, they have no encoding yet.
	PacketIDChannelOpen      PacketID = 0x10
	PacketIDChannelHandle    PacketID = 0x11
	PacketIDFileOpen         PacketID = 0x20
	PacketIDFileHandle       PacketID = 0x21
	PacketIDFileHandleUpdate PacketID = 0x22
	PacketIDBlockGet         PacketID = 0x30
	PacketIDBlockData        PacketID = 0x31
	PacketIDBlockChecksum    PacketID = 0x32

	PacketIDRejected PacketID = 0xF0
)

var packetNames = map[PacketID]string{
	PacketIDPeerIdentify:     "PeerIdentify",
	PacketIDPeerDiscoverIPv4: "PeerDiscoverIPv4",
	PacketIDPeerDiscoverIPv6: "PeerDiscoverIPv6",
	PacketIDChannelOpen:      "ChannelOpen",
	PacketIDChannelHandle:    "ChannelHandle",
	PacketIDFileOpen:         "FileOpen",
	PacketIDFileHandle:       "FileHandle",
	PacketIDFileHandleUpdate: "FileHandleUpdate",
	PacketIDBlockGet:         "BlockGet",
	PacketIDBlockData:        "BlockData",
	PacketIDBlockChecksum:    "BlockChecksum",
	PacketIDRejected:         "Rejected",
}

func (id PacketID) String() string {
	if name, ok := packetNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02x)", uint8(id))
}

// Known reports whether the tag is part of the numbering scheme, encoded or reserved.
func (id PacketID) Known() bool {
	_, ok := packetNames[id]
	return ok
}

// Reserved reports whether the tag is numbered but has no encoding.
func (id PacketID) Reserved() bool {
	switch id {
	case PacketIDChannelOpen, PacketIDChannelHandle,
		PacketIDFileOpen, PacketIDFileHandle, PacketIDFileHandleUpdate,
		PacketIDBlockGet, PacketIDBlockData, PacketIDBlockChecksum:
		return true
	}
	return false
}
