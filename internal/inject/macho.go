package inject

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Mach-O constants for 64-bit little-endian images, the only layout Node
// ships for darwin (x64 and arm64 both).
const (
	machoMagic64     = 0xFEEDFACF
	machoHeaderSize  = 32
	lcSegment64      = 0x19
	segmentCmd64Size = 72
	section64Size    = 80

	machoSegmentName = "NODE_SEA"
	machoSectionName = "__NODE_SEA_BLOB"

	vmProtRead = 0x1
)

// machoEmbedder records the blob in a dedicated LC_SEGMENT_64 so the
// runtime (and tools like otool) can find it by name. The new load command
// is written into the slack between the existing load commands and the
// first section's file contents; linkers leave generous headroom there,
// but the space is verified before writing.
type machoEmbedder struct{}

func (machoEmbedder) embed(image, blob []byte) ([]byte, error) {
	hdr, err := parseMachoHeader(image)
	if err != nil {
		return nil, err
	}

	const cmdSize = segmentCmd64Size + section64Size

	slotAt := machoHeaderSize + int(hdr.sizeofcmds)
	if slotAt+cmdSize > len(image) {
		return nil, fmt.Errorf("load command table runs past end of image")
	}

	for _, b := range image[slotAt : slotAt+cmdSize] {
		if b != 0 {
			return nil, fmt.Errorf("no room for a %d-byte load command after the existing %d commands", cmdSize, hdr.ncmds)
		}
	}

	fileoff := uint64(len(image))
	blobSize := uint64(len(blob))

	cmd := make([]byte, cmdSize)
	le := binary.LittleEndian

	le.PutUint32(cmd[0:4], lcSegment64)
	le.PutUint32(cmd[4:8], cmdSize)
	copy(cmd[8:24], machoSegmentName)
	// vmaddr stays zero: the blob is read from the file, never mapped.
	le.PutUint64(cmd[32:40], blobSize)   // vmsize
	le.PutUint64(cmd[40:48], fileoff)    // fileoff
	le.PutUint64(cmd[48:56], blobSize)   // filesize
	le.PutUint32(cmd[56:60], vmProtRead) // maxprot
	le.PutUint32(cmd[60:64], vmProtRead) // initprot
	le.PutUint32(cmd[64:68], 1)          // nsects

	sect := cmd[segmentCmd64Size:]
	copy(sect[0:16], machoSectionName)
	copy(sect[16:32], machoSegmentName)
	le.PutUint64(sect[40:48], blobSize)        // size
	le.PutUint32(sect[48:52], uint32(fileoff)) // offset

	copy(image[slotAt:], cmd)

	le.PutUint32(image[16:20], hdr.ncmds+1)
	le.PutUint32(image[20:24], hdr.sizeofcmds+cmdSize)

	return append(image, blob...), nil
}

func (machoEmbedder) strip(image []byte) ([]byte, error) {
	hdr, err := parseMachoHeader(image)
	if err != nil {
		return nil, err
	}

	cmdAt, cmdSize, err := findMachoSegment(image, hdr, machoSegmentName)
	if err != nil {
		return nil, err
	}

	cmdsEnd := machoHeaderSize + int(hdr.sizeofcmds)

	// Close the gap, then zero the vacated tail so the slack is reusable.
	copy(image[cmdAt:], image[cmdAt+cmdSize:cmdsEnd])

	for i := cmdsEnd - cmdSize; i < cmdsEnd; i++ {
		image[i] = 0
	}

	le := binary.LittleEndian
	le.PutUint32(image[16:20], hdr.ncmds-1)
	le.PutUint32(image[20:24], hdr.sizeofcmds-uint32(cmdSize))

	return image, nil
}

type machoHeader struct {
	ncmds      uint32
	sizeofcmds uint32
}

func parseMachoHeader(image []byte) (machoHeader, error) {
	if len(image) < machoHeaderSize {
		return machoHeader{}, fmt.Errorf("image too small for a Mach-O header")
	}

	le := binary.LittleEndian

	if le.Uint32(image[0:4]) != machoMagic64 {
		return machoHeader{}, fmt.Errorf("not a 64-bit little-endian Mach-O image")
	}

	hdr := machoHeader{
		ncmds:      le.Uint32(image[16:20]),
		sizeofcmds: le.Uint32(image[20:24]),
	}

	if machoHeaderSize+int(hdr.sizeofcmds) > len(image) {
		return machoHeader{}, fmt.Errorf("load commands (%d bytes) run past end of image", hdr.sizeofcmds)
	}

	return hdr, nil
}

// findMachoSegment walks the load command table for an LC_SEGMENT_64 with
// the given name, returning its offset and size.
func findMachoSegment(image []byte, hdr machoHeader, name string) (at, size int, err error) {
	le := binary.LittleEndian
	off := machoHeaderSize
	end := machoHeaderSize + int(hdr.sizeofcmds)

	for i := uint32(0); i < hdr.ncmds; i++ {
		if off+8 > end {
			return 0, 0, fmt.Errorf("truncated load command table")
		}

		cmd := le.Uint32(image[off : off+4])
		cmdSize := int(le.Uint32(image[off+4 : off+8]))

		if cmdSize < 8 || off+cmdSize > end {
			return 0, 0, fmt.Errorf("load command %d has invalid size %d", i, cmdSize)
		}

		if cmd == lcSegment64 && off+24 <= end {
			segname := image[off+8 : off+24]
			if string(bytes.TrimRight(segname, "\x00")) == name {
				return off, cmdSize, nil
			}
		}

		off += cmdSize
	}

	return 0, 0, fmt.Errorf("no %s segment in load command table", name)
}
