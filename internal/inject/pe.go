package inject

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PE32+ constants. Node's windows builds are always 64-bit, so only the
// PE32+ optional-header layout is handled.
const (
	peSectionHeaderSize = 40
	pe32PlusMagic       = 0x20B

	peSectionName = ".nsea"

	// IMAGE_SCN_CNT_INITIALIZED_DATA | IMAGE_SCN_MEM_READ
	peSectionCharacteristics = 0x40000040
)

// peEmbedder appends the blob as a named ".nsea" section. The new section
// header goes into the slack between the existing section table and
// SizeOfHeaders; the raw data is padded out to FileAlignment as the loader
// requires. The pre-injection SizeOfImage becomes the section's
// VirtualAddress, which is how strip restores it exactly.
type peEmbedder struct{}

func (peEmbedder) embed(image, blob []byte) ([]byte, error) {
	pe, err := parsePEHeader(image)
	if err != nil {
		return nil, err
	}

	slotAt := pe.sectionTableOff + int(pe.numberOfSections)*peSectionHeaderSize
	if slotAt+peSectionHeaderSize > int(pe.sizeOfHeaders) {
		return nil, fmt.Errorf("no room in the header for another section entry (%d sections, headers end at %#x)", pe.numberOfSections, pe.sizeOfHeaders)
	}

	for _, b := range image[slotAt : slotAt+peSectionHeaderSize] {
		if b != 0 {
			return nil, fmt.Errorf("section table slack at %#x is not empty", slotAt)
		}
	}

	rawOff := alignUp(uint32(len(image)), pe.fileAlignment)
	rawSize := alignUp(uint32(len(blob)), pe.fileAlignment)

	le := binary.LittleEndian

	hdr := make([]byte, peSectionHeaderSize)
	copy(hdr[0:8], peSectionName)
	le.PutUint32(hdr[8:12], uint32(len(blob))) // VirtualSize
	le.PutUint32(hdr[12:16], pe.sizeOfImage)   // VirtualAddress
	le.PutUint32(hdr[16:20], rawSize)          // SizeOfRawData
	le.PutUint32(hdr[20:24], rawOff)           // PointerToRawData
	le.PutUint32(hdr[36:40], peSectionCharacteristics)

	copy(image[slotAt:], hdr)

	le.PutUint16(image[pe.coffOff+2:pe.coffOff+4], pe.numberOfSections+1)
	le.PutUint32(image[pe.optOff+56:pe.optOff+60], pe.sizeOfImage+alignUp(uint32(len(blob)), pe.sectionAlignment))

	// Pad to the raw data offset, then the blob, then pad the section out
	// to its aligned raw size.
	out := append(image, make([]byte, int(rawOff)-len(image))...)
	out = append(out, blob...)
	out = append(out, make([]byte, int(rawSize)-len(blob))...)

	return out, nil
}

func (peEmbedder) strip(image []byte) ([]byte, error) {
	pe, err := parsePEHeader(image)
	if err != nil {
		return nil, err
	}

	if pe.numberOfSections == 0 {
		return nil, fmt.Errorf("image has no sections")
	}

	slotAt := pe.sectionTableOff + int(pe.numberOfSections-1)*peSectionHeaderSize
	if slotAt+peSectionHeaderSize > len(image) {
		return nil, fmt.Errorf("section table runs past end of image")
	}

	name := bytes.TrimRight(image[slotAt:slotAt+8], "\x00")
	if string(name) != peSectionName {
		return nil, fmt.Errorf("last section is %q, not %s", name, peSectionName)
	}

	le := binary.LittleEndian

	// The section's VirtualAddress is the pre-injection SizeOfImage.
	le.PutUint32(image[pe.optOff+56:pe.optOff+60], le.Uint32(image[slotAt+12:slotAt+16]))
	le.PutUint16(image[pe.coffOff+2:pe.coffOff+4], pe.numberOfSections-1)

	for i := slotAt; i < slotAt+peSectionHeaderSize; i++ {
		image[i] = 0
	}

	return image, nil
}

type peHeader struct {
	coffOff          int
	optOff           int
	sectionTableOff  int
	numberOfSections uint16
	fileAlignment    uint32
	sectionAlignment uint32
	sizeOfImage      uint32
	sizeOfHeaders    uint32
}

func parsePEHeader(image []byte) (peHeader, error) {
	le := binary.LittleEndian

	if len(image) < 0x40 {
		return peHeader{}, fmt.Errorf("image too small for a DOS header")
	}

	peOff := int(le.Uint32(image[0x3C:0x40]))
	if peOff+24 > len(image) || !bytes.Equal(image[peOff:peOff+4], []byte("PE\x00\x00")) {
		return peHeader{}, fmt.Errorf("missing PE signature")
	}

	coffOff := peOff + 4
	optOff := coffOff + 20

	sizeOfOptional := int(le.Uint16(image[coffOff+16 : coffOff+18]))
	if optOff+sizeOfOptional > len(image) || sizeOfOptional < 64 {
		return peHeader{}, fmt.Errorf("invalid optional header size %d", sizeOfOptional)
	}

	if le.Uint16(image[optOff:optOff+2]) != pe32PlusMagic {
		return peHeader{}, fmt.Errorf("not a PE32+ image")
	}

	pe := peHeader{
		coffOff:          coffOff,
		optOff:           optOff,
		sectionTableOff:  optOff + sizeOfOptional,
		numberOfSections: le.Uint16(image[coffOff+2 : coffOff+4]),
		sectionAlignment: le.Uint32(image[optOff+32 : optOff+36]),
		fileAlignment:    le.Uint32(image[optOff+36 : optOff+40]),
		sizeOfImage:      le.Uint32(image[optOff+56 : optOff+60]),
		sizeOfHeaders:    le.Uint32(image[optOff+60 : optOff+64]),
	}

	if pe.fileAlignment == 0 || pe.sectionAlignment == 0 {
		return peHeader{}, fmt.Errorf("zero alignment in optional header")
	}

	if pe.sectionTableOff+int(pe.numberOfSections)*peSectionHeaderSize > len(image) {
		return peHeader{}, fmt.Errorf("section table runs past end of image")
	}

	return pe, nil
}

func alignUp(v, align uint32) uint32 {
	if rem := v % align; rem != 0 {
		return v + align - rem
	}

	return v
}
