package inject

// elfEmbedder appends the blob without touching the ELF headers. The
// section header table sits at an absolute offset recorded in the ELF
// header, so appending past it is safe; the runtime locates the blob
// through the trailing footer rather than a named section.
type elfEmbedder struct{}

func (elfEmbedder) embed(image, blob []byte) ([]byte, error) {
	return append(image, blob...), nil
}

func (elfEmbedder) strip(image []byte) ([]byte, error) {
	// Nothing was edited in the headers; truncation already removed the
	// appended region.
	return image, nil
}
