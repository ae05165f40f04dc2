// SPDX-License-Identifier: Unlicense OR MIT

package transfer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ImageFormat is the pixel layout of a RawImage.
type ImageFormat uint32

const (
	RGBA8888 ImageFormat = iota + 1
	BGRA8888
	ARGB8888
	RGB888
	BGR888
	A8
)

// BytesPerPixel returns the size of a pixel, or 0 for unknown formats.
func (f ImageFormat) BytesPerPixel() int {
	switch f {
	case RGBA8888, BGRA8888, ARGB8888:
		return 4
	case RGB888, BGR888:
		return 3
	case A8:
		return 1
	default:
		return 0
	}
}

// RawImage is pixel data as exchanged in the ImageData format.
type RawImage struct {
	Width, Height int
	Format        ImageFormat
	// Stride is the length of a row in bytes. Zero means tightly
	// packed rows.
	Stride int
	Pix    []byte
}

const imageHeaderLen = 16

func (d RawImage) stride() int {
	if d.Stride != 0 {
		return d.Stride
	}
	return d.Width * d.Format.BytesPerPixel()
}

// Decode converts data received in format f to its Go representation:
// string for Text, []string for URIList, RawImage for ImageData,
// image.Image for PNG, BMP and TIFF, and []byte otherwise.
func Decode(data []byte, f Format) (any, error) {
	switch {
	case f.Equal(Text):
		return string(data), nil
	case f.Equal(URIList):
		return DecodeURIList(string(data), true), nil
	case f.Equal(ImageData):
		return decodeImageData(data)
	case f.Equal(PNG):
		return decodeImage(png.Decode, data)
	case f.Equal(BMP):
		return decodeImage(bmp.Decode, data)
	case f.Equal(TIFF):
		return decodeImage(tiff.Decode, data)
	default:
		return data, nil
	}
}

// Encode is the inverse of Decode.
func Encode(v any, f Format) ([]byte, error) {
	switch {
	case f.Equal(Text):
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants string, got %T", ErrFormat, f, v)
		}
		return []byte(s), nil
	case f.Equal(URIList):
		uris, ok := v.([]string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants []string, got %T", ErrFormat, f, v)
		}
		return []byte(EncodeURIList(uris)), nil
	case f.Equal(ImageData):
		img, ok := v.(RawImage)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants RawImage, got %T", ErrFormat, f, v)
		}
		return encodeImageData(img)
	case f.Equal(PNG), f.Equal(BMP), f.Equal(TIFF):
		img, ok := v.(image.Image)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants image.Image, got %T", ErrFormat, f, v)
		}
		var buf bytes.Buffer
		var err error
		switch {
		case f.Equal(PNG):
			err = png.Encode(&buf, img)
		case f.Equal(BMP):
			err = bmp.Encode(&buf, img)
		default:
			err = tiff.Encode(&buf, img, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("transfer: encode %s: %w", f, err)
		}
		return buf.Bytes(), nil
	default:
		data, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants []byte, got %T", ErrFormat, f, v)
		}
		return data, nil
	}
}

func decodeImage(dec func(r io.Reader) (image.Image, error), data []byte) (image.Image, error) {
	img, err := dec(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("transfer: decode image: %w", err)
	}
	return img, nil
}

func encodeImageData(img RawImage) ([]byte, error) {
	if img.Format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("%w: unknown image format %d", ErrFormat, img.Format)
	}
	stride := img.stride()
	size := stride * img.Height
	if len(img.Pix) < size {
		return nil, fmt.Errorf("%w: image data too short (%d < %d)", ErrFormat, len(img.Pix), size)
	}
	buf := make([]byte, imageHeaderLen+size)
	binary.LittleEndian.PutUint32(buf[0:], uint32(img.Width))
	binary.LittleEndian.PutUint32(buf[4:], uint32(img.Height))
	binary.LittleEndian.PutUint32(buf[8:], uint32(img.Format))
	binary.LittleEndian.PutUint32(buf[12:], uint32(stride))
	copy(buf[imageHeaderLen:], img.Pix[:size])
	return buf, nil
}

func decodeImageData(buf []byte) (RawImage, error) {
	if len(buf) < imageHeaderLen {
		return RawImage{}, fmt.Errorf("%w: image data header too short", ErrFormat)
	}
	img := RawImage{
		Width:  int(binary.LittleEndian.Uint32(buf[0:])),
		Height: int(binary.LittleEndian.Uint32(buf[4:])),
		Format: ImageFormat(binary.LittleEndian.Uint32(buf[8:])),
		Stride: int(binary.LittleEndian.Uint32(buf[12:])),
	}
	if img.Format.BytesPerPixel() == 0 {
		return RawImage{}, fmt.Errorf("%w: unknown image format %d", ErrFormat, img.Format)
	}
	size := img.stride() * img.Height
	if len(buf)-imageHeaderLen < size {
		return RawImage{}, fmt.Errorf("%w: image data too short", ErrFormat)
	}
	img.Pix = append([]byte(nil), buf[imageHeaderLen:imageHeaderLen+size]...)
	return img, nil
}

// uriSafe are the characters besides ASCII letters and digits that are
// not escaped in uri lists.
const uriSafe = ":/?#[]@!$&'()*+,;=-_~."

// EncodeURIList escapes uris and joins them into a text/uri-list
// payload (RFC 2483): one uri per CRLF terminated line.
func EncodeURIList(uris []string) string {
	var b strings.Builder
	for _, uri := range uris {
		for i := 0; i < len(uri); i++ {
			c := uri[i]
			if isAlnum(c) || strings.IndexByte(uriSafe, c) >= 0 {
				b.WriteByte(c)
				continue
			}
			fmt.Fprintf(&b, "%%%02X", c)
		}
		b.WriteString("\r\n")
	}
	return b.String()
}

// DecodeURIList splits a text/uri-list payload into unescaped uris.
// Lines starting with '#' are comments and are dropped if
// removeComments is set. Malformed escapes are dropped.
func DecodeURIList(list string, removeComments bool) []string {
	var uris []string
	for _, line := range strings.Split(list, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if removeComments && line[0] == '#' {
			continue
		}
		uris = append(uris, unescape(line))
	}
	return uris
}

func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			break
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if ok1 && ok2 {
			b.WriteByte(hi<<4 | lo)
		}
		i += 2
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func isAlnum(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}
