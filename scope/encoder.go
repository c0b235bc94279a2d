// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scope

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// ImageFormat is the encoding of the frames sent to viewers.
type ImageFormat int

const (
	PNG ImageFormat = iota
	JPEG

	// DefaultFormat is used when neither Opts nor the "format" URL parameter
	// set one. Plots are line art, which PNG compresses better.
	DefaultFormat = PNG
)

// formats is indexed by ImageFormat. The first name is the canonical one.
var formats = []struct {
	names []string
	mime  string
}{
	PNG:  {[]string{"png"}, "image/png"},
	JPEG: {[]string{"jpeg", "jpg"}, "image/jpeg"},
}

func (f ImageFormat) valid() bool {
	return f >= 0 && int(f) < len(formats)
}

func (f ImageFormat) String() string {
	if !f.valid() {
		return fmt.Sprintf("ImageFormat(%d)", int(f))
	}
	return formats[f].names[0]
}

func (f ImageFormat) mimeType() string {
	if !f.valid() {
		return "application/octet-stream"
	}
	return formats[f].mime
}

// ParseImageFormat accepts the format names and file extensions, in any case,
// e.g. "png", ".JPG", "jpeg".
func ParseImageFormat(value string) (ImageFormat, error) {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(value)), ".")
	for i, f := range formats {
		for _, n := range f.names {
			if n == v {
				return ImageFormat(i), nil
			}
		}
	}
	return DefaultFormat, fmt.Errorf("scope: unrecognized image format %q", value)
}

// maxFrameSize bounds the width and height a viewer may ask for.
const maxFrameSize = 4096

// frameSize returns the size of a frame scaled from native to the requested
// width and height. A zero dimension follows the other one, keeping the
// aspect ratio; both zero keeps the native size.
func frameSize(native image.Point, width, height int) image.Point {
	switch {
	case width == 0 && height == 0:
		return native
	case height == 0:
		height = max(1, (width*native.Y+native.X/2)/native.X)
	case width == 0:
		width = max(1, (height*native.X+native.Y/2)/native.Y)
	}
	return image.Point{width, height}
}

var jpegOptions = jpeg.Options{Quality: 85}

// bufferPool stores reusable []byte instances.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return []byte(nil)
	},
}

type pngEncoderBufferPool sync.Pool

func (p *pngEncoderBufferPool) Get() *png.EncoderBuffer {
	buf, _ := (*sync.Pool)(p).Get().(*png.EncoderBuffer)
	return buf
}

func (p *pngEncoderBufferPool) Put(buf *png.EncoderBuffer) {
	(*sync.Pool)(p).Put(buf)
}

// pngEncoder shares its buffer pool between every frame. Frames are encoded
// at BestSpeed since a new one is produced several times per second.
var pngEncoder = png.Encoder{
	CompressionLevel: png.BestSpeed,
	BufferPool:       &pngEncoderBufferPool{},
}

// encode returns img scaled to size and encoded in format, in a buffer taken
// from bufferPool.
func encode(img image.Image, size image.Point, format ImageFormat) ([]byte, error) {
	if size != img.Bounds().Size() {
		dst := image.NewRGBA(image.Rectangle{Max: size})
		// Bilinear keeps the thin traces visible when shrinking.
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		img = dst
	}
	buf := bytes.NewBuffer(bufferPool.Get().([]byte)[:0])
	switch format {
	case PNG:
		if err := pngEncoder.Encode(buf, img); err != nil {
			return nil, err
		}
	case JPEG:
		if err := jpeg.Encode(buf, img, &jpegOptions); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("scope: unhandled image format %s", format)
	}
	return buf.Bytes(), nil
}
