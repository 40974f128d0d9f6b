package Pyramid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// 影像载荷编码的 Magic
	imageMagic = uint32(0x4D494D31) // "MIM1"
	// 影像载荷头部大小（magic + width + height + mime 长度）
	imageHeaderSize = 16
)

// Image 一块影像瓦片的载荷
// Data 保持提供方给出的原始编码字节，引擎不做像素级解码；
// Width/Height 为提供方申报的尺寸，未知时为 0
type Image struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// MIMEForExt 根据文件扩展名推断 MIME 类型
func MIMEForExt(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "dds":
		return "image/vnd-ms.dds"
	default:
		return "application/octet-stream"
	}
}

// SniffMIME 根据字节头识别常见影像格式
func SniffMIME(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("DDS ")):
		return "image/vnd-ms.dds"
	default:
		return "application/octet-stream"
	}
}

// EncodeImage 将影像载荷编码为小端二进制
func EncodeImage(img *Image) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, imageMagic)
	binary.Write(buf, binary.LittleEndian, uint32(img.Width))
	binary.Write(buf, binary.LittleEndian, uint32(img.Height))
	binary.Write(buf, binary.LittleEndian, uint32(len(img.MIME)))
	buf.WriteString(img.MIME)
	buf.Write(img.Data)
	return buf.Bytes()
}

// DecodeImage 从二进制载荷解码影像
func DecodeImage(data []byte) (*Image, error) {
	if len(data) < imageHeaderSize {
		return nil, fmt.Errorf("insufficient data for image header")
	}
	reader := bytes.NewReader(data)

	var magic, width, height, mimeLen uint32
	binary.Read(reader, binary.LittleEndian, &magic)
	if magic != imageMagic {
		return nil, fmt.Errorf("bad image magic 0x%08X", magic)
	}
	binary.Read(reader, binary.LittleEndian, &width)
	binary.Read(reader, binary.LittleEndian, &height)
	binary.Read(reader, binary.LittleEndian, &mimeLen)
	if int(mimeLen) > reader.Len() {
		return nil, fmt.Errorf("image mime field truncated")
	}

	mime := make([]byte, mimeLen)
	reader.Read(mime)
	payload := make([]byte, reader.Len())
	reader.Read(payload)

	return &Image{
		Data:   payload,
		MIME:   string(mime),
		Width:  int(width),
		Height: int(height),
	}, nil
}
