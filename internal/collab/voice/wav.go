package voice

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

type wavChunks struct {
	format []byte
	data   []byte
}

func parseWAV(payload []byte) (wavChunks, error) {
	if len(payload) < 12 || string(payload[0:4]) != "RIFF" || string(payload[8:12]) != "WAVE" {
		return wavChunks{}, fmt.Errorf("not a RIFF/WAVE payload")
	}
	var chunks wavChunks
	offset := 12
	for offset+8 <= len(payload) {
		id := string(payload[offset : offset+4])
		size := int(le32(payload[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(payload) {
			return wavChunks{}, fmt.Errorf("truncated %q chunk", id)
		}
		switch id {
		case "fmt ":
			chunks.format = payload[body : body+size]
		case "data":
			chunks.data = payload[body : body+size]
		}
		offset = body + size
		if size%2 == 1 {
			offset++
		}
	}
	if chunks.format == nil || chunks.data == nil {
		return wavChunks{}, fmt.Errorf("missing fmt or data chunk")
	}
	return chunks, nil
}

// ConcatWAV joins clips from the same engine into one continuous WAV. All
// inputs must share the same sample format.
func ConcatWAV(payloads [][]byte) ([]byte, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("no audio clips to join")
	}
	first, err := parseWAV(payloads[0])
	if err != nil {
		return nil, err
	}
	var data bytes.Buffer
	data.Write(first.data)
	for i, payload := range payloads[1:] {
		chunks, err := parseWAV(payload)
		if err != nil {
			return nil, fmt.Errorf("clip %d: %w", i+1, err)
		}
		if !bytes.Equal(chunks.format, first.format) {
			return nil, fmt.Errorf("clip %d: sample format differs", i+1)
		}
		data.Write(chunks.data)
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	total := 4 + (8 + len(first.format)) + (8 + data.Len())
	binary.Write(&out, binary.LittleEndian, uint32(total))
	out.WriteString("WAVE")
	out.WriteString("fmt ")
	binary.Write(&out, binary.LittleEndian, uint32(len(first.format)))
	out.Write(first.format)
	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(data.Len()))
	out.Write(data.Bytes())
	return out.Bytes(), nil
}
