package worker

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize guards against a corrupt length prefix (64 MiB covers a 4K RGB frame).
const maxMessageSize = 64 << 20

// request is one frame sent to the worker.
type request struct {
	Seq        uint64  `msgpack:"seq"`
	FrameData  []byte  `msgpack:"frame_data"` // packed RGB, no base64
	Width      int     `msgpack:"width"`
	Height     int     `msgpack:"height"`
	Confidence float64 `msgpack:"confidence"`
	ImageSize  int     `msgpack:"imgsz"`
}

type wireDetection struct {
	Class      string  `msgpack:"class"`
	Confidence float64 `msgpack:"confidence"`
	X1         float64 `msgpack:"x1"`
	Y1         float64 `msgpack:"y1"`
	X2         float64 `msgpack:"x2"`
	Y2         float64 `msgpack:"y2"`
}

// response is the worker's answer for one request.
type response struct {
	Seq        uint64          `msgpack:"seq"`
	Detections []wireDetection `msgpack:"detections"`
	Annotated  []byte          `msgpack:"annotated,omitempty"` // packed RGB, same size as the input
	Error      string          `msgpack:"error,omitempty"`
}

// writeMessage writes v as a 4-byte big-endian length prefix followed by msgpack data.
func writeMessage(w io.Writer, v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal msgpack: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write msgpack data: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read msgpack data: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal msgpack: %w", err)
	}
	return nil
}
