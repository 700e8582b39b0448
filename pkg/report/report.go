package report

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// maxDecoded bounds a decompressed snapshot
const maxDecoded = 16 << 20

// ModuleSnapshot records one module's outcome
type ModuleSnapshot struct {
	Name     string        `cbor:"name"`
	Kind     string        `cbor:"kind"`
	Variant  string        `cbor:"variant"`
	Changed  bool          `cbor:"changed"`
	Steps    []string      `cbor:"steps,omitempty"`
	Duration time.Duration `cbor:"duration"`
	Error    string        `cbor:"error,omitempty"`
}

// HostFacts describes the machine the snapshot was taken on
type HostFacts struct {
	Kernel         string `cbor:"kernel"`
	Machine        string `cbor:"machine"`
	PackageManager string `cbor:"package_manager,omitempty"`
}

// Snapshot is the diagnostic content carried by a deployment report
type Snapshot struct {
	ID        string           `cbor:"id"`
	Hostname  string           `cbor:"hostname"`
	Role      string           `cbor:"role"`
	Revision  string           `cbor:"revision,omitempty"`
	Changed   bool             `cbor:"changed"`
	Started   time.Time        `cbor:"started"`
	Finished  time.Time        `cbor:"finished"`
	Modules   []ModuleSnapshot `cbor:"modules,omitempty"`
	ErrorKind string           `cbor:"error_kind,omitempty"`
	Error     string           `cbor:"error,omitempty"`
	Host      HostFacts        `cbor:"host"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	// Reused across calls; both are safe for concurrent EncodeAll/DecodeAll
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("report: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("report: CBOR decoder initialization failed: " + err.Error())
	}

	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("report: zstd encoder initialization failed: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded))
	if err != nil {
		panic("report: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes a snapshot as base64(zstd(cbor))
func Encode(s *Snapshot) (string, error) {
	raw, err := encMode.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	compressed := encoder.EncodeAll(raw, make([]byte, 0, len(raw)))
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// Decode reverses Encode
func Decode(content string) (*Snapshot, error) {
	compressed, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot encoding: %w", err)
	}
	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot compression: %w", err)
	}
	var s Snapshot
	if err := decMode.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid snapshot payload: %w", err)
	}
	return &s, nil
}
