package dump

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v2"
)

// Format is an output format.
type Format uint8

const (
	FormatText Format = iota
	FormatYAML
	FormatCBOR
)

var formatNames = map[Format]string{
	FormatText: "text",
	FormatYAML: "yaml",
	FormatCBOR: "cbor",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// ParseFormat parses the name of a format.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if strings.EqualFold(s, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown format %q, must be one of text, yaml, cbor", s)
}

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dump: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Options control Write.
type Options struct {
	Format Format
	// Compress wraps the output in a zstd stream.
	Compress bool
	// Color enables ANSI colors in text output.
	Color bool
}

// Write writes s to w.
func Write(w io.Writer, s *Snapshot, opts Options) (err error) {
	if opts.Compress {
		zw, zerr := zstd.NewWriter(w)
		if zerr != nil {
			return zerr
		}
		defer func() {
			if cerr := zw.Close(); err == nil {
				err = cerr
			}
		}()
		w = zw
	}
	switch opts.Format {
	case FormatText:
		bw := bufio.NewWriter(w)
		if err := Text(bw, s, opts.Color); err != nil {
			return err
		}
		return bw.Flush()
	case FormatYAML:
		out, err := yaml.Marshal(s)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case FormatCBOR:
		return cborEncMode.NewEncoder(w).Encode(s)
	}
	return fmt.Errorf("can not write format %v", opts.Format)
}

// Read reads a snapshot written by Write in YAML or CBOR format. The
// format and compression are detected from the contents.
func Read(r io.Reader) (*Snapshot, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("dump: decompress: %w", err)
		}
	}
	var s Snapshot
	// A CBOR snapshot is a map, major type 5.
	if len(data) > 0 && data[0]>>5 == 5 {
		if err := cbor.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("dump: unmarshal cbor: %w", err)
		}
		return &s, nil
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("dump: unmarshal yaml: %w", err)
	}
	return &s, nil
}
