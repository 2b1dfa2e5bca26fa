package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/andybalholm/brotli"
)

// EncodeCompressedJSON marshals v and brotli compresses the result
func EncodeCompressedJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish brotli stream: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCompressedJSON reverses EncodeCompressedJSON
func DecodeCompressedJSON(data []byte, v any) error {
	raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return fmt.Errorf("failed to decompress: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode json: %w", err)
	}
	return nil
}

// WriteCompressedJSON atomically writes v as brotli compressed JSON
func WriteCompressedJSON(path string, v any) error {
	data, err := EncodeCompressedJSON(v)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0644)
}

// ReadCompressedJSON loads a file written by WriteCompressedJSON
func ReadCompressedJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := DecodeCompressedJSON(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
