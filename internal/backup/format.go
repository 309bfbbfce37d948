package backup

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvandessel/popgate/internal/models"
)

// File format versions. V1 is the plain JSON produced by ExportState; V2 is
// a header line followed by a gzip-compressed snapshot.
const (
	FormatV1 = 1
	FormatV2 = 2
)

// MaxDecompressedSize bounds the decompressed snapshot payload (64MB).
const MaxDecompressedSize = 64 * 1024 * 1024

// Header is the plain-text first line of a V2 snapshot file.
type Header struct {
	Format          int       `json:"format"`
	SnapshotID      string    `json:"snapshot_id"`
	SnapshotVersion int       `json:"snapshot_version"`
	CreatedAt       time.Time `json:"created_at"`
	Checksum        string    `json:"checksum"`
	RuleCount       int       `json:"rule_count"`
	PreferenceCount int       `json:"preference_count"`
	BlockerCount    int       `json:"blocker_count"`
	Compressed      bool      `json:"compressed"`
}

// DetectFormat reads the first line of a file to determine V1 vs V2.
func DetectFormat(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("reading first line: %w", err)
	}
	first := strings.TrimSpace(string(line))
	if first == "" {
		return 0, fmt.Errorf("file is empty")
	}

	var h Header
	if json.Unmarshal([]byte(first), &h) == nil && h.Format == FormatV2 {
		return FormatV2, nil
	}
	if first[0] == '{' {
		return FormatV1, nil
	}
	return 0, fmt.Errorf("unrecognized snapshot format")
}

// Write stores snap at path as a V2 file: header line + gzip payload.
func Write(path string, snap *models.Snapshot) (*Header, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is nil")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	header := &Header{
		Format:          FormatV2,
		SnapshotID:      snap.ID,
		SnapshotVersion: snap.Version,
		CreatedAt:       snap.ExportedAt.UTC(),
		Checksum:        checksum(compressed.Bytes()),
		RuleCount:       len(snap.Rules),
		PreferenceCount: len(snap.Preferences),
		BlockerCount:    len(snap.Blockers),
		Compressed:      true,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves a torn snapshot.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	w := bufio.NewWriter(f)
	w.Write(headerBytes)
	w.WriteByte('\n')
	w.Write(compressed.Bytes())
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("renaming snapshot: %w", err)
	}
	return header, nil
}

// Read loads a snapshot file in either format. V2 checksums are verified.
func Read(path string) (*models.Snapshot, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch format {
	case FormatV1:
		payload, err = readLimited(path)
	default:
		payload, err = readV2Payload(path)
	}
	if err != nil {
		return nil, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return &snap, nil
}

// ReadHeader reads only the header line of a V2 file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}

// VerifyChecksum checks the integrity of a V2 file without decompressing it.
func VerifyChecksum(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header, err := readHeader(r)
	if err != nil {
		return err
	}
	compressed, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	if got := checksum(compressed); got != header.Checksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", header.Checksum, got)
	}
	return nil
}

func readV2Payload(path string) ([]byte, error) {
	if err := VerifyChecksum(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if _, err := readHeader(r); err != nil {
		return nil, err
	}
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()
	return limitedReadAll(gzr)
}

func readHeader(r *bufio.Reader) (*Header, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	var h Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if h.Format != FormatV2 {
		return nil, fmt.Errorf("expected V2 format, got %d", h.Format)
	}
	return &h, nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return limitedReadAll(f)
}

func limitedReadAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot payload: %w", err)
	}
	if int64(len(data)) > MaxDecompressedSize {
		return nil, fmt.Errorf("snapshot payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}
	return data, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
