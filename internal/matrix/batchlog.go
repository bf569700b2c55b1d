package matrix

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"

	"github.com/watershedlabs/leaksense/internal/domain"
)

// BatchLog is an append-only recovery log of the sensitivity-entry
// batches a build has flushed to the repository. Each record is
// snappy-compressed before it hits disk, the same framing the teacher
// uses for its own append log: a length-prefixed, CRC32-checksummed
// payload written through a buffered writer.
type BatchLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer

	writes            int64
	bytesUncompressed int64
	bytesCompressed   int64
}

// NewBatchLog opens (creating dir and the file if necessary) the batch
// log for a network.
func NewBatchLog(dir, networkID string) (*BatchLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("batchlog: create dir: %w", err)
	}
	path := filepath.Join(dir, networkID+".batchlog")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("batchlog: open %s: %w", path, err)
	}
	return &BatchLog{file: f, writer: bufio.NewWriter(f)}, nil
}

// Append snappy-compresses a flushed batch and writes one frame:
// [DataLen:4][Data:N][Checksum:4]. The checksum covers the compressed
// bytes, matching the teacher's compressed WAL.
func (b *BatchLog) Append(entries []domain.SensitivityEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("batchlog: marshal batch: %w", err)
	}
	compressed := snappy.Encode(nil, raw)
	checksum := crc32.ChecksumIEEE(compressed)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := binary.Write(b.writer, binary.BigEndian, uint32(len(compressed))); err != nil {
		return fmt.Errorf("batchlog: write length: %w", err)
	}
	if _, err := b.writer.Write(compressed); err != nil {
		return fmt.Errorf("batchlog: write data: %w", err)
	}
	if err := binary.Write(b.writer, binary.BigEndian, checksum); err != nil {
		return fmt.Errorf("batchlog: write checksum: %w", err)
	}
	if err := b.writer.Flush(); err != nil {
		return fmt.Errorf("batchlog: flush: %w", err)
	}

	b.writes++
	b.bytesUncompressed += int64(len(raw))
	b.bytesCompressed += int64(len(compressed))
	return nil
}

// Close flushes and closes the underlying file.
func (b *BatchLog) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writer.Flush(); err != nil {
		b.file.Close()
		return fmt.Errorf("batchlog: flush on close: %w", err)
	}
	return b.file.Close()
}

// BatchLogStats reports compression effectiveness for a log.
type BatchLogStats struct {
	Writes            int64
	BytesUncompressed int64
	BytesCompressed   int64
}

// Statistics returns a snapshot of this log's write counters.
func (b *BatchLog) Statistics() BatchLogStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BatchLogStats{Writes: b.writes, BytesUncompressed: b.bytesUncompressed, BytesCompressed: b.bytesCompressed}
}

// ReadBatchLog decompresses and verifies every frame in path, returning
// the decoded batches in append order. Recovery tooling uses this to
// inspect what a build persisted without re-querying the repository.
func ReadBatchLog(path string) ([][]domain.SensitivityEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("batchlog: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var batches [][]domain.SensitivityEntry
	for {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("batchlog: read length: %w", err)
		}

		compressed := make([]byte, length)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return nil, fmt.Errorf("batchlog: read data: %w", err)
		}

		var checksum uint32
		if err := binary.Read(r, binary.BigEndian, &checksum); err != nil {
			return nil, fmt.Errorf("batchlog: read checksum: %w", err)
		}
		if crc32.ChecksumIEEE(compressed) != checksum {
			return nil, fmt.Errorf("batchlog: checksum mismatch")
		}

		raw, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("batchlog: decompress: %w", err)
		}
		var entries []domain.SensitivityEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("batchlog: unmarshal batch: %w", err)
		}
		batches = append(batches, entries)
	}
	return batches, nil
}
