package world

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	diskOpDelete byte = 0
	diskOpSet    byte = 1

	diskHeaderSize = 9
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// DiskStorageProvider persists each chunk as an append-only record log of
// zstd-compressed columns beneath basePath.
type DiskStorageProvider struct {
	basePath   string
	syncWrites bool
	logger     *zap.Logger
}

func NewDiskStorageProvider(basePath string, syncWrites bool, logger *zap.Logger) *DiskStorageProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskStorageProvider{
		basePath:   basePath,
		syncWrites: syncWrites,
		logger:     logger.Named("storage"),
	}
}

func (p *DiskStorageProvider) NewStorage(key ChunkCoord, dim Dimensions) (BlockStorage, error) {
	path := p.chunkPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create chunk directory: %w", err)
	}
	return newDiskBlockStorage(path, p.syncWrites, p.logger)
}

func (p *DiskStorageProvider) chunkPath(key ChunkCoord) string {
	return filepath.Join(p.basePath, fmt.Sprintf("x%d", key.X), fmt.Sprintf("c.%d.%d.zcol", key.X, key.Z))
}

type diskRecordMeta struct {
	offset int64
	size   uint32
}

type diskBlockStorage struct {
	file       *os.File
	syncWrites bool
	logger     *zap.Logger

	mu      sync.RWMutex
	records map[int]diskRecordMeta
}

func newDiskBlockStorage(path string, syncWrites bool, logger *zap.Logger) (*diskBlockStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open chunk file: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	storage := &diskBlockStorage{
		file:       f,
		syncWrites: syncWrites,
		logger:     logger,
		records:    make(map[int]diskRecordMeta),
	}
	if err := storage.loadIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return storage, nil
}

func (s *diskBlockStorage) loadIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind chunk file: %w", err)
	}

	header := make([]byte, diskHeaderSize)
	var offset int64
	for {
		if _, err := io.ReadFull(s.file, header); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("truncated chunk header: %w", err)
			}
			return fmt.Errorf("read chunk header: %w", err)
		}
		op := header[0]
		index := int(binary.LittleEndian.Uint32(header[1:5]))
		size := binary.LittleEndian.Uint32(header[5:9])
		recordOffset := offset
		offset += diskHeaderSize + int64(size)

		if _, err := s.file.Seek(int64(size), io.SeekCurrent); err != nil {
			return fmt.Errorf("seek past payload: %w", err)
		}
		if op == diskOpSet {
			s.records[index] = diskRecordMeta{offset: recordOffset, size: size}
		} else {
			delete(s.records, index)
		}
	}
	return nil
}

func encodeColumnPayload(blocks []Block) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(blocks); err != nil {
		return nil, fmt.Errorf("encode column: %w", err)
	}
	return zstdEncoder.EncodeAll(raw.Bytes(), nil), nil
}

func decodeColumnPayload(payload []byte) ([]Block, error) {
	raw, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress column: %w", err)
	}
	var blocks []Block
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&blocks); err != nil {
		return nil, fmt.Errorf("decode column: %w", err)
	}
	return blocks, nil
}

func (s *diskBlockStorage) LoadColumn(index int) ([]Block, bool, error) {
	s.mu.RLock()
	meta, ok := s.records[index]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	payload := make([]byte, meta.size)
	if _, err := s.file.ReadAt(payload, meta.offset+diskHeaderSize); err != nil {
		return nil, false, fmt.Errorf("read payload at %d: %w", meta.offset, err)
	}
	blocks, err := decodeColumnPayload(payload)
	if err != nil {
		return nil, false, err
	}
	return blocks, true, nil
}

func (s *diskBlockStorage) appendRecord(op byte, index int, payload []byte) (int64, error) {
	header := make([]byte, diskHeaderSize)
	header[0] = op
	binary.LittleEndian.PutUint32(header[1:5], uint32(index))
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(payload)))

	offset, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek chunk end: %w", err)
	}
	if _, err := s.file.Write(append(header, payload...)); err != nil {
		return 0, fmt.Errorf("write record: %w", err)
	}
	if s.syncWrites {
		if err := s.file.Sync(); err != nil {
			return 0, fmt.Errorf("sync chunk file: %w", err)
		}
	}
	return offset, nil
}

func (s *diskBlockStorage) SaveColumn(index int, blocks []Block) error {
	payload, err := encodeColumnPayload(blocks)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	offset, err := s.appendRecord(diskOpSet, index, payload)
	if err != nil {
		return err
	}
	s.records[index] = diskRecordMeta{offset: offset, size: uint32(len(payload))}
	return nil
}

func (s *diskBlockStorage) Delete(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[index]; !ok {
		return nil
	}
	if _, err := s.appendRecord(diskOpDelete, index, nil); err != nil {
		return err
	}
	delete(s.records, index)
	return nil
}

func (s *diskBlockStorage) ForEach(fn func(index int, blocks []Block) bool) error {
	s.mu.RLock()
	indexes := make([]int, 0, len(s.records))
	for idx := range s.records {
		indexes = append(indexes, idx)
	}
	s.mu.RUnlock()

	slices.Sort(indexes)
	for _, idx := range indexes {
		blocks, ok, err := s.LoadColumn(idx)
		if err != nil {
			s.logger.Warn("skip unreadable column", zap.Int("index", idx), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if !fn(idx, blocks) {
			break
		}
	}
	return nil
}

func (s *diskBlockStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
