// Package storage keeps finished assets on disk, addressed by the sha256 of
// their bytes, with a JSON metadata sidecar per asset.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/disk"

	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// AssetMetadata describes a stored asset.
type AssetMetadata struct {
	Hash         string        `json:"hash"`
	SessionID    string        `json:"session_id"`
	Filename     string        `json:"filename"`
	Format       types.Format  `json:"format"`
	Size         int64         `json:"size"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Duration     time.Duration `json:"duration"`
	FrameCount   int           `json:"frame_count"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	AccessCount  int64         `json:"access_count"`
}

// FreeSpaceFunc reports the free bytes on the volume holding path.
type FreeSpaceFunc func(ctx context.Context, path string) (uint64, error)

// DiskFree reads free space through gopsutil.
func DiskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Config configures the content store.
type Config struct {
	BaseDir string
	// MinFreeBytes is the free-space floor; writes that would cross it are
	// refused. Zero disables the check.
	MinFreeBytes uint64
	// RetainFor is how long an unreferenced asset survives its last access.
	RetainFor time.Duration
	FreeSpace FreeSpaceFunc
	Now       func() time.Time
}

// ContentStore is the sha256-addressed asset store.
type ContentStore struct {
	contentDir  string
	metadataDir string
	config      Config
	logger      hclog.Logger
	mu          sync.RWMutex
}

// NewContentStore creates the store layout under config.BaseDir.
func NewContentStore(config Config, logger hclog.Logger) (*ContentStore, error) {
	if config.BaseDir == "" {
		return nil, fmt.Errorf("content store base directory is required")
	}
	if config.FreeSpace == nil {
		config.FreeSpace = DiskFree
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	cs := &ContentStore{
		contentDir:  filepath.Join(config.BaseDir, "content"),
		metadataDir: filepath.Join(config.BaseDir, "metadata"),
		config:      config,
		logger:      logger.Named("content-store"),
	}
	for _, dir := range []string{cs.contentDir, cs.metadataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return cs, nil
}

// HashBytes returns the content address of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidHash reports whether hash is a well-formed content address.
func ValidHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil && strings.ToLower(hash) == hash
}

// Put stores asset and sets asset.ContentHash. Storing identical bytes twice
// keeps one copy.
func (cs *ContentStore) Put(ctx context.Context, sessionID string, asset *types.OutputAsset) (*AssetMetadata, error) {
	if asset == nil || len(asset.Data) == 0 {
		return nil, rerrors.InternalError("store_asset", fmt.Errorf("empty asset"))
	}
	hash := HashBytes(asset.Data)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	contentPath := cs.contentPath(hash, asset.Format.Extension)
	if meta, err := cs.loadMetadata(hash); err == nil {
		if _, statErr := os.Stat(cs.contentPath(hash, meta.Format.Extension)); statErr == nil {
			asset.ContentHash = hash
			cs.logger.Debug("asset already stored", "hash", hash, "session_id", sessionID)
			return meta, nil
		}
	}

	if err := cs.checkFreeSpace(ctx, uint64(len(asset.Data))); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(contentPath), 0755); err != nil {
		return nil, rerrors.InternalError("store_asset", fmt.Errorf("failed to create content directory: %w", err))
	}
	if err := writeAtomic(contentPath, asset.Data); err != nil {
		return nil, rerrors.InternalError("store_asset", err)
	}

	now := cs.config.Now()
	meta := &AssetMetadata{
		Hash:         hash,
		SessionID:    sessionID,
		Filename:     asset.Filename,
		Format:       asset.Format,
		Size:         int64(len(asset.Data)),
		Width:        asset.Width,
		Height:       asset.Height,
		Duration:     asset.Duration,
		FrameCount:   asset.FrameCount,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := cs.saveMetadata(meta); err != nil {
		os.Remove(contentPath)
		return nil, rerrors.InternalError("store_asset", err)
	}

	asset.ContentHash = hash
	cs.logger.Info("stored asset",
		"hash", hash,
		"size", meta.Size,
		"filename", meta.Filename,
		"session_id", sessionID,
	)
	return meta, nil
}

func (cs *ContentStore) checkFreeSpace(ctx context.Context, need uint64) error {
	if cs.config.MinFreeBytes == 0 {
		return nil
	}
	free, err := cs.config.FreeSpace(ctx, cs.contentDir)
	if err != nil {
		// an unreadable volume is not a reason to lose a finished render
		cs.logger.Warn("failed to read free disk space", "dir", cs.contentDir, "error", err)
		return nil
	}
	if free < need || free-need < cs.config.MinFreeBytes {
		return rerrors.InternalError("store_asset", rerrors.ErrInsufficientSpace).
			WithDetail("free_bytes", free).
			WithDetail("need_bytes", need).
			WithDetail("min_free_bytes", cs.config.MinFreeBytes)
	}
	return nil
}

// Get returns the metadata and path of an asset and counts the access.
func (cs *ContentStore) Get(hash string) (*AssetMetadata, string, error) {
	if !ValidHash(hash) {
		return nil, "", rerrors.NotFoundError("get_asset", rerrors.ErrAssetNotFound).WithDetail("hash", hash)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	meta, err := cs.loadMetadata(hash)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", rerrors.NotFoundError("get_asset", rerrors.ErrAssetNotFound).WithDetail("hash", hash)
		}
		return nil, "", rerrors.InternalError("get_asset", err)
	}
	path := cs.contentPath(hash, meta.Format.Extension)
	if _, err := os.Stat(path); err != nil {
		return nil, "", rerrors.NotFoundError("get_asset", fmt.Errorf("%w: content files missing", rerrors.ErrAssetNotFound)).
			WithDetail("hash", hash)
	}

	meta.LastAccessed = cs.config.Now()
	meta.AccessCount++
	if err := cs.saveMetadata(meta); err != nil {
		cs.logger.Warn("failed to update access time", "hash", hash, "error", err)
	}
	return meta, path, nil
}

// Open returns a reader for the asset bytes.
func (cs *ContentStore) Open(hash string) (*os.File, *AssetMetadata, error) {
	meta, path, err := cs.Get(hash)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, rerrors.InternalError("open_asset", err)
	}
	return f, meta, nil
}

// Exists reports whether the asset is stored.
func (cs *ContentStore) Exists(hash string) bool {
	if !ValidHash(hash) {
		return false
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	meta, err := cs.loadMetadata(hash)
	if err != nil {
		return false
	}
	_, err = os.Stat(cs.contentPath(hash, meta.Format.Extension))
	return err == nil
}

// Delete removes an asset and its metadata.
func (cs *ContentStore) Delete(hash string) error {
	if !ValidHash(hash) {
		return rerrors.NotFoundError("delete_asset", rerrors.ErrAssetNotFound).WithDetail("hash", hash)
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.deleteLocked(hash)
}

// Discard deletes an asset only if sessionID stored it first. A deduplicated
// copy owned by another session is left alone.
func (cs *ContentStore) Discard(hash, sessionID string) error {
	if !ValidHash(hash) {
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	meta, err := cs.loadMetadata(hash)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return rerrors.InternalError("discard_asset", err)
	}
	if meta.SessionID != sessionID {
		return nil
	}
	return cs.deleteLocked(hash)
}

func (cs *ContentStore) deleteLocked(hash string) error {
	meta, err := cs.loadMetadata(hash)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rerrors.NotFoundError("delete_asset", rerrors.ErrAssetNotFound).WithDetail("hash", hash)
		}
		return rerrors.InternalError("delete_asset", err)
	}
	if err := os.Remove(cs.contentPath(hash, meta.Format.Extension)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return rerrors.InternalError("delete_asset", fmt.Errorf("failed to remove content: %w", err))
	}
	if err := os.Remove(cs.metadataPath(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		cs.logger.Warn("failed to delete metadata", "hash", hash, "error", err)
	}
	cs.logger.Info("deleted asset", "hash", hash)
	return nil
}

// List returns every stored asset, newest first.
func (cs *ContentStore) List() ([]AssetMetadata, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.listLocked()
}

func (cs *ContentStore) listLocked() ([]AssetMetadata, error) {
	entries, err := os.ReadDir(cs.metadataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata directory: %w", err)
	}

	var all []AssetMetadata
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		meta, err := cs.loadMetadata(strings.TrimSuffix(name, ".json"))
		if err != nil {
			cs.logger.Warn("skipping unreadable metadata", "file", name, "error", err)
			continue
		}
		all = append(all, *meta)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}

// Purge deletes assets not accessed within RetainFor, except those named in
// keep. It returns the number removed.
func (cs *ContentStore) Purge(keep []string) (int, error) {
	if cs.config.RetainFor <= 0 {
		return 0, nil
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, h := range keep {
		keepSet[h] = struct{}{}
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	all, err := cs.listLocked()
	if err != nil {
		return 0, err
	}
	cutoff := cs.config.Now().Add(-cs.config.RetainFor)
	removed := 0
	for _, meta := range all {
		if _, ok := keepSet[meta.Hash]; ok {
			continue
		}
		if meta.LastAccessed.After(cutoff) {
			continue
		}
		if err := cs.deleteLocked(meta.Hash); err != nil {
			cs.logger.Warn("failed to purge asset", "hash", meta.Hash, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		cs.logger.Info("purged expired assets", "count", removed)
	}
	return removed, nil
}

// contentPath shards by the first two hash characters.
func (cs *ContentStore) contentPath(hash, ext string) string {
	if ext == "" {
		ext = ".bin"
	}
	return filepath.Join(cs.contentDir, hash[:2], hash+ext)
}

func (cs *ContentStore) metadataPath(hash string) string {
	return filepath.Join(cs.metadataDir, hash+".json")
}

func (cs *ContentStore) loadMetadata(hash string) (*AssetMetadata, error) {
	data, err := os.ReadFile(cs.metadataPath(hash))
	if err != nil {
		return nil, err
	}
	var meta AssetMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", hash, err)
	}
	return &meta, nil
}

func (cs *ContentStore) saveMetadata(meta *AssetMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return writeAtomic(cs.metadataPath(meta.Hash), data)
}

// writeAtomic writes through a temp file in the target directory.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
