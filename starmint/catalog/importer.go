package catalog

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/database/repositories"
	"github.com/starmint/starmint/starmint/economy/scoring"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	minDocumentSize = 5
	maxDocumentSize = 16 * 1024 * 1024
	progressEvery   = 1000
)

// ErrMalformedDocument marks a single unusable document in a dump. The
// importer skips such documents and keeps going.
var ErrMalformedDocument = errors.New("malformed catalog document")

// ImportSummary reports one import run.
type ImportSummary struct {
	Read     int           `json:"read"`
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Batches  int           `json:"batches"`
	System   string        `json:"system"`
	Took     time.Duration `json:"took"`
}

// Importer loads a BSON dump of the catalog (a stream of length-prefixed
// documents, as written by mongodump), scores every entry and upserts it.
type Importer struct {
	collectibles repositories.CollectibleRepository
	txManager    *utils.TransactionManager
	scorer       *scoring.Engine
	prices       PriceCache
	batchSize    int
}

func NewImporter(
	collectibles repositories.CollectibleRepository,
	txManager *utils.TransactionManager,
	scorer *scoring.Engine,
	prices PriceCache,
	batchSize int,
) *Importer {
	if batchSize <= 0 {
		batchSize = utils.PriceBatchSize
	}
	return &Importer{
		collectibles: collectibles,
		txManager:    txManager,
		scorer:       scorer,
		prices:       prices,
		batchSize:    batchSize,
	}
}

func (im *Importer) ImportFile(ctx context.Context, path string) (*ImportSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open BSON file %s: %w", path, err)
	}
	defer file.Close()

	slog.Info("Importing catalog",
		slog.String("type", "sys"),
		slog.String("component", "catalog"),
		slog.String("path", path))
	return im.Import(ctx, file)
}

// Import reads documents until EOF. Documents that do not decode or lack an
// id or name are skipped; a truncated stream fails the import, but batches
// already written stay committed.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*ImportSummary, error) {
	start := time.Now()
	summary := &ImportSummary{System: im.scorer.System().ID()}
	batch := make([]*models.Collectible, 0, im.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.upsert(ctx, batch); err != nil {
			return err
		}
		summary.Imported += len(batch)
		summary.Batches++
		batch = batch[:0]
		return nil
	}

	err := readDocuments(r, func(doc []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary.Read++

		c, err := im.decode(doc)
		if err != nil {
			summary.Skipped++
			slog.Warn("Skipping catalog document",
				slog.String("type", "sys"),
				slog.String("component", "catalog"),
				slog.Int("document", summary.Read),
				slog.String("error", err.Error()))
			return nil
		}
		batch = append(batch, c)

		if summary.Read%progressEvery == 0 {
			slog.Info("Catalog import progress",
				slog.String("type", "sys"),
				slog.String("component", "catalog"),
				slog.Int("read", summary.Read))
		}
		if len(batch) >= im.batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	summary.Took = time.Since(start)

	if summary.Imported > 0 && im.prices != nil {
		im.prices.InvalidateCache()
	}
	if err != nil {
		return summary, err
	}

	slog.Info("Catalog imported",
		slog.String("type", "sys"),
		slog.String("component", "catalog"),
		slog.String("system", summary.System),
		slog.Int("imported", summary.Imported),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("took", summary.Took))
	return summary, nil
}

func (im *Importer) upsert(ctx context.Context, batch []*models.Collectible) error {
	return im.txManager.WithTransaction(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, c := range batch {
			if err := im.collectibles.Upsert(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (im *Importer) decode(doc []byte) (*models.Collectible, error) {
	var raw bson.M
	if err := bson.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	id, ok := toInt64(raw["_id"])
	if !ok || id <= 0 {
		return nil, fmt.Errorf("%w: missing or non-numeric _id", ErrMalformedDocument)
	}
	name, _ := raw["name"].(string)
	if name = strings.TrimSpace(name); name == "" {
		return nil, fmt.Errorf("%w: collectible %d has no name", ErrMalformedDocument, id)
	}
	category, _ := raw["category"].(string)

	var attributes map[string]any
	if nested, ok := asMap(raw["attributes"]); ok {
		attributes = nested
	} else {
		attributes = make(map[string]any, len(raw))
		for k, v := range raw {
			switch k {
			case "_id", "name", "category", "attributes":
				continue
			}
			attributes[k] = plain(v)
		}
	}

	score := im.scorer.Score(attributes, category).Total
	return &models.Collectible{
		ID:         id,
		Name:       name,
		Category:   strings.ToLower(strings.TrimSpace(category)),
		Attributes: attributes,
		Score:      &score,
	}, nil
}

// readDocuments splits a BSON stream into whole documents, each handed to fn
// with its length prefix intact.
func readDocuments(r io.Reader, fn func([]byte) error) error {
	reader := bufio.NewReader(r)
	var offset int64

	for {
		lengthBytes := make([]byte, 4)
		n, err := io.ReadFull(reader, lengthBytes)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read document length at byte %d: %w", offset, err)
		}
		offset += int64(n)

		length := int32(binary.LittleEndian.Uint32(lengthBytes))
		if length < minDocumentSize || length > maxDocumentSize {
			return fmt.Errorf("invalid document length %d at byte %d", length, offset-4)
		}

		doc := make([]byte, length)
		copy(doc, lengthBytes)
		n, err = io.ReadFull(reader, doc[4:])
		if err != nil {
			return fmt.Errorf("failed to read document at byte %d: %w", offset, err)
		}
		offset += int64(n)

		if err := fn(doc); err != nil {
			return err
		}
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case bson.M:
		return plain(m).(map[string]any), true
	case map[string]any:
		return plain(m).(map[string]any), true
	case bson.D:
		return plain(m).(map[string]any), true
	}
	return nil, false
}

// plain converts decoded BSON values into types that encode cleanly as JSON.
func plain(v any) any {
	switch t := v.(type) {
	case bson.M:
		return plain(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = plain(val)
		}
		return out
	case int32:
		return int64(t)
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Decimal128:
		return t.String()
	case primitive.ObjectID:
		return t.Hex()
	}
	return v
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
