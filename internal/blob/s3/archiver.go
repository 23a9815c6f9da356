package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 16 * 1024 * 1024

// SessionArchiver implements domain.SessionArchiver. At the end of a run it
// reads the session's decisions and orders from the primary store and
// uploads them as JSONL next to a summary document:
//
//	sessions/2026-03-01/{sessionID}/decisions.jsonl
//	sessions/2026-03-01/{sessionID}/orders.jsonl
//	sessions/2026-03-01/{sessionID}/summary.json
//
// Records are never deleted from the primary store.
type SessionArchiver struct {
	writer    domain.BlobWriter
	decisions domain.DecisionStore
	orders    domain.OrderStore
	mode      string
}

// NewSessionArchiver creates an archiver for records written in mode.
func NewSessionArchiver(writer domain.BlobWriter, decisions domain.DecisionStore, orders domain.OrderStore, mode string) *SessionArchiver {
	return &SessionArchiver{writer: writer, decisions: decisions, orders: orders, mode: mode}
}

// ArchiveSession uploads everything recorded since the session start and
// returns the object paths written. Empty record sets are skipped; the
// summary is always written.
func (a *SessionArchiver) ArchiveSession(ctx context.Context, sessionID string, since time.Time, summary any) ([]string, error) {
	prefix := SessionPrefix(since, sessionID)
	opts := domain.ListOpts{Mode: a.mode, Since: &since}

	decisions, err := a.decisions.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive decisions query: %w", err)
	}
	orders, err := a.orders.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive orders query: %w", err)
	}

	var written []string
	if len(decisions) > 0 {
		p, err := uploadJSONL(ctx, a.writer, path.Join(prefix, "decisions.jsonl"), decisions)
		if err != nil {
			return written, err
		}
		written = append(written, p)
	}
	if len(orders) > 0 {
		p, err := uploadJSONL(ctx, a.writer, path.Join(prefix, "orders.jsonl"), orders)
		if err != nil {
			return written, err
		}
		written = append(written, p)
	}

	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return written, fmt.Errorf("s3blob: archive summary marshal: %w", err)
	}
	summaryPath := path.Join(prefix, "summary.json")
	if err := a.writer.Put(ctx, summaryPath, bytes.NewReader(body), "application/json"); err != nil {
		return written, fmt.Errorf("s3blob: archive summary upload: %w", err)
	}
	return append(written, summaryPath), nil
}

func uploadJSONL[T any](ctx context.Context, w domain.BlobWriter, p string, records []T) (string, error) {
	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s marshal: %w", p, err)
	}
	if len(buf) >= multipartThreshold {
		err = w.PutMultipart(ctx, p, bytes.NewReader(buf), minPartSize)
	} else {
		err = w.Put(ctx, p, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s upload: %w", p, err)
	}
	return p, nil
}

// SessionPrefix is the object prefix for one session, partitioned by the
// UTC day it started.
func SessionPrefix(start time.Time, sessionID string) string {
	return path.Join("sessions", start.UTC().Format("2006-01-02"), sessionID)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.SessionArchiver = (*SessionArchiver)(nil)
