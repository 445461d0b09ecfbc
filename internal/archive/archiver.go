// Package archive exports settled rounds to object storage as monthly JSONL
// files of settlement results.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/observability"
)

// multipartThreshold switches uploads to the multipart uploader.
const multipartThreshold = 8 << 20

// ResultSource rebuilds the settlement result of a settled round.
type ResultSource interface {
	Result(ctx context.Context, roundID string) (domain.SettlementResult, error)
}

// Archiver implements domain.Archiver. Only whole calendar months (UTC) are
// exported, and a month whose file already exists is skipped, so runs are
// idempotent. Rows are never deleted from the primary store here.
type Archiver struct {
	rounds  domain.RoundStore
	results ResultSource
	writer  domain.BlobWriter
	reader  domain.BlobReader
	audit   domain.AuditStore
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates an Archiver.
func New(
	rounds domain.RoundStore,
	results ResultSource,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		rounds:  rounds,
		results: results,
		writer:  writer,
		reader:  reader,
		audit:   audit,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveRounds exports every complete month settled before the cutoff and
// returns the number of rounds written.
func (a *Archiver) ArchiveRounds(ctx context.Context, before time.Time) (int64, error) {
	boundary := monthStart(before)
	rounds, err := a.rounds.ListSettledBefore(ctx, boundary)
	if err != nil {
		return 0, fmt.Errorf("archive: list settled before %s: %w", boundary.Format(time.DateOnly), err)
	}

	var months []time.Time
	byMonth := make(map[time.Time][]domain.Round)
	for _, r := range rounds {
		m := monthStart(*r.SettledAt)
		if _, ok := byMonth[m]; !ok {
			months = append(months, m)
		}
		byMonth[m] = append(byMonth[m], r)
	}

	var total int64
	for _, m := range months {
		n, err := a.archiveMonth(ctx, m, byMonth[m])
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		a.metrics.RoundsArchived.Add(float64(total))
	}
	return total, nil
}

func (a *Archiver) archiveMonth(ctx context.Context, month time.Time, rounds []domain.Round) (int64, error) {
	path := Path(month)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("archive: check %s: %w", path, err)
	}
	if exists {
		a.logger.DebugContext(ctx, "month already archived", slog.String("path", path))
		return 0, nil
	}

	results := make([]domain.SettlementResult, 0, len(rounds))
	for _, r := range rounds {
		res, err := a.results.Result(ctx, r.ID)
		if err != nil {
			return 0, fmt.Errorf("archive: result %s: %w", r.ID, err)
		}
		results = append(results, res)
	}
	buf, err := marshalJSONL(results)
	if err != nil {
		return 0, fmt.Errorf("archive: encode %s: %w", path, err)
	}

	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("archive: upload %s: %w", path, err)
	}

	count := int64(len(results))
	a.logger.InfoContext(ctx, "month archived",
		slog.String("path", path),
		slog.Int64("rounds", count),
		slog.Int("bytes", len(buf)),
	)
	if err := a.audit.Log(ctx, "rounds_archived", map[string]any{
		"path":  path,
		"count": count,
		"month": month.Format("2006-01"),
		"bytes": len(buf),
	}); err != nil {
		return count, fmt.Errorf("archive: audit %s: %w", path, err)
	}
	return count, nil
}

// Path is the object key for a month's archive.
//
//	archive/rounds/2026-05.jsonl
func Path(month time.Time) string {
	return fmt.Sprintf("archive/rounds/%s.jsonl", month.UTC().Format("2006-01"))
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// marshalJSONL writes one compact JSON document per line.
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

var _ domain.Archiver = (*Archiver)(nil)
