// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// exportBatch is the page size for streaming the log out without
// holding it all in memory.
const exportBatch = 1000

// Export streams every record matching the filter to w as
// zstd-compressed JSONL, one record per line, ordered by seq. The
// filter's AfterSeq and Limit fields are ignored; Export always walks
// the full match.
func (s *Store) Export(ctx context.Context, w io.Writer, filter Filter) error {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("audit: export: zstd encoder: %w", err)
	}

	jsonEncoder := json.NewEncoder(encoder)

	filter.Limit = exportBatch
	filter.AfterSeq = 0
	for {
		records, err := s.Query(ctx, filter)
		if err != nil {
			encoder.Close()
			return err
		}
		for i := range records {
			if err := jsonEncoder.Encode(&records[i]); err != nil {
				encoder.Close()
				return fmt.Errorf("audit: export: encode seq %d: %w", records[i].Seq, err)
			}
		}
		if len(records) < exportBatch {
			break
		}
		filter.AfterSeq = records[len(records)-1].Seq
	}

	if err := encoder.Close(); err != nil {
		return fmt.Errorf("audit: export: flush: %w", err)
	}
	return nil
}

// ReadExport decodes an Export stream back into records, for the CLI
// and for tests.
func ReadExport(r io.Reader) ([]Record, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("audit: reading export: %w", err)
	}
	defer decoder.Close()

	var records []Record
	jsonDecoder := json.NewDecoder(decoder)
	for {
		var record Record
		if err := jsonDecoder.Decode(&record); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("audit: reading export: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}
