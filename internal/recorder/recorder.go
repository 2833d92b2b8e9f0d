package recorder

import (
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// QuoteSample is one recorded quote observation.
type QuoteSample struct {
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Pool      string  `parquet:"name=pool, type=BYTE_ARRAY, convertedtype=UTF8"`
	RawPrice  float64 `parquet:"name=raw_price, type=DOUBLE"`
	Rate      float64 `parquet:"name=rate, type=DOUBLE"`
	UsdtIn    string  `parquet:"name=usdt_in, type=BYTE_ARRAY, convertedtype=UTF8"`
	TokenOut  string  `parquet:"name=token_out, type=BYTE_ARRAY, convertedtype=UTF8"`
	Inverted  bool    `parquet:"name=inverted, type=BOOLEAN"`
}

// Recorder appends quote samples to a parquet file for later analysis.
type Recorder struct {
	file source.ParquetFile
	pw   *writer.ParquetWriter
}

// Open creates (or truncates) path and prepares it for sample rows.
func Open(path string) (*Recorder, error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(QuoteSample), 1)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	return &Recorder{file: fw, pw: pw}, nil
}

// Record appends one sample. The timestamp is stamped here if unset.
func (r *Recorder) Record(s QuoteSample) error {
	if s.Timestamp == 0 {
		s.Timestamp = time.Now().UnixMilli()
	}
	if err := r.pw.Write(s); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	return nil
}

// Close flushes buffered rows and closes the file.
func (r *Recorder) Close() error {
	if err := r.pw.WriteStop(); err != nil {
		r.file.Close()
		return fmt.Errorf("finish parquet file: %w", err)
	}
	return r.file.Close()
}
