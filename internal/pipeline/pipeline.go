package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/user/ce65_converter_go/internal/analysis"
	"github.com/user/ce65_converter_go/internal/logging"
	"github.com/user/ce65_converter_go/internal/parser"
	"golang.org/x/sync/errgroup"
)

// EventSource yields raw events until io.EOF; parser.CaptureReader is one.
type EventSource interface {
	Next() (parser.RawEvent, error)
}

// PlaneSink receives every converted plane in event order, e.g. an MQTT publisher.
type PlaneSink interface {
	PublishPlane(plane *analysis.StandardPlane) error
}

// Options configures a conversion run. Only Converter is required.
type Options struct {
	Converter   *analysis.Converter
	Workers     int              // default: GOMAXPROCS
	Hitmap      *analysis.Hitmap // accumulates the run when set
	Output      io.Writer        // JSON lines of planes when set
	Sink        PlaneSink
	OnEvent     func()            // called for every event read
	Progress    func(stats Stats) // called after each batch
	StopOnError bool              // abort at the first conversion error
}

// Stats counts the events of a run.
type Stats struct {
	Read      int
	Converted int
	Declined  int
	Failed    int
}

type outcome struct {
	plane *analysis.StandardPlane
	ok    bool
	err   error
}

// Run converts every event of src. Conversions fan out over a bounded worker
// pool in batches; results are emitted in the order events were read.
// Conversion errors are counted and logged unless StopOnError is set; read
// and output errors end the run.
func Run(ctx context.Context, src EventSource, opts Options) (Stats, error) {
	var stats Stats
	if opts.Converter == nil {
		return stats, errors.New("pipeline: no converter")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	batchSize := 4 * workers

	var enc *json.Encoder
	if opts.Output != nil {
		enc = json.NewEncoder(opts.Output)
	}

	batch := make([]parser.RawEvent, 0, batchSize)
	results := make([]outcome, batchSize)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch = batch[:0]
		var readErr error
		for len(batch) < batchSize {
			ev, err := src.Next()
			if err != nil {
				readErr = err
				break
			}
			stats.Read++
			if opts.OnEvent != nil {
				opts.OnEvent()
			}
			batch = append(batch, ev)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := range batch {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				plane, ok, err := opts.Converter.Convert(batch[i])
				results[i] = outcome{plane: plane, ok: ok, err: err}
				if err != nil && opts.StopOnError {
					return fmt.Errorf("event %d: %w", batch[i].EventN, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		for i, res := range results[:len(batch)] {
			switch {
			case res.err != nil:
				stats.Failed++
				logging.Warningf("Event %d not converted: %v", batch[i].EventN, res.err)
				if opts.Hitmap != nil {
					opts.Hitmap.AddFailure(batch[i].EventN, res.err)
				}
			case !res.ok:
				stats.Declined++
				if opts.Hitmap != nil {
					opts.Hitmap.AddDeclined()
				}
			default:
				stats.Converted++
				if opts.Hitmap != nil {
					opts.Hitmap.Add(res.plane)
				}
				if enc != nil {
					if err := enc.Encode(res.plane); err != nil {
						return stats, fmt.Errorf("failed to write plane %d: %w", res.plane.EventN, err)
					}
				}
				if opts.Sink != nil {
					if err := opts.Sink.PublishPlane(res.plane); err != nil {
						logging.Warningf("Plane %d not published: %v", res.plane.EventN, err)
					}
				}
			}
			results[i] = outcome{}
		}
		if opts.Progress != nil && len(batch) > 0 {
			opts.Progress(stats)
		}

		if readErr == io.EOF {
			return stats, nil
		}
		if readErr != nil {
			return stats, readErr
		}
	}
}

// ReadPedestalRun collects the CE65 captures of src for calibration, skipping
// events with other descriptions.
func ReadPedestalRun(src EventSource) ([]parser.RawCapture, error) {
	var captures []parser.RawCapture
	for {
		ev, err := src.Next()
		if err == io.EOF {
			return captures, nil
		}
		if err != nil {
			return captures, err
		}
		if capture, ok := parser.AsCapture(ev); ok {
			captures = append(captures, capture)
		}
	}
}
