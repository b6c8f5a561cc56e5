// Package staleness decides whether an operation's outputs must be rebuilt
// from the cached write times of its input and output files.
package staleness

import (
	"log/slog"

	"github.com/papapumpkin/kiln/internal/filereg"
)

// WriteTimes is the read-only view of the file registry the oracle needs.
type WriteTimes interface {
	CachedWriteTime(id filereg.FileID) (filereg.WriteTime, bool)
	MustPath(id filereg.FileID) string
}

// Oracle evaluates staleness against cached write times. It never touches
// the filesystem; callers probe every referenced file first.
type Oracle struct {
	files  WriteTimes
	logger *slog.Logger
}

// New returns an Oracle over files. A nil logger uses slog.Default().
func New(files WriteTimes, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{files: files, logger: logger}
}

// IsOutdated reports whether any target must be rebuilt. A target is
// outdated when it does not exist, when any input is missing, or when any
// input was written strictly after it. An empty input set is never outdated.
func (o *Oracle) IsOutdated(targets, inputs []filereg.FileID) bool {
	if len(inputs) == 0 {
		return false
	}
	for _, target := range targets {
		if o.targetOutdated(target, inputs) {
			return true
		}
	}
	return false
}

func (o *Oracle) targetOutdated(target filereg.FileID, inputs []filereg.FileID) bool {
	// No cached entry counts as a missing target.
	targetTime, probed := o.files.CachedWriteTime(target)
	if !probed || !targetTime.Exists {
		o.logger.Info("Output target does not exist: " + o.files.MustPath(target))
		return true
	}

	for _, input := range inputs {
		inputTime, probed := o.files.CachedWriteTime(input)
		if !probed {
			o.logger.Error("input write time not probed, assuming outdated",
				slog.String("input", o.files.MustPath(input)))
			return true
		}
		if !inputTime.Exists {
			o.logger.Info("Input file missing: "+o.files.MustPath(input),
				slog.String("target", o.files.MustPath(target)))
			return true
		}
		if inputTime.Time.After(targetTime.Time) {
			o.logger.Info("Input altered after target",
				slog.String("input", o.files.MustPath(input)),
				slog.String("target", o.files.MustPath(target)))
			return true
		}
	}
	return false
}
