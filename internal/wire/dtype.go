package wire

import (
	"math"

	"github.com/sirupsen/logrus"
)

// EncodeFloat32 narrows a float64 value to the range representable by
// float32, logging a warning when the narrowing is lossy — only int64
// and float32 cross the wire. The returned value is still a float64 so
// it can be dropped straight into TensorData.Data.
func EncodeFloat32(log *logrus.Entry, v float64) float64 {
	narrowed := float64(float32(v))
	if narrowed != v && !math.IsNaN(v) {
		logWarn(log, "wire: float64 value %v narrowed to float32 (%v); precision lost", v, narrowed)
	}
	return narrowed
}

// EncodeInt64FromUint64 narrows a uint64 to int64, logging a warning
// on overflow (values above math.MaxInt64 wrap rather than erroring,
// matching server-side wraparound).
func EncodeInt64FromUint64(log *logrus.Entry, v uint64) int64 {
	if v > math.MaxInt64 {
		logWarn(log, "wire: uint64 value %d overflows int64, wrapping", v)
	}
	return int64(v)
}

func logWarn(log *logrus.Entry, format string, args ...any) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log.Warnf(format, args...)
}

// CoerceTensorData returns a copy of t whose Data matches t.DType's wire
// narrowing rules: for float32 tensors a new Data slice holds every
// element passed through EncodeFloat32 (the caller's slice is not
// modified), int64 tensors are returned as-is (Data is already stored
// as float64 but holds only whole values by construction).
func CoerceTensorData(log *logrus.Entry, t TensorData) TensorData {
	if t.DType != DTypeFloat32 {
		return t
	}
	out := make([]float64, len(t.Data))
	for i, v := range t.Data {
		out[i] = EncodeFloat32(log, v)
	}
	t.Data = out
	return t
}
