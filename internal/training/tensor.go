package training

import "github.com/North-Shore-AI/tinker-go/internal/wire"

// TensorAdapter is the external, caller-supplied collaborator behind
// ForwardBackwardCustom: this module never imports a tensor/autograd
// library itself. An adapter implementation
// wraps whatever local tensor library the caller already depends on
// (e.g. gorgonia, or a thin cgo binding to a native autograd engine).
type TensorAdapter interface {
	// FromTensorData materializes a gradient-capable local tensor from
	// a decoded wire.TensorData (the logprobs returned by a forward
	// pass).
	FromTensorData(t wire.TensorData) (LocalTensor, error)
	// ToTensorData reads a local tensor's gradient back out as
	// wire.TensorData for submission to the server, applying the wire
	// dtype-narrowing rules.
	ToTensorData(t LocalTensor) (wire.TensorData, error)
}

// LocalTensor is an opaque handle into the adapter's own tensor
// representation. This module only ever passes it back through the
// same adapter that produced it.
type LocalTensor interface {
	// Backward computes gradients of loss with respect to every
	// LocalTensor reachable from it, making them available via the
	// adapter's Gradient-retrieval path before ToTensorData is called.
	Backward() error
}

// LossFn is the caller's loss computation over one batch's decoded
// logprobs tensors, returning a scalar loss tensor (so Backward can be
// invoked on it) plus a metrics map merged into the final
// ForwardBackwardOutput.
type LossFn func(data []wire.Datum, logprobs []LocalTensor) (loss LocalTensor, metrics map[string]float64, err error)
