package wire

import (
	"encoding/json"
	"fmt"
)

// QueueState is the server's admission state for a pending future.
// An unrecognized value parses to QueueStateUnknown rather than
// failing — polling must continue regardless.
type QueueState string

const (
	QueueStateActive          QueueState = "active"
	QueueStatePausedCapacity  QueueState = "paused_capacity"
	QueueStatePausedRateLimit QueueState = "paused_rate_limit"
	QueueStateUnknown         QueueState = "unknown"
)

// UnmarshalJSON maps any unrecognized string to QueueStateUnknown
// instead of erroring.
func (q *QueueState) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch QueueState(s) {
	case QueueStateActive, QueueStatePausedCapacity, QueueStatePausedRateLimit:
		*q = QueueState(s)
	default:
		*q = QueueStateUnknown
	}
	return nil
}

// AsyncFuture is the handle every write endpoint returns.
type AsyncFuture struct {
	RequestID    string      `json:"request_id"`
	QueueState   *QueueState `json:"queue_state,omitempty"`
	RetryAfterMs *int64      `json:"retry_after_ms,omitempty"`
}

// FutureEnvelope is the decoded shape of a POST /retrieve_future
// response. Exactly one of Result/Error/Type is meaningful,
// selected by Status/Type.
type FutureEnvelope struct {
	// Status is "completed", "failed", or "pending".
	Status string `json:"status,omitempty"`
	// Type is "try_again" for transient not-ready responses; it is
	// mutually exclusive with Status in the shapes the server sends.
	Type         string          `json:"type,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *FailureError   `json:"error,omitempty"`
	QueueState   *QueueState     `json:"queue_state,omitempty"`
	RetryAfterMs *int64          `json:"retry_after_ms,omitempty"`
}

// FailureError is the server's categorized failure payload decoded from
// a terminal "failed" retrieve_future response.
type FailureError struct {
	Message  string         `json:"message"`
	Category Category       `json:"category,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// TryAgainResponse is the transient "not ready yet" shape, kept as
// its own type so it round-trips losslessly.
type TryAgainResponse struct {
	Type         string     `json:"type"`
	QueueState   QueueState `json:"queue_state"`
	RetryAfterMs *int64     `json:"retry_after_ms,omitempty"`
	RequestID    string     `json:"request_id,omitempty"`
}

// --- ModelInput / chunks ---

// ChunkKind discriminates the ModelInput chunk union on the wire via the
// "type" field.
type ChunkKind string

const (
	ChunkKindEncodedText  ChunkKind = "encoded_text"
	ChunkKindImage        ChunkKind = "image"
	ChunkKindImagePointer ChunkKind = "image_asset_pointer"
)

// Chunk is one element of a ModelInput. Exactly one of Tokens/Data/Location
// is populated, selected by Type.
type Chunk struct {
	Type ChunkKind `json:"type"`

	// EncodedText chunk.
	Tokens []int64 `json:"tokens,omitempty"`

	// Image chunk.
	Data   string `json:"data,omitempty"`
	Format string `json:"format,omitempty"`

	// ImagePointer chunk.
	Location string `json:"location,omitempty"`

	// Shared by Image and ImagePointer. nil means "not set": reading
	// Length on such a chunk is an error.
	ExpectedTokens *int `json:"expected_tokens,omitempty"`
}

// Length returns the chunk's semantic token length. For EncodedText it
// is always defined (len(Tokens)). For Image/ImagePointer it is defined
// only when ExpectedTokens is set; otherwise Length returns an error.
func (c Chunk) Length() (int, error) {
	switch c.Type {
	case ChunkKindEncodedText:
		return len(c.Tokens), nil
	case ChunkKindImage, ChunkKindImagePointer:
		if c.ExpectedTokens == nil {
			return 0, NewValidationError("chunk length undefined: expected_tokens not set on %s chunk", c.Type)
		}
		return *c.ExpectedTokens, nil
	default:
		return 0, NewValidationError("unknown chunk type %q", c.Type)
	}
}

// NumberCount is the chunking heuristic's per-chunk weight:
// encoded-token count for text, base64 payload byte length for an
// image, location-string byte length for an image pointer.
func (c Chunk) NumberCount() int {
	switch c.Type {
	case ChunkKindEncodedText:
		return len(c.Tokens)
	case ChunkKindImage:
		return len(c.Data)
	case ChunkKindImagePointer:
		return len(c.Location)
	default:
		return 0
	}
}

// NewEncodedTextChunk builds a text chunk from already-tokenized input.
func NewEncodedTextChunk(tokens []int64) Chunk {
	return Chunk{Type: ChunkKindEncodedText, Tokens: tokens}
}

// NewImageChunk builds an inline base64 image chunk. expectedTokens
// is advisory (current server revisions no longer accept
// height/width/tokens); pass -1 to leave it unset.
func NewImageChunk(base64Data, format string, expectedTokens int) Chunk {
	c := Chunk{Type: ChunkKindImage, Data: base64Data, Format: format}
	if expectedTokens >= 0 {
		c.ExpectedTokens = &expectedTokens
	}
	return c
}

// NewImagePointerChunk builds an image-by-reference chunk.
func NewImagePointerChunk(location, format string, expectedTokens int) Chunk {
	c := Chunk{Type: ChunkKindImagePointer, Location: location, Format: format}
	if expectedTokens >= 0 {
		c.ExpectedTokens = &expectedTokens
	}
	return c
}

// ModelInput is an ordered sequence of chunks forming a prompt.
type ModelInput struct {
	Chunks []Chunk `json:"chunks"`
}

// NumberCount sums NumberCount across all chunks.
func (m ModelInput) NumberCount() int {
	total := 0
	for _, c := range m.Chunks {
		total += c.NumberCount()
	}
	return total
}

// --- TensorData ---

// DType restricts wire tensors to the two types the server accepts.
type DType string

const (
	DTypeInt64   DType = "int64"
	DTypeFloat32 DType = "float32"
)

// TensorData is the wire-format dense tensor: dtype, shape (nil for a
// scalar), and a flat data list. Data is a float64 slice for both
// dtypes; int64 tensors hold only whole values in it, and float32
// values are narrowed on encode (see dtype.go).
type TensorData struct {
	DType DType     `json:"dtype"`
	Shape []int     `json:"shape,omitempty"`
	Data  []float64 `json:"data"`
}

// --- Datum / loss ---

// LossKind enumerates the built-in loss functions the server accepts
// for forward_backward/forward.
type LossKind string

const (
	LossCrossEntropy       LossKind = "cross_entropy"
	LossImportanceSampling LossKind = "importance_sampling"
	LossPPO                LossKind = "ppo"
	LossCISPO              LossKind = "cispo"
	LossDRO                LossKind = "dro"
)

// Datum is one training example: a prompt plus named loss-fn inputs.
type Datum struct {
	ModelInput   ModelInput            `json:"model_input"`
	LossFnInputs map[string]TensorData `json:"loss_fn_inputs"`
}

// NumberCount is a datum's chunking weight: its ModelInput's summed
// chunk weights (ModelInput.NumberCount) plus the flattened-data byte
// length of every loss-fn input.
func (d Datum) NumberCount() int {
	total := d.ModelInput.NumberCount()
	for _, t := range d.LossFnInputs {
		total += len(t.Data) * 8 // flattened float64 byte length
	}
	return total
}

// --- Sampling requests/responses ---

// SampleParams controls generation (temperature, max tokens, stop
// sequences, ...). Kept as an open map so the client need not track
// every server-recognized sampling knob.
type SampleParams map[string]any

// SampleRequest is the body of POST /asample.
type SampleRequest struct {
	SamplingSessionID string         `json:"sampling_session_id"`
	SeqID             uint64         `json:"seq_id"`
	Prompt            ModelInput     `json:"prompt"`
	SamplingParams    SampleParams   `json:"sampling_params,omitempty"`
	NumSamples        int            `json:"num_samples,omitempty"`
	// PromptLogprobs must be omitted entirely from the JSON when nil;
	// the server rejects an explicit null.
	PromptLogprobs *bool `json:"prompt_logprobs,omitempty"`
}

// Sequence is one generated continuation.
type Sequence struct {
	Tokens     []int64   `json:"tokens"`
	Logprobs   []float64 `json:"logprobs,omitempty"`
	StopReason string    `json:"stop_reason"`
}

// SampleResponse is the terminal payload of an asample future.
type SampleResponse struct {
	Sequences []Sequence `json:"sequences"`
}

// LogprobsResponse is the terminal payload of a compute_logprobs
// future: one logprob per prompt token, aligned with the submitted
// ModelInput's encoded-text chunks.
type LogprobsResponse struct {
	Logprobs []float64 `json:"logprobs"`
}

// --- Training requests/responses ---

// ForwardBackwardRequest is the body of POST /forward and
// POST /forward_backward.
type ForwardBackwardRequest struct {
	ModelID string   `json:"model_id"`
	SeqID   uint64   `json:"seq_id"`
	Data    []Datum  `json:"data"`
	Loss    LossKind `json:"loss_fn"`
}

// ForwardBackwardOutput is the shared result shape for forward and
// forward_backward, including the "bare payload with no envelope"
// case — that shape decodes into this struct directly when
// retrieve_future returns it without a status/type wrapper.
type ForwardBackwardOutput struct {
	LossFnOutputs map[string]TensorData `json:"loss_fn_outputs"`
	Metrics       map[string]float64    `json:"metrics"`
}

// LooksLikeForwardBackwardOutput reports whether raw decodes cleanly as
// a ForwardBackwardOutput with at least one recognizable field set,
// distinguishing a bare payload from an empty/unrelated object.
func LooksLikeForwardBackwardOutput(raw json.RawMessage) (ForwardBackwardOutput, bool) {
	var probe struct {
		LossFnOutputs map[string]TensorData `json:"loss_fn_outputs"`
		Metrics       map[string]float64    `json:"metrics"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ForwardBackwardOutput{}, false
	}
	if probe.LossFnOutputs == nil && probe.Metrics == nil {
		return ForwardBackwardOutput{}, false
	}
	return ForwardBackwardOutput{LossFnOutputs: probe.LossFnOutputs, Metrics: probe.Metrics}, true
}

// AdamParams are the optimizer config for optim_step. Field names are
// the server's wire names, not widespread library defaults — notably
// "eps", not "epsilon".
type AdamParams struct {
	LearningRate float64 `json:"learning_rate"`
	Beta1        float64 `json:"beta1"`
	Beta2        float64 `json:"beta2"`
	Eps          float64 `json:"eps"`
}

// DefaultAdamParams returns the server's default optimizer settings.
func DefaultAdamParams() AdamParams {
	return AdamParams{LearningRate: 1e-4, Beta1: 0.9, Beta2: 0.95, Eps: 1e-12}
}

// OptimStepRequest is the body of POST /optim_step.
type OptimStepRequest struct {
	ModelID string     `json:"model_id"`
	SeqID   uint64     `json:"seq_id"`
	Optim   AdamParams `json:"optim"`
}

// OptimStepResponse is the terminal payload of an optim_step future.
type OptimStepResponse struct {
	Metrics map[string]float64 `json:"metrics"`
}

// SaveWeightsRequest is the body of POST /save_weights.
type SaveWeightsRequest struct {
	ModelID string `json:"model_id"`
	Path    string `json:"path"`
	SeqID   uint64 `json:"seq_id"`
}

// SaveWeightsResponse yields the persistent tinker:// URI.
type SaveWeightsResponse struct {
	Path string `json:"path"`
}

// LoadWeightsRequest is the body of POST /load_weights. The boolean
// field is named "optimizer" on the wire, not "load_optimizer_state".
type LoadWeightsRequest struct {
	ModelID   string `json:"model_id"`
	Path      string `json:"path"`
	Optimizer bool   `json:"optimizer"`
	SeqID     uint64 `json:"seq_id"`
}

// LoadWeightsResponse is the terminal payload of a load_weights future.
type LoadWeightsResponse struct {
	ModelID string `json:"model_id"`
}

// SaveWeightsForSamplerRequest is the body of POST
// /save_weights_for_sampler.
type SaveWeightsForSamplerRequest struct {
	ModelID string `json:"model_id"`
	SeqID   uint64 `json:"seq_id"`
}

// GetInfoResponse describes a training run's model.
type GetInfoResponse struct {
	Arch        string `json:"arch"`
	ModelName   string `json:"model_name"`
	TokenizerID string `json:"tokenizer_id"`
	IsLoRA      bool   `json:"is_lora"`
	LoRARank    int    `json:"lora_rank,omitempty"`
}

// --- Session / sampler inspection ---

// CreateSamplingSessionRequest is the body of POST
// /create_sampling_session. Exactly one of BaseModel/ModelPath is set.
type CreateSamplingSessionRequest struct {
	SessionID        string `json:"session_id"`
	SamplingClientID string `json:"sampling_client_id"`
	BaseModel        string `json:"base_model,omitempty"`
	ModelPath        string `json:"model_path,omitempty"`
}

// CreateSamplingSessionResponse carries the server-assigned sampling
// session id.
type CreateSamplingSessionResponse struct {
	SamplingSessionID string `json:"sampling_session_id"`
}

// GetSamplerResponse is the response to GET /samplers/{id}.
type GetSamplerResponse struct {
	SamplerID string `json:"sampler_id"`
	ModelID   string `json:"model_id"`
	BaseModel string `json:"base_model"`
	IsLoRA    bool   `json:"is_lora"`
	LoRARank  int    `json:"lora_rank,omitempty"`
}

// WeightsInfoRequest is the body of POST /weights_info.
type WeightsInfoRequest struct {
	TinkerPath string `json:"tinker_path"`
}

// WeightsInfoResponse is the response to POST /weights_info.
type WeightsInfoResponse struct {
	BaseModel string `json:"base_model"`
	IsLoRA    bool   `json:"is_lora"`
	LoRARank  *int   `json:"lora_rank,omitempty"`
}

// Checkpoint is a named, addressable save point on a training run, used
// by higher-level session bookkeeping (not returned directly by any
// endpoint, but round-tripped through telemetry/session state).
type Checkpoint struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SeqID     uint64 `json:"seq_id"`
	CreatedAt int64  `json:"created_at_unix_ms"`
}

// TrainingRun is the wire-level description of a training run used for
// session bookkeeping round-trips (listing runs under a session, etc).
type TrainingRun struct {
	ModelID   string `json:"model_id"`
	BaseModel string `json:"base_model"`
	LoRARank  int    `json:"lora_rank,omitempty"`
	SessionID string `json:"session_id"`
}

// --- Heartbeat ---

// HeartbeatRequest is the body of POST /session_heartbeat.
type HeartbeatRequest struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
}

// HeartbeatResponse is the server's acknowledgement.
type HeartbeatResponse struct {
	Type string `json:"type"`
}

// NewHeartbeatRequest builds the fixed-shape heartbeat body.
func NewHeartbeatRequest(sessionID string) HeartbeatRequest {
	return HeartbeatRequest{SessionID: sessionID, Type: "session_heartbeat"}
}

func (r HeartbeatRequest) String() string {
	return fmt.Sprintf("session_heartbeat(%s)", r.SessionID)
}
