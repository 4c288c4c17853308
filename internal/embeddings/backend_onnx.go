//go:build onnx
// +build onnx

package embeddings

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// OnnxBackend implements TransformerBackend using ONNX Runtime (via yalue/onnxruntime_go).
type OnnxBackend struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	logger     *zap.Logger
	ready      bool
	mu         sync.RWMutex
}

// NewTransformerBackend initializes the ONNX Runtime backend. Requires build tag 'onnx'.
func NewTransformerBackend(logger *zap.Logger, cfg ModelConfig) (TransformerBackend, error) {
	if cfg.Device != "" && cfg.Device != DeviceCPU {
		return nil, fmt.Errorf("%w: unsupported device %q", ErrConfigError, cfg.Device)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}

	// Allow user to provide shared library path via environment variable.
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: onnx runtime init: %v", ErrModelNotLoaded, err)
		}
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: inspect model: %v", ErrModelNotLoaded, err)
	}

	// Prefer common transformer inputs order
	preferredInputs := []string{"input_ids", "attention_mask", "token_type_ids"}
	available := map[string]string{}
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = ii.Name
	}
	var inputNames []string
	for _, name := range preferredInputs {
		if real, ok := available[name]; ok {
			inputNames = append(inputNames, real)
		}
	}
	if len(inputNames) == 0 && len(inputsInfo) > 0 {
		sorted := make([]string, 0, len(inputsInfo))
		for _, ii := range inputsInfo {
			sorted = append(sorted, ii.Name)
		}
		sort.Strings(sorted)
		inputNames = sorted
	}

	if len(outputsInfo) == 0 {
		return nil, fmt.Errorf("%w: model reports no outputs", ErrModelNotLoaded)
	}
	outputName := outputsInfo[0].Name
	for _, oi := range outputsInfo {
		if cfg.OutputName != "" && oi.Name == cfg.OutputName {
			outputName = oi.Name
		}
	}

	sess, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrModelNotLoaded, err)
	}

	logger.Info("ONNX Runtime backend ready",
		zap.String("model", cfg.ModelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", outputName),
		zap.String("device", DeviceCPU))
	return &OnnxBackend{session: sess, inputNames: inputNames, outputName: outputName, logger: logger, ready: true}, nil
}

// IsReady reports whether the backend is initialized.
func (b *OnnxBackend) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && b.session != nil
}

// Close releases session and environment resources.
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	ort.DestroyEnvironment()
	b.ready = false
	return nil
}

// Forward runs the encoder and returns last_hidden_state as [B][T][H].
//
// The attention mask is all ones: every slot, padding included, is attended
// to, which is how the reference embeddings were produced.
func (b *OnnxBackend) Forward(ctx context.Context, tokenIDs, tokenTypeIDs [][]int64) (*HiddenStates, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.ready || b.session == nil {
		return nil, fmt.Errorf("onnx backend not ready")
	}

	batch := len(tokenIDs)
	if batch == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	seqLen := len(tokenIDs[0])

	inputIDs := make([]int64, 0, batch*seqLen)
	attention := make([]int64, 0, batch*seqLen)
	tokenTypes := make([]int64, 0, batch*seqLen)
	for i, row := range tokenIDs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if len(row) != seqLen || len(tokenTypeIDs[i]) != seqLen {
			return nil, fmt.Errorf("ragged input at row %d", i)
		}
		inputIDs = append(inputIDs, row...)
		tokenTypes = append(tokenTypes, tokenTypeIDs[i]...)
		for range row {
			attention = append(attention, 1)
		}
	}

	shape := ort.NewShape(int64(batch), int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, tokenTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	inputs := make([]ort.Value, 0, len(b.inputNames))
	for _, rawName := range b.inputNames {
		name := strings.ToLower(rawName)
		switch {
		case strings.Contains(name, "mask") || strings.Contains(name, "attention"):
			inputs = append(inputs, maskTensor)
		case strings.Contains(name, "token_type") || strings.Contains(name, "segment"):
			inputs = append(inputs, typeTensor)
		default:
			inputs = append(inputs, idsTensor)
		}
	}

	// One output; let ORT allocate it
	outputs := make([]ort.Value, 1)
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer outputs[0].Destroy()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	outShape := outTensor.GetShape()
	if len(outShape) != 3 {
		return nil, fmt.Errorf("output %q has shape %v, want [batch seq hidden]", b.outputName, outShape)
	}

	data := outTensor.GetData()
	states := &HiddenStates{
		Batch:  int(outShape[0]),
		Tokens: int(outShape[1]),
		Hidden: int(outShape[2]),
		Data:   make([]float32, len(data)),
	}
	// ORT owns data; it is freed with the tensor.
	copy(states.Data, data)
	return states, nil
}
