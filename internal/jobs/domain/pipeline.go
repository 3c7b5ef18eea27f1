package domain

import (
	"fmt"
)

// Step keys of the document ingestion pipeline
const (
	StepUpload             = "upload"
	StepValidate           = "validate"
	StepExtractPages       = "extract_pages"
	StepOcrPages           = "ocr_pages"
	StepChunkText          = "chunk_text"
	StepGenerateEmbeddings = "generate_embeddings"
	StepStoreVectors       = "store_vectors"
	StepExtractTradeScopes = "extract_trade_scopes"
	StepExtractMaterials   = "extract_materials"
	StepExtractRooms       = "extract_rooms"
	StepGenerateMilestones = "generate_milestones"
	StepFinalize           = "finalize"
)

// StepDefinition is one stage of a pipeline
type StepDefinition struct {
	Key   string
	Name  string
	Order int
}

// Pipeline is an ordered list of stages. It is only read when a job is created;
// existing jobs keep the step rows materialized at their creation.
type Pipeline []StepDefinition

// DefaultPipeline returns the canonical document ingestion stages.
func DefaultPipeline() Pipeline {
	return Pipeline{
		{Key: StepUpload, Name: "Uploading Document", Order: 1},
		{Key: StepValidate, Name: "Validating Document", Order: 2},
		{Key: StepExtractPages, Name: "Extracting Pages", Order: 3},
		{Key: StepOcrPages, Name: "OCR Processing", Order: 4},
		{Key: StepChunkText, Name: "Chunking Text", Order: 5},
		{Key: StepGenerateEmbeddings, Name: "Generating Embeddings", Order: 6},
		{Key: StepStoreVectors, Name: "Storing Vectors", Order: 7},
		{Key: StepExtractTradeScopes, Name: "Extracting Trade Scopes", Order: 8},
		{Key: StepExtractMaterials, Name: "Extracting Materials", Order: 9},
		{Key: StepExtractRooms, Name: "Extracting Rooms", Order: 10},
		{Key: StepGenerateMilestones, Name: "Generating Milestones", Order: 11},
		{Key: StepFinalize, Name: "Finalizing", Order: 12},
	}
}

// Validate checks that orders start at 1 and are contiguous and that keys are unique.
func (p Pipeline) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: pipeline has no steps", ErrValidation)
	}

	seen := make(map[string]struct{}, len(p))
	for i, def := range p {
		if def.Key == "" {
			return fmt.Errorf("%w: step %d has an empty key", ErrValidation, i+1)
		}
		if _, dup := seen[def.Key]; dup {
			return fmt.Errorf("%w: duplicate step key %q", ErrValidation, def.Key)
		}
		seen[def.Key] = struct{}{}

		if def.Order != i+1 {
			return fmt.Errorf("%w: step %q has order %d, want %d", ErrValidation, def.Key, def.Order, i+1)
		}
	}

	return nil
}

// Keys returns the step keys in pipeline order.
func (p Pipeline) Keys() []string {
	keys := make([]string, len(p))
	for i, def := range p {
		keys[i] = def.Key
	}
	return keys
}
