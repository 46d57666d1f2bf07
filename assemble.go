package tokens_dataset

import (
	"github.com/wbrown/tokens_dataset/types"
)

// Instance
// One fixed-size training example. LabelMask is nil when the owning file
// has no mask array, Metadata is nil when metadata is disabled, and
// AttentionMask is nil unless generation was requested. Instances are built
// fresh on every Get and share no mutable state with the dataset.
type Instance struct {
	InputIDs      types.Tokens
	LabelMask     types.Mask
	Metadata      map[string]interface{}
	AttentionMask types.Mask
}

// assembler
// Applies the per-instance construction settings resolved at dataset
// creation. Comparable, so Concat can require both operands to assemble
// instances identically.
type assembler struct {
	includeMetadata bool
	attentionMask   bool
	padTokenID      types.Token
}

func (asm assembler) assemble(
	tokens types.Tokens,
	labelMask types.Mask,
	metadata map[string]interface{},
) *Instance {
	instance := &Instance{InputIDs: tokens, LabelMask: labelMask}
	if asm.includeMetadata {
		instance.Metadata = deepCopyMap(metadata)
	}
	if asm.attentionMask {
		attention := make(types.Mask, len(tokens))
		for idx, id := range tokens {
			attention[idx] = id != asm.padTokenID
		}
		instance.AttentionMask = attention
	}
	return instance
}

// deepCopyMap
// Clone metadata so callers may mutate what they get back. Nested maps and
// slices are cloned recursively; everything else is assumed immutable.
func deepCopyMap(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	out := make(map[string]interface{}, len(src))
	for key, value := range src {
		out[key] = deepCopyValue(value)
	}
	return out
}

func deepCopyValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		return deepCopyMap(typed)
	case []interface{}:
		out := make([]interface{}, len(typed))
		for idx, element := range typed {
			out[idx] = deepCopyValue(element)
		}
		return out
	default:
		return typed
	}
}
