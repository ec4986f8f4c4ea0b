// Package program merges per-stage shader reflection into the descriptor-set layouts, push-constant table
// and vertex layout of a single pipeline. Merging is a pure data transform; no native objects are created.
package program

import (
	"github.com/vkngwrapper/core/v3/core1_0"
)

// DescriptorBinding is one resource binding a shader stage declares
type DescriptorBinding struct {
	Name    string
	Set     int
	Binding int
	Type    core1_0.DescriptorType
	Count   int
	Stages  core1_0.ShaderStageFlags
}

// PushConstant is one named member of a stage's push-constant block
type PushConstant struct {
	Name   string
	Offset int
	Size   int
	Stages core1_0.ShaderStageFlags
}

// VertexInput is one attribute consumed by a vertex stage
type VertexInput struct {
	Name     string
	Location int
	Format   core1_0.Format
	Size     int
}

// StageReflection is the interface one shader stage exposes to the pipeline
type StageReflection struct {
	Stage         core1_0.ShaderStageFlags
	EntryPoint    string
	Bindings      []DescriptorBinding
	PushConstants []PushConstant
	VertexInputs  []VertexInput
}

// SetLayout is the merged layout of one descriptor set. A placeholder has no bindings and only exists to
// keep set indices contiguous.
type SetLayout struct {
	Set      int
	Bindings []DescriptorBinding
}

// Placeholder returns true if no stage declared a binding in this set
func (l SetLayout) Placeholder() bool {
	return len(l.Bindings) == 0
}

// Find returns the binding with the given binding index
func (l SetLayout) Find(binding int) (DescriptorBinding, bool) {
	for _, b := range l.Bindings {
		if b.Binding == binding {
			return b, true
		}
	}
	return DescriptorBinding{}, false
}

// NativeBindings returns the layout as native descriptor-set-layout bindings
func (l SetLayout) NativeBindings() []core1_0.DescriptorSetLayoutBinding {
	out := make([]core1_0.DescriptorSetLayoutBinding, 0, len(l.Bindings))
	for _, b := range l.Bindings {
		out = append(out, core1_0.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  b.Type,
			DescriptorCount: b.Count,
			StageFlags:      b.Stages,
		})
	}
	return out
}

// VertexLayout is a single interleaved vertex buffer at binding 0
type VertexLayout struct {
	Binding    core1_0.VertexInputBindingDescription
	Attributes []core1_0.VertexInputAttributeDescription
}

// Layout is the merged interface of every stage in a program
type Layout struct {
	Stages            core1_0.ShaderStageFlags
	Sets              []SetLayout
	PushConstants     map[string]PushConstant
	PushConstantRange *core1_0.PushConstantRange
	Vertex            *VertexLayout
}
