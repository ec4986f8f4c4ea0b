package program

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slices"
)

// ErrIncompatibleStages is returned from Merge when two stages disagree about a shared binding or
// push constant
var ErrIncompatibleStages = errors.New("shader stages are incompatible")

type bindingKey struct {
	set     int
	binding int
}

// Merge combines the reflection of every stage in a program. Bindings sharing a {set, binding} must
// agree on descriptor type and count and become visible to every stage that declares them. Sets are
// indexed 0..max set, with placeholders for sets no stage uses. Push constants are keyed by name and
// must agree on offset and size across stages. When a vertex stage is present its inputs are packed
// into one interleaved binding in ascending location order.
func Merge(stages []StageReflection) (*Layout, error) {
	if len(stages) == 0 {
		return nil, errors.New("a program requires at least one stage")
	}

	layout := &Layout{
		PushConstants: make(map[string]PushConstant),
	}

	bindings := make(map[bindingKey]*DescriptorBinding)
	maxSet := -1

	for _, stage := range stages {
		if stage.Stage == 0 {
			return nil, errors.Newf("stage %q has no stage flag", stage.EntryPoint)
		}
		if layout.Stages&stage.Stage != 0 {
			return nil, errors.Newf("stage %s appears more than once", stage.Stage)
		}
		layout.Stages |= stage.Stage

		for _, binding := range stage.Bindings {
			if binding.Set < 0 || binding.Binding < 0 {
				return nil, errors.Newf("binding %q has a negative set or binding index", binding.Name)
			}
			count := max(binding.Count, 1)

			key := bindingKey{set: binding.Set, binding: binding.Binding}
			existing, ok := bindings[key]
			if !ok {
				merged := binding
				merged.Count = count
				merged.Stages = stage.Stage
				bindings[key] = &merged
				maxSet = max(maxSet, binding.Set)
				continue
			}

			if existing.Type != binding.Type {
				return nil, errors.Wrapf(ErrIncompatibleStages, "set %d binding %d is %s in one stage and %s in another",
					binding.Set, binding.Binding, existing.Type, binding.Type)
			}
			if existing.Count != count {
				return nil, errors.Wrapf(ErrIncompatibleStages, "set %d binding %d has count %d in one stage and %d in another",
					binding.Set, binding.Binding, existing.Count, count)
			}
			existing.Stages |= stage.Stage
		}

		for _, constant := range stage.PushConstants {
			existing, ok := layout.PushConstants[constant.Name]
			if !ok {
				constant.Stages = stage.Stage
				layout.PushConstants[constant.Name] = constant
				continue
			}

			if existing.Offset != constant.Offset || existing.Size != constant.Size {
				return nil, errors.Wrapf(ErrIncompatibleStages, "push constant %q is at [%d,+%d) in one stage and [%d,+%d) in another",
					constant.Name, existing.Offset, existing.Size, constant.Offset, constant.Size)
			}
			existing.Stages |= stage.Stage
			layout.PushConstants[constant.Name] = existing
		}

		if stage.Stage == core1_0.StageVertex && len(stage.VertexInputs) > 0 {
			vertex, err := packVertexInputs(stage.VertexInputs)
			if err != nil {
				return nil, err
			}
			layout.Vertex = vertex
		}
	}

	layout.Sets = make([]SetLayout, maxSet+1)
	for i := range layout.Sets {
		layout.Sets[i].Set = i
	}
	for key, binding := range bindings {
		layout.Sets[key.set].Bindings = append(layout.Sets[key.set].Bindings, *binding)
	}
	for i := range layout.Sets {
		slices.SortFunc(layout.Sets[i].Bindings, func(a, b DescriptorBinding) bool {
			return a.Binding < b.Binding
		})
	}

	layout.PushConstantRange = pushConstantRange(layout.PushConstants)

	return layout, nil
}

// pushConstantRange covers every push constant with a single range visible to every stage that uses
// one, since no stage may appear in two ranges of a pipeline layout
func pushConstantRange(constants map[string]PushConstant) *core1_0.PushConstantRange {
	if len(constants) == 0 {
		return nil
	}

	begin, end := -1, 0
	var stages core1_0.ShaderStageFlags
	for _, constant := range constants {
		if begin < 0 || constant.Offset < begin {
			begin = constant.Offset
		}
		end = max(end, constant.Offset+constant.Size)
		stages |= constant.Stages
	}

	return &core1_0.PushConstantRange{
		StageFlags: stages,
		Offset:     begin,
		Size:       end - begin,
	}
}

// packVertexInputs lays attributes out back to back in ascending location order. The buffer's memory
// layout therefore follows the shader's location order; nothing else checks the two agree.
func packVertexInputs(inputs []VertexInput) (*VertexLayout, error) {
	sorted := slices.Clone(inputs)
	slices.SortFunc(sorted, func(a, b VertexInput) bool {
		return a.Location < b.Location
	})

	vertex := &VertexLayout{
		Binding: core1_0.VertexInputBindingDescription{
			Binding:   0,
			InputRate: core1_0.VertexInputRateVertex,
		},
	}

	offset := 0
	for i, input := range sorted {
		if i > 0 && sorted[i-1].Location == input.Location {
			return nil, errors.Newf("vertex inputs %q and %q share location %d", sorted[i-1].Name, input.Name, input.Location)
		}
		if input.Size <= 0 {
			return nil, errors.Newf("vertex input %q has no size", input.Name)
		}

		vertex.Attributes = append(vertex.Attributes, core1_0.VertexInputAttributeDescription{
			Binding:  0,
			Location: input.Location,
			Format:   input.Format,
			Offset:   offset,
		})
		offset += input.Size
	}
	vertex.Binding.Stride = offset

	return vertex, nil
}
