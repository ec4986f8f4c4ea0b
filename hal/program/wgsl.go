package program

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// WGSLOptions controls how WGSL source is compiled
type WGSLOptions struct {
	// Validate runs naga's IR validator before SPIR-V generation
	Validate bool
	// Debug emits debug names into the SPIR-V module
	Debug bool
}

// Module is a compiled WGSL module. Every entry point shares the same SPIR-V words.
type Module struct {
	SPIRV       []uint32
	EntryPoints []StageReflection
}

// EntryPoint returns the reflection of the named entry point
func (m *Module) EntryPoint(name string) (StageReflection, bool) {
	for _, entry := range m.EntryPoints {
		if entry.EntryPoint == name {
			return entry, true
		}
	}
	return StageReflection{}, false
}

// CompileWGSL compiles WGSL source to SPIR-V and reflects the interface of each entry point
func CompileWGSL(source string, options WGSLOptions) (*Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse wgsl")
	}

	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, errors.Wrap(err, "failed to lower wgsl")
	}

	if options.Validate {
		validationErrors, err := naga.Validate(module)
		if err != nil {
			return nil, errors.Wrap(err, "failed to validate wgsl")
		}
		if len(validationErrors) > 0 {
			return nil, errors.Wrapf(validationErrors[0], "wgsl failed validation with %d errors", len(validationErrors))
		}
	}

	code, err := naga.GenerateSPIRV(module, spirv.Options{
		Version: spirv.Version1_3,
		Debug:   options.Debug,
	})
	if err != nil {
		return nil, err
	}

	words, err := SPIRVWords(code)
	if err != nil {
		return nil, err
	}

	reflector := reflector{module: module}
	out := &Module{SPIRV: words}
	for _, entry := range module.EntryPoints {
		stage, err := reflector.entryPoint(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to reflect entry point %q", entry.Name)
		}
		out.EntryPoints = append(out.EntryPoints, stage)
	}

	return out, nil
}

// SPIRVWords converts a little-endian SPIR-V byte stream to words
func SPIRVWords(code []byte) ([]uint32, error) {
	if len(code)%4 != 0 {
		return nil, errors.Newf("spir-v length %d is not a multiple of 4", len(code))
	}

	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words, nil
}

type reflector struct {
	module *ir.Module
}

func (r reflector) inner(handle ir.TypeHandle) ir.TypeInner {
	if int(handle) >= len(r.module.Types) {
		return nil
	}
	return r.module.Types[handle].Inner
}

func (r reflector) entryPoint(entry ir.EntryPoint) (StageReflection, error) {
	var stage core1_0.ShaderStageFlags
	switch entry.Stage {
	case ir.StageVertex:
		stage = core1_0.StageVertex
	case ir.StageFragment:
		stage = core1_0.StageFragment
	case ir.StageCompute:
		stage = core1_0.StageCompute
	default:
		return StageReflection{}, errors.Newf("unsupported shader stage %d", entry.Stage)
	}

	reflection := StageReflection{
		Stage:      stage,
		EntryPoint: entry.Name,
	}

	// naga does not track which globals an entry point touches, so every stage reports every resource
	for _, global := range r.module.GlobalVariables {
		switch global.Space {
		case ir.SpaceUniform, ir.SpaceStorage, ir.SpaceHandle:
			if global.Binding == nil {
				continue
			}
			binding, err := r.descriptor(global)
			if err != nil {
				return StageReflection{}, err
			}
			binding.Stages = stage
			reflection.Bindings = append(reflection.Bindings, binding)
		case ir.SpacePushConstant:
			constants, err := r.pushConstants(global)
			if err != nil {
				return StageReflection{}, err
			}
			for i := range constants {
				constants[i].Stages = stage
			}
			reflection.PushConstants = append(reflection.PushConstants, constants...)
		}
	}

	if entry.Stage == ir.StageVertex {
		inputs, err := r.vertexInputs(entry.Function)
		if err != nil {
			return StageReflection{}, err
		}
		reflection.VertexInputs = inputs
	}

	return reflection, nil
}

func (r reflector) descriptor(global ir.GlobalVariable) (DescriptorBinding, error) {
	binding := DescriptorBinding{
		Name:    global.Name,
		Set:     int(global.Binding.Group),
		Binding: int(global.Binding.Binding),
		Count:   1,
	}

	if global.Space == ir.SpaceUniform {
		binding.Type = core1_0.DescriptorTypeUniformBuffer
		return binding, nil
	}
	if global.Space == ir.SpaceStorage {
		binding.Type = core1_0.DescriptorTypeStorageBuffer
		return binding, nil
	}

	inner := r.inner(global.Type)
	if array, isArray := inner.(ir.ArrayType); isArray {
		if array.Size.Constant == nil {
			return DescriptorBinding{}, errors.Newf("binding %q is a runtime-sized binding array", global.Name)
		}
		binding.Count = int(*array.Size.Constant)
		inner = r.inner(array.Base)
	}

	switch resource := inner.(type) {
	case ir.SamplerType:
		binding.Type = core1_0.DescriptorTypeSampler
	case ir.ImageType:
		if resource.Class == ir.ImageClassStorage {
			binding.Type = core1_0.DescriptorTypeStorageImage
		} else {
			binding.Type = core1_0.DescriptorTypeSampledImage
		}
	default:
		return DescriptorBinding{}, errors.Newf("binding %q has an unsupported resource type %T", global.Name, inner)
	}

	return binding, nil
}

// pushConstants flattens a push-constant block into one entry per struct member
func (r reflector) pushConstants(global ir.GlobalVariable) ([]PushConstant, error) {
	inner := r.inner(global.Type)
	block, isStruct := inner.(ir.StructType)
	if !isStruct {
		size, err := r.size(inner)
		if err != nil {
			return nil, errors.Wrapf(err, "push constant %q", global.Name)
		}
		return []PushConstant{{Name: global.Name, Size: size}}, nil
	}

	constants := make([]PushConstant, 0, len(block.Members))
	for i, member := range block.Members {
		end := int(block.Span)
		if i+1 < len(block.Members) {
			end = int(block.Members[i+1].Offset)
		}

		size, err := r.size(r.inner(member.Type))
		if err != nil {
			// Fall back on the distance to the next member
			size = end - int(member.Offset)
		}

		constants = append(constants, PushConstant{
			Name:   member.Name,
			Offset: int(member.Offset),
			Size:   size,
		})
	}
	return constants, nil
}

func (r reflector) vertexInputs(function ir.Function) ([]VertexInput, error) {
	var inputs []VertexInput

	add := func(name string, binding *ir.Binding, typeHandle ir.TypeHandle) error {
		if binding == nil {
			return nil
		}
		location, isLocation := (*binding).(ir.LocationBinding)
		if !isLocation {
			return nil
		}

		format, size, err := r.vertexFormat(r.inner(typeHandle))
		if err != nil {
			return errors.Wrapf(err, "vertex input %q", name)
		}
		inputs = append(inputs, VertexInput{
			Name:     name,
			Location: int(location.Location),
			Format:   format,
			Size:     size,
		})
		return nil
	}

	for _, argument := range function.Arguments {
		if argument.Binding != nil {
			if err := add(argument.Name, argument.Binding, argument.Type); err != nil {
				return nil, err
			}
			continue
		}

		block, isStruct := r.inner(argument.Type).(ir.StructType)
		if !isStruct {
			continue
		}
		for _, member := range block.Members {
			if err := add(member.Name, member.Binding, member.Type); err != nil {
				return nil, err
			}
		}
	}

	return inputs, nil
}

var vertexFormats = map[ir.ScalarKind][4]core1_0.Format{
	ir.ScalarFloat: {
		core1_0.FormatR32SignedFloat,
		core1_0.FormatR32G32SignedFloat,
		core1_0.FormatR32G32B32SignedFloat,
		core1_0.FormatR32G32B32A32SignedFloat,
	},
	ir.ScalarSint: {
		core1_0.FormatR32SignedInt,
		core1_0.FormatR32G32SignedInt,
		core1_0.FormatR32G32B32SignedInt,
		core1_0.FormatR32G32B32A32SignedInt,
	},
	ir.ScalarUint: {
		core1_0.FormatR32UnsignedInt,
		core1_0.FormatR32G32UnsignedInt,
		core1_0.FormatR32G32B32UnsignedInt,
		core1_0.FormatR32G32B32A32UnsignedInt,
	},
}

func (r reflector) vertexFormat(inner ir.TypeInner) (core1_0.Format, int, error) {
	var scalar ir.ScalarType
	components := 1

	switch t := inner.(type) {
	case ir.ScalarType:
		scalar = t
	case ir.VectorType:
		scalar = t.Scalar
		components = int(t.Size)
	default:
		return core1_0.FormatUndefined, 0, errors.Newf("unsupported vertex attribute type %T", inner)
	}

	formats, ok := vertexFormats[scalar.Kind]
	if !ok || scalar.Width != 4 || components < 1 || components > 4 {
		return core1_0.FormatUndefined, 0, errors.Newf("unsupported vertex attribute scalar kind %d width %d", scalar.Kind, scalar.Width)
	}

	return formats[components-1], components * int(scalar.Width), nil
}

func (r reflector) size(inner ir.TypeInner) (int, error) {
	switch t := inner.(type) {
	case ir.ScalarType:
		return int(t.Width), nil
	case ir.VectorType:
		return int(t.Size) * int(t.Scalar.Width), nil
	case ir.MatrixType:
		// Columns are padded to vec4 alignment when the column is a vec3
		rows := int(t.Rows)
		if rows == 3 {
			rows = 4
		}
		return int(t.Columns) * rows * int(t.Scalar.Width), nil
	case ir.ArrayType:
		if t.Size.Constant == nil {
			return 0, errors.New("runtime-sized arrays have no fixed size")
		}
		return int(*t.Size.Constant) * int(t.Stride), nil
	case ir.StructType:
		return int(t.Span), nil
	}
	return 0, errors.Newf("type %T has no host-shareable size", inner)
}
