package hal

import (
	"log/slog"

	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/jkleinecke/rhi/hal/program"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// ShaderStage supplies one stage of a program. Either WGSL is set, in which case it is compiled and the
// entry point named Entry is reflected, or SPIRV is set along with the caller's Reflection of it.
type ShaderStage struct {
	WGSL  string
	Entry string

	SPIRV      []uint32
	Reflection program.StageReflection
}

// ProgramDesc lists a vertex stage with an optional fragment stage, or a single compute stage
type ProgramDesc struct {
	Stages []ShaderStage
	// ValidateWGSL runs the WGSL validator before code generation
	ValidateWGSL bool
	Name         string
}

type programStage struct {
	stage  core1_0.ShaderStageFlags
	entry  string
	module driver.ShaderModule
}

type shaderProgram struct {
	name           string
	layout         *program.Layout
	stages         []programStage
	setLayouts     []driver.DescriptorSetLayout
	pipelineLayout driver.PipelineLayout

	// kernels counts the live kernels built from this program
	kernels int
}

func (p *shaderProgram) destroy() {
	if p.pipelineLayout != nil {
		p.pipelineLayout.Destroy()
	}
	for _, setLayout := range p.setLayouts {
		setLayout.Destroy()
	}
	for _, stage := range p.stages {
		stage.module.Destroy()
	}
}

func (p *shaderProgram) stage(flag core1_0.ShaderStageFlags) (programStage, bool) {
	for _, stage := range p.stages {
		if stage.stage == flag {
			return stage, true
		}
	}
	return programStage{}, false
}

func (p *shaderProgram) compute() bool {
	return p.layout.Stages&core1_0.StageCompute != 0
}

type compiledStage struct {
	code       []uint32
	reflection program.StageReflection
}

func compileStages(desc ProgramDesc) ([]compiledStage, error) {
	modules := make(map[string]*program.Module)
	out := make([]compiledStage, 0, len(desc.Stages))

	for i, stage := range desc.Stages {
		if stage.WGSL == "" {
			if len(stage.SPIRV) == 0 {
				return nil, invalidParameter("program %q stage %d has neither wgsl nor spir-v", desc.Name, i)
			}
			reflection := stage.Reflection
			if stage.Entry != "" {
				reflection.EntryPoint = stage.Entry
			}
			if reflection.EntryPoint == "" {
				reflection.EntryPoint = "main"
			}
			out = append(out, compiledStage{code: stage.SPIRV, reflection: reflection})
			continue
		}

		module, ok := modules[stage.WGSL]
		if !ok {
			var err error
			module, err = program.CompileWGSL(stage.WGSL, program.WGSLOptions{Validate: desc.ValidateWGSL})
			if err != nil {
				return nil, invalidParameter("program %q stage %d: %v", desc.Name, i, err)
			}
			modules[stage.WGSL] = module
		}

		reflection, ok := module.EntryPoint(stage.Entry)
		if !ok {
			return nil, invalidParameter("program %q has no entry point %q", desc.Name, stage.Entry)
		}
		out = append(out, compiledStage{code: module.SPIRV, reflection: reflection})
	}

	return out, nil
}

func validateStageSet(name string, stages core1_0.ShaderStageFlags) error {
	switch {
	case stages&core1_0.StageCompute != 0:
		if stages != core1_0.StageCompute {
			return invalidParameter("program %q mixes compute and graphics stages", name)
		}
	case stages&core1_0.StageVertex == 0:
		return invalidParameter("program %q has no vertex stage", name)
	case stages&^(core1_0.StageVertex|core1_0.StageFragment) != 0:
		return invalidParameter("program %q has unsupported stages %s", name, stages)
	}
	return nil
}

// CreateProgram compiles or loads each stage, merges their reflection and creates the descriptor set
// layouts and pipeline layout every kernel of the program shares
func (d *Device) CreateProgram(heapHandle HeapHandle, desc ProgramDesc) (ProgramHandle, error) {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(heapHandle.id)
	if err != nil {
		return ProgramHandle{}, err
	}
	if len(desc.Stages) == 0 {
		return ProgramHandle{}, invalidParameter("program %q has no stages", desc.Name)
	}

	compiled, err := compileStages(desc)
	if err != nil {
		return ProgramHandle{}, err
	}

	reflections := make([]program.StageReflection, 0, len(compiled))
	for _, stage := range compiled {
		reflections = append(reflections, stage.reflection)
	}
	layout, err := program.Merge(reflections)
	if err != nil {
		return ProgramHandle{}, invalidParameter("program %q: %v", desc.Name, err)
	}

	err = validateStageSet(desc.Name, layout.Stages)
	if err != nil {
		return ProgramHandle{}, err
	}
	maxSets := min(MaxDescriptorSets, d.gpu.Limits().MaxBoundDescriptorSets)
	if len(layout.Sets) > maxSets {
		return ProgramHandle{}, invalidParameter("program %q uses %d descriptor sets, the limit is %d", desc.Name, len(layout.Sets), maxSets)
	}

	p := &shaderProgram{name: desc.Name, layout: layout}
	err = d.buildProgram(p, compiled)
	if err != nil {
		p.destroy()
		return ProgramHandle{}, err
	}

	id, err := heap.programs.insert(p)
	if err != nil {
		p.destroy()
		return ProgramHandle{}, err
	}

	d.logger.Debug("Device::CreateProgram", slog.Int("Heap", int(heap.id)), slog.Int("Id", int(id)), slog.String("Name", desc.Name), slog.String("Stages", layout.Stages.String()), slog.Int("Sets", len(layout.Sets)))
	return ProgramHandle{handle{heap: heap.id, id: id}}, nil
}

func (d *Device) buildProgram(p *shaderProgram, compiled []compiledStage) error {
	for _, stage := range compiled {
		module, err := d.gpu.CreateShaderModule(stage.code)
		if err != nil {
			return nativeError(err, "failed to create %s shader module for program %q", stage.reflection.Stage, p.name)
		}
		p.stages = append(p.stages, programStage{
			stage:  stage.reflection.Stage,
			entry:  stage.reflection.EntryPoint,
			module: module,
		})
	}

	for _, set := range p.layout.Sets {
		setLayout, err := d.gpu.CreateDescriptorSetLayout(set.NativeBindings())
		if err != nil {
			return nativeError(err, "failed to create layout for set %d of program %q", set.Set, p.name)
		}
		p.setLayouts = append(p.setLayouts, setLayout)
	}

	var pushConstants []core1_0.PushConstantRange
	if p.layout.PushConstantRange != nil {
		pushConstants = append(pushConstants, *p.layout.PushConstantRange)
	}

	var err error
	p.pipelineLayout, err = d.gpu.CreatePipelineLayout(p.setLayouts, pushConstants)
	if err != nil {
		return nativeError(err, "failed to create pipeline layout for program %q", p.name)
	}
	return nil
}

func (d *Device) lookupProgram(h ProgramHandle) (*shaderProgram, error) {
	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return nil, err
	}
	p, ok := heap.programs.get(h.id)
	if !ok {
		return nil, invalidParameter("program %d does not exist in heap %d", h.id, h.heap)
	}
	return p, nil
}

// ProgramLayout returns the merged reflection of a program
func (d *Device) ProgramLayout(h ProgramHandle) (*program.Layout, error) {
	d.heapLock.RLock()
	defer d.heapLock.RUnlock()

	p, err := d.lookupProgram(h)
	if err != nil {
		return nil, err
	}
	return p.layout, nil
}

// DestroyProgram destroys a program. Kernels built from it must be destroyed first.
func (d *Device) DestroyProgram(h ProgramHandle) error {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return err
	}
	p, ok := heap.programs.get(h.id)
	if !ok {
		return invalidParameter("program %d does not exist in heap %d", h.id, h.heap)
	}
	if p.kernels > 0 {
		return invalidOperation("program %q still has %d kernels", p.name, p.kernels)
	}

	heap.programs.erase(h.id)
	p.destroy()
	return nil
}
