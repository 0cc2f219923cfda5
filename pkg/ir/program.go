package ir

// Function is one function's IR body plus the signature and parameter
// bindings needed to call it. A function with BodyIsDefined == false is an
// external (host-imported) symbol: Instrs is empty and the target code
// generator emits a Wasm import instead of a Wasm function body.
type Function struct {
	Name              string
	Instrs            []Instruction
	TypeInfo          IrType // IrType{Kind: KFunction, ...}
	ParamVarMappings  []VarId
	BodyIsDefined     bool
}

// ProgramInstructions holds every function body plus the global
// initializer sequence that runs once before main.
type ProgramInstructions struct {
	Functions    map[FunId]*Function
	GlobalInstrs []Instruction
}

// ProgramMetadata is every cross-cutting table the IR, relooper and code
// generator consult. It is a single owned value threaded through the
// pipeline by mutable reference -- there is no other process-wide state.
type ProgramMetadata struct {
	IDs *IdGenerators

	FunNames map[string]FunId
	FunIds   map[FunId]string

	FunTypes   map[FunId]IrType
	FunParams  map[FunId][]VarId

	VarTypes map[VarId]IrType
	VarKinds map[VarId]ValueType

	StringLiterals map[StringLiteralId][]byte

	Aggregates *AggregateTable

	EnumConstants map[string]int64

	// NullDest is the distinguished Var written to by operators whose
	// result is discarded; the emitter skips stores to it.
	NullDest VarId

	// ImportedFunctionNames is the fixed set of names recognized as host
	// imports (at minimum "printf"). Any function in this set whose body
	// is absent becomes a Wasm import.
	ImportedFunctionNames map[string]bool
}

func NewProgramMetadata() *ProgramMetadata {
	m := &ProgramMetadata{
		IDs:                   &IdGenerators{},
		FunNames:              make(map[string]FunId),
		FunIds:                make(map[FunId]string),
		FunTypes:              make(map[FunId]IrType),
		FunParams:             make(map[FunId][]VarId),
		VarTypes:              make(map[VarId]IrType),
		VarKinds:              make(map[VarId]ValueType),
		StringLiterals:        make(map[StringLiteralId][]byte),
		Aggregates:            NewAggregateTable(),
		EnumConstants:         make(map[string]int64),
		ImportedFunctionNames: defaultImportedFunctionNames(),
	}
	m.NullDest = m.NewVar(NoValue)
	m.AddVarType(m.NullDest, TypeVoid)
	return m
}

// defaultImportedFunctionNames is get_imported_function_names(): the fixed
// set of host-provided symbols the front end may call without a body.
func defaultImportedFunctionNames() map[string]bool {
	return map[string]bool{
		"printf":  true,
		"putchar": true,
		"puts":    true,
		"malloc":  true,
		"free":    true,
	}
}

func GetImportedFunctionNames() []string {
	names := make([]string, 0, len(defaultImportedFunctionNames()))
	for n := range defaultImportedFunctionNames() {
		names = append(names, n)
	}
	return names
}

func (m *ProgramMetadata) NewVar(kind ValueType) VarId {
	v := m.IDs.NewVarId()
	m.VarKinds[v] = kind
	return v
}

func (m *ProgramMetadata) AddVarType(v VarId, t IrType) { m.VarTypes[v] = t }

func (m *ProgramMetadata) VarType(v VarId) (IrType, bool) {
	t, ok := m.VarTypes[v]
	return t, ok
}

func (m *ProgramMetadata) NewInstrId() InstructionId { return m.IDs.NewInstructionId() }

func (m *ProgramMetadata) NewLabelId() LabelId { return m.IDs.NewLabelId() }

// DeclareFunction registers a function symbol (imported or locally
// defined) under name, returning its FunId. Declaring the same name twice
// is a DuplicateFunctionDeclaration error, surfaced by the caller (the
// front end / program builder), not by this low-level accessor.
func (m *ProgramMetadata) DeclareFunction(name string, t IrType) FunId {
	id := m.IDs.NewFunId()
	m.FunNames[name] = id
	m.FunIds[id] = name
	m.FunTypes[id] = t
	return id
}

func (m *ProgramMetadata) AddStringLiteral(bytes []byte) StringLiteralId {
	id := m.IDs.NewStringLiteralId()
	m.StringLiterals[id] = bytes
	return id
}

// Program bundles ProgramInstructions and ProgramMetadata -- the full
// input to the relooper and, after relooping, to the target code
// generator. AST-to-IR conversion fills it; neither the relooper nor the
// code generator mutate ProgramMetadata's tables once reloop() begins,
// aside from allocating fresh synthetic labels/instruction IDs from the
// generators it already owns.
type Program struct {
	Instructions *ProgramInstructions
	Metadata     *ProgramMetadata
}

func NewProgram() *Program {
	return &Program{
		Instructions: &ProgramInstructions{Functions: make(map[FunId]*Function)},
		Metadata:     NewProgramMetadata(),
	}
}
