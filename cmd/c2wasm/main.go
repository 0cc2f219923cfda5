package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/minz/c2wasm/pkg/astconv"
	"github.com/minz/c2wasm/pkg/astmini"
	"github.com/minz/c2wasm/pkg/frame"
	"github.com/minz/c2wasm/pkg/ir"
	"github.com/minz/c2wasm/pkg/irtext"
	"github.com/minz/c2wasm/pkg/relooper"
	"github.com/minz/c2wasm/pkg/wasmgen"
)

var (
	outputFile  string
	exportName  string
	emitWat     bool
	listImports bool
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:   "c2wasm [flags] <input.c>",
	Short: "Compile a narrow C subset to a single freestanding WebAssembly module",
	Long: `c2wasm - C to WebAssembly compiler
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
Lowers one C translation unit through a typed three-address IR, a
soupifier, a Zakai-style relooper and a shadow-stack frame planner into a
single Wasm binary module with one _start (or main) export.

EXAMPLES:
  c2wasm hello.c                 # writes hello.wasm
  c2wasm hello.c -o out.wasm     # explicit output path
  c2wasm hello.c --emit-wat      # also write hello.ir.txt, a readable IR dump
  c2wasm --list-imports          # print the recognized host import names
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if listImports {
			for _, name := range sortedImportNames() {
				fmt.Println(name)
			}
			return nil
		}
		if len(args) == 0 {
			return cmd.Help()
		}
		return compile(args[0])
	},
}

func init() {
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output .wasm path (default: input with .wasm)")
	rootCmd.Flags().StringVar(&exportName, "export-name", wasmgen.DefaultExportName, `"main" or "_start"`)
	rootCmd.Flags().BoolVar(&emitWat, "emit-wat", false, "also write a human-readable instruction trace")
	rootCmd.Flags().BoolVar(&listImports, "list-imports", false, "print the recognized host import names and exit")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "verbose stage-by-stage tracing to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func sortedImportNames() []string {
	names := ir.GetImportedFunctionNames()
	sort.Strings(names)
	return names
}

func compile(sourceFile string) error {
	if debug {
		fmt.Fprintf(os.Stderr, "compiling %s...\n", sourceFile)
	}

	src, err := os.ReadFile(sourceFile)
	if err != nil {
		return fmt.Errorf("read error: %w", err)
	}

	prog, err := astmini.Parse(string(src))
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if debug {
		fmt.Fprintf(os.Stderr, "parsed %d top-level declarations\n", len(prog.Decls))
	}

	irProg, err := astconv.Convert(prog)
	if err != nil {
		return fmt.Errorf("ast-to-ir error: %w", err)
	}

	if outputFile == "" {
		ext := filepath.Ext(sourceFile)
		outputFile = sourceFile[:len(sourceFile)-len(ext)] + ".wasm"
	}

	if emitWat {
		irFile := outputFile[:len(outputFile)-len(filepath.Ext(outputFile))] + ".ir.txt"
		if err := os.WriteFile(irFile, []byte(irtext.Print(irProg)), 0o644); err != nil {
			return fmt.Errorf("failed to write IR dump: %w", err)
		}
		if debug {
			fmt.Fprintf(os.Stderr, "wrote IR dump to %s\n", irFile)
		}
	}

	wasmBytes, err := compileIRToWasm(irProg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outputFile, wasmBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputFile, err)
	}
	if debug {
		fmt.Fprintf(os.Stderr, "wrote %d bytes to %s\n", len(wasmBytes), outputFile)
	}
	return nil
}

// compileIRToWasm runs the relooper, frame planner and code generator over
// a fully-built IR program and assembles the final binary module.
func compileIRToWasm(irProg *ir.Program) ([]byte, error) {
	mainFunID, ok := irProg.Metadata.FunNames["main"]
	if !ok {
		return nil, fmt.Errorf("no function named \"main\" was defined")
	}

	reloop, err := relooper.Reloop(irProg)
	if err != nil {
		return nil, fmt.Errorf("relooper error: %w", err)
	}

	globalPlan, err := frame.PlanGlobals(reloop.GlobalInstrs, frame.GlobalsStartAddr, irProg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("frame error: %w", err)
	}

	ids := make([]ir.FunId, 0, len(reloop.Functions))
	for id := range reloop.Functions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	funcs := make([]wasmgen.FuncBody, 0, len(ids))
	for _, id := range ids {
		rf := reloop.Functions[id]
		fb := wasmgen.FuncBody{
			FunId:         id,
			Name:          irProg.Metadata.FunIds[id],
			BodyIsDefined: rf.BodyIsDefined,
		}
		if rf.BodyIsDefined {
			plan, err := frame.PlanFunctionFrame(rf.Block, rf.TypeInfo, rf.ParamVarMappings, irProg.Metadata)
			if err != nil {
				return nil, fmt.Errorf("frame error in function %q: %w", fb.Name, err)
			}
			fb.Block = rf.Block
			fb.FramePlan = plan
			fb.LabelVar = rf.LabelVariable
		}
		funcs = append(funcs, fb)
	}

	return wasmgen.AssembleModule(irProg.Metadata, funcs, reloop.GlobalInstrs, reloop.GlobalLabelVar, globalPlan, mainFunID, exportName)
}
