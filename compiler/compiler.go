package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/euxaristia/pcc-sub000/compiler/arch"
	"github.com/euxaristia/pcc-sub000/compiler/ast"
	"github.com/euxaristia/pcc-sub000/compiler/back"
	"github.com/euxaristia/pcc-sub000/compiler/elf"
	"github.com/euxaristia/pcc-sub000/compiler/irgen"
)

type Options struct {
	Target arch.Target
	Class  elf.Class

	ModuleName string
}

// Compile runs the whole backend: lower the program to IR, emit
// assembly and section payloads for the target, wrap them into a
// relocatable object. The first error aborts, nothing partial comes
// back.
func Compile(ctx context.Context, prog *ast.Program, opts Options) (obj []byte, err error) {
	o, err := emit(ctx, prog, opts)
	if err != nil {
		return nil, err
	}

	machine := elf.MachineX86_64
	if opts.Target == arch.ARM64 {
		machine = elf.MachineAArch64
	}

	class := opts.Class
	if class == 0 {
		class = elf.Class64
	}

	w := elf.NewWriter(class, machine)

	w.Add(elf.Section{
		Name:      ".text",
		Type:      elf.SHT_PROGBITS,
		Flags:     elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Addralign: 16,
		Bytes:     o.Text,
	})

	if len(o.Data) != 0 {
		w.Add(elf.Section{
			Name:      ".data",
			Type:      elf.SHT_PROGBITS,
			Flags:     elf.SHF_ALLOC | elf.SHF_WRITE,
			Addralign: 8,
			Bytes:     o.Data,
		})
	}

	if o.BssSize != 0 {
		w.Add(elf.Section{
			Name:      ".bss",
			Type:      elf.SHT_NOBITS,
			Flags:     elf.SHF_ALLOC | elf.SHF_WRITE,
			Addralign: 4,
			Size:      uint64(o.BssSize),
		})
	}

	obj = w.Finish()

	tlog.SpanFromContext(ctx).Printw("object", "size", len(obj), "class", int(class), "machine", int(machine))

	return obj, nil
}

// EmitAssembly stops after the emitter and returns the listing.
func EmitAssembly(ctx context.Context, prog *ast.Program, opts Options) ([]byte, error) {
	o, err := emit(ctx, prog, opts)
	if err != nil {
		return nil, err
	}

	return o.Asm, nil
}

func emit(ctx context.Context, prog *ast.Program, opts Options) (*back.Object, error) {
	name := opts.ModuleName
	if name == "" {
		name = "main"
	}

	m, err := irgen.New().Build(ctx, prog)
	if err != nil {
		return nil, errors.Wrap(err, "lower")
	}

	m.Name = name

	o, err := back.New(arch.New(opts.Target)).CompileModule(ctx, m)
	if err != nil {
		return nil, errors.Wrap(err, "emit")
	}

	return o, nil
}
