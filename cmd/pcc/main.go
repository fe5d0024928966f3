package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xyproto/env/v2"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/euxaristia/pcc-sub000/compiler"
	"github.com/euxaristia/pcc-sub000/compiler/arch"
	"github.com/euxaristia/pcc-sub000/compiler/ast"
	"github.com/euxaristia/pcc-sub000/compiler/elf"
)

func main() {
	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "compile an ast json file into a relocatable object",
		Action:      compileAct,
		Args:        cli.Args{},
	}

	inspectCmd := &cli.Command{
		Name:        "inspect",
		Description: "print the header of an object file",
		Action:      inspectAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "pcc",
		Description: "pcc is the code generation backend of a c compiler",
		Commands: []*cli.Command{
			compileCmd,
			inspectCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func options(name string) (compiler.Options, error) {
	opts := compiler.Options{
		Class:      elf.Class64,
		ModuleName: name,
	}

	switch t := env.Str("PCC_TARGET", "x86_64"); t {
	case "x86_64":
		opts.Target = arch.X8664
	case "arm64":
		opts.Target = arch.ARM64
	default:
		return opts, errors.New("unknown target %q", t)
	}

	switch c := env.Str("PCC_CLASS", "elf64"); c {
	case "elf64":
	case "elf32":
		opts.Class = elf.Class32
	default:
		return opts, errors.New("unknown object class %q", c)
	}

	return opts, nil
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		err = compileFile(ctx, a)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}
	}

	return nil
}

func compileFile(ctx context.Context, name string) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return errors.Wrap(err, "read file")
	}

	prog, err := ast.DecodeJSON(data)
	if err != nil {
		return errors.Wrap(err, "decode ast")
	}

	base := strings.TrimSuffix(name, ".json")

	opts, err := options(base)
	if err != nil {
		return err
	}

	if env.Bool("PCC_ASM") {
		asm, err := compiler.EmitAssembly(ctx, prog, opts)
		if err != nil {
			return err
		}

		_, err = os.Stdout.Write(asm)

		return err
	}

	obj, err := compiler.Compile(ctx, prog, opts)
	if err != nil {
		return err
	}

	out := env.Str("PCC_OUT", base+".o")

	err = os.WriteFile(out, obj, 0o644)
	if err != nil {
		return errors.Wrap(err, "write object")
	}

	tlog.SpanFromContext(ctx).Printw("wrote object", "name", out, "size", len(obj))

	return nil
}

func inspectAct(c *cli.Command) (err error) {
	for _, a := range c.Args {
		data, err := os.ReadFile(a)
		if err != nil {
			return errors.Wrap(err, "read %v", a)
		}

		h, err := elf.ReadHeader(data)
		if err != nil {
			return errors.Wrap(err, "parse %v", a)
		}

		fmt.Printf("%s: class %d  type %d  machine %#x  shoff %d  shnum %d  shstrndx %d\n",
			a, h.Class, h.Type, h.Machine, h.Shoff, h.Shnum, h.Shstrndx)
	}

	return nil
}
