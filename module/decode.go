package module

import (
	"bytes"
	"fmt"

	"j5.nz/svm/encoding"
)

// magic identifies a persisted module; the trailing byte is a format
// version (spec §6 "Module binary format").
var magic = []byte{'S', 'V', 'M', 1}

// Decode parses a module's raw bytes into its pre-rewrite, in-memory form
// (spec §4.3 step 1). Struct layouts are not yet computed, imports are not
// yet resolved, and Code still holds unrewritten, symbolic instructions.
func Decode(data []byte) (*Module, error) {
	r := encoding.NewReader(data)

	hdr, err := r.ReadN(len(magic))
	if err != nil {
		return nil, errf("decode", r.Pos(), "read magic: %v", err)
	}
	if !bytes.Equal(hdr, magic) {
		return nil, errf("decode", 0, "bad magic %x", hdr)
	}

	consts, err := decodeConstants(r)
	if err != nil {
		return nil, err
	}
	imports, err := decodeImports(r)
	if err != nil {
		return nil, err
	}
	exports, err := decodeExports(r)
	if err != nil {
		return nil, err
	}

	codeLen, err := encoding.ReadUVLE(r)
	if err != nil {
		return nil, errf("decode", r.Pos(), "read code length: %v", err)
	}
	code, err := r.ReadN(int(codeLen))
	if err != nil {
		return nil, errf("decode", r.Pos(), "read code blob: %v", err)
	}

	return &Module{
		Constants: consts,
		Imports:   imports,
		Exports:   exports,
		Code:      code,
		Labels:    make(map[int]int),
	}, nil
}

func decodeConstants(r *encoding.Reader) ([]ConstantEntry, error) {
	n, err := encoding.ReadUVLE(r)
	if err != nil {
		return nil, errf("decode", r.Pos(), "read constant pool count: %v", err)
	}
	out := make([]ConstantEntry, n)
	for i := range out {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, errf("decode", r.Pos(), "read constant tag: %v", err)
		}
		switch ConstantKind(tag) {
		case ConstI32:
			v, err := r.ReadU32()
			if err != nil {
				return nil, errf("decode", r.Pos(), "read i32 constant: %v", err)
			}
			out[i] = ConstantEntry{Kind: ConstI32, I32: int32(v)}
		case ConstF32:
			v, err := r.ReadF32()
			if err != nil {
				return nil, errf("decode", r.Pos(), "read f32 constant: %v", err)
			}
			out[i] = ConstantEntry{Kind: ConstF32, F32: v}
		case ConstStr:
			s, err := r.ReadString()
			if err != nil {
				return nil, errf("decode", r.Pos(), "read str constant: %v", err)
			}
			out[i] = ConstantEntry{Kind: ConstStr, Str: s}
		default:
			return nil, errf("decode", r.Pos(), "unknown constant tag %d", tag)
		}
	}
	return out, nil
}

func decodeImports(r *encoding.Reader) ([]Import, error) {
	n, err := encoding.ReadUVLE(r)
	if err != nil {
		return nil, errf("decode", r.Pos(), "read import count: %v", err)
	}
	out := make([]Import, n)
	for i := range out {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, errf("decode", r.Pos(), "read import kind: %v", err)
		}
		name, err := r.ReadString()
		if err != nil {
			return nil, errf("decode", r.Pos(), "read import name: %v", err)
		}
		pkgIdx, err := encoding.ReadUVLE(r)
		if err != nil {
			return nil, errf("decode", r.Pos(), "read import package index: %v", err)
		}
		out[i] = Import{Kind: SymbolKind(kind), Name: name, PackageIdx: int(pkgIdx)}
	}
	return out, nil
}

func decodeExports(r *encoding.Reader) ([]Export, error) {
	n, err := encoding.ReadUVLE(r)
	if err != nil {
		return nil, errf("decode", r.Pos(), "read export count: %v", err)
	}
	out := make([]Export, n)
	for i := range out {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, errf("decode", r.Pos(), "read export kind: %v", err)
		}
		name, err := r.ReadString()
		if err != nil {
			return nil, errf("decode", r.Pos(), "read export name: %v", err)
		}

		exp := Export{Kind: SymbolKind(kind), Name: name}
		switch exp.Kind {
		case SymFunction:
			fd, err := decodeFunction(r, name)
			if err != nil {
				return nil, err
			}
			exp.Function = fd
		case SymType:
			sd, err := decodeStruct(r, name)
			if err != nil {
				return nil, err
			}
			exp.Struct = sd
		case SymConstant:
			v, err := encoding.ReadUVLE(r)
			if err != nil {
				return nil, errf("decode", r.Pos(), "read constant export value: %v", err)
			}
			exp.ConstantValue = int(v)
		default:
			return nil, errf("decode", r.Pos(), "unsupported export kind %d for %q", kind, name)
		}
		out[i] = exp
	}
	return out, nil
}

func decodeFunction(r *encoding.Reader, name string) (*FunctionDescriptor, error) {
	nativeFlag, err := r.ReadByte()
	if err != nil {
		return nil, errf("decode", r.Pos(), "read function native flag: %v", err)
	}
	retType, err := encoding.ReadVariableType(r)
	if err != nil {
		return nil, errf("decode", r.Pos(), "read function return type: %v", err)
	}
	argCount, err := encoding.ReadUVLE(r)
	if err != nil {
		return nil, errf("decode", r.Pos(), "read function arg count: %v", err)
	}
	argTypes := make([]VariableType, argCount)
	for i := range argTypes {
		argTypes[i], err = encoding.ReadVariableType(r)
		if err != nil {
			return nil, errf("decode", r.Pos(), "read function arg type %d: %v", i, err)
		}
	}

	fd := &FunctionDescriptor{Name: name, ReturnType: retType, ArgTypes: argTypes}

	if nativeFlag != 0 {
		fd.Native = true
		lib, err := r.ReadString()
		if err != nil {
			return nil, errf("decode", r.Pos(), "read native library name: %v", err)
		}
		fd.LibraryName = lib
		return fd, nil
	}

	entryPoint, err := encoding.ReadUVLE(r)
	if err != nil {
		return nil, errf("decode", r.Pos(), "read function entry point: %v", err)
	}
	fd.EntryPoint = int(entryPoint)

	localCount, err := encoding.ReadUVLE(r)
	if err != nil {
		return nil, errf("decode", r.Pos(), "read function local count: %v", err)
	}
	fd.Locals = make([]Local, localCount)
	for i := range fd.Locals {
		lname, err := r.ReadString()
		if err != nil {
			return nil, errf("decode", r.Pos(), "read local name %d: %v", i, err)
		}
		ltype, err := encoding.ReadVariableType(r)
		if err != nil {
			return nil, errf("decode", r.Pos(), "read local type %d: %v", i, err)
		}
		fd.Locals[i] = Local{Name: lname, Type: ltype}
	}
	return fd, nil
}

func decodeStruct(r *encoding.Reader, name string) (*StructDescriptor, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return nil, errf("decode", r.Pos(), "read struct flags: %v", err)
	}
	fieldCount, err := encoding.ReadUVLE(r)
	if err != nil {
		return nil, errf("decode", r.Pos(), "read struct field count: %v", err)
	}
	sd := &StructDescriptor{Name: name, Flags: flags, Fields: make([]Field, fieldCount)}
	for i := range sd.Fields {
		fname, err := r.ReadString()
		if err != nil {
			return nil, errf("decode", r.Pos(), "read field name %d: %v", i, err)
		}
		ftype, err := encoding.ReadVariableType(r)
		if err != nil {
			return nil, errf("decode", r.Pos(), "read field type %d: %v", i, err)
		}
		sd.Fields[i] = Field{Name: fname, Type: ftype}
	}
	return sd, nil
}

// Encode serialises m back into its on-disk form, the inverse of Decode. It
// is used by tests to verify the round-trip law in spec §8 and by any
// out-of-scope module producer.
func Encode(m *Module) ([]byte, error) {
	w := encoding.NewWriter()
	w.WriteN(magic)

	if err := encoding.WriteUVLE(w, uint64(len(m.Constants))); err != nil {
		return nil, err
	}
	for _, c := range m.Constants {
		if err := w.WriteByte(byte(c.Kind)); err != nil {
			return nil, err
		}
		switch c.Kind {
		case ConstI32:
			w.WriteU32(uint32(c.I32))
		case ConstF32:
			w.WriteF32(c.F32)
		case ConstStr:
			if err := w.WriteString(c.Str); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("module: encode: unknown constant kind %d", c.Kind)
		}
	}

	if err := encoding.WriteUVLE(w, uint64(len(m.Imports))); err != nil {
		return nil, err
	}
	for _, imp := range m.Imports {
		if err := w.WriteByte(byte(imp.Kind)); err != nil {
			return nil, err
		}
		if err := w.WriteString(imp.Name); err != nil {
			return nil, err
		}
		if err := encoding.WriteUVLE(w, uint64(imp.PackageIdx)); err != nil {
			return nil, err
		}
	}

	if err := encoding.WriteUVLE(w, uint64(len(m.Exports))); err != nil {
		return nil, err
	}
	for _, exp := range m.Exports {
		if err := w.WriteByte(byte(exp.Kind)); err != nil {
			return nil, err
		}
		if err := w.WriteString(exp.Name); err != nil {
			return nil, err
		}
		switch exp.Kind {
		case SymFunction:
			if err := encodeFunction(w, exp.Function); err != nil {
				return nil, err
			}
		case SymType:
			if err := encodeStruct(w, exp.Struct); err != nil {
				return nil, err
			}
		case SymConstant:
			if err := encoding.WriteUVLE(w, uint64(exp.ConstantValue)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("module: encode: unsupported export kind %d for %q", exp.Kind, exp.Name)
		}
	}

	if err := encoding.WriteUVLE(w, uint64(len(m.Code))); err != nil {
		return nil, err
	}
	w.WriteN(m.Code)

	return w.Bytes(), nil
}

func encodeFunction(w *encoding.Writer, fd *FunctionDescriptor) error {
	nativeFlag := byte(0)
	if fd.Native {
		nativeFlag = 1
	}
	if err := w.WriteByte(nativeFlag); err != nil {
		return err
	}
	if err := encoding.WriteVariableType(w, fd.ReturnType); err != nil {
		return err
	}
	if err := encoding.WriteUVLE(w, uint64(len(fd.ArgTypes))); err != nil {
		return err
	}
	for _, at := range fd.ArgTypes {
		if err := encoding.WriteVariableType(w, at); err != nil {
			return err
		}
	}
	if fd.Native {
		return w.WriteString(fd.LibraryName)
	}
	if err := encoding.WriteUVLE(w, uint64(fd.EntryPoint)); err != nil {
		return err
	}
	if err := encoding.WriteUVLE(w, uint64(len(fd.Locals))); err != nil {
		return err
	}
	for _, l := range fd.Locals {
		if err := w.WriteString(l.Name); err != nil {
			return err
		}
		if err := encoding.WriteVariableType(w, l.Type); err != nil {
			return err
		}
	}
	return nil
}

func encodeStruct(w *encoding.Writer, sd *StructDescriptor) error {
	if err := w.WriteByte(sd.Flags); err != nil {
		return err
	}
	if err := encoding.WriteUVLE(w, uint64(len(sd.Fields))); err != nil {
		return err
	}
	for _, f := range sd.Fields {
		if err := w.WriteString(f.Name); err != nil {
			return err
		}
		if err := encoding.WriteVariableType(w, f.Type); err != nil {
			return err
		}
	}
	return nil
}
