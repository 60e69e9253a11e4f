package wasmhost_test

// Minimal hand-assembled WebAssembly binary encoder used only by this
// package's tests, standing in for a real WASM toolchain: just enough of
// the binary format (type/import/function/export/code sections) to build
// single-function modules against the exec(i32x7)->i32 ABI.

func uleb(x uint32) []byte {
	var out []byte
	for {
		b := byte(x & 0x7F)
		x >>= 7
		if x != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

func sleb(x int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(x & 0x7F)
		x >>= 7
		signBitSet := b&0x40 != 0
		if (x == 0 && !signBitSet) || (x == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func vecBytes(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func nameBytes(s string) []byte {
	out := uleb(uint32(len(s)))
	return append(out, []byte(s)...)
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(content)))...)
	out = append(out, content...)
	return out
}

const i32 = 0x7F

// execFuncType encodes (i32 x7) -> i32.
func execFuncType() []byte {
	params := make([]byte, 7)
	for i := range params {
		params[i] = i32
	}
	out := []byte{0x60}
	out = append(out, uleb(7)...)
	out = append(out, params...)
	out = append(out, uleb(1)...)
	out = append(out, i32)
	return out
}

func memoryImport() []byte {
	out := nameBytes("env")
	out = append(out, nameBytes("memory")...)
	out = append(out, 0x02)     // import kind: memory
	out = append(out, 0x00)     // limits flag: min only
	out = append(out, uleb(17)...)
	return out
}

// buildModuleNoFunc builds a module that imports memory but defines no
// functions at all -- exercises the AbiMissing / missing-export path.
func buildModuleNoFunc() []byte {
	var out []byte
	out = append(out, 0x00, 0x61, 0x73, 0x6D)
	out = append(out, 0x01, 0x00, 0x00, 0x00)
	out = append(out, section(1, vecBytes(execFuncType()))...)
	out = append(out, section(2, vecBytes(memoryImport()))...)
	return out
}

// buildModuleWithFunc builds a single-function module of type (i32x7)->i32,
// with function body `body` (already including the leading local-decl
// count), exported under the name "exec".
func buildModuleWithFunc(body []byte) []byte {
	var out []byte
	out = append(out, 0x00, 0x61, 0x73, 0x6D)
	out = append(out, 0x01, 0x00, 0x00, 0x00)
	out = append(out, section(1, vecBytes(execFuncType()))...)
	out = append(out, section(2, vecBytes(memoryImport()))...)
	out = append(out, section(3, vecBytes(uleb(0)))...)

	exportEntry := nameBytes("exec")
	exportEntry = append(exportEntry, 0x00) // export kind: func
	exportEntry = append(exportEntry, uleb(0)...)
	out = append(out, section(7, vecBytes(exportEntry))...)

	codeEntry := uleb(uint32(len(body)))
	codeEntry = append(codeEntry, body...)
	out = append(out, section(10, vecBytes(codeEntry))...)
	return out
}

// statusModuleBody builds a function body that ignores every argument and
// returns the constant status code.
func statusModuleBody(status int64) []byte {
	body := []byte{0x00} // zero local declarations
	body = append(body, 0x41)
	body = append(body, sleb(status)...)
	body = append(body, 0x0B) // end
	return body
}

func trapModuleBody() []byte {
	return []byte{0x00, 0x00, 0x0B} // no locals; unreachable; end
}

// successModuleBody builds a function body that writes the literal bytes
// of payload into the output buffer (arg4 = output_ptr) and the byte
// count into the output-length cell (arg6 = output_len_ptr), then returns
// status 0. Intended only for small payloads (a handful of bytes).
func successModuleBody(payload []byte) []byte {
	body := []byte{0x00} // no locals

	for i, b := range payload {
		body = append(body, 0x20, 0x04) // local.get 4 (output_ptr)
		body = append(body, 0x41)
		body = append(body, sleb(int64(i))...)
		body = append(body, 0x6A)       // i32.add
		body = append(body, 0x41)
		body = append(body, sleb(int64(b))...)
		body = append(body, 0x3A, 0x00, 0x00) // i32.store8 align=0 offset=0
	}

	body = append(body, 0x20, 0x06) // local.get 6 (output_len_ptr)
	body = append(body, 0x41)
	body = append(body, sleb(int64(len(payload)))...)
	body = append(body, 0x36, 0x02, 0x00) // i32.store align=2 offset=0

	body = append(body, 0x41)
	body = append(body, sleb(0)...) // push return status 0
	body = append(body, 0x0B)       // end
	return body
}
