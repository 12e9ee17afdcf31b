package indexstate

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// writeNPY serializes rows (dense float32, shape (len(rows), dim)) to path in
// the NPY v1.0 format, via a *.tmp sibling + rename so a crash mid-write
// never leaves a partial embeddings.npy. No third-party npy encoder exists
// anywhere in this codebase's dependency pool, so this is a deliberate
// stdlib-only implementation of a well-documented public format rather than
// an invented one.
func writeNPY(path string, rows [][]float32, dim int) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	header := npyHeader(len(rows), dim)
	w := bufio.NewWriter(f)
	if _, err := w.Write(header); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	for _, row := range rows {
		for _, v := range row {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				f.Close()
				os.Remove(tmp)
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func npyHeader(n, dim int) []byte {
	dict := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", n, dim)
	// Pad the header (after magic + version + 2-byte length field) so the
	// total preamble length is a multiple of 64, per the NPY spec, then
	// terminate with a newline.
	const preambleFixed = 6 + 2 + 2 // magic + version + header-length field
	total := preambleFixed + len(dict) + 1
	pad := (64 - total%64) % 64
	dict = dict + strings.Repeat(" ", pad) + "\n"

	buf := make([]byte, 0, preambleFixed+len(dict))
	buf = append(buf, []byte("\x93NUMPY")...)
	buf = append(buf, 1, 0) // version 1.0
	var lenField [2]byte
	binary.LittleEndian.PutUint16(lenField[:], uint16(len(dict)))
	buf = append(buf, lenField[:]...)
	buf = append(buf, []byte(dict)...)
	return buf
}

// readNPY parses an NPY v1.0 float32 matrix written by writeNPY (or numpy
// itself, for the common 2D little-endian float32 case).
func readNPY(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, 6)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, 0, err
	}
	if string(magic) != "\x93NUMPY" {
		return nil, 0, fmt.Errorf("indexstate: bad npy magic %q", magic)
	}
	version := make([]byte, 2)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, 0, err
	}
	lenField := make([]byte, 2)
	if _, err := io.ReadFull(r, lenField); err != nil {
		return nil, 0, err
	}
	headerLen := binary.LittleEndian.Uint16(lenField)
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, err
	}

	n, dim, err := parseShape(string(header))
	if err != nil {
		return nil, 0, err
	}

	rows := make([][]float32, n)
	for i := 0; i < n; i++ {
		row := make([]float32, dim)
		for j := 0; j < dim; j++ {
			var v float32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, 0, err
			}
			row[j] = v
		}
		rows[i] = row
	}
	return rows, dim, nil
}

func parseShape(header string) (n, dim int, err error) {
	idx := strings.Index(header, "'shape':")
	if idx < 0 {
		return 0, 0, fmt.Errorf("indexstate: npy header missing shape: %q", header)
	}
	rest := header[idx+len("'shape':"):]
	open := strings.Index(rest, "(")
	close := strings.Index(rest, ")")
	if open < 0 || close < 0 || close < open {
		return 0, 0, fmt.Errorf("indexstate: malformed shape tuple: %q", rest)
	}
	parts := strings.Split(rest[open+1:close], ",")
	nums := make([]int, 0, 2)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, convErr := strconv.Atoi(p)
		if convErr != nil {
			return 0, 0, fmt.Errorf("indexstate: bad shape element %q: %w", p, convErr)
		}
		nums = append(nums, v)
	}
	if len(nums) == 1 {
		return nums[0], 0, nil
	}
	if len(nums) != 2 {
		return 0, 0, fmt.Errorf("indexstate: expected a 2D shape, got %v", nums)
	}
	return nums[0], nums[1], nil
}
